// Package secret resolves the notary signing key.
package secret

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/starford/nbtrust/internal/storage"
)

// FileName is the secret file kept in the data directory.
const FileName = "notebook_secret"

const randomBytes = 1024

// Resolve returns the signing key. A literal value wins, then an explicit
// file, then FileName inside the data directory, which is generated on
// first use.
func Resolve(literal, file string, dataDir storage.Provider) ([]byte, error) {
	if literal != "" {
		return []byte(literal), nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("secret: read %s: %w", file, err)
		}
		return nonEmpty(data, file)
	}
	if dataDir == nil {
		return nil, errors.New("secret: no secret, secret file or data directory configured")
	}
	return LoadOrCreate(dataDir)
}

// LoadOrCreate reads FileName from dir, creating it with fresh random
// content when absent. Concurrent creators converge on whichever file was
// committed first.
func LoadOrCreate(dir storage.Provider) ([]byte, error) {
	data, err := dir.Read(FileName)
	if err == nil {
		return nonEmpty(data, FileName)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("secret: %w", err)
	}

	fresh, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := dir.Create(FileName, fresh); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("secret: %w", err)
	}
	data, err = dir.Read(FileName)
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	return nonEmpty(data, FileName)
}

// Generate returns a new base64-encoded random secret.
func Generate() ([]byte, error) {
	raw := make([]byte, randomBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("secret: generate: %w", err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

func nonEmpty(data []byte, source string) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("secret: %s is empty", source)
	}
	return data, nil
}
