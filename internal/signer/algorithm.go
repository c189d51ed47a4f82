// Package signer computes keyed notebook signatures (HMAC) over canonical bytes.
package signer

import (
	"crypto/sha1" //nolint:gosec // legacy algorithm, still selectable
	"crypto/sha256"
	"crypto/sha3"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"

	"github.com/starford/nbtrust/internal/apperr"
)

// Algorithm names a hash primitive usable under HMAC.
type Algorithm string

// Supported algorithms.
const (
	SHA1     Algorithm = "sha1"
	SHA224   Algorithm = "sha224"
	SHA256   Algorithm = "sha256"
	SHA384   Algorithm = "sha384"
	SHA512   Algorithm = "sha512"
	SHA3_224 Algorithm = "sha3_224"
	SHA3_256 Algorithm = "sha3_256"
	SHA3_384 Algorithm = "sha3_384"
	SHA3_512 Algorithm = "sha3_512"
	BLAKE2b  Algorithm = "blake2b"
	BLAKE2s  Algorithm = "blake2s"
)

// Default is the algorithm used when none is configured.
const Default = SHA256

var order = []Algorithm{SHA1, SHA224, SHA256, SHA384, SHA512, SHA3_224, SHA3_256, SHA3_384, SHA3_512, BLAKE2b, BLAKE2s}

var constructors = map[Algorithm]func() hash.Hash{
	SHA1:     sha1.New,
	SHA224:   sha256.New224,
	SHA256:   sha256.New,
	SHA384:   sha512.New384,
	SHA512:   sha512.New,
	SHA3_224: func() hash.Hash { return sha3.New224() },
	SHA3_256: func() hash.Hash { return sha3.New256() },
	SHA3_384: func() hash.Hash { return sha3.New384() },
	SHA3_512: func() hash.Hash { return sha3.New512() },
	BLAKE2b: func() hash.Hash {
		h, _ := blake2b.New512(nil) // unkeyed construction cannot fail
		return h
	},
	BLAKE2s: func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	},
}

// Algorithms lists every supported algorithm in a stable order.
func Algorithms() []Algorithm {
	out := make([]Algorithm, len(order))
	copy(out, order)
	return out
}

// Names lists the supported algorithm names, for validation and help text.
func Names() []string {
	out := make([]string, len(order))
	for i, a := range order {
		out[i] = string(a)
	}
	return out
}

// Parse resolves a case-insensitive algorithm name. "sha3-256" style names are
// accepted as aliases of "sha3_256".
func Parse(name string) (Algorithm, error) {
	a := Algorithm(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", apperr.ErrUnknownAlgorithm, name)
	}
	return a, nil
}

// Valid reports whether a is supported.
func (a Algorithm) Valid() bool {
	_, ok := constructors[a]
	return ok
}

func (a Algorithm) String() string { return string(a) }

// Size is the digest length in bytes; signatures are twice as many hex digits.
func (a Algorithm) Size() int {
	ctor, ok := constructors[a]
	if !ok {
		return 0
	}
	return ctor().Size()
}

func (a Algorithm) hash() (func() hash.Hash, error) {
	ctor, ok := constructors[a]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperr.ErrUnknownAlgorithm, string(a))
	}
	return ctor, nil
}
