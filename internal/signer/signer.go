package signer

import (
	"crypto/hmac"
	"encoding/hex"
	"errors"
)

// ErrEmptySecret is returned when a signer is built without a key.
var ErrEmptySecret = errors.New("signer: secret is empty")

// Compute returns the lowercase hex HMAC of data under secret using algo.
// It is deterministic: no salt or nonce is mixed in.
func Compute(data, secret []byte, algo Algorithm) (string, error) {
	ctor, err := algo.hash()
	if err != nil {
		return "", err
	}
	mac := hmac.New(ctor, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Signer binds one secret to one algorithm. It is immutable and safe for
// concurrent use.
type Signer struct {
	algo   Algorithm
	secret []byte
}

// New returns a Signer. The secret is copied.
func New(secret []byte, algo Algorithm) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if _, err := algo.hash(); err != nil {
		return nil, err
	}
	return &Signer{algo: algo, secret: append([]byte(nil), secret...)}, nil
}

// Algorithm returns the configured algorithm.
func (s *Signer) Algorithm() Algorithm { return s.algo }

// Sign returns the signature of data.
func (s *Signer) Sign(data []byte) string {
	sig, _ := Compute(data, s.secret, s.algo) // algorithm validated in New
	return sig
}
