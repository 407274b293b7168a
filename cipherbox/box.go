// Package cipherbox seals opaque payloads under a password-derived key.
// Every blob carries its own salt, nonce, and KDF parameters; decryption
// accepts exactly one parameter set and never falls back to weaker historical
// settings.
package cipherbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeyBytes   = 32
	SaltBytes  = 16
	NonceBytes = 12

	// DefaultIterations is the PBKDF2 work factor. Deliberately slow.
	DefaultIterations = 1_000_000

	DefaultHash = "sha512"
)

var hashes = map[string]func() hash.Hash{
	"sha512": sha512.New,
	"sha256": sha256.New,
}

var (
	// ErrDecrypt is returned for a wrong password or tampered ciphertext.
	// Callers must treat it as terminal and never retry with different
	// parameters.
	ErrDecrypt = errors.New("cipherbox: wrong password or corrupted blob")
)

// Blob is the encrypted-at-rest envelope. Opaque to everything but this
// package.
type Blob struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Salt       []byte `json:"salt"`
	Kdf        string `json:"kdf"`
	Iterations int    `json:"iterations"`
}

type Box struct {
	iterations int
	hashName   string
	hash       func() hash.Hash
}

func New(iterations int) *Box {
	b, _ := NewWithHash(iterations, DefaultHash)
	return b
}

// NewWithHash selects the PBKDF2 hash. The choice is recorded in every blob
// and enforced on decrypt like any other KDF parameter.
func NewWithHash(iterations int, hashName string) (*Box, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	if hashName == "" {
		hashName = DefaultHash
	}

	h, ok := hashes[hashName]
	if !ok {
		return nil, fmt.Errorf("cipherbox: unsupported kdf hash %q", hashName)
	}

	return &Box{iterations: iterations, hashName: hashName, hash: h}, nil
}

func (b *Box) kdfName() string {
	return "pbkdf2-" + b.hashName
}

func (b *Box) deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, b.iterations, KeyBytes, b.hash)
}

// Encrypt seals plaintext under a key derived from password, with a fresh
// random salt and nonce per call.
func (b *Box) Encrypt(plaintext []byte, password string) (*Blob, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	aead, err := newAead(b.deriveKey(password, salt))
	if err != nil {
		return nil, err
	}

	return &Blob{
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
		Salt:       salt,
		Kdf:        b.kdfName(),
		Iterations: b.iterations,
	}, nil
}

// Decrypt opens a blob. The blob's recorded KDF parameters must exactly match
// this box's configuration; a mismatch is an error, not a cue to guess.
func (b *Box) Decrypt(blob *Blob, password string) ([]byte, error) {
	if blob == nil {
		return nil, fmt.Errorf("cipherbox: nil blob: %w", ErrDecrypt)
	}

	if blob.Kdf != b.kdfName() || blob.Iterations != b.iterations {
		return nil, fmt.Errorf("cipherbox: blob kdf parameters %s/%d do not match configured %s/%d: %w",
			blob.Kdf, blob.Iterations, b.kdfName(), b.iterations, ErrDecrypt)
	}

	if len(blob.Salt) != SaltBytes || len(blob.Nonce) != NonceBytes {
		return nil, fmt.Errorf("cipherbox: malformed blob: %w", ErrDecrypt)
	}

	aead, err := newAead(b.deriveKey(password, blob.Salt))
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

func newAead(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
