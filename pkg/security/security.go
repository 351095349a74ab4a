// Package security provides the one-way and reversible value transforms used
// by hashed and encrypted entity properties. Instances are passed explicitly
// into the entity layer; there is no package-level key.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Hasher applies a one-way transform to property values.
type Hasher interface {
	Hash(value any) (any, error)
}

// Encrypter applies a reversible transform to property values.
type Encrypter interface {
	Encrypt(value any) (any, error)
	Decrypt(value any) (any, error)
}

// Errors returned by the transforms.
var (
	ErrEmptySecret = errors.New("secret must not be empty")
	ErrCiphertext  = errors.New("malformed ciphertext")
)

// DefaultSalt is the argon2 salt used when none is supplied.
var DefaultSalt = []byte("docmodel.security.v1")

// isEmpty reports whether a value passes through the transforms untouched.
func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	}
	return false
}

// SHA256 hashes values to lowercase hex SHA-256 digests of their string form.
type SHA256 struct{}

// Hash returns the hex digest of value. nil and "" are returned unchanged.
func (SHA256) Hash(value any) (any, error) {
	if isEmpty(value) {
		return value, nil
	}
	sum := sha256.Sum256([]byte(fmt.Sprint(value)))
	return hex.EncodeToString(sum[:]), nil
}

// Cipher encrypts values with AES-256-GCM under a key derived from a secret
// with argon2id. Ciphertexts are base64 strings of nonce followed by sealed
// JSON, so strings and booleans decrypt to their original values and numbers
// decrypt to float64.
type Cipher struct {
	key []byte
}

// NewCipher derives a key from secret using DefaultSalt.
func NewCipher(secret string) (*Cipher, error) {
	return NewCipherWithSalt(secret, DefaultSalt)
}

// NewCipherWithSalt derives a key from secret and salt.
func NewCipherWithSalt(secret string, salt []byte) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Cipher{key: DeriveKey([]byte(secret), salt)}, nil
}

// DeriveKey returns a 32-byte argon2id key.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals value. nil and "" are returned unchanged.
func (c *Cipher) Encrypt(value any) (any, error) {
	if isEmpty(value) {
		return value, nil
	}
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	aead, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. nil and "" are returned
// unchanged.
func (c *Cipher) Decrypt(value any) (any, error) {
	if isEmpty(value) {
		return value, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, ErrCiphertext
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	aead, err := c.gcm()
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, ErrCiphertext
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	var out any
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}
