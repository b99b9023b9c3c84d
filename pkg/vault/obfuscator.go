// Package vault provides the reversible transforms applied to preference keys and
// values before they reach a backing store, and the TLS helper used by the daemon.
//
// The default transform is obfuscation, not secret storage: AES-128-CBC with a
// fixed IV and a PBKDF2-HMAC-SHA1 key derived with 16 iterations. Identical
// plaintexts produce identical ciphertexts under the same password and salt.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyIterations is the PBKDF2 iteration count used by DefaultObfuscator.
	KeyIterations = 16
	// KeyLength is the derived AES key length in bytes (AES-128).
	KeyLength = 16
)

// fixedIV is shared by every DefaultObfuscator. It makes the output deterministic,
// which the facade relies on to look up keys by their obfuscated form.
var fixedIV = []byte("0123456789abcdef")

// ErrInvalidInput is wrapped by every Deobfuscate failure caused by the input
// (bad base64, bad block length, bad padding, wrong key).
var ErrInvalidInput = errors.New("vault: invalid input")

// Obfuscator is a reversible string transform.
// Implementations must map "" to "" in both directions.
type Obfuscator interface {
	Obfuscate(plain string) (string, error)
	Deobfuscate(obfuscated string) (string, error)
}

// DefaultObfuscator encrypts with AES-CBC under a PBKDF2-derived key and
// encodes the result as standard base64 without line wraps.
type DefaultObfuscator struct {
	mu    sync.Mutex
	block cipher.Block
}

var _ Obfuscator = (*DefaultObfuscator)(nil)

// NewDefaultObfuscator derives the key once and prepares the block cipher.
func NewDefaultObfuscator(password string, salt []byte) (*DefaultObfuscator, error) {
	key := pbkdf2.Key([]byte(password), salt, KeyIterations, KeyLength, sha1.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	return &DefaultObfuscator{block: block}, nil
}

// Obfuscate encrypts plain. Empty input returns "".
func (o *DefaultObfuscator) Obfuscate(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	data := pad([]byte(plain), aes.BlockSize)

	o.mu.Lock()
	cipher.NewCBCEncrypter(o.block, fixedIV).CryptBlocks(data, data)
	o.mu.Unlock()

	return base64.StdEncoding.EncodeToString(data), nil
}

// Deobfuscate reverses Obfuscate. Empty input returns "".
func (o *DefaultObfuscator) Deobfuscate(obfuscated string) (string, error) {
	if obfuscated == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(obfuscated)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", ErrInvalidInput, err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a multiple of the block size", ErrInvalidInput, len(data))
	}

	o.mu.Lock()
	cipher.NewCBCDecrypter(o.block, fixedIV).CryptBlocks(data, data)
	o.mu.Unlock()

	plain, err := unpad(data, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding (wrong key or tampered data)", ErrInvalidInput)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("%w: bad padding (wrong key or tampered data)", ErrInvalidInput)
		}
	}
	return data[:len(data)-n], nil
}
