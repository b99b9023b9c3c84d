package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	sealIterations = 100_000
	sealSaltSize   = 16
)

// sealMagic prefixes every sealed blob.
var sealMagic = []byte("PSEAL1")

// ErrSealed is wrapped by Unseal failures: wrong passphrase, tampered or truncated data.
var ErrSealed = errors.New("vault: cannot unseal")

// IsSealed reports whether data was produced by Seal.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealMagic)
}

// Seal encrypts data with AES-256-GCM under a key derived from passphrase.
// Unlike DefaultObfuscator the output is randomized and authenticated; it is
// meant for backups, not for keys that must be looked up.
//
// Layout: magic | salt | nonce | ciphertext.
func Seal(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, sealSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := sealCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	// Create the unique nonce for this encryption
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(sealMagic)+len(salt)+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, sealMagic), nil
}

// Unseal reverses Seal.
func Unseal(sealed []byte, passphrase string) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, fmt.Errorf("%w: missing header", ErrSealed)
	}
	rest := sealed[len(sealMagic):]
	if len(rest) < sealSaltSize {
		return nil, fmt.Errorf("%w: too short", ErrSealed)
	}
	salt, rest := rest[:sealSaltSize], rest[sealSaltSize:]

	gcm, err := sealCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, fmt.Errorf("%w: too short", ErrSealed)
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, sealMagic)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or tampered data", ErrSealed)
	}
	return plain, nil
}

func sealCipher(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, sealIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
