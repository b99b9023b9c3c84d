package vault

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealUnseal(t *testing.T) {
	plaintext := []byte("Hello, prefs!")

	sealed, err := Seal(plaintext, "passphrase")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("Sealed data should not contain the plaintext")
	}
	if !IsSealed(sealed) {
		t.Fatal("Sealed data should carry the header")
	}

	got, err := Unseal(sealed, "passphrase")
	if err != nil {
		t.Fatalf("Unseal failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Expected %s, got %s", plaintext, got)
	}
}

func TestSealIsRandomized(t *testing.T) {
	a, _ := Seal([]byte("same"), "p")
	b, _ := Seal([]byte("same"), "p")
	if bytes.Equal(a, b) {
		t.Error("Two seals of the same data should differ")
	}
}

func TestUnsealWithWrongPassphrase(t *testing.T) {
	sealed, err := Seal([]byte("Secret message"), "right")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	_, err = Unseal(sealed, "wrong")
	if !errors.Is(err, ErrSealed) {
		t.Fatalf("Expected ErrSealed, got %v", err)
	}
}

func TestUnsealTampered(t *testing.T) {
	sealed, _ := Seal([]byte("Secret message"), "p")
	sealed[len(sealed)-1] ^= 0xff

	if _, err := Unseal(sealed, "p"); !errors.Is(err, ErrSealed) {
		t.Fatalf("Expected ErrSealed, got %v", err)
	}
}

func TestUnsealMalformed(t *testing.T) {
	tests := map[string][]byte{
		"no header":   []byte("plain cbor"),
		"only header": []byte("PSEAL1"),
		"no nonce":    append([]byte("PSEAL1"), make([]byte, sealSaltSize+4)...),
		"empty":       nil,
	}
	for name, data := range tests {
		if _, err := Unseal(data, "p"); !errors.Is(err, ErrSealed) {
			t.Errorf("%s: expected ErrSealed, got %v", name, err)
		}
	}
}
