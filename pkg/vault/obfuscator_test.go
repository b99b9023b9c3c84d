package vault

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func newTestObfuscator(t *testing.T, password, salt string) *DefaultObfuscator {
	t.Helper()
	o, err := NewDefaultObfuscator(password, []byte(salt))
	if err != nil {
		t.Fatalf("NewDefaultObfuscator failed: %v", err)
	}
	return o
}

func TestObfuscateDeobfuscate(t *testing.T) {
	o := newTestObfuscator(t, "pass", "salt")

	inputs := []string{
		"v",
		"Hello, Celerix!",
		"0123456789abcdef", // exactly one block
		strings.Repeat("x", 100),
		"ünïcödé ✓",
		"  spaced  ",
	}
	for _, plain := range inputs {
		obf, err := o.Obfuscate(plain)
		if err != nil {
			t.Fatalf("Obfuscate(%q) failed: %v", plain, err)
		}
		if obf == plain {
			t.Errorf("Obfuscate(%q) returned the plaintext", plain)
		}
		if strings.ContainsAny(obf, "\r\n") {
			t.Errorf("Obfuscate(%q) output is wrapped: %q", plain, obf)
		}

		got, err := o.Deobfuscate(obf)
		if err != nil {
			t.Fatalf("Deobfuscate(%q) failed: %v", obf, err)
		}
		if got != plain {
			t.Errorf("Expected %q, got %q", plain, got)
		}
	}
}

func TestKnownVector(t *testing.T) {
	o := newTestObfuscator(t, "pass", "salt")

	got, err := o.Obfuscate("v")
	if err != nil {
		t.Fatalf("Obfuscate failed: %v", err)
	}
	if got != "Wpo8Xd/RPMqZRJC89wrtHA==" {
		t.Errorf("Unexpected ciphertext %q", got)
	}

	got, err = o.Obfuscate("key")
	if err != nil {
		t.Fatalf("Obfuscate failed: %v", err)
	}
	if got != "ZtacuLw3Bc/q7gfuMoTrkQ==" {
		t.Errorf("Unexpected ciphertext %q", got)
	}
}

func TestEmptyInput(t *testing.T) {
	o := newTestObfuscator(t, "pass", "salt")

	if got, err := o.Obfuscate(""); err != nil || got != "" {
		t.Errorf("Obfuscate(\"\") = %q, %v", got, err)
	}
	if got, err := o.Deobfuscate(""); err != nil || got != "" {
		t.Errorf("Deobfuscate(\"\") = %q, %v", got, err)
	}
}

func TestDeterministicOutput(t *testing.T) {
	o1 := newTestObfuscator(t, "pass", "salt")
	o2 := newTestObfuscator(t, "pass", "salt")

	a, _ := o1.Obfuscate("same")
	b, _ := o2.Obfuscate("same")
	if a != b {
		t.Errorf("Same password and salt should give the same output: %q vs %q", a, b)
	}

	o3 := newTestObfuscator(t, "pass", "pepper")
	c, _ := o3.Obfuscate("same")
	if a == c {
		t.Error("A different salt should change the output")
	}
}

func TestDeobfuscateWithWrongKey(t *testing.T) {
	o1 := newTestObfuscator(t, "pass", "salt")
	o2 := newTestObfuscator(t, "newpass", "salt")

	obf, err := o1.Obfuscate("Secret message")
	if err != nil {
		t.Fatalf("Obfuscate failed: %v", err)
	}

	got, err := o2.Deobfuscate(obf)
	if err == nil && got == "Secret message" {
		t.Fatal("Deobfuscation with the wrong key should not recover the plaintext")
	}
}

func TestDeobfuscateMalformed(t *testing.T) {
	o := newTestObfuscator(t, "pass", "salt")

	cases := map[string]string{
		"not base64":     "not-base64!!",
		"short block":    "YWJj", // "abc"
		"plain password": "hunter2",
	}
	for name, in := range cases {
		_, err := o.Deobfuscate(in)
		if err == nil {
			t.Errorf("%s: expected an error", name)
			continue
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestConcurrentUse(t *testing.T) {
	o := newTestObfuscator(t, "pass", "salt")
	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				obf, err := o.Obfuscate("value")
				if err != nil {
					errs <- err
					return
				}
				if _, err := o.Deobfuscate(obf); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent error: %v", err)
	}
}

type reverseCrypter struct{}

func (reverseCrypter) Encrypt(v string) (string, error) { return reverse(v), nil }
func (reverseCrypter) Decrypt(v string) (string, error) { return reverse(v), nil }

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func TestFromCrypter(t *testing.T) {
	if FromCrypter(nil) != nil {
		t.Fatal("FromCrypter(nil) should be nil")
	}

	o := FromCrypter(reverseCrypter{})
	obf, _ := o.Obfuscate("abc")
	if obf != "cba" {
		t.Errorf("Expected cba, got %q", obf)
	}
	plain, _ := o.Deobfuscate(obf)
	if plain != "abc" {
		t.Errorf("Expected abc, got %q", plain)
	}
	if got, _ := o.Obfuscate(""); got != "" {
		t.Errorf("Expected empty output, got %q", got)
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("Failed to generate self-signed cert: %v", err)
	}

	if len(cert.Certificate) == 0 {
		t.Fatal("Generated certificate is empty")
	}

	if cert.PrivateKey == nil {
		t.Fatal("Generated private key is nil")
	}
}
