package vault

// Crypter is the older encrypt/decrypt shaped transform. It is kept so existing
// implementations can be handed to the facade through FromCrypter.
type Crypter interface {
	Encrypt(value string) (string, error)
	Decrypt(value string) (string, error)
}

// FromCrypter adapts a Crypter to an Obfuscator. A nil Crypter yields nil.
func FromCrypter(c Crypter) Obfuscator {
	if c == nil {
		return nil
	}
	return crypterObfuscator{c}
}

type crypterObfuscator struct {
	c Crypter
}

func (a crypterObfuscator) Obfuscate(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	return a.c.Encrypt(plain)
}

func (a crypterObfuscator) Deobfuscate(obfuscated string) (string, error) {
	if obfuscated == "" {
		return "", nil
	}
	return a.c.Decrypt(obfuscated)
}
