package secrets

import (
	"math/rand"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("unit-test-passphrase")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	cases := []string{
		"",
		"p@ssw0rd",
		"密码123",
		"O'Brien; DROP TABLE users",
		strings.Repeat("k", 4096),
	}
	for _, plain := range cases {
		stored, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plain, err)
		}
		if stored == plain {
			t.Errorf("enciphered form equals plaintext for %q", plain)
		}
		got, err := c.Decrypt(stored)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", plain, err)
		}
		if got != plain {
			t.Errorf("round trip mismatch: got %q want %q", got, plain)
		}
	}
}

// Property: two encryptions of the same plaintext differ (fresh salt+nonce),
// and both decrypt back to the plaintext.
func TestEncryptNondeterministic(t *testing.T) {
	c, _ := NewCipher("unit-test-passphrase")

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		buf := make([]byte, rng.Intn(64)+1)
		rng.Read(buf)
		plain := string(buf)

		a, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		b, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if a == b {
			t.Fatalf("iteration %d: identical ciphertexts for repeated Encrypt", i)
		}
		for _, stored := range []string{a, b} {
			got, err := c.Decrypt(stored)
			if err != nil || got != plain {
				t.Fatalf("iteration %d: decrypt mismatch (err=%v)", i, err)
			}
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	right, _ := NewCipher("correct horse")
	wrong, _ := NewCipher("battery staple")

	stored, err := right.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := wrong.Decrypt(stored); err != ErrWrongKey {
		t.Errorf("Decrypt with wrong key: got %v, want ErrWrongKey", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c, _ := NewCipher("unit-test-passphrase")

	for _, bad := range []string{"", "not-base64!!!", "cGxhaW50ZXh0", "RENTRUMx"} {
		if _, err := c.Decrypt(bad); err != ErrNotEnciphered {
			t.Errorf("Decrypt(%q): got %v, want ErrNotEnciphered", bad, err)
		}
	}
}

func TestIsEnciphered(t *testing.T) {
	c, _ := NewCipher("unit-test-passphrase")
	stored, _ := c.Encrypt("secret")

	if !IsEnciphered(stored) {
		t.Error("IsEnciphered(enciphered) = false")
	}
	if IsEnciphered("plaintext") {
		t.Error("IsEnciphered(plaintext) = true")
	}
}

func TestNewCipherEmptyPassphrase(t *testing.T) {
	if _, err := NewCipher("   "); err == nil {
		t.Error("NewCipher with blank passphrase succeeded")
	}
}
