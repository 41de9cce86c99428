package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	cipherMagic  = "DCSEC1" // 6-byte magic header indicating enciphered content
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256
	saltLen      = 32
)

var (
	ErrWrongKey      = errors.New("incorrect encryption key")
	ErrNotEnciphered = errors.New("value is not enciphered")
)

// Cipher enciphers and deciphers secret values (data source passwords,
// provider API keys) with AES-256-GCM. The AES key is derived from the
// process passphrase with scrypt, using a fresh random salt per value.
// The stored form is base64(magic | salt | nonce | ciphertext).
type Cipher struct {
	passphrase string
}

// NewCipher builds a Cipher around the process passphrase loaded from the
// deployment environment. The passphrase must be non-empty.
func NewCipher(passphrase string) (*Cipher, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("encryption passphrase is empty")
	}
	return &Cipher{passphrase: passphrase}, nil
}

// deriveKey derives a 32-byte AES-256 key from the passphrase and salt using scrypt.
func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
}

// Encrypt enciphers plaintext and returns the storable base64 form.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, err := deriveKey(c.passphrase, salt)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	buf := make([]byte, 0, len(cipherMagic)+saltLen+len(nonce)+len(sealed))
	buf = append(buf, cipherMagic...)
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt deciphers a value produced by Encrypt. A value enciphered under a
// different passphrase fails with ErrWrongKey.
func (c *Cipher) Decrypt(stored string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", ErrNotEnciphered
	}

	magicLen := len(cipherMagic)
	if len(data) < magicLen+saltLen+12 || string(data[:magicLen]) != cipherMagic {
		return "", ErrNotEnciphered
	}
	salt := data[magicLen : magicLen+saltLen]

	key, err := deriveKey(c.passphrase, salt)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonceStart := magicLen + saltLen
	nonceEnd := nonceStart + gcm.NonceSize()
	if len(data) < nonceEnd {
		return "", ErrNotEnciphered
	}
	nonce := data[nonceStart:nonceEnd]

	plaintext, err := gcm.Open(nil, nonce, data[nonceEnd:], nil)
	if err != nil {
		return "", ErrWrongKey
	}
	return string(plaintext), nil
}

// IsEnciphered reports whether stored looks like a value produced by Encrypt.
func IsEnciphered(stored string) bool {
	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return false
	}
	return len(data) >= len(cipherMagic) && string(data[:len(cipherMagic)]) == cipherMagic
}
