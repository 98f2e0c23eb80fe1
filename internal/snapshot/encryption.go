package snapshot

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var encryptionMagic = []byte("MSNAPENC1")

const (
	saltSize         = 16
	keySize          = 32
	pbkdf2Iterations = 100000
)

// Encryptor seals artifacts with AES-256-GCM under a key derived from a
// passphrase. Sealed layout: magic | salt(16) | nonce(12) | ciphertext.
type Encryptor struct {
	passphrase []byte
}

// NewEncryptor returns nil for an empty passphrase, which disables encryption.
func NewEncryptor(passphrase string) *Encryptor {
	if passphrase == "" {
		return nil
	}
	return &Encryptor{passphrase: []byte(passphrase)}
}

// IsEncrypted reports whether data starts with the sealed-artifact magic
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, encryptionMagic)
}

// Seal encrypts plaintext with a fresh salt and nonce
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, newEncryptionError("failed to generate salt", err)
	}

	gcm, err := e.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, newEncryptionError("failed to generate nonce", err)
	}

	out := make([]byte, 0, len(encryptionMagic)+saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, encryptionMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal. A wrong passphrase or tampered data fails authentication.
func (e *Encryptor) Open(sealed []byte) ([]byte, error) {
	if !IsEncrypted(sealed) {
		return nil, newEncryptionError("data is not an encrypted artifact", nil)
	}
	body := sealed[len(encryptionMagic):]
	if len(body) < saltSize {
		return nil, newCorruptionError("encrypted artifact is truncated", nil)
	}
	salt, body := body[:saltSize], body[saltSize:]

	gcm, err := e.aead(salt)
	if err != nil {
		return nil, err
	}
	if len(body) < gcm.NonceSize()+gcm.Overhead() {
		return nil, newCorruptionError("encrypted artifact is truncated", nil)
	}
	nonce, ciphertext := body[:gcm.NonceSize()], body[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, newEncryptionError("failed to decrypt artifact (wrong key or corrupted data)", err)
	}
	return plaintext, nil
}

func (e *Encryptor) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(e.passphrase, salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newEncryptionError("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, newEncryptionError("failed to create GCM cipher", err)
	}
	return gcm, nil
}
