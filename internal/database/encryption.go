package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"securetext/internal/constants"
	"securetext/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

// encryptor protects message bodies at rest. When disabled it is a
// pass-through, so the rest of the store never branches on the setting.
type encryptor struct {
	gcm cipher.AEAD
}

func NewEncryptor() (*encryptor, error) {
	if !isEncryptionEnabled() {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, models.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	result := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(result), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	if len(data) < models.NonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, encrypted := data[:models.NonceSize], data[models.NonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if !isEncryptionEnabled() {
		return plaintext, nil
	}
	return e.Encrypt(plaintext)
}

func (e *encryptor) DecryptIfEnabled(ciphertext string) (string, error) {
	if !isEncryptionEnabled() {
		return ciphertext, nil
	}
	return e.Decrypt(ciphertext)
}

func deriveKey() ([]byte, error) {
	secret := os.Getenv("SECURETEXT_ENCRYPTION_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("SECURETEXT_ENCRYPTION_SECRET environment variable is required when encryption is enabled")
	}

	if len(secret) < 32 {
		return nil, fmt.Errorf("encryption secret must be at least 32 characters long")
	}

	salt := []byte(constants.EncryptionSalt)

	key := pbkdf2.Key([]byte(secret), salt, models.Iterations, models.KeySize, sha256.New)
	return key, nil
}

func isEncryptionEnabled() bool {
	return os.Getenv("SECURETEXT_ENABLE_ENCRYPTION") == "true"
}
