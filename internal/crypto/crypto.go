// Package crypto provides encryption for sensitive data such as session
// refresh tokens. Uses AES-256-GCM for authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// Encrypt encrypts plaintext using AES-256-GCM.
// The key is derived from the input using SHA-256.
func Encrypt(plaintext, key []byte) (string, error) {
	derivedKey := sha256.Sum256(key)

	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	derivedKey := sha256.Sum256(key)

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	return plaintext, nil
}

// EncryptString encrypts a string to a base64-encoded string.
func EncryptString(plaintext, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	return Encrypt([]byte(plaintext), []byte(key))
}

// DecryptString decrypts a base64-encoded string to a string.
func DecryptString(ciphertext, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	plaintext, err := Decrypt(ciphertext, []byte(key))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DeriveKey derives a consistent key from a machine-specific identifier.
// In production, prefer a platform key store where one is available.
func DeriveKey(machineID string) string {
	hash := sha256.Sum256([]byte("fieldsync:" + machineID))
	return base64.StdEncoding.EncodeToString(hash[:])
}
