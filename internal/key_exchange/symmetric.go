package key_exchange

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// KeySize is the exact session key length in bytes (AES-256). A decrypted
// key of any other length corrupts the cipher's key schedule, so it is
// rejected instead of padded or truncated.
const KeySize = 32

// GenerateSessionKey creates a fresh random session key.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return key, nil
}

// ValidateSessionKey checks the exact key length.
func ValidateSessionKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("invalid session key length: %d (want %d)", len(key), KeySize)
	}
	return nil
}

// EncryptWithSessionKey encrypts plaintext with AES-GCM under key. The aad
// binds the routing header (see BuildAAD) so a relayed ciphertext cannot be
// replayed between a different sender/recipient pair.
func EncryptWithSessionKey(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	if err := ValidateSessionKey(key); err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init gcm: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to create nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, aad), nonce, nil
}

// DecryptWithSessionKey reverses EncryptWithSessionKey.
func DecryptWithSessionKey(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	if err := ValidateSessionKey(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt using session key: %w", err)
	}

	return plaintext, nil
}
