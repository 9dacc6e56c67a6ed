package key_exchange

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// KeyPairBits is the modulus size of the long-lived identity key pairs.
const KeyPairBits = 2048

// GenerateKeyPair creates a fresh RSA identity key pair.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyPairBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key pair: %w", err)
	}
	return key, nil
}

// EncryptWithPublicKey encrypts plaintext with RSA-OAEP under pub. The
// plaintext must fit in a single OAEP block; session keys and short texts do.
func EncryptWithPublicKey(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt with public key: %w", err)
	}
	return ciphertext, nil
}

// DecryptWithPrivateKey reverses EncryptWithPublicKey.
func DecryptWithPrivateKey(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt with private key: %w", err)
	}
	return plaintext, nil
}

// PublicKeyToJWK wraps an RSA public key for the wire. The key id carries
// the owner's identity so receivers can cross-check the announced source.
func PublicKeyToJWK(pub *rsa.PublicKey, owner string) *jose.JSONWebKey {
	return &jose.JSONWebKey{
		Key:   pub,
		KeyID: owner,
		Use:   "enc",
	}
}

// JWKToPublicKey unwraps a wire JWK back into an RSA public key.
func JWKToPublicKey(jwk *jose.JSONWebKey) (*rsa.PublicKey, error) {
	if jwk == nil {
		return nil, fmt.Errorf("missing jwk")
	}
	if !jwk.IsPublic() {
		return nil, fmt.Errorf("jwk is not a public key")
	}
	pub, ok := jwk.Key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type: %T", jwk.Key)
	}
	return pub, nil
}
