package loopback

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
)

// KeyPair represents a NaCl crypto_box key pair.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random NaCl key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: *publicKey, Private: *privateKey}, nil
}

// FromSecretKey derives a key pair from an existing private key.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, errors.New("invalid secret key: all zeros")
	}
	pub, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], pub)
	return kp, nil
}

func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}

func generateNospam() engine.Nospam {
	var nospam engine.Nospam
	if _, err := rand.Read(nospam[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return nospam
}

// friendRequest is the plaintext of a request envelope.
type friendRequest struct {
	Nospam  engine.Nospam `json:"nospam"`
	Message string        `json:"message"`
}

// sealRequest encrypts a request for the recipient with NaCl box.
func sealRequest(plaintext []byte, recipient engine.PublicKey, sender *KeyPair) ([24]byte, []byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, nil, err
	}
	pk := [32]byte(recipient)
	out := make([]byte, 0, len(plaintext)+limits.EncryptionOverhead)
	return nonce, box.Seal(out, plaintext, &nonce, &pk, &sender.Private), nil
}

// openRequest decrypts a request envelope.
func openRequest(ciphertext []byte, nonce [24]byte, sender engine.PublicKey, recipient *KeyPair) ([]byte, error) {
	if len(ciphertext) < limits.EncryptionOverhead {
		return nil, errors.New("friend request too short")
	}
	pk := [32]byte(sender)
	plaintext, ok := box.Open(nil, ciphertext, &nonce, &pk, &recipient.Private)
	if !ok {
		return nil, errors.New("friend request decryption failed")
	}
	return plaintext, nil
}
