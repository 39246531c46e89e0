package limits

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

// TestEncryptionOverheadMatchesNaCl verifies that our EncryptionOverhead constant
// matches the actual overhead from golang.org/x/crypto/nacl/box
func TestEncryptionOverheadMatchesNaCl(t *testing.T) {
	if EncryptionOverhead != box.Overhead {
		t.Errorf("EncryptionOverhead = %d, want %d (box.Overhead)", EncryptionOverhead, box.Overhead)
	}
}

func TestActualNaClBoxOverhead(t *testing.T) {
	_, privateKey1, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key pair 1: %v", err)
	}
	publicKey2, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key pair 2: %v", err)
	}

	var nonce [24]byte
	message := make([]byte, MaxPlaintextMessage)
	encrypted := box.Seal(nil, message, &nonce, publicKey2, privateKey1)
	if got := len(encrypted) - len(message); got != EncryptionOverhead {
		t.Errorf("actual NaCl overhead = %d bytes, want %d", got, EncryptionOverhead)
	}
}

func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		max     int
		wantErr error
	}{
		{"empty", nil, 10, ErrMessageEmpty},
		{"at_limit", make([]byte, 10), 10, nil},
		{"over_limit", make([]byte, 11), 10, ErrMessageTooLarge},
		{"plaintext_max", make([]byte, MaxPlaintextMessage), MaxPlaintextMessage, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(tt.message, tt.max)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePlaintextMessage(t *testing.T) {
	if err := ValidatePlaintextMessage([]byte("hi")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePlaintextMessage(make([]byte, MaxPlaintextMessage+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestValidateIdentityStrings(t *testing.T) {
	if err := ValidateName(""); err != nil {
		t.Errorf("empty name should be allowed: %v", err)
	}
	if err := ValidateName(strings.Repeat("a", MaxNameLength+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge for long name, got %v", err)
	}
	if err := ValidateStatusMessage(strings.Repeat("b", MaxStatusMessage)); err != nil {
		t.Errorf("status message at limit should pass: %v", err)
	}
	if err := ValidateStatusMessage(strings.Repeat("b", MaxStatusMessage+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge for long status, got %v", err)
	}
}

func TestValidateFileChunk(t *testing.T) {
	if err := ValidateFileChunk(make([]byte, MaxFileChunk)); err != nil {
		t.Errorf("chunk at limit should pass: %v", err)
	}
	if err := ValidateFileChunk(make([]byte, MaxFileChunk+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}
