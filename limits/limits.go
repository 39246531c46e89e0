// Package limits provides centralized wire-size limits shared by the session
// engine binding and the client modules.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPlaintextMessage is the Tox protocol limit for plaintext messages (1372 bytes)
	MaxPlaintextMessage = 1372

	// MessageChunkPadding is subtracted from the engine-reported message limit
	// before splitting text into chunks.
	MessageChunkPadding = 4

	// MinChunkLimit is the smallest limit the chunk splitter accepts.
	MinChunkLimit = MessageChunkPadding

	// MaxFileChunk is the largest payload one file data packet may carry.
	MaxFileChunk = 1371

	// MaxFileName is the longest file name offered in a send request.
	MaxFileName = 255

	// MaxNameLength is the longest self or friend display name.
	MaxNameLength = 128

	// MaxStatusMessage is the longest status message.
	MaxStatusMessage = 1007

	// MaxFriendRequest is the longest friend request introduction.
	MaxFriendRequest = 1016

	// EncryptionOverhead is the Poly1305 tag added by NaCl box and secretbox.
	EncryptionOverhead = 16
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePlaintextMessage validates a plaintext message size against MaxPlaintextMessage.
func ValidatePlaintextMessage(message []byte) error {
	return ValidateMessageSize(message, MaxPlaintextMessage)
}

// ValidateName checks a display name. Empty names are allowed.
func ValidateName(name string) error {
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name size %d exceeds limit %d", ErrMessageTooLarge, len(name), MaxNameLength)
	}
	return nil
}

// ValidateStatusMessage checks a status message. Empty messages are allowed.
func ValidateStatusMessage(msg string) error {
	if len(msg) > MaxStatusMessage {
		return fmt.Errorf("%w: status message size %d exceeds limit %d", ErrMessageTooLarge, len(msg), MaxStatusMessage)
	}
	return nil
}

// ValidateFileChunk checks a file data payload against MaxFileChunk.
func ValidateFileChunk(data []byte) error {
	return ValidateMessageSize(data, MaxFileChunk)
}
