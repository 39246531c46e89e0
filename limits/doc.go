// Package limits provides centralized size constants and validation functions
// for data that crosses the session engine boundary.
//
// # Size Limits
//
//   - MaxPlaintextMessage (1372 bytes): the wire limit for one text message.
//     Outgoing text is split into chunks of at most
//     MaxPlaintextMessage - MessageChunkPadding bytes.
//   - MaxFileChunk (1371 bytes): the largest file data packet.
//   - MaxNameLength, MaxStatusMessage and MaxFriendRequest bound identity
//     strings exchanged with friends.
//
// # Validation Functions
//
//	err := limits.ValidatePlaintextMessage(message)
//	if errors.Is(err, limits.ErrMessageTooLarge) {
//	    // split the message first
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
package limits
