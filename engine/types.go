package engine

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// AddressSize is the size of a binary Tox address: 32 bytes public key,
// 4 bytes nospam and a 2 byte checksum.
const AddressSize = 38

// PublicKey is a long-term Curve25519 public key.
type PublicKey [32]byte

// String returns the upper-case hex form used by Tox clients.
func (k PublicKey) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// Short returns the first eight hex characters, for log fields.
func (k PublicKey) Short() string {
	return k.String()[:8]
}

// ParsePublicKey decodes a 64 character hex public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	if len(s) != 64 {
		return pk, fmt.Errorf("%w: public key must be 64 hex characters, got %d", ErrInvalidAddress, len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	copy(pk[:], data)
	return pk, nil
}

// Nospam is the anti-spam value carried in an address.
type Nospam [4]byte

// Address is a Tox ID: public key, nospam and checksum.
type Address struct {
	PublicKey PublicKey
	Nospam    Nospam
	Checksum  [2]byte
}

// NewAddress builds an address and computes its checksum.
func NewAddress(pk PublicKey, nospam Nospam) Address {
	a := Address{PublicKey: pk, Nospam: nospam}
	a.Checksum = a.checksum()
	return a
}

// ParseAddress decodes a 76 character hex Tox ID and verifies its checksum.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != AddressSize*2 {
		return a, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidAddress, AddressSize*2, len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	copy(a.PublicKey[:], data[0:32])
	copy(a.Nospam[:], data[32:36])
	copy(a.Checksum[:], data[36:38])
	if a.Checksum != a.checksum() {
		return a, fmt.Errorf("%w: bad checksum", ErrInvalidAddress)
	}
	return a, nil
}

// String returns the hex form of the address.
func (a Address) String() string {
	data := make([]byte, AddressSize)
	copy(data[0:32], a.PublicKey[:])
	copy(data[32:36], a.Nospam[:])
	copy(data[36:38], a.Checksum[:])
	return strings.ToUpper(hex.EncodeToString(data))
}

func (a Address) checksum() [2]byte {
	var sum [2]byte
	for i := 0; i < 32; i++ {
		sum[i%2] ^= a.PublicKey[i]
	}
	for i := 0; i < 4; i++ {
		sum[i%2] ^= a.Nospam[i]
	}
	return sum
}

// GroupKey identifies a group chat across the network.
type GroupKey [32]byte

// String returns the hex form of the key.
func (k GroupKey) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// ParseGroupKey decodes a 64 character hex group key.
func ParseGroupKey(s string) (GroupKey, error) {
	pk, err := ParsePublicKey(s)
	return GroupKey(pk), err
}

// ConnectionStatus is the transport a friend is reachable over.
type ConnectionStatus uint8

const (
	ConnectionNone ConnectionStatus = iota
	ConnectionTCP
	ConnectionUDP
)

// UserStatus is the engine-level presence value.
type UserStatus uint8

const (
	UserStatusNone UserStatus = iota
	UserStatusAway
	UserStatusBusy
	UserStatusInvalid
)

// FileDirection tells which side of a transfer the local peer is on.
type FileDirection uint8

const (
	FileReceiving FileDirection = iota
	FileSending
)

// String returns a readable name for log fields.
func (d FileDirection) String() string {
	if d == FileSending {
		return "sending"
	}
	return "receiving"
}

// Opposite returns the direction the peer sees for the same file.
func (d FileDirection) Opposite() FileDirection {
	if d == FileSending {
		return FileReceiving
	}
	return FileSending
}

// FileControl is a file transfer control opcode. The values are fixed by
// the wire protocol.
type FileControl uint8

const (
	FileControlAccept   FileControl = 0
	FileControlPause    FileControl = 1
	FileControlKill     FileControl = 2
	FileControlFinished FileControl = 3
)

// String returns the opcode name.
func (c FileControl) String() string {
	switch c {
	case FileControlAccept:
		return "accept"
	case FileControlPause:
		return "pause"
	case FileControlKill:
		return "kill"
	case FileControlFinished:
		return "finished"
	default:
		return fmt.Sprintf("control(%d)", uint8(c))
	}
}

// GroupChange is the kind of a group namelist delta.
type GroupChange uint8

const (
	GroupPeerAdded GroupChange = iota
	GroupPeerDeleted
	GroupPeerName
)

// String returns a readable name for the change.
func (c GroupChange) String() string {
	switch c {
	case GroupPeerAdded:
		return "joined"
	case GroupPeerDeleted:
		return "left"
	case GroupPeerName:
		return "renamed"
	default:
		return "unknown"
	}
}

// ProxyType specifies the type of proxy to use.
type ProxyType uint8

const (
	ProxyTypeNone ProxyType = iota
	ProxyTypeHTTP
	ProxyTypeSOCKS5
)

// ParseProxyType maps a config string to a ProxyType.
func ParseProxyType(s string) (ProxyType, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return ProxyTypeNone, nil
	case "http":
		return ProxyTypeHTTP, nil
	case "socks5":
		return ProxyTypeSOCKS5, nil
	default:
		return ProxyTypeNone, errors.New("unknown proxy type: " + s)
	}
}

// ProxyOptions contains proxy configuration.
type ProxyOptions struct {
	Type ProxyType
	Host string
	Port uint16
}

// Options configures engine construction.
type Options struct {
	IPv6Enabled bool
	UDPEnabled  bool
	Proxy       ProxyOptions
	// SavePassphrase, when set, seals the persisted blob.
	SavePassphrase string
}
