package presence

import (
	"time"

	"github.com/opd-ai/toxclient/engine"
)

// Status is the presence value shown to the application.
type Status uint8

const (
	StatusOnline Status = iota
	StatusAway
	StatusBusy
	StatusOffline
)

// String returns a lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusAway:
		return "away"
	case StatusBusy:
		return "busy"
	default:
		return "offline"
	}
}

// ParseStatus maps a status name back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "online":
		return StatusOnline, nil
	case "away":
		return StatusAway, nil
	case "busy":
		return StatusBusy, nil
	case "offline":
		return StatusOffline, nil
	default:
		return StatusOffline, ErrInvalidStatus
	}
}

// mapStatus converts the engine's user status. Unknown values read as
// Offline.
func mapStatus(s engine.UserStatus) Status {
	switch s {
	case engine.UserStatusNone:
		return StatusOnline
	case engine.UserStatusAway:
		return StatusAway
	case engine.UserStatusBusy:
		return StatusBusy
	default:
		return StatusOffline
	}
}

// userStatus converts a settable Status to the engine value.
func userStatus(s Status) (engine.UserStatus, error) {
	switch s {
	case StatusOnline:
		return engine.UserStatusNone, nil
	case StatusAway:
		return engine.UserStatusAway, nil
	case StatusBusy:
		return engine.UserStatusBusy, nil
	default:
		return engine.UserStatusInvalid, ErrInvalidStatus
	}
}

// Friend is a roster entry. Values returned by the module are copies.
type Friend struct {
	ID            uint32
	PublicKey     engine.PublicKey
	Name          string
	StatusMessage string
	UserStatus    Status
	Connection    engine.ConnectionStatus
	LastSeen      time.Time
}

// IsOnline reports whether the friend has a live connection.
func (f Friend) IsOnline() bool {
	return f.Connection != engine.ConnectionNone
}

// Status is the effective presence: Offline while disconnected, the
// friend's own user status otherwise.
func (f Friend) Status() Status {
	if !f.IsOnline() {
		return StatusOffline
	}
	return f.UserStatus
}

// Identity describes the local user.
type Identity struct {
	Address       engine.Address
	PublicKey     engine.PublicKey
	Name          string
	StatusMessage string
	// Status is the effective status after the connectivity fallback.
	Status Status
	// Chosen is the status last set by the application.
	Chosen    Status
	Connected bool
}
