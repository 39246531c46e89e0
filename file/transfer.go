package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
)

var (
	// ErrTransferNotFound is returned for an id the module does not track.
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrInvalidFileName indicates a name that has no usable base name.
	ErrInvalidFileName = errors.New("invalid file name")
	// ErrNotReceiving is returned when accepting a transfer we are sending.
	ErrNotReceiving = errors.New("transfer is not incoming")
	// ErrIsDirectory is returned when asked to send a directory.
	ErrIsDirectory = errors.New("path is a directory")
	// ErrTransferReplaced ends a transfer whose slot the friend reused for a
	// new offer.
	ErrTransferReplaced = errors.New("transfer replaced by a new offer")
)

// Status is the state of a transfer.
type Status uint8

const (
	StatusPaused Status = iota
	StatusPausedBySender
	StatusPausedByReceiver
	StatusTransit
	StatusCanceled
	StatusFinished
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPaused:
		return "paused"
	case StatusPausedBySender:
		return "paused_by_sender"
	case StatusPausedByReceiver:
		return "paused_by_receiver"
	case StatusTransit:
		return "transit"
	case StatusCanceled:
		return "canceled"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether the transfer is over.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusFinished
}

// ID identifies a transfer. The engine numbers sending and receiving slots
// independently, so the direction is part of the key.
type ID struct {
	Friend    uint32
	Direction engine.FileDirection
	File      uint32
}

// String returns a compact form for logs and URLs.
func (id ID) String() string {
	return fmt.Sprintf("%d-%s-%d", id.Friend, id.Direction, id.File)
}

// ParseID parses the String form.
func ParseID(s string) (ID, error) {
	var id ID
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return id, fmt.Errorf("%w: %q", ErrTransferNotFound, s)
	}
	friend, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return id, fmt.Errorf("%w: %q", ErrTransferNotFound, s)
	}
	file, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return id, fmt.Errorf("%w: %q", ErrTransferNotFound, s)
	}
	switch parts[1] {
	case engine.FileSending.String():
		id.Direction = engine.FileSending
	case engine.FileReceiving.String():
		id.Direction = engine.FileReceiving
	default:
		return id, fmt.Errorf("%w: %q", ErrTransferNotFound, s)
	}
	id.Friend, id.File = uint32(friend), uint32(file)
	return id, nil
}

// Snapshot is a copy of a transfer's public state.
type Snapshot struct {
	ID          ID
	Direction   engine.FileDirection
	Status      Status
	TotalSize   uint64
	Transmitted uint64
	FileName    string
	Path        string
	// Speed is a moving average in bytes per second.
	Speed     float64
	StartTime time.Time
}

// Progress returns the completed fraction in percent.
func (s Snapshot) Progress() float64 {
	if s.TotalSize == 0 {
		return 0
	}
	return float64(s.Transmitted) / float64(s.TotalSize) * 100
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// transfer is the module's record of one file slot. The session lock
// guards every field.
type transfer struct {
	id          ID
	status      Status
	totalSize   uint64
	transmitted uint64
	fileName    string
	path        string

	source *os.File
	sink   *os.File

	startTime    time.Time
	lastProgress uint64
	lastTick     time.Time
	speed        float64
	timeProvider TimeProvider
}

func newTransfer(id ID, name string, size uint64, tp TimeProvider) *transfer {
	now := tp.Now()
	return &transfer{
		id:           id,
		status:       StatusPaused,
		totalSize:    size,
		fileName:     name,
		startTime:    now,
		lastTick:     now,
		timeProvider: tp,
	}
}

func (t *transfer) snapshot() Snapshot {
	return Snapshot{
		ID:          t.id,
		Direction:   t.id.Direction,
		Status:      t.status,
		TotalSize:   t.totalSize,
		Transmitted: t.transmitted,
		FileName:    t.fileName,
		Path:        t.path,
		Speed:       t.speed,
		StartTime:   t.startTime,
	}
}

// read fills up to n bytes from offset and counts them as transmitted.
func (t *transfer) read(offset uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := t.source.ReadAt(buf, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && got > 0) {
		return nil, err
	}
	t.transmitted += uint64(got)
	return buf[:got], nil
}

// unread takes back bytes the engine did not accept.
func (t *transfer) unread(n int) {
	t.transmitted -= uint64(n)
}

// write appends an inbound chunk to the destination.
func (t *transfer) write(data []byte) error {
	if _, err := t.sink.Write(data); err != nil {
		return err
	}
	t.transmitted += uint64(len(data))
	return nil
}

// openDestination truncates or creates the destination file in dir.
func (t *transfer) openDestination(dir string) error {
	path := filepath.Join(dir, t.fileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	t.sink = f
	t.path = path
	return nil
}

// release closes the open handles, flushing the destination first.
func (t *transfer) release() {
	if t.source != nil {
		if err := t.source.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "release",
				"transfer_id": t.id.String(),
				"error":       err.Error(),
			}).Warn("Failed to close source file")
		}
		t.source = nil
	}
	if t.sink != nil {
		if err := t.sink.Sync(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "release",
				"transfer_id": t.id.String(),
				"error":       err.Error(),
			}).Warn("Failed to flush destination file")
		}
		if err := t.sink.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "release",
				"transfer_id": t.id.String(),
				"error":       err.Error(),
			}).Warn("Failed to close destination file")
		}
		t.sink = nil
	}
}

// updateSpeed folds the bytes moved since the last tick into an
// exponential moving average with alpha 0.3.
func (t *transfer) updateSpeed() {
	elapsed := t.timeProvider.Since(t.lastTick).Seconds()
	moved := t.transmitted - t.lastProgress
	if elapsed > 0 {
		instant := float64(moved) / elapsed
		if t.speed == 0 {
			t.speed = instant
		} else {
			t.speed = 0.7*t.speed + 0.3*instant
		}
	}
	t.lastTick = t.timeProvider.Now()
}

// baseName reduces a peer-supplied name to its last path element.
func baseName(name string) (string, error) {
	clean := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if clean == "/" || clean == "." || clean == ".." || clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return clean, nil
}
