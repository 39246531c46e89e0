package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
	"github.com/opd-ai/toxclient/module"
)

// DefaultChunksPerTick bounds how many chunks one transfer offers per tick.
const DefaultChunksPerTick = 64

// Stats receives byte counts. The metrics collector implements it.
type Stats interface {
	FileBytesSent(n int)
	FileBytesReceived(n int)
}

// Options configures the module.
type Options struct {
	// ChunksPerTick bounds the pump per transfer and tick. Zero selects
	// DefaultChunksPerTick.
	ChunksPerTick int
	// MaxSendRateKBps caps the combined send rate of all transfers.
	// Zero means no cap.
	MaxSendRateKBps int
	Stats           Stats
	TimeProvider    TimeProvider
}

// Manager is the file transfer module.
type Manager struct {
	module.Base

	transfers     map[ID]*transfer
	chunksPerTick int
	limiter       *rate.Limiter
	stats         Stats
	timeProvider  TimeProvider
}

var _ module.Module = (*Manager)(nil)

// New creates the file module and registers its engine callbacks.
func New(eng engine.Engine, lock *module.Lock, opts Options) *Manager {
	m := &Manager{
		Base:          module.NewBase("file", eng, lock),
		transfers:     make(map[ID]*transfer),
		chunksPerTick: opts.ChunksPerTick,
		stats:         opts.Stats,
		timeProvider:  opts.TimeProvider,
	}
	if m.chunksPerTick <= 0 {
		m.chunksPerTick = DefaultChunksPerTick
	}
	if m.timeProvider == nil {
		m.timeProvider = DefaultTimeProvider{}
	}
	if opts.MaxSendRateKBps > 0 {
		bps := opts.MaxSendRateKBps * 1024
		burst := bps
		if burst < limits.MaxFileChunk {
			burst = limits.MaxFileChunk
		}
		m.limiter = rate.NewLimiter(rate.Limit(bps), burst)
	}

	eng.OnFileSendRequest(m.handleSendRequest)
	eng.OnFileControl(m.handleControl)
	eng.OnFileData(m.handleData)

	m.Log.WithFields(logrus.Fields{
		"function":        "New",
		"chunks_per_tick": m.chunksPerTick,
		"rate_limited":    m.limiter != nil,
	}).Debug("File module created")
	return m
}

// SendFile offers a local file to a friend. The transfer waits in Paused
// until the friend accepts it. A file that cannot be opened creates no
// transfer.
func (m *Manager) SendFile(friendID uint32, path string) (ID, error) {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function":  "SendFile",
			"friend_id": friendID,
			"path":      path,
			"error":     err.Error(),
		}).Warn("Cannot open file for sending")
		return ID{}, fmt.Errorf("send file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return ID{}, fmt.Errorf("send file: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return ID{}, fmt.Errorf("send file %s: %w", path, ErrIsDirectory)
	}

	name := filepath.Base(path)
	size := uint64(info.Size())
	fileID, err := m.Engine.NewFileSender(friendID, size, name)
	if err != nil {
		f.Close()
		return ID{}, fmt.Errorf("send file to friend %d: %w", friendID, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	id := ID{Friend: friendID, Direction: engine.FileSending, File: fileID}
	t := newTransfer(id, name, size, m.timeProvider)
	t.source = f
	t.path = abs
	m.transfers[id] = t

	m.Log.WithFields(logrus.Fields{
		"function":    "SendFile",
		"transfer_id": id.String(),
		"file_name":   name,
		"file_size":   size,
	}).Info("File offered")
	m.Emit(TransferRequested{Transfer: t.snapshot()})
	return id, nil
}

// AcceptFile accepts an incoming transfer into dir. When the destination
// cannot be opened the peer is sent Kill, the local status is unchanged
// and a TransferStatusChanged carrying the error is emitted.
func (m *Manager) AcceptFile(id ID, dir string) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	t, ok := m.transfers[id]
	if !ok {
		return fmt.Errorf("accept %s: %w", id, ErrTransferNotFound)
	}
	if id.Direction != engine.FileReceiving {
		return fmt.Errorf("accept %s: %w", id, ErrNotReceiving)
	}
	if t.sink != nil {
		m.Log.WithFields(logrus.Fields{
			"function":    "AcceptFile",
			"transfer_id": id.String(),
		}).Debug("Transfer already accepted")
		return nil
	}

	if err := t.openDestination(dir); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function":    "AcceptFile",
			"transfer_id": id.String(),
			"dir":         dir,
			"error":       err.Error(),
		}).Warn("Cannot open destination, rejecting file")
		m.control(t, engine.FileControlKill)
		m.Emit(TransferStatusChanged{Transfer: t.snapshot(), Err: err})
		return fmt.Errorf("accept %s: %w", id, err)
	}

	m.control(t, engine.FileControlAccept)
	m.setStatus(t, StatusTransit, nil)
	return nil
}

// PauseFile pauses a transfer in Transit. Any other status is a no-op.
func (m *Manager) PauseFile(id ID) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	t, ok := m.transfers[id]
	if !ok {
		return fmt.Errorf("pause %s: %w", id, ErrTransferNotFound)
	}
	if t.status != StatusTransit {
		m.Log.WithFields(logrus.Fields{
			"function":    "PauseFile",
			"transfer_id": id.String(),
			"status":      t.status.String(),
		}).Debug("Ignoring pause outside transit")
		return nil
	}
	m.control(t, engine.FileControlPause)
	m.setStatus(t, StatusPaused, nil)
	return nil
}

// ResumeFile resumes a transfer we paused. Any other status is a no-op.
func (m *Manager) ResumeFile(id ID) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	t, ok := m.transfers[id]
	if !ok {
		return fmt.Errorf("resume %s: %w", id, ErrTransferNotFound)
	}
	if t.status != StatusPaused {
		m.Log.WithFields(logrus.Fields{
			"function":    "ResumeFile",
			"transfer_id": id.String(),
			"status":      t.status.String(),
		}).Debug("Ignoring resume of a transfer not paused locally")
		return nil
	}
	m.control(t, engine.FileControlAccept)
	m.setStatus(t, StatusTransit, nil)
	return nil
}

// KillFile cancels a transfer from any status.
func (m *Manager) KillFile(id ID) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	t, ok := m.transfers[id]
	if !ok {
		return fmt.Errorf("kill %s: %w", id, ErrTransferNotFound)
	}
	m.control(t, engine.FileControlKill)
	m.setStatus(t, StatusCanceled, nil)
	return nil
}

// Transfers returns snapshots of every active transfer.
func (m *Manager) Transfers() []Snapshot {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	out := make([]Snapshot, 0, len(m.transfers))
	for _, id := range m.sortedIDs() {
		out = append(out, m.transfers[id].snapshot())
	}
	return out
}

// Transfer returns a snapshot of one active transfer.
func (m *Manager) Transfer(id ID) (Snapshot, error) {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	t, ok := m.transfers[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("transfer %s: %w", id, ErrTransferNotFound)
	}
	return t.snapshot(), nil
}

// Close releases every open file. Transfers are dropped without control
// messages; the session calls it while shutting the engine down.
func (m *Manager) Close() {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	for id, t := range m.transfers {
		t.release()
		delete(m.transfers, id)
	}
}

func (m *Manager) sortedIDs() []ID {
	ids := make([]ID, 0, len(m.transfers))
	for id := range m.transfers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Friend != b.Friend {
			return a.Friend < b.Friend
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.File < b.File
	})
	return ids
}

// Update runs the send pump for every transfer in Transit and reports
// progress.
func (m *Manager) Update() {
	for _, id := range m.sortedIDs() {
		t := m.transfers[id]
		if id.Direction == engine.FileSending && t.status == StatusTransit {
			m.pump(t)
		}
		if t.status.Terminal() {
			continue
		}
		if t.transmitted != t.lastProgress {
			t.updateSpeed()
			t.lastProgress = t.transmitted
			m.Emit(TransferProgress{Transfer: t.snapshot()})
		}
	}
}

// pump offers chunks until the engine pushes back, the per-tick budget is
// spent or the file is done. A refused chunk is un-read and offered again
// on a later tick.
func (m *Manager) pump(t *transfer) {
	id := t.id
	for i := 0; i < m.chunksPerTick; i++ {
		remaining := m.Engine.FileDataRemaining(id.Friend, id.File, engine.FileSending)
		if remaining == 0 {
			m.Log.WithFields(logrus.Fields{
				"function":    "pump",
				"transfer_id": id.String(),
				"transmitted": t.transmitted,
			}).Info("File sent")
			m.control(t, engine.FileControlFinished)
			m.setStatus(t, StatusFinished, nil)
			return
		}

		size := m.Engine.FileDataSize(id.Friend)
		if uint64(size) > remaining {
			size = int(remaining)
		}
		if m.limiter != nil {
			if size > m.limiter.Burst() {
				size = m.limiter.Burst()
			}
			if !m.limiter.AllowN(m.timeProvider.Now(), size) {
				return
			}
		}

		offset := t.totalSize - remaining
		data, err := t.read(offset, size)
		if err != nil || len(data) == 0 {
			if err == nil {
				err = fmt.Errorf("source ended at offset %d of %d", offset, t.totalSize)
			}
			m.Log.WithFields(logrus.Fields{
				"function":    "pump",
				"transfer_id": id.String(),
				"offset":      offset,
				"error":       err.Error(),
			}).Warn("Read failed, killing transfer")
			m.control(t, engine.FileControlKill)
			m.setStatus(t, StatusCanceled, err)
			return
		}

		if err := m.Engine.FileSendData(id.Friend, id.File, data); err != nil {
			t.unread(len(data))
			m.Log.WithFields(logrus.Fields{
				"function":    "pump",
				"transfer_id": id.String(),
				"offset":      offset,
				"error":       err.Error(),
			}).Debug("Chunk refused, will retry")
			return
		}
		if m.stats != nil {
			m.stats.FileBytesSent(len(data))
		}
	}
}

// control sends an opcode for the transfer. Failures are logged only: the
// local state transitions regardless.
func (m *Manager) control(t *transfer, c engine.FileControl) {
	id := t.id
	if err := m.Engine.FileSendControl(id.Friend, id.Direction, id.File, c); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function":    "control",
			"transfer_id": id.String(),
			"control":     c.String(),
			"error":       err.Error(),
		}).Warn("Control message not delivered")
	}
}

// setStatus applies a transition and emits it. A terminal transfer is
// removed first, so handlers of the terminal event cannot find it.
func (m *Manager) setStatus(t *transfer, s Status, err error) {
	t.status = s
	if s.Terminal() {
		t.release()
		delete(m.transfers, t.id)
	}
	m.Log.WithFields(logrus.Fields{
		"function":    "setStatus",
		"transfer_id": t.id.String(),
		"status":      s.String(),
	}).Debug("Transfer status changed")
	m.Emit(TransferStatusChanged{Transfer: t.snapshot(), Err: err})
}

func (m *Manager) handleSendRequest(friendID, fileID uint32, size uint64, name string) {
	id := ID{Friend: friendID, Direction: engine.FileReceiving, File: fileID}
	base, err := baseName(name)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function":    "handleSendRequest",
			"transfer_id": id.String(),
			"error":       err.Error(),
		}).Warn("Rejecting file with unusable name")
		if err := m.Engine.FileSendControl(friendID, engine.FileReceiving, fileID, engine.FileControlKill); err != nil {
			m.Log.WithFields(logrus.Fields{
				"function":    "handleSendRequest",
				"transfer_id": id.String(),
				"error":       err.Error(),
			}).Debug("Kill not delivered")
		}
		return
	}

	if old, ok := m.transfers[id]; ok {
		m.Log.WithFields(logrus.Fields{
			"function":    "handleSendRequest",
			"transfer_id": id.String(),
			"status":      old.status.String(),
		}).Warn("Friend reused an active file slot, dropping old transfer")
		m.setStatus(old, StatusCanceled, ErrTransferReplaced)
	}
	t := newTransfer(id, base, size, m.timeProvider)
	m.transfers[id] = t

	m.Log.WithFields(logrus.Fields{
		"function":    "handleSendRequest",
		"transfer_id": id.String(),
		"file_name":   base,
		"file_size":   size,
	}).Info("File offered by friend")
	m.Emit(TransferRequested{Transfer: t.snapshot()})
}

// handleControl applies the direction-aware control table. dir is the
// local side of the transfer.
func (m *Manager) handleControl(friendID uint32, dir engine.FileDirection, fileID uint32, c engine.FileControl, _ []byte) {
	id := ID{Friend: friendID, Direction: dir, File: fileID}
	t, ok := m.transfers[id]
	if !ok {
		m.Log.WithFields(logrus.Fields{
			"function":    "handleControl",
			"transfer_id": id.String(),
			"control":     c.String(),
		}).Debug("Control for unknown transfer")
		return
	}

	next := t.status
	switch c {
	case engine.FileControlAccept:
		next = StatusTransit
	case engine.FileControlPause:
		if dir == engine.FileSending {
			next = StatusPausedByReceiver
		} else {
			next = StatusPausedBySender
		}
	case engine.FileControlKill:
		next = StatusCanceled
	case engine.FileControlFinished:
		if dir == engine.FileReceiving {
			next = StatusFinished
		}
	}
	m.setStatus(t, next, nil)
}

// handleData is the receive-side sink. Completion is driven only by the
// sender's Finished control.
func (m *Manager) handleData(friendID, fileID uint32, data []byte) {
	id := ID{Friend: friendID, Direction: engine.FileReceiving, File: fileID}
	t, ok := m.transfers[id]
	if !ok || t.sink == nil {
		m.Log.WithFields(logrus.Fields{
			"function":    "handleData",
			"transfer_id": id.String(),
			"bytes":       len(data),
		}).Debug("Data for a transfer without destination")
		return
	}
	if err := t.write(data); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function":    "handleData",
			"transfer_id": id.String(),
			"error":       err.Error(),
		}).Warn("Write failed, killing transfer")
		m.control(t, engine.FileControlKill)
		m.setStatus(t, StatusCanceled, err)
		return
	}
	if m.stats != nil {
		m.stats.FileBytesReceived(len(data))
	}
}
