package loopback

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
)

// fileSlot is the engine side of one transfer. Data flows only while the
// receiver has accepted and neither side has paused.
type fileSlot struct {
	id           uint32
	dir          engine.FileDirection
	size         uint64
	moved        uint64
	name         string
	accepted     bool
	pausedLocal  bool
	pausedRemote bool
}

func (s *fileSlot) transferring() bool {
	return s.accepted && !s.pausedLocal && !s.pausedRemote
}

func (f *friendEntry) slots(dir engine.FileDirection) map[uint32]*fileSlot {
	if dir == engine.FileSending {
		return f.sending
	}
	return f.receiving
}

// NewFileSender offers a file to a connected friend.
func (t *Tox) NewFileSender(friendID uint32, size uint64, name string) (uint32, error) {
	f, ok := t.friends[friendID]
	if !ok {
		return 0, engine.ErrFriendNotFound
	}
	if name == "" || len(name) > limits.MaxFileName {
		return 0, fmt.Errorf("invalid file name length %d", len(name))
	}
	if f.session == nil {
		return 0, engine.ErrFriendOffline
	}

	id, found := uint32(0), false
	for i := uint32(0); i < maxFileSlots; i++ {
		if _, used := f.sending[i]; !used {
			id, found = i, true
			break
		}
	}
	if !found {
		return 0, engine.ErrTooManyFiles
	}

	if err := t.sendPacket(f, &packet{Kind: PacketFileRequest, File: id, Size: size, Text: name}); err != nil {
		return 0, err
	}
	f.sending[id] = &fileSlot{id: id, dir: engine.FileSending, size: size, name: name}

	logrus.WithFields(logrus.Fields{
		"function":  "NewFileSender",
		"friend_id": friendID,
		"file_id":   id,
		"file_size": size,
	}).Info("File offered")
	return id, nil
}

// FileSendControl sends a control opcode for a local slot.
func (t *Tox) FileSendControl(friendID uint32, dir engine.FileDirection, fileID uint32, control engine.FileControl) error {
	f, ok := t.friends[friendID]
	if !ok {
		return engine.ErrFriendNotFound
	}
	slots := f.slots(dir)
	s, ok := slots[fileID]
	if !ok {
		return engine.ErrFileNotFound
	}

	err := t.sendPacket(f, &packet{Kind: PacketFileControl, File: fileID, Dir: dir.Opposite(), Control: control})

	switch control {
	case engine.FileControlKill, engine.FileControlFinished:
		delete(slots, fileID)
		return err
	}
	if err != nil {
		return err
	}

	switch control {
	case engine.FileControlAccept:
		if dir == engine.FileReceiving && !s.accepted {
			s.accepted = true
		} else {
			s.pausedLocal = false
		}
	case engine.FileControlPause:
		s.pausedLocal = true
	}
	return nil
}

// FileSendData offers one chunk of an accepted transfer.
func (t *Tox) FileSendData(friendID, fileID uint32, data []byte) error {
	f, ok := t.friends[friendID]
	if !ok {
		return engine.ErrFriendNotFound
	}
	s, ok := f.sending[fileID]
	if !ok {
		return engine.ErrFileNotFound
	}
	if !s.transferring() {
		return engine.ErrFileNotTransferring
	}
	if err := limits.ValidateFileChunk(data); err != nil {
		return err
	}
	if s.moved+uint64(len(data)) > s.size {
		return errors.New("data exceeds announced file size")
	}
	if t.window <= 0 {
		return engine.ErrSendQueueFull
	}
	if t.dataFilter != nil && !t.dataFilter(friendID, fileID, len(data)) {
		return engine.ErrSendQueueFull
	}
	if err := t.sendPacket(f, &packet{Kind: PacketFileData, File: fileID, Data: data}); err != nil {
		return err
	}
	s.moved += uint64(len(data))
	t.window--
	return nil
}

// FileDataSize is the largest chunk FileSendData accepts.
func (t *Tox) FileDataSize(friendID uint32) int {
	return limits.MaxFileChunk
}

// FileDataRemaining returns the bytes not yet moved, or 0 for an unknown slot.
func (t *Tox) FileDataRemaining(friendID, fileID uint32, dir engine.FileDirection) uint64 {
	f, ok := t.friends[friendID]
	if !ok {
		return 0
	}
	s, ok := f.slots(dir)[fileID]
	if !ok {
		return 0
	}
	return s.size - s.moved
}

func (t *Tox) handleFileRequest(f *friendEntry, p *packet) {
	f.receiving[p.File] = &fileSlot{id: p.File, dir: engine.FileReceiving, size: p.Size, name: p.Text}
	if t.fileSendRequestCb != nil {
		t.fileSendRequestCb(f.id, p.File, p.Size, p.Text)
	}
}

func (t *Tox) handleFileControl(f *friendEntry, p *packet) {
	dir := p.Dir
	slots := f.slots(dir)
	s, ok := slots[p.File]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":  "handleFileControl",
			"friend_id": f.id,
			"file_id":   p.File,
			"control":   p.Control.String(),
		}).Debug("Control for unknown file slot")
		return
	}

	switch p.Control {
	case engine.FileControlAccept:
		if dir == engine.FileSending && !s.accepted {
			s.accepted = true
		} else {
			s.pausedRemote = false
		}
	case engine.FileControlPause:
		s.pausedRemote = true
	case engine.FileControlKill:
		delete(slots, p.File)
	case engine.FileControlFinished:
		if dir == engine.FileReceiving {
			delete(slots, p.File)
		}
	}

	if t.fileControlCb != nil {
		t.fileControlCb(f.id, dir, p.File, p.Control, nil)
	}
}

func (t *Tox) handleFileData(f *friendEntry, p *packet) {
	s, ok := f.receiving[p.File]
	if !ok || !s.accepted {
		return
	}
	s.moved += uint64(len(p.Data))
	if t.fileDataCb != nil {
		t.fileDataCb(f.id, p.File, p.Data)
	}
}

// dropTransfers removes every slot shared with f. With notify set a Kill
// control is reported for each, as if the peer had cancelled.
func (t *Tox) dropTransfers(f *friendEntry, notify bool) {
	for _, dir := range []engine.FileDirection{engine.FileSending, engine.FileReceiving} {
		slots := f.slots(dir)
		ids := make([]uint32, 0, len(slots))
		for id := range slots {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			delete(slots, id)
			if notify && t.fileControlCb != nil {
				t.fileControlCb(f.id, dir, id, engine.FileControlKill, nil)
			}
		}
	}
}
