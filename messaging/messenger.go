package messaging

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
	"github.com/opd-ai/toxclient/module"
)

// MessageSent is emitted for every chunk the engine accepted.
type MessageSent struct {
	Friend uint32
	Text   string
	Chunk  int
	Chunks int
}

// EventName implements module.Event.
func (MessageSent) EventName() string { return "message_sent" }

// MessageReceived is emitted for every inbound wire message. Chunks of a
// long message arrive as separate events.
type MessageReceived struct {
	Friend uint32
	Text   string
}

// EventName implements module.Event.
func (MessageReceived) EventName() string { return "message_received" }

// Messenger sends and receives one-to-one text messages.
type Messenger struct {
	module.Base
}

var _ module.Module = (*Messenger)(nil)

// New creates the messaging module and registers its engine callback.
func New(eng engine.Engine, lock *module.Lock) *Messenger {
	m := &Messenger{Base: module.NewBase("messaging", eng, lock)}
	eng.OnFriendMessage(m.handleMessage)
	return m
}

// Update has no periodic work. Messages are sent synchronously and
// received from engine callbacks.
func (m *Messenger) Update() {}

// SendMessage splits text at the engine's message limit and sends the
// chunks in order. The first failing chunk stops the send.
func (m *Messenger) SendMessage(friendID uint32, text string) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()
	return m.sendLocked(friendID, text)
}

func (m *Messenger) sendLocked(friendID uint32, text string) error {
	if text == "" {
		return limits.ErrMessageEmpty
	}
	chunks := SplitUTF8(text, m.Engine.MaxMessageLength())
	for i, chunk := range chunks {
		if err := m.Engine.SendMessage(friendID, []byte(chunk)); err != nil {
			m.Log.WithFields(logrus.Fields{
				"function":  "SendMessage",
				"friend_id": friendID,
				"chunk":     i + 1,
				"chunks":    len(chunks),
				"error":     err.Error(),
			}).Warn("Message chunk rejected by engine")
			return fmt.Errorf("send chunk %d/%d to friend %d: %w", i+1, len(chunks), friendID, err)
		}
		m.Emit(MessageSent{Friend: friendID, Text: chunk, Chunk: i + 1, Chunks: len(chunks)})
	}

	m.Log.WithFields(logrus.Fields{
		"function":  "SendMessage",
		"friend_id": friendID,
		"chunks":    len(chunks),
		"bytes":     len(text),
	}).Debug("Message sent")
	return nil
}

// handleMessage runs inside Iterate with the lock held.
func (m *Messenger) handleMessage(friendID uint32, message []byte) {
	m.Emit(MessageReceived{Friend: friendID, Text: string(message)})
}
