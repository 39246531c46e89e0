package messaging

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/engine/enginetest"
	"github.com/opd-ai/toxclient/limits"
	"github.com/opd-ai/toxclient/module"
)

type harness struct {
	eng    *enginetest.Engine
	lock   *module.Lock
	m      *Messenger
	events []module.Event
	friend uint32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{eng: enginetest.NewEngine()}
	d := module.NewDispatcher()
	d.Subscribe(func(ev module.Event) { h.events = append(h.events, ev) })
	h.lock = module.NewLock(d)
	h.m = New(h.eng, h.lock)
	h.friend = h.eng.AddTestFriend(enginetest.TestKey(2), "bob")
	return h
}

// fire runs f the way Iterate would: with the lock held.
func (h *harness) fire(f func()) {
	h.lock.Lock()
	f()
	h.lock.Unlock()
}

func TestSendMessageSplitsInOrder(t *testing.T) {
	h := newHarness(t)
	h.eng.MaxMessage = 8

	require.NoError(t, h.m.SendMessage(h.friend, "aa bb cc"))

	require.Len(t, h.eng.Messages, 3)
	assert.Equal(t, "aa ", h.eng.Messages[0].Text)
	assert.Equal(t, "bb ", h.eng.Messages[1].Text)
	assert.Equal(t, "cc", h.eng.Messages[2].Text)

	require.Len(t, h.events, 3)
	for i, ev := range h.events {
		sent, ok := ev.(MessageSent)
		require.True(t, ok, "event %d is %T", i, ev)
		assert.Equal(t, i+1, sent.Chunk)
		assert.Equal(t, 3, sent.Chunks)
		assert.Equal(t, h.friend, sent.Friend)
	}
}

func TestSendMessageEmpty(t *testing.T) {
	h := newHarness(t)

	err := h.m.SendMessage(h.friend, "")
	assert.ErrorIs(t, err, limits.ErrMessageEmpty)
	assert.Empty(t, h.eng.Messages)
	assert.Empty(t, h.events)
}

func TestSendMessageStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	h.eng.MaxMessage = 8
	calls := 0
	h.eng.SendMessageHook = func(uint32, []byte) error {
		calls++
		if calls == 2 {
			return engine.ErrFriendOffline
		}
		return nil
	}

	err := h.m.SendMessage(h.friend, "aa bb cc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrFriendOffline))
	assert.Contains(t, err.Error(), "2/3")

	assert.Equal(t, 2, calls, "no chunk is attempted after a failure")
	require.Len(t, h.eng.Messages, 1)
	require.Len(t, h.events, 1)
	assert.Equal(t, "aa ", h.events[0].(MessageSent).Text)
}

func TestSendMessageUnknownFriend(t *testing.T) {
	h := newHarness(t)

	err := h.m.SendMessage(99, "hello")
	assert.ErrorIs(t, err, engine.ErrFriendNotFound)
	assert.Empty(t, h.events)
}

func TestSendMessageLongText(t *testing.T) {
	h := newHarness(t)
	text := strings.Repeat("ü", 2000)

	require.NoError(t, h.m.SendMessage(h.friend, text))

	var joined strings.Builder
	for _, msg := range h.eng.Messages {
		assert.LessOrEqual(t, len(msg.Text), h.eng.MaxMessage-limits.MessageChunkPadding)
		joined.WriteString(msg.Text)
	}
	assert.Equal(t, text, joined.String())
}

func TestInboundMessagesAreNotReassembled(t *testing.T) {
	h := newHarness(t)

	h.fire(func() {
		h.eng.FireFriendMessage(h.friend, "part one ")
		h.eng.FireFriendMessage(h.friend, "part two")
	})

	require.Len(t, h.events, 2)
	assert.Equal(t, MessageReceived{Friend: h.friend, Text: "part one "}, h.events[0])
	assert.Equal(t, MessageReceived{Friend: h.friend, Text: "part two"}, h.events[1])
}

func TestMessengerName(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, "messaging", h.m.Name())
	h.fire(h.m.Update)
	assert.Empty(t, h.events)
}
