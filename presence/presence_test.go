package presence

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/engine/enginetest"
	"github.com/opd-ai/toxclient/limits"
	"github.com/opd-ai/toxclient/module"
)

type fixedTime struct{ now time.Time }

func (f fixedTime) Now() time.Time { return f.now }

type harness struct {
	eng    *enginetest.Engine
	lock   *module.Lock
	p      *Presence
	events []module.Event
	clock  fixedTime
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		eng:   enginetest.NewEngine(),
		clock: fixedTime{now: time.Unix(1700000000, 0)},
	}
	d := module.NewDispatcher()
	d.Subscribe(func(ev module.Event) { h.events = append(h.events, ev) })
	h.lock = module.NewLock(d)
	h.p = NewWithTimeProvider(h.eng, h.lock, h.clock)
	return h
}

func (h *harness) locked(f func()) {
	h.lock.Lock()
	f()
	h.lock.Unlock()
}

func (h *harness) take() []module.Event {
	ev := h.events
	h.events = nil
	return ev
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name string
		in   engine.UserStatus
		want Status
	}{
		{"none_is_online", engine.UserStatusNone, StatusOnline},
		{"away", engine.UserStatusAway, StatusAway},
		{"busy", engine.UserStatusBusy, StatusBusy},
		{"invalid_is_offline", engine.UserStatusInvalid, StatusOffline},
		{"unknown_is_offline", engine.UserStatus(42), StatusOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapStatus(tt.in); got != tt.want {
				t.Errorf("mapStatus(%d) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusOnline, StatusAway, StatusBusy, StatusOffline} {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("invisible")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestEmitRoster(t *testing.T) {
	h := newHarness(t)
	h.eng.Name = "alice"
	a := h.eng.AddTestFriend(enginetest.TestKey(2), "bob")
	b := h.eng.AddTestFriend(enginetest.TestKey(3), "carol")
	h.eng.Friends[b].Connection = engine.ConnectionUDP

	h.p.EmitRoster()

	events := h.take()
	require.Len(t, events, 3)
	self, ok := events[0].(SelfChanged)
	require.True(t, ok)
	assert.Equal(t, "alice", self.Self.Name)
	assert.Equal(t, StatusOffline, self.Self.Status, "not connected yet")

	first := events[1].(FriendAdded).Friend
	second := events[2].(FriendAdded).Friend
	assert.Equal(t, a, first.ID)
	assert.Equal(t, "bob", first.Name)
	assert.Equal(t, StatusOffline, first.Status())
	assert.Equal(t, b, second.ID)
	assert.Equal(t, StatusOnline, second.Status())
	assert.Equal(t, h.clock.now, second.LastSeen)

	assert.Len(t, h.p.Friends(), 2)
}

func TestConnectivityFallback(t *testing.T) {
	tests := []struct {
		name   string
		chosen Status
		// effective status after each step: connect, disconnect, connect
		want []Status
		// whether each step emits SelfChanged
		emits []bool
	}{
		{
			name:   "online_falls_back",
			chosen: StatusOnline,
			want:   []Status{StatusOnline, StatusOffline, StatusOnline},
			emits:  []bool{true, true, true},
		},
		{
			name:   "away_is_kept",
			chosen: StatusAway,
			want:   []Status{StatusAway, StatusAway, StatusAway},
			emits:  []bool{false, false, false},
		},
		{
			name:   "busy_is_kept",
			chosen: StatusBusy,
			want:   []Status{StatusBusy, StatusBusy, StatusBusy},
			emits:  []bool{false, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.p.EmitRoster()
			if tt.chosen != StatusOnline {
				require.NoError(t, h.p.SetStatus(tt.chosen))
			}
			h.take()

			for i, connected := range []bool{true, false, true} {
				h.locked(func() { h.p.SetConnectedLocked(connected) })
				events := h.take()
				assert.Equal(t, tt.want[i], h.p.Self().Status, "step %d", i)
				if tt.emits[i] {
					require.Len(t, events, 1, "step %d", i)
					assert.Equal(t, tt.want[i], events[0].(SelfChanged).Self.Status)
				} else {
					assert.Empty(t, events, "step %d", i)
				}
			}
		})
	}
}

func TestStableConnectivityEmitsNothing(t *testing.T) {
	h := newHarness(t)
	h.locked(func() { h.p.SetConnectedLocked(true) })
	h.take()

	h.locked(func() { h.p.SetConnectedLocked(true) })
	assert.Empty(t, h.take())
}

func TestSetStatus(t *testing.T) {
	h := newHarness(t)
	h.locked(func() { h.p.SetConnectedLocked(true) })
	h.take()

	require.NoError(t, h.p.SetStatus(StatusBusy))
	assert.Equal(t, engine.UserStatusBusy, h.eng.UserStatus)
	events := h.take()
	require.Len(t, events, 1)
	assert.Equal(t, StatusBusy, events[0].(SelfChanged).Self.Status)

	err := h.p.SetStatus(StatusOffline)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, engine.UserStatusBusy, h.eng.UserStatus)
	assert.Empty(t, h.take())
}

func TestSetNameAndStatusMessage(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.p.SetName("alice"))
	require.NoError(t, h.p.SetStatusMessage("around"))
	assert.Equal(t, "alice", h.eng.Name)
	assert.Equal(t, "around", h.p.Self().StatusMessage)
	assert.Len(t, h.take(), 2)

	err := h.p.SetName(strings.Repeat("x", limits.MaxNameLength+1))
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
	assert.Equal(t, "alice", h.eng.Name)
	assert.Empty(t, h.take())
}

func TestSendFriendRequest(t *testing.T) {
	t.Run("malformed_address", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.p.SendFriendRequest("not-an-address", "hi")
		assert.ErrorIs(t, err, engine.ErrInvalidAddress)
		assert.Empty(t, h.p.Friends())
		assert.Empty(t, h.eng.Requests)
		assert.Empty(t, h.take())
	})

	t.Run("bad_checksum", func(t *testing.T) {
		h := newHarness(t)
		addr := engine.NewAddress(enginetest.TestKey(5), engine.Nospam{1, 2, 3, 4}).String()
		corrupt := addr[:len(addr)-1] + "0"
		if corrupt == addr {
			corrupt = addr[:len(addr)-1] + "1"
		}

		_, err := h.p.SendFriendRequest(corrupt, "hi")
		assert.ErrorIs(t, err, engine.ErrInvalidAddress)
		assert.Empty(t, h.p.Friends())
	})

	t.Run("valid_address", func(t *testing.T) {
		h := newHarness(t)
		addr := engine.NewAddress(enginetest.TestKey(5), engine.Nospam{1, 2, 3, 4}).String()

		id, err := h.p.SendFriendRequest(addr, "hi, it's alice")
		require.NoError(t, err)
		require.Len(t, h.eng.Requests, 1)
		assert.Equal(t, "hi, it's alice", h.eng.Requests[0].Message)

		events := h.take()
		require.Len(t, events, 1)
		added := events[0].(FriendAdded).Friend
		assert.Equal(t, id, added.ID)
		assert.Equal(t, enginetest.TestKey(5), added.PublicKey)
	})

	t.Run("intro_too_long", func(t *testing.T) {
		h := newHarness(t)
		addr := engine.NewAddress(enginetest.TestKey(5), engine.Nospam{}).String()

		_, err := h.p.SendFriendRequest(addr, strings.Repeat("x", limits.MaxFriendRequest+1))
		assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
		assert.Empty(t, h.eng.Friends)
	})
}

func TestAcceptFriendRequest(t *testing.T) {
	h := newHarness(t)
	key := enginetest.TestKey(9)

	h.locked(func() { h.eng.FireFriendRequest(key, "let me in") })
	events := h.take()
	require.Len(t, events, 1)
	assert.Equal(t, FriendRequestReceived{PublicKey: key, Message: "let me in"}, events[0])
	assert.Empty(t, h.eng.Friends, "requests are never auto-accepted")

	id, err := h.p.AcceptFriendRequest(key)
	require.NoError(t, err)
	f, err := h.p.Friend(id)
	require.NoError(t, err)
	assert.Equal(t, key, f.PublicKey)

	_, err = h.p.AcceptFriendRequest(key)
	assert.ErrorIs(t, err, engine.ErrFriendExists)
}

func TestRemoveFriend(t *testing.T) {
	h := newHarness(t)
	id := h.eng.AddTestFriend(enginetest.TestKey(2), "bob")
	h.p.EmitRoster()
	h.take()

	require.NoError(t, h.p.RemoveFriend(id))
	assert.Equal(t, []module.Event{FriendRemoved{ID: id}}, h.take())

	_, err := h.p.Friend(id)
	assert.ErrorIs(t, err, engine.ErrFriendNotFound)
	assert.ErrorIs(t, h.p.RemoveFriend(id), engine.ErrFriendNotFound)
}

func TestFriendCallbacks(t *testing.T) {
	h := newHarness(t)
	id := h.eng.AddTestFriend(enginetest.TestKey(2), "bob")
	h.p.EmitRoster()
	h.take()

	h.locked(func() {
		h.eng.FireUserStatus(id, engine.UserStatusBusy)
		h.eng.FireConnection(id, engine.ConnectionUDP)
		h.eng.FireName(id, "robert")
		h.eng.FireStatusMessage(id, "coding")
		h.eng.FireConnection(id, engine.ConnectionNone)
	})

	assert.Equal(t, []module.Event{
		FriendStatusChanged{ID: id, Status: StatusBusy},
		FriendNameChanged{ID: id, Name: "robert"},
		FriendStatusMessageChanged{ID: id, Message: "coding"},
		FriendStatusChanged{ID: id, Status: StatusOffline},
	}, h.take(), "user status alone does not change an offline friend")

	f, err := h.p.Friend(id)
	require.NoError(t, err)
	assert.Equal(t, "robert", f.Name)
	assert.Equal(t, "coding", f.StatusMessage)
	assert.Equal(t, StatusBusy, f.UserStatus)
	assert.Equal(t, h.clock.now, f.LastSeen)
}

func TestCallbackForUnknownFriendIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.locked(func() {
		h.eng.FireName(77, "ghost")
		h.eng.FireConnection(77, engine.ConnectionTCP)
	})
	assert.Empty(t, h.take())
}
