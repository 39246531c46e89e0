package loopback

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
)

const (
	testBootstrapHost = "127.0.0.1"
	testBootstrapPort = 33445
)

type mockTimeProvider struct {
	now time.Time
}

func (m *mockTimeProvider) Now() time.Time                  { return m.now }
func (m *mockTimeProvider) Since(t time.Time) time.Duration { return m.now.Sub(t) }
func (m *mockTimeProvider) Advance(d time.Duration)         { m.now = m.now.Add(d) }

func newBootstrappedNode(t *testing.T, n *Network, boot *Tox) *Tox {
	t.Helper()
	tox, err := New(n, engine.Options{UDPEnabled: true})
	require.NoError(t, err)
	_, err = NewAV(tox, engine.MaxCalls)
	require.NoError(t, err)
	require.NoError(t, tox.Bootstrap(testBootstrapHost, testBootstrapPort, boot.SelfPublicKey().String()))
	return tox
}

func iterateUntil(t *testing.T, cond func() bool, nodes ...*Tox) {
	t.Helper()
	for i := 0; i < 200; i++ {
		for _, n := range nodes {
			n.Iterate()
		}
		if cond() {
			return
		}
	}
	t.Fatal("condition not reached after 200 iterations")
}

func iterate(rounds int, nodes ...*Tox) {
	for i := 0; i < rounds; i++ {
		for _, n := range nodes {
			n.Iterate()
		}
	}
}

// connectedPair returns two nodes that are mutual friends with a live link.
func connectedPair(t *testing.T) (a, b *Tox, aFriend, bFriend uint32) {
	t.Helper()
	n := NewNetwork()
	boot, err := n.AddBootstrapNode(testBootstrapHost, testBootstrapPort)
	require.NoError(t, err)

	a = newBootstrappedNode(t, n, boot)
	b = newBootstrappedNode(t, n, boot)

	aFriend, err = a.AddFriendNoRequest(b.SelfPublicKey())
	require.NoError(t, err)
	bFriend, err = b.AddFriendNoRequest(a.SelfPublicKey())
	require.NoError(t, err)

	iterateUntil(t, func() bool {
		sa, _ := a.FriendConnectionStatus(aFriend)
		sb, _ := b.FriendConnectionStatus(bFriend)
		return sa != engine.ConnectionNone && sb != engine.ConnectionNone
	}, a, b)
	return a, b, aFriend, bFriend
}

func TestBootstrapUnknownNode(t *testing.T) {
	n := NewNetwork()
	tox, err := New(n, engine.Options{})
	require.NoError(t, err)

	other, err := GenerateKeyPair()
	require.NoError(t, err)

	err = tox.Bootstrap("10.0.0.1", 1, engine.PublicKey(other.Public).String())
	assert.ErrorIs(t, err, engine.ErrBootstrapFailed)

	tox.Iterate()
	assert.False(t, tox.IsConnected())
}

func TestNewRejectsIncompleteProxy(t *testing.T) {
	_, err := New(NewNetwork(), engine.Options{Proxy: engine.ProxyOptions{Type: engine.ProxyTypeSOCKS5}})
	assert.Error(t, err)
}

func TestFriendRequestFlow(t *testing.T) {
	n := NewNetwork()
	boot, err := n.AddBootstrapNode(testBootstrapHost, testBootstrapPort)
	require.NoError(t, err)
	a := newBootstrappedNode(t, n, boot)
	b := newBootstrappedNode(t, n, boot)

	var gotKey engine.PublicKey
	var gotMessage string
	b.OnFriendRequest(func(pk engine.PublicKey, msg string) {
		gotKey = pk
		gotMessage = msg
	})

	aFriend, err := a.AddFriend(b.SelfAddress().String(), "hello there")
	require.NoError(t, err)

	iterateUntil(t, func() bool { return gotMessage != "" }, a, b)
	assert.Equal(t, a.SelfPublicKey(), gotKey)
	assert.Equal(t, "hello there", gotMessage)

	bFriend, err := b.AddFriendNoRequest(gotKey)
	require.NoError(t, err)

	var connected []uint32
	a.OnConnectionStatus(func(id uint32, status engine.ConnectionStatus) {
		if status != engine.ConnectionNone {
			connected = append(connected, id)
		}
	})
	iterateUntil(t, func() bool {
		s, _ := b.FriendConnectionStatus(bFriend)
		return len(connected) == 1 && s != engine.ConnectionNone
	}, a, b)
	assert.Equal(t, []uint32{aFriend}, connected)
}

func TestAddFriendErrors(t *testing.T) {
	n := NewNetwork()
	a, err := New(n, engine.Options{})
	require.NoError(t, err)
	b, err := New(n, engine.Options{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		address string
		want    error
	}{
		{name: "malformed", address: "not-an-address", want: engine.ErrInvalidAddress},
		{name: "own_address", address: a.SelfAddress().String(), want: engine.ErrOwnKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.AddFriend(tt.address, "hi")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = a.AddFriend(b.SelfAddress().String(), "hi")
	require.NoError(t, err)
	_, err = a.AddFriend(b.SelfAddress().String(), "hi")
	assert.ErrorIs(t, err, engine.ErrFriendExists)
	assert.Len(t, a.FriendList(), 1)
}

func TestStaleNospamRequestDropped(t *testing.T) {
	n := NewNetwork()
	boot, err := n.AddBootstrapNode(testBootstrapHost, testBootstrapPort)
	require.NoError(t, err)
	a := newBootstrappedNode(t, n, boot)
	b := newBootstrappedNode(t, n, boot)

	requests := 0
	b.OnFriendRequest(func(engine.PublicKey, string) { requests++ })

	addr := b.SelfAddress()
	addr.Nospam[0] ^= 0xFF
	_, err = a.AddFriend(engine.NewAddress(addr.PublicKey, addr.Nospam).String(), "hi")
	require.NoError(t, err)

	iterate(10, a, b)
	assert.Zero(t, requests)
}

func TestMessageAndProfile(t *testing.T) {
	a, b, aFriend, bFriend := connectedPair(t)

	var messages []string
	b.OnFriendMessage(func(id uint32, msg []byte) {
		assert.Equal(t, bFriend, id)
		messages = append(messages, string(msg))
	})
	var names []string
	b.OnNameChange(func(id uint32, name string) { names = append(names, name) })
	var statuses []engine.UserStatus
	b.OnUserStatus(func(id uint32, s engine.UserStatus) { statuses = append(statuses, s) })

	require.NoError(t, a.SendMessage(aFriend, []byte("one")))
	require.NoError(t, a.SendMessage(aFriend, []byte("two")))
	require.NoError(t, a.SetName("alice"))
	require.NoError(t, a.SetUserStatus(engine.UserStatusAway))
	iterate(2, a, b)

	assert.Equal(t, []string{"one", "two"}, messages)
	assert.Equal(t, []string{"alice"}, names)
	assert.Equal(t, []engine.UserStatus{engine.UserStatusAway}, statuses)

	name, err := b.FriendName(bFriend)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	assert.Error(t, a.SendMessage(aFriend, nil))
	assert.ErrorIs(t, a.SendMessage(99, []byte("x")), engine.ErrFriendNotFound)
}

func TestDisconnectReportsAndDropsState(t *testing.T) {
	a, b, aFriend, bFriend := connectedPair(t)

	var offered uint32
	b.OnFileSendRequest(func(_, fileID uint32, _ uint64, _ string) { offered = fileID })
	fileID, err := a.NewFileSender(aFriend, 100, "notes.txt")
	require.NoError(t, err)
	iterate(1, a, b)
	assert.Equal(t, fileID, offered)

	var killed []engine.FileDirection
	b.OnFileControl(func(_ uint32, dir engine.FileDirection, _ uint32, c engine.FileControl, _ []byte) {
		if c == engine.FileControlKill {
			killed = append(killed, dir)
		}
	})
	var down bool
	b.OnConnectionStatus(func(id uint32, s engine.ConnectionStatus) {
		down = id == bFriend && s == engine.ConnectionNone
	})

	a.SetOffline(true)
	iterate(2, a, b)

	assert.True(t, down)
	assert.Equal(t, []engine.FileDirection{engine.FileReceiving}, killed)
	assert.Zero(t, b.FileDataRemaining(bFriend, fileID, engine.FileReceiving))
	assert.ErrorIs(t, a.SendMessage(aFriend, []byte("x")), engine.ErrFriendOffline)

	a.SetOffline(false)
	iterateUntil(t, func() bool {
		s, _ := b.FriendConnectionStatus(bFriend)
		return s != engine.ConnectionNone
	}, a, b)
}

func TestFileTransferFlow(t *testing.T) {
	a, b, aFriend, bFriend := connectedPair(t)

	var received []byte
	var controls []engine.FileControl
	var offerName string
	var offerSize uint64
	b.OnFileSendRequest(func(_, _ uint32, size uint64, name string) {
		offerName, offerSize = name, size
	})
	b.OnFileData(func(_, _ uint32, data []byte) { received = append(received, data...) })
	b.OnFileControl(func(_ uint32, dir engine.FileDirection, _ uint32, c engine.FileControl, _ []byte) {
		assert.Equal(t, engine.FileReceiving, dir)
		controls = append(controls, c)
	})
	var accepted bool
	a.OnFileControl(func(_ uint32, dir engine.FileDirection, _ uint32, c engine.FileControl, _ []byte) {
		accepted = dir == engine.FileSending && c == engine.FileControlAccept
	})

	fileID, err := a.NewFileSender(aFriend, 10, "data.bin")
	require.NoError(t, err)
	iterate(1, a, b)
	assert.Equal(t, "data.bin", offerName)
	assert.Equal(t, uint64(10), offerSize)

	assert.ErrorIs(t, a.FileSendData(aFriend, fileID, []byte("01234")), engine.ErrFileNotTransferring)

	require.NoError(t, b.FileSendControl(bFriend, engine.FileReceiving, fileID, engine.FileControlAccept))
	iterate(1, a, b)
	require.True(t, accepted)

	require.NoError(t, a.FileSendData(aFriend, fileID, []byte("01234")))
	require.NoError(t, a.FileSendData(aFriend, fileID, []byte("56789")))
	assert.Error(t, a.FileSendData(aFriend, fileID, []byte("x")), "data beyond the announced size")
	assert.Zero(t, a.FileDataRemaining(aFriend, fileID, engine.FileSending))

	require.NoError(t, a.FileSendControl(aFriend, engine.FileSending, fileID, engine.FileControlFinished))
	iterate(1, a, b)

	assert.Equal(t, "0123456789", string(received))
	assert.Equal(t, []engine.FileControl{engine.FileControlFinished}, controls)
	assert.ErrorIs(t, b.FileSendControl(bFriend, engine.FileReceiving, fileID, engine.FileControlKill), engine.ErrFileNotFound)
}

func TestFileSendBackPressure(t *testing.T) {
	a, b, aFriend, bFriend := connectedPair(t)

	fileID, err := a.NewFileSender(aFriend, 1000, "big.bin")
	require.NoError(t, err)
	iterate(1, a, b)
	require.NoError(t, b.FileSendControl(bFriend, engine.FileReceiving, fileID, engine.FileControlAccept))
	iterate(1, a, b)

	t.Run("filter", func(t *testing.T) {
		a.SetFileDataFilter(func(uint32, uint32, int) bool { return false })
		defer a.SetFileDataFilter(nil)
		assert.ErrorIs(t, a.FileSendData(aFriend, fileID, []byte("x")), engine.ErrSendQueueFull)
		assert.Equal(t, uint64(1000), a.FileDataRemaining(aFriend, fileID, engine.FileSending))
	})

	t.Run("window", func(t *testing.T) {
		a.SetSendWindow(2)
		assert.NoError(t, a.FileSendData(aFriend, fileID, []byte("x")))
		assert.NoError(t, a.FileSendData(aFriend, fileID, []byte("x")))
		assert.ErrorIs(t, a.FileSendData(aFriend, fileID, []byte("x")), engine.ErrSendQueueFull)
		a.Iterate()
		assert.NoError(t, a.FileSendData(aFriend, fileID, []byte("x")))
	})

	t.Run("paused_by_receiver", func(t *testing.T) {
		require.NoError(t, b.FileSendControl(bFriend, engine.FileReceiving, fileID, engine.FileControlPause))
		iterate(1, a, b)
		assert.ErrorIs(t, a.FileSendData(aFriend, fileID, []byte("x")), engine.ErrFileNotTransferring)
		require.NoError(t, b.FileSendControl(bFriend, engine.FileReceiving, fileID, engine.FileControlAccept))
		iterate(1, a, b)
		assert.NoError(t, a.FileSendData(aFriend, fileID, []byte("x")))
	})
}

func TestGroupChatFlow(t *testing.T) {
	a, b, aFriend, bFriend := connectedPair(t)
	require.NoError(t, a.SetName("alice"))
	require.NoError(t, b.SetName("bob"))

	var inviteKey engine.GroupKey
	var inviteFrom uint32
	b.OnGroupInvite(func(friendID uint32, key engine.GroupKey) {
		inviteFrom, inviteKey = friendID, key
	})
	var changes []engine.GroupChange
	a.OnGroupNamelistChange(func(_ uint32, _ int, c engine.GroupChange) { changes = append(changes, c) })
	var groupMessages []string
	a.OnGroupMessage(func(_ uint32, peer int, msg []byte) {
		assert.Equal(t, 1, peer)
		groupMessages = append(groupMessages, string(msg))
	})

	groupID, err := a.AddGroupChat()
	require.NoError(t, err)
	key, err := a.GroupKey(groupID)
	require.NoError(t, err)

	require.NoError(t, a.InviteFriend(aFriend, groupID))
	iterate(1, a, b)
	assert.Equal(t, bFriend, inviteFrom)
	assert.Equal(t, key, inviteKey)

	bGroup, err := b.JoinGroupChat(bFriend, inviteKey)
	require.NoError(t, err)
	again, err := b.JoinGroupChat(bFriend, inviteKey)
	require.NoError(t, err)
	assert.Equal(t, bGroup, again)

	require.NoError(t, b.GroupMessageSend(bGroup, []byte("hi all")))
	iterate(1, a, b)

	assert.Equal(t, []engine.GroupChange{engine.GroupPeerAdded}, changes)
	assert.Equal(t, []string{"hi all"}, groupMessages)

	count, err := a.GroupPeerCount(groupID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	name, err := a.GroupPeerName(groupID, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", name)

	require.NoError(t, b.DeleteGroupChat(bGroup))
	iterate(1, a, b)
	count, err = a.GroupPeerCount(groupID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, err = b.GroupPeerCount(bGroup)
	assert.ErrorIs(t, err, engine.ErrGroupNotFound)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		passphrase string
	}{
		{name: "plain", passphrase: ""},
		{name: "encrypted", passphrase: "correct horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name, "profile.tox")
			src, err := New(NewNetwork(), engine.Options{SavePassphrase: tt.passphrase})
			require.NoError(t, err)
			require.NoError(t, src.SetName("alice"))
			require.NoError(t, src.SetStatusMessage("around"))
			friendKey, err := GenerateKeyPair()
			require.NoError(t, err)
			friendID, err := src.AddFriendNoRequest(friendKey.Public)
			require.NoError(t, err)
			require.NoError(t, src.Save(path))

			dst, err := New(NewNetwork(), engine.Options{SavePassphrase: tt.passphrase})
			require.NoError(t, err)
			require.NoError(t, dst.Load(path))

			assert.Equal(t, src.SelfAddress(), dst.SelfAddress())
			assert.Equal(t, "alice", dst.SelfName())
			assert.Equal(t, "around", dst.SelfStatusMessage())
			assert.Equal(t, []uint32{friendID}, dst.FriendList())
			pk, err := dst.FriendPublicKey(friendID)
			require.NoError(t, err)
			assert.Equal(t, engine.PublicKey(friendKey.Public), pk)
		})
	}
}

func TestLoadEncryptedNeedsPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.tox")
	src, err := New(NewNetwork(), engine.Options{SavePassphrase: "secret"})
	require.NoError(t, err)
	require.NoError(t, src.Save(path))

	plain, err := New(NewNetwork(), engine.Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, plain.Load(path), ErrPassphraseRequired)

	wrong, err := New(NewNetwork(), engine.Options{SavePassphrase: "guess"})
	require.NoError(t, err)
	assert.ErrorIs(t, wrong.Load(path), ErrSaveCorrupt)
}

func TestKilledNodeRejectsCommands(t *testing.T) {
	tox, err := New(NewNetwork(), engine.Options{})
	require.NoError(t, err)
	tox.Kill()
	tox.Kill()

	_, err = tox.AddGroupChat()
	assert.ErrorIs(t, err, engine.ErrKilled)
	assert.ErrorIs(t, tox.Save(filepath.Join(t.TempDir(), "x")), engine.ErrKilled)
	assert.ErrorIs(t, tox.Bootstrap(testBootstrapHost, testBootstrapPort, ""), engine.ErrKilled)
}

func TestIterationIntervalFollowsActivity(t *testing.T) {
	a, b, aFriend, _ := connectedPair(t)
	assert.Equal(t, IdleIterationInterval, a.IterationInterval())

	_, err := a.NewFileSender(aFriend, 1, "x")
	require.NoError(t, err)
	assert.Equal(t, ActiveIterationInterval, a.IterationInterval())
	iterate(1, a, b)
	assert.Equal(t, ActiveIterationInterval, b.IterationInterval())
}

func TestMessageSizeLimits(t *testing.T) {
	a, _, aFriend, _ := connectedPair(t)
	groupID, err := a.AddGroupChat()
	require.NoError(t, err)

	tests := []struct {
		name    string
		send    func([]byte) error
		size    int
		wantErr error
	}{
		{"friend_at_limit", func(m []byte) error { return a.SendMessage(aFriend, m) }, limits.MaxPlaintextMessage, nil},
		{"friend_over_limit", func(m []byte) error { return a.SendMessage(aFriend, m) }, limits.MaxPlaintextMessage + 1, limits.ErrMessageTooLarge},
		{"friend_empty", func(m []byte) error { return a.SendMessage(aFriend, m) }, 0, limits.ErrMessageEmpty},
		{"group_at_limit", func(m []byte) error { return a.GroupMessageSend(groupID, m) }, limits.MaxPlaintextMessage, nil},
		{"group_over_limit", func(m []byte) error { return a.GroupMessageSend(groupID, m) }, limits.MaxPlaintextMessage + 1, limits.ErrMessageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.send(make([]byte, tt.size))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSealedPayloadOverhead(t *testing.T) {
	var key engine.GroupKey
	key[0] = 7
	p := &groupPayload{Text: []byte("hello")}
	nonce, body, err := sealGroup(key, p)
	require.NoError(t, err)

	got, err := openGroup(key, nonce, body)
	require.NoError(t, err)
	assert.Equal(t, p.Text, got.Text)

	_, err = openGroup(key, nonce, body[:limits.EncryptionOverhead-1])
	assert.Error(t, err)

	sender, err := GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)
	nonce, sealed, err := sealRequest([]byte("hi"), recipient.Public, sender)
	require.NoError(t, err)
	assert.Len(t, sealed, 2+limits.EncryptionOverhead)
	plain, err := openRequest(sealed, nonce, sender.Public, recipient)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), plain)
	_, err = openRequest(sealed[:3], nonce, sender.Public, recipient)
	assert.Error(t, err)
}
