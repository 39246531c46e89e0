package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/engine/enginetest"
	"github.com/opd-ai/toxclient/file"
	"github.com/opd-ai/toxclient/group"
	"github.com/opd-ai/toxclient/limits"
	"github.com/opd-ai/toxclient/session"
)

type testAPI struct {
	t   *testing.T
	s   *session.Session
	eng *enginetest.Engine
	av  *enginetest.AV
	srv *Server
}

func newTestAPI(t *testing.T, deps Dependencies) *testAPI {
	t.Helper()
	eng := enginetest.NewEngine()
	fav := enginetest.NewAV()
	s, err := session.New(func(engine.Options) (engine.Engine, engine.AV, error) {
		return eng, fav, nil
	}, session.Options{})
	require.NoError(t, err)

	deps.Session = s
	if deps.DownloadDir == "" {
		deps.DownloadDir = t.TempDir()
	}
	srv := NewServer(deps)
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return &testAPI{t: t, s: s, eng: eng, av: fav, srv: srv}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	a.srv.Router.ServeHTTP(rec, req)
	return rec
}

// fire runs f inside a tick, where a real engine delivers callbacks.
func (a *testAPI) fire(f func()) {
	a.eng.OnIterate = f
	a.s.Tick()
	a.eng.OnIterate = nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t, Dependencies{Version: "1.2.3"})

	rec := a.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, false, body["connected"])
}

func TestMetricsMount(t *testing.T) {
	a := newTestAPI(t, Dependencies{Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "toxclient_connected 0\n")
	})})
	rec := a.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "toxclient_connected")

	bare := newTestAPI(t, Dependencies{})
	assert.Equal(t, http.StatusNotFound, bare.do(http.MethodGet, "/metrics", nil).Code)
}

func TestSelfEndpoints(t *testing.T) {
	a := newTestAPI(t, Dependencies{})

	rec := a.do(http.MethodPut, "/v1/self/name", textRequest{Text: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	self := decode[identityView](t, rec)
	assert.Equal(t, "alice", self.Name)
	assert.Equal(t, a.eng.Address.String(), self.Address)

	rec = a.do(http.MethodPut, "/v1/self/status-message", textRequest{Text: "around"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "around", decode[identityView](t, rec).StatusMessage)

	rec = a.do(http.MethodPut, "/v1/self/status", textRequest{Text: "busy"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "busy", decode[identityView](t, rec).Chosen)

	for _, bad := range []string{"sideways", "offline"} {
		rec = a.do(http.MethodPut, "/v1/self/status", textRequest{Text: bad})
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec = a.do(http.MethodGet, "/v1/self", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[identityView](t, rec).Name)
}

func TestDecodeRejectsMalformedBodies(t *testing.T) {
	a := newTestAPI(t, Dependencies{})
	tests := []struct {
		name string
		body string
	}{
		{"unknown_field", `{"text":"a","extra":1}`},
		{"two_values", `{"text":"a"}{"text":"b"}`},
		{"not_json", `name=a`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodPut, "/v1/self/name", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request", decode[errorResponse](t, rec).Error)
		})
	}
}

func TestFriendEndpoints(t *testing.T) {
	a := newTestAPI(t, Dependencies{})
	addr := engine.NewAddress(enginetest.TestKey(9), engine.Nospam{1, 2, 3, 4}).String()

	rec := a.do(http.MethodPost, "/v1/friends", friendRequest{Address: addr, Message: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 0, decode[map[string]any](t, rec)["id"])
	require.Len(t, a.eng.Requests, 1)
	assert.Equal(t, "hello", a.eng.Requests[0].Message)

	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/v1/friends", friendRequest{Address: addr}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/friends", friendRequest{Address: "zz"}).Code)
	own := a.eng.Address.String()
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/friends", friendRequest{Address: own}).Code)

	rec = a.do(http.MethodGet, "/v1/friends", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	friends := decode[[]friendView](t, rec)
	require.Len(t, friends, 1)
	assert.Equal(t, enginetest.TestKey(9).String(), friends[0].PublicKey)
	assert.Equal(t, "none", friends[0].Connection)

	rec = a.do(http.MethodPost, "/v1/friends/0/messages", textRequest{Text: "hi"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, a.eng.Messages, 1)
	assert.Equal(t, "hi", a.eng.Messages[0].Text)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/friends/0/messages", textRequest{}).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/v1/friends/5/messages", textRequest{Text: "x"}).Code)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/friends/7", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/v1/friends/abc", nil).Code)

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/v1/friends/0", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/friends/0", nil).Code)
}

func TestAcceptFriendRequest(t *testing.T) {
	a := newTestAPI(t, Dependencies{})
	pk := enginetest.TestKey(3)

	rec := a.do(http.MethodPost, "/v1/friends/accept", acceptFriendRequest{PublicKey: pk.String()})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, a.eng.Friends, 1)
	assert.Empty(t, a.eng.Requests, "accepting does not send a request")

	rec = a.do(http.MethodPost, "/v1/friends/accept", acceptFriendRequest{PublicKey: "nothex"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupEndpoints(t *testing.T) {
	a := newTestAPI(t, Dependencies{})

	rec := a.do(http.MethodPost, "/v1/groups", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := fmt.Sprint(decode[map[string]any](t, rec)["id"])

	rec = a.do(http.MethodGet, "/v1/groups/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	g := decode[groupView](t, rec)
	assert.Len(t, g.Key, 64)

	rec = a.do(http.MethodPost, "/v1/groups/"+id+"/messages", textRequest{Text: "all"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, a.eng.GroupMessages, 1)

	rec = a.do(http.MethodGet, "/v1/groups", nil)
	assert.Len(t, decode[[]groupView](t, rec), 1)

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/v1/groups/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/groups/"+id, nil).Code)
}

func TestGroupInviteEndpoints(t *testing.T) {
	a := newTestAPI(t, Dependencies{})
	friend := a.eng.AddTestFriend(enginetest.TestKey(4), "bob")
	key := engine.GroupKey{0xAA, 0xBB}
	a.fire(func() { a.eng.FireGroupInvite(friend, key) })

	rec := a.do(http.MethodGet, "/v1/group-invites", nil)
	invites := decode[[]inviteView](t, rec)
	require.Len(t, invites, 1)
	assert.Equal(t, key.String(), invites[0].Key)

	bad := inviteRequest{Friend: friend, Key: "short"}
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/group-invites/accept", bad).Code)

	rec = a.do(http.MethodPost, "/v1/group-invites/accept", inviteRequest{Friend: friend, Key: key.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Empty(t, a.s.Groups().Invites())

	rec = a.do(http.MethodPost, "/v1/group-invites/accept", inviteRequest{Friend: friend, Key: key.String()})
	assert.Equal(t, http.StatusConflict, rec.Code)

	other := engine.GroupKey{0x01}
	a.fire(func() { a.eng.FireGroupInvite(friend, other) })
	rec = a.do(http.MethodPost, "/v1/group-invites/decline", inviteRequest{Key: other.String()})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, a.s.Groups().Invites())
}

func TestIncomingTransferEndpoints(t *testing.T) {
	a := newTestAPI(t, Dependencies{})
	friend := a.eng.AddTestFriend(enginetest.TestKey(5), "carol")
	a.fire(func() { a.eng.FireFileRequest(friend, 0, 5, "../notes.txt") })

	rec := a.do(http.MethodGet, "/v1/transfers", nil)
	transfers := decode[[]transferView](t, rec)
	require.Len(t, transfers, 1)
	id := transfers[0].ID
	assert.Equal(t, "0-receiving-0", id)
	assert.Equal(t, "notes.txt", transfers[0].FileName)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/v1/transfers/nope/accept", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/v1/transfers/0-receiving-9/accept", nil).Code)

	dir := filepath.Join(t.TempDir(), "in")
	rec = a.do(http.MethodPost, "/v1/transfers/"+id+"/accept", acceptFileRequest{Dir: dir})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)

	rec = a.do(http.MethodGet, "/v1/transfers/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, file.StatusTransit.String(), decode[transferView](t, rec).Status)

	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/v1/transfers/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/transfers/"+id, nil).Code)
}

func TestAcceptTransferUsesDownloadDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	a := newTestAPI(t, Dependencies{DownloadDir: dir})
	friend := a.eng.AddTestFriend(enginetest.TestKey(6), "dave")
	a.fire(func() { a.eng.FireFileRequest(friend, 2, 1, "a.bin") })

	rec := a.do(http.MethodPost, "/v1/transfers/0-receiving-2/accept", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := os.Stat(filepath.Join(dir, "a.bin"))
	assert.NoError(t, err)
}

func TestSendFileEndpoint(t *testing.T) {
	a := newTestAPI(t, Dependencies{})
	friend := a.eng.AddTestFriend(enginetest.TestKey(7), "erin")
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o600))

	rec := a.do(http.MethodPost, fmt.Sprintf("/v1/friends/%d/files", friend), sendFileRequest{Path: path})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[map[string]any](t, rec)["id"].(string)
	parsed, err := file.ParseID(id)
	require.NoError(t, err)
	assert.Equal(t, engine.FileSending, parsed.Direction)

	rec = a.do(http.MethodPost, fmt.Sprintf("/v1/friends/%d/files", friend), sendFileRequest{Path: t.TempDir()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(http.MethodPost, fmt.Sprintf("/v1/friends/%d/files", friend), sendFileRequest{Path: path + ".missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallEndpoints(t *testing.T) {
	a := newTestAPI(t, Dependencies{})
	friend := a.eng.AddTestFriend(enginetest.TestKey(8), "frank")

	rec := a.do(http.MethodPost, fmt.Sprintf("/v1/friends/%d/calls", friend), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := fmt.Sprint(decode[map[string]any](t, rec)["id"])

	rec = a.do(http.MethodGet, "/v1/calls", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = a.do(http.MethodGet, "/v1/calls/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ringing", decode[map[string]any](t, rec)["state"])

	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/v1/calls/"+id+"/hangup", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/calls/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/v1/calls/"+id+"/answer", nil).Code)
}

func TestSetAudioInputEndpoint(t *testing.T) {
	a := newTestAPI(t, Dependencies{})
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPut, "/v1/audio/input", deviceRequest{Device: "no-such-mic"}).Code)
}

func TestSaveWithoutProfile(t *testing.T) {
	a := newTestAPI(t, Dependencies{})
	rec := a.do(http.MethodPost, "/v1/save", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, Dependencies{RateLimit: rate.Every(time.Hour), Burst: 1})

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/self", nil).Code)
	rec := a.do(http.MethodGet, "/v1/self", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode[errorResponse](t, rec).Error)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/healthz", nil).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad_request", errBadRequest, http.StatusBadRequest},
		{"message_too_large", fmt.Errorf("send: %w", limits.ErrMessageTooLarge), http.StatusBadRequest},
		{"friend_missing", engine.ErrFriendNotFound, http.StatusNotFound},
		{"transfer_missing", file.ErrTransferNotFound, http.StatusNotFound},
		{"already_joined", group.ErrAlreadyJoined, http.StatusConflict},
		{"save_disabled", session.ErrSaveDisabled, http.StatusConflict},
		{"queue_full", engine.ErrSendQueueFull, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := statusFor(tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}
