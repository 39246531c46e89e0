package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/toxclient/av"
	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/file"
	"github.com/opd-ai/toxclient/group"
	"github.com/opd-ai/toxclient/messaging"
	"github.com/opd-ai/toxclient/session"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestStatsSinks(t *testing.T) {
	c := New()
	c.FileBytesSent(1000)
	c.FileBytesSent(24)
	c.FileBytesReceived(7)
	c.AudioFrameSent()
	c.AudioFrameSent()
	c.AudioFrameDropped()
	c.ObserveTick(3 * time.Millisecond)

	out := scrape(t, c)
	for _, line := range []string{
		`toxclient_file_bytes_total{direction="sent"} 1024`,
		`toxclient_file_bytes_total{direction="received"} 7`,
		`toxclient_av_audio_frames_total{result="sent"} 2`,
		`toxclient_av_audio_frames_total{result="dropped"} 1`,
		`toxclient_tick_duration_seconds_count 1`,
	} {
		assert.Contains(t, out, line)
	}
}

func TestHandleEvent(t *testing.T) {
	c := New()
	active := av.Info{ID: 1, State: av.StateActive}

	c.HandleEvent(session.ConnectionChanged{Connected: true})
	c.HandleEvent(messaging.MessageSent{Friend: 0, Text: "hi", Chunk: 1, Chunks: 1})
	c.HandleEvent(messaging.MessageReceived{Friend: 0, Text: "yo"})
	c.HandleEvent(group.GroupMessageReceived{ID: 3, Text: "all"})
	c.HandleEvent(group.RosterAvailable{ID: 3, PeerCount: 4})
	c.HandleEvent(file.TransferStatusChanged{Transfer: file.Snapshot{Status: file.StatusTransit}})
	c.HandleEvent(file.TransferStatusChanged{Transfer: file.Snapshot{Status: file.StatusFinished}})
	c.HandleEvent(av.CallActive{Call: active})
	c.HandleEvent(av.CallActive{Call: av.Info{ID: 2, State: av.StateActive}})
	c.HandleEvent(av.CallStopped{Call: active, Reason: engine.CallEnd})
	c.HandleEvent(av.CallStopped{Call: av.Info{ID: 3, State: av.StateRinging}, Reason: engine.CallReject})

	out := scrape(t, c)
	for _, line := range []string{
		`toxclient_connected 1`,
		`toxclient_messages_total{direction="sent",kind="friend"} 1`,
		`toxclient_messages_total{direction="received",kind="friend"} 1`,
		`toxclient_messages_total{direction="received",kind="group"} 1`,
		`toxclient_group_peers{group="3"} 4`,
		`toxclient_file_transfers_completed_total{status="finished"} 1`,
		`toxclient_av_active_calls 1`,
		`toxclient_av_calls_stopped_total{reason="end"} 1`,
		`toxclient_av_calls_stopped_total{reason="reject"} 1`,
		`toxclient_events_total{event="call_active"} 2`,
		`toxclient_events_total{event="transfer_status_changed"} 2`,
	} {
		assert.Contains(t, out, line)
	}
	assert.NotContains(t, out, `status="transit"`)

	c.HandleEvent(group.GroupLeft{ID: 3})
	c.HandleEvent(session.ConnectionChanged{Connected: false})
	out = scrape(t, c)
	assert.NotContains(t, out, `toxclient_group_peers{group="3"}`)
	assert.Contains(t, out, "toxclient_connected 0")
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveTick(time.Second)
		c.FileBytesSent(1)
		c.FileBytesReceived(1)
		c.AudioFrameSent()
		c.AudioFrameDropped()
		c.HandleEvent(session.ConnectionChanged{Connected: true})
	})
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.AudioFrameSent()

	assert.True(t, strings.Contains(scrape(t, a), `toxclient_av_audio_frames_total{result="sent"} 1`))
	assert.NotContains(t, scrape(t, b), `toxclient_av_audio_frames_total{result="sent"}`)
}
