package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/module"
	"github.com/opd-ai/toxclient/session"
)

const (
	clientBuffer = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts non-browser clients, which send no Origin, and pages
// served from the API's own host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// hub fans session events out to websocket clients. Publishing never
// blocks the caller: a client whose buffer is full is disconnected.
type hub struct {
	session     *session.Session
	mu          sync.Mutex
	clients     map[*client]struct{}
	unsubscribe func()
	closed      bool
	log         *logrus.Entry
}

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

func newHub(s *session.Session) *hub {
	h := &hub{
		session: s,
		clients: make(map[*client]struct{}),
		log:     logrus.WithField("component", "api.events"),
	}
	h.unsubscribe = s.Subscribe(h.publish)
	return h
}

func encodeEvent(kind string, data any) ([]byte, error) {
	return json.Marshal(eventEnvelope{Type: kind, Data: data})
}

func (h *hub) publish(ev module.Event) {
	msg, err := encodeEvent(ev.EventName(), eventPayload(ev))
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"function": "publish",
			"event":    ev.EventName(),
			"error":    err.Error(),
		}).Warn("Failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.WithFields(logrus.Fields{
				"function": "publish",
				"remote":   c.remote,
			}).Warn("Event client too slow, disconnecting")
			delete(h.clients, c)
			c.stop()
		}
	}
}

func (h *hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	h.unsubscribe()
	for c := range clients {
		c.stop()
	}
}

// serveWS upgrades the request and streams events until either side
// closes. The first message is a "hello" carrying the local identity.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"function": "serveWS",
			"error":    err.Error(),
		}).Debug("Websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, clientBuffer),
		done:   make(chan struct{}),
	}
	if hello, err := encodeEvent("hello", newIdentityView(h.session.Presence().Self())); err == nil {
		c.send <- hello
	}
	if !h.add(c) {
		conn.Close()
		return
	}
	h.log.WithField("remote", c.remote).Info("Event client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump discards client messages and exists to process control frames
// and notice disconnects.
func (h *hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		h.log.WithField("remote", c.remote).Info("Event client disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
