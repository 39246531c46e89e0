// Package metrics exposes session activity as Prometheus collectors.
//
// A Collector is wired in three places: as the session's TickObserver, as
// the Stats sink of the file and call modules, and as an event subscriber:
//
//	m := metrics.New()
//	opts.Observer, opts.File.Stats, opts.AV.Stats = m, m, m
//	s, _ := session.New(factory, opts)
//	s.Subscribe(m.HandleEvent)
//	http.Handle("/metrics", m.Handler())
//
// Every method is safe on a nil *Collector, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opd-ai/toxclient/av"
	"github.com/opd-ai/toxclient/file"
	"github.com/opd-ai/toxclient/group"
	"github.com/opd-ai/toxclient/messaging"
	"github.com/opd-ai/toxclient/module"
	"github.com/opd-ai/toxclient/session"
)

const namespace = "toxclient"

// Collector owns a private registry so that several sessions, or tests,
// never collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	ticks        prometheus.Histogram
	connected    prometheus.Gauge
	events       *prometheus.CounterVec
	messages     *prometheus.CounterVec
	fileBytes    *prometheus.CounterVec
	transfers    *prometheus.CounterVec
	activeCalls  prometheus.Gauge
	callsStopped *prometheus.CounterVec
	audioFrames  *prometheus.CounterVec
	groupPeers   *prometheus.GaugeVec
}

// New creates a Collector with every metric registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one engine iteration plus module updates.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the session is connected to the network.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Domain events delivered, by event name.",
		}, []string{"event"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "One-to-one and group message chunks, by kind and direction.",
		}, []string{"kind", "direction"}),
		fileBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "file",
			Name:      "bytes_total",
			Help:      "File payload bytes moved, by direction.",
		}, []string{"direction"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "file",
			Name:      "transfers_completed_total",
			Help:      "Transfers that reached a terminal status, by status.",
		}, []string{"status"}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "av",
			Name:      "active_calls",
			Help:      "Calls with media flowing.",
		}),
		callsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "av",
			Name:      "calls_stopped_total",
			Help:      "Calls removed, by the event that ended them.",
		}, []string{"reason"}),
		audioFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "av",
			Name:      "audio_frames_total",
			Help:      "Outgoing audio frames, by result.",
		}, []string{"result"}),
		groupPeers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "peers",
			Help:      "Peers in each joined group at the last reconciliation.",
		}, []string{"group"}),
	}

	c.registry.MustRegister(
		c.ticks, c.connected, c.events, c.messages, c.fileBytes, c.transfers,
		c.activeCalls, c.callsStopped, c.audioFrames, c.groupPeers,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveTick implements session.TickObserver.
func (c *Collector) ObserveTick(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ticks.Observe(elapsed.Seconds())
}

// FileBytesSent implements file.Stats.
func (c *Collector) FileBytesSent(n int) {
	if c == nil {
		return
	}
	c.fileBytes.WithLabelValues("sent").Add(float64(n))
}

// FileBytesReceived implements file.Stats.
func (c *Collector) FileBytesReceived(n int) {
	if c == nil {
		return
	}
	c.fileBytes.WithLabelValues("received").Add(float64(n))
}

// AudioFrameSent implements av.Stats.
func (c *Collector) AudioFrameSent() {
	if c == nil {
		return
	}
	c.audioFrames.WithLabelValues("sent").Inc()
}

// AudioFrameDropped implements av.Stats.
func (c *Collector) AudioFrameDropped() {
	if c == nil {
		return
	}
	c.audioFrames.WithLabelValues("dropped").Inc()
}

var (
	_ session.TickObserver = (*Collector)(nil)
	_ file.Stats           = (*Collector)(nil)
	_ av.Stats             = (*Collector)(nil)
)

// HandleEvent updates the event-driven metrics. Subscribe it to a session.
func (c *Collector) HandleEvent(ev module.Event) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(ev.EventName()).Inc()

	switch e := ev.(type) {
	case session.ConnectionChanged:
		if e.Connected {
			c.connected.Set(1)
		} else {
			c.connected.Set(0)
		}
	case messaging.MessageSent:
		c.messages.WithLabelValues("friend", "sent").Inc()
	case messaging.MessageReceived:
		c.messages.WithLabelValues("friend", "received").Inc()
	case group.GroupMessageSent:
		c.messages.WithLabelValues("group", "sent").Inc()
	case group.GroupMessageReceived:
		c.messages.WithLabelValues("group", "received").Inc()
	case group.RosterAvailable:
		c.groupPeers.WithLabelValues(groupLabel(e.ID)).Set(float64(e.PeerCount))
	case group.GroupLeft:
		c.groupPeers.DeleteLabelValues(groupLabel(e.ID))
	case group.GroupRemoved:
		c.groupPeers.DeleteLabelValues(groupLabel(e.ID))
	case file.TransferStatusChanged:
		if e.Transfer.Status.Terminal() {
			c.transfers.WithLabelValues(e.Transfer.Status.String()).Inc()
		}
	case av.CallActive:
		c.activeCalls.Inc()
	case av.CallStopped:
		if e.Call.State == av.StateActive {
			c.activeCalls.Dec()
		}
		c.callsStopped.WithLabelValues(e.Reason.String()).Inc()
	}
}

func groupLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
