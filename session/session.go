package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/av"
	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/file"
	"github.com/opd-ai/toxclient/group"
	"github.com/opd-ai/toxclient/messaging"
	"github.com/opd-ai/toxclient/module"
	"github.com/opd-ai/toxclient/presence"
)

var (
	// ErrEngineInit is returned by New when the engine cannot be built.
	// It is the only fatal session error.
	ErrEngineInit = errors.New("engine initialization failed")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session closed")
	// ErrNoProfilePath is returned by Save when no profile is configured.
	ErrNoProfilePath = errors.New("no profile path configured")
	// ErrSaveDisabled is returned by Save after the profile failed to load,
	// so that an unreadable profile is never overwritten.
	ErrSaveDisabled = errors.New("profile failed to load, saving disabled")
)

// minInterval keeps Run from spinning if the engine reports no interval.
const minInterval = time.Millisecond

// TickObserver sees the duration of every tick. The metrics collector
// implements it.
type TickObserver interface {
	ObserveTick(elapsed time.Duration)
}

// Options configures a session.
type Options struct {
	IPv6Enabled bool
	UDPEnabled  bool
	Proxy       engine.ProxyOptions
	// SavePassphrase seals the profile when set.
	SavePassphrase string

	Bootstrap        []BootstrapNode
	ShuffleBootstrap bool

	// ProfilePath is loaded by New when it exists and written by Save and
	// Close. Empty disables persistence.
	ProfilePath string

	File     file.Options
	AV       av.Options
	Observer TickObserver
}

func (o Options) engineOptions() engine.Options {
	return engine.Options{
		IPv6Enabled:    o.IPv6Enabled,
		UDPEnabled:     o.UDPEnabled,
		Proxy:          o.Proxy,
		SavePassphrase: o.SavePassphrase,
	}
}

// Session owns the engine, the shared lock and one instance of each module.
type Session struct {
	opts Options
	log  *logrus.Entry

	eng        engine.Engine
	av         engine.AV
	dispatcher *module.Dispatcher
	lock       *module.Lock

	presence  *presence.Presence
	messaging *messaging.Messenger
	groups    *group.Manager
	files     *file.Manager
	calls     *av.Manager
	// modules are updated every tick in this order.
	modules []module.Module

	connected    bool
	saveDisabled bool

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	closed  bool
}

// New builds the engine through factory, loads the profile if present and
// creates the modules. Only engine construction can fail.
func New(factory engine.Factory, opts Options) (*Session, error) {
	log := logrus.WithField("module", "session")
	if factory == nil {
		return nil, fmt.Errorf("%w: nil factory", ErrEngineInit)
	}
	eng, avEng, err := factory(opts.engineOptions())
	if err != nil {
		log.WithFields(logrus.Fields{
			"function": "New",
			"error":    err.Error(),
		}).Error("Cannot initialize engine")
		return nil, fmt.Errorf("%w: %w", ErrEngineInit, err)
	}

	s := &Session{
		opts:       opts,
		log:        log,
		eng:        eng,
		av:         avEng,
		dispatcher: module.NewDispatcher(),
	}
	s.lock = module.NewLock(s.dispatcher)
	s.loadProfile()

	s.presence = presence.New(eng, s.lock)
	s.messaging = messaging.New(eng, s.lock)
	s.groups = group.New(eng, s.lock)
	s.files = file.New(eng, s.lock, opts.File)
	s.calls = av.New(eng, avEng, s.lock, opts.AV)
	s.modules = []module.Module{s.presence, s.messaging, s.groups, s.files, s.calls}

	log.WithFields(logrus.Fields{
		"function":   "New",
		"public_key": eng.SelfPublicKey().Short(),
		"profile":    opts.ProfilePath,
	}).Info("Session created")
	return s, nil
}

// loadProfile imports the profile. A missing file starts a fresh identity;
// any other failure is logged and disables saving.
func (s *Session) loadProfile() {
	path := s.opts.ProfilePath
	if path == "" {
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.log.WithFields(logrus.Fields{
			"function": "loadProfile",
			"path":     path,
		}).Info("No profile yet, starting with a fresh identity")
		return
	}
	if err := s.eng.Load(path); err != nil {
		s.saveDisabled = true
		s.log.WithFields(logrus.Fields{
			"function": "loadProfile",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Unable to load profile, it will not be overwritten")
		return
	}
	s.log.WithFields(logrus.Fields{
		"function": "loadProfile",
		"path":     path,
	}).Info("Profile loaded")
}

// Presence returns the identity and roster module.
func (s *Session) Presence() *presence.Presence { return s.presence }

// Messaging returns the one-to-one messaging module.
func (s *Session) Messaging() *messaging.Messenger { return s.messaging }

// Groups returns the group chat module.
func (s *Session) Groups() *group.Manager { return s.groups }

// Files returns the file transfer module.
func (s *Session) Files() *file.Manager { return s.files }

// Calls returns the call module.
func (s *Session) Calls() *av.Manager { return s.calls }

// Subscribe registers a handler for every module event. Handlers run
// outside the session lock and may call any module API.
func (s *Session) Subscribe(h module.Handler) func() {
	return s.dispatcher.Subscribe(h)
}

// IsConnected reports the connectivity seen by the last tick.
func (s *Session) IsConnected() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.connected
}

// Tick runs one engine iteration and updates every module. It returns the
// delay before the next tick as the engine reports it after iterating.
func (s *Session) Tick() time.Duration {
	start := time.Now()
	next := s.tick()
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveTick(time.Since(start))
	}
	return next
}

func (s *Session) tick() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.eng.Iterate()
	s.checkConnectionLocked()
	for _, m := range s.modules {
		m.Update()
	}
	return s.eng.IterationInterval()
}

// checkConnectionLocked compares connectivity with the previous tick and
// reports an edge once.
func (s *Session) checkConnectionLocked() {
	connected := s.eng.IsConnected()
	if connected == s.connected {
		return
	}
	s.connected = connected

	s.log.WithFields(logrus.Fields{
		"function":  "checkConnection",
		"connected": connected,
	}).Info("Connection status changed")
	s.lock.Emit(ConnectionChanged{Connected: connected})
	s.presence.SetConnectedLocked(connected)
}

// Run ticks until ctx is done. The timer is re-armed every tick with the
// interval the engine asks for.
func (s *Session) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			next := s.Tick()
			if next < minInterval {
				next = minInterval
			}
			timer.Reset(next)
		}
	}
}

// Start bootstraps, announces the roster, starts the audio pump and runs
// the tick loop in the background. A failed bootstrap leaves the session
// running offline.
func (s *Session) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	s.lock.Lock()
	err := s.bootstrapLocked()
	s.lock.Unlock()
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "Start",
			"error":    err.Error(),
		}).Warn("Bootstrap failed, continuing offline")
	}

	s.presence.EmitRoster()
	s.calls.Start()

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	go func(done chan<- struct{}) {
		defer close(done)
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithFields(logrus.Fields{
				"function": "Start",
				"error":    err.Error(),
			}).Warn("Tick loop stopped")
		}
	}(s.done)

	s.log.WithFields(logrus.Fields{
		"function": "Start",
		"address":  s.eng.SelfAddress().String(),
	}).Info("Session started")
	return nil
}

// Save exports the profile to ProfilePath.
func (s *Session) Save() error {
	if s.opts.ProfilePath == "" {
		return ErrNoProfilePath
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.saveLocked()
}

func (s *Session) saveLocked() error {
	if s.saveDisabled {
		return ErrSaveDisabled
	}
	if err := s.eng.Save(s.opts.ProfilePath); err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "Save",
			"path":     s.opts.ProfilePath,
			"error":    err.Error(),
		}).Error("Failed to save profile")
		return fmt.Errorf("save profile: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"function": "Save",
		"path":     s.opts.ProfilePath,
	}).Debug("Profile saved")
	return nil
}

// Close stops the tick loop and the audio pump, saves the profile and
// kills the engines. Closing twice does nothing.
func (s *Session) Close() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.running {
		s.cancel()
		<-s.done
		s.running = false
	}

	s.calls.Close()
	s.files.Close()

	s.lock.Lock()
	defer s.lock.Unlock()

	var err error
	if s.opts.ProfilePath != "" && !s.saveDisabled {
		err = s.saveLocked()
	}
	s.av.Kill()
	s.eng.Kill()

	s.log.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Session closed")
	return err
}
