package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/toxclient/session"
)

const maxBodyBytes = 64 << 10

// Dependencies are the collaborators a Server is built from. Session is
// required; everything else is optional.
type Dependencies struct {
	Session *session.Session
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// DownloadDir is where accepted files land unless a request names a
	// directory.
	DownloadDir string
	Version     string
	// RateLimit bounds /v1 requests per second. Zero disables limiting.
	RateLimit rate.Limit
	Burst     int
}

// Server is the HTTP control surface of a session.
type Server struct {
	session     *session.Session
	metrics     http.Handler
	downloadDir string
	version     string
	limiter     *rate.Limiter
	hub         *hub
	log         *logrus.Entry
	Router      http.Handler
}

// NewServer builds the router and subscribes the event hub to the session.
// Call Close to unsubscribe.
func NewServer(deps Dependencies) *Server {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	downloadDir := deps.DownloadDir
	if downloadDir == "" {
		downloadDir = "."
	}

	s := &Server{
		session:     deps.Session,
		metrics:     deps.Metrics,
		downloadDir: downloadDir,
		version:     version,
		log:         logrus.WithField("component", "api"),
	}
	if deps.RateLimit > 0 {
		burst := deps.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(deps.RateLimit, burst)
	}
	s.hub = newHub(deps.Session)
	s.Router = s.routes()
	return s
}

// Close disconnects every event client and stops listening to the session.
func (s *Server) Close() {
	s.hub.close()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)

		// The event stream outlives any request timeout.
		r.Get("/events", s.hub.serveWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(15 * time.Second))

			r.Get("/self", s.handleGetSelf)
			r.Put("/self/name", s.handleSetName)
			r.Put("/self/status-message", s.handleSetStatusMessage)
			r.Put("/self/status", s.handleSetStatus)
			r.Post("/save", s.handleSave)

			r.Get("/friends", s.handleListFriends)
			r.Post("/friends", s.handleAddFriend)
			r.Post("/friends/accept", s.handleAcceptFriend)
			r.Route("/friends/{friend}", func(r chi.Router) {
				r.Get("/", s.handleGetFriend)
				r.Delete("/", s.handleRemoveFriend)
				r.Post("/messages", s.handleSendMessage)
				r.Post("/files", s.handleSendFile)
				r.Post("/calls", s.handleStartCall)
			})

			r.Get("/groups", s.handleListGroups)
			r.Post("/groups", s.handleCreateGroup)
			r.Route("/groups/{group}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Delete("/", s.handleLeaveGroup)
				r.Post("/messages", s.handleSendGroupMessage)
				r.Post("/invites", s.handleInviteFriend)
			})
			r.Get("/group-invites", s.handleListInvites)
			r.Post("/group-invites/accept", s.handleAcceptInvite)
			r.Post("/group-invites/decline", s.handleDeclineInvite)

			r.Get("/transfers", s.handleListTransfers)
			r.Route("/transfers/{transfer}", func(r chi.Router) {
				r.Get("/", s.handleGetTransfer)
				r.Delete("/", s.handleKillTransfer)
				r.Post("/accept", s.handleAcceptTransfer)
				r.Post("/pause", s.handlePauseTransfer)
				r.Post("/resume", s.handleResumeTransfer)
			})

			r.Get("/calls", s.handleListCalls)
			r.Route("/calls/{call}", func(r chi.Router) {
				r.Get("/", s.handleGetCall)
				r.Post("/answer", s.handleAnswerCall)
				r.Post("/reject", s.handleRejectCall)
				r.Post("/hangup", s.handleHangupCall)
				r.Put("/video", s.handleChangeCallType)
			})
			r.Put("/audio/input", s.handleSetAudioInput)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		entry := s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
