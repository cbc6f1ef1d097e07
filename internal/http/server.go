package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"subtrack/internal/auth"
	"subtrack/internal/backend"
	"subtrack/internal/cache"
	"subtrack/internal/log"
	"subtrack/internal/metrics"
	"subtrack/internal/middleware/ratelimit"
	"subtrack/internal/middleware/security"
	"subtrack/internal/middleware/trace"
	"subtrack/internal/services"
	"subtrack/internal/storage"
)

const (
	defaultMaxSessions    = 1000
	defaultListMaxAge     = time.Minute
	cacheCleanupInterval  = 10 * time.Minute
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
	defaultReadyzTimeout  = 5 * time.Second
	maxRequestBodyBytes   = 1 << 20
	defaultHeaderMaxBytes = 1 << 16
)

// Deps are the collaborators the API serves.
type Deps struct {
	Subscriptions *services.SubscriptionService
	Auth          *auth.Service
	// Store is pinged by /readyz when it implements storage.Pinger.
	Store        storage.SubscriptionStore
	Availability backend.Availability
	// Metrics mounts /metrics when set.
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// Server is the JSON API over net/http.
type Server struct {
	http.Server

	subs         *services.SubscriptionService
	auth         *auth.Service
	lists        *services.SessionLists
	pinger       storage.Pinger
	availability backend.Availability
	metrics      *metrics.Metrics
	logger       *log.Logger

	detector     *security.Detector
	limiter      *ratelimit.Limiter
	cacheManager *cache.Manager

	maxSessions int
	listMaxAge  time.Duration

	now     func() time.Time
	started time.Time

	stopWatch    func()
	watchDone    chan struct{}
	shutdownOnce sync.Once
}

type Option func(*Server)

// WithClock replaces the time source used for upcoming and overview windows.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func WithRateLimit(cfg ratelimit.Config) Option {
	return func(s *Server) {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		s.limiter = ratelimit.NewLimiter(cfg)
	}
}

// WithTrustedProxies lets forwarding headers from these CIDRs decide the
// client address.
func WithTrustedProxies(cidrs ...string) Option {
	return func(s *Server) {
		for _, cidr := range cidrs {
			if err := s.detector.AddTrustedProxy(cidr); err != nil {
				s.logger.Warn("Ignoring invalid trusted proxy", "cidr", cidr, "error", err)
			}
		}
	}
}

func WithMaxSessions(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithListMaxAge bounds how long a session serves its subscription list
// without re-reading the store. Zero disables the bound.
func WithListMaxAge(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.listMaxAge = d
		}
	}
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps, opts ...Option) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadTimeout:       defaultReadTimeout,
			ReadHeaderTimeout: defaultReadTimeout,
			WriteTimeout:      defaultWriteTimeout,
			IdleTimeout:       defaultIdleTimeout,
			MaxHeaderBytes:    defaultHeaderMaxBytes,
		},
		subs:         deps.Subscriptions,
		auth:         deps.Auth,
		availability: deps.Availability,
		metrics:      deps.Metrics,
		logger:       logger.WithComponent(log.ComponentHTTP),
		detector:     security.NewDetector(),
		limiter:      ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		cacheManager: cache.NewManager(),
		maxSessions:  defaultMaxSessions,
		listMaxAge:   defaultListMaxAge,
		now:          time.Now,
		started:      time.Now(),
		watchDone:    make(chan struct{}),
	}
	if p, ok := deps.Store.(storage.Pinger); ok {
		s.pinger = p
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lists = services.NewSessionLists(s.subs, s.maxSessions, s.auth.SessionTTL(),
		services.WithMaxAge(s.listMaxAge), services.WithListClock(s.now))

	s.cacheManager.Register(s.lists.Cache())
	s.cacheManager.StartCleanup(cacheCleanupInterval)

	sessions, stop := s.auth.Sessions().Subscribe()
	s.stopWatch = stop
	go s.watchSessions(sessions)

	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("POST /auth/signup", s.handleSignUp)
	mux.HandleFunc("POST /auth/signin", s.handleSignIn)
	mux.HandleFunc("POST /auth/signout", s.handleSignOut)

	mux.HandleFunc("GET /subscriptions", s.authenticated(s.handleListSubscriptions))
	mux.HandleFunc("POST /subscriptions", s.authenticated(s.handleCreateSubscription))
	mux.HandleFunc("GET /subscriptions/upcoming", s.authenticated(s.handleUpcoming))
	mux.HandleFunc("PATCH /subscriptions/{id}", s.authenticated(s.handleUpdateSubscription))
	mux.HandleFunc("DELETE /subscriptions/{id}", s.authenticated(s.handleDeleteSubscription))

	mux.HandleFunc("GET /overview", s.authenticated(s.handleOverview))
	mux.HandleFunc("GET /preferences", s.authenticated(s.handleGetPreferences))
	mux.HandleFunc("PUT /preferences", s.authenticated(s.handleUpdatePreferences))

	var h http.Handler = mux
	h = s.limiter.Middleware(s.detector.ExtractClientIP, s.rateLimited, http.MethodGet, http.MethodHead, http.MethodOptions)(h)
	h = s.detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = trace.NewMiddleware(s.logger, s.detector.ExtractClientIP, s.recorder()).Middleware(h)
	return h
}

func (s *Server) recorder() metrics.Recorder {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}

// watchSessions drops a session's cached list once it signs out.
func (s *Server) watchSessions(sessions <-chan auth.AuthSession) {
	defer close(s.watchDone)
	for session := range sessions {
		if session.State == auth.SessionSignedOut {
			s.lists.Forget(session.SessionID)
		}
	}
}

// Sessions exposes the per-session subscription lists.
func (s *Server) Sessions() *services.SessionLists {
	return s.lists
}

// Shutdown stops background routines and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.stopWatch()
		s.cacheManager.Stop()
		s.limiter.Stop()

		shutdownErr = s.Server.Shutdown(ctx)

		select {
		case <-s.watchDone:
		case <-ctx.Done():
		}
	})

	return shutdownErr
}
