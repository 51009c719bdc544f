package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/logging"
	"github.com/gkobilansky/riff/internal/metrics"
	"github.com/gkobilansky/riff/internal/store"
)

type Options struct {
	Port      int
	Token     string // Generated when empty
	TokenFile string // Where the active token is written for `riff token`
	RateLimit int    // Event requests per minute per client IP, 0 disables
	Store     *store.SQLiteStore
}

type Server struct {
	engine    *experiment.Engine
	store     *store.SQLiteStore
	port      int
	token     string
	tokenFile string
	rateLimit int
	router    chi.Router
	log       zerolog.Logger
	startTime time.Time
}

func New(engine *experiment.Engine, opts Options) *Server {
	token := opts.Token
	if token == "" {
		token = generateToken()
	}

	srv := &Server{
		engine:    engine,
		store:     opts.Store,
		port:      opts.Port,
		token:     token,
		tokenFile: opts.TokenFile,
		rateLimit: opts.RateLimit,
		router:    chi.NewRouter(),
		log:       logging.Component("server"),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/tests", s.handleListTests)
		r.With(s.requireToken).Post("/tests", s.handleCreateTest)

		r.Route("/tests/{id}", func(r chi.Router) {
			r.Get("/results", s.handleResults)
			r.With(s.requireToken).Post("/stop", s.handleStopTest)
			r.Post("/assign", s.handleAssign)
			r.With(s.eventLimiter()).Post("/events", s.handleTrack)
		})

		r.Get("/subjects/{id}/config", s.handleSubjectConfig)
	})
}

// eventLimiter throttles the event endpoint per client IP.
func (s *Server) eventLimiter() func(http.Handler) http.Handler {
	if s.rateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(s.rateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

// instrument counts requests by route pattern so IDs don't explode label cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		s.log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.log.Warn().Err(err).Str("path", s.tokenFile).Msg("failed to write token file")
		}
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.port).Msg("riff listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(bytes)
}
