// Package server exposes a session over HTTP: REST controls, an MJPEG
// stream of the annotated canvas and a WebSocket status feed.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/mukha/internal/logging"
	"github.com/ayusman/mukha/internal/pipeline"
	"github.com/ayusman/mukha/internal/session"
)

// Controller is the part of a session the HTTP surface drives.
type Controller interface {
	Start() error
	Stop() error
	Snapshot() session.Snapshot
	Options() pipeline.Options
	ToggleOption(name string) (pipeline.Options, error)
	CanvasJPEG() ([]byte, error)
	Subscribe() (<-chan session.Snapshot, func())
}

// Config holds the server configuration.
type Config struct {
	Session   Controller
	StaticDir string
	// StreamInterval paces MJPEG frames. Zero means 100ms.
	StreamInterval time.Duration
	Logger         logrus.FieldLogger
}

// Server routes the HTTP API.
type Server struct {
	config Config
	log    logrus.FieldLogger
	router chi.Router
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.StreamInterval <= 0 {
		config.StreamInterval = 100 * time.Millisecond
	}
	s := &Server{
		config: config,
		log:    logging.OrDiscard(config.Logger).WithField("component", "http"),
		router: chi.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)

	if s.config.Session != nil {
		r.Get("/api/status", s.handleStatus)
		r.Post("/api/camera/start", s.handleStart)
		r.Post("/api/camera/stop", s.handleStop)
		r.Get("/api/options", s.handleOptions)
		r.Post("/api/options/{name}/toggle", s.handleToggle)
		r.Handle("/api/stream", NewStreamHandler(s.config.Session, s.config.StreamInterval))
		r.Handle("/api/events", NewEventsHandler(s.config.Session, s.log))
	}

	if s.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// requestLogger logs every request except the long-lived stream and event
// connections at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).Round(time.Microsecond),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
