// Package server exposes the engine over HTTP: JSON for batch operations
// and server-sent events for streamed narration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chronomap/chronomap/agent/engine"
	logx "github.com/chronomap/chronomap/pkg/logger"
)

type Config struct {
	Host            string        `split_words:"true" default:"0.0.0.0"`
	Port            int           `split_words:"true" default:"8000"`
	ReadTimeout     time.Duration `split_words:"true" default:"30s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	SweepInterval   time.Duration `split_words:"true" default:"5m"`
}

type Server struct {
	engine *engine.Engine
	cfg    Config
	mux    *http.ServeMux
	log    zerolog.Logger
}

func New(eng *engine.Engine, cfg Config) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	s := &Server{
		engine: eng,
		cfg:    cfg,
		mux:    http.NewServeMux(),
		log:    logx.Component("server"),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/events/pins", s.handleGeneratePins)
	s.mux.HandleFunc("GET /api/events/random", s.handleRandomEvent)
	s.mux.HandleFunc("GET /api/events/{event_id}/explain/stream", s.handleExplainStream)
	s.mux.HandleFunc("POST /api/events/{event_id}/chat/stream", s.handleChatStream)
	s.mux.HandleFunc("POST /api/commands/parse", s.handleParseCommand)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) Handler() http.Handler {
	return s.requestID(s.mux)
}

// requestID tags every request with an id for log correlation, honoring
// one supplied by an upstream proxy.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		s.log.Debug().Str("request_id", id).Str("method", r.Method).Str("path", r.URL.Path).Msg("incoming request")
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then drains in-flight requests. A
// background ticker sweeps expired cache entries while the server runs.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}

	go s.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) sweepLoop(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.engine.SweepExpired(); n > 0 {
				s.log.Debug().Int("evicted", n).Msg("swept expired cache entries")
			}
		}
	}
}
