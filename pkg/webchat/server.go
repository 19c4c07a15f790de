package webchat

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/ruminate/pkg/eventbus"
	"github.com/go-go-golems/ruminate/pkg/reasoning"
	"github.com/go-go-golems/ruminate/pkg/redisstream"
)

// Settings configures the HTTP surface.
type Settings struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	IdleTimeout     time.Duration `mapstructure:"idle-timeout" yaml:"idle-timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout" yaml:"shutdown-timeout"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:            ":8080",
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// RunLister serves the run ledger at /api/runs.
type RunLister interface {
	List(ctx context.Context, limit int) ([]reasoning.RunRecord, error)
}

type ServerOption func(*Server)

func WithRunLister(l RunLister) ServerOption {
	return func(s *Server) { s.runs = l }
}

func WithUpgrader(u websocket.Upgrader) ServerOption {
	return func(s *Server) { s.upgrader = u }
}

// Server owns the HTTP surface, the event consumer feeding websockets and the
// lifecycle of both.
type Server struct {
	settings Settings
	svc      *reasoning.Service
	sink     reasoning.Sink
	hub      *Hub
	consumer *eventbus.Consumer
	runs     RunLister
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(s Settings, svc *reasoning.Service, ps *redisstream.PubSub, opts ...ServerOption) (*Server, error) {
	if svc == nil {
		return nil, errors.New("webchat server needs a reasoning service")
	}
	if ps == nil {
		return nil, errors.New("webchat server needs a pub/sub")
	}
	def := DefaultSettings()
	if strings.TrimSpace(s.Addr) == "" {
		s.Addr = def.Addr
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = def.ShutdownTimeout
	}

	sink, err := eventbus.NewWatermillSink(ps.Publisher, ps.Topic)
	if err != nil {
		return nil, err
	}
	hub := NewHub(s.IdleTimeout)
	srv := &Server{
		settings: s,
		svc:      svc,
		sink:     sink,
		hub:      hub,
		consumer: eventbus.NewConsumer(ps.Subscriber, ps.Topic, hub.HandleEvent),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.httpSrv = &http.Server{
		Addr:              s.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) HTTPServer() *http.Server { return s.httpSrv }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/think", s.handleThink)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/runs/active", s.handleActive)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	return mux
}

// Run serves until ctx is done or the process receives SIGINT/SIGTERM. On the way out
// it stops accepting requests, waits for in-flight runs and closes websockets.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	consumed, err := s.consumer.Start(srvCtx)
	if err != nil {
		return err
	}

	eg := errgroup.Group{}
	eg.Go(func() error {
		log.Info().Str("addr", s.settings.Addr).Msg("starting ruminate server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCancel()
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		return s.shutdown(context.WithoutCancel(ctx), srvCancel, consumed)
	})

	return eg.Wait()
}

func (s *Server) shutdown(base context.Context, stopConsumer context.CancelFunc, consumed <-chan struct{}) error {
	shutdownCtx, cancel := context.WithTimeout(base, s.settings.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
		firstErr = err
	}

	runsDone := make(chan struct{})
	go func() {
		s.svc.Wait()
		close(runsDone)
	}()
	select {
	case <-runsDone:
	case <-shutdownCtx.Done():
		log.Warn().Strs("active", s.svc.Guard().Active()).Msg("runs still in flight at shutdown")
	}

	stopConsumer()
	<-consumed
	s.hub.CloseAll()
	log.Info().Msg("server shutdown complete")
	return firstErr
}
