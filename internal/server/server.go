// Package server is the reference sync server: it stores one word list per
// user, merges every client's snapshot into it and announces changes on a
// websocket feed.
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/wordsync/internal/core/config"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/storage"
	"github.com/zeusync/wordsync/internal/core/sync/metrics"
)

// Server represents a wordsync sync server
type Server struct {
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener

	users *userStores
	feed  *feedHub

	// Server state
	running int32 // atomic bool
	closed  int32 // atomic bool

	config Config
	logger log.Log
	opener StoreOpener
}

// Config holds server configuration
type Config struct {
	// Network settings
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// Request settings
	MaxBodyBytes int64

	// Feed settings
	MaxFeedConnections int
	PingInterval       time.Duration

	Storage storage.Options

	LogLevel log.Level
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:         "127.0.0.1:8080",
		ReadHeaderTimeout:  10 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		MaxBodyBytes:       8 << 20, // 8MB
		MaxFeedConnections: 10_000,
		PingInterval:       30 * time.Second,
		Storage:            storage.Options{Driver: storage.DriverMemory},
		LogLevel:           log.LevelInfo,
	}
}

// ConfigFrom overlays the server section of an application config on the
// defaults.
func ConfigFrom(cfg *config.Config) Config {
	out := DefaultServerConfig()
	if cfg.Server.ListenAddr != "" {
		out.ListenAddr = cfg.Server.ListenAddr
	}
	out.Storage = cfg.Server.Storage
	out.LogLevel = log.ParseLevel(cfg.Log.Level)
	return out
}

type Option func(*Server)

func WithLogger(logger log.Log) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreOpener replaces the opener derived from Config.Storage.
func WithStoreOpener(open StoreOpener) Option {
	return func(s *Server) {
		s.opener = open
	}
}

// NewServer creates a new sync server
func NewServer(config Config, opts ...Option) (*Server, error) {
	s := &Server{config: config}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(config.LogLevel)
	}
	s.logger = s.logger.With(log.String("component", "server"))

	if s.opener == nil {
		opener, err := NewStoreOpener(config.Storage)
		if err != nil {
			return nil, err
		}
		s.opener = opener
	}

	s.users = newUserStores(s.opener)
	s.feed = newFeedHub(s.logger, config.PingInterval, config.MaxFeedConnections)
	s.handler = s.routes()

	s.logger.Info("Server created",
		log.String("listen_addr", config.ListenAddr),
		log.String("storage", config.Storage.Driver))

	return s, nil
}

// Handler serves the sync, feed and health endpoints without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts listening and serving in the background.
func (s *Server) Start(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	s.logger.Info("Starting server")

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("Failed to create listener", log.Error(err))
		return errors.Wrapf(err, "listen on %s", s.config.ListenAddr)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped unexpectedly", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Addr is the bound listen address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.logger.Info("Stopping server")

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	err := s.httpServer.Shutdown(ctx)
	// hijacked feed connections are not tracked by Shutdown
	s.feed.closeAll()

	s.logger.Info("Server stopped")
	return err
}

// Close stops the server if needed and releases every user store.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil // Already closed
	}

	s.logger.Info("Closing server")

	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop(context.Background())
	} else {
		s.feed.closeAll()
	}

	err := s.users.close()
	s.logger.Info("Server closed")
	return err
}

// Stats contains server statistics
type Stats struct {
	UserCount       int
	SubscriberCount int64
	Running         bool
	Storage         metrics.StoreMetrics
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	return Stats{
		UserCount:       s.users.count(),
		SubscriberCount: s.feed.count(),
		Running:         atomic.LoadInt32(&s.running) == 1,
		Storage:         s.users.storeMetrics(),
	}
}
