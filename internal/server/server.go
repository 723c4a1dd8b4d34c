// Package server implements the connection acceptor: bind a TCP listener,
// spawn one goroutine per accepted connection running a session.Session,
// and shut down gracefully when asked.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/relaycrypt/securexfer/internal/directory"
	"github.com/relaycrypt/securexfer/internal/logger"
	"github.com/relaycrypt/securexfer/internal/metrics"
	"github.com/relaycrypt/securexfer/internal/session"
	"github.com/relaycrypt/securexfer/internal/upload"
)

// Config holds everything the server needs to bind and serve connections.
type Config struct {
	// Host and Port together form the listen address. Port 0 lets the
	// kernel pick an ephemeral port, useful in tests.
	Host string
	Port int

	// PortFile, if non-empty, receives the bound port number as decimal
	// text once the listener is up -- the reference client's discovery
	// mechanism.
	PortFile string

	Directory      *directory.Directory
	Assembler      *upload.Assembler
	Metrics        metrics.Recorder
	MaxPayloadSize uint32
	IdleTimeout    time.Duration
}

// Server accepts connections and dispatches each to its own session.
type Server struct {
	cfg Config

	listener     net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a Server. Call Serve to bind and start accepting.
func New(cfg Config) *Server {
	return &Server{cfg: cfg, shutdown: make(chan struct{})}
}

// Serve binds the listener and accepts connections until ctx is cancelled
// or Stop is called. It blocks until every in-flight session has returned.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln

	if s.cfg.PortFile != "" {
		if err := s.writePortFile(); err != nil {
			_ = ln.Close()
			return err
		}
	}

	logger.Info("server: listening", "addr", ln.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.acceptLoop()
	s.wg.Wait()
	return nil
}

func (s *Server) writePortFile() error {
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return fmt.Errorf("server: determine bound port: %w", err)
	}
	if err := os.WriteFile(s.cfg.PortFile, []byte(portStr), 0o644); err != nil {
		return fmt.Errorf("server: write port file %s: %w", s.cfg.PortFile, err)
	}
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("server: accept error", "error", err)
				return
			}
		}

		s.recorder().ConnectionAccepted()
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { _ = c.Close() }()
			sess := session.New(c, session.Config{
				Directory:      s.cfg.Directory,
				Assembler:      s.cfg.Assembler,
				Metrics:        s.cfg.Metrics,
				MaxPayloadSize: s.cfg.MaxPayloadSize,
				IdleTimeout:    s.cfg.IdleTimeout,
			})
			sess.Serve()
		}(conn)
	}
}

func (s *Server) recorder() metrics.Recorder {
	if s.cfg.Metrics != nil {
		return s.cfg.Metrics
	}
	return metrics.Default
}

// Stop closes the listener and signals every running session's acceptor
// goroutine to return. It does not forcibly close in-flight connections;
// Serve returns once they drain on their own.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}

// Addr returns the bound listener address, or "" before Serve binds it.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
