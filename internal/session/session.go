// Package session implements the per-connection state machine: read a
// request header, read its payload, dispatch on opcode, write a response,
// and loop until the peer closes the connection or a framing error occurs.
//
// A Session owns its socket and borrows the shared user directory and
// upload assembler; it holds no lock and performs no I/O under any lock it
// doesn't itself own.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/relaycrypt/securexfer/internal/directory"
	"github.com/relaycrypt/securexfer/internal/logger"
	"github.com/relaycrypt/securexfer/internal/metrics"
	"github.com/relaycrypt/securexfer/internal/upload"
	"github.com/relaycrypt/securexfer/internal/wire"
	"github.com/relaycrypt/securexfer/pkg/bufpool"
)

// DefaultMaxPayloadSize is the sanity cap applied when a Session is built
// without an explicit one: 16 MiB, per the protocol's design notes.
const DefaultMaxPayloadSize = 16 << 20

// Session is one connection's worth of protocol state.
type Session struct {
	conn      net.Conn
	directory *directory.Directory
	assembler *upload.Assembler
	metrics   metrics.Recorder

	maxPayloadSize uint32
	idleTimeout    time.Duration
}

// Config carries the shared, process-wide collaborators a Session needs.
type Config struct {
	Directory      *directory.Directory
	Assembler      *upload.Assembler
	Metrics        metrics.Recorder
	MaxPayloadSize uint32        // 0 defaults to DefaultMaxPayloadSize
	IdleTimeout    time.Duration // 0 disables the per-read deadline
}

// New creates a Session bound to conn.
func New(conn net.Conn, cfg Config) *Session {
	max := cfg.MaxPayloadSize
	if max == 0 {
		max = DefaultMaxPayloadSize
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Default
	}
	return &Session{
		conn:           conn,
		directory:      cfg.Directory,
		assembler:      cfg.Assembler,
		metrics:        rec,
		maxPayloadSize: max,
		idleTimeout:    cfg.IdleTimeout,
	}
}

// Serve runs the read/dispatch/respond loop until the peer disconnects or a
// framing error forces the session closed. It never returns an error the
// caller must act on beyond logging; every exit path simply means "close
// the socket", which the caller (the connection acceptor) already does via
// defer.
func (s *Session) Serve() {
	addr := s.conn.RemoteAddr()
	for {
		if s.idleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				logger.Debug("session: set read deadline failed", "addr", addr, "error", err)
				return
			}
		}

		headerBuf := bufpool.Get(wire.RequestHeaderSize)
		_, err := io.ReadFull(s.conn, headerBuf)
		if err != nil {
			bufpool.Put(headerBuf)
			s.endOfStream(err)
			return
		}

		header, err := wire.DecodeRequestHeader(headerBuf)
		bufpool.Put(headerBuf)
		if err != nil {
			logger.Debug("session: malformed header, closing", "addr", addr, "error", err)
			s.metrics.MalformedFrame()
			return
		}
		s.metrics.Request(header.Code.String())

		if header.PayloadSize > s.maxPayloadSize {
			logger.Warn("session: payload exceeds sanity limit, closing",
				"addr", addr, "declared", header.PayloadSize, "max", s.maxPayloadSize)
			s.metrics.MalformedFrame()
			s.sendGeneralFailure(header)
			return
		}

		payload, err := s.readPayload(header.PayloadSize)
		if err != nil {
			s.endOfStream(err)
			return
		}

		if err := s.dispatch(header, payload); err != nil {
			logger.Debug("session: closing after dispatch error", "addr", addr, "code", header.Code, "error", err)
			return
		}
	}
}

func (s *Session) readPayload(size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf := bufpool.Get(int(size))
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		bufpool.Put(buf)
		return nil, err
	}
	return buf, nil
}

func (s *Session) endOfStream(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.metrics.ConnectionClosed("eof")
		return
	}
	logger.Debug("session: read error, closing", "addr", s.conn.RemoteAddr(), "error", err)
	s.metrics.ConnectionClosed("read-error")
}

// dispatch routes one fully-read request to its handler. A non-nil error
// means the session must close without further responses (framing-level
// failure); application-level failures are instead communicated by writing
// a failure response and returning nil.
func (s *Session) dispatch(header *wire.RequestHeader, payload []byte) error {
	switch header.Code {
	case wire.Register:
		return s.handleRegister(header, payload)
	case wire.PublicKeySubmission:
		return s.handlePublicKeySubmission(header, payload)
	case wire.Reconnection:
		return s.handleReconnection(header, payload)
	case wire.FileUpload:
		return s.handleFileUpload(header, payload)
	case wire.CRCConfirmation, wire.CRCFailure:
		return s.handleCRCAcknowledge(header, payload)
	case wire.Retry:
		return s.handleRetry(header, payload)
	default:
		// Unreachable: DecodeRequestHeader already rejects unknown codes.
		return fmt.Errorf("session: unhandled opcode %d", header.Code)
	}
}

func (s *Session) writeResponse(header *wire.ResponseHeader, payload []byte) error {
	buf := make([]byte, 0, wire.ResponseHeaderSize+len(payload))
	buf = append(buf, header.Encode()...)
	buf = append(buf, payload...)
	_, err := s.conn.Write(buf)
	return err
}

func (s *Session) sendGeneralFailure(req *wire.RequestHeader) {
	h := wire.NewResponseHeader(req, wire.GeneralFailure, 0)
	if err := s.writeResponse(h, nil); err != nil {
		logger.Debug("session: failed writing GENERAL_FAILURE", "addr", s.conn.RemoteAddr(), "error", err)
	}
}
