package server

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrypt/securexfer/internal/directory"
	"github.com/relaycrypt/securexfer/internal/upload"
	"github.com/relaycrypt/securexfer/internal/wire"
)

func waitForAddr(t *testing.T, s *Server) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := s.Addr(); addr != "" {
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never bound a listener")
	return ""
}

func TestServer_AcceptsAndServesRegister(t *testing.T) {
	s := New(Config{
		Host:      "127.0.0.1",
		Port:      0,
		Directory: directory.New(),
		Assembler: upload.New(t.TempDir()),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	addr := waitForAddr(t, s)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	zeroID := strings.Repeat("0", 32)
	reqPayload := (&wire.RegisterPayload{UserName: "alice"}).Encode()
	h := &wire.RequestHeader{ClientID: zeroID, Version: 1, Code: wire.Register, PayloadSize: uint32(len(reqPayload))}
	buf, err := h.Encode()
	require.NoError(t, err)
	_, err = conn.Write(buf)
	require.NoError(t, err)
	_, err = conn.Write(reqPayload)
	require.NoError(t, err)

	respHeader := make([]byte, wire.ResponseHeaderSize)
	_, err = readFull(conn, respHeader)
	require.NoError(t, err)

	rh, err := wire.DecodeResponseHeader(respHeader)
	require.NoError(t, err)
	assert.Equal(t, wire.RegisterSuccess, rh.Code)

	// Serve waits for live sessions, so end this one before cancelling.
	require.NoError(t, conn.Close())
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_WritesPortFile(t *testing.T) {
	portFile := filepath.Join(t.TempDir(), "port")
	s := New(Config{
		Host:      "127.0.0.1",
		Port:      0,
		PortFile:  portFile,
		Directory: directory.New(),
		Assembler: upload.New(t.TempDir()),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	waitForAddr(t, s)
	assert.FileExists(t, portFile)

	cancel()
	<-done
}

func TestServer_StopIsIdempotent(t *testing.T) {
	s := New(Config{
		Host:      "127.0.0.1",
		Port:      0,
		Directory: directory.New(),
		Assembler: upload.New(t.TempDir()),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	waitForAddr(t, s)

	s.Stop()
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
