// Package socket implements a datagram server bound to a Unix domain socket.
//
// Unix datagram sockets (AF_UNIX / SOCK_DGRAM) behave like UDP without routing,
// which makes them a cheap channel between processes on the same host. The socket
// must be bound to a filesystem path; a dangling socket file from a crashed server
// is unlinked before binding again.
package socket

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	BasePath  = "/tmp"
	BaseDir   = "unx_ss"
	BaseIdent = "server"

	DefaultTimeout = 10 * time.Second
	DefaultBufSize = 1024
)

var (
	ErrNotBound       = errors.New("socket is not bound")
	ErrAlreadyBound   = errors.New("socket is already bound")
	ErrAlreadyServing = errors.New("server is already serving")
)

// Request is a single datagram read from the socket.
type Request struct {
	Data []byte
	Addr net.Addr
}

// Handler receives the datagrams read by the server.
type Handler interface {
	// HandleRequest processes one datagram. Errors are logged and do not stop the server.
	HandleRequest(ctx context.Context, req Request) error
	// RequestHook runs after every read attempt, including timeouts.
	RequestHook(ctx context.Context)
}

// Options configures a Server.
type Options struct {
	// Path is the socket address. When empty a path is generated on Bind.
	Path    string
	Timeout time.Duration
	BufSize int
}

// Server reads datagrams from a Unix socket and hands them to a Handler.
type Server struct {
	handler Handler
	log     *zerolog.Logger

	timeout time.Duration
	bufSize int

	mu      sync.Mutex
	path    string
	conn    *net.UnixConn
	serving bool
	quit    chan struct{}
	done    chan struct{}

	quitOnce  sync.Once
	closeOnce sync.Once
}

// NewServer creates an unbound server. Call Bind before Serve.
func NewServer(handler Handler, opts Options, log *zerolog.Logger) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BufSize <= 0 {
		opts.BufSize = DefaultBufSize
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	return &Server{
		handler: handler,
		log:     log,
		timeout: opts.Timeout,
		bufSize: opts.BufSize,
		path:    opts.Path,
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Path returns the socket's local address.
func (s *Server) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Server) Timeout() time.Duration { return s.timeout }

func (s *Server) BufSize() int { return s.bufSize }

// Bind binds the socket to its configured path, or to a generated one under
// /tmp/unx_ss/ when none was configured. An existing file at the path is removed first.
func (s *Server) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return ErrAlreadyBound
	}

	if s.path == "" {
		path, err := GeneratePath()
		if err != nil {
			return err
		}
		s.path = path
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("failed to unlink stale socket %s: %w", s.path, err)
		}
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: s.path, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("failed to bind socket %s: %w", s.path, err)
	}
	s.conn = conn

	s.log.Debug().Str("path", s.path).Msg("socket bound")
	return nil
}

// Serve reads datagrams until Shutdown is called or ctx is cancelled. Each
// iteration waits at most the read timeout, so the request hook runs at least
// that often even when no client is sending.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotBound
	}
	if s.serving {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.serving = true
	s.mu.Unlock()

	defer close(s.done)

	// Unblock the read when the context ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, s.bufSize)
	for {
		if s.stopping(ctx) {
			return ctx.Err()
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			if s.stopping(ctx) {
				return ctx.Err()
			}
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, addr, err := conn.ReadFromUnix(buf)
		switch {
		case err == nil:
			data := make([]byte, n)
			copy(data, buf[:n])

			if err := s.handler.HandleRequest(ctx, Request{Data: data, Addr: addr}); err != nil {
				s.log.Warn().Err(err).Msg("Invalid Message")
			}
		case isTimeout(err):
		case s.stopping(ctx):
			return ctx.Err()
		default:
			return fmt.Errorf("failed to read from socket: %w", err)
		}

		if s.stopping(ctx) {
			return ctx.Err()
		}
		s.handler.RequestHook(ctx)
	}
}

// Shutdown stops Serve, closes the socket and removes the socket file, then
// blocks until Serve has returned or ctx expires. Must not be called from the
// goroutine running Serve.
func (s *Server) Shutdown(ctx context.Context) error {
	s.quitOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	serving := s.serving
	s.mu.Unlock()

	// Closing the socket unblocks a pending read.
	err := s.Close()

	if serving {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}

// Close releases the socket and unlinks its file without waiting for Serve.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn, path := s.conn, s.path
		s.mu.Unlock()

		if conn != nil {
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = fmt.Errorf("failed to close socket: %w", cerr)
			}
			if rerr := s.cleanup(path); rerr != nil && err == nil {
				err = rerr
			}
		}
		s.log.Debug().Str("path", path).Msg("socket closed")
	})
	return err
}

func (s *Server) cleanup(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket file %s: %w", path, err)
	}
	return nil
}

func (s *Server) stopping(ctx context.Context) bool {
	select {
	case <-s.quit:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// GeneratePath returns /tmp/unx_ss/server.<token>, creating the directory if needed.
func GeneratePath() (string, error) {
	dir := filepath.Join(BasePath, BaseDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create socket directory %s: %w", dir, err)
	}

	token := make([]byte, 6)
	if _, err := rand.Read(token); err != nil {
		return "", fmt.Errorf("failed to generate socket name: %w", err)
	}

	return filepath.Join(dir, BaseIdent+"."+base64.RawURLEncoding.EncodeToString(token)), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
