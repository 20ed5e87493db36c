// Package ipc implements the single-instance rendezvous: the primary process
// listens on a Unix domain socket and later invocations forward their token in
// one fixed-size frame.
package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// FrameSize is the exact size of every frame on the wire.
const FrameSize = 1024

const (
	dialTimeout = 2 * time.Second
	readTimeout = 5 * time.Second

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

var (
	// ErrTokenTooLarge is returned when a token does not fit in one frame.
	ErrTokenTooLarge = errors.New("token exceeds frame size")
	// ErrInstanceRunning is returned by Listen when another process owns the address.
	ErrInstanceRunning = errors.New("another instance is running")
	// ErrNoInstance is returned by Send when nothing listens on the address.
	ErrNoInstance = errors.New("no running instance")
)

// EncodeFrame left-pads the token with null bytes to FrameSize.
func EncodeFrame(token string) ([]byte, error) {
	if len(token) > FrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTokenTooLarge, len(token))
	}
	frame := make([]byte, FrameSize)
	copy(frame[FrameSize-len(token):], token)
	return frame, nil
}

// DecodeFrame strips every null byte from a frame.
func DecodeFrame(frame []byte) string {
	return string(bytes.ReplaceAll(frame, []byte{0}, nil))
}

// Handler receives each decoded token.
type Handler func(ctx context.Context, token string)

// Listener accepts forwarded tokens.
type Listener struct {
	addr string
	ln   net.Listener
	log  *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds addr. An address already in use by a live process yields
// ErrInstanceRunning; a stale socket file is removed and the bind retried once.
func Listen(addr string, log *slog.Logger) (*Listener, error) {
	ln, err := net.Listen("unix", addr)
	if err != nil {
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		if alive(addr) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceRunning, addr)
		}
		log.Warn("removing stale socket", slog.String("addr", addr))
		if rmErr := os.Remove(addr); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", addr, rmErr)
		}
		ln, err = net.Listen("unix", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	return &Listener{
		addr: addr,
		ln:   ln,
		log:  log.With(slog.String("component", "ipc")),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() string {
	return l.addr
}

// Serve accepts connections until ctx is cancelled or the listener is closed.
// Each connection is handled on its own goroutine and carries one frame.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	var delay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				return nil
			}
			delay = nextDelay(delay)
			l.log.Error("accept failed", slog.Any("error", err), slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(ctx, conn, handler)
		}()
	}
}

// nextDelay doubles the accept retry delay within [minAcceptDelay, maxAcceptDelay].
func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	return min(d*2, maxAcceptDelay)
}

func (l *Listener) handle(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	// Unblocks the read below on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		l.log.Warn("failed to set read deadline", slog.Any("error", err))
	}

	frame := make([]byte, FrameSize)
	if _, err := io.ReadFull(conn, frame); err != nil {
		var ne net.Error
		switch {
		case errors.Is(err, io.EOF):
			// Liveness check: connected and closed without writing.
		case ctx.Err() != nil:
			l.log.Debug("connection closed on shutdown")
		case errors.As(err, &ne) && ne.Timeout():
			l.log.Warn("timed out reading frame", slog.Any("error", err))
		default:
			l.log.Error("failed to read frame", slog.Any("error", err))
		}
		return
	}
	token := DecodeFrame(frame)
	if token == "" {
		l.log.Warn("received empty frame")
		return
	}
	l.log.Debug("token received", slog.Int("length", len(token)))
	handler(ctx, token)
}

// Close stops accepting and removes the socket file.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.ln.Close()
		if rmErr := os.Remove(l.addr); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	})
	return err
}

// Send forwards a token to the instance listening on addr.
func Send(addr, token string) error {
	frame, err := EncodeFrame(token)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("unix", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoInstance, err)
	}
	defer conn.Close()

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send token: %w", err)
	}
	return nil
}

// Running reports whether an instance is listening on addr.
func Running(addr string) bool {
	return alive(addr)
}

func alive(addr string) bool {
	conn, err := net.DialTimeout("unix", addr, dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
