package ipc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func socketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "m.sock")
}

func TestFrame(t *testing.T) {
	token := "nxm://stardewvalley/mods/1234/files/5678?key=abc"

	frame, err := EncodeFrame(token)
	require.NoError(t, err)
	assert.Len(t, frame, FrameSize)
	assert.Equal(t, byte(0), frame[0], "frame is left padded")
	assert.True(t, strings.HasSuffix(string(frame), token))
	assert.Equal(t, token, DecodeFrame(frame))

	// Right padding decodes the same way.
	right := make([]byte, FrameSize)
	copy(right, token)
	assert.Equal(t, token, DecodeFrame(right))

	full := strings.Repeat("a", FrameSize)
	frame, err = EncodeFrame(full)
	require.NoError(t, err)
	assert.Equal(t, full, DecodeFrame(frame))

	_, err = EncodeFrame(full + "a")
	assert.True(t, errors.Is(err, ErrTokenTooLarge))
}

func TestSendAndServe(t *testing.T) {
	addr := socketPath(t)
	l, err := Listen(addr, testLogger())
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []string
	)
	received := make(chan struct{}, 3)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- l.Serve(ctx, func(ctx context.Context, token string) {
			mu.Lock()
			got = append(got, token)
			mu.Unlock()
			received <- struct{}{}
		})
	}()

	tokens := []string{"nxm://a/mods/1/files/2", "nxm://a/mods/3/files/4", "modsync://activate/5"}
	for _, tok := range tokens {
		require.NoError(t, Send(addr, tok))
	}
	for range tokens {
		select {
		case <-received:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for token")
		}
	}

	cancel()
	require.NoError(t, <-served)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, tokens, got)

	_, statErr := os.Stat(addr)
	assert.True(t, os.IsNotExist(statErr), "socket file removed on shutdown")
}

func TestListen_InstanceRunning(t *testing.T) {
	addr := socketPath(t)
	first, err := Listen(addr, testLogger())
	require.NoError(t, err)
	defer first.Close()

	go func() {
		_ = first.Serve(context.Background(), func(context.Context, string) {})
	}()

	_, err = Listen(addr, testLogger())
	assert.True(t, errors.Is(err, ErrInstanceRunning), "error = %v", err)
	assert.True(t, Running(addr))
}

func TestListen_StaleSocket(t *testing.T) {
	addr := socketPath(t)
	stale, err := net.Listen("unix", addr)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())

	_, err = os.Stat(addr)
	require.NoError(t, err, "stale socket file should exist")
	assert.False(t, Running(addr))

	l, err := Listen(addr, testLogger())
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}

func TestSend_NoInstance(t *testing.T) {
	err := Send(socketPath(t), "nxm://a/b")
	assert.True(t, errors.Is(err, ErrNoInstance), "error = %v", err)
}

func TestServe_DropsShortFrame(t *testing.T) {
	addr := socketPath(t)
	l, err := Listen(addr, testLogger())
	require.NoError(t, err)

	calls := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = l.Serve(ctx, func(_ context.Context, token string) { calls <- token })
	}()

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte("short"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.NoError(t, Send(addr, "nxm://a/mods/1"))
	select {
	case tok := <-calls:
		assert.Equal(t, "nxm://a/mods/1", tok)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for token")
	}
}

func TestServe_ShutdownWithSilentClient(t *testing.T) {
	addr := socketPath(t)
	l, err := Listen(addr, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- l.Serve(ctx, func(context.Context, string) {})
	}()

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("nxm://partial"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return while a client held a connection open")
	}
}

func TestNextDelay(t *testing.T) {
	var got []time.Duration
	d := time.Duration(0)
	for i := 0; i < 10; i++ {
		d = nextDelay(d)
		got = append(got, d)
	}
	assert.Equal(t, minAcceptDelay, got[0])
	assert.Equal(t, 10*time.Millisecond, got[1])
	assert.Equal(t, 640*time.Millisecond, got[7])
	assert.Equal(t, maxAcceptDelay, got[8])
	assert.Equal(t, maxAcceptDelay, got[9])
}
