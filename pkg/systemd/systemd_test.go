package systemd

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func listen(t *testing.T) *net.UnixConn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func read(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(buf[:n])
}

func TestNoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Ready()
	if sent || err != nil {
		t.Fatalf("sent=%v err=%v", sent, err)
	}
}

func TestReadyAndStatus(t *testing.T) {
	conn := listen(t)

	if sent, err := Ready(); !sent || err != nil {
		t.Fatalf("Ready: sent=%v err=%v", sent, err)
	}
	if got := read(t, conn); got != "READY=1" {
		t.Fatalf("got %q", got)
	}
	if _, err := Status("connected to lobby"); err != nil {
		t.Fatal(err)
	}
	if got := read(t, conn); got != "STATUS=connected to lobby" {
		t.Fatalf("got %q", got)
	}
}

func TestWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan error, 1)
	go func() { done <- Watchdog(context.Background(), nil) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watchdog should return when disabled")
	}
}

func TestWatchdogPings(t *testing.T) {
	conn := listen(t)
	t.Setenv("WATCHDOG_USEC", "100000")
	t.Setenv("WATCHDOG_PID", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Watchdog(ctx, func() bool { return true }) }()

	if got := read(t, conn); !strings.HasPrefix(got, "WATCHDOG=1") {
		t.Fatalf("got %q", got)
	}
}
