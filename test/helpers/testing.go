// Package helpers provides common testing utilities for the portprobe project.
// It includes helpers for loopback listeners, free ports and test contexts.
package helpers

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/phayes/freeport"
)

const (
	pollInterval       = 50 * time.Millisecond
	defaultTestTimeout = 30 * time.Second
	loopbackHost       = "127.0.0.1"
)

// LoopbackHost is the address test listeners bind to.
const LoopbackHost = loopbackHost

// Listener is a TCP listener on the loopback interface that accepts and
// immediately closes every connection.
type Listener struct {
	ln       net.Listener
	Port     int
	mu       sync.Mutex
	accepted int
	done     chan struct{}
}

// StartListener opens a listener on a free loopback port. It is closed
// when the test ends.
func StartListener(t testing.TB) *Listener {
	t.Helper()

	ln, err := net.Listen("tcp", net.JoinHostPort(loopbackHost, "0"))
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}

	l := &Listener{
		ln:   ln,
		Port: ln.Addr().(*net.TCPAddr).Port,
		done: make(chan struct{}),
	}
	go l.serve()

	t.Cleanup(l.Close)
	return l
}

func (l *Listener) serve() {
	defer close(l.done)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		l.mu.Lock()
		l.accepted++
		l.mu.Unlock()
		_ = conn.Close()
	}
}

// Accepted returns the number of connections accepted so far.
func (l *Listener) Accepted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepted
}

// Close stops the listener. It is safe to call more than once.
func (l *Listener) Close() {
	_ = l.ln.Close()
	<-l.done
}

// ClosedPort returns a loopback port that nothing listens on.
func ClosedPort(t testing.TB) int {
	t.Helper()

	port, err := freeport.GetFreePort()
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	return port
}

// WaitForPort waits for a port to become available or timeout
func WaitForPort(host string, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if IsPortOpen(host, port) {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fmt.Errorf("port %s:%d not available after %v", host, port, timeout)
}

// IsPortOpen checks if a port is open
func IsPortOpen(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprint(port)), time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// TestContext provides a context with reasonable timeout for tests
func TestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = defaultTestTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// SkipIfShort skips a test if running with -short flag
func SkipIfShort(t *testing.T, reason string) {
	t.Helper()
	if testing.Short() {
		t.Skipf("Skipping test in short mode: %s", reason)
	}
}
