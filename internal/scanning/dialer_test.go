package scanning

import (
	"context"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// dialFunc adapts a function to the Dialer interface.
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f dialFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

func connectErr(errno syscall.Errno) error {
	return &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: os.NewSyscallError("connect", errno),
	}
}

// refusingDialer fails every dial like a closed port does.
var refusingDialer = dialFunc(func(_ context.Context, _, _ string) (net.Conn, error) {
	return nil, connectErr(syscall.ECONNREFUSED)
})

// acceptingDialer succeeds with an in-memory connection.
var acceptingDialer = dialFunc(func(_ context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
})

// blockingDialer waits until its context ends, like an unanswered SYN.
var blockingDialer = dialFunc(func(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, &net.OpError{Op: "dial", Net: "tcp", Err: ctx.Err()}
})

// trackingDialer records how many dials run at once. Ports listed in open
// succeed, all others are refused.
type trackingDialer struct {
	delay time.Duration
	open  map[string]bool

	calls    atomic.Int64
	inFlight atomic.Int64
	mu       sync.Mutex
	peak     int64
	started  chan struct{}
}

func newTrackingDialer(delay time.Duration, openAddrs ...string) *trackingDialer {
	d := &trackingDialer{
		delay:   delay,
		open:    make(map[string]bool),
		started: make(chan struct{}, 1024),
	}
	for _, a := range openAddrs {
		d.open[a] = true
	}
	return d
}

func (d *trackingDialer) DialContext(ctx context.Context, _, address string) (net.Conn, error) {
	d.calls.Add(1)
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	d.mu.Lock()
	if n > d.peak {
		d.peak = n
	}
	d.mu.Unlock()

	select {
	case d.started <- struct{}{}:
	default:
	}

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: ctx.Err()}
		}
	}

	if d.open[address] {
		return acceptingDialer(ctx, "tcp", address)
	}
	return nil, connectErr(syscall.ECONNREFUSED)
}

func (d *trackingDialer) Peak() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.peak)
}
