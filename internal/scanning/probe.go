package scanning

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ProbeOption configures a ConnectProbe.
type ProbeOption func(*ConnectProbe)

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) ProbeOption {
	return func(p *ConnectProbe) {
		p.dialer = d
	}
}

// WithSocketBudget makes every probe hold a budget slot while dialing.
func WithSocketBudget(b *SocketBudget) ProbeOption {
	return func(p *ConnectProbe) {
		p.budget = b
	}
}

// WithProbeLogger sets the logger used for per-probe debug output.
func WithProbeLogger(l *logging.Logger) ProbeOption {
	return func(p *ConnectProbe) {
		p.logger = l
	}
}

// WithProbeMetrics sets the metrics sink.
func WithProbeMetrics(m *metrics.PrometheusMetrics) ProbeOption {
	return func(p *ConnectProbe) {
		p.metrics = m
	}
}

// ConnectProbe performs single, time-bounded TCP connect attempts.
type ConnectProbe struct {
	timeout time.Duration
	dialer  Dialer
	budget  *SocketBudget
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
}

// NewConnectProbe creates a probe whose attempts give up after timeout.
func NewConnectProbe(timeout time.Duration, opts ...ProbeOption) *ConnectProbe {
	p := &ConnectProbe{
		timeout: timeout,
		dialer:  &net.Dialer{},
		logger:  logging.Default(),
		metrics: metrics.GetGlobalMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe makes exactly one connection attempt to target and classifies the
// outcome. Failures of the attempt itself are reported in the result. An
// error is returned only when ctx ends before the attempt could complete;
// the target then has no result and counts as not scanned.
func (p *ConnectProbe) Probe(ctx context.Context, target ScanTarget) (result ProbeResult, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ProbeResult{}, errors.ErrScanCanceled(target.String(), ctxErr)
	}
	if acqErr := p.budget.Acquire(ctx); acqErr != nil {
		return ProbeResult{}, errors.ErrScanCanceled(target.String(), acqErr)
	}
	defer p.budget.Release()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = NewProbeResult(target, StateError, fmt.Sprintf("probe panic: %v", r))
			err = nil
		}
		if err == nil {
			elapsed := time.Since(start)
			p.metrics.RecordProbe(string(result.State), elapsed)
			p.logger.DebugProbe("Probe finished", target.Host, target.Port,
				"state", result.State,
				"reason", result.Reason,
				"duration", elapsed)
		}
	}()

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, dialErr := p.dialer.DialContext(dialCtx, "tcp", target.Address())
	if dialErr == nil {
		if conn != nil {
			_ = conn.Close()
		}
		return NewProbeResult(target, StateOpen, ReasonConnect), nil
	}

	// The caller gave up, not our own deadline.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ProbeResult{}, errors.ErrScanCanceled(target.String(), ctxErr)
	}

	state, reason := classify(dialErr)
	return NewProbeResult(target, state, reason), nil
}

// classify maps a failed dial onto a state and reason.
//
// A non-zero errno from connect(2) means the peer or a router answered, so
// the port is Closed with the code kept verbatim. The one exception is
// ENETUNREACH, which the local stack reports without any answer and is
// treated as a transport fault.
func classify(err error) (ProbeState, string) {
	var sysErr *os.SyscallError
	var errno syscall.Errno
	if stderrors.As(err, &sysErr) && sysErr.Syscall == "connect" && stderrors.As(sysErr.Err, &errno) &&
		errno != 0 && !errno.Timeout() && errno != syscall.ENETUNREACH {
		return StateClosed, fmt.Sprintf("code_%d", int(errno))
	}

	var netErr net.Error
	if (stderrors.As(err, &netErr) && netErr.Timeout()) || stderrors.Is(err, context.DeadlineExceeded) {
		return StateError, "timeout: " + err.Error()
	}

	return StateError, err.Error()
}
