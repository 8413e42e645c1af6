package scanning

import (
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/portprobe/internal/errors"
)

const (
	// Port range accepted for a ScanTarget.
	minPort = 1
	maxPort = 65535

	// ProtocolTCP is the only protocol a connect probe speaks.
	ProtocolTCP = "tcp"

	// ReasonConnect marks a completed handshake.
	ReasonConnect = "connect"
	// ReasonToolUnavailable is reported for every target when no
	// fingerprinting tool is installed.
	ReasonToolUnavailable = "fingerprinting tool unavailable"

	// Default scan settings.
	DefaultTimeout            = time.Second
	DefaultPortConcurrency    = 40
	DefaultHostConcurrency    = 10
	DefaultFingerprintWorkers = 10
)

// ScanTarget is one (host, port) pair scheduled for a single probe.
type ScanTarget struct {
	Host string
	Port int
}

// NewScanTarget builds a target, rejecting empty hosts and ports outside
// 1-65535.
func NewScanTarget(host string, port int) (ScanTarget, error) {
	if host == "" {
		return ScanTarget{}, errors.ErrInvalidTarget(net.JoinHostPort(host, strconv.Itoa(port))).
			WithContext("reason", "empty host")
	}
	if !ValidPort(port) {
		return ScanTarget{}, errors.ErrInvalidTarget(net.JoinHostPort(host, strconv.Itoa(port))).
			WithContext("reason", "port out of range")
	}
	return ScanTarget{Host: host, Port: port}, nil
}

// Address returns the host:port form used for dialing.
func (t ScanTarget) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t ScanTarget) String() string {
	return t.Address()
}

// ValidPort reports whether port is a usable TCP port number.
func ValidPort(port int) bool {
	return port >= minPort && port <= maxPort
}

// ProbeState is the classified outcome of a probe.
type ProbeState string

const (
	StateOpen   ProbeState = "open"
	StateClosed ProbeState = "closed"
	StateError  ProbeState = "error"
)

// ServiceDetails holds the optional metadata a fingerprinting pass adds.
type ServiceDetails struct {
	Product string
	Version string
	CPE     string
}

// ProbeResult describes the outcome of probing one target. Reason is never
// empty.
type ProbeResult struct {
	Host        string
	Port        int
	Protocol    string
	State       ProbeState
	ServiceName string
	Service     *ServiceDetails
	Reason      string
	ObservedAt  time.Time
}

// NewProbeResult stamps a result for target with the current UTC time.
func NewProbeResult(target ScanTarget, state ProbeState, reason string) ProbeResult {
	if reason == "" {
		reason = string(state)
	}
	return ProbeResult{
		Host:       target.Host,
		Port:       target.Port,
		Protocol:   ProtocolTCP,
		State:      state,
		Reason:     reason,
		ObservedAt: time.Now().UTC(),
	}
}

// Target returns the target the result belongs to.
func (r ProbeResult) Target() ScanTarget {
	return ScanTarget{Host: r.Host, Port: r.Port}
}

// ScanConfig carries the per-invocation scan settings.
type ScanConfig struct {
	// Timeout bounds every single connect attempt.
	Timeout time.Duration `validate:"gt=0"`
	// MaxConcurrency bounds in-flight work: probes for single-host scans,
	// hosts for multi-host scans.
	MaxConcurrency int `validate:"min=1"`
	// HostConcurrency is the per-host probe concurrency of a multi-host
	// scan. 0 or 1 scans each host sequentially.
	HostConcurrency int `validate:"min=0"`
	// MaxOpenSockets caps simultaneously open sockets. 0 derives the cap
	// from the concurrency settings.
	MaxOpenSockets int `validate:"min=0"`
}

// DefaultScanConfig returns the settings used for single-host scans.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Timeout:        DefaultTimeout,
		MaxConcurrency: DefaultPortConcurrency,
	}
}

// DefaultHostsConfig returns the settings used for multi-host scans.
func DefaultHostsConfig() ScanConfig {
	return ScanConfig{
		Timeout:        DefaultTimeout,
		MaxConcurrency: DefaultHostConcurrency,
	}
}

var validate = validator.New()

// Validate checks the configuration before any probe runs.
func (c ScanConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		cfgErr := errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("scan config failed %q constraint", fe.Tag()), fe.Field(), fe.Value())
		cfgErr.Cause = err
		return cfgErr
	}
	return errors.WrapConfigError(errors.CodeValidation, "invalid scan config", err)
}

// socketCap returns the socket limit for a scan using this configuration.
func (c ScanConfig) socketCap() int {
	if c.MaxOpenSockets > 0 {
		return c.MaxOpenSockets
	}
	return c.MaxConcurrency * max(1, c.HostConcurrency)
}

// Report is returned by every scan strategy.
type Report struct {
	// ScanID identifies the scan in logs.
	ScanID string
	// Results holds one entry per probed target.
	Results []ProbeResult
	// NotScanned lists targets never probed because the scan was canceled.
	NotScanned []ScanTarget
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	// PeakInFlight is the highest number of sockets open at once.
	PeakInFlight int
	// Err is the cancellation cause when the scan stopped early.
	Err error
}

// NewReport creates a report with the current time as start time.
func NewReport(scanID string) *Report {
	return &Report{
		ScanID:    scanID,
		StartTime: time.Now(),
		Results:   make([]ProbeResult, 0),
	}
}

// Complete marks the scan as complete and calculates duration.
func (r *Report) Complete() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Counts tallies results by state.
func (r *Report) Counts() map[ProbeState]int {
	counts := map[ProbeState]int{
		StateOpen:   0,
		StateClosed: 0,
		StateError:  0,
	}
	for i := range r.Results {
		counts[r.Results[i].State]++
	}
	return counts
}

// Canceled reports whether the scan stopped before probing every target.
func (r *Report) Canceled() bool {
	return r.Err != nil || len(r.NotScanned) > 0
}
