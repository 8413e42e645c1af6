package scanning

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
	"github.com/anstrom/portprobe/internal/workers"
)

// Strategy names used in logs and metrics.
const (
	StrategySequential  = "sequential"
	StrategyConcurrent  = "concurrent"
	StrategyMultiHost   = "multi_host"
	StrategyFingerprint = "fingerprint"
)

const (
	jobTypeProbe       = "probe"
	jobTypeHost        = "host"
	jobTypeFingerprint = "fingerprint"

	scanStatusSuccess  = "success"
	scanStatusCanceled = "canceled"

	shortIDLength = 8
)

// ProgressFunc is called once per finished probe. It may be called from
// several goroutines at once.
type ProgressFunc func(ProbeResult)

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorDialer sets the dialer handed to every probe.
func WithCoordinatorDialer(d Dialer) CoordinatorOption {
	return func(c *Coordinator) {
		c.dialer = d
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l *logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithMetrics sets the metrics sink shared by probes and pools.
func WithMetrics(m *metrics.PrometheusMetrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithFingerprinter sets the service-detection capability.
func WithFingerprinter(f Fingerprinter) CoordinatorOption {
	return func(c *Coordinator) {
		c.fingerprinter = f
	}
}

// WithProgress registers a per-result callback.
func WithProgress(fn ProgressFunc) CoordinatorOption {
	return func(c *Coordinator) {
		c.progress = fn
	}
}

// Coordinator turns hosts and ports into probe results using one of its
// strategies. It holds no per-scan state and may run several scans at once.
type Coordinator struct {
	dialer        Dialer
	logger        *logging.Logger
	metrics       *metrics.PrometheusMetrics
	fingerprinter Fingerprinter
	progress      ProgressFunc
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		logger:        logging.Default(),
		metrics:       metrics.GetGlobalMetrics(),
		fingerprinter: NewUnavailableFingerprinter(DefaultNmapBinary),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// scanRun bundles the state of one scan invocation.
type scanRun struct {
	id       string
	strategy string
	cfg      ScanConfig
	logger   *logging.Logger
	budget   *SocketBudget
	probe    *ConnectProbe
	report   *Report
	agg      *ResultAggregator
}

func (c *Coordinator) begin(strategy string, cfg ScanConfig, expected int) *scanRun {
	id := uuid.NewString()
	logger := c.logger.WithComponent("scanner").WithScanID(id).WithFields("strategy", strategy)
	budget := NewSocketBudget(cfg.socketCap())

	opts := []ProbeOption{
		WithSocketBudget(budget),
		WithProbeLogger(logger),
		WithProbeMetrics(c.metrics),
	}
	if c.dialer != nil {
		opts = append(opts, WithDialer(c.dialer))
	}

	return &scanRun{
		id:       id,
		strategy: strategy,
		cfg:      cfg,
		logger:   logger,
		budget:   budget,
		probe:    NewConnectProbe(cfg.Timeout, opts...),
		report:   NewReport(id),
		agg:      NewResultAggregator(expected),
	}
}

func (c *Coordinator) finish(ctx context.Context, run *scanRun) *Report {
	report := run.report
	report.Results = run.agg.Results()
	report.NotScanned = run.agg.NotScanned()
	report.PeakInFlight = run.budget.Peak()
	if err := ctx.Err(); err != nil {
		report.Err = err
	}
	report.Complete()

	status := scanStatusSuccess
	if report.Canceled() {
		status = scanStatusCanceled
	}
	c.metrics.RecordScan(run.strategy, status, report.Duration)
	c.metrics.AddNotScanned(len(report.NotScanned))
	c.metrics.SetSocketsPeak(report.PeakInFlight)

	counts := report.Counts()
	run.logger.Info("Scan completed",
		"status", status,
		"results", len(report.Results),
		"open", counts[StateOpen],
		"closed", counts[StateClosed],
		"errors", counts[StateError],
		"not_scanned", len(report.NotScanned),
		"peak_in_flight", report.PeakInFlight,
		"duration", report.Duration)
	return report
}

// ScanSequential probes ports on host one after another. Results keep the
// order of ports.
func (c *Coordinator) ScanSequential(ctx context.Context, host string, ports []int, cfg ScanConfig) (*Report, error) {
	if err := validateRequest(cfg, host); err != nil {
		return nil, err
	}

	targets := buildTargets(host, ports)
	run := c.begin(StrategySequential, cfg, len(targets))
	run.logger.InfoScan("Starting scan", host, "targets", len(targets), "timeout", cfg.Timeout)

	c.runSequential(ctx, run.probe, targets, run.agg)
	return c.finish(ctx, run), nil
}

// ScanConcurrent probes ports on host with at most cfg.MaxConcurrency
// probes in flight. Results are complete but unordered.
func (c *Coordinator) ScanConcurrent(ctx context.Context, host string, ports []int, cfg ScanConfig) (*Report, error) {
	if err := validateRequest(cfg, host); err != nil {
		return nil, err
	}

	targets := buildTargets(host, ports)
	run := c.begin(StrategyConcurrent, cfg, len(targets))
	run.logger.InfoScan("Starting scan", host,
		"targets", len(targets),
		"timeout", cfg.Timeout,
		"workers", cfg.MaxConcurrency)

	c.runConcurrent(ctx, run, targets, cfg.MaxConcurrency, run.agg)
	return c.finish(ctx, run), nil
}

// ScanManyHostsConcurrent scans several hosts with at most
// cfg.MaxConcurrency hosts in flight. Each host is scanned sequentially, or
// with cfg.HostConcurrency probes when that is above one. A fault scanning
// one host turns into error results for that host's targets only.
func (c *Coordinator) ScanManyHostsConcurrent(ctx context.Context, hosts []string, ports []int, cfg ScanConfig) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	valid := validPorts(ports)
	run := c.begin(StrategyMultiHost, cfg, len(hosts)*len(valid))
	run.logger.Info("Starting multi-host scan",
		"hosts", len(hosts),
		"ports", len(valid),
		"timeout", cfg.Timeout,
		"host_workers", cfg.MaxConcurrency,
		"port_workers", cfg.HostConcurrency,
		"socket_cap", run.budget.Capacity())

	c.forEachHost(ctx, run, hosts, valid, jobTypeHost, func(ctx context.Context, host string, targets []ScanTarget, hostAgg *ResultAggregator) {
		if cfg.HostConcurrency > 1 {
			c.runConcurrent(ctx, run, targets, cfg.HostConcurrency, hostAgg)
			return
		}
		c.runSequential(ctx, run.probe, targets, hostAgg)
	})

	return c.finish(ctx, run), nil
}

// Fingerprint runs service detection for every host through the configured
// Fingerprinter. Without a usable tool every target gets an error result
// with ReasonToolUnavailable.
func (c *Coordinator) Fingerprint(ctx context.Context, hosts []string, ports []int, cfg ScanConfig) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	valid := validPorts(ports)
	run := c.begin(StrategyFingerprint, cfg, len(hosts)*len(valid))

	fp := c.fingerprinter
	if fp == nil || !fp.Available() {
		name := DefaultNmapBinary
		if fp != nil {
			name = fp.Name()
		}
		run.logger.Warn("Fingerprinting tool unavailable", "tool", name)
		for _, host := range hosts {
			for _, t := range rawTargets(host, valid) {
				c.record(run.agg, NewProbeResult(t, StateError, ReasonToolUnavailable))
			}
		}
		return c.finish(ctx, run), nil
	}

	run.logger.Info("Starting fingerprint scan",
		"tool", fp.Name(),
		"hosts", len(hosts),
		"ports", len(valid),
		"workers", cfg.MaxConcurrency)

	c.forEachHost(ctx, run, hosts, valid, jobTypeFingerprint, func(ctx context.Context, host string, targets []ScanTarget, hostAgg *ResultAggregator) {
		results, err := fp.Fingerprint(ctx, host, valid)
		if err != nil {
			if ctx.Err() != nil {
				hostAgg.MarkNotScanned(targets...)
				return
			}
			reason := err.Error()
			if errors.IsCode(err, errors.CodeToolUnavailable) {
				reason = ReasonToolUnavailable
			}
			run.logger.ErrorScan("Fingerprint failed", host, err)
			for _, t := range targets {
				c.record(hostAgg, NewProbeResult(t, StateError, reason))
			}
			return
		}
		for _, r := range results {
			c.record(hostAgg, r)
		}
		for _, t := range missingTargets(targets, hostAgg) {
			c.record(hostAgg, NewProbeResult(t, StateError, fmt.Sprintf("no result from %s", fp.Name())))
		}
	})

	return c.finish(ctx, run), nil
}

// hostScanFunc scans the targets of one host into hostAgg.
type hostScanFunc func(ctx context.Context, host string, targets []ScanTarget, hostAgg *ResultAggregator)

// forEachHost runs scan for every host on a pool of cfg.MaxConcurrency
// workers. Targets a host job fails to account for, through a panic or an
// invalid host, are reported as errors.
func (c *Coordinator) forEachHost(ctx context.Context, run *scanRun, hosts []string, ports []int, jobType string, scan hostScanFunc) {
	pool := workers.New(workers.Config{Size: run.cfg.MaxConcurrency},
		workers.WithLogger(run.logger),
		workers.WithMetrics(c.metrics))
	pool.Start()

	for i, host := range hosts {
		targets := rawTargets(host, ports)

		job := workers.NewFuncJob(jobID(run.id, host, i), jobType, func(ctx context.Context) error {
			hostAgg := NewResultAggregator(len(targets))
			defer func() {
				if r := recover(); r != nil {
					run.logger.ErrorScan("Host scan panicked", host, fmt.Errorf("%v", r))
					reason := fmt.Sprintf("host scan failed: %v", r)
					for _, t := range missingTargets(targets, hostAgg) {
						hostAgg.Add(NewProbeResult(t, StateError, reason))
					}
				}
				run.agg.AddAll(hostAgg.Results())
				run.agg.MarkNotScanned(hostAgg.NotScanned()...)
			}()

			if host == "" {
				reason := errors.ErrInvalidTarget(host).WithContext("reason", "empty host").Error()
				for _, t := range targets {
					c.record(hostAgg, NewProbeResult(t, StateError, reason))
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				hostAgg.MarkNotScanned(targets...)
				return err
			}

			scan(ctx, host, targets, hostAgg)
			return nil
		})

		if err := pool.Submit(ctx, job); err != nil {
			for _, rest := range hosts[i:] {
				run.agg.MarkNotScanned(rawTargets(rest, ports)...)
			}
			break
		}
	}

	if err := pool.Shutdown(); err != nil {
		run.logger.Warn("Host pool shutdown failed", "error", err)
	}
}

// runSequential probes targets in order, stopping at cancellation.
func (c *Coordinator) runSequential(ctx context.Context, probe *ConnectProbe, targets []ScanTarget, agg *ResultAggregator) {
	for i, t := range targets {
		if ctx.Err() != nil {
			agg.MarkNotScanned(targets[i:]...)
			return
		}
		c.probeInto(ctx, probe, t, agg)
	}
}

// runConcurrent fans targets out to a pool of size workers and waits for
// every accepted probe.
func (c *Coordinator) runConcurrent(ctx context.Context, run *scanRun, targets []ScanTarget, size int, agg *ResultAggregator) {
	if len(targets) == 0 {
		return
	}

	pool := workers.New(workers.Config{Size: size},
		workers.WithLogger(run.logger),
		workers.WithMetrics(c.metrics))
	pool.Start()

	for i, t := range targets {
		job := workers.NewFuncJob(jobID(run.id, t.Address(), i), jobTypeProbe, func(ctx context.Context) error {
			return c.probeInto(ctx, run.probe, t, agg)
		})
		if err := pool.Submit(ctx, job); err != nil {
			agg.MarkNotScanned(targets[i:]...)
			break
		}
	}

	if err := pool.Shutdown(); err != nil {
		run.logger.Warn("Probe pool shutdown failed", "error", err)
	}
}

// probeInto runs one probe and stores its outcome. Every target ends up
// either with exactly one result or in the not-scanned list.
func (c *Coordinator) probeInto(ctx context.Context, probe *ConnectProbe, t ScanTarget, agg *ResultAggregator) (err error) {
	recorded := false
	defer func() {
		if r := recover(); r != nil && !recorded {
			c.record(agg, NewProbeResult(t, StateError, fmt.Sprintf("probe task failed: %v", r)))
			err = nil
		}
	}()

	result, err := probe.Probe(ctx, t)
	if err != nil {
		agg.MarkNotScanned(t)
		recorded = true
		return err
	}
	agg.Add(result)
	recorded = true
	c.notify(result)
	return nil
}

func (c *Coordinator) record(agg *ResultAggregator, result ProbeResult) {
	agg.Add(result)
	c.notify(result)
}

func (c *Coordinator) notify(result ProbeResult) {
	if c.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("Progress callback panicked", "panic", r)
		}
	}()
	c.progress(result)
}

func validateRequest(cfg ScanConfig, host string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if host == "" {
		return errors.ErrConfigInvalid("host", host)
	}
	return nil
}

// buildTargets crosses host with ports, dropping ports outside 1-65535.
func buildTargets(host string, ports []int) []ScanTarget {
	targets := make([]ScanTarget, 0, len(ports))
	for _, port := range ports {
		t, err := NewScanTarget(host, port)
		if err != nil {
			continue
		}
		targets = append(targets, t)
	}
	return targets
}

// rawTargets crosses host with already validated ports without checking the
// host, so faults on an invalid host can still be attributed to targets.
func rawTargets(host string, ports []int) []ScanTarget {
	targets := make([]ScanTarget, len(ports))
	for i, port := range ports {
		targets[i] = ScanTarget{Host: host, Port: port}
	}
	return targets
}

func validPorts(ports []int) []int {
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if ValidPort(p) {
			out = append(out, p)
		}
	}
	return out
}

// missingTargets returns the targets agg holds neither a result nor a
// not-scanned entry for, respecting duplicates.
func missingTargets(targets []ScanTarget, agg *ResultAggregator) []ScanTarget {
	seen := make(map[ScanTarget]int, len(targets))
	for _, r := range agg.Results() {
		seen[r.Target()]++
	}
	for _, t := range agg.NotScanned() {
		seen[t]++
	}

	var missing []ScanTarget
	for _, t := range targets {
		if seen[t] > 0 {
			seen[t]--
			continue
		}
		missing = append(missing, t)
	}
	return missing
}

func jobID(scanID, subject string, index int) string {
	return fmt.Sprintf("%s/%d/%s", scanID[:shortIDLength], index, subject)
}
