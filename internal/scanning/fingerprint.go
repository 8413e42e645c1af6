package scanning

//go:generate mockgen -destination=mocks/mock_fingerprinter.go -package=mocks github.com/anstrom/portprobe/internal/scanning Fingerprinter

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
)

const (
	// DefaultNmapBinary is looked up on PATH when no binary is configured.
	DefaultNmapBinary = "nmap"

	// notAvailable fills service fields the tool did not report.
	notAvailable = "N/A"

	// cpeSeparator joins multiple CPEs of one service.
	cpeSeparator = ";"
)

// Fingerprinter is an optional service-detection capability. The scanner
// never requires one to be present.
type Fingerprinter interface {
	// Available reports whether the underlying tool can be used.
	Available() bool
	// Name identifies the tool in logs.
	Name() string
	// Fingerprint returns one result per requested port of host.
	Fingerprint(ctx context.Context, host string, ports []int) ([]ProbeResult, error)
}

// DetectFingerprinter returns an nmap-backed fingerprinter when binary can
// be found, and an unavailable one otherwise.
func DetectFingerprinter(binary string) Fingerprinter {
	if binary == "" {
		binary = DefaultNmapBinary
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		logging.Debug("Fingerprinting tool not found", "binary", binary, "error", err)
		return NewUnavailableFingerprinter(binary)
	}
	return NewNmapFingerprinter(path)
}

// UnavailableFingerprinter stands in when no tool is installed.
type UnavailableFingerprinter struct {
	tool string
}

// NewUnavailableFingerprinter creates the absent variant for tool.
func NewUnavailableFingerprinter(tool string) *UnavailableFingerprinter {
	return &UnavailableFingerprinter{tool: tool}
}

// Available always returns false.
func (f *UnavailableFingerprinter) Available() bool { return false }

// Name returns the missing tool's name.
func (f *UnavailableFingerprinter) Name() string { return f.tool }

// Fingerprint always fails with CodeToolUnavailable.
func (f *UnavailableFingerprinter) Fingerprint(_ context.Context, _ string, _ []int) ([]ProbeResult, error) {
	return nil, errors.ErrToolUnavailable(f.tool)
}

// NmapFingerprinter runs nmap service detection (-sV -Pn) against one host
// at a time.
type NmapFingerprinter struct {
	binary string
}

// NewNmapFingerprinter creates the nmap-backed variant. An empty binary
// lets the library find nmap on PATH.
func NewNmapFingerprinter(binary string) *NmapFingerprinter {
	return &NmapFingerprinter{binary: binary}
}

// Available reports whether the nmap binary can be found.
func (f *NmapFingerprinter) Available() bool {
	binary := f.binary
	if binary == "" {
		binary = DefaultNmapBinary
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

// Name returns "nmap".
func (f *NmapFingerprinter) Name() string { return "nmap" }

// Fingerprint scans ports on host and maps every requested port to one
// result, in request order.
func (f *NmapFingerprinter) Fingerprint(ctx context.Context, host string, ports []int) ([]ProbeResult, error) {
	if len(ports) == 0 {
		return []ProbeResult{}, nil
	}

	scanner, err := nmap.NewScanner(ctx, f.buildOptions(host, ports)...)
	if err != nil {
		if stderrors.Is(err, nmap.ErrNmapNotInstalled) {
			return nil, errors.ErrToolUnavailable(f.Name())
		}
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "create scanner", host, err)
	}

	run, warnings, err := scanner.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.ErrScanCanceled(host, ctx.Err())
		}
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "run scan", host, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		logging.Debug("Fingerprint completed with warnings", "target", host, "warnings", *warnings)
	}

	return mapNmapRun(run, host, ports), nil
}

func (f *NmapFingerprinter) buildOptions(host string, ports []int) []nmap.Option {
	portList := make([]string, 0, len(ports))
	for _, p := range ports {
		portList = append(portList, strconv.Itoa(p))
	}

	options := []nmap.Option{
		nmap.WithTargets(host),
		nmap.WithPorts(strings.Join(portList, ",")),
		nmap.WithServiceInfo(),
		nmap.WithSkipHostDiscovery(),
	}
	if f.binary != "" {
		options = append(options, nmap.WithBinaryPath(f.binary))
	}
	return options
}

// mapNmapRun converts an nmap run into results for the requested ports.
// Ports nmap did not report come back as filtered errors.
func mapNmapRun(run *nmap.Run, host string, ports []int) []ProbeResult {
	found := make(map[int]nmap.Port)
	if run != nil {
		for i := range run.Hosts {
			for _, p := range run.Hosts[i].Ports {
				if p.Protocol != "" && p.Protocol != ProtocolTCP {
					continue
				}
				found[int(p.ID)] = p
			}
		}
	}

	results := make([]ProbeResult, 0, len(ports))
	for _, port := range ports {
		target := ScanTarget{Host: host, Port: port}
		p, ok := found[port]
		if !ok {
			results = append(results, NewProbeResult(target, StateError, "filtered: no response"))
			continue
		}
		results = append(results, convertNmapPort(target, &p))
	}
	return results
}

func convertNmapPort(target ScanTarget, p *nmap.Port) ProbeResult {
	var result ProbeResult
	switch p.State.State {
	case "open":
		result = NewProbeResult(target, StateOpen, orNotAvailable(p.State.Reason))
	case "closed":
		result = NewProbeResult(target, StateClosed, orNotAvailable(p.State.Reason))
	default:
		result = NewProbeResult(target, StateError, fmt.Sprintf("%s: %s", p.State.State, orNotAvailable(p.State.Reason)))
	}

	cpes := make([]string, 0, len(p.Service.CPEs))
	for _, cpe := range p.Service.CPEs {
		cpes = append(cpes, string(cpe))
	}

	result.ServiceName = orNotAvailable(p.Service.Name)
	result.Service = &ServiceDetails{
		Product: orNotAvailable(p.Service.Product),
		Version: orNotAvailable(p.Service.Version),
		CPE:     orNotAvailable(strings.Join(cpes, cpeSeparator)),
	}
	return result
}

func orNotAvailable(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
