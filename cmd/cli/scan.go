package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
	"github.com/anstrom/portprobe/internal/report"
	"github.com/anstrom/portprobe/internal/scanning"
	"github.com/anstrom/portprobe/internal/targets"
)

const (
	defaultCSVFile   = "scan_results.csv"
	progressBarWidth = 30
)

// inputFlags are the target selection flags shared by scan and fingerprint.
type inputFlags struct {
	targets   string
	hostsFile string
	ports     string
	portsFile string
}

var (
	scanInput    inputFlags
	showProgress bool
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [hosts...]",
	Short: "Probe TCP ports with connect scans",
	Long: `Attempt a full TCP connection to every requested host and port.

A single host is scanned sequentially or concurrently depending on --mode.
Several hosts are scanned in parallel, each with its own port fan-out.
Ports outside 1-65535 and malformed entries are skipped. Press Ctrl-C to
stop; ports that were never probed are counted as not scanned.`,
	Example: `  portprobe scan --targets 127.0.0.1 --ports 22,80,443
  portprobe scan localhost --ports 1-1024 --mode concurrent --workers 100
  portprobe scan --hosts-file IPNums.txt --ports-file PortNums.txt --output csv
  portprobe scan --targets 10.0.0.1,10.0.0.2 --host-workers 2 --per-host-workers 20 --progress`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd.Flags(), map[string]string{
			"scanning.timeout":          "timeout",
			"scanning.mode":             "mode",
			"scanning.port_workers":     "workers",
			"scanning.host_workers":     "host-workers",
			"scanning.per_host_workers": "per-host-workers",
			"scanning.max_open_sockets": "max-sockets",
			"output.format":             "output",
			"output.file":               "out-file",
			"output.metrics_textfile":   "metrics-textfile",
		})
	},
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	d := config.Default()
	addInputFlags(scanCmd, &scanInput)
	scanCmd.Flags().String("mode", d.Scanning.Mode, "Single-host strategy: sequential or concurrent")
	scanCmd.Flags().Duration("timeout", d.Scanning.Timeout, "Timeout for each connection attempt")
	scanCmd.Flags().Int("workers", d.Scanning.PortWorkers, "Concurrent probes for a single-host scan")
	scanCmd.Flags().Int("host-workers", d.Scanning.HostWorkers, "Hosts scanned in parallel")
	scanCmd.Flags().Int("per-host-workers", d.Scanning.PerHostWorkers, "Concurrent probes per host when scanning several hosts (0 = sequential)")
	scanCmd.Flags().Int("max-sockets", d.Scanning.MaxOpenSockets, "Cap on simultaneously open sockets (0 = derived from workers)")
	scanCmd.Flags().String("output", d.Output.Format, "Output format: table or csv")
	scanCmd.Flags().String("out-file", d.Output.File, "Write results to this file (csv defaults to "+defaultCSVFile+")")
	scanCmd.Flags().String("metrics-textfile", d.Output.MetricsTextfile, "Write Prometheus metrics to this file after the scan")
	scanCmd.Flags().BoolVar(&showProgress, "progress", false, "Show a progress bar")

	scanCmd.MarkFlagsMutuallyExclusive("targets", "hosts-file")
	scanCmd.MarkFlagsMutuallyExclusive("ports", "ports-file")
}

func addInputFlags(cmd *cobra.Command, in *inputFlags) {
	cmd.Flags().StringVar(&in.targets, "targets", "", "Comma-separated hosts to scan")
	cmd.Flags().StringVar(&in.hostsFile, "hosts-file", "", "File with one host per line")
	cmd.Flags().StringVar(&in.ports, "ports", "", "Ports to scan, e.g. '22,80,443' or '1-1024' (default from config)")
	cmd.Flags().StringVar(&in.portsFile, "ports-file", "", "File with one port or range per line")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hosts, err := resolveHosts(scanInput, args)
	if err != nil {
		return err
	}
	ports, err := resolvePorts(scanInput, cfg.Scanning.DefaultPorts)
	if err != nil {
		return err
	}

	logger := logging.Default().WithComponent("cli")
	logger.Debug("Starting scan", "hosts", len(hosts), "ports", len(ports), "mode", cfg.Scanning.Mode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := newScanProgress(cmd.ErrOrStderr(), len(hosts)*len(ports), showProgress)
	coord := scanning.NewCoordinator(
		scanning.WithLogger(logging.Default()),
		scanning.WithProgress(progress.observe),
	)

	rep, err := runStrategy(ctx, coord, cfg, hosts, ports)
	progress.finish()
	if err != nil {
		return err
	}

	return emitReport(cmd.OutOrStdout(), cfg, rep)
}

// runStrategy picks the single-host or multi-host entry point.
func runStrategy(ctx context.Context, coord *scanning.Coordinator, cfg *config.Config, hosts []string, ports []int) (*scanning.Report, error) {
	if len(hosts) > 1 {
		return coord.ScanManyHostsConcurrent(ctx, hosts, ports, cfg.MultiHostScanConfig())
	}
	if cfg.Scanning.Mode == config.ModeSequential {
		return coord.ScanSequential(ctx, hosts[0], ports, cfg.SingleHostScanConfig())
	}
	return coord.ScanConcurrent(ctx, hosts[0], ports, cfg.SingleHostScanConfig())
}

// emitReport writes results in the configured format, then the summary and
// optional metrics file. A canceled scan is reported after its partial
// results have been written.
func emitReport(out io.Writer, cfg *config.Config, rep *scanning.Report) error {
	switch cfg.Output.Format {
	case config.FormatCSV:
		path := cfg.Output.File
		if path == "" {
			path = defaultCSVFile
		}
		if err := report.SaveCSV(path, rep.Results); err != nil {
			if !stderrors.Is(err, report.ErrNothingToSave) {
				return err
			}
			fmt.Fprintln(out, "No data has been saved")
		} else {
			fmt.Fprintf(out, "Results saved to %s\n", path)
		}
	default:
		if err := writeTable(out, cfg, rep.Results); err != nil {
			return err
		}
	}

	if err := report.PrintSummary(out, rep); err != nil {
		return err
	}

	if path := cfg.Output.MetricsTextfile; path != "" {
		if err := metrics.GetGlobalMetrics().WriteTextfile(path); err != nil {
			logging.Warn("Failed to write metrics textfile", "path", path, "error", err)
		}
	}

	if rep.Err != nil {
		return fmt.Errorf("scan interrupted: %w", rep.Err)
	}
	return nil
}

func writeTable(out io.Writer, cfg *config.Config, results []scanning.ProbeResult) (err error) {
	if cfg.Output.File == "" {
		return report.PrintTable(out, results, cfg.Output.Verbose)
	}

	f, err := os.Create(cfg.Output.File)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := report.PrintTable(f, results, cfg.Output.Verbose); err != nil {
		return err
	}
	fmt.Fprintf(out, "Results saved to %s\n", cfg.Output.File)
	return nil
}

// resolveHosts collects hosts from positional arguments, --targets or --hosts-file.
func resolveHosts(in inputFlags, args []string) ([]string, error) {
	hosts := append([]string{}, args...)
	hosts = append(hosts, targets.SplitList(in.targets)...)

	if in.hostsFile != "" {
		fromFile, err := targets.ReadHosts(in.hostsFile)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, fromFile...)
	}

	if len(hosts) == 0 {
		return nil, fmt.Errorf("no targets specified: use --targets, --hosts-file or positional hosts")
	}
	return hosts, nil
}

// resolvePorts returns the ports from --ports or --ports-file, falling back
// to fallback when neither is set. Invalid entries are dropped, so the result
// may be empty.
func resolvePorts(in inputFlags, fallback string) ([]int, error) {
	if in.portsFile != "" {
		return targets.ReadPorts(in.portsFile)
	}
	spec := in.ports
	if strings.TrimSpace(spec) == "" {
		spec = fallback
	}
	return scanning.ParsePorts(spec), nil
}

// scanProgress drives the optional progress bar and announces open ports
// as they are found.
type scanProgress struct {
	mu  sync.Mutex
	out io.Writer
	bar *progressbar.ProgressBar
}

func newScanProgress(out io.Writer, total int, enabled bool) *scanProgress {
	p := &scanProgress{out: out}
	if !enabled || total <= 0 {
		return p
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(progressBarWidth),
		progressbar.OptionSetDescription("[cyan][scanning][reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return p
}

func (p *scanProgress) observe(r scanning.ProbeResult) {
	if p.bar == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.State == scanning.StateOpen {
		_ = p.bar.Clear()
		color.New(color.FgGreen).Fprintf(p.out, "\r[+] %s open\n", r.Target())
	}
	_ = p.bar.Add(1)
}

func (p *scanProgress) finish() {
	if p.bar == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
	fmt.Fprintln(p.out)
}
