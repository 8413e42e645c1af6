package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/scanning"
)

var fingerprintInput inputFlags

// fingerprintCmd represents the fingerprint command
var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint [hosts...]",
	Short: "Detect services with nmap",
	Long: `Run an nmap service scan (-sV -Pn) against the requested hosts and ports
and report the service name, product, version and CPE for each port.

When nmap is not installed every requested port is reported as an error
instead of failing the command. When no valid port is given the configured
default ports (22,80,443) are used.`,
	Example: `  portprobe fingerprint --targets scanme.nmap.org
  portprobe fingerprint 192.168.1.10 --ports 22,80,443,8080 --output csv
  portprobe fingerprint --hosts-file IPNums.txt --nmap-binary /usr/local/bin/nmap`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd.Flags(), map[string]string{
			"fingerprint.nmap_binary": "nmap-binary",
			"fingerprint.workers":     "workers",
			"output.format":           "output",
			"output.file":             "out-file",
			"output.metrics_textfile": "metrics-textfile",
		})
	},
	RunE: runFingerprint,
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)

	d := config.Default()
	addInputFlags(fingerprintCmd, &fingerprintInput)
	fingerprintCmd.Flags().String("nmap-binary", d.Fingerprint.NmapBinary, "Name or path of the nmap binary")
	fingerprintCmd.Flags().Int("workers", d.Fingerprint.Workers, "Hosts fingerprinted in parallel")
	fingerprintCmd.Flags().String("output", d.Output.Format, "Output format: table or csv")
	fingerprintCmd.Flags().String("out-file", d.Output.File, "Write results to this file (csv defaults to "+defaultCSVFile+")")
	fingerprintCmd.Flags().String("metrics-textfile", d.Output.MetricsTextfile, "Write Prometheus metrics to this file after the run")

	fingerprintCmd.MarkFlagsMutuallyExclusive("targets", "hosts-file")
	fingerprintCmd.MarkFlagsMutuallyExclusive("ports", "ports-file")
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hosts, err := resolveHosts(fingerprintInput, args)
	if err != nil {
		return err
	}
	ports, err := resolvePorts(fingerprintInput, cfg.Fingerprint.DefaultPorts)
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		ports = scanning.ParsePorts(cfg.Fingerprint.DefaultPorts)
	}

	fp := scanning.DetectFingerprinter(cfg.Fingerprint.NmapBinary)
	if !fp.Available() {
		logging.Warn("Fingerprinting tool not found, ports will be reported as errors",
			"tool", fp.Name(), "binary", cfg.Fingerprint.NmapBinary)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := scanning.NewCoordinator(
		scanning.WithLogger(logging.Default()),
		scanning.WithFingerprinter(fp),
	)
	rep, err := coord.Fingerprint(ctx, hosts, ports, cfg.FingerprintScanConfig())
	if err != nil {
		return err
	}

	return emitReport(cmd.OutOrStdout(), cfg, rep)
}
