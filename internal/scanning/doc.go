// Package scanning provides the TCP-connect scanning engine of portprobe.
//
// The package probes (host, port) targets with plain connect attempts,
// classifies each outcome and collects the results of a scan into a Report.
//
// # Overview
//
// A ConnectProbe makes exactly one time-bounded connection attempt per
// target. A Coordinator builds the targets of a scan and runs probes using
// one of its strategies:
//   - ScanSequential: one host, probes run in port order
//   - ScanConcurrent: one host, probes fanned out to a bounded worker pool
//   - ScanManyHostsConcurrent: several hosts on an outer pool, each host
//     scanned sequentially or concurrently
//   - Fingerprint: service detection through an optional Fingerprinter
//
// # Classification
//
//   - handshake completed: StateOpen, reason "connect"
//   - connect(2) failed with an errno: StateClosed, reason "code_<errno>"
//   - attempt timed out: StateError, reason "timeout: ..."
//   - anything else (DNS, socket creation, unreachable network): StateError
//     with the error text as reason
//
// There is no filtered state. A timeout is an error.
//
// # Usage
//
//	coord := scanning.NewCoordinator()
//	cfg := scanning.DefaultScanConfig()
//
//	report, err := coord.ScanConcurrent(ctx, "127.0.0.1", scanning.ParsePorts("22,80,8000-8010"), cfg)
//	if err != nil {
//		log.Fatal(err) // invalid configuration
//	}
//	for _, r := range report.Results {
//		fmt.Println(r.Host, r.Port, r.State, r.Reason)
//	}
//
// # Cancellation
//
// Canceling the context stops submission of new probes. Probes already in
// flight finish within their timeout. Targets that were never probed are
// listed in Report.NotScanned and are not reported as errors.
//
// # Resource Limits
//
// Every scan owns a SocketBudget that caps simultaneously open sockets and
// records the peak, reported as Report.PeakInFlight.
package scanning
