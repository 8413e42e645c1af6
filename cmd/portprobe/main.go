// Command portprobe is a concurrent TCP connect port scanner.
package main

import "github.com/anstrom/portprobe/cmd/cli"

// Build information, set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
