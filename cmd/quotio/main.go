// Command quotio manages the CLIProxyAPI proxy binary: install, start with
// adoption/conflict handling, quota refresh, and scheduled account warmup.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/quotio/quotio/internal/buildinfo"
	"github.com/quotio/quotio/internal/install"
	"github.com/quotio/quotio/internal/supervise"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitPortConflict = 2
	exitChecksum     = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitFailure
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "start":
		return cmdStart(rest)
	case "stop":
		return cmdStop(rest)
	case "status":
		return cmdStatus(rest)
	case "refresh":
		return cmdRefresh(rest)
	case "install":
		return cmdInstall(rest)
	case "version":
		fmt.Printf("quotio %s (%s, built %s)\n", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
		return exitOK
	case "help", "-h", "--help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "quotio: unknown command %q\n\n", cmd)
		usage()
		return exitFailure
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: quotio <command> [flags]

Commands:
  start    install the proxy if missing, start it, and run background services
  stop     stop the managed proxy
  status   report install/run state
  refresh  run one quota refresh cycle and print the snapshot
  install  download and install the proxy binary only
  version  print version information

Flags:
  --port N   override the proxy port (start, stop, status, refresh)
`)
}

// exitCodeFor maps error classes to the documented exit codes.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var conflict *supervise.PortConflictError
	if errors.As(err, &conflict) {
		return exitPortConflict
	}
	var unavailable *install.ChecksumUnavailableError
	var mismatch *install.ChecksumMismatchError
	if errors.As(err, &unavailable) || errors.As(err, &mismatch) {
		return exitChecksum
	}
	return exitFailure
}
