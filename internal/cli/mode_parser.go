package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeBroker  = "broker"
	ModeDriver  = "driver"
	ModeWatcher = "watcher"
	ModeToken   = "token"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeBroker, "broker-service", "b":
		return ModeBroker, true
	case ModeDriver, "driver-agent", "d":
		return ModeDriver, true
	case ModeWatcher, "trip-watcher", "w":
		return ModeWatcher, true
	case ModeToken, "t":
		return ModeToken, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `broker --config=config/config.yaml`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := range args {
		arg := args[i]
		if after, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = after
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, errors.New("no mode specified: use --mode=<mode>")
	}

	m, ok := isKnownMode(mode)
	if !ok {
		return "", out, fmt.Errorf("unknown mode %q", mode)
	}
	return m, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // cyan

	fmt.Fprintln(w, `Usage:
  ./taxi-tracking --mode=<mode> [flags]

Modes:
  broker     WebSocket broker: driver handshake, fan-out, presence, trip API
  driver     Driver agent: samples, smooths and publishes one vehicle's fixes
  watcher    Follows one reservation and keeps its route up to date
  token      Mints a development JWT

Examples:
  ./taxi-tracking --mode=broker --config=config/config.yaml
  ./taxi-tracking --mode=driver --fixes=testdata/route.ndjson --paced
  ./taxi-tracking --mode=watcher --reservation=res-001 --api=http://localhost:8080
  ./taxi-tracking --mode=token --role=DRIVER --subject=drv-001 --patente=AB1234 --secret='<secret>'`)

	fmt.Fprint(w, "\033[0m") // reset
}

// AttachUsage wires a concise per-mode usage to a FlagSet.
func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./taxi-tracking --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
