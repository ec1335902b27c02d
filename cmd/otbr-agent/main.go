// Command otbr-agent is the thin CLI entry point of spec §6.5: it
// parses the flag surface, builds a config.Config, constructs the
// publisher (Avahi if reachable, falling back to the embedded
// responder), and runs the agent to completion.
package main

import (
	"flag"
	"fmt"
	"os"

	otbragent "github.com/openthread/otbr-agent-go"
	"github.com/openthread/otbr-agent-go/internal/backbone"
	"github.com/openthread/otbr-agent-go/internal/borderagent"
	"github.com/openthread/otbr-agent-go/internal/config"
	"github.com/openthread/otbr-agent-go/internal/logging"
	"github.com/openthread/otbr-agent-go/internal/mdns"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	cfg, err := config.FromFlags(fs, args, config.FromEnv(config.Default()))
	if err != nil {
		return 1
	}
	if cfg.RadioURL == "" || cfg.ThreadIfName == "" || cfg.BackboneIfName == "" {
		fmt.Fprintln(os.Stderr, "usage: agent --thread-ifname <name> --backbone-ifname <name> [--reg <region>] [-d<level>] [-v] <radio-url>")
		return 1
	}

	logging.SetLevel(cfg.LogLevel)

	publisher, err := newPublisher()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mdns publisher: %v\n", err)
		return 1
	}

	status := func() borderagent.AgentStatus {
		return borderagent.AgentStatus{Running: true, Mode: borderagent.ConnPSKc}
	}

	a, err := otbragent.New(cfg, publisher, nil, status)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise agent: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "agent exited: %v\n", err)
		return 2
	}
	return 0
}

// newPublisher prefers the Avahi-daemon-backed Publisher and falls
// back to the self-contained embedded multicast responder when no
// system bus / Avahi daemon is reachable (spec §4.4, §6.2).
func newPublisher() (mdns.Publisher, error) {
	if p, err := mdns.NewAvahi(); err == nil {
		return p, nil
	}
	return mdns.NewEmbedded()
}
