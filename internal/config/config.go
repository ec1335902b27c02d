// Package config defines the struct the core consumes to start up.
// The config-file reader and CLI argument parsing are external
// collaborators (spec §1 Non-goals); this package only owns the
// struct plus a small environment-variable loader in the
// OTBR_<FIELD> convention, mirroring dittofs's DITTOFS_<SECTION>_<KEY>
// override style.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/openthread/otbr-agent-go/internal/ncp"
)

// Config is everything the agent.Agent orchestrator needs to start.
type Config struct {
	RadioURL       string
	ThreadIfName   string
	BackboneIfName string
	Region         string

	Vendor  string
	Product string

	NCPRequestTimeout time.Duration

	// NetworkRetainHook is the shell command invoked on save/recall/
	// erase transitions (spec §6.4); empty disables it.
	NetworkRetainHook string

	LogLevel int // -d<level> CLI convention
	Verbose  bool
}

// Default returns the zero-config baseline: the NCP request timeout
// matches ncp.DefaultRequestTimeout and everything else is empty,
// requiring FromFlags/FromEnv (or the caller) to fill in RadioURL and
// the interface names before the agent can start.
func Default() Config {
	return Config{
		NCPRequestTimeout: ncp.DefaultRequestTimeout,
	}
}

// FromEnv overlays OTBR_<FIELD> environment variables onto cfg,
// leaving fields alone when the variable is unset.
func FromEnv(cfg Config) Config {
	if v, ok := os.LookupEnv("OTBR_RADIO_URL"); ok {
		cfg.RadioURL = v
	}
	if v, ok := os.LookupEnv("OTBR_THREAD_IFNAME"); ok {
		cfg.ThreadIfName = v
	}
	if v, ok := os.LookupEnv("OTBR_BACKBONE_IFNAME"); ok {
		cfg.BackboneIfName = v
	}
	if v, ok := os.LookupEnv("OTBR_REGION"); ok {
		cfg.Region = v
	}
	if v, ok := os.LookupEnv("OTBR_VENDOR"); ok {
		cfg.Vendor = v
	}
	if v, ok := os.LookupEnv("OTBR_PRODUCT"); ok {
		cfg.Product = v
	}
	if v, ok := os.LookupEnv("OTBR_NETWORK_RETAIN_HOOK"); ok {
		cfg.NetworkRetainHook = v
	}
	if v, ok := os.LookupEnv("OTBR_NCP_REQUEST_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NCPRequestTimeout = d
		}
	}
	if v, ok := os.LookupEnv("OTBR_LOG_LEVEL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogLevel = n
		}
	}
	return cfg
}

// FromFlags parses the CLI surface of spec §6.5:
// "agent --thread-ifname <name> --backbone-ifname <name> [--reg <region>] [-d<level>] [-v] <radio-url>".
// FlagSet-based so cmd/otbr-agent's main can own flag.ErrorHandling.
func FromFlags(fs *flag.FlagSet, args []string, cfg Config) (Config, error) {
	fs.StringVar(&cfg.ThreadIfName, "thread-ifname", cfg.ThreadIfName, "Thread network interface name")
	fs.StringVar(&cfg.BackboneIfName, "backbone-ifname", cfg.BackboneIfName, "backbone network interface name")
	fs.StringVar(&cfg.Region, "reg", cfg.Region, "regulatory domain region code")
	fs.IntVar(&cfg.LogLevel, "d", cfg.LogLevel, "debug log level")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "log to stderr in addition to syslog")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		cfg.RadioURL = fs.Arg(0)
	}
	return cfg, nil
}
