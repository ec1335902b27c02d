package config

import (
	"flag"
	"os"
	"testing"
	"time"
)

func TestFromEnvOverlaysOnlySetVars(t *testing.T) {
	os.Setenv("OTBR_THREAD_IFNAME", "wpan0")
	os.Setenv("OTBR_NCP_REQUEST_TIMEOUT", "5s")
	t.Cleanup(func() {
		os.Unsetenv("OTBR_THREAD_IFNAME")
		os.Unsetenv("OTBR_NCP_REQUEST_TIMEOUT")
	})

	cfg := FromEnv(Default())
	if cfg.ThreadIfName != "wpan0" {
		t.Errorf("ThreadIfName = %q, want wpan0", cfg.ThreadIfName)
	}
	if cfg.NCPRequestTimeout != 5*time.Second {
		t.Errorf("NCPRequestTimeout = %v, want 5s", cfg.NCPRequestTimeout)
	}
	if cfg.BackboneIfName != "" {
		t.Errorf("BackboneIfName = %q, want empty (unset var)", cfg.BackboneIfName)
	}
}

func TestFromFlagsParsesCLISurface(t *testing.T) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	cfg, err := FromFlags(fs, []string{
		"--thread-ifname", "wpan0",
		"--backbone-ifname", "eth0",
		"--reg", "US",
		"-d", "4",
		"-v",
		"spinel+hdlc+uart:///dev/ttyUSB0",
	}, Default())
	if err != nil {
		t.Fatalf("FromFlags() error = %v", err)
	}
	if cfg.ThreadIfName != "wpan0" || cfg.BackboneIfName != "eth0" || cfg.Region != "US" {
		t.Errorf("cfg = %+v, interface/region flags not applied", cfg)
	}
	if cfg.LogLevel != 4 || !cfg.Verbose {
		t.Errorf("cfg = %+v, log flags not applied", cfg)
	}
	if cfg.RadioURL != "spinel+hdlc+uart:///dev/ttyUSB0" {
		t.Errorf("RadioURL = %q, want the positional arg", cfg.RadioURL)
	}
}
