package backbone

import (
	"os/exec"

	"github.com/openthread/otbr-agent-go/internal/errclass"
)

// smcrouteCtl shells out to smcroutectl, the OS multicast routing
// daemon's control program (spec §4.8 "a small wrapper over a
// shell-level command interface"; grounded on
// original_source/src/backbone_router/smcroute_manager.cpp).
type smcrouteCtl struct {
	// run executes argv[0] with argv[1:], returning its exit error.
	// Overridable in tests so they never shell out for real.
	run func(argv ...string) error
}

func newSMCRouteCtl() *smcrouteCtl {
	return &smcrouteCtl{run: execCommand}
}

func execCommand(argv ...string) error {
	return exec.Command(argv[0], argv[1:]...).Run()
}

func (s *smcrouteCtl) flush() error {
	if err := s.run("smcroutectl", "flush"); err != nil {
		return errclass.New("smcroute.flush", errclass.MulticastRouting, err)
	}
	return nil
}

// allowOutboundMulticast installs the wildcard admin-scope-and-above
// outbound rule (group 65520 / 0xfff0, spec's original source comment
// "allow outbound for MA scope >= admin (4)").
func (s *smcrouteCtl) allowOutboundMulticast(threadIfName, backboneIfName string) error {
	if err := s.run("smcroutectl", "add", threadIfName, "::", "::", "65520", backboneIfName); err != nil {
		return errclass.New("smcroute.allow_outbound", errclass.MulticastRouting, err)
	}
	return nil
}

func (s *smcrouteCtl) forbidOutboundMulticast(threadIfName, backboneIfName string) error {
	if err := s.run("smcroutectl", "remove", threadIfName, "::", "::", "65520", backboneIfName); err != nil {
		return errclass.New("smcroute.forbid_outbound", errclass.MulticastRouting, err)
	}
	return nil
}

func (s *smcrouteCtl) addRoute(backboneIfName, address, threadIfName string) error {
	if err := s.run("smcroutectl", "add", backboneIfName, "::", address, threadIfName); err != nil {
		return errclass.New("smcroute.add_route", errclass.MulticastRouting, err)
	}
	return nil
}

func (s *smcrouteCtl) deleteRoute(backboneIfName, address, threadIfName string) error {
	if err := s.run("smcroutectl", "del", backboneIfName, "::", address, threadIfName); err != nil {
		return errclass.New("smcroute.delete_route", errclass.MulticastRouting, err)
	}
	return nil
}
