// Package otbragent wires the border router core's components
// together: the event loop, the NCP transport and controller, the
// mDNS publisher, the Border Agent, the Advertising and Discovery
// proxies, and the optional Backbone Router (spec §4, modelled on
// original_source/src/agent/agent_instance.cpp's AgentInstance).
package otbragent

import (
	"context"
	"fmt"
	"strings"

	"github.com/openthread/otbr-agent-go/internal/advertising"
	"github.com/openthread/otbr-agent-go/internal/backbone"
	"github.com/openthread/otbr-agent-go/internal/borderagent"
	"github.com/openthread/otbr-agent-go/internal/config"
	"github.com/openthread/otbr-agent-go/internal/discovery"
	"github.com/openthread/otbr-agent-go/internal/errclass"
	"github.com/openthread/otbr-agent-go/internal/ipc"
	"github.com/openthread/otbr-agent-go/internal/loop"
	"github.com/openthread/otbr-agent-go/internal/logging"
	"github.com/openthread/otbr-agent-go/internal/mdns"
	"github.com/openthread/otbr-agent-go/internal/ncp"
	"github.com/openthread/otbr-agent-go/internal/persist"
)

var log = logging.For("agent")

// Agent is the top-level border router process: it owns the loop and
// every component wired to it, and Run blocks for the process
// lifetime (spec §4.1 "the event loop is the process's main loop").
type Agent struct {
	cfg config.Config

	Loop       *loop.Loop
	Transport  ncp.Transport
	Controller *ncp.Controller
	Publisher  mdns.Publisher

	BorderAgent *borderagent.Agent
	Advertising *advertising.Proxy
	Discovery   *discovery.Proxy
	Backbone    *backbone.Router

	RetainHook *persist.Hook
	IPC        *ipc.Core
}

// New constructs every component and wires their cross-references, but
// does not start anything (spec §4.1 Init then Run split).
func New(cfg config.Config, publisher mdns.Publisher, ndProxy backbone.NDProxy, getStatus func() borderagent.AgentStatus) (*Agent, error) {
	l, err := loop.New()
	if err != nil {
		return nil, errclass.New("agent.New", errclass.Other, err)
	}

	transport, err := ncp.Open(cfg.RadioURL)
	if err != nil {
		_ = l.Close()
		return nil, errclass.New("agent.New", errclass.Other, err)
	}

	controller := ncp.New(l, transport)

	ba := borderagent.New(borderagent.Config{
		Vendor:         cfg.Vendor,
		Product:        cfg.Product,
		Availability:   borderagent.AvailabilityHigh,
		DomainEnabled:  true,
		RoutingEnabled: true,
	}, controller, publisher, getStatus)

	adv := advertising.New(publisher, l)

	disc := discovery.New(publisher, newDiscoverySink(controller))

	bb := backbone.New(cfg.ThreadIfName, cfg.BackboneIfName, ndProxy)

	retain := persist.New(cfg.NetworkRetainHook)

	core := ipc.New(controller, ba)

	a := &Agent{
		cfg:         cfg,
		Loop:        l,
		Transport:   transport,
		Controller:  controller,
		Publisher:   publisher,
		BorderAgent: ba,
		Advertising: adv,
		Discovery:   disc,
		Backbone:    bb,
		RetainHook:  retain,
		IPC:         core,
	}
	a.wireBackboneToState()
	a.wireRetainHookToLifecycle()
	return a, nil
}

// newDiscoverySink wires the Discovery Proxy's translated results back
// into the NCP's browse/resolve-result entry points (spec §4.7 step 2:
// "for each resolved instance it calls the NCP's browse-result entry").
// TXT entries are passed through as an opaque "key=value" blob joined
// by NUL bytes; the NCP does not need the Proxy's richer TXTEntries
// type, only the wire-encoded record (spec §1 Non-goals on crypto/UI
// aside, the core never interprets TXT content beyond validation).
func newDiscoverySink(controller *ncp.Controller) discovery.Sink {
	return discovery.Sink{
		OnService: func(callID uint64, r discovery.ServiceResult) {
			txt := []byte(strings.Join(r.TXT.Encode(), "\x00"))
			if err := controller.NotifyServiceResult(callID, r.InstanceName, r.ServiceType, r.HostName, r.Addresses, r.Port, txt, r.Removed); err != nil {
				log.WithField("err", err).Warn("failed to deliver discovery service result to NCP")
			}
		},
		OnAddress: func(callID uint64, r discovery.AddressResult) {
			if err := controller.NotifyAddressResult(callID, r.HostName, r.Addresses, r.Removed); err != nil {
				log.WithField("err", err).Warn("failed to deliver discovery address result to NCP")
			}
		},
	}
}

// wireBackboneToState arms/disarms the Backbone Router whenever the
// NCP's BR state crosses into/out of Primary (spec §4.8).
func (a *Agent) wireBackboneToState() {
	if a.Backbone == nil {
		return
	}
	a.Controller.OnStateChanged(func(flags ncp.ChangeFlags) {
		if !flags.Has(ncp.ChangedBackboneState) {
			return
		}
		state := a.Controller.State()
		switch {
		case state.BRState == ncp.BRPrimary && !a.Backbone.Enabled():
			if err := a.Backbone.Enable(state.DomainPrefix); err != nil {
				log.WithField("err", err).Error("backbone router enable failed")
			}
		case state.BRState != ncp.BRPrimary && a.Backbone.Enabled():
			if err := a.Backbone.Disable(); err != nil {
				log.WithField("err", err).Error("backbone router disable failed")
			}
		}
	})
}

// wireRetainHookToLifecycle fires the network-retain hook on the three
// transitions spec §6.4 names.
func (a *Agent) wireRetainHookToLifecycle() {
	if a.RetainHook == nil {
		return
	}
	var prevActive bool
	a.Controller.OnStateChanged(func(flags ncp.ChangeFlags) {
		if !flags.Has(ncp.ChangedRole) {
			return
		}
		active := a.Controller.State().Role.Active()
		switch {
		case active && !prevActive:
			a.RetainHook.OnSave()
		case !active && prevActive:
			if a.Controller.Lifecycle() == ncp.Offline {
				a.RetainHook.OnErase()
			}
		}
		prevActive = active
	})
	a.Controller.RegisterResetHandler(func() {
		a.RetainHook.OnRecall()
	})
}

// Run initialises the Controller and runs the event loop until it
// terminates (spec §4.1). It returns an error when Init fails or when
// the loop stopped because its thrash guard tripped, and nil otherwise.
func (a *Agent) Run() error {
	if err := a.Controller.Init(); err != nil {
		return err
	}
	log.WithField("radio", a.cfg.RadioURL).Info("agent starting")

	reason := a.Loop.Run(context.Background())
	if reason == loop.ReasonThrash {
		return fmt.Errorf("event loop aborted: thrash guard tripped")
	}
	return nil
}

// Close tears down every owned resource.
func (a *Agent) Close() error {
	if a.Transport != nil {
		_ = a.Transport.Close()
	}
	if a.Publisher != nil {
		_ = a.Publisher.Close()
	}
	return a.Loop.Close()
}
