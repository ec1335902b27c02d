// Package backbone implements the optional Backbone Router
// multicast-forwarding surface of spec §4.8: it maintains the
// Multicast Listener set, installs/tears down OS multicast routes on
// Primary entry/exit, and arms ND-proxy for the domain prefix.
package backbone

import (
	"sync"

	"github.com/openthread/otbr-agent-go/internal/logging"
)

var log = logging.For("backbone-router")

// NDProxy arms/disarms neighbor-discovery proxying for a domain
// prefix; the real implementation is a thin netlink/ioctl wrapper that
// stays outside this module's scope (spec §1 Non-goals: no protocol
// stack internals), so callers provide one.
type NDProxy interface {
	Arm(domainPrefix []byte) error
	Disarm() error
}

// Router owns the multicast-listener set and drives smcroutectl and
// the ND-proxy across Primary-entry/exit transitions (spec §4.8).
type Router struct {
	threadIfName   string
	backboneIfName string

	ctl     *smcrouteCtl
	ndProxy NDProxy

	mu        sync.Mutex
	enabled   bool
	listeners map[string]struct{}
}

// New constructs a Router bound to the given Thread and backbone
// interface names (spec §6.1 NCP platform surface: backbone-router
// enable/state/config).
func New(threadIfName, backboneIfName string, ndProxy NDProxy) *Router {
	return &Router{
		threadIfName:   threadIfName,
		backboneIfName: backboneIfName,
		ctl:            newSMCRouteCtl(),
		ndProxy:        ndProxy,
		listeners:      map[string]struct{}{},
	}
}

// Enable installs the outbound-multicast wildcard rule and a route for
// every address already in the listener set, after flushing the table
// (spec §4.8 "flushes the route table before each bulk reconfiguration").
func (r *Router) Enable(domainPrefix []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		return nil
	}
	r.enabled = true

	if err := r.ctl.flush(); err != nil {
		log.WithField("err", err).Warn("smcroute flush failed on enable")
	}
	if err := r.ctl.allowOutboundMulticast(r.threadIfName, r.backboneIfName); err != nil {
		return err
	}
	for addr := range r.listeners {
		if err := r.ctl.addRoute(r.backboneIfName, addr, r.threadIfName); err != nil {
			return err
		}
	}
	if r.ndProxy != nil {
		if err := r.ndProxy.Arm(domainPrefix); err != nil {
			return err
		}
	}
	log.Info("backbone router enabled (Primary entry)")
	return nil
}

// Disable tears everything Enable installed down, in the reverse
// order (spec §4.8 "on Primary-exit, tears both down").
func (r *Router) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return nil
	}
	r.enabled = false

	if r.ndProxy != nil {
		if err := r.ndProxy.Disarm(); err != nil {
			log.WithField("err", err).Warn("nd-proxy disarm failed")
		}
	}
	if err := r.ctl.flush(); err != nil {
		log.WithField("err", err).Warn("smcroute flush failed on disable")
	}
	for addr := range r.listeners {
		if err := r.ctl.deleteRoute(r.backboneIfName, addr, r.threadIfName); err != nil {
			log.WithField("err", err).Warn("route delete failed on disable")
		}
	}
	if err := r.ctl.forbidOutboundMulticast(r.threadIfName, r.backboneIfName); err != nil {
		return err
	}
	log.Info("backbone router disabled (Primary exit)")
	return nil
}

// AddListener installs a route for address immediately if the router
// is enabled, after flushing the table (spec §4.8 "Exposes add/remove
// of individual listener addresses").
func (r *Router) AddListener(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.listeners[address]; dup {
		return nil
	}
	r.listeners[address] = struct{}{}
	if !r.enabled {
		return nil
	}
	if err := r.ctl.flush(); err != nil {
		log.WithField("err", err).Warn("smcroute flush failed on add listener")
	}
	return r.ctl.addRoute(r.backboneIfName, address, r.threadIfName)
}

// RemoveListener tears down the route for address if the router is
// enabled.
func (r *Router) RemoveListener(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[address]; !ok {
		return nil
	}
	delete(r.listeners, address)
	if !r.enabled {
		return nil
	}
	if err := r.ctl.flush(); err != nil {
		log.WithField("err", err).Warn("smcroute flush failed on remove listener")
	}
	return r.ctl.deleteRoute(r.backboneIfName, address, r.threadIfName)
}

// Listeners returns a snapshot of the current multicast-listener set.
func (r *Router) Listeners() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.listeners))
	for addr := range r.listeners {
		out = append(out, addr)
	}
	return out
}

func (r *Router) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}
