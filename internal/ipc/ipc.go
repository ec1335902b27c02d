// Package ipc implements only the calls the external D-Bus object-bus
// and REST surfaces make *into* the core (spec §6.3); the surfaces
// themselves -- the bus object, method dispatch, REST routing -- stay
// external collaborators per spec §1 Non-goals.
package ipc

import (
	"github.com/openthread/otbr-agent-go/internal/borderagent"
	"github.com/openthread/otbr-agent-go/internal/ncp"
)

// Core is the thin proxy layer an external bus/REST adapter calls
// through. It holds no state of its own beyond references to the
// components it forwards to.
type Core struct {
	controller   *ncp.Controller
	borderAgent  *borderagent.Agent
}

// New wires a Core to the Controller and Border Agent it proxies calls
// to.
func New(controller *ncp.Controller, ba *borderagent.Agent) *Core {
	return &Core{controller: controller, borderAgent: ba}
}

// SetVendorMeshCoPTxtEntries installs extra TXT keys and triggers a
// Border Agent republish (spec §6.3).
func (c *Core) SetVendorMeshCoPTxtEntries(entries map[string][]byte) {
	c.borderAgent.SetVendorMeshCoPTxtEntries(entries)
}

// GetProperty proxies to the Controller (spec §6.3).
func (c *Core) GetProperty(propID uint32) (ncp.Value, error) {
	return c.controller.GetProperty(propID)
}

// SetProperty proxies to the Controller.
func (c *Core) SetProperty(propID uint32, v ncp.Value) error {
	return c.controller.SetProperty(propID, v)
}

// InsertProperty proxies to the Controller.
func (c *Core) InsertProperty(propID uint32, v ncp.Value) error {
	return c.controller.InsertProperty(propID, v)
}

// RemoveProperty proxies to the Controller.
func (c *Core) RemoveProperty(propID uint32, v ncp.Value) error {
	return c.controller.RemoveProperty(propID, v)
}

// Scan proxies to the Controller's native active-scan property (spec
// §6.3 "scan(parameters) -> beacons").
func (c *Core) Scan(channelMask uint32) ([]ncp.Beacon, error) {
	return c.controller.Scan(channelMask)
}
