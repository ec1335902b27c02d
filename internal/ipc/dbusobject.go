package ipc

import (
	"github.com/godbus/dbus/v5"

	"github.com/openthread/otbr-agent-go/internal/errclass"
)

// D-Bus object identity for the three calls spec §6.3 names as
// in-scope; the bus object's export/registration and the REST surface
// itself remain external collaborators (spec §1) -- this file only
// gives Core's methods D-Bus-callable signatures so an external
// exporter (dbus.ExportMethodTable or similar) has something to bind.
const (
	ObjectPath = dbus.ObjectPath("/io/openthread/BorderRouter")
	Interface  = "io.openthread.BorderRouter1"
)

// DBusSetVendorMeshCoPTxtEntries adapts SetVendorMeshCoPTxtEntries to
// the (map[string][]byte) -> *dbus.Error signature go-dbus method
// tables expect.
func (c *Core) DBusSetVendorMeshCoPTxtEntries(entries map[string][]byte) *dbus.Error {
	c.SetVendorMeshCoPTxtEntries(entries)
	return nil
}

// DBusGetProperty adapts GetProperty, translating errclass failures to
// a named D-Bus error so daemon-specific error codes never leak the
// other direction across this boundary.
func (c *Core) DBusGetProperty(propID uint32) ([]byte, *dbus.Error) {
	v, err := c.GetProperty(propID)
	if err != nil {
		return nil, dbus.NewError(Interface+"."+errclass.KindOf(err).String(), nil)
	}
	return v, nil
}

// DBusScan adapts Scan to a D-Bus-callable signature. Each beacon is
// returned as its 8-byte extended MAC address only; the other
// ncp.Beacon fields are not carried.
func (c *Core) DBusScan(channelMask uint32) ([][]byte, *dbus.Error) {
	beacons, err := c.Scan(channelMask)
	if err != nil {
		return nil, dbus.NewError(Interface+"."+errclass.KindOf(err).String(), nil)
	}
	out := make([][]byte, 0, len(beacons))
	for _, b := range beacons {
		out = append(out, append([]byte{}, b.ExtMAC[:]...))
	}
	return out, nil
}
