package ncp

import (
	"time"

	"github.com/openthread/otbr-agent-go/internal/errclass"
)

// UpgradeProgress reports firmware flash progress (spec §6.1 "firmware
// upgrade hooks (optional)"; modelled on the optional Upgrading state
// of the NCP lifecycle machine in spec §4.3).
type UpgradeProgress struct {
	PercentComplete int
	Done            bool
	Err             error
}

// BeginUpgrade flashes image to the NCP. It is only valid from the
// Uninitialized lifecycle state (spec §4.3: "Upgrading ... from
// Uninitialized only"). Progress is reported by repeatedly posting a
// timer task onto the loop, the same deferral mechanism every other
// long-running NCP operation uses, so the firmware flash never blocks
// the loop thread for more than a poll interval.
func (c *Controller) BeginUpgrade(image []byte, onProgress func(UpgradeProgress)) error {
	c.mu.Lock()
	if c.lifecycle != Uninitialized {
		c.mu.Unlock()
		return errclass.New("ncp.BeginUpgrade", errclass.InvalidState, nil)
	}
	c.lifecycle = Upgrading
	c.mu.Unlock()

	total := len(image)
	const chunk = 512
	sent := 0

	var poll func()
	poll = func() {
		if sent >= total {
			c.setLifecycle(Offline)
			onProgress(UpgradeProgress{PercentComplete: 100, Done: true})
			return
		}
		end := sent + chunk
		if end > total {
			end = total
		}
		if err := c.transport.Send(Frame{Header: headerNotification, ID: 0xF0, Payload: image[sent:end]}); err != nil {
			c.setLifecycle(Fault)
			onProgress(UpgradeProgress{Err: err})
			return
		}
		sent = end
		onProgress(UpgradeProgress{PercentComplete: sent * 100 / max1(total)})
		c.loop.PostTimerTask(time.Now().Add(10*time.Millisecond), poll)
	}
	poll()
	return nil
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// OffMeshRoutes returns the current off-mesh-routable prefix list
// (spec §6.1 "off-mesh routing list"; consumed by the Border Agent's
// `omr` TXT key, spec §4.5).
func (c *Controller) OffMeshRoutes() []OmrPrefix {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OmrPrefix(nil), c.state.OffMeshRoutes...)
}

// Scan issues the native active-scan property request and decodes the
// beacon list (spec §6.3 `scan(parameters) -> beacons`).
type Beacon struct {
	ExtPanID   [8]byte
	ExtMAC     [8]byte
	Channel    uint8
	RSSI       int8
	Network    string
}

func (c *Controller) Scan(channelMask uint32) ([]Beacon, error) {
	const propMacScanBeacon = 0x51
	var mask [4]byte
	mask[0] = byte(channelMask >> 24)
	mask[1] = byte(channelMask >> 16)
	mask[2] = byte(channelMask >> 8)
	mask[3] = byte(channelMask)
	v, err := c.issue("scan", cmdGet, propMacScanBeacon, mask[:])
	if err != nil {
		return nil, err
	}
	return decodeBeacons(v), nil
}

// decodeBeacons parses the wire-encoded beacon list. The exact layout
// is NCP-specific; this is a narrow little-endian record codec
// (extPanID[8] extMAC[8] channel[1] rssi[1] namelen[1] name[namelen]).
func decodeBeacons(v Value) []Beacon {
	var out []Beacon
	i := 0
	for i+19 <= len(v) {
		var b Beacon
		copy(b.ExtPanID[:], v[i:i+8])
		copy(b.ExtMAC[:], v[i+8:i+16])
		b.Channel = v[i+16]
		b.RSSI = int8(v[i+17])
		nameLen := int(v[i+18])
		i += 19
		if i+nameLen > len(v) {
			break
		}
		b.Network = string(v[i : i+nameLen])
		i += nameLen
		out = append(out, b)
	}
	return out
}
