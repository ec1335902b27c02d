package ncp

import "encoding/binary"

// Notification IDs the Discovery Proxy pushes results back to the NCP
// on (spec §4.7 step 2: "calls the NCP's browse/resolve-result entry
// point"). These are one-way: the NCP does not reply, so they go out
// as plain notification frames rather than through issue/issueAsync.
const (
	notifyServiceResult byte = 0x60
	notifyAddressResult byte = 0x61
)

func putLenPrefixed(buf []byte, s []byte) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

// NotifyServiceResult pushes one ServiceBrowser/ServiceResolver result
// back to the NCP's platform layer. txt is the already wire-encoded
// TXT blob; ncp does not interpret TXT contents (spec §1 Non-goals).
func (c *Controller) NotifyServiceResult(callID uint64, instanceName, serviceType, hostName string, addresses []string, port uint16, txt []byte, removed bool) error {
	buf := make([]byte, 0, 64+len(txt))
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], callID)
	buf = append(buf, idBuf[:]...)
	if removed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	buf = append(buf, portBuf[:]...)
	buf = putLenPrefixed(buf, []byte(instanceName))
	buf = putLenPrefixed(buf, []byte(serviceType))
	buf = putLenPrefixed(buf, []byte(hostName))
	buf = append(buf, byte(len(addresses)))
	for _, a := range addresses {
		buf = putLenPrefixed(buf, []byte(a))
	}
	buf = append(buf, byte(len(txt)>>8), byte(len(txt)))
	buf = append(buf, txt...)

	return c.transport.Send(Frame{Header: headerNotification, ID: uint32(notifyServiceResult), Payload: buf})
}

// NotifyAddressResult pushes one address-resolver result back to the
// NCP's platform layer (spec §4.7 step 2).
func (c *Controller) NotifyAddressResult(callID uint64, hostName string, addresses []string, removed bool) error {
	buf := make([]byte, 0, 32)
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], callID)
	buf = append(buf, idBuf[:]...)
	if removed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = putLenPrefixed(buf, []byte(hostName))
	buf = append(buf, byte(len(addresses)))
	for _, a := range addresses {
		buf = putLenPrefixed(buf, []byte(a))
	}

	return c.transport.Send(Frame{Header: headerNotification, ID: uint32(notifyAddressResult), Payload: buf})
}
