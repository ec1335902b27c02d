//go:build linux

package ncp

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/openthread/otbr-agent-go/internal/errclass"
)

// baudConstants maps a requested integer baud rate to the termios
// speed constant. A rate not in this table falls back to 115200.
var baudConstants = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// newSerialTransport opens a character device NCP link (spec §4.2 "a
// character device (baud/framing configured)") and configures raw,
// 8N1, no-flow-control termios per the baud rate requested.
func newSerialTransport(path string, baud int) (Transport, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, errclass.New("ncp.newSerialTransport", errclass.Other, err)
	}

	speed, ok := baudConstants[baud]
	if !ok {
		speed = unix.B115200
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, errclass.New("ncp.newSerialTransport", errclass.Other, err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		_ = unix.Close(fd)
		return nil, errclass.New("ncp.newSerialTransport", errclass.Other, err)
	}

	f := os.NewFile(uintptr(fd), path)
	return &socketTransport{framedRW: newFramedRW(f), conn: nil}, nil
}
