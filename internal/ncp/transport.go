package ncp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/openthread/otbr-agent-go/internal/errclass"
	"github.com/openthread/otbr-agent-go/internal/logging"
)

var tlog = logging.For("ncp-transport")

// Frame is one spinel-like length-delimited frame: a header byte, a
// command/property id, and an opaque payload (spec §4.2).
type Frame struct {
	Header  byte
	ID      uint32
	Payload []byte
}

// Transport is the link between the controller and the radio
// co-processor. It frames/deframes a spinel-like protocol over
// whichever concrete medium RadioURL selects (spec §4.2).
type Transport interface {
	// Send writes one outgoing frame, applying the send window.
	Send(f Frame) error
	// Frames returns the channel of incoming frames, fed by the
	// transport's own read goroutine until the transport is closed.
	Frames() <-chan Frame
	// ResetRequested reports unrecoverable framing errors detected
	// asynchronously; the controller's dispatchLoop goroutine receives
	// from it rather than the transport calling back into it.
	ResetRequested() <-chan struct{}
	Close() error
}

// Open parses radioURL (the CLI's positional argument, spec §6.5) and
// returns the transport it names. Recognised schemes:
//
//	spinel+hdlc+uart://<device>?baudrate=115200
//	spinel+spi://<device>
//	spinel+stream+net://<host>:<port>
//	spinel+stream+forkpty://<path> <args...>
func Open(radioURL string) (Transport, error) {
	u, err := url.Parse(radioURL)
	if err != nil {
		return nil, errclass.New("ncp.Open", errclass.InvalidArgs, err)
	}

	switch {
	case strings.Contains(u.Scheme, "uart"), strings.Contains(u.Scheme, "spi"):
		baud := 115200
		if b := u.Query().Get("baudrate"); b != "" {
			if v, err := strconv.Atoi(b); err == nil {
				baud = v
			}
		}
		return newSerialTransport(u.Path, baud)
	case strings.Contains(u.Scheme, "net"):
		return newSocketTransport(u.Host)
	case strings.Contains(u.Scheme, "forkpty"), strings.Contains(u.Scheme, "exec"):
		args := strings.Fields(u.Path)
		if len(args) == 0 {
			return nil, errclass.New("ncp.Open", errclass.InvalidArgs, fmt.Errorf("empty subprocess command"))
		}
		return newPipeTransport(args[0], args[1:]...)
	default:
		return nil, errclass.New("ncp.Open", errclass.InvalidArgs, fmt.Errorf("unrecognised radio URL scheme %q", u.Scheme))
	}
}

// framedRW provides the shared length-delimited frame codec over any
// io.ReadWriteCloser, along with a bounded send window and the
// reset-on-unrecoverable-error policy every concrete transport shares
// (spec §4.2). It performs no NAK retransmission: a failed write is
// returned to the caller and raises a reset request.
type framedRW struct {
	rw   io.ReadWriteCloser
	mu   sync.Mutex
	in   chan Frame
	rst  chan struct{}
	wnd  chan struct{} // send window tokens
	done chan struct{}
}

const sendWindowSize = 4

func newFramedRW(rw io.ReadWriteCloser) *framedRW {
	f := &framedRW{
		rw:   rw,
		in:   make(chan Frame, 16),
		rst:  make(chan struct{}, 1),
		wnd:  make(chan struct{}, sendWindowSize),
		done: make(chan struct{}),
	}
	for i := 0; i < sendWindowSize; i++ {
		f.wnd <- struct{}{}
	}
	go f.readLoop()
	return f
}

func (f *framedRW) Frames() <-chan Frame          { return f.in }
func (f *framedRW) ResetRequested() <-chan struct{} { return f.rst }

func (f *framedRW) Close() error {
	close(f.done)
	return f.rw.Close()
}

func (f *framedRW) requestReset(reason error) {
	tlog.WithError(reason).Warn("unrecoverable framing error, requesting NCP reset")
	select {
	case f.rst <- struct{}{}:
	default:
	}
}

// Send writes (header, id, payload) as a length-prefixed frame,
// blocking on the send window; a held token is only released once the
// write completes, matching the source's reliability-layer model of
// "don't outrun the link".
func (f *framedRW) Send(fr Frame) error {
	<-f.wnd
	defer func() { f.wnd <- struct{}{} }()

	f.mu.Lock()
	defer f.mu.Unlock()

	body := make([]byte, 5+len(fr.Payload))
	body[0] = fr.Header
	binary.BigEndian.PutUint32(body[1:5], fr.ID)
	copy(body[5:], fr.Payload)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := f.rw.Write(lenBuf[:]); err != nil {
		f.requestReset(err)
		return errclass.New("ncp.Send", errclass.Other, err)
	}
	if _, err := f.rw.Write(body); err != nil {
		f.requestReset(err)
		return errclass.New("ncp.Send", errclass.Other, err)
	}
	return nil
}

func (f *framedRW) readLoop() {
	r := bufio.NewReader(f.rw)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err != io.EOF {
				f.requestReset(err)
			}
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n < 5 || n > 1<<20 {
			f.requestReset(fmt.Errorf("implausible frame length %d", n))
			return
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			f.requestReset(err)
			return
		}
		fr := Frame{
			Header:  body[0],
			ID:      binary.BigEndian.Uint32(body[1:5]),
			Payload: body[5:],
		}
		select {
		case f.in <- fr:
		case <-f.done:
			return
		}
	}
}

// socketTransport carries the link over a TCP connection it dials to a
// simulated or networked NCP (spec §4.2). It does not listen for an
// incoming connection.
type socketTransport struct {
	*framedRW
	conn net.Conn
}

func newSocketTransport(hostport string) (Transport, error) {
	conn, err := net.Dial("tcp", hostport)
	if err != nil {
		return nil, errclass.New("ncp.newSocketTransport", errclass.Other, err)
	}
	return &socketTransport{framedRW: newFramedRW(conn), conn: conn}, nil
}

// pipeTransport opens a sub-process whose stdio is the link (spec §4.2
// "a forked pipe").
type pipeTransport struct {
	*framedRW
	cmd *exec.Cmd
}

type pipeRWC struct {
	io.ReadCloser
	io.WriteCloser
}

func (p pipeRWC) Close() error {
	werr := p.WriteCloser.Close()
	rerr := p.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func newPipeTransport(name string, args ...string) (Transport, error) {
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errclass.New("ncp.newPipeTransport", errclass.Other, err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errclass.New("ncp.newPipeTransport", errclass.Other, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errclass.New("ncp.newPipeTransport", errclass.Other, err)
	}
	rwc := pipeRWC{ReadCloser: stdout, WriteCloser: stdin}
	return &pipeTransport{framedRW: newFramedRW(rwc), cmd: cmd}, nil
}

func (p *pipeTransport) Close() error {
	err := p.framedRW.Close()
	_ = p.cmd.Process.Kill()
	_, _ = p.cmd.Process.Wait()
	return err
}
