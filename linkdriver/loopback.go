package linkdriver

import (
	"errors"
	"net"
	"sync"

	"github.com/peismesh/kernel/wire"
)

// LoopbackDriver connects in-process peers through net.Pipe, used by tests
// and by two kernels sharing one process without opening real sockets. It
// still goes through wire's frame format, so it exercises the same framing
// code path as the stream driver.
type LoopbackDriver struct {
	mu        sync.Mutex
	listeners map[string]*loopbackListener
}

func NewLoopbackDriver() *LoopbackDriver {
	return &LoopbackDriver{listeners: make(map[string]*loopbackListener)}
}

func (d *LoopbackDriver) Family() wire.Family { return wire.FamilyStream }

func (d *LoopbackDriver) Listen(addr string) (Listener, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &loopbackListener{addr: addr, incoming: make(chan net.Conn, 16)}
	d.listeners[addr] = l
	return l, nil
}

func (d *LoopbackDriver) Dial(addr string) (PendingLink, error) {
	p := &loopbackPending{done: make(chan struct{})}
	go func() {
		d.mu.Lock()
		l, ok := d.listeners[addr]
		d.mu.Unlock()
		if !ok {
			p.err = errNoSuchListener
			close(p.done)
			return
		}
		client, server := net.Pipe()
		select {
		case l.incoming <- server:
			p.conn = client
		default:
			p.err = errListenerBusy
			client.Close()
			server.Close()
		}
		close(p.done)
	}()
	return p, nil
}

func (d *LoopbackDriver) LocalAddresses() ([]wire.LowLevelAddress, error) {
	return []wire.LowLevelAddress{{Family: wire.FamilyStream, Raw: []byte{127, 0, 0, 1}, IsLoopback: true, Device: "lo"}}, nil
}

func (d *LoopbackDriver) IsReachable(string) bool { return true }

type loopbackListener struct {
	addr     string
	incoming chan net.Conn
}

func (l *loopbackListener) Accept() (Link, error) {
	select {
	case conn := <-l.incoming:
		return newStreamLink(conn), nil
	default:
		return nil, nil
	}
}

func (l *loopbackListener) Close() error { return nil }

type loopbackPending struct {
	conn net.Conn
	err  error
	done chan struct{}
}

func (p *loopbackPending) Poll() (bool, Link, bool, error) {
	select {
	case <-p.done:
	default:
		return false, nil, false, nil
	}
	if p.err != nil {
		return false, nil, true, p.err
	}
	return true, newStreamLink(p.conn), false, nil
}

var (
	errNoSuchListener = errors.New("linkdriver: no listener at that address")
	errListenerBusy   = errors.New("linkdriver: listener's incoming queue is full")
)
