package linkdriver

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/peismesh/kernel/wire"
)

// writeDeadline bounds a single Send attempt so it can report WouldBlock
// instead of blocking the cooperative step loop.
const writeDeadline = 2 * time.Millisecond

// StreamDriver implements linkdriver.Driver over TCP: the stream transport
// family, used for Ethernet/Wi-Fi peers and for loopback.
type StreamDriver struct{}

func NewStreamDriver() *StreamDriver { return &StreamDriver{} }

func (d *StreamDriver) Family() wire.Family { return wire.FamilyStream }

func (d *StreamDriver) Listen(addr string) (Listener, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, "0"
	}
	// bind to a free port if the requested one is taken, incrementing
	// until success or exhaustion.
	startPort := atoiOr(port, 0)
	for p := startPort; p < startPort+1000; p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, itoa(p)))
		if err == nil {
			return &streamListener{ln: ln.(*net.TCPListener)}, nil
		}
		if !strings.Contains(err.Error(), "address already in use") {
			return nil, err
		}
	}
	return nil, errPortRangeExhausted
}

func (d *StreamDriver) Dial(addr string) (PendingLink, error) {
	p := &streamPending{addr: addr, done: make(chan struct{})}
	go func() {
		conn, err := dialWithBudget("tcp", addr)
		p.mu.Lock()
		p.conn, p.err = conn, err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func (d *StreamDriver) LocalAddresses() ([]wire.LowLevelAddress, error) {
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var out []wire.LowLevelAddress
	for _, a := range ifaces {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		out = append(out, wire.LowLevelAddress{
			Family:     wire.FamilyStream,
			Raw:        append([]byte(nil), ip4...),
			IsLoopback: ipnet.IP.IsLoopback(),
		})
	}
	return out, nil
}

func (d *StreamDriver) IsReachable(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || isSameSubnet(ip) || isPublicIPv4(ip) {
		return true
	}
	return false
}

type streamListener struct{ ln *net.TCPListener }

func (l *streamListener) Accept() (Link, error) {
	_ = l.ln.SetDeadline(time.Now().Add(time.Microsecond))
	conn, err := l.ln.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return newStreamLink(conn), nil
}

func (l *streamListener) Close() error { return l.ln.Close() }

type streamPending struct {
	addr string
	mu   sync.Mutex
	conn net.Conn
	err  error
	done chan struct{}
}

func (p *streamPending) Poll() (bool, Link, bool, error) {
	select {
	case <-p.done:
	default:
		return false, nil, false, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return false, nil, true, p.err
	}
	return true, newStreamLink(p.conn), false, nil
}

type streamLink struct {
	conn net.Conn
	fr   *framePump
}

func newStreamLink(conn net.Conn) *streamLink {
	sl := &streamLink{conn: conn}
	sl.fr = newFramePump(conn)
	return sl
}

func (l *streamLink) SendFrame(b []byte) (SendResult, error) {
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	err := writeFrameFull(l.conn, b)
	if err == nil {
		return SendOK, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return SendWouldBlock, nil
	}
	if err == io.ErrClosedPipe || err == io.EOF {
		return SendPipeBroken, err
	}
	return SendPipeBroken, err
}

func (l *streamLink) RecvFrame() (RecvResult, []byte, error) {
	select {
	case f, ok := <-l.fr.frames:
		if !ok {
			return RecvPipeBroken, nil, l.fr.err
		}
		return RecvFrame, f, nil
	default:
		return RecvNone, nil, nil
	}
}

func (l *streamLink) Close() error { return l.conn.Close() }

func (l *streamLink) RemoteAddr() wire.LowLevelAddress {
	host, port, _ := net.SplitHostPort(l.conn.RemoteAddr().String())
	ip := net.ParseIP(host)
	var raw []byte
	if ip != nil {
		raw = ip.To4()
	}
	p := atoiOr(port, 0)
	return wire.LowLevelAddress{Family: wire.FamilyStream, Raw: raw, Port: uint16(p), IsLoopback: ip != nil && ip.IsLoopback()}
}
