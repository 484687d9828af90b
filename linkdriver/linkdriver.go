// Package linkdriver defines the per-transport-family link contract
// and provides two concrete drivers: a TCP-like stream driver (used
// for Ethernet/Wi-Fi peers and loopback) and an in-process driver used by
// tests and by two kernels sharing one process. Bluetooth/HCI scanning,
// serial/XBee framing and the GTK browser are out of scope and
// are not implemented here; a conforming driver for them only needs to
// satisfy the Driver/Link interfaces below.
package linkdriver

import (
	"bufio"
	"errors"
	"net"
	"time"

	"github.com/peismesh/kernel/wire"
)

// SendResult is the outcome of a non-blocking Send.
type SendResult int

const (
	SendOK SendResult = iota
	SendWouldBlock
	SendPipeBroken
)

// RecvResult is the outcome of a non-blocking Recv.
type RecvResult int

const (
	RecvNone RecvResult = iota
	RecvFrame
	RecvPipeBroken
)

var ErrNotReady = errors.New("linkdriver: link not yet established")

// Link is one established, byte-oriented connection. Frame boundaries are
// preserved by the driver (stream drivers do so via wire's sync/length/
// checksum framing; record-oriented transports rely on their own boundary).
type Link interface {
	SendFrame(b []byte) (SendResult, error)
	RecvFrame() (RecvResult, []byte, error)
	Close() error
	RemoteAddr() wire.LowLevelAddress
}

// PendingLink is a non-blocking outbound dial in progress.
type PendingLink interface {
	// Poll reports whether the dial has resolved yet: established is true
	// (and link non-nil) on success, failed is true (with err) on permanent
	// failure, and both are false while the dial is still in progress.
	Poll() (established bool, link Link, failed bool, err error)
}

// Listener accepts inbound links for one address family.
type Listener interface {
	// Accept is non-blocking: returns (nil, nil) when nothing is pending.
	Accept() (Link, error)
	Close() error
}

// Driver is the contract every transport family implements.
type Driver interface {
	Family() wire.Family
	Listen(addr string) (Listener, error)
	Dial(addr string) (PendingLink, error)
	LocalAddresses() ([]wire.LowLevelAddress, error)
	// IsReachable is a best-effort predicate used by ConnMgr: for
	// datagram/stream IPv4, same-subnet or public-IPv4; for L2CAP, recent
	// RSSI above a threshold.
	IsReachable(addr string) bool
}

// BeaconDriver is the specialised contract for the multicast beacon channel
// and the L2CAP "hello" port.
type BeaconDriver interface {
	BroadcastBeacon(payload []byte) error
	// RecvBeacon is non-blocking: returns (nil, "", nil) when nothing is pending.
	RecvBeacon() ([]byte, string, error)
}

// connectTimeoutBudget bounds any unavoidable blocking call (e.g. name
// resolution) to an overall 100ms budget.
const connectTimeoutBudget = 100 * time.Millisecond

// dialWithBudget resolves+dials addr, aborting if it exceeds the budget.
func dialWithBudget(network, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: connectTimeoutBudget}
	return d.Dial(network, addr)
}

// bufReaderFor wraps a net.Conn for use with wire.NewFrameReader.
func bufReaderFor(c net.Conn) *bufio.Reader { return bufio.NewReader(c) }
