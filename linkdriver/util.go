package linkdriver

import (
	"errors"
	"io"
	"net"
	"strconv"

	"github.com/peismesh/kernel/wire"
)

var errPortRangeExhausted = errors.New("linkdriver: no free port found in range")

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func itoa(n int) string { return strconv.Itoa(n) }

// isSameSubnet reports whether ip lies inside the network (address and mask)
// of any of our own local interface addresses.
func isSameSubnet(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func isPublicIPv4(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	private := []struct{ net net.IPNet }{
		{net.IPNet{IP: net.IPv4(10, 0, 0, 0), Mask: net.CIDRMask(8, 32)}},
		{net.IPNet{IP: net.IPv4(172, 16, 0, 0), Mask: net.CIDRMask(12, 32)}},
		{net.IPNet{IP: net.IPv4(192, 168, 0, 0), Mask: net.CIDRMask(16, 32)}},
	}
	for _, p := range private {
		if p.net.Contains(ip4) {
			return false
		}
	}
	return true
}

// writeFrameFull writes one wire-framed payload to w in a single call.
func writeFrameFull(w io.Writer, payload []byte) error {
	return wire.WriteFrame(w, payload)
}

// framePump runs a background goroutine turning a blocking io.Reader into a
// channel of frames, so RecvFrame can be non-blocking and report one of
// None, a decoded Frame, or PipeBroken.
type framePump struct {
	frames chan []byte
	err    error
}

func newFramePump(r io.Reader) *framePump {
	fp := &framePump{frames: make(chan []byte, 64)}
	go func() {
		fr := wire.NewFrameReader(r)
		for {
			f, err := fr.ReadFrame()
			if err != nil {
				fp.err = err
				close(fp.frames)
				return
			}
			fp.frames <- f
		}
	}()
	return fp
}
