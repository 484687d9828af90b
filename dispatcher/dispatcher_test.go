package dispatcher

import (
	"testing"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/pool"
	"github.com/peismesh/kernel/router"
	"github.com/peismesh/kernel/transport"
	"github.com/peismesh/kernel/wire"
)

func TestDispatchDropsDuplicateByID(t *testing.T) {
	cfg := config.Default()
	d := New(cfg, router.New(1, cfg), pool.New(64), 1)
	var calls int
	d.RegisterHook(5, func(p *wire.Package, from int32) { calls++ })

	p := &wire.Package{Header: wire.Header{ID: 42, Type: wire.TypeLinkLocal, Port: 5}}
	d.Dispatch(p, 9)
	d.Dispatch(p, 9)
	if calls != 1 {
		t.Fatalf("expected hook to fire exactly once, got %d", calls)
	}
}

func TestDispatchDeliversLinkLocalLocally(t *testing.T) {
	cfg := config.Default()
	d := New(cfg, router.New(1, cfg), pool.New(64), 1)
	var got *wire.Package
	d.RegisterHook(7, func(p *wire.Package, from int32) { got = p })
	d.Dispatch(&wire.Package{Header: wire.Header{ID: 1, Type: wire.TypeLinkLocal, Port: 7}}, 3)
	if got == nil {
		t.Fatalf("expected hook invocation")
	}
}

func TestDirectedToSelfDeliversLocally(t *testing.T) {
	cfg := config.Default()
	d := New(cfg, router.New(5, cfg), pool.New(64), 5)
	var got bool
	d.RegisterHook(1, func(p *wire.Package, from int32) { got = true })
	d.Dispatch(&wire.Package{Header: wire.Header{ID: 1, Type: wire.TypeDirected, Destination: 5, Port: 1}}, 9)
	if !got {
		t.Fatalf("expected local delivery when directed at self")
	}
}

func TestForwardWithNoRouteIsANoop(t *testing.T) {
	cfg := config.Default()
	d := New(cfg, router.New(1, cfg), pool.New(64), 1)
	// destination 99 has no route and no direct connection: forward must not panic
	d.Dispatch(&wire.Package{Header: wire.Header{ID: 1, Type: wire.TypeDirected, Destination: 99, Port: 1}}, 9)
}

func TestSendReliableFragmentsAcrossPayloadBoundary(t *testing.T) {
	cfg := config.Default()
	cfg.MaxPayload = 4
	p := pool.New(64)
	d := New(cfg, router.New(1, cfg), p, 1)
	c := transport.New(2, nil, cfg, p)
	d.AddConn(2, c)

	if err := d.SendReliable(2, 10, []byte("abcdefghij"), transport.PriNormal); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}
	if n := c.QueueDepth(transport.PriNormal); n != 3 {
		t.Fatalf("expected 3 fragments enqueued (4+4+2 bytes), got %d", n)
	}
}
