package transport

import (
	"testing"
	"time"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/linkdriver"
	"github.com/peismesh/kernel/pool"
	"github.com/peismesh/kernel/wire"
)

func dialLoopbackPair(t *testing.T) (linkdriver.Link, linkdriver.Link) {
	t.Helper()
	d := linkdriver.NewLoopbackDriver()
	ln, err := d.Listen("x")
	if err != nil {
		t.Fatal(err)
	}
	pend, err := d.Dial("x")
	if err != nil {
		t.Fatal(err)
	}
	var client linkdriver.Link
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ok, l, failed, perr := pend.Poll(); ok || failed {
			if perr != nil {
				t.Fatal(perr)
			}
			client = l
			break
		}
		time.Sleep(time.Millisecond)
	}
	var server linkdriver.Link
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if l, _ := ln.Accept(); l != nil {
			server = l
			break
		}
		time.Sleep(time.Millisecond)
	}
	if client == nil || server == nil {
		t.Fatal("loopback pair never established")
	}
	return client, server
}

func TestEnqueueAndDrainDelivers(t *testing.T) {
	cfg := config.Default()
	p := pool.New(64)
	client, server := dialLoopbackPair(t)
	cSend := New(1, client, cfg, p)
	cRecv := New(2, server, cfg, p)

	qp := p.Get()
	qp.Pkg = wire.Package{Header: wire.Header{Sync: wire.SyncConst, Port: 20, Source: 1, Destination: 2}}
	done := make(chan bool, 1)
	qp.AddCallback(func(ok bool, code int, data any) { done <- ok }, nil)
	if err := cSend.Enqueue(qp, PriNormal); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cSend.DrainOutgoing(0)
		select {
		case ok := <-done:
			if !ok {
				t.Fatalf("expected success callback")
			}
			goto recvd
		default:
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("send never completed")
recvd:
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pkg, err := cRecv.ProcessIncoming()
		if err != nil {
			t.Fatalf("ProcessIncoming: %v", err)
		}
		if pkg != nil {
			if pkg.Port != 20 || pkg.Source != 1 {
				t.Fatalf("unexpected package: %+v", pkg.Header)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("never received the package")
}

func TestCloseFiresFailureForAllQueued(t *testing.T) {
	cfg := config.Default()
	p := pool.New(64)
	client, _ := dialLoopbackPair(t)
	c := New(1, client, cfg, p)

	var fired int
	for i := 0; i < 3; i++ {
		qp := p.Get()
		qp.AddCallback(func(ok bool, code int, data any) {
			fired++
			if ok {
				t.Fatalf("expected failure callback on close")
			}
		}, nil)
		c.queues[PriNormal].pushBack(qp)
	}
	c.Close(1)
	if fired != 3 {
		t.Fatalf("expected 3 failure callbacks, got %d", fired)
	}
	c.Close(1) // idempotent: must not panic or re-fire
	if fired != 3 {
		t.Fatalf("Close must be idempotent, got %d callbacks", fired)
	}
}

func TestQueueFullRejectsEnqueue(t *testing.T) {
	cfg := config.Default()
	cfg.QueueCapNormal = 1
	p := pool.New(64)
	client, _ := dialLoopbackPair(t)
	c := New(1, client, cfg, p)

	qp1 := p.Get()
	if err := c.Enqueue(qp1, PriNormal); err != nil {
		t.Fatalf("first enqueue should succeed: %v", err)
	}
	qp2 := p.Get()
	failed := false
	qp2.AddCallback(func(ok bool, code int, data any) {
		if ok {
			t.Fatalf("expected failure")
		}
		failed = true
	}, nil)
	if err := c.Enqueue(qp2, PriNormal); err == nil {
		t.Fatalf("expected QueueFull error")
	}
	if !failed {
		t.Fatalf("expected failure callback to fire on queue-full")
	}
}
