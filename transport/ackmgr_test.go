package transport

import (
	"testing"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/linkdriver"
	"github.com/peismesh/kernel/pool"
	"github.com/peismesh/kernel/wire"
)

func TestAckMgrFlushesOnBatchMax(t *testing.T) {
	cfg := config.Default()
	cfg.AckBatchMax = 2
	a := NewAckMgr(cfg)
	a.Record(5, 100, false)
	if out := a.Flush(0); out != nil {
		t.Fatalf("expected no flush below batch max, got %d", len(out))
	}
	a.Record(5, 101, true)
	out := a.Flush(0)
	if len(out) != 1 {
		t.Fatalf("expected one batch flushed, got %d", len(out))
	}
	ids := DecodeAckIDs(out[0].Payload)
	if len(ids) != 2 || ids[0] != 100 || ids[1] != 101 {
		t.Fatalf("unexpected ack ids: %v", ids)
	}
	if out[0].Flags&wire.RequestAck == 0 {
		t.Fatalf("expected RequestAck flag since one bundled ack was hi-pri")
	}
	if out[0].Port != PortAcknowledgements || out[0].Destination != 5 {
		t.Fatalf("unexpected header: %+v", out[0].Header)
	}
}

func TestAckMgrFlushesOnPeriod(t *testing.T) {
	cfg := config.Default()
	cfg.AckBatchPeriod = 10
	cfg.AckBatchMax = 1000
	a := NewAckMgr(cfg)
	a.Record(5, 1, false)
	if out := a.Flush(20); len(out) != 1 {
		t.Fatalf("expected period-triggered flush, got %d", len(out))
	}
}

func TestApplyAckFiresAndRemoves(t *testing.T) {
	cfg := config.Default()
	p := pool.New(8)
	d := linkdriver.NewLoopbackDriver()
	_, _ = d.Listen("y")
	pend, _ := d.Dial("y")
	var link linkdriver.Link
	for link == nil {
		if ok, l, _, _ := pend.Poll(); ok {
			link = l
		}
	}
	c := New(1, link, cfg, p)

	qp := p.Get()
	qp.Pkg.ID = 42
	ok := false
	qp.AddCallback(func(o bool, code int, data any) { ok = o }, nil)
	c.queues[PriAck].pushBack(qp)

	if !ApplyAck(c, 42) {
		t.Fatalf("expected match on ackID 42")
	}
	if !ok {
		t.Fatalf("expected success callback to fire")
	}
	if c.queues[PriAck].Len() != 0 {
		t.Fatalf("expected queue emptied after ack applied")
	}
	if ApplyAck(c, 42) {
		t.Fatalf("second apply of the same ackID must not match again")
	}
}
