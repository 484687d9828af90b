package router

import (
	"testing"

	"github.com/peismesh/kernel/config"
)

func TestIngestAcceptsHigherSeq(t *testing.T) {
	cfg := config.Default()
	tbl := New(1, cfg)
	tbl.Ingest(2, []Advert{{Dest: 9, Hops: 3, Seq: 5}}, 1, 0)
	e, ok := tbl.Lookup(9)
	if !ok || e.Hops != 4 || e.NextHop != 2 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	tbl.Ingest(2, []Advert{{Dest: 9, Hops: 1, Seq: 6}}, 1, 1)
	e, _ = tbl.Lookup(9)
	if e.Seq != 6 || e.Hops != 2 {
		t.Fatalf("expected higher-seq update applied, got %+v", e)
	}
}

func TestIngestRejectsStaleSeq(t *testing.T) {
	cfg := config.Default()
	tbl := New(1, cfg)
	tbl.Ingest(2, []Advert{{Dest: 9, Hops: 1, Seq: 10}}, 1, 0)
	tbl.Ingest(2, []Advert{{Dest: 9, Hops: 0, Seq: 9}}, 1, 1)
	e, _ := tbl.Lookup(9)
	if e.Seq != 10 {
		t.Fatalf("lower seq must not override, got seq %d", e.Seq)
	}
}

func TestIngestSameSeqPrefersFewerHops(t *testing.T) {
	cfg := config.Default()
	tbl := New(1, cfg)
	tbl.Ingest(2, []Advert{{Dest: 9, Hops: 5, Seq: 1}}, 1, 0)
	tbl.Ingest(3, []Advert{{Dest: 9, Hops: 1, Seq: 1}}, 1, 1)
	e, _ := tbl.Lookup(9)
	if e.NextHop != 3 || e.Hops != 2 {
		t.Fatalf("expected the lower-hop same-seq path to win, got %+v", e)
	}
}

func TestIngestNeverInstallsRouteToSelf(t *testing.T) {
	cfg := config.Default()
	tbl := New(1, cfg)
	tbl.Ingest(2, []Advert{{Dest: 1, Hops: 0, Seq: 1}}, 1, 0)
	if tbl.Len() != 0 {
		t.Fatalf("must not install a route back to ourselves")
	}
}

func TestAgeSweepEntersOutdatedThenDies(t *testing.T) {
	cfg := config.Default()
	cfg.RouteOutdatedBand = 250
	cfg.RouteDeadBand = 252
	tbl := New(1, cfg)
	var dead int32 = -1
	tbl.OnRouteDead(func(d int32) { dead = d })
	tbl.Ingest(2, []Advert{{Dest: 9, Hops: 1, Seq: 1}}, 0, 0)

	tbl.AgeSweep(100, 50) // LastUpdated(0) <= 50: stale
	e, _ := tbl.Lookup(9)
	if e.Hops != 250 {
		t.Fatalf("expected entry to jump into outdated band, got %d", e.Hops)
	}
	tbl.AgeSweep(200, 150)
	e, _ = tbl.Lookup(9)
	if e.Hops != 251 {
		t.Fatalf("expected one more aging step, got %d", e.Hops)
	}
	tbl.AgeSweep(300, 250)
	if _, ok := tbl.Lookup(9); ok {
		t.Fatalf("expected entry evicted once dead band reached")
	}
	if dead != 9 {
		t.Fatalf("expected dead callback for dest 9, got %d", dead)
	}
}

func TestPageTruncatesToWorstHopsFirst(t *testing.T) {
	cfg := config.Default()
	cfg.RouteMaxEntries = 2
	tbl := New(1, cfg)
	tbl.Ingest(2, []Advert{{Dest: 9, Hops: 5, Seq: 1}, {Dest: 10, Hops: 1, Seq: 1}}, 0, 0)
	page := tbl.Page(0)
	if len(page) != 2 {
		t.Fatalf("expected page capped at RouteMaxEntries(2), got %d", len(page))
	}
}

func TestLinkViewMarkAllStale(t *testing.T) {
	v := NewLinkView()
	v.Update(1, 2)
	v.MarkAllStale()
	if v.entries[1] != lostHops {
		t.Fatalf("expected entry marked lost, got %d", v.entries[1])
	}
}
