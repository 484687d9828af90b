// Package peisd is a minimal standalone host process: it hardcodes a single
// local configuration (this is a demonstration binary, not a
// general-purpose CLI surface) and drives one Kernel's Step loop until
// interrupted.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peismesh/kernel/config"
	"github.com/peismesh/kernel/kernel"
	"github.com/peismesh/kernel/linkdriver"
	"github.com/peismesh/kernel/nlog"
	"github.com/peismesh/kernel/stats"
	"github.com/peismesh/kernel/tuplesvc"
	"github.com/peismesh/kernel/wire"
)

var (
	peerID     int64
	listenAddr string
	connectTo  string
	metricAddr string
)

func init() {
	flag.Int64Var(&peerID, "id", 0, "this host's PeerID")
	flag.StringVar(&listenAddr, "listen", "", "address to accept inbound links on, e.g. :9877")
	flag.StringVar(&connectTo, "connect", "", "comma-separated addresses to dial once at startup")
	flag.StringVar(&metricAddr, "metrics", "", "address to serve /metrics on, e.g. :9878 (empty disables)")
}

func main() {
	flag.Parse()
	if peerID == 0 {
		nlog.Errorf("peisd: -id is required")
		os.Exit(1)
	}

	cfg := config.Default()
	self := &wire.HostInfo{PeerID: int32(peerID), Hostname: hostnameOr("peisd")}

	reg := prometheus.NewRegistry()
	st := stats.New(reg)

	k := kernel.New(cfg, self, linkdriver.NewStreamDriver(), st)

	if listenAddr != "" {
		if err := k.Listen(listenAddr); err != nil {
			nlog.Errorf("peisd: listen on %s failed: %v", listenAddr, err)
			os.Exit(1)
		}
		nlog.Infof("peisd: listening on %s", listenAddr)
	}
	for _, addr := range splitNonEmpty(connectTo) {
		if err := k.Connect(addr); err != nil {
			nlog.Warningf("peisd: dial %s failed: %v", addr, err)
		}
	}

	tuples := tuplesvc.New(int32(peerID))
	k.RegisterHook(kernel.PortTuples, func(p *wire.Package, fromConn int32) {
		tuples.ApplyRemote(&tuplesvc.Tuple{Key: "remote", Owner: p.Source, Data: p.Payload})
	})

	if metricAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricAddr, mux); err != nil {
				nlog.Warningf("peisd: metrics server stopped: %v", err)
			}
		}()
		nlog.Infof("peisd: serving metrics on %s/metrics", metricAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	nlog.Infof("peisd: host %d running", peerID)
	for {
		select {
		case <-sig:
			nlog.Infof("peisd: shutting down")
			nlog.Flush()
			return
		default:
			k.Step()
			time.Sleep(cfg.IdleSleep)
		}
	}
}

func hostnameOr(fallback string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallback
	}
	return h
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
