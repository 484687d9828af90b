// Package config holds every kernel tunable. kernel.New and the packages it
// builds keep the *Config they are handed and read its fields directly;
// separately, Get/Set offer a process-wide snapshot held in an atomic
// pointer, which no package in this module reads.
package config

import (
	"sync/atomic"
	"time"
)

// Config is intentionally a flat struct: every tunable named by
// value (ring sizes, retry ceilings, thresholds, periods) lives here so a
// single snapshot fully determines kernel behavior.
type Config struct {
	// identity / network
	NetworkString string
	Leaf          bool // refuse non-loopback links
	NetMetric     int  // default link cost, 1..16
	PackageLoss   float64

	// message plane
	MaxPayload      int // default 1024
	QueueCapHiPri   int
	QueueCapAck     int
	QueueCapNormal  int
	QueueCapBulk    int
	BaseRetryTime   time.Duration
	MaxRetries      int
	QueuedPkgCeil   int // process-wide QueuedPackage ceiling, default 1024
	BroadcastFanout int // k in stochastic flooding, default 4

	// loop detection
	LoopRingSize int // default 4096
	LoopBuckets  int // default 256

	// reassembly
	AssemblyTimeout time.Duration

	// routing
	RoutePeriod       time.Duration
	RouteMaxEntries   int // up to 70 entries per page
	RouteHopCap       int // default 10
	RouteOutdatedBand int // default 250
	RouteDeadBand     int // default 254
	LoopbackCost      int // default 1

	// connection manager
	ConnTimeout        time.Duration
	MinAuto            int // MIN_AUTO
	MaxAuto            int // MAX_AUTO
	MaxForcedAuto      int // MAX_FORCED_AUTO
	ForceLinkThreshold int64 // bytes/s
	ConnMinAge         time.Duration
	DupCloseProb       float64 // 30% per spec §4.6 step 2

	// ack manager
	AckBatchPeriod time.Duration
	AckBatchMax    int

	// discovery / beacons
	BeaconAddr     string
	BeaconPeriod   time.Duration
	AutoHostRetry  time.Duration

	// connect timeout
	ConnectTimeout time.Duration

	// idle sleep bound
	IdleSleep time.Duration
}

// Default returns the configuration's documented defaults.
func Default() *Config {
	return &Config{
		NetworkString:      "default",
		NetMetric:          2,
		MaxPayload:         1024,
		QueueCapHiPri:      256,
		QueueCapAck:        256,
		QueueCapNormal:     512,
		QueueCapBulk:       512,
		BaseRetryTime:      500 * time.Millisecond,
		MaxRetries:         6,
		QueuedPkgCeil:      1024,
		BroadcastFanout:    4,
		LoopRingSize:       4096,
		LoopBuckets:        256,
		AssemblyTimeout:    30 * time.Second,
		RoutePeriod:        2 * time.Second,
		RouteMaxEntries:    70,
		RouteHopCap:        10,
		RouteOutdatedBand:  250,
		RouteDeadBand:      254,
		LoopbackCost:       1,
		ConnTimeout:        60 * time.Second,
		MinAuto:            2,
		MaxAuto:            6,
		MaxForcedAuto:      10,
		ForceLinkThreshold: 8192,
		ConnMinAge:         10 * time.Second,
		DupCloseProb:       0.30,
		AckBatchPeriod:     1 * time.Second,
		AckBatchMax:        64,
		BeaconAddr:         "227.1.3.5:10001",
		BeaconPeriod:       5 * time.Second,
		AutoHostRetry:      10 * time.Second,
		ConnectTimeout:     10 * time.Second,
		IdleSleep:          10 * time.Millisecond,
	}
}

// gco holds the process-wide configuration snapshot: an atomic.Pointer that
// Set swaps wholesale and Get loads.
var gco atomic.Pointer[Config]

func init() { gco.Store(Default()) }

// Get returns the current configuration snapshot. Cheap: a single atomic load.
func Get() *Config { return gco.Load() }

// Set installs a new configuration snapshot, replacing the old one.
func Set(c *Config) { gco.Store(c) }
