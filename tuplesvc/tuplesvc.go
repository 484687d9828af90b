// Package tuplesvc is the sketched tuple-space service layer atop the
// message plane: named byte-blob tuples with get/set/append,
// subscription callbacks on key changes, and a metatuple listing of every
// locally held tuple's metadata. Remote tuple traffic travels over the
// dispatcher's TUPLES port via dispatcher.SendReliable/Broadcast; this
// package only owns local tuple state and callback dispatch.
//
// Uses json-iterator/go for the metatuple encoding (the JSON-mime case),
// following a preference for jsoniter over encoding/json wherever
// hot-path (un)marshaling happens.
package tuplesvc

import (
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/peismesh/kernel/clock"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tuple is one named value in the tuple space.
type Tuple struct {
	Key      string `json:"key"`
	Owner    int32  `json:"owner"`
	Version  int64  `json:"version"`
	MimeType string `json:"mime"`
	Data     []byte `json:"-"`
}

// metaEntry is what MetaTuple actually serializes: every field of Tuple
// except the payload itself.
type metaEntry struct {
	Key      string `json:"key"`
	Owner    int32  `json:"owner"`
	Version  int64  `json:"version"`
	MimeType string `json:"mime"`
	Size     int    `json:"size"`
}

// Callback is invoked whenever a tuple matching a subscription changes.
type Callback func(t *Tuple)

type subscription struct {
	prefix string
	cb     Callback
}

// Service is the local tuple store plus its subscription table.
type Service struct {
	self int32

	mu      sync.RWMutex
	tuples  map[string]*Tuple
	subs    []subscription
	byKey   map[string][]Callback
}

func New(self int32) *Service {
	return &Service{self: self, tuples: make(map[string]*Tuple), byKey: make(map[string][]Callback)}
}

// Set creates or overwrites a tuple, bumping its version, and notifies every
// matching subscription/registered callback.
func (s *Service) Set(key, mimeType string, data []byte) *Tuple {
	s.mu.Lock()
	t, ok := s.tuples[key]
	if !ok {
		t = &Tuple{Key: key, Owner: s.self}
	}
	t.Version++
	t.MimeType = mimeType
	t.Data = data
	s.tuples[key] = t
	cbs := s.matchingCallbacksLocked(key)
	s.mu.Unlock()

	fire(cbs, t)
	return t
}

// Append appends data to an existing tuple's payload, creating it first if
// absent.
func (s *Service) Append(key, mimeType string, data []byte) *Tuple {
	s.mu.Lock()
	t, ok := s.tuples[key]
	if !ok {
		t = &Tuple{Key: key, Owner: s.self, MimeType: mimeType}
		s.tuples[key] = t
	}
	t.Data = append(t.Data, data...)
	t.Version++
	cbs := s.matchingCallbacksLocked(key)
	s.mu.Unlock()

	fire(cbs, t)
	return t
}

// Get returns the current tuple for key, if any.
func (s *Service) Get(key string) (*Tuple, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tuples[key]
	return t, ok
}

// Delete removes a tuple entirely.
func (s *Service) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tuples, key)
}

// RegisterCallback invokes cb on every future Set/Append to exactly key.
func (s *Service) RegisterCallback(key string, cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key] = append(s.byKey[key], cb)
}

// Subscribe invokes cb on every future Set/Append to any key with the given
// prefix (PEIS-style hierarchical tuple naming, e.g. "sensor." matches
// "sensor.temp" and "sensor.battery").
func (s *Service) Subscribe(prefix string, cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscription{prefix: prefix, cb: cb})
}

func (s *Service) matchingCallbacksLocked(key string) []Callback {
	cbs := append([]Callback{}, s.byKey[key]...)
	for _, sub := range s.subs {
		if strings.HasPrefix(key, sub.prefix) {
			cbs = append(cbs, sub.cb)
		}
	}
	return cbs
}

func fire(cbs []Callback, t *Tuple) {
	for _, cb := range cbs {
		cb(t)
	}
}

// MetaTuple returns a JSON-encoded listing of every locally held tuple's
// metadata, for peers that want to discover what
// a host holds without fetching every payload.
func (s *Service) MetaTuple() ([]byte, error) {
	s.mu.RLock()
	entries := make([]metaEntry, 0, len(s.tuples))
	for _, t := range s.tuples {
		entries = append(entries, metaEntry{Key: t.Key, Owner: t.Owner, Version: t.Version, MimeType: t.MimeType, Size: len(t.Data)})
	}
	s.mu.RUnlock()
	return json.Marshal(entries)
}

// ApplyRemote ingests a tuple update received from the network (dispatcher
// port TUPLES), without re-broadcasting it — the message plane's loop
// detection already prevents echo, but a remote-origin tuple should never
// be attributed to our own PeerID.
func (s *Service) ApplyRemote(t *Tuple) {
	s.mu.Lock()
	t.Version = maxInt64(t.Version, 0)
	s.tuples[t.Key] = t
	cbs := s.matchingCallbacksLocked(t.Key)
	s.mu.Unlock()
	fire(cbs, t)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Now is a thin re-export so callers timestamping tuple events don't need a
// separate import just for clock.Mono.
func Now() int64 { return clock.Mono() }
