package metrics

import "sync"

// Counter names for broker events.
const (
	WSConnections   = "ws_connections"
	AuthFailure     = "auth_failure"
	BadRequest      = "bad_request"
	FramesRelayed   = "frames_relayed"
	SessionsCreated = "sessions_created"
	SessionsStarted = "sessions_started"
	SessionsPaused  = "sessions_paused"
	SessionsClosed  = "sessions_closed"
	PeerDisconnects = "peer_disconnects"
	RateLimited     = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The broker is expected to eventually plug into a real metrics backend; this
// type keeps enforcement logic testable while still allowing scraping via the
// Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
