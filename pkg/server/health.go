package server

import (
	"log/slog"
	"sort"
	"sync"
)

// HealthState is the liveness state of a monitored connection.
type HealthState int

const (
	// StateAlive means the peer answered since the last probe.
	StateAlive HealthState = iota
	// StateProbation means a ping is outstanding.
	StateProbation
	// StateTerminated means the peer missed a heartbeat and was closed.
	StateTerminated
)

func (s HealthState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateProbation:
		return "probation"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Probe is a connection the health monitor can ping and terminate.
type Probe interface {
	ID() string
	// Alive reports whether liveness was observed since the last reset.
	Alive() bool
	// ResetAlive clears the liveness flag and returns its previous value.
	ResetAlive() bool
	Ping() error
	Terminate()
}

// HealthMonitor terminates connections that stop answering heartbeats.
// Each Sweep terminates peers that stayed silent since the previous
// sweep and pings the rest, so a silent peer is closed at the second
// sweep after it goes quiet.
type HealthMonitor struct {
	mu      sync.Mutex
	probes  map[string]Probe
	logger  *slog.Logger
	metrics *Metrics
}

// NewHealthMonitor creates a health monitor. metrics may be nil.
func NewHealthMonitor(logger *slog.Logger, metrics *Metrics) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		probes:  make(map[string]Probe),
		logger:  logger.With("component", "health"),
		metrics: metrics,
	}
}

// Track starts monitoring p.
func (h *HealthMonitor) Track(p Probe) {
	h.mu.Lock()
	h.probes[p.ID()] = p
	h.mu.Unlock()
}

// Untrack stops monitoring the connection id.
func (h *HealthMonitor) Untrack(id string) {
	h.mu.Lock()
	delete(h.probes, id)
	h.mu.Unlock()
}

// Len returns the number of monitored connections.
func (h *HealthMonitor) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.probes)
}

// State returns the current state of the connection id. Connections that
// are no longer tracked report StateTerminated.
func (h *HealthMonitor) State(id string) HealthState {
	h.mu.Lock()
	p, ok := h.probes[id]
	h.mu.Unlock()
	if !ok {
		return StateTerminated
	}
	if p.Alive() {
		return StateAlive
	}
	return StateProbation
}

// Sweep runs one heartbeat round and returns the ids it terminated.
func (h *HealthMonitor) Sweep() []string {
	h.mu.Lock()
	probes := make([]Probe, 0, len(h.probes))
	for _, p := range h.probes {
		probes = append(probes, p)
	}
	h.mu.Unlock()

	var terminated []string
	for _, p := range probes {
		if p.ResetAlive() {
			if err := p.Ping(); err == nil {
				continue
			}
			h.logger.Debug("ping failed", "conn_id", p.ID())
		} else {
			h.logger.Info("terminating unresponsive connection", "conn_id", p.ID())
		}

		h.Untrack(p.ID())
		p.Terminate()
		if h.metrics != nil {
			h.metrics.healthTerminated()
		}
		terminated = append(terminated, p.ID())
	}
	sort.Strings(terminated)
	return terminated
}

// CloseAll terminates every tracked connection.
func (h *HealthMonitor) CloseAll() {
	h.mu.Lock()
	probes := h.probes
	h.probes = make(map[string]Probe)
	h.mu.Unlock()

	for _, p := range probes {
		p.Terminate()
	}
}
