package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	id         string
	alive      atomic.Bool
	responsive bool
	pingErr    error

	mu         sync.Mutex
	pings      int
	terminated bool
}

func newFakeProbe(id string, responsive bool) *fakeProbe {
	p := &fakeProbe{id: id, responsive: responsive}
	p.alive.Store(true)
	return p
}

func (p *fakeProbe) ID() string       { return p.id }
func (p *fakeProbe) Alive() bool      { return p.alive.Load() }
func (p *fakeProbe) ResetAlive() bool { return p.alive.Swap(false) }

func (p *fakeProbe) Ping() error {
	p.mu.Lock()
	p.pings++
	p.mu.Unlock()
	if p.pingErr != nil {
		return p.pingErr
	}
	if p.responsive {
		p.alive.Store(true)
	}
	return nil
}

func (p *fakeProbe) Terminate() {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
}

func (p *fakeProbe) isTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthMonitorSilentPeerTerminatedAtSecondSweep(t *testing.T) {
	h := NewHealthMonitor(discardLogger(), nil)
	silent := newFakeProbe("silent", false)
	h.Track(silent)

	assert.Equal(t, StateAlive, h.State("silent"))

	terminated := h.Sweep()
	assert.Empty(t, terminated)
	assert.Equal(t, StateProbation, h.State("silent"))
	assert.False(t, silent.isTerminated())

	terminated = h.Sweep()
	assert.Equal(t, []string{"silent"}, terminated)
	assert.True(t, silent.isTerminated())
	assert.Equal(t, StateTerminated, h.State("silent"))
	assert.Zero(t, h.Len())
}

func TestHealthMonitorResponsivePeerSurvives(t *testing.T) {
	h := NewHealthMonitor(discardLogger(), nil)
	p := newFakeProbe("ok", true)
	h.Track(p)

	for i := 0; i < 5; i++ {
		require.Empty(t, h.Sweep())
	}
	assert.False(t, p.isTerminated())
	assert.Equal(t, StateAlive, h.State("ok"))
	assert.Equal(t, 5, p.pings)
}

func TestHealthMonitorPongRestoresAlive(t *testing.T) {
	h := NewHealthMonitor(discardLogger(), nil)
	p := newFakeProbe("late", false)
	h.Track(p)

	h.Sweep()
	require.Equal(t, StateProbation, h.State("late"))

	// A pong arrives between sweeps.
	p.alive.Store(true)
	assert.Equal(t, StateAlive, h.State("late"))

	assert.Empty(t, h.Sweep())
	assert.False(t, p.isTerminated())
}

func TestHealthMonitorPingFailureTerminates(t *testing.T) {
	h := NewHealthMonitor(discardLogger(), nil)
	p := newFakeProbe("broken", true)
	p.pingErr = errors.New("write: broken pipe")
	h.Track(p)

	assert.Equal(t, []string{"broken"}, h.Sweep())
	assert.True(t, p.isTerminated())
}

func TestHealthMonitorUntrackAndCloseAll(t *testing.T) {
	h := NewHealthMonitor(discardLogger(), nil)
	a := newFakeProbe("a", false)
	b := newFakeProbe("b", false)
	h.Track(a)
	h.Track(b)

	h.Untrack("a")
	h.Sweep()
	h.Sweep()
	assert.False(t, a.isTerminated())
	assert.True(t, b.isTerminated())

	c := newFakeProbe("c", true)
	h.Track(c)
	h.CloseAll()
	assert.True(t, c.isTerminated())
	assert.Zero(t, h.Len())
}

func TestHealthStateString(t *testing.T) {
	assert.Equal(t, "alive", StateAlive.String())
	assert.Equal(t, "probation", StateProbation.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "unknown", HealthState(42).String())
}
