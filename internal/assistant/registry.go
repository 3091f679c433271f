package assistant

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-assistant/pkg/logger"
	"github.com/capitalize-ai/listing-assistant/pkg/metrics"
)

// DepsFunc builds the collaborators for a new session.
type DepsFunc func(ctx context.Context, sessionID string) Deps

type registryEntry struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Registry holds one Controller per browser session and evicts sessions
// that stay idle longer than the configured TTL.
type Registry struct {
	newDeps DepsFunc
	ttl     time.Duration
	logger  *logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*registryEntry
}

// NewRegistry creates a registry. A zero ttl disables eviction.
func NewRegistry(newDeps DepsFunc, ttl time.Duration, log *logger.Logger) *Registry {
	return &Registry{
		newDeps:  newDeps,
		ttl:      ttl,
		logger:   logger.OrGlobal(log),
		now:      time.Now,
		sessions: make(map[string]*registryEntry),
	}
}

// Get returns the controller for sessionID, creating it on first use.
func (r *Registry) Get(ctx context.Context, sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[sessionID]; ok {
		e.lastSeen = r.now()
		return e.ctrl
	}

	deps := r.newDeps(ctx, sessionID)
	deps.SessionID = sessionID
	ctrl := New(ctx, deps)
	r.sessions[sessionID] = &registryEntry{ctrl: ctrl, lastSeen: r.now()}
	metrics.SessionsActive.Inc()
	r.logger.Info("assistant session created", zap.String("session_id", sessionID))
	return ctrl
}

// Lookup returns the controller for sessionID without creating one.
func (r *Registry) Lookup(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.ctrl, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle since before now minus the TTL and returns
// how many were evicted. A session with an open event stream is never idle.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	now := r.now()
	cutoff := now.Add(-r.ttl)

	r.mu.Lock()
	var idle []*Controller
	for id, e := range r.sessions {
		if e.ctrl.Subscribers() > 0 {
			e.lastSeen = now
			continue
		}
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.ctrl)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, ctrl := range idle {
		ctrl.Close()
		metrics.SessionsActive.Dec()
		r.logger.Info("assistant session evicted", zap.String("session_id", ctrl.ID()))
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close closes every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.ctrl.Close()
		metrics.SessionsActive.Dec()
	}
}
