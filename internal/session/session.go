// Package session tracks per-visitor engine state across assessments.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fcaptcha/sentinel/internal/metrics"
	"github.com/fcaptcha/sentinel/internal/policy"
	"github.com/fcaptcha/sentinel/internal/risk"
	"github.com/fcaptcha/sentinel/internal/rules"
	"github.com/fcaptcha/sentinel/internal/telemetry"
)

// State is everything the engine remembers about one session. Callers must
// hold the embedded mutex while reading or writing fields.
type State struct {
	sync.Mutex

	ID       string
	WidgetID string
	Origin   string

	CreatedAt time.Time
	LastSeen  time.Time

	Telemetry *telemetry.Buffer
	Policy    *policy.Policy
	LastMode  string

	// Smoothed risk. Zero means cold start; smoothing passes the first raw
	// score through.
	EMAScore float64
	LastRisk risk.Breakdown

	LastDecision rules.Decision
	HasDecision  bool
	// PayloadHash of the last assessed snapshot, for idempotent re-submits.
	PayloadHash string

	Validated    bool
	SessionToken string
	Degraded     bool

	// Bunker whitelist entry, session scoped.
	BunkerActive  bool
	BunkerToken   string
	BunkerExpires time.Time
}

// BunkerValid reports whether the session holds a live bunker pass.
func (s *State) BunkerValid(now time.Time) bool {
	return s.BunkerActive && now.Before(s.BunkerExpires)
}

// Registry holds live sessions and evicts idle ones in the background.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*State
	ttl      time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry starts a registry whose janitor evicts sessions idle longer
// than ttl.
func NewRegistry(ttl time.Duration) *Registry {
	r := newRegistry(ttl, time.Now)
	go r.janitor(time.Minute)
	return r
}

// NewRegistryWithClock creates a registry without a janitor, for tests.
func NewRegistryWithClock(ttl time.Duration, now func() time.Time) *Registry {
	return newRegistry(ttl, now)
}

func newRegistry(ttl time.Duration, now func() time.Time) *Registry {
	return &Registry{
		sessions: make(map[string]*State),
		ttl:      ttl,
		now:      now,
		stop:     make(chan struct{}),
	}
}

// Create registers a new session.
func (r *Registry) Create(widgetID, origin string) *State {
	now := r.now()
	s := &State{
		ID:        uuid.NewString(),
		WidgetID:  widgetID,
		Origin:    origin,
		CreatedAt: now,
		LastSeen:  now,
		Telemetry: telemetry.NewBuffer(),
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	return s
}

// Get returns the session and refreshes its idle timer.
func (r *Registry) Get(id string) (*State, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	s.Lock()
	s.LastSeen = r.now()
	s.Unlock()
	return s, true
}

// GetOrCreate resolves an existing session or registers a fresh one when the
// id is unknown or empty.
func (r *Registry) GetOrCreate(id, widgetID, origin string) *State {
	if id != "" {
		if s, ok := r.Get(id); ok {
			return s
		}
	}
	return r.Create(widgetID, origin)
}

// Delete removes a session.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}

// Len reports the live session count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops the janitor.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stop:
			return
		}
	}
}

// Sweep evicts sessions idle past the TTL.
func (r *Registry) Sweep() {
	now := r.now()
	r.mu.Lock()
	for id, s := range r.sessions {
		s.Lock()
		idle := now.Sub(s.LastSeen)
		s.Unlock()
		if idle > r.ttl {
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}
