package session

import (
	"context"
	"sync"
	"time"

	"signalpulse/logger"
)

// Factory builds a controller for a new session id.
type Factory func(id string) (*Controller, error)

type entry struct {
	ctl      *Controller
	lastSeen time.Time
}

// Registry holds one controller per browser session and evicts sessions
// that stay idle for longer than the TTL.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	factory  Factory
	now      func() time.Time
	onEvict  func(id string)
	log      *logger.Entry
}

func NewRegistry(ttl time.Duration, factory Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		factory:  factory,
		now:      time.Now,
		log:      logger.GetLogger().WithComponent("session_registry"),
	}
}

// OnEvict registers a callback run after a session is evicted.
func (r *Registry) OnEvict(fn func(id string)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

// Get returns an existing session and marks it as seen.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.ctl, true
}

// GetOrCreate returns the session for id, creating one when id is empty or
// unknown. The returned id is the one to hand back to the client.
func (r *Registry) GetOrCreate(id string) (*Controller, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok && id != "" {
		e.lastSeen = r.now()
		return e.ctl, false, nil
	}
	ctl, err := r.factory("")
	if err != nil {
		return nil, false, err
	}
	r.sessions[ctl.ID()] = &entry{ctl: ctl, lastSeen: r.now()}
	r.log.WithFields(logger.Fields{"session_id": ctl.ID(), "sessions": len(r.sessions)}).Debug("session created")
	return ctl, true, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts idle sessions and returns how many were removed. Sessions
// with a request in flight are kept.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	cutoff := r.now().Add(-r.ttl)
	var evicted []*Controller
	for id, e := range r.sessions {
		if e.lastSeen.After(cutoff) || e.ctl.Busy() {
			continue
		}
		delete(r.sessions, id)
		evicted = append(evicted, e.ctl)
	}
	onEvict := r.onEvict
	remaining := len(r.sessions)
	r.mu.Unlock()

	for _, ctl := range evicted {
		ctl.Close()
		if onEvict != nil {
			onEvict(ctl.ID())
		}
	}
	if len(evicted) > 0 {
		r.log.WithFields(logger.Fields{"evicted": len(evicted), "sessions": remaining}).Info("idle sessions evicted")
	}
	return len(evicted)
}

// Run sweeps on every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
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

// Close shuts down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range sessions {
		e.ctl.Close()
	}
}
