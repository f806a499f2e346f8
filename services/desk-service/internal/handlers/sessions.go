package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/coordinator"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/metrics"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/store"
)

// Factory builds the coordinator, and with it the store, for a new session.
type Factory func(sess model.Session) *coordinator.Coordinator

type sessionEntry struct {
	sess        model.Session
	coord       *coordinator.Coordinator
	lastSeen    time.Time
	unsubscribe func()
}

// Registry owns one store per (organization, user). Idle sessions are dropped by Run.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	factory  Factory
	idleTTL  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewRegistry(factory Factory, idleTTL time.Duration, logger *slog.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Registry{
		sessions: map[string]*sessionEntry{},
		factory:  factory,
		idleTTL:  idleTTL,
		now:      time.Now,
		logger:   logger,
	}
}

// Get returns the session's coordinator, creating it on first use.
func (r *Registry) Get(sess model.Session) *coordinator.Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sess.Key()
	if e, ok := r.sessions[key]; ok {
		e.lastSeen = r.now()
		return e.coord
	}
	coord := r.factory(sess)
	e := &sessionEntry{sess: sess, coord: coord, lastSeen: r.now()}
	e.unsubscribe = coord.Store().Subscribe(func(c store.Change) {
		r.logger.Debug("session cache changed",
			"session", key,
			"upserted", len(c.Diff.Upserted),
			"removed", len(c.Diff.Removed),
			"appointments", len(c.State.Appointments),
		)
	})
	r.sessions[key] = e
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.logger.Info("session opened", "org_id", sess.OrgID, "user_id", sess.UserID)
	return coord
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops sessions idle for longer than the TTL and returns how many went.
func (r *Registry) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	n := 0
	for key, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			e.unsubscribe()
			delete(r.sessions, key)
			n++
		}
	}
	if n > 0 {
		metrics.SessionsActive.Set(float64(len(r.sessions)))
		r.logger.Info("idle sessions evicted", "count", n, "remaining", len(r.sessions))
	}
	return n
}

func (r *Registry) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}

// ApplyExternal merges appointments changed elsewhere into every live session of orgID.
func (r *Registry) ApplyExternal(_ context.Context, orgID string, appts []model.Appointment) int {
	r.mu.Lock()
	var targets []*coordinator.Coordinator
	for _, e := range r.sessions {
		if e.sess.OrgID == orgID {
			targets = append(targets, e.coord)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.Store().MergeExternal(store.Partial{Appointments: appts})
	}
	return len(targets)
}
