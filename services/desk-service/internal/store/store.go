package store

import (
	"sync"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

// Change is delivered to subscribers after every merge that changed something.
type Change struct {
	Diff  Diff
	State State
}

type subscriber struct {
	id uint64
	fn func(Change)
}

type delivery struct {
	subs   []subscriber
	change Change
}

// Store holds the current State of one session. Every write computes the next State and swaps
// it in under the lock.
//
// Changes are queued in commit order and delivered outside the lock by whichever committing
// goroutine finds no delivery running, so subscribers may read the Store or write to it; a
// write made from a subscriber is delivered after the current change.
type Store struct {
	mu       sync.Mutex
	state    State
	seq      uint64
	inflight map[string]int
	// pending holds the unresolved optimistic writes of each entity, oldest first.
	pending map[Ref][]*pendingWrite
	subs    []subscriber
	nextSub uint64

	queue      []delivery
	delivering bool
}

func New() *Store {
	return &Store{state: Empty(), inflight: map[string]int{}, pending: map[Ref][]*pendingWrite{}}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextVersion allocates a version for a write whose payload is not known yet, such as a
// read dispatched now and merged when it returns.
func (s *Store) NextVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Merge applies p. A zero Version is replaced by a fresh one.
func (s *Store) Merge(p Partial) Diff {
	s.mu.Lock()
	if p.Version == 0 {
		s.seq++
		p.Version = s.seq
	}
	return s.mergeLocked(p)
}

// MergeExternal applies data that did not originate from this session's own mutations.
// Appointments with a mutation in flight are left alone, as are copies older than the cached
// one by UpdatedAt.
func (s *Store) MergeExternal(p Partial) Diff {
	s.mu.Lock()
	if p.Version == 0 {
		s.seq++
		p.Version = s.seq
	}
	p.Appointments = keepIf(p.Appointments, func(a model.Appointment) bool {
		if s.inflight[a.ID] > 0 {
			return false
		}
		cur, ok := s.state.Appointments[a.ID]
		return !ok || !cur.UpdatedAt.After(a.UpdatedAt)
	})
	p.Remove = keepIf(p.Remove, func(ref Ref) bool {
		return ref.Kind != KindAppointment || s.inflight[ref.ID] == 0
	})
	return s.mergeLocked(p)
}

// mergeLocked is entered with s.mu held and releases it.
func (s *Store) mergeLocked(p Partial) Diff {
	next, diff := Merge(s.state, p)
	return s.swapLocked(next, diff)
}

// swapLocked installs next, queues its change and delivers the queue unless another goroutine
// already is. It is entered with s.mu held and releases it.
func (s *Store) swapLocked(next State, diff Diff) Diff {
	s.state = next
	if diff.Changed() && len(s.subs) > 0 {
		subs := make([]subscriber, len(s.subs))
		copy(subs, s.subs)
		s.queue = append(s.queue, delivery{subs: subs, change: Change{Diff: diff, State: next}})
	}
	if s.delivering {
		s.mu.Unlock()
		return diff
	}
	s.delivering = true
	for len(s.queue) > 0 {
		d := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		for _, sub := range d.subs {
			sub.fn(d.change)
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
	return diff
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// pendingWrite is one entity of an optimistic write that has not been resolved. prior is what
// rolling it back restores; written is what it leaves behind when it stands.
type pendingWrite struct {
	ref     Ref
	version uint64
	prior   restoration
	written restoration
}

// Snapshot records an optimistic write: the pre-write value of every entity it touched.
type Snapshot struct {
	Version uint64
	writes  []*pendingWrite
	ids     []string
}

func (s Snapshot) Refs() []Ref {
	out := make([]Ref, len(s.writes))
	for i, w := range s.writes {
		out[i] = w.ref
	}
	return out
}

func (s Snapshot) write(ref Ref) (*pendingWrite, bool) {
	for _, w := range s.writes {
		if w.ref == ref {
			return w, true
		}
	}
	return nil, false
}

// Write applies an optimistic partial under a fresh version. The snapshot is taken under the
// same lock as the write, so it is exactly the state this write replaced. The appointments it
// writes are marked in flight until Settle.
func (s *Store) Write(p Partial) Snapshot {
	s.mu.Lock()
	s.seq++
	p.Version = s.seq

	snap := Snapshot{Version: p.Version}
	written := p.entries()
	seen := map[Ref]bool{}
	for _, ref := range p.Refs() {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		v, ok := s.state.Get(ref)
		w := &pendingWrite{
			ref:     ref,
			version: p.Version,
			prior:   restoration{ref: ref, value: v, present: ok, version: s.state.Version(ref)},
			written: written[ref],
		}
		snap.writes = append(snap.writes, w)
		s.pending[ref] = append(s.pending[ref], w)
		if ref.Kind == KindAppointment {
			s.inflight[ref.ID]++
			snap.ids = append(snap.ids, ref.ID)
		}
	}
	s.mergeLocked(p)
	return snap
}

// resolveLocked drops w from the pending writes of its entity and returns the next newer
// pending write, if any. ok is false when w was already resolved.
func (s *Store) resolveLocked(w *pendingWrite) (newer *pendingWrite, ok bool) {
	list := s.pending[w.ref]
	for i, pw := range list {
		if pw != w {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.pending, w.ref)
		} else {
			s.pending[w.ref] = list
		}
		if i < len(list) {
			newer = list[i]
		}
		return newer, true
	}
	return nil, false
}

// Reconcile merges the authoritative result of the write behind snap at that write's version.
// An entity the write touched that a newer mutation has since written is not merged; the
// result becomes what that newer mutation rolls back to.
func (s *Store) Reconcile(snap Snapshot, p Partial) Diff {
	p.Version = snap.Version
	s.mu.Lock()

	var handed []Ref
	keep := func(ref Ref, value any, present bool) bool {
		w, mine := snap.write(ref)
		if !mine {
			return true
		}
		newer, ok := s.resolveLocked(w)
		if !ok || newer == nil {
			return true
		}
		newer.prior = restoration{ref: ref, value: value, present: present, version: w.version}
		handed = append(handed, ref)
		return false
	}
	p.Appointments = keepIf(p.Appointments, func(a model.Appointment) bool {
		return keep(Ref{KindAppointment, a.ID}, a, true)
	})
	p.Customers = keepIf(p.Customers, func(c model.Customer) bool {
		return keep(Ref{KindCustomer, c.ID}, c, true)
	})
	p.Services = keepIf(p.Services, func(sv model.Service) bool {
		return keep(Ref{KindService, sv.ID}, sv, true)
	})
	p.Staff = keepIf(p.Staff, func(st model.Staff) bool {
		return keep(Ref{KindStaff, st.ID}, st, true)
	})
	p.Remove = keepIf(p.Remove, func(ref Ref) bool {
		return keep(ref, nil, false)
	})

	diff := s.mergeLocked(p)
	diff.Stale = append(diff.Stale, handed...)
	return diff
}

// Restore rolls the entities behind snap back to their captured values and versions.
//
// Where a newer mutation of the same entity is still pending, nothing is written: that
// mutation inherits the captured value as its own rollback target, so the entity returns to
// it if the newer one fails too. Where the entity was overwritten by a write that already
// stands, the rollback is dropped.
func (s *Store) Restore(snap Snapshot) Diff {
	s.mu.Lock()
	var (
		rs    []restoration
		stale []Ref
	)
	for _, w := range snap.writes {
		newer, ok := s.resolveLocked(w)
		if !ok {
			continue
		}
		switch {
		case newer != nil:
			newer.prior = w.prior
			stale = append(stale, w.ref)
		case s.state.Version(w.ref) != w.version:
			stale = append(stale, w.ref)
		default:
			rs = append(rs, w.prior)
		}
	}
	next, diff := restore(s.state, rs)
	diff.Stale = append(diff.Stale, stale...)
	return s.swapLocked(next, diff)
}

// Settle ends the write behind snap. Entities it touched that were neither reconciled nor
// restored stand as written, and a newer pending write of them rolls back to that value.
func (s *Store) Settle(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range snap.writes {
		if newer, ok := s.resolveLocked(w); ok && newer != nil {
			newer.prior = w.written
		}
	}
	for _, id := range snap.ids {
		if s.inflight[id] <= 1 {
			delete(s.inflight, id)
			continue
		}
		s.inflight[id]--
	}
}

func (s *Store) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id] > 0
}

func keepIf[T any](in []T, keep func(T) bool) []T {
	var out []T
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
