// Package store is the per-session normalized entity cache.
//
// A State is an immutable value: Merge returns a new State and never touches its input, so
// holders can swap states and consumers can diff old against new.
package store

import (
	"sort"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

type Kind string

const (
	KindAppointment Kind = "appointment"
	KindCustomer    Kind = "customer"
	KindService     Kind = "service"
	KindStaff       Kind = "staff"
)

type Ref struct {
	Kind Kind
	ID   string
}

// State maps are shared between successive states and must be treated as read-only.
type State struct {
	Appointments map[string]model.Appointment
	Customers    map[string]model.Customer
	Services     map[string]model.Service
	Staff        map[string]model.Staff

	versions map[Ref]uint64
}

func Empty() State {
	return State{
		Appointments: map[string]model.Appointment{},
		Customers:    map[string]model.Customer{},
		Services:     map[string]model.Service{},
		Staff:        map[string]model.Staff{},
		versions:     map[Ref]uint64{},
	}
}

// Partial is a batch of writes. Every entry carries the batch Version and is applied only when
// Version is at least the entity's current version; older writes are dropped.
type Partial struct {
	Appointments []model.Appointment
	Customers    []model.Customer
	Services     []model.Service
	Staff        []model.Staff
	Remove       []Ref
	Version      uint64
}

func (p Partial) Empty() bool {
	return len(p.Appointments) == 0 && len(p.Customers) == 0 && len(p.Services) == 0 &&
		len(p.Staff) == 0 && len(p.Remove) == 0
}

// Refs lists every entity the partial writes or removes.
func (p Partial) Refs() []Ref {
	refs := make([]Ref, 0, len(p.Appointments)+len(p.Customers)+len(p.Services)+len(p.Staff)+len(p.Remove))
	for _, a := range p.Appointments {
		refs = append(refs, Ref{KindAppointment, a.ID})
	}
	for _, c := range p.Customers {
		refs = append(refs, Ref{KindCustomer, c.ID})
	}
	for _, s := range p.Services {
		refs = append(refs, Ref{KindService, s.ID})
	}
	for _, s := range p.Staff {
		refs = append(refs, Ref{KindStaff, s.ID})
	}
	return append(refs, p.Remove...)
}

// entries maps every ref the partial touches to the value it leaves, in Merge's order: later
// entries win and removals come last.
func (p Partial) entries() map[Ref]restoration {
	out := map[Ref]restoration{}
	set := func(ref Ref, v any, present bool) {
		out[ref] = restoration{ref: ref, value: v, present: present, version: p.Version}
	}
	for _, a := range p.Appointments {
		set(Ref{KindAppointment, a.ID}, a, true)
	}
	for _, c := range p.Customers {
		set(Ref{KindCustomer, c.ID}, c, true)
	}
	for _, sv := range p.Services {
		set(Ref{KindService, sv.ID}, sv, true)
	}
	for _, st := range p.Staff {
		set(Ref{KindStaff, st.ID}, st, true)
	}
	for _, ref := range p.Remove {
		set(ref, nil, false)
	}
	return out
}

// restoration is one entity put back to an earlier value and version. A zero version means the
// entity had never been written.
type restoration struct {
	ref     Ref
	value   any
	present bool
	version uint64
}

// restore applies rs without the version guard: each entity takes exactly the value and
// version it is restored to.
func restore(s State, rs []restoration) (State, Diff) {
	s = s.orEmpty()
	var diff Diff
	if len(rs) == 0 {
		return s, diff
	}
	next := s
	next.versions = cloneMap(s.versions)
	cloned := map[Kind]bool{}
	for _, r := range rs {
		if !cloned[r.ref.Kind] {
			next.cloneKind(r.ref.Kind)
			cloned[r.ref.Kind] = true
		}
		if r.version == 0 {
			delete(next.versions, r.ref)
		} else {
			next.versions[r.ref] = r.version
		}
		if !r.present {
			if next.has(r.ref) {
				next.delete(r.ref)
				diff.Removed = append(diff.Removed, r.ref)
			}
			continue
		}
		next.put(r.value)
		diff.Upserted = append(diff.Upserted, r.ref)
	}
	return next, diff
}

// Diff names what a merge changed and what it dropped as stale.
type Diff struct {
	Upserted []Ref
	Removed  []Ref
	Stale    []Ref
}

func (d Diff) Changed() bool {
	return len(d.Upserted) > 0 || len(d.Removed) > 0
}

// Merge applies p to s with entity-level last-write-wins. It is idempotent per key.
func Merge(s State, p Partial) (State, Diff) {
	s = s.orEmpty()
	next := s
	var diff Diff
	cloned := map[Kind]bool{}
	versionsCloned := false

	// admit applies the version guard and copies a kind's map on its first write.
	admit := func(ref Ref) bool {
		if p.Version < s.versions[ref] {
			diff.Stale = append(diff.Stale, ref)
			return false
		}
		if !cloned[ref.Kind] {
			next.cloneKind(ref.Kind)
			cloned[ref.Kind] = true
		}
		if !versionsCloned {
			next.versions = cloneMap(s.versions)
			versionsCloned = true
		}
		next.versions[ref] = p.Version
		return true
	}

	for _, a := range p.Appointments {
		ref := Ref{KindAppointment, a.ID}
		if admit(ref) {
			next.Appointments[a.ID] = a
			diff.Upserted = append(diff.Upserted, ref)
		}
	}
	for _, c := range p.Customers {
		ref := Ref{KindCustomer, c.ID}
		if admit(ref) {
			next.Customers[c.ID] = c
			diff.Upserted = append(diff.Upserted, ref)
		}
	}
	for _, sv := range p.Services {
		ref := Ref{KindService, sv.ID}
		if admit(ref) {
			next.Services[sv.ID] = sv
			diff.Upserted = append(diff.Upserted, ref)
		}
	}
	for _, st := range p.Staff {
		ref := Ref{KindStaff, st.ID}
		if admit(ref) {
			next.Staff[st.ID] = st
			diff.Upserted = append(diff.Upserted, ref)
		}
	}
	for _, ref := range p.Remove {
		if !next.has(ref) {
			continue
		}
		if admit(ref) {
			next.delete(ref)
			diff.Removed = append(diff.Removed, ref)
		}
	}
	return next, diff
}

func (s State) orEmpty() State {
	if s.Appointments == nil {
		s.Appointments = map[string]model.Appointment{}
	}
	if s.Customers == nil {
		s.Customers = map[string]model.Customer{}
	}
	if s.Services == nil {
		s.Services = map[string]model.Service{}
	}
	if s.Staff == nil {
		s.Staff = map[string]model.Staff{}
	}
	if s.versions == nil {
		s.versions = map[Ref]uint64{}
	}
	return s
}

func (s *State) cloneKind(k Kind) {
	switch k {
	case KindAppointment:
		s.Appointments = cloneMap(s.Appointments)
	case KindCustomer:
		s.Customers = cloneMap(s.Customers)
	case KindService:
		s.Services = cloneMap(s.Services)
	case KindStaff:
		s.Staff = cloneMap(s.Staff)
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s State) has(ref Ref) bool {
	_, ok := s.Get(ref)
	return ok
}

func (s State) put(v any) {
	switch e := v.(type) {
	case model.Appointment:
		s.Appointments[e.ID] = e
	case model.Customer:
		s.Customers[e.ID] = e
	case model.Service:
		s.Services[e.ID] = e
	case model.Staff:
		s.Staff[e.ID] = e
	}
}

func (s State) delete(ref Ref) {
	switch ref.Kind {
	case KindAppointment:
		delete(s.Appointments, ref.ID)
	case KindCustomer:
		delete(s.Customers, ref.ID)
	case KindService:
		delete(s.Services, ref.ID)
	case KindStaff:
		delete(s.Staff, ref.ID)
	}
}

// Get returns the entity behind ref as one of the model types.
func (s State) Get(ref Ref) (any, bool) {
	var (
		v  any
		ok bool
	)
	switch ref.Kind {
	case KindAppointment:
		v, ok = s.Appointments[ref.ID]
	case KindCustomer:
		v, ok = s.Customers[ref.ID]
	case KindService:
		v, ok = s.Services[ref.ID]
	case KindStaff:
		v, ok = s.Staff[ref.ID]
	}
	return v, ok
}

func (s State) Appointment(id string) (model.Appointment, bool) {
	a, ok := s.Appointments[id]
	return a, ok
}

// Version is the version of the last write admitted for ref, zero if none.
func (s State) Version(ref Ref) uint64 {
	return s.versions[ref]
}

// Denormalize joins customer, service and staff onto the appointment. Customer and service are
// required; a missing or unset staff leaves Staff nil.
func (s State) Denormalize(id string) (model.AppointmentWithDetails, bool) {
	a, ok := s.Appointments[id]
	if !ok {
		return model.AppointmentWithDetails{}, false
	}
	c, ok := s.Customers[a.CustomerID]
	if !ok {
		return model.AppointmentWithDetails{}, false
	}
	sv, ok := s.Services[a.ServiceID]
	if !ok {
		return model.AppointmentWithDetails{}, false
	}
	out := model.AppointmentWithDetails{Appointment: a, Customer: c, Service: sv}
	if a.StaffID != "" {
		if st, ok := s.Staff[a.StaffID]; ok {
			out.Staff = &st
		}
	}
	return out, true
}

// Filter narrows a listing; zero fields match everything. Dates compare lexically as YYYY-MM-DD.
type Filter struct {
	From       string
	To         string
	StaffID    string
	CustomerID string
	Statuses   []model.Status
}

func (f Filter) match(a model.Appointment) bool {
	if f.From != "" && a.Date < f.From {
		return false
	}
	if f.To != "" && a.Date > f.To {
		return false
	}
	if f.StaffID != "" && a.StaffID != f.StaffID {
		return false
	}
	if f.CustomerID != "" && a.CustomerID != f.CustomerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if a.Status == st {
			return true
		}
	}
	return false
}

// List denormalizes every matching appointment, ordered by date, start time and id.
// Appointments whose required references are missing are left out.
func (s State) List(f Filter) []model.AppointmentWithDetails {
	out := make([]model.AppointmentWithDetails, 0)
	for id, a := range s.Appointments {
		if !f.match(a) {
			continue
		}
		if d, ok := s.Denormalize(id); ok {
			out = append(out, d)
		}
	}
	SortDetails(out)
	return out
}

func SortDetails(items []model.AppointmentWithDetails) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}

// Normalize splits joined records into a partial of distinct entities.
func Normalize(items []model.AppointmentWithDetails, version uint64) Partial {
	p := Partial{Version: version}
	seen := map[Ref]bool{}
	add := func(ref Ref) bool {
		if seen[ref] {
			return false
		}
		seen[ref] = true
		return true
	}
	for _, d := range items {
		if add(Ref{KindAppointment, d.ID}) {
			p.Appointments = append(p.Appointments, d.Appointment)
		}
		if add(Ref{KindCustomer, d.Customer.ID}) {
			p.Customers = append(p.Customers, d.Customer)
		}
		if add(Ref{KindService, d.Service.ID}) {
			p.Services = append(p.Services, d.Service)
		}
		if d.Staff != nil && add(Ref{KindStaff, d.Staff.ID}) {
			p.Staff = append(p.Staff, *d.Staff)
		}
	}
	return p
}
