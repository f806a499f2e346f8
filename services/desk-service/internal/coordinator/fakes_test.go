package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/backend"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/events"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/reminder"
)

var testNow = time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)

func testSession() model.Session {
	return model.Session{OrgID: "org", UserID: "u1", Location: time.UTC}
}

// fakeBackend is an in-memory backend. Hooks run before a write is applied and may block or
// fail it.
type fakeBackend struct {
	mu        sync.Mutex
	services  map[string]model.Service
	customers map[string]model.Customer
	staff     map[string]model.Staff
	appts     map[string]model.Appointment
	seq       int

	candidatesErr  error
	candidatesHook func(ctx context.Context) error
	createHook     func(ctx context.Context) error
	updateHook     func(ctx context.Context, u backend.StatusUpdate) error

	creates int
	updates []backend.StatusUpdate
	reads   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		services: map[string]model.Service{
			"svc-cut":     {ID: "svc-cut", OrgID: "org", Name: "Haircut", DurationMinutes: 45, BufferTimeMinutes: 15, Price: 20, IsActive: true},
			"svc-consult": {ID: "svc-consult", OrgID: "org", Name: "Consultation", DurationMinutes: 30, RequiresApproval: true, IsActive: true},
			"svc-retired": {ID: "svc-retired", OrgID: "org", Name: "Old", DurationMinutes: 30},
			"svc-long":    {ID: "svc-long", OrgID: "org", Name: "Overnight", DurationMinutes: 120, IsActive: true},
		},
		customers: map[string]model.Customer{
			"cus-1": {ID: "cus-1", OrgID: "org", Name: "Alice", Phone: "+8801700000000", IsActive: true},
			"cus-2": {ID: "cus-2", OrgID: "org", Name: "Nophone", IsActive: true},
		},
		staff: map[string]model.Staff{
			"stf-1": {ID: "stf-1", OrgID: "org", Name: "Bob", IsActive: true},
		},
		appts: map[string]model.Appointment{},
	}
}

func (f *fakeBackend) seed(a model.Appointment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appts[a.ID] = a
}

func (f *fakeBackend) Create(ctx context.Context, in model.Appointment, orgID, userID string) (model.Appointment, error) {
	if f.createHook != nil {
		if err := f.createHook(ctx); err != nil {
			return model.Appointment{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.seq++
	in.ID = fmt.Sprintf("appt-%d", f.seq)
	in.OrgID = orgID
	in.CreatedBy = userID
	f.appts[in.ID] = in
	return in, nil
}

func (f *fakeBackend) UpdateStatus(ctx context.Context, u backend.StatusUpdate) error {
	if f.updateHook != nil {
		if err := f.updateHook(ctx, u); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	a, ok := f.appts[u.ID]
	if !ok {
		return backend.ErrNotFound
	}
	a.Status = u.Status
	f.appts[u.ID] = a
	return nil
}

func (f *fakeBackend) details(a model.Appointment) model.AppointmentWithDetails {
	d := model.AppointmentWithDetails{Appointment: a, Customer: f.customers[a.CustomerID], Service: f.services[a.ServiceID]}
	if st, ok := f.staff[a.StaffID]; ok {
		d.Staff = &st
	}
	return d
}

func (f *fakeBackend) GetByDateRange(_ context.Context, orgID, start, end string, flt backend.RangeFilter) ([]model.AppointmentWithDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AppointmentWithDetails
	for _, a := range f.appts {
		if a.OrgID != orgID || a.Date < start || a.Date > end {
			continue
		}
		if flt.StaffID != "" && a.StaffID != flt.StaffID {
			continue
		}
		out = append(out, f.details(a))
	}
	return out, nil
}

func (f *fakeBackend) GetAppointment(_ context.Context, id, orgID string) (model.AppointmentWithDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	a, ok := f.appts[id]
	if !ok || a.OrgID != orgID {
		return model.AppointmentWithDetails{}, backend.ErrNotFound
	}
	return f.details(a), nil
}

func (f *fakeBackend) CheckAvailabilityCandidates(ctx context.Context, orgID, staffID, date string) ([]model.SlotCandidate, error) {
	if f.candidatesHook != nil {
		if err := f.candidatesHook(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candidatesErr != nil {
		return nil, f.candidatesErr
	}
	var out []model.SlotCandidate
	for _, a := range f.appts {
		if a.OrgID == orgID && a.StaffID == staffID && a.Date == date {
			out = append(out, model.SlotCandidate{AppointmentID: a.ID, Status: a.Status, StartTime: a.StartTime, EndTime: a.EndTime})
		}
	}
	return out, nil
}

func (f *fakeBackend) GetCustomer(_ context.Context, id, _ string) (model.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return model.Customer{}, backend.ErrNotFound
	}
	return c, nil
}

func (f *fakeBackend) GetService(_ context.Context, id, _ string) (model.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[id]
	if !ok {
		return model.Service{}, backend.ErrNotFound
	}
	return s, nil
}

func (f *fakeBackend) GetStaff(_ context.Context, id, _ string) (model.Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.staff[id]
	if !ok {
		return model.Staff{}, backend.ErrNotFound
	}
	return s, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req reminder.Request) error {
	return m.Called(ctx, req).Error(0)
}

type harness struct {
	c          *Coordinator
	backend    *fakeBackend
	publisher  *recordingPublisher
	dispatcher *mockDispatcher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	fb := newFakeBackend()
	pub := &recordingPublisher{}
	disp := &mockDispatcher{}
	c := New(Deps{
		Backend:   fb,
		Events:    pub,
		Reminders: disp,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return testNow },
	}, cfg)
	return &harness{c: c, backend: fb, publisher: pub, dispatcher: disp}
}
