// Package coordinator runs appointment mutations optimistically against a session store.
//
// Every mutation follows the same order: validate, check the status machine and the slot, write
// the expected result into the store, call the backend, then reconcile on success or restore
// the pre-write snapshot on failure. Validation, transition and conflict failures never reach
// the backend. The coordinator never retries.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/availability"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/backend"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/events"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/metrics"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/reminder"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/store"
)

type ReminderDispatcher interface {
	Dispatch(ctx context.Context, req reminder.Request) error
}

type Config struct {
	// BackendTimeout bounds each backend call; expiry takes the failure path. Zero disables it.
	BackendTimeout time.Duration
	BusinessName   string
	// SlotWindow bounds FreeSlots. The zero value means the whole day.
	SlotWindow      availability.Range
	SlotStepMinutes int
}

type Deps struct {
	Store     *store.Store
	Backend   backend.Backend
	Checker   *availability.Checker
	Events    events.Publisher
	Reminders ReminderDispatcher
	Logger    *slog.Logger
	Now       func() time.Time
}

type Coordinator struct {
	store     *store.Store
	backend   backend.Backend
	checker   *availability.Checker
	events    events.Publisher
	reminders ReminderDispatcher
	validate  *validator.Validate
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	cfg       Config
}

func New(d Deps, cfg Config) *Coordinator {
	if d.Store == nil {
		d.Store = store.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.Checker == nil {
		d.Checker = availability.NewChecker(d.Backend, nil, d.Logger)
	}
	if d.Reminders == nil {
		d.Reminders = reminder.NewDispatcher(d.Events)
	}
	if !cfg.SlotWindow.Valid() {
		cfg.SlotWindow = availability.Range{Start: 0, End: 24*60 - 1}
	}
	if cfg.SlotStepMinutes <= 0 {
		cfg.SlotStepMinutes = 15
	}
	return &Coordinator{
		store:     d.Store,
		backend:   d.Backend,
		checker:   d.Checker,
		events:    d.Events,
		reminders: d.Reminders,
		validate:  newValidator(),
		logger:    d.Logger,
		tracer:    otel.Tracer("desk-service/coordinator"),
		now:       d.Now,
		cfg:       cfg,
	}
}

func (c *Coordinator) Store() *store.Store {
	return c.store
}

// bound applies the backend timeout to ctx and starts the latency timer for op. done must be
// called when the request returns.
func (c *Coordinator) bound(ctx context.Context, op string) (_ context.Context, done func()) {
	stop := metrics.ObserveBackend(op)
	if c.cfg.BackendTimeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BackendTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// call runs one backend request under the configured timeout and records its latency.
func (c *Coordinator) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, done := c.bound(ctx, op)
	defer done()
	return fn(ctx)
}

func (c *Coordinator) start(ctx context.Context, op string, sess model.Session) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "coordinator."+op, trace.WithAttributes(
		attributeOrg(sess.OrgID),
	))
}

// finish records the outcome of op on its span and in metrics.
func (c *Coordinator) finish(span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		metrics.RecordMutation(op, "ok")
		return
	}
	kind := KindOf(err)
	if kind == "" {
		kind = KindCollaborator
	}
	metrics.RecordMutation(op, string(kind))
	if kind == KindCollaborator || kind == KindPartial {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (c *Coordinator) collaboratorError(op string, sess model.Session, err error, attrs ...any) *Error {
	args := append([]any{"op", op, "org_id", sess.OrgID, "err", err}, attrs...)
	c.logger.Error("backend call failed", args...)
	return failed(op, err)
}

// publish hands a lifecycle event to the broker. Failures are logged and never surfaced: the
// backend write has already succeeded.
func (c *Coordinator) publish(ctx context.Context, eventType string, appt model.Appointment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := c.events.Publish(ctx, events.Event{
		Type:    eventType,
		Key:     appt.ID,
		OrgID:   appt.OrgID,
		Payload: appt,
	})
	if err != nil {
		c.logger.Warn("event publish failed", "event_type", eventType, "appointment_id", appt.ID, "err", err)
	}
}

// current returns the cached appointment or reads it fresh from the backend and caches it.
// Placeholders have no backend identity yet and cannot be mutated.
func (c *Coordinator) current(ctx context.Context, sess model.Session, id string) (model.Appointment, error) {
	if model.IsPlaceholderID(id) {
		return model.Appointment{}, invalid("appointment_id", "appointment is still being created")
	}
	if appt, ok := c.store.State().Appointment(id); ok {
		return appt, nil
	}
	d, err := c.fetch(ctx, sess, id)
	if err != nil {
		return model.Appointment{}, err
	}
	return d.Appointment, nil
}

func (c *Coordinator) fetch(ctx context.Context, sess model.Session, id string) (model.AppointmentWithDetails, error) {
	version := c.store.NextVersion()
	var d model.AppointmentWithDetails
	err := c.call(ctx, "get_appointment", func(ctx context.Context) error {
		var err error
		d, err = c.backend.GetAppointment(ctx, id, sess.OrgID)
		return err
	})
	if errors.Is(err, backend.ErrNotFound) {
		return model.AppointmentWithDetails{}, &Error{Kind: KindNotFound, Field: "appointment_id", Message: "appointment not found", Err: err}
	}
	if err != nil {
		return model.AppointmentWithDetails{}, c.collaboratorError("get_appointment", sess, err, "appointment_id", id)
	}
	c.store.MergeExternal(store.Normalize([]model.AppointmentWithDetails{d}, version))
	return d, nil
}
