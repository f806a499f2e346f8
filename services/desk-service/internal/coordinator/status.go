package coordinator

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/backend"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/events"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/metrics"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/reminder"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/store"
)

// UpdateStatus moves an appointment through the status machine. The new status is written to
// the store before the backend call and restored from the pre-write snapshot if it fails.
func (c *Coordinator) UpdateStatus(ctx context.Context, sess model.Session, in UpdateStatusInput) (appt model.Appointment, err error) {
	ctx, span := c.start(ctx, "update_status", sess)
	defer func() { c.finish(span, "update_status", err) }()

	if verr := c.check(in); verr != nil {
		return model.Appointment{}, verr
	}
	span.SetAttributes(attributeAppointment(in.AppointmentID))
	reason := in.Reason
	if in.Status != model.StatusCancelled {
		reason = ""
	}
	return c.transition(ctx, sess, "update_status", in.AppointmentID, in.Status, reason)
}

// Cancel is a transition to cancelled. Appointments are never deleted.
func (c *Coordinator) Cancel(ctx context.Context, sess model.Session, in CancelInput) (appt model.Appointment, err error) {
	ctx, span := c.start(ctx, "cancel", sess)
	defer func() { c.finish(span, "cancel", err) }()

	if verr := c.check(in); verr != nil {
		return model.Appointment{}, verr
	}
	span.SetAttributes(attributeAppointment(in.AppointmentID))
	return c.transition(ctx, sess, "cancel", in.AppointmentID, model.StatusCancelled, in.Reason)
}

func (c *Coordinator) transition(ctx context.Context, sess model.Session, op, id string, to model.Status, reason string) (model.Appointment, error) {
	cur, err := c.current(ctx, sess, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := lifecycle.Check(cur.Status, to); err != nil {
		return model.Appointment{}, &Error{Kind: KindTransition, Field: "status", Message: err.Error(), Err: err}
	}

	now := c.now()
	next := lifecycle.Stamp(cur, to, lifecycle.Change{At: now, By: sess.UserID, Reason: reason})
	snap := c.store.Write(store.Partial{Appointments: []model.Appointment{next}})
	defer c.store.Settle(snap)

	err = c.call(ctx, op, func(ctx context.Context) error {
		return c.backend.UpdateStatus(ctx, backend.StatusUpdate{
			ID:     id,
			OrgID:  sess.OrgID,
			UserID: sess.UserID,
			Status: to,
			Reason: reason,
			At:     now,
		})
	})
	if err != nil {
		c.store.Restore(snap)
		metrics.RecordRollback(op)
		if errors.Is(err, backend.ErrNotFound) {
			return model.Appointment{}, &Error{Kind: KindNotFound, Field: "appointment_id", Message: "appointment not found", Err: err}
		}
		return model.Appointment{}, c.collaboratorError(op, sess, err, "appointment_id", id, "status", to)
	}

	c.logger.Info("appointment status changed", "appointment_id", id, "org_id", sess.OrgID, "from", cur.Status, "to", to)
	eventType := events.TypeStatusChanged
	if to == model.StatusCancelled {
		eventType = events.TypeCancelled
	}
	c.publish(ctx, eventType, next)
	return next, nil
}

type ReminderResult struct {
	Appointment model.Appointment `json:"appointment"`
	Request     reminder.Request  `json:"reminder"`
}

// SendReminder composes the reminder, hands it to the dispatcher and then marks the appointment
// reminded. Nothing is written when the transition is not allowed or the hand-off fails. When
// the hand-off succeeds but the status update does not, the status is rolled back and a
// KindPartial error is returned together with the request that went out.
func (c *Coordinator) SendReminder(ctx context.Context, sess model.Session, appointmentID string) (res ReminderResult, err error) {
	ctx, span := c.start(ctx, "send_reminder", sess)
	defer func() { c.finish(span, "send_reminder", err) }()

	if appointmentID == "" {
		return ReminderResult{}, invalid("appointment_id", "is required")
	}
	span.SetAttributes(attributeAppointment(appointmentID))

	cur, err := c.current(ctx, sess, appointmentID)
	if err != nil {
		return ReminderResult{}, err
	}
	if err := lifecycle.Check(cur.Status, model.StatusReminded); err != nil {
		return ReminderResult{}, &Error{Kind: KindTransition, Field: "status", Message: err.Error(), Err: err}
	}

	d, ok := c.store.State().Denormalize(appointmentID)
	if !ok {
		if d, err = c.fetch(ctx, sess, appointmentID); err != nil {
			return ReminderResult{}, err
		}
	}
	req, err := reminder.Build(d, c.cfg.BusinessName)
	if errors.Is(err, reminder.ErrNoPhone) {
		return ReminderResult{}, invalid("phone", err.Error())
	}
	if err != nil {
		return ReminderResult{}, invalid("", err.Error())
	}

	err = c.call(ctx, "dispatch_reminder", func(ctx context.Context) error {
		return c.reminders.Dispatch(ctx, req)
	})
	if err != nil {
		return ReminderResult{}, c.collaboratorError("dispatch_reminder", sess, err, "appointment_id", appointmentID)
	}

	appt, err := c.transition(ctx, sess, "send_reminder", appointmentID, model.StatusReminded, "")
	if err != nil {
		// The message is already out; resending on this error would duplicate it.
		c.logger.Warn("reminder dispatched but status update failed", "appointment_id", appointmentID, "org_id", sess.OrgID, "err", err)
		if cached, ok := c.store.State().Appointment(appointmentID); ok {
			cur = cached
		}
		return ReminderResult{Appointment: cur, Request: req}, &Error{
			Kind:    KindPartial,
			Field:   "status",
			Message: "reminder was sent but the appointment could not be marked reminded; do not resend",
			Err:     err,
		}
	}
	return ReminderResult{Appointment: appt, Request: req}, nil
}
