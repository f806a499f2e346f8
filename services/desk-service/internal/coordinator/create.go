package coordinator

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/availability"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/backend"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/events"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/metrics"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/store"
)

// Create books a new appointment. The placeholder is visible in the store from the optimistic
// write until the backend settles; it is then replaced by the backend entity or removed.
func (c *Coordinator) Create(ctx context.Context, sess model.Session, in CreateAppointmentInput) (appt model.Appointment, err error) {
	ctx, span := c.start(ctx, "create", sess)
	defer func() { c.finish(span, "create", err) }()

	if verr := c.check(in); verr != nil {
		return model.Appointment{}, verr
	}
	if in.Date < model.Today(c.now(), sess.Loc()) {
		return model.Appointment{}, invalid("appointment_date", "must not be in the past")
	}
	start, _ := model.ParseClock(in.StartTime)

	svc, customer, staff, err := c.resolveRefs(ctx, sess, in)
	if err != nil {
		return model.Appointment{}, err
	}

	var end model.Clock
	if in.EndTime != "" {
		end, _ = model.ParseClock(in.EndTime)
	} else {
		var crossesMidnight bool
		end, crossesMidnight = model.DeriveEndTime(start, svc.DurationMinutes, svc.BufferTimeMinutes)
		if crossesMidnight {
			return model.Appointment{}, invalid("end_time", "appointment would run past midnight")
		}
	}
	if end <= start {
		return model.Appointment{}, invalid("end_time", "must be after start_time")
	}

	status := model.StatusConfirmed
	if svc.RequiresApproval {
		status = model.StatusPending
	}

	if in.StaffID != "" {
		res := c.checkSlot(ctx, sess, availability.Query{
			Date:    in.Date,
			StaffID: in.StaffID,
			Range:   availability.Range{Start: start, End: end},
		})
		if err := slotError(res); err != nil {
			return model.Appointment{}, err
		}
	}

	now := c.now()
	placeholder := model.Appointment{
		ID:            model.NewPlaceholderID(),
		OrgID:         sess.OrgID,
		CustomerID:    in.CustomerID,
		ServiceID:     in.ServiceID,
		StaffID:       in.StaffID,
		Date:          in.Date,
		StartTime:     start.String(),
		EndTime:       end.String(),
		Status:        status,
		Source:        in.Source,
		Notes:         in.Notes,
		Price:         svc.Price,
		PaymentStatus: in.PaymentStatus,
		PaymentMethod: in.PaymentMethod,
		CreatedBy:     sess.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if placeholder.Source == "" {
		placeholder.Source = model.SourceManual
	}
	if in.Price != nil {
		placeholder.Price = *in.Price
	}

	optimistic := store.Partial{
		Appointments: []model.Appointment{placeholder},
		Customers:    []model.Customer{customer},
		Services:     []model.Service{svc},
	}
	if staff != nil {
		optimistic.Staff = []model.Staff{*staff}
	}
	snap := c.store.Write(optimistic)
	defer c.store.Settle(snap)

	request := placeholder
	request.ID = ""
	var created model.Appointment
	err = c.call(ctx, "create", func(ctx context.Context) error {
		var err error
		created, err = c.backend.Create(ctx, request, sess.OrgID, sess.UserID)
		return err
	})
	if err != nil {
		c.store.Restore(snap)
		metrics.RecordRollback("create")
		return model.Appointment{}, c.collaboratorError("create", sess, err, "placeholder_id", placeholder.ID)
	}

	c.store.Reconcile(snap, store.Partial{
		Appointments: []model.Appointment{created},
		Remove:       []store.Ref{{Kind: store.KindAppointment, ID: placeholder.ID}},
	})
	span.SetAttributes(attributeAppointment(created.ID))
	c.logger.Info("appointment created", "appointment_id", created.ID, "org_id", sess.OrgID, "status", created.Status)
	c.publish(ctx, events.TypeAppointmentCreated, created)
	return created, nil
}

// resolveRefs reads the referenced service, customer and staff, which must exist and, for
// service and staff, be active.
func (c *Coordinator) resolveRefs(ctx context.Context, sess model.Session, in CreateAppointmentInput) (model.Service, model.Customer, *model.Staff, error) {
	var svc model.Service
	err := c.call(ctx, "get_service", func(ctx context.Context) error {
		var err error
		svc, err = c.backend.GetService(ctx, in.ServiceID, sess.OrgID)
		return err
	})
	if err := c.lookupError("service_id", "service", "get_service", sess, err); err != nil {
		return model.Service{}, model.Customer{}, nil, err
	}
	if !svc.IsActive {
		return model.Service{}, model.Customer{}, nil, invalid("service_id", "service is not active")
	}

	var customer model.Customer
	err = c.call(ctx, "get_customer", func(ctx context.Context) error {
		var err error
		customer, err = c.backend.GetCustomer(ctx, in.CustomerID, sess.OrgID)
		return err
	})
	if err := c.lookupError("customer_id", "customer", "get_customer", sess, err); err != nil {
		return model.Service{}, model.Customer{}, nil, err
	}

	if in.StaffID == "" {
		return svc, customer, nil, nil
	}
	var staff model.Staff
	err = c.call(ctx, "get_staff", func(ctx context.Context) error {
		var err error
		staff, err = c.backend.GetStaff(ctx, in.StaffID, sess.OrgID)
		return err
	})
	if err := c.lookupError("staff_id", "staff member", "get_staff", sess, err); err != nil {
		return model.Service{}, model.Customer{}, nil, err
	}
	if !staff.IsActive {
		return model.Service{}, model.Customer{}, nil, invalid("staff_id", "staff member is not active")
	}
	return svc, customer, &staff, nil
}

func (c *Coordinator) lookupError(field, what, op string, sess model.Session, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrNotFound) {
		return invalid(field, what+" not found")
	}
	return c.collaboratorError(op, sess, err)
}

func slotError(res availability.Result) error {
	if res.Available {
		return nil
	}
	if res.Unverified {
		return &Error{Kind: KindCollaborator, Field: "staff_id", Message: res.Reason}
	}
	return &Error{Kind: KindConflict, Field: "start_time", Message: res.Reason}
}
