package coordinator

import (
	"context"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/availability"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/backend"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/metrics"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/store"
)

// LoadRange reads a date range from the backend into the store and returns the cached view of
// it. The version is taken before the read, so writes issued while it is in flight win.
func (c *Coordinator) LoadRange(ctx context.Context, sess model.Session, in RangeInput) (items []model.AppointmentWithDetails, err error) {
	ctx, span := c.start(ctx, "load_range", sess)
	defer func() { c.finish(span, "load_range", err) }()

	if verr := c.check(in); verr != nil {
		return nil, verr
	}
	if in.End < in.Start {
		return nil, invalid("end", "must not be before start")
	}

	filter := backend.RangeFilter{StaffID: in.StaffID, CustomerID: in.CustomerID, Statuses: in.Statuses}
	version := c.store.NextVersion()
	var fetched []model.AppointmentWithDetails
	err = c.call(ctx, "get_by_date_range", func(ctx context.Context) error {
		var err error
		fetched, err = c.backend.GetByDateRange(ctx, sess.OrgID, in.Start, in.End, filter)
		return err
	})
	if err != nil {
		return nil, c.collaboratorError("get_by_date_range", sess, err, "start", in.Start, "end", in.End)
	}
	c.store.MergeExternal(store.Normalize(fetched, version))

	return c.store.State().List(store.Filter{
		From:       in.Start,
		To:         in.End,
		StaffID:    in.StaffID,
		CustomerID: in.CustomerID,
		Statuses:   in.Statuses,
	}), nil
}

// GetAppointment serves the cached view, reading through to the backend on a miss.
func (c *Coordinator) GetAppointment(ctx context.Context, sess model.Session, id string) (d model.AppointmentWithDetails, err error) {
	ctx, span := c.start(ctx, "get_appointment", sess)
	defer func() { c.finish(span, "get_appointment", err) }()

	if id == "" {
		return model.AppointmentWithDetails{}, invalid("id", "is required")
	}
	if d, ok := c.store.State().Denormalize(id); ok {
		return d, nil
	}
	if model.IsPlaceholderID(id) {
		return model.AppointmentWithDetails{}, &Error{Kind: KindNotFound, Field: "id", Message: "appointment not found"}
	}
	return c.fetch(ctx, sess, id)
}

// CheckAvailability answers whether a staff member is free for a time range.
func (c *Coordinator) CheckAvailability(ctx context.Context, sess model.Session, in AvailabilityInput) (res availability.Result, err error) {
	ctx, span := c.start(ctx, "check_availability", sess)
	defer func() { c.finish(span, "check_availability", err) }()

	if verr := c.check(in); verr != nil {
		return availability.Result{}, verr
	}
	start, _ := model.ParseClock(in.StartTime)
	end, _ := model.ParseClock(in.EndTime)
	if end <= start {
		return availability.Result{}, invalid("end_time", "must be after start_time")
	}
	return c.checkSlot(ctx, sess, availability.Query{
		Date:      in.Date,
		StaffID:   in.StaffID,
		Range:     availability.Range{Start: start, End: end},
		ExcludeID: in.ExcludeID,
	}), nil
}

func (c *Coordinator) checkSlot(ctx context.Context, sess model.Session, q availability.Query) availability.Result {
	ctx, done := c.bound(ctx, "check_availability_candidates")
	res := c.checker.Check(ctx, sess.OrgID, q)
	done()
	switch {
	case res.Available:
		metrics.RecordConflictCheck("available")
	case res.Unverified:
		metrics.RecordConflictCheck("unverified")
	case res.Reason == availability.ReasonOutsideSchedule:
		metrics.RecordConflictCheck("outside_schedule")
	default:
		metrics.RecordConflictCheck("occupied")
	}
	return res
}

// FreeSlots lists start times on date where a booking of the given length fits. Past dates
// have none; today starts from the current time.
func (c *Coordinator) FreeSlots(ctx context.Context, sess model.Session, in SlotsInput) (slots []string, err error) {
	ctx, span := c.start(ctx, "free_slots", sess)
	defer func() { c.finish(span, "free_slots", err) }()

	if verr := c.check(in); verr != nil {
		return nil, verr
	}
	now := c.now().In(sess.Loc())
	today := now.Format(model.DateLayout)
	if in.Date < today {
		return []string{}, nil
	}
	var notBefore model.Clock
	if in.Date == today {
		notBefore = model.Clock(now.Hour()*60 + now.Minute())
	}

	var candidates []model.SlotCandidate
	err = c.call(ctx, "check_availability_candidates", func(ctx context.Context) error {
		var err error
		candidates, err = c.backend.CheckAvailabilityCandidates(ctx, sess.OrgID, in.StaffID, in.Date)
		return err
	})
	if err != nil {
		return nil, c.collaboratorError("check_availability_candidates", sess, err, "staff_id", in.StaffID)
	}

	free := availability.FreeSlots(c.cfg.SlotWindow, in.DurationMinutes, c.cfg.SlotStepMinutes, availability.Busy(candidates, ""), notBefore)
	slots = make([]string, 0, len(free))
	for _, s := range free {
		slots = append(slots, s.String())
	}
	return slots, nil
}
