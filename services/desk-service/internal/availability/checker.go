package availability

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

const (
	ReasonOccupied        = "resource already has an appointment in that time range"
	ReasonUnverified      = "could not verify availability, please try again"
	ReasonOutsideSchedule = "requested time is outside the staff member's working hours"
)

// CandidateSource lists a staff member's commitments on a date.
type CandidateSource interface {
	CheckAvailabilityCandidates(ctx context.Context, orgID, staffID, date string) ([]model.SlotCandidate, error)
}

// Schedule is an optional predicate consulted ahead of the collision check.
type Schedule interface {
	Allows(ctx context.Context, orgID, staffID, date string, r Range) (bool, error)
}

type Query struct {
	Date      string
	StaffID   string
	Range     Range
	ExcludeID string
}

type Result struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	// Unverified is set when the answer is "no" only because candidates could not be read.
	Unverified bool   `json:"unverified,omitempty"`
	ConflictID string `json:"conflict_id,omitempty"`
}

type Checker struct {
	source   CandidateSource
	schedule Schedule
	logger   *slog.Logger
}

func NewChecker(source CandidateSource, schedule Schedule, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{source: source, schedule: schedule, logger: logger}
}

// Check is staff scoped. A query without a staff id is trivially available; callers skip the
// check for any-available bookings. Read failures fail closed.
func (c *Checker) Check(ctx context.Context, orgID string, q Query) Result {
	if q.StaffID == "" {
		return Result{Available: true}
	}

	if c.schedule != nil {
		ok, err := c.schedule.Allows(ctx, orgID, q.StaffID, q.Date, q.Range)
		if err != nil {
			c.logger.Warn("schedule lookup failed", "staff_id", q.StaffID, "date", q.Date, "err", err)
			return Result{Reason: ReasonUnverified, Unverified: true}
		}
		if !ok {
			return Result{Reason: ReasonOutsideSchedule}
		}
	}

	candidates, err := c.source.CheckAvailabilityCandidates(ctx, orgID, q.StaffID, q.Date)
	if err != nil {
		c.logger.Warn("availability candidates unavailable", "staff_id", q.StaffID, "date", q.Date, "err", err)
		return Result{Reason: ReasonUnverified, Unverified: true}
	}

	for _, cand := range candidates {
		r, ok := candidateRange(cand, q.ExcludeID)
		if !ok {
			continue
		}
		if Overlaps(q.Range, r) {
			return Result{Reason: ReasonOccupied, ConflictID: cand.AppointmentID}
		}
	}
	return Result{Available: true}
}

// Busy converts candidates into occupied ranges, dropping inactive and excluded ones.
func Busy(candidates []model.SlotCandidate, excludeID string) []Range {
	out := make([]Range, 0, len(candidates))
	for _, cand := range candidates {
		if r, ok := candidateRange(cand, excludeID); ok {
			out = append(out, r)
		}
	}
	return out
}

func candidateRange(cand model.SlotCandidate, excludeID string) (Range, bool) {
	if excludeID != "" && cand.AppointmentID == excludeID {
		return Range{}, false
	}
	// An empty status means the source already filtered to occupying appointments.
	if cand.Status != "" && !lifecycle.IsActive(cand.Status) {
		return Range{}, false
	}
	start, err1 := model.ParseClock(cand.StartTime)
	end, err2 := model.ParseClock(cand.EndTime)
	if err1 != nil || err2 != nil {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

// Workday allows any range that sits inside one fixed daily window.
type Workday struct {
	Start model.Clock
	End   model.Clock
}

func (w Workday) Allows(_ context.Context, _, _, _ string, r Range) (bool, error) {
	return r.Start >= w.Start && r.End <= w.End, nil
}
