// Package lifecycle holds the appointment status machine.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

// MaxCancelReasonLen bounds the free-text reason stored on cancellation.
const MaxCancelReasonLen = 200

var transitions = map[model.Status][]model.Status{
	model.StatusPending: {
		model.StatusConfirmed,
		model.StatusCancelled,
		model.StatusNoShow,
		model.StatusCheckedIn,
		model.StatusInProgress,
		model.StatusCompleted,
	},
	model.StatusConfirmed: {
		model.StatusReminded,
		model.StatusClientConfirmed,
		model.StatusCheckedIn,
		model.StatusInProgress,
		model.StatusCompleted,
		model.StatusCancelled,
		model.StatusNoShow,
	},
	model.StatusReminded: {
		model.StatusClientConfirmed,
		model.StatusCheckedIn,
		model.StatusInProgress,
		model.StatusCompleted,
		model.StatusCancelled,
		model.StatusNoShow,
	},
	model.StatusClientConfirmed: {
		model.StatusCheckedIn,
		model.StatusInProgress,
		model.StatusCompleted,
		model.StatusCancelled,
		model.StatusNoShow,
	},
	model.StatusCheckedIn: {
		model.StatusInProgress,
		model.StatusCompleted,
		model.StatusCancelled,
		model.StatusNoShow,
	},
	model.StatusInProgress: {
		model.StatusCompleted,
		model.StatusCancelled,
	},
	model.StatusCompleted: {
		model.StatusRescheduled,
	},
}

var occupying = map[model.Status]bool{
	model.StatusPending:         true,
	model.StatusConfirmed:       true,
	model.StatusReminded:        true,
	model.StatusClientConfirmed: true,
	model.StatusCheckedIn:       true,
	model.StatusInProgress:      true,
}

// CanTransition reports whether current may move to requested. Unknown statuses admit nothing.
func CanTransition(current, requested model.Status) bool {
	for _, next := range transitions[current] {
		if next == requested {
			return true
		}
	}
	return false
}

// Allowed returns a copy of the statuses reachable from current in one step.
func Allowed(current model.Status) []model.Status {
	next := transitions[current]
	out := make([]model.Status, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports statuses with no outgoing transitions.
func IsTerminal(s model.Status) bool {
	return s.Valid() && len(transitions[s]) == 0
}

// IsActive reports whether an appointment in status s holds its time slot.
func IsActive(s model.Status) bool {
	return occupying[s]
}

func ActiveStatuses() []model.Status {
	out := make([]model.Status, 0, len(occupying))
	for _, s := range model.Statuses {
		if occupying[s] {
			out = append(out, s)
		}
	}
	return out
}

type TransitionError struct {
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// Check returns a *TransitionError when the move is not permitted.
func Check(current, requested model.Status) error {
	if !CanTransition(current, requested) {
		return &TransitionError{From: current, To: requested}
	}
	return nil
}

// Change is the caller-side context of an accepted transition.
type Change struct {
	At     time.Time
	By     string
	Reason string
}

// Stamp returns appt moved to status to, with the side-effect timestamps that status carries.
// It does not validate the move; callers run Check first.
func Stamp(appt model.Appointment, to model.Status, c Change) model.Appointment {
	at := c.At
	appt.Status = to
	appt.UpdatedAt = at
	switch to {
	case model.StatusCancelled:
		appt.CancelledAt = &at
		appt.CancelledBy = c.By
		appt.CancellationReason = c.Reason
	case model.StatusClientConfirmed:
		appt.ClientConfirmedAt = &at
	case model.StatusReminded:
		appt.ReminderSentAt = &at
	case model.StatusInProgress:
		if appt.ActualStartTime == nil {
			appt.ActualStartTime = &at
		}
	case model.StatusCompleted:
		if appt.ActualStartTime == nil {
			appt.ActualStartTime = &at
		}
		appt.ActualEndTime = &at
	}
	return appt
}
