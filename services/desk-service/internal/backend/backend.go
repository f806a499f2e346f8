// Package backend defines the collaborator contracts the lifecycle engine is written against
// and their Postgres implementation.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

var ErrNotFound = errors.New("not found")

type StatusUpdate struct {
	ID     string
	OrgID  string
	UserID string
	Status model.Status
	Reason string
	At     time.Time
}

type RangeFilter struct {
	StaffID    string
	CustomerID string
	Statuses   []model.Status
}

// Appointments is the authoritative appointment service. Dates are YYYY-MM-DD and both range
// bounds are inclusive.
type Appointments interface {
	Create(ctx context.Context, in model.Appointment, orgID, userID string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) error
	GetByDateRange(ctx context.Context, orgID, start, end string, f RangeFilter) ([]model.AppointmentWithDetails, error)
	GetAppointment(ctx context.Context, id, orgID string) (model.AppointmentWithDetails, error)
	CheckAvailabilityCandidates(ctx context.Context, orgID, staffID, date string) ([]model.SlotCandidate, error)
}

type Lookups interface {
	GetCustomer(ctx context.Context, id, orgID string) (model.Customer, error)
	GetService(ctx context.Context, id, orgID string) (model.Service, error)
	GetStaff(ctx context.Context, id, orgID string) (model.Staff, error)
}

type Backend interface {
	Appointments
	Lookups
}
