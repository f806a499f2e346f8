package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Appointment is the normalized form: references are ids only. Date is YYYY-MM-DD and
// StartTime/EndTime are zero-padded HH:MM in the organization's time zone.
type Appointment struct {
	ID         string `json:"id"`
	OrgID      string `json:"organization_id"`
	CustomerID string `json:"customer_id"`
	ServiceID  string `json:"service_id"`
	// StaffID is empty for "any available" bookings.
	StaffID   string `json:"staff_id,omitempty"`
	Date      string `json:"appointment_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    Status `json:"status"`
	Source    Source `json:"source"`
	Notes     string `json:"notes,omitempty"`

	Price         float64 `json:"price"`
	PaymentStatus string  `json:"payment_status,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty"`

	ClientConfirmedAt  *time.Time `json:"client_confirmed_at,omitempty"`
	ReminderSentAt     *time.Time `json:"reminder_sent_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	ActualStartTime    *time.Time `json:"actual_start_time,omitempty"`
	ActualEndTime      *time.Time `json:"actual_end_time,omitempty"`

	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlaceholderPrefix marks ids minted locally for optimistic copies. Backend ids are uuids
// and never carry it.
const PlaceholderPrefix = "tmp-"

func NewPlaceholderID() string {
	return PlaceholderPrefix + uuid.NewString()
}

func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

type Customer struct {
	ID       string `json:"id"`
	OrgID    string `json:"organization_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	IsActive bool   `json:"is_active"`
}

type Service struct {
	ID                string  `json:"id"`
	OrgID             string  `json:"organization_id"`
	Name              string  `json:"name"`
	DurationMinutes   int     `json:"duration_minutes"`
	BufferTimeMinutes int     `json:"buffer_time_minutes"`
	Price             float64 `json:"price"`
	RequiresApproval  bool    `json:"requires_approval"`
	IsActive          bool    `json:"is_active"`
}

type Staff struct {
	ID       string `json:"id"`
	OrgID    string `json:"organization_id"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	IsActive bool   `json:"is_active"`
}

// AppointmentWithDetails is the read-time join used for presentation. Staff is nil when
// the appointment has no staff assigned.
type AppointmentWithDetails struct {
	Appointment
	Customer Customer `json:"customer"`
	Service  Service  `json:"service"`
	Staff    *Staff   `json:"staff,omitempty"`
}

// Session is the explicit organization/user context threaded into every engine call.
type Session struct {
	OrgID    string
	UserID   string
	Location *time.Location
}

func (s Session) Loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// Key identifies the session's cache.
func (s Session) Key() string {
	return s.OrgID + "/" + s.UserID
}

// SlotCandidate is an existing commitment of a staff member on one date, as returned by the
// backend for conflict checking.
type SlotCandidate struct {
	AppointmentID string `json:"appointment_id"`
	Status        Status `json:"status"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}
