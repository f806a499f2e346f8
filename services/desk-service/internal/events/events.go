// Package events carries appointment lifecycle events over Kafka.
package events

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

const (
	TypeAppointmentCreated = "booking.appointment.created.v1"
	TypeStatusChanged      = "booking.appointment.status_changed.v1"
	TypeCancelled          = "booking.appointment.cancelled.v1"
	TypeReminderRequested  = "booking.reminder.requested.v1"
)

// LifecycleTopics are the topics whose payload is an appointment.
var LifecycleTopics = []string{TypeAppointmentCreated, TypeStatusChanged, TypeCancelled}

// Event is one outbound message. Type doubles as the topic; Key orders messages per aggregate.
type Event struct {
	ID      string
	Type    string
	Key     string
	OrgID   string
	Payload any
}

// Envelope is the JSON body written for every event.
type Envelope struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OrgID      string    `json:"organization_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// AppointmentEnvelope is the decoded form of a lifecycle event.
type AppointmentEnvelope struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	OrgID      string            `json:"organization_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       model.Appointment `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Discard drops every event. Used when EVENTS_ENABLED is off.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
