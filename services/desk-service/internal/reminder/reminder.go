// Package reminder builds outbound reminder messages and hands them off for delivery.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/events"
	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

var ErrNoPhone = errors.New("customer has no phone number")

// Request is the hand-off payload. Delivery belongs to the messaging side.
type Request struct {
	AppointmentID string `json:"appointment_id"`
	OrgID         string `json:"organization_id"`
	CustomerID    string `json:"customer_id"`
	Phone         string `json:"phone"`
	Text          string `json:"text"`
	Link          string `json:"link"`
}

// Compose writes the reminder text for one appointment.
func Compose(d model.AppointmentWithDetails, businessName string) string {
	var b strings.Builder
	name := strings.TrimSpace(d.Customer.Name)
	if name == "" {
		b.WriteString("Hi")
	} else {
		fmt.Fprintf(&b, "Hi %s", name)
	}
	fmt.Fprintf(&b, ", this is a reminder of your %s appointment", d.Service.Name)
	if businessName != "" {
		fmt.Fprintf(&b, " at %s", businessName)
	}
	fmt.Fprintf(&b, " on %s at %s", humanDate(d.Date), d.StartTime)
	if d.Staff != nil && d.Staff.Name != "" {
		fmt.Fprintf(&b, " with %s", d.Staff.Name)
	}
	b.WriteString(". Reply YES to confirm or call us to reschedule.")
	return b.String()
}

func humanDate(date string) string {
	t, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Mon, 2 Jan 2006")
}

// WhatsAppLink builds a click-to-chat link. Everything but digits is stripped from phone, so
// the number must already carry its country code.
func WhatsAppLink(phone, text string) (string, error) {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", ErrNoPhone
	}
	escaped := strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	return "https://wa.me/" + digits.String() + "?text=" + escaped, nil
}

// Build composes the request for d.
func Build(d model.AppointmentWithDetails, businessName string) (Request, error) {
	text := Compose(d, businessName)
	link, err := WhatsAppLink(d.Customer.Phone, text)
	if err != nil {
		return Request{}, err
	}
	return Request{
		AppointmentID: d.ID,
		OrgID:         d.OrgID,
		CustomerID:    d.CustomerID,
		Phone:         d.Customer.Phone,
		Text:          text,
		Link:          link,
	}, nil
}

// Dispatcher publishes reminder requests for the messaging side to deliver.
type Dispatcher struct {
	pub events.Publisher
}

func NewDispatcher(pub events.Publisher) *Dispatcher {
	return &Dispatcher{pub: pub}
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	return d.pub.Publish(ctx, events.Event{
		Type:    events.TypeReminderRequested,
		Key:     req.AppointmentID,
		OrgID:   req.OrgID,
		Payload: req,
	})
}
