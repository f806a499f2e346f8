package coordinator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"
)

type CreateAppointmentInput struct {
	CustomerID string `json:"customer_id" validate:"required"`
	ServiceID  string `json:"service_id" validate:"required"`
	StaffID    string `json:"staff_id"`
	Date       string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	StartTime  string `json:"start_time" validate:"required,clock"`
	// EndTime is derived from the service's duration and buffer when empty.
	EndTime string `json:"end_time" validate:"omitempty,clock"`
	// Status is accepted for compatibility; the service's approval setting decides it.
	Status        model.Status `json:"status" validate:"omitempty,status"`
	Source        model.Source `json:"source" validate:"omitempty,oneof=manual online phone walk_in whatsapp"`
	Notes         string       `json:"notes" validate:"max=1000"`
	Price         *float64     `json:"price" validate:"omitempty,gte=0"`
	PaymentStatus string       `json:"payment_status" validate:"omitempty,oneof=unpaid partial paid refunded"`
	PaymentMethod string       `json:"payment_method" validate:"max=50"`
}

type UpdateStatusInput struct {
	AppointmentID string       `json:"appointment_id" validate:"required"`
	Status        model.Status `json:"status" validate:"required,status"`
	Reason        string       `json:"reason" validate:"max=200"`
}

type CancelInput struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	Reason        string `json:"reason" validate:"max=200"`
}

type RangeInput struct {
	Start      string         `json:"start" validate:"required,datetime=2006-01-02"`
	End        string         `json:"end" validate:"required,datetime=2006-01-02"`
	StaffID    string         `json:"staff_id"`
	CustomerID string         `json:"customer_id"`
	Statuses   []model.Status `json:"statuses" validate:"dive,status"`
}

type AvailabilityInput struct {
	StaffID   string `json:"staff_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,clock"`
	EndTime   string `json:"end_time" validate:"required,clock"`
	ExcludeID string `json:"exclude_id"`
}

type SlotsInput struct {
	StaffID         string `json:"staff_id" validate:"required"`
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=5,max=720"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := model.ParseClock(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return model.Status(fl.Field().String()).Valid()
	})
	return v
}

// check runs the declarative schema and reports the first failing field.
func (c *Coordinator) check(in any) *Error {
	err := c.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalid("", err.Error())
	}
	fe := verrs[0]
	return invalid(fieldName(fe), fieldMessage(fe))
}

func fieldName(fe validator.FieldError) string {
	// Namespace is "Struct.field[0]"; drop the struct name.
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "clock":
		return "must be a 24h time formatted HH:MM"
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	case "status":
		return fmt.Sprintf("unknown status %q", fe.Value())
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}
