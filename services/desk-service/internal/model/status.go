package model

type Status string

const (
	StatusPending         Status = "pending"
	StatusConfirmed       Status = "confirmed"
	StatusReminded        Status = "reminded"
	StatusClientConfirmed Status = "client_confirmed"
	StatusCheckedIn       Status = "checked_in"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusNoShow          Status = "no_show"
	StatusRescheduled     Status = "rescheduled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusReminded,
	StatusClientConfirmed,
	StatusCheckedIn,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
	StatusRescheduled,
}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceManual   Source = "manual"
	SourceOnline   Source = "online"
	SourcePhone    Source = "phone"
	SourceWalkIn   Source = "walk_in"
	SourceWhatsApp Source = "whatsapp"
)
