package availability

import "github.com/md-rashed-zaman/apptdesk/services/desk-service/internal/model"

// Range is a same-day span of wall-clock minutes, [Start, End).
type Range struct {
	Start model.Clock
	End   model.Clock
}

func (r Range) Valid() bool {
	return r.Start < r.End
}

// Overlaps reports whether a requested range collides with an existing one: the requested start
// falls in [c.Start, c.End), the requested end falls in (c.Start, c.End], or the request
// contains c. For valid ranges this is the half-open interval law and is symmetric.
func Overlaps(req, c Range) bool {
	if req.Start >= c.Start && req.Start < c.End {
		return true
	}
	if req.End > c.Start && req.End <= c.End {
		return true
	}
	return req.Start <= c.Start && req.End >= c.End
}

// FreeSlots returns slot starts within window where a booking of duration minutes would not
// overlap any busy range. Starts before notBefore are skipped.
func FreeSlots(window Range, duration, step int, busy []Range, notBefore model.Clock) []model.Clock {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !window.Valid() {
		return nil
	}
	if int(window.Start)+duration > int(window.End) {
		return nil
	}

	var slots []model.Clock
	for t := int(window.Start); t+duration <= int(window.End); t += step {
		if model.Clock(t) < notBefore {
			continue
		}
		slot := Range{Start: model.Clock(t), End: model.Clock(t + duration)}
		if !overlapsAny(slot, busy) {
			slots = append(slots, slot.Start)
		}
	}
	return slots
}

func overlapsAny(r Range, busy []Range) bool {
	for _, b := range busy {
		if Overlaps(r, b) {
			return true
		}
	}
	return false
}
