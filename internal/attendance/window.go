package attendance

import "time"

// IsSlotOpen reports whether now falls inside [Start, End+lockBuffer) of the
// slot, comparing times of day in now's location. Seconds are kept so a short
// buffer is not closed early by truncation.
func IsSlotOpen(slot TimeSlot, now time.Time, lockBuffer time.Duration) bool {
	h, m, s := now.Clock()
	sec := h*3600 + m*60 + s
	open := int(slot.Start) * 60
	closeAt := int(slot.End)*60 + int(lockBuffer/time.Second)
	return sec >= open && sec < closeAt
}

// Window is the absolute marking window of a slot on one date.
type Window struct {
	Opens  time.Time `json:"opens"`
	Closes time.Time `json:"closes"`
}

// MarkingWindow returns the instants the slot opens and locks on date, a
// calendar day as produced by DateOf, in loc.
func MarkingWindow(slot TimeSlot, date time.Time, lockBuffer time.Duration, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return Window{
		Opens:  midnight.Add(time.Duration(slot.Start) * time.Minute),
		Closes: midnight.Add(time.Duration(slot.End)*time.Minute + lockBuffer),
	}
}

// Remaining is the time left before the window closes, zero once closed.
func (w Window) Remaining(now time.Time) time.Duration {
	if now.Before(w.Opens) || !now.Before(w.Closes) {
		return 0
	}
	return w.Closes.Sub(now)
}
