package attendance

import "time"

const (
	ReasonNotAuthorized = "not authorized for this slot/category"
	ReasonWindowClosed  = "slot marking window has closed"
)

// Capability is what a role may do in one category.
type Capability struct {
	// Mark allows writing a status at all.
	Mark bool
	// AssignedOnly restricts marking to slots the marker teaches.
	AssignedOnly bool
	// WindowBound restricts marking to the slot's open window.
	WindowBound bool
	// Override tags every write as an override needing a reason.
	Override bool
}

// CapabilityTable maps role and category to a capability. Missing entries
// mean no capability.
type CapabilityTable map[Role]map[Category]Capability

// DefaultCapabilities: students are read-only, faculty mark their own
// academic slots inside the window, admins override anything at any time.
func DefaultCapabilities() CapabilityTable {
	admin := Capability{Mark: true, Override: true}
	return CapabilityTable{
		RoleStudent: {},
		RoleFaculty: {
			CategoryAcademic: {Mark: true, AssignedOnly: true, WindowBound: true},
		},
		RoleAdmin: {
			CategoryAcademic: admin,
			CategoryEvent:    admin,
			CategorySports:   admin,
			CategoryClub:     admin,
		},
	}
}

func (t CapabilityTable) Lookup(role Role, category Category) Capability {
	return t[role][category]
}

// PermissionCheck is the outcome of a marking permission evaluation.
type PermissionCheck struct {
	HasPermission    bool   `json:"has_permission"`
	IsSlotOpen       bool   `json:"is_slot_open"`
	CanMark          bool   `json:"can_mark"`
	RequiresOverride bool   `json:"requires_override"`
	Provisional      bool   `json:"provisional"`
	Reason           string `json:"reason"`
}

// PermissionInput is everything Evaluate needs, already fetched.
type PermissionInput struct {
	Marker   Marker
	Slot     TimeSlot
	Date     time.Time
	Category Category
	Now      time.Time
	// Trusted is false when Now came from a degraded clock.
	Trusted    bool
	LockBuffer time.Duration
	Location   *time.Location
}

// WindowOpen reports whether the slot can be marked normally at in.Now for
// in.Date: the date must be today, fall on the slot's weekday, and the time
// of day must be inside the window.
func (in PermissionInput) WindowOpen() bool {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := in.Now.In(loc)
	date := DateOf(in.Date, time.UTC)
	if !DateOf(now, loc).Equal(date) || date.Weekday() != in.Slot.Day {
		return false
	}
	return IsSlotOpen(in.Slot, now, in.LockBuffer)
}

// Evaluate decides whether in.Marker may write now. It performs no I/O and
// never fails: denials are reported through the returned check.
func (t CapabilityTable) Evaluate(in PermissionInput) PermissionCheck {
	check := PermissionCheck{
		IsSlotOpen:  in.WindowOpen(),
		Provisional: !in.Trusted,
	}
	capab := t.Lookup(in.Marker.Role, in.Category)
	if !capab.Mark || in.Marker.ID == "" || (capab.AssignedOnly && in.Slot.MarkerID != in.Marker.ID) {
		check.Reason = ReasonNotAuthorized
		return check
	}
	check.HasPermission = true
	if capab.WindowBound && !check.IsSlotOpen {
		check.Reason = ReasonWindowClosed
		return check
	}
	check.CanMark = true
	check.RequiresOverride = capab.Override
	return check
}

// Evaluate applies the default capability table.
func Evaluate(in PermissionInput) PermissionCheck {
	return DefaultCapabilities().Evaluate(in)
}
