package attendance

import (
	"context"
	"errors"
)

var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrSlotNotFound           = errors.New("slot not found")
	ErrStudentNotFound        = errors.New("student not found")
	ErrStudentNotInCohort     = errors.New("student not enrolled in slot cohort")
	ErrSlotLocked             = errors.New("slot has recorded attendance and can no longer be edited")
	ErrOverrideReasonRequired = errors.New("override reason required")
	ErrInvalidRole            = errors.New("invalid role")
	ErrInvalidCategory        = errors.New("invalid category")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidSlot            = errors.New("invalid slot")
	ErrInvalidCohort          = errors.New("invalid cohort")
)

// PermissionError is returned by write operations when the permission check
// did not allow the mark. It matches ErrPermissionDenied with errors.Is.
type PermissionError struct {
	Check PermissionCheck
}

func (e *PermissionError) Error() string {
	return "permission denied: " + e.Check.Reason
}

func (e *PermissionError) Is(target error) bool { return target == ErrPermissionDenied }

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	for _, target := range []error{
		ErrSlotNotFound, ErrStudentNotFound, ErrStudentNotInCohort, ErrSlotLocked,
		ErrPermissionDenied, ErrInvalidSlot, ErrInvalidStatus, ErrInvalidCategory,
		context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
