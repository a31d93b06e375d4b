package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campverse/internal/attendance"
	"campverse/internal/observability"
)

// writeError maps domain errors to status codes. Anything unrecognised is a
// 500 and is reported.
func (s *Server) writeError(c *gin.Context, err error) {
	var perr *attendance.PermissionError
	switch {
	case errors.As(err, &perr):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied", "reason": perr.Check.Reason, "check": perr.Check})
	case errors.Is(err, attendance.ErrSlotNotFound), errors.Is(err, attendance.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrSlotLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrOverrideReasonRequired),
		errors.Is(err, attendance.ErrStudentNotInCohort),
		errors.Is(err, attendance.ErrInvalidSlot),
		errors.Is(err, attendance.ErrInvalidStatus),
		errors.Is(err, attendance.ErrInvalidCategory),
		errors.Is(err, attendance.ErrInvalidCohort),
		errors.Is(err, attendance.ErrInvalidRole),
		errors.Is(err, errBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		observability.CaptureErr(err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

var errBadRequest = errors.New("bad request")
