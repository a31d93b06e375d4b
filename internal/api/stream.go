package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campverse/internal/attendance"
)

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

func emit(c *gin.Context, event string, data any) {
	c.SSEvent(event, data)
	c.Writer.Flush()
}

// offer replaces whatever is pending in ch with v; ch must have capacity 1.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// streamAttendance sends the slot snapshot, then every newer snapshot until
// the client disconnects.
func (s *Server) streamAttendance(c *gin.Context) {
	ctx := c.Request.Context()
	slot, err := s.svc.GetSlot(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	date, err := s.dateQuery(c)
	if err != nil {
		s.writeError(c, err)
		return
	}

	updates := make(chan []attendance.Record, 1)
	unsubscribe := s.svc.SubscribeToSlotAttendance(
		attendance.SlotKey{SlotID: slot.ID, Date: date, Cohort: slot.Cohort},
		func(records []attendance.Record) { offer(updates, records) },
	)
	defer unsubscribe()

	initial, err := s.svc.SlotAttendance(ctx, slot.ID, date)
	if err != nil {
		s.writeError(c, err)
		return
	}
	sseHeaders(c)
	emit(c, "snapshot", initial)
	for {
		select {
		case <-ctx.Done():
			return
		case records := <-updates:
			emit(c, "snapshot", records)
		}
	}
}

type windowTick struct {
	Now              time.Time `json:"now"`
	Trusted          bool      `json:"trusted"`
	Opens            time.Time `json:"opens"`
	Closes           time.Time `json:"closes"`
	RemainingSeconds int       `json:"remaining_seconds"`
	Open             bool      `json:"open"`
}

// streamWindow pushes the marking countdown every tick and ends once the
// window has closed.
func (s *Server) streamWindow(c *gin.Context) {
	ctx := c.Request.Context()
	date, err := s.dateQuery(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	w, err := s.svc.Window(ctx, c.Param("id"), date)
	if err != nil {
		s.writeError(c, err)
		return
	}

	ticks := make(chan windowTick, 1)
	task := s.runner.EveryWithin(ctx, s.opts.WindowTick, "window_countdown", func(ctx context.Context) error {
		offer(ticks, s.windowTick(ctx, w))
		return nil
	})
	defer task.Stop()

	sseHeaders(c)
	current := s.windowTick(ctx, w)
	for {
		if !current.Now.Before(w.Closes) {
			emit(c, "closed", current)
			return
		}
		emit(c, "window", current)
		select {
		case <-ctx.Done():
			return
		case current = <-ticks:
		}
	}
}

func (s *Server) windowTick(ctx context.Context, w attendance.Window) windowTick {
	r := s.svc.Now(ctx)
	remaining := w.Remaining(r.Time)
	return windowTick{
		Now:              r.Time.UTC(),
		Trusted:          r.Trusted,
		Opens:            w.Opens.UTC(),
		Closes:           w.Closes.UTC(),
		RemainingSeconds: int(remaining / time.Second),
		Open:             remaining > 0,
	}
}
