package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"campverse/internal/attendance"
	"campverse/internal/auth"
)

func (s *Server) serverTime(c *gin.Context) {
	r := s.svc.Now(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"time":     r.Time.UTC(),
		"trusted":  r.Trusted,
		"timezone": s.svc.Policy().Location.String(),
		"today":    attendance.DateOf(r.Time, s.svc.Policy().Location).Format(attendance.DateLayout),
	})
}

type studentRequest struct {
	ID      string `json:"id" binding:"required"`
	Name    string `json:"name"`
	Year    int    `json:"year" binding:"required,min=1"`
	Branch  string `json:"branch" binding:"required"`
	Section string `json:"section" binding:"required"`
}

func (s *Server) enrollStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := attendance.Student{
		ID:     req.ID,
		Name:   req.Name,
		Cohort: attendance.Cohort{Year: req.Year, Branch: req.Branch, Section: req.Section},
	}
	if err := s.svc.EnrollStudent(c.Request.Context(), st); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

type slotRequest struct {
	Number      int    `json:"number" binding:"required,min=1"`
	Day         string `json:"day" binding:"required"`
	Start       string `json:"start" binding:"required,hhmm"`
	End         string `json:"end" binding:"required,hhmm"`
	SubjectCode string `json:"subject_code" binding:"required"`
	SubjectName string `json:"subject_name"`
	MarkerID    string `json:"marker_id" binding:"required"`
	Year        int    `json:"year" binding:"required,min=1"`
	Branch      string `json:"branch" binding:"required"`
	Section     string `json:"section" binding:"required"`
}

func (r slotRequest) slot(id string) (attendance.TimeSlot, error) {
	day, err := parseWeekday(r.Day)
	if err != nil {
		return attendance.TimeSlot{}, err
	}
	start, _ := attendance.ParseClock(r.Start)
	end, _ := attendance.ParseClock(r.End)
	return attendance.TimeSlot{
		ID:          id,
		Number:      r.Number,
		Day:         day,
		Start:       start,
		End:         end,
		SubjectCode: r.SubjectCode,
		SubjectName: r.SubjectName,
		MarkerID:    r.MarkerID,
		Cohort:      attendance.Cohort{Year: r.Year, Branch: r.Branch, Section: r.Section},
	}, nil
}

// slotView renders a slot with its weekday spelled out.
type slotView struct {
	attendance.TimeSlot
	Day string `json:"day"`
}

func viewSlot(s attendance.TimeSlot) slotView {
	return slotView{TimeSlot: s, Day: strings.ToUpper(s.Day.String())}
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown day %q", attendance.ErrInvalidSlot, s)
}

func (s *Server) createSlot(c *gin.Context) {
	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slot, err := req.slot("")
	if err != nil {
		s.writeError(c, err)
		return
	}
	created, err := s.svc.CreateSlot(c.Request.Context(), slot)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewSlot(created))
}

func (s *Server) updateSlot(c *gin.Context) {
	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slot, err := req.slot(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	updated, err := s.svc.UpdateSlot(c.Request.Context(), slot)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSlot(updated))
}

func (s *Server) getSlot(c *gin.Context) {
	slot, err := s.svc.GetSlot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSlot(slot))
}

func (s *Server) listSlots(c *gin.Context) {
	cohort, err := cohortQuery(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	slots, err := s.svc.ListSlots(c.Request.Context(), cohort)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]slotView, 0, len(slots))
	for _, sl := range slots {
		out = append(out, viewSlot(sl))
	}
	c.JSON(http.StatusOK, gin.H{"slots": out})
}

func cohortQuery(c *gin.Context) (attendance.Cohort, error) {
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		return attendance.Cohort{}, fmt.Errorf("%w: year must be a number", attendance.ErrInvalidCohort)
	}
	cohort := attendance.Cohort{Year: year, Branch: c.Query("branch"), Section: c.Query("section")}
	if !cohort.Valid() {
		return attendance.Cohort{}, attendance.ErrInvalidCohort
	}
	return cohort, nil
}

// dateQuery reads ?date, defaulting to today in the institutional zone.
func (s *Server) dateQuery(c *gin.Context) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return s.svc.Today(c.Request.Context()), nil
	}
	d, err := attendance.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return d, nil
}

func categoryValue(raw string) (attendance.Category, error) {
	if raw == "" {
		return attendance.CategoryAcademic, nil
	}
	return attendance.ParseCategory(raw)
}

func (s *Server) permission(c *gin.Context) {
	marker, _ := auth.MarkerFrom(c)
	date, err := s.dateQuery(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	cat, err := categoryValue(c.Query("category"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	check, err := s.svc.CheckMarkingPermission(c.Request.Context(), marker, c.Param("id"), date, cat)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) slotAttendance(c *gin.Context) {
	date, err := s.dateQuery(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	records, err := s.svc.SlotAttendance(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if raw := c.Query("category"); raw != "" {
		cat, err := attendance.ParseCategory(raw)
		if err != nil {
			s.writeError(c, err)
			return
		}
		kept := records[:0]
		for _, r := range records {
			if r.Category == cat {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	c.JSON(http.StatusOK, gin.H{"date": date.Format(attendance.DateLayout), "records": records})
}

type markRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	SlotID    string `json:"slot_id" binding:"required"`
	Date      string `json:"date" binding:"required,datetime=2006-01-02"`
	Status    string `json:"status" binding:"required"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
}

func (s *Server) mark(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	marker, _ := auth.MarkerFrom(c)
	date, _ := attendance.ParseDate(req.Date)
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		s.writeError(c, err)
		return
	}
	cat, err := categoryValue(req.Category)
	if err != nil {
		s.writeError(c, err)
		return
	}
	rec, err := s.svc.MarkAttendance(c.Request.Context(), attendance.MarkRequest{
		StudentID: req.StudentID,
		SlotID:    req.SlotID,
		Date:      date,
		Status:    status,
		Category:  cat,
		Marker:    marker,
		Reason:    req.Reason,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type bulkRequest struct {
	SlotID   string                 `json:"slot_id" binding:"required"`
	Date     string                 `json:"date" binding:"required,datetime=2006-01-02"`
	Category string                 `json:"category"`
	Reason   string                 `json:"reason"`
	Entries  []attendance.BulkEntry `json:"entries" binding:"required,min=1"`
}

func (s *Server) bulkFrom(c *gin.Context) (attendance.BulkRequest, bool) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return attendance.BulkRequest{}, false
	}
	cat, err := categoryValue(req.Category)
	if err != nil {
		s.writeError(c, err)
		return attendance.BulkRequest{}, false
	}
	marker, _ := auth.MarkerFrom(c)
	date, _ := attendance.ParseDate(req.Date)
	entries := make([]attendance.BulkEntry, len(req.Entries))
	for i, e := range req.Entries {
		e.Status = attendance.Status(strings.ToUpper(strings.TrimSpace(string(e.Status))))
		entries[i] = e
	}
	return attendance.BulkRequest{
		SlotID:   req.SlotID,
		Date:     date,
		Category: cat,
		Marker:   marker,
		Reason:   req.Reason,
		Entries:  entries,
	}, true
}

func (s *Server) markBulk(c *gin.Context) {
	req, ok := s.bulkFrom(c)
	if !ok {
		return
	}
	res, err := s.svc.MarkBulkAttendance(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(batchStatus(res), res)
}

func (s *Server) override(c *gin.Context) {
	req, ok := s.bulkFrom(c)
	if !ok {
		return
	}
	res, err := s.svc.AdminOverrideAttendance(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(batchStatus(res), res)
}

// batchStatus is 207 when only part of a batch was written.
func batchStatus(res attendance.BatchResult) int {
	if res.FailedCount > 0 && res.MarkedCount > 0 {
		return http.StatusMultiStatus
	}
	if res.FailedCount > 0 {
		return http.StatusUnprocessableEntity
	}
	return http.StatusOK
}

// student resolves the path student for the caller; students may only
// read their own records.
func (s *Server) student(c *gin.Context) (attendance.Student, bool) {
	marker, _ := auth.MarkerFrom(c)
	id := c.Param("id")
	if marker.Role == attendance.RoleStudent && marker.ID != id {
		c.JSON(http.StatusForbidden, gin.H{"error": "students may only view their own attendance"})
		return attendance.Student{}, false
	}
	st, err := s.svc.GetStudent(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return attendance.Student{}, false
	}
	return st, true
}

func (s *Server) fourWeek(c *gin.Context) {
	st, ok := s.student(c)
	if !ok {
		return
	}
	sum, err := s.svc.CalculateFourWeekAttendance(c.Request.Context(), st.ID, st.Cohort)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) subjectWise(c *gin.Context) {
	st, ok := s.student(c)
	if !ok {
		return
	}
	subjects, err := s.svc.GetSubjectWiseAttendance(c.Request.Context(), st.ID, st.Cohort)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

func (s *Server) categoryWise(c *gin.Context) {
	st, ok := s.student(c)
	if !ok {
		return
	}
	cats, err := s.svc.GetCategoryWiseAttendance(c.Request.Context(), st.ID, st.Cohort)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (s *Server) cohortAttendance(c *gin.Context) {
	cohort, err := cohortQuery(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	students, err := s.svc.GetCohortAttendance(c.Request.Context(), cohort)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cohort": cohort, "students": students})
}
