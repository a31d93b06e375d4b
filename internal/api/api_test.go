package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campverse/internal/attendance"
	"campverse/internal/auth"
	"campverse/internal/clock"
	"campverse/internal/jobs"
	"campverse/internal/realtime"
)

const (
	signingKey = "api-test-key"
	issuer     = "campverse-test"
	date       = "2026-10-19" // a Monday
)

type env struct {
	t      *testing.T
	svc    *attendance.Service
	clock  *clock.Manual
	hub    *realtime.Hub
	ticker *jobs.ManualTicker
	router *gin.Engine
	slotID string
}

func at(h, m, s int) time.Time { return time.Date(2026, 10, 19, h, m, s, 0, time.UTC) }

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &env{
		t:      t,
		clock:  clock.NewManual(at(9, 30, 0)),
		hub:    realtime.NewHub(),
		ticker: jobs.NewManualTicker(),
	}
	e.svc = attendance.NewService(attendance.NewMemoryStore(), e.clock, attendance.DefaultPolicy(),
		attendance.WithBroadcaster(e.hub), attendance.WithRetry(1, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runner := jobs.New(ctx, jobs.WithTicker(e.ticker.Factory()))
	e.router = New(e.svc, runner, nil, Options{SigningKey: signingKey, Issuer: issuer}).Router()

	w := e.do(http.MethodPost, "/v1/slots", "adm-1", attendance.RoleAdmin, gin.H{
		"number": 1, "day": "monday", "start": "09:00", "end": "10:00",
		"subject_code": "MA101", "subject_name": "Mathematics", "marker_id": "fac-1",
		"year": 2024, "branch": "CSE", "section": "A",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var slot struct {
		ID  string `json:"id"`
		Day string `json:"day"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &slot))
	require.Equal(t, "MONDAY", slot.Day)
	e.slotID = slot.ID

	for i := 1; i <= 8; i++ {
		w := e.do(http.MethodPost, "/v1/students", "adm-1", attendance.RoleAdmin, gin.H{
			"id": fmt.Sprintf("s%02d", i), "year": 2024, "branch": "CSE", "section": "A",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	return e
}

func token(t *testing.T, sub string, role attendance.Role) string {
	tok, _, err := auth.Issue(sub, role, issuer, signingKey, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) request(method, path, sub string, role attendance.Role, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token(e.t, sub, role))
	return req
}

func (e *env) do(method, path, sub string, role attendance.Role, body any) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, e.request(method, path, sub, role, body))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthzAndAuth(t *testing.T) {
	e := newEnv(t)

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/time", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodGet, "/v1/time", "stu-1", attendance.RoleStudent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["trusted"])
	assert.Equal(t, date, body["today"])
}

func TestSlots(t *testing.T) {
	e := newEnv(t)
	slot := gin.H{
		"number": 2, "day": "MON", "start": "10:00", "end": "10:50",
		"subject_code": "PH101", "marker_id": "fac-2", "year": 2024, "branch": "CSE", "section": "A",
	}

	bad := gin.H{}
	for k, v := range slot {
		bad[k] = v
	}
	bad["start"] = "10am"
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/v1/slots", "adm-1", attendance.RoleAdmin, bad).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/v1/slots", "fac-1", attendance.RoleFaculty, slot).Code)
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/v1/slots", "adm-1", attendance.RoleAdmin, slot).Code)

	w := e.do(http.MethodGet, "/v1/slots?year=2024&branch=CSE&section=A", "stu-1", attendance.RoleStudent, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["slots"], 2)

	assert.Equal(t, http.StatusBadRequest,
		e.do(http.MethodGet, "/v1/slots?year=x", "stu-1", attendance.RoleStudent, nil).Code)
	assert.Equal(t, http.StatusNotFound,
		e.do(http.MethodGet, "/v1/slots/nope", "stu-1", attendance.RoleStudent, nil).Code)

	// editable until attendance exists
	update := gin.H{
		"number": 1, "day": "monday", "start": "09:00", "end": "10:00",
		"subject_code": "MA101", "subject_name": "Linear Algebra", "marker_id": "fac-1",
		"year": 2024, "branch": "CSE", "section": "A",
	}
	require.Equal(t, http.StatusOK, e.do(http.MethodPut, "/v1/slots/"+e.slotID, "adm-1", attendance.RoleAdmin, update).Code)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/v1/attendance", "fac-1", attendance.RoleFaculty, gin.H{
		"student_id": "s01", "slot_id": e.slotID, "date": date, "status": "present",
	}).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPut, "/v1/slots/"+e.slotID, "adm-1", attendance.RoleAdmin, update).Code)
}

func TestMarkWindowAndOverride(t *testing.T) {
	e := newEnv(t)
	mark := func(sub string, role attendance.Role, reason string) *httptest.ResponseRecorder {
		return e.do(http.MethodPost, "/v1/attendance", sub, role, gin.H{
			"student_id": "s01", "slot_id": e.slotID, "date": date, "status": "PRESENT", "reason": reason,
		})
	}

	e.clock.Set(at(10, 10, 0))
	w := mark("fac-1", attendance.RoleFaculty, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "PRESENT", decode(t, w)["status"])

	e.clock.Set(at(10, 16, 0))
	w = mark("fac-1", attendance.RoleFaculty, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, attendance.ReasonWindowClosed, decode(t, w)["reason"])

	w = e.do(http.MethodGet, "/v1/slots/"+e.slotID+"/permission?date="+date, "fac-1", attendance.RoleFaculty, nil)
	require.Equal(t, http.StatusOK, w.Code)
	check := decode(t, w)
	assert.Equal(t, true, check["has_permission"])
	assert.Equal(t, false, check["can_mark"])

	assert.Equal(t, http.StatusBadRequest, mark("adm-1", attendance.RoleAdmin, "").Code)

	// marking PRESENT again un-marks
	w = mark("adm-1", attendance.RoleAdmin, "Placement Drive")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode(t, w)
	assert.Equal(t, "NOT_MARKED", rec["status"])
	assert.Equal(t, true, rec["override"])
	assert.Equal(t, "Placement Drive", rec["override_reason"])

	assert.Equal(t, http.StatusForbidden, mark("stu-1", attendance.RoleStudent, "").Code)
}

func TestBulkAndOverrideEndpoints(t *testing.T) {
	e := newEnv(t)
	entries := []gin.H{}
	for i := 1; i <= 8; i++ {
		entries = append(entries, gin.H{"student_id": fmt.Sprintf("s%02d", i), "status": "present"})
	}
	entries = append(entries, gin.H{"student_id": "ghost-1", "status": "PRESENT"}, gin.H{"student_id": "ghost-2", "status": "PRESENT"})

	w := e.do(http.MethodPost, "/v1/attendance/bulk", "fac-1", attendance.RoleFaculty, gin.H{
		"slot_id": e.slotID, "date": date, "entries": entries,
	})
	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())
	res := decode(t, w)
	assert.EqualValues(t, 8, res["marked_count"])
	assert.EqualValues(t, 2, res["failed_count"])

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/v1/attendance/bulk", "fac-1", attendance.RoleFaculty, gin.H{
		"slot_id": e.slotID, "date": date, "entries": []gin.H{},
	}).Code)

	override := gin.H{"slot_id": e.slotID, "date": date, "category": "ACADEMIC", "reason": "Sports meet",
		"entries": []gin.H{{"student_id": "s01", "status": "EXCUSED"}}}
	assert.Equal(t, http.StatusForbidden,
		e.do(http.MethodPost, "/v1/attendance/override", "fac-1", attendance.RoleFaculty, override).Code)
	w = e.do(http.MethodPost, "/v1/attendance/override", "adm-1", attendance.RoleAdmin, override)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodGet, "/v1/slots/"+e.slotID+"/attendance?date="+date, "fac-1", attendance.RoleFaculty, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["records"], 8)
}

func TestStudentViews(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/v1/attendance", "fac-1", attendance.RoleFaculty, gin.H{
		"student_id": "s01", "slot_id": e.slotID, "date": date, "status": "LATE",
	}).Code)

	w := e.do(http.MethodGet, "/v1/students/s01/attendance/four-week", "s01", attendance.RoleStudent, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sum := decode(t, w)
	assert.EqualValues(t, 1, sum["total_classes"])
	assert.EqualValues(t, 100, sum["percentage"])
	assert.Equal(t, "SATISFACTORY", sum["status"])

	assert.Equal(t, http.StatusForbidden,
		e.do(http.MethodGet, "/v1/students/s02/attendance/four-week", "s01", attendance.RoleStudent, nil).Code)
	assert.Equal(t, http.StatusNotFound,
		e.do(http.MethodGet, "/v1/students/ghost/attendance/subjects", "fac-1", attendance.RoleFaculty, nil).Code)

	w = e.do(http.MethodGet, "/v1/students/s01/attendance/subjects", "fac-1", attendance.RoleFaculty, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["subjects"], 1)

	w = e.do(http.MethodGet, "/v1/students/s01/attendance/categories", "adm-1", attendance.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["categories"], len(attendance.Categories))

	w = e.do(http.MethodGet, "/v1/cohorts/attendance?year=2024&branch=CSE&section=A", "adm-1", attendance.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["students"], 1)
	assert.Equal(t, http.StatusForbidden,
		e.do(http.MethodGet, "/v1/cohorts/attendance?year=2024&branch=CSE&section=A", "s01", attendance.RoleStudent, nil).Code)
}

// streamRecorder is a ResponseRecorder safe to read while a handler streams.
type streamRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (r *streamRecorder) WriteHeader(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResponseRecorder.WriteHeader(code)
}

func (r *streamRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(b)
}

func (r *streamRecorder) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

func (r *streamRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResponseRecorder.Flush()
}

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func (e *env) stream(path, sub string, role attendance.Role) (*streamRecorder, context.CancelFunc, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	req := e.request(http.MethodGet, path, sub, role, nil).WithContext(ctx)
	rec := newStreamRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.router.ServeHTTP(rec, req)
	}()
	return rec, cancel, done
}

func TestAttendanceStream(t *testing.T) {
	e := newEnv(t)
	key := attendance.SlotKey{SlotID: e.slotID, Date: at(0, 0, 0)}

	rec, cancel, done := e.stream("/v1/slots/"+e.slotID+"/attendance/stream?date="+date, "fac-1", attendance.RoleFaculty)
	defer cancel()
	require.Eventually(t, func() bool {
		return e.hub.Subscribers(key) == 1 && strings.Count(rec.body(), "event:snapshot") == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := e.svc.MarkAttendance(context.Background(), attendance.MarkRequest{
		StudentID: "s01", SlotID: e.slotID, Date: at(0, 0, 0), Status: attendance.StatusPresent,
		Category: attendance.CategoryAcademic, Marker: attendance.Marker{ID: "fac-1", Role: attendance.RoleFaculty},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Count(rec.body(), "event:snapshot") == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, rec.body(), `"student_id":"s01"`)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on disconnect")
	}
	assert.Equal(t, 0, e.hub.Subscribers(key))
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestWindowStream(t *testing.T) {
	e := newEnv(t)
	e.clock.Set(at(10, 14, 59))

	rec, cancel, done := e.stream("/v1/slots/"+e.slotID+"/window/stream?date="+date, "stu-1", attendance.RoleStudent)
	defer cancel()
	require.Eventually(t, func() bool {
		return strings.Contains(rec.body(), "event:window")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, rec.body(), `"remaining_seconds":1`)

	e.clock.Set(at(10, 15, 0))
	require.True(t, e.ticker.Tick(at(10, 15, 0), 2*time.Second))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end when the window closed")
	}
	assert.Contains(t, rec.body(), "event:closed")
	assert.True(t, e.ticker.Stopped())
}
