package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Spok95/attendance-engine/internal/detector"
	"github.com/Spok95/attendance-engine/internal/export"
	"github.com/Spok95/attendance-engine/internal/inmem"
	"github.com/Spok95/attendance-engine/internal/ledger"
	"github.com/Spok95/attendance-engine/internal/lock"
	"github.com/Spok95/attendance-engine/internal/makeup"
	"github.com/Spok95/attendance-engine/internal/models"
	"github.com/Spok95/attendance-engine/internal/override"
	"github.com/Spok95/attendance-engine/internal/schedule"
)

var classA = models.ClassIdentity{CourseType: "bs", Year: 1, Section: "A"}

const classQ = "courseType=bs&year=1&section=A"

type fixture struct {
	store   *inmem.Store
	handler http.Handler
	ali     int64
}

// newFixture: сегодня четверг 2025-07-10, 14:00 UTC.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := inmem.New()
	st.PutSlot(models.ScheduleSlot{Class: classA, DayOfWeek: time.Monday, PeriodNumber: 1, SubjectID: "MATH"})
	st.PutSlot(models.ScheduleSlot{Class: classA, DayOfWeek: time.Monday, PeriodNumber: 2, SubjectID: "CHEM"})
	st.PutSlot(models.ScheduleSlot{Class: classA, DayOfWeek: time.Thursday, PeriodNumber: 1, SubjectID: "MATH", StartTime: "08:00", EndTime: "09:00"})
	st.PutSlot(models.ScheduleSlot{Class: classA, DayOfWeek: time.Thursday, PeriodNumber: 2, SubjectID: "ENG", StartTime: "15:00", EndTime: "16:00"})
	ali := st.PutStudent(models.Student{Name: "Ali", Class: classA, Active: true})

	clock := func() time.Time { return time.Date(2025, 7, 10, 14, 0, 0, 0, time.UTC) }
	sched := schedule.New(st, time.Friday)
	res := override.New(st, sched, time.UTC, nil)
	res.Now = clock
	led := ledger.New(st, sched, res, time.UTC, nil)
	led.Now = clock
	det := detector.New(st, sched, res, time.UTC, nil)
	det.Now = clock
	locks := lock.New(st, nil)
	locks.Now = clock
	mk := makeup.New(st, led, time.UTC, nil)
	mk.Now = clock

	srv := New(Deps{
		Resolver: res, Ledger: led, Locks: locks, Detector: det, Makeup: mk, Schedule: sched,
		Store: st, Loc: time.UTC, OverdueDays: 3,
	})
	srv.now = clock
	return &fixture{store: st, handler: srv.Router(), ali: ali}
}

func (f *fixture) do(t *testing.T, method, path string, body any, actor int64) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body == nil {
		req.ContentLength = 0
	}
	req.Header.Set("Content-Type", "application/json")
	if actor > 0 {
		req.Header.Set(HeaderActor, fmt.Sprint(actor))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *fixture) submission(date string, unit string) map[string]any {
	return map[string]any{
		"date":    date,
		"unit":    unit,
		"class":   classA,
		"entries": []map[string]any{{"studentId": f.ali, "status": "present"}},
	}
}

func TestActorHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/attendance/submissions", f.submission("2025-07-07", "1"), 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", decode(t, rec)["code"])

	req := httptest.NewRequest(http.MethodGet, "/missed-sessions", nil)
	req.Header.Set(HeaderActor, "abc")
	bad := httptest.NewRecorder()
	f.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	health := f.do(t, http.MethodGet, "/healthz", nil, 0)
	assert.Equal(t, http.StatusOK, health.Code)
	assert.NotEmpty(t, health.Header().Get(HeaderRequestID))
}

func TestSubmit_LockConflict(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/attendance/submissions", f.submission("2025-07-07", "1"), 5)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["written"])

	rec = f.do(t, http.MethodPost, "/attendance/submissions", f.submission("2025-07-07", "1"), 6)
	require.Equal(t, http.StatusConflict, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "CONFLICT", body["code"])
	conflict, ok := body["conflict"].(map[string]any)
	require.True(t, ok, "conflict identity must be returned")
	assert.EqualValues(t, 5, conflict["lockedBy"])

	list := f.do(t, http.MethodGet, "/attendance/records?date=2025-07-07&"+classQ, nil, 0)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decode(t, list)["items"], 1)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)

	bad := f.submission("07/07/2025", "1")
	rec := f.do(t, http.MethodPost, "/attendance/submissions", bad, 5)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "INVALID_ARGUMENT", body["code"])
	assert.Contains(t, rec.Body.String(), `"field":"date"`)

	onLeave := f.submission("2025-07-07", "1")
	onLeave["entries"] = []map[string]any{{"studentId": f.ali, "status": "onLeave"}}
	rec = f.do(t, http.MethodPost, "/attendance/submissions", onLeave, 5)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "entries[0].status")

	rec = f.do(t, http.MethodPost, "/attendance/submissions", f.submission("2025-07-07", "tahajjud"), 5)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/attendance/submissions", bytes.NewBufferString(`{"date":`))
	req.Header.Set(HeaderActor, "5")
	raw := httptest.NewRecorder()
	f.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestMissedSessions_DetectListComplete(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/missed-sessions/detect", map[string]string{"date": "2025-07-07"}, 1)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode(t, rec)["newlyMissed"])

	// повторный прогон ничего не добавляет
	rec = f.do(t, http.MethodPost, "/missed-sessions/detect", map[string]string{"date": "2025-07-07"}, 1)
	assert.EqualValues(t, 0, decode(t, rec)["newlyMissed"])

	rec = f.do(t, http.MethodGet, "/missed-sessions?"+classQ, nil, 0)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "BS Year 1 - A", first["classLabel"])
	assert.EqualValues(t, 3, first["daysPending"])
	assert.Equal(t, "high", first["priority"])
	assert.Equal(t, true, first["overdue"])
	id := int64(first["id"].(float64))

	complete := map[string]any{
		"makeupDate":   "2025-07-10",
		"makeupPeriod": 5,
		"remarks":      "после уроков",
		"records":      []map[string]any{{"studentId": f.ali, "status": "present"}},
	}
	rec = f.do(t, http.MethodPut, fmt.Sprintf("/missed-sessions/%d/complete", id), complete, 9)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode(t, rec)
	assert.Equal(t, true, done["isCompleted"])
	assert.Equal(t, false, done["overdue"])

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/missed-sessions/%d/complete", id), complete, 9)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_COMPLETED", decode(t, rec)["code"])

	rec = f.do(t, http.MethodPut, "/missed-sessions/999/complete", complete, 9)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/missed-sessions?status=completed", nil, 0)
	assert.Len(t, decode(t, rec)["items"], 1)
	rec = f.do(t, http.MethodGet, "/missed-sessions?status=bogus", nil, 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissedSessions_Export(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/missed-sessions/detect", map[string]string{"date": "2025-07-07"}, 1)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/missed-sessions/export?from=2025-07-01&to=2025-07-31", nil, 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "missed-sessions 2025-07-01..2025-07-31.xlsx")

	wb, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer func() { _ = wb.Close() }()
	rows, err := wb.GetRows(export.SheetPending)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestLeaves(t *testing.T) {
	f := newFixture(t)
	leave := map[string]any{"studentId": f.ali, "fromDate": "2025-07-14", "toDate": "2025-07-15", "reason": "болезнь"}

	rec := f.do(t, http.MethodPost, "/leaves", leave, 2)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	id := int64(body["leave"].(map[string]any)["id"].(float64))
	assert.NotNil(t, body["propagation"])

	rec = f.do(t, http.MethodPost, "/leaves", leave, 2)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/leaves", map[string]any{"studentId": f.ali, "fromDate": "2025-07-14"}, 2)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "toDate")

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/leaves/%d/cancel", id), nil, 2)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode(t, rec)["leave"].(map[string]any)["status"])

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/leaves?studentId=%d&status=cancelled", f.ali), nil, 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["items"], 1)
}

func TestHolidaysAndEmergency(t *testing.T) {
	f := newFixture(t)

	holiday := map[string]any{"date": "2025-07-14", "name": "Ашура", "scope": map[string]any{"all": true}}
	rec := f.do(t, http.MethodPost, "/holidays", holiday, 1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	hid := int64(decode(t, rec)["id"].(float64))

	rec = f.do(t, http.MethodPost, "/holidays", holiday, 1)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/holidays?from=2025-07-01&to=2025-07-31", nil, 0)
	assert.Len(t, decode(t, rec)["items"], 1)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/holidays/%d", hid), nil, 1)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/emergency-leave/check?"+classQ, nil, 0)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["active"])

	rec = f.do(t, http.MethodPost, "/emergency-leave/declare", map[string]any{"name": "Наводнение", "class": classA}, 1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, []any{float64(1), float64(2)}, body["periods"])
	assert.EqualValues(t, 2, body["records"])

	rec = f.do(t, http.MethodGet, "/emergency-leave/check?"+classQ, nil, 0)
	assert.Equal(t, true, decode(t, rec)["active"])

	rec = f.do(t, http.MethodPost, "/emergency-leave/declare", map[string]any{"class": classA}, 1)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/emergency-leave/declare", map[string]any{"name": "x"}, 1)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/emergency-leave/check?year=1", nil, 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocks_ListAndReset(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/attendance/submissions", f.submission("2025-07-07", "2"), 5)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/attendance/locks?date=2025-07-07&unit=2&"+classQ, nil, 0)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Len(t, body["locks"], 1)
	assert.Equal(t, "period:2", body["locks"].([]any)[0].(map[string]any)["unit"])

	rec = f.do(t, http.MethodDelete, "/attendance/locks?date=2025-07-07&unit=2&"+classQ, nil, 1)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reason is required")

	rec = f.do(t, http.MethodDelete, "/attendance/locks?date=2025-07-07&unit=2&reason=typo&"+classQ, nil, 1)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["deletedRecords"])

	rec = f.do(t, http.MethodDelete, "/attendance/locks?date=2025-07-07&unit=2&reason=typo&"+classQ, nil, 1)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/attendance/locks?date=2025-07-07", nil, 0)
	body = decode(t, rec)
	assert.Len(t, body["locks"], 0)
	assert.Len(t, body["resets"], 1)

	rec = f.do(t, http.MethodGet, "/attendance/locks", nil, 0)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.Fail("Ping", errors.New("connection refused"))

	rec := f.do(t, http.MethodGet, "/healthz", nil, 0)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "STORE_UNAVAILABLE", decode(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestScheduleInvalidate(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/schedule/invalidate", nil, 0).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/schedule/invalidate", nil, 1).Code)
}
