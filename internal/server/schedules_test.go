package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researcher/internal/store"
)

const createScheduleQuery = `
INSERT INTO refresh_schedules (user_id, conversation_id, query, cron)
VALUES ($1,$2,$3,$4)
RETURNING id
`

const listSchedulesQuery = `
SELECT id, user_id, conversation_id, query, cron, last_run_at, created_at
FROM refresh_schedules
WHERE user_id=$1
ORDER BY created_at DESC
`

func scheduleContext(t *testing.T, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/api/schedules", nil)
	} else {
		req = httptest.NewRequest(method, "/api/schedules", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-1")
	return c, rec
}

func TestCreateScheduleStoresRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	expectConversation(mock, "conv-1", "user-1")
	mock.ExpectQuery(regexp.QuoteMeta(createScheduleQuery)).
		WithArgs("user-1", "conv-1", "fusion funding", "@daily").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sched-1"))

	h := &SchedulesHandler{Store: &store.Store{DB: db}}
	c, rec := scheduleContext(t, http.MethodPost, `{"conversationId":"conv-1","query":"fusion funding","cron":"@daily"}`)
	if err := h.create(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp IDResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "sched-1" {
		t.Fatalf("expected schedule id sched-1, got %q", resp.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateScheduleRejectsInvalidCron(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	h := &SchedulesHandler{Store: &store.Store{DB: db}}
	c, _ := scheduleContext(t, http.MethodPost, `{"conversationId":"conv-1","query":"fusion funding","cron":"every tuesday"}`)
	err = h.create(c)
	if err == nil {
		t.Fatal("expected error for invalid cron")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if !strings.Contains(httpErr.Message.(string), "invalid cron expression") {
		t.Fatalf("unexpected message: %v", httpErr.Message)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("cron validation should not touch the database: %v", err)
	}
}

func TestCreateScheduleRequiresFields(t *testing.T) {
	h := &SchedulesHandler{}
	c, _ := scheduleContext(t, http.MethodPost, `{"conversationId":"conv-1","query":"fusion funding"}`)
	err := h.create(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestCreateScheduleUnknownConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(regexp.QuoteMeta(getConversationQuery)).
		WithArgs("conv-missing", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}))

	h := &SchedulesHandler{Store: &store.Store{DB: db}}
	c, _ := scheduleContext(t, http.MethodPost, `{"conversationId":"conv-missing","query":"fusion funding","cron":"@daily"}`)
	err = h.create(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListSchedulesReturnsRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	lastRun := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(listSchedulesQuery)).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "conversation_id", "query", "cron", "last_run_at", "created_at"}).
			AddRow("sched-1", "user-1", "conv-1", "fusion funding", "@daily", lastRun, time.Now()).
			AddRow("sched-2", "user-1", "conv-2", "battery recycling", "@hourly", nil, time.Now()))

	h := &SchedulesHandler{Store: &store.Store{DB: db}}
	c, rec := scheduleContext(t, http.MethodGet, "")
	if err := h.list(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp []ScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected two schedules, got %d", len(resp))
	}
	if resp[0].LastRunAt != "2026-03-01T08:00:00Z" {
		t.Fatalf("unexpected lastRunAt: %q", resp[0].LastRunAt)
	}
	if resp[1].LastRunAt != "" {
		t.Fatalf("schedule without runs should omit lastRunAt, got %q", resp[1].LastRunAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteScheduleScopedToUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM refresh_schedules WHERE id=$1 AND user_id=$2`)).
		WithArgs("sched-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := &SchedulesHandler{Store: &store.Store{DB: db}}
	c, rec := scheduleContext(t, http.MethodDelete, "")
	c.SetParamNames("id")
	c.SetParamValues("sched-1")
	if err := h.delete(c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
