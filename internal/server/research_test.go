package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researcher/internal/credits"
	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/store"
)

const getConversationQuery = `SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id=$1 AND user_id=$2`

type ledgerStub struct {
	balance  int64
	debitErr error
	debits   []int64
	grants   []int64
}

func (l *ledgerStub) Balance(context.Context, string) (int64, error) { return l.balance, nil }

func (l *ledgerStub) Debit(_ context.Context, _ string, amount int64) (int64, error) {
	if l.debitErr != nil {
		return 0, l.debitErr
	}
	l.debits = append(l.debits, amount)
	l.balance -= amount
	return l.balance, nil
}

func (l *ledgerStub) Grant(_ context.Context, _ string, amount int64) (int64, error) {
	l.grants = append(l.grants, amount)
	l.balance += amount
	return l.balance, nil
}

type streamRunnerStub struct {
	events  []research.Event
	surface *research.Surface
	err     error
	called  int
}

func (r *streamRunnerStub) Run(_ context.Context, _ research.Request, emit research.EmitFunc) (*research.Surface, error) {
	r.called++
	for _, ev := range r.events {
		_ = emit(ev)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.surface, nil
}

func streamContext(t *testing.T, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", "user-1")
	return c, rec
}

func expectConversation(mock sqlmock.Sqlmock, id, userID string) {
	mock.ExpectQuery(regexp.QuoteMeta(getConversationQuery)).
		WithArgs(id, userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}).
			AddRow(id, userID, "Research", time.Now(), time.Now()))
}

func parseFrames(t *testing.T, body string) []research.Event {
	t.Helper()
	var events []research.Event
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		if !strings.HasPrefix(chunk, "data: ") {
			t.Fatalf("frame missing data prefix: %q", chunk)
		}
		var ev research.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &ev); err != nil {
			t.Fatalf("decode frame %q: %v", chunk, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestStreamDebitsAndRelaysEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	expectConversation(mock, "conv-1", "user-1")

	zero := 0
	ledger := &ledgerStub{}
	runner := &streamRunnerStub{
		events: []research.Event{
			{Type: research.EventSkeleton, Data: &research.Surface{IsSkeleton: true}},
			{Type: research.EventVerticalComplete, VerticalID: "v-1", SourcesCount: &zero},
			{Type: research.EventComplete, SurfaceState: &research.Surface{}},
		},
		surface: &research.Surface{},
	}
	h := &ResearchHandler{
		Store:  &store.Store{DB: db},
		Ledger: ledger,
		Runner: runner,
		Logger: log.New(io.Discard, "", 0),
	}

	c, rec := streamContext(t, `{"query":"solar glass economics","conversationId":"conv-1"}`)
	if err := h.stream(c); err != nil {
		t.Fatalf("stream: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}
	if cc := rec.Header().Get(echo.HeaderCacheControl); cc != "no-cache" {
		t.Fatalf("expected no-cache, got %q", cc)
	}

	if len(ledger.debits) != 1 || ledger.debits[0] != credits.ResearchCost {
		t.Fatalf("expected one debit of %d, got %v", credits.ResearchCost, ledger.debits)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"sourcesCount":0`) {
		t.Fatalf("expected zero sourcesCount serialized, body: %s", body)
	}
	events := parseFrames(t, body)
	if len(events) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(events))
	}
	if events[0].Type != research.EventSkeleton {
		t.Fatalf("expected skeleton first, got %s", events[0].Type)
	}
	terminal := 0
	for _, ev := range events {
		if ev.Type == research.EventComplete || ev.Type == research.EventError {
			terminal++
		}
	}
	if terminal != 1 || events[len(events)-1].Type != research.EventComplete {
		t.Fatalf("expected exactly one terminal complete, got %+v", events)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStreamRejectsInsufficientCredits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	expectConversation(mock, "conv-1", "user-1")

	ledger := &ledgerStub{debitErr: credits.ErrInsufficient{Balance: 1, Required: 2}}
	runner := &streamRunnerStub{}
	h := &ResearchHandler{
		Store:  &store.Store{DB: db},
		Ledger: ledger,
		Runner: runner,
		Logger: log.New(io.Discard, "", 0),
	}

	c, rec := streamContext(t, `{"query":"solar glass economics","conversationId":"conv-1"}`)
	if err := h.stream(c); err != nil {
		t.Fatalf("stream: %v", err)
	}

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "data: ") {
		t.Fatalf("expected no stream frames, body: %s", rec.Body.String())
	}
	var resp InsufficientCreditsError
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode 402 body: %v", err)
	}
	if resp.Balance != 1 || resp.Required != 2 {
		t.Fatalf("unexpected 402 payload: %+v", resp)
	}
	if runner.called != 0 {
		t.Fatalf("expected orchestrator never started, ran %d times", runner.called)
	}
	if len(ledger.debits) != 0 {
		t.Fatalf("expected no successful debit, got %v", ledger.debits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStreamRelaysSingleErrorFrame(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	expectConversation(mock, "conv-1", "user-1")

	ledger := &ledgerStub{}
	runner := &streamRunnerStub{
		events: []research.Event{{Type: research.EventError, Message: "planning failed"}},
		err:    context.DeadlineExceeded,
	}
	h := &ResearchHandler{
		Store:  &store.Store{DB: db},
		Ledger: ledger,
		Runner: runner,
		Logger: log.New(io.Discard, "", 0),
	}

	c, rec := streamContext(t, `{"query":"solar glass economics","conversationId":"conv-1"}`)
	if err := h.stream(c); err != nil {
		t.Fatalf("stream should not surface run errors, got: %v", err)
	}
	events := parseFrames(t, rec.Body.String())
	if len(events) != 1 || events[0].Type != research.EventError {
		t.Fatalf("expected exactly one error frame, got %+v", events)
	}
	if len(ledger.debits) != 1 {
		t.Fatalf("expected debit kept on failed run, got %v", ledger.debits)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStreamRequiresKnownConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(regexp.QuoteMeta(getConversationQuery)).
		WithArgs("conv-missing", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}))

	ledger := &ledgerStub{}
	runner := &streamRunnerStub{}
	h := &ResearchHandler{
		Store:  &store.Store{DB: db},
		Ledger: ledger,
		Runner: runner,
		Logger: log.New(io.Discard, "", 0),
	}

	c, _ := streamContext(t, `{"query":"anything","conversationId":"conv-missing"}`)
	err = h.stream(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %#v", err)
	}
	if len(ledger.debits) != 0 || runner.called != 0 {
		t.Fatalf("expected no debit and no run for unknown conversation")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStreamValidatesBody(t *testing.T) {
	h := &ResearchHandler{Logger: log.New(io.Discard, "", 0)}

	c, _ := streamContext(t, `{"conversationId":"conv-1"}`)
	err := h.stream(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing query, got %#v", err)
	}

	c, _ = streamContext(t, `{"query":"q"}`)
	err = h.stream(c)
	httpErr, ok = err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing conversationId, got %#v", err)
	}
}
