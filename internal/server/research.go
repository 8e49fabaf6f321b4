package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/researcher/internal/credits"
	"github.com/mohammad-safakhou/researcher/internal/index"
	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/store"
)

var researchTracer = otel.Tracer("researcher/internal/server")

// Runner executes one research run. The orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req research.Request, emit research.EmitFunc) (*research.Surface, error)
}

// ResearchHandler owns the streamed research entrypoint and surface reads.
type ResearchHandler struct {
	Store      *store.Store
	Ledger     credits.Ledger
	Runner     Runner
	Index      *index.Index
	RunTimeout time.Duration
	Logger     *log.Logger
}

func (h *ResearchHandler) Register(api *echo.Group) {
	api.POST("/research", h.stream)
	api.GET("/research/surfaces/:id", h.getSurface)
	api.GET("/research/search", h.search)
}

// stream runs the research pipeline and relays its events as SSE frames.
// The credit debit is atomic with the balance check and happens before the
// response is committed, so an insufficient balance is a plain 402 with no
// stream bytes. Once the stream is open the run is detached from the
// request context: a client that disconnects stops receiving frames but the
// run finishes and persists.
func (h *ResearchHandler) stream(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	if req.ConversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversationId required")
	}
	userID, _ := c.Get("user_id").(string)

	ctx := c.Request().Context()
	ctx, span := researchTracer.Start(ctx, "ResearchHandler.stream")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", req.ConversationID))

	if _, ok, err := h.Store.GetConversation(ctx, req.ConversationID, userID); err != nil {
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	} else if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	if _, err := h.Ledger.Debit(ctx, userID, credits.ResearchCost); err != nil {
		var insufficient credits.ErrInsufficient
		if errors.As(err, &insufficient) {
			span.SetStatus(codes.Error, "insufficient credits")
			return c.JSON(http.StatusPaymentRequired, InsufficientCreditsError{
				Error:    "insufficient credits",
				Balance:  insufficient.Balance,
				Required: insufficient.Required,
			})
		}
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	// Events are marshalled at emit time under one lock: batched phases
	// emit from multiple goroutines and frames must not interleave.
	var mu sync.Mutex
	emit := func(ev research.Event) error {
		mu.Lock()
		defer mu.Unlock()
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if h.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, h.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	defer cancel()

	surface, err := h.Runner.Run(runCtx, research.Request{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Query:          req.Query,
	}, emit)
	if err != nil {
		// terminal error event already went out; the stream just closes
		span.SetStatus(codes.Error, err.Error())
		return nil
	}
	span.SetStatus(codes.Ok, "completed")
	if h.Index != nil && surface.ID != "" {
		if err := h.Index.IndexSurface(surface.ID, userID, req.ConversationID, surface); err != nil {
			h.Logger.Printf("warn: indexing surface %s failed: %v", surface.ID, err)
		}
	}
	return nil
}

func (h *ResearchHandler) getSurface(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	rec, ok, err := h.Store.GetSurface(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "surface not found")
	}
	return c.JSON(http.StatusOK, rec.Surface)
}

func (h *ResearchHandler) search(c echo.Context) error {
	if h.Index == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search index disabled")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	limit := 10
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	userID, _ := c.Get("user_id").(string)
	hits, err := h.Index.Search(userID, q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"hits": hits})
}
