package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researcher/internal/store"
)

// SchedulesHandler manages periodic refresh registrations.
type SchedulesHandler struct {
	Store *store.Store
}

func (h *SchedulesHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.DELETE("/:id", h.delete)
}

func (h *SchedulesHandler) create(c echo.Context) error {
	var req CreateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	req.Cron = strings.TrimSpace(req.Cron)
	if req.ConversationID == "" || req.Query == "" || req.Cron == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversationId, query and cron required")
	}
	if err := validateCron(req.Cron); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID, _ := c.Get("user_id").(string)
	ctx := c.Request().Context()
	if _, ok, err := h.Store.GetConversation(ctx, req.ConversationID, userID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	} else if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	id, err := h.Store.CreateSchedule(ctx, store.ScheduleRecord{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Query:          req.Query,
		Cron:           req.Cron,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *SchedulesHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	recs, err := h.Store.ListSchedules(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ScheduleResponse, 0, len(recs))
	for _, rec := range recs {
		resp := ScheduleResponse{
			ID:             rec.ID,
			ConversationID: rec.ConversationID,
			Query:          rec.Query,
			Cron:           rec.Cron,
			CreatedAt:      rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if rec.LastRunAt != nil {
			resp.LastRunAt = rec.LastRunAt.UTC().Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SchedulesHandler) delete(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	if err := h.Store.DeleteSchedule(c.Request().Context(), c.Param("id"), userID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// validateCron accepts @daily, @hourly or a parseable cron expression.
func validateCron(spec string) error {
	switch spec {
	case "@daily", "@hourly":
		return nil
	}
	if _, err := cronexpr.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}
