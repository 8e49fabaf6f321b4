package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researcher/internal/store"
)

// ConversationsHandler serves the containers surfaces persist under.
type ConversationsHandler struct {
	Store *store.Store
}

func (h *ConversationsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.rename)
	g.GET("/:id/surfaces", h.listSurfaces)
}

func (h *ConversationsHandler) create(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = "New research"
	}
	userID, _ := c.Get("user_id").(string)
	id, err := h.Store.CreateConversation(c.Request().Context(), userID, req.Title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *ConversationsHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	convs, err := h.Store.ListConversations(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conversationResponse(conv))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ConversationsHandler) get(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	ctx := c.Request().Context()
	conv, ok, err := h.Store.GetConversation(ctx, c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	recs, err := h.Store.ListSurfacesByConversation(ctx, conv.ID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ConversationDetailResponse{
		ConversationResponse: conversationResponse(conv),
		Surfaces:             surfaceSummaries(recs),
	})
}

func (h *ConversationsHandler) rename(c echo.Context) error {
	var req RenameConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title required")
	}
	userID, _ := c.Get("user_id").(string)
	if err := h.Store.RenameConversation(c.Request().Context(), c.Param("id"), userID, req.Title); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *ConversationsHandler) listSurfaces(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	recs, err := h.Store.ListSurfacesByConversation(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, surfaceSummaries(recs))
}

func conversationResponse(conv store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: conv.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func surfaceSummaries(recs []store.SurfaceRecord) []SurfaceSummary {
	out := make([]SurfaceSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SurfaceSummary{
			ID:                rec.ID,
			ConversationID:    rec.ConversationID,
			Title:             rec.Surface.Metadata.Title,
			Query:             rec.Surface.Metadata.Query,
			Abstract:          rec.Surface.Metadata.Abstract,
			TotalWordCount:    rec.Surface.Metadata.TotalWordCount,
			EstimatedReadTime: rec.Surface.Metadata.EstimatedReadTime,
			CreatedAt:         rec.Surface.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
