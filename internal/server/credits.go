package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researcher/internal/auth"
	"github.com/mohammad-safakhou/researcher/internal/credits"
)

// CreditsHandler exposes the ledger: balance for the caller, grants for
// operator tokens carrying the credits:grant scope.
type CreditsHandler struct {
	Ledger credits.Ledger
}

func (h *CreditsHandler) Register(g *echo.Group) {
	g.GET("", h.balance)
	g.POST("/grant", h.grant, auth.RequireScopes("credits:grant"))
}

func (h *CreditsHandler) balance(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	balance, err := h.Ledger.Balance(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, BalanceResponse{Balance: balance})
}

func (h *CreditsHandler) grant(c echo.Context) error {
	var req GrantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId required")
	}
	if req.Amount <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}
	balance, err := h.Ledger.Grant(c.Request().Context(), req.UserID, req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, BalanceResponse{Balance: balance})
}
