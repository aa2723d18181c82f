package chat

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docplus/portal/internal/platform/auth"
	"github.com/docplus/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat", auth.RequireRole("patient", "doctor"))
	g.GET("/:patientID/:doctorID/messages", h.GetHistory)
	g.GET("/unread", h.GetUnreadCount)
}

// GetHistory returns the stored conversation between a patient and a
// doctor. Callers may only read conversations naming their own identity;
// admins may read any.
func (h *Handler) GetHistory(c echo.Context) error {
	patientID := c.Param("patientID")
	doctorID := c.Param("doctorID")

	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	role := auth.RoleFromContext(ctx)
	if role != "admin" && userID != patientID && userID != doctorID {
		return echo.NewHTTPError(http.StatusForbidden, "not a participant in this conversation")
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(ctx, patientID, doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// GetUnreadCount returns how many messages addressed to the caller are
// still unread.
func (h *Handler) GetUnreadCount(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	count, err := h.svc.UnreadCount(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": count})
}
