package notification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
)

const (
	defaultListLimit = 10
	maxListLimit     = 50
)

// Handler serves the recipient's own notifications.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleList)
	g.POST("/notifications/read-all", h.HandleMarkAllRead)
	g.POST("/notifications/:id/read", h.HandleMarkRead)
}

type listResponse struct {
	Data        []Notification `json:"data"`
	UnreadCount int            `json:"unread_count"`
}

func recipient(c echo.Context) (uuid.UUID, error) {
	id := auth.UserIDFromContext(c.Request().Context())
	if id == uuid.Nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func (h *Handler) HandleList(c echo.Context) error {
	user, err := recipient(c)
	if err != nil {
		return err
	}

	limit := defaultListLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	ctx := c.Request().Context()
	items, err := h.store.ListByRecipient(ctx, user, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notifications unavailable")
	}
	unread, err := h.store.CountUnread(ctx, user)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notifications unavailable")
	}
	if items == nil {
		items = []Notification{}
	}
	return c.JSON(http.StatusOK, listResponse{Data: items, UnreadCount: unread})
}

func (h *Handler) HandleMarkRead(c echo.Context) error {
	user, err := recipient(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := h.store.MarkRead(c.Request().Context(), user, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "notification not found")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notifications unavailable")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleMarkAllRead(c echo.Context) error {
	user, err := recipient(c)
	if err != nil {
		return err
	}
	n, err := h.store.MarkAllRead(c.Request().Context(), user)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notifications unavailable")
	}
	return c.JSON(http.StatusOK, map[string]int{"marked": n})
}
