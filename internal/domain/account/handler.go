package account

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordsvc/internal/platform/auth"
	"github.com/ehr/recordsvc/internal/platform/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the account endpoints under api. Every route
// requires the ADMIN role.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/users", auth.RequireRole(auth.RoleAdmin))
	g.POST("", h.Create)
	g.GET("", h.FindAll)
	g.GET("/:id", h.FindByID)
	g.PATCH("/:id", h.Update)
	g.PATCH("/:id/activate", h.Activate)
	g.PATCH("/:id/deactivate", h.Deactivate)
	g.PATCH("/:id/soft-delete", h.SoftDelete)
}

func (h *Handler) Create(c echo.Context) error {
	payload, err := validation.DecodeObject(c.Request().Body)
	if err != nil {
		return err
	}
	in, err := ValidateCreate(payload)
	if err != nil {
		return err
	}
	p, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) FindAll(c echo.Context) error {
	ps, err := h.svc.FindAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ps)
}

func (h *Handler) FindByID(c echo.Context) error {
	id, err := validation.ParseID(c.Param("id"), validation.MsgInvalidID)
	if err != nil {
		return err
	}
	p, err := h.svc.FindByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := validation.ParseID(c.Param("id"), validation.MsgInvalidID)
	if err != nil {
		return err
	}
	payload, err := validation.DecodeObject(c.Request().Body)
	if err != nil {
		return err
	}
	in, err := ValidateUpdate(payload)
	if err != nil {
		return err
	}
	p, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Activate(c echo.Context) error {
	return h.transition(c, h.svc.Activate)
}

func (h *Handler) Deactivate(c echo.Context) error {
	return h.transition(c, h.svc.Deactivate)
}

func (h *Handler) SoftDelete(c echo.Context) error {
	return h.transition(c, h.svc.SoftDelete)
}

func (h *Handler) transition(c echo.Context, op func(ctx context.Context, id uuid.UUID) (*Profile, error)) error {
	id, err := validation.ParseID(c.Param("id"), validation.MsgInvalidID)
	if err != nil {
		return err
	}
	p, err := op(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
