package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arnold/klibrarian-api/internal/invite"
	"github.com/arnold/klibrarian-api/internal/middleware"
	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/arnold/klibrarian-api/internal/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// InviteService is what the HTTP layer needs from the invite service.
type InviteService interface {
	ActiveKinds() []invite.Kind
	Config(ctx context.Context) (invite.Config, error)
	Create(ctx context.Context, p invite.Payload) (invite.Invite, error)
	List(ctx context.Context) ([]models.InviteStatus, error)
	Lookup(ctx context.Context, token uuid.UUID) (invite.Invite, error)
	Delete(ctx context.Context, token uuid.UUID) error
	Redeem(ctx context.Context, token uuid.UUID, req models.RedeemRequest) (models.RedeemResponse, error)
	Reapply(ctx context.Context, token uuid.UUID) (invite.Grant, error)
}

type ActivityLister interface {
	List(ctx context.Context, token *uuid.UUID, offset, limit int) ([]models.Activity, int64, error)
}

type Handler struct {
	invites  InviteService
	activity ActivityLister
	auth     *middleware.Auth
	validate *validator.Validate
	version  string
	started  time.Time
}

func New(invites InviteService, activity ActivityLister, auth *middleware.Auth, version string) *Handler {
	return &Handler{
		invites:  invites,
		activity: activity,
		auth:     auth,
		validate: newValidator(),
		version:  version,
		started:  time.Now(),
	}
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return ok(c, fiber.Map{
		"status":  "up",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

func ok(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{"ok": true, "data": data})
}

func fail(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"ok":    false,
		"error": msg,
		"code":  code,
	})
}

// failErr writes the error envelope for err, picking the status from its kind.
func failErr(c *fiber.Ctx, err error) error {
	status, code := classify(err)
	if status >= fiber.StatusInternalServerError {
		slog.ErrorContext(c.UserContext(), "request failed", "path", c.Path(), "err", err)
	}
	return fail(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, invite.ErrTokenNotFound):
		return fiber.StatusNotFound, invite.Code(err)
	case errors.Is(err, invite.ErrExpired):
		return fiber.StatusGone, invite.Code(err)
	case errors.Is(err, invite.ErrAlreadyConsumed),
		errors.Is(err, invite.ErrConcurrentConsumptionLost):
		return fiber.StatusConflict, invite.Code(err)
	case errors.Is(err, invite.ErrInactiveBackend):
		return fiber.StatusServiceUnavailable, invite.Code(err)
	case errors.Is(err, invite.ErrUnknownLibrary),
		errors.Is(err, invite.ErrUnknownLabel),
		errors.Is(err, invite.ErrInvalidExpiry),
		errors.Is(err, invite.ErrInvalidPayloadForKind):
		return fiber.StatusUnprocessableEntity, invite.Code(err)
	case errors.Is(err, services.ErrNotRedeemed):
		return fiber.StatusConflict, "not_redeemed"
	case errors.Is(err, services.ErrBackend):
		return fiber.StatusBadGateway, "backend_error"
	case errors.Is(err, services.ErrCatalogUnavailable):
		return fiber.StatusBadGateway, "catalog_unavailable"
	}
	return fiber.StatusInternalServerError, "internal"
}

// tokenParam parses the :token route param. A malformed token cannot name
// an invite, so it is reported as not found.
func tokenParam(c *fiber.Ctx) (uuid.UUID, error) {
	token, err := uuid.Parse(c.Params("token"))
	if err != nil {
		return uuid.Nil, invite.ErrTokenNotFound
	}
	return token, nil
}
