package handlers

import (
	"log/slog"

	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/gofiber/fiber/v2"
)

// Login exchanges the configured admin token for a session JWT.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fail(c, fiber.StatusBadRequest, "bad_request", describe(err))
	}

	if !h.auth.CheckAdminToken(req.Token) {
		slog.WarnContext(c.UserContext(), "rejected admin login", "ip", c.IP())
		return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid token")
	}

	token, err := h.auth.GenerateToken()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "internal", "Failed to generate token")
	}

	return ok(c, models.LoginResponse{Token: token})
}
