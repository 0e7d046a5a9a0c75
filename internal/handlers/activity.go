package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// GetActivity returns the paginated invite audit log, optionally for one token
func (h *Handler) GetActivity(c *fiber.Ctx) error {
	var token *uuid.UUID
	if raw := c.Query("token"); raw != "" {
		t, err := uuid.Parse(raw)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "bad_request", "Invalid invite token")
		}
		token = &t
	}

	// Pagination
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 50 {
		limit = 20
	}
	offset := (page - 1) * limit

	activities, total, err := h.activity.List(c.UserContext(), token, offset, limit)
	if err != nil {
		return failErr(c, err)
	}

	return ok(c, fiber.Map{
		"activities": activities,
		"total":      total,
		"page":       page,
		"limit":      limit,
	})
}
