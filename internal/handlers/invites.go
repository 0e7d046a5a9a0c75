package handlers

import (
	"errors"
	"strconv"

	"github.com/arnold/klibrarian-api/internal/invite"
	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

// ListInvites returns every stored invite with its status
func (h *Handler) ListInvites(c *fiber.Ctx) error {
	invites, err := h.invites.List(c.UserContext())
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, invites)
}

// CreateInvite authorizes a creation payload against the live catalog and stores the invite
func (h *Handler) CreateInvite(c *fiber.Ctx) error {
	payload, err := invite.DecodePayload(c.Body())
	if err != nil {
		if errors.Is(err, invite.ErrInvalidPayloadForKind) {
			return failErr(c, err)
		}
		return fail(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	inv, err := h.invites.Create(c.UserContext(), payload)
	if err != nil {
		return failErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "data": inv})
}

// GetConfig returns the library and label catalogs for the creation form
func (h *Handler) GetConfig(c *fiber.Ctx) error {
	cfg, err := h.invites.Config(c.UserContext())
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, models.ConfigResponse{
		Komga:     configBackend(cfg.Komga, false),
		Navidrome: configBackend(cfg.Navidrome, true),
	})
}

// Navidrome library ids are numeric on the wire.
func configBackend(cat invite.BackendCatalog, numericIDs bool) models.ConfigBackend {
	return models.ConfigBackend{
		Active: cat.Active,
		Labels: cat.Labels,
		Libraries: lo.Map(cat.Libraries, func(l invite.Library, _ int) models.ConfigLibrary {
			var id interface{} = l.ID
			if numericIDs {
				if n, err := strconv.ParseInt(l.ID, 10, 64); err == nil {
					id = n
				}
			}
			return models.ConfigLibrary{ID: id, Name: l.Name, Unavailable: l.Unavailable}
		}),
	}
}

// Info lists the active media servers
func (h *Handler) Info(c *fiber.Ctx) error {
	servers := lo.Map(h.invites.ActiveKinds(), func(k invite.Kind, _ int) string { return string(k) })
	return ok(c, models.InfoResponse{Servers: servers, Version: h.version})
}

// GetInvite shows an invite before redemption. Used and expired invites
// are returned alongside their error so the page can explain why.
func (h *Handler) GetInvite(c *fiber.Ctx) error {
	token, err := tokenParam(c)
	if err != nil {
		return failErr(c, err)
	}

	inv, err := h.invites.Lookup(c.UserContext(), token)
	if err != nil {
		if invite.IsInert(err) {
			status, code := classify(err)
			return c.Status(status).JSON(fiber.Map{
				"ok":    false,
				"error": err.Error(),
				"code":  code,
				"data":  inv,
			})
		}
		return failErr(c, err)
	}
	return ok(c, inv)
}

// DeleteInvite revokes an invite
func (h *Handler) DeleteInvite(c *fiber.Ctx) error {
	token, err := tokenParam(c)
	if err != nil {
		return failErr(c, err)
	}
	if err := h.invites.Delete(c.UserContext(), token); err != nil {
		return failErr(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ApplyInvite redeems an invite by creating an account on its backend
func (h *Handler) ApplyInvite(c *fiber.Ctx) error {
	token, err := tokenParam(c)
	if err != nil {
		return failErr(c, err)
	}

	var req models.RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return fail(c, fiber.StatusBadRequest, "bad_request", describe(err))
	}

	resp, err := h.invites.Redeem(c.UserContext(), token, req)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, resp)
}

// ReapplyInvite re-applies a redeemed invite's restrictions to its account
func (h *Handler) ReapplyInvite(c *fiber.Ctx) error {
	token, err := tokenParam(c)
	if err != nil {
		return failErr(c, err)
	}
	grant, err := h.invites.Reapply(c.UserContext(), token)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, grant)
}
