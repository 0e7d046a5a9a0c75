package routes

import (
	"time"

	"github.com/arnold/klibrarian-api/internal/handlers"
	"github.com/arnold/klibrarian-api/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

// Redemptions per client IP per minute.
const applyRateLimit = 10

func Setup(app *fiber.App, h *handlers.Handler, hub *handlers.Hub, auth *middleware.Auth) {
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	app.Get("/_/health", h.Health)

	api := app.Group("/api")

	api.Post("/auth/login", h.Login)

	admin := auth.Protected()

	invites := api.Group("/invite")
	invites.Get("/", admin, h.ListInvites)
	invites.Post("/", admin, h.CreateInvite)
	invites.Get("/config", admin, h.GetConfig)
	invites.Get("/info", h.Info)
	invites.Get("/:token", h.GetInvite)
	invites.Delete("/:token", admin, h.DeleteInvite)
	invites.Post("/:token/reapply", admin, h.ReapplyInvite)
	invites.Post("/:token/apply", limiter.New(limiter.Config{
		Max:        applyRateLimit,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"ok":    false,
				"error": "Too many attempts, try again later",
				"code":  "rate_limited",
			})
		},
	}), h.ApplyInvite)

	api.Get("/activity", admin, h.GetActivity)

	// WebSocket for live invite events
	app.Use("/ws", hub.Upgrade(auth))
	app.Get("/ws/invites", websocket.New(hub.Handle))
}
