package devserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes wires the auth and user endpoints.
func RegisterRoutes(app *fiber.App, h *Handler, svc *Service, otpLimiter fiber.Handler) {
	authed := BearerAuth(svc, ScopeAccess)

	group := app.Group("/auth")
	group.Post("/send-otp", otpLimiter, h.SendOtp)
	group.Post("/verify-otp", h.VerifyOtp)
	group.Post("/refresh-token", h.Refresh)
	group.Post("/guest-login", h.GuestLogin)
	group.Post("/register", BearerAuth(svc, ScopeRegistration), h.Register)
	group.Post("/convert-guest", authed, h.ConvertGuest)
	group.Delete("/delete-guest", authed, h.DeleteGuest)
	group.Get("/is-guest", authed, h.IsGuest)
	group.Post("/logout", BearerAuth(svc, ScopeAccess, ScopeRegistration), h.Logout)
	group.Get("/me", authed, h.Me)
	group.Get("/verify-token", authed, h.VerifyToken)

	app.Put("/users/fcm-token", authed, h.UpdateFCMToken)
}

// RegisterHealthRoutes adds a liveness endpoint that also pings the
// optional Postgres and Redis dependencies.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus := "ok"
		redisStatus := "ok"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus = err.Error()
			}
		} else {
			dbStatus = "memory"
		}
		if d.Cache != nil {
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		} else {
			redisStatus = "memory"
		}
		status := http.StatusOK
		if (d.DB != nil && dbStatus != "ok") || (d.Cache != nil && redisStatus != "ok") {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
