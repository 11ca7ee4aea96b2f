package devserver

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	requestIDHeader = "X-Request-ID"
	localUser       = "user"
	localClaims     = "claims"
)

// RequestID ensures each request has a request identifier for logging.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)
		return c.Next()
	}
}

// Audit logs every request once it completes.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if err != nil {
			status = http.StatusInternalServerError
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID, _ := c.Locals(requestIDHeader).(string); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if err != nil && status >= http.StatusInternalServerError {
			attrs = append(attrs, slog.Any("error", err))
			logger.Error("request completed", attrs...)
			return err
		}
		logger.Info("request completed", attrs...)
		return err
	}
}

// BearerAuth verifies the access token and requires one of scopes.
func BearerAuth(svc *Service, scopes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimSpace(authz[len("Bearer "):])
		claims, user, err := svc.Authorize(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if !slices.Contains(scopes, claims.Scope) {
			return fiber.NewError(http.StatusForbidden, "token scope not allowed")
		}
		c.Locals(localUser, user)
		c.Locals(localClaims, claims)
		return c.Next()
	}
}

// OTPRateLimit limits send-otp calls per mobile number (or client IP) per
// minute. Without Redis it is a no-op; cache errors fail open.
func OTPRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Mobile string `json:"mobile"`
		}
		_ = c.BodyParser(&req)
		subject := strings.TrimSpace(req.Mobile)
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:otp:" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many otp requests, try again later")
		}
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) (User, bool) {
	user, ok := c.Locals(localUser).(User)
	return user, ok
}
