package devserver

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/glaucare/glaucare/internal/logging"
)

func setupIdempotentApp(t *testing.T) (*fiber.App, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var created, rejected atomic.Int32
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := created.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"n": n})
	})
	app.Post("/flaky", func(c *fiber.Ctx) error {
		if rejected.Add(1) == 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "token expired")
		}
		return c.JSON(fiber.Map{"ok": true})
	})
	return app, &created, &rejected
}

func post(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, created, _ := setupIdempotentApp(t)

	post(t, app, "/resource", "")
	post(t, app, "/resource", "")
	if created.Load() != 2 {
		t.Fatalf("expected handler to run twice, ran %d", created.Load())
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, created, _ := setupIdempotentApp(t)

	status, first := post(t, app, "/resource", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}
	status, second := post(t, app, "/resource", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if first != second {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if created.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d", created.Load())
	}
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	app, _, rejected := setupIdempotentApp(t)

	if status, _ := post(t, app, "/flaky", "k1"); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", status)
	}
	if status, _ := post(t, app, "/flaky", "k1"); status != fiber.StatusOK {
		t.Fatalf("expected retry with the same key to reach the handler, got %d", status)
	}
	if rejected.Load() != 2 {
		t.Fatalf("expected two handler calls, got %d", rejected.Load())
	}
}
