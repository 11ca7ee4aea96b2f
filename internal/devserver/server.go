package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/glaucare/glaucare/internal/config"
	"github.com/glaucare/glaucare/internal/logging"
)

const idempotencyTTL = 24 * time.Hour

// Deps aggregates what the server needs. DB and Cache are optional; without
// them users, OTPs and consumed refresh tokens live in memory.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Sender delivers OTP codes. Nil logs them.
	Sender CodeSender
	// Now is the clock used for token and OTP expiry. Nil uses time.Now.
	Now func() time.Time
}

// Server wraps the Fiber application.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New builds the server and wires every route.
func New(ctx context.Context, d Deps) (*Server, error) {
	if !config.IsDev(d.Cfg.AppEnv) && d.DB == nil {
		return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	d.Logger = logging.OrDiscard(d.Logger)
	if d.Sender == nil {
		d.Sender = LogSender{Logger: d.Logger}
	}

	var users Repository
	if d.DB != nil {
		pg := NewPostgresRepository(d.DB)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		users = pg
	} else {
		users = NewMemoryRepository()
	}

	var (
		otpStore OTPStore
		consumed ConsumedTokens
	)
	if d.Cache != nil {
		otpStore = NewRedisOTPStore(d.Cache)
		consumed = NewRedisConsumedTokens(d.Cache)
	} else {
		otpStore = NewMemoryOTPStore(d.Now)
		consumed = NewMemoryConsumedTokens()
	}

	tokens := NewTokenService(d.Cfg.JWTSecret, d.Cfg.RefreshSecret, d.Cfg.AccessTokenTTL, d.Cfg.RefreshTokenTTL, d.Now)
	otps := NewOTPService(otpStore, d.Sender, d.Cfg.OTPTTL)
	svc := NewService(users, otps, tokens, consumed, d.Now, d.Logger)

	app := fiber.New(fiber.Config{
		AppName:               d.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(RequestID())
	app.Use(Audit(d.Logger))
	app.Use(Idempotency(d.Cache, idempotencyTTL, d.Logger))

	RegisterHealthRoutes(app, d)
	RegisterRoutes(app, NewHandler(svc), svc, OTPRateLimit(d.Cache, d.Cfg.OTPRateLimit))

	return &Server{app: app, cfg: d.Cfg}, nil
}

// App exposes the Fiber application, for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the HTTP server on the configured port.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
