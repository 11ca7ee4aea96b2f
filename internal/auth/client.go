package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/glaucare/glaucare/internal/credstore"
	"github.com/glaucare/glaucare/internal/gateway"
	"github.com/glaucare/glaucare/internal/logging"
	"github.com/glaucare/glaucare/internal/notification"
	"github.com/glaucare/glaucare/internal/refresh"
	"github.com/glaucare/glaucare/internal/session"
)

// Options configures NewClient.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Store          credstore.Store
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

// Client is the assembled session core. One Client is built per process and
// its parts are handed to whoever needs them.
type Client struct {
	Session *session.Machine
	Bus     *notification.Broadcaster
	Gateway *gateway.Gateway
	Refresh *refresh.Coordinator
	API     *API
	Auth    *Service
	Guest   *GuestManager

	unsubscribe func()
}

// NewClient wires the store, state machine, broadcaster, refresh coordinator
// and gateway together. The state machine is subscribed to force logout so a
// failed refresh or an explicit logout resets it.
func NewClient(opts Options) *Client {
	logger := logging.OrDiscard(opts.Logger)
	store := opts.Store
	if store == nil {
		store = credstore.NewMemory()
	}

	bus := notification.NewBroadcaster(logger)
	machine := session.New(store, logger)

	// refresh-token is public, so the coordinator talks through a gateway
	// with no credentials and no refresher of its own
	public := NewAPI(gateway.New(opts.BaseURL, opts.HTTPClient, nil, nil, logger))
	coordinator := refresh.New(store, public, bus, opts.RefreshTimeout, logger)

	gw := gateway.New(opts.BaseURL, opts.HTTPClient, store, coordinator, logger)
	api := NewAPI(gw)

	unsubscribe := bus.Subscribe(func(ctx context.Context, event notification.ForceLogout) {
		if err := machine.ForceLogout(ctx); err != nil {
			logger.Error("force logout", slog.String("reason", event.Reason), slog.Any("error", err))
		}
	})

	return &Client{
		Session:     machine,
		Bus:         bus,
		Gateway:     gw,
		Refresh:     coordinator,
		API:         api,
		Auth:        NewService(api, machine, bus, logger),
		Guest:       NewGuestManager(api, machine, logger),
		unsubscribe: unsubscribe,
	}
}

// Close detaches the state machine from the broadcaster.
func (c *Client) Close() {
	c.unsubscribe()
}
