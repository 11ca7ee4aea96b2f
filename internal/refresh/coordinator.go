// Package refresh exchanges refresh tokens for new credential pairs, making
// sure concurrent callers share one exchange.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/glaucare/glaucare/internal/apperr"
	"github.com/glaucare/glaucare/internal/credstore"
	"github.com/glaucare/glaucare/internal/logging"
	"github.com/glaucare/glaucare/internal/model"
	"github.com/glaucare/glaucare/internal/notification"
)

const (
	flightKey      = "refresh"
	defaultTimeout = 15 * time.Second
)

var errNoRefreshToken = errors.New("no refresh token stored")

// Client performs the refresh-token exchange against the backend.
type Client interface {
	RefreshToken(ctx context.Context, refreshToken string) (model.CredentialPair, error)
}

// Coordinator is the single-flight refresh point. While an exchange is in
// progress every caller waits for that exchange; once it resolves the next
// caller starts a new one. Failures are never cached.
type Coordinator struct {
	store   credstore.Store
	client  Client
	bus     *notification.Broadcaster
	timeout time.Duration
	logger  *slog.Logger

	group singleflight.Group
}

// New builds a coordinator. A zero timeout selects 15 seconds. The timeout
// bounds one exchange independently of any caller's context.
func New(store credstore.Store, client Client, bus *notification.Broadcaster, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Coordinator{store: store, client: client, bus: bus, timeout: timeout, logger: logging.OrDiscard(logger)}
}

// Refresh returns a usable pair after the backend rejected the access token
// rejected. If the stored pair no longer carries that token another caller
// already refreshed, and the stored pair is returned without a new exchange.
//
// On failure the store is cleared, a force logout is broadcast once and the
// returned error is of kind apperr.KindAuthExpired.
func (c *Coordinator) Refresh(ctx context.Context, rejected string) (model.CredentialPair, error) {
	if current, ok := c.superseded(ctx, rejected); ok {
		return current, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.exchange(flightCtx, rejected)
	})

	select {
	case <-ctx.Done():
		return model.CredentialPair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.CredentialPair{}, res.Err
		}
		return res.Val.(model.CredentialPair), nil
	}
}

func (c *Coordinator) exchange(parent context.Context, rejected string) (model.CredentialPair, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	if current, ok := c.superseded(ctx, rejected); ok {
		return current, nil
	}

	pair, err := c.store.LoadCredentials(ctx)
	if err != nil {
		c.logger.Warn("refresh: load credentials", slog.Any("error", err))
		return model.CredentialPair{}, c.fail(ctx, err, false)
	}
	if pair == nil {
		return model.CredentialPair{}, c.fail(ctx, errNoRefreshToken, false)
	}

	c.logger.Info("refresh started", slog.String("refresh_token", logging.Fingerprint(pair.RefreshToken)))
	next, err := c.client.RefreshToken(ctx, pair.RefreshToken)
	if err != nil {
		return model.CredentialPair{}, c.fail(ctx, err, true)
	}
	if !next.Valid() {
		return model.CredentialPair{}, c.fail(ctx, errors.New("refresh response missing tokens"), true)
	}
	if err := c.store.SaveCredentials(ctx, next); err != nil {
		return model.CredentialPair{}, c.fail(ctx, err, true)
	}

	c.logger.Info("refresh succeeded", slog.String("access_token", logging.Fingerprint(next.AccessToken)))
	return next, nil
}

// fail clears the store and, when a live session was lost, broadcasts force
// logout. Without stored credentials there is nothing to log out of, which
// keeps late 401s from re-broadcasting after a failed refresh.
func (c *Coordinator) fail(ctx context.Context, cause error, broadcast bool) error {
	c.logger.Warn("refresh failed", slog.Any("error", cause), slog.Bool("force_logout", broadcast))
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("refresh: clear store", slog.Any("error", err))
	}
	if broadcast && c.bus != nil {
		c.bus.Broadcast(ctx, notification.ForceLogout{Reason: notification.ReasonRefreshFailed})
	}
	return apperr.Wrap(apperr.KindAuthExpired, "refresh", cause)
}

func (c *Coordinator) superseded(ctx context.Context, rejected string) (model.CredentialPair, bool) {
	if rejected == "" {
		return model.CredentialPair{}, false
	}
	pair, err := c.store.LoadCredentials(ctx)
	if err != nil || pair == nil {
		return model.CredentialPair{}, false
	}
	if pair.AccessToken != rejected {
		return *pair, true
	}
	return model.CredentialPair{}, false
}
