// Package gateway issues backend calls with the stored bearer credential and
// recovers from an expired access token with exactly one refresh and retry.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/glaucare/glaucare/internal/apperr"
	"github.com/glaucare/glaucare/internal/logging"
	"github.com/glaucare/glaucare/internal/model"
)

const maxBodyBytes = 1 << 20

// CredentialReader is the read side of the credential store.
type CredentialReader interface {
	LoadCredentials(ctx context.Context) (*model.CredentialPair, error)
}

// Refresher obtains a new pair after rejected was refused by the backend.
type Refresher interface {
	Refresh(ctx context.Context, rejected string) (model.CredentialPair, error)
}

type Gateway struct {
	baseURL   string
	client    *http.Client
	creds     CredentialReader
	refresher Refresher
	logger    *slog.Logger
}

// New builds a gateway for baseURL. A nil httpClient gets a client with a 30
// second timeout. A nil refresher turns every 401 into a classified error.
func New(baseURL string, httpClient *http.Client, creds CredentialReader, refresher Refresher, logger *slog.Logger) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Gateway{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    httpClient,
		creds:     creds,
		refresher: refresher,
		logger:    logging.OrDiscard(logger),
	}
}

// Send issues req as an authenticated call in a fresh envelope. Envelopes
// never outlive a single Send, so an abandoned call cannot be re-submitted.
func (g *Gateway) Send(ctx context.Context, req Request) (*Response, error) {
	return g.do(ctx, newEnvelope(req))
}

// do issues the envelope with the stored access token attached. On a 401 for
// an envelope that has not been retried it refreshes once and re-issues the
// call; the retried outcome is returned as-is. Non-2xx responses are returned
// together with their classified error.
func (g *Gateway) do(ctx context.Context, env envelope) (*Response, error) {
	token := g.accessToken(ctx)
	resp, err := g.issue(ctx, env.Request(), token, env.IdempotencyKey())
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && !env.Retried() && g.refresher != nil {
		env = env.retry()
		g.logger.Info("access token rejected, refreshing",
			slog.String("path", env.Request().Path),
			slog.String("access_token", logging.Fingerprint(token)))

		pair, err := g.refresher.Refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		resp, err = g.issue(ctx, env.Request(), pair.AccessToken, env.IdempotencyKey())
		if err != nil {
			return nil, err
		}
	}

	return resp, g.classify(env.Request(), resp)
}

// Raw issues req without a bearer credential and without refresh handling,
// for the unauthenticated auth endpoints.
func (g *Gateway) Raw(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.issue(ctx, req, "", "")
	if err != nil {
		return nil, err
	}
	return resp, g.classify(req, resp)
}

func (g *Gateway) classify(req Request, resp *Response) error {
	if resp.Status >= 200 && resp.Status < 300 {
		return nil
	}
	return apperr.FromStatus(opName(req), resp.Status, resp.Body)
}

// accessToken returns the stored access token. A read failure counts as no
// credentials.
func (g *Gateway) accessToken(ctx context.Context) string {
	if g.creds == nil {
		return ""
	}
	pair, err := g.creds.LoadCredentials(ctx)
	if err != nil {
		g.logger.Warn("load credentials", slog.Any("error", err))
		return ""
	}
	if pair == nil {
		return ""
	}
	return pair.AccessToken
}

func (g *Gateway) issue(ctx context.Context, req Request, token, idempotencyKey string) (*Response, error) {
	op := opName(req)

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, op, err)
		}
		body = bytes.NewReader(raw)
	}

	target := g.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(apperr.KindNetwork, op, err)
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperr.Wrap(apperr.KindNetwork, op, fmt.Errorf("read body: %w", err))
	}
	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: payload}, nil
}

func opName(req Request) string {
	return req.Method + " " + req.Path
}
