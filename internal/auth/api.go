package auth

import (
	"context"
	"net/http"

	"github.com/glaucare/glaucare/internal/apperr"
	"github.com/glaucare/glaucare/internal/gateway"
	"github.com/glaucare/glaucare/internal/model"
)

// Backend paths.
const (
	PathSendOtp      = "/auth/send-otp"
	PathVerifyOtp    = "/auth/verify-otp"
	PathRefreshToken = "/auth/refresh-token"
	PathGuestLogin   = "/auth/guest-login"
	PathConvertGuest = "/auth/convert-guest"
	PathDeleteGuest  = "/auth/delete-guest"
	PathIsGuest      = "/auth/is-guest"
	PathRegister     = "/auth/register"
	PathLogout       = "/auth/logout"
	PathMe           = "/auth/me"
	PathVerifyToken  = "/auth/verify-token"
	PathFCMToken     = "/users/fcm-token"
)

type sendOtpRequest struct {
	Mobile string `json:"mobile"`
}

type verifyOtpRequest struct {
	Mobile     string `json:"mobile"`
	Otp        string `json:"otp"`
	RememberMe bool   `json:"rememberMe"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type guestLoginRequest struct {
	DeviceID string `json:"deviceId"`
}

type convertGuestRequest struct {
	Mobile string `json:"mobile"`
	Otp    string `json:"otp"`
}

type fcmTokenRequest struct {
	FCMToken string `json:"fcmToken"`
}

// AuthResult is the body of every endpoint that issues a pair.
type AuthResult struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	User         model.UserRecord `json:"user"`
}

// Pair returns the issued credentials.
func (r AuthResult) Pair() model.CredentialPair {
	return model.CredentialPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// VerifyResult is the verify-otp body.
type VerifyResult struct {
	AuthResult
	RequiresRegistration bool `json:"requiresRegistration"`
}

// TokenStatus is the verify-token body.
type TokenStatus struct {
	Valid   bool   `json:"valid"`
	UserID  string `json:"userId,omitempty"`
	IsGuest bool   `json:"isGuest"`
}

// API maps each backend endpoint to a typed call. Public endpoints go out
// without credentials; the rest go through the gateway's authenticated path.
type API struct {
	gw *gateway.Gateway
}

func NewAPI(gw *gateway.Gateway) *API {
	return &API{gw: gw}
}

func (a *API) SendOtp(ctx context.Context, mobile string) error {
	return a.call(ctx, false, gateway.Request{Method: http.MethodPost, Path: PathSendOtp, Body: sendOtpRequest{Mobile: mobile}}, nil)
}

func (a *API) VerifyOtp(ctx context.Context, mobile, otp string, rememberMe bool) (VerifyResult, error) {
	var out VerifyResult
	err := a.call(ctx, false, gateway.Request{
		Method: http.MethodPost,
		Path:   PathVerifyOtp,
		Body:   verifyOtpRequest{Mobile: mobile, Otp: otp, RememberMe: rememberMe},
	}, &out)
	return out, err
}

// RefreshToken exchanges a refresh token. It satisfies refresh.Client.
func (a *API) RefreshToken(ctx context.Context, refreshToken string) (model.CredentialPair, error) {
	var out model.CredentialPair
	err := a.call(ctx, false, gateway.Request{
		Method: http.MethodPost,
		Path:   PathRefreshToken,
		Body:   refreshRequest{RefreshToken: refreshToken},
	}, &out)
	return out, err
}

func (a *API) GuestLogin(ctx context.Context, deviceID string) (AuthResult, error) {
	var out AuthResult
	err := a.call(ctx, false, gateway.Request{
		Method: http.MethodPost,
		Path:   PathGuestLogin,
		Body:   guestLoginRequest{DeviceID: deviceID},
	}, &out)
	return out, err
}

func (a *API) ConvertGuest(ctx context.Context, mobile, otp string) (AuthResult, error) {
	var out AuthResult
	err := a.call(ctx, true, gateway.Request{
		Method: http.MethodPost,
		Path:   PathConvertGuest,
		Body:   convertGuestRequest{Mobile: mobile, Otp: otp},
	}, &out)
	return out, err
}

func (a *API) DeleteGuest(ctx context.Context) error {
	return a.call(ctx, true, gateway.Request{Method: http.MethodDelete, Path: PathDeleteGuest}, nil)
}

func (a *API) IsGuest(ctx context.Context) (bool, error) {
	var out struct {
		IsGuest bool `json:"isGuest"`
	}
	err := a.call(ctx, true, gateway.Request{Method: http.MethodGet, Path: PathIsGuest}, &out)
	return out.IsGuest, err
}

// Register submits the profile of a new account using the
// registration-scoped pair.
func (a *API) Register(ctx context.Context, profile model.Profile) (AuthResult, error) {
	var out AuthResult
	err := a.call(ctx, true, gateway.Request{Method: http.MethodPost, Path: PathRegister, Body: profile}, &out)
	return out, err
}

func (a *API) Logout(ctx context.Context) error {
	return a.call(ctx, true, gateway.Request{Method: http.MethodPost, Path: PathLogout}, nil)
}

func (a *API) Me(ctx context.Context) (model.UserRecord, error) {
	var out struct {
		User model.UserRecord `json:"user"`
	}
	err := a.call(ctx, true, gateway.Request{Method: http.MethodGet, Path: PathMe}, &out)
	return out.User, err
}

func (a *API) VerifyToken(ctx context.Context) (TokenStatus, error) {
	var out TokenStatus
	err := a.call(ctx, true, gateway.Request{Method: http.MethodGet, Path: PathVerifyToken}, &out)
	return out, err
}

func (a *API) UpdateFCMToken(ctx context.Context, token string) error {
	return a.call(ctx, true, gateway.Request{Method: http.MethodPut, Path: PathFCMToken, Body: fcmTokenRequest{FCMToken: token}}, nil)
}

func (a *API) call(ctx context.Context, authenticated bool, req gateway.Request, out any) error {
	var (
		resp *gateway.Response
		err  error
	)
	if authenticated {
		resp, err = a.gw.Send(ctx, req)
	} else {
		resp, err = a.gw.Raw(ctx, req)
	}
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return apperr.Wrap(apperr.KindServer, req.Method+" "+req.Path, err)
	}
	return nil
}
