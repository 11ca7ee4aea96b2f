// Package auth drives the session through the backend's authentication
// endpoints: OTP sign-in, registration, guest accounts and logout.
package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/glaucare/glaucare/internal/apperr"
	"github.com/glaucare/glaucare/internal/logging"
	"github.com/glaucare/glaucare/internal/model"
	"github.com/glaucare/glaucare/internal/notification"
	"github.com/glaucare/glaucare/internal/session"
)

// Service is the OTP authentication flow plus the calls available to a
// signed-in user.
type Service struct {
	api     *API
	machine *session.Machine
	bus     *notification.Broadcaster
	logger  *slog.Logger
}

func NewService(api *API, machine *session.Machine, bus *notification.Broadcaster, logger *slog.Logger) *Service {
	return &Service{api: api, machine: machine, bus: bus, logger: logging.OrDiscard(logger)}
}

// SendOtp requests an OTP for mobile and moves to OtpPending.
func (s *Service) SendOtp(ctx context.Context, mobile string) error {
	if err := ValidateMobile(mobile); err != nil {
		return err
	}
	if err := s.machine.Allowed(session.EventSendOtp); err != nil {
		return err
	}
	if err := s.api.SendOtp(ctx, mobile); err != nil {
		return err
	}
	return s.machine.BeginOtp(mobile)
}

// AbandonOtp returns to Unauthenticated without verifying.
func (s *Service) AbandonOtp() error {
	return s.machine.AbandonOtp()
}

// VerifyOtp checks the code and returns the resulting phase: Authenticated
// for an existing account, RequiresRegistration for a new one.
func (s *Service) VerifyOtp(ctx context.Context, mobile, otp string, rememberMe bool) (session.Phase, error) {
	if err := ValidateMobile(mobile); err != nil {
		return s.machine.Phase(), err
	}
	if err := ValidateOtp(otp); err != nil {
		return s.machine.Phase(), err
	}
	if err := s.machine.Allowed(session.EventVerifyExisting); err != nil {
		return s.machine.Phase(), err
	}
	if pending := s.machine.State().PendingMobile; pending != mobile {
		return s.machine.Phase(), apperr.New(apperr.KindInvalidTransition, "verify otp", "no otp pending for this mobile number")
	}

	res, err := s.api.VerifyOtp(ctx, mobile, otp, rememberMe)
	if err != nil {
		return s.machine.Phase(), err
	}

	out := session.OtpOutcome{
		Mobile:               mobile,
		User:                 res.User,
		RequiresRegistration: res.RequiresRegistration,
		RememberMe:           rememberMe,
	}
	if pair := res.Pair(); pair.Valid() {
		out.Pair = &pair
	} else if !res.RequiresRegistration {
		return s.machine.Phase(), apperr.New(apperr.KindServer, "verify otp", "response missing credentials")
	}
	if err := s.machine.CompleteOtp(ctx, out); err != nil {
		return s.machine.Phase(), err
	}
	return s.machine.Phase(), nil
}

// CompleteRegistration submits the profile of a new account.
func (s *Service) CompleteRegistration(ctx context.Context, profile model.Profile) (model.UserRecord, error) {
	if strings.TrimSpace(profile.Fullname) == "" {
		return model.UserRecord{}, apperr.Validation("complete registration", "fullname is required")
	}
	if err := s.machine.Allowed(session.EventCompleteRegistration); err != nil {
		return model.UserRecord{}, err
	}
	res, err := s.api.Register(ctx, profile)
	if err != nil {
		return model.UserRecord{}, err
	}
	if !res.Pair().Valid() {
		return model.UserRecord{}, apperr.New(apperr.KindServer, "complete registration", "response missing credentials")
	}
	if err := s.machine.CompleteRegistration(ctx, res.Pair(), res.User); err != nil {
		return model.UserRecord{}, err
	}
	user, _ := s.machine.User()
	return user, nil
}

// Logout tells the backend and then broadcasts force logout. The local
// session ends even when the backend call fails; that failure is returned.
func (s *Service) Logout(ctx context.Context) error {
	err := s.api.Logout(ctx)
	if err != nil {
		s.logger.Warn("logout: backend call failed", slog.Any("error", err))
	}
	s.bus.Broadcast(ctx, notification.ForceLogout{Reason: notification.ReasonLogout})
	return err
}

// Restore rebuilds the session from the credential store.
func (s *Service) Restore(ctx context.Context) (session.Phase, error) {
	return s.machine.Restore(ctx)
}

func (s *Service) State() session.State {
	return s.machine.State()
}

func (s *Service) Me(ctx context.Context) (model.UserRecord, error) {
	return s.api.Me(ctx)
}

func (s *Service) VerifyToken(ctx context.Context) (TokenStatus, error) {
	return s.api.VerifyToken(ctx)
}

func (s *Service) UpdateFCMToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.Validation("update fcm token", "fcm token is required")
	}
	return s.api.UpdateFCMToken(ctx, token)
}
