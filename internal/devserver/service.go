package devserver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glaucare/glaucare/internal/logging"
	"github.com/glaucare/glaucare/internal/model"
)

var (
	ErrInvalidMobile     = errors.New("mobile number must be exactly 10 digits")
	ErrDeviceRequired    = errors.New("deviceId is required")
	ErrFullnameRequired  = errors.New("fullname is required")
	ErrNotGuest          = errors.New("account is not a guest")
	ErrAlreadyRegistered = errors.New("account already registered")
	ErrTokenReused       = errors.New("refresh token already used")
)

// Outcome is the result of any call that issues credentials.
type Outcome struct {
	Pair                 model.CredentialPair
	User                 User
	RequiresRegistration bool
}

// Service implements the backend's account and token rules.
type Service struct {
	users    Repository
	otps     *OTPService
	tokens   *TokenService
	consumed ConsumedTokens
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(users Repository, otps *OTPService, tokens *TokenService, consumed ConsumedTokens, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{users: users, otps: otps, tokens: tokens, consumed: consumed, now: now, logger: logging.OrDiscard(logger)}
}

// SendOtp issues a code for mobile.
func (s *Service) SendOtp(ctx context.Context, mobile string) error {
	if !validMobile(mobile) {
		return ErrInvalidMobile
	}
	return s.otps.Issue(ctx, mobile)
}

// VerifyOtp signs in the owner of mobile. An unknown number gets a new
// unregistered account and a registration-scoped pair.
func (s *Service) VerifyOtp(ctx context.Context, mobile, code string) (Outcome, error) {
	if !validMobile(mobile) {
		return Outcome{}, ErrInvalidMobile
	}
	if err := s.otps.Verify(ctx, mobile, code); err != nil {
		return Outcome{}, err
	}

	user, err := s.users.FindByMobile(ctx, mobile)
	if errors.Is(err, ErrUserNotFound) {
		user = User{ID: uuid.NewString(), Mobile: mobile, CreatedAt: s.now().UTC()}
		if err := s.users.Create(ctx, user); err != nil {
			return Outcome{}, err
		}
		s.logger.Info("account created", slog.String("user_id", user.ID))
	} else if err != nil {
		return Outcome{}, err
	}

	pair, err := s.tokens.Issue(user, scopeFor(user))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Pair: pair, User: user, RequiresRegistration: !user.Registered}, nil
}

// Register completes the profile of an unregistered account. Registration
// tokens stop working once it succeeds.
func (s *Service) Register(ctx context.Context, userID string, profile model.Profile) (Outcome, error) {
	if strings.TrimSpace(profile.Fullname) == "" {
		return Outcome{}, ErrFullnameRequired
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if user.Registered {
		return Outcome{}, ErrAlreadyRegistered
	}
	user.Fullname = profile.Fullname
	user.Email = profile.Email
	user.LanguagePreference = profile.LanguagePreference
	user.DateOfBirth = profile.DateOfBirth
	user.Gender = profile.Gender
	user.Registered = true
	user.TokenVersion++
	if err := s.users.Update(ctx, user); err != nil {
		return Outcome{}, err
	}
	return s.issue(user)
}

// Refresh exchanges a refresh token for a new pair. Each refresh token can be
// exchanged once; a replay fails with ErrTokenReused.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (model.CredentialPair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return model.CredentialPair{}, err
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return model.CredentialPair{}, ErrInvalidToken
	}
	if user.TokenVersion != claims.Version {
		return model.CredentialPair{}, ErrInvalidToken
	}
	first, err := s.consumed.Consume(ctx, claims.ID, s.tokens.RefreshTTL())
	if err != nil {
		return model.CredentialPair{}, err
	}
	if !first {
		s.logger.Warn("refresh token replayed", slog.String("user_id", user.ID), slog.String("jti", claims.ID))
		return model.CredentialPair{}, ErrTokenReused
	}
	return s.tokens.Issue(user, scopeFor(user))
}

// GuestLogin signs in the guest account of deviceID, creating it on first
// use.
func (s *Service) GuestLogin(ctx context.Context, deviceID string) (Outcome, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Outcome{}, ErrDeviceRequired
	}
	user, err := s.users.FindGuestByDevice(ctx, deviceID)
	if errors.Is(err, ErrUserNotFound) {
		user = User{ID: uuid.NewString(), IsGuest: true, DeviceID: deviceID, CreatedAt: s.now().UTC()}
		if err := s.users.Create(ctx, user); err != nil {
			return Outcome{}, err
		}
		s.logger.Info("guest created", slog.String("user_id", user.ID))
	} else if err != nil {
		return Outcome{}, err
	}
	return s.issue(user)
}

// ConvertGuest binds a guest account to mobile after checking the OTP. The
// guest's tokens stop working.
func (s *Service) ConvertGuest(ctx context.Context, userID, mobile, code string) (Outcome, error) {
	if !validMobile(mobile) {
		return Outcome{}, ErrInvalidMobile
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if !user.IsGuest {
		return Outcome{}, ErrNotGuest
	}
	if err := s.otps.Verify(ctx, mobile, code); err != nil {
		return Outcome{}, err
	}
	if owner, err := s.users.FindByMobile(ctx, mobile); err == nil && owner.ID != user.ID {
		return Outcome{}, ErrMobileTaken
	} else if err != nil && !errors.Is(err, ErrUserNotFound) {
		return Outcome{}, err
	}

	user.Mobile = mobile
	user.IsGuest = false
	user.Registered = true
	user.TokenVersion++
	if err := s.users.Update(ctx, user); err != nil {
		return Outcome{}, err
	}
	return s.issue(user)
}

// DeleteGuest removes a guest account.
func (s *Service) DeleteGuest(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsGuest {
		return ErrNotGuest
	}
	return s.users.Delete(ctx, userID)
}

// Logout bumps the token version so every outstanding token is rejected.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	user.TokenVersion++
	return s.users.Update(ctx, user)
}

func (s *Service) Me(ctx context.Context, userID string) (User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *Service) UpdateFCMToken(ctx context.Context, userID, token string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	user.FCMToken = token
	return s.users.Update(ctx, user)
}

// Authorize verifies a bearer token and loads its user. A token issued
// before the user's last version bump is rejected.
func (s *Service) Authorize(ctx context.Context, token string) (*Claims, User, error) {
	claims, err := s.tokens.ParseAccess(token)
	if err != nil {
		return nil, User{}, err
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, User{}, ErrInvalidToken
	}
	if user.TokenVersion != claims.Version {
		return nil, User{}, ErrInvalidToken
	}
	return claims, user, nil
}

func (s *Service) issue(user User) (Outcome, error) {
	pair, err := s.tokens.Issue(user, scopeFor(user))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Pair: pair, User: user}, nil
}

func scopeFor(user User) string {
	if user.IsGuest || user.Registered {
		return ScopeAccess
	}
	return ScopeRegistration
}

func validMobile(mobile string) bool {
	if len(mobile) != 10 {
		return false
	}
	for _, r := range mobile {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
