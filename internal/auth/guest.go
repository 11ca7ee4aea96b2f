package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/glaucare/glaucare/internal/apperr"
	"github.com/glaucare/glaucare/internal/logging"
	"github.com/glaucare/glaucare/internal/model"
	"github.com/glaucare/glaucare/internal/session"
)

// GuestManager runs the guest account lifecycle: device-scoped sign-in,
// conversion to a registered account, deletion.
type GuestManager struct {
	api     *API
	machine *session.Machine
	logger  *slog.Logger
}

func NewGuestManager(api *API, machine *session.Machine, logger *slog.Logger) *GuestManager {
	return &GuestManager{api: api, machine: machine, logger: logging.OrDiscard(logger)}
}

// GuestLogin starts a guest session bound to deviceID.
func (g *GuestManager) GuestLogin(ctx context.Context, deviceID string) (model.UserRecord, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return model.UserRecord{}, apperr.Validation("guest login", "device id is required")
	}
	if err := g.machine.Allowed(session.EventGuestLogin); err != nil {
		return model.UserRecord{}, err
	}
	res, err := g.api.GuestLogin(ctx, deviceID)
	if err != nil {
		return model.UserRecord{}, err
	}
	if !res.Pair().Valid() {
		return model.UserRecord{}, apperr.New(apperr.KindServer, "guest login", "response missing credentials")
	}
	user := res.User
	if user.DeviceID == "" {
		user.DeviceID = deviceID
	}
	if err := g.machine.EnterGuest(ctx, res.Pair(), user); err != nil {
		return model.UserRecord{}, err
	}
	current, _ := g.machine.User()
	return current, nil
}

// RequestConversionOtp sends the OTP used to convert the guest. The phase
// stays Guest.
func (g *GuestManager) RequestConversionOtp(ctx context.Context, mobile string) error {
	if err := ValidateMobile(mobile); err != nil {
		return err
	}
	if err := g.machine.Allowed(session.EventConvertGuest); err != nil {
		return err
	}
	return g.api.SendOtp(ctx, mobile)
}

// ConvertToUser binds the guest account to mobile. On success the record
// keeps every existing field, gains the mobile number and stops being a
// guest, and the guest pair is replaced.
func (g *GuestManager) ConvertToUser(ctx context.Context, mobile, otp string) (model.UserRecord, error) {
	if err := ValidateMobile(mobile); err != nil {
		return model.UserRecord{}, err
	}
	if err := ValidateOtp(otp); err != nil {
		return model.UserRecord{}, err
	}
	if err := g.machine.Allowed(session.EventConvertGuest); err != nil {
		return model.UserRecord{}, err
	}
	res, err := g.api.ConvertGuest(ctx, mobile, otp)
	if err != nil {
		return model.UserRecord{}, err
	}
	if !res.Pair().Valid() {
		return model.UserRecord{}, apperr.New(apperr.KindServer, "convert guest", "response missing credentials")
	}
	return g.machine.ConvertGuest(ctx, mobile, res.Pair(), res.User)
}

// DeleteGuest deletes the guest account and ends the session. The local
// session is cleared even when the backend call fails; that failure is
// returned.
func (g *GuestManager) DeleteGuest(ctx context.Context) error {
	if err := g.machine.Allowed(session.EventDeleteGuest); err != nil {
		return err
	}
	apiErr := g.api.DeleteGuest(ctx)
	if apiErr != nil {
		g.logger.Warn("delete guest: backend call failed", slog.Any("error", apiErr))
	}
	if err := g.machine.LeaveGuest(ctx); err != nil {
		if apperr.KindOf(err) == apperr.KindInvalidTransition {
			// a failed refresh during the call already logged out
			return apiErr
		}
		return err
	}
	return apiErr
}

// IsGuest asks the backend whether the current credentials belong to a
// guest account.
func (g *GuestManager) IsGuest(ctx context.Context) (bool, error) {
	return g.api.IsGuest(ctx)
}
