package devserver

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/glaucare/glaucare/internal/model"
)

// Handler exposes the auth and user endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type mobileRequest struct {
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

type fcmTokenRequest struct {
	FCMToken string `json:"fcmToken"`
}

type authResponse struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	User         model.UserRecord `json:"user"`
}

type verifyResponse struct {
	authResponse
	RequiresRegistration bool `json:"requiresRegistration"`
}

func newAuthResponse(out Outcome) authResponse {
	return authResponse{AccessToken: out.Pair.AccessToken, RefreshToken: out.Pair.RefreshToken, User: out.User.Record()}
}

func (h *Handler) SendOtp(c *fiber.Ctx) error {
	var req mobileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SendOtp(c.UserContext(), req.Mobile); err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "otp sent"})
}

func (h *Handler) VerifyOtp(c *fiber.Ctx) error {
	var req verifyOtpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.VerifyOtp(c.UserContext(), req.Mobile, req.Otp)
	if err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(verifyResponse{authResponse: newAuthResponse(out), RequiresRegistration: out.RequiresRegistration})
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	pair, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(pair)
}

func (h *Handler) GuestLogin(c *fiber.Ctx) error {
	var req guestLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.GuestLogin(c.UserContext(), req.DeviceID)
	if err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(newAuthResponse(out))
}

func (h *Handler) ConvertGuest(c *fiber.Ctx) error {
	user, _ := currentUser(c)
	var req verifyOtpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.ConvertGuest(c.UserContext(), user.ID, req.Mobile, req.Otp)
	if err != nil {
		// 401 on this route means the bearer was rejected; a bad code is not that
		if errors.Is(err, ErrInvalidOTP) {
			return fiber.NewError(http.StatusForbidden, err.Error())
		}
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(newAuthResponse(out))
}

func (h *Handler) DeleteGuest(c *fiber.Ctx) error {
	user, _ := currentUser(c)
	if err := h.svc.DeleteGuest(c.UserContext(), user.ID); err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "guest deleted"})
}

func (h *Handler) IsGuest(c *fiber.Ctx) error {
	user, _ := currentUser(c)
	return c.Status(http.StatusOK).JSON(fiber.Map{"isGuest": user.IsGuest})
}

func (h *Handler) Register(c *fiber.Ctx) error {
	user, _ := currentUser(c)
	var profile model.Profile
	if err := c.BodyParser(&profile); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Register(c.UserContext(), user.ID, profile)
	if err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusCreated).JSON(newAuthResponse(out))
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	user, _ := currentUser(c)
	if err := h.svc.Logout(c.UserContext(), user.ID); err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "logged out"})
}

func (h *Handler) Me(c *fiber.Ctx) error {
	user, _ := currentUser(c)
	return c.Status(http.StatusOK).JSON(fiber.Map{"user": user.Record()})
}

func (h *Handler) VerifyToken(c *fiber.Ctx) error {
	user, _ := currentUser(c)
	return c.Status(http.StatusOK).JSON(fiber.Map{"valid": true, "userId": user.ID, "isGuest": user.IsGuest})
}

func (h *Handler) UpdateFCMToken(c *fiber.Ctx) error {
	user, _ := currentUser(c)
	var req fcmTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.FCMToken == "" {
		return fiber.NewError(http.StatusBadRequest, "fcmToken is required")
	}
	if err := h.svc.UpdateFCMToken(c.UserContext(), user.ID, req.FCMToken); err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "fcm token updated"})
}

// statusError maps service errors to HTTP statuses.
func statusError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidMobile), errors.Is(err, ErrDeviceRequired), errors.Is(err, ErrFullnameRequired):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidOTP), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenReused), errors.Is(err, ErrUserNotFound):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrNotGuest):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrMobileTaken), errors.Is(err, ErrAlreadyRegistered):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return err
	}
}

// errorHandler renders errors as {"message": ...}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	message := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"message": message})
}
