package auth

import (
	"strings"

	"github.com/glaucare/glaucare/internal/apperr"
)

const (
	mobileLength = 10
	otpLength    = 6
)

// ValidateMobile accepts exactly ten ASCII digits.
func ValidateMobile(mobile string) error {
	if !digits(mobile, mobileLength) {
		return apperr.Validation("validate mobile", "mobile number must be exactly 10 digits")
	}
	return nil
}

// ValidateOtp accepts exactly six ASCII digits.
func ValidateOtp(otp string) error {
	if !digits(otp, otpLength) {
		return apperr.Validation("validate otp", "otp must be exactly 6 digits")
	}
	return nil
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) == -1
}
