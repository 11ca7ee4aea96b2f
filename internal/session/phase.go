package session

import (
	"fmt"

	"github.com/glaucare/glaucare/internal/apperr"
)

// Phase is the authentication phase of the process. Exactly one is active.
type Phase int

const (
	Unauthenticated Phase = iota
	OtpPending
	Authenticated
	RequiresRegistration
	Guest
)

// Phases lists every phase, in declaration order.
var Phases = []Phase{Unauthenticated, OtpPending, Authenticated, RequiresRegistration, Guest}

func (p Phase) String() string {
	switch p {
	case Unauthenticated:
		return "unauthenticated"
	case OtpPending:
		return "otp_pending"
	case Authenticated:
		return "authenticated"
	case RequiresRegistration:
		return "requires_registration"
	case Guest:
		return "guest"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Event is a request to move between phases.
type Event int

const (
	EventSendOtp Event = iota
	EventAbandonOtp
	EventVerifyNewAccount
	EventVerifyExisting
	EventGuestLogin
	EventConvertGuest
	EventDeleteGuest
	EventCompleteRegistration
	EventRestoreUser
	EventRestoreGuest
	EventForceLogout
)

// Events lists every event, in declaration order.
var Events = []Event{
	EventSendOtp, EventAbandonOtp, EventVerifyNewAccount, EventVerifyExisting,
	EventGuestLogin, EventConvertGuest, EventDeleteGuest, EventCompleteRegistration,
	EventRestoreUser, EventRestoreGuest, EventForceLogout,
}

func (e Event) String() string {
	switch e {
	case EventSendOtp:
		return "send_otp"
	case EventAbandonOtp:
		return "abandon_otp"
	case EventVerifyNewAccount:
		return "verify_new_account"
	case EventVerifyExisting:
		return "verify_existing"
	case EventGuestLogin:
		return "guest_login"
	case EventConvertGuest:
		return "convert_guest"
	case EventDeleteGuest:
		return "delete_guest"
	case EventCompleteRegistration:
		return "complete_registration"
	case EventRestoreUser:
		return "restore_user"
	case EventRestoreGuest:
		return "restore_guest"
	case EventForceLogout:
		return "force_logout"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// transitions is the complete phase table. Force logout is legal everywhere
// and is handled in Next.
var transitions = map[Phase]map[Event]Phase{
	Unauthenticated: {
		EventSendOtp:      OtpPending,
		EventGuestLogin:   Guest,
		EventRestoreUser:  Authenticated,
		EventRestoreGuest: Guest,
	},
	OtpPending: {
		EventSendOtp:          OtpPending,
		EventAbandonOtp:       Unauthenticated,
		EventVerifyNewAccount: RequiresRegistration,
		EventVerifyExisting:   Authenticated,
	},
	Guest: {
		EventConvertGuest: Authenticated,
		EventDeleteGuest:  Unauthenticated,
	},
	RequiresRegistration: {
		EventCompleteRegistration: Authenticated,
	},
	Authenticated: {},
}

// Next returns the phase reached by applying ev in from, or an
// apperr.KindInvalidTransition error when the table has no such edge.
func Next(from Phase, ev Event) (Phase, error) {
	if ev == EventForceLogout {
		return Unauthenticated, nil
	}
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, apperr.New(apperr.KindInvalidTransition, "session",
		fmt.Sprintf("%s is not allowed in phase %s", ev, from))
}
