// Package session holds the authoritative authentication phase and the
// in-memory user record. Machine is the only writer of both; other packages
// request transitions through its methods and read snapshots.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/glaucare/glaucare/internal/apperr"
	"github.com/glaucare/glaucare/internal/credstore"
	"github.com/glaucare/glaucare/internal/logging"
	"github.com/glaucare/glaucare/internal/model"
)

// State is an immutable snapshot of the machine.
type State struct {
	Phase         Phase
	PendingMobile string
	User          *model.UserRecord
	RememberMe    bool
}

// OtpOutcome is what a successful verify-otp call produced.
type OtpOutcome struct {
	Mobile               string
	Pair                 *model.CredentialPair
	User                 model.UserRecord
	RequiresRegistration bool
	RememberMe           bool
}

// Machine applies phase transitions and persists the credentials and user
// record that go with them. Every transition either completes fully or leaves
// the machine unchanged.
//
// Transitions are serialized by mu, which is held across store writes.
// Readers never take it: they load the snapshot published after the last
// transition.
type Machine struct {
	store  credstore.Store
	logger *slog.Logger

	current atomic.Pointer[State]

	mu        sync.Mutex
	phase     Phase
	pending   string
	user      *model.UserRecord
	remember  bool
	observers []func(State)
}

// New builds a machine in the Unauthenticated phase.
func New(store credstore.Store, logger *slog.Logger) *Machine {
	m := &Machine{store: store, logger: logging.OrDiscard(logger), phase: Unauthenticated}
	m.publishLocked()
	return m
}

// OnChange registers fn to receive a snapshot after every transition. It is
// called outside the machine's lock.
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns a snapshot of the current phase and data. It does not wait
// for a transition in progress.
func (m *Machine) State() State {
	st := *m.current.Load()
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.current.Load().Phase
}

// User returns a copy of the in-memory user record.
func (m *Machine) User() (model.UserRecord, bool) {
	st := m.current.Load()
	if st.User == nil {
		return model.UserRecord{}, false
	}
	return *st.User, true
}

// Allowed reports whether ev is legal in the current phase. Callers check it
// before a backend call whose result they would otherwise have to discard.
func (m *Machine) Allowed(ev Event) error {
	_, err := Next(m.Phase(), ev)
	return err
}

// BeginOtp records that an OTP was sent to mobile. Sending again while an OTP
// is pending replaces the pending number.
func (m *Machine) BeginOtp(mobile string) error {
	return m.transition(EventSendOtp, func() error {
		m.pending = mobile
		return nil
	})
}

// AbandonOtp drops a pending OTP.
func (m *Machine) AbandonOtp() error {
	return m.transition(EventAbandonOtp, func() error {
		m.pending = ""
		return nil
	})
}

// CompleteOtp applies a successful verification. The mobile must match the
// one the OTP was sent to. On full authentication the pair and user record
// are persisted; a new account keeps its registration-scoped pair so that the
// registration call can be authenticated.
func (m *Machine) CompleteOtp(ctx context.Context, out OtpOutcome) error {
	ev := EventVerifyExisting
	if out.RequiresRegistration {
		ev = EventVerifyNewAccount
	}
	return m.transition(ev, func() error {
		if out.Mobile != m.pending {
			return apperr.New(apperr.KindInvalidTransition, "session", "otp was sent to a different mobile number")
		}
		user := out.User
		user.Mobile = out.Mobile
		user.IsGuest = false

		err := m.persist(ctx, func() error {
			if out.Pair != nil {
				if err := m.store.SaveCredentials(ctx, *out.Pair); err != nil {
					return err
				}
			}
			if !out.RequiresRegistration {
				if err := m.store.SaveUser(ctx, user); err != nil {
					return err
				}
			}
			return m.store.SaveRememberMe(ctx, out.RememberMe)
		})
		if err != nil {
			return err
		}
		m.pending = ""
		m.user = &user
		m.remember = out.RememberMe
		return nil
	})
}

// EnterGuest starts a guest session with a freshly issued pair.
func (m *Machine) EnterGuest(ctx context.Context, pair model.CredentialPair, user model.UserRecord) error {
	user.IsGuest = true
	user.Mobile = ""
	return m.transition(EventGuestLogin, func() error {
		err := m.persist(ctx, func() error {
			if err := m.store.SaveCredentials(ctx, pair); err != nil {
				return err
			}
			return m.store.SaveUser(ctx, user)
		})
		if err != nil {
			return err
		}
		m.user = &user
		return nil
	})
}

// ConvertGuest turns the guest into a registered account bound to mobile. The
// existing record is updated in place (see model.UserRecord.ConvertedFrom) and
// the guest pair is replaced. If persisting fails the previous pair is put
// back and the machine stays in Guest.
func (m *Machine) ConvertGuest(ctx context.Context, mobile string, pair model.CredentialPair, server model.UserRecord) (model.UserRecord, error) {
	var converted model.UserRecord
	err := m.transition(EventConvertGuest, func() error {
		prior := model.UserRecord{IsGuest: true}
		if m.user != nil {
			prior = *m.user
		}
		converted = prior.ConvertedFrom(server, mobile)

		if err := m.replace(ctx, pair, converted); err != nil {
			return err
		}
		m.user = &converted
		return nil
	})
	if err != nil {
		return model.UserRecord{}, err
	}
	return converted, nil
}

// LeaveGuest ends a deleted guest session. In-memory state is reset even if
// clearing the store fails; the storage error is still returned.
func (m *Machine) LeaveGuest(ctx context.Context) error {
	var clearErr error
	err := m.transition(EventDeleteGuest, func() error {
		clearErr = m.store.Clear(ctx)
		m.resetLocked()
		return nil
	})
	if err != nil {
		return err
	}
	return clearErr
}

// CompleteRegistration finishes a new account with the pair and record the
// backend returned for the submitted profile.
func (m *Machine) CompleteRegistration(ctx context.Context, pair model.CredentialPair, user model.UserRecord) error {
	return m.transition(EventCompleteRegistration, func() error {
		if user.Mobile == "" && m.user != nil {
			user.Mobile = m.user.Mobile
		}
		user.IsGuest = false
		if err := m.replace(ctx, pair, user); err != nil {
			return err
		}
		m.user = &user
		return nil
	})
}

// Restore rebuilds the session from the credential store at start-up. Read
// failures are treated as "no credentials".
func (m *Machine) Restore(ctx context.Context) (Phase, error) {
	pair, err := m.store.LoadCredentials(ctx)
	if err != nil {
		m.logger.Warn("session: restore credentials", slog.Any("error", err))
		return m.Phase(), nil
	}
	user, err := m.store.LoadUser(ctx)
	if err != nil {
		m.logger.Warn("session: restore user", slog.Any("error", err))
		return m.Phase(), nil
	}
	if pair == nil || user == nil {
		if pair != nil || user != nil {
			m.discardPartial(ctx)
		}
		return m.Phase(), nil
	}
	remember, err := m.store.LoadRememberMe(ctx)
	if err != nil {
		m.logger.Warn("session: restore remember me", slog.Any("error", err))
	}

	ev := EventRestoreUser
	if user.IsGuest {
		ev = EventRestoreGuest
	}
	restored := *user
	if err := m.transition(ev, func() error {
		m.user = &restored
		m.remember = remember
		return nil
	}); err != nil {
		return m.Phase(), err
	}
	return m.Phase(), nil
}

// ForceLogout resets to Unauthenticated from any phase and clears the store.
// Calling it repeatedly has the same effect as calling it once.
func (m *Machine) ForceLogout(ctx context.Context) error {
	var clearErr error
	_ = m.transition(EventForceLogout, func() error {
		clearErr = m.store.Clear(ctx)
		m.resetLocked()
		return nil
	})
	if clearErr != nil {
		m.logger.Error("session: clear store on force logout", slog.Any("error", clearErr))
	}
	return clearErr
}

// transition checks ev against the phase table, runs apply while holding the
// lock and moves to the next phase only if apply succeeds.
func (m *Machine) transition(ev Event, apply func() error) error {
	m.mu.Lock()
	from := m.phase
	to, err := Next(from, ev)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := apply(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.phase = to
	st := m.publishLocked()
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	if from != to {
		m.logger.Info("session transition", slog.String("event", ev.String()), slog.String("from", from.String()), slog.String("to", to.String()))
	}
	for _, fn := range observers {
		fn(st)
	}
	return nil
}

// replace swaps the stored pair and user record of a live session. If the
// user record cannot be written the previous pair is put back.
func (m *Machine) replace(ctx context.Context, pair model.CredentialPair, user model.UserRecord) error {
	previous, err := m.store.LoadCredentials(ctx)
	if err != nil {
		m.logger.Warn("session: load credentials before replace", slog.Any("error", err))
		previous = nil
	}
	if err := m.store.SaveCredentials(ctx, pair); err != nil {
		return err
	}
	if err := m.store.SaveUser(ctx, user); err != nil {
		if previous != nil {
			if rerr := m.store.SaveCredentials(ctx, *previous); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return err
	}
	return nil
}

// persist runs write; on failure it clears whatever part of the write landed
// so that the store never holds half a session.
func (m *Machine) persist(ctx context.Context, write func() error) error {
	if err := write(); err != nil {
		if cerr := m.store.Clear(ctx); cerr != nil {
			m.logger.Error("session: roll back partial write", slog.Any("error", cerr))
		}
		return err
	}
	return nil
}

func (m *Machine) resetLocked() {
	m.pending = ""
	m.user = nil
	m.remember = false
}

// discardPartial clears a store holding only half a session, such as the
// registration pair of a sign-up that never completed. A live session in
// another phase is left alone.
func (m *Machine) discardPartial(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != Unauthenticated {
		return
	}
	m.logger.Info("session: discarding incomplete stored session")
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("session: clear incomplete session", slog.Any("error", err))
	}
}

// publishLocked stores a snapshot for readers and returns a separate copy.
func (m *Machine) publishLocked() State {
	published := m.snapshotLocked()
	m.current.Store(&published)
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() State {
	st := State{Phase: m.phase, PendingMobile: m.pending, RememberMe: m.remember}
	if m.user != nil {
		u := *m.user
		st.User = &u
	}
	return st
}
