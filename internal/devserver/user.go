// Package devserver is a simulated glaucoma-care authentication backend. It
// serves the endpoints the session core consumes and is used by tests and
// local development.
package devserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/glaucare/glaucare/internal/model"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrMobileTaken  = errors.New("mobile already registered")
)

// User is an account as the backend stores it. Guests have no mobile.
type User struct {
	ID                 string
	Mobile             string
	Fullname           string
	Email              string
	LanguagePreference string
	DateOfBirth        string
	Gender             string
	IsGuest            bool
	DeviceID           string
	FCMToken           string
	Registered         bool
	TokenVersion       int
	CreatedAt          time.Time
}

// Record is the wire form of u.
func (u User) Record() model.UserRecord {
	return model.UserRecord{
		ID:                 u.ID,
		Mobile:             u.Mobile,
		Fullname:           u.Fullname,
		Email:              u.Email,
		LanguagePreference: u.LanguagePreference,
		DateOfBirth:        u.DateOfBirth,
		Gender:             u.Gender,
		IsGuest:            u.IsGuest,
		DeviceID:           u.DeviceID,
	}
}

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByMobile(ctx context.Context, mobile string) (User, error)
	FindGuestByDevice(ctx context.Context, deviceID string) (User, error)
	Update(ctx context.Context, user User) error
	Delete(ctx context.Context, id string) error
}

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.Mobile != "" && r.mobileOwnerLocked(user.Mobile, "") {
		return ErrMobileTaken
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByMobile(_ context.Context, mobile string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Mobile == mobile {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepository) FindGuestByDevice(_ context.Context, deviceID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.IsGuest && user.DeviceID == deviceID {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepository) Update(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	if user.Mobile != "" && r.mobileOwnerLocked(user.Mobile, user.ID) {
		return ErrMobileTaken
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *memoryRepository) mobileOwnerLocked(mobile, except string) bool {
	for id, user := range r.users {
		if id != except && user.Mobile == mobile {
			return true
		}
	}
	return false
}
