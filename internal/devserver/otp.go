package devserver

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidOTP = errors.New("invalid or expired otp")

const otpKeyPrefix = "otp:v1:"

// OTPStore holds one hashed code per mobile number.
type OTPStore interface {
	Put(ctx context.Context, mobile string, hash []byte, ttl time.Duration) error
	// Get returns nil when no code is pending.
	Get(ctx context.Context, mobile string) ([]byte, error)
	Delete(ctx context.Context, mobile string) error
}

// CodeSender delivers a code to a mobile number.
type CodeSender interface {
	Send(ctx context.Context, mobile, code string) error
}

// LogSender writes codes to the log instead of sending an SMS.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, mobile, code string) error {
	if s.Logger != nil {
		s.Logger.Info("otp issued", slog.String("mobile", mobile), slog.String("code", code))
	}
	return nil
}

// OTPService issues and checks one-time codes.
type OTPService struct {
	store    OTPStore
	sender   CodeSender
	ttl      time.Duration
	generate func() (string, error)
}

func NewOTPService(store OTPStore, sender CodeSender, ttl time.Duration) *OTPService {
	return &OTPService{store: store, sender: sender, ttl: ttl, generate: randomCode}
}

// Issue replaces any pending code for mobile with a fresh one and sends it.
func (s *OTPService) Issue(ctx context.Context, mobile string) error {
	code, err := s.generate()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, mobile, hash, s.ttl); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	return s.sender.Send(ctx, mobile, code)
}

// Verify checks code against the pending one and consumes it on success.
func (s *OTPService) Verify(ctx context.Context, mobile, code string) error {
	hash, err := s.store.Get(ctx, mobile)
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}
	if hash == nil {
		return ErrInvalidOTP
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(code)); err != nil {
		return ErrInvalidOTP
	}
	return s.store.Delete(ctx, mobile)
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

type redisOTPStore struct {
	cache *redis.Client
}

// NewRedisOTPStore keeps codes in Redis with the TTL set on the key.
func NewRedisOTPStore(cache *redis.Client) OTPStore {
	return &redisOTPStore{cache: cache}
}

func (r *redisOTPStore) Put(ctx context.Context, mobile string, hash []byte, ttl time.Duration) error {
	return r.cache.Set(ctx, otpKeyPrefix+mobile, hash, ttl).Err()
}

func (r *redisOTPStore) Get(ctx context.Context, mobile string) ([]byte, error) {
	hash, err := r.cache.Get(ctx, otpKeyPrefix+mobile).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return hash, err
}

func (r *redisOTPStore) Delete(ctx context.Context, mobile string) error {
	return r.cache.Del(ctx, otpKeyPrefix+mobile).Err()
}

type memoryOTP struct {
	hash    []byte
	expires time.Time
}

type memoryOTPStore struct {
	mu    sync.Mutex
	codes map[string]memoryOTP
	now   func() time.Time
}

// NewMemoryOTPStore keeps codes in memory.
func NewMemoryOTPStore(now func() time.Time) OTPStore {
	if now == nil {
		now = time.Now
	}
	return &memoryOTPStore{codes: make(map[string]memoryOTP), now: now}
}

func (m *memoryOTPStore) Put(_ context.Context, mobile string, hash []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[mobile] = memoryOTP{hash: hash, expires: m.now().Add(ttl)}
	return nil
}

func (m *memoryOTPStore) Get(_ context.Context, mobile string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.codes[mobile]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(entry.expires) {
		delete(m.codes, mobile)
		return nil, nil
	}
	return entry.hash, nil
}

func (m *memoryOTPStore) Delete(_ context.Context, mobile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, mobile)
	return nil
}
