package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/glaucare/glaucare/internal/config"
	"github.com/glaucare/glaucare/internal/logging"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) Send(_ context.Context, mobile, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[mobile] = code
	return nil
}

func (s *captureSender) code(mobile string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[mobile]
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	app    *fiber.App
	sender *captureSender
	clock  *testClock
}

func testConfig() config.Config {
	return config.Config{
		AppName:         "glaucare-test",
		AppEnv:          "test",
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		OTPTTL:          5 * time.Minute,
		OTPRateLimit:    3,
	}
}

func newFixture(t *testing.T, cache *redis.Client) *fixture {
	t.Helper()
	f := &fixture{sender: &captureSender{}, clock: &testClock{t: time.Now()}}
	srv, err := New(context.Background(), Deps{
		Cfg:    testConfig(),
		Cache:  cache,
		Logger: logging.Discard(),
		Sender: f.sender,
		Now:    f.clock.Now,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	f.app = srv.App()
	return f
}

func (f *fixture) call(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	payload, _ := io.ReadAll(resp.Body)
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &out)
	}
	return resp.StatusCode, out
}

// signIn runs send-otp and verify-otp and returns the verify body.
func (f *fixture) signIn(t *testing.T, mobile string) map[string]any {
	t.Helper()
	if status, body := f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": mobile}); status != http.StatusOK {
		t.Fatalf("send-otp: %d %v", status, body)
	}
	status, body := f.call(t, fiber.MethodPost, "/auth/verify-otp", "", map[string]any{"mobile": mobile, "otp": f.sender.code(mobile), "rememberMe": true})
	if status != http.StatusOK {
		t.Fatalf("verify-otp: %d %v", status, body)
	}
	return body
}

// registered signs in and completes registration, returning the final pair.
func (f *fixture) registered(t *testing.T, mobile string) (string, string) {
	t.Helper()
	body := f.signIn(t, mobile)
	status, reg := f.call(t, fiber.MethodPost, "/auth/register", body["accessToken"].(string), map[string]string{"fullname": "Asha Rao"})
	if status != http.StatusCreated {
		t.Fatalf("register: %d %v", status, reg)
	}
	return reg["accessToken"].(string), reg["refreshToken"].(string)
}

func TestNewAccountRequiresRegistration(t *testing.T) {
	f := newFixture(t, nil)
	body := f.signIn(t, "9876543210")
	if body["requiresRegistration"] != true {
		t.Fatalf("expected requiresRegistration, got %v", body)
	}
	regToken := body["accessToken"].(string)

	if status, _ := f.call(t, fiber.MethodGet, "/auth/me", regToken, nil); status != http.StatusForbidden {
		t.Fatalf("registration token must not reach /auth/me, got %d", status)
	}

	status, reg := f.call(t, fiber.MethodPost, "/auth/register", regToken, map[string]string{"fullname": "Asha Rao", "languagePreference": "en"})
	if status != http.StatusCreated {
		t.Fatalf("register: %d %v", status, reg)
	}
	user := reg["user"].(map[string]any)
	if user["mobile"] != "9876543210" || user["fullname"] != "Asha Rao" || user["isGuest"] != false {
		t.Fatalf("unexpected user %v", user)
	}

	status, me := f.call(t, fiber.MethodGet, "/auth/me", reg["accessToken"].(string), nil)
	if status != http.StatusOK {
		t.Fatalf("me: %d %v", status, me)
	}

	// the old registration token was invalidated by registering
	if status, _ := f.call(t, fiber.MethodPost, "/auth/register", regToken, map[string]string{"fullname": "x"}); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale registration token, got %d", status)
	}

	again := f.signIn(t, "9876543210")
	if again["requiresRegistration"] != false {
		t.Fatalf("existing account should sign in directly, got %v", again)
	}
}

func TestVerifyOtpRejectsWrongCode(t *testing.T) {
	f := newFixture(t, nil)
	f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "9876543210"})
	wrong := "000000"
	if f.sender.code("9876543210") == wrong {
		wrong = "111111"
	}
	status, body := f.call(t, fiber.MethodPost, "/auth/verify-otp", "", map[string]any{"mobile": "9876543210", "otp": wrong})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if body["message"] == "" {
		t.Fatalf("expected message body")
	}
}

func TestOtpExpires(t *testing.T) {
	f := newFixture(t, nil)
	f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "9876543210"})
	f.clock.Advance(6 * time.Minute)
	status, _ := f.call(t, fiber.MethodPost, "/auth/verify-otp", "", map[string]any{"mobile": "9876543210", "otp": f.sender.code("9876543210")})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected expired otp to be rejected, got %d", status)
	}
}

func TestSendOtpValidatesMobile(t *testing.T) {
	f := newFixture(t, nil)
	for _, mobile := range []string{"12345", "98765432101", "98765abcde", ""} {
		if status, _ := f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": mobile}); status != http.StatusBadRequest {
			t.Fatalf("mobile %q: expected 400, got %d", mobile, status)
		}
	}
}

func TestRefreshTokenIsOneTimeUse(t *testing.T) {
	f := newFixture(t, nil)
	_, refresh := f.registered(t, "9876543210")

	status, pair := f.call(t, fiber.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": refresh})
	if status != http.StatusOK {
		t.Fatalf("refresh: %d %v", status, pair)
	}
	if pair["accessToken"] == "" || pair["refreshToken"] == refresh {
		t.Fatalf("expected a new pair, got %v", pair)
	}

	if status, _ := f.call(t, fiber.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": refresh}); status != http.StatusUnauthorized {
		t.Fatalf("replayed refresh token must be rejected, got %d", status)
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	f := newFixture(t, nil)
	access, refresh := f.registered(t, "9876543210")

	f.clock.Advance(2 * time.Minute)
	if status, _ := f.call(t, fiber.MethodGet, "/auth/me", access, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected expired token to be rejected, got %d", status)
	}
	status, pair := f.call(t, fiber.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": refresh})
	if status != http.StatusOK {
		t.Fatalf("refresh: %d", status)
	}
	if status, _ := f.call(t, fiber.MethodGet, "/auth/verify-token", pair["accessToken"].(string), nil); status != http.StatusOK {
		t.Fatalf("refreshed token rejected: %d", status)
	}
}

func TestLogoutInvalidatesTokens(t *testing.T) {
	f := newFixture(t, nil)
	access, refresh := f.registered(t, "9876543210")

	if status, _ := f.call(t, fiber.MethodPost, "/auth/logout", access, nil); status != http.StatusOK {
		t.Fatalf("logout: %d", status)
	}
	if status, _ := f.call(t, fiber.MethodGet, "/auth/me", access, nil); status != http.StatusUnauthorized {
		t.Fatalf("access token should be invalid after logout, got %d", status)
	}
	if status, _ := f.call(t, fiber.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": refresh}); status != http.StatusUnauthorized {
		t.Fatalf("refresh token should be invalid after logout, got %d", status)
	}
}

func TestGuestLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	status, guest := f.call(t, fiber.MethodPost, "/auth/guest-login", "", map[string]string{"deviceId": "device-abc"})
	if status != http.StatusOK {
		t.Fatalf("guest-login: %d %v", status, guest)
	}
	user := guest["user"].(map[string]any)
	if user["isGuest"] != true || user["deviceId"] != "device-abc" {
		t.Fatalf("unexpected guest %v", user)
	}
	token := guest["accessToken"].(string)

	_, isGuest := f.call(t, fiber.MethodGet, "/auth/is-guest", token, nil)
	if isGuest["isGuest"] != true {
		t.Fatalf("expected isGuest, got %v", isGuest)
	}

	f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "9876543210"})
	status, converted := f.call(t, fiber.MethodPost, "/auth/convert-guest", token, map[string]string{"mobile": "9876543210", "otp": f.sender.code("9876543210")})
	if status != http.StatusOK {
		t.Fatalf("convert-guest: %d %v", status, converted)
	}
	cu := converted["user"].(map[string]any)
	if cu["isGuest"] != false || cu["mobile"] != "9876543210" || cu["deviceId"] != "device-abc" || cu["id"] != user["id"] {
		t.Fatalf("unexpected converted user %v", cu)
	}
	if status, _ := f.call(t, fiber.MethodGet, "/auth/me", token, nil); status != http.StatusUnauthorized {
		t.Fatalf("guest token should be invalid after conversion, got %d", status)
	}
	if status, _ := f.call(t, fiber.MethodDelete, "/auth/delete-guest", converted["accessToken"].(string), nil); status != http.StatusForbidden {
		t.Fatalf("registered account cannot be deleted as guest, got %d", status)
	}
}

func TestConvertGuestConflict(t *testing.T) {
	f := newFixture(t, nil)
	f.registered(t, "9876543210")

	_, guest := f.call(t, fiber.MethodPost, "/auth/guest-login", "", map[string]string{"deviceId": "device-abc"})
	f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "9876543210"})
	status, _ := f.call(t, fiber.MethodPost, "/auth/convert-guest", guest["accessToken"].(string), map[string]string{"mobile": "9876543210", "otp": f.sender.code("9876543210")})
	if status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestConvertGuestWrongCodeIsForbidden(t *testing.T) {
	f := newFixture(t, nil)
	_, guest := f.call(t, fiber.MethodPost, "/auth/guest-login", "", map[string]string{"deviceId": "device-abc"})
	token := guest["accessToken"].(string)

	f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "9876543210"})
	code := f.sender.code("9876543210")
	wrong := string('0'+(code[0]-'0'+1)%10) + code[1:]
	status, _ := f.call(t, fiber.MethodPost, "/auth/convert-guest", token, map[string]string{"mobile": "9876543210", "otp": wrong})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 so clients do not refresh, got %d", status)
	}
	if status, _ := f.call(t, fiber.MethodGet, "/auth/is-guest", token, nil); status != http.StatusOK {
		t.Fatalf("guest token should still be valid, got %d", status)
	}
}

func TestDeleteGuest(t *testing.T) {
	f := newFixture(t, nil)
	_, guest := f.call(t, fiber.MethodPost, "/auth/guest-login", "", map[string]string{"deviceId": "device-abc"})
	token := guest["accessToken"].(string)

	if status, _ := f.call(t, fiber.MethodDelete, "/auth/delete-guest", token, nil); status != http.StatusOK {
		t.Fatalf("delete-guest: %d", status)
	}
	if status, _ := f.call(t, fiber.MethodGet, "/auth/is-guest", token, nil); status != http.StatusUnauthorized {
		t.Fatalf("deleted guest token should be rejected, got %d", status)
	}
}

func TestUpdateFCMToken(t *testing.T) {
	f := newFixture(t, nil)
	access, _ := f.registered(t, "9876543210")
	if status, _ := f.call(t, fiber.MethodPut, "/users/fcm-token", access, map[string]string{"fcmToken": "fcm-1"}); status != http.StatusOK {
		t.Fatalf("fcm-token: %d", status)
	}
	if status, _ := f.call(t, fiber.MethodPut, "/users/fcm-token", access, map[string]string{}); status != http.StatusBadRequest {
		t.Fatalf("empty fcm token: expected 400, got %d", status)
	}
	if status, _ := f.call(t, fiber.MethodPut, "/users/fcm-token", "", map[string]string{"fcmToken": "fcm-1"}); status != http.StatusUnauthorized {
		t.Fatalf("missing bearer: expected 401, got %d", status)
	}
}

func TestRedisBackedStores(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	f := newFixture(t, cache)
	_, refresh := f.registered(t, "9876543210")
	if mr.Exists(otpKeyPrefix + "9876543210") {
		t.Fatalf("otp should be consumed after verification")
	}

	if status, _ := f.call(t, fiber.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": refresh}); status != http.StatusOK {
		t.Fatalf("refresh: %d", status)
	}
	if status, _ := f.call(t, fiber.MethodPost, "/auth/refresh-token", "", map[string]string{"refreshToken": refresh}); status != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", status)
	}
}

func TestOtpRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	f := newFixture(t, cache)
	for i := 0; i < 3; i++ {
		if status, _ := f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "9876543210"}); status != http.StatusOK {
			t.Fatalf("send %d: %d", i, status)
		}
	}
	if status, _ := f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "9876543210"}); status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	mr.FastForward(time.Minute)
	if status, _ := f.call(t, fiber.MethodPost, "/auth/send-otp", "", map[string]string{"mobile": "9876543210"}); status != http.StatusOK {
		t.Fatalf("limit should reset after a minute, got %d", status)
	}
}
