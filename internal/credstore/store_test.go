package credstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/glaucare/glaucare/internal/apperr"
	"github.com/glaucare/glaucare/internal/model"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func backends(t *testing.T) map[string]Store {
	_, client := setupRedis(t)
	return map[string]Store{
		"memory": NewMemory(),
		"file":   NewFile(filepath.Join(t.TempDir(), "nested", "session.json")),
		"redis":  NewRedis(client, "test"),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			loaded, err := store.LoadCredentials(ctx)
			if err != nil || loaded != nil {
				t.Fatalf("expected absent credentials, got %+v, %v", loaded, err)
			}

			pair := model.CredentialPair{AccessToken: "access-1", RefreshToken: "refresh-1"}
			if err := store.SaveCredentials(ctx, pair); err != nil {
				t.Fatalf("save: %v", err)
			}
			loaded, err = store.LoadCredentials(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded == nil || *loaded != pair {
				t.Fatalf("expected %+v, got %+v", pair, loaded)
			}

			user := model.UserRecord{ID: "u1", IsGuest: true, DeviceID: "device-abc"}
			if err := store.SaveUser(ctx, user); err != nil {
				t.Fatalf("save user: %v", err)
			}
			gotUser, err := store.LoadUser(ctx)
			if err != nil || gotUser == nil || *gotUser != user {
				t.Fatalf("expected %+v, got %+v (%v)", user, gotUser, err)
			}

			if err := store.SaveRememberMe(ctx, true); err != nil {
				t.Fatalf("save remember me: %v", err)
			}
			if remember, err := store.LoadRememberMe(ctx); err != nil || !remember {
				t.Fatalf("expected remember me, got %v (%v)", remember, err)
			}

			if err := store.ClearCredentials(ctx); err != nil {
				t.Fatalf("clear credentials: %v", err)
			}
			if loaded, _ := store.LoadCredentials(ctx); loaded != nil {
				t.Fatalf("expected absent after clear, got %+v", loaded)
			}
			if gotUser, _ := store.LoadUser(ctx); gotUser == nil {
				t.Fatal("clearing credentials must not drop the user")
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if gotUser, _ := store.LoadUser(ctx); gotUser != nil {
				t.Fatalf("expected user cleared, got %+v", gotUser)
			}
			if remember, _ := store.LoadRememberMe(ctx); remember {
				t.Fatal("expected remember me cleared")
			}
		})
	}
}

func TestStoreRejectsIncompletePair(t *testing.T) {
	store := NewMemory()
	err := store.SaveCredentials(context.Background(), model.CredentialPair{AccessToken: "only"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()
	pair := model.CredentialPair{AccessToken: "a", RefreshToken: "r"}

	if err := NewFile(path).SaveCredentials(ctx, pair); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600 permissions, got %o", perm)
	}

	loaded, err := NewFile(path).LoadCredentials(ctx)
	if err != nil || loaded == nil || *loaded != pair {
		t.Fatalf("expected %+v after reopen, got %+v (%v)", pair, loaded, err)
	}

	if err := NewFile(path).Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected file removed once empty, got %v", err)
	}
}

func TestFileStoreCorruptDocumentIsStorageError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewFile(path).LoadCredentials(context.Background())
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestRedisStoreUnavailableIsStorageError(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedis(client, "")
	mr.Close()

	ctx := context.Background()
	if _, err := store.LoadCredentials(ctx); !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected storage error on load, got %v", err)
	}
	err := store.SaveCredentials(ctx, model.CredentialPair{AccessToken: "a", RefreshToken: "r"})
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected storage error on save, got %v", err)
	}
}

func TestRedisStoreNamespacesKeys(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRedis(client, "device-1")
	ctx := context.Background()

	if err := store.SaveCredentials(ctx, model.CredentialPair{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := mr.Get("device-1:session:accessToken")
	if err != nil || got != "a" {
		t.Fatalf("expected namespaced access token, got %q (%v)", got, err)
	}

	other := NewRedis(client, "device-2")
	if loaded, _ := other.LoadCredentials(ctx); loaded != nil {
		t.Fatalf("namespaces must not share credentials, got %+v", loaded)
	}
}
