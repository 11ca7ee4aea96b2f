// Package credstore persists the current credential pair and the cached user
// record. Values survive process restarts for the file and Redis backends.
package credstore

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/glaucare/glaucare/internal/apperr"
	"github.com/glaucare/glaucare/internal/model"
)

// Persisted keys.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
	KeyRememberMe   = "rememberMe"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyRememberMe}

// Store is the credential store contract. Load methods return nil when the
// value is absent. Failures of the underlying storage are *apperr.Error of
// kind KindStorage.
type Store interface {
	SaveCredentials(ctx context.Context, pair model.CredentialPair) error
	LoadCredentials(ctx context.Context) (*model.CredentialPair, error)
	ClearCredentials(ctx context.Context) error
	SaveUser(ctx context.Context, user model.UserRecord) error
	LoadUser(ctx context.Context) (*model.UserRecord, error)
	ClearUser(ctx context.Context) error
	SaveRememberMe(ctx context.Context, remember bool) error
	LoadRememberMe(ctx context.Context) (bool, error)
	// Clear removes every key in one operation.
	Clear(ctx context.Context) error
}

// backend is a string key/value space with multi-key atomic writes.
type backend interface {
	get(ctx context.Context, keys ...string) (map[string]string, error)
	set(ctx context.Context, values map[string]string) error
	del(ctx context.Context, keys ...string) error
}

// KVStore implements Store over a backend, encoding the user record as JSON.
type KVStore struct {
	b backend
}

var _ Store = (*KVStore)(nil)

func (s *KVStore) SaveCredentials(ctx context.Context, pair model.CredentialPair) error {
	if !pair.Valid() {
		return apperr.Validation("credstore: save credentials", "access and refresh token are required")
	}
	err := s.b.set(ctx, map[string]string{
		KeyAccessToken:  pair.AccessToken,
		KeyRefreshToken: pair.RefreshToken,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "credstore: save credentials", err)
	}
	return nil
}

func (s *KVStore) LoadCredentials(ctx context.Context) (*model.CredentialPair, error) {
	values, err := s.b.get(ctx, KeyAccessToken, KeyRefreshToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "credstore: load credentials", err)
	}
	pair := model.CredentialPair{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
	}
	if !pair.Valid() {
		return nil, nil
	}
	return &pair, nil
}

func (s *KVStore) ClearCredentials(ctx context.Context) error {
	if err := s.b.del(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
		return apperr.Wrap(apperr.KindStorage, "credstore: clear credentials", err)
	}
	return nil
}

func (s *KVStore) SaveUser(ctx context.Context, user model.UserRecord) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "credstore: encode user", err)
	}
	if err := s.b.set(ctx, map[string]string{KeyUser: string(payload)}); err != nil {
		return apperr.Wrap(apperr.KindStorage, "credstore: save user", err)
	}
	return nil
}

func (s *KVStore) LoadUser(ctx context.Context) (*model.UserRecord, error) {
	values, err := s.b.get(ctx, KeyUser)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "credstore: load user", err)
	}
	raw, ok := values[KeyUser]
	if !ok || raw == "" {
		return nil, nil
	}
	var user model.UserRecord
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "credstore: decode user", err)
	}
	return &user, nil
}

func (s *KVStore) ClearUser(ctx context.Context) error {
	if err := s.b.del(ctx, KeyUser); err != nil {
		return apperr.Wrap(apperr.KindStorage, "credstore: clear user", err)
	}
	return nil
}

func (s *KVStore) SaveRememberMe(ctx context.Context, remember bool) error {
	if err := s.b.set(ctx, map[string]string{KeyRememberMe: strconv.FormatBool(remember)}); err != nil {
		return apperr.Wrap(apperr.KindStorage, "credstore: save remember me", err)
	}
	return nil
}

func (s *KVStore) LoadRememberMe(ctx context.Context) (bool, error) {
	values, err := s.b.get(ctx, KeyRememberMe)
	if err != nil {
		return false, apperr.Wrap(apperr.KindStorage, "credstore: load remember me", err)
	}
	remember, _ := strconv.ParseBool(values[KeyRememberMe])
	return remember, nil
}

func (s *KVStore) Clear(ctx context.Context) error {
	if err := s.b.del(ctx, allKeys...); err != nil {
		return apperr.Wrap(apperr.KindStorage, "credstore: clear", err)
	}
	return nil
}
