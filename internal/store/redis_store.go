package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/glucolog/backend/internal/config"
	"github.com/glucolog/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the whole allowlist as one JSON value. Read-modify-write
// cycles are serialized by a process-local mutex; the deployment runs exactly
// one server process, so no cross-process locking is needed.
type RedisStore struct {
	client    *redis.Client
	credsKey  string
	challKey  string
	credsLock sync.Mutex
}

func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	options, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(options)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	return &RedisStore{
		client:   client,
		credsKey: cfg.KeyPrefix + ":credentials",
		challKey: cfg.KeyPrefix + ":challenge",
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) loadCredentials(ctx context.Context) ([]models.Credential, error) {
	raw, err := s.client.Get(ctx, s.credsKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	var creds []models.Credential
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return creds, nil
}

func (s *RedisStore) saveCredentials(ctx context.Context, creds []models.Credential) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.credsKey, string(raw), 0).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Credentials(ctx context.Context) ([]models.Credential, error) {
	return s.loadCredentials(ctx)
}

func (s *RedisStore) CredentialByID(ctx context.Context, id string) (*models.Credential, error) {
	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return nil, err
	}
	for i := range creds {
		if creds[i].ID == id {
			return &creds[i], nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (s *RedisStore) AddCredential(ctx context.Context, cred *models.Credential) error {
	s.credsLock.Lock()
	defer s.credsLock.Unlock()

	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return err
	}
	for i := range creds {
		if creds[i].ID == cred.ID {
			return ErrDuplicateCredential
		}
	}
	return s.saveCredentials(ctx, append(creds, *cred))
}

func (s *RedisStore) UpdateCredential(ctx context.Context, id string, update CredentialUpdate) error {
	s.credsLock.Lock()
	defer s.credsLock.Unlock()

	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return err
	}
	for i := range creds {
		if creds[i].ID != id {
			continue
		}
		if update.FriendlyName != nil {
			creds[i].FriendlyName = *update.FriendlyName
		}
		if update.Counter != nil {
			creds[i].Counter = *update.Counter
		}
		if update.LastUsedAt != nil {
			creds[i].LastUsedAt = update.LastUsedAt
		}
		return s.saveCredentials(ctx, creds)
	}
	return ErrCredentialNotFound
}

func (s *RedisStore) RemoveCredential(ctx context.Context, id string) error {
	s.credsLock.Lock()
	defer s.credsLock.Unlock()

	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return err
	}
	for i := range creds {
		if creds[i].ID == id {
			return s.saveCredentials(ctx, append(creds[:i], creds[i+1:]...))
		}
	}
	return ErrCredentialNotFound
}

func (s *RedisStore) CredentialCount(ctx context.Context) (int64, error) {
	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(creds)), nil
}

func (s *RedisStore) SetChallenge(ctx context.Context, ch *models.Challenge) error {
	ch.Slot = models.ChallengeSlot
	raw, err := json.Marshal(ch)
	if err != nil {
		return err
	}

	ttl := time.Until(ch.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, s.challKey, string(raw), ttl).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetChallenge(ctx context.Context) (*models.Challenge, error) {
	raw, err := s.client.Get(ctx, s.challKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}

	var ch models.Challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	if ch.Expired(time.Now()) {
		return nil, nil
	}
	return &ch, nil
}

func (s *RedisStore) ClearChallenge(ctx context.Context) error {
	if err := s.client.Del(ctx, s.challKey).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}
