package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/glucolog/backend/internal/config"
	"github.com/glucolog/backend/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	credentialsObject = "credentials.json"
	challengeObject   = "challenge.json"
)

// MinioStore keeps the allowlist and the challenge slot as JSON objects in a
// bucket. Like the redis backend, the blob is the unit of storage, so every
// mutation is a serialized read-modify-write of the whole object.
type MinioStore struct {
	client *minio.Client
	bucket string
	mu     sync.Mutex
}

func NewMinioStore(ctx context.Context, cfg config.MinIOConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	s := &MinioStore{client: client, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

func (s *MinioStore) getObject(ctx context.Context, name string, out interface{}) (bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return false, errors.Join(ErrUnavailable, err)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, errors.Join(ErrUnavailable, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Join(ErrUnavailable, err)
	}
	return true, nil
}

func (s *MinioStore) putObject(ctx context.Context, name string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(raw), int64(len(raw)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (s *MinioStore) loadCredentials(ctx context.Context) ([]models.Credential, error) {
	var creds []models.Credential
	found, err := s.getObject(ctx, credentialsObject, &creds)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return creds, nil
}

func (s *MinioStore) Credentials(ctx context.Context) ([]models.Credential, error) {
	return s.loadCredentials(ctx)
}

func (s *MinioStore) CredentialByID(ctx context.Context, id string) (*models.Credential, error) {
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

func (s *MinioStore) AddCredential(ctx context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return err
	}
	for i := range creds {
		if creds[i].ID == cred.ID {
			return ErrDuplicateCredential
		}
	}
	return s.putObject(ctx, credentialsObject, append(creds, *cred))
}

func (s *MinioStore) UpdateCredential(ctx context.Context, id string, update CredentialUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
		return s.putObject(ctx, credentialsObject, creds)
	}
	return ErrCredentialNotFound
}

func (s *MinioStore) RemoveCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return err
	}
	for i := range creds {
		if creds[i].ID == id {
			return s.putObject(ctx, credentialsObject, append(creds[:i], creds[i+1:]...))
		}
	}
	return ErrCredentialNotFound
}

func (s *MinioStore) CredentialCount(ctx context.Context) (int64, error) {
	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(creds)), nil
}

func (s *MinioStore) SetChallenge(ctx context.Context, ch *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch.Slot = models.ChallengeSlot
	return s.putObject(ctx, challengeObject, ch)
}

func (s *MinioStore) GetChallenge(ctx context.Context) (*models.Challenge, error) {
	var ch models.Challenge
	found, err := s.getObject(ctx, challengeObject, &ch)
	if err != nil {
		return nil, err
	}
	if !found || ch.Expired(time.Now()) {
		return nil, nil
	}
	return &ch, nil
}

func (s *MinioStore) ClearChallenge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.client.RemoveObject(ctx, s.bucket, challengeObject, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}
