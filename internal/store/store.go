package store

import (
	"context"
	"errors"
	"time"

	"github.com/glucolog/backend/internal/models"
)

var (
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrDuplicateCredential = errors.New("credential already exists")

	// ErrUnavailable wraps backend transport failures (timeouts, refused
	// connections). Callers surface it as a retryable 5xx.
	ErrUnavailable = errors.New("credential store unavailable")
)

// CredentialUpdate is a partial update; nil fields are left untouched.
type CredentialUpdate struct {
	FriendlyName *string
	Counter      *uint32
	LastUsedAt   *time.Time
}

// Store owns the credential allowlist and the single challenge slot.
// Implementations must apply each mutation atomically; backends that persist
// the allowlist as one blob serialize read-modify-write internally.
type Store interface {
	Credentials(ctx context.Context) ([]models.Credential, error)
	CredentialByID(ctx context.Context, id string) (*models.Credential, error)
	AddCredential(ctx context.Context, cred *models.Credential) error
	UpdateCredential(ctx context.Context, id string, update CredentialUpdate) error
	RemoveCredential(ctx context.Context, id string) error
	CredentialCount(ctx context.Context) (int64, error)

	// SetChallenge overwrites any outstanding challenge. GetChallenge treats
	// an expired challenge as absent and returns (nil, nil). ClearChallenge
	// is idempotent.
	SetChallenge(ctx context.Context, ch *models.Challenge) error
	GetChallenge(ctx context.Context) (*models.Challenge, error)
	ClearChallenge(ctx context.Context) error
}
