package services

import (
	"context"
	"time"

	"github.com/glucolog/backend/internal/config"
	"github.com/glucolog/backend/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// BootstrapService gates the enrolment of the very first credential. Once the
// allowlist holds any credential the gate closes permanently, whatever the
// token's own validity.
type BootstrapService struct {
	store     store.Store
	tokenHash []byte
	expiresAt time.Time
}

func NewBootstrapService(st store.Store, cfg config.BootstrapConfig) *BootstrapService {
	s := &BootstrapService{store: st, expiresAt: cfg.ExpiresAt}
	if cfg.Token != "" {
		// Hash the shared token once at startup; bcrypt comparison keeps the
		// check's cost independent of the supplied value.
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Token), bcrypt.DefaultCost)
		if err == nil {
			s.tokenHash = hash
		}
	}
	return s
}

// Configured reports whether a bootstrap token was provided at startup.
func (s *BootstrapService) Configured() bool {
	return s.tokenHash != nil
}

// VerifyAllowed checks the full gate: empty allowlist, configured and
// unexpired token, matching supplied value.
func (s *BootstrapService) VerifyAllowed(ctx context.Context, suppliedToken string) error {
	count, err := s.store.CredentialCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrBootstrapUnavailable
	}
	if s.tokenHash == nil {
		return ErrBootstrapUnavailable
	}
	if !s.expiresAt.IsZero() && time.Now().After(s.expiresAt) {
		return ErrBootstrapExpired
	}
	if bcrypt.CompareHashAndPassword(s.tokenHash, []byte(suppliedToken)) != nil {
		return ErrInvalidBootstrapToken
	}
	return nil
}
