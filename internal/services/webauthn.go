package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/glucolog/backend/internal/config"
	"github.com/glucolog/backend/internal/models"
	"github.com/glucolog/backend/internal/store"
	"github.com/glucolog/backend/pkg/logger"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// ownerHandle is the fixed WebAuthn user handle. The deployment has exactly
// one account, so the handle never varies.
const ownerHandle = "glucolog-owner"

// WebAuthnService runs both halves of the registration and authentication
// ceremonies against the single-slot challenge in the store.
type WebAuthnService struct {
	wa    *webauthn.WebAuthn
	store store.Store
	cfg   config.WebAuthnConfig
}

func NewWebAuthnService(cfg config.WebAuthnConfig, st store.Store) (*WebAuthnService, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     []string{cfg.RPOrigin},
	})
	if err != nil {
		return nil, err
	}
	return &WebAuthnService{wa: wa, store: st, cfg: cfg}, nil
}

// ownerUser adapts the stored allowlist to the webauthn.User interface.
type ownerUser struct {
	displayName string
	creds       []webauthn.Credential
}

func (u *ownerUser) WebAuthnID() []byte                         { return []byte(ownerHandle) }
func (u *ownerUser) WebAuthnName() string                       { return "owner" }
func (u *ownerUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *ownerUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (s *WebAuthnService) loadOwner(ctx context.Context) (*ownerUser, []models.Credential, error) {
	stored, err := s.store.Credentials(ctx)
	if err != nil {
		return nil, nil, err
	}

	creds := make([]webauthn.Credential, 0, len(stored))
	for i := range stored {
		cred, err := libraryCredential(&stored[i])
		if err != nil {
			logger.Warn("credential_decode_failed", map[string]interface{}{
				"credential_id": stored[i].ID,
			})
			continue
		}
		creds = append(creds, cred)
	}

	return &ownerUser{displayName: s.cfg.OwnerName, creds: creds}, stored, nil
}

func libraryCredential(c *models.Credential) (webauthn.Credential, error) {
	id, err := base64.RawURLEncoding.DecodeString(c.ID)
	if err != nil {
		return webauthn.Credential{}, err
	}

	var transports []protocol.AuthenticatorTransport
	if c.Transports != "" {
		var ts []string
		if err := json.Unmarshal([]byte(c.Transports), &ts); err == nil {
			for _, t := range ts {
				transports = append(transports, protocol.AuthenticatorTransport(t))
			}
		}
	}

	return webauthn.Credential{
		ID:              id,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.Counter,
		},
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackedUp,
		},
	}, nil
}

func storedCredential(cred *webauthn.Credential, friendlyName string, now time.Time) *models.Credential {
	deviceType := models.DeviceTypeCrossPlatform
	if cred.Authenticator.Attachment == protocol.Platform {
		deviceType = models.DeviceTypePlatform
	}

	var transportsJSON []byte
	if len(cred.Transport) > 0 {
		ts := make([]string, len(cred.Transport))
		for i, t := range cred.Transport {
			ts[i] = string(t)
		}
		transportsJSON, _ = json.Marshal(ts)
	}

	return &models.Credential{
		ID:              base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		Counter:         cred.Authenticator.SignCount,
		Transports:      string(transportsJSON),
		DeviceType:      deviceType,
		BackupEligible:  cred.Flags.BackupEligible,
		BackedUp:        cred.Flags.BackupState,
		FriendlyName:    friendlyName,
		CreatedAt:       now,
	}
}

func (s *WebAuthnService) saveChallenge(ctx context.Context, typ models.ChallengeType, session *webauthn.SessionData) error {
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.store.SetChallenge(ctx, &models.Challenge{
		Value:       session.Challenge,
		Type:        typ,
		SessionData: string(sessionJSON),
		ExpiresAt:   time.Now().Add(s.cfg.ChallengeTTL),
	})
}

// consumeChallenge fetches and immediately clears the outstanding challenge.
// Clearing happens before any verification so a failed attempt can never
// leave a reusable challenge behind.
func (s *WebAuthnService) consumeChallenge(ctx context.Context, typ models.ChallengeType) (*webauthn.SessionData, error) {
	ch, err := s.store.GetChallenge(ctx)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, ErrNoChallenge
	}
	if err := s.store.ClearChallenge(ctx); err != nil {
		return nil, err
	}
	if ch.Type != typ {
		return nil, ErrNoChallenge
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(ch.SessionData), &session); err != nil {
		return nil, ErrNoChallenge
	}
	return &session, nil
}

// BeginRegistration issues creation options excluding every credential already
// on the allowlist, so a registered authenticator cannot be enrolled twice.
func (s *WebAuthnService) BeginRegistration(ctx context.Context) (*protocol.CredentialCreation, error) {
	user, _, err := s.loadOwner(ctx)
	if err != nil {
		return nil, err
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.creds))
	for _, cred := range user.creds {
		exclusions = append(exclusions, cred.Descriptor())
	}

	options, session, err := s.wa.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, err
	}
	if err := s.saveChallenge(ctx, models.ChallengeRegistration, session); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishRegistration consumes the stored challenge, verifies the attestation
// and adds the new credential to the allowlist.
func (s *WebAuthnService) FinishRegistration(ctx context.Context, response []byte, friendlyName string) (*models.Credential, error) {
	session, err := s.consumeChallenge(ctx, models.ChallengeRegistration)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}

	user, _, err := s.loadOwner(ctx)
	if err != nil {
		return nil, err
	}

	cred, err := s.wa.CreateCredential(user, *session, parsed)
	if err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}

	record := storedCredential(cred, friendlyName, time.Now().UTC())
	if err := s.store.AddCredential(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// BeginLogin issues assertion options with allowCredentials restricted to the
// allowlist. Fails with ErrNoCredentials on an empty allowlist so the caller
// can point the client at the bootstrap flow.
func (s *WebAuthnService) BeginLogin(ctx context.Context) (*protocol.CredentialAssertion, error) {
	user, _, err := s.loadOwner(ctx)
	if err != nil {
		return nil, err
	}
	if len(user.creds) == 0 {
		return nil, ErrNoCredentials
	}

	options, session, err := s.wa.BeginLogin(user,
		webauthn.WithUserVerification(protocol.UserVerificationRequirement(s.cfg.UserVerification)))
	if err != nil {
		return nil, err
	}
	if err := s.saveChallenge(ctx, models.ChallengeAuthentication, session); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishLogin consumes the stored challenge, verifies the assertion against
// the matching stored credential and enforces counter monotonicity. On
// success the new counter and last-used timestamp are persisted and the
// updated credential is returned.
//
// Counter policy: a credential whose counter has never left zero is treated
// as counter-less and exempt; once either the stored or the reported value is
// nonzero, reported <= stored is a hard ErrCounterRegression.
func (s *WebAuthnService) FinishLogin(ctx context.Context, response []byte) (*models.Credential, error) {
	session, err := s.consumeChallenge(ctx, models.ChallengeAuthentication)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}

	credID := base64.RawURLEncoding.EncodeToString(parsed.RawID)
	stored, err := s.store.CredentialByID(ctx, credID)
	if err != nil {
		return nil, err
	}

	user, _, err := s.loadOwner(ctx)
	if err != nil {
		return nil, err
	}

	validated, err := s.wa.ValidateLogin(user, *session, parsed)
	if err != nil {
		return nil, errors.Join(ErrVerificationFailed, err)
	}

	if validated.Authenticator.CloneWarning {
		logger.Warn("counter_regression_detected", map[string]interface{}{
			"credential_id":    credID,
			"stored_counter":   stored.Counter,
			"reported_counter": parsed.Response.AuthenticatorData.Counter,
		})
		return nil, ErrCounterRegression
	}

	now := time.Now().UTC()
	newCounter := validated.Authenticator.SignCount
	update := store.CredentialUpdate{Counter: &newCounter, LastUsedAt: &now}
	if err := s.store.UpdateCredential(ctx, credID, update); err != nil {
		return nil, err
	}

	stored.Counter = newCounter
	stored.LastUsedAt = &now
	return stored, nil
}
