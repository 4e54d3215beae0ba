package services

import "errors"

var (
	// ErrNoChallenge: no outstanding challenge, or it expired, or it was
	// already consumed. A challenge is single-use; every verify attempt
	// consumes it whether or not verification succeeds.
	ErrNoChallenge = errors.New("no active challenge")

	// ErrVerificationFailed covers attestation/assertion rejection: challenge
	// mismatch, wrong origin or RP ID, bad signature. The cryptographic
	// detail is logged server-side, never surfaced to the client.
	ErrVerificationFailed = errors.New("webauthn verification failed")

	// ErrCounterRegression: the assertion reported a signature counter at or
	// below the stored value. Treated as a cloned authenticator or a replay,
	// always a hard failure.
	ErrCounterRegression = errors.New("authenticator counter regression")

	ErrNoCredentials = errors.New("no registered credentials")

	ErrBootstrapUnavailable  = errors.New("bootstrap is not available")
	ErrInvalidBootstrapToken = errors.New("invalid bootstrap token")
	ErrBootstrapExpired      = errors.New("bootstrap token expired")
)
