package handlers

import (
	"errors"

	"github.com/glucolog/backend/internal/services"
	"github.com/glucolog/backend/internal/store"
	"github.com/glucolog/backend/pkg/logger"
	"github.com/glucolog/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func getRequestID(c *fiber.Ctx) string {
	if rid, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
		return rid
	}
	return ""
}

// ceremonyError maps service and store failures from an options/verify
// operation onto the error envelope. Raw verification internals stay in the
// server log.
func ceremonyError(c *fiber.Ctx, operation string, err error) error {
	switch {
	case errors.Is(err, services.ErrNoChallenge):
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeNoChallenge,
			"no registration or authentication ceremony in progress")
	case errors.Is(err, services.ErrCounterRegression):
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeCounterRegression,
			"authenticator counter regression detected")
	case errors.Is(err, services.ErrVerificationFailed):
		logger.Warn("webauthn_verification_failed", map[string]interface{}{
			"operation":  operation,
			"request_id": getRequestID(c),
		})
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeVerificationFailed,
			"credential verification failed")
	case errors.Is(err, services.ErrNoCredentials):
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeNoCredentials,
			"no credentials registered")
	case errors.Is(err, store.ErrCredentialNotFound):
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeCredentialNotFound,
			"credential is not registered")
	case errors.Is(err, store.ErrDuplicateCredential):
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeDuplicateCredential,
			"credential is already registered")
	case errors.Is(err, store.ErrUnavailable):
		logger.Error("credential_store_unavailable", err, map[string]interface{}{
			"operation":  operation,
			"request_id": getRequestID(c),
		})
		return utils.Error(c, fiber.StatusServiceUnavailable, utils.CodeStoreUnavailable,
			"credential store unavailable, retry later")
	default:
		logger.Error("ceremony_unexpected_error", err, map[string]interface{}{
			"operation":  operation,
			"request_id": getRequestID(c),
		})
		return utils.Error(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"internal error")
	}
}

func bootstrapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrBootstrapUnavailable):
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeBootstrapUnavailable,
			"bootstrap is not available")
	case errors.Is(err, services.ErrInvalidBootstrapToken):
		return utils.Error(c, fiber.StatusUnauthorized, utils.CodeInvalidBootstrapToken,
			"invalid bootstrap token")
	case errors.Is(err, services.ErrBootstrapExpired):
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeBootstrapExpired,
			"bootstrap token expired")
	default:
		return ceremonyError(c, "bootstrap", err)
	}
}
