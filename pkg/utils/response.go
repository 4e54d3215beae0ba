package utils

import "github.com/gofiber/fiber/v2"

// Machine-readable error codes surfaced in the response envelope.
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeNoChallenge           = "NO_CHALLENGE"
	CodeVerificationFailed    = "VERIFICATION_FAILED"
	CodeCounterRegression     = "COUNTER_REGRESSION"
	CodeNoCredentials         = "NO_CREDENTIALS"
	CodeCredentialNotFound    = "CREDENTIAL_NOT_FOUND"
	CodeDuplicateCredential   = "DUPLICATE_CREDENTIAL"
	CodeLockoutPrevention     = "LOCKOUT_PREVENTION"
	CodeBootstrapUnavailable  = "BOOTSTRAP_UNAVAILABLE"
	CodeInvalidBootstrapToken = "INVALID_BOOTSTRAP_TOKEN"
	CodeBootstrapExpired      = "BOOTSTRAP_EXPIRED"
	CodeServiceMisconfigured  = "SERVICE_MISCONFIGURED"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
	CodeInternal              = "INTERNAL_ERROR"
)

func Success(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"code":    code,
		"error":   message,
	})
}
