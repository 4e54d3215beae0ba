package middleware

import (
	"time"

	"github.com/glucolog/backend/pkg/logger"
	"github.com/glucolog/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func RequestID() fiber.Handler {
	return requestid.New()
}

func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := map[string]interface{}{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.IP(),
		}
		if rid, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
			fields["request_id"] = rid
		}
		logger.Info("http_request", fields)

		return err
	}
}

// ConfigGuard refuses every request with a generic 503 when startup
// validation failed. Which variable is wrong is only ever logged server-side.
func ConfigGuard(validationErr error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if validationErr != nil {
			return utils.Error(c, fiber.StatusServiceUnavailable,
				utils.CodeServiceMisconfigured, "service misconfigured")
		}
		return c.Next()
	}
}
