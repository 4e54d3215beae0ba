package middleware

import (
	"errors"

	"github.com/glucolog/backend/internal/services"
	"github.com/glucolog/backend/internal/store"
	"github.com/glucolog/backend/pkg/logger"
	"github.com/glucolog/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const sessionKey = "session"

type AuthMiddleware struct {
	Store    store.Store
	Sessions *services.SessionService

	// DevBypass skips session checks entirely. DEV ONLY; config validation
	// refuses it in production.
	DevBypass bool
}

func NewAuthMiddleware(st store.Store, sessions *services.SessionService, devBypass bool) *AuthMiddleware {
	if devBypass {
		logger.Warn("auth_dev_bypass_enabled", map[string]interface{}{
			"warning": "session checks are disabled, do not expose this server",
		})
	}
	return &AuthMiddleware{Store: st, Sessions: sessions, DevBypass: devBypass}
}

func CORS(frontendURL string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     frontendURL,
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowCredentials: true,
	})
}

// RequireAuth answers a uniform 401 whether the cookie is absent, malformed,
// tampered or expired, and whether the bound credential still exists.
func (a *AuthMiddleware) RequireAuth(c *fiber.Ctx) error {
	session := a.resolve(c)
	if session == nil {
		return utils.Error(c, fiber.StatusUnauthorized, utils.CodeUnauthorized, "authentication required")
	}
	c.Locals(sessionKey, session)
	return c.Next()
}

// OptionalAuth attaches the session when present and valid, and continues
// either way.
func (a *AuthMiddleware) OptionalAuth(c *fiber.Ctx) error {
	if session := a.resolve(c); session != nil {
		c.Locals(sessionKey, session)
	}
	return c.Next()
}

func (a *AuthMiddleware) resolve(c *fiber.Ctx) *services.SessionData {
	if a.DevBypass {
		return &services.SessionData{CredentialID: "dev-bypass"}
	}

	token := c.Cookies(a.Sessions.CookieName())
	if token == "" {
		return nil
	}

	session := a.Sessions.Validate(token)
	if session == nil {
		return nil
	}

	// Deleting a credential must end its sessions.
	if _, err := a.Store.CredentialByID(c.Context(), session.CredentialID); err != nil {
		if !errors.Is(err, store.ErrCredentialNotFound) {
			logger.Error("session_credential_lookup_failed", err, map[string]interface{}{
				"path": c.Path(),
			})
		}
		return nil
	}

	return session
}

func GetSession(c *fiber.Ctx) *services.SessionData {
	value := c.Locals(sessionKey)
	if value == nil {
		return nil
	}
	session, ok := value.(*services.SessionData)
	if !ok {
		return nil
	}
	return session
}
