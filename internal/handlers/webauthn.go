package handlers

import (
	"encoding/json"

	"github.com/glucolog/backend/internal/middleware"
	"github.com/glucolog/backend/internal/services"
	"github.com/glucolog/backend/pkg/logger"
	"github.com/glucolog/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

const defaultFriendlyName = "Passkey"

type WebAuthnHandler struct {
	WebAuthn *services.WebAuthnService
	Sessions *services.SessionService
	Audit    *services.AuditService
}

func NewWebAuthnHandler(wa *services.WebAuthnService, sessions *services.SessionService, audit *services.AuditService) *WebAuthnHandler {
	return &WebAuthnHandler{WebAuthn: wa, Sessions: sessions, Audit: audit}
}

// RegisterOptions starts enrolment of an additional authenticator for the
// already-authenticated owner.
func (h *WebAuthnHandler) RegisterOptions(c *fiber.Ctx) error {
	options, err := h.WebAuthn.BeginRegistration(c.Context())
	if err != nil {
		return ceremonyError(c, "register_options", err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"options": options})
}

type registerVerifyRequest struct {
	Credential   json.RawMessage `json:"credential"`
	FriendlyName string          `json:"friendlyName"`
}

func (h *WebAuthnHandler) RegisterVerify(c *fiber.Ctx) error {
	var req registerVerifyRequest
	if err := c.BodyParser(&req); err != nil || len(req.Credential) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeInvalidRequest, "invalid request body")
	}
	if req.FriendlyName == "" {
		req.FriendlyName = defaultFriendlyName
	}

	cred, err := h.WebAuthn.FinishRegistration(c.Context(), req.Credential, req.FriendlyName)
	if err != nil {
		return ceremonyError(c, "register_verify", err)
	}

	logger.Info("credential_registered", map[string]interface{}{
		"credential_id": cred.ID,
		"device_type":   cred.DeviceType,
		"name":          cred.FriendlyName,
	})
	h.Audit.LogAsync(services.AuditEntry{
		CredentialID: &cred.ID,
		Action:       "auth.credential_registered",
		Details:      map[string]interface{}{"name": cred.FriendlyName},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"verified":     true,
		"credentialId": cred.ID,
	})
}

// LoginOptions starts an authentication ceremony. An empty allowlist is
// surfaced as NO_CREDENTIALS so the client can offer the bootstrap flow.
func (h *WebAuthnHandler) LoginOptions(c *fiber.Ctx) error {
	options, err := h.WebAuthn.BeginLogin(c.Context())
	if err != nil {
		return ceremonyError(c, "login_options", err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"options": options})
}

type loginVerifyRequest struct {
	Credential json.RawMessage `json:"credential"`
}

func (h *WebAuthnHandler) LoginVerify(c *fiber.Ctx) error {
	var req loginVerifyRequest
	if err := c.BodyParser(&req); err != nil || len(req.Credential) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeInvalidRequest, "invalid request body")
	}

	cred, err := h.WebAuthn.FinishLogin(c.Context(), req.Credential)
	if err != nil {
		return ceremonyError(c, "login_verify", err)
	}

	token, expiresAt, err := h.Sessions.Create(cred.ID)
	if err != nil {
		return ceremonyError(c, "login_verify", err)
	}
	c.Cookie(h.Sessions.Cookie(token, expiresAt))

	logger.Info("login_succeeded", map[string]interface{}{
		"credential_id": cred.ID,
		"counter":       cred.Counter,
	})
	h.Audit.LogAsync(services.AuditEntry{
		CredentialID: &cred.ID,
		Action:       "auth.login",
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"verified":  true,
		"expiresAt": expiresAt,
	})
}

// Session reports authentication state. It never errors: an absent, invalid
// or expired session is simply authenticated:false.
func (h *WebAuthnHandler) Session(c *fiber.Ctx) error {
	session := middleware.GetSession(c)
	if session == nil {
		return utils.Success(c, fiber.StatusOK, fiber.Map{
			"authenticated": false,
			"expiresAt":     nil,
		})
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"authenticated": true,
		"expiresAt":     session.ExpiresAt,
	})
}

func (h *WebAuthnHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(h.Sessions.ClearCookie())

	if session := middleware.GetSession(c); session != nil {
		h.Audit.LogAsync(services.AuditEntry{
			CredentialID: &session.CredentialID,
			Action:       "auth.logout",
			IPAddress:    c.IP(),
			RequestID:    getRequestID(c),
		})
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"success": true})
}
