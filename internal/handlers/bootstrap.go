package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/glucolog/backend/internal/services"
	"github.com/glucolog/backend/pkg/logger"
	"github.com/glucolog/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// BootstrapHandler exposes the one-time enrolment path for the very first
// credential. Both endpoints re-check the gate; the verify step also issues a
// session so the owner is logged in without a second ceremony.
type BootstrapHandler struct {
	Bootstrap *services.BootstrapService
	WebAuthn  *services.WebAuthnService
	Sessions  *services.SessionService
	Audit     *services.AuditService
	OwnerName string
}

func NewBootstrapHandler(bootstrap *services.BootstrapService, wa *services.WebAuthnService, sessions *services.SessionService, audit *services.AuditService, ownerName string) *BootstrapHandler {
	return &BootstrapHandler{
		Bootstrap: bootstrap,
		WebAuthn:  wa,
		Sessions:  sessions,
		Audit:     audit,
		OwnerName: ownerName,
	}
}

type bootstrapOptionsRequest struct {
	BootstrapToken string `json:"bootstrapToken"`
}

func (h *BootstrapHandler) Options(c *fiber.Ctx) error {
	var req bootstrapOptionsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeInvalidRequest, "invalid request body")
	}

	if err := h.Bootstrap.VerifyAllowed(c.Context(), req.BootstrapToken); err != nil {
		return bootstrapError(c, err)
	}

	options, err := h.WebAuthn.BeginRegistration(c.Context())
	if err != nil {
		return ceremonyError(c, "bootstrap_options", err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"options": options})
}

type bootstrapVerifyRequest struct {
	BootstrapToken string          `json:"bootstrapToken"`
	Credential     json.RawMessage `json:"credential"`
	FriendlyName   string          `json:"friendlyName"`
}

func (h *BootstrapHandler) Verify(c *fiber.Ctx) error {
	var req bootstrapVerifyRequest
	if err := c.BodyParser(&req); err != nil || len(req.Credential) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeInvalidRequest, "invalid request body")
	}
	if req.FriendlyName == "" {
		req.FriendlyName = fmt.Sprintf("%s's passkey", h.OwnerName)
	}

	if err := h.Bootstrap.VerifyAllowed(c.Context(), req.BootstrapToken); err != nil {
		return bootstrapError(c, err)
	}

	cred, err := h.WebAuthn.FinishRegistration(c.Context(), req.Credential, req.FriendlyName)
	if err != nil {
		return ceremonyError(c, "bootstrap_verify", err)
	}

	token, expiresAt, err := h.Sessions.Create(cred.ID)
	if err != nil {
		return ceremonyError(c, "bootstrap_verify", err)
	}
	c.Cookie(h.Sessions.Cookie(token, expiresAt))

	logger.Info("bootstrap_completed", map[string]interface{}{
		"credential_id": cred.ID,
		"device_type":   cred.DeviceType,
	})
	h.Audit.LogAsync(services.AuditEntry{
		CredentialID: &cred.ID,
		Action:       "auth.bootstrap",
		Details:      map[string]interface{}{"name": cred.FriendlyName},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"verified":     true,
		"credentialId": cred.ID,
		"expiresAt":    expiresAt,
	})
}
