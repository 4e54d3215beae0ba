package handlers

import (
	"errors"

	"github.com/glucolog/backend/internal/middleware"
	"github.com/glucolog/backend/internal/models"
	"github.com/glucolog/backend/internal/services"
	"github.com/glucolog/backend/internal/store"
	"github.com/glucolog/backend/pkg/logger"
	"github.com/glucolog/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// CredentialsHandler manages the allowlist for the authenticated owner.
type CredentialsHandler struct {
	Store store.Store
	Audit *services.AuditService
}

func NewCredentialsHandler(st store.Store, audit *services.AuditService) *CredentialsHandler {
	return &CredentialsHandler{Store: st, Audit: audit}
}

func (h *CredentialsHandler) List(c *fiber.Ctx) error {
	creds, err := h.Store.Credentials(c.Context())
	if err != nil {
		return storeError(c, err)
	}

	dtos := make([]models.CredentialDTO, len(creds))
	for i := range creds {
		dtos[i] = creds[i].DTO()
	}
	return utils.Success(c, fiber.StatusOK, dtos)
}

type renameCredentialRequest struct {
	FriendlyName string `json:"friendlyName"`
}

func (h *CredentialsHandler) Rename(c *fiber.Ctx) error {
	id := c.Params("id")

	var req renameCredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeInvalidRequest, "invalid request body")
	}
	if req.FriendlyName == "" {
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeInvalidRequest, "friendlyName is required")
	}

	update := store.CredentialUpdate{FriendlyName: &req.FriendlyName}
	if err := h.Store.UpdateCredential(c.Context(), id, update); err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return utils.Error(c, fiber.StatusNotFound, utils.CodeCredentialNotFound, "credential not found")
		}
		return storeError(c, err)
	}

	cred, err := h.Store.CredentialByID(c.Context(), id)
	if err != nil {
		return storeError(c, err)
	}

	h.Audit.LogAsync(services.AuditEntry{
		CredentialID: &cred.ID,
		Action:       "auth.credential_renamed",
		Details:      map[string]interface{}{"name": cred.FriendlyName},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, cred.DTO())
}

// Delete removes a credential, refusing to remove the last one so the owner
// cannot lock themselves out.
func (h *CredentialsHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")

	cred, err := h.Store.CredentialByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return utils.Error(c, fiber.StatusNotFound, utils.CodeCredentialNotFound, "credential not found")
		}
		return storeError(c, err)
	}

	count, err := h.Store.CredentialCount(c.Context())
	if err != nil {
		return storeError(c, err)
	}
	if count <= 1 {
		return utils.Error(c, fiber.StatusBadRequest, utils.CodeLockoutPrevention,
			"cannot remove the last registered credential")
	}

	if err := h.Store.RemoveCredential(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return utils.Error(c, fiber.StatusNotFound, utils.CodeCredentialNotFound, "credential not found")
		}
		return storeError(c, err)
	}

	logger.Info("credential_deleted", map[string]interface{}{
		"credential_id": cred.ID,
		"name":          cred.FriendlyName,
	})

	session := middleware.GetSession(c)
	var actor *string
	if session != nil {
		actor = &session.CredentialID
	}
	h.Audit.LogAsync(services.AuditEntry{
		CredentialID: actor,
		Action:       "auth.credential_removed",
		Details:      map[string]interface{}{"removed": cred.ID, "name": cred.FriendlyName},
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"success": true})
}

func storeError(c *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		logger.Error("credential_store_unavailable", err, map[string]interface{}{
			"path":       c.Path(),
			"request_id": getRequestID(c),
		})
		return utils.Error(c, fiber.StatusServiceUnavailable, utils.CodeStoreUnavailable,
			"credential store unavailable, retry later")
	}
	logger.Error("credential_operation_failed", err, map[string]interface{}{
		"path":       c.Path(),
		"request_id": getRequestID(c),
	})
	return utils.Error(c, fiber.StatusInternalServerError, utils.CodeInternal, "internal error")
}
