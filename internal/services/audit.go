package services

import (
	"time"

	"github.com/glucolog/backend/internal/models"
	"github.com/glucolog/backend/pkg/logger"
	"gorm.io/gorm"
)

type AuditEntry struct {
	CredentialID *string
	Action       string
	Details      map[string]interface{}
	IPAddress    string
	RequestID    string
}

// AuditService writes an append-only trail of auth events through a buffered
// queue so request handling never waits on the audit insert. With a non-gorm
// credential store there is no database to write to; entries then go to the
// structured log only.
type AuditService struct {
	db    *gorm.DB
	queue chan models.AuditLog
}

func NewAuditService(db *gorm.DB) *AuditService {
	s := &AuditService{
		db:    db,
		queue: make(chan models.AuditLog, 1000),
	}
	if db != nil {
		go s.processQueue()
	}
	return s
}

func (s *AuditService) LogAsync(entry AuditEntry) {
	if s.db == nil {
		fields := map[string]interface{}{
			"action":     entry.Action,
			"ip_address": entry.IPAddress,
			"request_id": entry.RequestID,
		}
		if entry.CredentialID != nil {
			fields["credential_id"] = *entry.CredentialID
		}
		logger.Info("audit", fields)
		return
	}

	row := models.AuditLog{
		CredentialID: entry.CredentialID,
		Action:       entry.Action,
		Details:      entry.Details,
		IPAddress:    entry.IPAddress,
		RequestID:    entry.RequestID,
		CreatedAt:    time.Now().UTC(),
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	for row := range s.queue {
		if err := s.db.Create(&row).Error; err != nil {
			logger.Error("audit_log_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
		}
	}
}
