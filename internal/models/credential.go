package models

import "time"

const (
	DeviceTypePlatform      = "platform"
	DeviceTypeCrossPlatform = "cross-platform"
)

// Credential is a registered authenticator on the owner's allowlist.
// The ID is the base64url-encoded credential ID reported by the authenticator.
type Credential struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(1024)"`
	PublicKey       []byte     `json:"publicKey" gorm:"type:bytea;not null"`
	AttestationType string     `json:"attestationType" gorm:"type:varchar(32)"`
	AAGUID          []byte     `json:"aaguid" gorm:"type:bytea"`
	Counter         uint32     `json:"counter" gorm:"not null;default:0"`
	Transports      string     `json:"transports" gorm:"type:text"`
	DeviceType      string     `json:"deviceType" gorm:"type:varchar(20);not null"`
	BackupEligible  bool       `json:"backupEligible" gorm:"not null;default:false"`
	BackedUp        bool       `json:"backedUp" gorm:"not null;default:false"`
	FriendlyName    string     `json:"friendlyName" gorm:"type:varchar(100);not null"`
	CreatedAt       time.Time  `json:"createdAt" gorm:"not null"`
	LastUsedAt      *time.Time `json:"lastUsedAt"`
}

func (Credential) TableName() string {
	return "credentials"
}

// CredentialDTO is the shape returned to the UI. Key material and the
// signature counter stay server-side.
type CredentialDTO struct {
	ID           string     `json:"id"`
	FriendlyName string     `json:"friendlyName"`
	DeviceType   string     `json:"deviceType"`
	BackedUp     bool       `json:"backedUp"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt"`
}

func (c *Credential) DTO() CredentialDTO {
	return CredentialDTO{
		ID:           c.ID,
		FriendlyName: c.FriendlyName,
		DeviceType:   c.DeviceType,
		BackedUp:     c.BackedUp,
		CreatedAt:    c.CreatedAt,
		LastUsedAt:   c.LastUsedAt,
	}
}
