package models

import "time"

type ChallengeType string

const (
	ChallengeRegistration   ChallengeType = "registration"
	ChallengeAuthentication ChallengeType = "authentication"
)

// ChallengeSlot pins the table to a single row: one in-flight ceremony at a
// time, a new challenge replaces whatever was there.
const ChallengeSlot = 1

// Challenge is the single outstanding ceremony nonce together with the
// library session data needed to finish the ceremony.
type Challenge struct {
	Slot        int           `json:"-" gorm:"primaryKey;column:slot"`
	Value       string        `json:"value" gorm:"type:text;not null"`
	Type        ChallengeType `json:"type" gorm:"type:varchar(20);not null"`
	SessionData string        `json:"sessionData" gorm:"type:text;not null"`
	ExpiresAt   time.Time     `json:"expiresAt" gorm:"not null"`
}

func (Challenge) TableName() string {
	return "challenge"
}

func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
