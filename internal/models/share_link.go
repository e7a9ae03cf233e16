package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ShareLink grants anonymous read access to a contract. Only the most
// recently created link of a contract is honored.
type ShareLink struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	ContractID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"contract_id"`
	Token        string     `gorm:"size:64;not null;uniqueIndex" json:"-"`
	PasswordHash string     `json:"-"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	Viewed       bool       `gorm:"default:false" json:"viewed"`
	ViewedAt     *time.Time `json:"viewed_at,omitempty"`
	CreatedBy    uuid.UUID  `gorm:"type:uuid" json:"created_by"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
}

func (l *ShareLink) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

func (l *ShareLink) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

func (l *ShareLink) PasswordProtected() bool {
	return l.PasswordHash != ""
}
