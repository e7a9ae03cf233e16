package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SignerType string

const (
	SignerTypeConsultant      SignerType = "consultant"
	SignerTypePrimaryClient   SignerType = "primary_client"
	SignerTypeSecondaryClient SignerType = "secondary_client"
	SignerTypeWitness         SignerType = "witness"
)

func (t SignerType) Valid() bool {
	switch t {
	case SignerTypeConsultant, SignerTypePrimaryClient, SignerTypeSecondaryClient, SignerTypeWitness:
		return true
	}
	return false
}

type SignatureStatus string

const (
	SignatureStatusPending  SignatureStatus = "pending"
	SignatureStatusViewed   SignatureStatus = "viewed"
	SignatureStatusSigned   SignatureStatus = "signed"
	SignatureStatusDeclined SignatureStatus = "declined"
	SignatureStatusExpired  SignatureStatus = "expired"
)

type SignatureRequest struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	ContractID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"contract_id"`
	SignerType     SignerType      `gorm:"type:varchar(30);not null" json:"signer_type"`
	SignerOrder    int             `gorm:"not null;default:0" json:"signer_order"`
	Name           string          `gorm:"not null" json:"name"`
	Email          string          `gorm:"not null" json:"email"`
	Title          string          `json:"title,omitempty"`
	Company        string          `json:"company,omitempty"`
	Token          string          `gorm:"size:64;not null;uniqueIndex" json:"-"`
	TokenExpiresAt time.Time       `gorm:"not null" json:"token_expires_at"`
	Status         SignatureStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`

	// Signature evidence
	SignatureMethod   SignatureMethod `gorm:"type:varchar(20)" json:"signature_method,omitempty"`
	SignatureData     string          `gorm:"type:text" json:"-"` // typed name, image data URL or external reference
	SignatureProvider string          `json:"signature_provider,omitempty"`
	EvidenceHash      string          `json:"evidence_hash,omitempty"`
	DocumentHash      string          `json:"document_hash,omitempty"` // content hash at signing time
	SignedAt          *time.Time      `json:"signed_at,omitempty"`
	IPAddress         string          `json:"ip_address,omitempty"`
	UserAgent         string          `json:"user_agent,omitempty"`

	ViewedAt       *time.Time `json:"viewed_at,omitempty"`
	DeclinedAt     *time.Time `json:"declined_at,omitempty"`
	DeclineReason  string     `gorm:"type:text" json:"decline_reason,omitempty"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`
	ReminderCount  int        `gorm:"default:0" json:"reminder_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *SignatureRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = SignatureStatusPending
	}
	return nil
}

// IsFinalized is true once the signer has signed or declined; the record is then immutable.
func (r *SignatureRequest) IsFinalized() bool {
	return r.Status == SignatureStatusSigned || r.Status == SignatureStatusDeclined
}

// IsOutstanding is true while the signer may still act.
func (r *SignatureRequest) IsOutstanding() bool {
	return r.Status == SignatureStatusPending || r.Status == SignatureStatusViewed
}

func (r *SignatureRequest) TokenExpired(now time.Time) bool {
	return !now.Before(r.TokenExpiresAt)
}

// SignerSummary is the per-signer row of a status summary.
type SignerSummary struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	SignerType     SignerType      `json:"signer_type"`
	SignerOrder    int             `json:"signer_order"`
	Status         SignatureStatus `json:"status"`
	TokenExpiresAt time.Time       `json:"token_expires_at"`
	ViewedAt       *time.Time      `json:"viewed_at,omitempty"`
	SignedAt       *time.Time      `json:"signed_at,omitempty"`
	DeclinedAt     *time.Time      `json:"declined_at,omitempty"`
	DeclineReason  string          `json:"decline_reason,omitempty"`
	ReminderSentAt *time.Time      `json:"reminder_sent_at,omitempty"`
}

func (r *SignatureRequest) ToSummary() SignerSummary {
	return SignerSummary{
		ID:             r.ID,
		Name:           r.Name,
		Email:          r.Email,
		SignerType:     r.SignerType,
		SignerOrder:    r.SignerOrder,
		Status:         r.Status,
		TokenExpiresAt: r.TokenExpiresAt,
		ViewedAt:       r.ViewedAt,
		SignedAt:       r.SignedAt,
		DeclinedAt:     r.DeclinedAt,
		DeclineReason:  r.DeclineReason,
		ReminderSentAt: r.ReminderSentAt,
	}
}
