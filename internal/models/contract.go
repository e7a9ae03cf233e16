package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ContractType string

const (
	ContractTypeMasterAgreement     ContractType = "master_agreement"
	ContractTypeStatementOfWork     ContractType = "statement_of_work"
	ContractTypeCombined            ContractType = "combined"
	ContractTypeNDA                 ContractType = "nda"
	ContractTypeConsultingAgreement ContractType = "consulting_agreement"
	ContractTypeRetainer            ContractType = "retainer"
	ContractTypeAmendment           ContractType = "amendment"
)

// ContractTypes lists every supported type in display order.
var ContractTypes = []ContractType{
	ContractTypeMasterAgreement,
	ContractTypeStatementOfWork,
	ContractTypeCombined,
	ContractTypeNDA,
	ContractTypeConsultingAgreement,
	ContractTypeRetainer,
	ContractTypeAmendment,
}

func (t ContractType) Valid() bool {
	for _, known := range ContractTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Label returns the human readable document title for the type.
func (t ContractType) Label() string {
	switch t {
	case ContractTypeMasterAgreement:
		return "Master Services Agreement"
	case ContractTypeStatementOfWork:
		return "Statement of Work"
	case ContractTypeCombined:
		return "Master Services Agreement and Statement of Work"
	case ContractTypeNDA:
		return "Non-Disclosure Agreement"
	case ContractTypeConsultingAgreement:
		return "Consulting Agreement"
	case ContractTypeRetainer:
		return "Retainer Agreement"
	case ContractTypeAmendment:
		return "Contract Amendment"
	}
	return string(t)
}

// RequiresTotal reports whether a contract of this type must carry a
// resolved monetary total before it can be sent for signature.
func (t ContractType) RequiresTotal() bool {
	switch t {
	case ContractTypeStatementOfWork, ContractTypeCombined, ContractTypeConsultingAgreement, ContractTypeRetainer:
		return true
	case ContractTypeMasterAgreement, ContractTypeNDA, ContractTypeAmendment:
		return false
	}
	return false
}

type ContractStatus string

const (
	ContractStatusDraft            ContractStatus = "draft"
	ContractStatusPendingSignature ContractStatus = "pending_signature"
	ContractStatusPartiallySigned  ContractStatus = "partially_signed"
	ContractStatusSigned           ContractStatus = "signed"
	ContractStatusActive           ContractStatus = "active"
	ContractStatusVoided           ContractStatus = "voided"
	ContractStatusTerminated       ContractStatus = "terminated"
	ContractStatusExpired          ContractStatus = "expired"
)

// AcceptsSignatures is true while signers may still view-and-sign or decline.
func (s ContractStatus) AcceptsSignatures() bool {
	return s == ContractStatusPendingSignature || s == ContractStatusPartiallySigned
}

// IsTerminal reports statuses no transition leaves.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case ContractStatusVoided, ContractStatusTerminated, ContractStatusExpired:
		return true
	}
	return false
}

type SignatureMethod string

const (
	SignatureMethodTyped    SignatureMethod = "typed"
	SignatureMethodDrawn    SignatureMethod = "drawn"
	SignatureMethodUploaded SignatureMethod = "uploaded"
	SignatureMethodExternal SignatureMethod = "external"
)

func (m SignatureMethod) Valid() bool {
	switch m {
	case SignatureMethodTyped, SignatureMethodDrawn, SignatureMethodUploaded, SignatureMethodExternal:
		return true
	}
	return false
}

type Contract struct {
	ID               uuid.UUID        `gorm:"type:uuid;primary_key" json:"id"`
	TenantID         uuid.UUID        `gorm:"type:uuid;not null;index;uniqueIndex:idx_contract_number_version" json:"tenant_id"`
	OpportunityID    uuid.UUID        `gorm:"type:uuid;not null;index" json:"opportunity_id"`
	ContractNumber   string           `gorm:"size:40;not null;uniqueIndex:idx_contract_number_version" json:"contract_number"`
	Version          int              `gorm:"not null;default:1;uniqueIndex:idx_contract_number_version" json:"version"`
	ParentContractID *uuid.UUID       `gorm:"type:uuid;index" json:"parent_contract_id,omitempty"`
	Type             ContractType     `gorm:"type:varchar(40);not null" json:"type"`
	Title            string           `gorm:"not null" json:"title"`
	Status           ContractStatus   `gorm:"type:varchar(30);not null;default:'draft';index" json:"status"`
	Content          DocumentSnapshot `gorm:"type:text;serializer:json" json:"content"`
	TotalAmount      *int64           `json:"total_amount,omitempty"` // minor units
	Currency         string           `gorm:"size:3;default:'usd'" json:"currency"`
	PaymentTerms     string           `gorm:"type:text" json:"payment_terms"`
	EffectiveDate    *time.Time       `json:"effective_date,omitempty"`
	ExpirationDate   *time.Time       `json:"expiration_date,omitempty"`
	AutoRenew        bool             `gorm:"default:false" json:"auto_renew"`
	RenewalTerms     string           `gorm:"type:text" json:"renewal_terms,omitempty"`
	SignatureMethod  SignatureMethod  `gorm:"type:varchar(20);not null;default:'typed'" json:"signature_method"`

	StatementOfWorkID *uuid.UUID `gorm:"type:uuid" json:"statement_of_work_id,omitempty"`
	CostEstimateID    *uuid.UUID `gorm:"type:uuid" json:"cost_estimate_id,omitempty"`

	CreatedBy      uuid.UUID `gorm:"type:uuid;not null" json:"created_by"`
	CreatedByName  string    `json:"created_by_name"`
	CreatedByEmail string    `json:"created_by_email,omitempty"`

	GeneratedAt       *time.Time `json:"generated_at,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	SignedAt          *time.Time `json:"signed_at,omitempty"`
	ActivatedAt       *time.Time `json:"activated_at,omitempty"`
	VoidedAt          *time.Time `json:"voided_at,omitempty"`
	VoidReason        string     `gorm:"type:text" json:"void_reason,omitempty"`
	TerminatedAt      *time.Time `json:"terminated_at,omitempty"`
	TerminationReason string     `gorm:"type:text" json:"termination_reason,omitempty"`
	ExpiredAt         *time.Time `json:"expired_at,omitempty"`

	ExecutedDocumentKey string `json:"executed_document_key,omitempty"`

	// LockVersion is bumped on every status change; writers compare-and-set on it.
	LockVersion int64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relations
	SignatureRequests []SignatureRequest `gorm:"foreignKey:ContractID" json:"signature_requests,omitempty"`
}

func (c *Contract) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Status == "" {
		c.Status = ContractStatusDraft
	}
	return nil
}

// HasResolvedTotal is false when the type needs a total that was never set.
func (c *Contract) HasResolvedTotal() bool {
	if !c.Type.RequiresTotal() {
		return true
	}
	return c.TotalAmount != nil && *c.TotalAmount > 0
}

// EffectiveReached reports whether the effective date is set and has passed.
func (c *Contract) EffectiveReached(now time.Time) bool {
	return c.EffectiveDate != nil && !now.Before(*c.EffectiveDate)
}

// PublicView is the content disclosed to anonymous share-link and signing-link holders.
type PublicView struct {
	ContractID      uuid.UUID       `json:"contract_id"`
	ContractNumber  string          `json:"contract_number"`
	Version         int             `json:"version"`
	Type            ContractType    `json:"type"`
	TypeLabel       string          `json:"type_label"`
	Title           string          `json:"title"`
	Status          ContractStatus  `json:"status"`
	Sections        []Section       `json:"sections"`
	Text            string          `json:"text"`
	DocumentHash    string          `json:"document_hash"`
	TotalAmount     *int64          `json:"total_amount,omitempty"`
	Currency        string          `json:"currency"`
	PaymentTerms    string          `json:"payment_terms,omitempty"`
	EffectiveDate   *time.Time      `json:"effective_date,omitempty"`
	ExpirationDate  *time.Time      `json:"expiration_date,omitempty"`
	SignatureMethod SignatureMethod `json:"signature_method"`
}

func (c *Contract) ToPublicView() PublicView {
	return PublicView{
		ContractID:      c.ID,
		ContractNumber:  c.ContractNumber,
		Version:         c.Version,
		Type:            c.Type,
		TypeLabel:       c.Type.Label(),
		Title:           c.Title,
		Status:          c.Status,
		Sections:        c.Content.SectionList(),
		Text:            c.Content.Render(),
		DocumentHash:    c.Content.Hash,
		TotalAmount:     c.TotalAmount,
		Currency:        c.Currency,
		PaymentTerms:    c.PaymentTerms,
		EffectiveDate:   c.EffectiveDate,
		ExpirationDate:  c.ExpirationDate,
		SignatureMethod: c.SignatureMethod,
	}
}
