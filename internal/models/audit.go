package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditActionCreated           AuditAction = "created"
	AuditActionGenerated         AuditAction = "generated"
	AuditActionUpdated           AuditAction = "updated"
	AuditActionDeleted           AuditAction = "deleted"
	AuditActionRevised           AuditAction = "revised"
	AuditActionShared            AuditAction = "shared"
	AuditActionSent              AuditAction = "sent"
	AuditActionViewedPublic      AuditAction = "viewed_public"
	AuditActionViewedSigning     AuditAction = "viewed_signing"
	AuditActionSigned            AuditAction = "signed"
	AuditActionDeclined          AuditAction = "declined"
	AuditActionReminderSent      AuditAction = "reminder_sent"
	AuditActionVoided            AuditAction = "voided"
	AuditActionTerminated        AuditAction = "terminated"
	AuditActionStatusChanged     AuditAction = "status_changed"
	AuditActionPasswordFailed    AuditAction = "password_verify_failed"
	AuditActionPasswordSucceeded AuditAction = "password_verify_succeeded"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSigner ActorType = "signer"
	ActorTypeSystem ActorType = "system"
	ActorTypePublic ActorType = "public"
)

// AuditLogEntry is append-only; nothing updates or deletes rows of this table.
type AuditLogEntry struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ContractID uuid.UUID      `gorm:"type:uuid;not null;index" json:"contract_id"`
	TenantID   uuid.UUID      `gorm:"type:uuid;index" json:"-"`
	Action     AuditAction    `gorm:"type:varchar(40);not null;index" json:"action"`
	ActorType  ActorType      `gorm:"type:varchar(20);not null" json:"actor_type"`
	ActorID    string         `gorm:"size:64" json:"actor_id,omitempty"`
	ActorName  string         `json:"actor_name,omitempty"`
	IPAddress  string         `gorm:"size:45" json:"ip_address,omitempty"`
	UserAgent  string         `gorm:"size:255" json:"user_agent,omitempty"`
	Metadata   map[string]any `gorm:"type:text;serializer:json" json:"metadata,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (AuditLogEntry) TableName() string {
	return "contract_audit_logs"
}

// Actor identifies who performed an action.
type Actor struct {
	Type      ActorType
	ID        string
	Name      string
	IPAddress string
	UserAgent string
}

// SystemActor is used for transitions the service performs on its own.
var SystemActor = Actor{Type: ActorTypeSystem, Name: "system"}
