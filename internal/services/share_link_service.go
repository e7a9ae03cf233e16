package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/models"
	"gorm.io/gorm"
)

// ShareInput configures a new share link.
type ShareInput struct {
	ExpiresInDays int    `json:"expires_in_days"`
	Password      string `json:"password"`
}

// ShareResult is returned once, at creation; the token is not retrievable later.
type ShareResult struct {
	Token             string    `json:"token"`
	URL               string    `json:"url"`
	ExpiresAt         time.Time `json:"expires_at"`
	PasswordProtected bool      `json:"password_protected"`
}

type passwordHasher interface {
	HashPassword(password string) (string, error)
	CheckPassword(password, hash string) bool
}

// ShareLinkManager issues and resolves anonymous read links.
type ShareLinkManager struct {
	config *config.Config
	hasher passwordHasher
	audit  *AuditRecorder
	now    func() time.Time
}

func NewShareLinkManager(cfg *config.Config, hasher passwordHasher, audit *AuditRecorder) *ShareLinkManager {
	return &ShareLinkManager{config: cfg, hasher: hasher, audit: audit, now: time.Now}
}

// Create issues a link for a contract that has left draft. The new link
// supersedes every earlier link of the same contract.
func (m *ShareLinkManager) Create(ctx context.Context, tx *gorm.DB, contract *models.Contract, input ShareInput, createdBy uuid.UUID, actor models.Actor) (*ShareResult, error) {
	if contract.Status == models.ContractStatusDraft {
		return nil, invalidState("draft contracts cannot be shared")
	}

	days := input.ExpiresInDays
	if days == 0 {
		days = m.config.ShareLinkDefaultDays
	}
	if days < 1 || days > m.config.ShareLinkMaxDays {
		return nil, invalidInput("expires_in_days must be between 1 and %d", m.config.ShareLinkMaxDays)
	}
	if input.Password != "" && len(input.Password) < 4 {
		return nil, invalidInput("password must be at least 4 characters")
	}

	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	link := models.ShareLink{
		ContractID: contract.ID,
		Token:      token,
		ExpiresAt:  now.AddDate(0, 0, days),
		CreatedBy:  createdBy,
		CreatedAt:  now,
	}
	if input.Password != "" {
		hash, err := m.hasher.HashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash = hash
	}

	if err := tx.WithContext(ctx).Create(&link).Error; err != nil {
		return nil, err
	}

	m.audit.Record(ctx, tx, newEntry(contract, models.AuditActionShared, actor, map[string]any{
		"share_link_id":      link.ID.String(),
		"expires_at":         link.ExpiresAt.Format(time.RFC3339),
		"password_protected": link.PasswordProtected(),
	}))

	return &ShareResult{
		Token:             token,
		URL:               m.config.AppURL + "/public/contracts/" + token,
		ExpiresAt:         link.ExpiresAt,
		PasswordProtected: link.PasswordProtected(),
	}, nil
}

// Resolve finds the live link for token. Superseded and unknown tokens
// are indistinguishable; expired ones report errShareExpired.
func (m *ShareLinkManager) Resolve(ctx context.Context, db *gorm.DB, token string) (*models.ShareLink, error) {
	if token == "" {
		return nil, errShareNotFound
	}

	var link models.ShareLink
	if err := db.WithContext(ctx).Where("token = ?", token).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errShareNotFound
		}
		return nil, err
	}

	var latest models.ShareLink
	err := db.WithContext(ctx).
		Select("id").
		Where("contract_id = ?", link.ContractID).
		Order("created_at DESC").
		Order("id DESC").
		First(&latest).Error
	if err != nil {
		return nil, err
	}
	if latest.ID != link.ID {
		return nil, errShareNotFound
	}

	if link.IsExpired(m.now()) {
		return nil, errShareExpired
	}
	return &link, nil
}

// VerifyPassword checks candidate against a protected link. Repeated
// failures lock the link for the configured window.
func (m *ShareLinkManager) VerifyPassword(ctx context.Context, db *gorm.DB, link *models.ShareLink, contract *models.Contract, candidate string, actor models.Actor) error {
	if !link.PasswordProtected() {
		return nil
	}

	meta := map[string]any{"share_link_id": link.ID.String()}

	since := m.now().Add(-m.config.SharePasswordLockout)
	if link.CreatedAt.After(since) {
		since = link.CreatedAt
	}
	failures, err := m.audit.countSince(ctx, db, contract.ID, models.AuditActionPasswordFailed, since)
	if err != nil {
		return err
	}
	if m.config.SharePasswordMaxAttempts > 0 && failures >= int64(m.config.SharePasswordMaxAttempts) {
		meta["locked"] = true
		m.audit.Record(ctx, db, newEntry(contract, models.AuditActionPasswordFailed, actor, meta))
		logger.WithContext(ctx).Warn("share link password locked",
			"share_link_id", link.ID,
			"contract_id", contract.ID,
			"failures", failures,
		)
		return errInvalidPassword
	}

	if candidate == "" || !m.hasher.CheckPassword(candidate, link.PasswordHash) {
		m.audit.Record(ctx, db, newEntry(contract, models.AuditActionPasswordFailed, actor, meta))
		return errInvalidPassword
	}

	m.audit.Record(ctx, db, newEntry(contract, models.AuditActionPasswordSucceeded, actor, meta))
	return nil
}

// RecordView audits a disclosure of contract content through link and
// flips the link's viewed flag on its first view.
func (m *ShareLinkManager) RecordView(ctx context.Context, db *gorm.DB, link *models.ShareLink, contract *models.Contract, actor models.Actor) error {
	m.audit.Record(ctx, db, newEntry(contract, models.AuditActionViewedPublic, actor, map[string]any{
		"share_link_id": link.ID.String(),
		"first_view":    !link.Viewed,
	}))

	if link.Viewed {
		return nil
	}

	now := m.now().UTC()
	res := db.WithContext(ctx).Model(&models.ShareLink{}).
		Where("id = ? AND viewed = ?", link.ID, false).
		Updates(map[string]any{"viewed": true, "viewed_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		link.Viewed = true
		link.ViewedAt = &now
	}
	return nil
}
