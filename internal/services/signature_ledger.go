package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxSignatureImageSize bounds decoded drawn or uploaded signature images (2MB).
const MaxSignatureImageSize = 2 * 1024 * 1024

// SignerSpec describes one signer to invite.
type SignerSpec struct {
	Name        string            `json:"name" binding:"required"`
	Email       string            `json:"email" binding:"required,email"`
	Title       string            `json:"title"`
	Company     string            `json:"company"`
	SignerType  models.SignerType `json:"signer_type" binding:"required"`
	SignerOrder int               `json:"signer_order"`
}

// SignatureEvidence is what a signer submits to sign.
type SignatureEvidence struct {
	Method    models.SignatureMethod `json:"method"`
	TypedName string                 `json:"typed_name"`
	ImageData string                 `json:"image_data"` // data URL for drawn or uploaded signatures
	Provider  string                 `json:"provider"`
	Reference string                 `json:"reference"`
	Agreed    bool                   `json:"agreed"`
}

// LedgerSummary aggregates a contract's signature requests.
type LedgerSummary struct {
	Total    int                    `json:"total"`
	Signed   int                    `json:"signed"`
	Declined int                    `json:"declined"`
	Pending  int                    `json:"pending"`
	Expired  int                    `json:"expired"`
	Signers  []models.SignerSummary `json:"signers"`
}

// SignatureLedger records per-signer requests and their outcomes.
type SignatureLedger struct {
	config *config.Config
	audit  *AuditRecorder
	now    func() time.Time
}

func NewSignatureLedger(cfg *config.Config, audit *AuditRecorder) *SignatureLedger {
	return &SignatureLedger{config: cfg, audit: audit, now: time.Now}
}

func signerActor(r *models.SignatureRequest, client ClientInfo) models.Actor {
	return models.Actor{
		Type:      models.ActorTypeSigner,
		ID:        r.ID.String(),
		Name:      r.Name,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	}
}

// AddSigners creates one request per signer for a contract that is still a draft.
func (l *SignatureLedger) AddSigners(ctx context.Context, tx *gorm.DB, contract *models.Contract, specs []SignerSpec, actor models.Actor) ([]models.SignatureRequest, error) {
	if contract.Status != models.ContractStatusDraft {
		return nil, invalidState("signers can only be added to draft contracts")
	}
	if len(specs) == 0 {
		return nil, invalidInput("at least one signer is required")
	}

	now := l.now().UTC()
	expires := now.Add(l.config.SigningTokenTTL())
	seen := make(map[string]bool, len(specs))
	requests := make([]models.SignatureRequest, 0, len(specs))

	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, invalidInput("signer %d: name is required", i+1)
		}
		addr, err := mail.ParseAddress(strings.TrimSpace(spec.Email))
		if err != nil {
			return nil, invalidInput("signer %d: invalid email", i+1)
		}
		email := strings.ToLower(addr.Address)
		if seen[email] {
			return nil, invalidInput("signer %d: duplicate email %s", i+1, email)
		}
		seen[email] = true
		if !spec.SignerType.Valid() {
			return nil, invalidInput("signer %d: unknown signer type %q", i+1, spec.SignerType)
		}

		order := spec.SignerOrder
		if order <= 0 {
			order = i + 1
		}

		token, err := randomToken()
		if err != nil {
			return nil, err
		}

		requests = append(requests, models.SignatureRequest{
			ContractID:     contract.ID,
			SignerType:     spec.SignerType,
			SignerOrder:    order,
			Name:           name,
			Email:          email,
			Title:          strings.TrimSpace(spec.Title),
			Company:        strings.TrimSpace(spec.Company),
			Token:          token,
			TokenExpiresAt: expires,
			Status:         models.SignatureStatusPending,
		})
	}

	if err := tx.WithContext(ctx).Create(&requests).Error; err != nil {
		return nil, err
	}

	for i := range requests {
		r := &requests[i]
		l.audit.Record(ctx, tx, newEntry(contract, models.AuditActionSent, actor, map[string]any{
			"signature_id": r.ID.String(),
			"signer_name":  r.Name,
			"signer_email": r.Email,
			"signer_type":  string(r.SignerType),
			"signer_order": r.SignerOrder,
			"expires_at":   r.TokenExpiresAt.Format(time.RFC3339),
		}))
	}

	return requests, nil
}

// FindByToken resolves a signing token without locking.
func (l *SignatureLedger) FindByToken(ctx context.Context, db *gorm.DB, token string) (*models.SignatureRequest, error) {
	if token == "" {
		return nil, errSignatureNotFound
	}
	var r models.SignatureRequest
	if err := db.WithContext(ctx).Where("token = ?", token).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errSignatureNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (l *SignatureLedger) lockRequest(ctx context.Context, tx *gorm.DB, contractID uuid.UUID, token string) (*models.SignatureRequest, error) {
	var r models.SignatureRequest
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token = ? AND contract_id = ?", token, contractID).
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errSignatureNotFound
		}
		return nil, err
	}
	return &r, nil
}

// RecordView marks a pending request as viewed. Only the first view is
// audited; every later view, and any view of a finalized or lapsed
// request, is a no-op.
func (l *SignatureLedger) RecordView(ctx context.Context, tx *gorm.DB, contract *models.Contract, token string, client ClientInfo) (*models.SignatureRequest, error) {
	r, err := l.lockRequest(ctx, tx, contract.ID, token)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	if r.Status != models.SignatureStatusPending || r.TokenExpired(now) || !contract.Status.AcceptsSignatures() {
		logger.WithContext(ctx).Info("signing view not recorded",
			"signature_id", r.ID,
			"status", r.Status,
			"contract_status", contract.Status,
		)
		return r, nil
	}

	res := tx.WithContext(ctx).Model(&models.SignatureRequest{}).
		Where("id = ? AND status = ?", r.ID, models.SignatureStatusPending).
		Updates(map[string]any{"status": models.SignatureStatusViewed, "viewed_at": now, "updated_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return r, nil
	}

	r.Status = models.SignatureStatusViewed
	r.ViewedAt = &now
	l.audit.Record(ctx, tx, newEntry(contract, models.AuditActionViewedSigning, signerActor(r, client), map[string]any{
		"signature_id": r.ID.String(),
	}))
	return r, nil
}

// checkActionable applies the shared preconditions of sign and decline.
// An expired token is checked first so that it always reports as expired;
// the request is marked expired as a side effect.
func (l *SignatureLedger) checkActionable(ctx context.Context, tx *gorm.DB, contract *models.Contract, r *models.SignatureRequest, now time.Time) error {
	if r.Status == models.SignatureStatusExpired || (r.IsOutstanding() && r.TokenExpired(now)) {
		if r.IsOutstanding() {
			err := tx.WithContext(ctx).Model(&models.SignatureRequest{}).
				Where("id = ?", r.ID).
				Updates(map[string]any{"status": models.SignatureStatusExpired, "updated_at": now}).Error
			if err != nil {
				return err
			}
			r.Status = models.SignatureStatusExpired
		}
		return errTokenExpired
	}
	if r.IsFinalized() {
		return errAlreadyFinalized
	}
	if !contract.Status.AcceptsSignatures() {
		return errAlreadyFinalized
	}
	return nil
}

// checkOrder rejects a signer while anyone with a lower order is still outstanding.
func (l *SignatureLedger) checkOrder(ctx context.Context, tx *gorm.DB, r *models.SignatureRequest) error {
	if !l.config.EnforceSigningOrder {
		return nil
	}
	var earlier int64
	err := tx.WithContext(ctx).Model(&models.SignatureRequest{}).
		Where("contract_id = ? AND signer_order < ? AND status IN ?", r.ContractID, r.SignerOrder,
			[]models.SignatureStatus{models.SignatureStatusPending, models.SignatureStatusViewed}).
		Count(&earlier).Error
	if err != nil {
		return err
	}
	if earlier > 0 {
		return invalidState("waiting for %d earlier signer(s)", earlier)
	}
	return nil
}

// RecordSignature validates evidence against the contract's signature
// method and records the signature.
func (l *SignatureLedger) RecordSignature(ctx context.Context, tx *gorm.DB, contract *models.Contract, token string, evidence SignatureEvidence, client ClientInfo) (*models.SignatureRequest, error) {
	r, err := l.lockRequest(ctx, tx, contract.ID, token)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	if err := l.checkActionable(ctx, tx, contract, r, now); err != nil {
		return r, err
	}

	data, err := validateEvidence(contract.SignatureMethod, evidence)
	if err != nil {
		return r, err
	}
	if err := l.checkOrder(ctx, tx, r); err != nil {
		return r, err
	}

	evidenceHash, err := hashEvidence(r, contract, data, evidence, client, now)
	if err != nil {
		return r, err
	}

	updates := map[string]any{
		"status":             models.SignatureStatusSigned,
		"signature_method":   contract.SignatureMethod,
		"signature_data":     data,
		"signature_provider": strings.TrimSpace(evidence.Provider),
		"evidence_hash":      evidenceHash,
		"document_hash":      contract.Content.Hash,
		"signed_at":          now,
		"ip_address":         client.IPAddress,
		"user_agent":         truncate(client.UserAgent, 255),
		"updated_at":         now,
	}
	if r.ViewedAt == nil {
		updates["viewed_at"] = now
	}

	res := tx.WithContext(ctx).Model(&models.SignatureRequest{}).
		Where("id = ? AND status IN ?", r.ID, []models.SignatureStatus{models.SignatureStatusPending, models.SignatureStatusViewed}).
		Updates(updates)
	if res.Error != nil {
		return r, res.Error
	}
	if res.RowsAffected == 0 {
		return r, errAlreadyFinalized
	}

	r.Status = models.SignatureStatusSigned
	r.SignatureMethod = contract.SignatureMethod
	r.SignatureData = data
	r.SignatureProvider = strings.TrimSpace(evidence.Provider)
	r.EvidenceHash = evidenceHash
	r.DocumentHash = contract.Content.Hash
	r.SignedAt = &now
	r.IPAddress = client.IPAddress
	r.UserAgent = truncate(client.UserAgent, 255)
	if r.ViewedAt == nil {
		r.ViewedAt = &now
	}

	l.audit.Record(ctx, tx, newEntry(contract, models.AuditActionSigned, signerActor(r, client), map[string]any{
		"signature_id":  r.ID.String(),
		"method":        string(r.SignatureMethod),
		"evidence_hash": evidenceHash,
		"document_hash": r.DocumentHash,
	}))
	return r, nil
}

// RecordDecline records a refusal to sign.
func (l *SignatureLedger) RecordDecline(ctx context.Context, tx *gorm.DB, contract *models.Contract, token, reason string, client ClientInfo) (*models.SignatureRequest, error) {
	r, err := l.lockRequest(ctx, tx, contract.ID, token)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	if err := l.checkActionable(ctx, tx, contract, r, now); err != nil {
		return r, err
	}

	reason = strings.TrimSpace(reason)
	res := tx.WithContext(ctx).Model(&models.SignatureRequest{}).
		Where("id = ? AND status IN ?", r.ID, []models.SignatureStatus{models.SignatureStatusPending, models.SignatureStatusViewed}).
		Updates(map[string]any{
			"status":         models.SignatureStatusDeclined,
			"declined_at":    now,
			"decline_reason": reason,
			"ip_address":     client.IPAddress,
			"user_agent":     truncate(client.UserAgent, 255),
			"updated_at":     now,
		})
	if res.Error != nil {
		return r, res.Error
	}
	if res.RowsAffected == 0 {
		return r, errAlreadyFinalized
	}

	r.Status = models.SignatureStatusDeclined
	r.DeclinedAt = &now
	r.DeclineReason = reason
	r.IPAddress = client.IPAddress
	r.UserAgent = truncate(client.UserAgent, 255)

	l.audit.Record(ctx, tx, newEntry(contract, models.AuditActionDeclined, signerActor(r, client), map[string]any{
		"signature_id": r.ID.String(),
		"reason":       reason,
	}))
	return r, nil
}

// Resend stamps a reminder on an outstanding request. The token is not rotated.
func (l *SignatureLedger) Resend(ctx context.Context, tx *gorm.DB, contract *models.Contract, signatureID uuid.UUID, actor models.Actor) (*models.SignatureRequest, error) {
	var r models.SignatureRequest
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND contract_id = ?", signatureID, contract.ID).
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errSignatureNotFound
		}
		return nil, err
	}

	now := l.now().UTC()
	if r.IsFinalized() {
		return nil, errAlreadyFinalized
	}
	if r.Status == models.SignatureStatusExpired || r.TokenExpired(now) {
		return nil, errTokenExpired
	}
	if !contract.Status.AcceptsSignatures() {
		return nil, invalidState("contract is %s", contract.Status)
	}

	err = tx.WithContext(ctx).Model(&models.SignatureRequest{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{
			"reminder_sent_at": now,
			"reminder_count":   gorm.Expr("reminder_count + 1"),
			"updated_at":       now,
		}).Error
	if err != nil {
		return nil, err
	}
	r.ReminderSentAt = &now
	r.ReminderCount++

	l.audit.Record(ctx, tx, newEntry(contract, models.AuditActionReminderSent, actor, map[string]any{
		"signature_id":   r.ID.String(),
		"signer_email":   r.Email,
		"reminder_count": r.ReminderCount,
	}))
	return &r, nil
}

// Requests lists a contract's signature requests in signing order.
func (l *SignatureLedger) Requests(ctx context.Context, db *gorm.DB, contractID uuid.UUID) ([]models.SignatureRequest, error) {
	requests := []models.SignatureRequest{}
	err := db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("signer_order ASC").
		Order("created_at ASC").
		Find(&requests).Error
	return requests, err
}

// StatusSummary aggregates the ledger of one contract.
func (l *SignatureLedger) StatusSummary(ctx context.Context, db *gorm.DB, contractID uuid.UUID) (*LedgerSummary, error) {
	requests, err := l.Requests(ctx, db, contractID)
	if err != nil {
		return nil, err
	}
	return summarize(requests), nil
}

func summarize(requests []models.SignatureRequest) *LedgerSummary {
	s := &LedgerSummary{Signers: make([]models.SignerSummary, 0, len(requests))}
	sort.SliceStable(requests, func(i, j int) bool { return requests[i].SignerOrder < requests[j].SignerOrder })
	for i := range requests {
		r := &requests[i]
		s.Total++
		switch r.Status {
		case models.SignatureStatusSigned:
			s.Signed++
		case models.SignatureStatusDeclined:
			s.Declined++
		case models.SignatureStatusExpired:
			s.Expired++
		default:
			s.Pending++
		}
		s.Signers = append(s.Signers, r.ToSummary())
	}
	return s
}

// validateEvidence checks evidence against the configured method and
// returns the value stored as signature data.
func validateEvidence(method models.SignatureMethod, ev SignatureEvidence) (string, error) {
	if ev.Method != "" && ev.Method != method {
		return "", invalidEvidence("contract requires a %s signature", method)
	}
	if !ev.Agreed {
		return "", invalidEvidence("consent to sign electronically is required")
	}

	switch method {
	case models.SignatureMethodTyped:
		name := strings.TrimSpace(ev.TypedName)
		if name == "" {
			return "", invalidEvidence("typed name is required")
		}
		if len(name) > 200 {
			return "", invalidEvidence("typed name is too long")
		}
		return name, nil

	case models.SignatureMethodDrawn:
		if err := validateImage(ev.ImageData, "image/png"); err != nil {
			return "", err
		}
		return ev.ImageData, nil

	case models.SignatureMethodUploaded:
		if err := validateImage(ev.ImageData, "image/png", "image/jpeg"); err != nil {
			return "", err
		}
		return ev.ImageData, nil

	case models.SignatureMethodExternal:
		provider := strings.TrimSpace(ev.Provider)
		reference := strings.TrimSpace(ev.Reference)
		if provider == "" || reference == "" {
			return "", invalidEvidence("external signatures need a provider and reference")
		}
		return reference, nil
	}

	return "", invalidEvidence("unsupported signature method %q", method)
}

// decodeDataURL splits a base64 data URL into its declared type and payload.
func decodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, invalidEvidence("signature image must be a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, invalidEvidence("signature image must be base64 encoded")
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxSignatureImageSize+3 {
		return "", nil, invalidEvidence("signature image exceeds 2MB")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, invalidEvidence("signature image is not valid base64")
	}
	return strings.TrimSuffix(meta, ";base64"), raw, nil
}

func validateImage(dataURL string, allowed ...string) error {
	declared, raw, err := decodeDataURL(strings.TrimSpace(dataURL))
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return invalidEvidence("signature image is empty")
	}
	if len(raw) > MaxSignatureImageSize {
		return invalidEvidence("signature image exceeds 2MB")
	}
	detected := http.DetectContentType(raw)
	for _, a := range allowed {
		if declared == a && detected == a {
			return nil
		}
	}
	return invalidEvidence("signature image must be one of %s", strings.Join(allowed, ", "))
}

// hashEvidence fingerprints the signing event over the document hash it was made against.
func hashEvidence(r *models.SignatureRequest, contract *models.Contract, data string, ev SignatureEvidence, client ClientInfo, at time.Time) (string, error) {
	payload := struct {
		SignatureID  string `json:"signature_id"`
		ContractID   string `json:"contract_id"`
		Method       string `json:"method"`
		Data         string `json:"data"`
		Provider     string `json:"provider,omitempty"`
		DocumentHash string `json:"document_hash"`
		SignerEmail  string `json:"signer_email"`
		IPAddress    string `json:"ip_address"`
		SignedAt     string `json:"signed_at"`
	}{
		SignatureID:  r.ID.String(),
		ContractID:   contract.ID.String(),
		Method:       string(contract.SignatureMethod),
		Data:         data,
		Provider:     strings.TrimSpace(ev.Provider),
		DocumentHash: contract.Content.Hash,
		SignerEmail:  r.Email,
		IPAddress:    client.IPAddress,
		SignedAt:     at.Format(time.RFC3339Nano),
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
