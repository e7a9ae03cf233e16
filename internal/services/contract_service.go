package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Principal is an authenticated staff caller.
type Principal struct {
	UserID    uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Email     string
	IPAddress string
	UserAgent string
}

func (p Principal) actor() models.Actor {
	return models.Actor{
		Type:      models.ActorTypeUser,
		ID:        p.UserID.String(),
		Name:      p.Name,
		IPAddress: p.IPAddress,
		UserAgent: p.UserAgent,
	}
}

// ClientInfo describes an anonymous caller holding a share or signing token.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

func (c ClientInfo) actor() models.Actor {
	return models.Actor{Type: models.ActorTypePublic, IPAddress: c.IPAddress, UserAgent: truncate(c.UserAgent, 255)}
}

// ContractInput holds the commercial terms shared by create, update and revise.
type ContractInput struct {
	Title             *string                 `json:"title"`
	Sections          []models.Section        `json:"sections"`
	TotalAmount       *int64                  `json:"total_amount"`
	Currency          *string                 `json:"currency"`
	PaymentTerms      *string                 `json:"payment_terms"`
	EffectiveDate     *time.Time              `json:"effective_date"`
	ExpirationDate    *time.Time              `json:"expiration_date"`
	AutoRenew         *bool                   `json:"auto_renew"`
	RenewalTerms      *string                 `json:"renewal_terms"`
	SignatureMethod   *models.SignatureMethod `json:"signature_method"`
	StatementOfWorkID *uuid.UUID              `json:"statement_of_work_id"`
	CostEstimateID    *uuid.UUID              `json:"cost_estimate_id"`
}

// CreateContractInput creates a draft from caller-supplied sections.
type CreateContractInput struct {
	Type models.ContractType `json:"type" binding:"required"`
	ContractInput
}

// GenerateContractInput creates a draft from generated sections.
type GenerateContractInput struct {
	GenerationRequest
	SignatureMethod models.SignatureMethod `json:"signature_method"`
}

// RegenerateInput adds prompt context when re-drafting an existing draft.
type RegenerateInput struct {
	ProviderName       string `json:"provider_name"`
	ClientName         string `json:"client_name"`
	ClientCompany      string `json:"client_company"`
	ScopeSummary       string `json:"scope_summary"`
	CustomInstructions string `json:"custom_instructions"`
}

// ShareView is what an anonymous share-link holder receives.
type ShareView struct {
	PasswordRequired bool               `json:"password_required"`
	ExpiresAt        time.Time          `json:"expires_at"`
	Contract         *models.PublicView `json:"contract,omitempty"`
}

// SigningView is what a signer sees before signing.
type SigningView struct {
	Contract models.PublicView    `json:"contract"`
	Signer   models.SignerSummary `json:"signer"`
	CanSign  bool                 `json:"can_sign"`
}

// SigningResult reports the outcome of a sign or decline.
type SigningResult struct {
	Signer         models.SignerSummary  `json:"signer"`
	ContractStatus models.ContractStatus `json:"contract_status"`
	EvidenceHash   string                `json:"evidence_hash,omitempty"`
}

// AuditPage is one page of an audit trail.
type AuditPage struct {
	Entries []models.AuditLogEntry `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// Dependencies are the pluggable collaborators of ContractService. Nil
// fields get defaults: built-in templates, no archive, no cache, SMTP email.
type Dependencies struct {
	Generator Generator
	Store     DocumentStore
	Cache     ViewCache
	Notifier  Notifier
}

// ContractService is the single entry point for contract operations. It
// serializes writers per contract and translates every failure into *Error.
type ContractService struct {
	config    *config.Config
	db        *gorm.DB
	locks     *keyedMutex
	audit     *AuditRecorder
	machine   *StateMachine
	ledger    *SignatureLedger
	shares    *ShareLinkManager
	documents *DocumentService
	generator Generator
	store     DocumentStore
	cache     ViewCache
	notifier  Notifier
	now       func() time.Time
}

func NewContractService(cfg *config.Config, db *gorm.DB, auth *AuthService, deps Dependencies) *ContractService {
	audit := NewAuditRecorder()
	s := &ContractService{
		config:    cfg,
		db:        db,
		locks:     newKeyedMutex(),
		audit:     audit,
		machine:   NewStateMachine(audit),
		ledger:    NewSignatureLedger(cfg, audit),
		shares:    NewShareLinkManager(cfg, auth, audit),
		documents: NewDocumentService(cfg),
		generator: deps.Generator,
		store:     deps.Store,
		cache:     deps.Cache,
		notifier:  deps.Notifier,
		now:       time.Now,
	}
	if s.generator == nil {
		s.generator = NewTemplateGenerator(cfg.AppName)
	}
	if s.cache == nil {
		s.cache = noopViewCache{}
	}
	if s.notifier == nil {
		s.notifier = NewEmailService(cfg)
	}
	return s
}

// setClock replaces the time source of every component.
func (s *ContractService) setClock(now func() time.Time) {
	s.now = now
	s.audit.now = now
	s.machine.now = now
	s.ledger.now = now
	s.shares.now = now
}

func scopedTo(p Principal, opportunityID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("tenant_id = ? AND opportunity_id = ?", p.TenantID, opportunityID)
	}
}

// mutate runs fn in a transaction while holding the contract's lock.
func (s *ContractService) mutate(ctx context.Context, id uuid.UUID, scope func(*gorm.DB) *gorm.DB, fn func(tx *gorm.DB, c *models.Contract) error) (*models.Contract, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var contract models.Contract
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id)
		if scope != nil {
			q = scope(q)
		}
		if err := q.First(&contract).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errContractNotFound
			}
			return err
		}
		return fn(tx, &contract)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, id)
	return &contract, nil
}

func (s *ContractService) find(ctx context.Context, p Principal, opportunityID, id uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	err := scopedTo(p, opportunityID)(s.db.WithContext(ctx)).Where("id = ?", id).First(&contract).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errContractNotFound
		}
		return nil, err
	}
	return s.refresh(ctx, &contract), nil
}

// refresh applies time-driven transitions that have come due since the
// contract was last written. Failures leave the caller with the stored state.
func (s *ContractService) refresh(ctx context.Context, c *models.Contract) *models.Contract {
	due, err := s.machine.NeedsReevaluation(ctx, s.db, c)
	if err != nil || !due {
		return c
	}

	updated, err := s.mutate(ctx, c.ID, nil, func(tx *gorm.DB, fresh *models.Contract) error {
		return s.machine.Reevaluate(ctx, tx, fresh)
	})
	if err != nil {
		logger.WithContext(ctx).Warn("contract refresh failed", "contract_id", c.ID, "error", err)
		return c
	}
	return updated
}

// List returns an opportunity's contracts, newest first.
func (s *ContractService) List(ctx context.Context, p Principal, opportunityID uuid.UUID) ([]models.Contract, error) {
	var contracts []models.Contract
	err := scopedTo(p, opportunityID)(s.db.WithContext(ctx)).
		Order("created_at DESC").
		Order("version DESC").
		Find(&contracts).Error
	if err != nil {
		return nil, translate(err)
	}
	for i := range contracts {
		contracts[i] = *s.refresh(ctx, &contracts[i])
	}
	return contracts, nil
}

// Get returns a contract together with its signature requests.
func (s *ContractService) Get(ctx context.Context, p Principal, opportunityID, id uuid.UUID) (*models.Contract, error) {
	contract, err := s.find(ctx, p, opportunityID, id)
	if err != nil {
		return nil, translate(err)
	}
	requests, err := s.ledger.Requests(ctx, s.db, contract.ID)
	if err != nil {
		return nil, translate(err)
	}
	contract.SignatureRequests = requests
	return contract, nil
}

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// validateTerms checks the commercial fields of a contract.
func validateTerms(c *models.Contract) error {
	if !c.Type.Valid() {
		return invalidInput("unknown contract type %q", c.Type)
	}
	if strings.TrimSpace(c.Title) == "" {
		return invalidInput("title is required")
	}
	if c.TotalAmount != nil && *c.TotalAmount < 0 {
		return invalidInput("total_amount must not be negative")
	}
	if !currencyPattern.MatchString(c.Currency) {
		return invalidInput("currency must be a three letter code")
	}
	if c.EffectiveDate != nil && c.ExpirationDate != nil && !c.ExpirationDate.After(*c.EffectiveDate) {
		return invalidInput("expiration_date must be after effective_date")
	}
	if !c.SignatureMethod.Valid() {
		return invalidInput("unknown signature method %q", c.SignatureMethod)
	}
	return nil
}

// apply copies the set fields of in onto c.
func (in ContractInput) apply(c *models.Contract) []string {
	var changed []string
	if in.Title != nil {
		c.Title = strings.TrimSpace(*in.Title)
		changed = append(changed, "title")
	}
	if in.Sections != nil {
		c.Content = models.NewDocumentSnapshot(in.Sections)
		changed = append(changed, "content")
	}
	if in.TotalAmount != nil {
		amount := *in.TotalAmount
		c.TotalAmount = &amount
		changed = append(changed, "total_amount")
	}
	if in.Currency != nil {
		c.Currency = strings.ToLower(strings.TrimSpace(*in.Currency))
		changed = append(changed, "currency")
	}
	if in.PaymentTerms != nil {
		c.PaymentTerms = *in.PaymentTerms
		changed = append(changed, "payment_terms")
	}
	if in.EffectiveDate != nil {
		d := in.EffectiveDate.UTC()
		c.EffectiveDate = &d
		changed = append(changed, "effective_date")
	}
	if in.ExpirationDate != nil {
		d := in.ExpirationDate.UTC()
		c.ExpirationDate = &d
		changed = append(changed, "expiration_date")
	}
	if in.AutoRenew != nil {
		c.AutoRenew = *in.AutoRenew
		changed = append(changed, "auto_renew")
	}
	if in.RenewalTerms != nil {
		c.RenewalTerms = *in.RenewalTerms
		changed = append(changed, "renewal_terms")
	}
	if in.SignatureMethod != nil {
		c.SignatureMethod = *in.SignatureMethod
		changed = append(changed, "signature_method")
	}
	if in.StatementOfWorkID != nil {
		id := *in.StatementOfWorkID
		c.StatementOfWorkID = &id
		changed = append(changed, "statement_of_work_id")
	}
	if in.CostEstimateID != nil {
		id := *in.CostEstimateID
		c.CostEstimateID = &id
		changed = append(changed, "cost_estimate_id")
	}
	return changed
}

func (s *ContractService) newDraft(p Principal, opportunityID uuid.UUID, typ models.ContractType) *models.Contract {
	return &models.Contract{
		TenantID:        p.TenantID,
		OpportunityID:   opportunityID,
		Type:            typ,
		Title:           typ.Label(),
		Status:          models.ContractStatusDraft,
		Currency:        "usd",
		SignatureMethod: models.SignatureMethodTyped,
		CreatedBy:       p.UserID,
		CreatedByName:   p.Name,
		CreatedByEmail:  p.Email,
	}
}

// nextContractNumber allocates the tenant's next number. Callers hold the tenant lock.
func (s *ContractService) nextContractNumber(ctx context.Context, tx *gorm.DB, tenantID uuid.UUID) (string, error) {
	var count int64
	err := tx.WithContext(ctx).Unscoped().Model(&models.Contract{}).
		Where("tenant_id = ? AND version = ?", tenantID, 1).
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%04d", s.config.ContractNumberPrefix, s.now().UTC().Year(), count+1), nil
}

func (s *ContractService) insertDraft(ctx context.Context, c *models.Contract, action models.AuditAction, actor models.Actor, metadata map[string]any) error {
	unlock := s.locks.Lock(c.TenantID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.nextContractNumber(ctx, tx, c.TenantID)
		if err != nil {
			return err
		}
		c.ContractNumber = number
		c.Version = 1
		if err := tx.Omit(clause.Associations).Create(c).Error; err != nil {
			return err
		}

		meta := map[string]any{
			"contract_number": c.ContractNumber,
			"type":            string(c.Type),
			"document_hash":   c.Content.Hash,
		}
		for k, v := range metadata {
			meta[k] = v
		}
		s.audit.Record(ctx, tx, newEntry(c, action, actor, meta))
		return nil
	})
}

// Create stores a draft built from caller-supplied sections.
func (s *ContractService) Create(ctx context.Context, p Principal, opportunityID uuid.UUID, input CreateContractInput) (*models.Contract, error) {
	c := s.newDraft(p, opportunityID, input.Type)
	input.ContractInput.apply(c)
	if err := validateTerms(c); err != nil {
		return nil, translate(err)
	}

	if err := s.insertDraft(ctx, c, models.AuditActionCreated, p.actor(), nil); err != nil {
		return nil, translate(err)
	}

	logger.WithContext(ctx).Info("contract created", "contract_id", c.ID, "contract_number", c.ContractNumber)
	return c, nil
}

// generate calls the generator under the configured deadline.
func (s *ContractService) generate(ctx context.Context, req GenerationRequest) ([]models.Section, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.config.GenerationTimeout)
	defer cancel()

	started := s.now()
	sections, err := s.generator.Generate(genCtx, req)
	if err == nil && len(models.NewDocumentSnapshot(sections).Sections) == 0 {
		err = errors.New("generator returned no content")
	}
	if err != nil {
		logger.WithContext(ctx).Error("contract generation failed",
			"error", err,
			"type", req.Type,
			"elapsed", s.now().Sub(started).String(),
		)
		return nil, fmt.Errorf("%w: %v", errGenerationFailed, err)
	}
	return sections, nil
}

// Generate drafts a new contract with the configured generator. A failed
// generation leaves no trace in the database.
func (s *ContractService) Generate(ctx context.Context, p Principal, opportunityID uuid.UUID, input GenerateContractInput) (*models.Contract, error) {
	c := s.newDraft(p, opportunityID, input.Type)
	if t := strings.TrimSpace(input.Title); t != "" {
		c.Title = t
	}
	ContractInput{
		TotalAmount:       input.TotalAmount,
		PaymentTerms:      optionalString(input.PaymentTerms),
		EffectiveDate:     input.EffectiveDate,
		ExpirationDate:    input.ExpirationDate,
		AutoRenew:         &input.AutoRenew,
		RenewalTerms:      optionalString(input.RenewalTerms),
		StatementOfWorkID: input.StatementOfWorkID,
		CostEstimateID:    input.CostEstimateID,
	}.apply(c)
	if input.Currency != "" {
		c.Currency = strings.ToLower(input.Currency)
	}
	if input.SignatureMethod != "" {
		c.SignatureMethod = input.SignatureMethod
	}
	if err := validateTerms(c); err != nil {
		return nil, translate(err)
	}

	req := input.GenerationRequest
	req.Title = c.Title
	req.Currency = c.Currency
	sections, err := s.generate(ctx, req)
	if err != nil {
		return nil, translate(err)
	}

	now := s.now().UTC()
	c.Content = models.NewDocumentSnapshot(sections)
	c.GeneratedAt = &now

	if err := s.insertDraft(ctx, c, models.AuditActionGenerated, p.actor(), map[string]any{"sections": len(c.Content.Sections)}); err != nil {
		return nil, translate(err)
	}

	logger.WithContext(ctx).Info("contract generated", "contract_id", c.ID, "contract_number", c.ContractNumber)
	return c, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Regenerate replaces a draft's content with freshly generated sections.
func (s *ContractService) Regenerate(ctx context.Context, p Principal, opportunityID, id uuid.UUID, input RegenerateInput) (*models.Contract, error) {
	current, err := s.find(ctx, p, opportunityID, id)
	if err != nil {
		return nil, translate(err)
	}
	if current.Status != models.ContractStatusDraft {
		return nil, translate(invalidState("only draft contracts can be regenerated"))
	}

	sections, err := s.generate(ctx, GenerationRequest{
		Type:               current.Type,
		Title:              current.Title,
		ProviderName:       input.ProviderName,
		ClientName:         input.ClientName,
		ClientCompany:      input.ClientCompany,
		ScopeSummary:       input.ScopeSummary,
		CustomInstructions: input.CustomInstructions,
		TotalAmount:        current.TotalAmount,
		Currency:           current.Currency,
		PaymentTerms:       current.PaymentTerms,
		EffectiveDate:      current.EffectiveDate,
		ExpirationDate:     current.ExpirationDate,
		AutoRenew:          current.AutoRenew,
		RenewalTerms:       current.RenewalTerms,
		StatementOfWorkID:  current.StatementOfWorkID,
		CostEstimateID:     current.CostEstimateID,
	})
	if err != nil {
		return nil, translate(err)
	}

	contract, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		if c.Status != models.ContractStatusDraft {
			return invalidState("only draft contracts can be regenerated")
		}
		previous := c.Content.Hash
		now := s.now().UTC()
		c.Content = models.NewDocumentSnapshot(sections)
		c.GeneratedAt = &now
		if err := tx.Omit(clause.Associations).Save(c).Error; err != nil {
			return err
		}
		s.audit.Record(ctx, tx, newEntry(c, models.AuditActionGenerated, p.actor(), map[string]any{
			"regenerated":            true,
			"previous_document_hash": previous,
			"document_hash":          c.Content.Hash,
		}))
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return contract, nil
}

// Update edits a draft. Supplied sections replace the snapshot wholesale.
func (s *ContractService) Update(ctx context.Context, p Principal, opportunityID, id uuid.UUID, input ContractInput) (*models.Contract, error) {
	contract, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		if c.Status != models.ContractStatusDraft {
			return invalidState("only draft contracts can be edited")
		}
		changed := input.apply(c)
		if len(changed) == 0 {
			return nil
		}
		if err := validateTerms(c); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Save(c).Error; err != nil {
			return err
		}
		s.audit.Record(ctx, tx, newEntry(c, models.AuditActionUpdated, p.actor(), map[string]any{
			"fields":        changed,
			"document_hash": c.Content.Hash,
		}))
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return contract, nil
}

// Delete soft-deletes a draft that was never sent or shared.
func (s *ContractService) Delete(ctx context.Context, p Principal, opportunityID, id uuid.UUID) error {
	_, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		if c.Status != models.ContractStatusDraft {
			return invalidState("only draft contracts can be deleted")
		}
		var links int64
		if err := tx.Model(&models.ShareLink{}).Where("contract_id = ?", c.ID).Count(&links).Error; err != nil {
			return err
		}
		if links > 0 {
			return invalidState("shared contracts cannot be deleted")
		}
		if err := tx.Delete(c).Error; err != nil {
			return err
		}
		s.audit.Record(ctx, tx, newEntry(c, models.AuditActionDeleted, p.actor(), map[string]any{
			"contract_number": c.ContractNumber,
			"version":         c.Version,
		}))
		return nil
	})
	return translate(err)
}

// Send invites signers and moves the draft to pending signature.
func (s *ContractService) Send(ctx context.Context, p Principal, opportunityID, id uuid.UUID, signers []SignerSpec) ([]models.SignatureRequest, error) {
	var requests []models.SignatureRequest
	contract, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		if c.Status != models.ContractStatusDraft {
			return invalidState("only draft contracts can be sent for signature")
		}
		if c.Content.IsEmpty() {
			return invalidState("contract has no content")
		}
		if !c.HasResolvedTotal() {
			return invalidState("%s contracts need a total before they can be sent", c.Type.Label())
		}

		var err error
		requests, err = s.ledger.AddSigners(ctx, tx, c, signers, p.actor())
		if err != nil {
			return err
		}
		return s.machine.Transition(ctx, tx, c, models.ContractStatusPendingSignature, models.AuditActionStatusChanged, p.actor(), map[string]any{
			"signers":       len(requests),
			"document_hash": c.Content.Hash,
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	for i := range requests {
		if err := s.notifier.SendSignatureRequest(contract, &requests[i]); err != nil {
			logger.WithContext(ctx).Error("failed to send signature request email", "error", err, "signature_id", requests[i].ID)
		}
	}
	return requests, nil
}

// Share issues a new anonymous read link, superseding earlier ones.
func (s *ContractService) Share(ctx context.Context, p Principal, opportunityID, id uuid.UUID, input ShareInput) (*ShareResult, error) {
	var result *ShareResult
	_, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		var err error
		result, err = s.shares.Create(ctx, tx, c, input, p.UserID, p.actor())
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}

// Void cancels a contract that has not become active. The reason is optional.
func (s *ContractService) Void(ctx context.Context, p Principal, opportunityID, id uuid.UUID, reason string) (*models.Contract, error) {
	reason = strings.TrimSpace(reason)
	var rejected error
	contract, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		if err := s.machine.Reevaluate(ctx, tx, c); err != nil {
			return err
		}
		// Transitions that came due above are committed even when the void is refused.
		switch {
		case c.Status == models.ContractStatusActive:
			rejected = invalidState("active contracts must be terminated, not voided")
			return nil
		case c.Status.IsTerminal():
			rejected = invalidState("%s contracts cannot be voided", c.Status)
			return nil
		}
		return s.machine.Transition(ctx, tx, c, models.ContractStatusVoided, models.AuditActionVoided, p.actor(), map[string]any{"reason": reason})
	})
	if err == nil {
		err = rejected
	}
	if err != nil {
		return nil, translate(err)
	}
	return contract, nil
}

// Terminate ends an active contract.
func (s *ContractService) Terminate(ctx context.Context, p Principal, opportunityID, id uuid.UUID, reason string) (*models.Contract, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, translate(invalidInput("reason is required"))
	}
	contract, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		if err := s.machine.Reevaluate(ctx, tx, c); err != nil {
			return err
		}
		return s.machine.Transition(ctx, tx, c, models.ContractStatusTerminated, models.AuditActionTerminated, p.actor(), map[string]any{"reason": reason})
	})
	if err != nil {
		return nil, translate(err)
	}
	return contract, nil
}

// Activate starts a signed contract that has no effective date yet reached.
func (s *ContractService) Activate(ctx context.Context, p Principal, opportunityID, id uuid.UUID) (*models.Contract, error) {
	contract, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		if c.Status != models.ContractStatusSigned {
			return invalidState("only signed contracts can be activated")
		}
		if c.EffectiveDate != nil && !c.EffectiveReached(s.now()) {
			return invalidState("contract becomes active on %s", formatDate(c.EffectiveDate))
		}
		return s.machine.Transition(ctx, tx, c, models.ContractStatusActive, models.AuditActionStatusChanged, p.actor(), map[string]any{"reason": "manual activation"})
	})
	if err != nil {
		return nil, translate(err)
	}
	return contract, nil
}

// Revise creates the next version of a contract as a new draft. A prior
// version still in flight is voided as superseded.
func (s *ContractService) Revise(ctx context.Context, p Principal, opportunityID, id uuid.UUID, input ContractInput) (*models.Contract, error) {
	var revision *models.Contract
	var rejected error
	_, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		if err := s.machine.Reevaluate(ctx, tx, c); err != nil {
			return err
		}
		switch c.Status {
		case models.ContractStatusSigned, models.ContractStatusActive, models.ContractStatusTerminated:
			rejected = invalidState("%s contracts cannot be revised", c.Status)
			return nil
		}

		var newer int64
		err := tx.Unscoped().Model(&models.Contract{}).
			Where("tenant_id = ? AND contract_number = ? AND version > ?", c.TenantID, c.ContractNumber, c.Version).
			Count(&newer).Error
		if err != nil {
			return err
		}
		if newer > 0 {
			return invalidState("a newer version of this contract exists")
		}

		next := *c
		next.ID = uuid.Nil
		next.Version = c.Version + 1
		next.ParentContractID = &c.ID
		next.Status = models.ContractStatusDraft
		next.LockVersion = 0
		next.CreatedBy = p.UserID
		next.CreatedByName = p.Name
		next.CreatedByEmail = p.Email
		next.GeneratedAt = c.GeneratedAt
		next.SentAt, next.SignedAt, next.ActivatedAt = nil, nil, nil
		next.VoidedAt, next.VoidReason = nil, ""
		next.TerminatedAt, next.TerminationReason = nil, ""
		next.ExpiredAt = nil
		next.ExecutedDocumentKey = ""
		next.CreatedAt, next.UpdatedAt = time.Time{}, time.Time{}
		next.DeletedAt = gorm.DeletedAt{}
		next.SignatureRequests = nil
		next.Content = models.NewDocumentSnapshot(c.Content.SectionList())

		input.apply(&next)
		if err := validateTerms(&next); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(&next).Error; err != nil {
			return err
		}
		s.audit.Record(ctx, tx, newEntry(&next, models.AuditActionRevised, p.actor(), map[string]any{
			"parent_contract_id": c.ID.String(),
			"from_version":       c.Version,
			"version":            next.Version,
			"document_hash":      next.Content.Hash,
		}))

		if !c.Status.IsTerminal() {
			reason := fmt.Sprintf("superseded by version %d", next.Version)
			if err := s.machine.Transition(ctx, tx, c, models.ContractStatusVoided, models.AuditActionVoided, p.actor(), map[string]any{
				"reason":             reason,
				"superseded_by":      next.ID.String(),
				"superseded_version": next.Version,
			}); err != nil {
				return err
			}
		}

		revision = &next
		return nil
	})
	if err == nil {
		err = rejected
	}
	if err != nil {
		return nil, translate(err)
	}
	s.cache.Invalidate(ctx, revision.ID)
	return revision, nil
}

// Resend re-delivers the original signing link to an outstanding signer.
func (s *ContractService) Resend(ctx context.Context, p Principal, opportunityID, id, signatureID uuid.UUID) (*models.SignerSummary, error) {
	var request *models.SignatureRequest
	contract, err := s.mutate(ctx, id, scopedTo(p, opportunityID), func(tx *gorm.DB, c *models.Contract) error {
		if err := s.machine.Reevaluate(ctx, tx, c); err != nil {
			return err
		}
		var err error
		request, err = s.ledger.Resend(ctx, tx, c, signatureID, p.actor())
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	if err := s.notifier.SendSignatureReminder(contract, request); err != nil {
		logger.WithContext(ctx).Error("failed to send signature reminder", "error", err, "signature_id", request.ID)
	}
	summary := request.ToSummary()
	return &summary, nil
}

// Signatures summarizes the signature ledger of a contract.
func (s *ContractService) Signatures(ctx context.Context, p Principal, opportunityID, id uuid.UUID) (*LedgerSummary, error) {
	contract, err := s.find(ctx, p, opportunityID, id)
	if err != nil {
		return nil, translate(err)
	}
	summary, err := s.ledger.StatusSummary(ctx, s.db, contract.ID)
	if err != nil {
		return nil, translate(err)
	}
	return summary, nil
}

// Audit returns one page of a contract's audit trail in chronological order.
func (s *ContractService) Audit(ctx context.Context, p Principal, opportunityID, id uuid.UUID, limit, offset int) (*AuditPage, error) {
	contract, err := s.find(ctx, p, opportunityID, id)
	if err != nil {
		return nil, translate(err)
	}

	if limit <= 0 {
		limit = s.config.AuditPageSize
	}
	if limit > s.config.AuditMaxPageSize {
		limit = s.config.AuditMaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	entries, total, err := s.audit.Query(ctx, s.db, contract.ID, limit, offset)
	if err != nil {
		return nil, translate(err)
	}
	return &AuditPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// ExportAudit renders the complete trail as an XLSX workbook.
func (s *ContractService) ExportAudit(ctx context.Context, p Principal, opportunityID, id uuid.UUID) ([]byte, string, error) {
	contract, err := s.find(ctx, p, opportunityID, id)
	if err != nil {
		return nil, "", translate(err)
	}
	entries, _, err := s.audit.Query(ctx, s.db, contract.ID, -1, 0)
	if err != nil {
		return nil, "", translate(err)
	}
	data, err := s.audit.ExportXLSX(contract, entries)
	if err != nil {
		return nil, "", translate(err)
	}
	name := fmt.Sprintf("%s-v%d-audit.xlsx", contract.ContractNumber, contract.Version)
	return data, name, nil
}

// RenderPDF returns the archived executed document when there is one and
// a freshly rendered PDF otherwise.
func (s *ContractService) RenderPDF(ctx context.Context, p Principal, opportunityID, id uuid.UUID) ([]byte, string, error) {
	contract, err := s.find(ctx, p, opportunityID, id)
	if err != nil {
		return nil, "", translate(err)
	}

	if contract.ExecutedDocumentKey != "" && s.store != nil {
		data, err := s.store.Get(ctx, contract.ExecutedDocumentKey)
		if err == nil {
			return data, ExecutedDocumentName(contract), nil
		}
		logger.WithContext(ctx).Warn("executed document unavailable, rendering", "contract_id", contract.ID, "error", err)
	}

	requests, err := s.ledger.Requests(ctx, s.db, contract.ID)
	if err != nil {
		return nil, "", translate(err)
	}
	data, err := s.documents.RenderContractPDF(contract, requests)
	if err != nil {
		return nil, "", translate(err)
	}
	return data, ExecutedDocumentName(contract), nil
}

// ResolveShare opens a share link. Password protected links report that
// a password is required and disclose nothing else.
func (s *ContractService) ResolveShare(ctx context.Context, token string, client ClientInfo) (*ShareView, error) {
	link, contract, err := s.resolveShare(ctx, token)
	if err != nil {
		return nil, translate(err)
	}
	if link.PasswordProtected() {
		return &ShareView{PasswordRequired: true, ExpiresAt: link.ExpiresAt}, nil
	}
	return s.discloseShare(ctx, link, contract, client)
}

// VerifySharePassword unlocks a password protected share link.
func (s *ContractService) VerifySharePassword(ctx context.Context, token, password string, client ClientInfo) (*ShareView, error) {
	link, contract, err := s.resolveShare(ctx, token)
	if err != nil {
		return nil, translate(err)
	}
	if err := s.shares.VerifyPassword(ctx, s.db, link, contract, password, client.actor()); err != nil {
		return nil, translate(err)
	}
	return s.discloseShare(ctx, link, contract, client)
}

func (s *ContractService) resolveShare(ctx context.Context, token string) (*models.ShareLink, *models.Contract, error) {
	link, err := s.shares.Resolve(ctx, s.db, token)
	if err != nil {
		return nil, nil, err
	}

	var contract models.Contract
	if err := s.db.WithContext(ctx).Omit("content").First(&contract, "id = ?", link.ContractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errShareNotFound
		}
		return nil, nil, err
	}
	return link, s.refresh(ctx, &contract), nil
}

func (s *ContractService) discloseShare(ctx context.Context, link *models.ShareLink, contract *models.Contract, client ClientInfo) (*ShareView, error) {
	view, err := s.publicView(ctx, contract)
	if err != nil {
		return nil, translate(err)
	}
	if err := s.shares.RecordView(ctx, s.db, link, contract, client.actor()); err != nil {
		return nil, translate(err)
	}
	return &ShareView{ExpiresAt: link.ExpiresAt, Contract: view}, nil
}

// publicView serves the rendered view from cache, loading content on a miss.
func (s *ContractService) publicView(ctx context.Context, c *models.Contract) (*models.PublicView, error) {
	if v, ok := s.cache.Get(ctx, c.ID); ok && v.Status == c.Status && v.Version == c.Version {
		return v, nil
	}

	if c.Content.Hash == "" {
		var full models.Contract
		if err := s.db.WithContext(ctx).Select("id", "content").First(&full, "id = ?", c.ID).Error; err != nil {
			return nil, err
		}
		c.Content = full.Content
	}

	view := c.ToPublicView()
	s.cache.Set(ctx, &view)
	return &view, nil
}

// ViewSigning opens a signing link and records the signer's first view.
func (s *ContractService) ViewSigning(ctx context.Context, token string, client ClientInfo) (*SigningView, error) {
	request, err := s.ledger.FindByToken(ctx, s.db, token)
	if err != nil {
		return nil, translate(err)
	}

	var signer *models.SignatureRequest
	var deferred error
	contract, err := s.mutate(ctx, request.ContractID, nil, func(tx *gorm.DB, c *models.Contract) error {
		if err := s.machine.Reevaluate(ctx, tx, c); err != nil {
			return err
		}
		r, err := s.ledger.RecordView(ctx, tx, c, token, client)
		if err != nil {
			return err
		}
		if r.Status == models.SignatureStatusExpired || (r.IsOutstanding() && r.TokenExpired(s.now())) {
			deferred = errTokenExpired
		}
		signer = r
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	if deferred != nil {
		return nil, translate(deferred)
	}

	canSign := signer.IsOutstanding() && contract.Status.AcceptsSignatures()
	if canSign && s.config.EnforceSigningOrder {
		canSign = s.ledger.checkOrder(ctx, s.db, signer) == nil
	}

	return &SigningView{
		Contract: contract.ToPublicView(),
		Signer:   signer.ToSummary(),
		CanSign:  canSign,
	}, nil
}

// Sign records a signature and advances the contract when it completes
// the ledger.
func (s *ContractService) Sign(ctx context.Context, token string, evidence SignatureEvidence, client ClientInfo) (*SigningResult, error) {
	request, err := s.ledger.FindByToken(ctx, s.db, token)
	if err != nil {
		return nil, translate(err)
	}

	var before models.ContractStatus
	var signed *models.SignatureRequest
	var deferred error
	contract, err := s.mutate(ctx, request.ContractID, nil, func(tx *gorm.DB, c *models.Contract) error {
		before = c.Status
		r, err := s.ledger.RecordSignature(ctx, tx, c, token, evidence, client)
		if errors.Is(err, errTokenExpired) {
			// Persist the expiry before reporting it.
			deferred = err
			return s.machine.Reevaluate(ctx, tx, c)
		}
		if err != nil {
			return err
		}
		signed = r
		return s.machine.Reevaluate(ctx, tx, c)
	})
	if err != nil {
		return nil, translate(err)
	}
	if deferred != nil {
		return nil, translate(deferred)
	}

	logger.WithContext(ctx).Info("signature recorded",
		"contract_id", contract.ID,
		"signature_id", signed.ID,
		"contract_status", contract.Status,
	)
	s.afterSigning(ctx, before, contract)

	return &SigningResult{
		Signer:         signed.ToSummary(),
		ContractStatus: contract.Status,
		EvidenceHash:   signed.EvidenceHash,
	}, nil
}

// Decline records a refusal to sign, which voids the contract.
func (s *ContractService) Decline(ctx context.Context, token, reason string, client ClientInfo) (*SigningResult, error) {
	request, err := s.ledger.FindByToken(ctx, s.db, token)
	if err != nil {
		return nil, translate(err)
	}

	var declined *models.SignatureRequest
	var deferred error
	contract, err := s.mutate(ctx, request.ContractID, nil, func(tx *gorm.DB, c *models.Contract) error {
		r, err := s.ledger.RecordDecline(ctx, tx, c, token, reason, client)
		if errors.Is(err, errTokenExpired) {
			deferred = err
			return s.machine.Reevaluate(ctx, tx, c)
		}
		if err != nil {
			return err
		}
		declined = r
		return s.machine.Reevaluate(ctx, tx, c)
	})
	if err != nil {
		return nil, translate(err)
	}
	if deferred != nil {
		return nil, translate(deferred)
	}

	if err := s.notifier.SendContractDeclined(contract, declined); err != nil {
		logger.WithContext(ctx).Error("failed to send decline notice", "error", err, "contract_id", contract.ID)
	}

	return &SigningResult{
		Signer:         declined.ToSummary(),
		ContractStatus: contract.Status,
	}, nil
}

// afterSigning archives the executed document and notifies every signer
// once a contract has been fully signed.
func (s *ContractService) afterSigning(ctx context.Context, before models.ContractStatus, contract *models.Contract) {
	completed := contract.Status == models.ContractStatusSigned || contract.Status == models.ContractStatusActive
	if !completed || before == models.ContractStatusSigned || before == models.ContractStatusActive {
		return
	}

	requests, err := s.ledger.Requests(ctx, s.db, contract.ID)
	if err != nil {
		logger.WithContext(ctx).Error("failed to load signers after completion", "error", err, "contract_id", contract.ID)
		return
	}

	if s.store != nil {
		if err := s.archive(ctx, contract, requests); err != nil {
			logger.WithContext(ctx).Error("failed to archive executed document", "error", err, "contract_id", contract.ID)
		}
	}

	for i := range requests {
		if err := s.notifier.SendContractCompleted(contract, &requests[i]); err != nil {
			logger.WithContext(ctx).Error("failed to send completion email", "error", err, "signature_id", requests[i].ID)
		}
	}
}

func (s *ContractService) archive(ctx context.Context, contract *models.Contract, requests []models.SignatureRequest) error {
	data, err := s.documents.RenderContractPDF(contract, requests)
	if err != nil {
		return err
	}
	key := executedDocumentKey(contract.ID, contract.Version)
	if err := s.store.Put(ctx, key, data, "application/pdf"); err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(&models.Contract{}).
		Where("id = ?", contract.ID).
		Update("executed_document_key", key).Error
	if err != nil {
		return err
	}
	contract.ExecutedDocumentKey = key
	logger.WithContext(ctx).Info("executed document archived", "contract_id", contract.ID, "key", key)
	return nil
}
