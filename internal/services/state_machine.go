package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/models"
	"gorm.io/gorm"
)

var transitions = map[models.ContractStatus][]models.ContractStatus{
	models.ContractStatusDraft: {
		models.ContractStatusPendingSignature,
		models.ContractStatusVoided,
	},
	models.ContractStatusPendingSignature: {
		models.ContractStatusPartiallySigned,
		models.ContractStatusSigned,
		models.ContractStatusVoided,
		models.ContractStatusExpired,
	},
	models.ContractStatusPartiallySigned: {
		models.ContractStatusSigned,
		models.ContractStatusVoided,
		models.ContractStatusExpired,
	},
	models.ContractStatusSigned: {
		models.ContractStatusActive,
		models.ContractStatusVoided,
	},
	models.ContractStatusActive: {
		models.ContractStatusTerminated,
	},
}

// CanTransition reports whether the lifecycle permits from -> to.
func CanTransition(from, to models.ContractStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine owns every write to a contract's status.
type StateMachine struct {
	audit *AuditRecorder
	now   func() time.Time
}

func NewStateMachine(audit *AuditRecorder) *StateMachine {
	return &StateMachine{audit: audit, now: time.Now}
}

// Transition moves contract to the target status inside tx and records
// exactly one audit entry for it. The write is a compare-and-set on the
// contract's lock version; a lost race returns errConcurrentUpdate.
func (m *StateMachine) Transition(ctx context.Context, tx *gorm.DB, contract *models.Contract, to models.ContractStatus, action models.AuditAction, actor models.Actor, metadata map[string]any) error {
	from := contract.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", errInvalidTransition, from, to)
	}

	now := m.now().UTC()
	updates := map[string]any{
		"status":       to,
		"lock_version": contract.LockVersion + 1,
		"updated_at":   now,
	}

	reason, _ := metadata["reason"].(string)
	switch to {
	case models.ContractStatusPendingSignature:
		updates["sent_at"] = now
	case models.ContractStatusSigned:
		updates["signed_at"] = now
	case models.ContractStatusActive:
		updates["activated_at"] = now
	case models.ContractStatusVoided:
		updates["voided_at"] = now
		updates["void_reason"] = reason
	case models.ContractStatusTerminated:
		updates["terminated_at"] = now
		updates["termination_reason"] = reason
	case models.ContractStatusExpired:
		updates["expired_at"] = now
	}

	res := tx.WithContext(ctx).Model(&models.Contract{}).
		Where("id = ? AND lock_version = ?", contract.ID, contract.LockVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errConcurrentUpdate
	}

	contract.Status = to
	contract.LockVersion++
	contract.UpdatedAt = now
	switch to {
	case models.ContractStatusPendingSignature:
		contract.SentAt = &now
	case models.ContractStatusSigned:
		contract.SignedAt = &now
	case models.ContractStatusActive:
		contract.ActivatedAt = &now
	case models.ContractStatusVoided:
		contract.VoidedAt = &now
		contract.VoidReason = reason
	case models.ContractStatusTerminated:
		contract.TerminatedAt = &now
		contract.TerminationReason = reason
	case models.ContractStatusExpired:
		contract.ExpiredAt = &now
	}

	meta := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range metadata {
		meta[k] = v
	}
	m.audit.Record(ctx, tx, newEntry(contract, action, actor, meta))

	logger.WithContext(ctx).Info("contract status changed",
		"contract_id", contract.ID,
		"from", from,
		"to", to,
		"action", action,
	)
	return nil
}

// signerTally counts a contract's signature requests by outcome.
type signerTally struct {
	total       int
	signed      int
	declined    int
	outstanding int
	lapsed      int // outstanding with an expired token, or already marked expired
	decliner    *models.SignatureRequest
}

func tallySigners(requests []models.SignatureRequest, now time.Time) signerTally {
	var t signerTally
	for i := range requests {
		r := &requests[i]
		t.total++
		switch r.Status {
		case models.SignatureStatusSigned:
			t.signed++
		case models.SignatureStatusDeclined:
			t.declined++
			if t.decliner == nil {
				t.decliner = r
			}
		case models.SignatureStatusExpired:
			t.outstanding++
			t.lapsed++
		default:
			t.outstanding++
			if r.TokenExpired(now) {
				t.lapsed++
			}
		}
	}
	return t
}

// Reevaluate derives the contract status from the ledger and the clock,
// applying every transition that is due. Callers hold the contract lock.
func (m *StateMachine) Reevaluate(ctx context.Context, tx *gorm.DB, contract *models.Contract) error {
	now := m.now()

	for {
		switch contract.Status {
		case models.ContractStatusPendingSignature, models.ContractStatusPartiallySigned:
			var requests []models.SignatureRequest
			if err := tx.WithContext(ctx).Where("contract_id = ?", contract.ID).Find(&requests).Error; err != nil {
				return err
			}
			t := tallySigners(requests, now)
			if t.total == 0 {
				return nil
			}

			switch {
			case t.declined > 0:
				meta := map[string]any{
					"reason":         "declined",
					"signer_id":      t.decliner.ID.String(),
					"signer_name":    t.decliner.Name,
					"signer_email":   t.decliner.Email,
					"decline_reason": t.decliner.DeclineReason,
				}
				if err := m.Transition(ctx, tx, contract, models.ContractStatusVoided, models.AuditActionStatusChanged, models.SystemActor, meta); err != nil {
					return err
				}
			case t.signed == t.total:
				if err := m.Transition(ctx, tx, contract, models.ContractStatusSigned, models.AuditActionStatusChanged, models.SystemActor, nil); err != nil {
					return err
				}
			case t.outstanding > 0 && t.lapsed == t.outstanding:
				if err := m.expireOutstanding(ctx, tx, contract, now); err != nil {
					return err
				}
			case t.signed > 0 && contract.Status == models.ContractStatusPendingSignature:
				meta := map[string]any{"signed": t.signed, "total": t.total}
				if err := m.Transition(ctx, tx, contract, models.ContractStatusPartiallySigned, models.AuditActionStatusChanged, models.SystemActor, meta); err != nil {
					return err
				}
			default:
				return nil
			}

		case models.ContractStatusSigned:
			if !contract.EffectiveReached(now) {
				return nil
			}
			meta := map[string]any{"effective_date": contract.EffectiveDate.UTC().Format(time.RFC3339)}
			if err := m.Transition(ctx, tx, contract, models.ContractStatusActive, models.AuditActionStatusChanged, models.SystemActor, meta); err != nil {
				return err
			}

		default:
			return nil
		}
	}
}

func (m *StateMachine) expireOutstanding(ctx context.Context, tx *gorm.DB, contract *models.Contract, now time.Time) error {
	err := tx.WithContext(ctx).Model(&models.SignatureRequest{}).
		Where("contract_id = ? AND status IN ?", contract.ID, []models.SignatureStatus{models.SignatureStatusPending, models.SignatureStatusViewed}).
		Updates(map[string]any{"status": models.SignatureStatusExpired, "updated_at": now.UTC()}).Error
	if err != nil {
		return err
	}
	meta := map[string]any{"reason": "signing tokens expired"}
	return m.Transition(ctx, tx, contract, models.ContractStatusExpired, models.AuditActionStatusChanged, models.SystemActor, meta)
}

// NeedsReevaluation is a cheap read-side check for time-driven transitions.
func (m *StateMachine) NeedsReevaluation(ctx context.Context, db *gorm.DB, contract *models.Contract) (bool, error) {
	now := m.now()
	switch contract.Status {
	case models.ContractStatusSigned:
		return contract.EffectiveReached(now), nil
	case models.ContractStatusPendingSignature, models.ContractStatusPartiallySigned:
		var requests []models.SignatureRequest
		err := db.WithContext(ctx).
			Select("id", "status", "token_expires_at").
			Where("contract_id = ?", contract.ID).
			Find(&requests).Error
		if err != nil {
			return false, err
		}
		t := tallySigners(requests, now)
		return t.outstanding > 0 && t.lapsed == t.outstanding && t.declined == 0, nil
	}
	return false, nil
}
