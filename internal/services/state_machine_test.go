package services

import (
	"testing"
	"time"

	"github.com/ukuvago/contractdesk/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.ContractStatus
		want     bool
	}{
		{models.ContractStatusDraft, models.ContractStatusPendingSignature, true},
		{models.ContractStatusDraft, models.ContractStatusSigned, false},
		{models.ContractStatusPendingSignature, models.ContractStatusPartiallySigned, true},
		{models.ContractStatusPendingSignature, models.ContractStatusSigned, true},
		{models.ContractStatusPartiallySigned, models.ContractStatusPendingSignature, false},
		{models.ContractStatusPartiallySigned, models.ContractStatusExpired, true},
		{models.ContractStatusSigned, models.ContractStatusActive, true},
		{models.ContractStatusSigned, models.ContractStatusTerminated, false},
		{models.ContractStatusActive, models.ContractStatusTerminated, true},
		{models.ContractStatusActive, models.ContractStatusVoided, false},
		{models.ContractStatusVoided, models.ContractStatusDraft, false},
		{models.ContractStatusExpired, models.ContractStatusPendingSignature, false},
		{models.ContractStatusTerminated, models.ContractStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	for from := range transitions {
		if from.IsTerminal() {
			t.Errorf("Terminal status %s must not have outgoing transitions", from)
		}
	}
}

func TestTallySigners(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	requests := []models.SignatureRequest{
		{Name: "a", Status: models.SignatureStatusSigned, TokenExpiresAt: now.Add(-time.Hour)},
		{Name: "b", Status: models.SignatureStatusViewed, TokenExpiresAt: now},
		{Name: "c", Status: models.SignatureStatusPending, TokenExpiresAt: now.Add(time.Hour)},
		{Name: "d", Status: models.SignatureStatusExpired, TokenExpiresAt: now.Add(-time.Hour)},
		{Name: "e", Status: models.SignatureStatusDeclined, TokenExpiresAt: now.Add(time.Hour)},
	}

	got := tallySigners(requests, now)
	if got.total != 5 || got.signed != 1 || got.declined != 1 {
		t.Errorf("Unexpected counts: %+v", got)
	}
	if got.outstanding != 3 {
		t.Errorf("Expected 3 outstanding, got %d", got.outstanding)
	}
	if got.lapsed != 2 {
		t.Errorf("Expected token expiring exactly now to count as lapsed, got %d lapsed", got.lapsed)
	}
	if got.decliner == nil || got.decliner.Name != "e" {
		t.Error("Expected decliner to be recorded")
	}
}
