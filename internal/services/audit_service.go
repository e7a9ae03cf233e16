package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/models"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// AuditRecorder appends entries to the contract audit trail.
type AuditRecorder struct {
	now func() time.Time
}

func NewAuditRecorder() *AuditRecorder {
	return &AuditRecorder{now: time.Now}
}

// newEntry builds an entry for contract attributed to actor.
func newEntry(contract *models.Contract, action models.AuditAction, actor models.Actor, metadata map[string]any) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		ContractID: contract.ID,
		TenantID:   contract.TenantID,
		Action:     action,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		Metadata:   metadata,
	}
}

// Record writes entry through db, which may be an open transaction.
// Inside a transaction the insert runs under a savepoint so a failed
// write never aborts the caller's state change. Failures are logged and
// swallowed.
func (a *AuditRecorder) Record(ctx context.Context, db *gorm.DB, entry *models.AuditLogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now().UTC()
	}

	write := func() error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(entry).Error
		})
	}

	err := write()
	if err != nil && !inTransaction(db) {
		entry.ID = 0
		err = write()
	}
	if err != nil {
		payload, _ := json.Marshal(entry.Metadata)
		logger.WithContext(ctx).Error("audit write failed",
			"error", err,
			"contract_id", entry.ContractID,
			"action", entry.Action,
			"actor_type", entry.ActorType,
			"actor_id", entry.ActorID,
			"metadata", string(payload),
		)
	}
}

func inTransaction(db *gorm.DB) bool {
	_, ok := db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

// Query returns one page of a contract's trail in chronological order
// along with the total number of entries.
func (a *AuditRecorder) Query(ctx context.Context, db *gorm.DB, contractID uuid.UUID, limit, offset int) ([]models.AuditLogEntry, int64, error) {
	var total int64
	base := db.WithContext(ctx).Model(&models.AuditLogEntry{}).Where("contract_id = ?", contractID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	entries := []models.AuditLogEntry{}
	err := db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// countSince counts entries of action for a contract created at or after since.
func (a *AuditRecorder) countSince(ctx context.Context, db *gorm.DB, contractID uuid.UUID, action models.AuditAction, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&models.AuditLogEntry{}).
		Where("contract_id = ? AND action = ? AND created_at >= ?", contractID, action, since.UTC()).
		Count(&n).Error
	return n, err
}

// ExportXLSX renders entries as a spreadsheet.
func (a *AuditRecorder) ExportXLSX(contract *models.Contract, entries []models.AuditLogEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Audit Trail"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	f.SetCellValue(sheetName, "A1", fmt.Sprintf("%s v%d: %s", contract.ContractNumber, contract.Version, contract.Title))

	headers := []string{"#", "Timestamp (UTC)", "Action", "Actor Type", "Actor ID", "Actor Name", "IP Address", "User Agent", "Details"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		f.SetCellValue(sheetName, cell, header)
	}

	for i, e := range entries {
		row := i + 4
		details := ""
		if len(e.Metadata) > 0 {
			raw, _ := json.Marshal(e.Metadata)
			details = string(raw)
		}
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), e.ID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), e.CreatedAt.UTC().Format(time.RFC3339))
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), string(e.Action))
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), string(e.ActorType))
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), e.ActorID)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), e.ActorName)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), e.IPAddress)
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), e.UserAgent)
		f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), details)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
