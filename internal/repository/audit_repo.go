package repository

import (
	"context"

	"emp-payments-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) RecordTransitions(ctx context.Context, entries []models.RowStatusAudit) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(entries, 100).Error
}

// ListByUpload returns the audit trail of an upload, oldest first.
func (r *AuditRepository) ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]models.RowStatusAudit, error) {
	var entries []models.RowStatusAudit
	err := r.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
