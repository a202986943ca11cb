package repository

import (
	"context"
	"time"

	"emp-payments-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReconcileRecordRepository struct {
	db *gorm.DB
}

func NewReconcileRecordRepository(db *gorm.DB) *ReconcileRecordRepository {
	return &ReconcileRecordRepository{db: db}
}

// FindByAccountsSince returns the records of the given account numbers
// dated at or after since.
func (r *ReconcileRecordRepository) FindByAccountsSince(ctx context.Context, accounts []string, since time.Time) ([]models.ReconcileRecord, error) {
	var records []models.ReconcileRecord
	if len(accounts) == 0 {
		return records, nil
	}
	err := r.db.WithContext(ctx).
		Where("account_number IN ?", accounts).
		Where("transaction_date >= ?", since).
		Find(&records).Error
	return records, err
}

func (r *ReconcileRecordRepository) FindByUniqueIDs(ctx context.Context, ids []string) ([]models.ReconcileRecord, error) {
	var records []models.ReconcileRecord
	if len(ids) == 0 {
		return records, nil
	}
	err := r.db.WithContext(ctx).Where("unique_id IN ?", ids).Find(&records).Error
	return records, err
}

// Upsert inserts new records and refreshes the gateway fields of known ones.
func (r *ReconcileRecordRepository) Upsert(ctx context.Context, records []models.ReconcileRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].ID == uuid.Nil {
			records[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "unique_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"transaction_id", "account_number", "card_number", "status",
				"amount", "currency", "transaction_date", "updated_at",
			}),
		}).
		CreateInBatches(records, 100).Error
}

// StatusStats counts and sums the records dated at or after since, per
// gateway status.
func (r *ReconcileRecordRepository) StatusStats(ctx context.Context, since time.Time) ([]models.StatusStat, error) {
	var rows []models.StatusStat
	err := r.db.WithContext(ctx).Model(&models.ReconcileRecord{}).
		Where("transaction_date >= ?", since).
		Select("status, COUNT(*) as count, COALESCE(SUM(amount),0) as sum").
		Group("status").
		Scan(&rows).Error
	return rows, err
}
