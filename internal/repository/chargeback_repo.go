package repository

import (
	"context"

	"emp-payments-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChargebackRepository struct {
	db *gorm.DB
}

func NewChargebackRepository(db *gorm.DB) *ChargebackRepository {
	return &ChargebackRepository{db: db}
}

func (r *ChargebackRepository) OriginalUniqueIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Chargeback{}).
		Where("original_unique_id <> ''").
		Distinct().
		Pluck("original_unique_id", &ids).Error
	return ids, err
}

// Import skips chargebacks already on file and returns how many were new.
func (r *ChargebackRepository) Import(ctx context.Context, cbs []models.Chargeback) (int64, error) {
	if len(cbs) == 0 {
		return 0, nil
	}
	for i := range cbs {
		if cbs[i].ID == uuid.Nil {
			cbs[i].ID = uuid.New()
		}
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(cbs, 100)
	return res.RowsAffected, res.Error
}
