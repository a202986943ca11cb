package repository

import (
	"context"

	"emp-payments-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BlacklistRepository struct {
	db *gorm.DB
}

func NewBlacklistRepository(db *gorm.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

func (r *BlacklistRepository) FindByIBANs(ctx context.Context, ibans []string) ([]models.BlacklistEntry, error) {
	return r.findIn(ctx, "iban IN ?", ibans)
}

func (r *BlacklistRepository) FindByEmails(ctx context.Context, emails []string) ([]models.BlacklistEntry, error) {
	return r.findIn(ctx, "LOWER(email) IN ?", emails)
}

// FindByNames expects lowercased names.
func (r *BlacklistRepository) FindByNames(ctx context.Context, names []string) ([]models.BlacklistEntry, error) {
	return r.findIn(ctx, "LOWER(name) IN ?", names)
}

func (r *BlacklistRepository) findIn(ctx context.Context, cond string, values []string) ([]models.BlacklistEntry, error) {
	var entries []models.BlacklistEntry
	if len(values) == 0 {
		return entries, nil
	}
	err := r.db.WithContext(ctx).Where(cond, values).Find(&entries).Error
	return entries, err
}

func (r *BlacklistRepository) BICPatterns(ctx context.Context) ([]string, error) {
	var patterns []string
	err := r.db.WithContext(ctx).Model(&models.BlacklistEntry{}).
		Where("bic <> ''").
		Distinct().
		Pluck("bic", &patterns).Error
	return patterns, err
}

// AddIfAbsent reports whether the entry was new.
func (r *BlacklistRepository) AddIfAbsent(ctx context.Context, e *models.BlacklistEntry) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e)
	return res.RowsAffected > 0, res.Error
}
