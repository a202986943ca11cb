package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"emp-payments-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type UploadRepository struct {
	db *gorm.DB
}

func NewUploadRepository(db *gorm.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

func (r *UploadRepository) Create(ctx context.Context, u *models.Upload) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if err := u.EnsureRows(); err != nil {
		return err
	}
	u.ApplyCounters(models.CountRows(u.Rows))
	return r.db.WithContext(ctx).Create(u).Error
}

// GetByID loads an upload. Uploads stored before row tracking get their row
// array written once here so later patches have something to patch.
func (r *UploadRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Upload, error) {
	var u models.Upload
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	if len(u.Rows) == 0 && len(u.Records) > 0 {
		if err := u.EnsureRows(); err != nil {
			return nil, err
		}
		counters := models.CountRows(u.Rows)
		u.ApplyCounters(counters)
		err := r.db.WithContext(ctx).Model(&models.Upload{}).
			Where("id = ?", id).
			Updates(withCounters(map[string]interface{}{"row_states": u.Rows}, counters)).Error
		if err != nil {
			return nil, fmt.Errorf("initialize rows of upload %s: %w", id, err)
		}
	}
	return &u, nil
}

func (r *UploadRepository) ListCreatedSince(ctx context.Context, since time.Time) ([]models.Upload, error) {
	var uploads []models.Upload
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Find(&uploads).Error
	return uploads, err
}

// PatchRows rewrites only the given row slots inside the jsonb array, plus
// the counters, in one UPDATE.
func (r *UploadRepository) PatchRows(ctx context.Context, id uuid.UUID, rows map[int]models.RowState, counters models.Counters) error {
	updates := withCounters(map[string]interface{}{}, counters)
	if len(rows) > 0 {
		sql, args, err := rowPatchExpr("row_states", rows)
		if err != nil {
			return err
		}
		updates["row_states"] = gorm.Expr(sql, args...)
	}
	return r.db.WithContext(ctx).Model(&models.Upload{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *UploadRepository) UpdateCounters(ctx context.Context, id uuid.UUID, counters models.Counters) error {
	return r.db.WithContext(ctx).Model(&models.Upload{}).
		Where("id = ?", id).
		Updates(withCounters(map[string]interface{}{}, counters)).Error
}

// ReplaceRecords stores records and rows wholesale; used when rows are
// removed and indices shift.
func (r *UploadRepository) ReplaceRecords(ctx context.Context, u *models.Upload) error {
	return r.db.WithContext(ctx).Model(&models.Upload{}).
		Where("id = ?", u.ID).
		Updates(withCounters(map[string]interface{}{
			"records":    u.Records,
			"row_states": u.Rows,
		}, models.CountRows(u.Rows))).Error
}

func (r *UploadRepository) SaveReport(ctx context.Context, id uuid.UUID, report datatypes.JSON, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Upload{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_reconcile_report": report,
			"last_reconciled_at":    at,
		}).Error
}

func withCounters(updates map[string]interface{}, c models.Counters) map[string]interface{} {
	updates["record_count"] = c.RecordCount
	updates["approved_count"] = c.ApprovedCount
	updates["error_count"] = c.ErrorCount
	updates["blacklisted_count"] = c.BlacklistedCount
	updates["pending_count"] = c.PendingCount
	return updates
}

// rowPatchExpr nests one jsonb_set per row, in index order:
// jsonb_set(jsonb_set(col, '{0}', ?::jsonb), '{3}', ?::jsonb)
func rowPatchExpr(column string, rows map[int]models.RowState) (string, []interface{}, error) {
	indices := make([]int, 0, len(rows))
	for i := range rows {
		if i < 0 {
			return "", nil, fmt.Errorf("negative row index %d", i)
		}
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var b strings.Builder
	b.WriteString(strings.Repeat("jsonb_set(", len(indices)))
	b.WriteString(column)
	args := make([]interface{}, 0, len(indices))
	for _, i := range indices {
		raw, err := json.Marshal(rows[i])
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&b, ", '{%d}', ?::jsonb)", i)
		args = append(args, string(raw))
	}
	return b.String(), args, nil
}
