package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Record is one raw CSV row keyed by its source column names.
type Record map[string]string

type Upload struct {
	ID               uuid.UUID                     `gorm:"type:uuid;primaryKey" json:"id"`
	Filename         string                        `json:"filename"`
	AccountID        *uuid.UUID                    `gorm:"type:uuid;index" json:"account_id,omitempty"`
	FieldMapping     datatypes.JSONMap             `gorm:"column:field_mapping" json:"field_mapping,omitempty"`
	Records          datatypes.JSONSlice[Record]   `gorm:"column:records;type:jsonb" json:"records"`
	Rows             datatypes.JSONSlice[RowState] `gorm:"column:row_states;type:jsonb" json:"rows"`
	RecordCount      int                           `json:"record_count"`
	ApprovedCount    int                           `json:"approved_count"`
	ErrorCount       int                           `json:"error_count"`
	BlacklistedCount int                           `json:"blacklisted_count"`
	PendingCount     int                           `json:"pending_count"`
	LastReconcile    datatypes.JSON                `gorm:"column:last_reconcile_report" json:"last_reconcile_report,omitempty"`
	LastReconciledAt *time.Time                    `json:"last_reconciled_at,omitempty"`
	CreatedAt        time.Time                     `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time                     `json:"updated_at"`
}

// ColumnMapping returns the operator's canonical field -> column overrides.
func (u *Upload) ColumnMapping() map[string]string {
	out := make(map[string]string, len(u.FieldMapping))
	for k, v := range u.FieldMapping {
		if col, ok := v.(string); ok && col != "" {
			out[k] = col
		}
	}
	return out
}

type Counters struct {
	RecordCount      int `json:"record_count"`
	ApprovedCount    int `json:"approved_count"`
	ErrorCount       int `json:"error_count"`
	BlacklistedCount int `json:"blacklisted_count"`
	PendingCount     int `json:"pending_count"`
}

// CountRows derives the aggregate counters from the row states. Submitted
// rows are still awaiting a final answer and count as pending.
func CountRows(rows []RowState) Counters {
	c := Counters{RecordCount: len(rows)}
	for _, r := range rows {
		switch r.CurrentStatus() {
		case RowApproved:
			c.ApprovedCount++
		case RowError:
			c.ErrorCount++
		case RowBlacklisted:
			c.BlacklistedCount++
		default:
			c.PendingCount++
		}
	}
	return c
}

func (u *Upload) ApplyCounters(c Counters) {
	u.RecordCount = c.RecordCount
	u.ApprovedCount = c.ApprovedCount
	u.ErrorCount = c.ErrorCount
	u.BlacklistedCount = c.BlacklistedCount
	u.PendingCount = c.PendingCount
}

// EnsureRows pads or builds the row array so it matches the records. Uploads
// created before row tracking existed have no rows at all.
func (u *Upload) EnsureRows() error {
	switch {
	case len(u.Rows) == len(u.Records):
		return nil
	case len(u.Rows) == 0:
		rows := make([]RowState, len(u.Records))
		for i := range rows {
			rows[i] = NewRowState()
		}
		u.Rows = rows
		return nil
	default:
		return fmt.Errorf("upload %s: %d records but %d rows", u.ID, len(u.Records), len(u.Rows))
	}
}

// RemoveRows drops the given indices from records and rows together.
func (u *Upload) RemoveRows(remove map[int]bool) int {
	if len(remove) == 0 {
		return 0
	}
	records := make([]Record, 0, len(u.Records))
	rows := make([]RowState, 0, len(u.Rows))
	for i := range u.Records {
		if remove[i] {
			continue
		}
		records = append(records, u.Records[i])
		if i < len(u.Rows) {
			rows = append(rows, u.Rows[i])
		}
	}
	removed := len(u.Records) - len(records)
	u.Records = records
	u.Rows = rows
	u.ApplyCounters(CountRows(rows))
	return removed
}
