package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Chargeback points at the transaction it reverses through OriginalUniqueID,
// the gateway's logical id, not a foreign key.
type Chargeback struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UniqueID         string          `gorm:"uniqueIndex" json:"unique_id"`
	OriginalUniqueID string          `gorm:"index" json:"original_unique_id"`
	Reason           string          `json:"reason"`
	Amount           decimal.Decimal `gorm:"type:numeric(14,2)" json:"amount"`
	PostDate         *time.Time      `json:"post_date,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
