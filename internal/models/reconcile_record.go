package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReconcileRecord is the gateway's view of one transaction, as last seen by a
// reconcile call. It is the ground truth the cooldown and chargeback checks
// read from.
type ReconcileRecord struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UniqueID        string          `gorm:"uniqueIndex" json:"unique_id"`
	TransactionID   string          `gorm:"index" json:"transaction_id"`
	AccountNumber   string          `gorm:"index" json:"account_number"`
	CardNumber      string          `gorm:"index" json:"card_number,omitempty"`
	Status          string          `gorm:"index" json:"status"`
	Amount          decimal.Decimal `gorm:"type:numeric(14,2)" json:"amount"`
	Currency        string          `json:"currency"`
	TransactionDate time.Time       `gorm:"column:transaction_date;index" json:"transaction_date"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StatusStat is one row of a per-status aggregate over reconcile records.
type StatusStat struct {
	Status string
	Count  int64
	Sum    decimal.Decimal
}
