package models

import (
	"time"

	"github.com/google/uuid"
)

// BlacklistEntry denies any of its non-empty values. BIC holds a pattern
// that matches every BIC containing it.
type BlacklistEntry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	IBAN      string    `gorm:"column:iban;uniqueIndex:idx_blacklist_values" json:"iban,omitempty"`
	Email     string    `gorm:"uniqueIndex:idx_blacklist_values" json:"email,omitempty"`
	Name      string    `gorm:"uniqueIndex:idx_blacklist_values" json:"name,omitempty"`
	BIC       string    `gorm:"column:bic;uniqueIndex:idx_blacklist_values" json:"bic,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
