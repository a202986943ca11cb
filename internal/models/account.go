package models

import (
	"time"

	"github.com/google/uuid"
)

// Account holds the per-tenant settings that go into every SDD request.
type Account struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string    `gorm:"uniqueIndex" json:"name"`
	TransactionPrefix string    `json:"transaction_prefix"`
	Usage             string    `json:"usage"`
	Currency          string    `json:"currency"`
	RemoteIP          string    `json:"remote_ip"`
	DynamicDescriptor string    `json:"dynamic_descriptor"`
	NotificationURL   string    `json:"notification_url"`
	ReturnSuccessURL  string    `json:"return_success_url"`
	ReturnFailureURL  string    `json:"return_failure_url"`
	CreatedAt         time.Time `json:"created_at"`
}
