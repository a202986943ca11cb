package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditSource string

const (
	AuditSubmit     AuditSource = "submit"
	AuditReconcile  AuditSource = "reconcile"
	AuditCompliance AuditSource = "compliance"
	AuditBlacklist  AuditSource = "blacklist"
	AuditOperator   AuditSource = "operator"
)

type RowStatusAudit struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	UploadID       uuid.UUID `gorm:"type:uuid;index"`
	RowIndex       int
	PreviousStatus RowStatus
	NewStatus      RowStatus
	Source         AuditSource `gorm:"index"`
	Reason         string
	CreatedAt      time.Time
}

func NewRowStatusAudit(uploadID uuid.UUID, row int, prev, next RowStatus, source AuditSource, reason string) RowStatusAudit {
	return RowStatusAudit{
		ID:             uuid.New(),
		UploadID:       uploadID,
		RowIndex:       row,
		PreviousStatus: prev,
		NewStatus:      next,
		Source:         source,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
}
