package models

import (
	"errors"
	"fmt"
	"time"
)

type RowStatus string

const (
	RowPending     RowStatus = "pending"
	RowSubmitted   RowStatus = "submitted"
	RowApproved    RowStatus = "approved"
	RowError       RowStatus = "error"
	RowBlacklisted RowStatus = "blacklisted"
)

var ErrInvalidTransition = errors.New("invalid row status transition")

// rowTransitions lists the allowed moves out of each status. Moving to the
// same status is always allowed and not listed here.
var rowTransitions = map[RowStatus][]RowStatus{
	RowPending:     {RowSubmitted, RowApproved, RowError, RowBlacklisted},
	RowSubmitted:   {RowApproved, RowError, RowPending},
	RowApproved:    {RowError},
	RowError:       {RowPending, RowSubmitted, RowApproved},
	RowBlacklisted: {},
}

func CanTransition(from, to RowStatus) bool {
	if from == "" {
		from = RowPending
	}
	if from == to {
		return true
	}
	for _, s := range rowTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RowState is the per-record submission state, stored in Upload.Rows at the
// same index as the record it describes.
type RowState struct {
	Status            RowStatus  `json:"status"`
	Attempts          int        `json:"attempts"`
	LastAttemptAt     *time.Time `json:"last_attempt_at,omitempty"`
	RetryCount        int        `json:"retry_count"`
	DuplicateAttempts int        `json:"duplicate_attempts"`
	BaseTransactionID string     `json:"base_transaction_id,omitempty"`
	TransactionID     string     `json:"transaction_id,omitempty"`
	UniqueID          string     `json:"unique_id,omitempty"`
	RedirectURL       string     `json:"redirect_url,omitempty"`
	Message           string     `json:"message,omitempty"`
	TechnicalMessage  string     `json:"technical_message,omitempty"`
	EmpStatus         string     `json:"emp_status,omitempty"`
	MaskedIBAN        string     `json:"masked_iban,omitempty"`
}

func NewRowState() RowState {
	return RowState{Status: RowPending}
}

// Transition moves the row to the given status if the transition table
// allows it.
func (r *RowState) Transition(to RowStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.CurrentStatus(), to)
	}
	r.Status = to
	return nil
}

func (r RowState) CurrentStatus() RowStatus {
	if r.Status == "" {
		return RowPending
	}
	return r.Status
}

// SubmittedToGateway reports whether the gateway has seen this row.
func (r RowState) SubmittedToGateway() bool {
	if r.UniqueID != "" {
		return true
	}
	s := r.CurrentStatus()
	return s == RowSubmitted || s == RowApproved
}

// Eligible reports whether the batch submitter may pick this row up.
func (r RowState) Eligible() bool {
	switch r.CurrentStatus() {
	case RowApproved, RowBlacklisted, RowError:
		return false
	}
	return true
}
