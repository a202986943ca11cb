// Package gateway defines the contract with the payment gateway and the
// status policy shared by submission and reconciliation.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// SddSaleRequest is one SEPA Direct Debit sale as the gateway expects it.
type SddSaleRequest struct {
	TransactionID     string          `json:"transaction_id"`
	Usage             string          `json:"usage"`
	RemoteIP          string          `json:"remote_ip"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	IBAN              string          `json:"iban"`
	BIC               string          `json:"bic,omitempty"`
	FirstName         string          `json:"first_name"`
	LastName          string          `json:"last_name"`
	Email             string          `json:"customer_email,omitempty"`
	Phone             string          `json:"customer_phone,omitempty"`
	Address           string          `json:"address1,omitempty"`
	ZipCode           string          `json:"zip_code,omitempty"`
	City              string          `json:"city,omitempty"`
	Country           string          `json:"country,omitempty"`
	DynamicDescriptor string          `json:"dynamic_descriptor,omitempty"`
	NotificationURL   string          `json:"notification_url,omitempty"`
	ReturnSuccessURL  string          `json:"return_success_url,omitempty"`
	ReturnFailureURL  string          `json:"return_failure_url,omitempty"`
}

// MinorAmount is the amount in cents, which is what the gateway takes.
func (r SddSaleRequest) MinorAmount() int64 {
	return r.Amount.Shift(2).Round(0).IntPart()
}

func (r SddSaleRequest) WithTransactionID(id string) SddSaleRequest {
	r.TransactionID = id
	return r
}

// Result is the gateway's answer to a submit or reconcile call. OK is false
// for declines, errors and lookups that found nothing.
type Result struct {
	OK               bool   `json:"ok"`
	Status           string `json:"status"`
	UniqueID         string `json:"unique_id,omitempty"`
	TransactionID    string `json:"transaction_id,omitempty"`
	RedirectURL      string `json:"redirect_url,omitempty"`
	Message          string `json:"message,omitempty"`
	TechnicalMessage string `json:"technical_message,omitempty"`
	Amount           int64  `json:"amount,omitempty"`
	Currency         string `json:"currency,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
}

// Query identifies a transaction for reconcile. UniqueID wins when both
// are set.
type Query struct {
	UniqueID      string `json:"uniqueId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

type Gateway interface {
	// Submit returns an error only when no gateway answer was obtained.
	Submit(ctx context.Context, req SddSaleRequest) (Result, error)
	// Reconcile never fails; a lookup problem is reported through Result.OK.
	Reconcile(ctx context.Context, q Query) Result
}
