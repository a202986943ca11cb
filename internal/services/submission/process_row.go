package submission

import (
	"context"
	"fmt"
	"log"

	"emp-payments-backend/internal/models"
	"emp-payments-backend/internal/services/gateway"
	"emp-payments-backend/internal/services/mapping"
)

// maxDuplicateRetries renames allowed per run; a row sees at most
// maxDuplicateRetries+1 gateway calls.
const maxDuplicateRetries = 3

type rowOutcome struct {
	index         int
	from          models.RowStatus
	status        models.RowStatus
	transactionID string
	message       string
	// skipped rows were never dispatched because the run was cancelled.
	skipped bool
}

// rowJob carries what every row of one run shares.
type rowJob struct {
	gateway  gateway.Gateway
	clock    Clock
	mapper   *mapping.Mapper
	custom   mapping.CustomMapping
	company  mapping.CompanyConfig
	filename string
}

func setStatus(row *models.RowState, idx int, to models.RowStatus) {
	if err := row.Transition(to); err != nil {
		log.Printf("[SUBMIT] row %d: %v", idx, err)
	}
}

func (j *rowJob) finish(idx int, row *models.RowState, to models.RowStatus, message string) rowOutcome {
	setStatus(row, idx, to)
	row.Message = message
	return rowOutcome{index: idx, status: row.CurrentStatus(), transactionID: row.TransactionID, message: message}
}

// process runs one row through map -> submit -> duplicate recovery. The
// retry loop is sequential by construction.
func (j *rowJob) process(ctx context.Context, idx int, record models.Record, row *models.RowState) rowOutcome {
	req, err := j.mapper.MapRecordToSddSale(record, idx, j.custom, j.filename, j.company)
	if err != nil {
		return j.finish(idx, row, models.RowError, err.Error())
	}

	if row.BaseTransactionID == "" {
		row.BaseTransactionID = mapping.BaseTransactionID(req.TransactionID)
	}
	row.DuplicateAttempts = 0

	for {
		attemptID := mapping.RetryTransactionID(row.BaseTransactionID, row.RetryCount)
		now := j.clock.Now()
		row.Attempts++
		row.LastAttemptAt = &now
		row.TransactionID = attemptID
		row.MaskedIBAN = mapping.MaskIBAN(req.IBAN)
		setStatus(row, idx, models.RowSubmitted)

		res, err := j.gateway.Submit(ctx, req.WithTransactionID(attemptID))
		if err != nil {
			row.TechnicalMessage = err.Error()
			return j.finish(idx, row, models.RowError, "gateway request failed: "+err.Error())
		}
		applyGatewayResult(row, res)

		if res.OK {
			if gateway.IsApproved(res.Status) {
				return j.finish(idx, row, models.RowApproved, messageOr(res.Message, "Transaction approved"))
			}
			return j.finish(idx, row, models.RowSubmitted, messageOr(res.Message, fmt.Sprintf("Transaction accepted with status %s", statusOr(res.Status))))
		}

		if !gateway.IsDuplicateTransactionError(res.Message, res.TechnicalMessage) {
			return j.finish(idx, row, models.RowError, messageOr(res.Message, fmt.Sprintf("Transaction rejected with status %s", statusOr(res.Status))))
		}

		existing := j.gateway.Reconcile(ctx, gateway.Query{TransactionID: attemptID})
		if existing.OK && (gateway.IsApproved(existing.Status) || gateway.IsPending(existing.Status)) {
			applyGatewayResult(row, existing)
			to := models.RowSubmitted
			if gateway.IsApproved(existing.Status) {
				to = models.RowApproved
			}
			return j.finish(idx, row, to, fmt.Sprintf("Resolved via existing transaction %s (%s)", attemptID, existing.Status))
		}

		row.RetryCount++
		row.DuplicateAttempts++
		if row.DuplicateAttempts > maxDuplicateRetries {
			return j.finish(idx, row, models.RowError,
				fmt.Sprintf("Duplicate transaction id: retries exhausted after %d attempts (last id %s)", row.DuplicateAttempts, attemptID))
		}
		log.Printf("[SUBMIT] row %d: duplicate transaction id %s, retrying as %s",
			idx, attemptID, mapping.RetryTransactionID(row.BaseTransactionID, row.RetryCount))
	}
}

func applyGatewayResult(row *models.RowState, res gateway.Result) {
	if res.UniqueID != "" {
		row.UniqueID = res.UniqueID
	}
	row.RedirectURL = res.RedirectURL
	row.TechnicalMessage = res.TechnicalMessage
	row.EmpStatus = res.Status
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

func statusOr(status string) string {
	if status == "" {
		return "unknown"
	}
	return status
}
