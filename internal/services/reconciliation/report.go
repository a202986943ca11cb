package reconciliation

import (
	"emp-payments-backend/internal/models"
	"emp-payments-backend/internal/services/gateway"

	"github.com/shopspring/decimal"
)

type DetailStatus string

const (
	DetailApproved DetailStatus = "approved"
	DetailPending  DetailStatus = "pending"
	DetailError    DetailStatus = "error"
	DetailMissing  DetailStatus = "missing_in_emp"
)

type Detail struct {
	RowIndex      int          `json:"rowIndex"`
	TransactionID string       `json:"transactionId,omitempty"`
	UniqueID      string       `json:"uniqueId,omitempty"`
	Status        DetailStatus `json:"status"`
	EmpStatus     string       `json:"empStatus,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// Report holds, by construction, Total == Submitted + NotSubmitted and
// Submitted == Approved + Pending + Error + len(MissingInEmp).
type Report struct {
	Total        int      `json:"total"`
	Submitted    int      `json:"submitted"`
	NotSubmitted int      `json:"notSubmitted"`
	Approved     int      `json:"approved"`
	Pending      int      `json:"pending"`
	Error        int      `json:"error"`
	MissingInEmp []string `json:"missingInEmp"`
	Details      []Detail `json:"details"`
}

func newReport(total int) Report {
	return Report{Total: total, MissingInEmp: []string{}, Details: []Detail{}}
}

func (r *Report) add(d Detail) {
	switch d.Status {
	case DetailApproved:
		r.Approved++
	case DetailError:
		r.Error++
	case DetailMissing:
		id := d.TransactionID
		if id == "" {
			id = d.UniqueID
		}
		r.MissingInEmp = append(r.MissingInEmp, id)
	default:
		r.Pending++
	}
	r.Details = append(r.Details, d)
}

type StatusTotal struct {
	Count int64           `json:"count"`
	Sum   decimal.Decimal `json:"sum"`
}

// Stats groups ground-truth records by the shared status classes.
type Stats struct {
	Total    int64                  `json:"total"`
	Amount   decimal.Decimal        `json:"total_amount"`
	Approved StatusTotal            `json:"approved"`
	Pending  StatusTotal            `json:"pending"`
	Declined StatusTotal            `json:"declined"`
	Other    StatusTotal            `json:"other"`
	ByStatus map[string]StatusTotal `json:"by_status"`
}

func buildStats(rows []models.StatusStat) Stats {
	stats := Stats{ByStatus: map[string]StatusTotal{}}
	add := func(t *StatusTotal, r models.StatusStat) {
		t.Count += r.Count
		t.Sum = t.Sum.Add(r.Sum)
	}
	for _, r := range rows {
		stats.Total += r.Count
		stats.Amount = stats.Amount.Add(r.Sum)
		stats.ByStatus[r.Status] = StatusTotal{Count: r.Count, Sum: r.Sum}

		switch gateway.Classify(r.Status) {
		case gateway.ClassApproved:
			add(&stats.Approved, r)
		case gateway.ClassPending:
			add(&stats.Pending, r)
		case gateway.ClassDeclined:
			add(&stats.Declined, r)
		default:
			add(&stats.Other, r)
		}
	}
	return stats
}
