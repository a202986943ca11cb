// Package reconciliation compares local row state with the gateway's ground
// truth and writes the corrections back.
package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"emp-payments-backend/internal/models"
	"emp-payments-backend/internal/services/gateway"
	"emp-payments-backend/internal/services/mapping"
	"emp-payments-backend/internal/services/uploadlock"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	// subBatchSize bounds the reconcile calls in flight at once.
	subBatchSize      = 5
	DefaultWindowDays = 14
)

type UploadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]models.Upload, error)
	PatchRows(ctx context.Context, id uuid.UUID, rows map[int]models.RowState, counters models.Counters) error
	SaveReport(ctx context.Context, id uuid.UUID, report datatypes.JSON, at time.Time) error
}

type GroundTruthStore interface {
	Upsert(ctx context.Context, records []models.ReconcileRecord) error
	StatusStats(ctx context.Context, since time.Time) ([]models.StatusStat, error)
}

type AuditStore interface {
	RecordTransitions(ctx context.Context, entries []models.RowStatusAudit) error
}

type ReconciliationService struct {
	gateway    gateway.Gateway
	uploads    UploadStore
	records    GroundTruthStore
	audits     AuditStore
	locks      *uploadlock.Locks
	windowDays int
	now        func() time.Time

	reportCache sync.Map // uploadID -> Report
}

func NewReconciliationService(
	gw gateway.Gateway,
	uploads UploadStore,
	records GroundTruthStore,
	audits AuditStore,
	locks *uploadlock.Locks,
	windowDays int,
) *ReconciliationService {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &ReconciliationService{
		gateway:    gw,
		uploads:    uploads,
		records:    records,
		audits:     audits,
		locks:      locks,
		windowDays: windowDays,
		now:        time.Now,
	}
}

// Reconcile looks up a single transaction. A failed lookup is a normal
// answer with OK=false.
func (s *ReconciliationService) Reconcile(ctx context.Context, q gateway.Query) gateway.Result {
	if q.UniqueID == "" && q.TransactionID == "" {
		return gateway.Result{OK: false, Message: "uniqueId or transactionId is required"}
	}
	return s.gateway.Reconcile(ctx, q)
}

// CompareWithEmp classifies rows against the gateway. rows[i] is reported
// with RowIndex i.
func (s *ReconciliationService) CompareWithEmp(ctx context.Context, rows []models.RowState) Report {
	report, _ := s.compare(ctx, rows)
	return report
}

func (s *ReconciliationService) compare(ctx context.Context, rows []models.RowState) (Report, map[int]gateway.Result) {
	report := newReport(len(rows))
	var submitted []int
	for i, r := range rows {
		if submittedRow(r) {
			submitted = append(submitted, i)
		}
	}
	report.Submitted = len(submitted)
	report.NotSubmitted = report.Total - report.Submitted

	answers := make(map[int]gateway.Result, len(submitted))
	var mu sync.Mutex
	for start := 0; start < len(submitted); start += subBatchSize {
		end := start + subBatchSize
		if end > len(submitted) {
			end = len(submitted)
		}
		var wg sync.WaitGroup
		for _, idx := range submitted[start:end] {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				res := s.gateway.Reconcile(ctx, gateway.Query{UniqueID: rows[idx].UniqueID, TransactionID: rows[idx].TransactionID})
				mu.Lock()
				answers[idx] = res
				mu.Unlock()
			}(idx)
		}
		wg.Wait()
	}

	for _, idx := range submitted {
		report.add(classify(idx, rows[idx], answers[idx]))
	}
	return report, answers
}

// submittedRow reports whether the gateway is expected to know the row: it
// has a remote id and is not explicitly pending.
func submittedRow(r models.RowState) bool {
	return r.UniqueID != "" && r.CurrentStatus() != models.RowPending && r.CurrentStatus() != models.RowBlacklisted
}

func classify(idx int, row models.RowState, res gateway.Result) Detail {
	d := Detail{
		RowIndex:      idx,
		TransactionID: row.TransactionID,
		UniqueID:      row.UniqueID,
		EmpStatus:     res.Status,
		Message:       res.Message,
	}
	switch {
	case !res.OK:
		d.Status = DetailMissing
		if d.Message == "" {
			d.Message = "transaction not found at gateway"
		}
	case gateway.IsApproved(res.Status):
		d.Status = DetailApproved
	case gateway.IsDeclined(res.Status):
		d.Status = DetailError
	default:
		d.Status = DetailPending
	}
	return d
}

// ReconcileUpload compares every submitted row of the upload with the
// gateway, patches the rows whose status changed and stores the report.
func (s *ReconciliationService) ReconcileUpload(ctx context.Context, uploadID uuid.UUID) (Report, int, error) {
	unlock, ok := s.locks.TryLock(uploadID)
	if !ok {
		return Report{}, 0, uploadlock.ErrBusy
	}
	defer unlock()

	u, err := s.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return Report{}, 0, err
	}
	if err := u.EnsureRows(); err != nil {
		return Report{}, 0, err
	}

	report, answers := s.compare(ctx, u.Rows)

	patch := map[int]models.RowState{}
	var audits []models.RowStatusAudit
	for _, d := range report.Details {
		row := &u.Rows[d.RowIndex]
		prev := row.CurrentStatus()
		if !applyDetail(row, d) {
			continue
		}
		patch[d.RowIndex] = *row
		if next := row.CurrentStatus(); next != prev {
			audits = append(audits, models.NewRowStatusAudit(u.ID, d.RowIndex, prev, next, models.AuditReconcile, d.EmpStatus))
		}
	}

	if len(patch) > 0 {
		if err := s.uploads.PatchRows(ctx, u.ID, patch, models.CountRows(u.Rows)); err != nil {
			return report, 0, fmt.Errorf("persist reconcile corrections: %w", err)
		}
	}
	if len(audits) > 0 && s.audits != nil {
		if err := s.audits.RecordTransitions(ctx, audits); err != nil {
			log.Printf("[RECONCILE] upload %s: audit write failed: %v", u.ID, err)
		}
	}

	if recs := groundTruth(u, answers, s.now()); len(recs) > 0 && s.records != nil {
		if err := s.records.Upsert(ctx, recs); err != nil {
			log.Printf("[RECONCILE] upload %s: ground truth upsert failed: %v", u.ID, err)
		}
	}

	body, err := json.Marshal(report)
	if err != nil {
		return report, len(patch), err
	}
	if err := s.uploads.SaveReport(ctx, u.ID, datatypes.JSON(body), s.now()); err != nil {
		return report, len(patch), fmt.Errorf("save reconcile report: %w", err)
	}
	s.reportCache.Store(u.ID, report)

	log.Printf("[RECONCILE] upload %s: submitted=%d approved=%d pending=%d error=%d missing=%d, %d rows updated",
		u.ID, report.Submitted, report.Approved, report.Pending, report.Error, len(report.MissingInEmp), len(patch))
	return report, len(patch), nil
}

// applyDetail folds one reconcile answer into the row and reports whether
// anything changed. Missing rows are left alone.
func applyDetail(row *models.RowState, d Detail) bool {
	var to models.RowStatus
	switch d.Status {
	case DetailApproved:
		to = models.RowApproved
	case DetailError:
		to = models.RowError
	case DetailPending:
		to = models.RowSubmitted
	default:
		return false
	}

	before := *row
	if err := row.Transition(to); err != nil {
		log.Printf("[RECONCILE] row %d: %v", d.RowIndex, err)
		return false
	}
	row.EmpStatus = d.EmpStatus
	if to == models.RowError {
		row.Message = d.Message
		if row.Message == "" {
			row.Message = fmt.Sprintf("Gateway reports status %s", d.EmpStatus)
		}
	}
	return before.Status != row.Status || before.EmpStatus != row.EmpStatus || before.Message != row.Message
}

func groundTruth(u *models.Upload, answers map[int]gateway.Result, now time.Time) []models.ReconcileRecord {
	custom := u.ColumnMapping()
	var out []models.ReconcileRecord
	for idx, res := range answers {
		if !res.OK || res.Status == "" {
			continue
		}
		uniqueID := res.UniqueID
		if uniqueID == "" {
			uniqueID = u.Rows[idx].UniqueID
		}
		rec := u.Records[idx]
		amount := decimal.New(res.Amount, -2)
		if res.Amount == 0 {
			if a, err := mapping.ParseAmount(mapping.DefaultAliases.Resolve(rec, mapping.FieldAmount, custom)); err == nil {
				amount = a
			}
		}
		date := now
		if ts, err := time.Parse(time.RFC3339, res.Timestamp); err == nil {
			date = ts
		} else if u.Rows[idx].LastAttemptAt != nil {
			date = *u.Rows[idx].LastAttemptAt
		}
		out = append(out, models.ReconcileRecord{
			ID:              uuid.New(),
			UniqueID:        uniqueID,
			TransactionID:   u.Rows[idx].TransactionID,
			AccountNumber:   mapping.NormalizeIBAN(mapping.DefaultAliases.Resolve(rec, mapping.FieldIBAN, custom)),
			CardNumber:      mapping.DefaultAliases.Resolve(rec, mapping.FieldCardNumber, custom),
			Status:          res.Status,
			Amount:          amount,
			Currency:        res.Currency,
			TransactionDate: date,
		})
	}
	return out
}

// BulkResult summarizes one ReconcileRecent run.
type BulkResult struct {
	Uploads     int `json:"uploads"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	RowsUpdated int `json:"rowsUpdated"`
	Submitted   int `json:"submitted"`
	Approved    int `json:"approved"`
	Pending     int `json:"pending"`
	Error       int `json:"error"`
	Missing     int `json:"missing"`
}

// ReconcileRecent reconciles every upload created within the window, one at
// a time. Uploads busy with another operation are skipped.
func (s *ReconciliationService) ReconcileRecent(ctx context.Context) (BulkResult, error) {
	since := s.now().AddDate(0, 0, -s.windowDays)
	uploads, err := s.uploads.ListCreatedSince(ctx, since)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list uploads: %w", err)
	}

	var out BulkResult
	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		report, updated, err := s.ReconcileUpload(ctx, u.ID)
		switch {
		case errors.Is(err, uploadlock.ErrBusy):
			out.Skipped++
			continue
		case err != nil:
			out.Failed++
			log.Printf("[RECONCILE] upload %s: %v", u.ID, err)
			continue
		}
		out.Uploads++
		out.RowsUpdated += updated
		out.Submitted += report.Submitted
		out.Approved += report.Approved
		out.Pending += report.Pending
		out.Error += report.Error
		out.Missing += len(report.MissingInEmp)
	}
	log.Printf("[RECONCILE] bulk: %d uploads reconciled, %d skipped, %d failed, %d rows updated",
		out.Uploads, out.Skipped, out.Failed, out.RowsUpdated)
	return out, nil
}

// LastReport returns the most recent report computed by this process.
func (s *ReconciliationService) LastReport(uploadID uuid.UUID) (Report, bool) {
	v, ok := s.reportCache.Load(uploadID)
	if !ok {
		return Report{}, false
	}
	return v.(Report), true
}

// GroundTruthStats sums the reconcile records of the window by status.
func (s *ReconciliationService) GroundTruthStats(ctx context.Context) (Stats, error) {
	rows, err := s.records.StatusStats(ctx, s.now().AddDate(0, 0, -s.windowDays))
	if err != nil {
		return Stats{}, err
	}
	return buildStats(rows), nil
}
