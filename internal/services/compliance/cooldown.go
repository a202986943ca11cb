// Package compliance implements the IBAN cooldown check: an IBAN must not be
// debited again within a rolling window, whichever data source saw it last.
package compliance

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"emp-payments-backend/internal/models"
	"emp-payments-backend/internal/services/gateway"
	"emp-payments-backend/internal/services/mapping"
	"emp-payments-backend/internal/services/uploadlock"

	"github.com/google/uuid"
)

const DefaultWindowDays = 30

type Source string

const (
	SourceReconcile     Source = "reconcile"
	SourceUpload        Source = "upload"
	SourceEmpSubmission Source = "emp_submission"
)

type Violation struct {
	IBAN     string    `json:"iban"`
	RowIndex int       `json:"rowIndex"`
	DaysAgo  int       `json:"daysAgo"`
	Source   Source    `json:"source"`
	Filename string    `json:"filename,omitempty"`
	Date     time.Time `json:"date"`
}

type Result struct {
	Violations    []Violation `json:"violations"`
	ViolatedIBANs []string    `json:"violatedIbans"`
	CheckedCount  int         `json:"checkedCount"`
}

type Options struct {
	ExcludeUploadID *uuid.UUID
	WindowDays      int
}

type GroundTruthStore interface {
	FindByAccountsSince(ctx context.Context, accounts []string, since time.Time) ([]models.ReconcileRecord, error)
}

type UploadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	ListCreatedSince(ctx context.Context, since time.Time) ([]models.Upload, error)
	PatchRows(ctx context.Context, id uuid.UUID, rows map[int]models.RowState, counters models.Counters) error
}

type AuditStore interface {
	RecordTransitions(ctx context.Context, entries []models.RowStatusAudit) error
}

type Gate struct {
	records GroundTruthStore
	uploads UploadStore
	audits  AuditStore
	locks   *uploadlock.Locks
	now     func() time.Time
	window  int
}

func NewGate(records GroundTruthStore, uploads UploadStore, audits AuditStore, locks *uploadlock.Locks) *Gate {
	return &Gate{
		records: records,
		uploads: uploads,
		audits:  audits,
		locks:   locks,
		now:     time.Now,
		window:  DefaultWindowDays,
	}
}

// WithWindowDays changes the window used when a caller passes none.
func (g *Gate) WithWindowDays(days int) *Gate {
	if days > 0 {
		g.window = days
	}
	return g
}

type occurrence struct {
	date     time.Time
	source   Source
	filename string
}

// newer reports whether o should replace cur. On equal dates the gateway's
// own record wins.
func (o occurrence) newer(cur occurrence) bool {
	if o.date.After(cur.date) {
		return true
	}
	return o.date.Equal(cur.date) && o.source == SourceReconcile && cur.source != SourceReconcile
}

// countsAsUse reports whether a ground-truth status means the IBAN was
// actually debited or is about to be.
func countsAsUse(status string) bool {
	return gateway.IsApproved(status) || gateway.IsPending(status) || status == string(models.RowSubmitted)
}

// CheckThreshold finds every input IBAN used within the window. ibans[i] is
// the IBAN of row i. Nothing is modified.
func (g *Gate) CheckThreshold(ctx context.Context, ibans []string, opts Options) (Result, error) {
	window := opts.WindowDays
	if window <= 0 {
		window = g.window
	}
	now := g.now()
	since := now.AddDate(0, 0, -window)

	normalized := make([]string, len(ibans))
	wanted := map[string]bool{}
	var keys []string
	for i, iban := range ibans {
		n := mapping.NormalizeIBAN(iban)
		normalized[i] = n
		if n != "" && !wanted[n] {
			wanted[n] = true
			keys = append(keys, n)
		}
	}
	res := Result{Violations: []Violation{}, ViolatedIBANs: []string{}, CheckedCount: len(keys)}
	if len(keys) == 0 {
		return res, nil
	}

	latest := map[string]occurrence{}
	consider := func(iban string, o occurrence) {
		if cur, ok := latest[iban]; !ok || o.newer(cur) {
			latest[iban] = o
		}
	}

	records, err := g.records.FindByAccountsSince(ctx, keys, since)
	if err != nil {
		return res, fmt.Errorf("load reconcile records: %w", err)
	}
	for _, r := range records {
		iban := mapping.NormalizeIBAN(r.AccountNumber)
		if !wanted[iban] || !countsAsUse(r.Status) {
			continue
		}
		if r.TransactionDate.Before(since) || r.TransactionDate.After(now) {
			continue
		}
		consider(iban, occurrence{date: r.TransactionDate, source: SourceReconcile})
	}

	uploads, err := g.uploads.ListCreatedSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("load uploads: %w", err)
	}
	for _, u := range uploads {
		if opts.ExcludeUploadID != nil && u.ID == *opts.ExcludeUploadID {
			continue
		}
		custom := u.ColumnMapping()
		for i, rec := range u.Records {
			iban := mapping.NormalizeIBAN(mapping.DefaultAliases.Resolve(rec, mapping.FieldIBAN, custom))
			if !wanted[iban] {
				continue
			}
			o := occurrence{date: u.CreatedAt, source: SourceUpload, filename: u.Filename}
			if i < len(u.Rows) && u.Rows[i].SubmittedToGateway() {
				o.date = u.UpdatedAt
				o.source = SourceEmpSubmission
			}
			consider(iban, o)
		}
	}

	violated := map[string]bool{}
	for i, iban := range normalized {
		o, ok := latest[iban]
		if !ok {
			continue
		}
		res.Violations = append(res.Violations, Violation{
			IBAN:     iban,
			RowIndex: i,
			DaysAgo:  int(now.Sub(o.date) / (24 * time.Hour)),
			Source:   o.source,
			Filename: o.filename,
			Date:     o.date,
		})
		if !violated[iban] {
			violated[iban] = true
			res.ViolatedIBANs = append(res.ViolatedIBANs, iban)
		}
	}
	sort.Strings(res.ViolatedIBANs)
	return res, nil
}

// ApplyViolations marks every violating row that has not been debited yet
// as an error and returns the indices it changed.
func ApplyViolations(u *models.Upload, violations []Violation) map[int]models.RowStatus {
	changed := map[int]models.RowStatus{}
	for _, v := range violations {
		if v.RowIndex < 0 || v.RowIndex >= len(u.Rows) {
			continue
		}
		row := &u.Rows[v.RowIndex]
		prev := row.CurrentStatus()
		if prev != models.RowPending {
			continue
		}
		if err := row.Transition(models.RowError); err != nil {
			continue
		}
		row.Message = violationMessage(v)
		changed[v.RowIndex] = prev
	}
	return changed
}

func violationMessage(v Violation) string {
	where := string(v.Source)
	if v.Filename != "" {
		where = fmt.Sprintf("%s %s", v.Source, v.Filename)
	}
	return fmt.Sprintf("IBAN %s used %d days ago (%s), cooldown not elapsed", mapping.MaskIBAN(v.IBAN), v.DaysAgo, where)
}

// CheckUpload runs the cooldown check for every row of an upload against
// everything else. With apply set, violating pending rows become errors.
func (g *Gate) CheckUpload(ctx context.Context, uploadID uuid.UUID, windowDays int, apply bool) (Result, int, error) {
	if apply {
		unlock := g.locks.Lock(uploadID)
		defer unlock()
	}

	u, err := g.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return Result{}, 0, err
	}
	if err := u.EnsureRows(); err != nil {
		return Result{}, 0, err
	}

	custom := u.ColumnMapping()
	ibans := make([]string, len(u.Records))
	for i, rec := range u.Records {
		ibans[i] = mapping.DefaultAliases.Resolve(rec, mapping.FieldIBAN, custom)
	}
	res, err := g.CheckThreshold(ctx, ibans, Options{ExcludeUploadID: &u.ID, WindowDays: windowDays})
	if err != nil || !apply || len(res.Violations) == 0 {
		return res, 0, err
	}

	changed := ApplyViolations(u, res.Violations)
	if len(changed) == 0 {
		return res, 0, nil
	}

	patch := make(map[int]models.RowState, len(changed))
	audits := make([]models.RowStatusAudit, 0, len(changed))
	for idx, prev := range changed {
		patch[idx] = u.Rows[idx]
		audits = append(audits, models.NewRowStatusAudit(u.ID, idx, prev, models.RowError, models.AuditCompliance, u.Rows[idx].Message))
	}
	if err := g.uploads.PatchRows(ctx, u.ID, patch, models.CountRows(u.Rows)); err != nil {
		return res, 0, fmt.Errorf("persist cooldown errors: %w", err)
	}
	if err := g.audits.RecordTransitions(ctx, audits); err != nil {
		log.Printf("[COOLDOWN] upload %s: audit write failed: %v", u.ID, err)
	}
	log.Printf("[COOLDOWN] upload %s: %d rows marked as error", u.ID, len(changed))
	return res, len(changed), nil
}
