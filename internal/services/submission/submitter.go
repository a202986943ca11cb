// Package submission sends the pending rows of an upload to the gateway in
// sequential groups of bounded concurrency, recovering from duplicate
// transaction id rejections by renaming the id and retrying.
package submission

import (
	"context"
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
	"gorm.io/gorm"
)

const (
	DefaultConcurrency = 20
	DefaultChunkSize   = 20
	errorPreviewLimit  = 20
)

type UploadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	PatchRows(ctx context.Context, id uuid.UUID, rows map[int]models.RowState, counters models.Counters) error
}

type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type AuditStore interface {
	RecordTransitions(ctx context.Context, entries []models.RowStatusAudit) error
}

type Options struct {
	Concurrency    int    `json:"concurrency"`
	ChunkSize      int    `json:"chunkSize"`
	MaxRecords     int    `json:"maxRecords"`
	FilterByAmount string `json:"filterByAmount"`
	AmountLimit    int    `json:"amountLimit"`
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

type RowError struct {
	RowIndex      int    `json:"rowIndex"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message"`
}

// Result reports how many rows this run touched and the upload's counters
// after the final flush.
type Result struct {
	Processed    int        `json:"processed"`
	Approved     int        `json:"approved"`
	Errors       int        `json:"errors"`
	Blacklisted  int        `json:"blacklisted"`
	Pending      int        `json:"pending"`
	Groups       int        `json:"groups"`
	ErrorCount   int        `json:"errorCount"`
	ErrorDetails []RowError `json:"errorDetails"`
	// Interrupted is set when the caller went away before every group ran.
	Interrupted bool `json:"interrupted,omitempty"`
}

type Submitter struct {
	uploads       UploadStore
	accounts      AccountStore
	audits        AuditStore
	gateway       gateway.Gateway
	locks         *uploadlock.Locks
	company       mapping.CompanyConfig
	clock         Clock
	flushInterval time.Duration
	progressCache sync.Map // uploadID -> Progress

	// groupDone is called after each group settles; tests hook it.
	groupDone func(group []int)
}

func NewSubmitter(
	uploads UploadStore,
	accounts AccountStore,
	audits AuditStore,
	gw gateway.Gateway,
	locks *uploadlock.Locks,
	company mapping.CompanyConfig,
) *Submitter {
	return &Submitter{
		uploads:       uploads,
		accounts:      accounts,
		audits:        audits,
		gateway:       gw,
		locks:         locks,
		company:       company,
		clock:         systemClock{},
		flushInterval: DefaultFlushInterval,
	}
}

// SubmitBatch processes the eligible rows of an upload. Row failures are
// collected, never returned; only setup problems and a failed final flush
// come back as errors.
func (s *Submitter) SubmitBatch(ctx context.Context, uploadID uuid.UUID, opts Options) (Result, error) {
	opts = opts.withDefaults()

	unlock, ok := s.locks.TryLock(uploadID)
	if !ok {
		return Result{}, uploadlock.ErrBusy
	}
	defer unlock()

	u, err := s.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return Result{}, err
	}
	if err := u.EnsureRows(); err != nil {
		return Result{}, err
	}
	cfg, err := s.companyConfig(ctx, u)
	if err != nil {
		return Result{}, err
	}
	custom := mapping.CustomMapping(u.ColumnMapping())
	mapper := mapping.NewMapper(u.ID)

	selected, err := selectRows(u, mapper.Aliases, custom, opts)
	if err != nil {
		return Result{}, err
	}
	groups := partition(selected, opts.ChunkSize)

	log.Printf("[SUBMIT] upload %s: %d eligible rows in %d groups (concurrency=%d)",
		u.ID, len(selected), len(groups), opts.Concurrency)

	started := s.clock.Now()
	s.storeProgress(u.ID, Progress{Status: ProgressRunning, Total: len(selected), StartedAt: started})

	job := &rowJob{
		gateway:  s.gateway,
		clock:    s.clock,
		mapper:   mapper,
		custom:   custom,
		company:  cfg,
		filename: u.Filename,
	}
	cp := NewCheckpointer(s.uploads, u.ID, s.flushInterval, s.clock)
	// Writes outlive the caller so a disconnect never loses settled rows.
	storeCtx := context.WithoutCancel(ctx)

	res := Result{ErrorDetails: []RowError{}}
	var runApproved, runErrors int
	var audits []models.RowStatusAudit
	for _, group := range groups {
		if ctx.Err() != nil {
			res.Interrupted = true
			log.Printf("[SUBMIT] upload %s: stopped after %d of %d groups: %v", u.ID, res.Groups, len(groups), ctx.Err())
			break
		}
		outcomes := runGroup(ctx, job, u, group, opts.Concurrency)
		res.Groups++
		for _, o := range outcomes {
			if o.skipped {
				res.Interrupted = true
				continue
			}
			res.Processed++
			if o.from != o.status {
				audits = append(audits, models.NewRowStatusAudit(u.ID, o.index, o.from, o.status, models.AuditSubmit, o.message))
			}
			switch o.status {
			case models.RowApproved:
				runApproved++
			case models.RowError:
				runErrors++
				res.ErrorCount++
				if len(res.ErrorDetails) < errorPreviewLimit {
					res.ErrorDetails = append(res.ErrorDetails, RowError{RowIndex: o.index, TransactionID: o.transactionID, Message: o.message})
				}
			}
		}
		cp.MarkDirty(group...)
		cp.MaybeFlush(storeCtx, u.Rows)
		if s.groupDone != nil {
			s.groupDone(group)
		}
		s.storeProgress(u.ID, Progress{
			Status:    ProgressRunning,
			Total:     len(selected),
			Processed: res.Processed,
			Approved:  runApproved,
			Errors:    runErrors,
			StartedAt: started,
		})
	}

	counters, err := cp.Final(storeCtx, u.Rows)
	finished := s.clock.Now()
	status := ProgressCompleted
	if res.Interrupted {
		status = ProgressInterrupted
	}
	final := Progress{
		Status:     status,
		Total:      len(selected),
		Processed:  res.Processed,
		Approved:   runApproved,
		Errors:     runErrors,
		StartedAt:  started,
		FinishedAt: &finished,
	}
	res.Approved = counters.ApprovedCount
	res.Errors = counters.ErrorCount
	res.Blacklisted = counters.BlacklistedCount
	res.Pending = counters.PendingCount
	if err != nil {
		final.Status = ProgressFailed
		s.storeProgress(u.ID, final)
		return res, fmt.Errorf("final checkpoint for upload %s: %w", u.ID, err)
	}
	s.storeProgress(u.ID, final)

	if len(audits) > 0 && s.audits != nil {
		if err := s.audits.RecordTransitions(storeCtx, audits); err != nil {
			log.Printf("[SUBMIT] upload %s: recording %d status changes failed: %v", u.ID, len(audits), err)
		}
	}

	log.Printf("[SUBMIT] upload %s: processed=%d approved=%d errors=%d pending=%d in %s",
		u.ID, res.Processed, res.Approved, res.Errors, res.Pending, finished.Sub(started).Round(time.Millisecond))
	return res, nil
}

func (s *Submitter) companyConfig(ctx context.Context, u *models.Upload) (mapping.CompanyConfig, error) {
	if u.AccountID == nil || s.accounts == nil {
		return s.company, nil
	}
	acc, err := s.accounts.GetByID(ctx, *u.AccountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[SUBMIT] upload %s: account %s not found, using defaults", u.ID, *u.AccountID)
		return s.company, nil
	}
	if err != nil {
		return mapping.CompanyConfig{}, fmt.Errorf("load account %s: %w", *u.AccountID, err)
	}
	return mapping.CompanyConfigFor(acc, s.company), nil
}

// selectRows picks the eligible row indices in order. An amount filter has
// its own cap and disables MaxRecords.
func selectRows(u *models.Upload, aliases mapping.AliasTable, custom mapping.CustomMapping, opts Options) ([]int, error) {
	var eligible []int
	for i, r := range u.Rows {
		if r.Eligible() {
			eligible = append(eligible, i)
		}
	}

	if opts.FilterByAmount != "" {
		target, err := mapping.ParseAmount(opts.FilterByAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid filterByAmount %q: %w", opts.FilterByAmount, err)
		}
		var matched []int
		for _, i := range eligible {
			amt, err := mapping.ParseAmount(aliases.Resolve(u.Records[i], mapping.FieldAmount, custom))
			if err == nil && amt.Equal(target) {
				matched = append(matched, i)
			}
		}
		if opts.AmountLimit > 0 && len(matched) > opts.AmountLimit {
			matched = matched[:opts.AmountLimit]
		}
		return matched, nil
	}

	if opts.MaxRecords > 0 && len(eligible) > opts.MaxRecords {
		eligible = eligible[:opts.MaxRecords]
	}
	return eligible, nil
}

func partition(indices []int, size int) [][]int {
	var groups [][]int
	for start := 0; start < len(indices); start += size {
		end := start + size
		if end > len(indices) {
			end = len(indices)
		}
		groups = append(groups, indices[start:end])
	}
	return groups
}

// runGroup submits every row of the group with at most concurrency calls in
// flight and returns once all of them settled. Each goroutine owns one row.
func runGroup(ctx context.Context, job *rowJob, u *models.Upload, group []int, concurrency int) []rowOutcome {
	outcomes := make([]rowOutcome, len(group))
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for pos, idx := range group {
		wg.Add(1)
		go func(pos, idx int) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				outcomes[pos] = rowOutcome{index: idx, skipped: true}
				return
			}
			from := u.Rows[idx].CurrentStatus()
			outcomes[pos] = job.process(ctx, idx, u.Records[idx], &u.Rows[idx])
			outcomes[pos].from = from
		}(pos, idx)
	}
	wg.Wait()
	return outcomes
}

// ResetErrors puts every errored row back to pending so the next run picks it
// up again. Retry counters are kept so renamed ids keep moving forward.
func (s *Submitter) ResetErrors(ctx context.Context, uploadID uuid.UUID) (int, error) {
	unlock, ok := s.locks.TryLock(uploadID)
	if !ok {
		return 0, uploadlock.ErrBusy
	}
	defer unlock()

	u, err := s.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	if err := u.EnsureRows(); err != nil {
		return 0, err
	}

	patch := map[int]models.RowState{}
	var audits []models.RowStatusAudit
	for i := range u.Rows {
		row := &u.Rows[i]
		if row.CurrentStatus() != models.RowError {
			continue
		}
		prevMessage := row.Message
		if err := row.Transition(models.RowPending); err != nil {
			continue
		}
		row.Message = ""
		row.TechnicalMessage = ""
		row.DuplicateAttempts = 0
		patch[i] = *row
		audits = append(audits, models.NewRowStatusAudit(u.ID, i, models.RowError, models.RowPending, models.AuditOperator, prevMessage))
	}
	if len(patch) == 0 {
		return 0, nil
	}
	if err := s.uploads.PatchRows(ctx, u.ID, patch, models.CountRows(u.Rows)); err != nil {
		return 0, err
	}
	if s.audits != nil {
		if err := s.audits.RecordTransitions(ctx, audits); err != nil {
			log.Printf("[SUBMIT] upload %s: audit write failed: %v", u.ID, err)
		}
	}
	return len(patch), nil
}
