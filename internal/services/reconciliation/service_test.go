package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"emp-payments-backend/internal/models"
	"emp-payments-backend/internal/services/gateway"
	"emp-payments-backend/internal/services/uploadlock"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type fakeGateway struct {
	mu          sync.Mutex
	answers     map[string]gateway.Result // by unique id
	delay       time.Duration
	calls       int
	inFlight    int
	maxInFlight int
}

func (g *fakeGateway) Submit(context.Context, gateway.SddSaleRequest) (gateway.Result, error) {
	return gateway.Result{}, errors.New("not used")
}

func (g *fakeGateway) Reconcile(_ context.Context, q gateway.Query) gateway.Result {
	g.mu.Lock()
	g.calls++
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight--
	if res, ok := g.answers[q.UniqueID]; ok {
		return res
	}
	return gateway.Result{OK: false, Message: "not found"}
}

type fakeUploads struct {
	mu      sync.Mutex
	uploads map[uuid.UUID]*models.Upload
	patches []map[int]models.RowState
	reports map[uuid.UUID]datatypes.JSON
}

func newFakeUploads(us ...*models.Upload) *fakeUploads {
	f := &fakeUploads{uploads: map[uuid.UUID]*models.Upload{}, reports: map[uuid.UUID]datatypes.JSON{}}
	for _, u := range us {
		f.uploads[u.ID] = u
	}
	return f
}

func (f *fakeUploads) GetByID(_ context.Context, id uuid.UUID) (*models.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *u
	cp.Rows = append([]models.RowState(nil), u.Rows...)
	return &cp, nil
}

func (f *fakeUploads) ListCreatedSince(_ context.Context, since time.Time) ([]models.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Upload
	for _, u := range f.uploads {
		if !u.CreatedAt.Before(since) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUploads) PatchRows(_ context.Context, id uuid.UUID, rows map[int]models.RowState, c models.Counters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, rows)
	u := f.uploads[id]
	for i, r := range rows {
		u.Rows[i] = r
	}
	u.ApplyCounters(c)
	return nil
}

func (f *fakeUploads) SaveReport(_ context.Context, id uuid.UUID, report datatypes.JSON, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[id] = report
	f.uploads[id].LastReconciledAt = &at
	return nil
}

type fakeRecords struct {
	mu       sync.Mutex
	upserted []models.ReconcileRecord
	stats    []models.StatusStat
}

func (f *fakeRecords) Upsert(_ context.Context, recs []models.ReconcileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, recs...)
	return nil
}

func (f *fakeRecords) StatusStats(context.Context, time.Time) ([]models.StatusStat, error) {
	return f.stats, nil
}

type fakeAudits struct {
	entries []models.RowStatusAudit
}

func (f *fakeAudits) RecordTransitions(_ context.Context, entries []models.RowStatusAudit) error {
	f.entries = append(f.entries, entries...)
	return nil
}

func sentRow(uniqueID string, status models.RowStatus) models.RowState {
	return models.RowState{Status: status, UniqueID: uniqueID, TransactionID: "tx-" + uniqueID}
}

func TestCompareWithEmp_Classification(t *testing.T) {
	gw := &fakeGateway{answers: map[string]gateway.Result{
		"a": {OK: true, Status: "approved"},
		"b": {OK: true, Status: "declined", Message: "Insufficient funds"},
		"c": {OK: true, Status: "pending_async"},
		"d": {OK: true, Status: "some_new_status"},
	}}
	s := NewReconciliationService(gw, nil, nil, nil, uploadlock.New(), 0)

	rows := []models.RowState{
		sentRow("a", models.RowSubmitted),
		sentRow("b", models.RowSubmitted),
		sentRow("c", models.RowSubmitted),
		sentRow("d", models.RowSubmitted),
		sentRow("e", models.RowSubmitted), // unknown to the gateway
		{Status: models.RowPending},
		{Status: models.RowPending, UniqueID: "x"},
	}

	report := s.CompareWithEmp(context.Background(), rows)

	assert.Equal(t, 7, report.Total)
	assert.Equal(t, 5, report.Submitted)
	assert.Equal(t, 2, report.NotSubmitted)
	assert.Equal(t, 1, report.Approved)
	assert.Equal(t, 1, report.Error)
	assert.Equal(t, 2, report.Pending, "unrecognized statuses land in pending")
	assert.Equal(t, []string{"tx-e"}, report.MissingInEmp)
	assert.Equal(t, 5, gw.calls)

	require.Len(t, report.Details, 5)
	assert.Equal(t, DetailError, report.Details[1].Status)
	assert.Equal(t, "Insufficient funds", report.Details[1].Message)
}

func TestCompareWithEmp_ReportArithmetic(t *testing.T) {
	statuses := []string{"approved", "declined", "pending", "weird", ""}
	for n := 0; n < 23; n += 4 {
		answers := map[string]gateway.Result{}
		var rows []models.RowState
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("u%d", i)
			rows = append(rows, sentRow(id, models.RowSubmitted))
			if st := statuses[i%len(statuses)]; st != "" {
				answers[id] = gateway.Result{OK: true, Status: st}
			}
			if i%3 == 0 {
				rows = append(rows, models.RowState{Status: models.RowPending})
			}
		}
		s := NewReconciliationService(&fakeGateway{answers: answers}, nil, nil, nil, uploadlock.New(), 0)
		r := s.CompareWithEmp(context.Background(), rows)

		assert.Equal(t, r.Total, r.Submitted+r.NotSubmitted, "n=%d", n)
		assert.Equal(t, r.Submitted, r.Approved+r.Pending+r.Error+len(r.MissingInEmp), "n=%d", n)
	}
}

func TestCompareWithEmp_AtMostFiveInFlight(t *testing.T) {
	answers := map[string]gateway.Result{}
	var rows []models.RowState
	for i := 0; i < 17; i++ {
		id := fmt.Sprintf("u%d", i)
		answers[id] = gateway.Result{OK: true, Status: "approved"}
		rows = append(rows, sentRow(id, models.RowSubmitted))
	}
	gw := &fakeGateway{answers: answers, delay: 5 * time.Millisecond}
	s := NewReconciliationService(gw, nil, nil, nil, uploadlock.New(), 0)

	r := s.CompareWithEmp(context.Background(), rows)
	assert.Equal(t, 17, r.Approved)
	assert.Equal(t, 17, gw.calls)
	assert.LessOrEqual(t, gw.maxInFlight, subBatchSize)
}

func TestReconcile_RequiresIdentifier(t *testing.T) {
	gw := &fakeGateway{}
	s := NewReconciliationService(gw, nil, nil, nil, uploadlock.New(), 0)

	res := s.Reconcile(context.Background(), gateway.Query{})
	assert.False(t, res.OK)
	assert.Equal(t, 0, gw.calls)

	res = s.Reconcile(context.Background(), gateway.Query{UniqueID: "nope"})
	assert.False(t, res.OK)
	assert.Equal(t, 1, gw.calls)
}

func newUpload(rows ...models.RowState) *models.Upload {
	u := &models.Upload{ID: uuid.New(), Filename: "batch.csv", CreatedAt: time.Now()}
	for i := range rows {
		u.Records = append(u.Records, models.Record{
			"iban":   fmt.Sprintf("DE89 3704 0044 0532 01%04d", i),
			"amount": "12,50",
		})
	}
	u.Rows = rows
	return u
}

func TestReconcileUpload_AppliesCorrections(t *testing.T) {
	u := newUpload(
		sentRow("a", models.RowSubmitted),
		sentRow("b", models.RowSubmitted),
		sentRow("c", models.RowApproved),
		sentRow("d", models.RowSubmitted),
		models.RowState{Status: models.RowPending},
	)
	gw := &fakeGateway{answers: map[string]gateway.Result{
		"a": {OK: true, Status: "approved", UniqueID: "a", Amount: 1250, Currency: "EUR", Timestamp: "2024-06-01T10:00:00Z"},
		"b": {OK: true, Status: "declined"},
		"c": {OK: true, Status: "approved", UniqueID: "c"},
	}}
	store := newFakeUploads(u)
	records := &fakeRecords{}
	audits := &fakeAudits{}
	s := NewReconciliationService(gw, store, records, audits, uploadlock.New(), 0)

	report, updated, err := s.ReconcileUpload(context.Background(), u.ID)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Submitted)
	assert.Equal(t, []string{"tx-d"}, report.MissingInEmp)
	assert.Equal(t, 3, updated)

	rows := store.uploads[u.ID].Rows
	assert.Equal(t, models.RowApproved, rows[0].Status)
	assert.Equal(t, models.RowError, rows[1].Status)
	assert.Equal(t, "Gateway reports status declined", rows[1].Message)
	assert.Equal(t, models.RowApproved, rows[2].Status)
	assert.Equal(t, models.RowSubmitted, rows[3].Status, "missing rows are untouched")
	assert.Equal(t, models.RowPending, rows[4].Status)
	assert.Equal(t, 2, store.uploads[u.ID].ApprovedCount)
	assert.Equal(t, 1, store.uploads[u.ID].ErrorCount)

	require.Len(t, store.patches, 1)
	assert.Len(t, store.patches[0], 3)
	assert.NotContains(t, store.patches[0], 3)

	require.Len(t, audits.entries, 2)
	for _, a := range audits.entries {
		assert.Equal(t, models.AuditReconcile, a.Source)
		assert.Equal(t, models.RowSubmitted, a.PreviousStatus)
	}

	require.Len(t, records.upserted, 3)
	var first models.ReconcileRecord
	for _, r := range records.upserted {
		if r.UniqueID == "a" {
			first = r
		}
	}
	assert.Equal(t, "DE89370400440532010000", first.AccountNumber)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), first.TransactionDate.UTC())

	assert.NotEmpty(t, store.reports[u.ID])
	cached, ok := s.LastReport(u.ID)
	require.True(t, ok)
	assert.Equal(t, report.Total, cached.Total)
}

func TestReconcileUpload_Busy(t *testing.T) {
	u := newUpload(sentRow("a", models.RowSubmitted))
	locks := uploadlock.New()
	s := NewReconciliationService(&fakeGateway{}, newFakeUploads(u), &fakeRecords{}, &fakeAudits{}, locks, 0)

	unlock := locks.Lock(u.ID)
	defer unlock()

	_, _, err := s.ReconcileUpload(context.Background(), u.ID)
	assert.ErrorIs(t, err, uploadlock.ErrBusy)
}

func TestReconcileRecent_WindowAndSkips(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

	recent := newUpload(sentRow("a", models.RowSubmitted))
	recent.CreatedAt = now.AddDate(0, 0, -3)
	busy := newUpload(sentRow("b", models.RowSubmitted))
	busy.CreatedAt = now.AddDate(0, 0, -1)
	old := newUpload(sentRow("c", models.RowSubmitted))
	old.CreatedAt = now.AddDate(0, 0, -20)

	gw := &fakeGateway{answers: map[string]gateway.Result{
		"a": {OK: true, Status: "approved"},
		"b": {OK: true, Status: "approved"},
		"c": {OK: true, Status: "approved"},
	}}
	locks := uploadlock.New()
	store := newFakeUploads(recent, busy, old)
	s := NewReconciliationService(gw, store, &fakeRecords{}, &fakeAudits{}, locks, 14)
	s.now = func() time.Time { return now }

	unlock := locks.Lock(busy.ID)
	defer unlock()

	res, err := s.ReconcileRecent(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Uploads)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Approved)
	assert.Equal(t, 1, res.RowsUpdated)
	assert.Equal(t, models.RowApproved, store.uploads[recent.ID].Rows[0].Status)
	assert.Equal(t, models.RowSubmitted, store.uploads[old.ID].Rows[0].Status)
	assert.Equal(t, 1, gw.calls)
}

func TestGroundTruthStats(t *testing.T) {
	records := &fakeRecords{stats: []models.StatusStat{
		{Status: "approved", Count: 3, Sum: decimal.RequireFromString("30.00")},
		{Status: "pending_async", Count: 1, Sum: decimal.RequireFromString("5.00")},
		{Status: "chargebacked", Count: 2, Sum: decimal.RequireFromString("7.50")},
		{Status: "mystery", Count: 1, Sum: decimal.Zero},
	}}
	s := NewReconciliationService(&fakeGateway{}, nil, records, nil, uploadlock.New(), 0)

	stats, err := s.GroundTruthStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(7), stats.Total)
	assert.True(t, stats.Amount.Equal(decimal.RequireFromString("42.50")))
	assert.Equal(t, int64(3), stats.Approved.Count)
	assert.Equal(t, int64(1), stats.Pending.Count)
	assert.Equal(t, int64(2), stats.Declined.Count)
	assert.Equal(t, int64(1), stats.Other.Count)
	assert.Len(t, stats.ByStatus, 4)
}
