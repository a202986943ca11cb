package blacklist

import (
	"context"
	"strings"
	"testing"

	"emp-payments-backend/internal/models"
	"emp-payments-backend/internal/services/uploadlock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	entries []models.BlacklistEntry
	added   int
}

func (f *fakeStore) FindByIBANs(_ context.Context, ibans []string) ([]models.BlacklistEntry, error) {
	return f.filter(func(e models.BlacklistEntry) bool { return contains(ibans, e.IBAN) }), nil
}

func (f *fakeStore) FindByEmails(_ context.Context, emails []string) ([]models.BlacklistEntry, error) {
	return f.filter(func(e models.BlacklistEntry) bool { return contains(emails, e.Email) }), nil
}

func (f *fakeStore) FindByNames(_ context.Context, names []string) ([]models.BlacklistEntry, error) {
	return f.filter(func(e models.BlacklistEntry) bool { return contains(names, strings.ToLower(e.Name)) }), nil
}

func (f *fakeStore) BICPatterns(_ context.Context) ([]string, error) {
	var out []string
	for _, e := range f.entries {
		if e.BIC != "" {
			out = append(out, e.BIC)
		}
	}
	return out, nil
}

func (f *fakeStore) AddIfAbsent(_ context.Context, e *models.BlacklistEntry) (bool, error) {
	for _, x := range f.entries {
		if x.IBAN == e.IBAN && x.Email == e.Email && x.Name == e.Name && x.BIC == e.BIC {
			return false, nil
		}
	}
	f.entries = append(f.entries, *e)
	f.added++
	return true, nil
}

func (f *fakeStore) filter(keep func(models.BlacklistEntry) bool) []models.BlacklistEntry {
	var out []models.BlacklistEntry
	for _, e := range f.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

type fakeChargebacks struct {
	originals []string
	imported  []models.Chargeback
}

func (f *fakeChargebacks) OriginalUniqueIDs(context.Context) ([]string, error) {
	return f.originals, nil
}

func (f *fakeChargebacks) Import(_ context.Context, cbs []models.Chargeback) (int64, error) {
	f.imported = append(f.imported, cbs...)
	return int64(len(cbs)), nil
}

type fakeTruth struct{ records []models.ReconcileRecord }

func (f *fakeTruth) FindByUniqueIDs(_ context.Context, ids []string) ([]models.ReconcileRecord, error) {
	var out []models.ReconcileRecord
	for _, r := range f.records {
		if contains(ids, r.UniqueID) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeUploads struct {
	upload   *models.Upload
	replaced int
	patched  map[int]models.RowState
}

func (f *fakeUploads) GetByID(context.Context, uuid.UUID) (*models.Upload, error) {
	cp := *f.upload
	cp.Records = append([]models.Record(nil), f.upload.Records...)
	cp.Rows = append([]models.RowState(nil), f.upload.Rows...)
	return &cp, nil
}

func (f *fakeUploads) ReplaceRecords(_ context.Context, u *models.Upload) error {
	f.replaced++
	f.upload = u
	return nil
}

func (f *fakeUploads) PatchRows(_ context.Context, _ uuid.UUID, rows map[int]models.RowState, c models.Counters) error {
	f.patched = rows
	for i, r := range rows {
		f.upload.Rows[i] = r
	}
	f.upload.ApplyCounters(c)
	return nil
}

type fakeAudits struct{ n int }

func (f *fakeAudits) RecordTransitions(_ context.Context, e []models.RowStatusAudit) error {
	f.n += len(e)
	return nil
}

func newService(store *fakeStore, cb *fakeChargebacks, truth *fakeTruth, up *fakeUploads) *Service {
	return NewService(store, cb, truth, up, &fakeAudits{}, uploadlock.New())
}

func TestCheckBlacklistNormalization(t *testing.T) {
	store := &fakeStore{entries: []models.BlacklistEntry{
		{IBAN: "DE89370400440532013000"},
		{Email: "fraud@example.com"},
		{Name: "Max Mustermann"},
		{BIC: "COBADE"},
	}}
	s := newService(store, &fakeChargebacks{}, &fakeTruth{}, nil)

	m, err := s.CheckBlacklist(context.Background(),
		[]string{"de89 3704 0044 0532 0130 00", "NL91ABNA0417164300"},
		[]string{" Fraud@Example.COM "},
		[]string{"max  MUSTERMANN", "Max Muster"},
		[]string{"cobadeffxxx", "DEUTDEFF"},
	)
	require.NoError(t, err)

	assert.True(t, m.IBANs["DE89370400440532013000"])
	assert.Len(t, m.IBANs, 1)
	assert.True(t, m.Emails["fraud@example.com"])
	assert.True(t, m.Names["max mustermann"])
	assert.Len(t, m.Names, 1)
	assert.True(t, m.BICs["COBADEFFXXX"])
	assert.False(t, m.BICs["DEUTDEFF"])
	assert.Equal(t, 4, m.Total())
	assert.Equal(t, []string{"COBADEFFXXX"}, m.Lists().BICs)
}

func testUpload() *models.Upload {
	u := &models.Upload{ID: uuid.New(), Filename: "f.csv"}
	add := func(rec models.Record, status models.RowStatus) {
		u.Records = append(u.Records, rec)
		u.Rows = append(u.Rows, models.RowState{Status: status})
	}
	add(models.Record{"iban": "DE89370400440532013000", "name": "Clean One"}, models.RowPending)
	add(models.Record{"iban": "DE02120300000000202051", "name": "Listed Person"}, models.RowPending)
	add(models.Record{"iban": "DE02500105170137075030", "name": "Charged Back"}, models.RowPending)
	add(models.Record{"iban": "DE02100100109307118603", "name": "Listed Person"}, models.RowPending)
	add(models.Record{"iban": "DE44500105175407324931", "name": "Already Sent"}, models.RowApproved)
	return u
}

func TestFilterUploadRemoveKeepsAlignment(t *testing.T) {
	store := &fakeStore{entries: []models.BlacklistEntry{
		{Name: "listed person"},
		{IBAN: "DE02100100109307118603"},
		{IBAN: "DE44500105175407324931"},
	}}
	cb := &fakeChargebacks{originals: []string{"u-1"}}
	truth := &fakeTruth{records: []models.ReconcileRecord{
		{UniqueID: "u-1", AccountNumber: "DE02 5001 0517 0137 0750 30"},
		{UniqueID: "u-2", AccountNumber: "DE89370400440532013000"},
	}}
	up := &fakeUploads{upload: testUpload()}
	s := newService(store, cb, truth, up)

	res, err := s.FilterUpload(context.Background(), up.upload.ID, ModeRemove)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Checked)
	assert.Equal(t, 2, res.BlacklistMatches)
	assert.Equal(t, 1, res.ChargebackMatches)
	assert.Equal(t, 3, res.Filtered)
	assert.Equal(t, 2, res.RecordCount)
	assert.Equal(t, 1, up.replaced)

	require.Len(t, up.upload.Records, 2)
	require.Len(t, up.upload.Rows, 2)
	assert.Equal(t, "Clean One", up.upload.Records[0]["name"])
	assert.Equal(t, models.RowPending, up.upload.Rows[0].Status)
	assert.Equal(t, "Already Sent", up.upload.Records[1]["name"])
	assert.Equal(t, models.RowApproved, up.upload.Rows[1].Status)
	assert.Equal(t, 2, up.upload.RecordCount)
	assert.Equal(t, 1, up.upload.ApprovedCount)
}

func TestFilterUploadCountsBothReasons(t *testing.T) {
	store := &fakeStore{entries: []models.BlacklistEntry{{IBAN: "DE89370400440532013000"}}}
	cb := &fakeChargebacks{originals: []string{"u-1"}}
	truth := &fakeTruth{records: []models.ReconcileRecord{{UniqueID: "u-1", AccountNumber: "DE89370400440532013000"}}}
	up := &fakeUploads{upload: testUpload()}
	s := newService(store, cb, truth, up)

	res, err := s.FilterUpload(context.Background(), up.upload.ID, ModeRemove)
	require.NoError(t, err)
	assert.Equal(t, 1, res.BlacklistMatches)
	assert.Equal(t, 1, res.ChargebackMatches)
	assert.Equal(t, 1, res.Filtered)
	assert.Len(t, up.upload.Records, len(up.upload.Rows))
}

func TestFilterUploadMarkMode(t *testing.T) {
	store := &fakeStore{entries: []models.BlacklistEntry{{Name: "listed person"}}}
	up := &fakeUploads{upload: testUpload()}
	s := newService(store, &fakeChargebacks{}, &fakeTruth{}, up)

	res, err := s.FilterUpload(context.Background(), up.upload.ID, ModeMark)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Filtered)
	assert.Equal(t, 0, up.replaced)
	assert.Len(t, up.upload.Records, 5)
	assert.Equal(t, models.RowBlacklisted, up.upload.Rows[1].Status)
	assert.Equal(t, "blacklisted", up.upload.Rows[1].Message)
	assert.Equal(t, models.RowBlacklisted, up.upload.Rows[3].Status)
	assert.Equal(t, 2, up.upload.BlacklistedCount)
}

func TestFilterUploadNothingToDo(t *testing.T) {
	up := &fakeUploads{upload: testUpload()}
	s := newService(&fakeStore{}, &fakeChargebacks{}, &fakeTruth{}, up)

	res, err := s.FilterUpload(context.Background(), up.upload.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ModeRemove, res.Mode)
	assert.Equal(t, 0, res.Filtered)
	assert.Equal(t, 0, up.replaced)

	_, err = s.FilterUpload(context.Background(), up.upload.ID, "explode")
	assert.Error(t, err)
}

func TestAddEntryIdempotent(t *testing.T) {
	store := &fakeStore{}
	s := newService(store, &fakeChargebacks{}, &fakeTruth{}, nil)

	added, err := s.AddEntry(context.Background(), models.BlacklistEntry{IBAN: "de89 3704 0044 0532 0130 00"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddEntry(context.Background(), models.BlacklistEntry{IBAN: "DE89370400440532013000"})
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, store.added)

	_, err = s.AddEntry(context.Background(), models.BlacklistEntry{Reason: "no values"})
	assert.ErrorIs(t, err, ErrEmptyEntry)
}

func TestImportChargebacksSkipsIncomplete(t *testing.T) {
	cb := &fakeChargebacks{}
	s := newService(&fakeStore{}, cb, &fakeTruth{}, nil)

	n, err := s.ImportChargebacks(context.Background(), []models.Chargeback{
		{UniqueID: "cb-1", OriginalUniqueID: "u-1"},
		{UniqueID: "cb-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.Len(t, cb.imported, 1)
	assert.NotEqual(t, uuid.Nil, cb.imported[0].ID)
}

func TestAddEntryCollapsesNameWhitespace(t *testing.T) {
	store := &fakeStore{}
	s := newService(store, &fakeChargebacks{}, &fakeTruth{}, nil)

	added, err := s.AddEntry(context.Background(), models.BlacklistEntry{Name: "  John \t Doe "})
	require.NoError(t, err)
	assert.True(t, added)
	require.Len(t, store.entries, 1)
	assert.Equal(t, "John Doe", store.entries[0].Name)

	added, err = s.AddEntry(context.Background(), models.BlacklistEntry{Name: "John Doe"})
	require.NoError(t, err)
	assert.False(t, added)

	m, err := s.CheckBlacklist(context.Background(), nil, nil, []string{"john   DOE"}, nil)
	require.NoError(t, err)
	assert.True(t, m.Names["john doe"])
}

func TestFilterUploadSkipsErrorRowsInBothModes(t *testing.T) {
	for _, mode := range []Mode{ModeRemove, ModeMark} {
		t.Run(string(mode), func(t *testing.T) {
			store := &fakeStore{entries: []models.BlacklistEntry{{IBAN: "DE89370400440532013000"}}}
			u := &models.Upload{ID: uuid.New(), Filename: "f.csv"}
			u.Records = []models.Record{
				{"iban": "DE89370400440532013000", "name": "Failed Before"},
				{"iban": "DE89370400440532013000", "name": "Still Pending"},
			}
			u.Rows = []models.RowState{{Status: models.RowError, Message: "declined"}, {Status: models.RowPending}}
			up := &fakeUploads{upload: u}
			s := newService(store, &fakeChargebacks{}, &fakeTruth{}, up)

			res, err := s.FilterUpload(context.Background(), u.ID, mode)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Checked)
			assert.Equal(t, 1, res.BlacklistMatches)
			assert.Equal(t, 1, res.Filtered)

			assert.Equal(t, "Failed Before", up.upload.Records[0]["name"])
			assert.Equal(t, models.RowError, up.upload.Rows[0].Status)
			if mode == ModeRemove {
				assert.Len(t, up.upload.Records, 1)
			} else {
				assert.Len(t, up.upload.Records, 2)
				assert.Equal(t, models.RowBlacklisted, up.upload.Rows[1].Status)
			}
		})
	}
}
