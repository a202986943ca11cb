package blacklist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"emp-payments-backend/internal/models"
	"emp-payments-backend/internal/services/mapping"
	"emp-payments-backend/internal/services/uploadlock"

	"github.com/google/uuid"
)

type Store interface {
	FindByIBANs(ctx context.Context, ibans []string) ([]models.BlacklistEntry, error)
	FindByEmails(ctx context.Context, emails []string) ([]models.BlacklistEntry, error)
	FindByNames(ctx context.Context, names []string) ([]models.BlacklistEntry, error)
	BICPatterns(ctx context.Context) ([]string, error)
	AddIfAbsent(ctx context.Context, e *models.BlacklistEntry) (bool, error)
}

type ChargebackStore interface {
	OriginalUniqueIDs(ctx context.Context) ([]string, error)
	Import(ctx context.Context, cbs []models.Chargeback) (int64, error)
}

type GroundTruthStore interface {
	FindByUniqueIDs(ctx context.Context, ids []string) ([]models.ReconcileRecord, error)
}

type UploadStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	ReplaceRecords(ctx context.Context, u *models.Upload) error
	PatchRows(ctx context.Context, id uuid.UUID, rows map[int]models.RowState, counters models.Counters) error
}

type AuditStore interface {
	RecordTransitions(ctx context.Context, entries []models.RowStatusAudit) error
}

type Mode string

const (
	ModeRemove Mode = "remove"
	ModeMark   Mode = "mark"
)

var ErrEmptyEntry = errors.New("blacklist entry has no value")

// Matches holds the normalized input values that hit the deny-list.
type Matches struct {
	IBANs  map[string]bool
	Emails map[string]bool
	Names  map[string]bool
	BICs   map[string]bool
}

func (m Matches) Total() int {
	return len(m.IBANs) + len(m.Emails) + len(m.Names) + len(m.BICs)
}

type MatchLists struct {
	IBANs  []string `json:"ibans"`
	Emails []string `json:"emails"`
	Names  []string `json:"names"`
	BICs   []string `json:"bics"`
}

func (m Matches) Lists() MatchLists {
	list := func(set map[string]bool) []string {
		out := make([]string, 0, len(set))
		for k := range set {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	return MatchLists{IBANs: list(m.IBANs), Emails: list(m.Emails), Names: list(m.Names), BICs: list(m.BICs)}
}

type FilterResult struct {
	Mode              Mode `json:"mode"`
	Checked           int  `json:"checked"`
	BlacklistMatches  int  `json:"blacklistMatches"`
	ChargebackMatches int  `json:"chargebackMatches"`
	Filtered          int  `json:"filtered"`
	RecordCount       int  `json:"recordCount"`
}

type Service struct {
	store       Store
	chargebacks ChargebackStore
	truth       GroundTruthStore
	uploads     UploadStore
	audits      AuditStore
	locks       *uploadlock.Locks
}

func NewService(store Store, chargebacks ChargebackStore, truth GroundTruthStore, uploads UploadStore, audits AuditStore, locks *uploadlock.Locks) *Service {
	return &Service{
		store:       store,
		chargebacks: chargebacks,
		truth:       truth,
		uploads:     uploads,
		audits:      audits,
		locks:       locks,
	}
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func uniq(values []string, norm func(string) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		n := norm(v)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// CheckBlacklist looks every value up in the deny-list. IBANs and emails are
// matched normalized, names case-insensitively, BICs by pattern containment.
func (s *Service) CheckBlacklist(ctx context.Context, ibans, emails, names, bics []string) (Matches, error) {
	m := Matches{IBANs: map[string]bool{}, Emails: map[string]bool{}, Names: map[string]bool{}, BICs: map[string]bool{}}

	if keys := uniq(ibans, mapping.NormalizeIBAN); len(keys) > 0 {
		entries, err := s.store.FindByIBANs(ctx, keys)
		if err != nil {
			return m, fmt.Errorf("blacklist iban lookup: %w", err)
		}
		for _, e := range entries {
			m.IBANs[mapping.NormalizeIBAN(e.IBAN)] = true
		}
	}

	if keys := uniq(emails, mapping.NormalizeEmail); len(keys) > 0 {
		entries, err := s.store.FindByEmails(ctx, keys)
		if err != nil {
			return m, fmt.Errorf("blacklist email lookup: %w", err)
		}
		for _, e := range entries {
			m.Emails[mapping.NormalizeEmail(e.Email)] = true
		}
	}

	if keys := uniq(names, normalizeName); len(keys) > 0 {
		entries, err := s.store.FindByNames(ctx, keys)
		if err != nil {
			return m, fmt.Errorf("blacklist name lookup: %w", err)
		}
		for _, e := range entries {
			m.Names[normalizeName(e.Name)] = true
		}
	}

	if keys := uniq(bics, mapping.NormalizeBIC); len(keys) > 0 {
		patterns, err := s.store.BICPatterns(ctx)
		if err != nil {
			return m, fmt.Errorf("blacklist bic lookup: %w", err)
		}
		for _, bic := range keys {
			for _, p := range patterns {
				if p = mapping.NormalizeBIC(p); p != "" && strings.Contains(bic, p) {
					m.BICs[bic] = true
					break
				}
			}
		}
	}
	return m, nil
}

// chargebackAccounts resolves chargeback -> original unique id -> account or
// card number. The two records share a logical id only, hence two lookups.
func (s *Service) chargebackAccounts(ctx context.Context) (map[string]bool, error) {
	ids, err := s.chargebacks.OriginalUniqueIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chargebacks: %w", err)
	}
	tainted := map[string]bool{}
	if len(ids) == 0 {
		return tainted, nil
	}
	records, err := s.truth.FindByUniqueIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve chargeback transactions: %w", err)
	}
	for _, r := range records {
		if acc := mapping.NormalizeIBAN(r.AccountNumber); acc != "" {
			tainted[acc] = true
		}
		if card := mapping.NormalizeIBAN(r.CardNumber); card != "" {
			tainted[card] = true
		}
	}
	return tainted, nil
}

type recordValues struct {
	iban, email, name, bic, card string
}

func valuesOf(rec models.Record, custom mapping.CustomMapping) recordValues {
	get := func(field string) string {
		return mapping.DefaultAliases.Resolve(rec, field, custom)
	}
	name := get(mapping.FieldName)
	if name == "" {
		name = strings.TrimSpace(get(mapping.FieldFirstName) + " " + get(mapping.FieldLastName))
	}
	return recordValues{
		iban:  mapping.NormalizeIBAN(get(mapping.FieldIBAN)),
		email: mapping.NormalizeEmail(get(mapping.FieldEmail)),
		name:  normalizeName(name),
		bic:   mapping.NormalizeBIC(get(mapping.FieldBIC)),
		card:  mapping.NormalizeIBAN(get(mapping.FieldCardNumber)),
	}
}

// FilterUpload drops (or marks as blacklisted) every row not yet sent to the
// gateway whose values are blacklisted or trace back to a chargeback.
func (s *Service) FilterUpload(ctx context.Context, uploadID uuid.UUID, mode Mode) (FilterResult, error) {
	if mode == "" {
		mode = ModeRemove
	}
	if mode != ModeRemove && mode != ModeMark {
		return FilterResult{}, fmt.Errorf("unknown filter mode %q", mode)
	}

	unlock := s.locks.Lock(uploadID)
	defer unlock()

	u, err := s.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return FilterResult{}, err
	}
	if err := u.EnsureRows(); err != nil {
		return FilterResult{}, err
	}

	res := FilterResult{Mode: mode}
	custom := u.ColumnMapping()
	candidates := map[int]recordValues{}
	var ibans, emails, names, bics []string
	for i, rec := range u.Records {
		// Only rows that may still become blacklisted are candidates, so
		// remove and mark act on the same set.
		st := u.Rows[i].CurrentStatus()
		if u.Rows[i].SubmittedToGateway() || st == models.RowBlacklisted || !models.CanTransition(st, models.RowBlacklisted) {
			continue
		}
		v := valuesOf(rec, custom)
		candidates[i] = v
		ibans = append(ibans, v.iban)
		emails = append(emails, v.email)
		names = append(names, v.name)
		bics = append(bics, v.bic)
	}
	res.Checked = len(candidates)
	if len(candidates) == 0 {
		res.RecordCount = len(u.Records)
		return res, nil
	}

	matches, err := s.CheckBlacklist(ctx, ibans, emails, names, bics)
	if err != nil {
		return res, err
	}
	tainted, err := s.chargebackAccounts(ctx)
	if err != nil {
		return res, err
	}

	hits := map[int]string{}
	for i, v := range candidates {
		listed := matches.IBANs[v.iban] || matches.Emails[v.email] || matches.Names[v.name] || matches.BICs[v.bic]
		charged := (v.iban != "" && tainted[v.iban]) || (v.card != "" && tainted[v.card])
		if listed {
			res.BlacklistMatches++
		}
		if charged {
			res.ChargebackMatches++
		}
		switch {
		case listed && charged:
			hits[i] = "blacklisted and chargeback on file"
		case listed:
			hits[i] = "blacklisted"
		case charged:
			hits[i] = "chargeback on file for this account"
		}
	}

	if len(hits) == 0 {
		res.RecordCount = len(u.Records)
		return res, nil
	}

	if mode == ModeRemove {
		remove := make(map[int]bool, len(hits))
		for i := range hits {
			remove[i] = true
		}
		res.Filtered = u.RemoveRows(remove)
		if err := s.uploads.ReplaceRecords(ctx, u); err != nil {
			return res, fmt.Errorf("persist filtered upload: %w", err)
		}
	} else {
		patch := map[int]models.RowState{}
		audits := make([]models.RowStatusAudit, 0, len(hits))
		for _, i := range sortedKeys(hits) {
			row := &u.Rows[i]
			prev := row.CurrentStatus()
			if err := row.Transition(models.RowBlacklisted); err != nil {
				continue
			}
			row.Message = hits[i]
			patch[i] = *row
			audits = append(audits, models.NewRowStatusAudit(u.ID, i, prev, models.RowBlacklisted, models.AuditBlacklist, hits[i]))
		}
		res.Filtered = len(patch)
		if err := s.uploads.PatchRows(ctx, u.ID, patch, models.CountRows(u.Rows)); err != nil {
			return res, fmt.Errorf("persist blacklisted rows: %w", err)
		}
		if err := s.audits.RecordTransitions(ctx, audits); err != nil {
			log.Printf("[BLACKLIST] upload %s: audit write failed: %v", u.ID, err)
		}
	}

	res.RecordCount = len(u.Records)
	log.Printf("[BLACKLIST] upload %s: %s %d rows (blacklist=%d chargeback=%d)",
		u.ID, mode, res.Filtered, res.BlacklistMatches, res.ChargebackMatches)
	return res, nil
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// AddEntry stores a normalized entry unless an identical one exists.
func (s *Service) AddEntry(ctx context.Context, e models.BlacklistEntry) (bool, error) {
	e.IBAN = mapping.NormalizeIBAN(e.IBAN)
	e.Email = mapping.NormalizeEmail(e.Email)
	e.Name = strings.Join(strings.Fields(e.Name), " ")
	e.BIC = mapping.NormalizeBIC(e.BIC)
	if e.IBAN == "" && e.Email == "" && e.Name == "" && e.BIC == "" {
		return false, ErrEmptyEntry
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return s.store.AddIfAbsent(ctx, &e)
}

func (s *Service) ImportChargebacks(ctx context.Context, cbs []models.Chargeback) (int64, error) {
	valid := make([]models.Chargeback, 0, len(cbs))
	for _, cb := range cbs {
		if cb.UniqueID == "" || cb.OriginalUniqueID == "" {
			continue
		}
		if cb.ID == uuid.Nil {
			cb.ID = uuid.New()
		}
		valid = append(valid, cb)
	}
	if len(valid) == 0 {
		return 0, nil
	}
	return s.chargebacks.Import(ctx, valid)
}
