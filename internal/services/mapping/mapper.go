package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"emp-payments-backend/internal/models"
	"emp-payments-backend/internal/services/gateway"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultTransactionPrefix = "sdd"

// CompanyConfig is the tenant configuration merged into every request.
type CompanyConfig struct {
	TransactionPrefix string
	Usage             string
	Currency          string
	RemoteIP          string
	DynamicDescriptor string
	NotificationURL   string
	ReturnSuccessURL  string
	ReturnFailureURL  string
}

// CompanyConfigFor overlays the account's non-empty settings on fallback.
func CompanyConfigFor(acc *models.Account, fallback CompanyConfig) CompanyConfig {
	if acc == nil {
		return fallback
	}
	cfg := fallback
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.TransactionPrefix, acc.TransactionPrefix)
	set(&cfg.Usage, acc.Usage)
	set(&cfg.Currency, acc.Currency)
	set(&cfg.RemoteIP, acc.RemoteIP)
	set(&cfg.DynamicDescriptor, acc.DynamicDescriptor)
	set(&cfg.NotificationURL, acc.NotificationURL)
	set(&cfg.ReturnSuccessURL, acc.ReturnSuccessURL)
	set(&cfg.ReturnFailureURL, acc.ReturnFailureURL)
	return cfg
}

type ValidationError struct {
	RowIndex int
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s %s", e.RowIndex+1, e.Field, e.Reason)
}

// Mapper turns raw records into gateway requests for one upload.
type Mapper struct {
	Aliases  AliasTable
	UploadID uuid.UUID
}

func NewMapper(uploadID uuid.UUID) *Mapper {
	return &Mapper{Aliases: DefaultAliases, UploadID: uploadID}
}

// MapRecordToSddSale builds the SDD sale request for records[rowIndex].
func (m *Mapper) MapRecordToSddSale(
	record models.Record,
	rowIndex int,
	custom CustomMapping,
	sourceFilename string,
	cfg CompanyConfig,
) (gateway.SddSaleRequest, error) {
	get := func(field string) string {
		return m.Aliases.Resolve(record, field, custom)
	}

	rawAmount := get(FieldAmount)
	if rawAmount == "" {
		return gateway.SddSaleRequest{}, &ValidationError{RowIndex: rowIndex, Field: FieldAmount, Reason: "is missing"}
	}
	amount, err := ParseAmount(rawAmount)
	if err != nil || !amount.IsPositive() {
		return gateway.SddSaleRequest{}, &ValidationError{RowIndex: rowIndex, Field: FieldAmount, Reason: fmt.Sprintf("is invalid (%q)", rawAmount)}
	}

	iban := NormalizeIBAN(get(FieldIBAN))
	if iban == "" {
		return gateway.SddSaleRequest{}, &ValidationError{RowIndex: rowIndex, Field: FieldIBAN, Reason: "is missing"}
	}

	first, last := resolveNames(get(FieldFirstName), get(FieldLastName), get(FieldName))

	currency := strings.ToUpper(get(FieldCurrency))
	if currency == "" {
		currency = cfg.Currency
	}
	if currency == "" {
		currency = "EUR"
	}

	country := strings.ToUpper(get(FieldCountry))
	if country == "" && len(iban) >= 2 {
		country = iban[:2]
	}

	usage := get(FieldUsage)
	if usage == "" {
		usage = cfg.Usage
	}
	if usage == "" {
		usage = "SDD " + sourceFilename
	}

	return gateway.SddSaleRequest{
		TransactionID:     TransactionID(cfg.TransactionPrefix, m.UploadID, rowIndex),
		Usage:             usage,
		RemoteIP:          cfg.RemoteIP,
		Amount:            amount,
		Currency:          currency,
		IBAN:              iban,
		BIC:               NormalizeBIC(get(FieldBIC)),
		FirstName:         first,
		LastName:          last,
		Email:             get(FieldEmail),
		Phone:             get(FieldPhone),
		Address:           get(FieldAddress),
		ZipCode:           get(FieldZip),
		City:              get(FieldCity),
		Country:           country,
		DynamicDescriptor: cfg.DynamicDescriptor,
		NotificationURL:   cfg.NotificationURL,
		ReturnSuccessURL:  cfg.ReturnSuccessURL,
		ReturnFailureURL:  cfg.ReturnFailureURL,
	}, nil
}

// resolveNames prefers a complete first/last pair. A partial pair is never
// combined with halves of a split full name.
func resolveNames(first, last, full string) (string, string) {
	if first != "" && last != "" {
		return first, last
	}
	if full != "" {
		return SplitName(full)
	}
	if first != "" {
		return first, first
	}
	if last != "" {
		return last, last
	}
	return "", ""
}

// SplitName handles "Last, First" and "First Last...". A single token is
// used for both halves.
func SplitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if before, after, ok := strings.Cut(full, ","); ok {
		last := strings.TrimSpace(before)
		first := strings.TrimSpace(after)
		switch {
		case first != "" && last != "":
			return first, last
		case first != "":
			return first, first
		default:
			return last, last
		}
	}
	fields := strings.Fields(full)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], fields[0]
	}
	return fields[0], strings.Join(fields[1:], " ")
}

// ParseAmount accepts "1.99", "1,99", "1.234,56", "1,234.56" and a trailing
// or leading currency marker.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	for _, marker := range []string{"EUR", "eur", "€"} {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.Join(strings.Fields(s), "")

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastDot > lastComma && lastComma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	}
	return decimal.NewFromString(s)
}

var retrySuffix = regexp.MustCompile(`-r\d+$`)

// TransactionID is stable for a given upload and row.
func TransactionID(prefix string, uploadID uuid.UUID, rowIndex int) string {
	if prefix == "" {
		prefix = defaultTransactionPrefix
	}
	return fmt.Sprintf("%s-%s-%d", prefix, uploadID, rowIndex)
}

// RetryTransactionID derives the id sent on the retryCount-th rename.
// Base ids end in "-<row>", so "-r<n>" can never produce another row's base.
func RetryTransactionID(base string, retryCount int) string {
	if retryCount <= 0 {
		return base
	}
	return fmt.Sprintf("%s-r%d", base, retryCount)
}

func BaseTransactionID(id string) string {
	return retrySuffix.ReplaceAllString(id, "")
}
