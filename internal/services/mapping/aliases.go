package mapping

import (
	_ "embed"
	"fmt"
	"strings"

	"emp-payments-backend/internal/models"

	"gopkg.in/yaml.v3"
)

const (
	FieldAmount     = "amount"
	FieldIBAN       = "iban"
	FieldBIC        = "bic"
	FieldName       = "name"
	FieldFirstName  = "first_name"
	FieldLastName   = "last_name"
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldAddress    = "address"
	FieldZip        = "zip"
	FieldCity       = "city"
	FieldCountry    = "country"
	FieldCurrency   = "currency"
	FieldUsage      = "usage"
	FieldCardNumber = "card_number"
)

//go:embed aliases.yaml
var aliasData []byte

// AliasTable maps a canonical field to the column spellings accepted for it.
type AliasTable map[string][]string

// CustomMapping lets a caller pin a canonical field to one column name.
type CustomMapping map[string]string

var DefaultAliases = mustLoadAliases(aliasData)

func LoadAliases(data []byte) (AliasTable, error) {
	var t AliasTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse alias table: %w", err)
	}
	return t, nil
}

func mustLoadAliases(data []byte) AliasTable {
	t, err := LoadAliases(data)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve returns the first non-empty value for field. Exact spellings are
// tried in table order before a case-insensitive pass over the same list.
func (t AliasTable) Resolve(record models.Record, field string, custom CustomMapping) string {
	if col, ok := custom[field]; ok && col != "" {
		if v := strings.TrimSpace(record[col]); v != "" {
			return v
		}
	}

	aliases := t[field]
	for _, a := range aliases {
		if v := strings.TrimSpace(record[a]); v != "" {
			return v
		}
	}

	for _, a := range aliases {
		for col, v := range record {
			if strings.EqualFold(col, a) {
				if v = strings.TrimSpace(v); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func ResolveField(record models.Record, field string) string {
	return DefaultAliases.Resolve(record, field, nil)
}

// NormalizeIBAN strips all whitespace and upper-cases the value.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.Join(strings.Fields(iban), ""))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeBIC(bic string) string {
	return strings.ToUpper(strings.Join(strings.Fields(bic), ""))
}

// MaskIBAN keeps the country/check digits and the last four characters.
func MaskIBAN(iban string) string {
	n := NormalizeIBAN(iban)
	if len(n) <= 8 {
		return strings.Repeat("*", len(n))
	}
	return n[:4] + strings.Repeat("*", len(n)-8) + n[len(n)-4:]
}
