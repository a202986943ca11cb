package gateway

import "strings"

type StatusClass int

const (
	ClassUnknown StatusClass = iota
	ClassApproved
	ClassPending
	ClassDeclined
)

// statusClasses is the one table both the submitter and the reconciler read.
var statusClasses = map[string]StatusClass{
	"approved":   ClassApproved,
	"success":    ClassApproved,
	"successful": ClassApproved,

	"pending":       ClassPending,
	"in_progress":   ClassPending,
	"processing":    ClassPending,
	"pending_async": ClassPending,
	"created":       ClassPending,

	"declined":     ClassDeclined,
	"error":        ClassDeclined,
	"failed":       ClassDeclined,
	"voided":       ClassDeclined,
	"refunded":     ClassDeclined,
	"chargebacked": ClassDeclined,
	"unsuccessful": ClassDeclined,
}

// RegisterStatus adds or overrides a gateway status classification. Call it
// during startup, before any batch runs.
func RegisterStatus(status string, class StatusClass) {
	statusClasses[strings.ToLower(strings.TrimSpace(status))] = class
}

func Classify(status string) StatusClass {
	return statusClasses[strings.ToLower(strings.TrimSpace(status))]
}

func IsApproved(status string) bool { return Classify(status) == ClassApproved }
func IsPending(status string) bool  { return Classify(status) == ClassPending }
func IsDeclined(status string) bool { return Classify(status) == ClassDeclined }

// duplicatePhrases are matched case-insensitively against gateway messages.
var duplicatePhrases = []string{
	"transaction id already exists",
	"transaction_id already exists",
	"transaction id has already been used",
	"transaction_id has already been used",
	"duplicate transaction",
	"duplicate transaction_id",
	"duplicate transaction id",
}

// IsDuplicateTransactionError reports whether any of the texts says the
// transaction id was used before.
func IsDuplicateTransactionError(texts ...string) bool {
	for _, t := range texts {
		lt := strings.ToLower(t)
		if lt == "" {
			continue
		}
		for _, p := range duplicatePhrases {
			if strings.Contains(lt, p) {
				return true
			}
		}
	}
	return false
}
