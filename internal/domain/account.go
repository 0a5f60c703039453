package domain

import "time"

// ExternalAccount is one record from the exchange's invited-user list,
// keyed by the exchange-side account identifier. Re-ingesting the same
// account overwrites fields; it never duplicates the record.
type ExternalAccount struct {
	AccountID           string
	Balance             float64
	RegisterTime        int64  // epoch millis as reported by the provider
	RegisterTimeDisplay string // derived "2006-01-02 15:04:05" form
	Attrs               map[string]any // pass-through provider attributes
	UpdatedAt           time.Time
}
