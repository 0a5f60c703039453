package domain

import "context"

// RecordStore is the persistence contract shared by the conversation
// engine and the reconciliation pipeline. Implementations must provide
// atomic per-record upsert semantics; no call spans multiple records
// transactionally.
type RecordStore interface {
	// GetSession returns the session for chatID, or ErrNotFound.
	GetSession(ctx context.Context, chatID int64) (*Session, error)
	// UpsertSession creates or overwrites the session keyed by ChatID.
	UpsertSession(ctx context.Context, s Session) error
	// SessionsInState returns all sessions currently in state.
	SessionsInState(ctx context.Context, state SessionState) ([]Session, error)

	// GetAccount returns the account for accountID, or ErrNotFound.
	GetAccount(ctx context.Context, accountID string) (*ExternalAccount, error)
	// HasAccount reports whether accountID is already known.
	HasAccount(ctx context.Context, accountID string) (bool, error)
	// UpsertAccounts idempotently stores a batch of accounts keyed by
	// AccountID. Re-ingesting an ID overwrites; it never duplicates.
	UpsertAccounts(ctx context.Context, accounts []ExternalAccount) error

	// Cursor returns the persisted inbound-event offset (zero if unset).
	Cursor(ctx context.Context) (int64, error)
	// SetCursor persists the offset. Values below the stored cursor are
	// ignored so the cursor never decreases.
	SetCursor(ctx context.Context, offset int64) error
}

// EventSource pulls pending inbound events above a given offset.
type EventSource interface {
	// Events returns up to limit events with ID >= offset. A short poll
	// returning no events is not an error.
	Events(ctx context.Context, offset int64, limit int) ([]InboundEvent, error)
}

// Notifier delivers a reply to a chat. Fire and forget: callers log
// failures and never retry synchronously.
type Notifier interface {
	Send(ctx context.Context, chatID int64, reply Reply) error
}
