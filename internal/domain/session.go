package domain

import "time"

// SessionState is the onboarding state of a single chat.
type SessionState string

const (
	StateStart          SessionState = "START"
	StateName           SessionState = "NAME"
	StatePhone          SessionState = "PHONE"
	StateCapital        SessionState = "CAPITAL"
	StateAccountID      SessionState = "ACCOUNT_ID"
	StateWaitingPayment SessionState = "WAITING_PAYMENT"
	StateCompleted      SessionState = "COMPLETED"
	StateCancelled      SessionState = "CANCELLED"
)

// Valid reports whether s is one of the enumerated states.
func (s SessionState) Valid() bool {
	switch s {
	case StateStart, StateName, StatePhone, StateCapital, StateAccountID,
		StateWaitingPayment, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether the state accepts no further transitions
// from inbound events. Terminal sessions still answer messages with a
// fixed informational reply.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Session is the per-chat onboarding record. Created on first contact,
// mutated only by the conversation engine (and the reconciliation sweep
// for the WAITING_PAYMENT → COMPLETED promotion), never deleted.
type Session struct {
	ChatID           int64
	State            SessionState
	Name             string
	PhoneNumber      string
	CapitalBand      string
	ExternalAccountID string // set once at ACCOUNT_ID, immutable afterwards
	ConfirmedBalance  float64
	ConfirmedAt       *time.Time
	NotifiedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
