package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"onboardbot/internal/domain"
	"onboardbot/internal/exchange"
)

// Fetcher pulls the current account list from the exchange.
type Fetcher interface {
	FetchAccounts(ctx context.Context, policy exchange.TerminationPolicy, known exchange.KnownFunc) ([]domain.ExternalAccount, error)
}

// Engine runs the reconciliation pipeline: ingest the upstream account
// list, then promote waiting sessions whose confirmed balance has
// reached the activation threshold.
type Engine struct {
	store     domain.RecordStore
	fetcher   Fetcher
	notifier  domain.Notifier
	policy    exchange.TerminationPolicy
	threshold float64
	message   string
	logger    *slog.Logger

	now func() time.Time
}

type Config struct {
	Store     domain.RecordStore
	Fetcher   Fetcher
	Notifier  domain.Notifier
	Policy    exchange.TerminationPolicy
	Threshold float64
	// Message is the notification sent to a chat when its session is
	// promoted to COMPLETED.
	Message string
	Logger  *slog.Logger
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		notifier:  cfg.Notifier,
		policy:    cfg.Policy,
		threshold: cfg.Threshold,
		message:   cfg.Message,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Ingest fetches the upstream account list and upserts it into the
// store. Records the store already holds count as known for the
// fetcher's termination policy.
func (e *Engine) Ingest(ctx context.Context) (int, error) {
	known := func(ctx context.Context, accountID string) (bool, error) {
		return e.store.HasAccount(ctx, accountID)
	}

	accounts, err := e.fetcher.FetchAccounts(ctx, e.policy, known)
	if err != nil {
		return 0, fmt.Errorf("fetch accounts: %w", err)
	}
	if len(accounts) == 0 {
		return 0, nil
	}
	if err := e.store.UpsertAccounts(ctx, accounts); err != nil {
		return 0, fmt.Errorf("upsert accounts: %w", err)
	}
	return len(accounts), nil
}

// Sweep promotes every WAITING_PAYMENT session whose linked account
// balance has reached the threshold. A failure on one session never
// blocks the rest; notification is at-least-once, with notified_at
// stamped only after a successful send.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	sessions, err := e.store.SessionsInState(ctx, domain.StateWaitingPayment)
	if err != nil {
		return 0, fmt.Errorf("list waiting sessions: %w", err)
	}

	promoted := 0
	for i := range sessions {
		if ctx.Err() != nil {
			return promoted, ctx.Err()
		}
		if e.sweepOne(ctx, &sessions[i]) {
			promoted++
		}
	}
	return promoted, nil
}

func (e *Engine) sweepOne(ctx context.Context, s *domain.Session) bool {
	log := e.logger.With("chat_id", s.ChatID, "account_id", s.ExternalAccountID)

	if s.ExternalAccountID == "" {
		log.Warn("waiting session has no linked account")
		return false
	}

	acc, err := e.store.GetAccount(ctx, s.ExternalAccountID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug("linked account not seen upstream yet")
		return false
	}
	if err != nil {
		log.Error("account lookup failed", "err", err)
		return false
	}
	if acc.Balance < e.threshold {
		log.Debug("balance below threshold",
			"balance", acc.Balance, "threshold", e.threshold)
		return false
	}

	now := e.now()
	s.State = domain.StateCompleted
	s.ConfirmedBalance = acc.Balance
	s.ConfirmedAt = &now
	if err := e.store.UpsertSession(ctx, *s); err != nil {
		log.Error("promote failed", "err", err)
		return false
	}
	log.Info("session completed", "balance", acc.Balance)

	if err := e.notifier.Send(ctx, s.ChatID, domain.Reply{Text: e.message}); err != nil {
		// Promotion stands; the notification is retried out of band.
		log.Warn("completion notice not delivered", "err", err)
		return true
	}
	sent := e.now()
	s.NotifiedAt = &sent
	if err := e.store.UpsertSession(ctx, *s); err != nil {
		log.Error("notified_at stamp failed", "err", err)
	}
	return true
}
