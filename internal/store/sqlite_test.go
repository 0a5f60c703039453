package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"onboardbot/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetSession(context.Background(), 42)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSession_UpsertRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.UpsertSession(ctx, domain.Session{
		ChatID: 42,
		State:  domain.StateName,
	})
	if err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != domain.StateName {
		t.Fatalf("expected NAME, got %s", sess.State)
	}
	if sess.CreatedAt.IsZero() || sess.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
}

func TestSession_UpsertPreservesCreatedAt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, domain.Session{ChatID: 1, State: domain.StateName}); err != nil {
		t.Fatal(err)
	}
	first, err := s.GetSession(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpsertSession(ctx, domain.Session{ChatID: 1, State: domain.StatePhone, Name: "Ali"}); err != nil {
		t.Fatal(err)
	}
	second, err := s.GetSession(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed on update: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.Name != "Ali" || second.State != domain.StatePhone {
		t.Fatalf("fields not updated: %+v", second)
	}
}

func TestSession_AccountIDImmutable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, domain.Session{
		ChatID: 7, State: domain.StateWaitingPayment, ExternalAccountID: "AB12345",
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertSession(ctx, domain.Session{
		ChatID: 7, State: domain.StateWaitingPayment, ExternalAccountID: "OTHER99",
	}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if sess.ExternalAccountID != "AB12345" {
		t.Fatalf("account ID must be write-once, got %q", sess.ExternalAccountID)
	}
}

func TestSessionsInState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, state := range []domain.SessionState{
		domain.StateWaitingPayment, domain.StateCompleted, domain.StateWaitingPayment,
	} {
		if err := s.UpsertSession(ctx, domain.Session{ChatID: int64(i + 1), State: state}); err != nil {
			t.Fatal(err)
		}
	}

	waiting, err := s.SessionsInState(ctx, domain.StateWaitingPayment)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 2 {
		t.Fatalf("expected 2 waiting sessions, got %d", len(waiting))
	}
}

func TestAccount_UpsertIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	acc := domain.ExternalAccount{
		AccountID:    "AB12345",
		Balance:      5,
		RegisterTime: 1700000000000,
		Attrs:        map[string]any{"kycLevel": "1"},
	}
	if err := s.UpsertAccounts(ctx, []domain.ExternalAccount{acc}); err != nil {
		t.Fatal(err)
	}

	// Second ingestion wins.
	acc.Balance = 25
	if err := s.UpsertAccounts(ctx, []domain.ExternalAccount{acc}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAccount(ctx, "AB12345")
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance != 25 {
		t.Fatalf("expected refreshed balance 25, got %v", got.Balance)
	}
	if got.Attrs["kycLevel"] != "1" {
		t.Fatalf("attrs bag not preserved: %v", got.Attrs)
	}

	// Exactly one row.
	known, err := s.HasAccount(ctx, "AB12345")
	if err != nil || !known {
		t.Fatalf("expected account known, got %v %v", known, err)
	}
}

func TestAccount_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetAccount(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	known, err := s.HasAccount(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if known {
		t.Fatal("missing account reported known")
	}
}

func TestCursor_LazyZero(t *testing.T) {
	s := testStore(t)
	cur, err := s.Cursor(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cur != 0 {
		t.Fatalf("expected lazy zero cursor, got %d", cur)
	}
}

func TestCursor_Monotonic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SetCursor(ctx, 100); err != nil {
		t.Fatal(err)
	}
	// A lower offset must not move the cursor backwards.
	if err := s.SetCursor(ctx, 50); err != nil {
		t.Fatal(err)
	}

	cur, err := s.Cursor(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cur != 100 {
		t.Fatalf("cursor decreased: got %d, want 100", cur)
	}

	if err := s.SetCursor(ctx, 101); err != nil {
		t.Fatal(err)
	}
	cur, _ = s.Cursor(ctx)
	if cur != 101 {
		t.Fatalf("cursor did not advance: got %d", cur)
	}
}
