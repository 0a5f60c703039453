package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"onboardbot/internal/domain"

	_ "modernc.org/sqlite"
)

const cursorKey = "inbound_cursor"

// SQLiteStore implements domain.RecordStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: both loops share the store and rely on SQLite's
	// per-statement atomicity, not cross-loop locking.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		chat_id             INTEGER PRIMARY KEY,
		state               TEXT NOT NULL,
		name                TEXT NOT NULL DEFAULT '',
		phone_number        TEXT NOT NULL DEFAULT '',
		capital_band        TEXT NOT NULL DEFAULT '',
		external_account_id TEXT NOT NULL DEFAULT '',
		confirmed_balance   REAL NOT NULL DEFAULT 0,
		confirmed_at        DATETIME,
		notified_at         DATETIME,
		created_at          DATETIME NOT NULL,
		updated_at          DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(external_account_id);

	CREATE TABLE IF NOT EXISTS accounts (
		account_id            TEXT PRIMARY KEY,
		balance               REAL NOT NULL DEFAULT 0,
		register_time         INTEGER NOT NULL DEFAULT 0,
		register_time_display TEXT NOT NULL DEFAULT '',
		attrs                 TEXT NOT NULL DEFAULT '{}',
		updated_at            DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_updated ON accounts(updated_at);
	CREATE INDEX IF NOT EXISTS idx_accounts_registered ON accounts(register_time);
	CREATE INDEX IF NOT EXISTS idx_accounts_balance ON accounts(balance);

	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, chatID int64) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, state, name, phone_number, capital_band, external_account_id,
		        confirmed_balance, confirmed_at, notified_at, created_at, updated_at
		 FROM sessions WHERE chat_id = ?`, chatID,
	)
	return scanSession(row)
}

func (s *SQLiteStore) UpsertSession(ctx context.Context, sess domain.Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	// created_at is kept from the first insert; external_account_id is
	// write-once (the stored value wins once non-empty).
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (chat_id, state, name, phone_number, capital_band,
		                       external_account_id, confirmed_balance, confirmed_at,
		                       notified_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   state               = excluded.state,
		   name                = excluded.name,
		   phone_number        = excluded.phone_number,
		   capital_band        = excluded.capital_band,
		   external_account_id = CASE WHEN sessions.external_account_id != ''
		                              THEN sessions.external_account_id
		                              ELSE excluded.external_account_id END,
		   confirmed_balance   = excluded.confirmed_balance,
		   confirmed_at        = excluded.confirmed_at,
		   notified_at         = excluded.notified_at,
		   updated_at          = excluded.updated_at`,
		sess.ChatID, string(sess.State), sess.Name, sess.PhoneNumber, sess.CapitalBand,
		sess.ExternalAccountID, sess.ConfirmedBalance, sess.ConfirmedAt,
		sess.NotifiedAt, sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) SessionsInState(ctx context.Context, state domain.SessionState) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, state, name, phone_number, capital_band, external_account_id,
		        confirmed_balance, confirmed_at, notified_at, created_at, updated_at
		 FROM sessions WHERE state = ? ORDER BY updated_at`, string(state),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SessionCounts returns the number of sessions per state.
func (s *SQLiteStore) SessionCounts(ctx context.Context) (map[domain.SessionState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM sessions GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.SessionState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[domain.SessionState(state)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*domain.ExternalAccount, error) {
	var acc domain.ExternalAccount
	var attrs string
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, balance, register_time, register_time_display, attrs, updated_at
		 FROM accounts WHERE account_id = ?`, accountID,
	).Scan(&acc.AccountID, &acc.Balance, &acc.RegisterTime, &acc.RegisterTimeDisplay,
		&attrs, &acc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if attrs != "" {
		_ = json.Unmarshal([]byte(attrs), &acc.Attrs)
	}
	return &acc, nil
}

func (s *SQLiteStore) HasAccount(ctx context.Context, accountID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM accounts WHERE account_id = ? LIMIT 1`, accountID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) UpsertAccounts(ctx context.Context, accounts []domain.ExternalAccount) error {
	if len(accounts) == 0 {
		return nil
	}

	now := time.Now()
	for _, acc := range accounts {
		if acc.AccountID == "" {
			continue
		}
		attrs := "{}"
		if len(acc.Attrs) > 0 {
			data, err := json.Marshal(acc.Attrs)
			if err == nil {
				attrs = string(data)
			}
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO accounts (account_id, balance, register_time, register_time_display, attrs, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(account_id) DO UPDATE SET
			   balance               = excluded.balance,
			   register_time         = excluded.register_time,
			   register_time_display = excluded.register_time_display,
			   attrs                 = excluded.attrs,
			   updated_at            = excluded.updated_at`,
			acc.AccountID, acc.Balance, acc.RegisterTime, acc.RegisterTimeDisplay, attrs, now,
		)
		if err != nil {
			return fmt.Errorf("upsert account %s: %w", acc.AccountID, err)
		}
	}

	s.logger.Info("accounts upserted", "count", len(accounts))
	return nil
}

func (s *SQLiteStore) Cursor(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM settings WHERE key = ?`, cursorKey,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *SQLiteStore) SetCursor(ctx context.Context, offset int64) error {
	// The WHERE clause on the conflict branch keeps the cursor
	// monotonically non-decreasing across restarts.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value, updated_at = excluded.updated_at
		 WHERE CAST(excluded.value AS INTEGER) > CAST(settings.value AS INTEGER)`,
		cursorKey, fmt.Sprintf("%d", offset), time.Now(),
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var state string
	var confirmedAt, notifiedAt sql.NullTime
	err := row.Scan(&sess.ChatID, &state, &sess.Name, &sess.PhoneNumber,
		&sess.CapitalBand, &sess.ExternalAccountID, &sess.ConfirmedBalance,
		&confirmedAt, &notifiedAt, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.State = domain.SessionState(state)
	if confirmedAt.Valid {
		sess.ConfirmedAt = &confirmedAt.Time
	}
	if notifiedAt.Valid {
		sess.NotifiedAt = &notifiedAt.Time
	}
	return &sess, nil
}
