package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteClient is the single-node status store. It runs the same statements
// as PostgresClient.
type SQLiteClient struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteClient(path string) (*SQLiteClient, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	return &SQLiteClient{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteClient) Close() {
	s.db.Close()
}

func (s *SQLiteClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteClient) InsertStatus(ctx context.Context, padCode string, upd StatusUpdate) error {
	result, err := s.db.ExecContext(ctx, rebindSQLite(insertStatusSQL), insertArgs(padCode, upd, s.now())...)
	if err != nil {
		return fmt.Errorf("failed to insert status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrStatusExists
	}
	return nil
}

func (s *SQLiteClient) UpdateStatus(ctx context.Context, padCode string, upd StatusUpdate) error {
	result, err := s.db.ExecContext(ctx, rebindSQLite(updateStatusSQL), updateArgs(padCode, upd, s.now())...)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrStatusNotFound
	}
	return nil
}

func (s *SQLiteClient) UpsertStatus(ctx context.Context, padCode string, upd StatusUpdate) error {
	return upsert(ctx, s, padCode, upd)
}

func (s *SQLiteClient) GetStatus(ctx context.Context, padCode string) (*PadStatus, error) {
	rec, err := scanStatus(s.db.QueryRowContext(ctx, rebindSQLite(selectStatusSQL), padCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return rec, nil
}

func (s *SQLiteClient) ListStatuses(ctx context.Context) ([]PadStatus, error) {
	rows, err := s.db.QueryContext(ctx, listStatusSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]PadStatus, 0)
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses = append(statuses, *rec)
	}
	return statuses, rows.Err()
}

func (s *SQLiteClient) DeleteStatus(ctx context.Context, padCode string) error {
	result, err := s.db.ExecContext(ctx, rebindSQLite(deleteStatusSQL), padCode)
	if err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrStatusNotFound
	}
	return nil
}

func (s *SQLiteClient) CreateAccount(ctx context.Context, a Account) (*Account, error) {
	acc := newAccount(a, s.now())
	result, err := s.db.ExecContext(ctx, rebindSQLite(insertAccountSQL), insertAccountArgs(acc)...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrAccountExists
	}
	return acc, nil
}

func (s *SQLiteClient) GetAccount(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, rebindSQLite(selectAccountSQL), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (s *SQLiteClient) ListAccounts(ctx context.Context, status *int) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, rebindSQLite(listAccountSQL), status)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteClient) UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, rebindSQLite(updateAccountSQL), updateAccountArgs(id, upd)...))
	var sqlErr *sqlite.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrAccountNotFound
	case errors.As(err, &sqlErr) && sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return nil, ErrAccountExists
	case err != nil:
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return a, nil
}

func (s *SQLiteClient) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, rebindSQLite(deleteAccountSQL), id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *SQLiteClient) ClaimAccount(ctx context.Context) (*Account, error) {
	query := rebindSQLite(fmt.Sprintf(claimAccountSQL, ""))
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, AccountClaimed, AccountAvailable))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAccountAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim account: %w", err)
	}
	return a, nil
}

func (s *SQLiteClient) AccountCreatedSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, rebindSQLite(accountsSinceSQL), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	times := make([]time.Time, 0)
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan account time: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

func (s *SQLiteClient) AccountCounts(ctx context.Context, now time.Time) (AccountCounts, error) {
	var c AccountCounts
	err := s.db.QueryRowContext(ctx, rebindSQLite(accountCountsSQL), countsArgs(now.UTC())...).Scan(&c.Total, &c.LastHour, &c.LastDay, &c.LastWeek)
	if err != nil {
		return c, fmt.Errorf("failed to count accounts: %w", err)
	}
	if c.Total == 0 {
		return c, nil
	}
	for _, q := range []struct {
		sql string
		dst **time.Time
	}{{firstAccountSQL, &c.First}, {lastAccountSQL, &c.Last}} {
		var t time.Time
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(&t); err != nil {
			return c, fmt.Errorf("failed to read account time: %w", err)
		}
		*q.dst = &t
	}
	return c, nil
}

var _ Store = (*SQLiteClient)(nil)
