package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type PostgresClient struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresClient(cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresClient) InsertStatus(ctx context.Context, padCode string, upd StatusUpdate) error {
	result, err := p.pool.Exec(ctx, insertStatusSQL, insertArgs(padCode, upd, p.now())...)
	if err != nil {
		return fmt.Errorf("failed to insert status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStatusExists
	}
	return nil
}

func (p *PostgresClient) UpdateStatus(ctx context.Context, padCode string, upd StatusUpdate) error {
	result, err := p.pool.Exec(ctx, updateStatusSQL, updateArgs(padCode, upd, p.now())...)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStatusNotFound
	}
	return nil
}

func (p *PostgresClient) UpsertStatus(ctx context.Context, padCode string, upd StatusUpdate) error {
	return upsert(ctx, p, padCode, upd)
}

func (p *PostgresClient) GetStatus(ctx context.Context, padCode string) (*PadStatus, error) {
	s, err := scanStatus(p.pool.QueryRow(ctx, selectStatusSQL, padCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	return s, nil
}

func (p *PostgresClient) ListStatuses(ctx context.Context) ([]PadStatus, error) {
	rows, err := p.pool.Query(ctx, listStatusSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]PadStatus, 0)
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses = append(statuses, *s)
	}
	return statuses, rows.Err()
}

func (p *PostgresClient) DeleteStatus(ctx context.Context, padCode string) error {
	result, err := p.pool.Exec(ctx, deleteStatusSQL, padCode)
	if err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStatusNotFound
	}
	return nil
}

func (p *PostgresClient) CreateAccount(ctx context.Context, a Account) (*Account, error) {
	acc := newAccount(a, p.now())
	result, err := p.pool.Exec(ctx, insertAccountSQL, insertAccountArgs(acc)...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrAccountExists
	}
	return acc, nil
}

func (p *PostgresClient) GetAccount(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(p.pool.QueryRow(ctx, selectAccountSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (p *PostgresClient) ListAccounts(ctx context.Context, status *int) ([]Account, error) {
	rows, err := p.pool.Query(ctx, listAccountSQL, status)
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

func (p *PostgresClient) UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (*Account, error) {
	a, err := scanAccount(p.pool.QueryRow(ctx, updateAccountSQL, updateAccountArgs(id, upd)...))
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrAccountNotFound
	case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation:
		return nil, ErrAccountExists
	case err != nil:
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return a, nil
}

func (p *PostgresClient) DeleteAccount(ctx context.Context, id string) error {
	result, err := p.pool.Exec(ctx, deleteAccountSQL, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresClient) ClaimAccount(ctx context.Context) (*Account, error) {
	query := fmt.Sprintf(claimAccountSQL, "FOR UPDATE SKIP LOCKED")
	a, err := scanAccount(p.pool.QueryRow(ctx, query, AccountClaimed, AccountAvailable))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoAccountAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim account: %w", err)
	}
	return a, nil
}

func (p *PostgresClient) AccountCreatedSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := p.pool.Query(ctx, accountsSinceSQL, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}

func (p *PostgresClient) AccountCounts(ctx context.Context, now time.Time) (AccountCounts, error) {
	var c AccountCounts
	err := p.pool.QueryRow(ctx, accountCountsSQL, countsArgs(now.UTC())...).Scan(&c.Total, &c.LastHour, &c.LastDay, &c.LastWeek)
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
		if err := p.pool.QueryRow(ctx, q.sql).Scan(&t); err != nil {
			return c, fmt.Errorf("failed to read account time: %w", err)
		}
		*q.dst = &t
	}
	return c, nil
}

var _ Store = (*PostgresClient)(nil)
