package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrNoAccountAvailable = errors.New("no account available")
)

// Account states. ClaimAccount moves one account from available to claimed.
const (
	AccountAvailable = 0
	AccountClaimed   = 1
)

// Account is one entry of the account pool handed out to pads.
type Account struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Password  string    `json:"password"`
	Type      int       `json:"type"`
	Status    int       `json:"status"`
	Code      *string   `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountUpdate is a partial change of an Account. Nil fields are kept.
type AccountUpdate struct {
	Account  *string
	Password *string
	Type     *int
	Status   *int
	Code     *string
}

// AccountCounts are the pool totals used by the statistics endpoints.
type AccountCounts struct {
	Total    int64
	LastHour int64
	LastDay  int64
	LastWeek int64
	First    *time.Time
	Last     *time.Time
}

// AccountStore keeps the account pool.
type AccountStore interface {
	// CreateAccount fills in ID, Status and CreatedAt, or returns
	// ErrAccountExists when the account name is taken.
	CreateAccount(ctx context.Context, a Account) (*Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	// ListAccounts returns all accounts, or those in status when it is set,
	// oldest first.
	ListAccounts(ctx context.Context, status *int) ([]Account, error)
	UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (*Account, error)
	DeleteAccount(ctx context.Context, id string) error
	// ClaimAccount marks the oldest available account as claimed and returns
	// it. Concurrent callers never get the same account.
	ClaimAccount(ctx context.Context) (*Account, error)
	// AccountCreatedSince lists the creation times of accounts created at or
	// after since.
	AccountCreatedSince(ctx context.Context, since time.Time) ([]time.Time, error)
	AccountCounts(ctx context.Context, now time.Time) (AccountCounts, error)
}

// Store is the status and account storage of one database.
type Store interface {
	StatusStore
	AccountStore
}

const (
	accountColumns = `id, account, password, type, status, code, created_at`

	insertAccountSQL = `
		INSERT INTO account (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account) DO NOTHING`

	selectAccountSQL = `SELECT ` + accountColumns + ` FROM account WHERE id = $1`

	listAccountSQL = `SELECT ` + accountColumns + ` FROM account
		WHERE status = COALESCE($1, status)
		ORDER BY created_at, id`

	updateAccountSQL = `
		UPDATE account SET
			account  = COALESCE($2, account),
			password = COALESCE($3, password),
			type     = COALESCE($4, type),
			status   = COALESCE($5, status),
			code     = COALESCE($6, code)
		WHERE id = $1
		RETURNING ` + accountColumns

	deleteAccountSQL = `DELETE FROM account WHERE id = $1`

	// claimAccountSQL is completed per driver: Postgres appends a row lock
	// to the subquery, SQLite serializes writers on its single connection.
	claimAccountSQL = `
		UPDATE account SET status = $1
		WHERE id = (
			SELECT id FROM account WHERE status = $2
			ORDER BY created_at, id
			LIMIT 1 %s
		)
		RETURNING ` + accountColumns

	accountsSinceSQL = `SELECT created_at FROM account WHERE created_at >= $1 ORDER BY created_at`

	accountCountsSQL = `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN created_at >= $1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= $2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= $3 THEN 1 ELSE 0 END), 0)
		FROM account`

	firstAccountSQL = `SELECT created_at FROM account ORDER BY created_at ASC LIMIT 1`
	lastAccountSQL  = `SELECT created_at FROM account ORDER BY created_at DESC LIMIT 1`
)

// newAccount prepares a for insertion as an available account.
func newAccount(a Account, now time.Time) *Account {
	a.ID = uuid.NewString()
	a.Status = AccountAvailable
	a.CreatedAt = now
	return &a
}

func insertAccountArgs(a *Account) []any {
	return []any{a.ID, a.Account, a.Password, a.Type, a.Status, a.Code, a.CreatedAt}
}

func updateAccountArgs(id string, upd AccountUpdate) []any {
	return []any{id, upd.Account, upd.Password, upd.Type, upd.Status, upd.Code}
}

func countsArgs(now time.Time) []any {
	return []any{now.Add(-time.Hour), now.Add(-24 * time.Hour), now.Add(-7 * 24 * time.Hour)}
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Account, &a.Password, &a.Type, &a.Status, &a.Code, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
