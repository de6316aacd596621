package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/models"
)

// Store is the PostgreSQL implementation of the account store, transaction log
// and user store. The conditional adjust is a single UPDATE statement so the
// balance check and the increment commit atomically.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema if it does not exist. The CHECK on balance is a
// last line of defense; the engine never issues an adjustment that could
// violate it.
func Migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		balance NUMERIC(20,4) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		currency_code TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		from_account UUID,
		to_account UUID,
		amount NUMERIC(20,4) NOT NULL,
		performed_by UUID NOT NULL,
		idempotency_key TEXT UNIQUE,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts (owner_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions (from_account, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions (to_account, created_at);`

	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Create(ctx context.Context, account models.Account) (models.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO accounts (id, owner_id, balance, currency_code, created_at)
	VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.OwnerID, account.Balance, account.CurrencyCode, account.CreatedAt)
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Account, error) {
	const query = `SELECT id, owner_id, balance, currency_code, created_at
	FROM accounts WHERE id = $1`

	return scanAccount(s.db.QueryRowContext(ctx, query, id), interfaces.ErrNotFound)
}

func (s *Store) ByOwner(ctx context.Context, ownerID string) (models.Account, error) {
	const query = `SELECT id, owner_id, balance, currency_code, created_at
	FROM accounts WHERE owner_id = $1 LIMIT 1`

	return scanAccount(s.db.QueryRowContext(ctx, query, ownerID), interfaces.ErrNotFound)
}

func (s *Store) ConditionalAdjust(ctx context.Context, id string, delta decimal.Decimal, cond interfaces.Condition) (models.Account, error) {
	if min, gated := cond.Gated(); gated {
		const query = `UPDATE accounts SET balance = balance + $2
		WHERE id = $1 AND balance >= $3
		RETURNING id, owner_id, balance, currency_code, created_at`

		return scanAccount(s.db.QueryRowContext(ctx, query, id, delta, min), interfaces.ErrNoMatch)
	}

	const query = `UPDATE accounts SET balance = balance + $2
	WHERE id = $1
	RETURNING id, owner_id, balance, currency_code, created_at`

	return scanAccount(s.db.QueryRowContext(ctx, query, id, delta), interfaces.ErrNoMatch)
}

func scanAccount(row *sql.Row, missing error) (models.Account, error) {
	var acct models.Account
	err := row.Scan(&acct.ID, &acct.OwnerID, &acct.Balance, &acct.CurrencyCode, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Account{}, missing
	}
	if err != nil {
		return models.Account{}, err
	}
	return acct, nil
}

func (s *Store) Append(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	tx.ID = uuid.NewString()
	tx.CreatedAt = time.Now().UTC()

	const query = `INSERT INTO transactions
	(id, type, from_account, to_account, amount, performed_by, idempotency_key, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.Type, nullable(tx.FromAccount), nullable(tx.ToAccount),
		tx.Amount, tx.PerformedBy, nullable(tx.IdempotencyKey), tx.Status, tx.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return models.Transaction{}, interfaces.ErrDuplicate
		}
		return models.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ByAccount(ctx context.Context, accountID string, from, to time.Time) ([]models.Transaction, error) {
	const query = `SELECT id, type, from_account, to_account, amount, performed_by, idempotency_key, status, created_at
	FROM transactions
	WHERE (from_account = $1 OR to_account = $1)
	  AND ($2::timestamptz IS NULL OR created_at >= $2)
	  AND ($3::timestamptz IS NULL OR created_at < $3)
	ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, accountID, nullableTime(from), nullableTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	const query = `SELECT id, type, from_account, to_account, amount, performed_by, idempotency_key, status, created_at
	FROM transactions WHERE idempotency_key = $1`

	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return models.Transaction{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.Transaction{}, err
		}
		return models.Transaction{}, interfaces.ErrNotFound
	}
	return scanTransaction(rows)
}

func scanTransaction(rows *sql.Rows) (models.Transaction, error) {
	var (
		tx       models.Transaction
		from, to sql.NullString
		idemKey  sql.NullString
	)
	err := rows.Scan(&tx.ID, &tx.Type, &from, &to, &tx.Amount, &tx.PerformedBy, &idemKey, &tx.Status, &tx.CreatedAt)
	if err != nil {
		return models.Transaction{}, err
	}
	tx.FromAccount = from.String
	tx.ToAccount = to.String
	tx.IdempotencyKey = idemKey.String
	return tx, nil
}

func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO users (id, email, password_hash, full_name, role, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.Role, user.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return models.User{}, interfaces.ErrDuplicate
		}
		return models.User{}, err
	}
	return user, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `SELECT id, email, password_hash, full_name, role, created_at
	FROM users WHERE email = $1`

	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *Store) UserByID(ctx context.Context, id string) (models.User, error) {
	const query = `SELECT id, email, password_hash, full_name, role, created_at
	FROM users WHERE id = $1`

	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

func scanUser(row *sql.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.FullName, &user.Role, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return models.User{}, interfaces.ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

var (
	_ interfaces.AccountStore   = (*Store)(nil)
	_ interfaces.TransactionLog = (*Store)(nil)
	_ interfaces.UserStore      = (*Store)(nil)
)
