package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-microbank/models"
	"go-microbank/money"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresStore keeps records in Postgres. Each changeset is one database
// transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and applies pending migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, path := range names {
		name := strings.TrimPrefix(path, "migrations/")

		var exists bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename=$1)`, name).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}

		sqlBytes, err := migrationFiles.ReadFile(path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			return errors.New("empty migration: " + name)
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, sqlText); err != nil {
				return fmt.Errorf("migration %s failed: %w", name, err)
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations(filename) VALUES($1)`, name)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Sequences: make(map[string]int64)}

	rows, err := s.pool.Query(ctx, `SELECT id, username, password_hash, created_at FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	snap.Customers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Customer, error) {
		var c models.Customer
		err := row.Scan(&c.ID, &c.Username, &c.PasswordHash, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT id, customer_id, name, balance, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	snap.Accounts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Account, error) {
		var a models.Account
		var balance int64
		err := row.Scan(&a.ID, &a.CustomerID, &a.Name, &balance, &a.CreatedAt)
		a.Balance = money.Amount(balance)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, loaner_id, taker_id, amount, interest_rate, expires_at, repaid, created_at
		FROM microloans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load microloans: %w", err)
	}
	snap.Loans, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Microloan, error) {
		var l models.Microloan
		var amount, rate int64
		err := row.Scan(&l.ID, &l.LoanerID, &l.TakerID, &amount, &rate, &l.ExpiresAt, &l.Repaid, &l.CreatedAt)
		l.Amount, l.InterestRate = money.Amount(amount), money.Rate(rate)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("load microloans: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT id, customer_id, amount, interest_rate, created_at FROM microloan_requests ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load microloan requests: %w", err)
	}
	snap.Requests, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MicroloanRequest, error) {
		var r models.MicroloanRequest
		var amount, rate int64
		err := row.Scan(&r.ID, &r.CustomerID, &amount, &rate, &r.CreatedAt)
		r.Amount, r.InterestRate = money.Amount(amount), money.Rate(rate)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("load microloan requests: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT id, customer_id, amount, interest_rate, created_at FROM microloan_offers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load microloan offers: %w", err)
	}
	snap.Offers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.MicroloanOffer, error) {
		var o models.MicroloanOffer
		var amount, rate int64
		err := row.Scan(&o.ID, &o.CustomerID, &amount, &rate, &o.CreatedAt)
		o.Amount, o.InterestRate = money.Amount(amount), money.Rate(rate)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("load microloan offers: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, customer_id, counterparty_id, type, amount, from_account_id, to_account_id, loan_id, created_at
		FROM transactions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	snap.Transactions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Transaction, error) {
		var t models.Transaction
		var amount int64
		err := row.Scan(&t.ID, &t.CustomerID, &t.CounterpartyID, &t.Type, &amount,
			&t.FromAccountID, &t.ToAccountID, &t.LoanID, &t.CreatedAt)
		t.Amount = money.Amount(amount)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT name, value FROM sequences`)
	if err != nil {
		return nil, fmt.Errorf("load sequences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("load sequences: %w", err)
		}
		snap.Sequences[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load sequences: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) Apply(ctx context.Context, cs *Changeset) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		queue := &pgx.Batch{}

		for _, c := range cs.Customers {
			queue.Queue(`
				INSERT INTO customers (id, username, password_hash, created_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, password_hash = EXCLUDED.password_hash`,
				c.ID, c.Username, c.PasswordHash, c.CreatedAt)
		}
		for _, id := range cs.DeletedAccounts {
			queue.Queue(`DELETE FROM accounts WHERE id = $1`, id)
		}
		for _, a := range cs.Accounts {
			queue.Queue(`
				INSERT INTO accounts (id, customer_id, name, balance, created_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, balance = EXCLUDED.balance`,
				a.ID, a.CustomerID, a.Name, int64(a.Balance), a.CreatedAt)
		}
		for _, r := range cs.Requests {
			queue.Queue(`
				INSERT INTO microloan_requests (id, customer_id, amount, interest_rate, created_at)
				VALUES ($1, $2, $3, $4, $5)`,
				r.ID, r.CustomerID, int64(r.Amount), int64(r.InterestRate), r.CreatedAt)
		}
		for _, o := range cs.Offers {
			queue.Queue(`
				INSERT INTO microloan_offers (id, customer_id, amount, interest_rate, created_at)
				VALUES ($1, $2, $3, $4, $5)`,
				o.ID, o.CustomerID, int64(o.Amount), int64(o.InterestRate), o.CreatedAt)
		}
		for _, id := range cs.ConsumedRequests {
			queue.Queue(`DELETE FROM microloan_requests WHERE id = $1`, id)
		}
		for _, id := range cs.ConsumedOffers {
			queue.Queue(`DELETE FROM microloan_offers WHERE id = $1`, id)
		}
		for _, l := range cs.Loans {
			queue.Queue(`
				INSERT INTO microloans (id, loaner_id, taker_id, amount, interest_rate, expires_at, repaid, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				l.ID, l.LoanerID, l.TakerID, int64(l.Amount), int64(l.InterestRate), l.ExpiresAt, l.Repaid, l.CreatedAt)
		}
		for _, t := range cs.Transactions {
			queue.Queue(`
				INSERT INTO transactions (id, customer_id, counterparty_id, type, amount, from_account_id, to_account_id, loan_id, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				t.ID, t.CustomerID, t.CounterpartyID, t.Type, int64(t.Amount), t.FromAccountID, t.ToAccountID, t.LoanID, t.CreatedAt)
		}
		for name, value := range cs.Sequences {
			queue.Queue(`
				INSERT INTO sequences (name, value) VALUES ($1, $2)
				ON CONFLICT (name) DO UPDATE SET value = GREATEST(sequences.value, EXCLUDED.value)`,
				name, value)
		}

		return tx.SendBatch(ctx, queue).Close()
	})
}

// Flush replaces every customer and account row in one transaction.
func (s *PostgresStore) Flush(ctx context.Context, customers []models.Customer, accounts []models.Account) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM accounts`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM customers`); err != nil {
			return err
		}

		customerRows := make([][]any, 0, len(customers))
		for _, c := range customers {
			customerRows = append(customerRows, []any{c.ID, c.Username, c.PasswordHash, c.CreatedAt})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"customers"},
			[]string{"id", "username", "password_hash", "created_at"},
			pgx.CopyFromRows(customerRows),
		); err != nil {
			return fmt.Errorf("copy customers: %w", err)
		}

		accountRows := make([][]any, 0, len(accounts))
		for _, a := range accounts {
			accountRows = append(accountRows, []any{a.ID, a.CustomerID, a.Name, int64(a.Balance), a.CreatedAt})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"accounts"},
			[]string{"id", "customer_id", "name", "balance", "created_at"},
			pgx.CopyFromRows(accountRows),
		); err != nil {
			return fmt.Errorf("copy accounts: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
