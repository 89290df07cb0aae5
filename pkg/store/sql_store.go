package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gridsplit/gridsplit/pkg/ledger"
)

// Dialect selects the locking strategy for the SQL backend.
type Dialect string

const (
	// DialectPostgres locks the ledger rows with SELECT ... FOR UPDATE
	// for the duration of the check-then-write window.
	DialectPostgres Dialect = "postgres"
	// DialectSQLite relies on SQLite's single-writer transaction; an
	// explicit row lock is neither available nor needed.
	DialectSQLite Dialect = "sqlite"
)

// SQLStore implements Store over database/sql. It works against
// Postgres (lib/pq) and embedded SQLite (modernc.org/sqlite) with the
// same statements; only the locking clause differs per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore creates a SQL-backed ledger store.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

const schema = `
CREATE TABLE IF NOT EXISTS purchases (
	id TEXT PRIMARY KEY,
	total_tokens NUMERIC NOT NULL,
	total_payment NUMERIC NOT NULL,
	meter_reading NUMERIC NOT NULL,
	purchase_date TIMESTAMP NOT NULL,
	is_emergency BOOLEAN NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS contributions (
	id TEXT PRIMARY KEY,
	purchase_id TEXT NOT NULL UNIQUE REFERENCES purchases(id),
	user_id TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	meter_reading NUMERIC NOT NULL,
	tokens_consumed NUMERIC NOT NULL,
	created_at TIMESTAMP NOT NULL,
	seq BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Init creates the schema and writes the baseline setting if the ledger
// has never been initialized.
func (s *SQLStore) Init(ctx context.Context, baseline decimal.Decimal) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: schema bootstrap failed: %w", err)
	}
	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM ledger_settings WHERE key = 'baseline_reading'`).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO ledger_settings (key, value) VALUES ('baseline_reading', $1)`,
			baseline.String())
	}
	if err != nil {
		return fmt.Errorf("store: baseline bootstrap failed: %w", err)
	}
	return nil
}

// Read returns a snapshot without taking the write lock.
func (s *SQLStore) Read(ctx context.Context) (ledger.Snapshot, error) {
	return loadSnapshot(ctx, s.db, "")
}

// Update runs fn inside one SQL transaction. On Postgres the snapshot
// load locks every ledger row until commit, so two concurrent writers
// cannot both validate against the same state.
func (s *SQLStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	lock := ""
	if s.dialect == DialectPostgres {
		lock = " FOR UPDATE"
	}
	if err := fn(&sqlTxWrapper{ctx: ctx, tx: sqlTx, lock: lock}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSnapshot(ctx context.Context, q querier, lock string) (ledger.Snapshot, error) {
	var snap ledger.Snapshot

	var baseline string
	err := q.QueryRowContext(ctx,
		`SELECT value FROM ledger_settings WHERE key = 'baseline_reading'`).Scan(&baseline)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		snap.Baseline = decimal.Zero
	case err != nil:
		return snap, fmt.Errorf("store: baseline read failed: %w", err)
	default:
		snap.Baseline, err = decimal.NewFromString(baseline)
		if err != nil {
			return snap, fmt.Errorf("store: corrupt baseline setting: %w", err)
		}
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, total_tokens, total_payment, meter_reading, purchase_date, is_emergency, created_by, created_at
		FROM purchases`+lock)
	if err != nil {
		return snap, fmt.Errorf("store: purchase query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var p ledger.Purchase
		if err := rows.Scan(&p.ID, &p.TotalTokens, &p.TotalPayment, &p.MeterReading,
			&p.PurchaseDate, &p.IsEmergency, &p.CreatedBy, &p.CreatedAt); err != nil {
			return snap, fmt.Errorf("store: purchase scan failed: %w", err)
		}
		snap.Purchases = append(snap.Purchases, p)
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	crows, err := q.QueryContext(ctx, `
		SELECT id, purchase_id, user_id, amount, meter_reading, tokens_consumed, created_at, seq
		FROM contributions`+lock)
	if err != nil {
		return snap, fmt.Errorf("store: contribution query failed: %w", err)
	}
	defer func() { _ = crows.Close() }()
	for crows.Next() {
		var c ledger.Contribution
		if err := crows.Scan(&c.ID, &c.PurchaseID, &c.UserID, &c.Amount,
			&c.MeterReading, &c.TokensConsumed, &c.CreatedAt, &c.Sequence); err != nil {
			return snap, fmt.Errorf("store: contribution scan failed: %w", err)
		}
		snap.Contributions = append(snap.Contributions, c)
	}
	return snap, crows.Err()
}

type sqlTxWrapper struct {
	ctx  context.Context
	tx   *sql.Tx
	lock string
}

func (w *sqlTxWrapper) Snapshot() (ledger.Snapshot, error) {
	return loadSnapshot(w.ctx, w.tx, w.lock)
}

func (w *sqlTxWrapper) InsertPurchase(p ledger.Purchase) error {
	_, err := w.tx.ExecContext(w.ctx, `
		INSERT INTO purchases (id, total_tokens, total_payment, meter_reading, purchase_date, is_emergency, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.TotalTokens, p.TotalPayment, p.MeterReading, p.PurchaseDate, p.IsEmergency, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: purchase insert failed: %w", err)
	}
	return nil
}

func (w *sqlTxWrapper) UpdatePurchase(p ledger.Purchase) error {
	res, err := w.tx.ExecContext(w.ctx, `
		UPDATE purchases SET total_tokens = $1, total_payment = $2, meter_reading = $3, purchase_date = $4, is_emergency = $5
		WHERE id = $6`,
		p.TotalTokens, p.TotalPayment, p.MeterReading, p.PurchaseDate, p.IsEmergency, p.ID)
	if err != nil {
		return fmt.Errorf("store: purchase update failed: %w", err)
	}
	return oneRow(res)
}

func (w *sqlTxWrapper) DeletePurchase(id string) error {
	res, err := w.tx.ExecContext(w.ctx, `DELETE FROM purchases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: purchase delete failed: %w", err)
	}
	return oneRow(res)
}

func (w *sqlTxWrapper) InsertContribution(c ledger.Contribution) error {
	_, err := w.tx.ExecContext(w.ctx, `
		INSERT INTO contributions (id, purchase_id, user_id, amount, meter_reading, tokens_consumed, created_at, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.PurchaseID, c.UserID, c.Amount, c.MeterReading, c.TokensConsumed, c.CreatedAt, c.Sequence)
	if err != nil {
		// Unique purchase_id is the second line of defense behind the
		// in-transaction duplicate check.
		if isUniqueViolation(err) {
			return ErrDuplicateContribution
		}
		return fmt.Errorf("store: contribution insert failed: %w", err)
	}
	return nil
}

func (w *sqlTxWrapper) UpdateContribution(c ledger.Contribution) error {
	res, err := w.tx.ExecContext(w.ctx, `
		UPDATE contributions SET amount = $1, meter_reading = $2, tokens_consumed = $3
		WHERE id = $4`,
		c.Amount, c.MeterReading, c.TokensConsumed, c.ID)
	if err != nil {
		return fmt.Errorf("store: contribution update failed: %w", err)
	}
	return oneRow(res)
}

func (w *sqlTxWrapper) DeleteContribution(id string) error {
	res, err := w.tx.ExecContext(w.ctx, `DELETE FROM contributions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: contribution delete failed: %w", err)
	}
	return oneRow(res)
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// lib/pq reports 23505, modernc sqlite reports "UNIQUE constraint
	// failed"; matching on text avoids a driver-specific dependency here.
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
