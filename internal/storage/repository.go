// Package storage is the embedded cost ledger: a local SQLite database
// holding the append-only costs table and the settings key-value table.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"costbook/internal/core"
	"costbook/internal/notify"

	_ "modernc.org/sqlite"
)

// LedgerStore owns the SQLite connection. Costs are append-only: there is
// no update or delete path, records only leave with the database file.
type LedgerStore struct {
	db       *sql.DB
	notifier *notify.Notifier
	now      func() time.Time
}

// Option configures a LedgerStore at open time.
type Option func(*LedgerStore)

// WithClock replaces the wall clock used to stamp insertion dates.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerStore) {
		s.now = now
	}
}

// Open opens (creating if needed) the ledger database at dbPath and brings
// its schema up to date. Opening an already-migrated database does not
// re-run any upgrade step. The notifier, when not nil, is fired after every
// successful insert.
func Open(dbPath string, notifier *notify.Notifier, opts ...Option) (*LedgerStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store := &LedgerStore{
		db:       db,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

func (s *LedgerStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// InsertCost appends a cost to the ledger. The store assigns the id and
// stamps the date from the current wall clock; any date supplied by the
// caller is ignored by construction (NewCost carries none).
func (s *LedgerStore) InsertCost(ctx context.Context, n core.NewCost) (core.Cost, error) {
	if s.db == nil {
		return core.Cost{}, core.ErrStoreNotReady
	}
	if err := n.Validate(); err != nil {
		return core.Cost{}, fmt.Errorf("validate cost: %w", err)
	}

	date := core.DateOf(s.now())

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO costs (sum, currency, category, description, year, month, day)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.Sum, string(n.Currency), string(n.Category), n.Description,
		date.Year, date.Month, date.Day)
	if err != nil {
		return core.Cost{}, fmt.Errorf("%w: insert cost: %v", core.ErrWrite, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Cost{}, fmt.Errorf("%w: last insert id: %v", core.ErrWrite, err)
	}

	cost := core.Cost{
		ID:          id,
		Sum:         n.Sum,
		Currency:    n.Currency,
		Category:    n.Category,
		Description: n.Description,
		Date:        date,
	}

	slog.InfoContext(ctx, "Cost recorded",
		"id", cost.ID,
		"sum", cost.Sum,
		"currency", cost.Currency,
		"category", cost.Category,
		"year", date.Year,
		"month", date.Month,
		"day", date.Day)

	if s.notifier != nil {
		s.notifier.Notify()
	}

	return cost, nil
}

// ScanCosts starts a fresh single pass over every persisted cost in stable
// insertion order. The cursor is not restartable; call ScanCosts again for
// a new pass, and always check Err after the loop.
func (s *LedgerStore) ScanCosts(ctx context.Context) (*CostCursor, error) {
	if s.db == nil {
		return nil, core.ErrStoreNotReady
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sum, currency, category, description, year, month, day
		 FROM costs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: scan costs: %v", core.ErrRead, err)
	}

	return &CostCursor{rows: rows}, nil
}

// CostCursor is a lazy, single-pass iteration over the ledger, consumed
// with the usual rows idiom:
//
//	for cur.Next() {
//		c := cur.Cost()
//		...
//	}
//	if err := cur.Err(); err != nil { ... }
//
// Results yielded before a failure must not be treated as a complete scan.
type CostCursor struct {
	rows *sql.Rows
	cur  core.Cost
	err  error
}

// Next advances to the next cost. It returns false at the end of the scan
// or on failure; Err tells the two apart.
func (c *CostCursor) Next() bool {
	if c.err != nil || c.rows == nil {
		return false
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = fmt.Errorf("%w: scan costs: %v", core.ErrRead, err)
		}
		return false
	}

	var cost core.Cost
	var currency, category string
	if err := c.rows.Scan(&cost.ID, &cost.Sum, &currency, &category,
		&cost.Description, &cost.Date.Year, &cost.Date.Month, &cost.Date.Day); err != nil {
		c.err = fmt.Errorf("%w: scan cost row: %v", core.ErrRead, err)
		c.rows.Close()
		return false
	}
	cost.Currency = core.Currency(currency)
	cost.Category = core.Category(category)
	c.cur = cost
	return true
}

// Cost returns the record the cursor is positioned on.
func (c *CostCursor) Cost() core.Cost {
	return c.cur
}

func (c *CostCursor) Err() error {
	return c.err
}

func (c *CostCursor) Close() error {
	if c.rows == nil {
		return nil
	}
	return c.rows.Close()
}

// Setting returns the stored value for key, or "" when the key has never
// been set.
func (s *LedgerStore) Setting(ctx context.Context, key string) (string, error) {
	if s.db == nil {
		return "", core.ErrStoreNotReady
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: get setting %s: %v", core.ErrRead, key, err)
	}
	return value, nil
}

// PutSetting stores value under key, replacing any previous value. Last
// writer wins; there is no further coordination, consistent with its use
// as a single-user preference.
func (s *LedgerStore) PutSetting(ctx context.Context, key, value string) error {
	if s.db == nil {
		return core.ErrStoreNotReady
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: put setting %s: %v", core.ErrWrite, key, err)
	}

	slog.InfoContext(ctx, "Setting updated", "key", key)
	return nil
}
