package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ndmikkelsen/btc-algo-trader/internal/domain"
	"github.com/ndmikkelsen/btc-algo-trader/internal/engine"
	"github.com/ndmikkelsen/btc-algo-trader/internal/performance"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// migrations are applied in order; PRAGMA user_version records how many have
// run.
var migrations = []string{
	`CREATE TABLE runs (
		id               TEXT PRIMARY KEY,
		created_at       INTEGER NOT NULL,
		strategy         TEXT NOT NULL,
		symbol           TEXT NOT NULL,
		timeframe        TEXT NOT NULL,
		start_ts         INTEGER NOT NULL,
		end_ts           INTEGER NOT NULL,
		bars             INTEGER NOT NULL,
		initial_balance  REAL NOT NULL,
		commission_rate  REAL NOT NULL,
		final_cash       REAL NOT NULL,
		final_price      REAL NOT NULL,
		position_qty     REAL NOT NULL,
		position_avg     REAL NOT NULL,
		position_comm    REAL NOT NULL,
		position_opened  INTEGER,
		skipped_orders   INTEGER NOT NULL,
		metrics          TEXT NOT NULL
	)`,
	`CREATE TABLE trades (
		run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		ts           INTEGER NOT NULL,
		side         TEXT NOT NULL,
		price        REAL NOT NULL,
		quantity     REAL NOT NULL,
		commission   REAL NOT NULL,
		realized_pnl REAL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE equity (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		idx    INTEGER NOT NULL,
		ts     INTEGER NOT NULL,
		value  REAL NOT NULL,
		PRIMARY KEY (run_id, idx)
	)`,
	`CREATE INDEX runs_created_at ON runs(created_at DESC)`,
}

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// pending migrations and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", i+1, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts res with its trades and equity curve in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, res *engine.Result) (string, error) {
	if res == nil {
		return "", errors.New("saving run: nil result")
	}
	metrics, err := json.Marshal(res.Metrics)
	if err != nil {
		return "", fmt.Errorf("encoding metrics: %w", err)
	}

	id := uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	pos := res.FinalPosition
	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, created_at, strategy, symbol, timeframe, start_ts, end_ts, bars,
		initial_balance, commission_rate, final_cash, final_price,
		position_qty, position_avg, position_comm, position_opened,
		skipped_orders, metrics
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, s.now().UnixNano(), res.Strategy, res.Symbol, string(res.Timeframe),
		res.Start.UnixNano(), res.End.UnixNano(), res.Bars,
		res.InitialBalance, res.CommissionRate, res.FinalCash, res.FinalPrice,
		pos.Quantity, pos.AvgEntryPrice, pos.EntryCommission, nullableTime(pos.OpenedAt),
		res.SkippedOrders, string(metrics),
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
		(run_id, seq, ts, side, price, quantity, commission, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing trade insert: %w", err)
	}
	defer tradeStmt.Close()
	for _, t := range res.Trades {
		var pnl sql.NullFloat64
		if t.RealizedPnL != nil {
			pnl = sql.NullFloat64{Float64: *t.RealizedPnL, Valid: true}
		}
		if _, err := tradeStmt.ExecContext(ctx, id, t.Seq, t.Timestamp.UnixNano(), string(t.Side),
			t.Price, t.Quantity, t.Commission, pnl); err != nil {
			return "", fmt.Errorf("inserting trade %d: %w", t.Seq, err)
		}
	}

	eqStmt, err := tx.PrepareContext(ctx, `INSERT INTO equity (run_id, idx, ts, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing equity insert: %w", err)
	}
	defer eqStmt.Close()
	for i, p := range res.EquityCurve {
		if _, err := eqStmt.ExecContext(ctx, id, i, p.Timestamp.UnixNano(), p.Value); err != nil {
			return "", fmt.Errorf("inserting equity point %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return id, nil
}

// GetRun loads the run with the given ID. It returns ErrNotFound when no such
// run exists.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var (
		run                     Run
		res                     engine.Result
		created, startNs, endNs int64
		timeframe, metrics      string
		opened                  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT
		id, created_at, strategy, symbol, timeframe, start_ts, end_ts, bars,
		initial_balance, commission_rate, final_cash, final_price,
		position_qty, position_avg, position_comm, position_opened,
		skipped_orders, metrics
		FROM runs WHERE id = ?`, id).Scan(
		&run.ID, &created, &res.Strategy, &res.Symbol, &timeframe, &startNs, &endNs, &res.Bars,
		&res.InitialBalance, &res.CommissionRate, &res.FinalCash, &res.FinalPrice,
		&res.FinalPosition.Quantity, &res.FinalPosition.AvgEntryPrice, &res.FinalPosition.EntryCommission, &opened,
		&res.SkippedOrders, &metrics,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}

	run.CreatedAt = fromNanos(created)
	res.Timeframe = domain.Timeframe(timeframe)
	res.Start = fromNanos(startNs)
	res.End = fromNanos(endNs)
	if opened.Valid {
		res.FinalPosition.OpenedAt = fromNanos(opened.Int64)
	}
	var m performance.Metrics
	if err := json.Unmarshal([]byte(metrics), &m); err != nil {
		return nil, fmt.Errorf("decoding metrics for run %s: %w", id, err)
	}
	res.Metrics = m

	if res.Trades, err = s.loadTrades(ctx, id); err != nil {
		return nil, err
	}
	if res.EquityCurve, err = s.loadEquity(ctx, id); err != nil {
		return nil, err
	}

	run.Result = &res
	return &run, nil
}

func (s *SQLiteStore) loadTrades(ctx context.Context, id string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, ts, side, price, quantity, commission, realized_pnl
		FROM trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("loading trades for run %s: %w", id, err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t    domain.Trade
			ts   int64
			side string
			pnl  sql.NullFloat64
		)
		if err := rows.Scan(&t.Seq, &ts, &side, &t.Price, &t.Quantity, &t.Commission, &pnl); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.Timestamp = fromNanos(ts)
		t.Side = domain.Side(side)
		if pnl.Valid {
			v := pnl.Float64
			t.RealizedPnL = &v
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) loadEquity(ctx context.Context, id string) ([]domain.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, value FROM equity WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("loading equity for run %s: %w", id, err)
	}
	defer rows.Close()

	var curve []domain.EquityPoint
	for rows.Next() {
		var (
			ts int64
			p  domain.EquityPoint
		)
		if err := rows.Scan(&ts, &p.Value); err != nil {
			return nil, fmt.Errorf("scanning equity point: %w", err)
		}
		p.Timestamp = fromNanos(ts)
		curve = append(curve, p)
	}
	return curve, rows.Err()
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// defaults to 50.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, strategy, symbol, timeframe, start_ts, end_ts, metrics
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			sum                     RunSummary
			created, startNs, endNs int64
			timeframe, metrics      string
		)
		if err := rows.Scan(&sum.ID, &created, &sum.Strategy, &sum.Symbol, &timeframe, &startNs, &endNs, &metrics); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		var m performance.Metrics
		if err := json.Unmarshal([]byte(metrics), &m); err != nil {
			return nil, fmt.Errorf("decoding metrics for run %s: %w", sum.ID, err)
		}
		sum.CreatedAt = fromNanos(created)
		sum.Timeframe = domain.Timeframe(timeframe)
		sum.Start = fromNanos(startNs)
		sum.End = fromNanos(endNs)
		sum.TotalReturn = m.TotalReturn
		sum.SharpeRatio = m.SharpeRatio
		sum.MaxDrawdown = m.MaxDrawdown
		sum.TotalTrades = m.TotalTrades
		sum.FinalValue = m.FinalValue
		out = append(out, sum)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
