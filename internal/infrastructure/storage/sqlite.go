package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmelnik/intraday_position_engine/internal/domain"
)

// SQLiteStore is the persistent source of truth for groups, positions
// and risk states. All mutating statements are idempotent so the update
// worker can safely re-apply a task after a retry.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

// NewStoreWithDB wraps an existing database handle without touching the
// schema. Used by tests driving the store through sqlmock.
func NewStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		// group_no is the logical number, unique per trading day; each day
		// runs against its own database file.
		`CREATE TABLE IF NOT EXISTS strategy_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_no INTEGER NOT NULL UNIQUE,
			direction TEXT NOT NULL,
			signal_time DATETIME NOT NULL,
			range_high REAL NOT NULL,
			range_low REAL NOT NULL,
			lot_count INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'WAITING',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_row_id INTEGER NOT NULL REFERENCES strategy_groups(id),
			group_no INTEGER NOT NULL,
			lot_index INTEGER NOT NULL,
			direction TEXT NOT NULL,
			entry_price REAL,
			entry_time DATETIME,
			exit_price REAL,
			exit_time DATETIME,
			exit_reason TEXT NOT NULL DEFAULT '',
			realized_pnl REAL NOT NULL DEFAULT 0,
			order_id TEXT NOT NULL DEFAULT '',
			exchange_seq INTEGER NOT NULL DEFAULT 0,
			order_status TEXT NOT NULL DEFAULT 'PENDING',
			status TEXT NOT NULL DEFAULT 'PENDING',
			retry_count INTEGER NOT NULL DEFAULT 0,
			slippage_budget REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (group_row_id, lot_index)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_group ON positions(group_row_id);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);`,
		`CREATE TABLE IF NOT EXISTS risk_states (
			position_id INTEGER PRIMARY KEY REFERENCES positions(id),
			phase TEXT NOT NULL,
			peak_price REAL NOT NULL,
			stop_loss REAL NOT NULL,
			prev_stop_loss REAL NOT NULL DEFAULT 0,
			trailing_active BOOLEAN NOT NULL DEFAULT 0,
			protection_active BOOLEAN NOT NULL DEFAULT 0,
			last_update_time DATETIME NOT NULL,
			update_category TEXT NOT NULL DEFAULT '',
			update_message TEXT NOT NULL DEFAULT ''
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// --- GroupRepository ---

func (s *SQLiteStore) CreateGroup(ctx context.Context, g *domain.StrategyGroup) error {
	now := time.Now()
	if g.Status == "" {
		g.Status = domain.GroupWaiting
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO strategy_groups (group_no, direction, signal_time, range_high, range_low, lot_count, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int(g.GroupNo), string(g.Direction), g.SignalTime, g.RangeHigh, g.RangeLow, g.LotCount, string(g.Status), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert group %d: %w", g.GroupNo, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	g.RowID = domain.GroupRowID(id)
	g.CreatedAt = now
	g.UpdatedAt = now
	return nil
}

const groupColumns = `id, group_no, direction, signal_time, range_high, range_low, lot_count, status, created_at, updated_at`

func (s *SQLiteStore) scanGroup(row *sql.Row) (*domain.StrategyGroup, error) {
	var g domain.StrategyGroup
	err := row.Scan(&g.RowID, &g.GroupNo, &g.Direction, &g.SignalTime,
		&g.RangeHigh, &g.RangeLow, &g.LotCount, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *SQLiteStore) GetGroup(ctx context.Context, id domain.GroupRowID) (*domain.StrategyGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM strategy_groups WHERE id = ?`, int64(id))
	return s.scanGroup(row)
}

func (s *SQLiteStore) GetGroupByNo(ctx context.Context, no domain.GroupNo) (*domain.StrategyGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM strategy_groups WHERE group_no = ?`, int(no))
	return s.scanGroup(row)
}

func (s *SQLiteStore) ListGroups(ctx context.Context) ([]*domain.StrategyGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM strategy_groups ORDER BY group_no`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*domain.StrategyGroup
	for rows.Next() {
		var g domain.StrategyGroup
		if err := rows.Scan(&g.RowID, &g.GroupNo, &g.Direction, &g.SignalTime,
			&g.RangeHigh, &g.RangeLow, &g.LotCount, &g.Status, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// UpdateGroupStatus is last-writer-wins by updated_at.
func (s *SQLiteStore) UpdateGroupStatus(ctx context.Context, id domain.GroupRowID, status domain.GroupStatus, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE strategy_groups SET status = ?, updated_at = ?
		 WHERE id = ? AND updated_at <= ?`,
		string(status), updatedAt, int64(id), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update group %d status: %w", id, err)
	}
	return nil
}

// --- PositionRepository ---

func (s *SQLiteStore) CreatePosition(ctx context.Context, p *domain.PositionRecord) error {
	// Reject writes against an unknown group with a descriptive error
	// instead of relying on the driver's constraint message.
	var exists int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM strategy_groups WHERE id = ?`, int64(p.GroupRow)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("group row %d for lot %d: %w", p.GroupRow, p.LotIndex, domain.ErrUnknownGroup)
	}
	if err != nil {
		return err
	}

	now := time.Now()
	if p.Status == "" {
		p.Status = domain.PositionPending
	}
	if p.OrderStatus == "" {
		p.OrderStatus = domain.OrderPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (group_row_id, group_no, lot_index, direction, entry_price, entry_time,
			order_id, exchange_seq, order_status, status, retry_count, slippage_budget, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(p.GroupRow), int(p.GroupNo), p.LotIndex, string(p.Direction), p.EntryPrice, p.EntryTime,
		p.OrderID, p.ExchangeSeq, string(p.OrderStatus), string(p.Status), p.RetryCount, p.SlippageBudget, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("group %d lot %d: %w", p.GroupNo, p.LotIndex, domain.ErrDuplicateLot)
		}
		return fmt.Errorf("failed to insert position: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = domain.PositionID(id)
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

const positionColumns = `id, group_row_id, group_no, lot_index, direction, entry_price, entry_time,
	exit_price, exit_time, exit_reason, realized_pnl, order_id, exchange_seq, order_status, status,
	retry_count, slippage_budget, created_at, updated_at`

func scanPosition(scan func(dest ...any) error) (*domain.PositionRecord, error) {
	var p domain.PositionRecord
	var entryPrice, exitPrice sql.NullFloat64
	var entryTime, exitTime sql.NullTime
	err := scan(&p.ID, &p.GroupRow, &p.GroupNo, &p.LotIndex, &p.Direction, &entryPrice, &entryTime,
		&exitPrice, &exitTime, &p.ExitReason, &p.RealizedPnL, &p.OrderID, &p.ExchangeSeq, &p.OrderStatus,
		&p.Status, &p.RetryCount, &p.SlippageBudget, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if entryPrice.Valid {
		p.EntryPrice = &entryPrice.Float64
	}
	if entryTime.Valid {
		p.EntryTime = &entryTime.Time
	}
	if exitPrice.Valid {
		p.ExitPrice = &exitPrice.Float64
	}
	if exitTime.Valid {
		p.ExitTime = &exitTime.Time
	}
	return &p, nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id domain.PositionID) (*domain.PositionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = ?`, int64(id))
	p, err := scanPosition(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPositionNotFound
	}
	return p, err
}

func (s *SQLiteStore) queryPositions(ctx context.Context, query string, args ...any) ([]*domain.PositionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) ListActivePositions(ctx context.Context) ([]*domain.PositionRecord, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status IN ('PENDING', 'ACTIVE') ORDER BY id`)
}

func (s *SQLiteStore) ListPositionsByGroup(ctx context.Context, id domain.GroupRowID) ([]*domain.PositionRecord, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE group_row_id = ? ORDER BY lot_index`, int64(id))
}

// UpdatePositionFill confirms an entry fill. Re-applying the same fill
// is a no-op; a terminal record is never resurrected.
func (s *SQLiteStore) UpdatePositionFill(ctx context.Context, id domain.PositionID, fill *domain.FillUpdate) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET entry_price = ?, entry_time = ?, order_status = 'FILLED', status = 'ACTIVE', updated_at = ?
		 WHERE id = ? AND status NOT IN ('EXITED', 'FAILED')`,
		fill.Price, fill.Time, fill.Time, int64(id))
	if err != nil {
		return fmt.Errorf("failed to apply fill for position %d: %w", id, err)
	}
	return nil
}

// UpdatePositionExit closes a position. Idempotent under retry.
func (s *SQLiteStore) UpdatePositionExit(ctx context.Context, id domain.PositionID, exit *domain.ExitUpdate) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET exit_price = ?, exit_time = ?, exit_reason = ?, realized_pnl = ?,
			status = 'EXITED', order_status = 'FILLED', updated_at = ?
		 WHERE id = ? AND status != 'FAILED'`,
		exit.Price, exit.Time, exit.Reason, exit.PnL, exit.Time, int64(id))
	if err != nil {
		return fmt.Errorf("failed to apply exit for position %d: %w", id, err)
	}
	return nil
}

// UpdatePositionStatus is last-writer-wins by updated_at.
func (s *SQLiteStore) UpdatePositionStatus(ctx context.Context, id domain.PositionID, st *domain.StatusUpdate) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET status = ?, order_status = ?, retry_count = ?, updated_at = ?
		 WHERE id = ? AND updated_at <= ?`,
		string(st.Status), string(st.OrderStatus), st.RetryCount, st.Time, int64(id), st.Time)
	if err != nil {
		return fmt.Errorf("failed to update status for position %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SumRealizedPnL(ctx context.Context, id domain.GroupRowID) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(realized_pnl) FROM positions WHERE group_row_id = ? AND status = 'EXITED'`,
		int64(id)).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum.Float64, nil
}

func (s *SQLiteStore) CountOpenLots(ctx context.Context, id domain.GroupRowID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE group_row_id = ? AND status IN ('PENDING', 'ACTIVE')`,
		int64(id)).Scan(&n)
	return n, err
}

// --- RiskRepository ---

// UpsertRiskState applies last-writer-wins by last_update_time: a write
// carrying an older timestamp than the stored row is a no-op, which makes
// the worker's retry re-ordering harmless.
func (s *SQLiteStore) UpsertRiskState(ctx context.Context, rs *domain.RiskState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_states (position_id, phase, peak_price, stop_loss, prev_stop_loss,
			trailing_active, protection_active, last_update_time, update_category, update_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(position_id) DO UPDATE SET
			phase = excluded.phase,
			peak_price = excluded.peak_price,
			stop_loss = excluded.stop_loss,
			prev_stop_loss = excluded.prev_stop_loss,
			trailing_active = excluded.trailing_active,
			protection_active = excluded.protection_active,
			last_update_time = excluded.last_update_time,
			update_category = excluded.update_category,
			update_message = excluded.update_message
		 WHERE excluded.last_update_time >= risk_states.last_update_time`,
		int64(rs.PositionID), string(rs.Phase), rs.PeakPrice, rs.StopLoss, rs.PrevStopLoss,
		rs.TrailingActive, rs.ProtectionActive, rs.LastUpdate, rs.UpdateCategory, rs.UpdateMessage)
	if err != nil {
		return fmt.Errorf("failed to upsert risk state for position %d: %w", rs.PositionID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRiskState(ctx context.Context, id domain.PositionID) (*domain.RiskState, error) {
	var rs domain.RiskState
	err := s.db.QueryRowContext(ctx,
		`SELECT position_id, phase, peak_price, stop_loss, prev_stop_loss, trailing_active,
			protection_active, last_update_time, update_category, update_message
		 FROM risk_states WHERE position_id = ?`, int64(id)).
		Scan(&rs.PositionID, &rs.Phase, &rs.PeakPrice, &rs.StopLoss, &rs.PrevStopLoss,
			&rs.TrailingActive, &rs.ProtectionActive, &rs.LastUpdate, &rs.UpdateCategory, &rs.UpdateMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRiskStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rs, nil
}
