package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"grid-trading-bot/internal/order"
)

// AuditRepository stores settled orders for offline bookkeeping
type AuditRepository struct {
	db *DB
}

var _ order.AuditSink = (*AuditRepository)(nil)

// NewAuditRepository creates a new repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// HealthCheck performs a database health check
func (r *AuditRepository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SETTLEMENTS
// ============================================================================

// RecordSettlement inserts one audit row. A replayed order keeps its first row.
func (r *AuditRepository) RecordSettlement(ctx context.Context, rec order.AuditRecord) error {
	s := SettlementFromAudit(rec)
	query := `
		INSERT INTO grid_settlements (symbol, settled_at, funds, avg_price, order_id, status, side, price, quantity, spent, realized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (order_id, side) DO NOTHING
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		s.Symbol, s.SettledAt, s.Funds, s.AvgPrice, s.OrderID, s.Status,
		s.Side, s.Price, s.Quantity, s.Spent, s.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("insert settlement %d: %w", s.OrderID, err)
	}
	return nil
}

// GetSettlements returns the newest rows, for every symbol when symbol is empty
func (r *AuditRepository) GetSettlements(ctx context.Context, symbol string, limit int) ([]Settlement, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, settled_at, funds, avg_price, order_id, status, side, price, quantity, spent, realized_pnl, created_at
		FROM grid_settlements
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY settled_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Settlement, error) {
		var s Settlement
		err := row.Scan(
			&s.ID, &s.Symbol, &s.SettledAt, &s.Funds, &s.AvgPrice, &s.OrderID, &s.Status,
			&s.Side, &s.Price, &s.Quantity, &s.Spent, &s.RealizedPnL, &s.CreatedAt,
		)
		return s, err
	})
}

// RealizedPnL sums realized profit per symbol
func (r *AuditRepository) RealizedPnL(ctx context.Context) (map[string]float64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT symbol, COALESCE(SUM(realized_pnl), 0)
		FROM grid_settlements
		WHERE side = 'SELL'
		GROUP BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var pnl float64
		if err := rows.Scan(&symbol, &pnl); err != nil {
			return nil, err
		}
		out[symbol] = pnl
	}
	return out, rows.Err()
}
