package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"momentum-trading-bot/internal/executor"
)

// Repository archives journal records and answers history queries.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// SaveEntry archives one entry record.
func (r *Repository) SaveEntry(ctx context.Context, rec executor.EntryRecord) error {
	var subOrders []byte
	if len(rec.SubOrders) > 0 {
		var err error
		subOrders, err = json.Marshal(rec.SubOrders)
		if err != nil {
			return fmt.Errorf("encode sub orders: %w", err)
		}
	}

	query := `
		INSERT INTO entry_orders (ts, symbol, exchange_id, order_id, size, avg_price, stage, is_iceberg, cost, sub_orders)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.Timestamp, rec.Symbol, rec.Exchange, rec.OrderID,
		rec.Size, rec.AvgPrice, rec.Stage, rec.Iceberg, rec.Cost, subOrders,
	)
	if err != nil {
		return fmt.Errorf("insert entry order: %w", err)
	}
	return nil
}

// SaveExit archives one exit record.
func (r *Repository) SaveExit(ctx context.Context, rec executor.ExitRecord) error {
	query := `
		INSERT INTO exit_orders (ts, symbol, exchange_id, order_id, size, avg_price, reason, revenue,
			entry_order_id, entry_price, profit_percentage, profit_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.Timestamp, rec.Symbol, rec.Exchange, rec.OrderID,
		rec.Size, rec.AvgPrice, rec.Reason, rec.Revenue,
		rec.EntryOrderID, rec.EntryPrice, rec.ProfitPercentage, rec.ProfitAmount,
	)
	if err != nil {
		return fmt.Errorf("insert exit order: %w", err)
	}
	return nil
}

// whereClause builds the filter SQL shared by both archive queries.
func whereClause(f executor.Filter, args *[]interface{}) string {
	var conds []string
	add := func(cond string, val interface{}) {
		*args = append(*args, val)
		conds = append(conds, fmt.Sprintf(cond, len(*args)))
	}
	if f.Symbol != "" {
		add("symbol = $%d", f.Symbol)
	}
	if f.Exchange != "" {
		add("exchange_id = $%d", f.Exchange)
	}
	if !f.Start.IsZero() {
		add("ts >= $%d", f.Start)
	}
	if !f.End.IsZero() {
		add("ts <= $%d", f.End)
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// Entries returns archived entry records, oldest first.
func (r *Repository) Entries(ctx context.Context, f executor.Filter) ([]executor.EntryRecord, error) {
	var args []interface{}
	query := `
		SELECT ts, symbol, exchange_id, order_id, size, avg_price, stage, is_iceberg, cost, sub_orders
		FROM entry_orders` + whereClause(f, &args) + ` ORDER BY ts ASC`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entry orders: %w", err)
	}
	defer rows.Close()

	var records []executor.EntryRecord
	for rows.Next() {
		var rec executor.EntryRecord
		var subOrders []byte
		if err := rows.Scan(&rec.Timestamp, &rec.Symbol, &rec.Exchange, &rec.OrderID,
			&rec.Size, &rec.AvgPrice, &rec.Stage, &rec.Iceberg, &rec.Cost, &subOrders); err != nil {
			return nil, fmt.Errorf("scan entry order: %w", err)
		}
		if len(subOrders) > 0 {
			if err := json.Unmarshal(subOrders, &rec.SubOrders); err != nil {
				return nil, fmt.Errorf("decode sub orders: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Exits returns archived exit records, oldest first.
func (r *Repository) Exits(ctx context.Context, f executor.Filter) ([]executor.ExitRecord, error) {
	var args []interface{}
	query := `
		SELECT ts, symbol, exchange_id, order_id, size, avg_price, reason, revenue,
			entry_order_id, entry_price, profit_percentage, profit_amount
		FROM exit_orders` + whereClause(f, &args) + ` ORDER BY ts ASC`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exit orders: %w", err)
	}
	defer rows.Close()

	var records []executor.ExitRecord
	for rows.Next() {
		var rec executor.ExitRecord
		if err := rows.Scan(&rec.Timestamp, &rec.Symbol, &rec.Exchange, &rec.OrderID,
			&rec.Size, &rec.AvgPrice, &rec.Reason, &rec.Revenue,
			&rec.EntryOrderID, &rec.EntryPrice, &rec.ProfitPercentage, &rec.ProfitAmount); err != nil {
			return nil, fmt.Errorf("scan exit order: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// History assembles the archived view with derived statistics, matching
// the journal-backed shape.
func (r *Repository) History(ctx context.Context, f executor.Filter) (*executor.TradingHistory, error) {
	entries, err := r.Entries(ctx, f)
	if err != nil {
		return nil, err
	}
	exits, err := r.Exits(ctx, f)
	if err != nil {
		return nil, err
	}
	return &executor.TradingHistory{
		EntryOrders: entries,
		ExitOrders:  exits,
		Stats:       executor.ComputeStats(entries, exits),
	}, nil
}
