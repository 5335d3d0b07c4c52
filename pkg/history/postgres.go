package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRecorder stores shipments in the shipment_history table.
type PostgresRecorder struct {
	db     Querier
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresRecorder wraps a migrated pool.
func NewPostgresRecorder(pool *pgxpool.Pool, logger logging.Logger) *PostgresRecorder {
	r := NewPostgresRecorderWithQuerier(pool, logger)
	r.pool = pool
	return r
}

// NewPostgresRecorderWithQuerier wraps any Querier, such as a transaction.
func NewPostgresRecorderWithQuerier(q Querier, logger logging.Logger) *PostgresRecorder {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &PostgresRecorder{
		db:     q,
		logger: logger.With(logging.F("component", "history.postgres")),
	}
}

// Pool returns the underlying pool, or nil when built from a Querier.
func (r *PostgresRecorder) Pool() *pgxpool.Pool {
	return r.pool
}

const upsertShipment = `
	INSERT INTO shipment_history
		(id, order_id, row_id, status, hs_code, destination, total_value, currency, document_handle, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		document_handle = EXCLUDED.document_handle,
		payload = EXCLUDED.payload`

func (r *PostgresRecorder) Record(ctx context.Context, s shipment.FinalizedShipment) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal shipment: %w", err)
	}

	_, err = r.db.Exec(ctx, upsertShipment,
		s.ID, s.OrderID, s.RowID, string(s.Status), s.Item.HSCode, s.Consignee.Country,
		s.TotalValue(), s.Currency, s.DocumentHandle, payload, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert shipment %s: %w", s.ID, err)
	}
	return nil
}

func (r *PostgresRecorder) List(ctx context.Context, limit int) ([]shipment.FinalizedShipment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.Query(ctx,
		`SELECT payload FROM shipment_history ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]shipment.FinalizedShipment, 0, limit)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		var s shipment.FinalizedShipment
		if err := json.Unmarshal(payload, &s); err != nil {
			r.logger.Warn("Skipping unreadable history row", logging.Err(err))
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRecorder) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}
