package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/wms-pda/internal/domain/order"
	"github.com/Spok95/wms-pda/internal/infra/idgen"
	"github.com/Spok95/wms-pda/internal/session"
)

// Repo is the append-only audit of confirmation attempts.
type Repo struct {
	pool     *pgxpool.Pool
	ids      *idgen.Generator
	terminal string
}

func NewRepo(pool *pgxpool.Pool, ids *idgen.Generator, terminalID string) *Repo {
	return &Repo{pool: pool, ids: ids, terminal: terminalID}
}

func (r *Repo) Record(ctx context.Context, a session.Attempt) error {
	// attempts built outside the journal have no id yet
	if a.ID == 0 {
		a.ID = r.ids.Next()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO confirm_attempts (id, terminal_id, order_id, order_no, kind, operator, outcome, message, rows, qty, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, a.ID, r.terminal, a.OrderID, a.OrderNo, string(a.Kind), a.Operator, string(a.Outcome), a.Message, a.Rows, a.Qty, a.At)
	if err != nil {
		return fmt.Errorf("insert attempt for %s: %w", a.OrderNo, err)
	}
	return nil
}

// ByOrder returns the latest attempts for an order number, newest first.
func (r *Repo) ByOrder(ctx context.Context, orderNo string, limit int) ([]session.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, order_no, kind, operator, outcome, message, rows, qty, created_at
		FROM confirm_attempts
		WHERE order_no = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, orderNo, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Attempt
	for rows.Next() {
		var a session.Attempt
		var kind, outcome string
		if err := rows.Scan(&a.ID, &a.OrderID, &a.OrderNo, &kind, &a.Operator, &outcome, &a.Message, &a.Rows, &a.Qty, &a.At); err != nil {
			return nil, err
		}
		a.Kind = order.Kind(kind)
		a.Outcome = session.Outcome(outcome)
		out = append(out, a)
	}
	return out, rows.Err()
}
