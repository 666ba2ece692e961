package dialog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo stores terminal state in terminal_state, one row per terminal.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Get(ctx context.Context, terminalID string) (*Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT state, payload FROM terminal_state WHERE terminal_id = $1`, terminalID)
	var state string
	var raw []byte
	if err := row.Scan(&state, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// never seen: start idle
			return &Item{TerminalID: terminalID, State: StateIdle, Payload: Payload{}}, nil
		}
		return nil, err
	}
	p := Payload{}
	_ = json.Unmarshal(raw, &p) // a broken payload restores as empty
	return &Item{TerminalID: terminalID, State: State(state), Payload: p}, nil
}

func (r *Repo) Set(ctx context.Context, terminalID string, state State, payload Payload) error {
	if payload == nil {
		payload = Payload{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	// upsert
	_, err = r.pool.Exec(ctx, `
		INSERT INTO terminal_state (terminal_id, state, payload, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (terminal_id) DO UPDATE SET
		  state=$2, payload=$3, updated_at=now()
	`, terminalID, string(state), raw)
	return err
}

func (r *Repo) Reset(ctx context.Context, terminalID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM terminal_state WHERE terminal_id = $1`, terminalID)
	return err
}

// GetString reads a string value from payload.
func GetString(p Payload, key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
