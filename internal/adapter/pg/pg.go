package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/order-execution-engine/internal/domain"
	"github.com/olyamironova/order-execution-engine/internal/port"
	"github.com/shopspring/decimal"
)

var _ port.OrderStore = (*PgStore)(nil)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type PgStore struct {
	db DB
}

// call Close when finish to work with database.
func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	return &PgStore{db: pool}, nil
}

func NewPgStoreWithDB(db DB) *PgStore {
	return &PgStore{db: db}
}

func (p *PgStore) Close() {
	if p.db != nil {
		p.db.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
  id             TEXT PRIMARY KEY,
  token_in       TEXT NOT NULL,
  token_out      TEXT NOT NULL,
  amount         NUMERIC NOT NULL CHECK (amount > 0),
  status         TEXT NOT NULL,
  venue          TEXT,
  tx_hash        TEXT,
  executed_price DOUBLE PRECISION,
  error          TEXT,
  attempts       INTEGER NOT NULL DEFAULT 0,
  created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// InitSchema creates the orders table when it does not exist yet.
func (p *PgStore) InitSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: init schema: %w", err)
	}
	return nil
}

func (p *PgStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	_, err := p.db.Exec(ctx, `
INSERT INTO orders(id, token_in, token_out, amount, status, created_at, updated_at)
VALUES($1,$2,$3,$4::numeric,$5,$6,$7)
`, o.ID, o.TokenIn, o.TokenOut, o.Amount.String(), string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("pg: create order %s: %w", o.ID, domain.ErrDuplicateOrder)
		}
		return fmt.Errorf("pg: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderStatus writes status plus any non-zero optional columns. Terminal
// rows only accept a repeat of their own status, and an unknown id updates nothing.
func (p *PgStore) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, u domain.OrderUpdate) error {
	_, err := p.db.Exec(ctx, `
UPDATE orders SET
  status = $2,
  venue = COALESCE(NULLIF($3::text, ''), venue),
  tx_hash = COALESCE(NULLIF($4::text, ''), tx_hash),
  executed_price = COALESCE(NULLIF($5::double precision, 0), executed_price),
  error = COALESCE(NULLIF($6::text, ''), error),
  attempts = GREATEST(attempts, $7),
  updated_at = NOW()
WHERE id = $1 AND (status = $2 OR status NOT IN ('confirmed', 'failed'))
`, id, string(status), string(u.Venue), u.TxHash, u.ExecutedPrice, u.Error, u.Attempts)
	if err != nil {
		return fmt.Errorf("pg: update order %s to %s: %w", id, status, err)
	}
	return nil
}

func (p *PgStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var (
		o             domain.Order
		amount        string
		status, venue string
	)
	err := p.db.QueryRow(ctx, `
SELECT id, token_in, token_out, amount::text, status, COALESCE(venue, ''), COALESCE(tx_hash, ''),
       COALESCE(executed_price, 0), COALESCE(error, ''), attempts, created_at, updated_at
FROM orders
WHERE id = $1
`, id).Scan(&o.ID, &o.TokenIn, &o.TokenOut, &amount, &status, &venue, &o.TxHash,
		&o.ExecutedPrice, &o.Error, &o.Attempts, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get order %s: %w", id, err)
	}
	o.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("pg: get order %s: parse amount: %w", id, err)
	}
	o.Status = domain.OrderStatus(status)
	o.Venue = domain.Venue(venue)
	return &o, nil
}

func (p *PgStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := p.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("pg: health check: %w", err)
	}
	return nil
}
