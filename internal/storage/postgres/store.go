// Package postgres is the durable storage backend. Repositories share one
// pool and join the transaction carried by the context when there is one.
package postgres

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a traced connection pool and verifies it with a ping.
func NewPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// Store bundles every repository behind the interfaces the services use.
type Store struct {
	*TicketTypeRepository
	*ReservationRepository
	*PurchaseRepository
	*OutboxRepository

	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool, eventTopic string) *Store {
	db := conn{pool: pool}
	return &Store{
		TicketTypeRepository:  NewTicketTypeRepository(db),
		ReservationRepository: NewReservationRepository(db),
		PurchaseRepository:    NewPurchaseRepository(db),
		OutboxRepository:      NewOutboxRepository(db, eventTopic),
		pool:                  pool,
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.pool, fn)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
