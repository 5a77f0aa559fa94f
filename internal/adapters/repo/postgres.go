package repo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
	"remont-lead-bot/internal/infra/retry"
)

// Postgres реализует domain.Store на основе pgxpool.
type Postgres struct {
	pool  *pgxpool.Pool
	retry retry.Policy
}

var _ domain.Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД. Временные ошибки соединения повторяются до трёх раз.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool: pool,
		retry: retry.Policy{
			MaxAttempts: 3,
			Base:        100 * time.Millisecond,
			Max:         time.Second,
			Jitter:      0.2,
			Retryable:   isTransientPG,
		},
	}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// isTransientPG отличает сбои соединения и конфликты сериализации от логических ошибок.
func isTransientPG(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01", pgErr.Code == "53300":
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// do выполняет операцию с метриками и повторами; исчерпанные повторы превращаются в ErrStoreUnavailable.
func (p *Postgres) do(ctx context.Context, op, table string, fn func(ctx context.Context) error) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		err := fn(ctx)
		var observed error
		if err != nil && isTransientPG(err) {
			observed = err
		}
		metrics.ObserveNetworkRequest("postgres", op, table, start, observed)
		return err
	})
	if err != nil && (isTransientPG(err) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	}
	return err
}

func (p *Postgres) tx(ctx context.Context, op, table string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return p.do(ctx, op, table, func(ctx context.Context) error {
		return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
	})
}

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func foreignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func flag(b bool) int16 {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Ping реализует domain.Store.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.do(ctx, "ping", "postgres", func(ctx context.Context) error {
		return p.pool.Ping(ctx)
	})
}

// Close закрывает пул.
func (p *Postgres) Close() {
	p.pool.Close()
}
