package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rss-mail-digest/internal/domain"
	"rss-mail-digest/internal/infra/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS feed_cursors (
	feed_url   TEXT PRIMARY KEY,
	watermark  TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres хранит курсор лент в таблице feed_cursors.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.CursorStore = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
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

// EnsureSchema создаёт таблицу курсора, если её нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "feed_cursors", start, err)
	if err != nil {
		return fmt.Errorf("создание таблицы курсора: %w", err)
	}
	return nil
}

// Load читает все водяные знаки. existed истинно, если таблица не пуста.
func (p *Postgres) Load(ctx context.Context) (domain.Cursor, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT feed_url, watermark FROM feed_cursors`)
	metrics.ObserveNetworkRequest("postgres", "cursor_load", "feed_cursors", start, err)
	if err != nil {
		return domain.Cursor{}, true, fmt.Errorf("чтение курсора: %w", err)
	}
	defer rows.Close()

	cur := domain.Cursor{}
	for rows.Next() {
		var (
			url string
			ts  time.Time
		)
		if err := rows.Scan(&url, &ts); err != nil {
			return domain.Cursor{}, true, fmt.Errorf("разбор курсора: %w", err)
		}
		cur[url] = ts.UTC()
	}
	if err := rows.Err(); err != nil {
		return domain.Cursor{}, true, fmt.Errorf("чтение курсора: %w", err)
	}
	return cur, len(cur) > 0, nil
}

// Exists сообщает, сохранялся ли курсор раньше.
func (p *Postgres) Exists(ctx context.Context) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM feed_cursors)`).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "cursor_exists", "feed_cursors", start, err)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Persist записывает все водяные знаки одной транзакцией.
func (p *Postgres) Persist(ctx context.Context, cur domain.Cursor) error {
	if len(cur) == 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "feed_cursors", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for url, ts := range cur {
		batch.Queue(`
INSERT INTO feed_cursors (feed_url, watermark, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (feed_url) DO UPDATE SET watermark = EXCLUDED.watermark, updated_at = now()
`, url, ts.UTC())
	}
	start = time.Now()
	br := tx.SendBatch(ctx, batch)
	for range cur {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			metrics.ObserveNetworkRequest("postgres", "cursor_upsert", "feed_cursors", start, err)
			return fmt.Errorf("запись курсора: %w", err)
		}
	}
	err = br.Close()
	metrics.ObserveNetworkRequest("postgres", "cursor_upsert", "feed_cursors", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "feed_cursors", start, err)
	return err
}
