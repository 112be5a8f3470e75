package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/newsthumb/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

// pool is the subset of *pgxpool.Pool the backend uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type postgresBackend struct {
	pool pool
	now  func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	keyword TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ NOT NULL,
	collected_at TIMESTAMPTZ NOT NULL,
	image_url TEXT NOT NULL DEFAULT '',
	image_kind TEXT NOT NULL DEFAULT '',
	image_updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_keyword ON articles(keyword);
CREATE INDEX IF NOT EXISTS idx_articles_collected_at ON articles(collected_at DESC);
`

const columns = `id, url, title, source, keyword, published_at, collected_at, image_url, image_kind, image_updated_at`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return newBackend(ctx, p)
}

func newBackend(ctx context.Context, p pool) (*postgresBackend, error) {
	if _, err := p.Exec(ctx, schema); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &postgresBackend{pool: p, now: time.Now}, nil
}

func (b *postgresBackend) Save(ctx context.Context, a *storage.Article) error {
	a.Prepare(b.now())

	query := `
	INSERT INTO articles (` + columns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (url) DO UPDATE SET
		title = EXCLUDED.title,
		source = EXCLUDED.source,
		keyword = EXCLUDED.keyword,
		published_at = EXCLUDED.published_at,
		image_url = CASE WHEN EXCLUDED.image_url <> '' THEN EXCLUDED.image_url ELSE articles.image_url END,
		image_kind = CASE WHEN EXCLUDED.image_url <> '' THEN EXCLUDED.image_kind ELSE articles.image_kind END,
		image_updated_at = CASE WHEN EXCLUDED.image_url <> '' THEN EXCLUDED.image_updated_at ELSE articles.image_updated_at END
	RETURNING id, collected_at, image_url, image_kind, image_updated_at
	`

	err := b.pool.QueryRow(ctx, query,
		a.ID,
		a.URL,
		a.Title,
		a.Source,
		a.Keyword,
		a.PublishedAt.UTC(),
		a.CollectedAt.UTC(),
		a.ImageURL,
		a.ImageKind,
		a.ImageUpdatedAt.UTC(),
	).Scan(&a.ID, &a.CollectedAt, &a.ImageURL, &a.ImageKind, &a.ImageUpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save %s: %w", a.URL, err)
	}
	return nil
}

func (b *postgresBackend) Update(ctx context.Context, a *storage.Article) error {
	query := `
	UPDATE articles SET
		url = $1, title = $2, source = $3, keyword = $4, published_at = $5,
		image_url = $6, image_kind = $7, image_updated_at = $8
	WHERE id = $9
	`

	tag, err := b.pool.Exec(ctx, query,
		a.URL,
		a.Title,
		a.Source,
		a.Keyword,
		a.PublishedAt.UTC(),
		a.ImageURL,
		a.ImageKind,
		a.ImageUpdatedAt.UTC(),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update %s: %w", a.ID, storage.ErrNotFound)
	}
	return nil
}

func (b *postgresBackend) Get(ctx context.Context, id string) (*storage.Article, error) {
	row := b.pool.QueryRow(ctx, `SELECT `+columns+` FROM articles WHERE id = $1`, id)
	a, err := scanArticle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", id, err)
	}
	return a, nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Article, error) {
	query := `SELECT ` + columns + ` FROM articles WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.URL != "" {
		query += fmt.Sprintf(` AND url = $%d`, paramCount)
		args = append(args, filter.URL)
		paramCount++
	}
	if filter.Keyword != "" {
		query += fmt.Sprintf(` AND keyword = $%d`, paramCount)
		args = append(args, filter.Keyword)
		paramCount++
	}
	if filter.NeedsImage {
		query += ` AND ` + storage.NeedsImageSQL
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND collected_at >= $%d`, paramCount)
		args = append(args, filter.Since.UTC())
		paramCount++
	}

	query += ` ORDER BY collected_at DESC, id ASC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var results []*storage.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: query: %w", err)
		}
		results = append(results, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func scanArticle(row pgx.Row) (*storage.Article, error) {
	var a storage.Article
	err := row.Scan(
		&a.ID, &a.URL, &a.Title, &a.Source, &a.Keyword, &a.PublishedAt,
		&a.CollectedAt, &a.ImageURL, &a.ImageKind, &a.ImageUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
