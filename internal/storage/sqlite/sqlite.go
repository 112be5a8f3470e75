package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/newsthumb/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// Times are stored as fixed-width UTC text so that string comparison in
// WHERE clauses is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	keyword TEXT NOT NULL DEFAULT '',
	published_at TEXT NOT NULL,
	collected_at TEXT NOT NULL,
	image_url TEXT NOT NULL DEFAULT '',
	image_kind TEXT NOT NULL DEFAULT '',
	image_updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_keyword ON articles(keyword);
CREATE INDEX IF NOT EXISTS idx_articles_collected_at ON articles(collected_at);
`

const columns = `id, url, title, source, keyword, published_at, collected_at, image_url, image_kind, image_updated_at`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &sqliteBackend{db: db, now: time.Now}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, a *storage.Article) error {
	a.Prepare(b.now())

	query := `
	INSERT INTO articles (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		title = excluded.title,
		source = excluded.source,
		keyword = excluded.keyword,
		published_at = excluded.published_at,
		image_url = CASE WHEN excluded.image_url <> '' THEN excluded.image_url ELSE articles.image_url END,
		image_kind = CASE WHEN excluded.image_url <> '' THEN excluded.image_kind ELSE articles.image_kind END,
		image_updated_at = CASE WHEN excluded.image_url <> '' THEN excluded.image_updated_at ELSE articles.image_updated_at END
	RETURNING id, collected_at, image_url, image_kind, image_updated_at
	`

	var collectedAt, imageUpdatedAt string
	err := b.db.QueryRowContext(ctx, query,
		a.ID,
		a.URL,
		a.Title,
		a.Source,
		a.Keyword,
		formatTime(a.PublishedAt),
		formatTime(a.CollectedAt),
		a.ImageURL,
		a.ImageKind,
		formatTime(a.ImageUpdatedAt),
	).Scan(&a.ID, &collectedAt, &a.ImageURL, &a.ImageKind, &imageUpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save %s: %w", a.URL, err)
	}

	a.CollectedAt = parseTime(collectedAt)
	a.ImageUpdatedAt = parseTime(imageUpdatedAt)
	return nil
}

func (b *sqliteBackend) Update(ctx context.Context, a *storage.Article) error {
	query := `
	UPDATE articles SET
		url = ?, title = ?, source = ?, keyword = ?, published_at = ?,
		image_url = ?, image_kind = ?, image_updated_at = ?
	WHERE id = ?
	`

	res, err := b.db.ExecContext(ctx, query,
		a.URL,
		a.Title,
		a.Source,
		a.Keyword,
		formatTime(a.PublishedAt),
		a.ImageURL,
		a.ImageKind,
		formatTime(a.ImageUpdatedAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update %s: %w", a.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update %s: %w", a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: update %s: %w", a.ID, storage.ErrNotFound)
	}
	return nil
}

func (b *sqliteBackend) Get(ctx context.Context, id string) (*storage.Article, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+columns+` FROM articles WHERE id = ?`, id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: get %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s: %w", id, err)
	}
	return a, nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Article, error) {
	query := `SELECT ` + columns + ` FROM articles WHERE 1=1`
	args := []any{}

	if filter.URL != "" {
		query += ` AND url = ?`
		args = append(args, filter.URL)
	}
	if filter.Keyword != "" {
		query += ` AND keyword = ?`
		args = append(args, filter.Keyword)
	}
	if filter.NeedsImage {
		query += ` AND ` + storage.NeedsImageSQL
	}
	if filter.Since != nil {
		query += ` AND collected_at >= ?`
		args = append(args, formatTime(*filter.Since))
	}

	query += ` ORDER BY collected_at DESC, id ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var results []*storage.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: query: %w", err)
		}
		results = append(results, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(s scanner) (*storage.Article, error) {
	var a storage.Article
	var publishedAt, collectedAt, imageUpdatedAt string
	err := s.Scan(
		&a.ID, &a.URL, &a.Title, &a.Source, &a.Keyword, &publishedAt,
		&collectedAt, &a.ImageURL, &a.ImageKind, &imageUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.PublishedAt = parseTime(publishedAt)
	a.CollectedAt = parseTime(collectedAt)
	a.ImageUpdatedAt = parseTime(imageUpdatedAt)
	return &a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil || t.Year() <= 1 {
		return time.Time{}
	}
	return t
}
