package csvbackend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/FranksOps/newsthumb/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

// csvBackend is an append-only log: every Save or Update appends the full
// record and the last row for an ID wins when the file is reopened.
type csvBackend struct {
	mu    sync.Mutex
	file  *os.File
	index *storage.Index
	now   func() time.Time
}

// headers defines the CSV column order
var headers = []string{
	"id",
	"url",
	"title",
	"source",
	"keyword",
	"published_at",
	"collected_at",
	"image_url",
	"image_kind",
	"image_updated_at",
}

// New creates a new CSV-backed storage.Backend, replaying any existing rows.
func New(filePath string) (storage.Backend, error) {
	// Open file for appending, create if it doesn't exist
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", filePath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csv: stat %s: %w", filePath, err)
	}

	b := &csvBackend{file: f, index: storage.NewIndex(), now: time.Now}

	if info.Size() == 0 {
		if err := b.append(headers); err != nil {
			f.Close()
			return nil, err
		}
		return b, nil
	}

	if err := b.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

func (b *csvBackend) replay() error {
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("csv: replay: %w", err)
	}

	r := csv.NewReader(b.file)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("csv: replay: %w", err)
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("csv: replay: %w", err)
		}
		if len(record) != len(headers) || record[0] == "" {
			continue // skip malformed rows
		}
		b.index.Replay(fromRecord(record))
	}
	return nil
}

func (b *csvBackend) Save(ctx context.Context, a *storage.Article) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	a.Prepare(b.now())
	rec := b.index.Upsert(a)
	if err := b.append(toRecord(rec)); err != nil {
		return err
	}
	*a = *rec
	return nil
}

func (b *csvBackend) Update(ctx context.Context, a *storage.Article) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.index.Replace(a)
	if err != nil {
		return fmt.Errorf("csv: update %s: %w", a.ID, err)
	}
	return b.append(toRecord(rec))
}

func (b *csvBackend) Get(ctx context.Context, id string) (*storage.Article, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.index.Get(id)
	if !ok {
		return nil, fmt.Errorf("csv: get %s: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Article, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return filter.Apply(b.index.All()), nil
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

func (b *csvBackend) append(record []string) error {
	w := csv.NewWriter(b.file)
	if err := w.Write(record); err != nil {
		return fmt.Errorf("csv: write: %w", err)
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("csv: write: %w", err)
	}
	return nil
}

func toRecord(a *storage.Article) []string {
	return []string{
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
	}
}

func fromRecord(record []string) *storage.Article {
	return &storage.Article{
		ID:             record[0],
		URL:            record[1],
		Title:          record[2],
		Source:         record[3],
		Keyword:        record[4],
		PublishedAt:    parseTime(record[5]),
		CollectedAt:    parseTime(record[6]),
		ImageURL:       record[7],
		ImageKind:      record[8],
		ImageUpdatedAt: parseTime(record[9]),
	}
}

// Zero times are written as empty cells.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
