package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/FranksOps/newsthumb/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

// jsonBackend appends one JSON object per Save or Update; reopening the
// file replays it so the last line for an ID wins.
type jsonBackend struct {
	mu    sync.Mutex
	file  *os.File
	index *storage.Index
	now   func() time.Time
}

// New creates a new NDJSON-backed storage.Backend.
func New(filePath string) (storage.Backend, error) {
	// Open file for appending, create if it doesn't exist
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("json: open %s: %w", filePath, err)
	}

	b := &jsonBackend{file: f, index: storage.NewIndex(), now: time.Now}
	if err := b.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

func (b *jsonBackend) replay() error {
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("json: replay: %w", err)
	}

	scanner := bufio.NewScanner(b.file)
	// Synthetic thumbnails are inlined as data URIs.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var a storage.Article
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("json: replay line %d: %w", line, err)
		}
		if a.ID == "" {
			continue
		}
		b.index.Replay(&a)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("json: replay: %w", err)
	}
	return nil
}

func (b *jsonBackend) Save(ctx context.Context, a *storage.Article) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	a.Prepare(b.now())
	rec := b.index.Upsert(a)
	if err := b.append(rec); err != nil {
		return err
	}
	*a = *rec
	return nil
}

func (b *jsonBackend) Update(ctx context.Context, a *storage.Article) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, err := b.index.Replace(a)
	if err != nil {
		return fmt.Errorf("json: update %s: %w", a.ID, err)
	}
	return b.append(rec)
}

func (b *jsonBackend) Get(ctx context.Context, id string) (*storage.Article, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.index.Get(id)
	if !ok {
		return nil, fmt.Errorf("json: get %s: %w", id, storage.ErrNotFound)
	}
	return a, nil
}

func (b *jsonBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Article, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return filter.Apply(b.index.All()), nil
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

func (b *jsonBackend) append(a *storage.Article) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("json: encode %s: %w", a.ID, err)
	}

	if _, err := b.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("json: write: %w", err)
	}
	return nil
}
