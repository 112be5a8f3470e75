package storage

import (
	"errors"
	"fmt"
)

// ErrConflict is returned by file backends when an update would give an
// article a URL already owned by another article.
var ErrConflict = errors.New("storage: url already stored")

// Index is the current state of an append-only article log: replaying
// every record in order leaves the last write for each ID. It is not safe
// for concurrent use.
type Index struct {
	byID  map[string]*Article
	byURL map[string]string
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{byID: make(map[string]*Article), byURL: make(map[string]string)}
}

// Replay applies one logged record.
func (ix *Index) Replay(a *Article) {
	if old, ok := ix.byID[a.ID]; ok && old.URL != a.URL {
		delete(ix.byURL, old.URL)
	}
	rec := *a
	ix.byID[a.ID] = &rec
	ix.byURL[a.URL] = a.ID
}

// Upsert merges a into the article with the same URL, if any, and returns
// the record to append. a must already be prepared.
func (ix *Index) Upsert(a *Article) *Article {
	rec := a
	if id, ok := ix.byURL[a.URL]; ok {
		rec = Merge(ix.byID[id], a)
	}
	ix.Replay(rec)
	out := *rec
	return &out
}

// Replace rewrites the article with a.ID and returns the record to append.
func (ix *Index) Replace(a *Article) (*Article, error) {
	stored, ok := ix.byID[a.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if owner, ok := ix.byURL[a.URL]; ok && owner != a.ID {
		return nil, fmt.Errorf("%w: %s", ErrConflict, a.URL)
	}
	rec := *a
	rec.CollectedAt = stored.CollectedAt
	ix.Replay(&rec)
	return &rec, nil
}

// Get returns a copy of the article with id.
func (ix *Index) Get(id string) (*Article, bool) {
	a, ok := ix.byID[id]
	if !ok {
		return nil, false
	}
	out := *a
	return &out, true
}

// All returns copies of every current article.
func (ix *Index) All() []*Article {
	out := make([]*Article, 0, len(ix.byID))
	for _, a := range ix.byID {
		c := *a
		out = append(out, &c)
	}
	return out
}

// Len reports the number of current articles.
func (ix *Index) Len() int {
	return len(ix.byID)
}
