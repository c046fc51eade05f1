// Package memory implements an in-memory document store for tests and
// ephemeral catalogs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"surveycore/internal/blob/core"
)

type document struct {
	info core.Info
	data []byte
}

// Store implements core.Store in process memory.
type Store struct {
	mu   sync.RWMutex
	docs map[string]document
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{docs: make(map[string]document), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores a copy of r's content under key.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	ct := opts.ContentType
	if ct == "" {
		ct = core.ContentTypeFor(k)
	}
	info := core.Info{Key: k, Size: int64(len(b)), ContentType: ct, ETag: core.ETag(b), LastModified: s.now()}
	s.mu.Lock()
	s.docs[k] = document{info: info, data: b}
	s.mu.Unlock()
	return info, nil
}

func (s *Store) lookup(key string) (document, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return document{}, err
	}
	s.mu.RLock()
	doc, ok := s.docs[k]
	s.mu.RUnlock()
	if !ok {
		return document{}, fmt.Errorf("%w: %s", core.ErrNotFound, k)
	}
	return doc, nil
}

// Get returns the document's metadata and a reader over a copy of it.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	doc, err := s.lookup(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return doc.info, io.NopCloser(bytes.NewReader(bytes.Clone(doc.data))), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	doc, err := s.lookup(key)
	return doc.info, err
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	k, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[k]
	delete(s.docs, k)
	return ok, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	out := make([]core.Info, 0, len(s.docs))
	for k, doc := range s.docs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, doc.info)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
