package respondents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"surveycore/internal/observability"
	"surveycore/pkg/domain"
)

// QuotaCellCache receives the respondent to quota cell assignment of each
// completed load.
type QuotaCellCache interface {
	StoreQuotaCells(ctx context.Context, subsetID, loadID string, cells map[int]int) error
}

// Source creates respondent repositories on first use, one per subset.
// Concurrent requests for the same subset share a single load.
type Source struct {
	subsets domain.SubsetRepository
	factory RepositoryFactory
	cache   QuotaCellCache
	logger  observability.Logger
	metrics observability.MetricsRecorder
	newID   func() string

	group singleflight.Group
	mu    sync.RWMutex
	repos map[string]*Repository
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithSourceLogger sets the source logger.
func WithSourceLogger(l observability.Logger) SourceOption {
	return func(s *Source) { s.logger = observability.OrNoop(l) }
}

// WithSourceMetrics sets the recorder observing repository loads.
func WithSourceMetrics(m observability.MetricsRecorder) SourceOption {
	return func(s *Source) { s.metrics = observability.MetricsOrNoop(m) }
}

// WithQuotaCellCache stores every loaded repository's cell assignment in
// cache.
func WithQuotaCellCache(cache QuotaCellCache) SourceOption {
	return func(s *Source) { s.cache = cache }
}

// WithLoadIDGenerator overrides the load correlation id generator.
func WithLoadIDGenerator(fn func() string) SourceOption {
	return func(s *Source) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewSource constructs a Source building repositories with factory.
func NewSource(subsets domain.SubsetRepository, factory RepositoryFactory, opts ...SourceOption) *Source {
	s := &Source{
		subsets: subsets,
		factory: factory,
		logger:  observability.NoopLogger(),
		metrics: observability.NoopMetrics(),
		newID:   uuid.NewString,
		repos:   make(map[string]*Repository),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// GetForSubset returns the repository of subsetID, loading it on first
// use. A disabled subset yields an empty repository. Cancelling ctx stops
// the wait but not a load other callers share.
func (s *Source) GetForSubset(ctx context.Context, subsetID string) (*Repository, error) {
	key := strings.ToLower(subsetID)
	s.mu.RLock()
	repo, ok := s.repos[key]
	s.mu.RUnlock()
	if ok {
		return repo, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		s.mu.RLock()
		repo, ok := s.repos[key]
		s.mu.RUnlock()
		if ok {
			return repo, nil
		}
		repo, err := s.load(loadCtx, subsetID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.repos[key] = repo
		s.mu.Unlock()
		return repo, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Repository), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Source) load(ctx context.Context, subsetID string) (*Repository, error) {
	subset, ok := s.subsets.TryGet(subsetID)
	if !ok {
		return nil, domain.Recoverable("respondents.GetForSubset", fmt.Errorf("%w: %s", domain.ErrUnknownSubset, subsetID))
	}
	loadID := s.newID()
	logger := observability.With(s.logger, "subset", subset.ID, "load_id", loadID)
	if subset.Disabled {
		logger.Warn("subset is disabled, no respondents loaded")
		return NewRepository(subset, subset.SignOffDate), nil
	}
	start := time.Now()
	repo, err := s.factory.CreateRespondentRepository(ctx, subset)
	s.metrics.Observe(ctx, "respondents.load", err == nil, time.Since(start))
	if err != nil {
		logger.Error("respondent load failed", "error", err)
		return nil, err
	}
	logger.Info("respondent repository ready", "respondents", repo.Count(), "duration", time.Since(start))
	if s.cache != nil {
		if err := s.cache.StoreQuotaCells(ctx, subset.ID, loadID, CellAssignments(repo)); err != nil {
			logger.Warn("quota cell cache write failed", "error", err)
		}
	}
	return repo, nil
}

// LoadAll loads every enabled subset concurrently.
func (s *Source) LoadAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, subset := range s.subsets.All() {
		if subset.Disabled {
			continue
		}
		id := subset.ID
		g.Go(func() error {
			_, err := s.GetForSubset(ctx, id)
			return err
		})
	}
	return g.Wait()
}

// Invalidate drops the cached repository of subsetID so the next request
// reloads it.
func (s *Source) Invalidate(subsetID string) {
	s.mu.Lock()
	delete(s.repos, strings.ToLower(subsetID))
	s.mu.Unlock()
}

// Loaded returns the ids of subsets with a cached repository.
func (s *Source) Loaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.repos))
	for _, r := range s.repos {
		out = append(out, r.Subset().ID)
	}
	return out
}

// CellAssignments maps each respondent id to its quota cell id.
func CellAssignments(repo *Repository) map[int]int {
	all := repo.All()
	out := make(map[int]int, len(all))
	for _, cr := range all {
		out[cr.Respondent.ID()] = cr.Cell.ID
	}
	return out
}
