// Package core wires the survey catalog, field schema and respondent
// repositories into one service.
package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"surveycore/internal/addressing"
	"surveycore/internal/definitions"
	"surveycore/internal/entity"
	"surveycore/internal/observability"
	"surveycore/internal/respondents"
	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

// ErrNoRespondentFactory is returned when respondents are requested before
// a factory was installed.
var ErrNoRespondentFactory = errors.New("no respondent repository factory configured")

// Service owns the in-memory catalog of one survey product.
type Service struct {
	types     *entity.TypeRepository
	instances *entity.InstanceRepository
	sets      *entity.SetRepository
	subsets   *entity.MemorySubsetRepository
	configs   entity.SetConfigurationRepository
	fields    *schema.Manager
	setLoader *entity.SetConfigurationLoader
	expander  addressing.Expander

	logger      observability.Logger
	metrics     observability.MetricsRecorder
	tracer      observability.Tracer
	clock       Clock
	sourceOpts  []respondents.SourceOption
	factoryOpts []respondents.FactoryOption

	source atomic.Pointer[respondents.Source]

	mu        sync.Mutex
	appliedAt time.Time
}

// NewService constructs an empty service.
func NewService(opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.configs == nil {
		o.configs = entity.NewMemorySetConfigurationRepository()
	}
	s := &Service{
		types:       entity.NewTypeRepository(),
		instances:   entity.NewInstanceRepository(),
		sets:        entity.NewSetRepository(),
		subsets:     entity.NewMemorySubsetRepository(),
		configs:     o.configs,
		fields:      schema.NewManager(schema.WithLogger(o.logger)),
		expander:    addressing.NewExpander(o.maxProduct),
		logger:      o.logger,
		metrics:     o.metrics,
		tracer:      o.tracer,
		clock:       o.clock,
		sourceOpts:  o.sourceOpts,
		factoryOpts: o.factoryOpts,
	}
	s.setLoader = entity.NewSetConfigurationLoader(s.configs, s.sets, s.subsets, s.types, s.instances,
		entity.WithLoaderLogger(s.logger))
	return s
}

func (s *Service) EntityTypes() *entity.TypeRepository               { return s.types }
func (s *Service) Instances() *entity.InstanceRepository             { return s.instances }
func (s *Service) EntitySets() *entity.SetRepository                 { return s.sets }
func (s *Service) Subsets() *entity.MemorySubsetRepository           { return s.subsets }
func (s *Service) Fields() *schema.Manager                           { return s.fields }
func (s *Service) SetLoader() *entity.SetConfigurationLoader         { return s.setLoader }
func (s *Service) Expander() addressing.Expander                     { return s.expander }
func (s *Service) Configurations() entity.SetConfigurationRepository { return s.configs }

// run wraps an operation with a trace span, a metrics observation and a log
// line on failure.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	switch {
	case err == nil:
		s.logger.Debug("operation complete", "operation", op, "duration", time.Since(start))
	case domain.IsRecoverable(err):
		s.logger.Warn("operation failed", "operation", op, "kind", domain.KindRecoverable.String(), "error", err)
	default:
		s.logger.Error("operation failed", "operation", op, "kind", domain.KindOf(err).String(), "error", err)
	}
	return err
}

// Apply registers every definition in b: subsets, entity types and
// instances, field definitions, then entity set configurations. Instances
// of unregistered types are skipped with a warning.
func (s *Service) Apply(ctx context.Context, b *definitions.Bundle) error {
	return s.run(ctx, "core.apply", func(ctx context.Context) error {
		for _, subset := range b.Subsets {
			s.subsets.Put(subset)
		}
		for _, t := range b.EntityTypes {
			s.types.Add(t)
		}
		for _, group := range b.Instances {
			et, err := s.types.Get(group.EntityType)
			if err != nil {
				s.logger.Warn("skipping instances of unknown entity type", "entity_type", group.EntityType, "count", len(group.Instances))
				continue
			}
			for _, inst := range group.Instances {
				if err := s.instances.Add(et.Identifier, inst); err != nil {
					return err
				}
			}
		}
		defs, err := b.FieldDefinitions(s.types)
		if err != nil {
			return err
		}
		if err := s.fields.Load(defs...); err != nil {
			return err
		}
		for _, cfg := range b.EntitySets {
			if err := s.configs.Save(ctx, cfg); err != nil {
				return fmt.Errorf("save entity set configuration %d: %w", cfg.ID, err)
			}
		}
		if err := s.setLoader.AddOrUpdateAll(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.appliedAt = s.clock.Now()
		s.mu.Unlock()
		s.logger.Info("definitions applied",
			"subsets", len(b.Subsets),
			"entity_types", len(b.EntityTypes),
			"fields", s.fields.Len(),
			"entity_sets", s.sets.Len())
		return nil
	})
}

// LoadSubsets registers the subsets held by src.
func (s *Service) LoadSubsets(ctx context.Context, src domain.SubsetSource) error {
	return s.run(ctx, "core.load_subsets", func(ctx context.Context) error {
		subsets, err := src.Subsets(ctx)
		if err != nil {
			return err
		}
		for _, subset := range subsets {
			s.subsets.Put(subset)
		}
		return nil
	})
}

// DefaultTarget resolves the default entity set an organisation sees for
// a type in a subset into a data target.
func (s *Service) DefaultTarget(typeIdentifier, subsetID, organisation string) (addressing.DataTarget, error) {
	et, err := s.types.Get(typeIdentifier)
	if err != nil {
		return nil, err
	}
	set, err := s.sets.GetDefaultSetForOrganisation(et.Identifier, subsetID, organisation)
	if err != nil {
		return nil, err
	}
	return addressing.TargetInstances{Type: et, Instances: set.Instances}, nil
}

// ExpandTargets returns the Cartesian product of the targets' instances. A
// product over the configured cap is rejected and counted.
func (s *Service) ExpandTargets(ctx context.Context, targets []addressing.DataTarget) ([]addressing.EntityValueCombination, error) {
	var out []addressing.EntityValueCombination
	err := s.run(ctx, "core.expand_targets", func(ctx context.Context) error {
		var err error
		out, err = s.expander.GetEntityValueCombination(targets)
		if errors.Is(err, domain.ErrCartesianProductTooLarge) {
			size := requestedSize(targets)
			s.metrics.RecordCartesianRejection(ctx, size)
			s.logger.Warn("cartesian product rejected", "size", size, "max", s.expander.Max(), "targets", len(targets))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func requestedSize(targets []addressing.DataTarget) int {
	size := 1
	for _, t := range targets {
		n := len(t.SortedInstanceIDs())
		if n > 0 && size > math.MaxInt/n {
			return math.MaxInt
		}
		size *= n
	}
	return size
}

// ValidateCombination checks that every value of c is an instance known in
// the subset.
func (s *Service) ValidateCombination(c addressing.EntityValueCombination, subsetID string) error {
	return c.Validate(s.instances, subsetID)
}

// RespondentFactory builds the repository factory the definitions call for:
// metric based when weighting plans exist, fields only otherwise.
func (s *Service) RespondentFactory(b *definitions.Bundle, loader respondents.ResponseLoader) respondents.RepositoryFactory {
	opts := append([]respondents.FactoryOption{
		respondents.WithFactoryLogger(s.logger),
		respondents.WithFactoryMetrics(s.metrics),
	}, s.factoryOpts...)
	if b.Weighting != nil && len(b.Weighting.Plans) > 0 {
		provider := respondents.NewPlanWeightingProvider(s.fields, b.WeightingScheme())
		return respondents.NewMetricBasedRepositoryFactory(loader, provider, opts...)
	}
	mappers := respondents.QuotaMappers{}
	if b.Quota != nil {
		mappers = b.Quota.QuotaMappers()
		opts = append(opts, b.Quota.FactoryOptions()...)
	}
	return respondents.NewFieldsOnlyRepositoryFactory(s.fields, loader, mappers, opts...)
}

// UseRespondentFactory installs factory behind a fresh respondent source,
// discarding any repositories loaded through the previous one.
func (s *Service) UseRespondentFactory(factory respondents.RepositoryFactory) {
	opts := append([]respondents.SourceOption{
		respondents.WithSourceLogger(s.logger),
		respondents.WithSourceMetrics(s.metrics),
	}, s.sourceOpts...)
	s.source.Store(respondents.NewSource(s.subsets, factory, opts...))
}

// RespondentRepository returns the respondents of a subset, loading them on
// first use.
func (s *Service) RespondentRepository(ctx context.Context, subsetID string) (*respondents.Repository, error) {
	src := s.source.Load()
	if src == nil {
		return nil, domain.Fatal("core.RespondentRepository", ErrNoRespondentFactory)
	}
	var repo *respondents.Repository
	err := s.run(ctx, "core.respondent_repository", func(ctx context.Context) error {
		var err error
		repo, err = src.GetForSubset(ctx, subsetID)
		return err
	})
	return repo, err
}

// LoadRespondents loads every enabled subset.
func (s *Service) LoadRespondents(ctx context.Context) error {
	src := s.source.Load()
	if src == nil {
		return domain.Fatal("core.LoadRespondents", ErrNoRespondentFactory)
	}
	return s.run(ctx, "core.load_respondents", src.LoadAll)
}

// SubsetSummary describes one subset's loaded respondents.
type SubsetSummary struct {
	ID          string `json:"id"`
	Disabled    bool   `json:"disabled"`
	Loaded      bool   `json:"loaded"`
	Respondents int    `json:"respondents"`
	Excluded    int    `json:"excluded"`
	QuotaCells  int    `json:"quota_cells"`
	Unweighted  int    `json:"unweighted"`
}

// Summary counts the catalog's contents.
type Summary struct {
	AppliedAt   time.Time       `json:"applied_at"`
	EntityTypes int             `json:"entity_types"`
	Instances   int             `json:"instances"`
	EntitySets  int             `json:"entity_sets"`
	Fields      int             `json:"fields"`
	Subsets     []SubsetSummary `json:"subsets"`
}

// Summary reports catalog sizes and, for subsets already loaded, respondent
// counts. It never triggers a load.
func (s *Service) Summary() Summary {
	s.mu.Lock()
	applied := s.appliedAt
	s.mu.Unlock()

	out := Summary{
		AppliedAt:  applied,
		EntitySets: s.sets.Len(),
		Fields:     s.fields.Len(),
	}
	for _, t := range s.types.All() {
		if t.IsProfile {
			continue
		}
		out.EntityTypes++
		out.Instances += len(s.instances.GetInstancesAnySubset(t.Identifier))
	}
	loaded := make(map[string]bool)
	src := s.source.Load()
	if src != nil {
		for _, id := range src.Loaded() {
			loaded[domain.FoldIdentifier(id)] = true
		}
	}
	for _, subset := range s.subsets.All() {
		sum := SubsetSummary{ID: subset.ID, Disabled: subset.Disabled}
		if src != nil && loaded[domain.FoldIdentifier(subset.ID)] {
			if repo, err := src.GetForSubset(context.Background(), subset.ID); err == nil {
				sum.Loaded = true
				sum.Respondents = repo.Count()
				sum.Excluded = repo.Excluded()
				sum.QuotaCells = repo.WeightedCellsGroup().Len()
				sum.Unweighted = repo.UnWeightedCellsGroup().RespondentCount()
			}
		}
		out.Subsets = append(out.Subsets, sum)
	}
	sort.Slice(out.Subsets, func(i, j int) bool { return out.Subsets[i].ID < out.Subsets[j].ID })
	return out
}
