package respondents

import (
	"context"
	"strings"
	"time"

	"surveycore/internal/observability"
	"surveycore/internal/responses"
	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

// FieldsOnlyRepositoryFactory classifies respondents by running the ordered
// quota cell mappers of a subset over their quota field answers. A
// respondent no mapper chain can place, or whose cell has no reference
// weighting, goes to the unweighted cell.
type FieldsOnlyRepositoryFactory struct {
	fields     *schema.Manager
	loader     ResponseLoader
	quota      QuotaFieldProvider
	references map[string]ReferenceWeightings
	logger     observability.Logger
	metrics    observability.MetricsRecorder
	rules      *domain.RulesEngine
}

// FactoryOption configures the repository factories.
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	logger     observability.Logger
	metrics    observability.MetricsRecorder
	references map[string]ReferenceWeightings
	rules      []domain.LoadRule
}

// WithFactoryLogger sets the logger used for load outcomes.
func WithFactoryLogger(l observability.Logger) FactoryOption {
	return func(o *factoryOptions) { o.logger = l }
}

// WithFactoryMetrics sets the recorder receiving load statistics.
func WithFactoryMetrics(m observability.MetricsRecorder) FactoryOption {
	return func(o *factoryOptions) { o.metrics = m }
}

// WithReferenceWeightings admits the cells of subsetID known to refs. An
// empty subsetID registers refs for every subset without its own. Subsets
// without reference weightings keep every respondent unweighted.
func WithReferenceWeightings(subsetID string, refs ReferenceWeightings) FactoryOption {
	return func(o *factoryOptions) {
		if o.references == nil {
			o.references = make(map[string]ReferenceWeightings)
		}
		o.references[strings.ToLower(subsetID)] = refs
	}
}

// WithLoadRules adds rules evaluated after every load, after the built-in
// ones.
func WithLoadRules(rules ...domain.LoadRule) FactoryOption {
	return func(o *factoryOptions) { o.rules = append(o.rules, rules...) }
}

func (o factoryOptions) engine() *domain.RulesEngine {
	e := domain.DefaultRulesEngine()
	for _, r := range o.rules {
		e.Register(r)
	}
	return e
}

func applyFactoryOptions(opts []FactoryOption) factoryOptions {
	var o factoryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.logger = observability.OrNoop(o.logger)
	o.metrics = observability.MetricsOrNoop(o.metrics)
	return o
}

// NewFieldsOnlyRepositoryFactory constructs a factory reading answers via
// loader for the quota fields named by quota.
func NewFieldsOnlyRepositoryFactory(fields *schema.Manager, loader ResponseLoader, quota QuotaFieldProvider, opts ...FactoryOption) *FieldsOnlyRepositoryFactory {
	o := applyFactoryOptions(opts)
	return &FieldsOnlyRepositoryFactory{
		fields:     fields,
		loader:     loader,
		quota:      quota,
		references: o.references,
		logger:     o.logger,
		metrics:    o.metrics,
		rules:      o.engine(),
	}
}

func (f *FieldsOnlyRepositoryFactory) quotaFields(subsetID string) ([]QuotaCellMapper, []*schema.Descriptor, error) {
	mappers := f.quota.MappersForSubset(subsetID)
	names := quotaFields(mappers)
	fields := make([]*schema.Descriptor, 0, len(names))
	for _, name := range names {
		d, err := f.fields.Get(name)
		if err != nil {
			return nil, nil, err
		}
		fields = append(fields, d)
	}
	if err := checkQuotaFields(fields); err != nil {
		return nil, nil, err
	}
	return mappers, fields, nil
}

// referencesFor returns the reference weightings of subsetID, falling back
// to those registered for every subset.
func (f *FieldsOnlyRepositoryFactory) referencesFor(subsetID string) ReferenceWeightings {
	if refs, ok := f.references[strings.ToLower(subsetID)]; ok {
		return refs
	}
	return f.references[""]
}

// CreateRespondentRepository loads and classifies every respondent of
// subset.
func (f *FieldsOnlyRepositoryFactory) CreateRespondentRepository(ctx context.Context, subset domain.Subset) (*Repository, error) {
	start := time.Now()
	repo, err := f.create(ctx, subset)
	f.metrics.Observe(ctx, "respondents.fields_only", err == nil, time.Since(start))
	return repo, err
}

func (f *FieldsOnlyRepositoryFactory) create(ctx context.Context, subset domain.Subset) (*Repository, error) {
	mappers, fields, err := f.quotaFields(subset.ID)
	if err != nil {
		return nil, err
	}
	data, err := f.loader.GetResponses(ctx, subset, fields)
	if err != nil {
		return nil, err
	}
	repo := NewRepository(subset, subset.SignOffDate)
	classifier := newFieldsOnlyClassifier(subset.ID, mappers, fields, f.referencesFor(subset.ID))
	builder := newEntityBuilder(subset.ID)
	unweighted := 0
	for _, d := range data {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := builder.build(d)
		if err != nil {
			return nil, err
		}
		var cell *domain.QuotaCell
		if repo.WithinSignOff(p.Timestamp()) {
			cell = classifier.cellFor(p)
		}
		if cell.IsUnweighted() {
			unweighted++
		}
		if err := repo.Add(p, cell); err != nil {
			return nil, err
		}
	}
	f.logger.Debug("classified respondents", "subset", subset.ID, "cells", len(classifier.cells), "distinct_profiles", builder.interner.Distinct())
	reportLoad(ctx, f.logger, f.metrics, f.rules, repo, unweighted)
	return repo, nil
}

// QuotaCellAllocationReason explains which quota answer kept p out of a
// weighted cell. It returns nil when every mapper resolves.
func (f *FieldsOnlyRepositoryFactory) QuotaCellAllocationReason(subsetID string, p *responses.ProfileResponseEntity) ([]AllocationReason, error) {
	mappers, fields, err := f.quotaFields(subsetID)
	if err != nil {
		return nil, err
	}
	return newFieldsOnlyClassifier(subsetID, mappers, fields, nil).allocationReasons(p), nil
}

type fieldsOnlyClassifier struct {
	subsetID   string
	mappers    []QuotaCellMapper
	fields     map[string]*schema.Descriptor
	references ReferenceWeightings
	unweighted *domain.QuotaCell
	cells      map[string]*domain.QuotaCell
}

func newFieldsOnlyClassifier(subsetID string, mappers []QuotaCellMapper, fields []*schema.Descriptor, refs ReferenceWeightings) *fieldsOnlyClassifier {
	byName := make(map[string]*schema.Descriptor, len(fields))
	for _, d := range fields {
		byName[domain.FoldIdentifier(d.Name())] = d
	}
	return &fieldsOnlyClassifier{
		subsetID:   subsetID,
		mappers:    mappers,
		fields:     byName,
		references: refs,
		unweighted: domain.UnweightedQuotaCell(subsetID),
		cells:      make(map[string]*domain.QuotaCell),
	}
}

func (c *fieldsOnlyClassifier) value(p *responses.ProfileResponseEntity, field string) (int, bool) {
	d, ok := c.fields[domain.FoldIdentifier(field)]
	if !ok {
		return 0, false
	}
	return profileOrSingleValue(p, d)
}

func (c *fieldsOnlyClassifier) cellFor(p *responses.ProfileResponseEntity) *domain.QuotaCell {
	if len(c.mappers) == 0 {
		return c.unweighted
	}
	parts := make(map[string]string, len(c.mappers))
	for _, m := range c.mappers {
		v, ok := c.value(p, m.QuotaField())
		if !ok {
			return c.unweighted
		}
		key, ok := m.CellKey(v)
		if !ok {
			return c.unweighted
		}
		parts[m.QuotaField()] = key
	}
	candidate := domain.NewQuotaCell(0, 0, c.subsetID, parts, nil)
	if existing, ok := c.cells[candidate.Key()]; ok {
		return existing
	}
	if c.references == nil || !c.references.HasReferenceWeightingFor(candidate) {
		return c.unweighted
	}
	// Index 0 belongs to the unweighted cell.
	candidate.ID = len(c.cells)
	candidate.Index = len(c.cells) + 1
	c.cells[candidate.Key()] = candidate
	return candidate
}

func (c *fieldsOnlyClassifier) allocationReasons(p *responses.ProfileResponseEntity) []AllocationReason {
	var reasons []AllocationReason
	for _, m := range c.mappers {
		v, ok := c.value(p, m.QuotaField())
		if !ok {
			reasons = append(reasons, AllocationReason{Field: m.QuotaField(), Message: "failed to get value"})
			continue
		}
		if _, ok := m.CellKey(v); !ok {
			value := v
			reasons = append(reasons, AllocationReason{Field: m.QuotaField(), Value: &value, Message: "failed to find a quota cell key"})
		}
	}
	return reasons
}
