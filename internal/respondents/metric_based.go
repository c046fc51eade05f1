package respondents

import (
	"context"
	"time"

	"surveycore/internal/observability"
	"surveycore/internal/responses"
	"surveycore/pkg/domain"
)

// MetricBasedRepositoryFactory classifies respondents with the quota cell
// tree of a subset's weighting plans.
type MetricBasedRepositoryFactory struct {
	loader   ResponseLoader
	provider WeightingMeasureProvider
	logger   observability.Logger
	metrics  observability.MetricsRecorder
	rules    *domain.RulesEngine
}

// NewMetricBasedRepositoryFactory constructs a factory. Reference
// weighting options are ignored; the plans define the admissible cells.
func NewMetricBasedRepositoryFactory(loader ResponseLoader, provider WeightingMeasureProvider, opts ...FactoryOption) *MetricBasedRepositoryFactory {
	o := applyFactoryOptions(opts)
	return &MetricBasedRepositoryFactory{loader: loader, provider: provider, logger: o.logger, metrics: o.metrics, rules: o.engine()}
}

// CreateRespondentRepository loads and classifies every respondent of
// subset.
func (f *MetricBasedRepositoryFactory) CreateRespondentRepository(ctx context.Context, subset domain.Subset) (*Repository, error) {
	start := time.Now()
	repo, err := f.create(ctx, subset)
	f.metrics.Observe(ctx, "respondents.metric_based", err == nil, time.Since(start))
	return repo, err
}

func (f *MetricBasedRepositoryFactory) create(ctx context.Context, subset domain.Subset) (*Repository, error) {
	cells, err := f.provider.CreateQuotaCellFactory(ctx, subset)
	if err != nil {
		return nil, err
	}
	data, err := f.loader.GetResponses(ctx, subset, cells.Fields())
	if err != nil {
		return nil, err
	}
	repo := NewRepository(subset, subset.SignOffDate)
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
			cell = cells.GetQuotaCell(p)
		}
		if cell.IsUnweighted() {
			unweighted++
		}
		if err := repo.Add(p, cell); err != nil {
			return nil, err
		}
	}
	f.logger.Debug("classified respondents", "subset", subset.ID, "cells", len(cells.Cells()), "distinct_profiles", builder.interner.Distinct())
	reportLoad(ctx, f.logger, f.metrics, f.rules, repo, unweighted)
	return repo, nil
}

// QuotaCellAllocationReason explains why p is not in a weighted cell of
// subset.
func (f *MetricBasedRepositoryFactory) QuotaCellAllocationReason(ctx context.Context, subset domain.Subset, p *responses.ProfileResponseEntity) ([]AllocationReason, error) {
	cells, err := f.provider.CreateQuotaCellFactory(ctx, subset)
	if err != nil {
		return nil, err
	}
	return cells.QuotaCellAllocationReason(p), nil
}
