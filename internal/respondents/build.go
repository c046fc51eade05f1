package respondents

import (
	"context"
	"fmt"

	"surveycore/internal/addressing"
	"surveycore/internal/observability"
	"surveycore/internal/responses"
	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

// RepositoryFactory builds the respondent repository of a subset.
type RepositoryFactory interface {
	CreateRespondentRepository(ctx context.Context, subset domain.Subset) (*Repository, error)
}

type entityBuilder struct {
	subsetID string
	interner *responses.Interner
}

func newEntityBuilder(subsetID string) *entityBuilder {
	return &entityBuilder{subsetID: subsetID, interner: responses.NewInterner()}
}

// build creates a respondent from its raw answers. Profile answers are
// interned so respondents with identical profiles share one value map.
func (b *entityBuilder) build(data ResponseFieldData) (*responses.ProfileResponseEntity, error) {
	p := responses.NewProfileResponseEntity(data.ResponseID, data.Timestamp, data.SurveyID)
	var profile map[*schema.Descriptor]int
	for field, value := range data.FieldValues {
		switch field.Dimensions() {
		case 0:
			if profile == nil {
				profile = make(map[*schema.Descriptor]int, len(data.FieldValues))
			}
			profile[field] = value
		case 1:
			if err := p.AddFieldValue(field, addressing.FromIDsOrderedByEntityType(value), value, b.subsetID); err != nil {
				return nil, err
			}
		default:
			return nil, domain.Fatal("respondents.build", fmt.Errorf("%w: %s", domain.ErrMultiEntityQuotaField, field.Name()))
		}
	}
	if profile != nil {
		p.SetProfileValues(b.interner.Intern(responses.NewNumericResponseFieldValues(profile)))
	}
	return p, nil
}

func checkQuotaFields(fields []*schema.Descriptor) error {
	for _, f := range fields {
		if f.Dimensions() > 1 {
			return domain.Fatal("respondents.quotaFields", fmt.Errorf("%w: %s", domain.ErrMultiEntityQuotaField, f.Name()))
		}
	}
	return nil
}

// reportLoad records load statistics and attaches the issues raised by
// rules to repo.
func reportLoad(ctx context.Context, logger observability.Logger, metrics observability.MetricsRecorder, rules *domain.RulesEngine, repo *Repository, unweighted int) {
	subsetID := repo.Subset().ID
	loaded := repo.Count()
	metrics.RecordRespondentLoad(ctx, subsetID, loaded, unweighted)
	report, err := rules.Evaluate(ctx, domain.LoadStats{Subset: repo.Subset(), Loaded: loaded, Excluded: repo.Excluded(), Unweighted: unweighted})
	if err != nil {
		logger.Error("load rules failed", "subset", subsetID, "error", err)
		return
	}
	for _, issue := range report.Issues {
		args := []any{"subset", subsetID, "rule", issue.Rule, "count", issue.Count}
		switch issue.Severity {
		case domain.SeverityCritical:
			observability.Critical(logger, issue.Message, args...)
		case domain.SeverityWarn:
			logger.Warn(issue.Message, append(args, "loaded", loaded)...)
		default:
			logger.Info(issue.Message, append(args, "excluded", repo.Excluded())...)
		}
		repo.addIssue(issue)
	}
}

// profileOrSingleValue reads a quota answer. Single-entity answers are
// stored under their own value as entity id.
func profileOrSingleValue(p *responses.ProfileResponseEntity, d *schema.Descriptor) (int, bool) {
	if d.IsProfileField() {
		return p.GetIntegerFieldValue(d, addressing.DefaultEntityIds())
	}
	values := p.GetIntegerFieldValues(d, nil, nil)
	if len(values) == 0 {
		return 0, false
	}
	return values[0].Value, true
}
