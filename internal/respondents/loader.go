package respondents

import (
	"context"
	"sort"
	"time"

	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

// ResponseFieldData is one respondent's raw answers as read from the data
// source. Values of single-entity fields are entity ids.
type ResponseFieldData struct {
	ResponseID  int
	Timestamp   time.Time
	SurveyID    int
	FieldValues map[*schema.Descriptor]int
}

// ResponseLoader reads the answers to fields for every respondent of a
// subset.
type ResponseLoader interface {
	GetResponses(ctx context.Context, subset domain.Subset, fields []*schema.Descriptor) ([]ResponseFieldData, error)
}

// ResponseRecord is the field-name keyed form of ResponseFieldData used by
// document and in-memory sources.
type ResponseRecord struct {
	ResponseID int            `json:"response_id" yaml:"response_id"`
	Timestamp  time.Time      `json:"timestamp" yaml:"timestamp"`
	SurveyID   int            `json:"survey_id" yaml:"survey_id"`
	Values     map[string]int `json:"values" yaml:"values"`
}

// MemoryResponseLoader serves records held in memory, keyed by subset id.
type MemoryResponseLoader struct {
	Records map[string][]ResponseRecord
}

// GetResponses resolves requested fields by name. Answers to fields that
// were not requested are dropped.
func (m MemoryResponseLoader) GetResponses(_ context.Context, subset domain.Subset, fields []*schema.Descriptor) ([]ResponseFieldData, error) {
	return ResolveRecords(m.Records[subset.ID], fields), nil
}

// ResolveRecords binds record values to the requested descriptors and
// orders the result by response id.
func ResolveRecords(records []ResponseRecord, fields []*schema.Descriptor) []ResponseFieldData {
	out := make([]ResponseFieldData, 0, len(records))
	for _, rec := range records {
		values := make(map[*schema.Descriptor]int, len(fields))
		for _, f := range fields {
			if v, ok := lookupValue(rec.Values, f.Name()); ok {
				values[f] = v
			}
		}
		out = append(out, ResponseFieldData{
			ResponseID:  rec.ResponseID,
			Timestamp:   rec.Timestamp,
			SurveyID:    rec.SurveyID,
			FieldValues: values,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ResponseID < out[j].ResponseID })
	return out
}

func lookupValue(values map[string]int, name string) (int, bool) {
	if v, ok := values[name]; ok {
		return v, true
	}
	folded := domain.FoldIdentifier(name)
	for k, v := range values {
		if domain.FoldIdentifier(k) == folded {
			return v, true
		}
	}
	return 0, false
}
