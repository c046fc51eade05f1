// Package definitions reads the catalog, field and weighting documents a
// survey is described by from a blob store. Documents are YAML or JSON,
// chosen by extension.
package definitions

import (
	"fmt"

	"surveycore/internal/entity"
	"surveycore/internal/respondents"
	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

// Document names, without extension.
const (
	SubsetsDocument     = "subsets"
	EntityTypesDocument = "entity_types"
	InstancesDocument   = "instances"
	FieldsDocument      = "fields"
	EntitySetsDocument  = "entity_sets"
	WeightingDocument   = "weighting"
	QuotaDocument       = "quota"

	// ResponsesPrefix holds one document of respondent records per subset.
	ResponsesPrefix = "responses/"
)

// AllSubsets keys entries that apply to subsets without their own.
const AllSubsets = "*"

// Extensions are tried in this order when locating a document.
var Extensions = []string{".yaml", ".yml", ".json"}

// EntityInstances lists the instances of one entity type.
type EntityInstances struct {
	EntityType string                  `json:"entity_type" yaml:"entity_type"`
	Instances  []domain.EntityInstance `json:"instances" yaml:"instances"`
}

// FieldDocument is a field definition and the subsets it is bound in. Entity
// types are referenced by identifier.
type FieldDocument struct {
	Subsets                     []string `json:"subsets" yaml:"subsets"`
	schema.FieldDefinitionModel `yaml:",inline"`
}

// MapperDocument describes one quota cell mapper. Bands select a band
// mapper; otherwise answers map through Categories, or verbatim.
type MapperDocument struct {
	Field      string             `json:"field" yaml:"field"`
	Categories map[int]string     `json:"categories,omitempty" yaml:"categories,omitempty"`
	Bands      []respondents.Band `json:"bands,omitempty" yaml:"bands,omitempty"`
}

// Mapper builds the quota cell mapper.
func (m MapperDocument) Mapper() respondents.QuotaCellMapper {
	if len(m.Bands) > 0 {
		return respondents.BandMapper{Field: m.Field, Bands: m.Bands}
	}
	return respondents.CategoryMapper{Field: m.Field, Categories: m.Categories}
}

// QuotaSettings configures fields-only classification: ordered mappers
// and the admissible cell keys, both keyed by subset id or AllSubsets.
type QuotaSettings struct {
	Mappers        map[string][]MapperDocument `json:"mappers" yaml:"mappers"`
	ReferenceCells map[string][]string         `json:"reference_cells,omitempty" yaml:"reference_cells,omitempty"`
}

// QuotaMappers converts the mapper documents.
func (q QuotaSettings) QuotaMappers() respondents.QuotaMappers {
	out := make(respondents.QuotaMappers, len(q.Mappers))
	for subset, docs := range q.Mappers {
		mappers := make([]respondents.QuotaCellMapper, 0, len(docs))
		for _, d := range docs {
			mappers = append(mappers, d.Mapper())
		}
		out[subsetKey(subset)] = mappers
	}
	return out
}

// FactoryOptions returns one reference weighting option per subset.
func (q QuotaSettings) FactoryOptions() []respondents.FactoryOption {
	var opts []respondents.FactoryOption
	for subset, keys := range q.ReferenceCells {
		opts = append(opts, respondents.WithReferenceWeightings(subsetKey(subset), respondents.NewReferenceCellKeys(keys...)))
	}
	return opts
}

func subsetKey(id string) string {
	if id == AllSubsets {
		return ""
	}
	return id
}

// Bundle is every document found in a store. Absent documents leave their
// field empty.
type Bundle struct {
	Subsets     []domain.Subset                 `json:"subsets"`
	EntityTypes []domain.EntityType             `json:"entity_types"`
	Instances   []EntityInstances               `json:"instances"`
	Fields      []FieldDocument                 `json:"fields"`
	EntitySets  []entity.EntitySetConfiguration `json:"entity_sets"`
	Weighting   *respondents.WeightingScheme    `json:"weighting,omitempty"`
	Quota       *QuotaSettings                  `json:"quota,omitempty"`
}

// FieldDefinitions resolves the field documents against types. A field
// naming an unregistered entity type is fatal.
func (b *Bundle) FieldDefinitions(types *entity.TypeRepository) ([]schema.SubsetFieldDefinition, error) {
	var out []schema.SubsetFieldDefinition
	for _, doc := range b.Fields {
		model := doc.FieldDefinitionModel
		model.EntityDefinitions = append([]schema.EntityFieldDefinition(nil), model.EntityDefinitions...)
		for i, def := range model.EntityDefinitions {
			et, err := types.Get(def.EntityType.Identifier)
			if err != nil {
				return nil, domain.Fatal("definitions.FieldDefinitions", fmt.Errorf("field %s: %w", model.Name, err))
			}
			model.EntityDefinitions[i].EntityType = et
		}
		for _, subset := range doc.Subsets {
			out = append(out, schema.SubsetFieldDefinition{SubsetID: subset, Model: model})
		}
	}
	return out, nil
}

// WeightingScheme returns the weighting document with AllSubsets plans
// keyed for every subset.
func (b *Bundle) WeightingScheme() respondents.WeightingScheme {
	if b.Weighting == nil {
		return respondents.WeightingScheme{}
	}
	scheme := respondents.WeightingScheme{Measures: b.Weighting.Measures, Plans: make(map[string][]respondents.WeightingPlan, len(b.Weighting.Plans))}
	for subset, plans := range b.Weighting.Plans {
		scheme.Plans[subsetKey(subset)] = plans
	}
	return scheme
}
