package schema

import (
	"fmt"
	"math"
	"strings"

	"surveycore/pkg/domain"
)

// RoundingType selects how scaled values are rounded back to integers.
type RoundingType string

const (
	RoundingRound   RoundingType = "Round"
	RoundingCeiling RoundingType = "Ceiling"
	RoundingFloor   RoundingType = "Floor"
)

// ParseRoundingType parses a rounding name case-insensitively. Empty input
// yields RoundingRound.
func ParseRoundingType(name string) (RoundingType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "round":
		return RoundingRound, nil
	case "ceiling":
		return RoundingCeiling, nil
	case "floor":
		return RoundingFloor, nil
	}
	return "", fmt.Errorf("unknown rounding type %q", name)
}

// UnmarshalText accepts any casing of a rounding name.
func (r *RoundingType) UnmarshalText(text []byte) error {
	parsed, err := ParseRoundingType(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Apply rounds v.
func (r RoundingType) Apply(v float64) float64 {
	switch r {
	case RoundingCeiling:
		return math.Ceil(v)
	case RoundingFloor:
		return math.Floor(v)
	default:
		return math.Round(v)
	}
}

// EntityFieldDefinition binds one entity dimension of a field to its column.
type EntityFieldDefinition struct {
	ColumnName       string            `json:"column_name" yaml:"column_name"`
	EntityType       domain.EntityType `json:"entity_type" yaml:"entity_type"`
	EntityIdentifier string            `json:"entity_identifier" yaml:"entity_identifier"`
}

// FilterColumn restricts the rows a field reads to those where ColumnName
// equals Value.
type FilterColumn struct {
	ColumnName string `json:"column_name" yaml:"column_name"`
	Value      int    `json:"value" yaml:"value"`
}

// FieldDefinitionModel is the parsed definition of a field for one subset:
// where its values live and how they are interpreted.
type FieldDefinitionModel struct {
	Name                  string                  `json:"name" yaml:"name"`
	SchemaName            string                  `json:"schema_name,omitempty" yaml:"schema_name,omitempty"`
	TableName             string                  `json:"table_name,omitempty" yaml:"table_name,omitempty"`
	ColumnName            string                  `json:"column_name,omitempty" yaml:"column_name,omitempty"`
	Question              string                  `json:"question,omitempty" yaml:"question,omitempty"`
	VarCode               string                  `json:"var_code,omitempty" yaml:"var_code,omitempty"`
	ValueEntityIdentifier string                  `json:"value_entity_identifier,omitempty" yaml:"value_entity_identifier,omitempty"`
	DataValueColumn       string                  `json:"data_value_column,omitempty" yaml:"data_value_column,omitempty"`
	ScaleFactor           *float64                `json:"scale_factor,omitempty" yaml:"scale_factor,omitempty"`
	RoundingType          RoundingType            `json:"rounding_type,omitempty" yaml:"rounding_type,omitempty"`
	IsOpenText            bool                    `json:"is_open_text,omitempty" yaml:"is_open_text,omitempty"`
	ItemNumber            int                     `json:"item_number,omitempty" yaml:"item_number,omitempty"`
	EntityDefinitions     []EntityFieldDefinition `json:"entity_definitions,omitempty" yaml:"entity_definitions,omitempty"`
	FilterColumns         []FilterColumn          `json:"filter_columns,omitempty" yaml:"filter_columns,omitempty"`
}

// OrderedEntityCombination returns the field's entity types in canonical
// order.
func (m FieldDefinitionModel) OrderedEntityCombination() []domain.EntityType {
	types := make([]domain.EntityType, 0, len(m.EntityDefinitions))
	for _, d := range m.EntityDefinitions {
		types = append(types, d.EntityType)
	}
	domain.SortEntityTypes(types)
	return types
}

// IsScaled reports whether stored values must be divided by a scale factor
// when read.
func (m FieldDefinitionModel) IsScaled() bool {
	return m.ScaleFactor != nil && *m.ScaleFactor != 0 && *m.ScaleFactor != 1
}

// AddFilter appends a filter column.
func (m *FieldDefinitionModel) AddFilter(column string, value int) {
	m.FilterColumns = append(m.FilterColumns, FilterColumn{ColumnName: column, Value: value})
}

// SubsetFieldDefinition pairs a definition with the subset it applies to.
type SubsetFieldDefinition struct {
	SubsetID string
	Model    FieldDefinitionModel
}
