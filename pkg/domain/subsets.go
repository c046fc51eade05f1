package domain

import (
	"strings"
	"time"
)

// Subset is a logical partition of survey data, e.g. a market or wave, with
// its own catalog of entities and fields.
type Subset struct {
	ID                  string     `json:"id" yaml:"id"`
	DisplayName         string     `json:"display_name" yaml:"display_name"`
	Disabled            bool       `json:"disabled" yaml:"disabled"`
	OverriddenStartDate *time.Time `json:"overridden_start_date,omitempty" yaml:"overridden_start_date,omitempty"`
	SignOffDate         *time.Time `json:"sign_off_date,omitempty" yaml:"sign_off_date,omitempty"`
}

// Matches reports whether the subset id equals id, ignoring case.
func (s Subset) Matches(id string) bool { return strings.EqualFold(s.ID, id) }

// AverageWeighting selects how an average treats respondent weights.
type AverageWeighting string

const (
	// WeightingNone averages every respondent with equal weight.
	WeightingNone AverageWeighting = "none"
	// WeightingQuotaCell weights respondents by their quota cell.
	WeightingQuotaCell AverageWeighting = "quota_cell"
)

// AverageDescriptor describes the averaging requested by a downstream
// calculation. Only the weighting choice matters to the respondent store.
type AverageDescriptor struct {
	AverageID string           `json:"average_id" yaml:"average_id"`
	Weighting AverageWeighting `json:"weighting" yaml:"weighting"`
}

// IsWeighted reports whether the descriptor requests weighting.
func (d AverageDescriptor) IsWeighted() bool {
	return d.Weighting != "" && d.Weighting != WeightingNone
}
