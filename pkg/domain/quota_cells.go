package domain

import (
	"sort"
	"strings"
)

// UnweightedCellID is the id carried by every subset's unweighted sentinel cell.
const UnweightedCellID = -1

const unweightedKey = "Unweighted"

// QuotaCell identifies a stratification bucket: a distinct combination of
// weighting dimension values. Cells are compared by pointer identity once
// handed out by a factory.
type QuotaCell struct {
	ID                       int
	Index                    int
	SubsetID                 string
	FieldGroupToKeyPart      map[string]string
	WeightingGroupID         *int
	IsResponseLevelWeighting bool
	unweighted               bool
}

// UnweightedQuotaCell returns a new unweighted sentinel cell for the subset.
func UnweightedQuotaCell(subsetID string) *QuotaCell {
	return &QuotaCell{
		ID:                  UnweightedCellID,
		Index:               0,
		SubsetID:            subsetID,
		FieldGroupToKeyPart: map[string]string{},
		unweighted:          true,
	}
}

// NewQuotaCell builds a weighted cell from its dimension key parts.
func NewQuotaCell(id, index int, subsetID string, parts map[string]string, weightingGroupID *int) *QuotaCell {
	cp := make(map[string]string, len(parts))
	for k, v := range parts {
		cp[k] = v
	}
	return &QuotaCell{
		ID:                  id,
		Index:               index,
		SubsetID:            subsetID,
		FieldGroupToKeyPart: cp,
		WeightingGroupID:    weightingGroupID,
	}
}

// IsUnweighted reports whether the cell is the unweighted sentinel.
func (c *QuotaCell) IsUnweighted() bool { return c != nil && c.unweighted }

// Key returns a deterministic representation of the cell's dimension values,
// used to de-duplicate cells during classification.
func (c *QuotaCell) Key() string {
	if c.unweighted {
		return unweightedKey
	}
	dims := make([]string, 0, len(c.FieldGroupToKeyPart))
	for k := range c.FieldGroupToKeyPart {
		dims = append(dims, k)
	}
	sort.Strings(dims)
	var b strings.Builder
	for i, d := range dims {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(d)
		b.WriteByte(':')
		b.WriteString(c.FieldGroupToKeyPart[d])
	}
	return b.String()
}

func (c *QuotaCell) String() string { return c.SubsetID + "/" + c.Key() }

// KeyPart returns the value recorded for a weighting dimension.
func (c *QuotaCell) KeyPart(dimension string) (string, bool) {
	v, ok := c.FieldGroupToKeyPart[dimension]
	return v, ok
}
