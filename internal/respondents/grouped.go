package respondents

import (
	"sort"

	"surveycore/internal/responses"
	"surveycore/pkg/domain"
)

// CellResponse is a respondent together with the quota cell it was
// classified into.
type CellResponse struct {
	Respondent *responses.ProfileResponseEntity
	Cell       *domain.QuotaCell
}

// GroupedQuotaCells is an immutable view of respondents grouped by quota
// cell. Cells are ordered by index.
type GroupedQuotaCells struct {
	cells  []*domain.QuotaCell
	byCell map[*domain.QuotaCell][]CellResponse
	total  int
}

func groupResponses(in []CellResponse, keep func(*domain.QuotaCell) bool) *GroupedQuotaCells {
	g := &GroupedQuotaCells{byCell: make(map[*domain.QuotaCell][]CellResponse)}
	for _, r := range in {
		if keep != nil && !keep(r.Cell) {
			continue
		}
		if _, ok := g.byCell[r.Cell]; !ok {
			g.cells = append(g.cells, r.Cell)
		}
		g.byCell[r.Cell] = append(g.byCell[r.Cell], r)
		g.total++
	}
	sortCells(g.cells)
	return g
}

func sortCells(cells []*domain.QuotaCell) {
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].Index < cells[j].Index })
}

// Cells returns the cells holding at least one respondent.
func (g *GroupedQuotaCells) Cells() []*domain.QuotaCell {
	return append([]*domain.QuotaCell(nil), g.cells...)
}

// Len returns the number of cells.
func (g *GroupedQuotaCells) Len() int { return len(g.cells) }

// Any reports whether the view holds any cell.
func (g *GroupedQuotaCells) Any() bool { return len(g.cells) > 0 }

// Contains reports whether cell is part of the view.
func (g *GroupedQuotaCells) Contains(cell *domain.QuotaCell) bool {
	_, ok := g.byCell[cell]
	return ok
}

// Respondents returns the respondents classified into cell.
func (g *GroupedQuotaCells) Respondents(cell *domain.QuotaCell) []CellResponse {
	return g.byCell[cell]
}

// RespondentCount returns the number of respondents across all cells.
func (g *GroupedQuotaCells) RespondentCount() int { return g.total }

// Where returns the cells satisfying keep.
func (g *GroupedQuotaCells) Where(keep func(*domain.QuotaCell) bool) *GroupedQuotaCells {
	out := &GroupedQuotaCells{byCell: make(map[*domain.QuotaCell][]CellResponse)}
	for _, c := range g.cells {
		if keep(c) {
			out.cells = append(out.cells, c)
			out.byCell[c] = g.byCell[c]
			out.total += len(g.byCell[c])
		}
	}
	return out
}
