// Package respondents holds the respondents of a subset grouped by quota
// cell, and the factories that load and classify them.
package respondents

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"surveycore/internal/responses"
	"surveycore/pkg/domain"
)

type groupedViews struct {
	generation uint64
	all        *GroupedQuotaCells
	weighted   *GroupedQuotaCells
	unweighted *GroupedQuotaCells
}

// Repository holds the respondents of one subset. It is filled once while
// loading and read afterwards; grouped views are computed on first use and
// stay valid until the next Add.
type Repository struct {
	subset  domain.Subset
	signOff *time.Time

	mu               sync.RWMutex
	byID             map[int]CellResponse
	byDay            map[int64][]CellResponse
	earliest, latest time.Time
	excluded         int
	report           domain.LoadReport
	generation       uint64

	views atomic.Pointer[groupedViews]
}

// NewRepository returns an empty repository. Respondents answering after
// signOff, when set, are not admitted.
func NewRepository(subset domain.Subset, signOff *time.Time) *Repository {
	return &Repository{
		subset:  subset,
		signOff: signOff,
		byID:    make(map[int]CellResponse),
		byDay:   make(map[int64][]CellResponse),
	}
}

func (r *Repository) Subset() domain.Subset { return r.subset }

// Add stores a classified respondent. Negative and duplicate ids are fatal;
// a respondent answering after the sign-off date is counted as excluded and
// skipped.
func (r *Repository) Add(p *responses.ProfileResponseEntity, cell *domain.QuotaCell) error {
	if p.ID() < 0 {
		return domain.Fatal("respondents.Add", fmt.Errorf("%w: %d", domain.ErrNegativeRespondentID, p.ID()))
	}
	if cell == nil {
		cell = domain.UnweightedQuotaCell(r.subset.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[p.ID()]; exists {
		return domain.Fatal("respondents.Add", fmt.Errorf("%w: %d in subset %s", domain.ErrDuplicateRespondent, p.ID(), r.subset.ID))
	}
	ts := p.Timestamp()
	if !r.withinSignOff(ts) {
		r.excluded++
		return nil
	}
	cr := CellResponse{Respondent: p, Cell: cell}
	r.byID[p.ID()] = cr
	day := dayOf(ts)
	r.byDay[day] = append(r.byDay[day], cr)
	if len(r.byID) == 1 || ts.Before(r.earliest) {
		r.earliest = ts
	}
	if len(r.byID) == 1 || ts.After(r.latest) {
		r.latest = ts
	}
	r.generation++
	return nil
}

func (r *Repository) withinSignOff(ts time.Time) bool {
	return r.signOff == nil || !ts.After(*r.signOff)
}

// WithinSignOff reports whether a response at ts is admitted.
func (r *Repository) WithinSignOff(ts time.Time) bool { return r.withinSignOff(ts) }

// Excluded returns how many respondents were skipped for answering after
// the sign-off date.
func (r *Repository) Excluded() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.excluded
}

// Get returns the respondent with id.
func (r *Repository) Get(id int) (CellResponse, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cr, ok := r.byID[id]
	return cr, ok
}

// Count returns the number of respondents.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns every respondent ordered by id.
func (r *Repository) All() []CellResponse {
	r.mu.RLock()
	out := make([]CellResponse, 0, len(r.byID))
	for _, cr := range r.byID {
		out = append(out, cr)
	}
	r.mu.RUnlock()
	sortByID(out)
	return out
}

// RespondentsBetween returns the respondents who answered on any calendar
// day (UTC) from from to to inclusive, ordered by id.
func (r *Repository) RespondentsBetween(from, to time.Time) []CellResponse {
	first, last := dayOf(from), dayOf(to)
	var out []CellResponse
	r.mu.RLock()
	if last-first+1 > int64(len(r.byDay)) {
		for day, bucket := range r.byDay {
			if day >= first && day <= last {
				out = append(out, bucket...)
			}
		}
	} else {
		for day := first; day <= last; day++ {
			out = append(out, r.byDay[day]...)
		}
	}
	r.mu.RUnlock()
	sortByID(out)
	return out
}

// EarliestResponseDate returns the first response time, if any.
func (r *Repository) EarliestResponseDate() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.earliest, len(r.byID) > 0
}

// LatestResponseDate returns the last response time, if any.
func (r *Repository) LatestResponseDate() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, len(r.byID) > 0
}

// grouped returns the views of the current generation, building them from
// a snapshot taken under the read lock. A view never replaces one built
// from a later generation.
func (r *Repository) grouped() *groupedViews {
	r.mu.RLock()
	gen := r.generation
	if v := r.views.Load(); v != nil && v.generation == gen {
		r.mu.RUnlock()
		return v
	}
	all := make([]CellResponse, 0, len(r.byID))
	for _, cr := range r.byID {
		all = append(all, cr)
	}
	r.mu.RUnlock()
	sortByID(all)

	v := &groupedViews{
		generation: gen,
		all:        groupResponses(all, nil),
		weighted:   groupResponses(all, func(c *domain.QuotaCell) bool { return !c.IsUnweighted() }),
		unweighted: groupResponses(all, func(c *domain.QuotaCell) bool { return c.IsUnweighted() }),
	}
	for {
		cur := r.views.Load()
		if cur != nil && cur.generation >= gen {
			return cur
		}
		if r.views.CompareAndSwap(cur, v) {
			return v
		}
	}
}

// AllCellsGroup returns every respondent grouped by cell.
func (r *Repository) AllCellsGroup() *GroupedQuotaCells { return r.grouped().all }

// WeightedCellsGroup returns the respondents outside the unweighted cell.
func (r *Repository) WeightedCellsGroup() *GroupedQuotaCells { return r.grouped().weighted }

// UnWeightedCellsGroup returns the respondents in the unweighted cell.
func (r *Repository) UnWeightedCellsGroup() *GroupedQuotaCells { return r.grouped().unweighted }

// GetGroupedQuotaCells selects the view an average is computed over: the
// weighted cells for a weighted average, otherwise every respondent.
func (r *Repository) GetGroupedQuotaCells(average domain.AverageDescriptor) *GroupedQuotaCells {
	if average.IsWeighted() {
		return r.WeightedCellsGroup()
	}
	return r.AllCellsGroup()
}

// Report returns the data-quality issues raised while loading.
func (r *Repository) Report() domain.LoadReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.LoadReport{Issues: append([]domain.Issue(nil), r.report.Issues...)}
}

func (r *Repository) addIssue(issue domain.Issue) {
	r.mu.Lock()
	r.report.Add(issue)
	r.mu.Unlock()
}

// dayOf returns the UTC calendar day of t, counted from the Unix epoch.
// Days before the epoch are negative.
func dayOf(t time.Time) int64 {
	const secondsPerDay = int64(24 * time.Hour / time.Second)
	s := t.UTC().Unix()
	day := s / secondsPerDay
	if s%secondsPerDay < 0 {
		day--
	}
	return day
}

func sortByID(in []CellResponse) {
	sort.Slice(in, func(i, j int) bool { return in[i].Respondent.ID() < in[j].Respondent.ID() })
}
