package entity

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"surveycore/pkg/domain"
)

type setEntry struct {
	set       *domain.EntitySet
	typeKey   string
	subsetKey string // empty for sets that apply to every subset
}

type setSnapshot struct {
	entries []setEntry
}

// SetRepository holds entity sets per type and subset. Readers work on an
// immutable snapshot; every write publishes a new one, so a reader never
// observes a partially updated set.
type SetRepository struct {
	mu   sync.Mutex
	snap atomic.Pointer[setSnapshot]
}

// NewSetRepository returns an empty repository.
func NewSetRepository() *SetRepository {
	r := &SetRepository{}
	r.snap.Store(&setSnapshot{})
	return r
}

func (r *SetRepository) update(fn func([]setEntry) []setEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snap.Load().entries
	next := fn(append(make([]setEntry, 0, len(cur)+1), cur...))
	r.snap.Store(&setSnapshot{entries: next})
}

// Add registers set for a type, scoped to subsetID or to every subset when
// subsetID is empty.
func (r *SetRepository) Add(set *domain.EntitySet, typeIdentifier, subsetID string) {
	e := setEntry{set: set, typeKey: domain.FoldIdentifier(typeIdentifier), subsetKey: domain.FoldIdentifier(subsetID)}
	r.update(func(entries []setEntry) []setEntry { return append(entries, e) })
}

// Remove deletes every set with the same identity as set from the given
// type and subset scope.
func (r *SetRepository) Remove(set *domain.EntitySet, typeIdentifier, subsetID string) {
	typeKey, subsetKey := domain.FoldIdentifier(typeIdentifier), domain.FoldIdentifier(subsetID)
	r.update(func(entries []setEntry) []setEntry {
		out := entries[:0]
		for _, e := range entries {
			if e.typeKey == typeKey && e.subsetKey == subsetKey && e.set.SameIdentity(set) {
				continue
			}
			out = append(out, e)
		}
		return out
	})
}

// Replace swaps old for next in the given scope, keeping its position. It
// reports whether old was found.
func (r *SetRepository) Replace(old, next *domain.EntitySet, typeIdentifier, subsetID string) bool {
	typeKey, subsetKey := domain.FoldIdentifier(typeIdentifier), domain.FoldIdentifier(subsetID)
	found := false
	r.update(func(entries []setEntry) []setEntry {
		for i, e := range entries {
			if e.set == old && e.typeKey == typeKey && e.subsetKey == subsetKey {
				entries[i].set = next
				found = true
			}
		}
		return entries
	})
	return found
}

func (r *SetRepository) scoped(typeKey, subsetKey string) []setEntry {
	var out []setEntry
	for _, e := range r.snap.Load().entries {
		if e.typeKey == typeKey && (e.subsetKey == "" || e.subsetKey == subsetKey) {
			out = append(out, e)
		}
	}
	return out
}

// GetOrganisationAgnostic returns the sets of a type visible in a subset that
// belong to no organisation.
func (r *SetRepository) GetOrganisationAgnostic(typeIdentifier, subsetID string) []*domain.EntitySet {
	var out []*domain.EntitySet
	for _, e := range r.scoped(domain.FoldIdentifier(typeIdentifier), domain.FoldIdentifier(subsetID)) {
		if e.set.Organisation == "" {
			out = append(out, e.set)
		}
	}
	return out
}

// generatedAll returns the generated "All" sets registered for exactly the
// subset.
func (r *SetRepository) generatedAll(typeIdentifier, subsetID string) []*domain.EntitySet {
	typeKey, subsetKey := domain.FoldIdentifier(typeIdentifier), domain.FoldIdentifier(subsetID)
	var out []*domain.EntitySet
	for _, e := range r.snap.Load().entries {
		if e.typeKey == typeKey && e.subsetKey == subsetKey && e.set.IsGeneratedAll() {
			out = append(out, e.set)
		}
	}
	return out
}

// GetAllFor resolves the sets of a type an organisation sees in a subset.
//
// Sets that belong to the organisation or to no organisation are always
// candidates. Fallback sets of other organisations are added only when no
// candidate exists apart from generated "All" sets. Candidates sharing a
// name are reduced to one, preferring in turn: a configured id, an
// organisation, a subset scope, IsDefault, IsSectorSet, IsFallback, the
// highest id. Results keep registration order and carry only the average
// mappings the organisation may see.
func (r *SetRepository) GetAllFor(typeIdentifier, subsetID, organisation string) []*domain.EntitySet {
	scoped := r.scoped(domain.FoldIdentifier(typeIdentifier), domain.FoldIdentifier(subsetID))
	candidates := make([]setEntry, 0, len(scoped))
	onlyGenerated := true
	for _, e := range scoped {
		if e.set.VisibleTo(organisation) {
			candidates = append(candidates, e)
			if !e.set.IsGeneratedAll() {
				onlyGenerated = false
			}
		}
	}
	if onlyGenerated {
		for _, e := range scoped {
			if e.set.IsFallback && !e.set.VisibleTo(organisation) {
				candidates = append(candidates, e)
			}
		}
	}

	order := make([]string, 0, len(candidates))
	best := make(map[string]setEntry, len(candidates))
	for _, e := range candidates {
		name := domain.FoldIdentifier(e.set.Name)
		cur, ok := best[name]
		if !ok {
			order = append(order, name)
			best[name] = e
			continue
		}
		if preferSet(e, cur) {
			best[name] = e
		}
	}
	out := make([]*domain.EntitySet, 0, len(order))
	for _, name := range order {
		out = append(out, visibleAverages(best[name].set, organisation))
	}
	return out
}

// preferSet reports whether a ranks strictly before b.
func preferSet(a, b setEntry) bool {
	rank := []func(setEntry) bool{
		func(e setEntry) bool { return e.set.HasID() },
		func(e setEntry) bool { return e.set.Organisation != "" },
		func(e setEntry) bool { return e.subsetKey != "" },
		func(e setEntry) bool { return e.set.IsDefault },
		func(e setEntry) bool { return e.set.IsSectorSet },
		func(e setEntry) bool { return e.set.IsFallback },
	}
	for _, f := range rank {
		if fa, fb := f(a), f(b); fa != fb {
			return fa
		}
	}
	return a.set.IDOrZero() > b.set.IDOrZero()
}

func visibleAverages(set *domain.EntitySet, organisation string) *domain.EntitySet {
	keep := 0
	for _, a := range set.Averages {
		if a.ChildOrganisation == "" || strings.EqualFold(a.ChildOrganisation, organisation) {
			keep++
		}
	}
	if keep == len(set.Averages) {
		return set
	}
	cp := *set
	cp.Averages = make([]domain.EntitySetAverageMapping, 0, keep)
	for _, a := range set.Averages {
		if a.ChildOrganisation == "" || strings.EqualFold(a.ChildOrganisation, organisation) {
			cp.Averages = append(cp.Averages, a)
		}
	}
	return &cp
}

// GetDefaultSetForOrganisation returns the set an organisation sees first:
// an IsDefault set, else the first non-sector set, else the first set. It
// fails when the organisation sees no set of the type in the subset.
func (r *SetRepository) GetDefaultSetForOrganisation(typeIdentifier, subsetID, organisation string) (*domain.EntitySet, error) {
	sets := r.GetAllFor(typeIdentifier, subsetID, organisation)
	if len(sets) == 0 {
		return nil, domain.Fatal("entity.GetDefaultSet", domain.ErrNotFound{
			Entity: "entity set",
			ID:     fmt.Sprintf("%s/%s/%s", typeIdentifier, subsetID, organisation),
		})
	}
	for _, s := range sets {
		if s.IsDefault {
			return s, nil
		}
	}
	for _, s := range sets {
		if !s.IsSectorSet {
			return s, nil
		}
	}
	return sets[0], nil
}

// Len returns the number of registered sets.
func (r *SetRepository) Len() int { return len(r.snap.Load().entries) }
