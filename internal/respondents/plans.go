package respondents

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"surveycore/internal/responses"
	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

// WeightingPlan splits respondents by the answers to one measure.
type WeightingPlan struct {
	FilterMetricName string            `json:"filter_metric_name" yaml:"filter_metric_name"`
	Targets          []WeightingTarget `json:"targets" yaml:"targets"`
}

// WeightingTarget is one answer of a plan's measure. A target either nests
// further plans or ends in a weighting group.
type WeightingTarget struct {
	FilterMetricEntityID int             `json:"filter_metric_entity_id" yaml:"filter_metric_entity_id"`
	WeightingGroupID     *int            `json:"weighting_group_id,omitempty" yaml:"weighting_group_id,omitempty"`
	ResponseLevel        bool            `json:"response_level,omitempty" yaml:"response_level,omitempty"`
	Plans                []WeightingPlan `json:"plans,omitempty" yaml:"plans,omitempty"`
}

// QuotaCellNode is a node of the quota cell tree. Inner nodes branch on a
// measure's answer; leaves stand for one quota cell.
type QuotaCellNode struct {
	Measure          string
	Children         map[int]*QuotaCellNode
	WeightingGroupID *int
	ResponseLevel    bool

	cell *domain.QuotaCell
}

// IsLeaf reports whether the node ends a path.
func (n *QuotaCellNode) IsLeaf() bool { return len(n.Children) == 0 }

// ToQuotaCellTree builds the tree for sibling plans. Every target of the
// first plan leads to a fresh tree of the remaining plans, else to its own
// nested plans, else to a leaf.
func ToQuotaCellTree(plans []WeightingPlan) *QuotaCellNode {
	if len(plans) == 0 {
		return nil
	}
	first, rest := plans[0], plans[1:]
	node := &QuotaCellNode{Measure: first.FilterMetricName, Children: make(map[int]*QuotaCellNode, len(first.Targets))}
	for _, t := range first.Targets {
		var child *QuotaCellNode
		switch {
		case len(rest) > 0:
			child = ToQuotaCellTree(rest)
		case len(t.Plans) > 0:
			child = ToQuotaCellTree(t.Plans)
		default:
			child = &QuotaCellNode{WeightingGroupID: t.WeightingGroupID, ResponseLevel: t.ResponseLevel}
		}
		node.Children[t.FilterMetricEntityID] = child
	}
	return node
}

// QuotaCellFactory walks the quota cell tree for each respondent. Cells are
// created the first time a leaf is reached and reused afterwards.
type QuotaCellFactory struct {
	subsetID   string
	root       *QuotaCellNode
	measures   map[string]*CompiledMeasure
	order      []*CompiledMeasure
	unweighted *domain.QuotaCell

	mu    sync.Mutex
	cells []*domain.QuotaCell
}

// NewQuotaCellFactory binds a tree to compiled measures. Every measure the
// tree branches on must be supplied. A nil root places every respondent in
// the unweighted cell.
func NewQuotaCellFactory(subsetID string, root *QuotaCellNode, measures []*CompiledMeasure) (*QuotaCellFactory, error) {
	f := &QuotaCellFactory{
		subsetID:   subsetID,
		root:       root,
		measures:   make(map[string]*CompiledMeasure, len(measures)),
		unweighted: domain.UnweightedQuotaCell(subsetID),
	}
	for _, m := range measures {
		f.measures[strings.ToLower(m.Name())] = m
	}
	used := make(map[string]struct{})
	if err := f.collect(root, used); err != nil {
		return nil, err
	}
	for _, m := range measures {
		if _, ok := used[strings.ToLower(m.Name())]; ok {
			f.order = append(f.order, m)
		}
	}
	return f, nil
}

func (f *QuotaCellFactory) collect(n *QuotaCellNode, used map[string]struct{}) error {
	if n == nil || n.IsLeaf() {
		return nil
	}
	key := strings.ToLower(n.Measure)
	if _, ok := f.measures[key]; !ok {
		return domain.Fatal("respondents.NewQuotaCellFactory", domain.ErrNotFound{Entity: "measure", ID: n.Measure})
	}
	used[key] = struct{}{}
	for _, child := range n.Children {
		if err := f.collect(child, used); err != nil {
			return err
		}
	}
	return nil
}

// Fields returns the descriptors the tree's measures read, without
// duplicates, in measure order.
func (f *QuotaCellFactory) Fields() []*schema.Descriptor {
	seen := make(map[*schema.Descriptor]struct{})
	var out []*schema.Descriptor
	for _, m := range f.order {
		for _, d := range m.fields {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

// Unweighted returns the subset's unweighted cell.
func (f *QuotaCellFactory) Unweighted() *domain.QuotaCell { return f.unweighted }

// Cells returns the weighted cells created so far, ordered by index.
func (f *QuotaCellFactory) Cells() []*domain.QuotaCell {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.QuotaCell(nil), f.cells...)
}

// GetQuotaCell classifies p.
func (f *QuotaCellFactory) GetQuotaCell(p *responses.ProfileResponseEntity) *domain.QuotaCell {
	if f.root == nil {
		return f.unweighted
	}
	parts := make(map[string]string)
	node := f.root
	for !node.IsLeaf() {
		answer, ok := f.measures[strings.ToLower(node.Measure)].Category(p)
		if !ok {
			return f.unweighted
		}
		child, ok := node.Children[answer]
		if !ok {
			return f.unweighted
		}
		parts[node.Measure] = strconv.Itoa(answer)
		node = child
	}
	return f.leafCell(node, parts)
}

func (f *QuotaCellFactory) leafCell(leaf *QuotaCellNode, parts map[string]string) *domain.QuotaCell {
	f.mu.Lock()
	defer f.mu.Unlock()
	if leaf.cell != nil {
		return leaf.cell
	}
	cell := domain.NewQuotaCell(len(f.cells), len(f.cells)+1, f.subsetID, parts, leaf.WeightingGroupID)
	cell.IsResponseLevelWeighting = leaf.ResponseLevel
	leaf.cell = cell
	f.cells = append(f.cells, cell)
	return cell
}

// QuotaCellAllocationReason explains why p is not in a weighted cell. It
// returns nil when p reaches a leaf.
func (f *QuotaCellFactory) QuotaCellAllocationReason(p *responses.ProfileResponseEntity) []AllocationReason {
	if f.root == nil {
		return []AllocationReason{{Message: "no weighting"}}
	}
	node := f.root
	for !node.IsLeaf() {
		answer, ok := f.measures[strings.ToLower(node.Measure)].Category(p)
		if !ok {
			return []AllocationReason{{Field: node.Measure, Message: "no data"}}
		}
		child, ok := node.Children[answer]
		if !ok {
			value := answer
			return []AllocationReason{{Field: node.Measure, Value: &value, Message: "no data, possibly ok"}}
		}
		node = child
	}
	return nil
}

// WeightingMeasureProvider supplies the quota cell factory of a subset.
type WeightingMeasureProvider interface {
	CreateQuotaCellFactory(ctx context.Context, subset domain.Subset) (*QuotaCellFactory, error)
}

// WeightingScheme is a set of measures and the weighting plans of each
// subset. The empty key holds the plans of subsets without their own.
type WeightingScheme struct {
	Measures []Measure                  `json:"measures" yaml:"measures"`
	Plans    map[string][]WeightingPlan `json:"plans" yaml:"plans"`
}

// PlanWeightingProvider compiles a WeightingScheme against the field
// catalog.
type PlanWeightingProvider struct {
	fields *schema.Manager
	scheme WeightingScheme
}

// NewPlanWeightingProvider constructs a provider for scheme.
func NewPlanWeightingProvider(fields *schema.Manager, scheme WeightingScheme) *PlanWeightingProvider {
	return &PlanWeightingProvider{fields: fields, scheme: scheme}
}

func (p *PlanWeightingProvider) plansFor(subsetID string) []WeightingPlan {
	keys := make([]string, 0, len(p.scheme.Plans))
	for k := range p.scheme.Plans {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k != "" && strings.EqualFold(k, subsetID) {
			return p.scheme.Plans[k]
		}
	}
	return p.scheme.Plans[""]
}

// CreateQuotaCellFactory builds a fresh factory, so cells are never shared
// between repository loads.
func (p *PlanWeightingProvider) CreateQuotaCellFactory(_ context.Context, subset domain.Subset) (*QuotaCellFactory, error) {
	root := ToQuotaCellTree(p.plansFor(subset.ID))
	needed := make(map[string]struct{})
	markMeasures(root, needed)
	var measures []*CompiledMeasure
	for _, m := range p.scheme.Measures {
		if _, ok := needed[strings.ToLower(m.Name)]; !ok {
			continue
		}
		cm, err := CompileMeasure(m, p.fields)
		if err != nil {
			return nil, fmt.Errorf("subset %s: %w", subset.ID, err)
		}
		measures = append(measures, cm)
	}
	return NewQuotaCellFactory(subset.ID, root, measures)
}

func markMeasures(n *QuotaCellNode, into map[string]struct{}) {
	if n == nil || n.IsLeaf() {
		return
	}
	into[strings.ToLower(n.Measure)] = struct{}{}
	for _, c := range n.Children {
		markMeasures(c, into)
	}
}
