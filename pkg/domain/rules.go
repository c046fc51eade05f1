package domain

import "context"

// LoadStats summarises a finished respondent load.
type LoadStats struct {
	Subset     Subset
	Loaded     int
	Excluded   int
	Unweighted int
}

// LoadRule inspects a finished load and reports data-quality issues.
type LoadRule interface {
	Name() string
	Evaluate(ctx context.Context, stats LoadStats) (LoadReport, error)
}

// LoadRuleFunc adapts a function to LoadRule.
type LoadRuleFunc struct {
	RuleName string
	Fn       func(ctx context.Context, stats LoadStats) (LoadReport, error)
}

func (f LoadRuleFunc) Name() string { return f.RuleName }

func (f LoadRuleFunc) Evaluate(ctx context.Context, stats LoadStats) (LoadReport, error) {
	return f.Fn(ctx, stats)
}

// RulesEngine evaluates load rules in registration order.
type RulesEngine struct {
	rules []LoadRule
}

// NewRulesEngine constructs an engine holding rules.
func NewRulesEngine(rules ...LoadRule) *RulesEngine {
	e := &RulesEngine{}
	for _, r := range rules {
		e.Register(r)
	}
	return e
}

// DefaultRulesEngine holds the built-in load rules.
func DefaultRulesEngine() *RulesEngine {
	return NewRulesEngine(NoRespondentsRule(), UnweightedRespondentsRule(), LoadedRespondentsRule())
}

// Register appends a rule. Nil rules are ignored.
func (e *RulesEngine) Register(rule LoadRule) {
	if rule != nil {
		e.rules = append(e.rules, rule)
	}
}

// Evaluate runs every rule and merges their issues, tagging each with the
// rule's name. The first rule error aborts evaluation.
func (e *RulesEngine) Evaluate(ctx context.Context, stats LoadStats) (LoadReport, error) {
	var combined LoadReport
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, stats)
		if err != nil {
			return LoadReport{}, err
		}
		for i := range res.Issues {
			if res.Issues[i].Rule == "" {
				res.Issues[i].Rule = rule.Name()
			}
			if res.Issues[i].SubsetID == "" {
				res.Issues[i].SubsetID = stats.Subset.ID
			}
		}
		combined.Merge(res)
	}
	return combined, nil
}

// NoRespondentsRule flags an empty load as critical.
func NoRespondentsRule() LoadRule {
	return LoadRuleFunc{RuleName: "no_respondents", Fn: func(_ context.Context, s LoadStats) (LoadReport, error) {
		var r LoadReport
		if s.Loaded == 0 {
			r.Add(Issue{Severity: SeverityCritical, Message: "no respondents loaded"})
		}
		return r, nil
	}}
}

// UnweightedRespondentsRule warns when respondents fell into the unweighted
// quota cell.
func UnweightedRespondentsRule() LoadRule {
	return LoadRuleFunc{RuleName: "unweighted_respondents", Fn: func(_ context.Context, s LoadStats) (LoadReport, error) {
		var r LoadReport
		if s.Loaded > 0 && s.Unweighted > 0 {
			r.Add(Issue{Severity: SeverityWarn, Message: "respondents allocated to the unweighted quota cell", Count: s.Unweighted})
		}
		return r, nil
	}}
}

// LoadedRespondentsRule records the size of a non-empty load.
func LoadedRespondentsRule() LoadRule {
	return LoadRuleFunc{RuleName: "loaded_respondents", Fn: func(_ context.Context, s LoadStats) (LoadReport, error) {
		var r LoadReport
		if s.Loaded > 0 {
			r.Add(Issue{Severity: SeverityInfo, Message: "loaded respondents", Count: s.Loaded})
		}
		return r, nil
	}}
}
