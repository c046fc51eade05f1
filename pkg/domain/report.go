package domain

// Severity grades a data-quality issue raised while loading.
type Severity string

const (
	// SeverityCritical marks a load that produced no usable data.
	SeverityCritical Severity = "critical"
	// SeverityWarn marks a partially degraded load.
	SeverityWarn Severity = "warn"
	// SeverityInfo records an informational outcome.
	SeverityInfo Severity = "info"
)

// Issue reports one data-quality signal.
type Issue struct {
	Rule     string   `json:"rule,omitempty"`
	Severity Severity `json:"severity"`
	SubsetID string   `json:"subset_id"`
	Message  string   `json:"message"`
	Count    int      `json:"count,omitempty"`
}

// LoadReport aggregates the issues raised while building a repository.
type LoadReport struct {
	Issues []Issue
}

// Add appends an issue.
func (r *LoadReport) Add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

// Merge appends the issues of other.
func (r *LoadReport) Merge(other LoadReport) {
	if len(other.Issues) == 0 {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
}

// HasCritical reports whether any issue is critical.
func (r LoadReport) HasCritical() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Count returns the number of issues with the given severity.
func (r LoadReport) Count(severity Severity) int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == severity {
			n++
		}
	}
	return n
}
