package schema

import "sync/atomic"

// SequentialIDProvider hands out dense, strictly increasing ids starting at
// zero. One provider is owned by each schema-loading context and shared by
// every field it creates, so all respondents index a field at the same slot.
type SequentialIDProvider struct {
	next atomic.Int64
}

// NewSequentialIDProvider returns a provider whose first id is 0.
func NewSequentialIDProvider() *SequentialIDProvider {
	return &SequentialIDProvider{}
}

// Next returns the next id.
func (p *SequentialIDProvider) Next() int {
	return int(p.next.Add(1) - 1)
}

// Issued returns how many ids have been handed out.
func (p *SequentialIDProvider) Issued() int {
	return int(p.next.Load())
}
