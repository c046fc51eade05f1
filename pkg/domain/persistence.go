package domain

import "context"

// SubsetRepository enumerates configured subsets.
type SubsetRepository interface {
	All() []Subset
	TryGet(id string) (Subset, bool)
}

// SubsetSource loads subsets from durable configuration.
type SubsetSource interface {
	Subsets(ctx context.Context) ([]Subset, error)
}
