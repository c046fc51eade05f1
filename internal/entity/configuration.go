package entity

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"surveycore/pkg/domain"
)

const (
	idDelimiter = "|"
	idRange     = ":"

	// MaxInstanceRange bounds the number of ids a single range may expand to.
	MaxInstanceRange = 100_000
)

// EntitySetConfiguration is the stored form of an entity set. Instances is
// an id list such as "1|2|5:8"; ranges are inclusive and may run either way.
type EntitySetConfiguration struct {
	ID                   int                              `json:"id" yaml:"id"`
	Name                 string                           `json:"name" yaml:"name"`
	EntityType           string                           `json:"entity_type" yaml:"entity_type"`
	Instances            string                           `json:"instances" yaml:"instances"`
	Organisation         string                           `json:"organisation,omitempty" yaml:"organisation,omitempty"`
	Subset               string                           `json:"subset,omitempty" yaml:"subset,omitempty"`
	MainInstance         *int                             `json:"main_instance,omitempty" yaml:"main_instance,omitempty"`
	IsSectorSet          bool                             `json:"is_sector_set" yaml:"is_sector_set"`
	IsDefault            bool                             `json:"is_default" yaml:"is_default"`
	IsFallback           bool                             `json:"is_fallback" yaml:"is_fallback"`
	IsDisabled           bool                             `json:"is_disabled" yaml:"is_disabled"`
	ChildAverageMappings []domain.EntitySetAverageMapping `json:"child_average_mappings,omitempty" yaml:"child_average_mappings,omitempty"`
	UpdatedAt            time.Time                        `json:"updated_at" yaml:"updated_at"`
}

// SetConfigurationRepository persists entity set configurations.
type SetConfigurationRepository interface {
	EntitySetConfigurations(ctx context.Context) ([]EntitySetConfiguration, error)
	// GetWithoutMappings returns the stored configuration without its child
	// average mappings.
	GetWithoutMappings(ctx context.Context, id int) (EntitySetConfiguration, bool, error)
	Save(ctx context.Context, cfg EntitySetConfiguration) error
	Delete(ctx context.Context, cfg EntitySetConfiguration) error
}

// ParseInstanceIDs parses an id list such as "1|2|5:8". Blank input yields
// no ids. A range holds exactly two bounds and expands to at most
// MaxInstanceRange ids.
func ParseInstanceIDs(list string) ([]int, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var ids []int
	for _, part := range strings.Split(list, idDelimiter) {
		bounds := strings.Split(part, idRange)
		if len(bounds) > 2 {
			return nil, invalidInstanceList("range %q has more than two bounds", part)
		}
		first, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, invalidInstanceList("parse instance id %q: %v", part, err)
		}
		if len(bounds) == 1 {
			ids = append(ids, first)
			continue
		}
		last, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, invalidInstanceList("parse instance range %q: %v", part, err)
		}
		if first > last {
			first, last = last, first
		}
		// A negative width means last-first overflowed.
		if width := last - first; width < 0 || width >= MaxInstanceRange {
			return nil, invalidInstanceList("range %q exceeds %d ids", part, MaxInstanceRange)
		}
		for id := first; ; id++ {
			ids = append(ids, id)
			if id == last {
				break
			}
		}
	}
	return ids, nil
}

func invalidInstanceList(format string, args ...any) error {
	return domain.Fatal("entity.ParseInstanceIDs", fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidInstanceList}, args...)...))
}

// MemorySetConfigurationRepository keeps configurations in memory.
type MemorySetConfigurationRepository struct {
	mu      sync.RWMutex
	configs map[int]EntitySetConfiguration
}

// NewMemorySetConfigurationRepository returns a repository holding configs.
func NewMemorySetConfigurationRepository(configs ...EntitySetConfiguration) *MemorySetConfigurationRepository {
	r := &MemorySetConfigurationRepository{configs: make(map[int]EntitySetConfiguration, len(configs))}
	for _, c := range configs {
		r.configs[c.ID] = c
	}
	return r
}

func (r *MemorySetConfigurationRepository) EntitySetConfigurations(context.Context) ([]EntitySetConfiguration, error) {
	r.mu.RLock()
	out := make([]EntitySetConfiguration, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemorySetConfigurationRepository) GetWithoutMappings(_ context.Context, id int) (EntitySetConfiguration, bool, error) {
	r.mu.RLock()
	c, ok := r.configs[id]
	r.mu.RUnlock()
	c.ChildAverageMappings = nil
	return c, ok, nil
}

func (r *MemorySetConfigurationRepository) Save(_ context.Context, cfg EntitySetConfiguration) error {
	r.mu.Lock()
	r.configs[cfg.ID] = cfg
	r.mu.Unlock()
	return nil
}

func (r *MemorySetConfigurationRepository) Delete(_ context.Context, cfg EntitySetConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[cfg.ID]; !ok {
		return domain.ErrNotFound{Entity: "entity set configuration", ID: strconv.Itoa(cfg.ID)}
	}
	delete(r.configs, cfg.ID)
	return nil
}
