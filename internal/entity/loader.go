package entity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"surveycore/internal/observability"
	"surveycore/pkg/domain"
)

// SetConfigurationLoader turns stored entity set configurations into entity
// sets and keeps the generated "All" set of every type current. All of its
// mutations are serialised by one lock; readers of the set repository are
// never blocked.
type SetConfigurationLoader struct {
	configs   SetConfigurationRepository
	sets      *SetRepository
	subsets   domain.SubsetRepository
	types     *TypeRepository
	instances InstanceReader
	logger    observability.Logger

	mu sync.Mutex
}

// LoaderOption configures a SetConfigurationLoader.
type LoaderOption func(*SetConfigurationLoader)

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(l observability.Logger) LoaderOption {
	return func(s *SetConfigurationLoader) { s.logger = observability.OrNoop(l) }
}

// NewSetConfigurationLoader wires a loader over its repositories.
func NewSetConfigurationLoader(configs SetConfigurationRepository, sets *SetRepository, subsets domain.SubsetRepository,
	types *TypeRepository, instances InstanceReader, opts ...LoaderOption) *SetConfigurationLoader {
	l := &SetConfigurationLoader{
		configs:   configs,
		sets:      sets,
		subsets:   subsets,
		types:     types,
		instances: instances,
		logger:    observability.NoopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddOrUpdateAll registers every stored configuration in id order, drops
// entity types that have no instance in any subset and regenerates the
// "All" set of the remaining types.
func (l *SetConfigurationLoader) AddOrUpdateAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	configs, err := l.configs.EntitySetConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("load entity set configurations: %w", err)
	}
	sort.SliceStable(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	for _, cfg := range configs {
		l.addOrUpdateConfiguration(cfg)
	}
	for _, t := range l.types.All() {
		if t.IsProfile {
			continue
		}
		if len(l.instances.GetInstancesAnySubset(t.Identifier)) == 0 {
			l.types.Remove(t.Identifier)
			l.logger.Info("removed entity type without instances", "entity_type", t.Identifier)
			continue
		}
		l.regenerate(t.Identifier)
	}
	l.logger.Info("entity sets loaded", "configurations", len(configs), "sets", l.sets.Len())
	return nil
}

// AddOrUpdate replaces the set built from the previously stored version of
// cfg with one built from cfg, persists cfg and regenerates the type's "All"
// set.
func (l *SetConfigurationLoader) AddOrUpdate(ctx context.Context, cfg EntitySetConfiguration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	previous, ok, err := l.configs.GetWithoutMappings(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("get entity set configuration %d: %w", cfg.ID, err)
	}
	if ok {
		if subsetID, set, built := l.constructEntitySet(previous); built {
			l.sets.Remove(set, previous.EntityType, subsetID)
		}
	}
	l.addOrUpdateConfiguration(cfg)
	if err := l.configs.Save(ctx, cfg); err != nil {
		return fmt.Errorf("save entity set configuration %d: %w", cfg.ID, err)
	}
	l.regenerate(cfg.EntityType)
	return nil
}

// Remove deletes cfg from storage and from the set repository.
func (l *SetConfigurationLoader) Remove(ctx context.Context, cfg EntitySetConfiguration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.configs.Delete(ctx, cfg); err != nil {
		return fmt.Errorf("delete entity set configuration %d: %w", cfg.ID, err)
	}
	if subsetID, set, ok := l.constructEntitySet(cfg); ok {
		l.sets.Remove(set, cfg.EntityType, subsetID)
	}
	l.regenerate(cfg.EntityType)
	return nil
}

func (l *SetConfigurationLoader) addOrUpdateConfiguration(cfg EntitySetConfiguration) {
	subsetID, set, ok := l.constructEntitySet(cfg)
	if !ok {
		return
	}
	l.sets.Remove(set, cfg.EntityType, subsetID)
	if !cfg.IsDisabled {
		l.sets.Add(set, cfg.EntityType, subsetID)
	}
}

// RegenerateAllEntitySet rebuilds the generated "All" set of a type in every
// subset from the instances currently visible there. Existing generated
// sets are replaced by updated copies; a missing one is created.
func (l *SetConfigurationLoader) RegenerateAllEntitySet(typeIdentifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.regenerate(typeIdentifier)
}

func (l *SetConfigurationLoader) regenerate(typeIdentifier string) {
	if _, ok := l.types.TryGet(typeIdentifier); !ok {
		return
	}
	for _, subset := range l.subsets.All() {
		instances := l.instances.GetInstancesOf(typeIdentifier, subset.ID)
		existing := l.sets.generatedAll(typeIdentifier, subset.ID)
		if len(existing) == 0 {
			l.sets.Add(domain.NewAllEntitiesSet(instances), typeIdentifier, subset.ID)
			continue
		}
		for _, old := range existing {
			l.sets.Replace(old, old.WithInstances(instances), typeIdentifier, subset.ID)
		}
	}
}

// constructEntitySet builds the set a configuration describes. Configurations
// naming an unknown type or subset, or holding a malformed id list, are
// skipped with a warning.
func (l *SetConfigurationLoader) constructEntitySet(cfg EntitySetConfiguration) (string, *domain.EntitySet, bool) {
	if _, err := l.types.Get(cfg.EntityType); err != nil {
		l.logger.Warn("ignoring entity set with unknown entity type",
			"set", cfg.Name, "id", cfg.ID, "entity_type", cfg.EntityType, "error", err)
		return "", nil, false
	}
	subsetID := strings.TrimSpace(cfg.Subset)
	if subsetID != "" {
		s, ok := l.subsets.TryGet(subsetID)
		if !ok {
			l.logger.Warn("ignoring entity set with invalid subset",
				"set", cfg.Name, "id", cfg.ID, "subset", cfg.Subset, "error", domain.ErrUnknownSubset)
			return "", nil, false
		}
		subsetID = s.ID
	}
	set, err := l.convert(cfg, subsetID)
	if err != nil {
		l.logger.Warn("ignoring entity set with malformed instances",
			"set", cfg.Name, "id", cfg.ID, "error", err)
		return "", nil, false
	}
	return subsetID, set, true
}

func (l *SetConfigurationLoader) convert(cfg EntitySetConfiguration, subsetID string) (*domain.EntitySet, error) {
	var available []domain.EntityInstance
	if subsetID == "" {
		available = l.instances.GetInstancesAnySubset(cfg.EntityType)
	} else {
		available = l.instances.GetInstancesOf(cfg.EntityType, subsetID)
	}
	lookup := make(map[int]domain.EntityInstance, len(available))
	names := make(map[int][]string)
	for _, inst := range available {
		if _, ok := lookup[inst.ID]; !ok {
			lookup[inst.ID] = inst
		}
		if !containsString(names[inst.ID], inst.Name) {
			names[inst.ID] = append(names[inst.ID], inst.Name)
		}
	}
	var differing []string
	for id, n := range names {
		if len(n) > 1 {
			differing = append(differing, fmt.Sprintf("%d: %s", id, strings.Join(n, ", ")))
		}
	}
	if len(differing) > 0 {
		sort.Strings(differing)
		l.logger.Warn("entity set is cross subset with differently named instances",
			"set", cfg.Name, "entity_type", cfg.EntityType, "instances", strings.Join(differing, "; "))
	}

	ids, err := ParseInstanceIDs(cfg.Instances)
	if err != nil {
		return nil, domain.Recoverable("entity.ConvertSet", err)
	}
	instances := make([]domain.EntityInstance, 0, len(ids))
	var missing []int
	for _, id := range ids {
		inst, ok := lookup[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		instances = append(instances, inst)
	}
	if len(missing) > 0 {
		l.logInstancesNotFound(cfg, "key", missing)
	}

	set := &domain.EntitySet{
		Name:         cfg.Name,
		Instances:    instances,
		Organisation: cfg.Organisation,
		IsSectorSet:  cfg.IsSectorSet,
		IsDefault:    cfg.IsDefault,
		IsFallback:   cfg.IsFallback,
		Averages:     append([]domain.EntitySetAverageMapping(nil), cfg.ChildAverageMappings...),
	}
	id := cfg.ID
	set.ID = &id
	if cfg.MainInstance != nil {
		if main, ok := lookup[*cfg.MainInstance]; ok {
			set.MainInstance = &main
		} else {
			l.logInstancesNotFound(cfg, "main", []int{*cfg.MainInstance})
		}
	}
	return set, nil
}

func (l *SetConfigurationLoader) logInstancesNotFound(cfg EntitySetConfiguration, kind string, ids []int) {
	subset := cfg.Subset
	if subset == "" {
		subset = "[]"
	}
	l.logger.Warn("entity set instances not found",
		"subset", subset, "entity_type", cfg.EntityType, "set_id", cfg.ID, "instance_kind", kind, "ids", ids)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
