package schema

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"surveycore/internal/observability"
	"surveycore/pkg/domain"
)

// ErrEmptyFieldName is returned when a field definition has no name.
var ErrEmptyFieldName = errors.New("field name is empty")

// Manager owns the field descriptors of one schema-loading context.
type Manager struct {
	ids    *SequentialIDProvider
	logger observability.Logger

	mu            sync.RWMutex
	fields        map[string]*Descriptor
	inMemoryIndex int
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDProvider shares an id provider between managers. Fields from every
// manager sharing the provider get distinct load-order indexes.
func WithIDProvider(ids *SequentialIDProvider) Option {
	return func(m *Manager) {
		if ids != nil {
			m.ids = ids
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(m *Manager) { m.logger = observability.OrNoop(l) }
}

// NewManager returns an empty manager with its own id provider.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		ids:    NewSequentialIDProvider(),
		logger: observability.NoopLogger(),
		fields: make(map[string]*Descriptor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IDProvider returns the provider that assigns load-order indexes.
func (m *Manager) IDProvider() *SequentialIDProvider { return m.ids }

// Load registers every definition. See LazyLoad.
func (m *Manager) Load(defs ...SubsetFieldDefinition) error {
	_, err := m.LazyLoad(defs...)
	return err
}

// LazyLoad creates every field first and only then attaches per-subset
// bindings, so definitions may refer to fields declared later in defs. It
// returns the descriptor bound by each definition, in order.
func (m *Manager) LazyLoad(defs ...SubsetFieldDefinition) ([]*Descriptor, error) {
	for _, d := range defs {
		if _, err := m.GetOrCreate(d.Model); err != nil {
			return nil, err
		}
	}
	out := make([]*Descriptor, 0, len(defs))
	for _, d := range defs {
		f, err := m.AddFieldDefinition(d.SubsetID, d.Model)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	m.logger.Debug("field definitions loaded", "definitions", len(defs), "fields", m.Len())
	return out, nil
}

// GetOrCreate returns the descriptor for model.Name, creating it with the
// model's entity combination when absent. An existing descriptor is returned
// untouched even if the model disagrees on dimensions.
func (m *Manager) GetOrCreate(model FieldDefinitionModel) (*Descriptor, error) {
	if strings.TrimSpace(model.Name) == "" {
		return nil, domain.Fatal("schema.GetOrCreate", ErrEmptyFieldName)
	}
	key := lookupKey(model.Name)
	m.mu.RLock()
	f, ok := m.fields[key]
	m.mu.RUnlock()
	if ok {
		return f, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.fields[key]; ok {
		return f, nil
	}
	m.inMemoryIndex++
	f = NewDescriptor(Identifier(model.Name), model.OrderedEntityCombination(), model.ValueEntityIdentifier, model.ItemNumber, m.inMemoryIndex, m.ids)
	m.fields[key] = f
	return f, nil
}

// AddFieldDefinition attaches model as the binding of an existing field for
// subsetID.
func (m *Manager) AddFieldDefinition(subsetID string, model FieldDefinitionModel) (*Descriptor, error) {
	f, err := m.Get(model.Name)
	if err != nil {
		return nil, err
	}
	if !f.IsEquivalentCombination(model.OrderedEntityCombination()) {
		m.logger.Warn("field definition dimensions differ from registered field",
			"field", f.Name(), "subset", subsetID)
	}
	f.AddDataAccessModelForSubset(subsetID, model)
	return f, nil
}

// Get returns the field registered under name. Lookups ignore case and
// accept the unsanitised name.
func (m *Manager) Get(name string) (*Descriptor, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.Fatal("schema.Get", ErrEmptyFieldName)
	}
	f, ok := m.TryGet(name)
	if !ok {
		return nil, domain.ErrNotFound{Entity: "field", ID: name}
	}
	return f, nil
}

// TryGet returns the field registered under name, if any.
func (m *Manager) TryGet(name string) (*Descriptor, bool) {
	m.mu.RLock()
	f, ok := m.fields[lookupKey(name)]
	m.mu.RUnlock()
	return f, ok
}

// Len returns the number of registered fields.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fields)
}

// AllFields returns every field ordered by creation.
func (m *Manager) AllFields() []*Descriptor {
	m.mu.RLock()
	out := make([]*Descriptor, 0, len(m.fields))
	for _, f := range m.fields {
		out = append(out, f)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InMemoryIndex() < out[j].InMemoryIndex() })
	return out
}

// FieldsForEntityTypes returns the fields bound in subsetID whose dimensions
// are exactly types, in any order.
func (m *Manager) FieldsForEntityTypes(types []domain.EntityType, subsetID string) []*Descriptor {
	var out []*Descriptor
	for _, f := range m.AllFields() {
		if f.IsEquivalentCombination(types) && f.IsAvailableForSubset(subsetID) {
			out = append(out, f)
		}
	}
	return out
}
