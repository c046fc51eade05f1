package definitions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"surveycore/internal/blob"
	"surveycore/internal/observability"
	"surveycore/internal/respondents"
	"surveycore/internal/schema"
	"surveycore/pkg/domain"
)

// Loader reads documents from a blob store.
type Loader struct {
	store  blob.Store
	logger observability.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(l observability.Logger) Option {
	return func(ld *Loader) { ld.logger = observability.OrNoop(l) }
}

// NewLoader constructs a loader over store.
func NewLoader(store blob.Store, opts ...Option) *Loader {
	l := &Loader{store: store, logger: observability.NoopLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Bundle reads every known document. Missing documents are skipped; a
// document that fails to decode aborts the load.
func (l *Loader) Bundle(ctx context.Context) (*Bundle, error) {
	b := &Bundle{}
	targets := []struct {
		name string
		into any
	}{
		{SubsetsDocument, &b.Subsets},
		{EntityTypesDocument, &b.EntityTypes},
		{InstancesDocument, &b.Instances},
		{FieldsDocument, &b.Fields},
		{EntitySetsDocument, &b.EntitySets},
	}
	for _, t := range targets {
		if _, err := l.ReadDocument(ctx, t.name, t.into); err != nil {
			return nil, err
		}
	}
	var weighting respondents.WeightingScheme
	found, err := l.ReadDocument(ctx, WeightingDocument, &weighting)
	if err != nil {
		return nil, err
	}
	if found {
		b.Weighting = &weighting
	}
	var quota QuotaSettings
	if found, err = l.ReadDocument(ctx, QuotaDocument, &quota); err != nil {
		return nil, err
	}
	if found {
		b.Quota = &quota
	}
	l.logger.Info("definitions loaded",
		"driver", l.store.Driver(),
		"subsets", len(b.Subsets),
		"entity_types", len(b.EntityTypes),
		"fields", len(b.Fields),
		"entity_sets", len(b.EntitySets))
	return b, nil
}

// ReadDocument decodes the first of name's extensions present in the
// store into v and reports whether one was found.
func (l *Loader) ReadDocument(ctx context.Context, name string, v any) (bool, error) {
	for _, ext := range Extensions {
		key := name + ext
		content, _, err := blob.ReadAll(ctx, l.store, key)
		if blob.IsNotFound(err) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("read %s: %w", key, err)
		}
		if err := Decode(key, content, v); err != nil {
			return false, err
		}
		l.logger.Debug("definition document read", "key", key, "bytes", len(content))
		return true, nil
	}
	return false, nil
}

// Decode parses content as JSON or YAML according to key's extension.
func Decode(key string, content []byte, v any) error {
	var err error
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.DisallowUnknownFields()
		err = dec.Decode(v)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		err = dec.Decode(v)
	default:
		return fmt.Errorf("decode %s: unsupported document type", key)
	}
	if err != nil {
		return domain.Fatal("definitions.Decode", fmt.Errorf("decode %s: %w", key, err))
	}
	return nil
}

// Encode renders v as JSON or YAML according to key's extension.
func Encode(key string, v any) ([]byte, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return json.MarshalIndent(v, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(v)
	default:
		return nil, fmt.Errorf("encode %s: unsupported document type", key)
	}
}

// WriteDocument encodes v and stores it under key.
func WriteDocument(ctx context.Context, store blob.Store, key string, v any) error {
	content, err := Encode(key, v)
	if err != nil {
		return err
	}
	_, err = blob.PutBytes(ctx, store, key, content)
	return err
}

// ResponseLoader serves respondent records from the responses documents of
// a store, one per subset.
type ResponseLoader struct {
	docs *Loader
}

// NewResponseLoader constructs a response loader over store.
func NewResponseLoader(store blob.Store, opts ...Option) *ResponseLoader {
	return &ResponseLoader{docs: NewLoader(store, opts...)}
}

// GetResponses implements respondents.ResponseLoader. A subset without a
// responses document has no respondents.
func (r *ResponseLoader) GetResponses(ctx context.Context, subset domain.Subset, fields []*schema.Descriptor) ([]respondents.ResponseFieldData, error) {
	var records []respondents.ResponseRecord
	found, err := r.docs.ReadDocument(ctx, ResponsesPrefix+subset.ID, &records)
	if err != nil {
		return nil, err
	}
	if !found {
		r.docs.logger.Warn("no responses document for subset", "subset", subset.ID)
	}
	return respondents.ResolveRecords(records, fields), nil
}
