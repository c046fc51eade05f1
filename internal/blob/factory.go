package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"surveycore/internal/config"
	fsstore "surveycore/internal/infra/blob/fs"
	memorystore "surveycore/internal/infra/blob/memory"
	s3store "surveycore/internal/infra/blob/s3"
)

// Open selects a Store from the definitions configuration.
func Open(ctx context.Context, cfg config.Definitions) (Store, error) {
	switch Driver(strings.ToLower(cfg.Driver)) {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return s3store.New(ctx, s3store.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem returns a store rooted at root.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// ReadAll returns the content of key.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, Info, error) {
	info, rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, Info{}, err
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, Info{}, err
	}
	return b, info, nil
}

// PutBytes stores content under key.
func PutBytes(ctx context.Context, s Store, key string, content []byte) (Info, error) {
	return s.Put(ctx, key, bytes.NewReader(content), PutOptions{})
}

// IsNotFound reports whether err marks a missing document.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
