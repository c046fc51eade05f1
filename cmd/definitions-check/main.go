// Command definitions-check validates a directory of definition documents:
// every document must decode strictly and the bundle must apply cleanly to an
// empty catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"surveycore/internal/blob"
	"surveycore/internal/core"
	"surveycore/internal/definitions"
	"surveycore/internal/entity"
	"surveycore/internal/observability"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("definitions-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var dir string
	var strict bool
	fs.StringVar(&dir, "dir", "definitions", "definitions directory")
	fs.BoolVar(&strict, "strict", false, "fail when applying the definitions logs warnings")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	warnings, err := run(context.Background(), dir, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Definitions validation failed: %v\n", err)
		return 1
	}
	if strict && warnings > 0 {
		_, _ = fmt.Fprintf(stderr, "Definitions validation failed: %d warning(s) in strict mode\n", warnings)
		return 1
	}
	if _, err := fmt.Fprintf(stdout, "Definitions validation passed (%d warning(s)).\n", warnings); err != nil {
		return 1
	}
	return 0
}

// validatePath keeps the checked directory inside the working tree.
func validatePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths not allowed: %s", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal not allowed: %s", p)
	}
	return clean, nil
}

func run(ctx context.Context, dir string, stderr io.Writer) (int, error) {
	safe, err := validatePath(dir)
	if err != nil {
		return 0, err
	}
	if info, err := os.Stat(safe); err != nil {
		return 0, fmt.Errorf("read definitions: %w", err)
	} else if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", safe)
	}
	store, err := blob.NewFilesystem(safe)
	if err != nil {
		return 0, err
	}
	logger := &countingLogger{Logger: observability.NewSlogLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))}

	bundle, err := definitions.NewLoader(store, definitions.WithLogger(logger)).Bundle(ctx)
	if err != nil {
		return 0, err
	}
	for i, cfg := range bundle.EntitySets {
		if _, err := entity.ParseInstanceIDs(cfg.Instances); err != nil {
			return 0, fmt.Errorf("entity_sets[%d] %q: %w", i, cfg.Name, err)
		}
	}
	svc := core.NewService(core.WithLogger(logger))
	if err := svc.Apply(ctx, bundle); err != nil {
		return 0, err
	}
	return int(logger.warnings.Load()), nil
}

type countingLogger struct {
	observability.Logger
	warnings atomic.Int64
}

func (c *countingLogger) Warn(msg string, args ...any) {
	c.warnings.Add(1)
	c.Logger.Warn(msg, args...)
}
