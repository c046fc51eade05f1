// Command surveycore-inspect loads survey definitions, optionally loads
// respondents, and prints a summary of the resulting catalog.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"surveycore/internal/blob"
	"surveycore/internal/config"
	"surveycore/internal/core"
	"surveycore/internal/definitions"
	"surveycore/internal/export"
	"surveycore/internal/infra/persistence"
	"surveycore/internal/infra/persistence/postgres"
	"surveycore/internal/infra/persistence/sqlite"
	quotacache "surveycore/internal/infra/quotacache/redis"
	"surveycore/internal/observability"
	"surveycore/internal/respondents"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type options struct {
	envFile     string
	respondents bool
	format      string
	metrics     string
	export      bool
	trace       bool
}

func cli(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("surveycore-inspect", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var opts options
	flags.StringVar(&opts.envFile, "env", ".env", "dotenv file loaded before reading the environment")
	flags.BoolVar(&opts.respondents, "respondents", false, "load respondents of every enabled subset")
	flags.StringVar(&opts.format, "format", "text", "output format: text or json")
	flags.StringVar(&opts.metrics, "metrics", "expvar", "metrics recorder: expvar, prometheus or none")
	flags.BoolVar(&opts.trace, "trace", false, "write a JSON span per service operation to stderr")
	flags.BoolVar(&opts.export, "export", false, "write quota cell assignments of every enabled subset to the definitions store")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if err := run(context.Background(), opts, stdout, stderr); err != nil {
		_, _ = fmt.Fprintf(stderr, "surveycore-inspect: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", opts.envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewSlogLogger(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: observability.ParseLevel(cfg.LogLevel),
	})))

	var registry *prometheus.Registry
	var metrics observability.MetricsRecorder
	switch opts.metrics {
	case "prometheus":
		registry = prometheus.NewRegistry()
		if metrics, err = observability.NewPrometheusRecorder(registry, cfg.MetricsNamespace); err != nil {
			return err
		}
	case "expvar":
		metrics = observability.NewExpvarMetricsRecorder(cfg.MetricsNamespace)
	case "none":
		metrics = observability.NoopMetrics()
	default:
		return fmt.Errorf("unknown metrics recorder %q", opts.metrics)
	}

	store, err := blob.Open(ctx, cfg.Definitions)
	if err != nil {
		return fmt.Errorf("open definitions: %w", err)
	}
	bundle, err := definitions.NewLoader(store, definitions.WithLogger(logger)).Bundle(ctx)
	if err != nil {
		return err
	}

	svcOpts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithMaxCartesianProductSize(cfg.MaxCartesianProduct),
	}
	if opts.trace {
		svcOpts = append(svcOpts, core.WithTracer(observability.NewJSONTracer(stderr)))
	}
	catalog, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if catalog != nil {
		defer func() { _ = catalog.Close() }()
		svcOpts = append(svcOpts, core.WithSetConfigurationRepository(catalog))
	}
	if cfg.RedisURL != "" {
		cache, client, err := quotacache.New(ctx, cfg.RedisURL, quotacache.WithTTL(cfg.QuotaCacheTTL), quotacache.WithLogger(logger))
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		svcOpts = append(svcOpts, core.WithSourceOptions(respondents.WithQuotaCellCache(cache)))
	}

	svc := core.NewService(svcOpts...)
	if catalog != nil {
		if err := svc.LoadSubsets(ctx, catalog); err != nil {
			return err
		}
	}
	if err := svc.Apply(ctx, bundle); err != nil {
		return err
	}
	svc.UseRespondentFactory(svc.RespondentFactory(bundle, definitions.NewResponseLoader(store, definitions.WithLogger(logger))))
	if opts.respondents {
		if err := svc.LoadRespondents(ctx); err != nil {
			return err
		}
	}

	var exported []export.Record
	if opts.export {
		if exported, err = exportAll(ctx, svc, store, logger); err != nil {
			return err
		}
	}

	summary := svc.Summary()
	if opts.format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	if err := printSummary(stdout, summary); err != nil {
		return err
	}
	for _, rec := range exported {
		for _, a := range rec.Artifacts {
			_, _ = fmt.Fprintf(stdout, "exported %s (%d bytes)\n", a.Info.Key, a.Info.Size)
		}
	}
	if registry != nil {
		return printCounters(stdout, registry)
	}
	return nil
}

func exportAll(ctx context.Context, svc *core.Service, store blob.Store, logger observability.Logger) ([]export.Record, error) {
	worker := export.NewWorker(svc, store, export.WithLogger(logger))
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	var out []export.Record
	for _, subset := range svc.Subsets().All() {
		if subset.Disabled {
			continue
		}
		queued, err := worker.Enqueue(ctx, subset.ID)
		if err != nil {
			return nil, err
		}
		rec, err := worker.Wait(ctx, queued.ID)
		if err != nil {
			return nil, err
		}
		if rec.Status == export.StatusFailed {
			return nil, fmt.Errorf("export %s: %s", subset.ID, rec.Error)
		}
		out = append(out, rec)
	}
	return out, nil
}

// openCatalog returns nil when configurations live in memory.
func openCatalog(ctx context.Context, cfg config.Config, logger observability.Logger) (*persistence.Catalog, error) {
	switch strings.ToLower(cfg.ConfigDriver) {
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath, persistence.WithLogger(logger))
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN, persistence.WithLogger(logger))
	default:
		return nil, nil
	}
}

func printSummary(w io.Writer, s core.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "entity types\t%d\n", s.EntityTypes)
	_, _ = fmt.Fprintf(tw, "instances\t%d\n", s.Instances)
	_, _ = fmt.Fprintf(tw, "entity sets\t%d\n", s.EntitySets)
	_, _ = fmt.Fprintf(tw, "fields\t%d\n", s.Fields)
	_, _ = fmt.Fprintln(tw)
	_, _ = fmt.Fprintln(tw, "SUBSET\tSTATE\tRESPONDENTS\tEXCLUDED\tQUOTA CELLS\tUNWEIGHTED")
	for _, sub := range s.Subsets {
		state := "not loaded"
		switch {
		case sub.Disabled:
			state = "disabled"
		case sub.Loaded:
			state = "loaded"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n", sub.ID, state, sub.Respondents, sub.Excluded, sub.QuotaCells, sub.Unweighted)
	}
	return tw.Flush()
}

func printCounters(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		var total float64
		counter := false
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				counter = true
				total += c.GetValue()
			}
		}
		if counter {
			lines = append(lines, fmt.Sprintf("%s %g", mf.GetName(), total))
		}
	}
	sort.Strings(lines)
	_, err = fmt.Fprintln(w, "\n"+strings.Join(lines, "\n"))
	return err
}
