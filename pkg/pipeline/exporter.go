// Package pipeline runs a full registry export: count, page walk,
// detail fetch and transform for every item, collected into one table.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/mit-registry-export/pkg/export"
	"github.com/Sternrassler/mit-registry-export/pkg/pagination"
	"github.com/Sternrassler/mit-registry-export/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the OpenTelemetry instrumentation name used for run spans.
const TracerName = "github.com/Sternrassler/mit-registry-export/pkg/pipeline"

// Prometheus metrics for export runs.
var (
	mitRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mit_rows_total",
		Help: "Total output rows by result",
	}, []string{"result"}) // "ok", "error"

	mitPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mit_pages_total",
		Help: "Total listing pages processed",
	})

	mitRegistryItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mit_registry_items",
		Help: "Item count reported by the registry for the current run",
	})
)

// Source is the registry as seen by the exporter. *pagination.Driver
// implements it.
type Source interface {
	Count(ctx context.Context) (int, error)
	Walk(ctx context.Context, total int, visit func(pagination.Page) error) error
	Detail(ctx context.Context, id string) ([]byte, error)
}

// Stats summarises a run.
type Stats struct {
	Total            int
	Pages            int
	Details          int
	Rows             int
	ExtractionErrors int
	Started          time.Time
	Finished         time.Time
}

// Duration returns the wall time of the run.
func (s Stats) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Result is the outcome of a successful run.
type Result struct {
	Table *export.Table
	Stats Stats
}

// Exporter drives one export run.
type Exporter struct {
	source   Source
	progress Progress
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithProgress reports milestones to p.
func WithProgress(p Progress) Option {
	return func(e *Exporter) {
		e.progress = p
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger.With().Str("component", "pipeline").Logger()
	}
}

// NewExporter creates an exporter reading from source.
func NewExporter(source Source, opts ...Option) *Exporter {
	e := &Exporter{
		source:   source,
		progress: NopProgress{},
		logger:   log.With().Str("component", "pipeline").Logger(),
		tracer:   otel.Tracer(TracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run fetches the whole registry. Every listed item yields exactly one
// row in listing order; items whose data cannot be extracted yield the
// sentinel row. Run fails only when the count is unavailable, a listing
// is malformed, or ctx is cancelled; the table is discarded in that case.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "mit.export")
	defer span.End()

	stats := Stats{Started: e.now()}
	e.progress.Start(stats.Started)

	total, err := e.source.Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count")
		return nil, fmt.Errorf("count: %w", err)
	}
	stats.Total = total
	mitRegistryItems.Set(float64(total))
	span.SetAttributes(attribute.Int("mit.count", total))
	e.progress.Count(total)

	e.logger.Info().Int("count", total).Msg("Starting export")

	table := export.NewTable(total)
	err = e.source.Walk(ctx, total, func(page pagination.Page) error {
		e.progress.PageStart(page.Number, page.Total)

		for _, raw := range page.Items {
			row, fetched, err := e.item(ctx, raw)
			if err != nil {
				return err
			}
			if fetched {
				stats.Details++
			}
			if !row.OK() {
				stats.ExtractionErrors++
				mitRowsTotal.WithLabelValues("error").Inc()
				e.logger.Warn().
					Str("item_id", row.ItemID).
					Int("page", page.Number).
					Err(row.Err.Err).
					Msg("Item data could not be extracted")
			} else {
				mitRowsTotal.WithLabelValues("ok").Inc()
			}
			table.Append(row)
			e.progress.Item(row)
		}

		stats.Pages++
		mitPagesTotal.Inc()
		e.progress.PageDone(page.Number, page.Total)
		e.logger.Debug().
			Int("page", page.Number).
			Int("pages", page.Total).
			Int("rows", table.Len()).
			Msg("Page processed")
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "walk")
		return nil, fmt.Errorf("walk: %w", err)
	}

	stats.Rows = table.Len()
	stats.Finished = e.now()
	span.SetAttributes(
		attribute.Int("mit.rows", stats.Rows),
		attribute.Int("mit.extraction_errors", stats.ExtractionErrors),
	)
	span.SetStatus(codes.Ok, "")

	e.logger.Info().
		Int("rows", stats.Rows).
		Int("pages", stats.Pages).
		Int("extraction_errors", stats.ExtractionErrors).
		Dur("duration", stats.Duration()).
		Msg("Export run complete")

	return &Result{Table: table, Stats: stats}, nil
}

// item fetches and transforms one summary item. A summary without a
// usable mit_id gets the sentinel row without a detail request.
func (e *Exporter) item(ctx context.Context, raw []byte) (registry.Row, bool, error) {
	summary, decodeErr := registry.DecodeSummary(raw)
	if summary.MitID == "" {
		return registry.Failed("", decodeErr), false, nil
	}

	detail, err := e.source.Detail(ctx, summary.MitID)
	if err != nil {
		return registry.Row{}, false, err
	}
	if decodeErr != nil {
		return registry.Failed(summary.MitID, decodeErr), true, nil
	}
	return registry.Transform(summary, detail), true, nil
}

// Export writes the result table to path and reports the finish marker.
func (e *Exporter) Export(result *Result, path string) error {
	if err := export.Export(result.Table, path); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	e.progress.Finish(e.now())

	e.logger.Info().
		Str("path", path).
		Int("rows", result.Table.Len()).
		Msg("Spreadsheet written")
	return nil
}
