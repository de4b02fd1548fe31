// Package main provides an offline tool that rebuilds or verifies the
// customer view from the event store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lllypuk/cqrskit/internal/bootstrap"
	"github.com/lllypuk/cqrskit/internal/config"
	"github.com/lllypuk/cqrskit/internal/infrastructure/projector"
)

const reportFileMode = 0o600

var errInconsistent = errors.New("view is inconsistent, rebuild recommended")

// viewTool is the part of a query the tool drives.
type viewTool interface {
	Name() string
	Rebuild(ctx context.Context, loader projector.EventLoader, aggregateID string) error
	RebuildAll(ctx context.Context, source projector.HistorySource) (projector.RebuildReport, error)
	Verify(ctx context.Context, loader projector.EventLoader, aggregateID string) (bool, error)
}

// VerifyReport is written by -verify -all.
type VerifyReport struct {
	View         string    `json:"view"`
	GeneratedAt  time.Time `json:"generated_at"`
	Total        int       `json:"total"`
	Consistent   int       `json:"consistent"`
	Inconsistent []string  `json:"inconsistent"`
	Errors       []string  `json:"errors"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	aggregateID := flag.String("id", "", "Aggregate ID (omit with -all)")
	all := flag.Bool("all", false, "Process every aggregate in the store")
	verify := flag.Bool("verify", false, "Verify consistency instead of rebuilding")
	reportFile := flag.String("report", "", "File to write the verification report to (with -verify -all)")

	flag.Parse()

	if !*all && *aggregateID == "" {
		logger.Error("either -id or -all must be specified")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	container, err := bootstrap.NewContainer(ctx, cfg, bootstrap.WithLogger(logger))
	if err != nil {
		logger.Error("failed to initialize container", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runErr := run(ctx, container.CustomerQuery, container.CustomerStore, options{
		aggregateID: *aggregateID,
		all:         *all,
		verify:      *verify,
		reportFile:  *reportFile,
	}, logger)

	if closeErr := container.Close(); closeErr != nil {
		logger.Error("failed to close container", slog.String("error", closeErr.Error()))
	}

	if runErr != nil {
		logger.Error("operation failed", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
}

type options struct {
	aggregateID string
	all         bool
	verify      bool
	reportFile  string
}

func run(ctx context.Context, view viewTool, source projector.HistorySource, opts options, logger *slog.Logger) error {
	switch {
	case opts.verify && opts.all:
		report, err := verifyAll(ctx, view, source)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "verification completed",
			slog.String("view", report.View),
			slog.Int("total", report.Total),
			slog.Int("consistent", report.Consistent),
			slog.Int("inconsistent", len(report.Inconsistent)),
			slog.Int("errors", len(report.Errors)),
		)
		if opts.reportFile != "" {
			if writeErr := writeReport(opts.reportFile, report); writeErr != nil {
				return writeErr
			}
			logger.InfoContext(ctx, "report written", slog.String("file", opts.reportFile))
		}
		if len(report.Inconsistent) > 0 || len(report.Errors) > 0 {
			return errInconsistent
		}
		return nil

	case opts.verify:
		consistent, err := view.Verify(ctx, source, opts.aggregateID)
		if err != nil {
			return err
		}
		if !consistent {
			return errInconsistent
		}
		logger.InfoContext(ctx, "view is consistent", slog.String("aggregate_id", opts.aggregateID))
		return nil

	case opts.all:
		report, err := view.RebuildAll(ctx, source)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "rebuild all completed",
			slog.Int("total", report.Total),
			slog.Int("succeeded", report.Succeeded),
			slog.Int("failed", report.Failed),
		)
		if report.Failed > 0 {
			return fmt.Errorf("%d of %d views failed to rebuild", report.Failed, report.Total)
		}
		return nil

	default:
		if err := view.Rebuild(ctx, source, opts.aggregateID); err != nil {
			return err
		}
		logger.InfoContext(ctx, "rebuild completed", slog.String("aggregate_id", opts.aggregateID))
		return nil
	}
}

func verifyAll(ctx context.Context, view viewTool, source projector.HistorySource) (VerifyReport, error) {
	ids, err := source.AggregateIDs(ctx)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("list aggregates: %w", err)
	}

	report := VerifyReport{
		View:         view.Name(),
		GeneratedAt:  time.Now().UTC(),
		Total:        len(ids),
		Inconsistent: []string{},
		Errors:       []string{},
	}

	for _, id := range ids {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}

		consistent, verifyErr := view.Verify(ctx, source, id)
		switch {
		case verifyErr != nil:
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", id, verifyErr))
		case consistent:
			report.Consistent++
		default:
			report.Inconsistent = append(report.Inconsistent, id)
		}
	}

	return report, nil
}

func writeReport(path string, report VerifyReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if writeErr := os.WriteFile(path, data, reportFileMode); writeErr != nil {
		return fmt.Errorf("write report: %w", writeErr)
	}
	return nil
}
