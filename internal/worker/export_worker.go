// Package worker reacts to cost events by re-exporting the affected
// month's report to the configured destination.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"costbook/internal/amqp"
	"costbook/internal/core"
	"costbook/internal/report"
)

// ReportExporter is the destination a refreshed report gets pushed to.
// Satisfied by *export.SheetsExporter.
type ReportExporter interface {
	ExportReport(ctx context.Context, report core.Report) error
}

// ExportWorker recomputes and exports one monthly report per cost event.
type ExportWorker struct {
	engine   *report.Engine
	exporter ReportExporter
	currency core.Currency
}

func NewExportWorker(engine *report.Engine, exporter ReportExporter, currency core.Currency) *ExportWorker {
	return &ExportWorker{
		engine:   engine,
		exporter: exporter,
		currency: currency,
	}
}

// HandleCostEvent refreshes the report for the event's year/month and
// pushes it to the exporter. Returning an error requeues the event.
func (w *ExportWorker) HandleCostEvent(ctx context.Context, msg *amqp.CostEventMessage) error {
	slog.InfoContext(ctx, "Processing cost event",
		"id", msg.ID,
		"year", msg.Year,
		"month", msg.Month)

	rpt, err := w.engine.MonthlyReport(ctx, msg.Year, msg.Month, w.currency)
	if err != nil {
		return fmt.Errorf("compute report for event %d: %w", msg.ID, err)
	}

	if err := w.exporter.ExportReport(ctx, rpt); err != nil {
		return fmt.Errorf("export report for event %d: %w", msg.ID, err)
	}

	return nil
}
