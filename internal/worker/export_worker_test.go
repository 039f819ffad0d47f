package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"costbook/internal/amqp"
	"costbook/internal/core"
	"costbook/internal/report"
	"costbook/internal/storage"
)

type staticRates struct{ table core.RateTable }

func (s staticRates) FetchRates(context.Context) (core.RateTable, error) {
	return s.table, nil
}

type captureExporter struct {
	reports []core.Report
	err     error
}

func (c *captureExporter) ExportReport(_ context.Context, r core.Report) error {
	if c.err != nil {
		return c.err
	}
	c.reports = append(c.reports, r)
	return nil
}

func TestHandleCostEventExportsAffectedMonth(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "costs.db"), nil,
		storage.WithClock(func() time.Time {
			return time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
		}))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	cost, err := store.InsertCost(context.Background(), core.NewCost{
		Sum: 50, Currency: core.USD, Category: core.Food, Description: "lunch",
	})
	if err != nil {
		t.Fatalf("InsertCost() error = %v", err)
	}

	engine := report.NewEngine(store, staticRates{table: core.RateTable{
		core.USD: 1, core.GBP: 1.8, core.EURO: 0.7, core.ILS: 3.4,
	}})
	exporter := &captureExporter{}
	w := NewExportWorker(engine, exporter, core.USD)

	msg := amqp.NewCostEventMessage(cost.ID, cost.Date.Year, cost.Date.Month)
	if err := w.HandleCostEvent(context.Background(), msg); err != nil {
		t.Fatalf("HandleCostEvent() error = %v", err)
	}

	if len(exporter.reports) != 1 {
		t.Fatalf("exported %d reports, want 1", len(exporter.reports))
	}
	got := exporter.reports[0]
	if got.Year != 2024 || got.Month != 3 {
		t.Errorf("exported report key = %d/%d, want 2024/3", got.Year, got.Month)
	}
	if got.Total.Total != 50 {
		t.Errorf("exported total = %v, want 50", got.Total.Total)
	}
}

func TestHandleCostEventExporterFailure(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "costs.db"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	engine := report.NewEngine(store, staticRates{table: core.RateTable{
		core.USD: 1, core.GBP: 1.8, core.EURO: 0.7, core.ILS: 3.4,
	}})
	w := NewExportWorker(engine, &captureExporter{err: errors.New("quota exceeded")}, core.USD)

	msg := amqp.NewCostEventMessage(1, 2024, 3)
	if err := w.HandleCostEvent(context.Background(), msg); err == nil {
		t.Error("HandleCostEvent() should surface exporter failures so the event is requeued")
	}
}
