// Package report builds monthly reports and chart aggregations from the
// cost ledger, converting totals with freshly fetched exchange rates.
package report

import (
	"context"
	"fmt"
	"log/slog"

	"costbook/internal/core"
	"costbook/internal/storage"
)

// RateSource yields the rate table used for one computation. The table is
// fetched once up front and reused for every item, so rates cannot change
// mid-scan.
type RateSource interface {
	FetchRates(ctx context.Context) (core.RateTable, error)
}

// Engine orchestrates ledger scans and currency conversion.
type Engine struct {
	store *storage.LedgerStore
	rates RateSource
}

func NewEngine(store *storage.LedgerStore, rates RateSource) *Engine {
	return &Engine{store: store, rates: rates}
}

// MonthlyReport lists the costs recorded in year/month in their original
// currencies, plus a grand total converted into currency. Items follow
// scan order; only the total is converted.
func (e *Engine) MonthlyReport(ctx context.Context, year, month int, currency core.Currency) (core.Report, error) {
	report := core.Report{
		Year:  year,
		Month: month,
		Costs: []core.Cost{},
		Total: core.Total{Currency: currency},
	}

	rates, err := e.rates.FetchRates(ctx)
	if err != nil {
		return core.Report{}, fmt.Errorf("monthly report: %w", err)
	}

	cur, err := e.store.ScanCosts(ctx)
	if err != nil {
		return core.Report{}, fmt.Errorf("monthly report: %w", err)
	}
	defer cur.Close()

	for cur.Next() {
		c := cur.Cost()
		if c.Date.Year != year || c.Date.Month != month {
			continue
		}
		converted, err := core.Convert(c.Sum, c.Currency, currency, rates)
		if err != nil {
			return core.Report{}, fmt.Errorf("monthly report: convert cost %d: %w", c.ID, err)
		}
		report.Costs = append(report.Costs, c)
		report.Total.Total += converted
	}
	if err := cur.Err(); err != nil {
		return core.Report{}, fmt.Errorf("monthly report: %w", err)
	}

	slog.DebugContext(ctx, "Monthly report computed",
		"year", year, "month", month, "currency", currency, "costs", len(report.Costs))

	return report, nil
}

// CategoryBreakdown sums converted amounts per category for year/month.
// Only categories with at least one matching cost appear, in first-seen
// scan order; absent categories are not zero-filled.
func (e *Engine) CategoryBreakdown(ctx context.Context, year, month int, currency core.Currency) ([]core.CategoryTotal, error) {
	rates, err := e.rates.FetchRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}

	cur, err := e.store.ScanCosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}
	defer cur.Close()

	totals := make(map[core.Category]float64)
	var order []core.Category

	for cur.Next() {
		c := cur.Cost()
		if c.Date.Year != year || c.Date.Month != month {
			continue
		}
		converted, err := core.Convert(c.Sum, c.Currency, currency, rates)
		if err != nil {
			return nil, fmt.Errorf("category breakdown: convert cost %d: %w", c.ID, err)
		}
		if _, seen := totals[c.Category]; !seen {
			order = append(order, c.Category)
		}
		totals[c.Category] += converted
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}

	out := make([]core.CategoryTotal, 0, len(order))
	for _, cat := range order {
		out = append(out, core.CategoryTotal{Category: cat, Total: totals[cat]})
	}
	return out, nil
}

// MonthlyTotals sums converted amounts for each month of year. The result
// always has twelve entries in calendar order, zero-filled for months with
// no costs, so it can back a chart with a fixed month axis.
func (e *Engine) MonthlyTotals(ctx context.Context, year int, currency core.Currency) ([]core.MonthTotal, error) {
	rates, err := e.rates.FetchRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("monthly totals: %w", err)
	}

	cur, err := e.store.ScanCosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("monthly totals: %w", err)
	}
	defer cur.Close()

	var totals [12]float64
	for cur.Next() {
		c := cur.Cost()
		if c.Date.Year != year {
			continue
		}
		converted, err := core.Convert(c.Sum, c.Currency, currency, rates)
		if err != nil {
			return nil, fmt.Errorf("monthly totals: convert cost %d: %w", c.ID, err)
		}
		totals[c.Date.Month-1] += converted
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("monthly totals: %w", err)
	}

	out := make([]core.MonthTotal, 12)
	for i, total := range totals {
		out[i] = core.MonthTotal{Month: i + 1, Total: total}
	}
	return out, nil
}
