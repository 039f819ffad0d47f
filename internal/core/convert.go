package core

import "fmt"

// RateTable maps a currency to its value in reference units (USD) per one
// unit of that currency. A table is fetched once per report computation and
// reused for every item in it.
type RateTable map[Currency]float64

// Convert converts amount from src to dst using the given rate table.
//
// Identity conversions return amount unchanged without touching the table,
// so no floating point noise is introduced and the table may even lack the
// currency. Any other conversion requires both currencies to carry a
// positive rate; a missing or non-positive entry is reported as
// ErrUnsupportedCurrency, since dividing by a zero rate would leak Inf
// into totals.
//
// The operation order (divide by the source rate, then multiply by the
// destination rate) is deliberate; do not refactor it into a single ratio,
// or rounding drifts from the recorded fixtures.
func Convert(amount float64, src, dst Currency, rates RateTable) (float64, error) {
	if src == dst {
		return amount, nil
	}
	if rates[src] <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, src)
	}
	if rates[dst] <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, dst)
	}
	return amount / rates[src] * rates[dst], nil
}
