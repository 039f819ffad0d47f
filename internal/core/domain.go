package core

import (
	"errors"
	"time"
)

// Supported currencies. Rate tables express each currency's value in
// reference units (USD) per one unit of that currency.
const (
	USD  Currency = "USD"
	GBP  Currency = "GBP"
	EURO Currency = "EURO"
	ILS  Currency = "ILS"
)

// Cost categories.
const (
	Food      Category = "Food"
	Car       Category = "Car"
	Education Category = "Education"
	Home      Category = "Home"
	Health    Category = "Health"
	Leisure   Category = "Leisure"
	Other     Category = "Other"
)

type (
	Currency string

	Category string

	// Date is the calendar triple stamped on a cost at insertion time.
	Date struct {
		Year  int `json:"year"`
		Month int `json:"month"`
		Day   int `json:"day"`
	}

	// Cost is one ledger entry. Once inserted it is never updated or
	// deleted; the ledger is append-only.
	Cost struct {
		ID          int64    `json:"id"`
		Sum         float64  `json:"sum"`
		Currency    Currency `json:"currency"`
		Category    Category `json:"category"`
		Description string   `json:"description"`
		Date        Date     `json:"date"`
	}

	// NewCost is the caller-supplied part of a cost. The store assigns
	// the id and stamps the date from the current wall clock.
	NewCost struct {
		Sum         float64  `json:"sum"`
		Currency    Currency `json:"currency"`
		Category    Category `json:"category"`
		Description string   `json:"description"`
	}

	// Total is a converted grand total in a target currency.
	Total struct {
		Currency Currency `json:"currency"`
		Total    float64  `json:"total"`
	}

	// Report lists the costs of one year/month in their original
	// currencies plus a single converted total.
	Report struct {
		Year  int    `json:"year"`
		Month int    `json:"month"`
		Costs []Cost `json:"costs"`
		Total Total  `json:"total"`
	}

	// CategoryTotal is one slice of the per-category aggregation.
	CategoryTotal struct {
		Category Category `json:"category"`
		Total    float64  `json:"total"`
	}

	// MonthTotal is one bar of the per-month aggregation.
	MonthTotal struct {
		Month int     `json:"month"`
		Total float64 `json:"total"`
	}
)

var (
	ErrStoreNotReady        = errors.New("store not ready")
	ErrRead                 = errors.New("read failed")
	ErrWrite                = errors.New("write failed")
	ErrFetch                = errors.New("rate fetch failed")
	ErrInvalidRateStructure = errors.New("invalid rate structure")
	ErrUnsupportedCurrency  = errors.New("unsupported currency")

	ErrInvalidSum      = errors.New("invalid sum")
	ErrInvalidCategory = errors.New("invalid category")
)

// Currencies lists every supported currency, in rate-table validation order.
var Currencies = []Currency{USD, GBP, EURO, ILS}

// Categories lists every supported category.
var Categories = []Category{Food, Car, Education, Home, Health, Leisure, Other}

func (c Currency) Valid() bool {
	switch c {
	case USD, GBP, EURO, ILS:
		return true
	}
	return false
}

func (c Category) Valid() bool {
	switch c {
	case Food, Car, Education, Home, Health, Leisure, Other:
		return true
	}
	return false
}

// DateOf truncates a wall-clock instant to its calendar triple.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

func (n NewCost) Validate() error {
	if n.Sum <= 0 {
		return ErrInvalidSum
	}
	if !n.Currency.Valid() {
		return ErrUnsupportedCurrency
	}
	if !n.Category.Valid() {
		return ErrInvalidCategory
	}
	return nil
}
