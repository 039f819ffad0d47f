package rates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"costbook/internal/core"
)

// memSettings is an in-memory stand-in for the persisted settings store.
type memSettings struct {
	values map[string]string
	err    error
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (m *memSettings) Setting(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[key], nil
}

func (m *memSettings) PutSetting(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func testProvider(t *testing.T, body string, status int, opts ...Option) (*Provider, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	settings := newMemSettings()
	settings.values[settingKey] = srv.URL

	opts = append([]Option{WithAttempts(1)}, opts...)
	return NewProvider(settings, opts...), srv
}

func TestFetchRatesNestedShape(t *testing.T) {
	p, _ := testProvider(t, `{"base":"USD","rates":{"USD":1,"GBP":1.8,"EUR":0.9,"ILS":3.4,"JPY":150}}`, http.StatusOK)

	table, err := p.FetchRates(context.Background())
	if err != nil {
		t.Fatalf("FetchRates() error = %v", err)
	}

	want := core.RateTable{core.USD: 1, core.GBP: 1.8, core.EURO: 0.9, core.ILS: 3.4}
	if len(table) != len(want) {
		t.Fatalf("table has %d entries, want %d (extra keys must be dropped)", len(table), len(want))
	}
	for c, v := range want {
		if table[c] != v {
			t.Errorf("table[%s] = %v, want %v", c, table[c], v)
		}
	}
}

func TestFetchRatesFlatShape(t *testing.T) {
	p, _ := testProvider(t, `{"USD":1,"GBP":1.8,"EURO":0.7,"ILS":3.4}`, http.StatusOK)

	table, err := p.FetchRates(context.Background())
	if err != nil {
		t.Fatalf("FetchRates() error = %v", err)
	}
	if table[core.EURO] != 0.7 {
		t.Errorf("table[EURO] = %v, want 0.7", table[core.EURO])
	}
}

func TestFetchRatesPrefersEUROOverEUR(t *testing.T) {
	p, _ := testProvider(t, `{"USD":1,"GBP":1.8,"EURO":0.7,"EUR":0.9,"ILS":3.4}`, http.StatusOK)

	table, err := p.FetchRates(context.Background())
	if err != nil {
		t.Fatalf("FetchRates() error = %v", err)
	}
	if table[core.EURO] != 0.7 {
		t.Errorf("table[EURO] = %v, want the EURO key to win over EUR", table[core.EURO])
	}
}

func TestFetchRatesMissingCurrencies(t *testing.T) {
	p, _ := testProvider(t, `{"USD":1,"GBP":1.8}`, http.StatusOK)

	_, err := p.FetchRates(context.Background())
	if !errors.Is(err, core.ErrInvalidRateStructure) {
		t.Fatalf("FetchRates() error = %v, want ErrInvalidRateStructure", err)
	}

	var structErr *StructureError
	if !errors.As(err, &structErr) {
		t.Fatalf("error is not a *StructureError: %v", err)
	}
	if got := strings.Join(structErr.Keys, ","); got != "EURO,ILS" {
		t.Errorf("offending keys = %q, want %q", got, "EURO,ILS")
	}
}

func TestFetchRatesNonNumericValue(t *testing.T) {
	p, _ := testProvider(t, `{"USD":1,"GBP":"1.8","EURO":0.7,"ILS":3.4}`, http.StatusOK)

	_, err := p.FetchRates(context.Background())
	if !errors.Is(err, core.ErrInvalidRateStructure) {
		t.Errorf("FetchRates() error = %v, want ErrInvalidRateStructure", err)
	}
}

func TestFetchRatesRejectsNonPositiveRates(t *testing.T) {
	// A zero rate would turn every conversion out of that currency into
	// Inf, so it is as unusable as a missing key.
	tests := []struct {
		name string
		body string
		keys string
	}{
		{"zero rate", `{"USD":0,"GBP":1.8,"EURO":0.7,"ILS":3.4}`, "USD"},
		{"negative rate", `{"USD":1,"GBP":1.8,"EURO":-0.7,"ILS":3.4}`, "EURO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := testProvider(t, tt.body, http.StatusOK)

			_, err := p.FetchRates(context.Background())
			if !errors.Is(err, core.ErrInvalidRateStructure) {
				t.Fatalf("FetchRates() error = %v, want ErrInvalidRateStructure", err)
			}

			var structErr *StructureError
			if !errors.As(err, &structErr) {
				t.Fatalf("error is not a *StructureError: %v", err)
			}
			if got := strings.Join(structErr.Keys, ","); got != tt.keys {
				t.Errorf("offending keys = %q, want %q", got, tt.keys)
			}
		})
	}
}

func TestFetchRatesHTTPFailure(t *testing.T) {
	p, _ := testProvider(t, `oops`, http.StatusInternalServerError)

	_, err := p.FetchRates(context.Background())
	if !errors.Is(err, core.ErrFetch) {
		t.Errorf("FetchRates() error = %v, want ErrFetch", err)
	}
	if errors.Is(err, core.ErrInvalidRateStructure) {
		t.Error("transport failure must not look like a structure failure")
	}
}

func TestFetchRatesFallback(t *testing.T) {
	t.Run("transport failure serves fallback", func(t *testing.T) {
		p, _ := testProvider(t, ``, http.StatusBadGateway, WithFallback(true))

		table, err := p.FetchRates(context.Background())
		if err != nil {
			t.Fatalf("FetchRates() error = %v, want fallback table", err)
		}
		if table[core.GBP] != 1.8 || table[core.ILS] != 3.4 {
			t.Errorf("fallback table = %v", table)
		}
	})

	t.Run("structure failure still propagates", func(t *testing.T) {
		p, _ := testProvider(t, `{"USD":1}`, http.StatusOK, WithFallback(true))

		_, err := p.FetchRates(context.Background())
		if !errors.Is(err, core.ErrInvalidRateStructure) {
			t.Errorf("FetchRates() error = %v, want ErrInvalidRateStructure", err)
		}
	})
}

func TestFetchRatesRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"USD":1,"GBP":1.8,"EURO":0.7,"ILS":3.4}`))
	}))
	defer srv.Close()

	settings := newMemSettings()
	settings.values[settingKey] = srv.URL
	p := NewProvider(settings, WithAttempts(2))

	if _, err := p.FetchRates(context.Background()); err != nil {
		t.Fatalf("FetchRates() error = %v, want retry to succeed", err)
	}
	if hits.Load() != 2 {
		t.Errorf("source hit %d times, want 2", hits.Load())
	}
}

func TestFetchRatesBypassesIntermediateCaches(t *testing.T) {
	var header atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("Cache-Control"))
		_, _ = w.Write([]byte(`{"USD":1,"GBP":1.8,"EURO":0.7,"ILS":3.4}`))
	}))
	defer srv.Close()

	settings := newMemSettings()
	settings.values[settingKey] = srv.URL
	p := NewProvider(settings, WithAttempts(1))

	if _, err := p.FetchRates(context.Background()); err != nil {
		t.Fatalf("FetchRates() error = %v", err)
	}
	if got, _ := header.Load().(string); !strings.Contains(got, "no-cache") {
		t.Errorf("Cache-Control header = %q, want no-cache", got)
	}
}

func TestFetchRatesCacheTTL(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"USD":1,"GBP":1.8,"EURO":0.7,"ILS":3.4}`))
	}))
	defer srv.Close()

	settings := newMemSettings()
	settings.values[settingKey] = srv.URL
	p := NewProvider(settings, WithAttempts(1), WithCacheTTL(time.Minute))

	for i := 0; i < 3; i++ {
		if _, err := p.FetchRates(context.Background()); err != nil {
			t.Fatalf("FetchRates() error = %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("source hit %d times with cache enabled, want 1", hits.Load())
	}
}

func TestURLDefaultAndOverride(t *testing.T) {
	settings := newMemSettings()
	p := NewProvider(settings)
	ctx := context.Background()

	got, err := p.URL(ctx)
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if got != DefaultURL {
		t.Errorf("URL() = %q, want default", got)
	}

	if err := p.SetURL(ctx, "https://rates.example.com/latest"); err != nil {
		t.Fatalf("SetURL() error = %v", err)
	}
	got, err = p.URL(ctx)
	if err != nil {
		t.Fatalf("URL() error = %v", err)
	}
	if got != "https://rates.example.com/latest" {
		t.Errorf("URL() = %q after SetURL", got)
	}
}

func TestSetURLRejectsInvalid(t *testing.T) {
	p := NewProvider(newMemSettings())

	for _, bad := range []string{"", "not a url", "ftp://rates.example.com"} {
		err := p.SetURL(context.Background(), bad)
		if err == nil {
			t.Errorf("SetURL(%q) accepted an invalid url", bad)
		}
		if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("SetURL(%q) error = %v, want ErrInvalidURL", bad, err)
		}
	}
}

func TestSetURLSurfacesStorageFailure(t *testing.T) {
	settings := newMemSettings()
	settings.err = core.ErrStoreNotReady
	p := NewProvider(settings)

	err := p.SetURL(context.Background(), "https://rates.example.com/latest")
	if !errors.Is(err, core.ErrStoreNotReady) {
		t.Errorf("SetURL() error = %v, want ErrStoreNotReady", err)
	}
	if errors.Is(err, ErrInvalidURL) {
		t.Errorf("storage failure reported as an invalid url: %v", err)
	}
}

func TestFetchRatesConcurrentCallersGetIndependentTables(t *testing.T) {
	// Slow the source down so concurrent calls collapse into one fetch,
	// then check that mutating one caller's table leaves the other intact.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(`{"USD":1,"GBP":1.8,"EURO":0.7,"ILS":3.4}`))
	}))
	t.Cleanup(srv.Close)

	settings := newMemSettings()
	settings.values[settingKey] = srv.URL
	p := NewProvider(settings, WithAttempts(1))

	var wg sync.WaitGroup
	tables := make([]core.RateTable, 2)
	for i := range tables {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			table, err := p.FetchRates(context.Background())
			if err != nil {
				t.Errorf("FetchRates() error = %v", err)
				return
			}
			tables[i] = table
		}(i)
	}
	wg.Wait()

	if t.Failed() {
		return
	}
	delete(tables[0], core.USD)
	if _, ok := tables[1][core.USD]; !ok {
		t.Error("mutating one caller's table changed another caller's table")
	}
}
