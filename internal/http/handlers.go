package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"costbook/internal/core"
	"costbook/internal/rates"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// statusForError maps the core error taxonomy onto HTTP. Structure
// failures get their own code so the UI can hint at a misconfigured rate
// source instead of a generic network problem.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidRateStructure):
		return http.StatusBadGateway, "invalid_rate_structure"
	case errors.Is(err, core.ErrFetch):
		return http.StatusBadGateway, "rate_fetch_failed"
	case errors.Is(err, core.ErrUnsupportedCurrency):
		return http.StatusBadRequest, "unsupported_currency"
	case errors.Is(err, core.ErrStoreNotReady):
		return http.StatusServiceUnavailable, "store_not_ready"
	case errors.Is(err, core.ErrInvalidSum), errors.Is(err, core.ErrInvalidCategory):
		return http.StatusUnprocessableEntity, "invalid_cost"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var n core.NewCost
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_body", "body must be a JSON cost")
		return
	}
	n.Description = strings.TrimSpace(n.Description)

	cost, err := s.costs.RecordCost(r.Context(), n)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to record cost", "error", err)
		status, code := statusForError(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, cost)
}

// parseReportQuery reads year, month and currency query parameters,
// defaulting to the current month in USD.
func parseReportQuery(r *http.Request) (year, month int, currency core.Currency, err error) {
	now := time.Now()
	year = now.Year()
	month = int(now.Month())
	currency = core.USD

	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("year")); v != "" {
		if year, err = strconv.Atoi(v); err != nil {
			return 0, 0, "", errors.New("year must be a number")
		}
	}
	if v := strings.TrimSpace(q.Get("month")); v != "" {
		if month, err = strconv.Atoi(v); err != nil || month < 1 || month > 12 {
			return 0, 0, "", errors.New("month must be a number between 1 and 12")
		}
	}
	if v := strings.TrimSpace(q.Get("currency")); v != "" {
		currency = core.Currency(v)
		if !currency.Valid() {
			return 0, 0, "", errors.New("unsupported currency " + v)
		}
	}
	return year, month, currency, nil
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	year, month, currency, err := parseReportQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_query", err.Error())
		return
	}

	rpt, err := s.engine.MonthlyReport(r.Context(), year, month, currency)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to build report",
			"error", err, "year", year, "month", month)
		status, code := statusForError(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rpt)
}

func (s *Server) handleCategoryChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	year, month, currency, err := parseReportQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_query", err.Error())
		return
	}

	breakdown, err := s.engine.CategoryBreakdown(r.Context(), year, month, currency)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to build category chart", "error", err)
		status, code := statusForError(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, breakdown)
}

func (s *Server) handleMonthChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	year, _, currency, err := parseReportQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_query", err.Error())
		return
	}

	totals, err := s.engine.MonthlyTotals(r.Context(), year, currency)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to build month chart", "error", err)
		status, code := statusForError(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, totals)
}

type ratesURLBody struct {
	URL string `json:"url"`
}

func (s *Server) handleRatesURL(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		u, err := s.rates.URL(r.Context())
		if err != nil {
			status, code := statusForError(err)
			writeError(w, status, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, ratesURLBody{URL: u})

	case http.MethodPut:
		var body ratesURLBody
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed_body", "body must be a JSON object with a url")
			return
		}
		if err := s.rates.SetURL(r.Context(), body.URL); err != nil {
			if errors.Is(err, rates.ErrInvalidURL) {
				writeError(w, http.StatusBadRequest, "invalid_url", err.Error())
				return
			}
			slog.ErrorContext(r.Context(), "Failed to persist rates URL", "error", err)
			status, code := statusForError(err)
			writeError(w, status, code, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or PUT")
	}
}
