package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/leapstack-labs/laketower/internal/cli/config"
	"github.com/leapstack-labs/laketower/internal/query"
	"github.com/leapstack-labs/laketower/internal/tables"
)

// badRequestError marks invalid request parameters.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &badRequestError{err: fmt.Errorf(format, args...)}
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error to its HTTP status and kind.
func statusFor(err error) (int, string) {
	var br *badRequestError
	switch kind := tables.Kind(err); {
	case kind == tables.KindInvalidTable, kind == tables.KindVersionNotFound:
		return http.StatusNotFound, kind
	case kind == tables.KindQuery, kind == tables.KindParse:
		return http.StatusBadRequest, kind
	case kind == tables.KindImport:
		return http.StatusUnprocessableEntity, kind
	case errors.Is(err, config.ErrUnknownTable), errors.Is(err, config.ErrUnknownQuery):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &br):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, ""
	}
}

func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, kind := statusFor(err)
	reqID := middleware.GetReqID(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "request_id", reqID, "error", err)
	} else {
		logger.Debug("request rejected", "path", r.URL.Path, "request_id", reqID, "status", status, "error", err)
	}
	respondJSON(w, status, errorResponse{Error: err.Error(), Kind: kind, RequestID: reqID})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

type resultResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// respondResult writes res as JSON or, with format=csv, as CSV.
func respondResult(w http.ResponseWriter, r *http.Request, res *query.Result) {
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		cw := csv.NewWriter(w)
		_ = cw.Write(res.Columns)
		for _, row := range res.Rows {
			record := make([]string, len(row))
			for i, v := range row {
				if v != nil {
					record[i] = fmt.Sprint(cellValue(v))
				}
			}
			_ = cw.Write(record)
		}
		cw.Flush()
		return
	}

	rows := make([][]any, len(res.Rows))
	for i, row := range res.Rows {
		out := make([]any, len(row))
		for j, v := range row {
			out[j] = cellValue(v)
		}
		rows[i] = out
	}
	respondJSON(w, http.StatusOK, resultResponse{Columns: res.Columns, Rows: rows})
}

// cellValue converts engine values to JSON friendly ones.
func cellValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int8, int16, int32, int64, uint8, uint16, uint32, uint64, int, float32:
		return val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Sprint(val)
		}
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		if _, err := json.Marshal(val); err == nil {
			return val
		}
		return fmt.Sprint(val)
	}
}
