package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"kpiwatch-backend/internal/alerts"
)

type okResponse struct {
	Ok   bool `json:"ok"`
	Data any  `json:"data"`
}

type errorResponse struct {
	Ok      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, okResponse{Ok: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Ok: false, Code: code, Message: message})
}

// writeError maps the typed domain errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger().Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeFailure(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, alerts.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, alerts.ErrNotImplemented):
		return http.StatusBadRequest, "NOT_IMPLEMENTED"
	case errors.Is(err, alerts.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, alerts.ErrNoData):
		return http.StatusUnprocessableEntity, "NO_DATA"
	case errors.Is(err, alerts.ErrDataSource):
		return http.StatusBadGateway, "DATA_SOURCE_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
