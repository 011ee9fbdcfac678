package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// envelope is the body shape shared by every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, status int, data any, msg string) {
	writeJSON(w, status, envelope{Success: true, Data: data, Message: msg})
}

func writeError(w http.ResponseWriter, status int, errText, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: errText, Message: msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *scrape.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "Validation failed", verr.Error())
	case errors.Is(err, scrape.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", "")
	default:
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
	}
}

func parsePage(r *http.Request) (scrape.Page, error) {
	q := r.URL.Query()
	page := scrape.Page{Page: 1, Limit: defaultPageLimit}
	if raw := q.Get("page"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 {
			return scrape.Page{}, &scrape.ValidationError{Field: "page", Reason: "must be a positive integer"}
		}
		page.Page = val
	}
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 {
			return scrape.Page{}, &scrape.ValidationError{Field: "limit", Reason: "must be a positive integer"}
		}
		page.Limit = min(val, maxPageLimit)
	}
	return page, nil
}

func parseStatus(raw string) (scrape.JobStatus, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	status := scrape.JobStatus(raw)
	if !status.Valid() {
		return "", &scrape.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", raw)}
	}
	return status, nil
}

func parseMediaType(raw string) (scrape.MediaType, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	mt := scrape.MediaType(raw)
	if !mt.Valid() {
		return "", &scrape.ValidationError{Field: "type", Reason: "must be image or video"}
	}
	return mt, nil
}
