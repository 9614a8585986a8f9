package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"autorun/internal/account"
	"autorun/internal/autorun"
	"autorun/internal/interaction"
	"autorun/internal/platform"
	"autorun/internal/scheduler"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func queryUint(r *http.Request, key string) uint64 {
	v, _ := strconv.ParseUint(r.URL.Query().Get(key), 10, 64)
	return v
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}

type page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interaction.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]any{"status": "busy", "error": err.Error()})
	case errors.Is(err, autorun.ErrNotFound), errors.Is(err, account.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, autorun.ErrQuotaExceeded):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, scheduler.ErrJobDeleted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, autorun.ErrInvalidTransition),
		errors.Is(err, autorun.ErrInvalidCycle),
		errors.Is(err, autorun.ErrInvalidType),
		errors.Is(err, interaction.ErrInvalidPayload),
		errors.Is(err, account.ErrInvalid),
		errors.Is(err, platform.ErrUnsupported),
		errors.Is(err, scheduler.ErrNoHandler):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, interaction.ErrQueueFull), errors.Is(err, interaction.ErrQueueClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Printf("http handler error: %v\n", err)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
