package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/rssfetcher/internal/models"
	"reddot-watch/rssfetcher/internal/server/pagination"
	"reddot-watch/rssfetcher/internal/server/storage"
)

// ItemsResponse is the body of GET /items.
type ItemsResponse struct {
	End   bool               `json:"end"`
	Items []models.StoredRow `json:"items"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ItemsHandler serves the read API.
// It retrieves its logger from the request context.
type ItemsHandler struct {
	repo storage.ItemRepository
}

// NewItemsHandler creates a new handler instance.
func NewItemsHandler(repo storage.ItemRepository) *ItemsHandler {
	return &ItemsHandler{repo: repo}
}

// GetItems pages through stored rows by rowid.
func (h *ItemsHandler) GetItems(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	params, err := pagination.ParseParams(r.URL.Query())
	if err != nil {
		log.Warn().Err(err).Str("query", r.URL.RawQuery).Msg("Invalid items request")
		WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.repo.ReadItems(r.Context(), params.StartRowID, params.Limit+1) // one extra to detect the last page
	if err != nil {
		log.Error().Err(err).Int64("start_rowid", params.StartRowID).Msg("Error reading items from repository")
		WriteError(w, r, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	page, end := pagination.Split(rows, params.Limit)
	log.Debug().
		Int64("start_rowid", params.StartRowID).
		Int("limit", params.Limit).
		Int("items", len(page)).
		Bool("end", end).
		Msg("Items page served")

	writeJSON(w, r, http.StatusOK, ItemsResponse{End: end, Items: page})
}

// GetStatus reports the row count and rowid range.
func (h *ItemsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.repo.Status(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error reading store status")
		WriteError(w, r, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// Ping answers liveness probes with an empty 200.
func Ping(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// WriteError replies with a JSON error body.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeJSON(w, r, status, ErrorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error writing JSON response body to client")
	}
}
