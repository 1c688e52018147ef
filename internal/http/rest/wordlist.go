package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/dictpack/internal/logctx"
	"github.com/italolelis/dictpack/internal/wordlist"
)

// UpdateService is the slice of the updater the handlers need.
type UpdateService interface {
	Update(ctx context.Context, updateNow bool) error
	CancelUpdate(ctx context.Context, clientID string) error
	MarkAsUsed(ctx context.Context, clientID, wordListID string, version int, allowMetered bool) error
	MarkAsUnused(ctx context.Context, clientID, wordListID string, version int) error
	MarkAsDeleting(ctx context.Context, clientID, wordListID string, version int) error
	MarkAsDeleted(ctx context.Context, clientID, wordListID string, version int) error
	MarkAsBroken(ctx context.Context, clientID, wordListID string, version int) error
	SetDownloadOverMetered(ctx context.Context, clientID string, allowed bool) error
}

// WordListReader is the read side backing the list endpoint.
type WordListReader interface {
	ListByClient(ctx context.Context, clientID string) ([]wordlist.Record, error)
}

// WordListHandler exposes the update lifecycle over HTTP.
type WordListHandler struct {
	updater UpdateService
	reader  WordListReader
}

func NewWordListHandler(updater UpdateService, reader WordListReader) *WordListHandler {
	return &WordListHandler{
		updater: updater,
		reader:  reader,
	}
}

func (h *WordListHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/update", h.HandleUpdate)

	r.Route("/clients/{clientID}", func(r chi.Router) {
		r.Get("/wordlists", h.HandleListWordLists)
		r.Delete("/update", h.HandleCancelUpdate)
		r.Put("/metered", h.HandleSetMetered)

		r.Route("/wordlists/{wordListID}/versions/{version}", func(r chi.Router) {
			r.Post("/use", h.HandleUse)
			r.Post("/unuse", h.wordListAction(h.updater.MarkAsUnused))
			r.Post("/delete", h.wordListAction(h.updater.MarkAsDeleting))
			r.Post("/deleted", h.wordListAction(h.updater.MarkAsDeleted))
			r.Post("/broken", h.wordListAction(h.updater.MarkAsBroken))
		})
	})

	return r
}

// HandleUpdate kicks off a metadata fetch for every registered feed.
// ?now=true marks a user-initiated refresh, which may use metered networks.
func (h *WordListHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	updateNow := r.URL.Query().Get("now") == "true"

	if err := h.updater.Update(r.Context(), updateNow); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to start update", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to start update")

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// HandleCancelUpdate drops any outstanding metadata fetch for the client.
func (h *WordListHandler) HandleCancelUpdate(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	err := h.updater.CancelUpdate(r.Context(), clientID)
	if errors.Is(err, wordlist.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown client")

		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to cancel update", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to cancel update")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type wordListItem struct {
	ID            string    `json:"id"`
	Version       int       `json:"version"`
	FormatVersion int       `json:"formatVersion"`
	Status        string    `json:"status"`
	Locale        string    `json:"locale"`
	Description   string    `json:"description,omitempty"`
	LocalFilename string    `json:"localFilename,omitempty"`
	FileSize      int64     `json:"fileSize"`
	LastUpdate    time.Time `json:"lastUpdate"`
}

// HandleListWordLists returns every record the client's ledger knows about.
func (h *WordListHandler) HandleListWordLists(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	records, err := h.reader.ListByClient(r.Context(), clientID)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list word lists", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to list word lists")

		return
	}

	items := make([]wordListItem, 0, len(records))
	for _, rec := range records {
		items = append(items, wordListItem{
			ID:            rec.WordListID,
			Version:       rec.Version,
			FormatVersion: rec.FormatVersion,
			Status:        rec.Status.String(),
			Locale:        rec.Locale,
			Description:   rec.Description,
			LocalFilename: rec.LocalFilename,
			FileSize:      rec.FileSize,
			LastUpdate:    time.Unix(rec.LastUpdate, 0).UTC(),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{"wordlists": items})
}

type meteredRequest struct {
	Allowed bool `json:"allowed"`
}

// HandleSetMetered persists the client's metered-download choice.
func (h *WordListHandler) HandleSetMetered(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	var req meteredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	err := h.updater.SetDownloadOverMetered(r.Context(), clientID, req.Allowed)
	if errors.Is(err, wordlist.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown client")

		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to set metered preference", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to set metered preference")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type useRequest struct {
	AllowMetered bool `json:"allowMetered"`
}

// HandleUse asks to start using a word list. An optional body flag allows
// the download over a metered network.
func (h *WordListHandler) HandleUse(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	wordListID := chi.URLParam(r, "wordListID")

	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid version")

		return
	}

	var req useRequest

	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")

			return
		}
	}

	err = h.updater.MarkAsUsed(r.Context(), clientID, wordListID, version, req.AllowMetered)
	if errors.Is(err, wordlist.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown word list")

		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("word list transition failed",
			"wordlist_id", wordListID, "version", version, "err", err)
		respondError(w, http.StatusInternalServerError, "word list transition failed")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// wordListAction adapts a lifecycle transition to an HTTP handler,
// resolving the path parameters and mapping the common errors.
func (h *WordListHandler) wordListAction(fn func(ctx context.Context, clientID, wordListID string, version int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := chi.URLParam(r, "clientID")
		wordListID := chi.URLParam(r, "wordListID")

		version, err := strconv.Atoi(chi.URLParam(r, "version"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid version")

			return
		}

		err = fn(r.Context(), clientID, wordListID, version)
		if errors.Is(err, wordlist.ErrNotFound) {
			respondError(w, http.StatusNotFound, "unknown word list")

			return
		}

		if err != nil {
			logctx.LoggerFromContext(r.Context()).Error("word list transition failed",
				"wordlist_id", wordListID, "version", version, "err", err)
			respondError(w, http.StatusInternalServerError, "word list transition failed")

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
