// Package httpapi exposes the sync service over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dkocetkov/notesync/internal/logging"
	"github.com/dkocetkov/notesync/internal/server/services"
)

// syncAPI is the slice of the sync service the handlers use.
type syncAPI interface {
	ApplyBatch(ctx context.Context, ops []services.BatchOp) ([]services.BatchResult, error)
	Pull(ctx context.Context, updatedAfter int64, limit int) (*services.PullResult, error)
}

// blobAPI issues presigned upload URLs.
type blobAPI interface {
	PresignedPutURL(ctx context.Context, mime string) (string, string, error)
}

// Handler serves the sync endpoints.
type Handler struct {
	sync      syncAPI
	blobs     blobAPI
	pullLimit int
	logger    logging.Logger
}

func NewHandler(sync syncAPI, blobs blobAPI, pullLimit int, logger logging.Logger) *Handler {
	return &Handler{sync: sync, blobs: blobs, pullLimit: pullLimit, logger: logger}
}

type applyBatchRequest struct {
	Ops []services.BatchOp `json:"ops"`
}

type applyBatchResponse struct {
	Results []services.BatchResult `json:"results"`
}

type presignRequest struct {
	Mime string `json:"mime"`
}

type presignResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(context.Background(), "failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// ApplyBatch handles POST /v1/sync/batch.
func (h *Handler) ApplyBatch(w http.ResponseWriter, r *http.Request) {
	var req applyBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	results, err := h.sync.ApplyBatch(r.Context(), req.Ops)
	if err != nil {
		h.logger.Error(r.Context(), "batch apply failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "batch apply failed")
		return
	}

	h.writeJSON(w, http.StatusOK, applyBatchResponse{Results: results})
}

// Pull handles GET /v1/sync/pull?updated_after=N.
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	var updatedAfter int64
	if raw := r.URL.Query().Get("updated_after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid updated_after")
			return
		}
		updatedAfter = v
	}

	result, err := h.sync.Pull(r.Context(), updatedAfter, h.pullLimit)
	if err != nil {
		h.logger.Error(r.Context(), "pull failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "pull failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// Presign handles POST /v1/blobs/presign.
func (h *Handler) Presign(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	key, url, err := h.blobs.PresignedPutURL(r.Context(), req.Mime)
	if err != nil {
		h.logger.Error(r.Context(), "presign failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "presign failed")
		return
	}

	h.writeJSON(w, http.StatusOK, presignResponse{Key: key, URL: url})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
