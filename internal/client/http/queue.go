package http

import (
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
	"github.com/aussiebroadwan/marketsync/pkg/httpx"
)

// QueueResponse lists offline records.
type QueueResponse struct {
	Pending int                    `json:"pending"`
	Records []domain.OfflineRecord `json:"records"`
}

// QueueHandler exposes the offline queue.
type QueueHandler struct {
	Store  store.Store
	Syncer Syncer
	Logger *slog.Logger
}

// List handles GET /v1/queue. ?status=all includes synced records.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	queue := h.Store.SyncQueue()

	var (
		records []domain.OfflineRecord
		err     error
	)
	switch r.URL.Query().Get("status") {
	case "", "pending":
		records, err = queue.Pending(r.Context())
	case "all":
		records, err = queue.All(r.Context())
	default:
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "status must be pending or all")
		return
	}
	if err != nil {
		h.Logger.Error("failed to list queue", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "storage_failure", domain.UserMessage(err))
		return
	}

	pending, err := queue.CountPending(r.Context())
	if err != nil {
		h.Logger.Error("failed to count queue", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "storage_failure", domain.UserMessage(err))
		return
	}

	if records == nil {
		records = []domain.OfflineRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, QueueResponse{Pending: pending, Records: records})
}

// Sync handles POST /v1/sync. By default it asks the background worker for
// a pass and returns 202; with ?wait=true it runs the pass inline and
// returns its summary.
func (h *QueueHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.Syncer == nil {
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "sync engine not running")
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		h.Syncer.Trigger()
		httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
		return
	}

	summary, err := h.Syncer.RunOnce(r.Context())
	if err != nil {
		status, code := http.StatusInternalServerError, string(domain.CategoryOf(err))
		if r.Context().Err() != nil {
			status = http.StatusServiceUnavailable
		}
		if code == "" {
			code = "sync_failed"
		}
		h.Logger.Error("manual sync failed", "error", err)
		httpx.WriteError(w, status, code, domain.UserMessage(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}
