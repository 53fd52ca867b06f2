// handler.go exposes on-demand wallet syncs over HTTP:
//   - POST /wallets/{id}/sync: sync one wallet, ?force=true bypasses caches
//   - POST /sync: sync a wallet identified by chain and address
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/inbound"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// Handler implements the sync API.
type Handler struct {
	service inbound.BalanceSyncService
	wallets outbound.WalletRepository
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler with the given service.
func NewHandler(service inbound.BalanceSyncService, wallets outbound.WalletRepository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		wallets: wallets,
		logger:  logger.With("component", "sync-api"),
	}
}

// RegisterRoutes registers the HTTP routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /wallets/{id}/sync", h.SyncWallet)
	mux.HandleFunc("POST /sync", h.SyncByAddress)
}

// SyncWallet syncs the wallet named in the path.
func (h *Handler) SyncWallet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}
	opts, ok := h.options(w, r)
	if !ok {
		return
	}

	res, err := h.service.SyncWalletByID(r.Context(), id, opts)
	if err != nil {
		h.respondSyncError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

type syncByAddressRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Force   bool   `json:"force"`
}

// SyncByAddress syncs a registered wallet looked up by chain and address.
func (h *Handler) SyncByAddress(w http.ResponseWriter, r *http.Request) {
	var req syncByAddressRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Chain == "" || req.Address == "" {
		h.respondError(w, http.StatusBadRequest, "chain and address are required")
		return
	}

	wallet, err := h.wallets.GetWalletByAddress(r.Context(), req.Chain, req.Address)
	if err != nil {
		h.respondSyncError(w, err)
		return
	}

	res, err := h.service.SyncWalletBalances(r.Context(), wallet, inbound.SyncOptions{ForceRefresh: req.Force})
	if err != nil {
		h.respondSyncError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) options(w http.ResponseWriter, r *http.Request) (inbound.SyncOptions, bool) {
	raw := r.URL.Query().Get("force")
	if raw == "" {
		return inbound.SyncOptions{}, true
	}
	force, err := strconv.ParseBool(raw)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "force must be a boolean")
		return inbound.SyncOptions{}, false
	}
	return inbound.SyncOptions{ForceRefresh: force}, true
}

func (h *Handler) respondSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "wallet not found")
	case entity.IsInputError(err):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("sync failed", "error", err)
		h.respondError(w, http.StatusBadGateway, "sync failed")
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
