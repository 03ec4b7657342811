package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/service"
	"github.com/catalog-sync/internal/types"
)

// storeFromPath reads the account and platform route variables
func storeFromPath(w http.ResponseWriter, r *http.Request) (string, types.Platform, bool) {
	vars := mux.Vars(r)
	account := vars["account"]
	if account == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Account ID required", nil)
		return "", "", false
	}
	platform, err := types.ParsePlatform(vars["platform"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), map[string]interface{}{
			"supported": []types.Platform{types.PlatformShopify, types.PlatformWooCommerce},
		})
		return "", "", false
	}
	return account, platform, true
}

// handleStartSync handles POST /api/accounts/{account}/platforms/{platform}/sync
func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	account, platform, ok := storeFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Method types.SyncMethod `json:"method"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Method == "" {
		req.Method = service.MethodAuto
	}

	runID, err := s.syncService.Launch(r.Context(), service.SyncRequest{
		AccountID: account,
		Platform:  platform,
		Method:    req.Method,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"runId":     runID,
		"accountId": account,
		"platform":  platform,
		"method":    req.Method,
		"status":    types.SyncStatePending,
	})
}

// handleSyncBatch handles POST .../sync/batch and syncs one page inline
func (s *Server) handleSyncBatch(w http.ResponseWriter, r *http.Request) {
	account, platform, ok := storeFromPath(w, r)
	if !ok {
		return
	}

	result, err := s.syncService.SyncOneBatch(r.Context(), account, platform, nil)
	if err != nil {
		if result != nil {
			// the run started and failed; the result carries the recoverable flag
			respondJSON(w, apperrors.GetHTTPStatusCode(err), result)
			return
		}
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetSyncStatus handles GET .../sync/status
func (s *Server) handleGetSyncStatus(w http.ResponseWriter, r *http.Request) {
	account, platform, ok := storeFromPath(w, r)
	if !ok {
		return
	}

	view, err := s.syncService.GetSyncStatus(r.Context(), account, platform)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleCancelSync handles DELETE .../sync
func (s *Server) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	account, platform, ok := storeFromPath(w, r)
	if !ok {
		return
	}

	if !s.syncService.Cancel(account, platform) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "No running sync for this store", nil)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"accountId": account,
		"platform":  platform,
		"cancelled": true,
	})
}

// handleListPriceChanges handles GET .../price-changes?limit=N
func (s *Server) handleListPriceChanges(w http.ResponseWriter, r *http.Request) {
	account, platform, ok := storeFromPath(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	events, err := s.syncService.RecentPriceChanges(r.Context(), account, platform, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accountId": account,
		"platform":  platform,
		"changes":   events,
	})
}
