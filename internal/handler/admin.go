package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/profile-ledger/internal/domain"
)

// Confirm token actions. Destructive admin operations default to dry-run
// and execute only with a token bound to the same action and target.
const (
	actionMerge       = "merge"
	actionPurge       = "purge"
	actionSeasonReset = "season_reset"
)

// IssueConfirmToken returns the confirmation token for a destructive
// operation so a dry-run response can be turned into a real one.
func (h *Handler) IssueConfirmToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action, target := q.Get("action"), q.Get("target")
	if action == "" || target == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	h.writeSuccess(w, map[string]string{
		"action":  action,
		"target":  target,
		"confirm": h.admin.ConfirmToken(action, target),
	})
}

type overrideStatsRequest struct {
	Stats map[string]int64 `json:"stats"`
}

// OverrideStats pins administrative stat values on an account
func (h *Handler) OverrideStats(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req overrideStatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if accountID == "" || len(req.Stats) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	snap, err := h.ledger.ForceOverride(r.Context(), accountID, req.Stats)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, snap)
}

type overrideProgressRequest struct {
	XP    int64 `json:"xp"`
	Level int64 `json:"level"`
}

// OverrideProgress sets an account's seasonal XP and level directly
func (h *Handler) OverrideProgress(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req overrideProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	snap, err := h.ledger.OverrideProgress(r.Context(), accountID, req.XP, req.Level)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, snap)
}

type mergeRequest struct {
	FromID  string `json:"from_id"`
	IntoID  string `json:"into_id"`
	DryRun  *bool  `json:"dry_run,omitempty"`
	Confirm string `json:"confirm,omitempty"`
}

// MergeAccounts folds one account into another. Dry-run unless a valid
// confirmation token accompanies the request.
func (h *Handler) MergeAccounts(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.FromID == "" || req.IntoID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	dryRun := req.DryRun == nil || *req.DryRun
	confirmed := h.admin.VerifyConfirm(actionMerge, req.FromID+":"+req.IntoID, req.Confirm)

	report, err := h.ledger.Merge(r.Context(), req.FromID, req.IntoID, dryRun, confirmed)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, report)
}

// PurgeAccount removes an account and all of its indexes. Dry-run unless
// confirmed via query parameters.
func (h *Handler) PurgeAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	q := r.URL.Query()
	dryRun := q.Get("dry_run") != "false"
	confirmed := h.admin.VerifyConfirm(actionPurge, accountID, q.Get("confirm"))

	report, err := h.ledger.Purge(r.Context(), accountID, dryRun, confirmed)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, report)
}

type seasonResetRequest struct {
	DryRun  *bool  `json:"dry_run,omitempty"`
	Confirm string `json:"confirm,omitempty"`
}

// ResetSeason archives and clears a season's leaderboard
func (h *Handler) ResetSeason(w http.ResponseWriter, r *http.Request) {
	season := chi.URLParam(r, "season")
	var req seasonResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	dryRun := req.DryRun == nil || *req.DryRun
	confirmed := h.admin.VerifyConfirm(actionSeasonReset, season, req.Confirm)

	archived, err := h.ledger.ResetSeason(r.Context(), season, dryRun, confirmed)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"season":   season,
		"dry_run":  dryRun,
		"archived": archived,
	})
}

// GetAuditLog returns the clamp and override audit ring for an account
func (h *Handler) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	events, err := h.ledger.AuditLog(r.Context(), accountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"account_id": accountID,
		"events":     events,
	})
}

// GetAnomalies returns archived anti-cheat events for an account
func (h *Handler) GetAnomalies(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrUnavailable)
		return
	}
	accountID := chi.URLParam(r, "accountID")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	records, err := h.archive.RecentAnomalies(r.Context(), accountID, limit)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrUnavailable)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"account_id": accountID,
		"records":    records,
	})
}

// GetSeasonSnapshot returns the archived standings for a season
func (h *Handler) GetSeasonSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrUnavailable)
		return
	}
	season := chi.URLParam(r, "season")

	entries, err := h.archive.SeasonSnapshot(r.Context(), season)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrUnavailable)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"season":  season,
		"entries": entries,
	})
}
