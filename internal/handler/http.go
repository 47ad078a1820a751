package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/profile-ledger/internal/anticheat"
	"github.com/profile-ledger/internal/auth"
	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
	"github.com/profile-ledger/internal/identity"
	"github.com/profile-ledger/internal/leaderboard"
	"github.com/profile-ledger/internal/ledger"
	"github.com/profile-ledger/internal/provider"
	"github.com/profile-ledger/internal/websocket"
)

// Archive is the durable store consulted by read-only admin endpoints.
// The request path never writes to it.
type Archive interface {
	SeasonSnapshot(ctx context.Context, season string) ([]domain.SnapshotEntry, error)
	RecentAnomalies(ctx context.Context, accountID string, limit int) ([]domain.AnomalyRecord, error)
}

// Handler provides HTTP handlers for the profile service API
type Handler struct {
	resolver  *identity.Resolver
	ledger    *ledger.Service
	boards    *leaderboard.Store
	providers *provider.Registry
	admin     *auth.Admin
	sig       *anticheat.SignatureCheck
	archive   Archive
	hub       *websocket.Hub
	clock     domain.Clock
	cfg       *config.LeaderboardConfig
	logger    *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	resolver *identity.Resolver,
	ledgerSvc *ledger.Service,
	boards *leaderboard.Store,
	providers *provider.Registry,
	admin *auth.Admin,
	sig *anticheat.SignatureCheck,
	archive Archive,
	hub *websocket.Hub,
	clock domain.Clock,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		resolver:  resolver,
		ledger:    ledgerSvc,
		boards:    boards,
		providers: providers,
		admin:     admin,
		sig:       sig,
		archive:   archive,
		hub:       hub,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/identity", func(r chi.Router) {
			r.Post("/resolve", h.ResolveIdentity)
			r.Post("/register", h.Register)
			r.Post("/link", h.LinkProvider)
		})

		r.Route("/profile/{accountID}", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Post("/sync", h.SyncProfile)
			r.Post("/insurance", h.UseInsurance)
		})

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/top", h.GetTop)
			r.Get("/range", h.GetRange)
			r.Get("/around/{accountID}", h.GetAroundPlayer)
			r.Get("/player/{accountID}", h.GetPlayerRank)
			r.Get("/count", h.GetCount)
			r.Get("/stats", h.GetSeasonStats)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	// Admin routes, JWT protected
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.admin.Middleware)
		r.Get("/confirm-token", h.IssueConfirmToken)
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/merge", h.MergeAccounts)
			r.Route("/{accountID}", func(r chi.Router) {
				r.Delete("/", h.PurgeAccount)
				r.Post("/override-stats", h.OverrideStats)
				r.Post("/override-progress", h.OverrideProgress)
				r.Get("/audit", h.GetAuditLog)
				r.Get("/anomalies", h.GetAnomalies)
			})
		})
		r.Route("/seasons/{season}", func(r chi.Router) {
			r.Post("/reset", h.ResetSeason)
			r.Get("/snapshot", h.GetSeasonSnapshot)
		})
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Signature, X-Signed-At")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps a domain error onto its HTTP status
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, err)
	case domain.IsConflict(err) || errors.Is(err, domain.ErrInsuranceUsed):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, domain.ErrInsuranceLocked):
		h.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrConfirmRequired):
		h.writeError(w, http.StatusPreconditionRequired, err)
	case errors.Is(err, domain.ErrUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func providerKind(s string) (domain.ProviderKind, bool) {
	switch domain.ProviderKind(strings.ToLower(s)) {
	case domain.ProviderTwitch:
		return domain.ProviderTwitch, true
	case domain.ProviderDiscord:
		return domain.ProviderDiscord, true
	}
	return "", false
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

type identityRequest struct {
	Provider    string `json:"provider"`
	Token       string `json:"token"`
	DisplayName string `json:"display_name,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
}

// exchange validates the request body and trades the bearer token for a
// verified provider identity.
func (h *Handler) exchange(w http.ResponseWriter, r *http.Request) (domain.ProviderKind, *domain.ProviderIdentity, *identityRequest, bool) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return "", nil, nil, false
	}
	kind, ok := providerKind(req.Provider)
	if !ok || req.Token == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return "", nil, nil, false
	}

	client, err := h.providers.For(kind)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return "", nil, nil, false
	}
	ident, err := client.Identity(r.Context(), req.Token)
	if err != nil {
		h.writeDomainError(w, err)
		return "", nil, nil, false
	}
	return kind, ident, &req, true
}

// ResolveIdentity maps a provider credential onto a canonical account
func (h *Handler) ResolveIdentity(w http.ResponseWriter, r *http.Request) {
	kind, ident, _, ok := h.exchange(w, r)
	if !ok {
		return
	}

	res, err := h.resolver.Resolve(r.Context(), kind, ident.ProviderID, ident.Email)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, res)
}

// Register creates an account for a provider identity under a chosen name
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	kind, ident, req, ok := h.exchange(w, r)
	if !ok {
		return
	}
	if req.DisplayName == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	acct, err := h.resolver.Register(r.Context(), req.DisplayName, kind, ident.ProviderID, *ident)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"account_id":   acct.ID,
		"display_name": acct.Name,
	})
}

// LinkProvider attaches an additional provider identity to an account
func (h *Handler) LinkProvider(w http.ResponseWriter, r *http.Request) {
	kind, ident, req, ok := h.exchange(w, r)
	if !ok {
		return
	}
	if req.AccountID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	acct, err := h.resolver.Link(r.Context(), req.AccountID, kind, ident.ProviderID, *ident)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"account_id": acct.ID,
		"links":      acct.Links,
	})
}

// GetProfile returns the current-season snapshot of an account
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	snap, err := h.ledger.Snapshot(r.Context(), accountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, snap)
}

// SyncProfile folds a client progression report into the ledger. The raw
// body is read before decoding so the signature check covers the exact
// bytes sent.
func (h *Handler) SyncProfile(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var sub domain.SyncSubmission
	if err := json.Unmarshal(body, &sub); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	sub.AccountID = accountID

	// Signature material rides in headers so it can cover the exact body
	// bytes rather than a re-serialization.
	sig := r.Header.Get("X-Signature")
	signedAt, _ := strconv.ParseInt(r.Header.Get("X-Signed-At"), 10, 64)

	signed := false
	if h.sig != nil {
		if err := h.sig.Verify(body, signedAt, sig, h.clock.Now()); err != nil {
			if h.sig.Enforcing() {
				h.writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized)
				return
			}
			h.logger.Warn("unsigned or stale sync accepted", "account_id", accountID, "error", err)
		} else {
			signed = true
		}
	}

	snap, err := h.ledger.Sync(r.Context(), sub, signed)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, snap)
}

type insuranceRequest struct {
	Debit int64 `json:"debit"`
}

// UseInsurance spends the once-per-season XP debit allowance
func (h *Handler) UseInsurance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req insuranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if accountID == "" || req.Debit <= 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	snap, err := h.ledger.Insurance(r.Context(), accountID, req.Debit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, snap)
}

// season resolves the season query parameter, defaulting to the current one
func (h *Handler) season(r *http.Request) string {
	if s := r.URL.Query().Get("season"); s != "" {
		return s
	}
	return domain.SeasonTag(h.clock.Now())
}

func (h *Handler) limitParam(r *http.Request) int {
	limit := h.cfg.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > h.cfg.MaxLimit {
		limit = h.cfg.MaxLimit
	}
	return limit
}

// GetTop returns the top N entries for a season
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	season := h.season(r)
	entries, err := h.boards.RangeByRank(r.Context(), season, 0, h.limitParam(r), true)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"season":  season,
		"entries": h.boards.Enrich(r.Context(), entries),
	})
}

// GetRange returns a rank range, or a score range when min/max are given
func (h *Handler) GetRange(w http.ResponseWriter, r *http.Request) {
	season := h.season(r)
	q := r.URL.Query()

	var entries []domain.RankEntry
	var err error
	if q.Get("min") != "" || q.Get("max") != "" {
		min, _ := strconv.ParseInt(q.Get("min"), 10, 64)
		max := int64(1<<62 - 1)
		if v := q.Get("max"); v != "" {
			max, _ = strconv.ParseInt(v, 10, 64)
		}
		entries, err = h.boards.RangeByScore(r.Context(), season, min, max, h.limitParam(r))
	} else {
		offset, _ := strconv.Atoi(q.Get("offset"))
		descending := q.Get("order") != "asc"
		entries, err = h.boards.RangeByRank(r.Context(), season, offset, h.limitParam(r), descending)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"season":  season,
		"entries": h.boards.Enrich(r.Context(), entries),
	})
}

// GetAroundPlayer returns entries centered on a player
func (h *Handler) GetAroundPlayer(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	season := h.season(r)

	count := 5
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= h.cfg.MaxLimit {
			count = n
		}
	}

	entries, err := h.boards.Around(r.Context(), season, accountID, count)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"season":  season,
		"entries": h.boards.Enrich(r.Context(), entries),
	})
}

// GetPlayerRank returns a single player's rank and score
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	season := h.season(r)

	entry, err := h.boards.Rank(r.Context(), season, accountID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	enriched := h.boards.Enrich(r.Context(), []domain.RankEntry{*entry})
	h.writeSuccess(w, map[string]interface{}{
		"season": season,
		"entry":  enriched[0],
	})
}

// GetCount returns the number of ranked players in a season
func (h *Handler) GetCount(w http.ResponseWriter, r *http.Request) {
	season := h.season(r)
	count, err := h.boards.Cardinality(r.Context(), season)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"season": season,
		"count":  count,
	})
}

// GetSeasonStats returns aggregate score statistics for a season
func (h *Handler) GetSeasonStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.boards.Stats(r.Context(), h.season(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeSuccess(w, stats)
}
