// Package admin exposes the operational REST surface: liveness and readiness
// probes, text metrics, and a token-guarded API for inspecting and steering
// lobbies from researcher tooling.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"duoplay/server/internal/game"
	"duoplay/server/internal/lobby"
	"duoplay/server/internal/logging"

	"github.com/gorilla/mux"
)

// Coordinator is the slice of the orchestrator the admin API needs.
type Coordinator interface {
	Lobbies() []lobby.Snapshot
	Lobby(lobbyID string) (lobby.Snapshot, error)
	CreateEmptyLobby(config lobby.GameConfig) (lobby.Snapshot, error)
	RemoveLobby(lobbyID string) error
	StartGame(ctx context.Context, lobbyID string) (int64, error)
	EndGame(lobbyID, reason, annotation string) error
	OnlinePlayerIDs() []string
}

// RateLimiter gates how frequently each mutating operation may be invoked.
type RateLimiter interface {
	Allow(operation string) bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Coordinator Coordinator
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	coordinator Coordinator
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		coordinator: opts.Coordinator,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
		started:     now(),
	}
}

// Router builds the route table. Probe endpoints are open; everything under
// /api requires the admin token.
func (h *HandlerSet) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/livez", h.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.ReadinessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/metrics", h.MetricsHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.authMiddleware)
	api.HandleFunc("/players", h.PlayersHandler()).Methods(http.MethodGet)
	api.HandleFunc("/lobbies", h.LobbiesHandler()).Methods(http.MethodGet)
	api.HandleFunc("/lobbies", h.CreateLobbyHandler()).Methods(http.MethodPost)
	api.HandleFunc("/lobbies/{id}", h.LobbyHandler()).Methods(http.MethodGet)
	api.HandleFunc("/lobbies/{id}", h.RemoveLobbyHandler()).Methods(http.MethodDelete)
	api.HandleFunc("/lobbies/{id}/start", h.StartGameHandler()).Methods(http.MethodPost)
	api.HandleFunc("/lobbies/{id}/end", h.EndGameHandler()).Methods(http.MethodPost)
	return r
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports uptime plus current population counts.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Players       int     `json:"players"`
		Lobbies       int     `json:"lobbies"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok", UptimeSeconds: h.now().Sub(h.started).Seconds()}
		if h.coordinator != nil {
			resp.Players = len(h.coordinator.OnlinePlayerIDs())
			resp.Lobbies = len(h.coordinator.Lobbies())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var players, lobbies, playing int
		if h.coordinator != nil {
			players = len(h.coordinator.OnlinePlayerIDs())
			snapshots := h.coordinator.Lobbies()
			lobbies = len(snapshots)
			for _, snapshot := range snapshots {
				if snapshot.State == lobby.StatePlaying {
					playing++
				}
			}
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP gameserver_uptime_seconds Server uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE gameserver_uptime_seconds gauge\n")
		fmt.Fprintf(w, "gameserver_uptime_seconds %.0f\n", h.now().Sub(h.started).Seconds())

		fmt.Fprintf(w, "# HELP gameserver_players Currently connected clients.\n")
		fmt.Fprintf(w, "# TYPE gameserver_players gauge\n")
		fmt.Fprintf(w, "gameserver_players %d\n", players)

		fmt.Fprintf(w, "# HELP gameserver_lobbies Currently open lobbies.\n")
		fmt.Fprintf(w, "# TYPE gameserver_lobbies gauge\n")
		fmt.Fprintf(w, "gameserver_lobbies %d\n", lobbies)

		fmt.Fprintf(w, "# HELP gameserver_active_sessions Lobbies with a running game session.\n")
		fmt.Fprintf(w, "# TYPE gameserver_active_sessions gauge\n")
		fmt.Fprintf(w, "gameserver_active_sessions %d\n", playing)
	}
}

// PlayersHandler lists the ids of all currently live clients.
func (h *HandlerSet) PlayersHandler() http.HandlerFunc {
	type response struct {
		Players []string `json:"players"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		players := h.coordinator.OnlinePlayerIDs()
		if players == nil {
			players = []string{}
		}
		writeJSON(w, http.StatusOK, response{Players: players})
	}
}

// LobbiesHandler lists snapshots of every open lobby.
func (h *HandlerSet) LobbiesHandler() http.HandlerFunc {
	type response struct {
		Lobbies []lobby.Snapshot `json:"lobbies"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		snapshots := h.coordinator.Lobbies()
		if snapshots == nil {
			snapshots = []lobby.Snapshot{}
		}
		writeJSON(w, http.StatusOK, response{Lobbies: snapshots})
	}
}

// LobbyHandler returns one lobby snapshot by id.
func (h *HandlerSet) LobbyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := h.coordinator.Lobby(mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// CreateLobbyHandler opens an empty lobby from a JSON game config body.
func (h *HandlerSet) CreateLobbyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMutation(w, r, "create_lobby") {
			return
		}
		var config lobby.GameConfig
		if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
			http.Error(w, "invalid game config", http.StatusBadRequest)
			return
		}
		snapshot, err := h.coordinator.CreateEmptyLobby(config)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusCreated, snapshot)
	}
}

// RemoveLobbyHandler destroys a lobby and evicts its occupants.
func (h *HandlerSet) RemoveLobbyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMutation(w, r, "remove_lobby") {
			return
		}
		lobbyID := mux.Vars(r)["id"]
		if err := h.coordinator.RemoveLobby(lobbyID); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "lobby_id": lobbyID})
	}
}

// StartGameHandler starts the lobby's configured game, as if both clients had
// requested it.
func (h *HandlerSet) StartGameHandler() http.HandlerFunc {
	type response struct {
		Status  string `json:"status"`
		LobbyID string `json:"lobby_id"`
		EpochMs int64  `json:"epoch_ms"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMutation(w, r, "start_game") {
			return
		}
		lobbyID := mux.Vars(r)["id"]
		epoch, err := h.coordinator.StartGame(r.Context(), lobbyID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, response{Status: "started", LobbyID: lobbyID, EpochMs: epoch})
	}
}

// EndGameHandler force-ends the lobby's active session.
func (h *HandlerSet) EndGameHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.allowMutation(w, r, "end_game") {
			return
		}
		lobbyID := mux.Vars(r)["id"]
		if err := h.coordinator.EndGame(lobbyID, game.EndReasonRequested, "ended by operator"); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ended", "lobby_id": lobbyID})
	}
}

// authMiddleware rejects API calls without a valid admin token. An empty
// configured token disables the API outright rather than leaving it open.
func (h *HandlerSet) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("path", r.URL.Path),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if h.adminToken == "" {
			reqLogger.Warn("admin request denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("admin request denied: unauthorized")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HandlerSet) allowMutation(w http.ResponseWriter, r *http.Request, operation string) bool {
	if h.rateLimiter != nil && !h.rateLimiter.Allow(operation) {
		h.logger.Warn("admin request denied: rate limit exceeded",
			logging.String("operation", operation),
			logging.String("remote_addr", r.RemoteAddr))
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
