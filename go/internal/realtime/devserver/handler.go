package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Handler serves room joins and hub statistics
type Handler struct {
	hub *Hub
}

// NewHandler creates a new HTTP handler for the hub
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleJoin upgrades a request for /rooms/{name} and joins the room
func (h *Handler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	roomName := r.PathValue("name")
	if strings.TrimSpace(roomName) == "" {
		http.Error(w, "room name is required", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		// anonymous players get a short generated name
		username = "guest-" + uuid.NewString()[:8]
	}
	avatarURL := r.URL.Query().Get("avatar_url")

	if err := h.hub.UpgradeConnection(w, r, roomName, username, avatarURL); err != nil {
		// the upgrader has already written an HTTP error response
		log.Error().
			Err(err).
			Str("room", roomName).
			Str("username", username).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleStats returns statistics about rooms and connections
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.hub.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode stats")
	}
}

// RegisterRoutes registers room routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /rooms/{name}", h.HandleJoin)
	mux.HandleFunc("GET /stats", h.HandleStats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// NewMux returns a mux with every route wrapped in CORS handling.
func NewMux(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	NewHandler(hub).RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodOptions,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// NewServer builds the HTTP server, accepting HTTP/2 without TLS for the
// stats endpoints.
func NewServer(port string, hub *Hub) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: h2c.NewHandler(NewMux(hub), &http2.Server{}),
	}
}
