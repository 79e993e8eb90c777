package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Medal-OF-Owner/Chatlet/internal/hub"
	"github.com/Medal-OF-Owner/Chatlet/internal/store"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Hub            *hub.Hub
	Store          store.Store
	Logger         zerolog.Logger
	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics first so every request is counted.
	r.Use(Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(d.Logger))
	r.Use(chimw.Recoverer)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := NewHandler(d.Hub, d.Store)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	r.Get("/ws", ServeWs(d.Hub, originChecker(origins)))

	r.Route("/api/rooms", func(r chi.Router) {
		r.Get("/", h.ListRooms)
		r.Put("/{slug}", h.EnsureRoom)
		r.Get("/{slug}", h.GetRoom)
		r.Get("/{slug}/members", h.Members)
		r.Get("/{slug}/messages", h.Messages)
	})

	return r
}

// ServeWs returns an http.HandlerFunc that upgrades to a websocket and
// hands the connection to the hub. The optional token query parameter
// names a registered account.
func ServeWs(h *hub.Hub, checkOrigin func(r *http.Request) bool) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		account, err := h.Authenticate(r.Context(), r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "unknown session token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		h.Attach(conn, account)
	}
}

// originChecker allows requests without an Origin header, which is what
// non-browser clients send, plus the configured browser origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
