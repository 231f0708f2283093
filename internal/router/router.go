package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/console/internal/config"
	"github.com/kiwari-pos/console/internal/enum"
	"github.com/kiwari-pos/console/internal/handler"
	mw "github.com/kiwari-pos/console/internal/middleware"
	"github.com/kiwari-pos/console/internal/ws"
	"github.com/sirupsen/logrus"
)

// Deps are the long-lived components the console routes are served from.
type Deps struct {
	Hub      *ws.Hub
	Sessions handler.SessionRegistry
	Alerts   handler.AlertSource
	Sound    handler.SoundSource
	Log      logrus.FieldLogger
}

// New creates a Chi router with all console routes wired up.
// Everything except /health and the WebSocket endpoint requires an OWNER or
// ADMIN bearer token.
func New(cfg *config.Config, deps Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", handler.Health)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/console", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(deps.Hub, cfg.JWTSecret, w, r)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))
		r.Use(mw.RequireRole(enum.RoleOwner, enum.RoleAdmin))

		sessionHandler := handler.NewSessionHandler(deps.Sessions, deps.Log)
		r.Route("/sessions", sessionHandler.RegisterRoutes)

		alertHandler := handler.NewAlertHandler(deps.Alerts, deps.Sound, deps.Log)
		r.Route("/alerts", alertHandler.RegisterRoutes)
	})

	deps.Log.WithField("component", "router").Debug("router initialized")
	return r
}
