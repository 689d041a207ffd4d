package app

import (
	"encoding/json"
	"net/http"

	"tilegate/config"
	"tilegate/gate"
	"tilegate/log"
	"tilegate/metrics"
	"tilegate/registry"
	"tilegate/upstream"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/lancer-kit/armory/api/render"
	"github.com/lancer-kit/uwe/v2/presets/api"
	"github.com/rs/zerolog"
)

func GetServer(logger zerolog.Logger, cfg config.Cfg, engine *gate.Engine,
	up *upstream.Client, store registry.Storage) *api.Server {
	return api.NewServer(cfg.API, getRouter(logger, cfg, engine, up, store))
}

func getRouter(logger zerolog.Logger, cfg config.Cfg, engine *gate.Engine,
	up *upstream.Client, store registry.Storage) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(log.LoggerMiddleware(&logger))

	if cfg.API.EnableCORS {
		corsHandler := cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
				"X-Api-Key", "X-Admin-Key"},
			ExposedHeaders:   []string{"Link", "Content-Length"},
			AllowCredentials: true,
			MaxAge:           300, // Maximum value not ignored by any of major browsers
		})
		r.Use(corsHandler.Handler)
	}

	h := handler{
		log:        logger,
		engine:     engine,
		up:         up,
		store:      store,
		publicBase: cfg.PublicBase.Str,
		adminKey:   cfg.AdminKey,
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.Success(w, map[string]interface{}{"ok": true, "service": config.ServiceName})
	})
	r.Get("/info", func(w http.ResponseWriter, r *http.Request) { render.Success(w, config.App) })

	r.Route("/v1", func(r chi.Router) {
		r.Get("/services", h.handleListVisibleServices)
		r.Get("/{alias}/query", h.handleQuery)
		r.Get("/{alias}/identify", h.handleIdentify)
	})

	r.Route("/tiles/{alias}", func(r chi.Router) {
		r.Get("/style.json", h.handleStyle)
		r.Get("/tile/{z}/{y}/{x}.pbf", h.handleTile)
		r.Get("/sprite.json", h.handleSprite("sprite.json"))
		r.Get("/sprite.png", h.handleSprite("sprite.png"))
		r.Get("/sprite@2x.json", h.handleSprite("sprite@2x.json"))
		r.Get("/sprite@2x.png", h.handleSprite("sprite@2x.png"))
		r.Get("/fonts/{fontstack}/{range}.pbf", h.handleFonts)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/services", h.handleAdminListServices)
		r.Post("/services", h.handleAdminRegisterService)
		r.Get("/clients", h.handleAdminListClients)
		r.Post("/clients", h.handleAdminCreateClient)
		r.Post("/clients/disable", h.handleAdminDisableClient)
		r.Post("/clients/where_lock", h.handleAdminSetWhereLock)
	})

	r.Mount("/", metrics.GetMonitoringMux(cfg.Monitoring))
	return r
}

// clientKey extracts the bearer credential: X-Api-Key header for API
// consumers, ?key= for map renderers that can only do query params.
func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("key")
}

const accessDeniedMsg = "access denied"

// notFound and upstreamUnavailable cover the statuses the armory render
// helpers do not.
func notFound(w http.ResponseWriter) {
	respond(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func upstreamUnavailable(w http.ResponseWriter) {
	respond(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
}

func respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
