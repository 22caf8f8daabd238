package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/alertflow/internal/api/handlers"
	"github.com/isdelr/alertflow/internal/auth"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/rs/zerolog/log"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Users         *handlers.UserHandler
	Events        *handlers.EventHandler
	Entities      *handlers.EntityHandler
	Alerts        *handlers.AlertHandler
	Cases         *handlers.CaseHandler
	Notifications *handlers.NotificationHandler
	System        *handlers.SystemHandler
	WebSocket     *handlers.WebSocketHandler
}

// NewRouter creates and configures a new Chi router.
func NewRouter(h Handlers, tokens *auth.Manager, allowOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	staff := auth.RequireRole(models.RoleSecurityLead, models.RoleSupervisor, models.RoleAdmin)
	producers := auth.RequireRole(models.RoleOperator, models.RoleSecurityLead, models.RoleSupervisor, models.RoleAdmin)
	admins := auth.RequireRole(models.RoleAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/system/health", h.System.Health)

		// The socket authenticates itself so it can answer with a close code.
		r.Get("/ws", h.WebSocket.Serve)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Users.Register)
			r.Post("/login", h.Users.Login)
			r.With(tokens.Middleware()).Get("/me", h.Users.GetMe)
			r.With(tokens.Middleware()).Put("/password", h.Users.ChangePassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(tokens.Middleware())

			r.Get("/ws/connections", h.System.Connections)

			r.Route("/users", func(r chi.Router) {
				r.Use(admins)
				r.Post("/", h.Users.Create)
				r.Put("/{id}/active", h.Users.SetActive)
			})

			r.Route("/events", func(r chi.Router) {
				r.Get("/recent", h.Events.GetRecent)
				r.With(producers).Post("/", h.Events.Ingest)
				r.With(staff).Post("/{id}/evaluate", h.Events.Evaluate)
			})

			r.With(producers).Put("/entities/{type}/{id}", h.Entities.Upsert)

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", h.Alerts.List)
				r.Get("/stats", h.Alerts.Stats)
				r.Get("/rules/stats", h.Alerts.RuleStats)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.Alerts.Get)
					r.Group(func(r chi.Router) {
						r.Use(staff)
						r.Post("/acknowledge", h.Alerts.Acknowledge)
						r.Post("/assign", h.Alerts.Assign)
						r.Post("/investigate", h.Alerts.Investigate)
						r.Post("/close", h.Alerts.Close)
						r.Put("/case", h.Alerts.LinkCase)
					})
				})
			})

			r.With(staff).Post("/cases/{id}/updates", h.Cases.Update)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.Notifications.List)
				r.Get("/unread-count", h.Notifications.UnreadCount)
				r.Post("/read-all", h.Notifications.MarkAllRead)
				r.Post("/{id}/read", h.Notifications.MarkRead)
				r.Get("/preferences", h.Notifications.GetPreferences)
				r.Put("/preferences", h.Notifications.UpdatePreferences)
				r.With(admins).Post("/system", h.Notifications.SendSystem)
			})
		})
	})

	return r
}

// requestLogger writes one zerolog line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}
