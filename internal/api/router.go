package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the database ping in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
//
// Order matters: request ID, logging and recovery wrap everything; CORS
// answers preflights before the body limit and gate run; the gate only
// attaches a principal, and each handler asks the policy.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.gate.Middleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/system", s.handleSystem)

		r.Route("/auth", func(r chi.Router) {
			r.With(s.rateLimitMiddleware("login")).Post("/login", s.handleLogin)
			r.With(s.rateLimitMiddleware("register")).Post("/register", s.handleRegister)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)
			r.Put("/password", s.handleChangePassword)
			r.Post("/ws-ticket", s.handleWSTicket)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.handleListUsers)
			r.Post("/", s.handleCreateUser)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetUser)
				r.Patch("/", s.handleUpdateUser)
				r.Delete("/", s.handleDeleteUser)
				r.Put("/role", s.handleChangeRole)
				r.Put("/password", s.handleResetPassword)
				r.Put("/active-tier-list", s.handleSetActiveTierList)
				r.Get("/tiers", s.handleListUserTiers)
			})
		})

		r.Route("/tiers", func(r chi.Router) {
			r.Get("/", s.handleListTiers)
			r.Post("/", s.handleCreateTier)
			r.Get("/search", s.handleSearchTiers)
			r.Get("/public", s.handleListPublicTiers)
			r.Get("/public/search", s.handleListPublicTiers)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTier)
				r.Put("/", s.handleReplaceTier)
				r.Patch("/", s.handlePatchTier)
				r.Delete("/", s.handleDeleteTier)
				r.Put("/visibility", s.handleSetTierVisibility)
				r.Get("/items", s.handleListTierItems)
				r.Post("/items", s.handleCreateItem)
				r.Post("/items/batch", s.handleCreateItemBatch)
				r.Get("/ranks", s.handleListTierRanks)
				r.Get("/ranks/{rank}", s.handleListTierRank)
			})
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", s.handleListItems)
			r.Get("/search", s.handleSearchItems)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetItem)
				r.Put("/", s.handleReplaceItem)
				r.Patch("/", s.handlePatchItem)
				r.Delete("/", s.handleDeleteItem)
				r.Put("/tier/{tierId}", s.handleMoveItem)
				r.Put("/rank/{rank}", s.handleRankItem)
			})
		})

		r.Get("/audit", s.handleListAuditLogs)

		// Authenticated by ticket, checked in the handler.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports liveness and, when a database is attached, whether
// it answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check: database unavailable", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unavailable"
		} else {
			body["database"] = "ok"
		}
	}

	writeJSON(w, status, body)
}
