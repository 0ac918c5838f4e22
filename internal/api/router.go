/**
 * @description
 * This file sets up the HTTP router for the dispatch-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies any necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DispatchRoutes creates and returns a new router for the dispatch service.
func DispatchRoutes(h *DispatchHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Route("/bookings/{bookingID}", func(r chi.Router) {
			r.Get("/", h.GetBookingHandler)
			r.Post("/dispatch", h.DispatchBookingHandler)
			r.Post("/accept", h.AcceptBookingHandler)
			r.Post("/reject", h.RejectBookingHandler)
			r.Post("/travel-status", h.TravelStatusHandler)
			r.Post("/cancel", h.CancelBookingHandler)
			r.Post("/complete", h.CompleteBookingHandler)
		})

		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/wallet", h.AgentWalletHandler)
			r.Get("/status", h.AgentStatusHandler)
			r.Post("/presence", h.PresenceHandler)
		})

		r.Get("/customers/me/wallet", h.CustomerWalletHandler)
	})

	return r
}
