package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/axzora/happy-paisa/internal/cards"
)

// RegisterCardRoutes wires the virtual card endpoints. Static segments are
// registered before the :cardID routes so they are not captured as ids.
func RegisterCardRoutes(r fiber.Router, h *cards.Handler) {
	r.Post("/cards", h.Issue)
	r.Get("/cards", h.List)
	r.Get("/cards/fraud-alerts", h.FraudAlerts)
	r.Post("/cards/transactions/:txID/reverse", h.Reverse)

	r.Get("/cards/:cardID", h.Get)
	r.Post("/cards/:cardID/load", h.Load)
	r.Post("/cards/:cardID/status", h.SetStatus)
	r.Put("/cards/:cardID/controls", h.UpdateControls)
	r.Get("/cards/:cardID/transactions", h.Transactions)
	r.Post("/cards/:cardID/authorize", h.Authorize)
}
