package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/axzora/happy-paisa/internal/settlement"
)

// RegisterChainRoutes wires the chain settlement endpoints.
func RegisterChainRoutes(r fiber.Router, h *settlement.Handler) {
	r.Post("/chain/transactions", h.Submit)
	r.Get("/chain/transactions/:hash", h.Status)
	r.Post("/chain/transactions/:hash/sync", h.Sync)
	r.Get("/chain/addresses/:address/transactions", h.History)
	r.Get("/chain/stats", h.Stats)
}
