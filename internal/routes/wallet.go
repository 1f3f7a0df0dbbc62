package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/axzora/happy-paisa/internal/wallet"
)

// RegisterWalletRoutes wires the wallet projection and conversion endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallets/:userID/balance", h.Balance)
	r.Post("/wallets/:userID/convert/inr-to-hp", h.ConvertINRToHP)
	r.Post("/wallets/:userID/convert/hp-to-inr", h.ConvertHPToINR)
	r.Post("/wallets/:userID/transfers", h.Transfer)
}
