package wallet

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/money"
	"github.com/axzora/happy-paisa/internal/settlement"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Balance returns the user's balance projection.
func (h *Handler) Balance(c *fiber.Ctx) error {
	view, err := h.service.BalanceView(c.UserContext(), c.Params("userID"))
	if err != nil {
		return walletError(err)
	}
	return c.JSON(view)
}

type convertRequest struct {
	AmountHP    json.Number `json:"amount_hp"`
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Description string      `json:"description"`
}

// ConvertINRToHP collects rupees and mints HP.
func (h *Handler) ConvertINRToHP(c *fiber.Ctx) error {
	var req convertRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.ParseHP(req.AmountHP.String())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount_hp must be a positive decimal")
	}

	res, err := h.service.ConvertINRToHP(c.UserContext(), ConvertInput{
		UserID:      c.Params("userID"),
		Amount:      amount,
		Instrument:  req.Source,
		Description: req.Description,
	})
	if err != nil {
		return walletError(err)
	}
	return c.Status(http.StatusAccepted).JSON(conversionResponse(res))
}

// ConvertHPToINR burns HP and pays out rupees.
func (h *Handler) ConvertHPToINR(c *fiber.Ctx) error {
	var req convertRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.ParseHP(req.AmountHP.String())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount_hp must be a positive decimal")
	}

	res, err := h.service.ConvertHPToINR(c.UserContext(), ConvertInput{
		UserID:      c.Params("userID"),
		Amount:      amount,
		Instrument:  req.Destination,
		Description: req.Description,
	})
	if err != nil {
		return walletError(err)
	}
	return c.Status(http.StatusAccepted).JSON(conversionResponse(res))
}

type transferRequest struct {
	ToUserID    string      `json:"to_user_id"`
	AmountHP    json.Number `json:"amount_hp"`
	Description string      `json:"description"`
}

// Transfer moves HP between two users.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.ParseHP(req.AmountHP.String())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount_hp must be a positive decimal")
	}

	tx, err := h.service.Transfer(c.UserContext(), TransferInput{
		FromUserID:  c.Params("userID"),
		ToUserID:    req.ToUserID,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		return walletError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"transaction_hash": tx.Hash,
		"status":           string(tx.Status),
		"amount_hp":        money.PlanckToHP(tx.Amount).String(),
		"fee_hp":           money.PlanckToHP(tx.Fee).String(),
	})
}

func conversionResponse(res *ConversionResult) fiber.Map {
	return fiber.Map{
		"transaction_hash": res.Transaction.Hash,
		"status":           string(res.Transaction.Status),
		"amount_hp":        money.PlanckToHP(res.Transaction.Amount).String(),
		"inr_amount":       money.PlanckToINR(res.Transaction.Amount).StringFixed(2),
		"fiat_reference":   res.FiatRef,
	}
}

func walletError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownUser):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, settlement.ErrUnknownKind),
		errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, settlement.ErrInvalidAddress),
		errors.Is(err, settlement.ErrSelfTransfer):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, settlement.ErrMintLimit),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
