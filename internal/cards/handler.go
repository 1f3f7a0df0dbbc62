package cards

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/money"
	"github.com/axzora/happy-paisa/internal/settlement"
)

// Handler exposes card HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a card HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type cardResponse struct {
	*Card
	BalanceINR string `json:"balance_inr"`
}

func newCardResponse(card *Card) cardResponse {
	return cardResponse{Card: card, BalanceINR: money.FormatPaise(card.Balance)}
}

type issueRequest struct {
	UserID         string `json:"user_id"`
	CardholderName string `json:"cardholder_name"`
}

// Issue creates a virtual card.
func (h *Handler) Issue(c *fiber.Ctx) error {
	var req issueRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.CardholderName == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id and cardholder_name are required")
	}

	card, err := h.service.Issue(c.UserContext(), IssueInput{
		UserID:         req.UserID,
		CardholderName: req.CardholderName,
	})
	if err != nil {
		return cardError(err)
	}
	return c.Status(http.StatusCreated).JSON(newCardResponse(card))
}

// Get returns the masked card view.
func (h *Handler) Get(c *fiber.Ctx) error {
	card, err := h.service.Get(c.UserContext(), c.Params("cardID"))
	if err != nil {
		return cardError(err)
	}
	return c.JSON(newCardResponse(card))
}

// List returns a user's cards, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id query parameter is required")
	}
	cards, err := h.service.ListByUser(c.UserContext(), userID)
	if err != nil {
		return cardError(err)
	}
	out := make([]cardResponse, 0, len(cards))
	for i := range cards {
		out = append(out, newCardResponse(&cards[i]))
	}
	return c.JSON(fiber.Map{"user_id": userID, "cards": out})
}

type loadRequest struct {
	AmountINR json.Number `json:"amount_inr"`
}

// Load adds prepaid balance to the card from the holder's chain balance.
func (h *Handler) Load(c *fiber.Ctx) error {
	var req loadRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	paise, err := money.ParseINR(req.AmountINR.String())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount_inr must be a positive decimal")
	}

	card, err := h.service.Load(c.UserContext(), c.Params("cardID"), paise)
	if err != nil {
		return cardError(err)
	}
	return c.JSON(newCardResponse(card))
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetStatus freezes, unfreezes, blocks or cancels the card.
func (h *Handler) SetStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	card, err := h.service.SetStatus(c.UserContext(), c.Params("cardID"), Status(req.Status))
	if err != nil {
		return cardError(err)
	}
	return c.JSON(newCardResponse(card))
}

// UpdateControls replaces the card's spending controls.
func (h *Handler) UpdateControls(c *fiber.Ctx) error {
	var controls Controls
	if err := c.BodyParser(&controls); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	card, err := h.service.UpdateControls(c.UserContext(), c.Params("cardID"), controls)
	if err != nil {
		return cardError(err)
	}
	return c.JSON(newCardResponse(card))
}

// Transactions returns the card's decision history, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}
	txs, err := h.service.Transactions(c.UserContext(), c.Params("cardID"), limit)
	if err != nil {
		return cardError(err)
	}
	return c.JSON(fiber.Map{"card_id": c.Params("cardID"), "transactions": txs})
}

type authorizeRequest struct {
	UserID           string      `json:"user_id"`
	AmountINR        json.Number `json:"amount_inr"`
	MerchantName     string      `json:"merchant_name"`
	MerchantCategory string      `json:"merchant_category"`
	Description      string      `json:"description"`
	Location         string      `json:"location"`
	Online           bool        `json:"online"`
	International    bool        `json:"international"`
}

type decisionResponse struct {
	Approved          bool   `json:"approved"`
	TransactionID     string `json:"transaction_id"`
	AuthorizationCode string `json:"authorization_code,omitempty"`
	DeclineReason     string `json:"decline_reason,omitempty"`
	ResponseCode      string `json:"response_code"`
	AmountPaise       int64  `json:"amount_paise"`
	AmountINR         string `json:"amount_inr"`
	BalancePaise      int64  `json:"balance_paise"`
	FraudScore        int    `json:"fraud_score"`
}

// Authorize runs the decision pipeline. A completed pipeline always answers
// 200 with the decision payload; declines are data, not transport errors.
func (h *Handler) Authorize(c *fiber.Ctx) error {
	var req authorizeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	paise, err := money.ParseINR(req.AmountINR.String())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount_inr must be a positive decimal")
	}

	decision, err := h.service.Authorize(c.UserContext(), AuthRequest{
		CardID:           c.Params("cardID"),
		UserID:           req.UserID,
		Amount:           paise,
		MerchantName:     req.MerchantName,
		MerchantCategory: MerchantCategory(req.MerchantCategory),
		Description:      req.Description,
		Location:         req.Location,
		Online:           req.Online,
		International:    req.International,
	})
	if err != nil {
		return cardError(err)
	}
	return c.JSON(decisionResponse{
		Approved:          decision.Authorized,
		TransactionID:     decision.TransactionID,
		AuthorizationCode: decision.AuthorizationCode,
		DeclineReason:     decision.DeclineReason,
		ResponseCode:      decision.ResponseCode,
		AmountPaise:       decision.AmountPaise,
		AmountINR:         money.FormatPaise(decision.AmountPaise),
		BalancePaise:      decision.BalancePaise,
		FraudScore:        decision.FraudScore,
	})
}

// Reverse undoes an approved authorization exactly once.
func (h *Handler) Reverse(c *fiber.Ctx) error {
	tx, err := h.service.Reverse(c.UserContext(), c.Params("txID"))
	if err != nil {
		return cardError(err)
	}
	return c.JSON(tx)
}

// FraudAlerts lists fraud-declined transactions for a user.
func (h *Handler) FraudAlerts(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id query parameter is required")
	}
	days := c.QueryInt("days", 7)
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	alerts, err := h.service.FraudAlerts(c.UserContext(), userID, since)
	if err != nil {
		return cardError(err)
	}
	return c.JSON(fiber.Map{"user_id": userID, "since": since, "alerts": alerts})
}

func cardError(err error) error {
	switch {
	case errors.Is(err, ErrCardNotFound), errors.Is(err, ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrKYCRequired):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrCardExists),
		errors.Is(err, ErrBadStatusChange),
		errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, ErrNotReversible):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidControls),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrUnknownCategory),
		errors.Is(err, settlement.ErrInvalidAddress),
		errors.Is(err, settlement.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
