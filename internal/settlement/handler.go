package settlement

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/money"
)

// Handler exposes the chain endpoints.
type Handler struct {
	processor *Processor
}

// NewHandler constructs a chain handler.
func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

type submitRequest struct {
	Kind        string            `json:"kind"`
	From        string            `json:"from_address"`
	To          string            `json:"to_address"`
	AmountHP    json.Number       `json:"amount_hp"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

type transactionResponse struct {
	Hash          string            `json:"hash"`
	Kind          string            `json:"kind"`
	From          string            `json:"from_address,omitempty"`
	To            string            `json:"to_address,omitempty"`
	AmountPlanck  int64             `json:"amount_planck,string"`
	AmountHP      string            `json:"amount_hp"`
	FeePlanck     int64             `json:"fee_planck,string"`
	Category      string            `json:"category,omitempty"`
	Description   string            `json:"description,omitempty"`
	Status        string            `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	BlockNumber   int64             `json:"block_number,omitempty"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	SettledAt     *time.Time        `json:"settled_at,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func newTransactionResponse(tx *ledger.Transaction) transactionResponse {
	return transactionResponse{
		Hash:          tx.Hash,
		Kind:          string(tx.Kind),
		From:          tx.From,
		To:            tx.To,
		AmountPlanck:  tx.Amount,
		AmountHP:      money.PlanckToHP(tx.Amount).String(),
		FeePlanck:     tx.Fee,
		Category:      tx.Category,
		Description:   tx.Description,
		Status:        string(tx.Status),
		FailureReason: tx.FailureReason,
		BlockNumber:   tx.BlockNumber,
		SubmittedAt:   tx.SubmittedAt,
		SettledAt:     tx.SettledAt,
		Metadata:      tx.Metadata,
	}
}

// Submit accepts a mint, burn or transfer for settlement.
func (h *Handler) Submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.ParseHP(req.AmountHP.String())
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount_hp must be a positive decimal")
	}

	tx, err := h.processor.Submit(c.UserContext(), Request{
		Kind:        ledger.Kind(req.Kind),
		From:        req.From,
		To:          req.To,
		Amount:      amount,
		Category:    req.Category,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return chainError(err)
	}

	return c.Status(http.StatusAccepted).JSON(newTransactionResponse(tx))
}

// Status returns the current state of a transaction.
func (h *Handler) Status(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if !ledger.ValidHash(hash) {
		return fiber.NewError(http.StatusBadRequest, "malformed transaction hash")
	}
	tx, err := h.processor.Status(c.UserContext(), hash)
	if err != nil {
		return chainError(err)
	}
	return c.JSON(newTransactionResponse(tx))
}

// Sync re-reads a transaction, nudging an overdue pending row through
// resolution.
func (h *Handler) Sync(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if !ledger.ValidHash(hash) {
		return fiber.NewError(http.StatusBadRequest, "malformed transaction hash")
	}
	tx, err := h.processor.Sync(c.UserContext(), hash)
	if err != nil {
		return chainError(err)
	}
	return c.JSON(newTransactionResponse(tx))
}

// History lists an address's transactions, newest first.
func (h *Handler) History(c *fiber.Ctx) error {
	address := c.Params("address")
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	txs, err := h.processor.History(c.UserContext(), address, limit)
	if err != nil {
		return chainError(err)
	}

	out := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, newTransactionResponse(&txs[i]))
	}
	return c.JSON(fiber.Map{
		"address":      address,
		"transactions": out,
	})
}

// Stats reports a chain health snapshot.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.processor.NetworkStats(c.UserContext())
	if err != nil {
		return chainError(err)
	}
	return c.JSON(fiber.Map{
		"network":              stats.Network,
		"block_time_seconds":   stats.BlockTime.Seconds(),
		"latest_block":         stats.LatestBlock,
		"total_issued_hp":      money.PlanckToHP(stats.TotalIssued).String(),
		"active_addresses":     stats.ActiveAddresses,
		"pending_transactions": stats.Pending,
	})
}

func chainError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKind),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidAddress),
		errors.Is(err, ErrSelfTransfer):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrMintLimit),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, "transaction not found")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
