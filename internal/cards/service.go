package cards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/logging"
	"github.com/axzora/happy-paisa/internal/money"
	"github.com/axzora/happy-paisa/internal/notification"
	"github.com/axzora/happy-paisa/internal/settlement"
	"github.com/axzora/happy-paisa/internal/wallet"
)

// DefaultTimezone is the processing timezone stamped on new cards.
const DefaultTimezone = "Asia/Kolkata"

const validityYears = 3

var (
	// ErrCardExists indicates the user already holds an active or frozen
	// card; one open card per user.
	ErrCardExists = errors.New("user already has an open card")

	// ErrBadStatusChange indicates an illegal lifecycle transition.
	ErrBadStatusChange = errors.New("illegal card status transition")

	// ErrInvalidControls indicates non-positive limits or unknown categories.
	ErrInvalidControls = errors.New("controls need positive limits and known categories")

	// ErrInvalidAmount rejects zero and negative paise amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrUnknownCategory rejects merchant categories outside the enum.
	ErrUnknownCategory = errors.New("unknown merchant category")
)

// Config tunes issuance and authorization.
type Config struct {
	// BIN prefixes generated PANs.
	BIN string
	// Timezone is stamped on new cards and anchors their limit windows.
	Timezone string
	// FraudThreshold declines authorizations scoring strictly above it.
	FraudThreshold int
}

// Service owns the virtual card lifecycle and the authorization pipeline.
// Card balances are prepaid paise funded by burning the holder's chain
// balance; the ledger stays the only money mutator.
type Service struct {
	repo      Repository
	txlog     TransactionLog
	approvals ApprovalSource
	directory wallet.Directory
	chain     *settlement.Processor
	notifier  notification.Notifier
	logger    *slog.Logger
	cfg       Config
	locks     keyedMutex
}

// NewService builds a card service instance.
func NewService(repo Repository, txlog TransactionLog, approvals ApprovalSource, directory wallet.Directory, chain *settlement.Processor, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Service {
	if cfg.BIN == "" {
		cfg.BIN = DefaultBIN
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.FraudThreshold <= 0 {
		cfg.FraudThreshold = DefaultFraudThreshold
	}
	return &Service{
		repo:      repo,
		txlog:     txlog,
		approvals: approvals,
		directory: directory,
		chain:     chain,
		notifier:  notifier,
		logger:    logging.WithComponent(logger, "cards"),
		cfg:       cfg,
		locks:     newKeyedMutex(),
	}
}

// IssueInput describes a card issuance request.
type IssueInput struct {
	UserID         string
	CardholderName string
}

// Issue creates a virtual card for a KYC-approved user. Only the PAN and CVV
// hashes are stored; the card starts active with zero balance and default
// controls.
func (s *Service) Issue(ctx context.Context, input IssueInput) (*Card, error) {
	approved, err := s.approvals.Approved(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("check kyc: %w", err)
	}
	if !approved {
		return nil, ErrKYCRequired
	}

	// Serializes concurrent issuance for one user so the one-open-card rule
	// holds without a database constraint.
	unlock := s.locks.lock("issue:" + input.UserID)
	defer unlock()

	open, err := s.repo.HasOpenCard(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrCardExists
	}

	binding, err := s.directory.GetOrCreate(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("bind chain address: %w", err)
	}

	pan, err := GeneratePAN(s.cfg.BIN)
	if err != nil {
		return nil, err
	}
	cvv, err := GenerateCVV()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiry := now.AddDate(validityYears, 0, 0)
	card := &Card{
		ID:             uuid.NewString(),
		UserID:         input.UserID,
		Address:        binding.Address,
		MaskedPAN:      MaskPAN(pan),
		PANHash:        HashSensitive(pan),
		CVVHash:        HashSensitive(cvv),
		ExpiryMonth:    int(expiry.Month()),
		ExpiryYear:     expiry.Year(),
		CardholderName: input.CardholderName,
		Status:         StatusActive,
		Controls:       DefaultControls(),
		Timezone:       s.cfg.Timezone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, card); err != nil {
		return nil, err
	}

	s.logger.Info("card issued", "card_id", card.ID, "user_id", card.UserID, "masked_pan", card.MaskedPAN)
	return card, nil
}

// Get fetches a card by id.
func (s *Service) Get(ctx context.Context, cardID string) (*Card, error) {
	return s.repo.Get(ctx, cardID)
}

// ListByUser returns the user's cards, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Card, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Load adds prepaid balance to the card by burning the equivalent planck
// from the holder's chain balance. The burn settles inline; an uncovered
// draw returns ledger.ErrInsufficientBalance and leaves the card unchanged.
func (s *Service) Load(ctx context.Context, cardID string, amountPaise int64) (*Card, error) {
	if amountPaise <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := s.locks.lock(cardID)
	defer unlock()

	card, err := s.repo.Get(ctx, cardID)
	if err != nil {
		return nil, err
	}

	if _, err := s.chain.SettleNow(ctx, settlement.Request{
		Kind:        ledger.KindBurn,
		From:        card.Address,
		Amount:      money.PaiseToPlanck(amountPaise),
		Category:    ledger.CategoryCardTopup,
		Description: "card load " + card.MaskedPAN,
	}); err != nil {
		return nil, err
	}

	card.Balance += amountPaise
	card.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, card); err != nil {
		s.logger.Error("card credit failed after ledger draw", "card_id", card.ID, "error", err)
		return nil, err
	}

	s.logger.Info("card loaded", "card_id", card.ID, "amount_paise", amountPaise)
	return card, nil
}

// SetStatus moves the card through its lifecycle (freeze, unfreeze, block,
// cancel). Illegal transitions return ErrBadStatusChange.
func (s *Service) SetStatus(ctx context.Context, cardID string, next Status) (*Card, error) {
	if !next.Valid() {
		return nil, ErrBadStatusChange
	}

	unlock := s.locks.lock(cardID)
	defer unlock()

	card, err := s.repo.Get(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !card.Status.CanTransitionTo(next) {
		return nil, ErrBadStatusChange
	}

	card.Status = next
	card.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, card); err != nil {
		return nil, err
	}

	s.logger.Info("card status changed", "card_id", card.ID, "status", string(next))
	return card, nil
}

// UpdateControls replaces the card's spending controls.
func (s *Service) UpdateControls(ctx context.Context, cardID string, controls Controls) (*Card, error) {
	if err := controls.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(cardID)
	defer unlock()

	card, err := s.repo.Get(ctx, cardID)
	if err != nil {
		return nil, err
	}

	card.Controls = controls
	card.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, card); err != nil {
		return nil, err
	}

	s.logger.Info("card controls updated", "card_id", card.ID)
	return card, nil
}

// Transactions returns the card's decision history, newest first.
func (s *Service) Transactions(ctx context.Context, cardID string, limit int) ([]Transaction, error) {
	if _, err := s.repo.Get(ctx, cardID); err != nil {
		return nil, err
	}
	return s.txlog.ListByCard(ctx, cardID, limit)
}

// FraudAlerts lists the user's fraud-declined transactions since the given
// time, newest first, for manual review.
func (s *Service) FraudAlerts(ctx context.Context, userID string, since time.Time) ([]Transaction, error) {
	return s.txlog.FraudDeclines(ctx, userID, since)
}
