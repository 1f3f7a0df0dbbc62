package cards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/money"
	"github.com/axzora/happy-paisa/internal/notification"
	"github.com/axzora/happy-paisa/internal/settlement"
)

// keyedMutex hands out one mutex per key so work on different cards runs in
// parallel while work on one card serializes.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the key's mutex and returns its unlock function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// AuthRequest is one authorization attempt arriving from the card network.
// Amount is INR minor units (paise). UserID is optional; when present it
// must match the card's holder.
type AuthRequest struct {
	CardID           string
	UserID           string
	Amount           int64
	MerchantName     string
	MerchantCategory MerchantCategory
	Description      string
	Location         string
	Online           bool
	International    bool
}

// Decision is an authorization outcome. Every decision, approved or
// declined, is persisted; TransactionID points at the recorded row.
type Decision struct {
	Authorized        bool
	TransactionID     string
	AuthorizationCode string
	ResponseCode      string
	DeclineReason     string
	AmountPaise       int64
	BalancePaise      int64
	FraudScore        int
}

// Authorize runs the decision pipeline for one card-network request. The
// whole evaluation holds the card's mutex so check-and-debit is atomic:
// two racing authorizations on one card serialize and the loser sees the
// winner's debit. Checks run in network decision order and the first
// failure decides.
func (s *Service) Authorize(ctx context.Context, req AuthRequest) (*Decision, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !req.MerchantCategory.Valid() {
		return nil, ErrUnknownCategory
	}

	unlock := s.locks.lock(req.CardID)
	defer unlock()

	return s.decide(ctx, req, time.Now().UTC()), nil
}

func (s *Service) decide(ctx context.Context, req AuthRequest, now time.Time) *Decision {
	card, err := s.repo.Get(ctx, req.CardID)
	if errors.Is(err, ErrCardNotFound) {
		return s.decline(ctx, nil, req, now, DeclineCardNotFound, CodeCardNotFound, 0)
	}
	if err != nil {
		s.logger.Error("card read failed during authorization", "card_id", req.CardID, "error", err)
		return s.decline(ctx, nil, req, now, DeclineSystemError, CodeSystemError, 0)
	}
	if req.UserID != "" && req.UserID != card.UserID {
		// A card that is not the caller's looks exactly like no card.
		return s.decline(ctx, nil, req, now, DeclineCardNotFound, CodeCardNotFound, 0)
	}

	if card.Status != StatusActive {
		return s.decline(ctx, card, req, now, statusDecline(card.Status), CodeCardState, 0)
	}

	if card.ExpiredAt(now) {
		card.Status = StatusExpired
		card.UpdatedAt = now
		if err := s.repo.Update(ctx, card); err != nil {
			s.logger.Error("card expiry flip failed", "card_id", card.ID, "error", err)
		}
		return s.decline(ctx, card, req, now, DeclineCardExpired, CodeCardState, 0)
	}

	loc := card.Location()
	local := now.In(loc)

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	daily, err := s.txlog.SumApproved(ctx, card.ID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		s.logger.Error("daily spend read failed", "card_id", card.ID, "error", err)
		return s.decline(ctx, card, req, now, DeclineSystemError, CodeSystemError, 0)
	}
	if daily+req.Amount > card.Controls.DailyLimit {
		return s.decline(ctx, card, req, now, DeclineDailyLimit, CodeLimitExceeded, 0)
	}

	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	monthly, err := s.txlog.SumApproved(ctx, card.ID, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		s.logger.Error("monthly spend read failed", "card_id", card.ID, "error", err)
		return s.decline(ctx, card, req, now, DeclineSystemError, CodeSystemError, 0)
	}
	if monthly+req.Amount > card.Controls.MonthlyLimit {
		return s.decline(ctx, card, req, now, DeclineMonthlyLimit, CodeLimitExceeded, 0)
	}

	if req.Amount > card.Controls.PerTransactionLimit {
		return s.decline(ctx, card, req, now, DeclineTransactionLimit, CodeLimitExceeded, 0)
	}

	if card.Controls.categoryBlocked(req.MerchantCategory) {
		return s.decline(ctx, card, req, now, DeclineCategoryBlocked, CodeCategoryBlocked, 0)
	}
	if !card.Controls.categoryAllowed(req.MerchantCategory) {
		return s.decline(ctx, card, req, now, DeclineCategoryNotAllowed, CodeCategoryBlocked, 0)
	}

	if req.Online && !card.Controls.OnlineEnabled {
		return s.decline(ctx, card, req, now, DeclineOnlineDisabled, CodeCategoryBlocked, 0)
	}
	if req.International && !card.Controls.InternationalEnabled {
		return s.decline(ctx, card, req, now, DeclineInternationalDisabled, CodeCategoryBlocked, 0)
	}

	if card.Balance < req.Amount {
		if err := s.topUp(ctx, card, req.Amount-card.Balance); err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return s.decline(ctx, card, req, now, DeclineInsufficientFunds, CodeInsufficientFunds, 0)
			}
			s.logger.Error("card auto top-up failed", "card_id", card.ID, "error", err)
			return s.decline(ctx, card, req, now, DeclineSystemError, CodeSystemError, 0)
		}
	}

	score, fired := s.fraudScore(ctx, card, req, local)
	if score > s.cfg.FraudThreshold {
		s.logger.Warn("suspected fraud", "card_id", card.ID, "score", score, "rules", fired)
		return s.decline(ctx, card, req, now, DeclineSuspectedFraud, CodeSuspectedFraud, score)
	}

	tx := &Transaction{
		ID:                uuid.NewString(),
		CardID:            card.ID,
		UserID:            card.UserID,
		Amount:            req.Amount,
		MerchantName:      req.MerchantName,
		MerchantCategory:  req.MerchantCategory,
		Description:       req.Description,
		Location:          req.Location,
		Status:            TxApproved,
		ResponseCode:      CodeApproved,
		AuthorizationCode: GenerateAuthCode(),
		ReferenceNumber:   uuid.NewString(),
		FraudScore:        score,
		CreatedAt:         now,
	}
	if err := s.txlog.Record(ctx, tx); err != nil {
		s.logger.Error("approval could not be recorded", "card_id", card.ID, "error", err)
		return s.decline(ctx, card, req, now, DeclineSystemError, CodeSystemError, score)
	}

	card.Balance -= req.Amount
	card.LastUsedAt = now
	card.UpdatedAt = now
	if err := s.repo.Update(ctx, card); err != nil {
		s.logger.Error("card debit failed after approval", "card_id", card.ID, "tx_id", tx.ID, "error", err)
	}

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindAuthorizationApproved,
			Destination: card.UserID,
			Body: fmt.Sprintf("card %s approved ₹%s at %s",
				card.MaskedPAN, money.FormatPaise(req.Amount), req.MerchantName),
		})
	}

	s.logger.Info("authorization approved", "card_id", card.ID, "tx_id", tx.ID,
		"amount_paise", req.Amount, "merchant", req.MerchantName)
	return &Decision{
		Authorized:        true,
		TransactionID:     tx.ID,
		AuthorizationCode: tx.AuthorizationCode,
		ResponseCode:      CodeApproved,
		AmountPaise:       req.Amount,
		BalancePaise:      card.Balance,
		FraudScore:        score,
	}
}

// decline records the declined decision and assembles the response. card is
// nil when the lookup itself failed.
func (s *Service) decline(ctx context.Context, card *Card, req AuthRequest, now time.Time, reason, code string, score int) *Decision {
	userID := req.UserID
	var balance int64
	if card != nil {
		userID = card.UserID
		balance = card.Balance
	}

	tx := &Transaction{
		ID:               uuid.NewString(),
		CardID:           req.CardID,
		UserID:           userID,
		Amount:           req.Amount,
		MerchantName:     req.MerchantName,
		MerchantCategory: req.MerchantCategory,
		Description:      req.Description,
		Location:         req.Location,
		Status:           TxDeclined,
		DeclineReason:    reason,
		ResponseCode:     code,
		ReferenceNumber:  uuid.NewString(),
		FraudScore:       score,
		CreatedAt:        now,
	}
	if err := s.txlog.Record(ctx, tx); err != nil {
		s.logger.Error("decline could not be recorded", "card_id", req.CardID, "reason", reason, "error", err)
	}

	if reason == DeclineSuspectedFraud && s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindFraudAlert,
			Destination: userID,
			Body: fmt.Sprintf("card %s declined ₹%s at %s, fraud score %d",
				req.CardID, money.FormatPaise(req.Amount), req.MerchantName, score),
		})
	}

	s.logger.Info("authorization declined", "card_id", req.CardID, "reason", reason, "code", code)
	return &Decision{
		Authorized:    false,
		TransactionID: tx.ID,
		DeclineReason: reason,
		ResponseCode:  code,
		AmountPaise:   req.Amount,
		BalancePaise:  balance,
		FraudScore:    score,
	}
}

// topUp draws exactly the shortfall from the holder's chain balance. The
// burn settles inline via SettleNow so the decision stays synchronous, and
// the credit is persisted immediately: a later fraud decline does not
// revert it.
func (s *Service) topUp(ctx context.Context, card *Card, shortfallPaise int64) error {
	if _, err := s.chain.SettleNow(ctx, settlement.Request{
		Kind:        ledger.KindBurn,
		From:        card.Address,
		Amount:      money.PaiseToPlanck(shortfallPaise),
		Category:    ledger.CategoryCardTopup,
		Description: "card auto top-up " + card.MaskedPAN,
	}); err != nil {
		return err
	}

	card.Balance += shortfallPaise
	card.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, card); err != nil {
		s.logger.Error("card credit failed after top-up burn", "card_id", card.ID, "error", err)
		return err
	}

	s.logger.Info("card auto top-up", "card_id", card.ID, "amount_paise", shortfallPaise)
	return nil
}

// fraudScore evaluates the rule table over the card's trailing 24 hours.
// local must already be in the card's timezone.
func (s *Service) fraudScore(ctx context.Context, card *Card, req AuthRequest, local time.Time) (int, []string) {
	recent, err := s.txlog.ApprovedSince(ctx, card.ID, local.Add(-24*time.Hour))
	if err != nil {
		s.logger.Error("fraud history read failed", "card_id", card.ID, "error", err)
		recent = nil
	}
	return scoreFraud(fraudInput{
		amount:   req.Amount,
		category: req.MerchantCategory,
		now:      local,
		recent:   recent,
	})
}

// Reverse undoes an approved authorization exactly once, crediting the
// amount back onto the card.
func (s *Service) Reverse(ctx context.Context, txID string) (*Transaction, error) {
	tx, err := s.txlog.Get(ctx, txID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(tx.CardID)
	defer unlock()

	reversed, err := s.txlog.MarkReversed(ctx, txID)
	if err != nil {
		return nil, err
	}

	card, err := s.repo.Get(ctx, reversed.CardID)
	if err != nil {
		s.logger.Error("reversal references missing card", "tx_id", txID, "card_id", reversed.CardID, "error", err)
		return nil, err
	}
	card.Balance += reversed.Amount
	card.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, card); err != nil {
		s.logger.Error("card credit failed after reversal", "card_id", card.ID, "tx_id", txID, "error", err)
		return nil, err
	}

	s.logger.Info("transaction reversed", "tx_id", txID, "card_id", card.ID, "amount_paise", reversed.Amount)
	return reversed, nil
}
