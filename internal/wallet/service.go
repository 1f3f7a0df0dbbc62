package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/logging"
	"github.com/axzora/happy-paisa/internal/money"
	"github.com/axzora/happy-paisa/internal/notification"
	"github.com/axzora/happy-paisa/internal/settlement"
)

const (
	recentLimit  = 10
	spendingDays = 30
)

// Config tunes the balance projection.
type Config struct {
	// LedgerWait bounds how long a fresh projection may take before the
	// cached copy is served instead.
	LedgerWait time.Duration
	// CacheTTL is how long a projection stays servable from cache.
	CacheTTL time.Duration
	// LowBalance is the planck floor below which a low-balance event fires.
	LowBalance int64
}

// Service assembles balance views from the ledger and maps users onto chain
// operations. The ledger stays the source of truth; the cache only ever
// holds real past reads.
type Service struct {
	directory Directory
	store     ledger.Store
	journal   ledger.Journal
	chain     *settlement.Processor
	cache     Cache
	collector Collector
	notifier  notification.Notifier
	logger    *slog.Logger
	cfg       Config
}

// NewService builds a wallet service instance.
func NewService(directory Directory, store ledger.Store, journal ledger.Journal, chain *settlement.Processor, cache Cache, collector Collector, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Service {
	if cfg.LedgerWait <= 0 {
		cfg.LedgerWait = 2 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.LowBalance <= 0 {
		cfg.LowBalance = money.PlanckPerHP
	}
	return &Service{
		directory: directory,
		store:     store,
		journal:   journal,
		chain:     chain,
		cache:     cache,
		collector: collector,
		notifier:  notifier,
		logger:    logging.WithComponent(logger, "wallet"),
		cfg:       cfg,
	}
}

// Address resolves the user's chain address, deriving one on first use.
func (s *Service) Address(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrUnknownUser
	}
	binding, err := s.directory.GetOrCreate(ctx, userID)
	if err != nil {
		return "", err
	}
	return binding.Address, nil
}

// BalanceView returns the user's balance projection. The happy path reads
// the ledger within the configured wait and writes the result through to
// the cache; when the ledger cannot answer, the last cached copy is served
// with the stale flag set. Values are never fabricated: no ledger and no
// cache means an error.
func (s *Service) BalanceView(ctx context.Context, userID string) (*View, error) {
	if userID == "" {
		return nil, ErrUnknownUser
	}
	binding, err := s.directory.GetOrCreate(ctx, userID)
	if err != nil {
		return s.fallback(ctx, userID, fmt.Errorf("resolve address: %w", err))
	}

	view, err := s.project(ctx, binding)
	if err != nil {
		return s.fallback(ctx, userID, err)
	}

	s.storeView(ctx, view)
	s.touch(ctx, userID)
	if view.BalancePlanck < s.cfg.LowBalance {
		s.alertLowBalance(ctx, view)
	}
	return view, nil
}

// Refresh re-projects one already-bound user, keeping the cache warm. The
// background refresher calls it; unlike BalanceView it never derives new
// addresses and never alerts.
func (s *Service) Refresh(ctx context.Context, userID string) error {
	binding, err := s.directory.Get(ctx, userID)
	if err != nil {
		return err
	}
	view, err := s.project(ctx, binding)
	if err != nil {
		return err
	}
	s.storeView(ctx, view)
	return nil
}

// ActiveBindings lists users active since the cutoff, for the refresher.
func (s *Service) ActiveBindings(ctx context.Context, since time.Time, limit int) ([]Binding, error) {
	return s.directory.ListActiveSince(ctx, since, limit)
}

// ConvertInput describes a fiat conversion. Amount is planck; Instrument is
// the fiat source (INR→HP) or destination (HP→INR).
type ConvertInput struct {
	UserID      string
	Amount      int64
	Instrument  string
	Description string
}

// ConversionResult pairs the chain transaction with the fiat leg reference.
type ConversionResult struct {
	Transaction *ledger.Transaction
	FiatRef     string
}

// ConvertINRToHP collects rupees and mints the equivalent HP. The mint is
// vetted before the collection so an invalid request never touches money,
// then settles asynchronously like any other submission.
func (s *Service) ConvertINRToHP(ctx context.Context, input ConvertInput) (*ConversionResult, error) {
	binding, err := s.directory.GetOrCreate(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	req := settlement.Request{
		Kind:        ledger.KindMint,
		To:          binding.Address,
		Amount:      input.Amount,
		Category:    ledger.CategoryConversion,
		Description: input.Description,
	}
	if err := s.chain.Validate(ctx, req); err != nil {
		return nil, err
	}

	receipt, err := s.collector.CollectINR(ctx, CollectionInput{
		UserID: input.UserID,
		Paise:  money.PlanckToPaise(input.Amount),
		Source: input.Instrument,
	})
	if err != nil {
		return nil, fmt.Errorf("collect fiat leg: %w", err)
	}

	req.Metadata = map[string]string{"collection_ref": receipt.Reference}
	tx, err := s.chain.Submit(ctx, req)
	if err != nil {
		s.logger.Error("mint submission failed after fiat collection, reversal required",
			"user_id", input.UserID, "collection_ref", receipt.Reference, "error", err)
		return nil, err
	}

	s.touch(ctx, input.UserID)
	return &ConversionResult{Transaction: tx, FiatRef: receipt.Reference}, nil
}

// ConvertHPToINR burns HP and pays out the rupee equivalent. The burn is
// submitted first so the payout only happens for a request that passed the
// funds check.
func (s *Service) ConvertHPToINR(ctx context.Context, input ConvertInput) (*ConversionResult, error) {
	binding, err := s.directory.GetOrCreate(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	tx, err := s.chain.Submit(ctx, settlement.Request{
		Kind:        ledger.KindBurn,
		From:        binding.Address,
		Amount:      input.Amount,
		Category:    ledger.CategoryConversion,
		Description: input.Description,
	})
	if err != nil {
		return nil, err
	}

	receipt, err := s.collector.PayoutINR(ctx, PayoutInput{
		UserID:      input.UserID,
		Paise:       money.PlanckToPaise(input.Amount),
		Destination: input.Instrument,
	})
	if err != nil {
		s.logger.Error("fiat payout failed after burn submission",
			"user_id", input.UserID, "hash", tx.Hash, "error", err)
		return nil, fmt.Errorf("payout fiat leg: %w", err)
	}

	s.touch(ctx, input.UserID)
	return &ConversionResult{Transaction: tx, FiatRef: receipt.Reference}, nil
}

// TransferInput moves HP between two users. Amount is planck.
type TransferInput struct {
	FromUserID  string
	ToUserID    string
	Amount      int64
	Description string
}

// Transfer submits a wallet-to-wallet transfer. Terminal notifications come
// from the settlement processor once the transfer resolves.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (*ledger.Transaction, error) {
	if input.FromUserID == input.ToUserID {
		return nil, settlement.ErrSelfTransfer
	}
	from, err := s.directory.GetOrCreate(ctx, input.FromUserID)
	if err != nil {
		return nil, err
	}
	to, err := s.directory.GetOrCreate(ctx, input.ToUserID)
	if err != nil {
		return nil, err
	}

	tx, err := s.chain.Submit(ctx, settlement.Request{
		Kind:        ledger.KindTransfer,
		From:        from.Address,
		To:          to.Address,
		Amount:      input.Amount,
		Category:    ledger.CategoryTransfer,
		Description: input.Description,
	})
	if err != nil {
		return nil, err
	}

	s.touch(ctx, input.FromUserID)
	return tx, nil
}

// project assembles a fresh view within the ledger wait budget.
func (s *Service) project(parent context.Context, binding Binding) (*View, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.LedgerWait)
	defer cancel()

	balance, err := s.store.Balance(ctx, binding.Address)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	spending, err := s.journal.SpendingByCategory(ctx, binding.Address, time.Now().UTC().AddDate(0, 0, -spendingDays))
	if err != nil {
		return nil, fmt.Errorf("spending breakdown: %w", err)
	}
	recent, err := s.journal.ListByAddress(ctx, binding.Address, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}

	summaries := make([]TransactionSummary, 0, len(recent))
	for i := range recent {
		summaries = append(summaries, summarize(&recent[i], binding.Address))
	}

	return &View{
		UserID:             binding.UserID,
		Address:            binding.Address,
		BalancePlanck:      balance,
		BalanceHP:          money.PlanckToHP(balance).String(),
		INREquivalent:      money.PlanckToINR(balance).StringFixed(2),
		SpendingByCategory: spending,
		RecentTransactions: summaries,
		AsOf:               time.Now().UTC(),
	}, nil
}

func (s *Service) fallback(ctx context.Context, userID string, cause error) (*View, error) {
	if s.cache == nil {
		return nil, cause
	}
	cached, err := s.cache.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Error("cache read failed during fallback", "user_id", userID, "error", err)
		}
		return nil, cause
	}
	cached.Stale = true
	s.logger.Warn("serving stale balance view", "user_id", userID, "as_of", cached.AsOf, "error", cause)
	return cached, nil
}

func (s *Service) storeView(ctx context.Context, view *View) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, view, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("balance view cache write failed", "user_id", view.UserID, "error", err)
	}
}

func (s *Service) touch(ctx context.Context, userID string) {
	if err := s.directory.Touch(ctx, userID, time.Now().UTC()); err != nil {
		s.logger.Warn("activity touch failed", "user_id", userID, "error", err)
	}
}

func (s *Service) alertLowBalance(ctx context.Context, view *View) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindLowBalance,
		Destination: view.UserID,
		Body:        fmt.Sprintf("Balance is low: %s HP", view.BalanceHP),
	})
}
