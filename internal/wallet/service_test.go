package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/logging"
	"github.com/axzora/happy-paisa/internal/money"
	"github.com/axzora/happy-paisa/internal/notification"
	"github.com/axzora/happy-paisa/internal/settlement"
)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (n *captureNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *captureNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, m := range n.msgs {
		if m.Kind == kind {
			total++
		}
	}
	return total
}

// flakyStore simulates a ledger outage for the stale-fallback path.
type flakyStore struct {
	ledger.Store
	mu   sync.Mutex
	fail bool
}

func (s *flakyStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *flakyStore) Balance(ctx context.Context, address string) (int64, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return 0, errors.New("ledger unavailable")
	}
	return s.Store.Balance(ctx, address)
}

// countingCollector records fiat legs so tests can assert ordering.
type countingCollector struct {
	mu       sync.Mutex
	collects int
	payouts  int
}

func (c *countingCollector) CollectINR(ctx context.Context, input CollectionInput) (CollectionReceipt, error) {
	c.mu.Lock()
	c.collects++
	c.mu.Unlock()
	return StaticCollector{}.CollectINR(ctx, input)
}

func (c *countingCollector) PayoutINR(ctx context.Context, input PayoutInput) (CollectionReceipt, error) {
	c.mu.Lock()
	c.payouts++
	c.mu.Unlock()
	return StaticCollector{}.PayoutINR(ctx, input)
}

type fixture struct {
	svc       *Service
	store     *flakyStore
	journal   ledger.Journal
	chain     *settlement.Processor
	cache     *RedisCache
	notifier  *captureNotifier
	collector *countingCollector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := &flakyStore{Store: ledger.NewInMemory()}
	journal := ledger.NewInMemoryJournal()
	chain := settlement.NewProcessor(store, journal, nil, logging.Discard(), settlement.Config{
		BlockDelay:  20 * time.Millisecond,
		TransferFee: money.PlanckPerHP / 1000,
		MintCap:     10_000 * money.PlanckPerHP,
	})
	if err := chain.Run(context.Background()); err != nil {
		t.Fatalf("run settlement: %v", err)
	}
	t.Cleanup(chain.Close)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	notifier := &captureNotifier{}
	collector := &countingCollector{}
	cache := NewRedisCache(client)
	svc := NewService(NewMemoryDirectory(), store, journal, chain, cache, collector, notifier, logging.Discard(), Config{})

	return &fixture{svc: svc, store: store, journal: journal, chain: chain, cache: cache, notifier: notifier, collector: collector}
}

func waitTerminal(t *testing.T, chain *settlement.Processor, hash string) *ledger.Transaction {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tx, err := chain.Status(context.Background(), hash)
		if err != nil {
			t.Fatalf("status %s: %v", hash, err)
		}
		if tx.Status.Terminal() {
			return tx
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("transaction %s did not settle", hash)
	return nil
}

func TestBalanceViewProjectsLedger(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	address, err := fx.svc.Address(ctx, "user-1")
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	ledger.SeedBalance(fx.store.Store, address, 5*money.PlanckPerHP)

	// A confirmed burn shows up in spending and recent activity.
	if _, err := fx.chain.SettleNow(ctx, settlement.Request{
		Kind:     ledger.KindBurn,
		From:     address,
		Amount:   money.PlanckPerHP,
		Category: ledger.CategoryCardTopup,
	}); err != nil {
		t.Fatalf("settle burn: %v", err)
	}

	view, err := fx.svc.BalanceView(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance view: %v", err)
	}
	if view.Stale {
		t.Fatal("fresh view marked stale")
	}
	if view.BalancePlanck != 4*money.PlanckPerHP {
		t.Fatalf("balance %d, want %d", view.BalancePlanck, 4*money.PlanckPerHP)
	}
	if view.BalanceHP != "4" {
		t.Fatalf("balance hp %q", view.BalanceHP)
	}
	if view.INREquivalent != "4000.00" {
		t.Fatalf("inr equivalent %q", view.INREquivalent)
	}
	if view.SpendingByCategory[ledger.CategoryCardTopup] != money.PlanckPerHP {
		t.Fatalf("spending breakdown %v", view.SpendingByCategory)
	}
	if len(view.RecentTransactions) != 1 || view.RecentTransactions[0].Direction != "out" {
		t.Fatalf("recent transactions %+v", view.RecentTransactions)
	}

	cached, err := fx.cache.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("view not written through to cache: %v", err)
	}
	if cached.BalancePlanck != view.BalancePlanck {
		t.Fatalf("cached balance %d, want %d", cached.BalancePlanck, view.BalancePlanck)
	}
}

func TestBalanceViewStaleFallback(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	address, err := fx.svc.Address(ctx, "user-2")
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	ledger.SeedBalance(fx.store.Store, address, 7*money.PlanckPerHP)

	fresh, err := fx.svc.BalanceView(ctx, "user-2")
	if err != nil {
		t.Fatalf("fresh view: %v", err)
	}

	fx.store.setFail(true)
	stale, err := fx.svc.BalanceView(ctx, "user-2")
	if err != nil {
		t.Fatalf("expected cached fallback, got error: %v", err)
	}
	if !stale.Stale {
		t.Fatal("fallback view must be marked stale")
	}
	if stale.BalancePlanck != fresh.BalancePlanck {
		t.Fatalf("stale balance %d, want %d", stale.BalancePlanck, fresh.BalancePlanck)
	}

	// A user with no cached copy gets the error, never a made-up view.
	if _, err := fx.svc.BalanceView(ctx, "user-never-seen"); err == nil {
		t.Fatal("expected error for uncached user during outage")
	}
}

func TestConvertINRToHP(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	res, err := fx.svc.ConvertINRToHP(ctx, ConvertInput{UserID: "user-3", Amount: 2 * money.PlanckPerHP, Instrument: "upi"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if res.FiatRef == "" {
		t.Fatal("missing fiat reference")
	}
	if res.Transaction.Status != ledger.StatusPending {
		t.Fatalf("expected pending, got %s", res.Transaction.Status)
	}
	if fx.collector.collects != 1 {
		t.Fatalf("expected one collection, got %d", fx.collector.collects)
	}

	settled := waitTerminal(t, fx.chain, res.Transaction.Hash)
	if settled.Status != ledger.StatusConfirmed {
		t.Fatalf("mint not confirmed: %s", settled.FailureReason)
	}

	address, _ := fx.svc.Address(ctx, "user-3")
	if balance, _ := fx.store.Balance(ctx, address); balance != 2*money.PlanckPerHP {
		t.Fatalf("balance %d, want %d", balance, 2*money.PlanckPerHP)
	}
}

func TestConvertINRToHPRejectsAboveCapBeforeCollecting(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.ConvertINRToHP(context.Background(), ConvertInput{UserID: "user-4", Amount: 10_001 * money.PlanckPerHP})
	if !errors.Is(err, settlement.ErrMintLimit) {
		t.Fatalf("expected mint limit error, got %v", err)
	}
	if fx.collector.collects != 0 {
		t.Fatal("fiat collected for an invalid mint")
	}
}

func TestConvertHPToINR(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	address, err := fx.svc.Address(ctx, "user-5")
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	ledger.SeedBalance(fx.store.Store, address, 5*money.PlanckPerHP)

	res, err := fx.svc.ConvertHPToINR(ctx, ConvertInput{UserID: "user-5", Amount: 2 * money.PlanckPerHP, Instrument: "bank:xxxx"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if fx.collector.payouts != 1 {
		t.Fatalf("expected one payout, got %d", fx.collector.payouts)
	}

	settled := waitTerminal(t, fx.chain, res.Transaction.Hash)
	if settled.Status != ledger.StatusConfirmed {
		t.Fatalf("burn not confirmed: %s", settled.FailureReason)
	}
	if balance, _ := fx.store.Balance(ctx, address); balance != 3*money.PlanckPerHP {
		t.Fatalf("balance %d, want %d", balance, 3*money.PlanckPerHP)
	}

	// Burning more than the balance is rejected before any payout.
	if _, err := fx.svc.ConvertHPToINR(ctx, ConvertInput{UserID: "user-5", Amount: 100 * money.PlanckPerHP}); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if fx.collector.payouts != 1 {
		t.Fatal("payout happened for a rejected burn")
	}
}

func TestTransferBetweenUsers(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fromAddr, _ := fx.svc.Address(ctx, "sender")
	ledger.SeedBalance(fx.store.Store, fromAddr, 10*money.PlanckPerHP)

	tx, err := fx.svc.Transfer(ctx, TransferInput{FromUserID: "sender", ToUserID: "recipient", Amount: 4 * money.PlanckPerHP})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	settled := waitTerminal(t, fx.chain, tx.Hash)
	if settled.Status != ledger.StatusConfirmed {
		t.Fatalf("transfer not confirmed: %s", settled.FailureReason)
	}

	toAddr, _ := fx.svc.Address(ctx, "recipient")
	if balance, _ := fx.store.Balance(ctx, toAddr); balance != 4*money.PlanckPerHP {
		t.Fatalf("recipient balance %d", balance)
	}
	if balance, _ := fx.store.Balance(ctx, fromAddr); balance != 6*money.PlanckPerHP-settled.Fee {
		t.Fatalf("sender balance %d", balance)
	}
}

func TestTransferToSelfRejected(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.svc.Transfer(context.Background(), TransferInput{FromUserID: "solo", ToUserID: "solo", Amount: money.PlanckPerHP}); !errors.Is(err, settlement.ErrSelfTransfer) {
		t.Fatalf("expected self transfer rejection, got %v", err)
	}
}

func TestLowBalanceEvent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	address, _ := fx.svc.Address(ctx, "user-low")
	ledger.SeedBalance(fx.store.Store, address, money.PlanckPerHP/2)

	if _, err := fx.svc.BalanceView(ctx, "user-low"); err != nil {
		t.Fatalf("balance view: %v", err)
	}
	if fx.notifier.count(notification.KindLowBalance) != 1 {
		t.Fatal("expected a low balance event")
	}
}

func TestRefreshWarmsCache(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	address, _ := fx.svc.Address(ctx, "user-7")
	ledger.SeedBalance(fx.store.Store, address, 3*money.PlanckPerHP)

	if err := fx.svc.Refresh(ctx, "user-7"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cached, err := fx.cache.Get(ctx, "user-7")
	if err != nil {
		t.Fatalf("cache miss after refresh: %v", err)
	}
	if cached.BalancePlanck != 3*money.PlanckPerHP {
		t.Fatalf("cached balance %d", cached.BalancePlanck)
	}

	// Refresh never invents bindings.
	if err := fx.svc.Refresh(ctx, "user-unbound"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected unknown user, got %v", err)
	}
}
