package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/logging"
	"github.com/axzora/happy-paisa/internal/money"
	"github.com/axzora/happy-paisa/internal/notification"
)

const testDelay = 25 * time.Millisecond

func testConfig() Config {
	return Config{
		BlockDelay:  testDelay,
		TransferFee: money.PlanckPerHP / 1000,
		MintCap:     10_000 * money.PlanckPerHP,
	}
}

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

func startProcessor(t *testing.T, store ledger.Store, journal ledger.Journal, notifier notification.Notifier, cfg Config) *Processor {
	t.Helper()
	p := NewProcessor(store, journal, notifier, logging.Discard(), cfg)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run processor: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func waitTerminal(t *testing.T, p *Processor, hash string) *ledger.Transaction {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tx, err := p.Status(context.Background(), hash)
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

func TestSubmitValidation(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	p := startProcessor(t, store, journal, nil, testConfig())

	ctx := context.Background()
	owner := ledger.NewAddress()
	other := ledger.NewAddress()
	ledger.SeedBalance(store, owner, 5*money.PlanckPerHP)

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown kind", Request{Kind: "stake", To: owner, Amount: 1}, ErrUnknownKind},
		{"zero amount", Request{Kind: ledger.KindMint, To: owner, Amount: 0}, ErrInvalidAmount},
		{"negative amount", Request{Kind: ledger.KindBurn, From: owner, Amount: -5}, ErrInvalidAmount},
		{"mint with source", Request{Kind: ledger.KindMint, From: other, To: owner, Amount: 1}, ErrInvalidAddress},
		{"mint malformed recipient", Request{Kind: ledger.KindMint, To: "hp1notanaddress", Amount: 1}, ErrInvalidAddress},
		{"mint above cap", Request{Kind: ledger.KindMint, To: owner, Amount: 10_001 * money.PlanckPerHP}, ErrMintLimit},
		{"burn with recipient", Request{Kind: ledger.KindBurn, From: owner, To: other, Amount: 1}, ErrInvalidAddress},
		{"burn beyond balance", Request{Kind: ledger.KindBurn, From: owner, Amount: 6 * money.PlanckPerHP}, ledger.ErrInsufficientBalance},
		{"self transfer", Request{Kind: ledger.KindTransfer, From: owner, To: owner, Amount: 1}, ErrSelfTransfer},
		{"transfer without funds", Request{Kind: ledger.KindTransfer, From: other, To: owner, Amount: 1}, ledger.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		if _, err := p.Submit(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if _, err := p.Submit(ctx, Request{Kind: ledger.KindMint, To: other, Amount: 10_000 * money.PlanckPerHP}); err != nil {
		t.Errorf("mint at the cap should be accepted: %v", err)
	}
}

func TestMintLifecycle(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	notifier := &captureNotifier{}
	p := startProcessor(t, store, journal, notifier, testConfig())

	ctx := context.Background()
	to := ledger.NewAddress()
	tx, err := p.Submit(ctx, Request{Kind: ledger.KindMint, To: to, Amount: 2 * money.PlanckPerHP, Category: ledger.CategoryConversion})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx.Status != ledger.StatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}
	if balance, _ := store.Balance(ctx, to); balance != 0 {
		t.Fatalf("balance applied before settlement: %d", balance)
	}

	settled := waitTerminal(t, p, tx.Hash)
	if settled.Status != ledger.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%s)", settled.Status, settled.FailureReason)
	}
	if settled.BlockNumber < blockBase {
		t.Fatalf("block number not assigned: %d", settled.BlockNumber)
	}
	if settled.SettledAt == nil {
		t.Fatal("settled_at not set")
	}
	if balance, _ := store.Balance(ctx, to); balance != 2*money.PlanckPerHP {
		t.Fatalf("expected 2 HP credited, got %d planck", balance)
	}
	if notifier.count(notification.KindTransactionConfirmed) != 1 {
		t.Fatal("expected one confirmation event")
	}
}

func TestTransferBurnsFee(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	cfg := testConfig()
	p := startProcessor(t, store, journal, nil, cfg)

	ctx := context.Background()
	from := ledger.NewAddress()
	to := ledger.NewAddress()
	ledger.SeedBalance(store, from, 10*money.PlanckPerHP)

	tx, err := p.Submit(ctx, Request{Kind: ledger.KindTransfer, From: from, To: to, Amount: 4 * money.PlanckPerHP, Category: ledger.CategoryTransfer})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx.Fee != cfg.TransferFee {
		t.Fatalf("expected fee %d, got %d", cfg.TransferFee, tx.Fee)
	}

	settled := waitTerminal(t, p, tx.Hash)
	if settled.Status != ledger.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%s)", settled.Status, settled.FailureReason)
	}

	fromBalance, _ := store.Balance(ctx, from)
	toBalance, _ := store.Balance(ctx, to)
	if want := 6*money.PlanckPerHP - cfg.TransferFee; fromBalance != want {
		t.Fatalf("sender balance %d, want %d", fromBalance, want)
	}
	if toBalance != 4*money.PlanckPerHP {
		t.Fatalf("recipient balance %d, want %d", toBalance, 4*money.PlanckPerHP)
	}

	total, _ := store.TotalIssued(ctx)
	if want := 10*money.PlanckPerHP - cfg.TransferFee; total != want {
		t.Fatalf("fee not burned: supply %d, want %d", total, want)
	}
}

func TestInsufficientAtSettlement(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	notifier := &captureNotifier{}
	p := startProcessor(t, store, journal, notifier, testConfig())

	ctx := context.Background()
	owner := ledger.NewAddress()
	ledger.SeedBalance(store, owner, 100)

	// Both submissions pass the advisory check against the same balance;
	// only the first can settle.
	first, err := p.Submit(ctx, Request{Kind: ledger.KindBurn, From: owner, Amount: 80})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := p.Submit(ctx, Request{Kind: ledger.KindBurn, From: owner, Amount: 80})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	a := waitTerminal(t, p, first.Hash)
	b := waitTerminal(t, p, second.Hash)
	if a.Status != ledger.StatusConfirmed {
		t.Fatalf("first burn should confirm, got %s (%s)", a.Status, a.FailureReason)
	}
	if b.Status != ledger.StatusFailed {
		t.Fatalf("second burn should fail, got %s", b.Status)
	}
	if b.FailureReason != FailureInsufficientBalance {
		t.Fatalf("unexpected failure reason: %q", b.FailureReason)
	}

	if balance, _ := store.Balance(ctx, owner); balance != 20 {
		t.Fatalf("expected balance 20, got %d", balance)
	}
	if notifier.count(notification.KindTransactionFailed) != 1 {
		t.Fatal("expected one failure event")
	}
}

func TestSettleNow(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	p := startProcessor(t, store, journal, nil, testConfig())

	ctx := context.Background()
	owner := ledger.NewAddress()
	ledger.SeedBalance(store, owner, 5*money.PlanckPerHP)

	tx, err := p.SettleNow(ctx, Request{Kind: ledger.KindBurn, From: owner, Amount: 2 * money.PlanckPerHP, Category: ledger.CategoryCardTopup})
	if err != nil {
		t.Fatalf("settle now: %v", err)
	}
	if tx.Status != ledger.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", tx.Status)
	}
	if balance, _ := store.Balance(ctx, owner); balance != 3*money.PlanckPerHP {
		t.Fatalf("debit not applied inline: %d", balance)
	}

	if _, err := p.SettleNow(ctx, Request{Kind: ledger.KindBurn, From: owner, Amount: 100 * money.PlanckPerHP}); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestSyncResolvesOverduePending(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	p := NewProcessor(store, journal, nil, logging.Discard(), testConfig())

	ctx := context.Background()
	to := ledger.NewAddress()
	submitted := time.Now().UTC().Add(-time.Minute)
	row := &ledger.Transaction{
		Hash:        ledger.NewHash(ledger.KindMint, "", to, money.PlanckPerHP, submitted, 1),
		Kind:        ledger.KindMint,
		To:          to,
		Amount:      money.PlanckPerHP,
		Status:      ledger.StatusPending,
		SubmittedAt: submitted,
	}
	if err := journal.Append(ctx, row); err != nil {
		t.Fatalf("append: %v", err)
	}

	tx, err := p.Sync(ctx, row.Hash)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if tx.Status != ledger.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", tx.Status)
	}

	again, err := p.Sync(ctx, row.Hash)
	if err != nil {
		t.Fatalf("repeat sync: %v", err)
	}
	if again.BlockNumber != tx.BlockNumber {
		t.Fatal("repeat sync must not re-resolve")
	}
	if balance, _ := store.Balance(ctx, to); balance != money.PlanckPerHP {
		t.Fatalf("expected 1 HP, got %d planck", balance)
	}
}

func TestRecoverySettlesOverdueRows(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()

	ctx := context.Background()
	to := ledger.NewAddress()
	submitted := time.Now().UTC().Add(-time.Minute)
	row := &ledger.Transaction{
		Hash:        ledger.NewHash(ledger.KindMint, "", to, 3*money.PlanckPerHP, submitted, 7),
		Kind:        ledger.KindMint,
		To:          to,
		Amount:      3 * money.PlanckPerHP,
		Status:      ledger.StatusPending,
		SubmittedAt: submitted,
	}
	if err := journal.Append(ctx, row); err != nil {
		t.Fatalf("append: %v", err)
	}

	p := startProcessor(t, store, journal, nil, testConfig())

	tx, err := p.Status(ctx, row.Hash)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if tx.Status != ledger.StatusConfirmed {
		t.Fatalf("overdue row not settled during recovery: %s", tx.Status)
	}
	if balance, _ := store.Balance(ctx, to); balance != 3*money.PlanckPerHP {
		t.Fatalf("expected 3 HP, got %d planck", balance)
	}
}

func TestRecoveryReschedulesFutureRows(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()

	ctx := context.Background()
	to := ledger.NewAddress()
	cfg := testConfig()
	cfg.BlockDelay = 400 * time.Millisecond
	submitted := time.Now().UTC()
	row := &ledger.Transaction{
		Hash:        ledger.NewHash(ledger.KindMint, "", to, money.PlanckPerHP, submitted, 9),
		Kind:        ledger.KindMint,
		To:          to,
		Amount:      money.PlanckPerHP,
		Status:      ledger.StatusPending,
		SubmittedAt: submitted,
	}
	if err := journal.Append(ctx, row); err != nil {
		t.Fatalf("append: %v", err)
	}

	p := startProcessor(t, store, journal, nil, cfg)

	tx, err := p.Status(ctx, row.Hash)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if tx.Status != ledger.StatusPending {
		t.Fatalf("future row settled early: %s", tx.Status)
	}

	settled := waitTerminal(t, p, row.Hash)
	if settled.Status != ledger.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s (%s)", settled.Status, settled.FailureReason)
	}
}

func TestTreasuryBootstrapOnce(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	cfg := testConfig()
	cfg.Treasury = ledger.NewAddress()
	cfg.GenesisSupply = 1_000_000 * money.PlanckPerHP

	ctx := context.Background()
	p := startProcessor(t, store, journal, nil, cfg)
	if balance, _ := store.Balance(ctx, cfg.Treasury); balance != cfg.GenesisSupply {
		t.Fatalf("treasury not seeded: %d", balance)
	}
	p.Close()

	startProcessor(t, store, journal, nil, cfg)
	total, _ := store.TotalIssued(ctx)
	if total != cfg.GenesisSupply {
		t.Fatalf("genesis minted twice: supply %d", total)
	}
}

func TestBlockNumbersMonotonic(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	p := startProcessor(t, store, journal, nil, testConfig())

	ctx := context.Background()
	to := ledger.NewAddress()
	var hashes []string
	for i := 0; i < 3; i++ {
		tx, err := p.Submit(ctx, Request{Kind: ledger.KindMint, To: to, Amount: money.PlanckPerHP})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		hashes = append(hashes, tx.Hash)
	}

	last := int64(0)
	for i, hash := range hashes {
		tx := waitTerminal(t, p, hash)
		if tx.Status != ledger.StatusConfirmed {
			t.Fatalf("tx %d not confirmed: %s", i, tx.FailureReason)
		}
		if tx.BlockNumber <= last {
			t.Fatalf("block numbers not increasing: %d after %d", tx.BlockNumber, last)
		}
		last = tx.BlockNumber
	}
	if last < blockBase {
		t.Fatalf("blocks must start at %d, got %d", blockBase, last)
	}
	p.Close()

	// A new processor over the same journal continues the numbering.
	p2 := startProcessor(t, store, journal, nil, testConfig())
	tx, err := p2.Submit(ctx, Request{Kind: ledger.KindMint, To: to, Amount: money.PlanckPerHP})
	if err != nil {
		t.Fatalf("submit after restart: %v", err)
	}
	settled := waitTerminal(t, p2, tx.Hash)
	if settled.BlockNumber <= last {
		t.Fatalf("restart reset block numbers: %d after %d", settled.BlockNumber, last)
	}
}

func TestConcurrentTransfersConserveSupply(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	cfg := testConfig()
	p := startProcessor(t, store, journal, nil, cfg)

	ctx := context.Background()
	addrs := make([]string, 4)
	for i := range addrs {
		addrs[i] = ledger.NewAddress()
		ledger.SeedBalance(store, addrs[i], 100*money.PlanckPerHP)
	}
	initial := int64(len(addrs)) * 100 * money.PlanckPerHP

	var (
		mu     sync.Mutex
		hashes []string
		wg     sync.WaitGroup
	)
	for i := range addrs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for r := 0; r < 8; r++ {
				tx, err := p.Submit(ctx, Request{
					Kind:   ledger.KindTransfer,
					From:   addrs[i],
					To:     addrs[(i+1)%len(addrs)],
					Amount: money.PlanckPerHP,
				})
				if err != nil {
					continue
				}
				mu.Lock()
				hashes = append(hashes, tx.Hash)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	confirmed := int64(0)
	for _, hash := range hashes {
		if tx := waitTerminal(t, p, hash); tx.Status == ledger.StatusConfirmed {
			confirmed++
		}
	}
	if confirmed == 0 {
		t.Fatal("no transfers confirmed")
	}

	total, _ := store.TotalIssued(ctx)
	if want := initial - confirmed*cfg.TransferFee; total != want {
		t.Fatalf("supply not conserved: %d, want %d", total, want)
	}
	for _, addr := range addrs {
		if balance, _ := store.Balance(ctx, addr); balance < 0 {
			t.Fatalf("negative balance on %s: %d", addr, balance)
		}
	}
}

func TestNetworkStats(t *testing.T) {
	store := ledger.NewInMemory()
	journal := ledger.NewInMemoryJournal()
	cfg := testConfig()
	cfg.Treasury = ledger.NewAddress()
	cfg.GenesisSupply = 1_000_000 * money.PlanckPerHP
	p := startProcessor(t, store, journal, nil, cfg)

	stats, err := p.NetworkStats(context.Background())
	if err != nil {
		t.Fatalf("network stats: %v", err)
	}
	if stats.Network != "happy-paisa-mainnet" {
		t.Fatalf("unexpected network name: %s", stats.Network)
	}
	if stats.TotalIssued != cfg.GenesisSupply {
		t.Fatalf("total issued %d, want %d", stats.TotalIssued, cfg.GenesisSupply)
	}
	if stats.ActiveAddresses != 1 {
		t.Fatalf("active addresses %d, want 1", stats.ActiveAddresses)
	}
	if stats.LatestBlock < blockBase {
		t.Fatalf("latest block %d below base", stats.LatestBlock)
	}
	if stats.BlockTime != cfg.BlockDelay {
		t.Fatalf("block time %s, want %s", stats.BlockTime, cfg.BlockDelay)
	}
}
