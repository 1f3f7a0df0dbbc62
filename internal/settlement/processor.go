package settlement

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axzora/happy-paisa/internal/ledger"
	"github.com/axzora/happy-paisa/internal/logging"
	"github.com/axzora/happy-paisa/internal/money"
	"github.com/axzora/happy-paisa/internal/notification"
)

var (
	// ErrUnknownKind rejects submissions whose kind is not mint, burn or
	// transfer.
	ErrUnknownKind = errors.New("unknown transaction kind")

	// ErrInvalidAmount rejects zero and negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidAddress rejects malformed or misplaced addresses for the
	// submitted kind (mint takes only a recipient, burn only a source).
	ErrInvalidAddress = errors.New("invalid address")

	// ErrSelfTransfer rejects transfers whose source and destination match.
	ErrSelfTransfer = errors.New("cannot transfer to the same address")

	// ErrMintLimit rejects public mints above the per-transaction cap. The
	// genesis allocation bypasses the cap.
	ErrMintLimit = errors.New("mint amount exceeds cap")
)

const (
	networkName = "happy-paisa-mainnet"

	// blockBase is where block numbering starts on a fresh chain.
	blockBase int64 = 1_000_000

	// FailureInsufficientBalance is recorded on transactions whose source
	// could not cover the debit when settlement ran. Submission-time balance
	// checks are advisory; this is the authoritative one.
	FailureInsufficientBalance = "insufficient balance at settlement"

	resolveTimeout = 10 * time.Second
)

// Request describes a transaction submission. Amount and the transfer fee
// are planck.
type Request struct {
	Kind        ledger.Kind
	From        string
	To          string
	Amount      int64
	Category    string
	Description string
	Metadata    map[string]string
}

// Config carries the chain tuning knobs. Amounts are planck.
type Config struct {
	BlockDelay    time.Duration
	TransferFee   int64
	MintCap       int64
	Treasury      string
	GenesisSupply int64
}

// Stats is a point-in-time snapshot of the chain.
type Stats struct {
	Network         string
	BlockTime       time.Duration
	LatestBlock     int64
	TotalIssued     int64
	ActiveAddresses int64
	Pending         int64
}

// Processor owns the transaction lifecycle: it validates submissions,
// appends pending journal rows, and confirms or fails them after the block
// delay. A single coordinator goroutine works a due-time queue, so there is
// never one goroutine per in-flight transaction.
type Processor struct {
	store    ledger.Store
	journal  ledger.Journal
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config

	mu    sync.Mutex
	queue dueQueue

	seq      atomic.Uint64
	ord      atomic.Uint64
	blockNum atomic.Int64

	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	started atomic.Bool
	closed  sync.Once
}

// NewProcessor wires a settlement processor. Call Run to recover pending
// work and start the coordinator.
func NewProcessor(store ledger.Store, journal ledger.Journal, notifier notification.Notifier, logger *slog.Logger, cfg Config) *Processor {
	return &Processor{
		store:    store,
		journal:  journal,
		notifier: notifier,
		logger:   logging.WithComponent(logger, "settlement"),
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run seeds the block counter, resolves or reschedules pending rows left by
// a previous process, seeds the treasury on a fresh chain, and starts the
// coordinator goroutine.
func (p *Processor) Run(ctx context.Context) error {
	maxBlock, err := p.journal.MaxBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("seed block counter: %w", err)
	}
	if maxBlock < blockBase-1 {
		maxBlock = blockBase - 1
	}
	p.blockNum.Store(maxBlock)

	if err := p.recoverPending(ctx); err != nil {
		return err
	}
	if err := p.bootstrapTreasury(ctx); err != nil {
		return err
	}

	p.started.Store(true)
	go p.run()
	return nil
}

// Close stops the coordinator after any in-flight resolution completes.
// Entries still queued stay pending in the journal and are recovered on the
// next Run.
func (p *Processor) Close() {
	p.closed.Do(func() {
		close(p.quit)
		if p.started.Load() {
			<-p.done
		}
	})
}

// Submit validates the request, records a pending transaction, and schedules
// its resolution one block delay out. The returned row is still pending;
// poll Status or wait for the confirmation event.
func (p *Processor) Submit(ctx context.Context, req Request) (*ledger.Transaction, error) {
	tx, err := p.accept(ctx, req)
	if err != nil {
		return nil, err
	}
	p.schedule(tx.Hash, tx.SubmittedAt.Add(p.cfg.BlockDelay))
	p.logger.Info("transaction submitted",
		"hash", tx.Hash,
		"kind", string(tx.Kind),
		"amount_hp", money.PlanckToHP(tx.Amount).String(),
	)
	return tx, nil
}

// SettleNow validates, records, and resolves the request inline instead of
// waiting for the block delay. The card auto-top-up path uses it so an
// authorization stays a single bounded call. A failed settlement returns the
// failed row together with the cause.
func (p *Processor) SettleNow(ctx context.Context, req Request) (*ledger.Transaction, error) {
	tx, err := p.accept(ctx, req)
	if err != nil {
		return nil, err
	}
	resolved, err := p.resolve(ctx, tx.Hash)
	if err != nil {
		return nil, err
	}
	if resolved.Status == ledger.StatusFailed {
		if resolved.FailureReason == FailureInsufficientBalance {
			return resolved, ledger.ErrInsufficientBalance
		}
		return resolved, fmt.Errorf("settlement failed: %s", resolved.FailureReason)
	}
	return resolved, nil
}

// Validate runs submission validation without recording anything. The
// conversion flow vets a mint before collecting its fiat leg.
func (p *Processor) Validate(ctx context.Context, req Request) error {
	return p.validate(ctx, req)
}

// Status returns the current journal state of the transaction.
func (p *Processor) Status(ctx context.Context, hash string) (*ledger.Transaction, error) {
	return p.journal.Get(ctx, hash)
}

// Sync re-reads the transaction and, when it is pending past its due time,
// pushes it through resolution inline. Safe to call repeatedly: resolution
// is idempotent and never re-applies balance effects.
func (p *Processor) Sync(ctx context.Context, hash string) (*ledger.Transaction, error) {
	tx, err := p.journal.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return tx, nil
	}
	if time.Now().Before(tx.SubmittedAt.Add(p.cfg.BlockDelay)) {
		return tx, nil
	}
	return p.resolve(ctx, hash)
}

// NetworkStats reports a snapshot of chain health.
func (p *Processor) NetworkStats(ctx context.Context) (Stats, error) {
	total, err := p.store.TotalIssued(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("total issued: %w", err)
	}
	active, err := p.store.ActiveAddresses(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("active addresses: %w", err)
	}
	pending, err := p.journal.CountPending(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count pending: %w", err)
	}
	latest, err := p.journal.MaxBlockNumber(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("max block: %w", err)
	}
	return Stats{
		Network:         networkName,
		BlockTime:       p.cfg.BlockDelay,
		LatestBlock:     latest,
		TotalIssued:     total,
		ActiveAddresses: active,
		Pending:         pending,
	}, nil
}

// History returns the address's transactions, newest first.
func (p *Processor) History(ctx context.Context, address string, limit int) ([]ledger.Transaction, error) {
	if !ledger.ValidAddress(address) {
		return nil, ErrInvalidAddress
	}
	return p.journal.ListByAddress(ctx, address, limit)
}

// accept runs validation and appends the pending journal row shared by
// Submit and SettleNow.
func (p *Processor) accept(ctx context.Context, req Request) (*ledger.Transaction, error) {
	if err := p.validate(ctx, req); err != nil {
		return nil, err
	}
	tx := p.newTransaction(req)
	if tx.To != "" {
		if err := p.store.EnsureAccount(ctx, tx.To); err != nil {
			return nil, fmt.Errorf("ensure recipient account: %w", err)
		}
	}
	if err := p.journal.Append(ctx, tx); err != nil {
		return nil, fmt.Errorf("append journal row: %w", err)
	}
	return tx, nil
}

func (p *Processor) validate(ctx context.Context, req Request) error {
	if !req.Kind.Valid() {
		return ErrUnknownKind
	}
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	switch req.Kind {
	case ledger.KindMint:
		if req.From != "" || !ledger.ValidAddress(req.To) {
			return ErrInvalidAddress
		}
		if p.cfg.MintCap > 0 && req.Amount > p.cfg.MintCap {
			return ErrMintLimit
		}
	case ledger.KindBurn:
		if req.To != "" || !ledger.ValidAddress(req.From) {
			return ErrInvalidAddress
		}
		return p.checkFunds(ctx, req.From, req.Amount)
	case ledger.KindTransfer:
		if !ledger.ValidAddress(req.From) || !ledger.ValidAddress(req.To) {
			return ErrInvalidAddress
		}
		if req.From == req.To {
			return ErrSelfTransfer
		}
		return p.checkFunds(ctx, req.From, req.Amount+p.cfg.TransferFee)
	}
	return nil
}

// checkFunds is the advisory submission-time balance check. The
// authoritative check happens inside ledger.Apply when the transaction
// settles.
func (p *Processor) checkFunds(ctx context.Context, address string, needed int64) error {
	balance, err := p.store.Balance(ctx, address)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if balance < needed {
		return ledger.ErrInsufficientBalance
	}
	return nil
}

func (p *Processor) newTransaction(req Request) *ledger.Transaction {
	submittedAt := time.Now().UTC()
	var fee int64
	if req.Kind == ledger.KindTransfer {
		fee = p.cfg.TransferFee
	}
	return &ledger.Transaction{
		Hash:        ledger.NewHash(req.Kind, req.From, req.To, req.Amount, submittedAt, p.seq.Add(1)),
		Kind:        req.Kind,
		From:        req.From,
		To:          req.To,
		Amount:      req.Amount,
		Fee:         fee,
		Category:    req.Category,
		Description: req.Description,
		Status:      ledger.StatusPending,
		SubmittedAt: submittedAt,
		Metadata:    req.Metadata,
	}
}

// resolve drives a pending transaction to its terminal state. It is
// idempotent: the first terminal mark wins and a duplicate apply counts as
// already settled, so a coordinator tick racing a Sync call stays safe.
func (p *Processor) resolve(ctx context.Context, hash string) (*ledger.Transaction, error) {
	tx, err := p.journal.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	settledAt := time.Now().UTC()
	var resolved *ledger.Transaction
	applyErr := p.store.Apply(ctx, tx)
	switch {
	case applyErr == nil, errors.Is(applyErr, ledger.ErrDuplicateTransaction):
		resolved, err = p.journal.MarkConfirmed(ctx, hash, settledAt, p.blockNum.Add(1))
	case errors.Is(applyErr, ledger.ErrInsufficientBalance):
		resolved, err = p.journal.MarkFailed(ctx, hash, settledAt, FailureInsufficientBalance)
	default:
		resolved, err = p.journal.MarkFailed(ctx, hash, settledAt, applyErr.Error())
	}
	if err != nil {
		return nil, fmt.Errorf("mark transaction %s: %w", hash, err)
	}

	// Announce only when this call performed the transition; a racing
	// resolver sees the other caller's settlement timestamp.
	if resolved.SettledAt != nil && resolved.SettledAt.Equal(settledAt) {
		p.announce(ctx, resolved)
	}
	return resolved, nil
}

func (p *Processor) announce(ctx context.Context, tx *ledger.Transaction) {
	destination := tx.From
	if destination == "" {
		destination = tx.To
	}
	amount := money.PlanckToHP(tx.Amount).String()

	if tx.Status == ledger.StatusFailed {
		p.logger.Warn("transaction failed", "hash", tx.Hash, "kind", string(tx.Kind), "reason", tx.FailureReason)
		if p.notifier != nil {
			_ = p.notifier.Send(ctx, notification.Message{
				Kind:        notification.KindTransactionFailed,
				Destination: destination,
				Body:        fmt.Sprintf("Transaction of %s HP failed: %s", amount, tx.FailureReason),
			})
		}
		return
	}

	p.logger.Info("transaction confirmed", "hash", tx.Hash, "kind", string(tx.Kind), "block", tx.BlockNumber)
	if p.notifier != nil {
		_ = p.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindTransactionConfirmed,
			Destination: destination,
			Body:        fmt.Sprintf("Transaction of %s HP confirmed in block %d", amount, tx.BlockNumber),
		})
	}
}

// recoverPending reschedules pending rows left behind by a previous process.
// Rows already past their due time resolve inline so balances are settled
// before the service accepts traffic.
func (p *Processor) recoverPending(ctx context.Context) error {
	pending, err := p.journal.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	now := time.Now()
	for i := range pending {
		tx := &pending[i]
		dueAt := tx.SubmittedAt.Add(p.cfg.BlockDelay)
		if dueAt.After(now) {
			p.schedule(tx.Hash, dueAt)
			continue
		}
		if _, err := p.resolve(ctx, tx.Hash); err != nil {
			return fmt.Errorf("recover transaction %s: %w", tx.Hash, err)
		}
	}
	if len(pending) > 0 {
		p.logger.Info("recovered pending transactions", "count", len(pending))
	}
	return nil
}

// bootstrapTreasury seeds the genesis supply on a chain whose treasury has
// never held funds. The allocation is an ordinary confirmed mint row, so the
// journal fully explains the money supply.
func (p *Processor) bootstrapTreasury(ctx context.Context) error {
	if p.cfg.Treasury == "" || p.cfg.GenesisSupply <= 0 {
		return nil
	}
	if err := p.store.EnsureAccount(ctx, p.cfg.Treasury); err != nil {
		return fmt.Errorf("ensure treasury account: %w", err)
	}
	balance, err := p.store.Balance(ctx, p.cfg.Treasury)
	if err != nil {
		return fmt.Errorf("read treasury balance: %w", err)
	}
	if balance > 0 {
		return nil
	}

	tx := p.newTransaction(Request{
		Kind:        ledger.KindMint,
		To:          p.cfg.Treasury,
		Amount:      p.cfg.GenesisSupply,
		Category:    ledger.CategoryGenesis,
		Description: "genesis allocation",
	})
	if err := p.journal.Append(ctx, tx); err != nil {
		return fmt.Errorf("append genesis row: %w", err)
	}
	resolved, err := p.resolve(ctx, tx.Hash)
	if err != nil {
		return fmt.Errorf("settle genesis: %w", err)
	}
	p.logger.Info("treasury seeded",
		"address", p.cfg.Treasury,
		"supply_hp", money.PlanckToHP(p.cfg.GenesisSupply).String(),
		"block", resolved.BlockNumber,
	)
	return nil
}

func (p *Processor) schedule(hash string, dueAt time.Time) {
	p.mu.Lock()
	heap.Push(&p.queue, &entry{hash: hash, dueAt: dueAt, ord: p.ord.Add(1)})
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Processor) nextDue() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue.Len() == 0 {
		return time.Time{}, false
	}
	return p.queue[0].dueAt, true
}

func (p *Processor) popDue(now time.Time) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var due []string
	for p.queue.Len() > 0 && !p.queue[0].dueAt.After(now) {
		e := heap.Pop(&p.queue).(*entry)
		due = append(due, e.hash)
	}
	return due
}

// run is the coordinator loop. It sleeps until the earliest due entry, wakes
// early when Submit schedules something sooner, and resolves due entries in
// order.
func (p *Processor) run() {
	defer close(p.done)
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		dueAt, ok := p.nextDue()
		if !ok {
			select {
			case <-p.quit:
				return
			case <-p.wake:
				continue
			}
		}

		if wait := time.Until(dueAt); wait > 0 {
			timer.Reset(wait)
			select {
			case <-p.quit:
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-p.wake:
				if !timer.Stop() {
					<-timer.C
				}
				continue
			case <-timer.C:
			}
		}

		for _, hash := range p.popDue(time.Now()) {
			p.resolveDue(hash)
		}
	}
}

// resolveDue settles one due entry. Infrastructure failures keep the row
// pending and retry one block delay later; a row that vanished from the
// journal is dropped.
func (p *Processor) resolveDue(hash string) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	if _, err := p.resolve(ctx, hash); err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			p.logger.Error("scheduled transaction missing from journal", "hash", hash)
			return
		}
		p.logger.Error("settlement resolution failed, retrying", "hash", hash, "error", err)
		p.schedule(hash, time.Now().Add(p.cfg.BlockDelay))
	}
}
