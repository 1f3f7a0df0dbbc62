package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/axzora/happy-paisa/internal/logging"
	"github.com/axzora/happy-paisa/internal/wallet"
)

// jobTimeout bounds one sweep so a stuck backend cannot pile runs up.
const jobTimeout = 30 * time.Second

// backlogWarning is the pending-settlement count above which the watchdog
// escalates to a warning.
const backlogWarning = 100

// WalletRefresher is the slice of the wallet service the refresh job needs.
type WalletRefresher interface {
	ActiveBindings(ctx context.Context, since time.Time, limit int) ([]wallet.Binding, error)
	Refresh(ctx context.Context, userID string) error
}

// PendingCounter is the slice of the settlement journal the watchdog needs.
type PendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// Config carries the cron expressions and sweep tuning. Empty schedules
// disable the corresponding job.
type Config struct {
	ProjectionRefreshSchedule string
	SettlementWatchSchedule   string

	// ActiveWindow is how far back a wallet counts as recently active.
	ActiveWindow time.Duration
	// RefreshLimit caps the bindings re-projected per sweep.
	RefreshLimit int
}

// Runner owns the periodic maintenance work: keeping balance projections
// warm and watching the settlement backlog.
type Runner struct {
	cron    *cron.Cron
	wallets WalletRefresher
	journal PendingCounter
	logger  *slog.Logger
	cfg     Config
}

// NewRunner builds the runner. Panics inside jobs are recovered and logged
// instead of taking the process down.
func NewRunner(wallets WalletRefresher, journal PendingCounter, logger *slog.Logger, cfg Config) *Runner {
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = 24 * time.Hour
	}
	if cfg.RefreshLimit <= 0 {
		cfg.RefreshLimit = 200
	}
	logger = logging.WithComponent(logger, "jobs")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Runner{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger))),
		wallets: wallets,
		journal: journal,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start registers the configured jobs and starts the scheduler.
func (r *Runner) Start() {
	if r.cfg.ProjectionRefreshSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.ProjectionRefreshSchedule, r.RefreshBalanceViews); err != nil {
			r.logger.Error("projection refresh not scheduled", "schedule", r.cfg.ProjectionRefreshSchedule, "error", err)
		} else {
			r.logger.Info("projection refresh scheduled", "schedule", r.cfg.ProjectionRefreshSchedule)
		}
	}

	if r.cfg.SettlementWatchSchedule != "" {
		if _, err := r.cron.AddFunc(r.cfg.SettlementWatchSchedule, r.WatchPendingSettlements); err != nil {
			r.logger.Error("settlement watchdog not scheduled", "schedule", r.cfg.SettlementWatchSchedule, "error", err)
		} else {
			r.logger.Info("settlement watchdog scheduled", "schedule", r.cfg.SettlementWatchSchedule)
		}
	}

	r.cron.Start()
}

// Stop stops the scheduler. The returned context completes once running
// jobs have finished.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}

// RefreshBalanceViews re-projects recently active wallets so cached views
// stay warm.
func (r *Runner) RefreshBalanceViews() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	since := time.Now().UTC().Add(-r.cfg.ActiveWindow)
	bindings, err := r.wallets.ActiveBindings(ctx, since, r.cfg.RefreshLimit)
	if err != nil {
		r.logger.Error("active binding listing failed", "error", err)
		return
	}

	refreshed := 0
	for _, binding := range bindings {
		if err := r.wallets.Refresh(ctx, binding.UserID); err != nil {
			r.logger.Warn("projection refresh failed", "user_id", binding.UserID, "error", err)
			continue
		}
		refreshed++
	}
	if len(bindings) > 0 {
		r.logger.Info("projections refreshed", "refreshed", refreshed, "candidates", len(bindings))
	}
}

// WatchPendingSettlements reports the settlement backlog size so a stalled
// coordinator shows up in the logs before users notice.
func (r *Runner) WatchPendingSettlements() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	pending, err := r.journal.CountPending(ctx)
	if err != nil {
		r.logger.Error("pending settlement count failed", "error", err)
		return
	}
	if pending > backlogWarning {
		r.logger.Warn("settlement backlog growing", "pending", pending)
		return
	}
	if pending > 0 {
		r.logger.Info("settlements pending", "pending", pending)
	}
}
