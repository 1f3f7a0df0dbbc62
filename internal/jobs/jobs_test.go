package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/axzora/happy-paisa/internal/logging"
	"github.com/axzora/happy-paisa/internal/wallet"
)

type refresherStub struct {
	bindings   []wallet.Binding
	listErr    error
	refreshErr map[string]error
	refreshed  []string
}

func (s *refresherStub) ActiveBindings(_ context.Context, _ time.Time, _ int) ([]wallet.Binding, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.bindings, nil
}

func (s *refresherStub) Refresh(_ context.Context, userID string) error {
	if err := s.refreshErr[userID]; err != nil {
		return err
	}
	s.refreshed = append(s.refreshed, userID)
	return nil
}

type counterStub struct {
	pending int64
	err     error
	calls   int
}

func (s *counterStub) CountPending(_ context.Context) (int64, error) {
	s.calls++
	return s.pending, s.err
}

func newTestRunner(wallets WalletRefresher, journal PendingCounter) *Runner {
	return NewRunner(wallets, journal, logging.Discard(), Config{})
}

func TestRefreshBalanceViews(t *testing.T) {
	refresher := &refresherStub{bindings: []wallet.Binding{
		{UserID: "user-1"},
		{UserID: "user-2"},
	}}
	runner := newTestRunner(refresher, &counterStub{})

	runner.RefreshBalanceViews()

	if len(refresher.refreshed) != 2 {
		t.Fatalf("refreshed = %v, want both users", refresher.refreshed)
	}
}

func TestRefreshBalanceViewsContinuesPastFailures(t *testing.T) {
	refresher := &refresherStub{
		bindings: []wallet.Binding{
			{UserID: "user-1"},
			{UserID: "user-2"},
		},
		refreshErr: map[string]error{"user-1": errors.New("redis unavailable")},
	}
	runner := newTestRunner(refresher, &counterStub{})

	runner.RefreshBalanceViews()

	if len(refresher.refreshed) != 1 || refresher.refreshed[0] != "user-2" {
		t.Fatalf("refreshed = %v, want [user-2]", refresher.refreshed)
	}
}

func TestRefreshBalanceViewsStopsOnListError(t *testing.T) {
	refresher := &refresherStub{listErr: errors.New("db unavailable")}
	runner := newTestRunner(refresher, &counterStub{})

	runner.RefreshBalanceViews()

	if len(refresher.refreshed) != 0 {
		t.Fatalf("refreshed = %v, want none after listing failure", refresher.refreshed)
	}
}

func TestWatchPendingSettlements(t *testing.T) {
	counter := &counterStub{pending: 3}
	runner := newTestRunner(&refresherStub{}, counter)

	runner.WatchPendingSettlements()
	if counter.calls != 1 {
		t.Fatalf("count calls = %d, want 1", counter.calls)
	}

	counter.err = errors.New("db unavailable")
	runner.WatchPendingSettlements()
	if counter.calls != 2 {
		t.Fatalf("count calls = %d, want 2", counter.calls)
	}
}

func TestRunnerStartStop(t *testing.T) {
	runner := NewRunner(&refresherStub{}, &counterStub{}, logging.Discard(), Config{
		ProjectionRefreshSchedule: "*/5 * * * *",
		SettlementWatchSchedule:   "* * * * *",
	})

	runner.Start()
	select {
	case <-runner.Stop().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
