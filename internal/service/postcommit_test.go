package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store/memory"
)

// failingRepo injects errors into the bookkeeping writes that run after a
// sale or count is already committed.
type failingRepo struct {
	*memory.Store
	drawerErr      error
	walletErr      error
	performanceErr error
}

func (r *failingRepo) SaveDrawer(ctx context.Context, drawer domain.CashFloat) error {
	if r.drawerErr != nil {
		return r.drawerErr
	}
	return r.Store.SaveDrawer(ctx, drawer)
}

func (r *failingRepo) ApplyWalletTransaction(ctx context.Context, entry domain.CurrencyTransaction) (*domain.CurrencyTransaction, error) {
	if r.walletErr != nil {
		return nil, r.walletErr
	}
	return r.Store.ApplyWalletTransaction(ctx, entry)
}

func (r *failingRepo) SavePerformanceSummary(ctx context.Context, summary domain.CashierPerformanceSummary) error {
	if r.performanceErr != nil {
		return r.performanceErr
	}
	return r.Store.SavePerformanceSummary(ctx, summary)
}

func newFailingService(t *testing.T) (*Service, *failingRepo) {
	t.Helper()
	repo := &failingRepo{Store: memory.NewSeeded()}
	clock := &testClock{now: testStart}
	svc := New(repo, cache.NoopRateCache{}, zaptest.NewLogger(t), memory.SeedShopID, WithClock(clock.Now))
	return svc, repo
}

func TestPostCommitFailuresKeepTheSale(t *testing.T) {
	svc, repo := newFailingService(t)
	repo.drawerErr = errors.New("drawer table offline")
	repo.walletErr = errors.New("wallet table offline")
	ctx := cashierCtx()

	resp, err := svc.CreateSale(ctx, "", cashSale("prod-sugar", 1, domain.CurrencyUSD))
	require.NoError(t, err, "a committed sale is not undone by bookkeeping failures")
	assert.Equal(t, domain.SaleStatusCompleted, resp.Sale.Status)
	assert.False(t, resp.PostCommit.Ledger.OK)
	assert.Contains(t, resp.PostCommit.Ledger.Error, "wallet table offline")
	assert.False(t, resp.PostCommit.Drawer.OK)
	assert.Contains(t, resp.PostCommit.Drawer.Error, "drawer table offline")

	stored, err := repo.FindSaleByID(context.Background(), memory.SeedShopID, resp.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, stored.Status)
	assertAmount(t, "wallet untouched", "0", walletBalance(t, svc, domain.CurrencyUSD))

	lunch, err := svc.DeductStaffCash(ctx, "", domain.StaffCashDeductionRequest{
		StaffName: "Tendai",
		Amount:    dec("2.00"),
	})
	require.NoError(t, err, "deduction is checked against committed sales, not the stale drawer")
	assert.NotEmpty(t, lunch.Lunch.ID)
	assert.Nil(t, lunch.DrawerBalance, "balance is omitted when the drawer could not be saved")

	repo.drawerErr, repo.walletErr = nil, nil
	replay, err := svc.ReplayLedger(adminCtx(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, replay.Applied)
	assertAmount(t, "wallet after replay", "3.00", walletBalance(t, svc, domain.CurrencyUSD))

	drawer, err := svc.RecomputeDrawer(ctx, "", "cashier", "")
	require.NoError(t, err)
	assertAmount(t, "drawer cash after recompute", "1.00", drawer.Drawer.Current[domain.CurrencyUSD].Cash)
}

func TestConcurrentSalesForOneCashierAllLand(t *testing.T) {
	svc, _, _ := newTestService(t)
	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.CreateSale(cashierCtx(), "", cashSale("prod-bread", 1, domain.CurrencyUSD))
			if err == nil && !(resp.PostCommit.Ledger.OK && resp.PostCommit.Drawer.OK) {
				err = fmt.Errorf("post-commit failed: %+v", resp.PostCommit)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snapshot, err := svc.DrawerSnapshot(cashierCtx(), "", "cashier", "")
	require.NoError(t, err)
	assertAmount(t, "drawer cash", "36.00", snapshot.Drawer.Current[domain.CurrencyUSD].Cash)
	assert.Equal(t, n, snapshot.Drawer.SaleCount)
	assertAmount(t, "wallet", "36.00", walletBalance(t, svc, domain.CurrencyUSD))
}

func TestCountSurvivesPerformanceRollupFailure(t *testing.T) {
	svc, repo := newFailingService(t)
	repo.performanceErr = errors.New("summary table offline")
	ctx := cashierCtx()

	mustSell(t, svc, ctx, cashSale("prod-bread", 1, domain.CurrencyUSD))

	resp, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{
		Currencies: usdCount(map[string]int{"1": 1, "0.5": 1, "0.25": 1, "0.05": 1}),
	})
	require.NoError(t, err, "a saved count is not reported as failed")
	require.NotEmpty(t, resp.Count.ID)
	assert.Contains(t, resp.PerformanceError, "summary table offline")
	assert.Zero(t, resp.Performance.TotalCounts)

	detail, err := svc.CashierCount(ctx, "", "cashier", "")
	require.NoError(t, err)
	assert.Equal(t, resp.Count.ID, detail.Count.ID)

	snapshot, err := svc.DrawerSnapshot(ctx, "", "cashier", "")
	require.NoError(t, err)
	assert.Equal(t, domain.DrawerStatusSettled, snapshot.Drawer.Status)

	repo.performanceErr = nil
	again, err := svc.SubmitCashierCount(ctx, "", domain.CashierCountRequest{
		Currencies: usdCount(map[string]int{"1": 1, "0.5": 1, "0.25": 1, "0.05": 1}),
	})
	require.NoError(t, err)
	assert.Empty(t, again.PerformanceError)
	assert.Equal(t, 1, again.Performance.TotalCounts, "resubmission rebuilds the month")
}
