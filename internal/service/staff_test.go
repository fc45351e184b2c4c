package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/store/memory"
)

func TestStaffCashDeductionBeyondDrawerIsRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	mustSell(t, svc, ctx, cashSale("prod-sugar", 1, domain.CurrencyUSD))

	_, err := svc.DeductStaffCash(ctx, "", domain.StaffCashDeductionRequest{
		StaffName: "Tendai",
		Amount:    dec("5.00"),
	})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	snapshot, err := svc.DrawerSnapshot(ctx, "", "cashier", "")
	require.NoError(t, err)
	assertAmount(t, "drawer cash", "3.00", snapshot.Drawer.Current[domain.CurrencyUSD].Cash)
	assertAmount(t, "staff consumption", "0", snapshot.Drawer.StaffConsumption[domain.CurrencyUSD])
}

func TestStaffCashDeductionLeavesWalletAlone(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	mustSell(t, svc, ctx, cashSale("prod-sugar", 1, domain.CurrencyUSD))
	walletBefore := walletBalance(t, svc, domain.CurrencyUSD)

	resp, err := svc.DeductStaffCash(ctx, "", domain.StaffCashDeductionRequest{
		StaffName: "Tendai",
		Amount:    dec("2.00"),
		Reason:    "lunch",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.DrawerBalance)
	assertAmount(t, "drawer balance", "1.00", *resp.DrawerBalance)
	require.Equal(t, domain.StaffLunchModeCash, resp.Lunch.Mode)
	require.Equal(t, "cashier", resp.Lunch.RecordedBy)

	require.True(t, walletBefore.Equal(walletBalance(t, svc, domain.CurrencyUSD)), "wallet moved on staff deduction")
	assertAmount(t, "staff consumption", "2.00", resp.Drawer.StaffConsumption[domain.CurrencyUSD])
	assertAmount(t, "expected cash", "1.00", resp.Drawer.ExpectedCashAtEOD[domain.CurrencyUSD])

	expenses, err := repo.ListExpenses(context.Background(), memory.SeedShopID, testStart.Add(-time.Hour), testStart.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	require.Equal(t, domain.ExpenseCategoryStaffLunch, expenses[0].Category)
	require.Equal(t, resp.Lunch.ID, expenses[0].ReferenceID)
}

func TestStaffCashDeductionValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := cashierCtx()

	_, err := svc.DeductStaffCash(ctx, "", domain.StaffCashDeductionRequest{Amount: dec("1")})
	require.ErrorIs(t, err, store.ErrInvalid)

	_, err = svc.DeductStaffCash(ctx, "", domain.StaffCashDeductionRequest{StaffName: "Tendai", Amount: dec("0")})
	require.ErrorIs(t, err, store.ErrInvalid)

	_, err = svc.DeductStaffCash(ctx, "", domain.StaffCashDeductionRequest{StaffName: "Tendai", Amount: dec("1"), Currency: "EUR"})
	require.ErrorIs(t, err, store.ErrInvalid)
}

func TestStaffCashDeductionCountsFloat(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SetFloat(adminCtx(), "", domain.SetFloatRequest{
		CashierID: "cashier",
		Float:     map[string]decimal.Decimal{"RAND": dec("100")},
	})
	require.NoError(t, err)

	resp, err := svc.DeductStaffCash(cashierCtx(), "", domain.StaffCashDeductionRequest{
		StaffName: "Rudo",
		Amount:    dec("45.50"),
		Currency:  "ZAR",
	})
	require.NoError(t, err)
	require.Equal(t, domain.CurrencyRAND, resp.Lunch.Currency)
	assertAmount(t, "rand cash", "54.50", *resp.DrawerBalance)
}

func TestProductLunchMovesStockNotDrawer(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := cashierCtx()

	mustSell(t, svc, ctx, cashSale("prod-sugar", 1, domain.CurrencyUSD))

	resp, err := svc.RecordProductLunch(ctx, "", domain.StaffProductLunchRequest{
		StaffName: "Tendai",
		ProductID: "prod-bread",
		Quantity:  2,
	})
	require.NoError(t, err)
	assertAmount(t, "value at cost", "2.40", resp.Lunch.Value)
	require.Nil(t, resp.DrawerBalance)

	movements, err := repo.ListStockMovements(context.Background(), memory.SeedShopID, "prod-bread", 1)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, domain.StockReasonStaffConsumption, movements[0].Reason)
	require.Equal(t, 38, movements[0].NewQty)

	drawer, err := svc.RecomputeDrawer(ctx, "", "cashier", "")
	require.NoError(t, err)
	assertAmount(t, "drawer cash", "3.00", drawer.Drawer.Current[domain.CurrencyUSD].Cash)
	assertAmount(t, "staff consumption", "0", drawer.Drawer.StaffConsumption[domain.CurrencyUSD])

	_, err = svc.RecordProductLunch(ctx, "", domain.StaffProductLunchRequest{StaffName: "Tendai", ProductID: "prod-ghost", Quantity: 1})
	require.ErrorIs(t, err, store.ErrNotFound)
}
