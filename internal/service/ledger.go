package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
)

// StepResult reports the outcome of a post-commit bookkeeping step.
type StepResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PostCommitResult is returned with every sale mutation. A failed step never
// rolls back the sale; the ledger replay and drawer recompute heal it later.
type PostCommitResult struct {
	Ledger StepResult `json:"ledger"`
	Drawer StepResult `json:"drawer"`
}

func stepResult(err error) StepResult {
	if err != nil {
		return StepResult{OK: false, Error: err.Error()}
	}
	return StepResult{OK: true}
}

// saleLedgerEntries lists the wallet movements of a completed sale: one inflow
// per payment leg and, when change was handed back from the over-applied
// amount, one outflow in the change currency.
func saleLedgerEntries(sale domain.Sale) []domain.CurrencyTransaction {
	entries := make([]domain.CurrencyTransaction, 0, len(sale.Payments)+1)
	for i, payment := range sale.Payments {
		entries = append(entries, domain.CurrencyTransaction{
			ShopID:    sale.ShopID,
			Currency:  payment.Currency,
			Type:      domain.LedgerTypeSale,
			Amount:    payment.Amount,
			Reference: fmt.Sprintf("sale:%s:leg:%d", sale.ID, i),
			SaleID:    sale.ID,
		})
	}
	if sale.ChangeDue.IsPositive() {
		entries = append(entries, domain.CurrencyTransaction{
			ShopID:    sale.ShopID,
			Currency:  sale.ChangeCurrency,
			Type:      domain.LedgerTypeChange,
			Amount:    sale.ChangeDue.Neg(),
			Reference: fmt.Sprintf("sale:%s:change", sale.ID),
			SaleID:    sale.ID,
		})
	}
	return entries
}

func refundLedgerEntry(sale domain.Sale) domain.CurrencyTransaction {
	return domain.CurrencyTransaction{
		ShopID:    sale.ShopID,
		Currency:  sale.RefundCurrency,
		Type:      domain.LedgerTypeRefund,
		Amount:    sale.RefundAmount.Neg(),
		Reference: fmt.Sprintf("sale:%s:refund", sale.ID),
		SaleID:    sale.ID,
	}
}

// appendLedger applies entries that are not yet in the log. Entries whose
// reference already exists are skipped, which makes replays safe.
func (s *Service) appendLedger(ctx context.Context, entries []domain.CurrencyTransaction) (int, error) {
	applied := 0
	for _, entry := range entries {
		entry.CreatedAt = s.now().UTC()
		if _, err := s.repo.ApplyWalletTransaction(ctx, entry); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return applied, fmt.Errorf("ledger append %s: %w", entry.Reference, err)
		}
		applied++
	}
	return applied, nil
}

// recordSaleInLedger books a sale into the wallet. Only completed and refunded
// sales carry money; pending ones are booked when confirmed.
func (s *Service) recordSaleInLedger(ctx context.Context, sale domain.Sale) error {
	if sale.Status != domain.SaleStatusCompleted && sale.Status != domain.SaleStatusRefunded {
		return nil
	}
	entries := saleLedgerEntries(sale)
	if sale.Status == domain.SaleStatusRefunded && sale.RefundAmount.IsPositive() {
		entries = append(entries, refundLedgerEntry(sale))
	}
	_, err := s.appendLedger(ctx, entries)
	return err
}

func (s *Service) Wallet(ctx context.Context, shopID string, limit int) (domain.WalletResponse, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return domain.WalletResponse{}, err
	}
	wallet, err := s.repo.GetWallet(ctx, shop.ID)
	if err != nil {
		return domain.WalletResponse{}, err
	}
	txs, err := s.repo.ListCurrencyTransactions(ctx, shop.ID, limit)
	if err != nil {
		return domain.WalletResponse{}, err
	}
	return domain.WalletResponse{Wallet: wallet, Transactions: txs}, nil
}

type LedgerReplayResult struct {
	Sales   int `json:"sales"`
	Applied int `json:"applied"`
}

// ReplayLedger re-books every sale of the given day. Already-booked legs are
// skipped so the wallet converges without double counting.
func (s *Service) ReplayLedger(ctx context.Context, shopID string, date string) (LedgerReplayResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return LedgerReplayResult{}, err
	}
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return LedgerReplayResult{}, err
	}
	from, to, err := s.dayWindow(shop, date)
	if err != nil {
		return LedgerReplayResult{}, err
	}
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{ShopID: shop.ID, From: from, To: to, IncludeRefundedInWindow: true})
	if err != nil {
		return LedgerReplayResult{}, err
	}

	result := LedgerReplayResult{}
	for _, sale := range sales {
		if sale.Status != domain.SaleStatusCompleted && sale.Status != domain.SaleStatusRefunded {
			continue
		}
		entries := saleLedgerEntries(sale)
		if sale.Status == domain.SaleStatusRefunded && sale.RefundAmount.IsPositive() {
			entries = append(entries, refundLedgerEntry(sale))
		}
		applied, err := s.appendLedger(ctx, entries)
		result.Applied += applied
		if err != nil {
			return result, err
		}
		result.Sales++
	}

	s.logger.Info("ledger replayed", zap.String("shop_id", shop.ID), zap.String("date", from.Format(domain.DateLayout)), zap.Int("applied", result.Applied))
	return result, nil
}
