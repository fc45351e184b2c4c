package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

type SaleResponse struct {
	Sale       domain.Sale      `json:"sale"`
	PostCommit PostCommitResult `json:"post_commit"`
	Duplicate  bool             `json:"duplicate,omitempty"`
}

// settlement is the payment side of a sale before it is committed.
type settlement struct {
	payments        []domain.SalePayment
	status          string
	amountReceived  decimal.Decimal
	changeDue       decimal.Decimal
	changeCurrency  domain.Currency
	paymentMethod   string
	paymentCurrency string
}

// CreateSale validates, prices and commits a sale, then books it into the
// ledger and recomputes the cashier's drawer. Bookkeeping failures are
// reported in PostCommit and never undo the sale.
func (s *Service) CreateSale(ctx context.Context, shopID string, req domain.SaleRequest) (SaleResponse, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return SaleResponse{}, err
	}
	user, err := s.cashier(ctx, shop.ID, scopedCashier(ctx, req.CashierID))
	if err != nil {
		return SaleResponse{}, err
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, shop.ID, idempotencyKey)
		if err == nil {
			return s.replaySale(ctx, shop, *existing), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return SaleResponse{}, err
		}
	}

	quantities, order, err := normalizeItems(req.Items, "items")
	if err != nil {
		return SaleResponse{}, err
	}
	products, err := s.repo.GetProductsByIDs(ctx, shop.ID, order)
	if err != nil {
		return SaleResponse{}, err
	}

	saleID := xid.New("sale")
	total := decimal.Zero
	items := make([]domain.SaleItem, 0, len(order))
	for _, productID := range order {
		product, ok := products[productID]
		if !ok {
			return SaleResponse{}, store.NotFound("product", productID)
		}
		if !product.Active {
			return SaleResponse{}, store.Invalid("items", "product %s is not available for sale", productID)
		}
		if !product.Price.IsPositive() {
			return SaleResponse{}, store.Invalid("items", "product %s has no sale price", productID)
		}
		qty := quantities[productID]
		lineTotal := domain.Money(product.Price.Mul(decimal.NewFromInt(int64(qty))))
		total = total.Add(lineTotal)
		items = append(items, domain.SaleItem{
			ID:          xid.New("item"),
			SaleID:      saleID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    qty,
			UnitPrice:   product.Price,
			CostPrice:   product.CostPrice,
			LineTotal:   lineTotal,
		})
	}

	rates, err := s.CurrentRates(ctx, shop.ID)
	if err != nil {
		return SaleResponse{}, err
	}

	var settled settlement
	if len(req.Payments) > 0 {
		settled, err = settleLegs(req, total, shop.Base(), rates)
	} else {
		settled, err = settleSingle(req, total, shop.Base(), rates)
	}
	if err != nil {
		return SaleResponse{}, err
	}
	for i := range settled.payments {
		settled.payments[i].ID = xid.New("pay")
		settled.payments[i].SaleID = saleID
	}

	sale := domain.Sale{
		ID:              saleID,
		ShopID:          shop.ID,
		CashierID:       user.Username,
		IdempotencyKey:  idempotencyKey,
		TotalAmount:     domain.Money(total),
		Currency:        shop.Base(),
		PaymentCurrency: settled.paymentCurrency,
		PaymentMethod:   settled.paymentMethod,
		Status:          settled.status,
		AmountReceived:  settled.amountReceived,
		ChangeDue:       settled.changeDue,
		ChangeCurrency:  settled.changeCurrency,
		CustomerName:    strings.TrimSpace(req.CustomerName),
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		RefundAmount:    decimal.Zero,
		CreatedAt:       s.now().UTC(),
		Items:           items,
		Payments:        settled.payments,
	}

	committed, err := s.repo.CommitSale(ctx, sale)
	if err != nil {
		if errors.Is(err, store.ErrConflict) && idempotencyKey != "" {
			existing, findErr := s.repo.FindSaleByIdempotency(ctx, shop.ID, idempotencyKey)
			if findErr == nil {
				return s.replaySale(ctx, shop, *existing), nil
			}
		}
		return SaleResponse{}, err
	}

	s.logAudit(ctx, shop.ID, "sale_created", "sale", committed.ID,
		fmt.Sprintf("total=%s %s,method=%s,payment_currency=%s,status=%s", committed.TotalAmount.StringFixed(2), committed.Currency, committed.PaymentMethod, committed.PaymentCurrency, committed.Status))

	return SaleResponse{
		Sale:       *committed,
		PostCommit: s.postCommit(ctx, shop, *committed, true),
	}, nil
}

// replaySale answers a repeated idempotency key. Bookkeeping is re-run so a
// retry also heals a sale whose first post-commit step failed.
func (s *Service) replaySale(ctx context.Context, shop *domain.Shop, sale domain.Sale) SaleResponse {
	return SaleResponse{
		Sale:       sale,
		PostCommit: s.postCommit(ctx, shop, sale, false),
		Duplicate:  true,
	}
}

// postCommit books the sale and recomputes the affected drawer. The drawer
// of a refund is the one of the refund day.
func (s *Service) postCommit(ctx context.Context, shop *domain.Shop, sale domain.Sale, fresh bool) PostCommitResult {
	ledgerErr := s.recordSaleInLedger(ctx, sale)
	if ledgerErr != nil {
		s.logger.Warn("post-commit ledger append failed",
			zap.String("shop_id", sale.ShopID),
			zap.String("sale_id", sale.ID),
			zap.Error(ledgerErr),
		)
	}

	at := sale.CreatedAt
	if sale.Status == domain.SaleStatusRefunded && sale.RefundedAt != nil {
		at = *sale.RefundedAt
	}
	_, drawerErr := s.recomputeAt(ctx, shop, sale.CashierID, at)
	if drawerErr != nil {
		s.logger.Warn("post-commit drawer recompute failed",
			zap.String("shop_id", sale.ShopID),
			zap.String("cashier_id", sale.CashierID),
			zap.String("sale_id", sale.ID),
			zap.Bool("fresh", fresh),
			zap.Error(drawerErr),
		)
	}

	return PostCommitResult{Ledger: stepResult(ledgerErr), Drawer: stepResult(drawerErr)}
}

func settleSingle(req domain.SaleRequest, total decimal.Decimal, base domain.Currency, rates domain.RateTable) (settlement, error) {
	method, ok := domain.ParsePaymentMethod(defaultString(req.PaymentMethod, string(domain.MethodCash)))
	if !ok {
		return settlement{}, store.Invalid("payment_method", "unsupported payment method %q", req.PaymentMethod)
	}
	currency, ok := domain.ParseCurrency(defaultString(req.Currency, string(base)))
	if !ok {
		return settlement{}, store.Invalid("currency", "unsupported currency %q", req.Currency)
	}

	amount, ok := rates.Convert(total, base, currency)
	if !ok {
		return settlement{}, store.Invalid("currency", "no exchange rate for %s", currency)
	}
	if method == domain.MethodCash && currency == domain.CurrencyUSD && amount.LessThan(domain.OneDollar) {
		return settlement{}, store.Invalid("currency", "USD cash sales must be at least 1.00; take payment in ZIG or RAND")
	}

	received := amount
	if req.AmountReceived != nil {
		if method == domain.MethodCash {
			received = domain.Money(*req.AmountReceived)
			if received.LessThan(amount) {
				return settlement{}, store.Invalid("amount_received", "received %s %s is less than %s due", received.StringFixed(2), currency, amount.StringFixed(2))
			}
		}
	}

	payment, err := buildPayment(method, currency, amount, received, req.AmountReceived != nil, rates)
	if err != nil {
		return settlement{}, err
	}

	status := domain.SaleStatusCompleted
	if req.AwaitConfirmation {
		status = domain.SaleStatusPending
	}
	return settlement{
		payments:        []domain.SalePayment{payment},
		status:          status,
		amountReceived:  received,
		changeDue:       decimal.Zero,
		paymentMethod:   string(method),
		paymentCurrency: string(currency),
	}, nil
}

// settleLegs prices a multi-leg payment. Legs are compared to the total in
// USD equivalents with a half-cent tolerance; an over-applied excess is
// returned as change in the change currency.
func settleLegs(req domain.SaleRequest, total decimal.Decimal, base domain.Currency, rates domain.RateTable) (settlement, error) {
	totalUSD, ok := rates.ToUSD(total, base)
	if !ok {
		return settlement{}, store.Invalid("currency", "no exchange rate for %s", base)
	}

	payments := make([]domain.SalePayment, 0, len(req.Payments))
	paidUSD := decimal.Zero
	methods := map[domain.PaymentMethod]struct{}{}
	currencies := map[domain.Currency]struct{}{}
	for i, leg := range req.Payments {
		field := fmt.Sprintf("payments[%d]", i)
		method, ok := domain.ParsePaymentMethod(leg.PaymentMethod)
		if !ok {
			return settlement{}, store.Invalid(field, "unsupported payment method %q", leg.PaymentMethod)
		}
		currency, ok := domain.ParseCurrency(leg.Currency)
		if !ok {
			return settlement{}, store.Invalid(field, "unsupported currency %q", leg.Currency)
		}
		amount := domain.Money(leg.Amount)
		if !amount.IsPositive() {
			return settlement{}, store.Invalid(field, "amount must be positive")
		}
		if method == domain.MethodCash && currency == domain.CurrencyUSD && amount.LessThan(domain.OneDollar) {
			return settlement{}, store.Invalid(field, "USD cash legs must be at least 1.00")
		}

		received := amount
		if leg.AmountReceived != nil && method == domain.MethodCash {
			received = domain.Money(*leg.AmountReceived)
			if received.LessThan(amount) {
				return settlement{}, store.Invalid(field, "received %s is less than leg amount %s", received.StringFixed(2), amount.StringFixed(2))
			}
		}

		payment, err := buildPayment(method, currency, amount, received, leg.AmountReceived != nil, rates)
		if err != nil {
			return settlement{}, err
		}
		payments = append(payments, payment)
		paidUSD = paidUSD.Add(payment.AmountUSDEquivalent)
		methods[method] = struct{}{}
		currencies[currency] = struct{}{}
	}

	changeCurrency := base
	if strings.TrimSpace(req.ChangeCurrency) != "" {
		c, ok := domain.ParseCurrency(req.ChangeCurrency)
		if !ok {
			return settlement{}, store.Invalid("change_currency", "unsupported currency %q", req.ChangeCurrency)
		}
		changeCurrency = c
	}

	out := settlement{
		payments:        payments,
		status:          domain.SaleStatusPendingPayment,
		changeDue:       decimal.Zero,
		paymentMethod:   string(payments[0].Method),
		paymentCurrency: string(payments[0].Currency),
	}
	if len(methods) > 1 {
		out.paymentMethod = domain.PaymentMethodSplit
	}
	if len(currencies) > 1 {
		out.paymentCurrency = domain.PaymentCurrencySplit
	}
	if received, ok := rates.FromUSD(paidUSD, base); ok {
		out.amountReceived = received
	}

	if paidUSD.GreaterThanOrEqual(totalUSD.Sub(domain.HalfCent)) {
		out.status = domain.SaleStatusCompleted
		if req.AwaitConfirmation {
			out.status = domain.SaleStatusPending
		}
	}
	if excess := paidUSD.Sub(totalUSD); excess.GreaterThan(domain.HalfCent) {
		change, ok := rates.FromUSD(excess, changeCurrency)
		if !ok {
			return settlement{}, store.Invalid("change_currency", "no exchange rate for %s", changeCurrency)
		}
		out.changeDue = change
		out.changeCurrency = changeCurrency
	}
	return out, nil
}

func buildPayment(method domain.PaymentMethod, currency domain.Currency, amount decimal.Decimal, received decimal.Decimal, receivedGiven bool, rates domain.RateTable) (domain.SalePayment, error) {
	usd, ok := rates.ToUSD(amount, currency)
	if !ok {
		return domain.SalePayment{}, store.Invalid("currency", "no exchange rate for %s", currency)
	}
	payment := domain.SalePayment{
		Method:              method,
		Currency:            currency,
		Amount:              amount,
		AmountUSDEquivalent: usd,
		ChangeGiven:         received.Sub(amount),
	}
	if currency != domain.CurrencyUSD {
		rate, _ := rates.Rate(currency)
		payment.ExchangeRateToUSD = decimal.NewNullDecimal(rate)
	}
	if receivedGiven {
		payment.AmountReceived = decimal.NewNullDecimal(received)
	}
	return payment, nil
}

// normalizeItems merges repeated product lines, keeping first-seen order.
func normalizeItems(items []domain.SaleItemRequest, field string) (map[string]int, []string, error) {
	if len(items) == 0 {
		return nil, nil, store.Invalid(field, "at least one item is required")
	}
	quantities := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, nil, store.Invalid(field, "product_id is required")
		}
		if item.Quantity < 1 {
			return nil, nil, store.Invalid(field, "quantity for %s must be at least 1", productID)
		}
		if _, seen := quantities[productID]; !seen {
			order = append(order, productID)
		}
		quantities[productID] += item.Quantity
	}
	return quantities, order, nil
}

// SaleAction confirms a pending sale or refunds a completed one. The caller
// authorises the manager password.
func (s *Service) SaleAction(ctx context.Context, shopID string, saleID string, req domain.SaleActionRequest) (SaleResponse, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return SaleResponse{}, err
	}
	sale, err := s.repo.FindSaleByID(ctx, shop.ID, strings.TrimSpace(saleID))
	if err != nil {
		return SaleResponse{}, err
	}

	var updated *domain.Sale
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case domain.SaleActionConfirm:
		updated, err = s.repo.ConfirmSale(ctx, shop.ID, sale.ID, s.now())
		if err != nil {
			return SaleResponse{}, err
		}
		s.logAudit(ctx, shop.ID, "sale_confirmed", "sale", sale.ID, "status="+updated.Status)
	case domain.SaleActionRefund:
		refund, err := s.buildRefund(ctx, shop, *sale, req)
		if err != nil {
			return SaleResponse{}, err
		}
		updated, err = s.repo.RefundSale(ctx, refund)
		if err != nil {
			return SaleResponse{}, err
		}
		s.logAudit(ctx, shop.ID, "sale_refunded", "sale", sale.ID,
			fmt.Sprintf("amount=%s %s,type=%s,reason=%s", refund.Amount.StringFixed(2), refund.Currency, refund.RefundType, refund.Reason))
	default:
		return SaleResponse{}, store.Invalid("action", "action must be confirm or refund")
	}

	return SaleResponse{
		Sale:       *updated,
		PostCommit: s.postCommit(ctx, shop, *updated, true),
	}, nil
}

// buildRefund prices a refund at the original unit prices. No items means
// everything not yet refunded.
func (s *Service) buildRefund(ctx context.Context, shop *domain.Shop, sale domain.Sale, req domain.SaleActionRequest) (domain.SaleRefund, error) {
	if sale.Status != domain.SaleStatusCompleted {
		return domain.SaleRefund{}, store.Invalid("status", "only completed sales can be refunded")
	}

	remaining := make(map[string]int, len(sale.Items))
	unitPrice := make(map[string]decimal.Decimal, len(sale.Items))
	for _, item := range sale.Items {
		remaining[item.ProductID] += item.Quantity - item.RefundedQuantity
		unitPrice[item.ProductID] = item.UnitPrice
	}

	quantities := make(map[string]int, len(remaining))
	if len(req.RefundItems) == 0 {
		for productID, qty := range remaining {
			if qty > 0 {
				quantities[productID] = qty
			}
		}
	} else {
		merged, _, err := normalizeItems(req.RefundItems, "refund_items")
		if err != nil {
			return domain.SaleRefund{}, err
		}
		for productID, qty := range merged {
			left, ok := remaining[productID]
			if !ok {
				return domain.SaleRefund{}, store.Invalid("refund_items", "product %s is not part of sale %s", productID, sale.ID)
			}
			if qty > left {
				return domain.SaleRefund{}, store.Invalid("refund_items", "refund quantity for %s exceeds the %d sold", productID, left)
			}
			quantities[productID] = qty
		}
	}
	if len(quantities) == 0 {
		return domain.SaleRefund{}, store.Invalid("refund_items", "nothing left to refund")
	}

	amount := decimal.Zero
	refundType := domain.RefundTypeFull
	for productID, left := range remaining {
		qty := quantities[productID]
		amount = amount.Add(unitPrice[productID].Mul(decimal.NewFromInt(int64(qty))))
		if qty < left {
			refundType = domain.RefundTypePartial
		}
	}

	actor, _ := ActorFromContext(ctx)
	return domain.SaleRefund{
		ShopID:     shop.ID,
		SaleID:     sale.ID,
		Items:      quantities,
		Amount:     domain.Money(amount),
		Currency:   shop.Base(),
		RefundType: refundType,
		Reason:     strings.TrimSpace(req.Reason),
		RecordedBy: actor.Username,
		RefundedAt: s.now().UTC(),
	}, nil
}

// ListSales returns the cashier's sales for a business day, or the whole
// shop's when cashierID is empty and the caller is an admin.
func (s *Service) ListSales(ctx context.Context, shopID string, cashierID string, date string, limit int) ([]domain.Sale, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	from, to, err := s.dayWindow(shop, date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, store.SaleFilter{
		ShopID:    shop.ID,
		CashierID: scopedCashier(ctx, cashierID),
		From:      from,
		To:        to,
		Limit:     limit,
	})
}
