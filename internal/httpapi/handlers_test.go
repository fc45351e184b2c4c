package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/service"
	"tillbook/backend/internal/store/memory"
)

const testManagerPIN = "482916"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	logger := zaptest.NewLogger(t)
	svc := service.New(repo, cache.NoopRateCache{}, logger, memory.SeedShopID)
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, memory.SeedShopID, repo)

	return New(svc, auth, "*", logger)
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d (body: %s)", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	return login(t, api, "admin", "admin123")
}

func loginAsCashier(t *testing.T, api *API) string {
	return login(t, api, "cashier", "cashier123")
}

func doJSON(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, res.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/healthz", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	body := decodeBody[map[string]any](t, res)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLoginWrongPassword(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "nope"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestCashierLoginOpensTodaysDrawer(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodGet, "/api/v1/cash-float", token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	snapshot := decodeBody[domain.DrawerSnapshot](t, res)
	if snapshot.Drawer.Status != domain.DrawerStatusActive || snapshot.Drawer.CashierID != "cashier" {
		t.Fatalf("expected active drawer for cashier, got %+v", snapshot.Drawer)
	}
}

func TestCreateSaleAndReadDrawer(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		CashierID:     "cashier",
		Items:         []domain.SaleItemRequest{{ProductID: "prod-sugar", Quantity: 1}},
		PaymentMethod: "cash",
		Currency:      "USD",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	sale := decodeBody[service.SaleResponse](t, res)
	if sale.Sale.Status != domain.SaleStatusCompleted || !sale.PostCommit.Drawer.OK {
		t.Fatalf("unexpected sale response %+v", sale)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/cash-float?cashier_id=cashier", token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	snapshot := decodeBody[domain.DrawerSnapshot](t, res)
	if got := snapshot.Drawer.Current[domain.CurrencyUSD].Cash; !got.Equal(decimal.RequireFromString("3.00")) {
		t.Fatalf("expected usd cash 3.00, got %s", got)
	}
}

func TestCreateSaleValidationErrors(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"sub dollar usd cash", domain.SaleRequest{Items: []domain.SaleItemRequest{{ProductID: "prod-sweets", Quantity: 1}}}, http.StatusBadRequest},
		{"unknown product", domain.SaleRequest{Items: []domain.SaleItemRequest{{ProductID: "prod-ghost", Quantity: 1}}}, http.StatusNotFound},
		{"unknown field", map[string]any{"items": []any{}, "discount": 5}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, tc.body)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d (body: %s)", tc.status, res.Code, res.Body.String())
			}
			body := decodeBody[map[string]any](t, res)
			if body["error"] == "" || body["error"] == nil {
				t.Fatalf("expected error message, got %v", body)
			}
		})
	}
}

func TestStaffDeductionBeyondDrawerReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prod-sugar", Quantity: 1}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d %s", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/staff-lunch/deduct-money", token, domain.StaffCashDeductionRequest{
		StaffName: "Tendai",
		Amount:    decimal.RequireFromString("5"),
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/staff-lunch/deduct-money", token, domain.StaffCashDeductionRequest{
		StaffName: "Tendai",
		Amount:    decimal.RequireFromString("2"),
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	lunch := decodeBody[domain.StaffLunchResponse](t, res)
	if lunch.DrawerBalance == nil || !lunch.DrawerBalance.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("expected drawer balance 1, got %v", lunch.DrawerBalance)
	}
}

func TestRefundRequiresManagerPassword(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prod-sugar", Quantity: 2}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d %s", res.Code, res.Body.String())
	}
	sale := decodeBody[service.SaleResponse](t, res)
	path := "/api/v1/sales/" + sale.Sale.ID

	res = doJSON(t, api, http.MethodPatch, path, token, domain.SaleActionRequest{Action: "refund", Password: "000000"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong manager password, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodPatch, path, token, domain.SaleActionRequest{
		Action:      "refund",
		Password:    testManagerPIN,
		RefundItems: []domain.SaleItemRequest{{ProductID: "prod-sugar", Quantity: 1}},
		Reason:      "damaged",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	refunded := decodeBody[service.SaleResponse](t, res)
	if refunded.Sale.Status != domain.SaleStatusRefunded || refunded.Sale.RefundType != domain.RefundTypePartial {
		t.Fatalf("unexpected refund %+v", refunded.Sale)
	}

	res = doJSON(t, api, http.MethodPatch, "/api/v1/sales/sale-missing", token, domain.SaleActionRequest{Action: "confirm", Password: testManagerPIN})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestAdminOnlyRoutes(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAsCashier(t, api)
	admin := loginAsAdmin(t, api)

	for _, path := range []string{"/api/v1/wallet", "/api/v1/audit-logs", "/api/v1/users/cashiers"} {
		if res := doJSON(t, api, http.MethodGet, path, cashier, nil); res.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403 for cashier, got %d", path, res.Code)
		}
		if res := doJSON(t, api, http.MethodGet, path, admin, nil); res.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 for admin, got %d (body: %s)", path, res.Code, res.Body.String())
		}
	}

	res := doJSON(t, api, http.MethodPost, "/api/v1/exchange-rates", cashier, domain.ExchangeRateRequest{Currency: "ZIG", UnitsPerUSD: decimal.RequireFromString("30")})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected cashier rate update to be forbidden, got %d", res.Code)
	}
	res = doJSON(t, api, http.MethodPost, "/api/v1/exchange-rates", admin, domain.ExchangeRateRequest{Currency: "ZIG", UnitsPerUSD: decimal.RequireFromString("30")})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/wallet/replay", admin, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected replay 200, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestCashierCountRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsCashier(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prod-sugar", Quantity: 1}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d %s", res.Code, res.Body.String())
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/cashier-counts", token, domain.CashierCountRequest{
		Currencies: map[string]domain.CurrencyCountRequest{"USD": {Denominations: map[string]int{"2": 1}}},
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	count := decodeBody[domain.CashierCountResponse](t, res)
	if count.Count.OverallStatus != domain.CountStatusShortage {
		t.Fatalf("expected shortage, got %s", count.Count.OverallStatus)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/cashier-counts", token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	month := time.Now().In(mustHarare(t)).Format("2006-01")
	res = doJSON(t, api, http.MethodGet, "/api/v1/cashier-counts/performance?month="+month, token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	perf := decodeBody[map[string]domain.CashierPerformanceSummary](t, res)
	if perf["performance"].ShortageCounts != 1 {
		t.Fatalf("expected one shortage, got %+v", perf["performance"])
	}
}

func mustHarare(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Africa/Harare")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}
