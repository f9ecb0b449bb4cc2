package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"retailflow/backend/internal/domain"
	"retailflow/backend/internal/service"
	"retailflow/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager
// and real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.New()
	items := []domain.Item{
		{UPC: "030000512203", Description: "Rolled Oats 18oz", MaxQty: 60, OrderThreshold: 12, ReplenishmentQty: 24, OnHand: 40, UnitPrice: decimal.RequireFromString("3.49")},
		{UPC: "041196910759", Description: "Vegetable Broth 32oz", MaxQty: 30, OrderThreshold: 6, ReplenishmentQty: 12, OnHand: 25, UnitPrice: decimal.RequireFromString("5.00")},
	}
	for _, item := range items {
		if err := repo.PutItem(context.Background(), item); err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}
	addOperator(t, repo, "manager", "opensesame", domain.RoleManager, true)
	addOperator(t, repo, "cashier", "register1", domain.RoleCashier, true)

	svc := service.New(repo, nil, 0, nil)
	auth := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, repo)
	return New(svc, auth, "*")
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := rec.Header().Get("X-Request-ID"); got == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestItemsRequireAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/items", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/items", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestSaleAndReceiptFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "register1")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		TenderedCash: decimal.RequireFromString("20.00"),
		Items:        []domain.SaleItemRequest{{UPC: "030000512203", Qty: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var sale domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&sale); err != nil {
		t.Fatalf("decode sale response: %v", err)
	}
	if !sale.Total.Equal(decimal.RequireFromString("6.98")) {
		t.Fatalf("total = %s, want 6.98", sale.Total)
	}
	if !sale.Change.Equal(decimal.RequireFromString("13.02")) {
		t.Fatalf("change = %s, want 13.02", sale.Change)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/receipts/1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var got domain.ReceiptResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode receipt response: %v", err)
	}
	if got.Receipt.ReceiptNo != sale.ReceiptNo || len(got.Receipt.Lines) != 1 {
		t.Fatalf("unexpected receipt: %+v", got.Receipt)
	}
}

func TestSaleErrorStatuses(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "register1")

	// Tender one cent short of the 10.00 total.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		TenderedCash: decimal.RequireFromString("9.99"),
		Items:        []domain.SaleItemRequest{{UPC: "041196910759", Qty: 2}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("short tender: expected 422, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		TenderedCash: decimal.RequireFromString("50.00"),
		Items:        []domain.SaleItemRequest{{UPC: "000000000000", Qty: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown upc: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		TenderedCash: decimal.RequireFromString("50.00"),
		Items:        []domain.SaleItemRequest{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty cart: expected 400, got %d", rec.Code)
	}
}

func TestReceiptNotFound(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "register1")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/receipts/424242", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/receipts/abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric receipt no, got %d", rec.Code)
	}
}

func TestReturnsAreManagerOnly(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "register1")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, domain.SaleRequest{
		TenderedCash: decimal.RequireFromString("20.00"),
		Items:        []domain.SaleItemRequest{{UPC: "030000512203", Qty: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/returns/full", cashier, domain.FullReturnRequest{ReceiptNo: 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier full return: expected 403, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/returns/partial", cashier, domain.PartialReturnRequest{ReceiptNo: 1, UPC: "030000512203", Qty: 1})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier partial return: expected 403, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/reorder", cashier, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier reorder report: expected 403, got %d", rec.Code)
	}
}

func TestFullReturnFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "register1")
	manager := login(t, handler, "manager", "opensesame")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, domain.SaleRequest{
		TenderedCash: decimal.RequireFromString("20.00"),
		Items:        []domain.SaleItemRequest{{UPC: "030000512203", Qty: 3}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/returns/full", manager, domain.FullReturnRequest{ReceiptNo: sale.ReceiptNo})
	if rec.Code != http.StatusOK {
		t.Fatalf("full return: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var ret domain.ReturnResponse
	if err := json.NewDecoder(rec.Body).Decode(&ret); err != nil {
		t.Fatalf("decode return: %v", err)
	}
	if !ret.Canceled || ret.RestockedQty != 3 {
		t.Fatalf("unexpected return response: %+v", ret)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/returns/full", manager, domain.FullReturnRequest{ReceiptNo: sale.ReceiptNo})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second full return: expected 409, got %d", rec.Code)
	}
}

func TestPartialReturnFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	cashier := login(t, handler, "cashier", "register1")
	manager := login(t, handler, "manager", "opensesame")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, domain.SaleRequest{
		TenderedCash: decimal.RequireFromString("30.00"),
		Items:        []domain.SaleItemRequest{{UPC: "041196910759", Qty: 5}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale failed: %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/returns/partial", manager, domain.PartialReturnRequest{
		ReceiptNo: 1, UPC: "041196910759", Qty: 6,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("over-quantity: expected 422, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/returns/partial", manager, domain.PartialReturnRequest{
		ReceiptNo: 1, UPC: "041196910759", Qty: 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("partial return: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var ret domain.ReturnResponse
	if err := json.NewDecoder(rec.Body).Decode(&ret); err != nil {
		t.Fatalf("decode return: %v", err)
	}
	if ret.Canceled || ret.RestockedQty != 2 || !ret.RefundAmount.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("unexpected return response: %+v", ret)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	handler := newTestAPI(t).Handler()
	body, _ := json.Marshal(domain.LoginRequest{Username: "cashier", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i < 5 && rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, rec.Code)
		}
		if i == 5 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", rec.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "register1")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales", token, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
