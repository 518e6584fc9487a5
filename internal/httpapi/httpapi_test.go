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

	"retailcore/backoffice/internal/domain"
	"retailcore/backoffice/internal/service"
	"retailcore/backoffice/internal/store/memory"
	"retailcore/backoffice/internal/tax"
)

func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestAPI(t *testing.T) (*API, *AuthManager) {
	t.Helper()
	repo := memory.New()
	seedUser(t, repo, "admin", "admin-password", "admin", true)
	seedUser(t, repo, "manager", "manager-password", "manager", true)
	seedUser(t, repo, "cashier", "cashier-password", "cashier", true)

	svc := service.New(repo, tax.FlatRate{}, nil, nil, service.Options{})
	auth := NewAuthManager(testSecret, time.Hour, repo)
	return New(svc, auth, ""), auth
}

func tokenFor(t *testing.T, auth *AuthManager, username, password string) string {
	t.Helper()
	resp, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: username, Password: password,
	})
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return resp.AccessToken
}

func doRequest(handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doRequest(api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rec := doRequest(handler, http.MethodPost, "/api/v1/auth/login", "",
		domain.LoginRequest{Username: "manager", Password: "manager-password"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected an access token")
	}

	rec = doRequest(handler, http.MethodPost, "/api/v1/auth/login", "",
		domain.LoginRequest{Username: "manager", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", rec.Code)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doRequest(api.Handler(), http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = doRequest(api.Handler(), http.MethodGet, "/api/v1/products", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestRoleGates(t *testing.T) {
	api, auth := newTestAPI(t)
	handler := api.Handler()
	cashier := tokenFor(t, auth, "cashier", "cashier-password")
	manager := tokenFor(t, auth, "manager", "manager-password")
	admin := tokenFor(t, auth, "admin", "admin-password")

	// Cashiers can read the catalog but not write it.
	if rec := doRequest(handler, http.MethodGet, "/api/v1/products", cashier, nil); rec.Code != http.StatusOK {
		t.Fatalf("cashier list products: expected 200, got %d", rec.Code)
	}
	if rec := doRequest(handler, http.MethodPost, "/api/v1/products", cashier,
		domain.Product{SKU: "X1", Name: "X", BasePrice: mustDec("1.00")}); rec.Code != http.StatusForbidden {
		t.Fatalf("cashier create product: expected 403, got %d", rec.Code)
	}
	if rec := doRequest(handler, http.MethodPost, "/api/v1/products", manager,
		domain.Product{SKU: "X1", Name: "X", BasePrice: mustDec("1.00")}); rec.Code != http.StatusCreated {
		t.Fatalf("manager create product: expected 201, got %d: %s", rec.Code, rec.Body)
	}

	// Purchasing is off limits for cashiers entirely.
	if rec := doRequest(handler, http.MethodGet, "/api/v1/purchase-orders", cashier, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("cashier list purchase orders: expected 403, got %d", rec.Code)
	}

	// Audit logs are admin only.
	if rec := doRequest(handler, http.MethodGet, "/api/v1/audit-logs", manager, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("manager audit logs: expected 403, got %d", rec.Code)
	}
	if rec := doRequest(handler, http.MethodGet, "/api/v1/audit-logs", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("admin audit logs: expected 200, got %d", rec.Code)
	}
}

func TestServiceErrorsMapToStatusCodes(t *testing.T) {
	api, auth := newTestAPI(t)
	handler := api.Handler()
	manager := tokenFor(t, auth, "manager", "manager-password")

	// NotFound -> 404.
	if rec := doRequest(handler, http.MethodGet, "/api/v1/products/missing", manager, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	// Validation -> 400.
	if rec := doRequest(handler, http.MethodPost, "/api/v1/checkout", manager,
		domain.CheckoutRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty checkout, got %d", rec.Code)
	}
	// InvalidState -> 409. Closing a session twice trips it.
	session := startSessionViaAPI(t, handler, manager)
	closeBody := domain.EndSessionRequest{EndingCash: mustDec("10.00")}
	if rec := doRequest(handler, http.MethodPost, "/api/v1/sessions/"+session.ID+"/close", manager, closeBody); rec.Code != http.StatusOK {
		t.Fatalf("close session: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if rec := doRequest(handler, http.MethodPost, "/api/v1/sessions/"+session.ID+"/close", manager, closeBody); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 closing twice, got %d", rec.Code)
	}
}

func startSessionViaAPI(t *testing.T, handler http.Handler, token string) domain.PosSession {
	t.Helper()
	rec := doRequest(handler, http.MethodPost, "/api/v1/locations", token, domain.Location{Name: "Till Test"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create location: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var location domain.Location
	if err := json.Unmarshal(rec.Body.Bytes(), &location); err != nil {
		t.Fatalf("decode location: %v", err)
	}

	rec = doRequest(handler, http.MethodPost, "/api/v1/sessions", token, domain.StartSessionRequest{
		LocationID: location.ID, TerminalID: "till-1", StartingCash: mustDec("10.00"),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start session: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var session domain.PosSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session
}
