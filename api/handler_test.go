package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"go-microbank/ledger"
	"go-microbank/models"
	"go-microbank/session"
	"go-microbank/store"
)

const testPassword = "Passw0rd!"

type brokenStore struct{}

func (brokenStore) Load(context.Context) (*store.Snapshot, error) { return &store.Snapshot{}, nil }
func (brokenStore) Apply(context.Context, *store.Changeset) error {
	return errors.New("disk unavailable")
}
func (brokenStore) Flush(context.Context, []models.Customer, []models.Account) error { return nil }
func (brokenStore) Close() error                                                     { return nil }

func setupRouter(t *testing.T, st store.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if st == nil {
		fs, err := store.NewFileStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		st = fs
	}
	bank, err := ledger.Open(context.Background(), st)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	router := gin.New()
	NewHandler(bank, session.NewIssuer("test-secret", time.Hour)).Register(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerCustomer(t *testing.T, router *gin.Engine, username, deposit string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/customers", "", gin.H{
		"username":       username,
		"password":       testPassword,
		"initialDeposit": deposit,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, w.Code, w.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func mainBalance(t *testing.T, router *gin.Engine, token string) string {
	t.Helper()
	w := doJSON(t, router, http.MethodGet, "/api/accounts", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list accounts: %d", w.Code)
	}
	var resp struct {
		Accounts []struct {
			Name    string `json:"name"`
			Balance string `json:"balance"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	for _, a := range resp.Accounts {
		if a.Name == models.MainAccountName {
			return a.Balance
		}
	}
	t.Fatal("no main account")
	return ""
}

func TestRegisterValidation(t *testing.T) {
	router := setupRouter(t, nil)
	registerCustomer(t, router, "alice1", "10")

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{
			name:           "short username",
			body:           gin.H{"username": "bob", "password": testPassword},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "weak password",
			body:           gin.H{"username": "bobby", "password": "password"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "negative deposit",
			body:           gin.H{"username": "bobby", "password": testPassword, "initialDeposit": "-5"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed amount",
			body:           gin.H{"username": "bobby", "password": testPassword, "initialDeposit": "lots"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "taken username",
			body:           gin.H{"username": "alice1", "password": testPassword},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "valid",
			body:           gin.H{"username": "bobby", "password": testPassword, "initialDeposit": "0"},
			expectedStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/customers", "", tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestLogin(t *testing.T) {
	router := setupRouter(t, nil)
	registerCustomer(t, router, "alice1", "10")

	w := doJSON(t, router, http.MethodPost, "/api/sessions", "", gin.H{"username": "alice1", "password": testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.CustomerID != 1 || resp.Token == "" {
		t.Errorf("unexpected session %+v", resp)
	}

	w = doJSON(t, router, http.MethodPost, "/api/sessions", "", gin.H{"username": "alice1", "password": "Wrong0ne!"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/api/sessions", "", gin.H{"username": "nobody", "password": testPassword})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: expected 401, got %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	router := setupRouter(t, nil)
	w := doJSON(t, router, http.MethodGet, "/api/accounts", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAccountsAndTransfers(t *testing.T) {
	router := setupRouter(t, nil)
	alice := registerCustomer(t, router, "alice1", "100")
	registerCustomer(t, router, "bobby", "0")

	tests := []struct {
		name           string
		method, path   string
		body           any
		expectedStatus int
	}{
		{name: "create savings", method: http.MethodPost, path: "/api/accounts", body: gin.H{"name": "savings"}, expectedStatus: http.StatusCreated},
		{name: "duplicate savings", method: http.MethodPost, path: "/api/accounts", body: gin.H{"name": "savings"}, expectedStatus: http.StatusConflict},
		{name: "bad account name", method: http.MethodPost, path: "/api/accounts", body: gin.H{"name": "a b"}, expectedStatus: http.StatusBadRequest},
		{name: "internal transfer", method: http.MethodPost, path: "/api/transfers/internal",
			body: gin.H{"fromAccount": "main", "toAccount": "savings", "amount": "30"}, expectedStatus: http.StatusCreated},
		{name: "overdraw", method: http.MethodPost, path: "/api/transfers/internal",
			body: gin.H{"fromAccount": "main", "toAccount": "savings", "amount": "70.01"}, expectedStatus: http.StatusUnprocessableEntity},
		{name: "zero amount", method: http.MethodPost, path: "/api/transfers/internal",
			body: gin.H{"fromAccount": "main", "toAccount": "savings", "amount": "0"}, expectedStatus: http.StatusBadRequest},
		{name: "external transfer", method: http.MethodPost, path: "/api/transfers/external",
			body: gin.H{"fromAccount": "main", "recipient": "bobby", "amount": "20"}, expectedStatus: http.StatusCreated},
		{name: "unknown recipient", method: http.MethodPost, path: "/api/transfers/external",
			body: gin.H{"fromAccount": "main", "recipient": "ghost", "amount": "20"}, expectedStatus: http.StatusNotFound},
		{name: "delete main", method: http.MethodDelete, path: "/api/accounts/main", expectedStatus: http.StatusForbidden},
		{name: "delete savings", method: http.MethodDelete, path: "/api/accounts/savings", expectedStatus: http.StatusOK},
		{name: "delete savings again", method: http.MethodDelete, path: "/api/accounts/savings", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, tt.method, tt.path, alice, tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}

	// 100 - 30 to savings - 20 to bobby + 30 swept back on delete
	if got := mainBalance(t, router, alice); got != "80.00" {
		t.Errorf("alice main = %s, want 80.00", got)
	}

	w := doJSON(t, router, http.MethodGet, "/api/transactions?type="+models.TxExternalTransfer, alice, nil)
	var txs struct {
		Transactions []models.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &txs); err != nil {
		t.Fatal(err)
	}
	if len(txs.Transactions) != 1 {
		t.Errorf("expected one external transfer, got %d", len(txs.Transactions))
	}
}

func TestMicroloanFlow(t *testing.T) {
	router := setupRouter(t, nil)
	lender := registerCustomer(t, router, "lender1", "150")
	borrower := registerCustomer(t, router, "borrower1", "10")

	w := doJSON(t, router, http.MethodPost, "/api/microloans/offers", lender, gin.H{"amount": "100", "interestRate": "0.05"})
	if w.Code != http.StatusCreated {
		t.Fatalf("post offer: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/microloans/offers/1/accept", lender, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("self-dealing: expected 403, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/microloans/offers/1/accept", borrower, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("accept offer: %d %s", w.Code, w.Body.String())
	}
	var loan LoanResponse
	if err := json.Unmarshal(w.Body.Bytes(), &loan); err != nil {
		t.Fatal(err)
	}
	if loan.ExpiresAt.Sub(loan.CreatedAt) != models.LoanTerm {
		t.Errorf("loan term = %v", loan.ExpiresAt.Sub(loan.CreatedAt))
	}

	if got := mainBalance(t, router, lender); got != "50.00" {
		t.Errorf("lender main = %s", got)
	}
	if got := mainBalance(t, router, borrower); got != "110.00" {
		t.Errorf("borrower main = %s", got)
	}

	w = doJSON(t, router, http.MethodPost, "/api/microloans/offers/1/accept", borrower, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("consumed offer: expected 404, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/microloans/requests", borrower, gin.H{"amount": "10", "interestRate": "0.6"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("rate 0.6: expected 400, got %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/api/microloans/requests", borrower, gin.H{"amount": "10", "interestRate": "0.2"})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit request: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, http.MethodPost, "/api/microloans/requests/1/fulfill", lender, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("fulfill request: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/microloans?role=loaner", lender, nil)
	var listing struct {
		Loans []LoanResponse `json:"loans"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Loans) != 2 {
		t.Errorf("expected lender to hold 2 loans, got %d", len(listing.Loans))
	}

	w = doJSON(t, router, http.MethodGet, "/api/microloans?role=guarantor", lender, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid role: expected 400, got %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/api/microloans/requests/abc/fulfill", lender, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", w.Code)
	}
}

func TestStoreFailureReturnsServiceUnavailable(t *testing.T) {
	router := setupRouter(t, brokenStore{})
	w := doJSON(t, router, http.MethodPost, "/api/customers", "", gin.H{"username": "alice1", "password": testPassword})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}
