package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cafepass/ledger/internal/checkout"
	"github.com/cafepass/ledger/internal/credential"
	"github.com/cafepass/ledger/internal/ledger"
	"github.com/cafepass/ledger/internal/storage/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.NewStore()
	svc := ledger.NewService(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	registry := credential.NewRegistry(store, store)
	pos := checkout.NewAdapter(registry, svc)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := NewHandlers(logger, store, svc, registry, pos)
	server := httptest.NewServer(NewRouter(logger, handlers))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

func createAccount(t *testing.T, server *httptest.Server, name string) string {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, server.URL+"/accounts", map[string]any{
		"display_name": name,
		"phone":        "+919876543210",
		"role":         "employee",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create account: status %d (%v)", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create account: missing id in %v", body)
	}
	return id
}

func TestAccountLifecycle(t *testing.T) {
	server := newTestServer(t)
	id := createAccount(t, server, "Jane Doe")

	resp, body := doJSON(t, http.MethodGet, server.URL+"/accounts/"+id, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get account: status %d", resp.StatusCode)
	}
	if body["display_name"] != "Jane Doe" {
		t.Errorf("display_name = %v", body["display_name"])
	}
	if body["balance"] != "0" {
		t.Errorf("new account balance = %v, want 0", body["balance"])
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/accounts/does-not-exist", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown account: status %d, want 404", resp.StatusCode)
	}
}

func TestCreditDebitAndHistory(t *testing.T) {
	server := newTestServer(t)
	id := createAccount(t, server, "Jane Doe")

	resp, body := doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/credit", map[string]any{
		"amount":      "500.00",
		"description": "opening credit",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("credit: status %d (%v)", resp.StatusCode, body)
	}
	if body["kind"] != "credit" {
		t.Errorf("kind = %v", body["kind"])
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/debit", map[string]any{
		"amount":      "300.00",
		"description": "order #1",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("debit: status %d (%v)", resp.StatusCode, body)
	}

	// A debit beyond the balance reports 422 and the current balance.
	resp, body = doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/debit", map[string]any{
		"amount": "250.00",
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("over-debit: status %d, want 422", resp.StatusCode)
	}
	if got := fmt.Sprintf("%v", body["balance"]); got != "200" {
		t.Errorf("reported balance = %v, want 200", body["balance"])
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/accounts/"+id, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get account: status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/accounts/"+id+"/transactions", nil)
	histResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer histResp.Body.Close()
	var history []map[string]any
	if err := json.NewDecoder(histResp.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(history))
	}
	if history[0]["kind"] != "debit" || history[1]["kind"] != "credit" {
		t.Errorf("history not newest first: %v, %v", history[0]["kind"], history[1]["kind"])
	}
}

func TestIdempotencyKeyReplay(t *testing.T) {
	server := newTestServer(t)
	id := createAccount(t, server, "Jane Doe")

	if resp, body := doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/credit", map[string]any{"amount": "100.00"}, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("credit: status %d (%v)", resp.StatusCode, body)
	}

	headers := map[string]string{"Idempotency-Key": "debit-1"}
	payload := map[string]any{"amount": "60.00", "description": "order"}

	resp, first := doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/debit", payload, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first debit: status %d", resp.StatusCode)
	}

	resp, second := doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/debit", payload, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replayed debit: status %d, want 200", resp.StatusCode)
	}
	if first["id"] != second["id"] {
		t.Errorf("replay returned a different transaction: %v vs %v", first["id"], second["id"])
	}

	resp, account := doJSON(t, http.MethodGet, server.URL+"/accounts/"+id, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get account: status %d", resp.StatusCode)
	}
	if account["balance"] != "40" {
		t.Errorf("balance = %v, want 40 (retry must not double-charge)", account["balance"])
	}
}

func TestCredentialAndCheckoutFlow(t *testing.T) {
	server := newTestServer(t)
	id := createAccount(t, server, "Jane Doe")

	if resp, body := doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/credit", map[string]any{"amount": "500.00"}, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("credit: status %d (%v)", resp.StatusCode, body)
	}

	resp, body := doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/credential", nil, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue credential: status %d (%v)", resp.StatusCode, body)
	}
	tag, _ := body["tag"].(string)
	if tag == "" {
		t.Fatal("issue credential: empty tag")
	}

	// Second issue without revoke conflicts.
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/credential", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second issue: status %d, want 409", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/checkout", map[string]any{
		"tag":         tag,
		"amount":      "273.00",
		"description": "2x Cappuccino, 1x Croissant",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout: status %d (%v)", resp.StatusCode, body)
	}
	if body["kind"] != "debit" {
		t.Errorf("checkout kind = %v, want debit", body["kind"])
	}

	resp, _ = doJSON(t, http.MethodDelete, server.URL+"/accounts/"+id+"/credential", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: status %d, want 204", resp.StatusCode)
	}

	// A revoked tag is rejected at the register.
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/checkout", map[string]any{
		"tag":    tag,
		"amount": "100.00",
	}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("checkout with revoked tag: status %d, want 404", resp.StatusCode)
	}
}

func TestCheckoutInsufficientBalanceShowsBalance(t *testing.T) {
	server := newTestServer(t)
	id := createAccount(t, server, "Jane Doe")

	if resp, body := doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/credit", map[string]any{"amount": "50.00"}, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("credit: status %d (%v)", resp.StatusCode, body)
	}
	resp, body := doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/credential", nil, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue: status %d", resp.StatusCode)
	}
	tag := body["tag"].(string)

	resp, body = doJSON(t, http.MethodPost, server.URL+"/checkout", map[string]any{
		"tag":    tag,
		"amount": "120.00",
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("checkout: status %d, want 422", resp.StatusCode)
	}
	if body["balance"] != "50" {
		t.Errorf("reported balance = %v, want 50", body["balance"])
	}
}

func TestInvalidAmountRejected(t *testing.T) {
	server := newTestServer(t)
	id := createAccount(t, server, "Jane Doe")

	for _, amount := range []string{"0", "-10.00", "1.999"} {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/accounts/"+id+"/credit", map[string]any{"amount": amount}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("credit %s: status %d, want 400", amount, resp.StatusCode)
		}
	}
}

func TestListAccounts(t *testing.T) {
	server := newTestServer(t)
	createAccount(t, server, "Jane Doe")
	createAccount(t, server, "Bala Iyer")

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/accounts?q=bala", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()

	var accounts []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(accounts) != 1 || accounts[0]["display_name"] != "Bala Iyer" {
		t.Errorf("unexpected search result: %v", accounts)
	}
}
