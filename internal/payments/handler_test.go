package payments

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/shopflow/internal/auth"
	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/lock"
	"github.com/joao-fontenele/shopflow/internal/paystack"
	"github.com/joao-fontenele/shopflow/internal/store"
)

// newPaystackServer fakes the gateway API. Every verify succeeds for amount minor units.
func newPaystackServer(amount int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transaction/initialize":
			var body struct {
				Reference string `json:"reference"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data": map[string]any{
					"authorization_url": "https://checkout.paystack.com/xyz",
					"access_code":       "xyz",
					"reference":         body.Reference,
				},
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/transaction/verify/"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data": map[string]any{
					"id":        99,
					"status":    "success",
					"reference": strings.TrimPrefix(r.URL.Path, "/transaction/verify/"),
					"amount":    amount,
					"currency":  "GHS",
					"customer":  map[string]string{"email": "ama@example.com"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestMux(s *store.MemoryStore, gateway *httptest.Server) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := paystack.NewClient(gateway.URL, "sk_test", gateway.Client())
	h := NewHandler(s,
		NewReconciler(s, client, lock.NewLocal(), Config{}, logger),
		NewInitializer(s, client, InitializerConfig{FrontendURL: "https://shop.example"}, logger),
		logger,
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders/{id}/verify-payment", h.HandleVerify)
	mux.HandleFunc("GET /orders/{id}/payments", h.HandleList)
	mux.HandleFunc("GET /payments", h.HandleListAll)
	mux.HandleFunc("POST /payments/initialize", h.HandleInitialize)
	return auth.Middleware(mux)
}

func do(h http.Handler, method, path, body string, actor domain.Actor) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if actor.UserID != "" {
		req.Header.Set(auth.HeaderUserID, actor.UserID)
		req.Header.Set(auth.HeaderUserEmail, actor.Email)
	}
	if actor.Admin {
		req.Header.Set(auth.HeaderUserRole, auth.RoleAdmin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CheckoutFlow(t *testing.T) {
	server := newPaystackServer(10000)
	defer server.Close()

	s := store.NewMemoryStore()
	seedOrder(t, s, "o1", "100.00", domain.OrderStatusPendingPayment)
	mux := newTestMux(s, server)

	rec := do(mux, http.MethodPost, "/payments/initialize", `{"order_id":"o1"}`, owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var init InitializeResult
	if err := json.NewDecoder(rec.Body).Decode(&init); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !strings.HasPrefix(init.Reference, "order_o1_") || init.AuthorizationURL == "" {
		t.Fatalf("unexpected initialize result %+v", init)
	}

	rec = do(mux, http.MethodPost, "/orders/o1/verify-payment", `{"reference":"`+init.Reference+`"}`, owner)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if res.Status != domain.PaymentStatusSuccess || res.Order.Status != domain.OrderStatusConfirmed {
		t.Errorf("unexpected result %+v", res)
	}

	rec = do(mux, http.MethodPost, "/orders/o1/verify-payment", `{"reference":"`+init.Reference+`"}`, owner)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status 409 for a second verify, got %d", rec.Code)
	}

	rec = do(mux, http.MethodGet, "/orders/o1/payments", "", owner)
	var list []domain.Payment
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if rec.Code != http.StatusOK || len(list) != 1 || list[0].Status != domain.PaymentStatusSuccess {
		t.Errorf("expected one success payment, got %d %+v", rec.Code, list)
	}
}

func TestHandler_Errors(t *testing.T) {
	server := newPaystackServer(500)
	defer server.Close()

	s := store.NewMemoryStore()
	seedOrder(t, s, "o1", "100.00", domain.OrderStatusPendingPayment)
	mux := newTestMux(s, server)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		actor  domain.Actor
		want   int
	}{
		{"underpaid verdict", http.MethodPost, "/orders/o1/verify-payment", `{"reference":"r1"}`, owner, http.StatusBadRequest},
		{"missing reference", http.MethodPost, "/orders/o1/verify-payment", `{}`, owner, http.StatusBadRequest},
		{"unknown order", http.MethodPost, "/orders/nope/verify-payment", `{"reference":"r1"}`, owner, http.StatusNotFound},
		{"stranger", http.MethodPost, "/orders/o1/verify-payment", `{"reference":"r1"}`, stranger, http.StatusUnauthorized},
		{"malformed body", http.MethodPost, "/orders/o1/verify-payment", `{`, owner, http.StatusBadRequest},
		{"initialize without order", http.MethodPost, "/payments/initialize", `{}`, owner, http.StatusBadRequest},
		{"stranger lists payments", http.MethodGet, "/orders/o1/payments", "", stranger, http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(mux, tc.method, tc.path, tc.body, tc.actor)
			if rec.Code != tc.want {
				t.Errorf("expected status %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_ListAll(t *testing.T) {
	server := newPaystackServer(500)
	defer server.Close()

	s := store.NewMemoryStore()
	seedOrder(t, s, "o1", "100.00", domain.OrderStatusPendingPayment)
	seedOrder(t, s, "o2", "100.00", domain.OrderStatusPendingPayment)
	seedPayment(t, s, "o1", "order_o1_1", domain.PaymentStatusFailed)
	seedPayment(t, s, "o2", "order_o2_1", domain.PaymentStatusSuccess)
	mux := newTestMux(s, server)

	t.Run("admin sees every record", func(t *testing.T) {
		admin := domain.Actor{UserID: "u-admin", Email: "admin@example.com", Admin: true}
		rec := do(mux, http.MethodGet, "/payments", "", admin)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var list []domain.Payment
		if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		if len(list) != 2 || list[0].Reference != "order_o1_1" || list[0].Status != domain.PaymentStatusFailed {
			t.Errorf("unexpected payments %+v", list)
		}
	})

	for name, actor := range map[string]domain.Actor{"customer": owner, "anonymous": {}} {
		t.Run(name+" is rejected", func(t *testing.T) {
			if rec := do(mux, http.MethodGet, "/payments", "", actor); rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
		})
	}
}
