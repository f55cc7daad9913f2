package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

func TestClient_Verify(t *testing.T) {
	t.Run("decodes a successful transaction", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", r.Method)
			}
			if r.URL.Path != "/transaction/verify/order_1_1700000000000" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer sk_test" {
				t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{
				"id": 4099260516,
				"status": "success",
				"reference": "order_1_1700000000000",
				"amount": 10000,
				"currency": "GHS",
				"paid_at": "2026-05-04T10:00:00Z",
				"customer": {"email": "ama@example.com"}
			}}`))
		}))
		defer server.Close()

		tx, err := NewClient(server.URL, "sk_test", server.Client()).Verify(context.Background(), "order_1_1700000000000")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !tx.Successful() || tx.AmountMinor != 10000 || tx.ID != 4099260516 {
			t.Errorf("unexpected transaction %+v", tx)
		}
		if tx.CustomerEmail != "ama@example.com" || tx.Currency != "GHS" {
			t.Errorf("unexpected customer fields %+v", tx)
		}
		if tx.PaidAt == nil || !tx.PaidAt.Equal(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected paid_at %v", tx.PaidAt)
		}
		if !json.Valid(tx.Raw) {
			t.Error("expected raw data to be kept")
		}
	})

	t.Run("unknown reference is a rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL, "sk", server.Client()).Verify(context.Background(), "nope")
		if !errors.Is(err, ErrRejected) || !errors.Is(err, domain.ErrPaymentFailed) {
			t.Fatalf("expected ErrRejected, got %v", err)
		}
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Error("rejection must not look like an outage")
		}
	})

	t.Run("5xx is unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := NewClient(server.URL, "sk", server.Client()).Verify(context.Background(), "ref")
		if !errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrGatewayTimeout) {
			t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
		}
	})

	t.Run("bad credentials are unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":false,"message":"Invalid key"}`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL, "sk", server.Client()).Verify(context.Background(), "ref")
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
		}
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := NewClient(server.URL, "sk", server.Client()).Verify(ctx, "ref")
		if !errors.Is(err, domain.ErrGatewayTimeout) {
			t.Fatalf("expected ErrGatewayTimeout, got %v", err)
		}
	})

	t.Run("unreachable gateway is unavailable", func(t *testing.T) {
		_, err := NewClient("http://127.0.0.1:1", "sk", &http.Client{}).Verify(context.Background(), "ref")
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
		}
	})
}

func TestClient_Initialize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transaction/initialize" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %s", r.Header.Get("Content-Type"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["amount"].(float64) != 5600 || body["reference"] != "order_o1_1" || body["email"] != "ama@example.com" {
			t.Errorf("unexpected body %v", body)
		}
		if body["callback_url"] != "https://shop.example/order/o1" {
			t.Errorf("unexpected callback %v", body["callback_url"])
		}
		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{
			"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"order_o1_1"}}`))
	}))
	defer server.Close()

	res, err := NewClient(server.URL, "sk", server.Client()).Initialize(context.Background(), InitializeRequest{
		Email:       "ama@example.com",
		AmountMinor: 5600,
		Reference:   "order_o1_1",
		CallbackURL: "https://shop.example/order/o1",
		Metadata:    map[string]string{"order_id": "o1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AuthorizationURL != "https://checkout.paystack.com/abc" || res.Reference != "order_o1_1" {
		t.Errorf("unexpected result %+v", res)
	}
}
