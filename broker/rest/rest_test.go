package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnaeon/go-vcr/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/types"
)

func TestConnect_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ping", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL, APIKey: "test"})
	require.NoError(t, a.Connect(context.Background()))
}

func TestConnect_FailureWraps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL})
	err := a.Connect(context.Background())
	assert.ErrorIs(t, err, broker.ErrConnectionFailed)
}

func TestPlaceOrder_SuccessRoundTrips(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		var body wirePlaceOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BUY", body.Side)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireOrderResponse{
			BrokerOrderID: "bo-1", Status: "PENDING",
		})
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL})
	resp, err := a.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "XAUUSD", Side: types.SideBuy, Type: types.OrderTypeMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, "bo-1", resp.BrokerOrderID)
	assert.Equal(t, types.OrderStatusPending, resp.Status)
}

func TestPlaceOrder_ServerErrorIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL})
	resp, err := a.PlaceOrder(context.Background(), broker.OrderRequest{Symbol: "XAUUSD", Side: types.SideBuy})
	assert.ErrorIs(t, err, broker.ErrOrderRejected)
	assert.Equal(t, types.OrderStatusRejected, resp.Status)
}

func TestCancelOrder_409IsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL})
	err := a.CancelOrder(context.Background(), "bo-1")
	assert.ErrorIs(t, err, broker.ErrOrderTerminal)
}

func TestGetOrderStatus_404IsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL})
	_, err := a.GetOrderStatus(context.Background(), "bo-1")
	assert.ErrorIs(t, err, broker.ErrOrderNotFound)
}

// TestValidateAccount_Recorded replays a cassette of a validate_account
// exchange against the adapter's resty transport, grounded on
// tgeconf-nof0's client_recorded_test.go skip-if-missing pattern. It
// skips when the cassette hasn't been recorded rather than failing the
// suite, since this adapter has no real venue to record against.
func TestValidateAccount_Recorded(t *testing.T) {
	cassette := filepath.Join("testdata", "cassettes", "validate_account.yaml")
	if _, err := os.Stat(cassette); os.IsNotExist(err) {
		t.Skipf("cassette missing: %s", cassette)
	}

	r, err := recorder.New(cassette)
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()

	a := New(Config{BaseURL: "http://rest-adapter.test"})
	a.client.SetTransport(r)

	snapshot, err := a.ValidateAccount(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snapshot.AccountID)
}
