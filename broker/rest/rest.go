// Package rest implements a generic REST broker adapter for the
// "REST" execution mode. It is not wired to any real venue's
// credentials: it speaks a configurable JSON-over-HTTP contract via
// go-resty and streams execution reports over a gorilla/websocket
// connection. Tests drive it against an httptest.Server and, for one
// scenario, a go-vcr cassette replay that is skipped when the cassette
// file is absent.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/errs"
	"github.com/web3guy0/execengine/retry"
	"github.com/web3guy0/execengine/types"
)

// Config configures the generic REST adapter's endpoint.
type Config struct {
	BaseURL      string
	WebsocketURL string // optional; empty disables the execution-report stream
	APIKey       string
	Timeout      time.Duration
	Retry        config.RetryConfig
	Breaker      config.CircuitBreakerConfig
}

// Adapter is the REST broker.Broker implementation.
type Adapter struct {
	cfg      Config
	client   *resty.Client
	breakers *retry.Manager

	mu        sync.Mutex
	connected bool
	wsConn    *websocket.Conn
}

func New(cfg Config) *Adapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey)
	return &Adapter{cfg: cfg, client: client, breakers: retry.NewManager(cfg.Breaker)}
}

func (a *Adapter) runner(endpoint string) *retry.Runner {
	return retry.NewRunner(a.cfg.Retry, a.breakers.Get(endpoint))
}

// httpError classifies an HTTP failure into the ErrorKind
// retry.Classify dispatches on, so 429s back off as RATE_LIMIT and
// 5xx as NETWORK instead of every failure landing in the same bucket.
func httpError(message string, statusCode int, cause error) error {
	kind := types.ErrorKindSystem
	switch {
	case statusCode == 429:
		kind = types.ErrorKindRateLimit
	case statusCode >= 500:
		kind = types.ErrorKindNetwork
	case statusCode == 0:
		kind = types.ErrorKindTimeout
	}
	return errs.Wrap(kind, message, cause)
}

// wirePlaceOrderRequest/Response mirror the OrderRequest/OrderResponse
// wire contract as JSON.
type wirePlaceOrderRequest struct {
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"`
	Size   decimal.Decimal `json:"size"`
	Type   string          `json:"type"`
	Price  decimal.Decimal `json:"price,omitempty"`
	SL     decimal.Decimal `json:"stop_loss,omitempty"`
	TP     decimal.Decimal `json:"take_profit,omitempty"`
}

type wireOrderResponse struct {
	BrokerOrderID string          `json:"broker_order_id"`
	Status        string          `json:"status"`
	FilledPrice   decimal.Decimal `json:"filled_price"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	Timestamp     time.Time       `json:"timestamp"`
}

type wireAccount struct {
	AccountID   string          `json:"account_id"`
	Balance     decimal.Decimal `json:"balance"`
	Equity      decimal.Decimal `json:"equity"`
	Margin      decimal.Decimal `json:"margin"`
	FreeMargin  decimal.Decimal `json:"free_margin"`
	MarginLevel decimal.Decimal `json:"margin_level"`
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}
	_, err := a.runner("rest.connect").Do(ctx, "rest.connect", func(ctx context.Context) (interface{}, error) {
		resp, err := a.client.R().SetContext(ctx).Get("/v1/ping")
		if err != nil {
			return nil, httpError("ping failed", 0, fmt.Errorf("%w: %v", broker.ErrConnectionFailed, err))
		}
		if resp.IsError() {
			return nil, httpError("ping failed", resp.StatusCode(), fmt.Errorf("%w: status %d", broker.ErrConnectionFailed, resp.StatusCode()))
		}
		return nil, nil
	}, nil)
	if err != nil {
		return err
	}
	a.connected = true
	log.Info().Str("base_url", a.cfg.BaseURL).Msg("rest adapter: connected")
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wsConn != nil {
		_ = a.wsConn.Close()
		a.wsConn = nil
	}
	a.connected = false
	return nil
}

func (a *Adapter) ValidateAccount(ctx context.Context) (broker.AccountSnapshot, error) {
	var wa wireAccount
	resp, err := a.client.R().SetContext(ctx).SetResult(&wa).Get("/v1/account")
	if err != nil {
		return broker.AccountSnapshot{}, fmt.Errorf("rest adapter: validate_account: %w", err)
	}
	if resp.IsError() {
		return broker.AccountSnapshot{}, fmt.Errorf("rest adapter: validate_account: status %d", resp.StatusCode())
	}
	return broker.AccountSnapshot{
		AccountID:   wa.AccountID,
		Balance:     wa.Balance,
		Equity:      wa.Equity,
		Margin:      wa.Margin,
		FreeMargin:  wa.FreeMargin,
		MarginLevel: wa.MarginLevel,
	}, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	body := wirePlaceOrderRequest{
		Symbol: req.Symbol,
		Side:   req.Side.String(),
		Size:   req.Size,
		Type:   req.Type.String(),
		Price:  req.Price,
		SL:     req.SL,
		TP:     req.TP,
	}

	rejected := false
	result, err := a.runner("rest.place_order").Do(ctx, "rest.place_order", func(ctx context.Context) (interface{}, error) {
		var wr wireOrderResponse
		resp, err := a.client.R().SetContext(ctx).SetBody(body).SetResult(&wr).Post("/v1/orders")
		if err != nil {
			return nil, httpError("place_order failed", 0, fmt.Errorf("rest adapter: place_order: %w", err))
		}
		if resp.IsError() {
			rejected = true
			return broker.OrderResponse{Status: types.OrderStatusRejected}, nil
		}
		return broker.OrderResponse{
			BrokerOrderID: wr.BrokerOrderID,
			Status:        types.OrderStatus(wr.Status),
			FilledPrice:   wr.FilledPrice,
			FilledSize:    wr.FilledSize,
			Timestamp:     wr.Timestamp,
		}, nil
	}, func(result interface{}) error {
		// An accepted (non-rejected) order response with no broker order
		// id is a shape violation, not a venue rejection: surface it as a
		// DATA_INTEGRITY error (not retried) instead of handing the caller
		// a half-formed response.
		resp := result.(broker.OrderResponse)
		if resp.Status != types.OrderStatusRejected && resp.BrokerOrderID == "" {
			return fmt.Errorf("rest adapter: place_order: missing broker_order_id")
		}
		return nil
	})
	if err != nil {
		return broker.OrderResponse{}, err
	}
	resp := result.(broker.OrderResponse)
	if rejected {
		return resp, broker.ErrOrderRejected
	}
	return resp, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, brokerOrderID string) error {
	resp, err := a.client.R().SetContext(ctx).Delete("/v1/orders/" + brokerOrderID)
	if err != nil {
		return fmt.Errorf("rest adapter: cancel_order: %w", err)
	}
	if resp.StatusCode() == 409 {
		return broker.ErrOrderTerminal
	}
	if resp.IsError() {
		return fmt.Errorf("rest adapter: cancel_order: status %d", resp.StatusCode())
	}
	return nil
}

func (a *Adapter) GetOrderStatus(ctx context.Context, brokerOrderID string) (types.OrderStatus, error) {
	var wr wireOrderResponse
	resp, err := a.client.R().SetContext(ctx).SetResult(&wr).Get("/v1/orders/" + brokerOrderID)
	if err != nil {
		return "", fmt.Errorf("rest adapter: get_order_status: %w", err)
	}
	if resp.StatusCode() == 404 {
		return "", broker.ErrOrderNotFound
	}
	return types.OrderStatus(wr.Status), nil
}

func (a *Adapter) GetOpenPositions(ctx context.Context) ([]broker.OpenPosition, error) {
	var positions []broker.OpenPosition
	resp, err := a.client.R().SetContext(ctx).SetResult(&positions).Get("/v1/positions")
	if err != nil {
		return nil, fmt.Errorf("rest adapter: get_open_positions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rest adapter: get_open_positions: status %d", resp.StatusCode())
	}
	return positions, nil
}

func (a *Adapter) ClosePosition(ctx context.Context, brokerPositionID string) error {
	resp, err := a.client.R().SetContext(ctx).Post("/v1/positions/" + brokerPositionID + "/close")
	if err != nil {
		return fmt.Errorf("rest adapter: close_position: %w", err)
	}
	if resp.StatusCode() == 404 {
		return broker.ErrPositionNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("rest adapter: close_position: status %d", resp.StatusCode())
	}
	return nil
}

// SubscribeExecutions opens a websocket to cfg.WebsocketURL (if set)
// and forwards decoded execution reports onto sink until ctx is done.
// When WebsocketURL is empty this is a no-op — the adapter is usable
// in tests without a live streaming endpoint.
func (a *Adapter) SubscribeExecutions(ctx context.Context, sink broker.Sink) {
	if a.cfg.WebsocketURL == "" {
		return
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.WebsocketURL, nil)
	if err != nil {
		log.Error().Err(err).Msg("rest adapter: execution stream dial failed")
		return
	}
	a.mu.Lock()
	a.wsConn = conn
	a.mu.Unlock()

	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Warn().Err(err).Msg("rest adapter: execution stream closed")
				return
			}
			var report struct {
				ExecutionID   string          `json:"execution_id"`
				BrokerOrderID string          `json:"broker_order_id"`
				TradeID       string          `json:"trade_id"`
				FilledPrice   decimal.Decimal `json:"filled_price"`
				FilledSize    decimal.Decimal `json:"filled_size"`
				Slippage      decimal.Decimal `json:"slippage"`
				Timestamp     time.Time       `json:"timestamp"`
			}
			if err := json.Unmarshal(data, &report); err != nil {
				log.Warn().Err(err).Msg("rest adapter: malformed execution report")
				continue
			}
			select {
			case sink <- broker.ExecutionReport{
				ExecutionID:   report.ExecutionID,
				BrokerOrderID: report.BrokerOrderID,
				TradeID:       report.TradeID,
				FilledPrice:   report.FilledPrice,
				FilledSize:    report.FilledSize,
				Slippage:      report.Slippage,
				Timestamp:     report.Timestamp,
			}:
			default:
				log.Warn().Msg("rest adapter: execution sink full, dropping report")
			}
		}
	}()
}

var _ broker.Broker = (*Adapter)(nil)
