// Package paper implements an in-process paper-trading broker adapter:
// the reference implementation every other adapter must behave
// equivalently to under test. It simulates slippage, spread, partial
// fills and rejection against a seeded source of randomness, with
// three configurable fill_rule modes.
package paper

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execengine/broker"
	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/types"
)

// orderState tracks a single placed order's lifecycle inside the
// simulator.
type orderState struct {
	req        broker.OrderRequest
	status     types.OrderStatus
	filledSize decimal.Decimal
}

// pendingFill is an order waiting on NEXT_CANDLE_OPEN before it dispatches.
type pendingFill struct {
	brokerOrderID string
	req           broker.OrderRequest
}

// Adapter is the PAPER broker.Broker implementation.
type Adapter struct {
	cfg config.PaperAdapterConfig

	mu          sync.Mutex
	connected   bool
	rnd         *rand.Rand
	basePrices  map[string]decimal.Decimal
	balance     decimal.Decimal
	orders      map[string]*orderState
	sinks       []broker.Sink
	pending     []pendingFill
}

// New constructs a paper adapter. rnd may be nil, in which case a
// time-seeded source is used; tests pass a seeded *rand.Rand for
// deterministic fill prices.
func New(cfg config.PaperAdapterConfig, startingBalance decimal.Decimal, rnd *rand.Rand) *Adapter {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Adapter{
		cfg:        cfg,
		rnd:        rnd,
		basePrices: make(map[string]decimal.Decimal),
		balance:    startingBalance,
		orders:     make(map[string]*orderState),
	}
}

// SetBasePrice seeds the mock mid-price an order's spread/slippage is
// computed against.
func (a *Adapter) SetBasePrice(symbol string, price decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.basePrices[symbol] = price
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	already := a.connected
	a.mu.Unlock()
	if already {
		return nil
	}
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	log.Info().Msg("paper adapter: connected")
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	log.Info().Msg("paper adapter: disconnected")
	return nil
}

func (a *Adapter) ValidateAccount(ctx context.Context) (broker.AccountSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return broker.AccountSnapshot{}, broker.ErrNotConnected
	}
	return broker.AccountSnapshot{
		AccountID:   "PAPER-1",
		Balance:     a.balance,
		Equity:      a.balance,
		Margin:      decimal.Zero,
		FreeMargin:  a.balance,
		MarginLevel: decimal.NewFromInt(100),
	}, nil
}

// PlaceOrder implements the paper adapter's fill simulation: rolls a
// rejection, then derives an adverse fill price (spread +
// uniform slippage), optionally partial-fills, and dispatches the
// resulting execution report on the subscribed sinks according to the
// configured fill_rule.
func (a *Adapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return broker.OrderResponse{}, broker.ErrNotConnected
	}
	rejected := a.rnd.Float64() < a.cfg.RejectionRate
	brokerOrderID := uuid.NewString()
	now := time.Now().UTC()

	if rejected {
		a.orders[brokerOrderID] = &orderState{req: req, status: types.OrderStatusRejected}
		a.mu.Unlock()
		log.Warn().Str("broker_order_id", brokerOrderID).Msg("paper adapter: order rejected")
		return broker.OrderResponse{
			BrokerOrderID: brokerOrderID,
			Status:        types.OrderStatusRejected,
			Timestamp:     now,
		}, broker.ErrOrderRejected
	}

	a.orders[brokerOrderID] = &orderState{req: req, status: types.OrderStatusPending}
	a.mu.Unlock()

	go a.simulateFill(ctx, brokerOrderID, req)

	return broker.OrderResponse{
		BrokerOrderID: brokerOrderID,
		Status:        types.OrderStatusPending,
		Timestamp:     now,
	}, nil
}

func (a *Adapter) simulateFill(ctx context.Context, brokerOrderID string, req broker.OrderRequest) {
	select {
	case <-time.After(time.Duration(a.cfg.LatencyMS) * time.Millisecond):
	case <-ctx.Done():
		return
	}

	switch a.cfg.FillRule {
	case "NEXT_CANDLE_OPEN":
		a.mu.Lock()
		a.pending = append(a.pending, pendingFill{brokerOrderID: brokerOrderID, req: req})
		a.mu.Unlock()
		return
	case "REALISTIC_DELAY":
		delay := a.logNormalDelay()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	a.dispatchFill(brokerOrderID, req, a.basePriceFor(req.Symbol))
}

// AdvanceCandle supplies the next candle's open price, dispatching any
// order queued under NEXT_CANDLE_OPEN against it.
func (a *Adapter) AdvanceCandle(price decimal.Decimal) {
	a.mu.Lock()
	queued := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, p := range queued {
		a.dispatchFill(p.brokerOrderID, p.req, price)
	}
}

func (a *Adapter) logNormalDelay() time.Duration {
	base := float64(a.cfg.LatencyMS)
	if base <= 0 {
		base = 1
	}
	sample := math.Exp(a.rnd.NormFloat64()*0.5) * base
	return time.Duration(sample) * time.Millisecond
}

func (a *Adapter) basePriceFor(symbol string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.basePrices[symbol]; ok {
		return p
	}
	return decimal.NewFromInt(1)
}

// dispatchFill computes the adverse fill price/size and emits the
// resulting execution report(s) on every subscribed sink.
func (a *Adapter) dispatchFill(brokerOrderID string, req broker.OrderRequest, basePrice decimal.Decimal) {
	fillPrice := a.adversePrice(req.Side, basePrice)
	slippage := fillPrice.Sub(basePrice).Abs()

	fillSize := req.Size
	partial := a.cfg.PartialFillsEnabled && a.rnd.Float64() < 0.3
	if partial {
		frac := 0.5 + a.rnd.Float64()*0.5 // [0.5, 1.0)
		fillSize = req.Size.Mul(decimal.NewFromFloat(frac)).Round(2)
		if fillSize.LessThanOrEqual(decimal.Zero) {
			fillSize = req.Size
			partial = false
		}
	}

	a.mu.Lock()
	state, ok := a.orders[brokerOrderID]
	if !ok {
		a.mu.Unlock()
		return
	}
	state.filledSize = state.filledSize.Add(fillSize)
	remaining := req.Size.Sub(state.filledSize)
	if remaining.LessThanOrEqual(decimal.Zero) || !partial {
		state.status = types.OrderStatusFilled
	} else {
		state.status = types.OrderStatusPartiallyFilled
	}
	sinks := append([]broker.Sink(nil), a.sinks...)
	a.mu.Unlock()

	report := broker.ExecutionReport{
		ExecutionID:   uuid.NewString(),
		BrokerOrderID: brokerOrderID,
		FilledPrice:   fillPrice.Round(5),
		FilledSize:    fillSize.Round(2),
		Slippage:      slippage.Round(5),
		Timestamp:     time.Now().UTC(),
	}

	for _, sink := range sinks {
		select {
		case sink <- report:
		default:
			log.Warn().Str("broker_order_id", brokerOrderID).Msg("paper adapter: execution sink full, dropping report")
		}
	}

	if state.status == types.OrderStatusPartiallyFilled {
		go func() {
			select {
			case <-time.After(time.Duration(a.cfg.LatencyMS) * time.Millisecond):
			}
			remReq := req
			remReq.Size = remaining
			a.dispatchFill(brokerOrderID, remReq, basePrice)
		}()
	}
}

// adversePrice derives a fill price from basePrice plus spread and
// uniform slippage, both applied against the trader: BUY pays the
// (higher) ask, SELL receives the (lower) bid.
func (a *Adapter) adversePrice(side types.Side, basePrice decimal.Decimal) decimal.Decimal {
	price := basePrice

	if a.cfg.SpreadSimulation {
		halfSpread := basePrice.Mul(decimal.NewFromInt(int64(a.cfg.SpreadBps))).Div(decimal.NewFromInt(20000))
		if side == types.SideBuy {
			price = price.Add(halfSpread)
		} else {
			price = price.Sub(halfSpread)
		}
	}

	if a.cfg.SlippageEnabled && a.cfg.MaxSlippageBps > 0 {
		maxSlip := basePrice.Mul(decimal.NewFromInt(int64(a.cfg.MaxSlippageBps))).Div(decimal.NewFromInt(10000))
		slip := maxSlip.Mul(decimal.NewFromFloat(a.rnd.Float64()))
		if side == types.SideBuy {
			price = price.Add(slip)
		} else {
			price = price.Sub(slip)
		}
	}

	return price
}

func (a *Adapter) CancelOrder(ctx context.Context, brokerOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.orders[brokerOrderID]
	if !ok {
		return broker.ErrOrderNotFound
	}
	if state.status.Terminal() {
		return broker.ErrOrderTerminal
	}
	state.status = types.OrderStatusCancelled
	return nil
}

func (a *Adapter) GetOrderStatus(ctx context.Context, brokerOrderID string) (types.OrderStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, ok := a.orders[brokerOrderID]
	if !ok {
		return "", broker.ErrOrderNotFound
	}
	return state.status, nil
}

func (a *Adapter) GetOpenPositions(ctx context.Context) ([]broker.OpenPosition, error) {
	return nil, nil
}

func (a *Adapter) ClosePosition(ctx context.Context, brokerPositionID string) error {
	return nil
}

func (a *Adapter) SubscribeExecutions(ctx context.Context, sink broker.Sink) {
	a.mu.Lock()
	a.sinks = append(a.sinks, sink)
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, s := range a.sinks {
			if s == sink {
				a.sinks = append(a.sinks[:i], a.sinks[i+1:]...)
				break
			}
		}
	}()
}

var _ broker.Broker = (*Adapter)(nil)
