package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/web3guy0/execengine/types"
)

// Database wraps a *gorm.DB, selecting the sqlite or postgres driver
// by DSN prefix.
type Database struct {
	DB *gorm.DB
}

// New opens a connection and runs AutoMigrate for every model in
// AllModels(). A DSN beginning with "postgres://" or "postgresql://"
// selects the postgres driver; everything else (including ":memory:",
// used by tests) is treated as a sqlite file path.
func New(dsn string) (*Database, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dsn, err)
	}

	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("storage: automigrate: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("storage: connected")
	return &Database{DB: gdb}, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside a single gorm transaction, used by the
// closure service's multi-table atomic commit.
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}

// --- Signal -----------------------------------------------------------

func (d *Database) CreateSignal(ctx context.Context, s *Signal) error {
	return d.DB.WithContext(ctx).Create(s).Error
}

func (d *Database) GetSignal(ctx context.Context, id string) (*Signal, error) {
	var s Signal
	if err := d.DB.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// --- ExecutionTrade -----------------------------------------------------

func (d *Database) CreateTrade(ctx context.Context, t *ExecutionTrade) error {
	return d.DB.WithContext(ctx).Create(t).Error
}

func (d *Database) GetTrade(ctx context.Context, id string) (*ExecutionTrade, error) {
	var t ExecutionTrade
	if err := d.DB.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTradeBySignal supports idempotent signal dispatch: a second
// process_signal(S) call finds the existing
// trade instead of creating a duplicate.
func (d *Database) GetTradeBySignal(ctx context.Context, signalID string) (*ExecutionTrade, error) {
	var t ExecutionTrade
	err := d.DB.WithContext(ctx).First(&t, "signal_id = ?", signalID).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *Database) UpdateTrade(ctx context.Context, t *ExecutionTrade) error {
	t.UpdatedAt = time.Now().UTC()
	return d.DB.WithContext(ctx).Save(t).Error
}

func (d *Database) ListOpenTrades(ctx context.Context) ([]ExecutionTrade, error) {
	var trades []ExecutionTrade
	err := d.DB.WithContext(ctx).Where("status != ?", types.TradeStatusClosed).Find(&trades).Error
	return trades, err
}

// --- ExecutionOrder -----------------------------------------------------

func (d *Database) CreateOrder(ctx context.Context, o *ExecutionOrder) error {
	return d.DB.WithContext(ctx).Create(o).Error
}

func (d *Database) GetOrder(ctx context.Context, id string) (*ExecutionOrder, error) {
	var o ExecutionOrder
	if err := d.DB.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (d *Database) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (*ExecutionOrder, error) {
	var o ExecutionOrder
	err := d.DB.WithContext(ctx).First(&o, "broker_order_id = ?", brokerOrderID).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (d *Database) UpdateOrder(ctx context.Context, o *ExecutionOrder) error {
	o.UpdatedAt = time.Now().UTC()
	return d.DB.WithContext(ctx).Save(o).Error
}

func (d *Database) ListOrdersForTrade(ctx context.Context, tradeID string) ([]ExecutionOrder, error) {
	var orders []ExecutionOrder
	err := d.DB.WithContext(ctx).Where("trade_id = ?", tradeID).Find(&orders).Error
	return orders, err
}

// --- Execution -----------------------------------------------------

func (d *Database) CreateExecution(ctx context.Context, e *Execution) error {
	return d.DB.WithContext(ctx).Create(e).Error
}

// GetExecutionByBrokerID supports handle_execution's idempotency check:
// returns gorm.ErrRecordNotFound if this execution hasn't been applied yet.
func (d *Database) GetExecutionByBrokerID(ctx context.Context, brokerExecutionID string) (*Execution, error) {
	var e Execution
	if err := d.DB.WithContext(ctx).First(&e, "broker_execution_id = ?", brokerExecutionID).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (d *Database) SumFilledSize(ctx context.Context, orderID string) (decimal.Decimal, error) {
	var executions []Execution
	if err := d.DB.WithContext(ctx).Where("order_id = ?", orderID).Find(&executions).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range executions {
		total = total.Add(e.FilledSize)
	}
	return total, nil
}

// --- Position -----------------------------------------------------

func (d *Database) CreatePosition(ctx context.Context, p *Position) error {
	return d.DB.WithContext(ctx).Create(p).Error
}

func (d *Database) GetPositionByTrade(ctx context.Context, tradeID string) (*Position, error) {
	var p Position
	if err := d.DB.WithContext(ctx).First(&p, "trade_id = ?", tradeID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *Database) UpdatePosition(ctx context.Context, p *Position) error {
	return d.DB.WithContext(ctx).Save(p).Error
}

func (d *Database) ListOpenPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	err := d.DB.WithContext(ctx).Where("closed_at IS NULL").Find(&positions).Error
	return positions, err
}

// --- TradeEvent -----------------------------------------------------

func (d *Database) AppendEvent(ctx context.Context, e *TradeEvent) error {
	return d.DB.WithContext(ctx).Create(e).Error
}

func (d *Database) ListEventsForTrade(ctx context.Context, tradeID string) ([]TradeEvent, error) {
	var events []TradeEvent
	err := d.DB.WithContext(ctx).Where("trade_id = ?", tradeID).Order("created_at asc").Find(&events).Error
	return events, err
}

// --- RiskState -----------------------------------------------------

// SaveRiskState upserts the daily risk counters row.
func (d *Database) SaveRiskState(ctx context.Context, s *RiskState) error {
	s.UpdatedAt = time.Now().UTC()
	return d.DB.WithContext(ctx).Save(s).Error
}

// LoadRiskState returns the row for day, or nil if none exists yet.
func (d *Database) LoadRiskState(ctx context.Context, day string) (*RiskState, error) {
	var s RiskState
	err := d.DB.WithContext(ctx).First(&s, "day = ?", day).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
