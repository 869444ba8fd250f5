package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"momentum-trading-bot/internal/events"
	"momentum-trading-bot/internal/exchange"
	"momentum-trading-bot/internal/logging"
)

const (
	defaultEntryFillTimeout = 60 * time.Second
	defaultExitFillTimeout  = 30 * time.Second
	defaultPollInterval     = 3 * time.Second
	errorPollPause          = 5 * time.Second

	maxIcebergBatches = 5
	bookDepth         = 5
)

var (
	// ErrBelowMinNotional rejects orders the exchange would refuse.
	ErrBelowMinNotional = errors.New("order notional below exchange minimum")

	// ErrNoFill means an order produced no executed quantity at all.
	ErrNoFill = errors.New("order did not fill")
)

// Config tunes order execution.
type Config struct {
	DryRun           bool
	IcebergThreshold float64 // entries larger than this are split
	MinOrderAmount   float64 // fallback when the market has no MinNotional
	EntryFillTimeout time.Duration
	ExitFillTimeout  time.Duration
	PollInterval     time.Duration
}

// EntryResult describes a completed buy.
type EntryResult struct {
	OrderID   string
	Symbol    string
	Size      float64
	AvgPrice  float64
	Stage     string
	Iceberg   bool
	SubOrders []EntryResult
	Timestamp time.Time
}

// ExitResult describes a completed sell.
type ExitResult struct {
	OrderID   string
	Symbol    string
	Size      float64
	AvgPrice  float64
	Reason    string
	Timestamp time.Time
}

// StopOrder is a placed or tracked stop loss. Soft stops are not held by
// the exchange; the position monitor enforces them.
type StopOrder struct {
	OrderID   string
	Symbol    string
	StopPrice float64
	Size      float64
	Soft      bool
	Timestamp time.Time
}

// ConditionType selects which way price must cross a conditional trigger.
type ConditionType string

const (
	PriceAbove ConditionType = "price_above"
	PriceBelow ConditionType = "price_below"
)

// Condition is the trigger attached to a conditional entry. RSIBelow is
// an optional gate: zero disables it, and it is only enforced on the
// soft path since no exchange evaluates indicators.
type Condition struct {
	Type     ConditionType
	Price    float64
	RSIBelow float64
}

// ConditionalOrder is a placed or tracked conditional entry. Soft
// conditionals (including all dry-run ones) are fired by the position
// monitor; native ones rest on the exchange.
type ConditionalOrder struct {
	OrderID      string
	Symbol       string
	TriggerPrice float64
	LimitPrice   float64
	Size         float64
	Stage        string
	Condition    Condition
	Soft         bool
	PlacedAt     time.Time
}

// Archive mirrors journal records into longer-term storage. Archive
// failures are logged, never propagated into the trade path.
type Archive interface {
	SaveEntry(ctx context.Context, rec EntryRecord) error
	SaveExit(ctx context.Context, rec ExitRecord) error
}

// Executor turns sized decisions into exchange orders and journals every
// completed trade. All methods are safe for concurrent use across
// symbols; the engine serializes calls per symbol.
type Executor struct {
	client  exchange.Client
	journal *Journal
	bus     *events.EventBus
	archive Archive
	cfg     Config
	log     *logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New wires an executor. bus may be nil.
func New(client exchange.Client, journal *Journal, bus *events.EventBus, cfg Config) *Executor {
	if cfg.IcebergThreshold <= 0 {
		cfg.IcebergThreshold = 1.0
	}
	if cfg.MinOrderAmount <= 0 {
		cfg.MinOrderAmount = 10.0
	}
	if cfg.EntryFillTimeout <= 0 {
		cfg.EntryFillTimeout = defaultEntryFillTimeout
	}
	if cfg.ExitFillTimeout <= 0 {
		cfg.ExitFillTimeout = defaultExitFillTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Executor{
		client:  client,
		journal: journal,
		bus:     bus,
		cfg:     cfg,
		log:     logging.WithComponent("executor"),
		sleep:   sleepCtx,
	}
}

// DryRun reports whether orders are simulated.
func (e *Executor) DryRun() bool { return e.cfg.DryRun }

// SetArchive attaches an optional database mirror for journal records.
func (e *Executor) SetArchive(a Archive) { e.archive = a }

// ExecuteEntry buys size units at or near price. Entries above the
// iceberg threshold are split into sequential batches. The fill is
// journaled before returning.
func (e *Executor) ExecuteEntry(ctx context.Context, symbol string, size, price float64, stage string) (*EntryResult, error) {
	market, err := e.ensureMarket(symbol)
	if err != nil {
		return nil, err
	}

	var res *EntryResult
	if size > e.cfg.IcebergThreshold {
		res, err = e.icebergEntry(ctx, market, size, price, stage)
	} else {
		res, err = e.singleEntry(ctx, market, size, price, stage)
	}
	if err != nil {
		return nil, err
	}

	rec := e.entryRecord(res)
	if err := e.journal.AppendEntry(rec); err != nil {
		e.log.Error("entry journal append failed", "symbol", symbol, "error", err)
	}
	e.archiveEntry(ctx, rec)
	if e.bus != nil {
		e.bus.PublishOrderExecuted(res.OrderID, symbol, "buy", res.Stage, res.AvgPrice, res.Size)
	}
	return res, nil
}

func (e *Executor) singleEntry(ctx context.Context, market *exchange.Market, size, target float64, stage string) (*EntryResult, error) {
	symbol := market.Symbol

	book, err := e.client.FetchOrderBook(symbol, bookDepth)
	if err != nil {
		return nil, fmt.Errorf("fetch order book %s: %w", symbol, err)
	}
	price := buyPrice(target, book, market)
	amount := market.AmountPrecision.Floor(size)

	if amount*price < e.minNotional(market) {
		return nil, fmt.Errorf("%s notional %.4f below minimum %.4f: %w",
			symbol, amount*price, e.minNotional(market), ErrBelowMinNotional)
	}

	e.log.Info("placing entry", "symbol", symbol, "size", amount, "price", price, "stage", stage)

	if e.cfg.DryRun {
		return &EntryResult{
			OrderID:   dryRunID(""),
			Symbol:    symbol,
			Size:      amount,
			AvgPrice:  price,
			Stage:     stage,
			Timestamp: time.Now(),
		}, nil
	}

	order, err := e.client.CreateLimitBuyOrder(symbol, amount, price, nil)
	if err != nil {
		return nil, fmt.Errorf("limit buy %s: %w", symbol, err)
	}

	filled, avg, err := e.settleOrder(ctx, order.ID, symbol, exchange.Buy, e.cfg.EntryFillTimeout)
	if err != nil {
		return nil, err
	}
	if filled <= 0 {
		return nil, fmt.Errorf("entry %s: %w", symbol, ErrNoFill)
	}

	e.log.Info("entry filled", "symbol", symbol, "order_id", order.ID, "avg_price", avg)
	return &EntryResult{
		OrderID:   order.ID,
		Symbol:    symbol,
		Size:      filled,
		AvgPrice:  avg,
		Stage:     stage,
		Timestamp: time.Now(),
	}, nil
}

func (e *Executor) icebergEntry(ctx context.Context, market *exchange.Market, size, price float64, stage string) (*EntryResult, error) {
	batches := int(math.Ceil(size / e.cfg.IcebergThreshold))
	if batches > maxIcebergBatches {
		batches = maxIcebergBatches
	}
	batchSize := size / float64(batches)

	e.log.Info("iceberg entry", "symbol", market.Symbol, "total", size, "batches", batches)

	var subs []EntryResult
	var totalFilled, totalCost float64
	for i := 1; i <= batches; i++ {
		current := math.Min(batchSize, size-totalFilled)
		sub, err := e.singleEntry(ctx, market, current, price, fmt.Sprintf("%s_iceberg_%d", stage, i))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.log.Warn("iceberg batch failed", "symbol", market.Symbol, "batch", i, "error", err)
			break
		}
		subs = append(subs, *sub)
		totalFilled += sub.Size
		totalCost += sub.Size * sub.AvgPrice

		if i < batches {
			jitter := time.Duration((3 + rand.Float64()*4) * float64(time.Second))
			if err := e.sleep(ctx, jitter); err != nil {
				return nil, err
			}
		}
	}

	if totalFilled <= 0 {
		return nil, fmt.Errorf("iceberg entry %s: %w", market.Symbol, ErrNoFill)
	}
	return &EntryResult{
		Symbol:    market.Symbol,
		Size:      totalFilled,
		AvgPrice:  totalCost / totalFilled,
		Stage:     stage,
		Iceberg:   true,
		SubOrders: subs,
		Timestamp: time.Now(),
	}, nil
}

// ExecuteExit sells size units at or near price. A limit order gets the
// exit fill timeout to complete; whatever remains is closed at market.
// The exit is journaled with profit fields when the entry can be matched.
func (e *Executor) ExecuteExit(ctx context.Context, symbol string, size, price float64, reason string) (*ExitResult, error) {
	market, err := e.ensureMarket(symbol)
	if err != nil {
		return nil, err
	}

	book, err := e.client.FetchOrderBook(symbol, bookDepth)
	if err != nil {
		return nil, fmt.Errorf("fetch order book %s: %w", symbol, err)
	}
	actual := sellPrice(price, book, market)
	amount := market.AmountPrecision.Floor(size)
	if amount <= 0 {
		return nil, fmt.Errorf("exit %s: size %.10f floors to zero", symbol, size)
	}

	e.log.Info("placing exit", "symbol", symbol, "size", amount, "price", actual, "reason", reason)

	var res *ExitResult
	if e.cfg.DryRun {
		res = &ExitResult{
			OrderID:   dryRunID(""),
			Symbol:    symbol,
			Size:      amount,
			AvgPrice:  actual,
			Reason:    reason,
			Timestamp: time.Now(),
		}
	} else {
		order, err := e.client.CreateLimitSellOrder(symbol, amount, actual)
		if err != nil {
			return nil, fmt.Errorf("limit sell %s: %w", symbol, err)
		}
		filled, avg, err := e.settleOrder(ctx, order.ID, symbol, exchange.Sell, e.cfg.ExitFillTimeout)
		if err != nil {
			return nil, err
		}
		if filled <= 0 {
			return nil, fmt.Errorf("exit %s: %w", symbol, ErrNoFill)
		}
		e.log.Info("exit filled", "symbol", symbol, "order_id", order.ID, "avg_price", avg)
		res = &ExitResult{
			OrderID:   order.ID,
			Symbol:    symbol,
			Size:      filled,
			AvgPrice:  avg,
			Reason:    reason,
			Timestamp: time.Now(),
		}
	}

	rec := e.exitRecord(res)
	if err := e.journal.AppendExit(rec); err != nil {
		e.log.Error("exit journal append failed", "symbol", symbol, "error", err)
	}
	e.archiveExit(ctx, rec)
	if e.bus != nil {
		e.bus.PublishOrderExecuted(res.OrderID, symbol, "sell", reason, res.AvgPrice, res.Size)
	}
	return res, nil
}

// SetStopLoss places a native stop sell when the exchange supports one,
// otherwise returns a soft stop for the monitor to enforce.
func (e *Executor) SetStopLoss(ctx context.Context, symbol string, stopPrice, size float64) (*StopOrder, error) {
	market, err := e.ensureMarket(symbol)
	if err != nil {
		return nil, err
	}
	amount := market.AmountPrecision.Floor(size)

	stop := &StopOrder{
		Symbol:    symbol,
		StopPrice: stopPrice,
		Size:      amount,
		Timestamp: time.Now(),
	}

	if !e.client.Capabilities().Has(exchange.CapStopLoss) {
		e.log.Warn("exchange lacks native stops, tracking soft stop", "symbol", symbol, "stop", stopPrice)
		stop.Soft = true
		return stop, nil
	}
	if e.cfg.DryRun {
		stop.OrderID = dryRunID("sl")
		stop.Soft = true
		return stop, nil
	}

	order, err := e.client.CreateStopLossOrder(symbol, amount, stopPrice)
	if err != nil {
		return nil, fmt.Errorf("stop loss %s: %w", symbol, err)
	}
	stop.OrderID = order.ID
	e.log.Info("stop loss placed", "symbol", symbol, "order_id", order.ID, "stop", stopPrice)
	return stop, nil
}

// UpdateStopLoss cancels any resting stop orders for the symbol and
// places a replacement at the new price.
func (e *Executor) UpdateStopLoss(ctx context.Context, symbol string, newStop, size float64) (*StopOrder, error) {
	if e.client.Capabilities().Has(exchange.CapStopLoss) && !e.cfg.DryRun {
		open, err := e.client.FetchOpenOrders(symbol)
		if err != nil {
			e.log.Warn("open order fetch failed", "symbol", symbol, "error", err)
		} else {
			for _, o := range open {
				// Trigger buys also rest as stop-type orders; only the
				// sell-side stop belongs to this position's protection.
				if o.Side == exchange.Sell && strings.HasPrefix(o.Type, "stop") {
					if cerr := e.client.CancelOrder(o.ID, symbol); cerr != nil {
						e.log.Warn("stop cancel failed", "order_id", o.ID, "error", cerr)
					}
				}
			}
		}
	}
	return e.SetStopLoss(ctx, symbol, newStop, size)
}

// SetConditionalOrder arms a triggered buy. With trigger support and
// live trading it rests on the exchange; otherwise (including dry run)
// it comes back soft and the monitor fires it.
func (e *Executor) SetConditionalOrder(ctx context.Context, symbol string, size, price float64, stage string, cond Condition) (*ConditionalOrder, error) {
	market, err := e.ensureMarket(symbol)
	if err != nil {
		return nil, err
	}
	amount := market.AmountPrecision.Floor(size)

	co := &ConditionalOrder{
		Symbol:       symbol,
		TriggerPrice: cond.Price,
		LimitPrice:   price,
		Size:         amount,
		Stage:        stage,
		Condition:    cond,
		PlacedAt:     time.Now(),
	}

	if e.cfg.DryRun {
		co.OrderID = dryRunID("cond")
		co.Soft = true
		e.log.Info("dry run conditional", "symbol", symbol, "trigger", cond.Price, "price", price)
		return co, nil
	}
	if !e.client.Capabilities().Has(exchange.CapTriggerOrder) {
		co.Soft = true
		e.log.Warn("exchange lacks trigger orders, tracking soft conditional", "symbol", symbol)
		return co, nil
	}

	dir := exchange.TriggerAbove
	if cond.Type == PriceBelow {
		dir = exchange.TriggerBelow
	}
	order, err := e.client.CreateLimitBuyOrder(symbol, amount, price, &exchange.Trigger{Price: cond.Price, Direction: dir})
	if err != nil {
		return nil, fmt.Errorf("conditional buy %s: %w", symbol, err)
	}
	co.OrderID = order.ID
	e.log.Info("conditional placed", "symbol", symbol, "order_id", order.ID, "trigger", cond.Price)
	return co, nil
}

// ConditionalFilled polls a native conditional and reports whether it
// executed, journaling the fill when detected. Soft conditionals always
// report false; the monitor fires those directly.
func (e *Executor) ConditionalFilled(ctx context.Context, co *ConditionalOrder) (bool, *EntryResult, error) {
	if co == nil || co.Soft || co.OrderID == "" {
		return false, nil, nil
	}
	order, err := e.client.FetchOrder(co.OrderID, co.Symbol)
	if err != nil {
		return false, nil, fmt.Errorf("fetch conditional %s: %w", co.OrderID, err)
	}
	if order.Status != exchange.OrderClosed {
		return false, nil, nil
	}

	res := &EntryResult{
		OrderID:   order.ID,
		Symbol:    co.Symbol,
		Size:      order.Filled,
		AvgPrice:  fillPrice(order),
		Stage:     co.Stage,
		Timestamp: time.Now(),
	}
	rec := e.entryRecord(res)
	if err := e.journal.AppendEntry(rec); err != nil {
		e.log.Error("entry journal append failed", "symbol", co.Symbol, "error", err)
	}
	e.archiveEntry(ctx, rec)
	if e.bus != nil {
		e.bus.PublishOrderExecuted(res.OrderID, co.Symbol, "buy", co.Stage, res.AvgPrice, res.Size)
	}
	return true, res, nil
}

// CancelConditional withdraws a resting native conditional. Soft ones
// have nothing to cancel.
func (e *Executor) CancelConditional(co *ConditionalOrder) error {
	if co == nil || co.Soft || co.OrderID == "" {
		return nil
	}
	return e.client.CancelOrder(co.OrderID, co.Symbol)
}

// StopFilled polls a native stop order and reports whether the exchange
// executed it, journaling the exit when detected. Soft stops always
// report false; the monitor enforces those itself.
func (e *Executor) StopFilled(ctx context.Context, stop *StopOrder) (bool, *ExitResult, error) {
	if stop == nil || stop.Soft || stop.OrderID == "" {
		return false, nil, nil
	}
	order, err := e.client.FetchOrder(stop.OrderID, stop.Symbol)
	if err != nil {
		return false, nil, fmt.Errorf("fetch stop %s: %w", stop.OrderID, err)
	}
	if order.Status != exchange.OrderClosed {
		return false, nil, nil
	}

	res := &ExitResult{
		OrderID:   order.ID,
		Symbol:    stop.Symbol,
		Size:      order.Filled,
		AvgPrice:  fillPrice(order),
		Reason:    "stop_loss",
		Timestamp: time.Now(),
	}
	rec := e.exitRecord(res)
	if err := e.journal.AppendExit(rec); err != nil {
		e.log.Error("exit journal append failed", "symbol", stop.Symbol, "error", err)
	}
	e.archiveExit(ctx, rec)
	if e.bus != nil {
		e.bus.PublishOrderExecuted(res.OrderID, stop.Symbol, "sell", "stop_loss", res.AvgPrice, res.Size)
	}
	e.log.Info("stop order filled",
		"symbol", stop.Symbol,
		"order_id", stop.OrderID,
		"avg_price", res.AvgPrice,
		"size", res.Size)
	return true, res, nil
}

// CancelStop withdraws a resting native stop order. Soft markers have
// nothing to cancel.
func (e *Executor) CancelStop(stop *StopOrder) error {
	if stop == nil || stop.Soft || stop.OrderID == "" {
		return nil
	}
	return e.client.CancelOrder(stop.OrderID, stop.Symbol)
}

// TradingHistory returns both journals plus derived statistics.
func (e *Executor) TradingHistory(f Filter) (*TradingHistory, error) {
	entries, err := e.journal.Entries(f)
	if err != nil {
		return nil, err
	}
	exits, err := e.journal.Exits(f)
	if err != nil {
		return nil, err
	}
	return &TradingHistory{
		EntryOrders: entries,
		ExitOrders:  exits,
		Stats:       ComputeStats(entries, exits),
	}, nil
}

// settleOrder waits for a limit order to fill, cancels it on timeout and
// closes the remainder at market. Returns total executed size and the
// weighted average price across both legs.
func (e *Executor) settleOrder(ctx context.Context, orderID, symbol string, side exchange.OrderSide, timeout time.Duration) (float64, float64, error) {
	filled, err := e.waitForFill(ctx, orderID, symbol, timeout)
	if err != nil {
		return 0, 0, err
	}

	if !filled {
		if cerr := e.client.CancelOrder(orderID, symbol); cerr != nil {
			e.log.Warn("cancel failed", "order_id", orderID, "error", cerr)
		}
	}

	order, err := e.client.FetchOrder(orderID, symbol)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	size := order.Filled
	cost := size * fillPrice(order)

	if !filled && order.Remaining > 0 {
		var mkt *exchange.Order
		var merr error
		if side == exchange.Buy {
			mkt, merr = e.client.CreateMarketBuyOrder(symbol, order.Remaining)
		} else {
			mkt, merr = e.client.CreateMarketSellOrder(symbol, order.Remaining)
		}
		if merr != nil {
			e.log.Error("market remainder failed", "symbol", symbol, "side", string(side), "error", merr)
		} else {
			size += mkt.Filled
			cost += mkt.Filled * fillPrice(mkt)
		}
	}

	if size <= 0 {
		return 0, 0, nil
	}
	return size, cost / size, nil
}

// waitForFill polls until the order closes, is canceled, or the timeout
// lapses. Only context cancellation is returned as an error.
func (e *Executor) waitForFill(ctx context.Context, orderID, symbol string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		order, err := e.client.FetchOrder(orderID, symbol)
		if err != nil {
			e.log.Warn("order status poll failed", "order_id", orderID, "error", err)
			if serr := e.sleep(ctx, errorPollPause); serr != nil {
				return false, serr
			}
			continue
		}
		switch order.Status {
		case exchange.OrderClosed:
			return true, nil
		case exchange.OrderCanceled:
			e.log.Warn("order canceled while waiting", "order_id", orderID)
			return false, nil
		}
		if order.Filled > 0 {
			e.log.Debug("partial fill", "order_id", orderID, "filled", order.Filled, "amount", order.Amount)
		}
		if serr := e.sleep(ctx, e.cfg.PollInterval); serr != nil {
			return false, serr
		}
	}
	e.log.Warn("fill wait timed out", "order_id", orderID, "symbol", symbol)
	return false, nil
}

func (e *Executor) ensureMarket(symbol string) (*exchange.Market, error) {
	if m, err := e.client.Market(symbol); err == nil {
		return m, nil
	}
	if err := e.client.LoadMarkets(); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	m, err := e.client.Market(symbol)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", symbol, err)
	}
	return m, nil
}

func (e *Executor) minNotional(market *exchange.Market) float64 {
	if market.MinNotional > 0 {
		return market.MinNotional
	}
	return e.cfg.MinOrderAmount
}

func (e *Executor) archiveEntry(ctx context.Context, rec EntryRecord) {
	if e.archive == nil {
		return
	}
	if err := e.archive.SaveEntry(ctx, rec); err != nil {
		e.log.Warn("entry archive write failed", "symbol", rec.Symbol, "error", err)
	}
}

func (e *Executor) archiveExit(ctx context.Context, rec ExitRecord) {
	if e.archive == nil {
		return
	}
	if err := e.archive.SaveExit(ctx, rec); err != nil {
		e.log.Warn("exit archive write failed", "symbol", rec.Symbol, "error", err)
	}
}

func (e *Executor) entryRecord(res *EntryResult) EntryRecord {
	rec := EntryRecord{
		Timestamp: res.Timestamp,
		Symbol:    res.Symbol,
		Exchange:  e.client.ID(),
		OrderID:   res.OrderID,
		Size:      res.Size,
		AvgPrice:  res.AvgPrice,
		Stage:     res.Stage,
		Iceberg:   res.Iceberg,
		Cost:      res.Size * res.AvgPrice,
	}
	if res.Iceberg {
		rec.OrderID = "multiple_orders"
		for _, s := range res.SubOrders {
			rec.SubOrders = append(rec.SubOrders, SubOrder{
				OrderID:   s.OrderID,
				Size:      s.Size,
				AvgPrice:  s.AvgPrice,
				Stage:     s.Stage,
				Timestamp: s.Timestamp,
			})
		}
	}
	return rec
}

func (e *Executor) exitRecord(res *ExitResult) ExitRecord {
	rec := ExitRecord{
		Timestamp: res.Timestamp,
		Symbol:    res.Symbol,
		Exchange:  e.client.ID(),
		OrderID:   res.OrderID,
		Size:      res.Size,
		AvgPrice:  res.AvgPrice,
		Reason:    res.Reason,
		Revenue:   res.Size * res.AvgPrice,
	}
	if entry, ok := e.journal.LatestEntry(res.Symbol, e.client.ID()); ok && entry.AvgPrice > 0 {
		rec.EntryOrderID = entry.OrderID
		rec.EntryPrice = entry.AvgPrice
		rec.ProfitPercentage = (res.AvgPrice - entry.AvgPrice) / entry.AvgPrice * 100
		rec.ProfitAmount = (res.AvgPrice - entry.AvgPrice) * res.Size
	}
	return rec
}

// buyPrice resolves the limit price for a buy: the best ask when the
// target already crosses the book, else one tick above the target.
func buyPrice(target float64, book *exchange.OrderBook, market *exchange.Market) float64 {
	if len(book.Asks) == 0 {
		return target
	}
	if ask := book.Asks[0].Price; target >= ask {
		return ask
	}
	return target + market.PricePrecision.Tick()
}

// sellPrice mirrors buyPrice on the bid side.
func sellPrice(target float64, book *exchange.OrderBook, market *exchange.Market) float64 {
	if len(book.Bids) == 0 {
		return target
	}
	if bid := book.Bids[0].Price; target <= bid {
		return bid
	}
	return target - market.PricePrecision.Tick()
}

func fillPrice(o *exchange.Order) float64 {
	if o.Average > 0 {
		return o.Average
	}
	return o.Price
}

func dryRunID(kind string) string {
	suffix := uuid.NewString()[:8]
	if kind == "" {
		return fmt.Sprintf("dry_run_%d_%s", time.Now().Unix(), suffix)
	}
	return fmt.Sprintf("dry_run_%s_%d_%s", kind, time.Now().Unix(), suffix)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
