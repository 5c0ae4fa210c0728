// Package coordinator implements C4, the Market Coordinator: single entry
// point for order submission, cancellation, and lifecycle commands, grounded
// on pincex_unified's internal/trading/engine.Engine — same
// channel-plus-goroutine dispatch idiom, but spec.md §5 calls for one writer
// goroutine per *market* rather than the teacher's fixed fnv-hashed worker
// pool shared across symbols, so every order for a market is strictly
// serialized behind that market's own channel instead of merely being
// hash-bucketed alongside unrelated markets.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/predictmarket/internal/amm"
	"github.com/Aidin1998/predictmarket/internal/events"
	"github.com/Aidin1998/predictmarket/internal/orderbook"
	"github.com/Aidin1998/predictmarket/internal/persistence"
	"github.com/Aidin1998/predictmarket/internal/risk"
	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger is the balance/position dependency the coordinator needs to build
// risk.Input snapshots and projected reservations before dispatch, and to
// discover which users a resolution needs to settle.
type Ledger interface {
	Snapshot(user uuid.UUID) models.Snapshot
	PositionsForMarket(marketID uuid.UUID) []models.Position
}

// TaskQueue is the background-work dependency the coordinator enqueues
// settlement onto. Satisfied by *taskqueue.Queue.
type TaskQueue interface {
	Enqueue(id uuid.UUID, kind string, payload any, priority models.TaskPriority) error
}

// SettleMarketTaskKind is the task kind enqueued on resolution and the kind
// cmd/predictmarket registers a settlement handler under.
const SettleMarketTaskKind = "settle-market"

// MarketStore looks up and mutates market metadata. The coordinator owns
// lifecycle-state writes; everything else is read-only from its
// perspective.
type MarketStore interface {
	Get(id uuid.UUID) (*models.Market, error)
	Save(m *models.Market) error
}

// UserStore supplies the accreditation flag risk.Check needs.
type UserStore interface {
	Profile(user uuid.UUID) risk.UserProfile
}

// Journal is the crash-recovery dependency (SPEC_FULL.md C.2): every
// accepted command is appended here before it is applied, and Recover
// replays entries since each market's latest checkpoint back through the
// same command entry points. Satisfied by *persistence.Store; declared
// here rather than imported concretely to keep the coordinator's
// dependency-injection pattern consistent with Ledger/MarketStore/UserStore.
type Journal interface {
	AppendCommand(ctx context.Context, marketID uuid.UUID, seq uint64, kind string, payload any) error
	JournalSince(ctx context.Context, marketID uuid.UUID, afterSeq uint64) ([]persistence.JournalEntry, error)
	LatestCheckpoint(ctx context.Context, marketID uuid.UUID) (*persistence.Checkpoint, error)
}

// journalPayload is what gets persisted for each command kind — enough to
// replay it through SubmitOrder/CancelOrder/TransitionMarket.
type journalPayload struct {
	Kind       commandKind
	Order      *models.Order
	Target     models.MarketState
	Resolution int
}

func commandKindLabel(k commandKind) string {
	switch k {
	case cmdSubmit:
		return "submit"
	case cmdCancel:
		return "cancel"
	case cmdTransition:
		return "transition"
	default:
		return "unknown"
	}
}

const defaultQueueDepth = 1024

// command is one unit of work handed to a market's writer goroutine.
type command struct {
	kind   commandKind
	order  *models.Order
	target models.MarketState
	resolution int
	done   chan commandResult
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdCancel
	cmdTransition
)

type commandResult struct {
	trades   []*models.Trade
	released int64
	err      error
}

// marketWriter owns one market's book/pool state and processes commands
// strictly in arrival order (spec.md §5 "Ordering").
type marketWriter struct {
	marketID uuid.UUID
	ch       chan command
	seq      uint64
}

// Coordinator is the command API surface: SubmitOrder, CancelOrder,
// TransitionMarket, plus Recover for crash replay. It has no CreateMarket or
// QuoteAMM method; markets come from the MarketStore and AMM quotes are
// not exposed here.
type Coordinator struct {
	logger    *zap.Logger
	ledger    Ledger
	markets   MarketStore
	users     UserStore
	book      *orderbook.Engine
	pool      *amm.Engine
	publisher events.Publisher
	journal   Journal
	queue     TaskQueue

	mu      sync.Mutex
	writers map[uuid.UUID]*marketWriter
}

func New(logger *zap.Logger, ledger Ledger, markets MarketStore, users UserStore, book *orderbook.Engine, pool *amm.Engine, publisher events.Publisher, journal Journal, queue TaskQueue) *Coordinator {
	return &Coordinator{
		logger:    logger,
		ledger:    ledger,
		markets:   markets,
		users:     users,
		book:      book,
		pool:      pool,
		publisher: publisher,
		journal:   journal,
		queue:     queue,
		writers:   make(map[uuid.UUID]*marketWriter),
	}
}

func (c *Coordinator) writerFor(marketID uuid.UUID) *marketWriter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.writers[marketID]
	if !ok {
		w = &marketWriter{marketID: marketID, ch: make(chan command, defaultQueueDepth)}
		c.writers[marketID] = w
		go c.run(w)
	}
	return w
}

func (c *Coordinator) run(w *marketWriter) {
	for cmd := range w.ch {
		w.seq++
		c.journalCommand(w, cmd)
		switch cmd.kind {
		case cmdSubmit:
			trades, err := c.handleSubmit(w, cmd.order)
			cmd.done <- commandResult{trades: trades, err: err}
		case cmdCancel:
			released, err := c.handleCancel(w, cmd.order)
			cmd.done <- commandResult{released: released, err: err}
		case cmdTransition:
			err := c.handleTransition(w, cmd.order.MarketID, cmd.target, cmd.resolution)
			cmd.done <- commandResult{err: err}
		}
	}
}

// journalCommand appends cmd to the crash-recovery journal before it is
// applied. Journal failures are logged, not fatal — losing a replay
// record degrades recovery fidelity but must not stall live trading.
func (c *Coordinator) journalCommand(w *marketWriter, cmd command) {
	if c.journal == nil {
		return
	}
	payload := journalPayload{Kind: cmd.kind, Order: cmd.order, Target: cmd.target, Resolution: cmd.resolution}
	if err := c.journal.AppendCommand(context.Background(), w.marketID, w.seq, commandKindLabel(cmd.kind), payload); err != nil {
		c.logger.Warn("coordinator: journal append failed", zap.String("market", w.marketID.String()), zap.Uint64("seq", w.seq), zap.Error(err))
	}
}

// send enqueues cmd on w's channel, honoring ctx's deadline as the
// backpressure timeout spec.md §5 calls for (MarketBusy on expiry).
func (c *Coordinator) send(ctx context.Context, w *marketWriter, cmd command) (commandResult, error) {
	select {
	case w.ch <- cmd:
	case <-ctx.Done():
		return commandResult{}, fmt.Errorf("coordinator: %w", models.ErrMarketBusy)
	}
	select {
	case res := <-cmd.done:
		return res, res.err
	case <-ctx.Done():
		return commandResult{}, fmt.Errorf("coordinator: %w", models.ErrMarketBusy)
	}
}

// SubmitOrder is spec.md §6's SubmitOrder(ctx, order).
func (c *Coordinator) SubmitOrder(ctx context.Context, order *models.Order) ([]*models.Trade, error) {
	w := c.writerFor(order.MarketID)
	done := make(chan commandResult, 1)
	res, err := c.send(ctx, w, command{kind: cmdSubmit, order: order, done: done})
	return res.trades, err
}

// CancelOrder is spec.md §6's CancelOrder(ctx, order-id).
func (c *Coordinator) CancelOrder(ctx context.Context, order *models.Order) (int64, error) {
	w := c.writerFor(order.MarketID)
	done := make(chan commandResult, 1)
	res, err := c.send(ctx, w, command{kind: cmdCancel, order: order, done: done})
	return res.released, err
}

// TransitionMarket is spec.md §6's TransitionMarket(ctx, market-id,
// target-state, [resolution-value]).
func (c *Coordinator) TransitionMarket(ctx context.Context, marketID uuid.UUID, target models.MarketState, resolutionOutcome int) error {
	w := c.writerFor(marketID)
	done := make(chan commandResult, 1)
	_, err := c.send(ctx, w, command{kind: cmdTransition, order: &models.Order{MarketID: marketID}, target: target, resolution: resolutionOutcome, done: done})
	return err
}

func (c *Coordinator) handleSubmit(w *marketWriter, order *models.Order) ([]*models.Trade, error) {
	market, err := c.markets.Get(order.MarketID)
	if err != nil {
		return nil, err
	}

	snapshot := c.ledger.Snapshot(order.UserID)
	profile := c.users.Profile(order.UserID)

	sideSign := int64(1)
	if order.Side == models.Sell {
		sideSign = -1
	}
	projectedReservation := c.projectReservation(market, order)
	if err := risk.Check(risk.Input{
		Market:                 market,
		User:                   profile,
		Snapshot:               snapshot,
		Order:                  order,
		ProjectedReservation:   projectedReservation,
		ProjectedPositionDelta: sideSign * order.Size,
	}); err != nil {
		order.State = models.OrderRejected
		c.publish(w, events.Event{Kind: events.KindOrderRejected, MarketID: order.MarketID, RejectReason: err.Error(), Order: order})
		return nil, err
	}

	var trades []*models.Trade
	switch market.Engine {
	case models.EngineOrderBook:
		trades, err = c.book.Submit(order)
	case models.EngineAMM:
		trade, swapErr := c.pool.Swap(order.UserID, order.MarketID, order.OutcomeIndex, order.Size, order.Side)
		if swapErr == nil {
			trades = []*models.Trade{trade}
			order.State = models.OrderFilled
		}
		err = swapErr
	default:
		err = fmt.Errorf("coordinator: unknown engine %q", market.Engine)
	}

	if err != nil {
		c.publish(w, events.Event{Kind: events.KindOrderRejected, MarketID: order.MarketID, RejectReason: err.Error(), Order: order})
		return trades, err
	}

	c.publish(w, events.Event{Kind: events.KindOrderAccepted, MarketID: order.MarketID, Order: order})
	for _, t := range trades {
		c.publish(w, events.Event{Kind: events.KindTrade, MarketID: order.MarketID, Trade: t})
	}
	return trades, nil
}

// projectReservation computes what the engine would request for order,
// without submitting it — the input risk.Check needs for its balance check.
func (c *Coordinator) projectReservation(market *models.Market, order *models.Order) int64 {
	if market.Engine == models.EngineAMM {
		if order.Side == models.Sell {
			return 0 // selling into the pool requires no up-front collateral
		}
		cost, err := c.pool.Quote(order.MarketID, order.OutcomeIndex, order.Size, models.Buy)
		if err != nil {
			return 0
		}
		return cost
	}
	return orderbook.Collateral(order.Side, orderPriceOrBound(order), order.Size)
}

func orderPriceOrBound(o *models.Order) int64 {
	if o.Kind == models.KindMarket {
		if o.Side == models.Buy {
			return models.PriceTickBound
		}
		return 1
	}
	return o.Price
}

func (c *Coordinator) handleCancel(w *marketWriter, order *models.Order) (int64, error) {
	res, err := c.book.Cancel(order)
	if err != nil {
		return 0, err
	}
	c.publish(w, events.Event{Kind: events.KindOrderCancelled, MarketID: order.MarketID, Order: order})
	return res.ReleasedAmount, nil
}

// validTransitions encodes spec.md §4.3's state machine: draft -> active,
// active <-> paused, active -> resolved, any non-resolved -> cancelled.
var validTransitions = map[models.MarketState]map[models.MarketState]bool{
	models.MarketDraft:  {models.MarketActive: true, models.MarketCancelled: true},
	models.MarketActive: {models.MarketPaused: true, models.MarketResolved: true, models.MarketCancelled: true},
	models.MarketPaused: {models.MarketActive: true, models.MarketCancelled: true},
}

func (c *Coordinator) handleTransition(w *marketWriter, marketID uuid.UUID, target models.MarketState, resolutionOutcome int) error {
	market, err := c.markets.Get(marketID)
	if err != nil {
		return err
	}
	if market.State == models.MarketResolved {
		return fmt.Errorf("coordinator: %w", models.ErrMarketAlreadyResolved)
	}
	if !validTransitions[market.State][target] {
		return fmt.Errorf("coordinator: %s -> %s: %w", market.State, target, models.ErrInvalidTransition)
	}

	from := market.State
	market.State = target
	market.UpdatedAt = time.Now().UTC()
	if target == models.MarketResolved {
		outcome := resolutionOutcome
		market.Outcome = &outcome
	}
	if err := c.markets.Save(market); err != nil {
		return err
	}

	c.publish(w, events.Event{Kind: events.KindMarketStateChanged, MarketID: marketID, FromState: from, ToState: target})
	if target == models.MarketResolved {
		c.publish(w, events.Event{Kind: events.KindMarketResolved, MarketID: marketID, ResolvedOutcome: resolutionOutcome})
		c.enqueueSettlement(marketID)
	}
	return nil
}

// enqueueSettlement is spec.md §4.4's "On resolution, enqueue a Settlement
// task per affected user": one task per non-flat position in marketID, so a
// user holding several outcomes gets several tasks. settlement.Engine.SettleMarket computes every user's payout in
// one pass (the pool haircut needs every position at once to be
// conserving), so each task's handler settles the whole market; idempotence
// makes every task after the first a no-op.
func (c *Coordinator) enqueueSettlement(marketID uuid.UUID) {
	if c.queue == nil {
		return
	}
	for _, p := range c.ledger.PositionsForMarket(marketID) {
		if err := c.queue.Enqueue(uuid.New(), SettleMarketTaskKind, marketID, models.PriorityHigh); err != nil {
			c.logger.Warn("coordinator: settlement enqueue failed", zap.String("market", marketID.String()), zap.String("user", p.Key.UserID.String()), zap.Error(err))
		}
	}
}

// Recover implements SPEC_FULL.md C.2's crash-recovery replay: for each
// market, load its latest checkpoint (if any) and replay every journal
// entry with a greater sequence through the same Submit/Cancel/Transition
// entry points used at runtime. Replay is idempotent by construction —
// those entry points already carry the conflict/no-op semantics needed to
// make re-applying an already-applied command harmless.
func (c *Coordinator) Recover(ctx context.Context, marketIDs []uuid.UUID) error {
	if c.journal == nil {
		return nil
	}
	for _, marketID := range marketIDs {
		afterSeq := uint64(0)
		checkpoint, err := c.journal.LatestCheckpoint(ctx, marketID)
		if err != nil {
			return fmt.Errorf("coordinator: recover %s: load checkpoint: %w", marketID, err)
		}
		if checkpoint != nil {
			afterSeq = checkpoint.Seq
		}

		entries, err := c.journal.JournalSince(ctx, marketID, afterSeq)
		if err != nil {
			return fmt.Errorf("coordinator: recover %s: load journal: %w", marketID, err)
		}
		for _, entry := range entries {
			if err := c.replayEntry(ctx, entry); err != nil {
				c.logger.Warn("coordinator: replay entry failed", zap.String("market", marketID.String()), zap.Uint64("seq", entry.Seq), zap.Error(err))
			}
		}
		c.logger.Info("coordinator: recovered market", zap.String("market", marketID.String()), zap.Int("replayed", len(entries)))
	}
	return nil
}

func (c *Coordinator) replayEntry(ctx context.Context, entry persistence.JournalEntry) error {
	var payload journalPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return fmt.Errorf("decode journal payload: %w", err)
	}
	switch payload.Kind {
	case cmdSubmit:
		_, err := c.SubmitOrder(ctx, payload.Order)
		return err
	case cmdCancel:
		_, err := c.CancelOrder(ctx, payload.Order)
		return err
	case cmdTransition:
		return c.TransitionMarket(ctx, payload.Order.MarketID, payload.Target, payload.Resolution)
	default:
		return fmt.Errorf("unknown journal command kind %d", payload.Kind)
	}
}

func (c *Coordinator) publish(w *marketWriter, e events.Event) {
	e.Seq = w.seq
	e.Timestamp = time.Now().UTC()
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(e); err != nil {
		c.logger.Warn("coordinator: event publish failed", zap.String("market", e.MarketID.String()), zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}
