// Package ledger implements the authoritative per-user balance and position
// book (spec.md §4.1, C1). Every mutating call commits all its effects under
// a per-user lock or leaves state untouched; cross-user calls (settle_trade,
// TransferFunds-style operations) acquire locks in a fixed global order
// (user-id ascending) to avoid deadlock, per spec.md §5.
package ledger

import (
	"fmt"
	"sync"

	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type userRow struct {
	mu        sync.Mutex
	account   models.LedgerAccount
	positions map[models.PositionKey]*models.Position
}

// Ledger is the in-process, lock-protected implementation of C1. It is
// deliberately not backed by a database on the hot path: spec.md's
// concurrency model (§5) calls for per-user locks held across a compound
// update, which an ORM transaction cannot give sub-millisecond latency for.
// Persistence (journal/checkpoint) is a separate concern, see
// internal/persistence.
type Ledger struct {
	logger *zap.Logger

	mu    sync.RWMutex // protects the users map itself, not its entries
	users map[uuid.UUID]*userRow

	debugInvariants bool
}

// New creates an empty Ledger. debugInvariants, when true, makes SettleTrade
// and PoolSettle panic if an account they touched ends with a negative
// Available or Reserved balance. No other call is checked, and invariants
// L1 and L3 are not checked at all.
func New(logger *zap.Logger, debugInvariants bool) *Ledger {
	return &Ledger{
		logger:          logger,
		users:           make(map[uuid.UUID]*userRow),
		debugInvariants: debugInvariants,
	}
}

func (l *Ledger) rowFor(user uuid.UUID) *userRow {
	l.mu.RLock()
	r, ok := l.users[user]
	l.mu.RUnlock()
	if ok {
		return r
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok = l.users[user]; ok {
		return r
	}
	r = &userRow{
		account:   models.LedgerAccount{UserID: user},
		positions: make(map[models.PositionKey]*models.Position),
	}
	l.users[user] = r
	return r
}

// EnsureUser registers a user with a zero balance if not already known.
// Deposit/Withdraw and Snapshot auto-create the row; this exists so
// operators can pre-provision users deliberately.
func (l *Ledger) EnsureUser(user uuid.UUID) {
	l.rowFor(user)
}

// Deposit credits a user's available balance. This is the only operation
// (besides Withdraw) that changes the system-wide total, per invariant L1.
func (l *Ledger) Deposit(user uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: deposit amount must be positive: %w", models.ErrInvalidSize)
	}
	r := l.rowFor(user)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.account.Available += amount
	return nil
}

// Withdraw debits a user's available balance.
func (l *Ledger) Withdraw(user uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: withdraw amount must be positive: %w", models.ErrInvalidSize)
	}
	r := l.rowFor(user)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account.Available < amount {
		return fmt.Errorf("ledger: withdraw %d exceeds available %d: %w", amount, r.account.Available, models.ErrInsufficientFunds)
	}
	r.account.Available -= amount
	return nil
}

// Reserve moves amount from available to reserved, failing with
// ErrInsufficientFunds if available is too low.
func (l *Ledger) Reserve(user uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("ledger: negative reserve: %w", models.ErrInvalidSize)
	}
	if amount == 0 {
		return nil
	}
	r := l.rowFor(user)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account.Available < amount {
		return fmt.Errorf("ledger: reserve %d exceeds available %d: %w", amount, r.account.Available, models.ErrInsufficientFunds)
	}
	r.account.Available -= amount
	r.account.Reserved += amount
	return nil
}

// Release is the inverse of Reserve: moves amount from reserved back to
// available. Releasing more than is reserved is a programming error in the
// caller (an engine bug), reported as an invariant violation rather than
// silently clamped.
func (l *Ledger) Release(user uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("ledger: negative release: %w", models.ErrInvalidSize)
	}
	if amount == 0 {
		return nil
	}
	r := l.rowFor(user)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account.Reserved < amount {
		return fmt.Errorf("ledger: release %d exceeds reserved %d for user %s: %w", amount, r.account.Reserved, user, models.ErrInvariantViolation)
	}
	r.account.Reserved -= amount
	r.account.Available += amount
	return nil
}

// Snapshot returns a read-only view of a user's balances and positions.
func (l *Ledger) Snapshot(user uuid.UUID) models.Snapshot {
	r := l.rowFor(user)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := models.Snapshot{
		UserID:    user,
		Available: r.account.Available,
		Reserved:  r.account.Reserved,
	}
	for _, p := range r.positions {
		out.Positions = append(out.Positions, *p)
	}
	return out
}

// PositionsForMarket returns every non-flat position across all users for
// marketID, for Settlement to discover who needs a resolution payout
// (spec.md §4.6 "For each user with non-zero position in the market").
func (l *Ledger) PositionsForMarket(marketID uuid.UUID) []models.Position {
	l.mu.RLock()
	rows := make([]*userRow, 0, len(l.users))
	for _, r := range l.users {
		rows = append(rows, r)
	}
	l.mu.RUnlock()

	var out []models.Position
	for _, r := range rows {
		r.mu.Lock()
		for key, p := range r.positions {
			if key.MarketID == marketID && p.Size != 0 {
				out = append(out, *p)
			}
		}
		r.mu.Unlock()
	}
	return out
}

// ReservedForUser returns a user's total reserved collateral currently
// attributable to marketID's order-book/AMM activity. Settlement doesn't
// track this per-order, so it conservatively reports the whole account's
// Reserved balance; callers resolving a single-market Ledger deployment can
// treat this as exact.
func (l *Ledger) ReservedForUser(user uuid.UUID) int64 {
	r := l.rowFor(user)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account.Reserved
}

// TotalBalance sums available+reserved across all known users. Used by
// property tests to assert invariant L1 (monetary conservation).
func (l *Ledger) TotalBalance() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, r := range l.users {
		r.mu.Lock()
		total += r.account.Total()
		r.mu.Unlock()
	}
	return total
}

func lockOrdered(a, b *userRow, aID, bID uuid.UUID) func() {
	if aID == bID {
		a.mu.Lock()
		return func() { a.mu.Unlock() }
	}
	first, second := a, b
	if bID.String() < aID.String() {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

func (l *Ledger) position(r *userRow, key models.PositionKey) *models.Position {
	p, ok := r.positions[key]
	if !ok {
		p = &models.Position{Key: key}
		r.positions[key] = p
	}
	return p
}

// applyFill updates one side's position and cost-basis for a fill: signedDelta
// is the signed change in share count (+size for a buyer, -size for a
// seller), and priceTicks is the trade price.
func applyFill(pos *models.Position, signedDelta, priceTicks int64) {
	applyFillCost(pos, signedDelta, signedDelta*priceTicks)
}

// applyFillCost is applyFill generalized to a total cost that need not be an
// exact per-unit price times size — the AMM's bonding-curve cost for a swap
// doesn't divide evenly across shares the way an order-book trade's single
// price does. costDelta follows the same sign convention signedDelta*price
// would: positive when this side pays, negative when it receives.
func applyFillCost(pos *models.Position, signedDelta, costDelta int64) {
	prevSize := pos.Size

	if prevSize == 0 || sameSign(prevSize, signedDelta) {
		// Opening or extending a position in the same direction: no shares
		// close, so no P&L realizes yet.
		pos.CostBasis += costDelta
		pos.Size = prevSize + signedDelta
		return
	}

	// signedDelta moves opposite to the existing position: some or all of
	// it closes (reducing or flipping) at the position's weighted-average
	// cost.
	closeQty := signedDelta
	if abs64(signedDelta) > abs64(prevSize) {
		closeQty = -prevSize // flipping through zero: close the old lot fully
	}
	avgCost := pos.CostBasis / prevSize
	closeCostBasis := closeQty * avgCost
	closeCash := costDelta * closeQty / signedDelta // prorated share of costDelta

	pos.RealizedPnL += closeCostBasis - closeCash
	pos.CostBasis += closeCostBasis

	if remainder := signedDelta - closeQty; remainder != 0 {
		// The flip case: what's left after closing opens a fresh lot.
		pos.CostBasis += costDelta - closeCash
	}
	pos.Size = prevSize + signedDelta
}

func sameSign(a, b int64) bool {
	return (a >= 0) == (b >= 0)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// SettleTrade is the atomic monetary core of spec.md §4.1: it moves
// buyerPrice*size ticks from the buyer's reserved balance to the seller's
// available balance, and applies the corresponding position deltas and
// cost-basis updates to both users in the same critical section. sellerID is
// always treated as a ledger row and credited; AMM swaps do not go through
// SettleTrade but through PoolSettle.
func (l *Ledger) SettleTrade(buyerID, sellerID uuid.UUID, marketID uuid.UUID, outcomeIndex int, priceTicks, size int64) error {
	if size <= 0 {
		return fmt.Errorf("ledger: settle size must be positive: %w", models.ErrInvalidSize)
	}
	if priceTicks <= 0 || priceTicks >= models.TicksPerUnit {
		return fmt.Errorf("ledger: settle price out of range: %w", models.ErrInvalidPrice)
	}

	buyerRow := l.rowFor(buyerID)
	sellerRow := l.rowFor(sellerID)
	unlock := lockOrdered(buyerRow, sellerRow, buyerID, sellerID)
	defer unlock()

	amount := priceTicks * size
	if buyerRow.account.Reserved < amount {
		return fmt.Errorf("ledger: buyer %s reserved %d below settle amount %d: %w", buyerID, buyerRow.account.Reserved, amount, models.ErrInvariantViolation)
	}

	buyerRow.account.Reserved -= amount
	sellerRow.account.Available += amount

	key := models.PositionKey{MarketID: marketID, OutcomeIndex: outcomeIndex}
	buyerKey, sellerKey := key, key
	buyerKey.UserID, sellerKey.UserID = buyerID, sellerID

	applyFill(l.position(buyerRow, buyerKey), size, priceTicks)
	applyFill(l.position(sellerRow, sellerKey), -size, priceTicks)

	if l.debugInvariants {
		if buyerRow.account.Available < 0 || buyerRow.account.Reserved < 0 ||
			sellerRow.account.Available < 0 || sellerRow.account.Reserved < 0 {
			panic(fmt.Errorf("ledger: %w after settle_trade", models.ErrInvariantViolation))
		}
	}
	return nil
}

// PoolSettle applies one side of an AMM swap (spec.md §4.3 "Swap") to a
// single user: sharesDelta is the signed change in their outcome position,
// collateralDelta is what this user pays (positive, already held in their
// Reserved balance by a prior Reserve call) or receives (negative, credited
// to Available directly). The pool itself is not a ledger row — its reserve
// accounting lives in amm.Pool — so unlike SettleTrade there is no
// counterparty lock to take beyond this one user.
func (l *Ledger) PoolSettle(user, marketID uuid.UUID, outcomeIndex int, sharesDelta, collateralDelta int64) error {
	r := l.rowFor(user)
	r.mu.Lock()
	defer r.mu.Unlock()

	if collateralDelta > 0 {
		if r.account.Reserved < collateralDelta {
			return fmt.Errorf("ledger: user %s reserved %d below pool settle amount %d: %w", user, r.account.Reserved, collateralDelta, models.ErrInvariantViolation)
		}
		r.account.Reserved -= collateralDelta
	} else if collateralDelta < 0 {
		r.account.Available += -collateralDelta
	}

	key := models.PositionKey{MarketID: marketID, OutcomeIndex: outcomeIndex, UserID: user}
	applyFillCost(l.position(r, key), sharesDelta, collateralDelta)

	if l.debugInvariants && (r.account.Available < 0 || r.account.Reserved < 0) {
		panic(fmt.Errorf("ledger: %w after pool_settle", models.ErrInvariantViolation))
	}
	return nil
}

// Payout is a single resolution payout line (spec.md §4.1 apply_resolution).
type Payout struct {
	UserID uuid.UUID
	Amount int64 // ticks, may be zero
}

// ApplyResolution pays out winning positions, releases the surviving portion
// of a loser's reserved collateral back to them, and forfeits the rest with
// no offsetting credit to anyone in this call — forfeitReserved is what
// funds payouts elsewhere, computed by the caller so that
// sum(payouts) == sum(forfeitReserved) and the call is net-zero on
// TotalBalance (spec.md §8 property 1). It applies the given amounts on every
// call, leaves positions untouched and keeps no record of earlier calls, so
// calling it twice with the same payouts pays twice; repeat-settlement
// protection lives in settlement.Engine, which records each settled
// (market, user) pair.
func (l *Ledger) ApplyResolution(marketID uuid.UUID, payouts []Payout, releaseReserved map[uuid.UUID]int64, forfeitReserved map[uuid.UUID]int64) {
	// Lock users in a fixed global order to avoid deadlock across this
	// batch (spec.md §5).
	ids := make([]uuid.UUID, 0, len(payouts)+len(releaseReserved)+len(forfeitReserved))
	seen := map[uuid.UUID]bool{}
	for _, p := range payouts {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}
	for id := range releaseReserved {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for id := range forfeitReserved {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	rows := make(map[uuid.UUID]*userRow, len(ids))
	for _, id := range ids {
		rows[id] = l.rowFor(id)
	}
	sortUUIDs(ids)
	for _, id := range ids {
		rows[id].mu.Lock()
		defer rows[id].mu.Unlock()
	}

	for _, p := range payouts {
		if p.Amount != 0 {
			rows[p.UserID].account.Available += p.Amount
		}
	}
	for id, amt := range releaseReserved {
		r := rows[id]
		if amt > r.account.Reserved {
			amt = r.account.Reserved
		}
		r.account.Reserved -= amt
		r.account.Available += amt
	}
	for id, amt := range forfeitReserved {
		r := rows[id]
		if amt > r.account.Reserved {
			amt = r.account.Reserved
		}
		r.account.Reserved -= amt
	}
}

func sortUUIDs(ids []uuid.UUID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1].String() > ids[j].String(); j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
