package book

import (
	"fmt"

	"spider_go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// Side of the book.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bids"
	}
	return "asks"
}

// PriceLevel is a (price, size) pair. A zero size removes the level.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Replica is the in-memory order book of one instrument.
// Bids iterate best (highest) first, asks best (lowest) first.
//
// A Replica is not safe for concurrent use. It is owned by the receive loop
// that decodes frames for its connection.
type Replica struct {
	inst     domain.Instrument
	scale    decimal.Decimal
	maxDepth int

	bids *btree.BTreeG[PriceLevel]
	asks *btree.BTreeG[PriceLevel]

	sequence     int64
	timestamp    int64 // ms, non-decreasing
	ticker       domain.TickerFields
	connectionID int64
}

// NewReplica creates an empty book. The contract scale is taken from the
// instrument once and never recomputed. maxDepth <= 0 keeps every level.
func NewReplica(inst domain.Instrument, maxDepth int, connectionID int64) *Replica {
	return &Replica{
		inst:         inst,
		scale:        inst.ContractSize(),
		maxDepth:     maxDepth,
		bids:         newSide(Bid),
		asks:         newSide(Ask),
		connectionID: connectionID,
	}
}

func newSide(side Side) *btree.BTreeG[PriceLevel] {
	less := func(a, b PriceLevel) bool { return a.Price.LessThan(b.Price) }
	if side == Bid {
		less = func(a, b PriceLevel) bool { return a.Price.GreaterThan(b.Price) }
	}
	return btree.NewBTreeGOptions(less, btree.Options{NoLocks: true})
}

// Instrument returns the identity the replica was created for.
func (r *Replica) Instrument() domain.Instrument { return r.inst }

// Sequence returns the sequence recorded by the last snapshot.
func (r *Replica) Sequence() int64 { return r.sequence }

// Timestamp returns the latest data timestamp in milliseconds.
func (r *Replica) Timestamp() int64 { return r.timestamp }

// ApplySnapshot replaces both sides with wire levels. Sizes are raw contract
// counts and get scaled here. Zero sizes are skipped. On malformed input the
// prior state is kept.
func (r *Replica) ApplySnapshot(bids, asks []PriceLevel, sequence, timestamp int64) error {
	if err := validate(bids); err != nil {
		return fmt.Errorf("snapshot bids: %w", err)
	}
	if err := validate(asks); err != nil {
		return fmt.Errorf("snapshot asks: %w", err)
	}

	nextBids, nextAsks := newSide(Bid), newSide(Ask)
	r.load(nextBids, bids)
	r.load(nextAsks, asks)

	r.bids, r.asks = nextBids, nextAsks
	r.sequence = sequence
	r.touch(timestamp)
	return nil
}

// ApplyUpdate applies incremental levels to one side. A zero size deletes the
// price if present; deleting an absent price is a no-op. Older timestamps are
// still applied, only the recorded timestamp never moves backwards.
func (r *Replica) ApplyUpdate(side Side, levels []PriceLevel, timestamp int64) error {
	if err := validate(levels); err != nil {
		return fmt.Errorf("update %s: %w", side, err)
	}
	tree := r.side(side)
	r.load(tree, levels)
	r.touch(timestamp)
	return nil
}

func (r *Replica) load(tree *btree.BTreeG[PriceLevel], levels []PriceLevel) {
	for _, lv := range levels {
		if lv.Size.IsZero() {
			tree.Delete(PriceLevel{Price: lv.Price})
			continue
		}
		tree.Set(PriceLevel{Price: lv.Price, Size: lv.Size.Mul(r.scale)})
	}
	// Storage-level depth bound: drop the worst levels. A later delete of an
	// evicted price finds nothing and is a no-op.
	if r.maxDepth > 0 {
		for tree.Len() > r.maxDepth {
			tree.PopMax()
		}
	}
}

func (r *Replica) touch(timestamp int64) {
	if timestamp > r.timestamp {
		r.timestamp = timestamp
	}
}

func (r *Replica) side(side Side) *btree.BTreeG[PriceLevel] {
	if side == Bid {
		return r.bids
	}
	return r.asks
}

func validate(levels []PriceLevel) error {
	for _, lv := range levels {
		if !lv.Price.IsPositive() || lv.Size.IsNegative() {
			return fmt.Errorf("%w: price=%s size=%s", domain.ErrMalformedLevel, lv.Price, lv.Size)
		}
	}
	return nil
}

// BestBid returns the depth-th best bid (1 = top of book).
func (r *Replica) BestBid(depth int) (PriceLevel, bool) {
	return r.level(r.bids, depth)
}

// BestAsk returns the depth-th best ask (1 = top of book).
func (r *Replica) BestAsk(depth int) (PriceLevel, bool) {
	return r.level(r.asks, depth)
}

func (r *Replica) level(tree *btree.BTreeG[PriceLevel], depth int) (PriceLevel, bool) {
	if depth < 1 || depth > tree.Len() {
		return PriceLevel{}, false
	}
	return tree.GetAt(depth - 1)
}

// Depth returns the number of stored levels on a side.
func (r *Replica) Depth(side Side) int {
	return r.side(side).Len()
}

// UpdateTicker replaces the ticker annotations wholesale.
func (r *Replica) UpdateTicker(fields domain.TickerFields) {
	r.ticker = fields
}

// Ticker returns the current ticker annotations.
func (r *Replica) Ticker() domain.TickerFields {
	return r.ticker
}
