package book

import (
	"time"

	"spider_go/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// View is the published form of a replica. Levels are [price, size] pairs,
// best first. MsgMs is stamped by the publisher right before encoding.
type View struct {
	InstrumentName string            `msgpack:"instrument_name" json:"instrument_name"`
	Asks           [][2]float64      `msgpack:"asks" json:"asks"`
	Bids           [][2]float64      `msgpack:"bids" json:"bids"`
	DueTime        float64           `msgpack:"due_time" json:"due_time"`
	DataMs         int64             `msgpack:"data_ms" json:"data_ms"`
	MsgMs          int64             `msgpack:"msg_ms" json:"msg_ms"`
	Greeks         *domain.Greeks    `msgpack:"greeks" json:"greeks"`
	MarkPrice      *float64          `msgpack:"mark_price" json:"mark_price"`
	MarkIV         float64           `msgpack:"mark_iv" json:"mark_iv"`
	BidIV          float64           `msgpack:"bid_iv" json:"bid_iv"`
	AskIV          float64           `msgpack:"ask_iv" json:"ask_iv"`
	ConnectionID   int64             `msgpack:"connection_id" json:"connection_id"`
	ExpirationAt   *int64            `msgpack:"expiration_at" json:"expiration_at"`
	ExpirationDays *int64            `msgpack:"expiration_days" json:"expiration_days"`
	Sequence       int64             `msgpack:"-" json:"-"`
	Instrument     domain.Instrument `msgpack:"-" json:"-"`
}

// Serialize copies at most maxDepth levels per side (all when maxDepth <= 0)
// plus the ticker annotations. The stored book is not touched.
func (r *Replica) Serialize(maxDepth int) View {
	v := View{
		InstrumentName: r.inst.Name,
		Asks:           collect(r.asks, maxDepth),
		Bids:           collect(r.bids, maxDepth),
		DataMs:         r.timestamp,
		Greeks:         r.ticker.Greeks,
		MarkPrice:      domain.Float(r.ticker.MarkPrice),
		MarkIV:         orZero(r.ticker.MarkIV),
		BidIV:          orZero(r.ticker.BidIV),
		AskIV:          orZero(r.ticker.AskIV),
		ConnectionID:   r.connectionID,
		ExpirationAt:   r.inst.ExpirationMillis(),
		Sequence:       r.sequence,
		Instrument:     r.inst,
	}
	if !r.inst.ExpiresAt.IsZero() {
		v.DueTime = float64(r.inst.ExpiresAt.UnixMilli()) / 1000
	}
	return v
}

// Stamp sets the publish-time fields.
func (v *View) Stamp(now time.Time) {
	v.MsgMs = now.UnixMilli()
	v.ExpirationDays = v.Instrument.ExpirationDays(now)
}

func collect(tree *btree.BTreeG[PriceLevel], maxDepth int) [][2]float64 {
	n := tree.Len()
	if maxDepth > 0 && maxDepth < n {
		n = maxDepth
	}
	out := make([][2]float64, 0, n)
	tree.Scan(func(lv PriceLevel) bool {
		if len(out) == n {
			return false
		}
		out = append(out, [2]float64{lv.Price.InexactFloat64(), lv.Size.InexactFloat64()})
		return true
	})
	return out
}

func orZero(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}
