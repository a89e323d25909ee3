package slots

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Level is one rung of the ship upgrade ladder
type Level struct {
	Level    int
	Slots    int
	PriceUSD decimal.Decimal
}

// Ladder is the ship upgrade ladder ordered by level
type Ladder []Level

// DefaultLadder is used when no economy file overrides it
func DefaultLadder() Ladder {
	return Ladder{
		{Level: 1, Slots: 2, PriceUSD: decimal.Zero},
		{Level: 2, Slots: 4, PriceUSD: decimal.NewFromInt(60)},
		{Level: 3, Slots: 6, PriceUSD: decimal.NewFromInt(120)},
	}
}

// Normalize sorts the ladder and reports whether it is a valid monotonic ladder starting at 1
func (l Ladder) Normalize() (Ladder, bool) {
	out := make(Ladder, len(l))
	copy(out, l)
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })

	for i, lv := range out {
		if lv.Level != i+1 || lv.Slots <= 0 {
			return nil, false
		}
		if i > 0 && lv.Slots < out[i-1].Slots {
			return nil, false
		}
	}
	return out, len(out) > 0
}

// MaxSlots returns the slot count for a ship level
func (l Ladder) MaxSlots(level int) (int, bool) {
	for _, lv := range l {
		if lv.Level == level {
			return lv.Slots, true
		}
	}
	return 0, false
}

// Next returns the rung above level
func (l Ladder) Next(level int) (Level, bool) {
	for _, lv := range l {
		if lv.Level == level+1 {
			return lv, true
		}
	}
	return Level{}, false
}

// Top returns the highest level
func (l Ladder) Top() int {
	if len(l) == 0 {
		return 0
	}
	return l[len(l)-1].Level
}
