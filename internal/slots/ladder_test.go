package slots

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLadder(t *testing.T) {
	l := DefaultLadder()

	n, ok := l.MaxSlots(1)
	require.True(t, ok)
	assert.Equal(t, 2, n)

	next, ok := l.Next(1)
	require.True(t, ok)
	assert.Equal(t, 2, next.Level)
	assert.Equal(t, 4, next.Slots)
	assert.True(t, decimal.NewFromInt(60).Equal(next.PriceUSD))

	_, ok = l.Next(3)
	assert.False(t, ok)
	assert.Equal(t, 3, l.Top())

	_, ok = l.MaxSlots(7)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		ladder Ladder
		ok     bool
	}{
		{name: "default", ladder: DefaultLadder(), ok: true},
		{name: "unsorted", ladder: Ladder{{Level: 2, Slots: 3}, {Level: 1, Slots: 1}}, ok: true},
		{name: "empty", ladder: Ladder{}},
		{name: "gap", ladder: Ladder{{Level: 1, Slots: 2}, {Level: 3, Slots: 4}}},
		{name: "shrinking", ladder: Ladder{{Level: 1, Slots: 4}, {Level: 2, Slots: 2}}},
		{name: "no slots", ladder: Ladder{{Level: 1, Slots: 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := tt.ladder.Normalize()
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, 1, out[0].Level)
			}
		})
	}
}

func TestFirstFree(t *testing.T) {
	assert.Equal(t, 0, FirstFree(map[int]bool{}, 2))
	assert.Equal(t, 1, FirstFree(map[int]bool{0: true, 2: true}, 4))
	assert.Equal(t, -1, FirstFree(map[int]bool{0: true, 1: true}, 2))
}
