package gift

import "math"

// DefaultRainbowGiftIDs are free gifts that carry the special 2.5x multiplier.
var DefaultRainbowGiftIDs = []int64{1601}

// DefaultFallbackPoints are base points used for gifts missing from the catalog.
var DefaultFallbackPoints = map[int64]int64{
	1601:    10,
	3:       3,
	18:      100,
	21:      100,
	800003:  100,
	800072:  100,
	3000349: 100,
}

const (
	paidFactor      = 2.5
	rainbowFactor   = 2.5
	topTierBase     = 500
	topTierMaxCount = 10
	topTierMult     = 1.20

	// DefaultHighValueThreshold is the point value from which a gift is logged as high value.
	DefaultHighValueThreshold = 3000
)

// quantityMultipliers is indexed by min(count, 10) - 1.
var quantityMultipliers = [10]float64{1.00, 1.04, 1.06, 1.08, 1.10, 1.12, 1.14, 1.16, 1.18, 1.20}

// Table is the immutable configuration of the valuation engine.
type Table struct {
	rainbow   map[int64]struct{}
	fallback  map[int64]int64
	highValue int64
}

// NewTable creates a table. The given collections are copied.
func NewTable(rainbowIDs []int64, fallback map[int64]int64, highValue int64) Table {
	t := Table{
		rainbow:   make(map[int64]struct{}, len(rainbowIDs)),
		fallback:  make(map[int64]int64, len(fallback)),
		highValue: highValue,
	}
	for _, id := range rainbowIDs {
		t.rainbow[id] = struct{}{}
	}
	for id, p := range fallback {
		t.fallback[id] = p
	}
	if t.highValue <= 0 {
		t.highValue = DefaultHighValueThreshold
	}
	return t
}

// DefaultTable returns the table used when nothing is configured.
func DefaultTable() Table {
	return NewTable(DefaultRainbowGiftIDs, DefaultFallbackPoints, DefaultHighValueThreshold)
}

// FallbackBasePoint returns the static base point for a gift, defaulting to 1.
func (t Table) FallbackBasePoint(giftID int64) int64 {
	if p, ok := t.fallback[giftID]; ok {
		return p
	}
	return 1
}

// IsHighValue reports whether a valued gift should go to the high-value log.
func (t Table) IsHighValue(points int64) bool {
	return points >= t.highValue
}

// Valuator converts gifts into points.
type Valuator struct {
	table Table
}

// NewValuator creates a valuator bound to the given table.
func NewValuator(table Table) *Valuator {
	return &Valuator{table: table}
}

// Table returns the valuator's table.
func (v *Valuator) Table() Table {
	return v.table
}

// QuantityMultiplier returns the multiplier for a gift count.
func QuantityMultiplier(count int) float64 {
	if count < 1 {
		count = 1
	}
	if count > len(quantityMultipliers) {
		count = len(quantityMultipliers)
	}
	return quantityMultipliers[count-1]
}

// Value returns the point value of count gifts with the given base point.
// The operand order follows the reference formula so float rounding matches it.
func (v *Valuator) Value(giftID int64, count int, isFree bool, basePoint int64) int64 {
	if count < 1 {
		count = 1
	}
	if basePoint < 0 {
		basePoint = 0
	}

	base := float64(basePoint)
	n := float64(count)
	mult := QuantityMultiplier(count)

	var raw float64
	if isFree {
		raw = base * n * mult
		if _, ok := v.table.rainbow[giftID]; ok {
			raw = base * n * mult * rainbowFactor
		}
	} else {
		raw = base * paidFactor * n * mult
		if basePoint >= topTierBase && count <= topTierMaxCount {
			raw = base * paidFactor * n * topTierMult
		}
	}

	return int64(math.Floor(raw))
}
