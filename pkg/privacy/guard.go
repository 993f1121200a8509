// Package privacy rejects weight deltas carrying non-finite or
// out-of-range values.
package privacy

import (
	"math"

	"github.com/absmach/flotilla/pkg/errors"
	"github.com/absmach/flotilla/pkg/fl"
)

// DefaultMaxMagnitude bounds |x| for every delta element.
const DefaultMaxMagnitude = 1e6

type Guard struct {
	maxMagnitude float64
}

func NewGuard(maxMagnitude float64) Guard {
	if maxMagnitude <= 0 {
		maxMagnitude = DefaultMaxMagnitude
	}

	return Guard{maxMagnitude: maxMagnitude}
}

// Inspect validates every element of the delta. A single offending
// value rejects the whole submission.
func (g Guard) Inspect(delta fl.Delta) error {
	for _, layer := range delta.Layers {
		for _, v := range layer {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.ErrInvalidValues
			}
			if math.Abs(v) > g.maxMagnitude {
				return errors.ErrInvalidValues
			}
		}
	}

	return nil
}
