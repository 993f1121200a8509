// Package fl holds the federated-learning data types and the
// federated-averaging aggregator.
package fl

import (
	"encoding/json"
	"time"

	"github.com/absmach/flotilla/pkg/errors"
)

// Delta is a client's weight change: one numeric array per model
// layer. Strings of nested arrays are wire format only; everything
// past the boundary works on this type.
type Delta struct {
	Layers [][]float64
}

// Shape describes layer sizes.
type Shape []int

// ParseDelta decodes a wire payload into a typed delta. Anything that
// is not a nested numeric array fails the format check.
func ParseDelta(raw json.RawMessage) (Delta, error) {
	if len(raw) == 0 {
		return Delta{}, errors.ErrMalformedDelta
	}

	var layers [][]float64
	if err := json.Unmarshal(raw, &layers); err != nil {
		return Delta{}, errors.ErrMalformedDelta
	}
	if len(layers) == 0 {
		return Delta{}, errors.ErrMalformedDelta
	}
	for _, layer := range layers {
		if len(layer) == 0 {
			return Delta{}, errors.ErrMalformedDelta
		}
	}

	return Delta{Layers: layers}, nil
}

func (d Delta) Shape() Shape {
	shape := make(Shape, len(d.Layers))
	for i, layer := range d.Layers {
		shape[i] = len(layer)
	}

	return shape
}

func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}

	return true
}

// Update is an accepted submission buffered for aggregation.
type Update struct {
	ClientID   string    `json:"client_id"`
	RoundID    uint64    `json:"round_id"`
	Delta      Delta     `json:"-"`
	FinalLoss  *float64  `json:"final_loss,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
