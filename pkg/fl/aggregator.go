package fl

import (
	"sort"

	"github.com/absmach/flotilla/pkg/errors"
)

type Aggregator interface {
	// Aggregate averages the deltas and adds the mean to base,
	// producing the next model payload.
	Aggregate(base [][]float64, updates []Update) ([][]float64, error)
}

type FedAvgAggregator struct{}

func NewFedAvgAggregator() Aggregator {
	return FedAvgAggregator{}
}

func (FedAvgAggregator) Aggregate(base [][]float64, updates []Update) ([][]float64, error) {
	if len(updates) == 0 {
		return nil, errors.ErrNotReady
	}

	baseShape := make(Shape, len(base))
	for i, layer := range base {
		baseShape[i] = len(layer)
	}
	for _, u := range updates {
		if !u.Delta.Shape().Equal(baseShape) {
			return nil, errors.ErrAggregationFailed
		}
	}

	// Ascending client order keeps the accumulation deterministic
	// across runs with the same inputs.
	ordered := make([]Update, len(updates))
	copy(ordered, updates)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ClientID < ordered[j].ClientID
	})

	sum := make([][]float64, len(base))
	for i, layer := range base {
		sum[i] = make([]float64, len(layer))
	}
	for _, u := range ordered {
		for i, layer := range u.Delta.Layers {
			for j, v := range layer {
				sum[i][j] += v
			}
		}
	}

	n := float64(len(ordered))
	next := make([][]float64, len(base))
	for i, layer := range base {
		next[i] = make([]float64, len(layer))
		for j, v := range layer {
			next[i][j] = v + sum[i][j]/n
		}
	}

	return next, nil
}
