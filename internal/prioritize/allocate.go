package prioritize

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/territorial-engagement/backend/internal/domain"
)

// scoreShift keeps the smallest shifted score strictly positive.
const scoreShift = 0.1

// Standardize maps values to z-scores with the population standard
// deviation. Fewer than two values score 0.5; a constant column scores 0.
func Standardize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) < 2 {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

// Allocate distributes target units proportionally to the shifted scores.
// Rounding residue is settled one unit at a time, highest raw score first,
// so the counts always sum to target.
func Allocate(raw []float64, target int) (normalized []float64, counts []int) {
	n := len(raw)
	normalized = make([]float64, n)
	counts = make([]int, n)
	if n == 0 {
		return normalized, counts
	}

	min := raw[0]
	for _, s := range raw[1:] {
		if s < min {
			min = s
		}
	}

	total := 0.0
	for i, s := range raw {
		normalized[i] = s - min + scoreShift
		total += normalized[i]
	}

	assigned := 0
	for i := range normalized {
		normalized[i] /= total
		counts[i] = int(math.Round(normalized[i] * float64(target)))
		assigned += counts[i]
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return raw[order[a]] > raw[order[b]] })

	residual := target - assigned
	for residual != 0 {
		moved := false
		for _, i := range order {
			if residual == 0 {
				break
			}
			if residual > 0 {
				counts[i]++
				residual--
				moved = true
			} else if counts[i] > 0 {
				counts[i]--
				residual++
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	return normalized, counts
}

func actionFor(delta int) domain.Action {
	switch {
	case delta > 0:
		return domain.ActionIncrease
	case delta < 0:
		return domain.ActionReduce
	}
	return domain.ActionMaintain
}

// classify ranks a raw score against the mean score of its table.
func classify(score, mean float64) domain.PriorityClass {
	switch {
	case score > mean+0.5:
		return domain.PriorityHigh
	case score > mean:
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}
