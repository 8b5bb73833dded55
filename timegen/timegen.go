// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package timegen draws new branching times for lineages being
// grafted onto a clade, from the reconstructed-process density
// implied by an estimated birth-death rate pair.
package timegen

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidInterval is returned when the upper bound of a draw is
// not strictly greater than its lower bound.
var ErrInvalidInterval = errors.New("timegen: invalid interval")

// minRateDiff guards the pure-Yule limit (birth == death), where the
// closed-form inversion below has a removable singularity.
const minRateDiff = 1e-9

// Generate draws k new branching times in (tyoung, told], from the
// reconstructed-process density of a constant-rate birth-death
// process with the given birth and death rates, and returns them
// sorted in descending order.
//
// It covers only the time-drawing half of that work; the
// ancestor-search and ccp-threshold logic live in package insertion,
// which calls bd and this package as collaborators.
func Generate(rng *rand.Rand, birth, death float64, k int, told, tyoung float64) ([]float64, error) {
	if k == 0 {
		return nil, nil
	}
	if told <= tyoung {
		return nil, fmt.Errorf("%w: told %g <= tyoung %g", ErrInvalidInterval, told, tyoung)
	}

	u := distuv.Uniform{Min: 0, Max: 1, Src: rng}

	span := told - tyoung
	times := make([]float64, k)
	for i := range times {
		s := inverseSpeciationTime(u.Rand(), birth, death, span)
		times[i] = tyoung + s
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(times)))
	return times, nil
}

// inverseSpeciationTime inverts the CDF of a single reconstructed
// speciation time on (0, span], measured from the younger boundary,
// under a constant-rate birth-death process (Hartmann, Wong & Stadler
// 2010). u is a draw from Uniform(0,1).
func inverseSpeciationTime(u, lambda, mu, span float64) float64 {
	r := lambda - mu
	if math.Abs(r) < minRateDiff {
		// pure-Yule limit: r -> 0.
		return span * (1 - u) * (1 + lambda*span) / (1 + lambda*span*(1-u))
	}

	e := math.Exp(-r * span)
	num := lambda - mu*e - mu*(1-e)*u
	den := lambda - mu*e - lambda*(1-e)*u
	t := span - (1/r)*math.Log(num/den)
	if t < 0 {
		t = 0
	}
	if t > span {
		t = span
	}
	return t
}
