// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package bd estimates birth and death rates of a constant-rate
// sampled birth-death process from a set of internal-node ages, and
// gives the closed-form crown-capture probability used to decide
// whether a sampled subset of a clade spans its crown.
package bd

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// ErrNoAges is returned when an estimate is requested from an empty
// age sequence.
var ErrNoAges = errors.New("bd: no internal node ages given")

// Rates holds a maximum likelihood birth-death rate estimate.
type Rates struct {
	Birth, Death float64

	// Converged is false when the optimizer did not reach its
	// convergence tolerance; Birth and Death still hold its best
	// iterate rather than an error.
	Converged bool
}

// Estimate returns the maximum likelihood birth and death rates of a
// constant-rate sampled birth-death process, given the descending
// sequence of internal-node ages of a clade (including its crown age)
// and the fraction f of its tips that are present in the sample.
//
// The likelihood is the reconstructed-process density of Stadler
// (2009), conditioned on survival of both crown lineages to the
// present. Optimization is over (log lambda, turnover), a
// reparameterization that keeps birth > 0 and 0 <= death < birth for
// every iterate the optimizer visits.
func Estimate(ages []float64, f float64) (Rates, error) {
	if len(ages) == 0 {
		return Rates{}, ErrNoAges
	}
	// f is documented to lie in (0, 1]; a caller-supplied value outside
	// that domain is clamped rather than rejected, since f <= 0 would
	// make the reconstructed-process density degenerate at 0.
	if f <= 0 {
		f = 1e-6
	}
	if f > 1 {
		f = 1
	}

	nll := func(x []float64) float64 {
		lambda, mu := unpack(x)
		ll, err := logLikelihood(ages, lambda, mu, f)
		if err != nil {
			return math.Inf(1)
		}
		return -ll
	}

	p := optimize.Problem{Func: nll}

	// a mild starting guess: birth rate of one event per unit time,
	// with a death rate of 0.3.
	x0 := pack(1, 0.3)

	res, err := optimize.Minimize(p, x0, &optimize.Settings{
		MajorIterations: 500,
	}, &optimize.NelderMead{})

	lambda, mu := unpack(x0)
	converged := false
	if err == nil && res != nil {
		lambda, mu = unpack(res.X)
		converged = res.Status == optimize.Success
	}

	if lambda < mu {
		lambda, mu = mu, lambda
	}
	return Rates{Birth: lambda, Death: mu, Converged: converged}, nil
}

// pack reparameterizes (lambda, mu) into an unconstrained vector:
// x[0] = log(lambda), x[1] = logit(mu/lambda).
func pack(lambda, mu float64) []float64 {
	turnover := mu / lambda
	turnover = math.Min(math.Max(turnover, 1e-9), 1-1e-9)
	return []float64{math.Log(lambda), math.Log(turnover / (1 - turnover))}
}

// unpack inverts pack.
func unpack(x []float64) (lambda, mu float64) {
	lambda = math.Exp(x[0])
	turnover := 1 / (1 + math.Exp(-x[1]))
	mu = turnover * lambda
	return lambda, mu
}

// logLikelihood computes the log-likelihood of the descending
// internal-node ages (ages[0] is the crown age) under a constant-rate
// birth-death process with birth rate lambda, death rate mu, and
// sampling fraction f, conditioned on survival of both crown
// lineages.
func logLikelihood(ages []float64, lambda, mu, f float64) (float64, error) {
	if lambda <= 0 || mu < 0 || mu >= lambda {
		return 0, fmt.Errorf("bd: invalid rates lambda=%g mu=%g", lambda, mu)
	}
	r := lambda - mu

	p1 := func(t float64) float64 {
		a := f*lambda + (lambda*(1-f)-mu)*math.Exp(-r*t)
		num := f * r * r * math.Exp(-r*t)
		return num / (a * a)
	}

	n := len(ages) + 1
	ll := float64(n-2) * math.Log(lambda)
	for _, t := range ages {
		p := p1(t)
		if p <= 0 {
			return 0, fmt.Errorf("bd: non-positive density at age %g", t)
		}
		ll += math.Log(p)
	}
	// condition on survival of the crown: remove the crown node's own
	// factor, which is implicit in the reconstructed-process density.
	ll -= math.Log(p1(ages[0]))
	return ll, nil
}

// Ccp is the crown-capture probability: the probability that a random
// subset of nSampled taxa, drawn without replacement from nTotal,
// spans the crown node of the clade.
func Ccp(nTotal, nSampled int) float64 {
	if nTotal <= 1 {
		return 1
	}
	if nSampled >= nTotal {
		return 1
	}
	if nSampled <= 0 {
		return 0
	}
	return 1 - 2/float64(nSampled+1)*float64(nTotal-nSampled)/float64(nTotal-1)
}
