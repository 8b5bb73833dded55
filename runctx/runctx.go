// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package runctx carries the Insertion Engine's run-scoped
// collaborators: the injectable PRNG, the Fast MRCA Index, the
// ancestor backoff cache, the run logger, and the resolved
// configuration.
//
// Threading all of this through an explicit *Context, rather than
// reaching for package-level state, keeps the engine straightforward
// to exercise in tests with a seeded PRNG.
package runctx

import (
	"golang.org/x/exp/rand"

	"github.com/sirupsen/logrus"

	"github.com/js-arias/tact/mrca"
)

// Config is the resolved set of options that parameterize a single
// insertion run.
type Config struct {
	// MinCcp is the minimum crown-capture probability required
	// before a rank's extant sample is trusted to delimit its
	// crown.
	MinCcp float64

	// MinExtant is the sampling floor: a rank with MinExtant or
	// fewer sampled tips triggers the sampling backoff walk.
	MinExtant int

	// Cores bounds the width of every parallel fan-out
	// (Fast MRCA Index construction, Rate Precomputer buckets).
	Cores int
}

// Context is the Run Context threaded through the Insertion Engine.
type Context struct {
	Config Config

	// Rand is the single process-wide random source. All
	// stochastic choices in the engine - time draws, clade
	// synthesis, graft-edge selection - are made through it, never
	// through the global math/rand functions, so a run is
	// reproducible given a seed.
	Rand *rand.Rand

	// MRCA is the Fast MRCA Index over the current state of the
	// backbone tree. The Insertion Engine replaces it whenever the
	// backbone's tip set changes (after each grafted deferred clade,
	// and after each rank's missing tips are filled).
	MRCA *mrca.Index

	// Log receives one structured entry per engine decision,
	// tagged with taxon/rank fields.
	Log *logrus.Entry

	// backoff memoizes the sampling-backoff walk: a taxonomy label
	// that previously failed the ccp/monophyly test maps to the
	// ancestor label that the walk settled on, so later nodes in
	// the same subtree skip straight to it.
	backoff map[string]string
}

// New returns a Context ready to drive a run.
func New(cfg Config, seed uint64, log *logrus.Entry) *Context {
	return &Context{
		Config:  cfg,
		Rand:    rand.New(rand.NewSource(seed)),
		Log:     log,
		backoff: make(map[string]string),
	}
}

// BackoffTarget returns the ancestor label previously resolved for
// label by the sampling backoff walk, if any.
func (c *Context) BackoffTarget(label string) (string, bool) {
	t, ok := c.backoff[label]
	return t, ok
}

// SetBackoffTarget memoizes that label resolves to target for the
// rest of the run.
func (c *Context) SetBackoffTarget(label, target string) {
	c.backoff[label] = target
}
