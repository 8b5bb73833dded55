// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package graft selects an eligible edge within a recipient clade and
// attaches a synthesized or singleton subtree there, via tree.Tree's
// low level Graft primitive.
package graft

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/js-arias/tact/tree"
)

// ErrUngraftableClade is returned when a recipient clade has no edge
// eligible to receive the graft subtree's age.
var ErrUngraftableClade = errors.New("graft: no eligible edge for clade")

// Graft attaches sub onto the clade rooted at recipient, in t. If
// stem is true, the edge incoming to recipient is also eligible
// (permitting the graft to attach above recipient itself). It returns
// the id, within t, of sub's former root once merged.
func Graft(t *tree.Tree, rng *rand.Rand, recipient int, sub *tree.Tree, stem bool) (int, error) {
	gAge := sub.Age(sub.Root())
	eligible := t.EligibleEdges(recipient, gAge, stem)
	if len(eligible) == 0 {
		return -1, fmt.Errorf("%w: recipient %d, graft age %g", ErrUngraftableClade, recipient, gAge)
	}

	focal := eligible[rng.Intn(len(eligible))]
	return t.Graft(focal, sub)
}
