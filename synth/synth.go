// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package synth builds a standalone, fully locked, ultrametric binary
// subtree from a list of species and a list of internal-node ages.
package synth

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/js-arias/tact/tree"
)

// ErrSizeMismatch is returned when the number of ages does not match
// the number of species: len(species) for a full crown (the stem age
// plus one per cladogenesis event below it), or 1 for a singleton
// stem-only clade (len(species) == 1).
var ErrSizeMismatch = errors.New("synth: ages/species count mismatch")

// AgesNeeded returns the number of internal-node ages Synthesize
// requires for a clade of nSpecies species: the stem age plus one per
// cladogenesis event below it (nSpecies-1 of those, for nSpecies
// total), or 1 for a singleton stem-only clade.
func AgesNeeded(nSpecies int) int {
	if nSpecies <= 1 {
		return 1
	}
	return nSpecies
}

// Synthesize builds an ultrametric binary subtree naming every
// species in species, from a list of ages (the stem age, plus one
// internal-node age per further cladogenesis event below it; order
// does not matter, Synthesize sorts them itself).
//
// Every edge of the returned tree is locked: the synthesized clade is
// meant to be grafted wholesale and never split again.
func Synthesize(rng *rand.Rand, species []string, ages []float64, method string) (*tree.Tree, error) {
	if len(species) == 0 {
		return nil, fmt.Errorf("synth: no species given")
	}
	wantAges := AgesNeeded(len(species))
	if len(ages) != wantAges {
		return nil, fmt.Errorf("%w: %d species, %d ages", ErrSizeMismatch, len(species), len(ages))
	}

	sorted := append([]float64(nil), ages...)
	sortDescending(sorted)
	stemAge := sorted[0]
	rest := sorted[1:]

	t := tree.New("clade", stemAge)
	root := t.Root()

	if len(species) == 1 {
		// singleton clade: the sole species hangs directly off the
		// stem, at age 0, on an edge as long as the stem age.
		leaf, err := t.AddChildAge(root, 0, species[0])
		if err != nil {
			return nil, err
		}
		t.SetAnnotation(leaf, 0, 0, method)
		t.LockSubtree(root)
		return t, nil
	}

	// the crown: the single child of the stem, at the second-largest
	// age, carrying the root of the clade's own cladogenesis. In a
	// 2-species clade no ages remain after it, and both species
	// attach directly below it.
	crownAge := 0.0
	if len(rest) > 0 {
		crownAge = rest[0]
		rest = rest[1:]
	}
	crown, err := t.AddChildAge(root, crownAge, "")
	if err != nil {
		return nil, err
	}

	for _, age := range rest {
		valid := validAttachPoints(t, crown, age)
		if len(valid) == 0 {
			return nil, fmt.Errorf("synth: no valid attachment point for age %g", age)
		}
		parent := valid[rng.Intn(len(valid))]
		if _, err := t.AddChildAge(parent, age, ""); err != nil {
			return nil, err
		}
	}

	shuffled := append([]string(nil), species...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for _, id := range append([]int{crown}, internalBelow(t, crown)...) {
		for len(t.Children(id)) < 2 && len(shuffled) > 0 {
			name := shuffled[len(shuffled)-1]
			shuffled = shuffled[:len(shuffled)-1]
			if _, err := t.AddChildAge(id, 0, name); err != nil {
				return nil, err
			}
		}
	}
	if len(shuffled) != 0 {
		return nil, fmt.Errorf("synth: %d species left unplaced", len(shuffled))
	}

	if !t.IsBinary(crown) {
		return nil, fmt.Errorf("synth: synthesized clade is not binary")
	}
	if !t.IsUltrametric(root, 1e-9) {
		return nil, fmt.Errorf("synth: synthesized clade is not ultrametric")
	}

	for _, id := range t.Nodes() {
		t.SetAnnotation(id, 0, 0, method)
	}
	t.LockSubtree(root)

	return t, nil
}

// validAttachPoints returns the ids, within the subtree rooted at
// crown (crown included), of nodes with fewer than two children and
// an age strictly greater than age.
func validAttachPoints(t *tree.Tree, crown int, age float64) []int {
	var out []int
	var walk func(id int)
	walk = func(id int) {
		if len(t.Children(id)) < 2 && t.Age(id) > age {
			out = append(out, id)
		}
		for _, c := range t.Children(id) {
			walk(c)
		}
	}
	walk(crown)
	return out
}

// internalBelow returns every node in the subtree rooted at id other
// than id itself, in preorder, whose age is greater than 0 (so
// terminal-to-be placeholders created by earlier attachments are
// visited, but not yet-unplaced leaves, which have no children of
// their own anyway).
func internalBelow(t *tree.Tree, id int) []int {
	var out []int
	var walk func(id int)
	walk = func(id int) {
		for _, c := range t.Children(id) {
			if t.Age(c) > 0 {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(id)
	return out
}

func sortDescending(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] > xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}
