// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package graft_test

import (
	"testing"

	"golang.org/x/exp/rand"

	"github.com/js-arias/tact/graft"
	"github.com/js-arias/tact/tree"
)

func TestGraft(t *testing.T) {
	tr := tree.New("test", 10)
	root := tr.Root()
	in, _ := tr.Add(root, 4, "")
	tr.Add(in, 2, "A")
	tr.Add(in, 1, "B")

	sub := tree.New("new", 5)
	sub.AddChildAge(sub.Root(), 0, "Z")

	rng := rand.New(rand.NewSource(1))
	newRoot, err := graft.Graft(tr, rng, in, sub, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Parent(newRoot) != in && tr.Parent(tr.Parent(newRoot)) != in {
		t.Errorf("graft did not attach within the recipient clade")
	}
	if !tr.IsUltrametric(root, 1e-9) {
		t.Errorf("tree is not ultrametric after graft")
	}
	terms := tr.Terms()
	if len(terms) != 3 {
		t.Fatalf("Terms() = %v, want 3 entries", terms)
	}
}

func TestGraftUngraftable(t *testing.T) {
	tr := tree.New("test", 10)
	root := tr.Root()
	in, _ := tr.Add(root, 4, "")
	a, _ := tr.Add(in, 2, "A")
	tr.Add(in, 1, "B")
	tr.LockSubtree(in)
	_ = a

	sub := tree.New("new", 1.5)
	sub.AddChildAge(sub.Root(), 0, "Z")

	rng := rand.New(rand.NewSource(1))
	if _, err := graft.Graft(tr, rng, in, sub, false); err == nil {
		t.Errorf("expected error when clade is fully locked")
	}
}

func TestGraftStem(t *testing.T) {
	tr := tree.New("test", 10)
	root := tr.Root()
	in, _ := tr.Add(root, 4, "")
	tr.Add(in, 2, "A")
	tr.Add(in, 1, "B")
	tr.LockSubtree(in)

	sub := tree.New("new", 8)
	sub.AddChildAge(sub.Root(), 0, "Z")

	rng := rand.New(rand.NewSource(1))
	if _, err := graft.Graft(tr, rng, in, sub, true); err != nil {
		t.Fatalf("unexpected error with stem=true: %v", err)
	}
}
