// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package mrca_test

import (
	"testing"

	"github.com/js-arias/tact/mrca"
	"github.com/js-arias/tact/tree"
)

func buildTestTree() *tree.Tree {
	tr := tree.New("test", 10)
	root := tr.Root()
	in, _ := tr.Add(root, 4, "")
	tr.Add(in, 2, "A")
	tr.Add(in, 1, "B")
	tr.Add(root, 10, "C")
	return tr
}

func TestGet(t *testing.T) {
	tr := buildTestTree()
	idx := mrca.Build(tr, 2, 1)

	id, ok := idx.Get([]string{"A", "B"})
	if !ok {
		t.Fatalf("Get(A, B) failed, want success")
	}
	if tr.IsTerm(id) {
		t.Errorf("Get(A, B) returned a terminal, want internal node")
	}
	if got := tr.Tips(id); len(got) != 2 {
		t.Errorf("Get(A, B) = node with %d tips, want 2", len(got))
	}
}

func TestGetStrict(t *testing.T) {
	tr := buildTestTree()
	idx := mrca.Build(tr, 2, 1)

	if _, ok := idx.GetStrict([]string{"A", "B"}); !ok {
		t.Errorf("GetStrict(A, B) failed, want success (exact monophyly)")
	}
	if _, ok := idx.GetStrict([]string{"A", "C"}); ok {
		t.Errorf("GetStrict(A, C) succeeded, want failure (their MRCA also spans B)")
	}
}

func TestGetEmpty(t *testing.T) {
	tr := buildTestTree()
	idx := mrca.Build(tr, 2, 1)

	if _, ok := idx.Get(nil); ok {
		t.Errorf("Get(nil) succeeded, want failure")
	}
}

func TestGetUnknownTaxon(t *testing.T) {
	tr := buildTestTree()
	idx := mrca.Build(tr, 2, 1)

	if _, ok := idx.Get([]string{"Z"}); ok {
		t.Errorf("Get(unknown) succeeded, want failure")
	}
}

func TestBuildAutotuned(t *testing.T) {
	tr := buildTestTree()
	idx := mrca.Build(tr, 2, 0)
	if idx.Namespace().Len() != 3 {
		t.Errorf("Namespace().Len() = %d, want 3", idx.Namespace().Len())
	}
}
