// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package insertion_test

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/js-arias/tact/insertion"
	"github.com/js-arias/tact/mrca"
	"github.com/js-arias/tact/runctx"
	"github.com/js-arias/tact/tree"
)

func newTestContext(backbone *tree.Tree, cores int) *runctx.Context {
	log := logrus.New()
	log.SetOutput(io.Discard)
	ctx := runctx.New(runctx.Config{MinCcp: 0, MinExtant: 0, Cores: cores}, 1, logrus.NewEntry(log))
	ctx.MRCA = mrca.Build(backbone, cores, 1)
	return ctx
}

// buildBackbone returns a backbone with a single resolved genus {A, B}
// under "in", plus an outgroup O, leaving every other taxon of the
// test taxonomy entirely unrepresented.
func buildBackbone() *tree.Tree {
	tr := tree.New("backbone", 30)
	root := tr.Root()
	in, _ := tr.Add(root, 20, "") // age 10
	tr.Add(in, 10, "A")           // age 0
	tr.Add(in, 10, "B")           // age 0
	tr.Add(root, 30, "O")         // age 0
	return tr
}

// buildTaxonomy returns a family F of three genera: Genus1 {A, B}
// (fully sampled), Genus2 {C, D} (entirely missing) and Genus3 {E}
// (a missing singleton genus), plus the outgroup O.
func buildTaxonomy() *tree.Tree {
	tx := tree.New("taxonomy", 20)
	root := tx.Root()
	f, _ := tx.Add(root, 5, "")
	tx.SetName(f, "F")

	g1, _ := tx.Add(f, 7, "")
	tx.SetName(g1, "Genus1")
	tx.Add(g1, 8, "A")
	tx.Add(g1, 8, "B")

	g2, _ := tx.Add(f, 7, "")
	tx.SetName(g2, "Genus2")
	tx.Add(g2, 8, "C")
	tx.Add(g2, 8, "D")

	g3, _ := tx.Add(f, 7, "")
	tx.SetName(g3, "Genus3")
	tx.Add(g3, 8, "E")

	tx.Add(root, 20, "O")
	return tx
}

func TestRunGraftsDeferredCladesAndLocks(t *testing.T) {
	backbone := buildBackbone()
	taxonomy := buildTaxonomy()
	ctx := newTestContext(backbone, 2)

	eng := insertion.New(ctx, taxonomy, backbone, 2)
	if err := eng.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	terms := backbone.Terms()
	want := map[string]bool{"A": true, "B": true, "C": true, "D": true, "E": true, "O": true}
	if len(terms) != len(want) {
		t.Fatalf("Terms() = %v, want %d entries", terms, len(want))
	}
	for _, name := range terms {
		if !want[name] {
			t.Errorf("unexpected taxon %q in grafted backbone", name)
		}
	}

	if !backbone.IsUltrametric(backbone.Root(), 1e-9) {
		t.Errorf("backbone is not internally consistent after insertion")
	}

	in, ok := backbone.TaxNode("A")
	if !ok {
		t.Fatalf("taxon A not found after insertion")
	}
	parent := backbone.Parent(in)
	for parent != backbone.Root() {
		if !backbone.EdgeLocked(in) {
			t.Errorf("clade containing A is not fully locked after fill")
		}
		in, parent = parent, backbone.Parent(parent)
	}
}

func TestRunNothingToDoWhenFullySampled(t *testing.T) {
	backbone := tree.New("backbone", 10)
	root := backbone.Root()
	in, _ := backbone.Add(root, 6, "")
	backbone.Add(in, 4, "A")
	backbone.Add(in, 4, "B")

	taxonomy := tree.New("taxonomy", 10)
	troot := taxonomy.Root()
	g, _ := taxonomy.Add(troot, 4, "")
	taxonomy.SetName(g, "Genus1")
	taxonomy.Add(g, 6, "A")
	taxonomy.Add(g, 6, "B")

	ctx := newTestContext(backbone, 1)
	eng := insertion.New(ctx, taxonomy, backbone, 1)
	if err := eng.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	terms := backbone.Terms()
	if len(terms) != 2 {
		t.Fatalf("Terms() = %v, want exactly [A B]", terms)
	}
}

func TestRunSkipsNonMonophyleticRank(t *testing.T) {
	// A and C are not sisters in the backbone: their strict MRCA
	// spans B too, so a taxonomy rank naming only {A, C, D} (with D
	// missing) cannot be resolved and must be skipped.
	backbone := tree.New("backbone", 10)
	root := backbone.Root()
	backbone.Add(root, 10, "A")
	in, _ := backbone.Add(root, 4, "")
	backbone.Add(in, 2, "B")
	backbone.Add(in, 2, "C")

	taxonomy := tree.New("taxonomy", 10)
	troot := taxonomy.Root()
	g, _ := taxonomy.Add(troot, 4, "")
	taxonomy.SetName(g, "Mixed")
	taxonomy.Add(g, 6, "A")
	taxonomy.Add(g, 6, "C")
	taxonomy.Add(g, 6, "D")

	ctx := newTestContext(backbone, 1)
	eng := insertion.New(ctx, taxonomy, backbone, 1)
	if err := eng.Run(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	terms := backbone.Terms()
	if len(terms) != 3 {
		t.Fatalf("Terms() = %v, want exactly [A B C] (D never inserted)", terms)
	}
}

func TestRunWithProgressReportsEveryInternalRank(t *testing.T) {
	backbone := buildBackbone()
	taxonomy := buildTaxonomy()
	ctx := newTestContext(backbone, 2)

	eng := insertion.New(ctx, taxonomy, backbone, 2)

	var got []string
	if err := eng.RunWithProgress(func(label string) {
		got = append(got, label)
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]bool{"F": true, "Genus1": true, "Genus2": true, "Genus3": true}
	if len(got) != len(want) {
		t.Fatalf("callback fired %d times, want %d: %v", len(got), len(want), got)
	}
	for _, label := range got {
		if !want[label] {
			t.Errorf("callback reported unexpected rank %q", label)
		}
	}
}
