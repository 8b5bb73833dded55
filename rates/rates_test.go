// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package rates_test

import (
	"context"
	"testing"

	"github.com/js-arias/tact/mrca"
	"github.com/js-arias/tact/rates"
	"github.com/js-arias/tact/tree"
)

func buildBackbone() *tree.Tree {
	tr := tree.New("backbone", 10)
	root := tr.Root()
	in, _ := tr.Add(root, 4, "")
	tr.Add(in, 2, "A")
	tr.Add(in, 1, "B")
	tr.Add(root, 10, "C")
	return tr
}

func buildTaxonomy() *tree.Tree {
	tx := tree.New("taxonomy", 10)
	root := tx.Root()
	genus, _ := tx.Add(root, 4, "")
	tx.SetName(genus, "Genus")
	tx.Add(genus, 2, "A")
	tx.Add(genus, 1, "B")
	tx.Add(root, 10, "C")
	return tx
}

func TestPrecompute(t *testing.T) {
	backbone := buildBackbone()
	taxonomy := buildTaxonomy()
	idx := mrca.Build(backbone, 2, 1)

	if err := rates.Precompute(context.Background(), taxonomy, backbone, idx, taxonomy.Root(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	genusID, ok := backbone.TaxNode("A")
	if !ok {
		t.Fatalf("backbone node for A not found")
	}
	mrcaID := backbone.Parent(genusID)
	ann := backbone.Annotation(mrcaID)
	if !ann.HasRates {
		t.Errorf("expected MRCA(A, B) to carry rate annotation after precompute")
	}
}

func TestPrecomputeIdempotent(t *testing.T) {
	backbone := buildBackbone()
	taxonomy := buildTaxonomy()
	idx := mrca.Build(backbone, 2, 1)

	if err := rates.Precompute(context.Background(), taxonomy, backbone, idx, taxonomy.Root(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	genusID, _ := backbone.TaxNode("A")
	mrcaID := backbone.Parent(genusID)
	before := backbone.Annotation(mrcaID)

	if err := rates.Precompute(context.Background(), taxonomy, backbone, idx, taxonomy.Root(), 4); err != nil {
		t.Fatalf("unexpected error on re-run: %v", err)
	}
	after := backbone.Annotation(mrcaID)
	if before != after {
		t.Errorf("re-running Precompute changed an existing annotation: %+v -> %+v", before, after)
	}
}
