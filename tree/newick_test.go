// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package tree_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/js-arias/tact/tree"
)

const testNewick = `(((Homo_sapiens:0.5,Homo_erectus:0.5):5.5,Pan:6.0):0.3,Gorilla:6.3);`

func TestReadNewick(t *testing.T) {
	tr, err := tree.ReadNewick(strings.NewReader(testNewick), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tr.Name(); got != "Test" {
		t.Errorf("Name() = %q, want %q", got, "Test")
	}
	if !almostEqual(tr.Age(tr.Root()), 6.3) {
		t.Errorf("root age = %v, want 6.3", tr.Age(tr.Root()))
	}
	terms := tr.Terms()
	want := []string{"Gorilla", "Homo erectus", "Homo sapiens", "Pan"}
	if len(terms) != len(want) {
		t.Fatalf("Terms() = %v, want %v", terms, want)
	}
	for i, w := range want {
		if terms[i] != w {
			t.Errorf("Terms[%d] = %q, want %q", i, terms[i], w)
		}
	}
	if err := tr.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if !tr.IsUltrametric(tr.Root(), 1e-9) {
		t.Errorf("tree is not ultrametric")
	}
}

func TestWriteNewick(t *testing.T) {
	tr := tree.New("test", 6.3)
	root := tr.Root()
	tr.Add(root, 6.3, "Pan")
	in, _ := tr.Add(root, 0.3, "")
	h1, _ := tr.Add(in, 5.5, "Homo sapiens")
	tr.Add(in, 5.5, "Homo erectus")
	tr.SetAnnotation(h1, 1, 2, tree.CreateFillNewTaxa)

	var buf bytes.Buffer
	if err := tr.WriteNewick(&buf); err != nil {
		t.Fatalf("WriteNewick: %v", err)
	}
	out := buf.String()
	if !strings.HasSuffix(strings.TrimSpace(out), ";") {
		t.Errorf("WriteNewick output does not end in ';': %q", out)
	}
	if !strings.Contains(out, "Pan:6.300000") {
		t.Errorf("WriteNewick output missing expected branch: %q", out)
	}

	rt, err := tree.ReadNewick(strings.NewReader(out), "round-trip")
	if err != nil {
		t.Fatalf("round-trip ReadNewick: %v", err)
	}
	if !almostEqual(rt.Age(rt.Root()), tr.Age(root)) {
		t.Errorf("round-trip root age = %v, want %v", rt.Age(rt.Root()), tr.Age(root))
	}
	if !rt.IsUltrametric(rt.Root(), 1e-6) {
		t.Errorf("round-trip tree is not ultrametric")
	}
}
