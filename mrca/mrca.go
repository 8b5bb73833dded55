// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package mrca implements the Fast MRCA Index: a bitmask-based
// most-recent-common-ancestor service over a backbone tree, with an
// autotuned serial/parallel bitmask construction path.
package mrca

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/js-arias/tact/tree"
)

// ErrUnknownTaxon is returned when a query label is not present in
// the namespace.
var ErrUnknownTaxon = errors.New("mrca: unknown taxon")

// A Namespace assigns every taxon a stable bit position, so that any
// label set can be reduced to a single bitmask by OR.
type Namespace struct {
	bit map[string]uint
}

// NewNamespace builds a Namespace over the given taxon labels, in the
// order given.
func NewNamespace(labels []string) *Namespace {
	ns := &Namespace{bit: make(map[string]uint, len(labels))}
	for i, l := range labels {
		ns.bit[l] = uint(i)
	}
	return ns
}

// Len returns the number of taxa in the namespace.
func (ns *Namespace) Len() int { return len(ns.bit) }

// Bitmask ORs together the bit positions of every label, returning
// ErrUnknownTaxon if any label is absent from the namespace.
func (ns *Namespace) Bitmask(labels []string) (*big.Int, error) {
	mask := new(big.Int)
	for _, l := range labels {
		b, ok := ns.bit[l]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTaxon, l)
		}
		mask.SetBit(mask, int(b), 1)
	}
	return mask, nil
}

// An Index is the Fast MRCA Index over a backbone tree: it resolves
// label sets to bitmasks (serially or in parallel, depending on an
// autotuned threshold) and walks the tree to find the youngest node
// whose descendant tip set contains that bitmask.
type Index struct {
	t    *tree.Tree
	ns   *Namespace
	mask map[int]*big.Int // node id -> bitmask of its descendant tips

	cores  int
	maxtax int
}

// Build constructs a Fast MRCA Index over t, using cores as the
// parallel fan-out width. The single-thread/parallel switchover
// point is autotuned by timing both paths at exponentially increasing
// sizes, unless maxtax is given explicitly (maxtax <= 0 triggers
// autotuning).
func Build(t *tree.Tree, cores, maxtax int) *Index {
	labels := t.Terms()
	ns := NewNamespace(labels)
	idx := &Index{t: t, ns: ns, cores: cores}

	if maxtax > 0 {
		idx.maxtax = maxtax
	} else {
		idx.maxtax = idx.autotune(labels)
	}
	idx.indexNodes()
	return idx
}

// Namespace returns the taxon namespace of the index.
func (idx *Index) Namespace() *Namespace { return idx.ns }

// MaxTax returns the autotuned (or explicitly given) serial/parallel
// switchover threshold, so a caller rebuilding the index after the
// backbone changes can skip re-autotuning.
func (idx *Index) MaxTax() int { return idx.maxtax }

// autotune times the serial and parallel bitmask-construction paths
// at exponentially increasing sample sizes (3 repetitions each,
// median taken), returning the smallest size at which the parallel
// path beats the serial one by at least 0.75s, or the namespace size
// if no such threshold is found.
func (idx *Index) autotune(labels []string) int {
	n := idx.cores * idx.cores
	if n < 1 {
		n = 1
	}
	for {
		if n >= len(labels) {
			return len(labels)
		}
		sample := labels[:n]

		st := medianDuration(3, func() { idx.bitmaskSerial(sample) })
		mt := medianDuration(3, func() { idx.bitmaskParallel(sample) })

		if st-mt >= 750*time.Millisecond {
			return n
		}
		n *= 4
	}
}

func medianDuration(reps int, f func()) time.Duration {
	ds := make([]time.Duration, reps)
	for i := 0; i < reps; i++ {
		start := time.Now()
		f()
		ds[i] = time.Since(start)
	}
	// insertion sort: reps is always small (3).
	for i := 1; i < len(ds); i++ {
		for j := i; j > 0 && ds[j] < ds[j-1]; j-- {
			ds[j], ds[j-1] = ds[j-1], ds[j]
		}
	}
	return ds[len(ds)/2]
}

func (idx *Index) bitmaskSerial(labels []string) *big.Int {
	mask, _ := idx.ns.Bitmask(labels)
	return mask
}

func (idx *Index) bitmaskParallel(labels []string) *big.Int {
	cores := idx.cores
	if cores < 1 {
		cores = 1
	}
	chunkSize := (len(labels) + cores - 1) / cores
	if chunkSize < 1 {
		chunkSize = 1
	}

	var chunks [][]string
	for i := 0; i < len(labels); i += chunkSize {
		end := i + chunkSize
		if end > len(labels) {
			end = len(labels)
		}
		chunks = append(chunks, labels[i:end])
	}

	partials := make([]*big.Int, len(chunks))
	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(cores)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			m, err := idx.ns.Bitmask(c)
			if err != nil {
				return err
			}
			partials[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return new(big.Int)
	}

	full := new(big.Int)
	for _, p := range partials {
		full.Or(full, p)
	}
	return full
}

// Bitmask resolves labels to a bitmask, using the parallel path when
// len(labels) is at or above the autotuned threshold.
func (idx *Index) Bitmask(labels []string) (*big.Int, error) {
	if len(labels) < idx.maxtax {
		return idx.ns.Bitmask(labels)
	}
	mask := idx.bitmaskParallel(labels)
	// re-check for unknown taxa, since the parallel path swallows
	// the per-chunk error into an empty mask.
	if _, err := idx.ns.Bitmask(labels); err != nil {
		return nil, err
	}
	return mask, nil
}

// indexNodes computes, for every node, the bitmask of its descendant
// tips, so Get/GetStrict can resolve a query mask to a node in
// O(depth) by walking from the root.
func (idx *Index) indexNodes() {
	idx.mask = make(map[int]*big.Int, len(idx.t.Nodes()))
	var walk func(id int) *big.Int
	walk = func(id int) *big.Int {
		if idx.t.IsTerm(id) {
			m, _ := idx.ns.Bitmask([]string{idx.t.Taxon(id)})
			idx.mask[id] = m
			return m
		}
		m := new(big.Int)
		for _, c := range idx.t.Children(id) {
			m.Or(m, walk(c))
		}
		idx.mask[id] = m
		return m
	}
	walk(idx.t.Root())
}

// Get returns the id of the most recent common ancestor of a label
// set, and true, or (-1, false) if the label set is empty or no
// backbone node's descendant set is a superset of it (the labels are
// not all present in the backbone).
func (idx *Index) Get(labels []string) (int, bool) {
	if len(labels) == 0 {
		return -1, false
	}
	mask, err := idx.Bitmask(labels)
	if err != nil {
		return -1, false
	}
	return idx.getByMask(idx.t.Root(), mask)
}

// getByMask walks down from id, descending into the single child
// whose mask is a superset of query; id itself is the MRCA once no
// child qualifies.
func (idx *Index) getByMask(id int, query *big.Int) (int, bool) {
	m, ok := idx.mask[id]
	if !ok || !isSuperset(m, query) {
		return -1, false
	}
	for _, c := range idx.t.Children(id) {
		if got, ok := idx.getByMask(c, query); ok {
			return got, true
		}
	}
	return id, true
}

// GetStrict returns the MRCA of labels only if its descendant tip set
// is exactly equal to labels (exact monophyly); otherwise (-1, false).
func (idx *Index) GetStrict(labels []string) (int, bool) {
	id, ok := idx.Get(labels)
	if !ok {
		return -1, false
	}
	query, err := idx.ns.Bitmask(labels)
	if err != nil {
		return -1, false
	}
	if idx.mask[id].Cmp(query) != 0 {
		return -1, false
	}
	return id, true
}

// isSuperset reports whether every bit set in b is also set in a.
func isSuperset(a, b *big.Int) bool {
	var and big.Int
	and.And(a, b)
	return and.Cmp(b) == 0
}
