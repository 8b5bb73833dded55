// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package rates walks the taxonomy tree, resolves each labeled node's
// backbone MRCA through the Fast MRCA Index, estimates birth and
// death rates for the resolved clade, and writes the estimate onto
// the backbone node.
package rates

import (
	"container/heap"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/js-arias/tact/bd"
	"github.com/js-arias/tact/mrca"
	"github.com/js-arias/tact/tree"
)

// rateResult is one taxonomy node's resolved backbone MRCA and its
// estimated rates, collected by a worker for the main thread to write.
type rateResult struct {
	mrcaID       int
	birth, death float64
}

// Precompute walks every internal node of taxonomy (excluding seed),
// resolves its label set restricted to the backbone's tip set to a
// backbone MRCA through idx, and - when a MRCA is found and is not
// already annotated - writes its maximum likelihood birth/death
// estimate onto that backbone node.
//
// Work is balanced across max(cores/4, 2) buckets assigned by a
// largest-processing-time heuristic keyed on each taxonomy node's
// leaf count, and each bucket runs as one parallel job via errgroup.
// Workers only resolve MRCAs and estimate rates; every annotation
// write happens back on the calling goroutine once all workers have
// finished, so two taxonomy nodes resolving to the same backbone MRCA
// never race on it.
func Precompute(ctx context.Context, taxonomy, backbone *tree.Tree, idx *mrca.Index, seed int, cores int) error {
	var nodes []int
	for _, id := range taxonomy.InternalPostorder() {
		if id == seed {
			continue
		}
		if taxonomy.Taxon(id) == "" {
			continue
		}
		nodes = append(nodes, id)
	}

	buckets := assignBuckets(taxonomy, nodes, cores)

	results := make([][]rateResult, len(buckets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cores, 1))
	for i, bucket := range buckets {
		i, bucket := i, bucket
		g.Go(func() error {
			var local []rateResult
			for _, id := range bucket {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				r, ok, err := computeOne(taxonomy, backbone, idx, id)
				if err != nil {
					return err
				}
				if ok {
					local = append(local, r)
				}
			}
			results[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, local := range results {
		for _, r := range local {
			// idempotent: do not overwrite an already-annotated node,
			// which another bucket's node may have resolved to first.
			if backbone.Annotation(r.mrcaID).HasRates {
				continue
			}
			backbone.SetAnnotation(r.mrcaID, r.birth, r.death, "")
		}
	}
	return nil
}

// computeOne resolves id's backbone MRCA and estimates its rates,
// without writing anything to backbone. ok is false when id has no
// resolvable MRCA or nothing left to estimate.
func computeOne(taxonomy, backbone *tree.Tree, idx *mrca.Index, id int) (rateResult, bool, error) {
	species := taxonomy.Tips(id)
	if len(species) == 0 {
		return rateResult{}, false, nil
	}

	var extant []string
	for _, s := range species {
		if _, ok := backbone.TaxNode(s); ok {
			extant = append(extant, s)
		}
	}
	if len(extant) == 0 {
		return rateResult{}, false, nil
	}

	mrcaID, ok := idx.Get(extant)
	if !ok {
		return rateResult{}, false, nil
	}

	// already annotated: skip the estimate entirely. Safe to read
	// here because no writes happen until every worker has returned.
	if backbone.Annotation(mrcaID).HasRates {
		return rateResult{}, false, nil
	}

	ages := backbone.InternalAgesDescending(mrcaID)
	if len(ages) == 0 {
		return rateResult{}, false, nil
	}
	sampling := float64(len(extant)) / float64(len(species))
	r, err := bd.Estimate(ages, sampling)
	if err != nil {
		return rateResult{}, false, fmt.Errorf("rates: node %q: %w", taxonomy.Taxon(id), err)
	}
	return rateResult{mrcaID: mrcaID, birth: r.Birth, death: r.Death}, true, nil
}

// bucket is one worker's share of the taxonomy nodes to process.
type bucket struct {
	ids []int
	sum int
}

// bucketHeap is a min-heap of buckets ordered by running leaf-count
// sum, used to implement the largest-processing-time assignment: the
// most expensive remaining node always goes to the currently lightest
// bucket.
type bucketHeap []*bucket

func (h bucketHeap) Len() int            { return len(h) }
func (h bucketHeap) Less(i, j int) bool  { return h[i].sum < h[j].sum }
func (h bucketHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bucketHeap) Push(x interface{}) { *h = append(*h, x.(*bucket)) }
func (h *bucketHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// assignBuckets distributes nodes across max(cores/4, 2) buckets,
// visiting nodes in descending order of leaf count (largest
// processing time first) and always adding the next node to the
// currently lightest bucket.
func assignBuckets(taxonomy *tree.Tree, nodes []int, cores int) [][]int {
	n := cores / 4
	if n < 2 {
		n = 2
	}
	if n > len(nodes) {
		n = len(nodes)
	}
	if n == 0 {
		return nil
	}

	type weighted struct {
		id   int
		size int
	}
	ws := make([]weighted, len(nodes))
	for i, id := range nodes {
		ws[i] = weighted{id: id, size: taxonomy.Size(id)}
	}
	// simple descending insertion sort by size: taxonomy subtrees
	// are small in number compared to tip counts, so O(n^2) is fine.
	for i := 1; i < len(ws); i++ {
		for j := i; j > 0 && ws[j].size > ws[j-1].size; j-- {
			ws[j], ws[j-1] = ws[j-1], ws[j]
		}
	}

	h := make(bucketHeap, n)
	for i := range h {
		h[i] = &bucket{}
	}
	heap.Init(&h)

	for _, w := range ws {
		b := heap.Pop(&h).(*bucket)
		b.ids = append(b.ids, w.id)
		b.sum += w.size
		heap.Push(&h, b)
	}

	out := make([][]int, 0, n)
	for _, b := range h {
		if len(b.ids) > 0 {
			out = append(out, b.ids)
		}
	}
	return out
}
