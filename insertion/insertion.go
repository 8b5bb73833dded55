// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package insertion implements the postorder walk over the taxonomy
// that decides, per named rank, whether to skip it, graft a
// synthesized subclade, fill a handful of missing tips, or defer it
// as a pure-synthesis full clade until an enclosing rank is reached.
// It drives the Time Generator, Clade Synthesizer and Grafter to
// mutate the backbone tree in place.
package insertion

import (
	"errors"
	"fmt"
	"sort"

	"github.com/js-arias/tact/bd"
	"github.com/js-arias/tact/graft"
	"github.com/js-arias/tact/mrca"
	"github.com/js-arias/tact/runctx"
	"github.com/js-arias/tact/synth"
	"github.com/js-arias/tact/timegen"
	"github.com/js-arias/tact/tree"
)

// ErrBackoffExhausted is returned internally when the sampling
// backoff walk reaches the taxonomy root without finding an ancestor
// with adequate sampling; the engine reports and skips the rank
// rather than treating this as fatal.
var ErrBackoffExhausted = errors.New("insertion: sampling backoff exhausted")

// Engine drives the mutation of a backbone tree to graft every
// taxonomy rank it is missing.
type Engine struct {
	ctx      *runctx.Context
	taxonomy *tree.Tree
	backbone *tree.Tree
	cores    int

	// fullClades maps a deferred taxonomy node id to the species it
	// names; it is synthesized and grafted wholesale once an
	// enclosing rank is processed.
	fullClades map[int][]string
}

// New returns an Engine ready to graft taxonomy's missing ranks onto
// backbone. ctx.MRCA must already hold a Fast MRCA Index built from
// backbone's initial tip set.
func New(ctx *runctx.Context, taxonomy, backbone *tree.Tree, cores int) *Engine {
	return &Engine{
		ctx:        ctx,
		taxonomy:   taxonomy,
		backbone:   backbone,
		cores:      cores,
		fullClades: make(map[int][]string),
	}
}

// Run performs the full postorder insertion walk, grafting and
// filling the backbone tree in place.
func (e *Engine) Run() error {
	return e.RunWithProgress(nil)
}

// RunWithProgress is Run, calling onRank with each rank's label once
// it has been processed (whether grafted, filled, deferred or
// skipped), so a caller can drive a progress bar. onRank may be nil.
func (e *Engine) RunWithProgress(onRank func(label string)) error {
	for _, id := range e.taxonomy.InternalPostorder() {
		label := e.taxonomy.Taxon(id)
		if label == "" {
			continue
		}
		if err := e.processRank(id, label); err != nil {
			return fmt.Errorf("insertion: rank %q: %w", label, err)
		}
		if onRank != nil {
			onRank(label)
		}
	}
	return nil
}

// processRank applies the per-rank decision table to a single named
// taxonomy rank: skip it if already fully sampled, defer it as a full
// clade if entirely missing, graft any deferred descendant clades and
// fill any still-missing tips otherwise, then lock it.
func (e *Engine) processRank(id int, label string) error {
	log := e.ctx.Log.WithField("taxon", label)

	species := e.taxonomy.Tips(id)
	extant := e.backboneExtant(species)

	if len(extant) == len(species) {
		log.Debug("all species already present")
		return nil
	}
	if len(extant) == 0 {
		log.Info("deferring as full clade")
		e.fullClades[id] = species
		return nil
	}

	mrcaID, ok := e.ctx.MRCA.GetStrict(extant)
	if !ok {
		log.Info("not monophyletic, skipping")
		return nil
	}

	birth, death, err := e.rateParamsFor(id, mrcaID, len(extant), len(species))
	if err != nil {
		if errors.Is(err, ErrBackoffExhausted) {
			log.Warn("sampling backoff exhausted, skipping")
			return nil
		}
		return err
	}

	mrcaID, err = e.graftDeferred(id, mrcaID, birth, death)
	if err != nil {
		return err
	}

	extant = e.backboneExtant(species)
	if len(extant) != len(species) {
		var ok bool
		mrcaID, ok = e.ctx.MRCA.GetStrict(extant)
		if !ok {
			log.Warn("lost monophyly after grafting deferred clades, skipping fill")
			return nil
		}

		mrcaID, err = e.fillMissing(mrcaID, species, extant, birth, death)
		if err != nil {
			return err
		}
	}

	e.backbone.LockSubtree(mrcaID)
	log.Info("rank complete")
	return nil
}

// graftDeferred synthesizes and grafts every full clade deferred from
// a descendant rank of id, ascending by species count, and returns
// the (possibly relocated, if a stem graft occurred) id of the rank's
// clade root.
func (e *Engine) graftDeferred(id, mrcaID int, birth, death float64) (int, error) {
	deferred := e.deferredUnder(id)
	if len(deferred) == 0 {
		return mrcaID, nil
	}
	sort.Slice(deferred, func(i, j int) bool {
		return len(e.fullClades[deferred[i]]) < len(e.fullClades[deferred[j]])
	})

	for _, cladeID := range deferred {
		cladeSpecies := e.fullClades[cladeID]
		if e.allPresent(cladeSpecies) {
			delete(e.fullClades, cladeID)
			continue
		}

		newRoot, err := e.graftFullClade(mrcaID, cladeSpecies, birth, death)
		if err != nil {
			return mrcaID, fmt.Errorf("deferred clade %q: %w", e.taxonomy.Taxon(cladeID), err)
		}
		mrcaID = newRoot
		delete(e.fullClades, cladeID)
		e.rebuildIndex()
	}
	return mrcaID, nil
}

// graftFullClade draws the times, synthesizes and grafts a single
// deferred full clade onto the subtree rooted at mrcaID.
func (e *Engine) graftFullClade(mrcaID int, species []string, birth, death float64) (int, error) {
	told := e.backbone.Age(mrcaID)
	tyoung := e.backbone.MinUnlockedAge(mrcaID)
	n := synth.AgesNeeded(len(species))
	times, err := timegen.Generate(e.ctx.Rand, birth, death, n, told, tyoung)
	if err != nil {
		return mrcaID, err
	}

	stem := e.backbone.IsFullyLocked(mrcaID)
	if stem {
		parent := e.backbone.Parent(mrcaID)
		replacement, err := timegen.Generate(e.ctx.Rand, birth, death, 1, e.backbone.Age(parent), e.backbone.Age(mrcaID))
		if err != nil {
			return mrcaID, err
		}
		sortDescending(times)
		times[0] = replacement[0]
	}

	sub, err := synth.Synthesize(e.ctx.Rand, species, times, tree.CreateClade)
	if err != nil {
		return mrcaID, err
	}
	newRoot, err := graft.Graft(e.backbone, e.ctx.Rand, mrcaID, sub, stem)
	if err != nil {
		return mrcaID, err
	}
	if stem {
		// the graft replaced mrcaID's own incoming edge, so the new
		// node above it is now the clade's root.
		return newRoot, nil
	}
	return mrcaID, nil
}

// fillMissing adds a singleton lineage for every species still
// missing from the subtree rooted at mrcaID after deferred clades
// have been grafted.
func (e *Engine) fillMissing(mrcaID int, species, extant []string, birth, death float64) (int, error) {
	missing := setDiff(species, extant)
	if len(missing) == 0 {
		return mrcaID, nil
	}

	// each species is drawn and grafted in turn, rather than all at
	// once, because grafting onto a fully locked mrcaID moves it to a
	// new node whose own lock state and age bounds must be rechecked
	// before the next draw.
	for _, sp := range missing {
		stem := e.backbone.IsFullyLocked(mrcaID)
		told := e.backbone.Age(mrcaID)
		tyoung := e.backbone.MinUnlockedAge(mrcaID)
		if stem {
			// no edge below mrcaID is eligible: the new lineage must
			// attach to mrcaID's own incoming edge, so its age is
			// drawn from the stem interval instead.
			told = e.backbone.Age(e.backbone.Parent(mrcaID))
			tyoung = e.backbone.Age(mrcaID)
		}
		times, err := timegen.Generate(e.ctx.Rand, birth, death, 1, told, tyoung)
		if err != nil {
			return mrcaID, err
		}

		sub, err := synth.Synthesize(e.ctx.Rand, []string{sp}, times, tree.CreateFillNewTaxa)
		if err != nil {
			return mrcaID, fmt.Errorf("fill %q: %w", sp, err)
		}
		newRoot, err := graft.Graft(e.backbone, e.ctx.Rand, mrcaID, sub, stem)
		if err != nil {
			return mrcaID, fmt.Errorf("fill %q: %w", sp, err)
		}
		if stem {
			mrcaID = newRoot
		}
	}
	e.rebuildIndex()
	return mrcaID, nil
}

// rateParamsFor resolves the birth/death rates to draw times with for
// a rank, running the sampling backoff walk when the rank's own
// sampling is too thin to trust.
func (e *Engine) rateParamsFor(taxID, mrcaID int, nExtant, nTotal int) (float64, float64, error) {
	ccp := bd.Ccp(nTotal, nExtant)
	if nExtant > e.ctx.Config.MinExtant && ccp >= e.ctx.Config.MinCcp {
		return e.rateParams(mrcaID, nExtant, nTotal)
	}
	return e.backoffRates(taxID)
}

// backoffRates walks the taxonomy ancestor chain from taxID until it
// finds an ancestor whose backbone restriction is monophyletic and
// whose crown-capture probability clears the configured minimum.
// Reaching a label with a memoized target jumps straight to that
// target; every labeled node that fails on the way is memoized to
// the ancestor finally chosen.
func (e *Engine) backoffRates(taxID int) (float64, float64, error) {
	var failed []string
	id := taxID
	for {
		label := e.taxonomy.Taxon(id)
		if target, ok := e.ctx.BackoffTarget(label); ok {
			if tid, found := e.taxonomy.TaxNode(target); found && tid != id {
				id = tid
				continue
			}
		}

		species := e.taxonomy.Tips(id)
		extant := e.backboneExtant(species)
		mrcaID, found := e.ctx.MRCA.GetStrict(extant)
		n := len(extant)
		ccp := bd.Ccp(len(species), n)

		if found && n > e.ctx.Config.MinExtant && ccp >= e.ctx.Config.MinCcp {
			for _, l := range failed {
				e.ctx.SetBackoffTarget(l, e.taxonomy.Taxon(id))
			}
			return e.rateParams(mrcaID, n, len(species))
		}
		if id == e.taxonomy.Root() {
			return 0, 0, ErrBackoffExhausted
		}
		if label != "" {
			failed = append(failed, label)
		}
		id = e.taxonomy.Parent(id)
	}
}

// rateParams returns the cached birth/death annotation of mrcaID, or
// estimates and caches one on the fly when the Rate Precomputer never
// reached this node (e.g. it was only resolved via the backoff walk).
func (e *Engine) rateParams(mrcaID, nExtant, nTotal int) (float64, float64, error) {
	ann := e.backbone.Annotation(mrcaID)
	if ann.HasRates {
		return ann.Birth, ann.Death, nil
	}

	ages := e.backbone.InternalAgesDescending(mrcaID)
	sampling := 1.0
	if nTotal > 0 {
		sampling = float64(nExtant) / float64(nTotal)
	}
	r, err := bd.Estimate(ages, sampling)
	if err != nil {
		return 0, 0, fmt.Errorf("rate estimate for node %d: %w", mrcaID, err)
	}
	if !r.Converged {
		e.ctx.Log.Warnf("birth-death estimate for node %d did not converge, using best iterate", mrcaID)
	}
	e.backbone.SetAnnotation(mrcaID, r.Birth, r.Death, "")
	return r.Birth, r.Death, nil
}

// rebuildIndex replaces ctx.MRCA with an index over the backbone's
// current tip set, since the insertion engine mutates the backbone's
// tips every time it grafts (runctx.Context.MRCA's doc comment).
func (e *Engine) rebuildIndex() {
	e.ctx.MRCA = mrca.Build(e.backbone, e.cores, e.ctx.MRCA.MaxTax())
}

// deferredUnder returns the ids of every deferred full clade whose
// taxonomy node lies at or below id.
func (e *Engine) deferredUnder(id int) []int {
	var out []int
	for cladeID := range e.fullClades {
		if e.isAncestorOrSelf(id, cladeID) {
			out = append(out, cladeID)
		}
	}
	return out
}

func (e *Engine) isAncestorOrSelf(anc, desc int) bool {
	for {
		if desc == anc {
			return true
		}
		if desc == e.taxonomy.Root() {
			return false
		}
		desc = e.taxonomy.Parent(desc)
	}
}

// allPresent reports whether every species is already a tip of the
// backbone.
func (e *Engine) allPresent(species []string) bool {
	for _, s := range species {
		if _, ok := e.backbone.TaxNode(s); !ok {
			return false
		}
	}
	return true
}

// backboneExtant returns the subset of species already present as
// backbone tips.
func (e *Engine) backboneExtant(species []string) []string {
	var out []string
	for _, s := range species {
		if _, ok := e.backbone.TaxNode(s); ok {
			out = append(out, s)
		}
	}
	return out
}

// setDiff returns the species not present in extant.
func setDiff(species, extant []string) []string {
	present := make(map[string]bool, len(extant))
	for _, s := range extant {
		present[s] = true
	}
	var out []string
	for _, s := range species {
		if !present[s] {
			out = append(out, s)
		}
	}
	return out
}

func sortDescending(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j] > xs[j-1]; j-- {
			xs[j], xs[j-1] = xs[j-1], xs[j]
		}
	}
}
