// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package check implements the verification tool: it compares a
// grafted tree against its backbone source and the taxonomy it was
// built from, reporting per-rank monophyly and rate agreement.
package check

import (
	"encoding/csv"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/cheggaaa/pb/v3"

	"github.com/js-arias/command"

	"github.com/js-arias/tact/bd"
	"github.com/js-arias/tact/mrca"
	"github.com/js-arias/tact/tree"
)

var Command = &command.Command{
	Usage: `check [-o|--output <file>] [--cores <number>]
	--taxonomy <file> --backbone <file> <simulated-file>`,
	Short: "check a grafted tree against its taxonomy and backbone",
	Long: `
Command check reads a taxonomy tree, a backbone tree, and a simulated
(grafted) tree, and reports, for every named taxonomy rank, whether the
rank is monophyletic in the backbone and in the simulated tree, the tip
count each tree sees for it, and the birth/death rates reestimated for
its crown in each tree.

The first argument is the path to the simulated tree, the one to verify;
it is normally the output of the add command.

The flags --taxonomy and --backbone are required and give the paths to
the taxonomy and backbone newick files the simulated tree was built from.

The flag --cores bounds the width of the parallel bitmask construction
of the backbone and simulated MRCA indexes; ranks themselves are
analyzed one after another. Default is the host's CPU count.

The report is written as CSV with columns: node, taxonomy_tips,
backbone_tips, simulated_tips, backbone_monophyletic,
simulated_monophyletic, backbone_birth, simulated_birth, backbone_death,
simulated_death, warnings. Use --output, or -o, to write it to a file
instead of the standard output.
	`,
	SetFlags: setFlags,
	Run:      run,
}

var taxonomyFile string
var backboneFile string
var output string
var cores int

func setFlags(c *command.Command) {
	c.Flags().StringVar(&taxonomyFile, "taxonomy", "", "")
	c.Flags().StringVar(&backboneFile, "backbone", "", "")
	c.Flags().StringVar(&output, "output", "", "")
	c.Flags().StringVar(&output, "o", "", "")
	c.Flags().IntVar(&cores, "cores", runtime.NumCPU(), "")
}

func run(c *command.Command, args []string) error {
	if len(args) < 1 {
		return c.UsageError("expecting the path to the simulated tree")
	}
	if taxonomyFile == "" {
		return c.UsageError("--taxonomy flag must be defined")
	}
	if backboneFile == "" {
		return c.UsageError("--backbone flag must be defined")
	}
	if cores < 1 {
		cores = 1
	}

	taxonomy, err := readNewick(taxonomyFile)
	if err != nil {
		return err
	}
	backbone, err := readNewick(backboneFile)
	if err != nil {
		return err
	}
	simulated, err := readNewick(args[0])
	if err != nil {
		return err
	}

	bbIdx := mrca.Build(backbone, cores, 0)
	stIdx := mrca.Build(simulated, cores, 0)

	var ranks []int
	for _, id := range taxonomy.InternalPostorder() {
		if taxonomy.Taxon(id) == "" {
			continue
		}
		ranks = append(ranks, id)
	}

	w, closeFn, err := openOutput()
	if err != nil {
		return err
	}
	defer closeFn()

	cw := csv.NewWriter(w)
	defer cw.Flush()
	header := []string{
		"node", "taxonomy_tips", "backbone_tips", "simulated_tips",
		"backbone_monophyletic", "simulated_monophyletic",
		"backbone_birth", "simulated_birth", "backbone_death", "simulated_death",
		"warnings",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	bar := pb.StartNew(len(ranks))
	defer bar.Finish()
	for _, id := range ranks {
		row := analyzeTaxon(taxonomy, backbone, simulated, bbIdx, stIdx, id)
		bar.Increment()
		if row == nil {
			continue
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// analyzeTaxon checks a single named rank against both trees: it
// restricts the rank's species to each tree's own tip set, looks up
// the strict MRCA, and reestimates birth/death rates with a sampling
// fraction capped at 1.
func analyzeTaxon(taxonomy, backbone, simulated *tree.Tree, bbIdx, stIdx *mrca.Index, id int) []string {
	label := taxonomy.Taxon(id)
	species := taxonomy.Tips(id)
	if len(species) == 0 {
		return nil
	}

	var warnings []string

	bb := rateAgainst(backbone, bbIdx, species)
	if bb.ntax > len(species) {
		warnings = append(warnings, "backbone clade has more tips than the taxonomy suggests")
	}
	st := rateAgainst(simulated, stIdx, species)
	if st.ntax > len(species) {
		warnings = append(warnings, "simulated clade has more tips than the taxonomy suggests")
	}
	if bb.mono != st.mono && bb.present {
		warnings = append(warnings, "backbone and simulated trees differ in monophyly for this taxon")
	}

	join := ""
	for i, w := range warnings {
		if i > 0 {
			join += ", "
		}
		join += w
	}

	return []string{
		label,
		strconv.Itoa(len(species)),
		bb.ntaxField(),
		st.ntaxField(),
		strconv.FormatBool(bb.mono),
		strconv.FormatBool(st.mono),
		bb.rateField(bb.birth),
		st.rateField(st.birth),
		bb.rateField(bb.death),
		st.rateField(st.death),
		join,
	}
}

// cladeResult captures the three-way outcome of checking one rank
// against one tree: no member of the rank is present at all, some
// are present but do not form a monophyletic group, or they do and
// rates were reestimated for their crown.
type cladeResult struct {
	present bool
	mono    bool
	ntax    int
	birth   float64
	death   float64
}

func (r cladeResult) ntaxField() string {
	if !r.present {
		return "0"
	}
	if !r.mono {
		return ""
	}
	return strconv.Itoa(r.ntax)
}

func (r cladeResult) rateField(v float64) string {
	if !r.mono {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// rateAgainst restricts species to t's own tip set, resolves its MRCA
// through idx, and - only when that MRCA is exactly monophyletic for
// the present species - reestimates birth/death rates with a sampling
// fraction of present/total capped at 1.
func rateAgainst(t *tree.Tree, idx *mrca.Index, species []string) cladeResult {
	var present []string
	for _, s := range species {
		if _, ok := t.TaxNode(s); ok {
			present = append(present, s)
		}
	}
	if len(present) == 0 {
		return cladeResult{}
	}

	id, ok := idx.Get(present)
	if !ok {
		return cladeResult{present: true}
	}
	if len(t.Tips(id)) != len(present) {
		return cladeResult{present: true}
	}

	ntax := t.Size(id)
	sampling := float64(ntax) / float64(len(species))
	if sampling > 1 {
		sampling = 1
	}
	ages := t.InternalAgesDescending(id)
	if len(ages) == 0 {
		return cladeResult{present: true, mono: true, ntax: ntax}
	}
	r, err := bd.Estimate(ages, sampling)
	if err != nil {
		return cladeResult{present: true, mono: true, ntax: ntax}
	}
	return cladeResult{present: true, mono: true, ntax: ntax, birth: r.Birth, death: r.Death}
}

func readNewick(name string) (*tree.Tree, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("while opening %q: %w", name, err)
	}
	defer f.Close()

	t, err := tree.ReadNewick(f, name)
	if err != nil {
		return nil, fmt.Errorf("while reading %q: %w", name, err)
	}
	return t, nil
}

func openOutput() (*os.File, func(), error) {
	if output == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, nil, fmt.Errorf("while creating %q: %w", output, err)
	}
	return f, func() { f.Close() }, nil
}
