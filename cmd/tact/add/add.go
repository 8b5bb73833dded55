// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package add implements the command that grafts every taxon named by
// a rank-labeled taxonomy tree onto a dated backbone tree.
package add

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/sirupsen/logrus"

	"github.com/js-arias/command"

	"github.com/js-arias/tact/insertion"
	"github.com/js-arias/tact/mrca"
	"github.com/js-arias/tact/rates"
	"github.com/js-arias/tact/runctx"
	"github.com/js-arias/tact/tree"
)

var Command = &command.Command{
	Usage: `add [-o|--output <file>] [--outgroups <taxa>]
	[--min-ccp <number>] [--cores <number>] [--seed <number>]
	[-v|--verbose <number>] [--log <file>]
	--taxonomy <file> --backbone <file>`,
	Short: "add taxa for complete trees",
	Long: `
Command add reads a rank-labeled taxonomy tree and a dated backbone tree, and
grafts every taxonomy tip missing from the backbone onto it, drawing new
branching times from a birth-death process whose rates are estimated from
each clade's own sampled ages.

The flag --taxonomy is required and gives the path to the taxonomy newick
file: a rooted tree whose internal nodes are labeled with rank names and
whose leaves are the target tip set.

The flag --backbone is required and gives the path to the backbone newick
file: a rooted, ultrametric tree whose leaves must be a subset of the
taxonomy's tip set.

The flag --outgroups takes a comma-separated list of taxon labels that are
present in the backbone purely as outgroups (i.e. absent from the
taxonomy); it checks that each one is an actual backbone tip, and stops
with an error naming the first label that is not.

The flag --min-ccp sets the minimum crown-capture probability required
before a rank's own sample is trusted to delimit its crown; below it, the
sampling-backoff walk climbs the taxonomy ancestor chain. Default is 0.8.

The flag --cores bounds the width of every parallel fan-out (Fast MRCA
Index construction, rate precomputation). Default is the host's CPU count.

The flag --seed sets the process-wide pseudorandom seed; identical seeds
over identical inputs produce byte-identical output.

The flags --verbose, or -v, and --log control diagnostic output: --verbose
0 (the default) reports only warnings, 1 adds info-level progress, 2 or
more adds per-rank debug detail. --log redirects diagnostics to a file
instead of the standard error.

The flag --output, or -o, is required and gives the output base name: the
grafted tree is written to "<output>.newick.tre" and "<output>.nexus.tre".
	`,
	SetFlags: setFlags,
	Run:      run,
}

var taxonomyFile string
var backboneFile string
var outgroups string
var output string
var minCcp float64
var cores int
var seed uint64
var verbose int
var logFile string

func setFlags(c *command.Command) {
	c.Flags().StringVar(&taxonomyFile, "taxonomy", "", "")
	c.Flags().StringVar(&backboneFile, "backbone", "", "")
	c.Flags().StringVar(&outgroups, "outgroups", "", "")
	c.Flags().StringVar(&output, "output", "", "")
	c.Flags().StringVar(&output, "o", "", "")
	c.Flags().Float64Var(&minCcp, "min-ccp", 0.8, "")
	c.Flags().IntVar(&cores, "cores", runtime.NumCPU(), "")
	c.Flags().Uint64Var(&seed, "seed", 1, "")
	c.Flags().IntVar(&verbose, "verbose", 0, "")
	c.Flags().IntVar(&verbose, "v", 0, "")
	c.Flags().StringVar(&logFile, "log", "", "")
}

// minExtant is the sampling floor at or below which a rank's own tip
// sample is never trusted, regardless of --min-ccp.
const minExtant = 2

func run(c *command.Command, args []string) (err error) {
	if taxonomyFile == "" {
		return c.UsageError("--taxonomy flag must be defined")
	}
	if backboneFile == "" {
		return c.UsageError("--backbone flag must be defined")
	}
	if output == "" {
		return c.UsageError("--output flag must be defined")
	}
	if cores < 1 {
		cores = 1
	}

	log, closeLog, err := setupLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	taxonomy, err := readNewick(taxonomyFile)
	if err != nil {
		return err
	}
	backbone, err := readNewick(backboneFile)
	if err != nil {
		return err
	}

	if err := registerOutgroups(backbone, outgroups); err != nil {
		return err
	}

	log.Infof("building fast MRCA index over %d backbone tips", len(backbone.Terms()))
	idx := mrca.Build(backbone, cores, 0)

	log.Info("precomputing birth-death rates")
	if err := rates.Precompute(context.Background(), taxonomy, backbone, idx, taxonomy.Root(), cores); err != nil {
		return fmt.Errorf("while precomputing rates: %w", err)
	}

	ctx := runctx.New(runctx.Config{
		MinCcp:    minCcp,
		MinExtant: minExtant,
		Cores:     cores,
	}, seed, log)
	ctx.MRCA = idx

	log.Info("grafting missing taxa")
	bar := pb.ProgressBarTemplate(`{{ string . "rank" }} {{ bar . }} {{ counters . }}`).Start(taxonomy.NumInternal())
	bar.Set("rank", "")
	defer bar.Finish()

	eng := insertion.New(ctx, taxonomy, backbone, cores)
	if err := eng.RunWithProgress(func(label string) {
		bar.Set("rank", label)
		bar.Increment()
	}); err != nil {
		return fmt.Errorf("while grafting taxa: %w", err)
	}

	backbone.Format()
	warnShortBranches(log, backbone)

	if err := writeOutputs(backbone, output); err != nil {
		return err
	}
	return nil
}

func setupLogger() (*logrus.Entry, func(), error) {
	l := logrus.New()
	switch {
	case verbose >= 2:
		l.SetLevel(logrus.DebugLevel)
	case verbose == 1:
		l.SetLevel(logrus.InfoLevel)
	default:
		l.SetLevel(logrus.WarnLevel)
	}

	closeFn := func() {}
	if logFile != "" {
		f, err := os.Create(logFile)
		if err != nil {
			return nil, nil, fmt.Errorf("while opening log file %q: %w", logFile, err)
		}
		l.SetOutput(f)
		closeFn = func() { f.Close() }
	} else {
		l.SetOutput(os.Stderr)
	}
	return logrus.NewEntry(l), closeFn, nil
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

// registerOutgroups validates that every --outgroups label is an
// actual tip of the backbone, so an accidental typo is caught as an
// unknown-taxon fatal error rather than silently ignored.
func registerOutgroups(backbone *tree.Tree, list string) error {
	if list == "" {
		return nil
	}
	terms := make(map[string]bool)
	for _, t := range backbone.Terms() {
		terms[t] = true
	}
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !terms[name] {
			return fmt.Errorf("unknown outgroup taxon %q: not a backbone tip", name)
		}
	}
	return nil
}

// warnShortBranches logs, at warn level, every edge of t shorter than
// a negligible threshold, as a final sanity check over the freshly
// grafted tree.
func warnShortBranches(log *logrus.Entry, t *tree.Tree) {
	const shortBranch = 1e-6
	for _, id := range t.Nodes() {
		if t.IsRoot(id) {
			continue
		}
		if l := t.EdgeLength(id); l >= 0 && l < shortBranch {
			log.WithField("taxon", t.Taxon(id)).Warnf("branch length %.9f is suspiciously short", l)
		}
	}
}

func writeOutputs(t *tree.Tree, base string) (err error) {
	nwFile := base + ".newick.tre"
	f, err := os.Create(nwFile)
	if err != nil {
		return fmt.Errorf("while creating %q: %w", nwFile, err)
	}
	defer func() {
		e := f.Close()
		if e != nil && err == nil {
			err = e
		}
	}()
	if err := t.WriteNewick(f); err != nil {
		return fmt.Errorf("while writing %q: %w", nwFile, err)
	}

	nxFile := base + ".nexus.tre"
	nf, err := os.Create(nxFile)
	if err != nil {
		return fmt.Errorf("while creating %q: %w", nxFile, err)
	}
	defer func() {
		e := nf.Close()
		if e != nil && err == nil {
			err = e
		}
	}()
	if err := tree.WriteNexus(nf, t); err != nil {
		return fmt.Errorf("while writing %q: %w", nxFile, err)
	}
	return nil
}
