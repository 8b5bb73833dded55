// Copyright © 2022 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package tree implements an ultrametric,
// rooted, time calibrated phylogenetic tree
// whose edges can be individually locked
// and whose nodes can carry birth-death rate annotations.
//
// It generalizes github.com/js-arias/timetree to the needs of grafting:
// ages are continuous (million years, not integer years), every non-root
// node owns an Edge that can be locked against future grafts, and a node
// may carry an Annotation recording estimated birth/death rates and how
// the node came to exist.
package tree

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// Tree adding errors.
	ErrAddNoParent     = errors.New("parent ID not in tree")
	ErrAddRepeated     = errors.New("repeated taxon name")
	ErrAddInvalidBrLen = errors.New("invalid branch length")

	// Tree validation errors.
	ErrValSingleChild = errors.New("node with a single descendant")
	ErrValUnnamedTerm = errors.New("unnamed terminal")

	// Age assignment errors.
	ErrInvalidRootAge = errors.New("invalid root age")
	ErrOlderAge       = errors.New("age too old for node")
	ErrYoungerAge     = errors.New("age too young for node")

	// Grafting errors. Package graft is the only intended caller of
	// the mutation primitives below, but the sentinels live here
	// because they are contract breaches of the tree model itself.
	ErrEdgeLocked     = errors.New("edge is locked")
	ErrNegativeBranch = errors.New("negative branch length")
	ErrGraftAboveRoot = errors.New("cannot graft above the tree root")
	ErrUnknownNode    = errors.New("unknown node ID")
)

// Creation methods recorded on an Annotation.
const (
	CreateFillNewTaxa = "fill_new_taxa"
	CreateClade       = "create_clade"
)

// An Edge is the branch connecting a node to its parent.
// The root has no incoming edge.
type Edge struct {
	// Length is the branch length in million years.
	Length float64
	// Locked forbids the Grafter from breaking this edge.
	Locked bool
}

// An Annotation records birth-death rate estimates and how a node
// came to exist.
type Annotation struct {
	Birth, Death   float64
	HasRates       bool
	CreationMethod string
}

// A Tree is a time calibrated phylogenetic tree.
type Tree struct {
	name string

	nodes map[int]*node
	taxa  map[string]*node
	root  *node
}

// New returns a new, empty phylogenetic tree
// with a name and a root at the given age
// (in million years).
func New(name string, age float64) *Tree {
	root := &node{id: 0, age: age}
	return &Tree{
		name:  name,
		nodes: map[int]*node{0: root},
		taxa:  make(map[string]*node),
		root:  root,
	}
}

// Name returns the name of the tree.
func (t *Tree) Name() string { return t.name }

// Root returns the ID of the root node.
func (t *Tree) Root() int { return t.root.id }

// Add adds a node as a child of the indicated node,
// using the given branch length (in million years)
// and an optional taxon name.
// It returns the ID of the new node.
func (t *Tree) Add(parent int, brLen float64, name string) (int, error) {
	p, ok := t.nodes[parent]
	if !ok {
		return -1, fmt.Errorf("%w: %d", ErrAddNoParent, parent)
	}
	name = canon(name)
	if name != "" {
		if _, dup := t.taxa[name]; dup {
			return -1, fmt.Errorf("%w: %s", ErrAddRepeated, name)
		}
	}
	age := p.age - brLen
	if age < 0 {
		return -1, fmt.Errorf("%w: branch length %g greater than parent age %g", ErrAddInvalidBrLen, brLen, p.age)
	}
	n := &node{
		id:     len(t.nodes),
		parent: p,
		age:    age,
		taxon:  name,
		edge:   Edge{Length: brLen},
	}
	p.children = append(p.children, n)
	t.nodes[n.id] = n
	if name != "" {
		t.taxa[name] = n
	}
	return n.id, nil
}

// AddChildAge adds a node as a child of the indicated node,
// at the given absolute age (in million years),
// with an optional taxon name.
// It returns the ID of the new node.
func (t *Tree) AddChildAge(parent int, age float64, name string) (int, error) {
	p, ok := t.nodes[parent]
	if !ok {
		return -1, fmt.Errorf("%w: %d", ErrAddNoParent, parent)
	}
	if age > p.age {
		return -1, fmt.Errorf("%w: %g > parent age %g", ErrOlderAge, age, p.age)
	}
	if age < 0 {
		return -1, fmt.Errorf("%w: %g", ErrYoungerAge, age)
	}
	return t.Add(parent, p.age-age, name)
}

// Age returns the age of the indicated node
// (in million years).
func (t *Tree) Age(id int) float64 {
	n, ok := t.nodes[id]
	if !ok {
		return 0
	}
	return n.age
}

// Children returns the IDs of the children of a node,
// sorted in ascending order.
func (t *Tree) Children(id int) []int {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	children := make([]int, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c.id)
	}
	slices.Sort(children)
	return children
}

// Parent returns the ID of the parent of a node,
// or -1 for the root or an invalid node.
func (t *Tree) Parent(id int) int {
	n, ok := t.nodes[id]
	if !ok || n.parent == nil {
		return -1
	}
	return n.parent.id
}

// IsRoot returns true if the indicated node is the root of the tree.
func (t *Tree) IsRoot(id int) bool {
	n, ok := t.nodes[id]
	return ok && n.parent == nil
}

// IsTerm returns true if the indicated node is a terminal (a tip).
func (t *Tree) IsTerm(id int) bool {
	n, ok := t.nodes[id]
	return ok && n.isTerm()
}

// Taxon returns the taxon name of a node, or "" if it has none.
func (t *Tree) Taxon(id int) string {
	n, ok := t.nodes[id]
	if !ok {
		return ""
	}
	return n.taxon
}

// SetName sets the taxon name of a node
// (used for taxonomy rank labels).
// Terminal nodes must have a non-empty name.
func (t *Tree) SetName(id int, name string) error {
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	name = canon(name)
	if name == "" {
		if n.isTerm() {
			return ErrValUnnamedTerm
		}
		if n.taxon != "" {
			delete(t.taxa, n.taxon)
			n.taxon = ""
		}
		return nil
	}
	if _, dup := t.taxa[name]; dup {
		return fmt.Errorf("%w: %s", ErrAddRepeated, name)
	}
	if n.taxon != "" {
		delete(t.taxa, n.taxon)
	}
	n.taxon = name
	t.taxa[name] = n
	return nil
}

// TaxNode returns the ID of the node with the given taxon name.
func (t *Tree) TaxNode(name string) (int, bool) {
	name = canon(name)
	if name == "" {
		return -1, false
	}
	n, ok := t.taxa[name]
	if !ok {
		return -1, false
	}
	return n.id, true
}

// Taxa returns the names of all named nodes in the tree, sorted.
func (t *Tree) Taxa() []string {
	taxa := make([]string, 0, len(t.taxa))
	for nm := range t.taxa {
		taxa = append(taxa, nm)
	}
	slices.Sort(taxa)
	return taxa
}

// Terms returns the taxon names of all terminals of the tree, sorted.
func (t *Tree) Terms() []string {
	terms := make([]string, 0, len(t.taxa))
	for nm, n := range t.taxa {
		if !n.isTerm() {
			continue
		}
		terms = append(terms, nm)
	}
	slices.Sort(terms)
	return terms
}

// Tips returns the taxon names of all terminals
// that descend from the indicated node, sorted.
func (t *Tree) Tips(id int) []string {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	var out []string
	n.collectTips(&out)
	slices.Sort(out)
	return out
}

// Size returns the number of terminals that descend from a node.
func (t *Tree) Size(id int) int {
	n, ok := t.nodes[id]
	if !ok {
		return 0
	}
	return n.size()
}

// Nodes returns the IDs of every node in the tree, sorted.
func (t *Tree) Nodes() []int {
	ns := make([]int, 0, len(t.nodes))
	for id := range t.nodes {
		ns = append(ns, id)
	}
	slices.Sort(ns)
	return ns
}

// NumInternal returns the number of internal (non-terminal) nodes.
func (t *Tree) NumInternal() int {
	var n int
	for _, nd := range t.nodes {
		if !nd.isTerm() {
			n++
		}
	}
	return n
}

// InternalPostorder returns the IDs of every internal node
// other than the root, in postorder
// (so that a clade nested inside another is always visited first).
func (t *Tree) InternalPostorder() []int {
	var out []int
	var walk func(n *node)
	walk = func(n *node) {
		for _, c := range n.children {
			walk(c)
		}
		if n != t.root && !n.isTerm() {
			out = append(out, n.id)
		}
	}
	walk(t.root)
	return out
}

// InternalAgesDescending returns the ages of every internal node
// (including the node itself) in the subtree rooted at id,
// sorted in descending order.
// This is the "ordered sequence of internal-node ages including the
// crown age" the Birth-Death Estimator and Time Generator require.
func (t *Tree) InternalAgesDescending(id int) []float64 {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	var ages []float64
	var walk func(n *node)
	walk = func(n *node) {
		if n.isTerm() {
			return
		}
		ages = append(ages, n.age)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(n)
	slices.SortFunc(ages, func(a, b float64) int {
		switch {
		case a > b:
			return -1
		case a < b:
			return 1
		default:
			return 0
		}
	})
	return ages
}

// EdgeLocked returns true if the edge incoming to the indicated node
// is locked.
// The root has no incoming edge and is never locked.
func (t *Tree) EdgeLocked(id int) bool {
	n, ok := t.nodes[id]
	if !ok || n.parent == nil {
		return false
	}
	return n.edge.Locked
}

// EdgeLength returns the length of the edge incoming to a node.
func (t *Tree) EdgeLength(id int) float64 {
	n, ok := t.nodes[id]
	if !ok || n.parent == nil {
		return 0
	}
	return n.parent.age - n.age
}

// LockSubtree locks every edge in the subtree rooted at id,
// including the edge incoming to id itself.
// Locking is monotonic: an already locked edge stays locked.
func (t *Tree) LockSubtree(id int) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	var walk func(n *node)
	walk = func(n *node) {
		if n.parent != nil {
			n.edge.Locked = true
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(n)
}

// IsFullyLocked returns true if every edge in the subtree rooted at id,
// including the edge incoming to id, is locked.
// The root has no incoming edge, so for the root only the edges below
// it count; a lone node with no edges at all is vacuously fully locked.
func (t *Tree) IsFullyLocked(id int) bool {
	n, ok := t.nodes[id]
	if !ok {
		return true
	}
	locked := true
	var walk func(n *node)
	walk = func(n *node) {
		if n.parent != nil && !n.edge.Locked {
			locked = false
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(n)
	return locked
}

// MinUnlockedAge returns the smallest node age, among the edges of the
// subtree rooted at id (including id's own edge), that is not locked.
// It returns 0 if every edge is locked. The root has no incoming edge,
// so for the root only the edges below it count.
func (t *Tree) MinUnlockedAge(id int) float64 {
	n, ok := t.nodes[id]
	if !ok {
		return 0
	}
	found := false
	min := 0.0
	var walk func(n *node)
	walk = func(n *node) {
		if n.parent != nil && !n.edge.Locked {
			if !found || n.age < min {
				min = n.age
				found = true
			}
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(n)
	if !found {
		return 0
	}
	return min
}

// EligibleEdges returns the IDs of every node in the subtree rooted at
// recipient whose incoming edge is eligible to receive a graft aged
// gAge: unlocked, and bracketed by the edge's child and parent ages.
// If stem is true, recipient's own incoming edge is also considered.
func (t *Tree) EligibleEdges(recipient int, gAge float64, stem bool) []int {
	r, ok := t.nodes[recipient]
	if !ok {
		return nil
	}
	var out []int
	var walk func(n *node)
	walk = func(n *node) {
		if n.parent != nil && (n != r || stem) {
			if !n.edge.Locked && n.age <= gAge && gAge <= n.parent.age {
				out = append(out, n.id)
			}
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(r)
	return out
}

// Graft merges a detached subtree sub into t,
// making its root a new child of focal's former parent (the "seed"),
// and making focal a child of sub's root.
// focal's own subtree, and its locked status, are preserved unchanged;
// only its position moves one step down, below sub's root.
// It returns the ID, within t, of sub's former root once merged.
//
// Graft is the low level mutation primitive the Grafter builds on:
// the eligible-edge selection policy lives in package graft, not here.
func (t *Tree) Graft(focal int, sub *Tree) (int, error) {
	f, ok := t.nodes[focal]
	if !ok {
		return -1, fmt.Errorf("%w: %d", ErrUnknownNode, focal)
	}
	seed := f.parent
	if seed == nil {
		return -1, ErrGraftAboveRoot
	}
	if f.edge.Locked {
		return -1, fmt.Errorf("%w: node %d", ErrEdgeLocked, focal)
	}

	g := sub.root
	gAge := g.age
	if gAge < f.age || gAge > seed.age {
		return -1, fmt.Errorf("%w: graft age %g outside [%g, %g]", ErrNegativeBranch, gAge, f.age, seed.age)
	}

	// re-key sub's nodes into t's arena.
	offset := len(t.nodes)
	var renumber func(n *node)
	renumber = func(n *node) {
		n.id += offset
		t.nodes[n.id] = n
		if n.taxon != "" {
			t.taxa[n.taxon] = n
		}
		for _, c := range n.children {
			renumber(c)
		}
	}
	renumber(g)

	// detach focal from seed, preserving the other children.
	kept := make([]*node, 0, len(seed.children))
	for _, c := range seed.children {
		if c != f {
			kept = append(kept, c)
		}
	}
	g.parent = seed
	g.edge.Length = seed.age - g.age
	if g.edge.Length < 0 {
		return -1, ErrNegativeBranch
	}
	kept = append(kept, g)
	seed.children = kept

	f.parent = g
	f.edge.Length = g.age - f.age
	if f.edge.Length < 0 {
		return -1, ErrNegativeBranch
	}
	g.children = append(g.children, f)

	return g.id, nil
}

// Format renumbers and ladderizes the tree,
// ordering children at every node by clade size,
// then age, then first terminal in alphabetical order.
func (t *Tree) Format() {
	t.root.sortAllChildren()
	var ns []*node
	var walk func(n *node)
	walk = func(n *node) {
		ns = append(ns, n)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.root)

	nodes := make(map[int]*node, len(ns))
	for i, n := range ns {
		n.id = i
		nodes[i] = n
	}
	t.nodes = nodes
}

// Validate returns an error if the tree is invalid:
// it has a node with a single child,
// or a terminal without a name.
func (t *Tree) Validate() error {
	for _, n := range t.nodes {
		if len(n.children) == 1 {
			return fmt.Errorf("%w: %d", ErrValSingleChild, n.id)
		}
		if n.isTerm() && n.taxon == "" {
			return fmt.Errorf("%w: %d", ErrValUnnamedTerm, n.id)
		}
	}
	return nil
}

// IsBinary returns true if every internal node in the subtree rooted
// at id (id included) has exactly two children.
func (t *Tree) IsBinary(id int) bool {
	n, ok := t.nodes[id]
	if !ok {
		return false
	}
	binary := true
	var walk func(n *node)
	walk = func(n *node) {
		if !n.isTerm() && len(n.children) != 2 {
			binary = false
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(n)
	return binary
}

// IsUltrametric returns true if, for every node in the subtree rooted
// at id, the edge length to each child equals the parent's age minus
// the child's age, within tol.
func (t *Tree) IsUltrametric(id int, tol float64) bool {
	n, ok := t.nodes[id]
	if !ok {
		return false
	}
	ultrametric := true
	var walk func(n *node)
	walk = func(n *node) {
		for _, c := range n.children {
			diff := (n.age - c.age) - c.edge.Length
			if diff < 0 {
				diff = -diff
			}
			if diff > tol {
				ultrametric = false
			}
			walk(c)
		}
	}
	walk(n)
	return ultrametric
}

// SetAnnotation sets the birth/death rates and creation method of a
// node. Rate annotations are immutable after first write:
// SetAnnotation only sets the rates on the first call for a given
// node, though the creation method is always updated.
func (t *Tree) SetAnnotation(id int, birth, death float64, method string) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	if method != "" {
		n.ann.CreationMethod = method
	}
	if n.ann.HasRates {
		return
	}
	n.ann.Birth = birth
	n.ann.Death = death
	n.ann.HasRates = true
}

// Annotation returns the annotation of a node.
func (t *Tree) Annotation(id int) Annotation {
	n, ok := t.nodes[id]
	if !ok {
		return Annotation{}
	}
	return n.ann
}

// A node is a node in a phylogenetic tree.
type node struct {
	id     int
	parent *node
	age    float64
	taxon  string
	edge   Edge
	ann    Annotation

	children []*node
}

func (n *node) isTerm() bool { return len(n.children) == 0 }

func (n *node) size() int {
	if n.isTerm() {
		return 1
	}
	sz := 0
	for _, c := range n.children {
		sz += c.size()
	}
	return sz
}

func (n *node) collectTips(out *[]string) {
	if n.isTerm() {
		*out = append(*out, n.taxon)
		return
	}
	for _, c := range n.children {
		c.collectTips(out)
	}
}

func (n *node) firstTerm() string {
	if n.isTerm() {
		return n.taxon
	}
	term := n.children[0].firstTerm()
	for _, c := range n.children[1:] {
		tm := c.firstTerm()
		if tm < term {
			term = tm
		}
	}
	return term
}

func (n *node) sortAllChildren() {
	for _, c := range n.children {
		c.sortAllChildren()
	}
	slices.SortFunc(n.children, func(a, b *node) int {
		szA, szB := a.size(), b.size()
		if szA != szB {
			if szA < szB {
				return -1
			}
			return 1
		}
		if a.age != b.age {
			// larger ages are earlier ages.
			if a.age > b.age {
				return -1
			}
			return 1
		}
		if a.firstTerm() < b.firstTerm() {
			return -1
		}
		return 1
	})
}

// canon returns a taxon name in its canonical form:
// collapsed whitespace, and capitalized first letter.
func canon(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	name = strings.ToLower(name)
	r, n := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[n:]
}
