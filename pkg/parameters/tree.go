package parameters

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tree is an immutable parameter hierarchy addressed by dotted paths. Every
// mutating method returns a new Tree sharing unchanged nodes with the receiver.
type Tree struct {
	root    *Node
	uprated *uprateCache
}

type uprateKey struct {
	path string
	at   time.Time
}

// uprateCache memoises uprated lookups per (path, date). It is scoped to one
// Tree value because a derived tree may carry different histories.
type uprateCache struct {
	mu     sync.Mutex
	values map[uprateKey]float64
}

func newUprateCache() *uprateCache {
	return &uprateCache{values: make(map[uprateKey]float64)}
}

func (c *uprateCache) get(k uprateKey) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[k]
	return v, ok
}

func (c *uprateCache) put(k uprateKey, v float64) {
	c.mu.Lock()
	c.values[k] = v
	c.mu.Unlock()
}

// NewTree wraps root. A nil root yields an empty tree.
func NewTree(root *Node) *Tree {
	if root == nil {
		root = Branch(nil)
	}
	return &Tree{root: root, uprated: newUprateCache()}
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

func splitPath(path string) []string {
	path = strings.Trim(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Lookup returns the node at path.
func (t *Tree) Lookup(path string) (*Node, error) {
	n := t.root
	for i, seg := range splitPath(path) {
		child, ok := n.Child(seg)
		if !ok {
			return nil, ParameterNotFoundError{Path: path, Reason: fmt.Sprintf("no child %q under %q", seg, strings.Join(splitPath(path)[:i], "."))}
		}
		n = child
	}
	return n, nil
}

func (t *Tree) parameter(path string) (*Parameter, error) {
	n, err := t.Lookup(path)
	if err != nil {
		return nil, err
	}
	p, ok := n.Parameter()
	if !ok {
		return nil, ParameterNotFoundError{Path: path, Reason: "not a scalar parameter"}
	}
	return p, nil
}

// Resolve returns the value of the scalar parameter at path on date at.
func (t *Tree) Resolve(path string, at time.Time) (float64, error) {
	p, err := t.parameter(path)
	if err != nil {
		return 0, err
	}
	return t.valueAt(path, p, Date(at.Date()), 0)
}

const maxUpratingChain = 16

func (t *Tree) valueAt(path string, p *Parameter, at time.Time, depth int) (float64, error) {
	idx := sort.Search(len(p.values), func(i int) bool { return p.values[i].Start.After(at) }) - 1
	if idx < 0 || p.values[idx].Closed {
		return 0, ParameterUndefinedAtDateError{Path: path, Date: at}
	}
	cur := p.values[idx]
	if idx+1 < len(p.values) {
		next := p.values[idx+1]
		if !p.interpolate || next.Closed {
			return cur.Amount, nil
		}
		span := next.Start.Sub(cur.Start).Hours()
		frac := at.Sub(cur.Start).Hours() / span
		return cur.Amount + frac*(next.Amount-cur.Amount), nil
	}
	if p.uprating == "" || !at.After(cur.Start) {
		return cur.Amount, nil
	}
	return t.uprate(path, p, cur, at, depth)
}

func (t *Tree) uprate(path string, p *Parameter, last Value, at time.Time, depth int) (float64, error) {
	key := uprateKey{path: path, at: at}
	if v, ok := t.uprated.get(key); ok {
		return v, nil
	}
	if depth >= maxUpratingChain {
		return 0, fmt.Errorf("parameters: uprating chain from %s exceeds %d links", path, maxUpratingChain)
	}
	index, err := t.parameter(p.uprating)
	if err != nil {
		return 0, fmt.Errorf("parameters: uprating index for %s: %w", path, err)
	}
	from, err := t.valueAt(p.uprating, index, last.Start, depth+1)
	if err != nil {
		return 0, fmt.Errorf("parameters: uprating index for %s: %w", path, err)
	}
	to, err := t.valueAt(p.uprating, index, at, depth+1)
	if err != nil {
		var undef ParameterUndefinedAtDateError
		if errors.As(err, &undef) {
			return 0, ParameterUndefinedAtDateError{Path: path, Date: at}
		}
		return 0, err
	}
	v := last.Amount
	if from != 0 {
		v = last.Amount * to / from
	}
	t.uprated.put(key, v)
	return v, nil
}

// At returns a read view of the tree as of date d.
func (t *Tree) At(d time.Time) Snapshot {
	return Snapshot{tree: t, at: Date(d.Date())}
}

// WithSubtree returns a tree whose node at path is replaced by node. Missing
// intermediate branches are created. An empty path replaces the root.
func (t *Tree) WithSubtree(path string, node *Node) (*Tree, error) {
	if node == nil {
		return nil, fmt.Errorf("parameters: nil subtree for %q", path)
	}
	root, err := replaceAt(t.root, splitPath(path), node, path)
	if err != nil {
		return nil, err
	}
	return NewTree(root), nil
}

func replaceAt(n *Node, segs []string, node *Node, full string) (*Node, error) {
	if len(segs) == 0 {
		return node, nil
	}
	if !n.IsBranch() {
		return nil, ParameterNotFoundError{Path: full, Reason: "path runs through a leaf"}
	}
	child, ok := n.Child(segs[0])
	if !ok {
		child = Branch(nil)
	}
	replaced, err := replaceAt(child, segs[1:], node, full)
	if err != nil {
		return nil, err
	}
	return n.withChild(segs[0], replaced), nil
}

// WithValue returns a tree in which the scalar at path takes amount from the
// date from onwards. Earlier history is preserved.
func (t *Tree) WithValue(path string, from time.Time, amount float64) (*Tree, error) {
	p, err := t.parameter(path)
	if err != nil {
		return nil, err
	}
	return t.WithSubtree(path, Leaf(p.withValueFrom(from, amount)))
}

// Merge overlays other onto t: branches merge recursively and leaves in other
// replace leaves in t.
func (t *Tree) Merge(other *Tree) *Tree {
	if other == nil {
		return t
	}
	return NewTree(mergeNodes(t.root, other.root))
}

func mergeNodes(base, over *Node) *Node {
	if !base.IsBranch() || !over.IsBranch() {
		return over
	}
	out := Branch(base.children)
	out.description = base.description
	for _, name := range over.ChildNames() {
		oc, _ := over.Child(name)
		if bc, ok := base.Child(name); ok {
			oc = mergeNodes(bc, oc)
		}
		out.children[name] = oc
	}
	if over.description != "" {
		out.description = over.description
	}
	return out
}

// Walk visits every leaf in lexical path order.
func (t *Tree) Walk(fn func(path string, n *Node) error) error {
	return walk("", t.root, fn)
}

func walk(prefix string, n *Node, fn func(string, *Node) error) error {
	if !n.IsBranch() {
		return fn(prefix, n)
	}
	for _, name := range n.ChildNames() {
		child, _ := n.Child(name)
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if err := walk(path, child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot reads a tree at a fixed date, optionally below a path prefix.
type Snapshot struct {
	tree   *Tree
	at     time.Time
	prefix string
}

// Date returns the snapshot date.
func (s Snapshot) Date() time.Time { return s.at }

func (s Snapshot) full(path string) string {
	switch {
	case s.prefix == "":
		return path
	case path == "":
		return s.prefix
	default:
		return s.prefix + "." + path
	}
}

// Sub narrows the snapshot to the subtree at prefix.
func (s Snapshot) Sub(prefix string) Snapshot {
	s.prefix = s.full(prefix)
	return s
}

// Float returns a scalar parameter value.
func (s Snapshot) Float(path string) (float64, error) {
	return s.tree.Resolve(s.full(path), s.at)
}

// Bool returns a scalar parameter interpreted as a flag (non-zero is true).
func (s Snapshot) Bool(path string) (bool, error) {
	v, err := s.Float(path)
	return v != 0, err
}

// Select resolves a categorical table: for each key, the scalar child named
// by that key under path.
func (s Snapshot) Select(path string, keys []string) ([]float64, error) {
	base := s.full(path)
	cache := make(map[string]float64)
	out := make([]float64, len(keys))
	for i, k := range keys {
		v, ok := cache[k]
		if !ok {
			var err error
			v, err = s.tree.Resolve(base+"."+k, s.at)
			if err != nil {
				return nil, err
			}
			cache[k] = v
		}
		out[i] = v
	}
	return out, nil
}

// Scale resolves the scale at path into concrete brackets.
func (s Snapshot) Scale(path string) (ScaleAt, error) {
	full := s.full(path)
	n, err := s.tree.Lookup(full)
	if err != nil {
		return ScaleAt{}, err
	}
	sc, ok := n.Scale()
	if !ok {
		return ScaleAt{}, ParameterNotFoundError{Path: full, Reason: "not a scale"}
	}
	return resolveScale(s.tree, full, sc, s.at)
}
