package engine

import (
	"math"
	"sort"
	"strings"
)

type OutlineHeading struct {
	Level      int
	Text       string
	LineNumber int
	CrossLinks []string
}

// AreaNode is owned by its parent; the tree allows unbounded depth but a
// node never has more than one parent. CrossLinks name other areas that
// receive a decayed share of this node's awards.
type AreaNode struct {
	Name       string
	Path       string
	XP         int
	CrossLinks []string
	Parent     *AreaNode
	Children   []*AreaNode
}

type AreaAward struct {
	Path   string `json:"path"`
	Amount int    `json:"amount"`
}

type AreaTree struct {
	cfg   Config
	root  *AreaNode
	nodes map[string]*AreaNode
}

func NewAreaTree(cfg Config) *AreaTree {
	return &AreaTree{
		cfg:   cfg,
		root:  &AreaNode{},
		nodes: map[string]*AreaNode{},
	}
}

// BuildAreaTree shapes a tree from an ordered outline; heading levels
// define nesting and paths are the slash-joined ancestor names. A heading
// that repeats an existing path reuses that node instead of forking a
// duplicate.
func BuildAreaTree(cfg Config, outline []OutlineHeading) *AreaTree {
	tree := NewAreaTree(cfg)
	type frame struct {
		level int
		node  *AreaNode
	}
	stack := []frame{{level: 0, node: tree.root}}
	for _, heading := range outline {
		name := strings.TrimSpace(heading.Text)
		if name == "" || heading.Level < 1 {
			continue
		}
		for len(stack) > 1 && stack[len(stack)-1].level >= heading.Level {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].node
		path := joinAreaPath(parent.Path, name)
		node, ok := tree.nodes[path]
		if !ok {
			node = &AreaNode{Name: name, Path: path, Parent: parent}
			parent.Children = append(parent.Children, node)
			tree.nodes[path] = node
		}
		if len(heading.CrossLinks) > 0 {
			node.CrossLinks = normalizeAreaPaths(heading.CrossLinks)
		}
		stack = append(stack, frame{level: heading.Level, node: node})
	}
	return tree
}

// Rehydrate restores persisted XP by path. Paths absent from the current
// outline are materialized so reshaping the areas document never loses XP.
func (at *AreaTree) Rehydrate(xpByPath map[string]int) {
	paths := make([]string, 0, len(xpByPath))
	for path := range xpByPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		node := at.materialize(path)
		if node == nil {
			continue
		}
		xp := xpByPath[path]
		if xp < 0 {
			xp = 0
		}
		node.XP = xp
	}
}

// resetXP zeroes every node before applying the map, so a failed batch
// can be unwound without rebuilding the tree.
func (at *AreaTree) resetXP(xpByPath map[string]int) {
	for _, node := range at.nodes {
		node.XP = 0
	}
	at.Rehydrate(xpByPath)
}

// AddAreaXP applies amount to the node at path, creating it if unseen, and
// hands each resolvable bubble link a decayed share in a single
// non-recursive step. Negative amounts clamp at zero. Returns the awards
// actually applied and the links that could not be resolved.
func (at *AreaTree) AddAreaXP(path string, amount int, bubbleLinks []string) ([]AreaAward, []string) {
	node := at.materialize(path)
	if node == nil {
		return nil, nil
	}
	awards := []AreaAward{}
	if applied := applyClamped(&node.XP, amount); applied != 0 {
		awards = append(awards, AreaAward{Path: node.Path, Amount: applied})
	}
	var missing []string
	if len(bubbleLinks) == 0 {
		return awards, nil
	}
	share := int(math.Round(float64(amount) * at.cfg.BubblePercentage))
	for _, link := range normalizeAreaPaths(bubbleLinks) {
		if link == node.Path {
			continue
		}
		target, ok := at.nodes[link]
		if !ok {
			missing = append(missing, link)
			continue
		}
		if applied := applyClamped(&target.XP, share); applied != 0 {
			awards = append(awards, AreaAward{Path: target.Path, Amount: applied})
		}
	}
	return awards, missing
}

func (at *AreaTree) FindByPath(path string) (*AreaNode, bool) {
	normalized, ok := normalizeAreaPath(path)
	if !ok {
		return nil, false
	}
	node, ok := at.nodes[normalized]
	return node, ok
}

// TotalXP walks the subtree on demand; it is never cached.
func (at *AreaTree) TotalXP(node *AreaNode) int {
	if node == nil {
		return 0
	}
	total := node.XP
	for _, child := range node.Children {
		total += at.TotalXP(child)
	}
	return total
}

func (at *AreaTree) Level(node *AreaNode) int {
	if node == nil {
		return 0
	}
	return LevelForXP(node.XP, at.cfg.AreaCurve)
}

func (at *AreaTree) Len() int {
	return len(at.nodes)
}

func (at *AreaTree) Nodes() []*AreaNode {
	out := make([]*AreaNode, 0, len(at.nodes))
	for _, node := range at.nodes {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// SnapshotXP is the persisted area document: every path carrying XP.
func (at *AreaTree) SnapshotXP() map[string]int {
	out := map[string]int{}
	for path, node := range at.nodes {
		if node.XP > 0 {
			out[path] = node.XP
		}
	}
	return out
}

func (at *AreaTree) materialize(path string) *AreaNode {
	normalized, ok := normalizeAreaPath(path)
	if !ok {
		return nil
	}
	if node, exists := at.nodes[normalized]; exists {
		return node
	}
	parent := at.root
	walked := ""
	for _, segment := range strings.Split(normalized, "/") {
		walked = joinAreaPath(walked, segment)
		node, exists := at.nodes[walked]
		if !exists {
			node = &AreaNode{Name: segment, Path: walked, Parent: parent}
			parent.Children = append(parent.Children, node)
			at.nodes[walked] = node
		}
		parent = node
	}
	return parent
}

func applyClamped(xp *int, delta int) int {
	next := *xp + delta
	if next < 0 {
		next = 0
	}
	applied := next - *xp
	*xp = next
	return applied
}

func joinAreaPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func normalizeAreaPath(path string) (string, bool) {
	segments := strings.Split(path, "/")
	cleaned := segments[:0]
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		cleaned = append(cleaned, segment)
	}
	if len(cleaned) == 0 {
		return "", false
	}
	return strings.Join(cleaned, "/"), true
}

func normalizeAreaPaths(paths []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		normalized, ok := normalizeAreaPath(path)
		if !ok {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
