package resolver

import (
	"fmt"
	"io"

	"github.com/permaskills/skills/internal/manifest"
)

// Node is one resolved package. Children index into Plan.Nodes.
type Node struct {
	Name       string
	Version    string
	ContentID  string
	Constraint string
	Depth      int
	Children   []int
	Direct     bool
	Cached     bool
	Manifest   *manifest.Skill
}

// Ref returns name@version.
func (n *Node) Ref() manifest.Ref {
	return manifest.Ref{Name: n.Name, Version: n.Version}
}

// Plan is the resolved graph. Order lists every node after all of its
// dependencies.
type Plan struct {
	Nodes []Node
	Order []int
	Root  int
}

// Len returns the number of packages in the plan.
func (p *Plan) Len() int {
	return len(p.Nodes)
}

// CachedCount returns how many nodes are already installed.
func (p *Plan) CachedCount() int {
	n := 0
	for i := range p.Nodes {
		if p.Nodes[i].Cached {
			n++
		}
	}
	return n
}

// Ordered returns the nodes in installation order.
func (p *Plan) Ordered() []*Node {
	out := make([]*Node, 0, len(p.Order))
	for _, idx := range p.Order {
		out = append(out, &p.Nodes[idx])
	}
	return out
}

// Levels groups node indices by height: level 0 holds leaves, and every
// node sits in a higher level than each of its dependencies. Nodes within a
// level keep installation order.
func (p *Plan) Levels() [][]int {
	height := make([]int, len(p.Nodes))
	maxHeight := 0
	for _, idx := range p.Order {
		h := 0
		for _, c := range p.Nodes[idx].Children {
			if height[c]+1 > h {
				h = height[c] + 1
			}
		}
		height[idx] = h
		if h > maxHeight {
			maxHeight = h
		}
	}

	if len(p.Nodes) == 0 {
		return nil
	}
	levels := make([][]int, maxHeight+1)
	for _, idx := range p.Order {
		levels[height[idx]] = append(levels[height[idx]], idx)
	}
	return levels
}

// PrintTree writes the plan as a tree with box-drawing characters. Nodes
// reached a second time are marked as deduped and not expanded again.
func (p *Plan) PrintTree(w io.Writer) {
	if len(p.Nodes) == 0 {
		return
	}
	seen := make(map[int]bool)
	p.printNode(w, p.Root, "", true, true, seen)
}

func (p *Plan) printNode(w io.Writer, idx int, prefix string, isLast, isRoot bool, seen map[int]bool) {
	node := &p.Nodes[idx]

	connector := "├── "
	if isLast {
		connector = "└── "
	}

	label := node.Ref().String()
	switch {
	case seen[idx]:
		label += " (deduped)"
	case node.Cached:
		label += " (already installed)"
	}

	if isRoot {
		fmt.Fprintf(w, "  %s\n", label)
	} else {
		fmt.Fprintf(w, "  %s%s%s\n", prefix, connector, label)
	}
	if seen[idx] {
		return
	}
	seen[idx] = true

	childPrefix := prefix
	if !isRoot {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	for i, c := range node.Children {
		p.printNode(w, c, childPrefix, i == len(node.Children)-1, false, seen)
	}
}
