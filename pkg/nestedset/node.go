package nestedset

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("node not found")
	ErrSameNode    = errors.New("source and target are the same node")
	ErrCycle       = errors.New("target is a descendant of source")
	ErrHasChildren = errors.New("node has children")
	ErrCorrupt     = errors.New("nested-set invariant violated")
)

// Node is one row of a nested-set table. ParentID is zero for roots.
type Node struct {
	ID       int64
	ParentID int64
	Left     int64
	Right    int64
}

// Width is the number of bounds the subtree rooted at n occupies.
func (n Node) Width() int64 {
	return n.Right - n.Left + 1
}

// IsLeaf reports whether n has no descendants.
func (n Node) IsLeaf() bool {
	return n.Right-n.Left == 1
}

// Contains reports whether o is a strict descendant of n.
func (n Node) Contains(o Node) bool {
	return n.Left < o.Left && o.Right < n.Right
}

// Position is the destination of a move relative to its target.
type Position int

const (
	FirstChild Position = iota
	LastChild
	NextSibling
	PrevSibling
)

func (p Position) String() string {
	switch p {
	case FirstChild:
		return "first_child"
	case LastChild:
		return "last_child"
	case NextSibling:
		return "next_sibling"
	case PrevSibling:
		return "prev_sibling"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}

// ParsePosition accepts the String form of a Position.
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first_child", "first":
		return FirstChild, nil
	case "last_child", "last", "":
		return LastChild, nil
	case "next_sibling", "next":
		return NextSibling, nil
	case "prev_sibling", "prev":
		return PrevSibling, nil
	}
	return 0, fmt.Errorf("unknown position %q", s)
}

// DeletePolicy decides what happens to the descendants of a deleted node.
type DeletePolicy int

const (
	// RejectChildren refuses to delete a node that has descendants.
	RejectChildren DeletePolicy = iota
	// CascadeSubtree deletes the node together with all of its descendants.
	CascadeSubtree
)

func (p DeletePolicy) String() string {
	if p == CascadeSubtree {
		return "cascade"
	}
	return "reject"
}

// Validate checks the nested-set invariant over a complete table: every
// interval is well formed, no bound is shared, no two intervals partially
// overlap, and each parent reference names the tightest enclosing node.
func Validate(nodes []Node) error {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Left < sorted[j].Left })

	seen := make(map[int64]int64, len(sorted)*2)
	var stack []Node
	for _, n := range sorted {
		if n.Left >= n.Right {
			return fmt.Errorf("%w: node %d has interval [%d, %d]", ErrCorrupt, n.ID, n.Left, n.Right)
		}
		for _, b := range []int64{n.Left, n.Right} {
			if other, ok := seen[b]; ok {
				return fmt.Errorf("%w: bound %d shared by nodes %d and %d", ErrCorrupt, b, other, n.ID)
			}
			seen[b] = n.ID
		}

		for len(stack) > 0 && stack[len(stack)-1].Right < n.Left {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			if n.ParentID != 0 {
				return fmt.Errorf("%w: node %d is top-level but references parent %d", ErrCorrupt, n.ID, n.ParentID)
			}
		} else {
			top := stack[len(stack)-1]
			if n.Right > top.Right {
				return fmt.Errorf("%w: node %d [%d, %d] partially overlaps node %d [%d, %d]",
					ErrCorrupt, n.ID, n.Left, n.Right, top.ID, top.Left, top.Right)
			}
			if n.ParentID != top.ID {
				return fmt.Errorf("%w: node %d references parent %d but is enclosed by %d", ErrCorrupt, n.ID, n.ParentID, top.ID)
			}
		}
		stack = append(stack, n)
	}
	return nil
}
