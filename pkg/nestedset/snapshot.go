package nestedset

import (
	"fmt"
	"sort"
)

// Plan lists the row changes of one structural mutation. Insert, when set,
// has a zero ID; the storage layer assigns it.
type Plan struct {
	Insert  *Node
	Updates []Node
	Deletes []int64
}

// Empty reports whether applying p would change nothing.
func (p Plan) Empty() bool {
	return p.Insert == nil && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// Snapshot is an immutable view of a nested-set table ordered by left bound.
type Snapshot struct {
	nodes []Node
	index map[int64]int
}

// NewSnapshot copies nodes into a snapshot. The input order is irrelevant.
func NewSnapshot(nodes []Node) *Snapshot {
	s := &Snapshot{
		nodes: make([]Node, len(nodes)),
		index: make(map[int64]int, len(nodes)),
	}
	copy(s.nodes, nodes)
	sort.Slice(s.nodes, func(i, j int) bool { return s.nodes[i].Left < s.nodes[j].Left })
	for i, n := range s.nodes {
		s.index[n.ID] = i
	}
	return s
}

func (s *Snapshot) Len() int {
	return len(s.nodes)
}

// Nodes returns a copy of the nodes in pre-order.
func (s *Snapshot) Nodes() []Node {
	out := make([]Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

func (s *Snapshot) Get(id int64) (Node, bool) {
	i, ok := s.index[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[i], true
}

// MaxRight is the largest bound in use, or zero for an empty table.
func (s *Snapshot) MaxRight() int64 {
	var max int64
	for _, n := range s.nodes {
		if n.Right > max {
			max = n.Right
		}
	}
	return max
}

// Subtree returns the node and its descendants in pre-order.
func (s *Snapshot) Subtree(id int64) []Node {
	root, ok := s.Get(id)
	if !ok {
		return nil
	}
	var out []Node
	for _, n := range s.nodes[s.index[id]:] {
		if n.Left > root.Right {
			break
		}
		out = append(out, n)
	}
	return out
}

// Validate checks the snapshot against the nested-set invariant.
func (s *Snapshot) Validate() error {
	return Validate(s.nodes)
}

// Apply returns a new snapshot with p applied. insertedID names the row
// created for p.Insert.
func (s *Snapshot) Apply(p Plan, insertedID int64) *Snapshot {
	deleted := make(map[int64]bool, len(p.Deletes))
	for _, id := range p.Deletes {
		deleted[id] = true
	}
	updated := make(map[int64]Node, len(p.Updates))
	for _, n := range p.Updates {
		updated[n.ID] = n
	}

	next := make([]Node, 0, len(s.nodes)+1)
	for _, n := range s.nodes {
		if deleted[n.ID] {
			continue
		}
		if u, ok := updated[n.ID]; ok {
			n = u
		}
		next = append(next, n)
	}
	if p.Insert != nil {
		ins := *p.Insert
		ins.ID = insertedID
		next = append(next, ins)
	}
	return NewSnapshot(next)
}

// PlanInsertRoot places a new top-level node after every existing interval.
func (s *Snapshot) PlanInsertRoot() Plan {
	max := s.MaxRight()
	return Plan{Insert: &Node{Left: max + 1, Right: max + 2}}
}

// PlanInsertFirstChild opens a gap directly after the parent's left bound.
func (s *Snapshot) PlanInsertFirstChild(parentID int64) (Plan, error) {
	p, ok := s.Get(parentID)
	if !ok {
		return Plan{}, fmt.Errorf("%w: parent %d", ErrNotFound, parentID)
	}
	updates := s.renumber(func(v int64) int64 {
		if v > p.Left {
			return v + 2
		}
		return v
	}, 0, 0)
	return Plan{
		Insert:  &Node{ParentID: p.ID, Left: p.Left + 1, Right: p.Left + 2},
		Updates: updates,
	}, nil
}

// PlanAppendChild opens a gap directly before the parent's right bound.
func (s *Snapshot) PlanAppendChild(parentID int64) (Plan, error) {
	p, ok := s.Get(parentID)
	if !ok {
		return Plan{}, fmt.Errorf("%w: parent %d", ErrNotFound, parentID)
	}
	updates := s.renumber(func(v int64) int64 {
		if v >= p.Right {
			return v + 2
		}
		return v
	}, 0, 0)
	return Plan{
		Insert:  &Node{ParentID: p.ID, Left: p.Right, Right: p.Right + 1},
		Updates: updates,
	}, nil
}

// PlanMove relocates the subtree rooted at sourceID relative to targetID.
// Moving a node to the position it already occupies yields an empty plan.
func (s *Snapshot) PlanMove(sourceID, targetID int64, pos Position) (Plan, error) {
	src, ok := s.Get(sourceID)
	if !ok {
		return Plan{}, fmt.Errorf("%w: source %d", ErrNotFound, sourceID)
	}
	dst, ok := s.Get(targetID)
	if !ok {
		return Plan{}, fmt.Errorf("%w: target %d", ErrNotFound, targetID)
	}
	if sourceID == targetID {
		return Plan{}, ErrSameNode
	}
	if src.Contains(dst) {
		return Plan{}, ErrCycle
	}

	// gap is the bound value the moved subtree should start at, expressed in
	// the current numbering.
	var gap, parent int64
	switch pos {
	case FirstChild:
		gap, parent = dst.Left+1, dst.ID
	case LastChild:
		gap, parent = dst.Right, dst.ID
	case PrevSibling:
		gap, parent = dst.Left, dst.ParentID
	case NextSibling:
		gap, parent = dst.Right+1, dst.ParentID
	default:
		return Plan{}, fmt.Errorf("unknown position %d", int(pos))
	}

	if gap == src.Left || gap == src.Right+1 {
		if parent == src.ParentID {
			return Plan{}, nil
		}
		src.ParentID = parent
		return Plan{Updates: []Node{src}}, nil
	}

	width := src.Width()
	var offset int64
	if gap > src.Right {
		offset = gap - src.Right - 1
	} else {
		offset = gap - src.Left
	}

	updates := s.renumber(func(v int64) int64 {
		switch {
		case v >= src.Left && v <= src.Right:
			return v + offset
		case gap > src.Right && v > src.Right && v < gap:
			return v - width
		case gap < src.Left && v >= gap && v < src.Left:
			return v + width
		}
		return v
	}, src.ID, parent)
	return Plan{Updates: updates}, nil
}

// PlanDelete removes a node and closes the gap it leaves behind.
func (s *Snapshot) PlanDelete(id int64, policy DeletePolicy) (Plan, error) {
	n, ok := s.Get(id)
	if !ok {
		return Plan{}, fmt.Errorf("%w: node %d", ErrNotFound, id)
	}
	if !n.IsLeaf() && policy != CascadeSubtree {
		return Plan{}, ErrHasChildren
	}

	subtree := s.Subtree(id)
	deletes := make([]int64, 0, len(subtree))
	removed := make(map[int64]bool, len(subtree))
	for _, d := range subtree {
		deletes = append(deletes, d.ID)
		removed[d.ID] = true
	}

	width := n.Width()
	var updates []Node
	for _, u := range s.renumber(func(v int64) int64 {
		if v > n.Right {
			return v - width
		}
		return v
	}, 0, 0) {
		if !removed[u.ID] {
			updates = append(updates, u)
		}
	}
	return Plan{Updates: updates, Deletes: deletes}, nil
}

// renumber maps every bound through f and sets the parent of node reparent,
// returning only the nodes that changed.
func (s *Snapshot) renumber(f func(int64) int64, reparent, parent int64) []Node {
	var changed []Node
	for _, n := range s.nodes {
		m := Node{ID: n.ID, ParentID: n.ParentID, Left: f(n.Left), Right: f(n.Right)}
		if reparent != 0 && n.ID == reparent {
			m.ParentID = parent
		}
		if m != n {
			changed = append(changed, m)
		}
	}
	return changed
}
