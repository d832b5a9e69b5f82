// Package nestedset implements interval renumbering for trees stored with the
// nested-set encoding.
//
// # Overview
//
// Every node carries a left and a right bound. A node A is an ancestor of B
// iff A.Left < B.Left and B.Right < A.Right, so containment queries reduce to
// interval comparison. Two intervals are either disjoint or one contains the
// other; every plan produced by this package preserves that invariant.
//
// The package is pure: a Snapshot is an in-memory view of the table ordered
// by left bound, and the Plan* methods return the minimal set of row changes
// needed to perform a structural mutation. Storage layers load a snapshot
// inside a transaction, compute a plan, and write back only the rows listed in
// it.
//
// # Mutations
//
//	PlanInsertRoot       new top-level node after every existing interval
//	PlanInsertFirstChild new node as the first child of a parent
//	PlanAppendChild      new node as the last child of a parent
//	PlanMove             relocate a subtree (first/last child, next/prev sibling)
//	PlanDelete           remove a leaf, or a whole subtree with CascadeSubtree
package nestedset
