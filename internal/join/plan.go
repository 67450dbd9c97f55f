// Package join combines entity tables on canonical keys through a lazy plan
// of typed nodes. Building a plan is pure graph construction; nothing reads
// a row until an executor materializes the plan. Executors are pluggable so
// the same plan can run sequentially or partition-parallel with identical
// results.
package join

import (
	"fmt"

	"omicscore/internal/table"
	"omicscore/pkg/identifier"
)

// Type selects the join semantics.
type Type string

const (
	Inner Type = "inner"
	Left  Type = "left"
	Outer Type = "outer"
)

// CollisionPolicy decides what happens when both sides carry an attribute
// column of the same name. The default is deterministic suffixing by source
// table name; a collision is never silently overwritten.
type CollisionPolicy string

const (
	Suffix      CollisionPolicy = "suffix"
	PreferLeft  CollisionPolicy = "prefer_left"
	PreferRight CollisionPolicy = "prefer_right"
	Collide     CollisionPolicy = "error"
)

// Spec configures one pairwise join.
type Spec struct {
	Type      Type
	On        []string
	Collision CollisionPolicy
}

func (s Spec) normalized() (Spec, error) {
	switch s.Type {
	case "":
		s.Type = Inner
	case Inner, Left, Outer:
	default:
		return s, fmt.Errorf("unknown join type %q", s.Type)
	}
	switch s.Collision {
	case "":
		s.Collision = Suffix
	case Suffix, PreferLeft, PreferRight, Collide:
	default:
		return s, fmt.Errorf("unknown collision policy %q", s.Collision)
	}
	if len(s.On) == 0 {
		return s, fmt.Errorf("join spec declares no key columns")
	}
	return s, nil
}

// JoinKeyError reports a declared join key absent from one input.
type JoinKeyError struct {
	Table string
	Keys  []string
}

func (e *JoinKeyError) Error() string {
	return fmt.Sprintf("table %s: declared join keys absent: %v", e.Table, e.Keys)
}

// Node is one deferred operation in a plan. The set is closed: scan,
// resolve, join, project.
type Node interface {
	planNode()
}

// ScanNode defers over an already wrapped entity table.
type ScanNode struct {
	Table *table.Table
}

// ResolveNode rewrites a key column into a canonical namespace when the
// plan executes.
type ResolveNode struct {
	Input  Node
	Column string
	Raw    identifier.Namespace
	Target identifier.Namespace
	Strict bool
}

// JoinNode combines two subplans per its spec.
type JoinNode struct {
	Left  Node
	Right Node
	Spec  Spec
}

// ProjectNode restricts a subplan to a column subset (index retained).
type ProjectNode struct {
	Input   Node
	Columns []string
}

func (*ScanNode) planNode()    {}
func (*ResolveNode) planNode() {}
func (*JoinNode) planNode()    {}
func (*ProjectNode) planNode() {}

// Plan is an executable join graph.
type Plan struct {
	Root Node
}

// Scan lifts a table into a plan node.
func Scan(t *table.Table) Node { return &ScanNode{Table: t} }

// ResolveKeys defers canonical-key rewriting of column.
func ResolveKeys(in Node, column string, raw, target identifier.Namespace, strict bool) Node {
	return &ResolveNode{Input: in, Column: column, Raw: raw, Target: target, Strict: strict}
}

// JoinOn defers a pairwise join.
func JoinOn(left, right Node, spec Spec) Node {
	return &JoinNode{Left: left, Right: right, Spec: spec}
}

// Project defers column selection.
func Project(in Node, columns ...string) Node {
	return &ProjectNode{Input: in, Columns: columns}
}

// Builder accumulates inputs and produces a left-deep plan: tables join
// left to right in registration order, each intermediate result becoming
// the left side of the next join. The order is part of the observable
// contract; it drives suffixing and row multiplicities.
type Builder struct {
	inputs []Node
}

// NewBuilder returns an empty plan builder.
func NewBuilder() *Builder { return &Builder{} }

// Add appends a plan input in join order.
func (b *Builder) Add(n Node) *Builder {
	b.inputs = append(b.inputs, n)
	return b
}

// AddTable appends a table scan in join order.
func (b *Builder) AddTable(t *table.Table) *Builder {
	return b.Add(Scan(t))
}

// Len returns the number of registered inputs.
func (b *Builder) Len() int { return len(b.inputs) }

// Build produces the left-deep plan applying spec to every pairwise join.
func (b *Builder) Build(spec Spec) (*Plan, error) {
	if len(b.inputs) == 0 {
		return nil, fmt.Errorf("join plan has no inputs")
	}
	if _, err := spec.normalized(); len(b.inputs) > 1 && err != nil {
		return nil, err
	}
	root := b.inputs[0]
	for _, right := range b.inputs[1:] {
		root = JoinOn(root, right, spec)
	}
	return &Plan{Root: root}, nil
}
