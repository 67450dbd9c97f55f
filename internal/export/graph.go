// Package export materializes joined datasets for downstream consumers,
// either as a relational graph over canonical keys or as a restartable
// sequence of feature/label samples.
package export

import (
	"fmt"
	"sort"

	"omicscore/internal/annotate"
	"omicscore/internal/join"
	"omicscore/internal/table"
)

// Node is a graph vertex. Identity is the canonical key.
type Node struct {
	Key   string
	Attrs map[string]any
}

// Edge is a directed relation between two canonical keys. Identity is the
// (Subject, Relation, Object, Database) tuple.
type Edge struct {
	Subject  string
	Object   string
	Relation string
	Database string
	Attrs    map[string]any
}

type edgeKey struct {
	subject  string
	relation string
	object   string
	database string
}

// Graph is a generic node/edge structure consumable by external graph
// tooling. Nodes and edges are deterministically ordered.
type Graph struct {
	nodes []Node
	edges []Edge
	index map[string]int
}

// Nodes returns the vertices, sorted by key.
func (g *Graph) Nodes() []Node { return append([]Node(nil), g.nodes...) }

// Edges returns the edges, sorted by identity tuple.
func (g *Graph) Edges() []Edge { return append([]Edge(nil), g.edges...) }

// Node returns the vertex with the given key.
func (g *Graph) Node(key string) (Node, bool) {
	i, ok := g.index[key]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Neighbors returns the edges incident to the given key, in edge identity
// order. Both outgoing and incoming edges are included.
func (g *Graph) Neighbors(key string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Subject == key || e.Object == key {
			out = append(out, e)
		}
	}
	return out
}

// EdgeSpec declares which dataset columns carry the edge endpoints, the
// relation, the source database and any attributes copied onto edges. A
// fixed Relation or Database takes over when the corresponding column name
// is empty.
type EdgeSpec struct {
	SubjectColumn  string
	ObjectColumn   string
	RelationColumn string
	Relation       string
	DatabaseColumn string
	Database       string
	AttrColumns    []string
}

// DefaultEdgeSpec matches the column layout of harmonized annotation record
// tables.
func DefaultEdgeSpec() EdgeSpec {
	return EdgeSpec{
		SubjectColumn:  annotate.ColSubject,
		ObjectColumn:   annotate.ColObject,
		RelationColumn: annotate.ColRelation,
		DatabaseColumn: annotate.ColDatabase,
		AttrColumns:    []string{annotate.ColScore},
	}
}

// ToGraph converts a joined dataset into a graph. Every non-null value of a
// node key column becomes a vertex; every row with non-null subject and
// object yields one edge. Rows repeated by joining collapse onto a single
// edge through identity deduplication, so the graph carries exactly the
// relations declared in the source and no fabricated self-loops.
func ToGraph(ds *join.Dataset, nodeKeyColumns []string, spec EdgeSpec) (*Graph, error) {
	if ds == nil || ds.Table == nil {
		return nil, fmt.Errorf("nothing to export")
	}
	t := ds.Table
	if len(nodeKeyColumns) == 0 {
		nodeKeyColumns = t.KeyColumns()
	}
	for _, c := range nodeKeyColumns {
		if _, ok := t.Column(c); !ok {
			return nil, &table.SchemaError{Table: t.Name(), Column: c, Reason: "node key column absent"}
		}
	}
	if spec.SubjectColumn == "" || spec.ObjectColumn == "" {
		return nil, fmt.Errorf("export %s: edge spec requires subject and object columns", t.Name())
	}
	for _, c := range edgeColumns(spec) {
		if _, ok := t.Column(c); !ok {
			return nil, &table.SchemaError{Table: t.Name(), Column: c, Reason: "edge spec column absent"}
		}
	}

	g := &Graph{index: make(map[string]int)}
	seenEdges := make(map[edgeKey]bool)
	for r := 0; r < t.Len(); r++ {
		for _, c := range nodeKeyColumns {
			if v, _ := t.Value(r, c); v != nil {
				g.ensureNode(fmt.Sprint(v))
			}
		}
		subject := stringAt(t, r, spec.SubjectColumn)
		object := stringAt(t, r, spec.ObjectColumn)
		if subject == "" || object == "" {
			continue
		}
		relation := spec.Relation
		if spec.RelationColumn != "" {
			relation = stringAt(t, r, spec.RelationColumn)
		}
		database := spec.Database
		if spec.DatabaseColumn != "" {
			database = stringAt(t, r, spec.DatabaseColumn)
		}
		id := edgeKey{subject: subject, relation: relation, object: object, database: database}
		if seenEdges[id] {
			continue
		}
		seenEdges[id] = true
		g.ensureNode(subject)
		g.ensureNode(object)
		edge := Edge{Subject: subject, Object: object, Relation: relation, Database: database}
		for _, c := range spec.AttrColumns {
			if v, _ := t.Value(r, c); v != nil {
				if edge.Attrs == nil {
					edge.Attrs = make(map[string]any)
				}
				edge.Attrs[c] = v
			}
		}
		g.edges = append(g.edges, edge)
	}

	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i].Key < g.nodes[j].Key })
	for i, n := range g.nodes {
		g.index[n.Key] = i
	}
	sort.Slice(g.edges, func(i, j int) bool {
		a, b := g.edges[i], g.edges[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Relation != b.Relation {
			return a.Relation < b.Relation
		}
		if a.Object != b.Object {
			return a.Object < b.Object
		}
		return a.Database < b.Database
	})
	return g, nil
}

func (g *Graph) ensureNode(key string) {
	if _, ok := g.index[key]; ok {
		return
	}
	g.index[key] = len(g.nodes)
	g.nodes = append(g.nodes, Node{Key: key})
}

func edgeColumns(spec EdgeSpec) []string {
	cols := []string{spec.SubjectColumn, spec.ObjectColumn}
	if spec.RelationColumn != "" {
		cols = append(cols, spec.RelationColumn)
	}
	if spec.DatabaseColumn != "" {
		cols = append(cols, spec.DatabaseColumn)
	}
	cols = append(cols, spec.AttrColumns...)
	return cols
}

func stringAt(t *table.Table, row int, column string) string {
	v, _ := t.Value(row, column)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
