package join

import (
	"context"
	"fmt"
	"strings"

	"github.com/exascience/pargo/parallel"

	"omicscore/internal/keys"
	"omicscore/internal/table"
)

// Executor materializes a plan into a dataset. Execution is the only
// blocking point of the pipeline; everything before it is graph
// construction. Implementations must produce value-identical results for
// identical plans.
type Executor interface {
	Execute(ctx context.Context, plan *Plan) (*Dataset, error)
}

// LocalExecutor evaluates plans sequentially on the calling goroutine.
type LocalExecutor struct {
	Resolver *keys.Resolver
}

// Execute materializes the plan.
func (e *LocalExecutor) Execute(ctx context.Context, plan *Plan) (*Dataset, error) {
	return engine{resolver: e.Resolver}.eval(ctx, plan.Root)
}

// ParallelExecutor evaluates independent subplans concurrently and splits
// join probe phases across goroutines with pargo. Results are identical to
// LocalExecutor: per-range partials are recombined in range order.
type ParallelExecutor struct {
	Resolver *keys.Resolver
	// Grain is the minimum probe rows per task; 0 lets pargo decide.
	Grain int
}

// Execute materializes the plan.
func (e *ParallelExecutor) Execute(ctx context.Context, plan *Plan) (*Dataset, error) {
	return engine{resolver: e.Resolver, parallel: true, grain: e.Grain}.eval(ctx, plan.Root)
}

type engine struct {
	resolver *keys.Resolver
	parallel bool
	grain    int
}

func (e engine) eval(ctx context.Context, n Node) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch node := n.(type) {
	case *ScanNode:
		return datasetFromTable(node.Table), nil
	case *ResolveNode:
		in, err := e.eval(ctx, node.Input)
		if err != nil {
			return nil, err
		}
		if e.resolver == nil {
			return nil, fmt.Errorf("plan resolves keys but the executor has no resolver")
		}
		resolved, _, err := e.resolver.ResolveTable(ctx, in.Table, node.Column, node.Raw, node.Target, node.Strict)
		if err != nil {
			return nil, err
		}
		return in.withTable(resolved), nil
	case *ProjectNode:
		in, err := e.eval(ctx, node.Input)
		if err != nil {
			return nil, err
		}
		selected, err := in.Table.Select(node.Columns...)
		if err != nil {
			return nil, err
		}
		out := in.withTable(selected)
		kept := make(map[string]bool)
		for _, c := range selected.Columns() {
			kept[c] = true
		}
		var prov []Provenance
		for _, p := range out.Provenance {
			if kept[p.Column] {
				prov = append(prov, p)
			}
		}
		out.Provenance = prov
		return out, nil
	case *JoinNode:
		var left, right *Dataset
		var leftErr, rightErr error
		if e.parallel {
			parallel.Do(
				func() { left, leftErr = e.eval(ctx, node.Left) },
				func() { right, rightErr = e.eval(ctx, node.Right) },
			)
		} else {
			left, leftErr = e.eval(ctx, node.Left)
			if leftErr == nil {
				right, rightErr = e.eval(ctx, node.Right)
			}
		}
		if leftErr != nil {
			return nil, leftErr
		}
		if rightErr != nil {
			return nil, rightErr
		}
		return e.join(ctx, left, right, node.Spec)
	default:
		return nil, fmt.Errorf("unknown plan node %T", n)
	}
}

// outColumn maps one input attribute column to its output name. Empty out
// means the column is dropped by the collision policy.
type outColumn struct {
	in  string
	out string
}

type partial struct {
	cells   [][]any
	flags   []table.RowFlag
	matched []int
}

// join performs a hash join of right into left. Multi-valued keys combine
// combinatorially; this row explosion is the documented relational
// semantics, never capped.
func (e engine) join(ctx context.Context, left, right *Dataset, spec Spec) (*Dataset, error) {
	spec, err := spec.normalized()
	if err != nil {
		return nil, err
	}
	if missing := missingKeys(left.Table, spec.On); len(missing) > 0 {
		return nil, &JoinKeyError{Table: left.Table.Name(), Keys: missing}
	}
	if missing := missingKeys(right.Table, spec.On); len(missing) > 0 {
		return nil, &JoinKeyError{Table: right.Table.Name(), Keys: missing}
	}
	for _, key := range spec.On {
		lc, _ := left.Table.Column(key)
		rc, _ := right.Table.Column(key)
		if lc.Type != rc.Type {
			return nil, fmt.Errorf("join key %s: type %s on %s does not match type %s on %s",
				key, lc.Type, left.Table.Name(), rc.Type, right.Table.Name())
		}
	}

	keySet := make(map[string]bool, len(spec.On))
	for _, k := range spec.On {
		keySet[k] = true
	}
	leftAttrs := attributeColumns(left.Table, keySet)
	rightAttrs := attributeColumns(right.Table, keySet)
	leftOut, rightOut, err := resolveCollisions(left, right, leftAttrs, rightAttrs, spec.Collision)
	if err != nil {
		return nil, err
	}

	name := left.Table.Name() + "_" + right.Table.Name()
	var fields []table.Field
	var prov []Provenance
	for _, key := range spec.On {
		col, _ := left.Table.Column(key)
		fields = append(fields, table.Field{Name: key, Type: col.Type})
		prov = append(prov, Provenance{Column: key, Source: left.source(key)})
	}
	for _, oc := range leftOut {
		if oc.out == "" {
			continue
		}
		col, _ := left.Table.Column(oc.in)
		fields = append(fields, table.Field{Name: oc.out, Type: col.Type})
		prov = append(prov, Provenance{Column: oc.out, Source: left.source(oc.in)})
	}
	for _, oc := range rightOut {
		if oc.out == "" {
			continue
		}
		col, _ := right.Table.Column(oc.in)
		fields = append(fields, table.Field{Name: oc.out, Type: col.Type})
		prov = append(prov, Provenance{Column: oc.out, Source: right.source(oc.in)})
	}

	// Build phase: hash the right side on the composite key.
	index := make(map[string][]int, right.Table.Len())
	for r := 0; r < right.Table.Len(); r++ {
		if key, ok := compositeKey(right.Table, spec.On, r); ok {
			index[key] = append(index[key], r)
		}
	}

	width := len(fields)
	emit := func(low, high int) *partial {
		p := &partial{}
		for lr := low; lr < high; lr++ {
			key, keyOK := compositeKey(left.Table, spec.On, lr)
			var matches []int
			if keyOK {
				matches = index[key]
			}
			if len(matches) == 0 {
				if spec.Type == Inner {
					continue
				}
				cells := make([]any, width)
				pos := 0
				for _, k := range spec.On {
					cells[pos], _ = left.Table.Value(lr, k)
					pos++
				}
				pos = fillSide(cells, pos, left.Table, lr, leftOut)
				p.cells = append(p.cells, cells)
				p.flags = append(p.flags, left.Table.Flags(lr))
				continue
			}
			for _, rr := range matches {
				cells := make([]any, width)
				pos := 0
				for _, k := range spec.On {
					cells[pos], _ = left.Table.Value(lr, k)
					pos++
				}
				pos = fillSide(cells, pos, left.Table, lr, leftOut)
				fillSide(cells, pos, right.Table, rr, rightOut)
				p.cells = append(p.cells, cells)
				p.flags = append(p.flags, left.Table.Flags(lr)|right.Table.Flags(rr))
				p.matched = append(p.matched, rr)
			}
		}
		return p
	}

	var probed *partial
	if e.parallel && left.Table.Len() > 1 {
		result := parallel.RangeReduce(0, left.Table.Len(), e.grain,
			func(low, high int) interface{} { return emit(low, high) },
			func(x, y interface{}) interface{} {
				a, b := x.(*partial), y.(*partial)
				a.cells = append(a.cells, b.cells...)
				a.flags = append(a.flags, b.flags...)
				a.matched = append(a.matched, b.matched...)
				return a
			})
		probed = result.(*partial)
	} else {
		probed = emit(0, left.Table.Len())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	builder := table.NewBuilder(name, fields, spec.On...)
	for i, cells := range probed.cells {
		builder.Append(cells, probed.flags[i])
	}

	if spec.Type == Outer {
		matched := make([]bool, right.Table.Len())
		for _, rr := range probed.matched {
			matched[rr] = true
		}
		leftWidth := 0
		for _, oc := range leftOut {
			if oc.out != "" {
				leftWidth++
			}
		}
		for rr := 0; rr < right.Table.Len(); rr++ {
			if matched[rr] {
				continue
			}
			cells := make([]any, width)
			pos := 0
			for _, k := range spec.On {
				cells[pos], _ = right.Table.Value(rr, k)
				pos++
			}
			fillSide(cells, pos+leftWidth, right.Table, rr, rightOut)
			builder.Append(cells, right.Table.Flags(rr))
		}
	}

	joined, err := builder.Build()
	if err != nil {
		return nil, err
	}
	rowsBefore := make(map[string]int, len(left.RowsBefore)+len(right.RowsBefore))
	for k, v := range left.RowsBefore {
		rowsBefore[k] = v
	}
	for k, v := range right.RowsBefore {
		rowsBefore[k] = v
	}
	return &Dataset{
		Table:      joined,
		Provenance: prov,
		JoinType:   spec.Type,
		RowsBefore: rowsBefore,
		RowsAfter:  joined.Len(),
	}, nil
}

func missingKeys(t *table.Table, on []string) []string {
	var missing []string
	for _, key := range on {
		if _, ok := t.Column(key); !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func attributeColumns(t *table.Table, keySet map[string]bool) []string {
	var attrs []string
	for _, c := range t.Columns() {
		if !keySet[c] {
			attrs = append(attrs, c)
		}
	}
	return attrs
}

// resolveCollisions computes output names for both sides' attribute columns
// per the collision policy. Suffixing uses the provenance source of each
// colliding column; a self-join of one source falls back to positional
// suffixes so names stay distinct.
func resolveCollisions(left, right *Dataset, leftAttrs, rightAttrs []string, policy CollisionPolicy) ([]outColumn, []outColumn, error) {
	rightSet := make(map[string]bool, len(rightAttrs))
	for _, c := range rightAttrs {
		rightSet[c] = true
	}
	leftSet := make(map[string]bool, len(leftAttrs))
	for _, c := range leftAttrs {
		leftSet[c] = true
	}

	leftOut := make([]outColumn, len(leftAttrs))
	for i, c := range leftAttrs {
		oc := outColumn{in: c, out: c}
		if rightSet[c] {
			switch policy {
			case Suffix:
				oc.out = c + "_" + left.source(c)
			case PreferLeft:
				// keep left as-is
			case PreferRight:
				oc.out = ""
			case Collide:
				return nil, nil, fmt.Errorf("column %s collides between %s and %s under collision_policy=error",
					c, left.source(c), right.source(c))
			}
		}
		leftOut[i] = oc
	}
	rightOut := make([]outColumn, len(rightAttrs))
	for i, c := range rightAttrs {
		oc := outColumn{in: c, out: c}
		if leftSet[c] {
			switch policy {
			case Suffix:
				oc.out = c + "_" + right.source(c)
			case PreferLeft:
				oc.out = ""
			case PreferRight:
				// keep right as-is
			}
		}
		rightOut[i] = oc
	}
	if policy == Suffix {
		for i := range leftOut {
			for j := range rightOut {
				if leftOut[i].out != "" && leftOut[i].out == rightOut[j].out {
					leftOut[i].out += "_left"
					rightOut[j].out += "_right"
				}
			}
		}
	}
	return leftOut, rightOut, nil
}

func fillSide(cells []any, pos int, t *table.Table, row int, out []outColumn) int {
	for _, oc := range out {
		if oc.out == "" {
			continue
		}
		cells[pos], _ = t.Value(row, oc.in)
		pos++
	}
	return pos
}

// compositeKey renders the join key of one row. A null in any key part
// means the row cannot match (standard relational null semantics); such
// rows survive left and outer joins null-padded and drop out of inner
// joins.
func compositeKey(t *table.Table, on []string, row int) (string, bool) {
	parts := make([]string, len(on))
	for i, key := range on {
		v, _ := t.Value(row, key)
		if v == nil {
			return "", false
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f"), true
}
