package join

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"omicscore/internal/keys"
	"omicscore/internal/table"
	"omicscore/pkg/identifier"
)

func mustTable(t *testing.T, name string, cols []table.Column, keyCols ...string) *table.Table {
	t.Helper()
	tbl, err := table.New(name, cols, keyCols...)
	if err != nil {
		t.Fatalf("table.New(%s): %v", name, err)
	}
	return tbl
}

func pairTables(t *testing.T) (*table.Table, *table.Table) {
	t.Helper()
	t1 := mustTable(t, "T1", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{"1", "2"}},
		{Name: "x", Type: table.TypeNumeric, Values: []any{10.0, 20.0}},
	}, "key")
	t2 := mustTable(t, "T2", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{"2", "3"}},
		{Name: "y", Type: table.TypeNumeric, Values: []any{200.0, 300.0}},
	}, "key")
	return t1, t2
}

func materialize(t *testing.T, exec Executor, plan *Plan) *Dataset {
	t.Helper()
	ds, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return ds
}

func TestInnerJoinRoundTrip(t *testing.T) {
	t1, t2 := pairTables(t)
	plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{Type: Inner, On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ds := materialize(t, &LocalExecutor{}, plan)
	if ds.Table.Len() != 1 {
		t.Fatalf("inner join rows = %d, want 1", ds.Table.Len())
	}
	row := ds.Table.Row(0)
	if row["key"] != "2" || row["x"].(float64) != 20 || row["y"].(float64) != 200 {
		t.Fatalf("inner join row = %v", row)
	}
	if ds.RowsBefore["T1"] != 2 || ds.RowsBefore["T2"] != 2 || ds.RowsAfter != 1 {
		t.Fatalf("row accounting: before=%v after=%d", ds.RowsBefore, ds.RowsAfter)
	}
}

func TestOuterJoinNullPads(t *testing.T) {
	t1, t2 := pairTables(t)
	plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{Type: Outer, On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ds := materialize(t, &LocalExecutor{}, plan)
	if ds.Table.Len() != 3 {
		t.Fatalf("outer join rows = %d, want 3", ds.Table.Len())
	}
	byKey := map[string]map[string]any{}
	for r := 0; r < ds.Table.Len(); r++ {
		row := ds.Table.Row(r)
		byKey[row["key"].(string)] = row
	}
	if byKey["1"]["y"] != nil {
		t.Fatalf("left-only row not null padded: %v", byKey["1"])
	}
	if byKey["3"]["x"] != nil {
		t.Fatalf("right-only row not null padded: %v", byKey["3"])
	}
	if byKey["2"]["x"].(float64) != 20 || byKey["2"]["y"].(float64) != 200 {
		t.Fatalf("matched row = %v", byKey["2"])
	}
}

func TestLeftJoinKeepsLeftRows(t *testing.T) {
	t1, t2 := pairTables(t)
	plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{Type: Left, On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ds := materialize(t, &LocalExecutor{}, plan)
	if ds.Table.Len() != 2 {
		t.Fatalf("left join rows = %d, want 2", ds.Table.Len())
	}
}

func TestSuffixCollisionPolicy(t *testing.T) {
	t1 := mustTable(t, "T1", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{"a"}},
		{Name: "score", Type: table.TypeNumeric, Values: []any{1.0}},
	}, "key")
	t2 := mustTable(t, "T2", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{"a"}},
		{Name: "score", Type: table.TypeNumeric, Values: []any{2.0}},
	}, "key")
	plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ds := materialize(t, &LocalExecutor{}, plan)
	cols := ds.Table.Columns()
	want := []string{"key", "score_T1", "score_T2"}
	if !reflect.DeepEqual(cols, want) {
		t.Fatalf("columns = %v, want %v", cols, want)
	}
	row := ds.Table.Row(0)
	if row["score_T1"].(float64) != 1 || row["score_T2"].(float64) != 2 {
		t.Fatalf("suffixed values = %v", row)
	}
}

func TestCollisionPolicies(t *testing.T) {
	build := func(policy CollisionPolicy) (*Dataset, error) {
		t1 := mustTable(t, "T1", []table.Column{
			{Name: "key", Type: table.TypeString, Values: []any{"a"}},
			{Name: "score", Type: table.TypeNumeric, Values: []any{1.0}},
		}, "key")
		t2 := mustTable(t, "T2", []table.Column{
			{Name: "key", Type: table.TypeString, Values: []any{"a"}},
			{Name: "score", Type: table.TypeNumeric, Values: []any{2.0}},
		}, "key")
		plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{On: []string{"key"}, Collision: policy})
		if err != nil {
			return nil, err
		}
		return (&LocalExecutor{}).Execute(context.Background(), plan)
	}

	ds, err := build(PreferLeft)
	if err != nil {
		t.Fatalf("prefer_left: %v", err)
	}
	if v, _ := ds.Table.Value(0, "score"); v.(float64) != 1 {
		t.Fatalf("prefer_left score = %v", v)
	}

	ds, err = build(PreferRight)
	if err != nil {
		t.Fatalf("prefer_right: %v", err)
	}
	if v, _ := ds.Table.Value(0, "score"); v.(float64) != 2 {
		t.Fatalf("prefer_right score = %v", v)
	}

	if _, err = build(Collide); err == nil {
		t.Fatalf("collision_policy=error did not fail")
	}
}

func TestThreeTableSuffixingBySource(t *testing.T) {
	mk := func(name string, score float64) *table.Table {
		return mustTable(t, name, []table.Column{
			{Name: "key", Type: table.TypeString, Values: []any{"a"}},
			{Name: "score", Type: table.TypeNumeric, Values: []any{score}},
		}, "key")
	}
	plan, err := NewBuilder().
		AddTable(mk("T1", 1)).
		AddTable(mk("T2", 2)).
		AddTable(mk("T3", 3)).
		Build(Spec{On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ds := materialize(t, &LocalExecutor{}, plan)
	// Suffixing happens at the join where the collision occurs: T1 and T2
	// collide and take source suffixes; T3's column no longer collides with
	// the suffixed names and keeps its own.
	want := []string{"key", "score_T1", "score_T2", "score"}
	if !reflect.DeepEqual(ds.Table.Columns(), want) {
		t.Fatalf("columns = %v, want %v", ds.Table.Columns(), want)
	}
}

func TestJoinKeyError(t *testing.T) {
	t1, _ := pairTables(t)
	t2 := mustTable(t, "bad", []table.Column{
		{Name: "other", Type: table.TypeString, Values: []any{"x"}},
	}, "other")
	plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = (&LocalExecutor{}).Execute(context.Background(), plan)
	var keyErr *JoinKeyError
	if !errors.As(err, &keyErr) {
		t.Fatalf("expected JoinKeyError, got %v", err)
	}
	if keyErr.Table != "bad" {
		t.Fatalf("error names table %q", keyErr.Table)
	}
}

func TestMultiValuedKeysCombineCombinatorially(t *testing.T) {
	t1 := mustTable(t, "T1", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{"a", "a"}},
		{Name: "x", Type: table.TypeNumeric, Values: []any{1.0, 2.0}},
	}, "key")
	t2 := mustTable(t, "T2", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{"a", "a", "a"}},
		{Name: "y", Type: table.TypeNumeric, Values: []any{1.0, 2.0, 3.0}},
	}, "key")
	plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ds := materialize(t, &LocalExecutor{}, plan)
	if ds.Table.Len() != 6 {
		t.Fatalf("row explosion = %d rows, want 6", ds.Table.Len())
	}
	for r := 0; r < ds.Table.Len(); r++ {
		if ds.Table.Flags(r)&table.FlagMultiValued == 0 {
			t.Fatalf("exploded row %d not flagged multi-valued", r)
		}
	}
}

func TestNullKeysNeverMatch(t *testing.T) {
	t1 := mustTable(t, "T1", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{nil, "2"}},
		{Name: "x", Type: table.TypeNumeric, Values: []any{10.0, 20.0}},
	}, "key")
	t2 := mustTable(t, "T2", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{nil, "2"}},
		{Name: "y", Type: table.TypeNumeric, Values: []any{100.0, 200.0}},
	}, "key")

	plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{Type: Inner, On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ds := materialize(t, &LocalExecutor{}, plan)
	if ds.Table.Len() != 1 {
		t.Fatalf("null keys matched: %d rows", ds.Table.Len())
	}

	plan, err = NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{Type: Outer, On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ds = materialize(t, &LocalExecutor{}, plan)
	if ds.Table.Len() != 3 {
		t.Fatalf("outer join with null keys = %d rows, want 3", ds.Table.Len())
	}
}

func TestProjectNode(t *testing.T) {
	t1 := mustTable(t, "T1", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{"1"}},
		{Name: "x", Type: table.TypeNumeric, Values: []any{10.0}},
		{Name: "z", Type: table.TypeString, Values: []any{"drop"}},
	}, "key")
	plan := &Plan{Root: Project(Scan(t1), "x")}
	ds := materialize(t, &LocalExecutor{}, plan)
	if !reflect.DeepEqual(ds.Table.Columns(), []string{"key", "x"}) {
		t.Fatalf("projected columns = %v", ds.Table.Columns())
	}
	if len(ds.Provenance) != 2 {
		t.Fatalf("provenance not filtered: %v", ds.Provenance)
	}
}

func TestResolveNodeInPlan(t *testing.T) {
	src := keys.NewMemorySource()
	src.Add(identifier.New(identifier.GeneSymbol, "TP53"), "ENSG00000141510")
	resolver := keys.NewResolver()
	if err := resolver.RegisterSource(identifier.GeneEnsembl, src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	t1 := mustTable(t, "expr", []table.Column{
		{Name: "gene", Type: table.TypeString, Values: []any{"TP53"}},
		{Name: "tpm", Type: table.TypeNumeric, Values: []any{5.0}},
	}, "gene")
	plan := &Plan{Root: ResolveKeys(Scan(t1), "gene", identifier.GeneSymbol, identifier.GeneEnsembl, true)}

	ds := materialize(t, &LocalExecutor{Resolver: resolver}, plan)
	if v, _ := ds.Table.Value(0, "gene"); v != "ENSG00000141510" {
		t.Fatalf("resolved key = %v", v)
	}

	if _, err := (&LocalExecutor{}).Execute(context.Background(), plan); err == nil {
		t.Fatalf("executor without resolver did not fail")
	}
}

func TestParallelExecutorMatchesLocal(t *testing.T) {
	n := 500
	leftKeys := make([]any, n)
	leftVals := make([]any, n)
	rightKeys := make([]any, n)
	rightVals := make([]any, n)
	for i := 0; i < n; i++ {
		leftKeys[i] = string(rune('a'+i%26)) + string(rune('0'+i%10))
		leftVals[i] = float64(i)
		rightKeys[i] = string(rune('a'+(i+7)%26)) + string(rune('0'+i%10))
		rightVals[i] = float64(i * 2)
	}
	t1 := mustTable(t, "L", []table.Column{
		{Name: "key", Type: table.TypeString, Values: leftKeys},
		{Name: "x", Type: table.TypeNumeric, Values: leftVals},
	}, "key")
	t2 := mustTable(t, "R", []table.Column{
		{Name: "key", Type: table.TypeString, Values: rightKeys},
		{Name: "y", Type: table.TypeNumeric, Values: rightVals},
	}, "key")

	for _, typ := range []Type{Inner, Left, Outer} {
		plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{Type: typ, On: []string{"key"}})
		if err != nil {
			t.Fatalf("Build(%s): %v", typ, err)
		}
		local := materialize(t, &LocalExecutor{}, plan)
		par := materialize(t, &ParallelExecutor{Grain: 32}, plan)
		if local.Table.Len() != par.Table.Len() {
			t.Fatalf("%s: local %d rows, parallel %d rows", typ, local.Table.Len(), par.Table.Len())
		}
		for r := 0; r < local.Table.Len(); r++ {
			if !reflect.DeepEqual(local.Table.Row(r), par.Table.Row(r)) {
				t.Fatalf("%s: row %d differs: %v vs %v", typ, r, local.Table.Row(r), par.Table.Row(r))
			}
		}
	}
}

func TestJoinKeyTypeMismatch(t *testing.T) {
	t1 := mustTable(t, "T1", []table.Column{
		{Name: "key", Type: table.TypeString, Values: []any{"1"}},
	}, "key")
	t2 := mustTable(t, "T2", []table.Column{
		{Name: "key", Type: table.TypeNumeric, Values: []any{1.0}},
	}, "key")
	plan, err := NewBuilder().AddTable(t1).AddTable(t2).Build(Spec{On: []string{"key"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := (&LocalExecutor{}).Execute(context.Background(), plan); err == nil {
		t.Fatalf("mismatched key types did not fail")
	}
}
