package value

import (
	"testing"

	"github.com/nushell/nushell-sub009/pkg/ast"
)

func sampleRecord() Value {
	inner := NewRecord(1)
	inner.Set("port", Int(8080, span()))
	outer := NewRecord(2)
	outer.Set("Server", RecordValue(inner, span()))
	outer.Set("names", List([]Value{String("a", span()), String("b", span())}, span()))
	return RecordValue(outer, span())
}

func TestFollowCellPath(t *testing.T) {
	v := sampleRecord()

	got, err := FollowCellPath(v, []ast.PathMember{
		ast.StringMember("Server", span()),
		ast.StringMember("port", span()),
	})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if got.Int != 8080 {
		t.Fatalf("got %d, want 8080", got.Int)
	}

	got, err = FollowCellPath(v, []ast.PathMember{
		ast.StringMember("names", span()),
		ast.IntMember(1, span()),
	})
	if err != nil {
		t.Fatalf("follow index: %v", err)
	}
	if got.Str != "b" {
		t.Fatalf("got %q, want %q", got.Str, "b")
	}
}

func TestFollowCellPathNegativeIndex(t *testing.T) {
	v := List([]Value{Int(10, span()), Int(20, span()), Int(30, span())}, span())
	got, err := FollowCellPath(v, []ast.PathMember{ast.IntMember(-1, span())})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if got.Int != 30 {
		t.Fatalf("index -1: got %d, want 30", got.Int)
	}
	if _, err := FollowCellPath(v, []ast.PathMember{ast.IntMember(-4, span())}); err == nil {
		t.Fatal("index past the front should fail")
	}
}

func TestFollowCellPathInsensitive(t *testing.T) {
	v := sampleRecord()
	m := ast.StringMember("server", span())

	if _, err := FollowCellPath(v, []ast.PathMember{m}); err == nil {
		t.Fatal("case-sensitive lookup of wrong case should fail")
	}

	m.Insensitive = true
	got, err := FollowCellPath(v, []ast.PathMember{m, ast.StringMember("port", span())})
	if err != nil {
		t.Fatalf("insensitive follow: %v", err)
	}
	if got.Int != 8080 {
		t.Fatalf("got %d, want 8080", got.Int)
	}
}

func TestFollowCellPathOptional(t *testing.T) {
	v := sampleRecord()
	m := ast.StringMember("missing", span())

	_, err := FollowCellPath(v, []ast.PathMember{m})
	if err == nil {
		t.Fatal("missing column should fail")
	}
	if err.Kind != ErrColumnNotFound {
		t.Fatalf("got kind %s, want %s", err.Kind, ErrColumnNotFound)
	}

	m.Optional = true
	got, err := FollowCellPath(v, []ast.PathMember{m})
	if err != nil {
		t.Fatalf("optional follow: %v", err)
	}
	if !got.IsNothing() {
		t.Fatalf("optional miss should yield nothing, got %s", got.Kind)
	}
}

func TestFollowCellPathMapsOverRows(t *testing.T) {
	row := func(n int64) Value {
		r := NewRecord(1)
		r.Set("id", Int(n, span()))
		return RecordValue(r, span())
	}
	table := List([]Value{row(1), row(2), row(3)}, span())

	got, err := FollowCellPath(table, []ast.PathMember{ast.StringMember("id", span())})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if got.Kind != KindList || len(got.List) != 3 {
		t.Fatalf("string member over a list should map rows: %s", got.String())
	}
	if got.List[2].Int != 3 {
		t.Fatalf("row 2: got %d, want 3", got.List[2].Int)
	}
}

func TestUpsertCellPath(t *testing.T) {
	v := sampleRecord()
	got, err := UpsertCellPath(v, []ast.PathMember{
		ast.StringMember("Server", span()),
		ast.StringMember("port", span()),
	}, Int(9090, span()))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	updated, _ := FollowCellPath(got, []ast.PathMember{
		ast.StringMember("Server", span()),
		ast.StringMember("port", span()),
	})
	if updated.Int != 9090 {
		t.Fatalf("got %d, want 9090", updated.Int)
	}

	// Upsert copies on write: the original is untouched.
	orig, _ := FollowCellPath(v, []ast.PathMember{
		ast.StringMember("Server", span()),
		ast.StringMember("port", span()),
	})
	if orig.Int != 8080 {
		t.Fatalf("original mutated to %d", orig.Int)
	}
}

func TestUpsertCellPathAutovivifies(t *testing.T) {
	got, err := UpsertCellPath(Nothing(span()), []ast.PathMember{
		ast.StringMember("a", span()),
		ast.StringMember("b", span()),
	}, Int(1, span()))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	v, err := FollowCellPath(got, []ast.PathMember{
		ast.StringMember("a", span()),
		ast.StringMember("b", span()),
	})
	if err != nil || v.Int != 1 {
		t.Fatalf("autovivified chain: got %v, %v", v, err)
	}
}

func TestUpsertCellPathListAppend(t *testing.T) {
	v := List([]Value{Int(1, span())}, span())
	got, err := UpsertCellPath(v, []ast.PathMember{ast.IntMember(1, span())}, Int(2, span()))
	if err != nil {
		t.Fatalf("upsert at length should append: %v", err)
	}
	if len(got.List) != 2 || got.List[1].Int != 2 {
		t.Fatalf("got %s", got.String())
	}
	if _, err := UpsertCellPath(v, []ast.PathMember{ast.IntMember(3, span())}, Int(9, span())); err == nil {
		t.Fatal("upsert past the end should fail")
	}
}
