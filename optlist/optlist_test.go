package optlist

import "testing"

func TestOverwriteByNamePreservesOrder(t *testing.T) {
	l := New()
	l.Append(&Option{Level: 1, Name: 1, Value: []byte("a")})
	l.Append(&Option{Level: 1, Name: 2, Value: []byte("b")})
	l.Append(&Option{Level: 1, Name: 3, Value: []byte("c")})

	l.OverwriteByName(&Option{Level: 1, Name: 2, Value: []byte("b2")})

	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", l.Len())
	}
	if string(l.At(1).Value) != "b2" {
		t.Fatalf("At(1).Value = %q, want %q", l.At(1).Value, "b2")
	}
	if string(l.At(0).Value) != "a" || string(l.At(2).Value) != "c" {
		t.Fatal("overwrite should not disturb unrelated entries' order")
	}
}

func TestOverwriteByNameAppendsWhenAbsent(t *testing.T) {
	l := New()
	l.Append(&Option{Level: 1, Name: 1, Value: []byte("a")})
	l.OverwriteByName(&Option{Level: 2, Name: 9, Value: []byte("new")})
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	if l.At(1).Name != 9 {
		t.Fatal("new option should be appended when no match exists")
	}
}

func TestFindByName(t *testing.T) {
	l := New()
	l.Append(&Option{Level: 1, Name: 1, Value: []byte("a")})
	l.Append(&Option{Level: 2, Name: 1, Value: []byte("b")})
	if got := l.FindByName(2, 1); got == nil || string(got.Value) != "b" {
		t.Fatal("FindByName should distinguish by level as well as name")
	}
	if l.FindByName(3, 3) != nil {
		t.Fatal("FindByName should return nil for no match")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	l := New()
	l.Append(&Option{Level: 1, Name: 1, Value: []byte("a")})
	clone := l.Clone()
	clone.At(0).Value[0] = 'z'
	if l.At(0).Value[0] == 'z' {
		t.Fatal("mutating clone's option value affected the original")
	}
	clone.Append(&Option{Level: 9, Name: 9})
	if l.Len() == clone.Len() {
		t.Fatal("appending to clone should not affect original's length")
	}
}

func TestCloneNilList(t *testing.T) {
	var l *List
	if l.Clone() != nil {
		t.Fatal("Clone of nil List should be nil")
	}
	if l.Len() != 0 {
		t.Fatal("Len of nil List should be 0")
	}
}

func TestIsIntent(t *testing.T) {
	intent := &Option{Level: IntentsLevel, Name: 1}
	kernel := &Option{Level: 6, Name: 1}
	if !intent.IsIntent() {
		t.Fatal("option at IntentsLevel should report IsIntent")
	}
	if kernel.IsIntent() {
		t.Fatal("option at a kernel level should not report IsIntent")
	}
}

func TestEachVisitsInOrder(t *testing.T) {
	l := New()
	l.Append(&Option{Name: 1})
	l.Append(&Option{Name: 2})
	l.Append(&Option{Name: 3})
	var seen []int32
	l.Each(func(o *Option) { seen = append(seen, o.Name) })
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Fatalf("Each visited out of order: %v", seen)
	}
}
