package symboltable

import "testing"

func TestDefineAndLookup(t *testing.T) {
	tbl := New()
	if _, err := tbl.Define("START", 0x0800, 0, 1); err != nil {
		t.Fatal(err)
	}
	s, ok := tbl.Lookup("START")
	if !ok {
		t.Fatal("expected START to be defined")
	}
	if s.Value != 0x0800 {
		t.Errorf("Value = %#x, want 0x0800", s.Value)
	}
	if s.Flags&Unreferenced == 0 {
		t.Error("a freshly defined symbol should start Unreferenced")
	}
}

func TestDuplicateDefineIsAnError(t *testing.T) {
	tbl := New()
	tbl.Define("START", 0x0800, 0, 1)
	_, err := tbl.Define("START", 0x0900, 0, 5)
	if err == nil {
		t.Fatal("expected a DuplicateSymbolError")
	}
	dup, ok := err.(*DuplicateSymbolError)
	if !ok {
		t.Fatalf("got %T, want *DuplicateSymbolError", err)
	}
	if dup.FirstLine != 1 || dup.Line != 5 {
		t.Errorf("dup = %+v, want FirstLine=1 Line=5", dup)
	}
}

func TestMarkReferencedClearsUnreferenced(t *testing.T) {
	tbl := New()
	tbl.Define("X", 1, 0, 1)
	tbl.MarkReferenced("X")
	s, _ := tbl.Lookup("X")
	if s.Flags&Unreferenced != 0 {
		t.Error("expected Unreferenced to be cleared")
	}
}

func TestResolveMarksReferenced(t *testing.T) {
	tbl := New()
	tbl.Define("X", 0x42, Relative, 1)
	v, rel, ext, defined := tbl.Resolve("X")
	if !defined || v != 0x42 || !rel || ext {
		t.Fatalf("Resolve = (%d,%v,%v,%v)", v, rel, ext, defined)
	}
	s, _ := tbl.Lookup("X")
	if s.Flags&Unreferenced != 0 {
		t.Error("Resolve should mark the symbol referenced")
	}
}

func TestSymbolNumbersAreAssignedInDefinitionOrder(t *testing.T) {
	tbl := New()
	tbl.Define("A", 1, 0, 1)
	tbl.Define("B", 2, 0, 2)
	tbl.Define("C", 3, 0, 3)

	a, _ := tbl.Lookup("A")
	b, _ := tbl.Lookup("B")
	c, _ := tbl.Lookup("C")
	if a.Number != 0 || b.Number != 1 || c.Number != 2 {
		t.Errorf("numbers = %d,%d,%d, want 0,1,2", a.Number, b.Number, c.Number)
	}
}

func TestSortedByNameAndByValue(t *testing.T) {
	tbl := New()
	tbl.Define("ZEBRA", 0x10, 0, 1)
	tbl.Define("APPLE", 0x05, 0, 2)

	byName := tbl.SortedByName()
	if byName[0].Name != "APPLE" || byName[1].Name != "ZEBRA" {
		t.Errorf("byName = %v", byName)
	}
	byValue := tbl.SortedByValue()
	if byValue[0].Name != "APPLE" || byValue[1].Name != "ZEBRA" {
		t.Errorf("byValue = %v", byValue)
	}
}

func TestUpdateFlagsAddsEntryBit(t *testing.T) {
	tbl := New()
	tbl.Define("MAIN", 0x0800, 0, 1)
	tbl.UpdateFlags("MAIN", Entry)
	s, _ := tbl.Lookup("MAIN")
	if s.Flags&Entry == 0 {
		t.Error("expected Entry flag to be set")
	}
}
