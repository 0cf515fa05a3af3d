package expression

import "testing"

type fakeResolver map[string]struct {
	value              uint16
	relative, external bool
}

func (f fakeResolver) Resolve(name string) (uint16, bool, bool, bool) {
	s, ok := f[name]
	return s.value, s.relative, s.external, ok
}

func TestLiterals(t *testing.T) {
	cases := []struct {
		expr string
		want uint16
	}{
		{"$FF", 0xFF}, {"$10", 0x10}, {"%1010", 0b1010}, {"42", 42}, {"'A'", 'A'},
	}
	for _, c := range cases {
		r := Evaluate(c.expr, 2, fakeResolver{})
		if !r.Success || r.Value != c.want {
			t.Errorf("Evaluate(%q) = %+v, want %d", c.expr, r, c.want)
		}
	}
}

func TestArithmeticPrecedence(t *testing.T) {
	r := Evaluate("2+3*4", 2, fakeResolver{})
	if !r.Success || r.Value != 14 {
		t.Fatalf("2+3*4 = %+v, want 14", r)
	}
	r = Evaluate("(2+3)*4", 2, fakeResolver{})
	if !r.Success || r.Value != 20 {
		t.Fatalf("(2+3)*4 = %+v, want 20", r)
	}
}

func TestDivideByZeroYieldsZero(t *testing.T) {
	r := Evaluate("5/0", 2, fakeResolver{})
	if !r.Success || r.Value != 0 {
		t.Fatalf("5/0 = %+v, want success with 0", r)
	}
}

func TestEdasmBitwiseOperators(t *testing.T) {
	cases := []struct {
		expr string
		want uint16
	}{
		{"$0F!$FF", 0x0F ^ 0xFF},
		{"$0F^$FF", 0x0F & 0xFF},
		{"$0F|$F0", 0x0F | 0xF0},
	}
	for _, c := range cases {
		r := Evaluate(c.expr, 2, fakeResolver{})
		if !r.Success || r.Value != c.want {
			t.Errorf("Evaluate(%q) = %+v, want %#x", c.expr, r, c.want)
		}
	}
}

func TestBitwiseIsLowestPrecedence(t *testing.T) {
	// 1!2*3 should parse as 1 ! (2*3), not (1!2)*3.
	r := Evaluate("1!2*3", 2, fakeResolver{})
	want := uint16(1) ^ uint16(6)
	if !r.Success || r.Value != want {
		t.Fatalf("1!2*3 = %+v, want %#x", r, want)
	}
}

func TestLowHighByteExtraction(t *testing.T) {
	resolver := fakeResolver{"ADDR": {value: 0x1234, relative: true}}
	r := Evaluate("<ADDR", 2, resolver)
	if !r.Success || r.Value != 0x34 {
		t.Fatalf("<ADDR = %+v, want 0x34", r)
	}
	if r.IsRelative {
		t.Error("< should clear the relative flag")
	}
	r = Evaluate(">ADDR", 2, resolver)
	if !r.Success || r.Value != 0x12 {
		t.Fatalf(">ADDR = %+v, want 0x12", r)
	}
	if r.IsRelative {
		t.Error("> should clear the relative flag")
	}
}

func TestRelativeAndExternalFlagsOrTogether(t *testing.T) {
	resolver := fakeResolver{
		"REL": {value: 0x10, relative: true},
		"EXT": {value: 0x20, external: true},
	}
	r := Evaluate("REL+EXT", 2, resolver)
	if !r.Success {
		t.Fatal("expected success")
	}
	if !r.IsRelative || !r.IsExternal {
		t.Errorf("flags = relative=%v external=%v, want both true", r.IsRelative, r.IsExternal)
	}
}

func TestForwardReferenceInPass1(t *testing.T) {
	r := Evaluate("UNDEFINED", 1, fakeResolver{})
	if !r.Success {
		t.Fatal("pass 1 forward reference should still succeed")
	}
	if !r.IsForwardRef || r.Value != 0 {
		t.Errorf("r = %+v, want forward ref with value 0", r)
	}
}

func TestUndefinedSymbolFailsInPass2(t *testing.T) {
	r := Evaluate("UNDEFINED", 2, fakeResolver{})
	if r.Success {
		t.Fatal("pass 2 undefined symbol should fail")
	}
	if r.Err == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestNegationWraps(t *testing.T) {
	r := Evaluate("-1", 2, fakeResolver{})
	if !r.Success || r.Value != 0xFFFF {
		t.Fatalf("-1 = %+v, want 0xFFFF", r)
	}
}
