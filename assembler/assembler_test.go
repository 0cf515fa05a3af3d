package assembler

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/edasm-host/edasm/relfile"
)

func assertNoErrors(t *testing.T, r *Result) {
	t.Helper()
	if r.HasErrors() {
		t.Fatalf("unexpected diagnostics: %+v", r.Diagnostics)
	}
}

func TestSimpleProgramAssemblesExpectedBytes(t *testing.T) {
	src := "        ORG $0800\n" +
		"START   LDA #$01\n" +
		"        STA $2000\n" +
		"        JMP START\n"
	r := Assemble(src, Options{})
	assertNoErrors(t, r)

	want := []byte{0xA9, 0x01, 0x8D, 0x00, 0x20, 0x4C, 0x00, 0x08}
	if !bytes.Equal(r.Code, want) {
		t.Fatalf("Code = % X, want % X", r.Code, want)
	}
	if r.Origin != 0x0800 {
		t.Errorf("Origin = %#x, want 0x0800", r.Origin)
	}
}

func TestForwardBranchResolvesInPassTwo(t *testing.T) {
	src := "        ORG $0800\n" +
		"        BNE SKIP\n" +
		"        LDA #$00\n" +
		"SKIP    RTS\n"
	r := Assemble(src, Options{})
	assertNoErrors(t, r)

	want := []byte{0xD0, 0x02, 0xA9, 0x00, 0x60}
	if !bytes.Equal(r.Code, want) {
		t.Fatalf("Code = % X, want % X", r.Code, want)
	}
}

func TestEquDefinesZeroPageValue(t *testing.T) {
	src := "FOO     EQU $10\n" +
		"        LDA FOO\n"
	r := Assemble(src, Options{})
	assertNoErrors(t, r)

	want := []byte{0xA5, 0x10}
	if !bytes.Equal(r.Code, want) {
		t.Fatalf("Code = % X, want % X", r.Code, want)
	}
}

func TestDoElseFinSelectsOneBranch(t *testing.T) {
	src := "FLAG    EQU 1\n" +
		"        DO FLAG\n" +
		"        LDA #$01\n" +
		"        ELSE\n" +
		"        LDA #$02\n" +
		"        FIN\n"
	r := Assemble(src, Options{})
	assertNoErrors(t, r)

	want := []byte{0xA9, 0x01}
	if !bytes.Equal(r.Code, want) {
		t.Fatalf("Code = % X, want % X", r.Code, want)
	}
}

func TestDataDirectivesEmitExpectedBytes(t *testing.T) {
	src := "        DB $01,$02,$03\n" +
		"        DW $1234\n" +
		"        DS 2\n"
	r := Assemble(src, Options{})
	assertNoErrors(t, r)

	want := []byte{0x01, 0x02, 0x03, 0x34, 0x12, 0x00, 0x00}
	if !bytes.Equal(r.Code, want) {
		t.Fatalf("Code = % X, want % X", r.Code, want)
	}
}

func TestAscSetsMsbAndDciInvertsOnlyLastByte(t *testing.T) {
	src := "        MSB ON\n" +
		"        ASC \"AB\"\n" +
		"        MSB OFF\n" +
		"        DCI \"CD\"\n"
	r := Assemble(src, Options{})
	assertNoErrors(t, r)

	want := []byte{0xC1, 0xC2, 0x43, 0xC4}
	if !bytes.Equal(r.Code, want) {
		t.Fatalf("Code = % X, want % X", r.Code, want)
	}
}

func TestRelExtEntProduceRldAndEsd(t *testing.T) {
	src := "        REL\n" +
		"        EXT PRINT\n" +
		"        ENT START\n" +
		"START   JSR PRINT\n" +
		"        RTS\n"
	r := Assemble(src, Options{})
	assertNoErrors(t, r)

	if !r.Relocatable {
		t.Fatal("expected Relocatable to be true")
	}
	if len(r.RLD) != 1 {
		t.Fatalf("RLD = %+v, want 1 entry", r.RLD)
	}
	rld := r.RLD[0]
	if rld.Flags != relfile.RLDExternal || rld.Address != 1 || rld.SymbolNumber != 0 {
		t.Errorf("RLD[0] = %+v, want {External, addr=1, sym=0}", rld)
	}

	if len(r.ESD) != 2 {
		t.Fatalf("ESD = %+v, want 2 entries", r.ESD)
	}
	if r.ESD[0].Name != "PRINT" || r.ESD[0].Flags&relfile.ESDExternal == 0 {
		t.Errorf("ESD[0] = %+v, want external PRINT", r.ESD[0])
	}
	if r.ESD[1].Name != "START" || r.ESD[1].Flags&relfile.ESDEntryFlag == 0 || r.ESD[1].Flags&relfile.ESDRelative == 0 {
		t.Errorf("ESD[1] = %+v, want relative entry START", r.ESD[1])
	}
	if r.ESD[1].Address != 0 {
		t.Errorf("ESD[1].Address = %#x, want 0 (module-relative offset from origin)", r.ESD[1].Address)
	}
}

func TestBranchOutOfRangeIsReported(t *testing.T) {
	src := "        ORG $0800\n" +
		"        BEQ FAR\n" +
		"        DS 200\n" +
		"FAR     RTS\n"
	r := Assemble(src, Options{})
	if !r.HasErrors() {
		t.Fatal("expected a branch-out-of-range diagnostic")
	}
	found := false
	for _, d := range r.Diagnostics {
		if strings.Contains(d.Message, "out of range") {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics = %+v, want one mentioning 'out of range'", r.Diagnostics)
	}
}

func TestDuplicateSymbolIsReported(t *testing.T) {
	src := "A       EQU 1\n" +
		"A       EQU 2\n"
	r := Assemble(src, Options{})
	if !r.HasErrors() {
		t.Fatal("expected a duplicate-symbol diagnostic")
	}
}

func TestUnterminatedConditionalIsReported(t *testing.T) {
	src := "        DO 1\n" +
		"        LDA #$00\n"
	r := Assemble(src, Options{})
	if !r.HasErrors() {
		t.Fatal("expected an unterminated-conditional diagnostic")
	}
}

type fakeIncluder map[string]string

func (f fakeIncluder) ReadInclude(name string) (string, error) {
	text, ok := f[name]
	if !ok {
		return "", fmt.Errorf("no such include: %s", name)
	}
	return text, nil
}

func TestIncludeExpandsInline(t *testing.T) {
	src := "        INCLUDE SUB\n" +
		"        RTS\n"
	opts := Options{Includer: fakeIncluder{"SUB": "        LDA #$01\n"}}
	r := Assemble(src, opts)
	assertNoErrors(t, r)

	want := []byte{0xA9, 0x01, 0x60}
	if !bytes.Equal(r.Code, want) {
		t.Fatalf("Code = % X, want % X", r.Code, want)
	}
}

func TestCircularIncludeIsReported(t *testing.T) {
	src := "        INCLUDE A\n"
	opts := Options{Includer: fakeIncluder{"A": "        INCLUDE A\n"}}
	r := Assemble(src, opts)
	if !r.HasErrors() {
		t.Fatal("expected a circular-include diagnostic")
	}
	found := false
	for _, d := range r.Diagnostics {
		if strings.Contains(d.Message, "circular include") {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics = %+v, want one mentioning 'circular include'", r.Diagnostics)
	}
}
