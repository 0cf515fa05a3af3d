// Package assembler drives the two-pass assembly of one EDASM source
// module: INCLUDE expansion, DO/ELSE/FIN conditional assembly,
// directive handling, instruction encoding via opcodetable, and
// relocation/external-symbol bookkeeping for the linker's REL format.
package assembler

import (
	"fmt"
	"strings"

	"github.com/edasm-host/edasm/expression"
	"github.com/edasm-host/edasm/opcodetable"
	"github.com/edasm-host/edasm/relfile"
	"github.com/edasm-host/edasm/symboltable"
	"github.com/edasm-host/edasm/tokenizer"
)

// DefaultOrigin is the program counter a module starts at when no
// ORG directive has appeared yet.
const DefaultOrigin uint16 = 0x0800

// DefaultMaxIncludeDepth bounds INCLUDE nesting when Options doesn't
// override it.
const DefaultMaxIncludeDepth = 16

// Diagnostic is one source-level assembly error, tagged with the line
// number it occurred on within its own file.
type Diagnostic struct {
	Line    int
	Message string
}

// Includer resolves an INCLUDE directive's operand to source text.
type Includer interface {
	ReadInclude(name string) (string, error)
}

// Options configures one Assemble call.
type Options struct {
	Includer        Includer
	MaxIncludeDepth int
}

func (o Options) maxDepth() int {
	if o.MaxIncludeDepth <= 0 {
		return DefaultMaxIncludeDepth
	}
	return o.MaxIncludeDepth
}

// Result is everything one assembled module produces.
type Result struct {
	Code        []byte
	Origin      uint16
	Relocatable bool
	RLD         []relfile.RLDEntry
	ESD         []relfile.ESDEntry
	Symbols     *symboltable.Table
	Diagnostics []Diagnostic
}

// HasErrors reports whether assembly produced any diagnostic.
func (r *Result) HasErrors() bool { return len(r.Diagnostics) > 0 }

type sourceUnit struct {
	Text string
	Line int
}

// Assemble runs INCLUDE expansion followed by the two assembly
// passes over source, returning the accumulated code image and
// diagnostics.
func Assemble(source string, opts Options) *Result {
	units, diags := expandIncludes(source, opts, nil)

	symtab := symboltable.New()
	st := newState(symtab)

	// Pass 1: establish label values and PC progression without
	// emitting bytes. Forward references to undefined symbols are
	// assumed wide (absolute) so pass 2's instruction lengths agree.
	st.pass = 1
	runPass(st, units)
	diags = append(diags, st.diags...)

	// Pass 2: re-walk with a fresh PC and conditional-assembly state,
	// emitting bytes, RLD entries and branch-range diagnostics.
	st2 := newState(symtab)
	st2.pass = 2
	st2.externalOrder = st.externalOrder
	st2.externalIndex = st.externalIndex
	runPass(st2, units)
	diags = append(diags, st2.diags...)

	esd := buildESD(symtab, st2.externalOrder, st2.relocatable, st2.origin)

	return &Result{
		Code:        st2.code,
		Origin:      st2.origin,
		Relocatable: st2.relocatable,
		RLD:         st2.rld,
		ESD:         esd,
		Symbols:     symtab,
		Diagnostics: diags,
	}
}

func expandIncludes(text string, opts Options, stack []string) ([]sourceUnit, []Diagnostic) {
	lines := strings.Split(text, "\n")
	var out []sourceUnit
	var diags []Diagnostic

	for i, raw := range lines {
		lineNo := i + 1
		sl := tokenizer.ParseLine(raw, lineNo)
		if strings.ToUpper(sl.Mnemonic) != "INCLUDE" {
			out = append(out, sourceUnit{Text: raw, Line: lineNo})
			continue
		}

		name := strings.Trim(strings.TrimSpace(sl.Operand), "\"")
		if len(stack) >= opts.maxDepth() {
			diags = append(diags, Diagnostic{lineNo, fmt.Sprintf("include nesting too deep: %s", name)})
			continue
		}
		circular := false
		for _, seen := range stack {
			if seen == name {
				circular = true
				break
			}
		}
		if circular {
			diags = append(diags, Diagnostic{lineNo, fmt.Sprintf("circular include: %s", name)})
			continue
		}
		if opts.Includer == nil {
			diags = append(diags, Diagnostic{lineNo, fmt.Sprintf("no include resolver configured for: %s", name)})
			continue
		}
		incText, err := opts.Includer.ReadInclude(name)
		if err != nil {
			diags = append(diags, Diagnostic{lineNo, fmt.Sprintf("include failed: %s: %v", name, err)})
			continue
		}
		subUnits, subDiags := expandIncludes(incText, opts, append(append([]string{}, stack...), name))
		out = append(out, subUnits...)
		diags = append(diags, subDiags...)
	}
	return out, diags
}

// condFrame is one level of DO/ELSE/FIN nesting.
type condFrame struct {
	assembling bool
	elseSeen   bool
}

// recordingResolver wraps a symboltable.Table and remembers the name
// of the last external symbol it resolved, so RLD generation can
// recover which ESD entry a relocated word refers to.
type recordingResolver struct {
	tbl          *symboltable.Table
	externalName string
}

func (r *recordingResolver) Resolve(name string) (uint16, bool, bool, bool) {
	v, rel, ext, defined := r.tbl.Resolve(name)
	if ext {
		r.externalName = name
	}
	return v, rel, ext, defined
}

type state struct {
	pass       int
	pc         uint16
	origin     uint16
	originSet  bool
	msbOn      bool
	relocatable bool
	symtab     *symboltable.Table
	resolver   *recordingResolver
	ot         *opcodetable.Table
	condStack  []condFrame
	diags      []Diagnostic

	code []byte
	rld  []relfile.RLDEntry

	externalOrder []string
	externalIndex map[string]uint8
}

func newState(symtab *symboltable.Table) *state {
	return &state{
		symtab:        symtab,
		resolver:      &recordingResolver{tbl: symtab},
		ot:            opcodetable.New(),
		externalIndex: make(map[string]uint8),
	}
}

func (s *state) active() bool {
	for _, f := range s.condStack {
		if !f.assembling {
			return false
		}
	}
	return true
}

// beginEmission records the address of the first byte this module
// ever emits as its origin. Code before that point (ORG jumps with
// nothing assembled yet) never happened, so origin is whatever PC is
// active the first time a directive or instruction actually produces
// bytes.
func (s *state) beginEmission() {
	if !s.originSet {
		s.origin = s.pc
		s.originSet = true
	}
}

func (s *state) errf(line int, format string, args ...interface{}) {
	s.diags = append(s.diags, Diagnostic{Line: line, Message: fmt.Sprintf(format, args...)})
}

// eval evaluates expr against s's symbol table, recording which
// external symbol (if any) contributed to the result.
func (s *state) eval(expr string) expression.Result {
	s.resolver.externalName = ""
	return expression.Evaluate(expr, s.pass, s.resolver)
}

func runPass(s *state, units []sourceUnit) {
	s.pc = DefaultOrigin
	for _, u := range units {
		sl := tokenizer.ParseLine(u.Text, u.Line)
		mnemonic := sl.Mnemonic

		switch mnemonic {
		case "DO":
			cond := true
			if s.active() {
				r := s.eval(sl.Operand)
				if !r.Success {
					s.errf(u.Line, "DO: %s", r.Err)
					cond = false
				} else {
					cond = r.Value != 0
				}
			}
			s.condStack = append(s.condStack, condFrame{assembling: cond})
			continue
		case "ELSE":
			if len(s.condStack) == 0 {
				s.errf(u.Line, "ELSE without matching DO")
				continue
			}
			top := &s.condStack[len(s.condStack)-1]
			if top.elseSeen {
				s.errf(u.Line, "multiple ELSE for one DO")
				continue
			}
			top.elseSeen = true
			top.assembling = !top.assembling
			continue
		case "FIN":
			if len(s.condStack) == 0 {
				s.errf(u.Line, "FIN without matching DO")
				continue
			}
			s.condStack = s.condStack[:len(s.condStack)-1]
			continue
		}

		if !s.active() {
			continue
		}
		if mnemonic == "INCLUDE" {
			continue
		}
		if mnemonic == "END" {
			break
		}

		s.applyLabel(sl, u.Line)
		s.applyDirectiveOrInstruction(sl, u.Line)
	}
	if len(s.condStack) != 0 {
		s.errf(len(units), "unterminated conditional: %d DO without matching FIN", len(s.condStack))
	}
}

func (s *state) applyLabel(sl tokenizer.SourceLine, line int) {
	if sl.Label == "" {
		return
	}
	switch sl.Mnemonic {
	case "EQU", "=":
		r := s.eval(sl.Operand)
		if !r.Success {
			s.errf(line, "%s", r.Err)
			return
		}
		flags := symboltable.Flag(0)
		if r.IsRelative {
			flags |= symboltable.Relative
		}
		if r.IsExternal {
			flags |= symboltable.External
		}
		if s.pass == 1 {
			if _, err := s.symtab.Define(sl.Label, r.Value, flags, line); err != nil {
				s.errf(line, "%s", err)
			}
		} else {
			s.symtab.UpdateValue(sl.Label, r.Value)
		}
	default:
		flags := symboltable.Flag(0)
		if s.relocatable {
			flags |= symboltable.Relative
		}
		if s.pass == 1 {
			if _, err := s.symtab.Define(sl.Label, s.pc, flags, line); err != nil {
				s.errf(line, "%s", err)
			}
		} else {
			s.symtab.UpdateValue(sl.Label, s.pc)
			s.symtab.UpdateFlags(sl.Label, flags)
		}
	}
}

// stripOperandForEval strips the addressing-mode wrapper syntax
// (#, (...,X), (...),Y, (...), trailing ,X or ,Y) off an operand so
// expression.Evaluate sees only the bare address/value expression.
// opcodetable.Detect still classifies the mode from the untouched
// operand string.
func stripOperandForEval(operand string) string {
	op := strings.TrimSpace(operand)
	if op == "" || op == "A" {
		return ""
	}
	if strings.HasPrefix(op, "#") {
		return strings.TrimSpace(op[1:])
	}
	if strings.HasPrefix(op, "(") {
		inner := op[1:]
		switch {
		case strings.HasSuffix(inner, ",X)"):
			return strings.TrimSpace(inner[:len(inner)-len(",X)")])
		case strings.HasSuffix(inner, "),Y"):
			return strings.TrimSpace(inner[:len(inner)-len("),Y")])
		case strings.HasSuffix(inner, ")"):
			return strings.TrimSpace(inner[:len(inner)-1])
		}
	}
	if idx := lastTopLevelComma(op); idx >= 0 {
		suffix := strings.TrimSpace(op[idx+1:])
		if suffix == "X" || suffix == "Y" {
			return strings.TrimSpace(op[:idx])
		}
	}
	return op
}

// lastTopLevelComma mirrors opcodetable's unexported helper of the
// same name: the index of a comma outside parens/quotes, or -1.
func lastTopLevelComma(s string) int {
	depth := 0
	quote := byte(0)
	last := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				last = i
			}
		}
	}
	return last
}

func splitTopLevelArgs(operand string) []string {
	var out []string
	depth := 0
	quote := byte(0)
	start := 0
	for i := 0; i < len(operand); i++ {
		c := operand[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(operand[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(operand[start:]))
	return out
}

func (s *state) applyDirectiveOrInstruction(sl tokenizer.SourceLine, line int) {
	mnemonic := sl.Mnemonic
	switch mnemonic {
	case "", "EQU", "=":
		return
	case "ORG":
		r := s.eval(sl.Operand)
		if !r.Success {
			s.errf(line, "ORG: %s", r.Err)
			return
		}
		if s.pass == 2 && s.originSet && r.Value > s.origin+uint16(len(s.code)) {
			s.code = append(s.code, make([]byte, int(r.Value)-int(s.origin)-len(s.code))...)
		}
		s.pc = r.Value
		return
	case "REL":
		s.relocatable = true
		return
	case "ENT":
		for _, name := range splitTopLevelArgs(sl.Operand) {
			if name == "" {
				continue
			}
			s.symtab.UpdateFlags(name, symboltable.Entry)
		}
		return
	case "EXT":
		for _, name := range splitTopLevelArgs(sl.Operand) {
			if name == "" {
				continue
			}
			if _, ok := s.symtab.Lookup(name); !ok {
				s.symtab.Define(name, 0, symboltable.External|symboltable.Undefined, line)
			} else {
				s.symtab.UpdateFlags(name, symboltable.External)
			}
			if _, ok := s.externalIndex[name]; !ok {
				s.externalIndex[name] = uint8(len(s.externalOrder))
				s.externalOrder = append(s.externalOrder, name)
			}
		}
		return
	case "LST":
		return
	case "MSB":
		s.msbOn = strings.EqualFold(strings.TrimSpace(sl.Operand), "ON")
		return
	case "DB", "DFB":
		s.emitBytes(sl, line)
		return
	case "DW", "DA":
		s.emitWords(sl, line)
		return
	case "DS":
		s.emitStorage(sl, line)
		return
	case "ASC":
		s.emitAsc(sl, line, false)
		return
	case "DCI":
		s.emitAsc(sl, line, true)
		return
	}

	s.emitInstruction(sl, line)
}

func (s *state) emitBytes(sl tokenizer.SourceLine, line int) {
	args := splitTopLevelArgs(sl.Operand)
	if s.pass != 2 {
		s.pc += uint16(len(args))
		return
	}
	s.beginEmission()
	for _, a := range args {
		r := s.eval(a)
		if !r.Success {
			s.errf(line, "DB: %s", r.Err)
			s.code = append(s.code, 0)
		} else {
			s.code = append(s.code, byte(r.Value))
		}
		s.pc++
	}
}

func (s *state) emitWords(sl tokenizer.SourceLine, line int) {
	args := splitTopLevelArgs(sl.Operand)
	if s.pass != 2 {
		s.pc += uint16(2 * len(args))
		return
	}
	s.beginEmission()
	for _, a := range args {
		r := s.eval(a)
		if !r.Success {
			s.errf(line, "DW: %s", r.Err)
			s.code = append(s.code, 0, 0)
			s.pc += 2
			continue
		}
		wordAddr := s.pc - s.origin
		s.code = append(s.code, byte(r.Value), byte(r.Value>>8))
		if r.IsExternal {
			idx, ok := s.externalIndex[s.resolver.externalName]
			if !ok {
				s.errf(line, "DW: undeclared external %q", s.resolver.externalName)
			}
			s.rld = append(s.rld, relfile.RLDEntry{Flags: relfile.RLDExternal, Address: wordAddr, SymbolNumber: idx})
		} else if r.IsRelative {
			s.rld = append(s.rld, relfile.RLDEntry{Flags: relfile.RLDRelative, Address: wordAddr})
		}
		s.pc += 2
	}
}

func (s *state) emitStorage(sl tokenizer.SourceLine, line int) {
	r := s.eval(sl.Operand)
	if !r.Success {
		s.errf(line, "DS: %s", r.Err)
		return
	}
	if s.pass == 2 {
		s.beginEmission()
		s.code = append(s.code, make([]byte, r.Value)...)
	}
	s.pc += r.Value
}

// asciiOperand pulls the delimited string literal out of an ASC/DCI
// operand: the first non-space character is the delimiter, and the
// string runs to its matching close.
func asciiOperand(operand string) (string, error) {
	op := strings.TrimSpace(operand)
	if op == "" {
		return "", fmt.Errorf("missing string delimiter")
	}
	delim := op[0]
	rest := op[1:]
	end := strings.IndexByte(rest, delim)
	if end < 0 {
		return "", fmt.Errorf("unterminated string literal")
	}
	return rest[:end], nil
}

func (s *state) emitAsc(sl tokenizer.SourceLine, line int, dci bool) {
	text, err := asciiOperand(sl.Operand)
	if err != nil {
		s.errf(line, "%s: %v", sl.Mnemonic, err)
		return
	}
	if s.pass != 2 {
		s.pc += uint16(len(text))
		return
	}
	s.beginEmission()
	bytes := make([]byte, len(text))
	for i := 0; i < len(text); i++ {
		b := text[i]
		if dci {
			b &= 0x7F
			if i == len(text)-1 {
				b |= 0x80
			}
		} else if s.msbOn {
			b |= 0x80
		}
		bytes[i] = b
	}
	s.code = append(s.code, bytes...)
	s.pc += uint16(len(bytes))
}

func (s *state) emitInstruction(sl tokenizer.SourceLine, line int) {
	mnemonic := sl.Mnemonic
	if !s.ot.IsKnown(mnemonic) {
		s.errf(line, "unknown mnemonic %q", mnemonic)
		return
	}

	operand := sl.Operand
	evalOperand := stripOperandForEval(operand)

	var r expression.Result
	haveValue := evalOperand != ""
	if haveValue {
		r = s.eval(evalOperand)
	} else {
		r = expression.Result{Success: true}
	}

	mode := opcodetable.Detect(operand, mnemonic, haveValue && r.Success && !r.IsForwardRef, r.Value, s.ot)
	entry, ok := s.ot.Lookup(mnemonic, mode)
	if !ok {
		s.errf(line, "%s does not support the %s addressing mode", mnemonic, operand)
		s.pc++
		return
	}

	if s.pass != 2 {
		s.pc += uint16(entry.Length)
		return
	}

	if haveValue && !r.Success {
		s.errf(line, "%s: %s", mnemonic, r.Err)
		s.beginEmission()
		s.code = append(s.code, make([]byte, entry.Length)...)
		s.pc += uint16(entry.Length)
		return
	}

	s.beginEmission()
	opAddr := s.pc - s.origin
	switch mode {
	case opcodetable.Relative:
		target := r.Value
		offsetAddr := int32(target) - int32(s.pc+2)
		if offsetAddr < -128 || offsetAddr > 127 {
			s.errf(line, "branch out of range (target $%04X from $%04X)", target, s.pc)
			s.code = append(s.code, entry.Opcode, 0)
		} else {
			s.code = append(s.code, entry.Opcode, byte(int8(offsetAddr)))
		}
	case opcodetable.Implied, opcodetable.Accumulator:
		s.code = append(s.code, entry.Opcode)
	case opcodetable.Immediate, opcodetable.ZeroPage, opcodetable.ZeroPageX, opcodetable.ZeroPageY,
		opcodetable.IndexedIndirect, opcodetable.IndirectIndexed:
		s.code = append(s.code, entry.Opcode, byte(r.Value))
	default: // Absolute, AbsoluteX, AbsoluteY, Indirect
		s.code = append(s.code, entry.Opcode, byte(r.Value), byte(r.Value>>8))
		if entry.Length == 3 {
			relAddr := opAddr + 1
			if r.IsExternal {
				idx, ok := s.externalIndex[s.resolver.externalName]
				if !ok {
					s.errf(line, "%s: undeclared external %q", mnemonic, s.resolver.externalName)
				}
				s.rld = append(s.rld, relfile.RLDEntry{Flags: relfile.RLDExternal, Address: relAddr, SymbolNumber: idx})
			} else if r.IsRelative {
				s.rld = append(s.rld, relfile.RLDEntry{Flags: relfile.RLDRelative, Address: relAddr})
			}
		}
	}
	s.pc += uint16(entry.Length)
}

// buildESD emits an ESD record per external reference (in declaration
// order) and per ENT-flagged symbol. Addresses are module-relative
// (offset from origin), matching the coordinate system the linker's
// relocation phase expects: it adds a module's assigned load address
// to every relative reference, including exported entry symbols.
func buildESD(symtab *symboltable.Table, externalOrder []string, relocatable bool, origin uint16) []relfile.ESDEntry {
	var out []relfile.ESDEntry
	externalSeen := make(map[string]bool)
	for _, name := range externalOrder {
		out = append(out, relfile.ESDEntry{Flags: relfile.ESDExternal | relfile.ESDUndefined, Name: name})
		externalSeen[name] = true
	}
	for _, sym := range symtab.SortedByName() {
		if sym.Flags&symboltable.Entry == 0 {
			continue
		}
		if externalSeen[sym.Name] {
			continue
		}
		flags := relfile.ESDEntryFlag
		addr := sym.Value
		if relocatable && sym.Flags&symboltable.Relative != 0 {
			flags |= relfile.ESDRelative
			addr = sym.Value - origin
		}
		out = append(out, relfile.ESDEntry{Flags: flags, Address: addr, Name: sym.Name})
	}
	return out
}
