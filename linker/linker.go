// Package linker implements the multi-module linking editor: it takes
// a set of REL object files, assigns each a load address, resolves
// external references against global entry symbols, applies
// relocations, and emits a flat binary or a fresh REL container.
//
// Parsing each input module (Phase 1) is embarrassingly parallel —
// modules don't depend on each other until symbol resolution — so it
// runs through golang.org/x/sync/errgroup. Every later phase is
// single-threaded and deterministic, ordered by module index.
package linker

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/edasm-host/edasm/relfile"
)

// OutputType selects the Phase 6 output shape.
type OutputType int

const (
	BIN OutputType = iota
	REL
	SYS
)

// Options configures one Link call.
type Options struct {
	OutputType  OutputType
	Origin      uint16
	GenerateMap bool
}

// UnresolvedExternalError reports an EXTERNAL reference with no
// matching global ENTRY symbol anywhere in the link set.
type UnresolvedExternalError struct {
	Name        string
	ModuleIndex int
}

func (e *UnresolvedExternalError) Error() string {
	return fmt.Sprintf("module %d: unresolved external %q", e.ModuleIndex, e.Name)
}

// DuplicateEntryError reports the same ENTRY name exported by two
// modules in the same link.
type DuplicateEntryError struct {
	Name         string
	FirstModule  int
	SecondModule int
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate entry %q: exported by module %d and module %d", e.Name, e.FirstModule, e.SecondModule)
}

// MalformedRelFileError wraps a relfile.Decode failure with the
// offending module's index in the input list.
type MalformedRelFileError struct {
	Index int
	Err   error
}

func (e *MalformedRelFileError) Error() string {
	return fmt.Sprintf("module %d: malformed REL file: %v", e.Index, e.Err)
}

// ModuleMapEntry is one module's slot in the load map.
type ModuleMapEntry struct {
	Index  int
	Base   uint16
	Length int
}

// SymbolMapEntry is one resolved global symbol's slot in the load map.
type SymbolMapEntry struct {
	Name    string
	Address uint16
}

// LoadMap is the optional human-readable linking report.
type LoadMap struct {
	Modules []ModuleMapEntry
	Symbols []SymbolMapEntry
}

// Result is everything one Link call produces.
type Result struct {
	Output      []byte
	LoadAddress uint16
	CodeLength  int
	Map         *LoadMap
	Errors      []error
}

// HasErrors reports whether linking failed.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

type globalSymbol struct {
	name        string
	moduleIndex int
	address     uint16 // filled in during Phase 3
	resolved    bool
}

// Link runs all six phases over inputs (one REL container per entry)
// and returns the combined output.
func Link(inputs [][]byte, opts Options) *Result {
	// Phase 1: load, in parallel — independent per module.
	modules := make([]relfile.Container, len(inputs))
	var g errgroup.Group
	for i, data := range inputs {
		i, data := i, data
		g.Go(func() error {
			c, err := relfile.Decode(data)
			if err != nil {
				return &MalformedRelFileError{Index: i, Err: err}
			}
			modules[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &Result{Errors: []error{err}}
	}

	var errs []error

	// Phase 2: symbol tables. externalNames[i] holds module i's
	// EXTERNAL-flagged ESD entries in declaration order, matching the
	// RLD external record's symbol_num index into that list.
	globals := make(map[string]*globalSymbol)
	externalNames := make([][]string, len(modules))
	for i, m := range modules {
		for _, e := range m.ESD {
			if e.Flags&relfile.ESDExternal != 0 {
				externalNames[i] = append(externalNames[i], e.Name)
			}
			if e.Flags&relfile.ESDEntryFlag != 0 {
				if existing, ok := globals[e.Name]; ok {
					errs = append(errs, &DuplicateEntryError{Name: e.Name, FirstModule: existing.moduleIndex, SecondModule: i})
					continue
				}
				globals[e.Name] = &globalSymbol{name: e.Name, moduleIndex: i, address: e.Address}
			}
		}
	}

	// Phase 3: address assignment, modules laid out head-to-tail.
	bases := make([]uint16, len(modules))
	cursor := opts.Origin
	for i, m := range modules {
		bases[i] = cursor
		cursor += uint16(len(m.Code))
	}
	for _, sym := range globals {
		sym.address = bases[sym.moduleIndex] + sym.address
		sym.resolved = true
	}

	// Phase 4: external resolution.
	resolvedExternal := make([]map[string]uint16, len(modules))
	for i := range modules {
		resolvedExternal[i] = make(map[string]uint16)
		for _, name := range externalNames[i] {
			sym, ok := globals[name]
			if !ok {
				errs = append(errs, &UnresolvedExternalError{Name: name, ModuleIndex: i})
				continue
			}
			resolvedExternal[i][name] = sym.address
		}
	}

	if len(errs) > 0 {
		return &Result{Errors: errs}
	}

	// Phase 5: relocation. Each module's code is patched in place
	// against a private copy so Phase 6 can read it back out.
	patched := make([][]byte, len(modules))
	for i, m := range modules {
		code := make([]byte, len(m.Code))
		copy(code, m.Code)
		for _, r := range m.RLD {
			if int(r.Address)+1 >= len(code) {
				errs = append(errs, fmt.Errorf("module %d: RLD address %#x out of range", i, r.Address))
				continue
			}
			word := uint16(code[r.Address]) | uint16(code[r.Address+1])<<8
			switch r.Flags {
			case relfile.RLDAbsolute:
				// no change
			case relfile.RLDRelative:
				word += bases[i]
			case relfile.RLDExternal:
				name := externalNames[i][r.SymbolNumber]
				word = resolvedExternal[i][name]
			}
			code[r.Address] = byte(word)
			code[r.Address+1] = byte(word >> 8)
		}
		patched[i] = code
	}
	if len(errs) > 0 {
		return &Result{Errors: errs}
	}

	// Phase 6: output.
	var output []byte
	switch opts.OutputType {
	case BIN, SYS:
		for _, code := range patched {
			output = append(output, code...)
		}
	case REL:
		var esd []relfile.ESDEntry
		reexported := make(map[string]bool)
		for _, names := range externalNames {
			for _, name := range names {
				if _, ok := globals[name]; !ok && !reexported[name] {
					esd = append(esd, relfile.ESDEntry{Flags: relfile.ESDExternal | relfile.ESDUndefined, Name: name})
					reexported[name] = true
				}
			}
		}
		entryNames := make([]string, 0, len(globals))
		for name := range globals {
			entryNames = append(entryNames, name)
		}
		sort.Slice(entryNames, func(a, b int) bool {
			sa, sb := globals[entryNames[a]], globals[entryNames[b]]
			if sa.moduleIndex != sb.moduleIndex {
				return sa.moduleIndex < sb.moduleIndex
			}
			return sa.name < sb.name
		})
		for _, name := range entryNames {
			sym := globals[name]
			esd = append(esd, relfile.ESDEntry{Flags: relfile.ESDEntryFlag, Address: sym.address, Name: sym.name})
		}
		var combined []byte
		for _, code := range patched {
			combined = append(combined, code...)
		}
		data, err := relfile.Encode(relfile.Container{Code: combined, ESD: esd})
		if err != nil {
			return &Result{Errors: []error{err}}
		}
		output = data
	}

	result := &Result{
		Output:      output,
		LoadAddress: opts.Origin,
		CodeLength:  len(output),
	}
	if opts.GenerateMap {
		result.Map = buildLoadMap(modules, bases, globals)
	}
	return result
}

func buildLoadMap(modules []relfile.Container, bases []uint16, globals map[string]*globalSymbol) *LoadMap {
	m := &LoadMap{}
	for i, mod := range modules {
		m.Modules = append(m.Modules, ModuleMapEntry{Index: i, Base: bases[i], Length: len(mod.Code)})
	}
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.Symbols = append(m.Symbols, SymbolMapEntry{Name: name, Address: globals[name].address})
	}
	return m
}
