// Package traps implements the address-indexed trap registry that
// backs the emulator's "trap-first discovery" principle: every
// unhandled access is caught, logged and counted rather than crashing
// the host process, so support for a new ROM routine can be added
// incrementally. It plays the same role the teacher's opcode-dispatch
// table plays for instructions, but keyed by PC instead of opcode
// byte, and feeding an append-only statistics table instead of an
// executor.
package traps

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/edasm-host/edasm/bus"
	"github.com/edasm-host/edasm/cpu"
)

// Kind classifies a recorded trap statistic.
type Kind int

const (
	KindCall Kind = iota
	KindRead
	KindWrite
	KindDoubleRead
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "CALL"
	case KindRead:
		return "READ"
	case KindWrite:
		return "WRITE"
	case KindDoubleRead:
		return "DOUBLE_READ"
	default:
		return "UNKNOWN"
	}
}

// Statistic is one row of the trap statistics table: a monotonic
// count keyed by (name, address, kind, mli call, second-read flag).
type Statistic struct {
	Name           string
	Address        uint16
	Kind           Kind
	MLICallName    string
	SecondReadFlag bool
	Count          uint64
}

type statKey struct {
	name           string
	address        uint16
	kind           Kind
	mliCallName    string
	secondReadFlag bool
}

// AddressHandler services a trap installed at a specific PC (usually
// one pre-filled with cpu.TrapOpcode so execution through it redirects
// here). It returns whether to keep running.
type AddressHandler func(c *cpu.Cpu, b *bus.Bus, pc uint16) bool

// Manager is the single Cpu-visible trap dispatch hook: it looks up an
// address-specific handler if one is installed, otherwise prints a
// diagnostic, dumps memory and halts. Every invocation — handled or
// not — is recorded in the statistics table (a repeated key
// increments that row's count).
type Manager struct {
	handlers map[uint16]namedHandler
	stats    map[statKey]*Statistic
	order    []statKey

	dumpPath string
	out      io.Writer
	lastHalt *HaltReason
}

type namedHandler struct {
	name string
	fn   AddressHandler
}

// New constructs a Manager that writes its memory dump to dumpPath
// (spec.md §6.3 names "memory_dump.bin") and prints diagnostics to w.
func New(dumpPath string, w io.Writer) *Manager {
	if w == nil {
		w = os.Stdout
	}
	return &Manager{
		handlers: make(map[uint16]namedHandler),
		stats:    make(map[statKey]*Statistic),
		dumpPath: dumpPath,
		out:      w,
	}
}

// InstallAddressHandler registers a handler for a specific PC. No
// handler is ever silently replaced: installing a second handler at
// the same address is a programmer error and panics, matching
// spec.md §3.1's "no handler is silently replaced" invariant.
func (m *Manager) InstallAddressHandler(addr uint16, name string, h AddressHandler) {
	if _, exists := m.handlers[addr]; exists {
		panic(fmt.Sprintf("traps: handler already installed at $%04X", addr))
	}
	m.handlers[addr] = namedHandler{name: name, fn: h}
}

// GeneralTrapHandler is the callback wired to cpu.Cpu.SetTrapHandler.
func (m *Manager) GeneralTrapHandler(c *cpu.Cpu, b *bus.Bus, pc uint16) bool {
	if h, ok := m.handlers[pc]; ok {
		cont := h.fn(c, b, pc)
		m.record(h.name, pc, KindCall, "", false)
		if !cont {
			m.halt(b, fmt.Sprintf("trap handler %q at $%04X requested halt", h.name, pc))
		}
		return cont
	}

	m.record("unhandled", pc, KindCall, "", false)
	m.halt(b, fmt.Sprintf("unhandled trap/unimplemented opcode at $%04X", pc))
	return false
}

// RecordRead/RecordWrite/RecordDoubleRead let other subsystems
// (hostshims, mli) feed the shared statistics table without going
// through the CPU-visible dispatch path.
func (m *Manager) RecordRead(name string, addr uint16) { m.record(name, addr, KindRead, "", false) }
func (m *Manager) RecordWrite(name string, addr uint16) {
	m.record(name, addr, KindWrite, "", false)
}
func (m *Manager) RecordDoubleRead(name string, addr uint16, second bool) {
	m.record(name, addr, KindDoubleRead, "", second)
}
func (m *Manager) RecordMLICall(name, mliCall string, addr uint16) {
	m.record(name, addr, KindCall, mliCall, false)
}

func (m *Manager) record(name string, addr uint16, kind Kind, mliCall string, second bool) {
	// Screen-write traps lacking a symbolic name are consolidated into
	// one row (spec.md §4.3): fold the address out of the key for the
	// anonymous write case.
	k := statKey{name: name, address: addr, kind: kind, mliCallName: mliCall, secondReadFlag: second}
	if name == "" && kind == KindWrite {
		k.address = 0
	}
	if s, ok := m.stats[k]; ok {
		s.Count++
		return
	}
	s := &Statistic{Name: name, Address: k.address, Kind: kind, MLICallName: mliCall, SecondReadFlag: second, Count: 1}
	m.stats[k] = s
	m.order = append(m.order, k)
}

// HaltReason enumerates why the emulator stopped, for the benefit of
// callers wanting a typed decision rather than parsing log text.
type HaltReason struct {
	Message string
	Address uint16
}

// Halted reports whether the manager has recorded a halt this run.
func (m *Manager) Halted() bool { return m.lastHalt != nil }

// LastHalt returns the most recent halt reason, or nil if the
// emulator is still running.
func (m *Manager) LastHalt() *HaltReason { return m.lastHalt }

func (m *Manager) halt(b *bus.Bus, msg string) {
	fmt.Fprintln(m.out, msg)
	slog.Default().Error("emulator halt", "reason", msg)
	m.lastHalt = &HaltReason{Message: msg}
	if b != nil && m.dumpPath != "" {
		if err := m.DumpMemory(b); err != nil {
			fmt.Fprintf(m.out, "memory dump failed: %v\n", err)
			slog.Default().Error("memory dump failed", "path", m.dumpPath, "error", err)
		} else {
			slog.Default().Info("memory dump written", "path", m.dumpPath)
		}
	}
	m.PrintStatistics()
}

// DumpMemory writes the full 64KiB logical address space, as the
// guest currently sees it through the live bank projection, to
// m.dumpPath (spec.md §6.3).
func (m *Manager) DumpMemory(b *bus.Bus) error {
	return os.WriteFile(m.dumpPath, b.SnapshotLogical(), 0o644)
}

// PrintStatistics prints the trap statistics table sorted by address.
func (m *Manager) PrintStatistics() {
	keys := append([]statKey(nil), m.order...)
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].address < keys[j].address })

	fmt.Fprintln(m.out, "Trap statistics:")
	fmt.Fprintf(m.out, "%-8s %-24s %-12s %8s\n", "ADDR", "NAME", "KIND", "COUNT")
	seen := make(map[statKey]bool)
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		s := m.stats[k]
		label := s.Name
		if s.MLICallName != "" {
			label = fmt.Sprintf("%s (%s)", s.Name, s.MLICallName)
		}
		fmt.Fprintf(m.out, "$%04X   %-24s %-12s %8d\n", s.Address, label, s.Kind, s.Count)
	}
}

// Statistics returns a defensive copy of the recorded rows, sorted by
// address, for programmatic inspection (tests, tooling).
func (m *Manager) Statistics() []Statistic {
	out := make([]Statistic, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, *m.stats[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
