// Package emulator wires cpu, bus, traps, hostshims and mli into the
// single run loop a guest binary executes under: construct the bus,
// install the soft-switch and MLI traps, load the program, then step
// the CPU until a trap handler halts it or an instruction cap is
// reached. It plays the role the teacher's console.Machine plays for
// the NES: the one type that owns every subsystem and drives the
// frame (here, instruction) loop.
package emulator

import (
	"fmt"
	"io"

	"github.com/edasm-host/edasm/bus"
	"github.com/edasm-host/edasm/cpu"
	"github.com/edasm-host/edasm/hostshims"
	"github.com/edasm-host/edasm/mli"
	"github.com/edasm-host/edasm/traps"
)

// mliTrapAddr is where the MLI dispatcher is installed. Guest code
// reaches it with JSR $BF00, per spec.md §4.5.
const mliTrapAddr = 0xBF00

// Config describes one emulation run, matching the cmd/edasm-run flag
// surface (spec.md §6.1).
type Config struct {
	Binary          []byte
	LoadAddr        uint16
	EntryAddr       *uint16 // nil: honor the reset vector
	MaxInstructions uint64  // 0: unbounded
	InputLines      []string
	Trace           bool
	DumpPath        string
	Out             io.Writer

	// LiveInput, if non-nil, is drained once per instruction step and
	// each line received is queued into the keyboard FIFO. This is how
	// an interactive raw-mode terminal session (cmd/edasm-run) feeds
	// typed lines to the guest while it runs, instead of pre-loading
	// everything via InputLines.
	LiveInput <-chan string
}

// Context owns every emulator subsystem for one run.
type Context struct {
	Bus    *bus.Bus
	Cpu    *cpu.Cpu
	Traps  *traps.Manager
	Shims  *hostshims.HostShims
	MLI    *mli.Shim
	cfg    Config
	out    io.Writer
	halted bool
}

// New constructs a Context with every subsystem wired and the guest
// binary loaded, but does not start execution.
func New(cfg Config) *Context {
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.DumpPath == "" {
		cfg.DumpPath = "memory_dump.bin"
	}

	b := bus.New()
	tm := traps.New(cfg.DumpPath, cfg.Out)

	shims := hostshims.New(cfg.Out, tm)
	shims.InstallIOTraps(b)
	shims.QueueInputLines(cfg.InputLines)

	shim := mli.New(b, tm, cfg.Out)
	b.InitializeMemory(mliTrapAddr, []byte{cpu.TrapOpcode})
	tm.InstallAddressHandler(mliTrapAddr, "MLI", shim.TrapHandler)

	b.WriteBinaryData(cfg.LoadAddr, cfg.Binary)

	c := cpu.New(b)
	c.SetTrapHandler(adaptTrapHandler(tm))

	ctx := &Context{
		Bus:   b,
		Cpu:   c,
		Traps: tm,
		Shims: shims,
		MLI:   shim,
		cfg:   cfg,
		out:   cfg.Out,
	}
	return ctx
}

// adaptTrapHandler bridges traps.Manager.GeneralTrapHandler (which
// takes the concrete *bus.Bus) to the cpu.TrapHandler shape (which
// takes the cpu.Bus interface), since the two types aren't
// identical even though *bus.Bus satisfies cpu.Bus.
func adaptTrapHandler(tm *traps.Manager) cpu.TrapHandler {
	return func(c *cpu.Cpu, b cpu.Bus, pc uint16) bool {
		concrete, ok := b.(*bus.Bus)
		if !ok {
			return false
		}
		return tm.GeneralTrapHandler(c, concrete, pc)
	}
}

// Run resets the CPU (honoring an entry override if set) and steps it
// until a trap halt, the screen stop sentinel, or the instruction cap
// fires. It returns true if the run ended in a clean halt, false if
// the cap was reached while still running (spec.md §6.1's exit code
// rule).
func (ctx *Context) Run() (cleanHalt bool) {
	ctx.Cpu.Reset()
	if ctx.cfg.EntryAddr != nil {
		ctx.Cpu.PC = *ctx.cfg.EntryAddr
	}

	for {
		if ctx.cfg.MaxInstructions > 0 && ctx.Cpu.InstructionCount >= ctx.cfg.MaxInstructions {
			fmt.Fprintf(ctx.out, "[emulator] instruction cap (%d) reached, forcing halt\n", ctx.cfg.MaxInstructions)
			return false
		}
		if ctx.cfg.Trace {
			ctx.traceStep()
		}
		ctx.drainLiveInput()
		if !ctx.Cpu.Step() {
			ctx.halted = true
			return true
		}
		if ctx.Shims.ShouldStop() {
			return true
		}
	}
}

// Halted reports whether the run ended via a trap-requested halt
// (as opposed to the instruction cap or the screen sentinel).
func (ctx *Context) Halted() bool { return ctx.halted }

// drainLiveInput pulls every line currently waiting on cfg.LiveInput
// without blocking, so a run with no interactive session attached
// pays nothing per step.
func (ctx *Context) drainLiveInput() {
	if ctx.cfg.LiveInput == nil {
		return
	}
	for {
		select {
		case line, ok := <-ctx.cfg.LiveInput:
			if !ok {
				ctx.cfg.LiveInput = nil
				return
			}
			ctx.Shims.QueueInputLine(line)
		default:
			return
		}
	}
}

func (ctx *Context) traceStep() {
	pc := ctx.Cpu.PC
	op := ctx.Bus.Read(pc)
	fmt.Fprintf(ctx.out, "%04X  %02X  %-3s  A=%02X X=%02X Y=%02X P=%02X SP=%02X\n",
		pc, op, cpu.Mnemonic(op), ctx.Cpu.A, ctx.Cpu.X, ctx.Cpu.Y, ctx.Cpu.P, ctx.Cpu.SP)
}
