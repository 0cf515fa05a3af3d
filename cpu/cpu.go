// Package cpu implements the 65C02 register file and instruction
// decoder. It is driven by single calls to Step, exactly as the
// teacher's mos6502 package is driven by repeated calls to its
// unexported step method, and it reads/writes memory exclusively
// through a Bus interface rather than touching bytes directly.
package cpu

// Bus is the minimal memory surface the Cpu needs. bus.Bus satisfies
// it; tests may supply a flat 64KiB in-memory array type instead.
type Bus interface {
	Read(addr uint16) uint8
	Write(addr uint16, val uint8)
}

// Status flag bits, in the traditional 6502 P register layout.
const (
	FlagC uint8 = 1 << 0 // Carry
	FlagZ uint8 = 1 << 1 // Zero
	FlagI uint8 = 1 << 2 // Interrupt disable
	FlagD uint8 = 1 << 3 // Decimal (unused arithmetically; Non-goal)
	FlagB uint8 = 1 << 4 // Break
	FlagU uint8 = 1 << 5 // Unused, always on
	FlagV uint8 = 1 << 6 // Overflow
	FlagN uint8 = 1 << 7 // Negative
)

const (
	stackPage = 0x0100

	vectorNMI   = 0xFFFA
	vectorReset = 0xFFFC
	vectorIRQ   = 0xFFFE

	// TrapOpcode is $02, unused on the 65C02. The emulator pre-fills
	// unimplemented regions with this byte so any fetch from them
	// redirects to the host trap handler.
	TrapOpcode = 0x02
)

// AddressingMode is the closed set of 65C02 addressing modes this
// core supports (spec.md §3.2).
type AddressingMode int

const (
	Implied AddressingMode = iota
	Accumulator
	Immediate
	ZeroPage
	ZeroPageX
	ZeroPageY
	Absolute
	AbsoluteX
	AbsoluteY
	Indirect
	IndexedIndirect
	IndirectIndexed
	Relative
)

// TrapHandler services opcode $02 and unimplemented-opcode halts. It
// receives the Cpu, the Bus and the PC of the offending byte, and
// returns whether execution should continue.
type TrapHandler func(c *Cpu, bus Bus, pc uint16) bool

// Cpu holds the 65C02 register file: A, X, Y, SP, P and PC, plus the
// single trap dispatch hook and an instruction counter used by
// callers enforcing a --max instruction cap.
type Cpu struct {
	A, X, Y uint8
	SP      uint8
	P       uint8
	PC      uint16

	bus Bus

	trapHandler      TrapHandler
	InstructionCount uint64
}

// New constructs a Cpu wired to bus with the power-on state from
// spec.md §3.1: SP=$FF, P=U|I, all else zero. Call Reset afterwards
// to load PC from the reset vector.
func New(bus Bus) *Cpu {
	return &Cpu{
		bus: bus,
		SP:  0xFF,
		P:   FlagU | FlagI,
	}
}

// SetTrapHandler installs the single dispatch callback invoked when
// opcode $02 is fetched, or when an unimplemented opcode is fetched
// (in which case PC is rewound to the offending byte first).
func (c *Cpu) SetTrapHandler(h TrapHandler) {
	c.trapHandler = h
}

// Reset reloads PC from the reset vector at $FFFC/$FFFD.
func (c *Cpu) Reset() {
	c.PC = readWord(c.bus, vectorReset)
}

func readWord(b Bus, addr uint16) uint16 {
	lo := uint16(b.Read(addr))
	hi := uint16(b.Read(addr + 1))
	return lo | hi<<8
}

func (c *Cpu) fetchByte() uint8 {
	v := c.bus.Read(c.PC)
	c.PC++
	return v
}

func (c *Cpu) fetchWord() uint16 {
	lo := uint16(c.fetchByte())
	hi := uint16(c.fetchByte())
	return lo | hi<<8
}

func (c *Cpu) pushByte(v uint8) {
	c.bus.Write(stackPage|uint16(c.SP), v)
	c.SP--
}

func (c *Cpu) pullByte() uint8 {
	c.SP++
	return c.bus.Read(stackPage | uint16(c.SP))
}

// pushWord stores the high byte first, so the low byte ends up at
// the lower stack address (spec.md §4.2).
func (c *Cpu) pushWord(v uint16) {
	c.pushByte(uint8(v >> 8))
	c.pushByte(uint8(v))
}

func (c *Cpu) pullWord() uint16 {
	lo := uint16(c.pullByte())
	hi := uint16(c.pullByte())
	return lo | hi<<8
}

func (c *Cpu) setFlag(mask uint8, on bool) {
	if on {
		c.P |= mask
	} else {
		c.P &^= mask
	}
}

func (c *Cpu) flag(mask uint8) bool { return c.P&mask != 0 }

func (c *Cpu) setNZ(v uint8) {
	c.setFlag(FlagZ, v == 0)
	c.setFlag(FlagN, v&0x80 != 0)
}

// Step fetches and executes one instruction. It returns true to keep
// running, false if a trap handler requested a halt (including the
// "no trap handler installed" and "unimplemented opcode" cases).
func (c *Cpu) Step() bool {
	opcodePC := c.PC
	op := c.fetchByte()

	if op == TrapOpcode {
		return c.dispatchTrap(opcodePC)
	}

	entry, ok := opcodes[op]
	if !ok {
		c.PC = opcodePC
		return c.dispatchTrap(opcodePC)
	}

	entry.exec(c, entry.mode)
	c.InstructionCount++
	return true
}

func (c *Cpu) dispatchTrap(pc uint16) bool {
	if c.trapHandler == nil {
		return false
	}
	return c.trapHandler(c, c.bus, pc)
}

// operandAddr resolves the address an instruction's operand refers
// to, given the addressing mode. PC must already point just past the
// opcode byte. Accumulator and Implied modes never call this.
func (c *Cpu) operandAddr(mode AddressingMode) uint16 {
	switch mode {
	case Immediate:
		addr := c.PC
		c.PC++
		return addr
	case ZeroPage:
		return uint16(c.fetchByte())
	case ZeroPageX:
		return uint16(c.fetchByte() + c.X)
	case ZeroPageY:
		return uint16(c.fetchByte() + c.Y)
	case Absolute:
		return c.fetchWord()
	case AbsoluteX:
		return c.fetchWord() + uint16(c.X)
	case AbsoluteY:
		return c.fetchWord() + uint16(c.Y)
	case Indirect:
		ptr := c.fetchWord()
		return c.readWordBugged(ptr)
	case IndexedIndirect:
		zp := c.fetchByte() + c.X
		return readWord(c.bus, uint16(zp))
	case IndirectIndexed:
		zp := c.fetchByte()
		base := readWord(c.bus, uint16(zp))
		return base + uint16(c.Y)
	case Relative:
		offset := int8(c.fetchByte())
		return uint16(int32(c.PC) + int32(offset))
	default:
		panic("operandAddr: mode has no operand address")
	}
}

// readWordBugged reproduces the classic 6502 JMP (indirect) page-wrap
// bug: if the pointer is at an $xxFF address, the high byte is
// fetched from $xx00 rather than advancing into the next page.
func (c *Cpu) readWordBugged(ptr uint16) uint16 {
	lo := uint16(c.bus.Read(ptr))
	var hiAddr uint16
	if ptr&0xFF == 0xFF {
		hiAddr = ptr &^ 0xFF
	} else {
		hiAddr = ptr + 1
	}
	hi := uint16(c.bus.Read(hiAddr))
	return lo | hi<<8
}
