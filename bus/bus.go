// Package bus implements the 82KiB physical memory pool and the
// 2KiB-bank projection of the 16-bit address space on top of it, plus
// the address-ranged trap registry that lets host code intercept any
// access before the projection runs.
//
// The bank-table projection here plays the same role the teacher's
// mappers.Mapper interface plays for cartridge bank switching: a
// level of indirection between a CPU-visible address and the backing
// byte, installed once and consulted on every access.
package bus

import "fmt"

const (
	// MainRAMSize is the size, in bytes, of the main 64KiB RAM region.
	MainRAMSize = 0x10000
	// LangCardSize is the size, in bytes, of the language-card RAM
	// region: two 4KiB alternate banks plus one 8KiB fixed bank.
	LangCardSize = 0x4000
	// SinkSize is the size, in bytes, of the write-sink region that
	// absorbs writes to ROM-mapped addresses.
	SinkSize = 0x0800

	// PhysicalSize is the total size of the physical memory pool (82KiB).
	PhysicalSize = MainRAMSize + LangCardSize + SinkSize

	// MainRAMBase, LangCardBase and SinkBase are the physical byte
	// offsets at which each region begins.
	MainRAMBase  = 0
	LangCardBase = MainRAMSize
	SinkBase     = MainRAMSize + LangCardSize

	// BankSize is the size, in bytes, of a single projection window.
	BankSize = 0x800
	// NumBanks is the number of 2KiB windows spanning the 16-bit
	// address space (65536 / 2048).
	NumBanks = 0x10000 / BankSize
)

// Language-card bank layout within LangCardBase, used by hostshims to
// compute the offsets passed to SetBankMapping.
const (
	LCBank1Offset = LangCardBase          // 4KiB alternate bank 1 ($D000-$DFFF)
	LCBank2Offset = LangCardBase + 0x1000 // 4KiB alternate bank 2 ($D000-$DFFF)
	LCFixedOffset = LangCardBase + 0x2000 // 8KiB fixed bank ($E000-$FFFF)
)

// ReadHandler services a trapped read. It returns the value to use
// and whether it actually handled the access; if handled is false the
// normal bank projection runs instead.
type ReadHandler func(addr uint16) (value uint8, handled bool)

// WriteHandler services a trapped write. If it returns false, the
// normal bank projection runs instead (and the byte is written
// through the bank table).
type WriteHandler func(addr uint16, value uint8) (handled bool)

type trapRange struct {
	start, end uint16
	name       string
	read       ReadHandler
	write      WriteHandler
}

// Bus owns the physical memory pool, the read/write bank tables that
// project the 16-bit address space onto it, and the ordered trap
// registries for reads and writes.
type Bus struct {
	pool []byte

	readOffsets  [NumBanks]int
	writeOffsets [NumBanks]int

	readTraps  []trapRange
	writeTraps []trapRange
}

// New constructs a Bus with the power-on bank map described in
// spec.md §4.1: $0000-$CFFF routes reads and writes to main RAM at
// equal offset; $D000-$FFFF reads from main RAM (where ROM is loaded)
// and writes are absorbed by the sink.
func New() *Bus {
	b := &Bus{pool: make([]byte, PhysicalSize)}
	for bank := 0; bank < NumBanks; bank++ {
		addr := uint16(bank * BankSize)
		b.readOffsets[bank] = MainRAMBase + int(addr)
		if addr < 0xD000 {
			b.writeOffsets[bank] = MainRAMBase + int(addr)
		} else {
			b.writeOffsets[bank] = SinkBase
		}
	}
	return b
}

// SetBankMapping rewrites the read and write physical offsets for a
// single 2KiB bank. Out-of-range bank indices are silently ignored —
// this is a documented limitation, matching spec.md §4.1.
func (b *Bus) SetBankMapping(bank int, readOffset, writeOffset int) {
	if bank < 0 || bank >= NumBanks {
		return
	}
	b.readOffsets[bank] = readOffset
	b.writeOffsets[bank] = writeOffset
}

// AddReadTrap registers a read-trap handler for [start, end] (inclusive).
// Ranges may overlap; the first installed handler whose range contains
// the address wins, and installation order is never reshuffled.
func (b *Bus) AddReadTrap(start, end uint16, name string, h ReadHandler) {
	b.readTraps = append(b.readTraps, trapRange{start: start, end: end, name: name, read: h})
}

// AddWriteTrap registers a write-trap handler for [start, end] (inclusive).
func (b *Bus) AddWriteTrap(start, end uint16, name string, h WriteHandler) {
	b.writeTraps = append(b.writeTraps, trapRange{start: start, end: end, name: name, write: h})
}

// ClearTraps removes every registered read and write trap, leaving a
// bare bus.
func (b *Bus) ClearTraps() {
	b.readTraps = nil
	b.writeTraps = nil
}

func (b *Bus) project(addr uint16, offsets *[NumBanks]int) int {
	bank := addr >> 11
	offset := addr & 0x7FF
	return offsets[bank] + int(offset)
}

// Read returns the byte visible at addr, running any matching read
// trap first and falling back to the bank projection.
func (b *Bus) Read(addr uint16) uint8 {
	for _, t := range b.readTraps {
		if addr < t.start || addr > t.end {
			continue
		}
		if v, handled := t.read(addr); handled {
			return v
		}
		break
	}
	return b.pool[b.project(addr, &b.readOffsets)]
}

// Write stores val at addr, running any matching write trap first; a
// trap that reports handled=true absorbs the write entirely.
func (b *Bus) Write(addr uint16, val uint8) {
	for _, t := range b.writeTraps {
		if addr < t.start || addr > t.end {
			continue
		}
		if t.write(addr, val) {
			return
		}
		break
	}
	b.pool[b.project(addr, &b.writeOffsets)] = val
}

// ReadWord reads a little-endian 16-bit word. It does not emulate the
// page-wrap bug; that is the CPU's responsibility for JMP (indirect).
func (b *Bus) ReadWord(addr uint16) uint16 {
	lo := uint16(b.Read(addr))
	hi := uint16(b.Read(addr + 1))
	return lo | hi<<8
}

// WriteWord writes a little-endian 16-bit word.
func (b *Bus) WriteWord(addr uint16, val uint16) {
	b.Write(addr, uint8(val))
	b.Write(addr+1, uint8(val>>8))
}

// InitializeMemory bypasses bank switching and traps, writing
// directly into main RAM at the same physical offset as addr. This is
// intended for loading the ROM image before execution begins.
func (b *Bus) InitializeMemory(addr uint16, data []byte) bool {
	if int(addr)+len(data) > MainRAMSize {
		return false
	}
	copy(b.pool[MainRAMBase+int(addr):], data)
	return true
}

// WriteBinaryData writes data through the bank projection (so it
// lands wherever the current bank map says addr's writes go) but
// bypasses traps. Intended for loading a guest program at runtime.
func (b *Bus) WriteBinaryData(addr uint16, data []byte) bool {
	if int(addr)+len(data) > 0x10000 {
		return false
	}
	for i, v := range data {
		b.pool[b.project(addr+uint16(i), &b.writeOffsets)] = v
	}
	return true
}

// SnapshotLogical renders the full 64KiB logical address space as the
// CPU currently sees it, applying the present bank projection. Used
// for the memory dump on halt (spec.md §6.3).
func (b *Bus) SnapshotLogical() []byte {
	out := make([]byte, 0x10000)
	for bank := 0; bank < NumBanks; bank++ {
		off := b.readOffsets[bank]
		copy(out[bank*BankSize:(bank+1)*BankSize], b.pool[off:off+BankSize])
	}
	return out
}

// ReadOffset exposes the current physical read offset backing a bank,
// for diagnostics (trap statistics, language-card tests).
func (b *Bus) ReadOffset(bank int) int { return b.readOffsets[bank] }

// WriteOffset exposes the current physical write offset backing a bank.
func (b *Bus) WriteOffset(bank int) int { return b.writeOffsets[bank] }

// String renders the bank map for debugging.
func (b *Bus) String() string {
	return fmt.Sprintf("Bus{pool=%dB, banks=%d}", len(b.pool), NumBanks)
}
