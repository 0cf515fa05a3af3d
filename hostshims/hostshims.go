// Package hostshims implements the Apple II soft-switch state machine:
// keyboard strobe/data latch, graphics mode flags, the language-card
// bank-switching quirk, and the text-screen watcher that renders
// $0400-$07FF to the host console. It plays the role the teacher's
// console.Bus I/O-register dispatch (ppu_register.go) plays for the
// NES: address-ranged side effects layered on top of the plain memory
// projection, here driven through bus.AddReadTrap/AddWriteTrap instead
// of a bespoke switch in Bus.Read/Write.
package hostshims

import (
	"fmt"
	"io"

	"github.com/edasm-host/edasm/bus"
	"github.com/edasm-host/edasm/traps"
)

const (
	kbdData  = 0xC000
	kbdStrb  = 0xC010
	textPage1Base = 0x0400
	textPage2Base = 0x0800
)

// HostShims owns every piece of state a legacy Apple II binary expects
// to find behind the $C000-$C7FF I/O window and the $0400-$07FF text
// page, plus the host-visible side effects (console rendering, memory
// dump, stop request) those accesses can trigger.
type HostShims struct {
	bus   *bus.Bus
	out   io.Writer
	stats *traps.Manager

	screenDirty bool
	kbdByte     uint8
	kbdStrobe   bool

	pendingLines []string
	currentLine  string
	currentPos   int

	textMode  bool
	mixedMode bool
	page2     bool
	hires     bool

	lcBankSelect      bool // false = bank 1, true = bank 2
	lcLastFamily      int  // 0-3, selects read source / write gating per spec.md §4.4
	lcWriteEnabled    bool
	lcPrevTriggerAddr uint16
	lcConsecutiveReads int

	stopRequested bool
}

// New constructs a HostShims that logs to w and, if stats is non-nil,
// records unhandled-access statistics and memory dumps through it.
func New(w io.Writer, stats *traps.Manager) *HostShims {
	return &HostShims{
		out:      w,
		stats:    stats,
		textMode: true,
	}
}

// InstallIOTraps wires the full I/O space and the text page into b.
// Call once, before execution begins.
func (h *HostShims) InstallIOTraps(b *bus.Bus) {
	h.bus = b

	b.AddReadTrap(0xC000, 0xC7FF, "io", func(addr uint16) (uint8, bool) {
		return h.handleIORead(addr), true
	})
	b.AddWriteTrap(0xC000, 0xC7FF, "io", func(addr uint16, value uint8) bool {
		return h.handleIOWrite(addr, value)
	})
	b.AddWriteTrap(0x0400, 0x07FF, "text-screen", func(addr uint16, value uint8) bool {
		return h.handleTextPageWrite(addr, value)
	})
}

// QueueInputLine appends a line of keyboard input; a trailing carriage
// return is added when the line is consumed, matching the Apple II
// convention that Enter terminates a line of typed input.
func (h *HostShims) QueueInputLine(line string) {
	h.pendingLines = append(h.pendingLines, line)
}

// QueueInputLines queues several lines in order.
func (h *HostShims) QueueInputLines(lines []string) {
	h.pendingLines = append(h.pendingLines, lines...)
}

// ShouldStop reports whether a sentinel condition (the 'E' screen
// write or an unimplemented I/O access) has requested emulator halt.
func (h *HostShims) ShouldStop() bool { return h.stopRequested }

func (h *HostShims) hasQueuedInput() bool {
	return len(h.pendingLines) > 0 || h.currentPos < len(h.currentLine)
}

func (h *HostShims) nextChar() byte {
	if h.currentPos >= len(h.currentLine) {
		if len(h.pendingLines) == 0 {
			return 0
		}
		h.currentLine = h.pendingLines[0] + "\r"
		h.pendingLines = h.pendingLines[1:]
		h.currentPos = 0
	}
	ch := h.currentLine[h.currentPos]
	h.currentPos++
	return ch
}

func (h *HostShims) handleIORead(addr uint16) uint8 {
	switch {
	case addr <= 0xC00F:
		return h.readKeyboard()
	case addr <= 0xC01F:
		if addr == kbdStrb {
			h.kbdStrobe = false
			return 0
		}
		return 0
	case addr <= 0xC02F:
		h.reportUnhandled(addr, false, 0)
		return 0
	case addr <= 0xC03F:
		return 0 // speaker toggle, no audio
	case addr <= 0xC04F:
		h.reportUnhandled(addr, false, 0)
		return 0
	case addr <= 0xC05F:
		return h.readGraphicsSwitch(addr)
	case addr <= 0xC06F:
		return 0 // paddle buttons, always "not pressed"
	case addr <= 0xC07F:
		h.reportUnhandled(addr, false, 0)
		return 0
	case addr <= 0xC08F:
		return h.languageCardAccess(addr, false)
	default:
		h.reportUnhandled(addr, false, 0)
		return 0
	}
}

func (h *HostShims) handleIOWrite(addr uint16, value uint8) bool {
	switch {
	case addr <= 0xC00F:
		h.reportUnhandled(addr, true, value)
		return true
	case addr <= 0xC01F:
		if addr == kbdStrb {
			h.kbdStrobe = false
		}
		return true
	case addr <= 0xC02F:
		h.reportUnhandled(addr, true, value)
		return true
	case addr <= 0xC03F:
		return true // speaker toggle
	case addr <= 0xC04F:
		return true
	case addr <= 0xC05F:
		h.readGraphicsSwitch(addr)
		return true
	case addr <= 0xC07F:
		h.reportUnhandled(addr, true, value)
		return true
	case addr <= 0xC08F:
		h.languageCardAccess(addr, true)
		return true
	default:
		h.reportUnhandled(addr, true, value)
		return true
	}
}

// readKeyboard implements $C000's read semantics. Despite the name it
// is also invoked from handleIORead for the whole $C000-$C00F range,
// since the game-I/O paddle strobe locations in that span alias it on
// real hardware.
func (h *HostShims) readKeyboard() uint8 {
	if h.screenDirty {
		h.renderTextScreen()
		h.screenDirty = false
	}

	if h.kbdStrobe {
		return h.kbdByte | 0x80
	}
	if h.kbdByte == 0 && h.hasQueuedInput() {
		if ch := h.nextChar(); ch != 0 {
			h.kbdByte = ch & 0x7F
			h.kbdStrobe = true
			return h.kbdByte | 0x80
		}
		return 0
	}
	return h.kbdByte
}

func (h *HostShims) readGraphicsSwitch(addr uint16) uint8 {
	switch addr {
	case 0xC050:
		h.textMode = false
	case 0xC051:
		h.textMode = true
	case 0xC052:
		h.mixedMode = false
	case 0xC053:
		h.mixedMode = true
	case 0xC054:
		h.page2 = false
	case 0xC055:
		h.page2 = true
	case 0xC056:
		h.hires = false
	case 0xC057:
		h.hires = true
	}
	// $C058-$C05F: annunciators, acknowledged and otherwise ignored.
	return 0
}

// languageCardAccess updates the double-read write-enable state
// machine and rewrites the six banks covering $D000-$FFFF to match.
// It always returns 0; real hardware's LC switches don't drive useful
// read data of their own.
func (h *HostShims) languageCardAccess(addr uint16, isWrite bool) uint8 {
	family := int(addr & 0x03)
	bankSelect := addr&0x04 != 0

	if isWrite {
		h.lcConsecutiveReads = 0
		h.lcPrevTriggerAddr = 0
	} else if family == 1 || family == 3 {
		if addr == h.lcPrevTriggerAddr {
			h.lcConsecutiveReads++
		} else {
			h.lcConsecutiveReads = 1
		}
		h.lcPrevTriggerAddr = addr
		if h.lcConsecutiveReads >= 2 {
			h.lcWriteEnabled = true
		}
	} else {
		h.lcConsecutiveReads = 0
		h.lcPrevTriggerAddr = 0
		h.lcWriteEnabled = false
	}

	h.lcBankSelect = bankSelect
	h.lcLastFamily = family
	h.rewriteLanguageCardBanks()
	return 0
}

func (h *HostShims) rewriteLanguageCardBanks() {
	if h.bus == nil {
		return
	}
	readFromROM := h.lcLastFamily == 1
	writeToRAM := (h.lcLastFamily == 1 || h.lcLastFamily == 3) && h.lcWriteEnabled

	bankBase := bus.LCBank1Offset
	if h.lcBankSelect {
		bankBase = bus.LCBank2Offset
	}

	for bank := 0xD000 / bus.BankSize; bank <= 0xFFFF/bus.BankSize; bank++ {
		addr := uint16(bank * bus.BankSize)

		var ramOffset int
		if addr < 0xE000 {
			ramOffset = bankBase + int(addr-0xD000)
		} else {
			ramOffset = bus.LCFixedOffset + int(addr-0xE000)
		}

		readOffset := int(addr)
		if !readFromROM {
			readOffset = ramOffset
		}
		writeOffset := bus.SinkBase
		if writeToRAM {
			writeOffset = ramOffset
		}
		h.bus.SetBankMapping(bank, readOffset, writeOffset)
	}
}

func (h *HostShims) handleTextPageWrite(addr uint16, value uint8) bool {
	h.screenDirty = true

	if addr == textPage1Base {
		ch := value & 0x7F
		if ch == 'E' || ch == 'e' {
			fmt.Fprintln(h.out, "\n[hostshims] first screen character set to 'E' - logging and stopping")
			h.renderTextScreen()
			h.dumpMemory()
			h.stopRequested = true
		}
	}
	return false // let the write land in the backing bank normally
}

// renderTextScreen prints the 24x40 text page using the Apple II
// interlaced row layout to h.out.
func (h *HostShims) renderTextScreen() {
	if h.bus == nil {
		return
	}
	base := uint16(textPage1Base)
	if h.page2 {
		base = textPage2Base
	}

	fmt.Fprintf(h.out, "[hostshims] text screen snapshot (page %d)\n", boolToPage(h.page2))
	for row := 0; row < 24; row++ {
		rowBase := base + uint16((row%8)*128+(row/8)*40)
		line := make([]byte, 40)
		for col := 0; col < 40; col++ {
			b := h.bus.Read(rowBase + uint16(col))
			ch := b & 0x7F
			if ch < 0x20 || ch > 0x7E {
				ch = '.'
			}
			line[col] = ch
		}
		fmt.Fprintf(h.out, "%2d: %s\n", row, line)
	}
}

func boolToPage(page2 bool) int {
	if page2 {
		return 2
	}
	return 1
}

func (h *HostShims) dumpMemory() {
	if h.stats == nil || h.bus == nil {
		return
	}
	if err := h.stats.DumpMemory(h.bus); err != nil {
		fmt.Fprintf(h.out, "[hostshims] memory dump failed: %v\n", err)
	}
}

func (h *HostShims) reportUnhandled(addr uint16, isWrite bool, value uint8) {
	kind := "READ"
	if isWrite {
		kind = "WRITE"
	}
	fmt.Fprintf(h.out, "[hostshims] unimplemented I/O %s at $%04X value=$%02X - stopping\n", kind, addr, value)
	if h.stats != nil {
		name := "io-unhandled"
		if isWrite {
			h.stats.RecordWrite(name, addr)
		} else {
			h.stats.RecordRead(name, addr)
		}
	}
	h.renderTextScreen()
	h.dumpMemory()
	h.stopRequested = true
}
