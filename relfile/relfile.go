// Package relfile implements the bit-exact REL object container
// (spec.md §6.2): a length-prefixed code image followed by a
// relocation dictionary (RLD) and an external/entry symbol dictionary
// (ESD), each a run of fixed- or variable-length records terminated
// by a single zero byte.
package relfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// RLDFlag classifies one relocation dictionary record.
type RLDFlag uint8

const (
	RLDAbsolute RLDFlag = 0x00
	RLDRelative RLDFlag = 0x01
	RLDExternal RLDFlag = 0x02
)

// RLDEntry is one relocation dictionary record.
type RLDEntry struct {
	Flags        RLDFlag
	Address      uint16
	SymbolNumber uint8
}

// ESDFlag bits are OR-able; they mirror symboltable.Flag but travel
// in the serialized container independent of that package.
type ESDFlag uint8

const (
	ESDUndefined    ESDFlag = 0x80
	ESDUnreferenced ESDFlag = 0x40
	ESDRelative     ESDFlag = 0x20
	ESDExternal     ESDFlag = 0x10
	ESDEntryFlag    ESDFlag = 0x08
	ESDMacro        ESDFlag = 0x04
	ESDNoSuchLabel  ESDFlag = 0x02
	ESDForwardRef   ESDFlag = 0x01
)

// ESDEntry is one external/entry symbol dictionary record.
type ESDEntry struct {
	Flags        ESDFlag
	Address      uint16
	Name         string // p-string, <= 255 bytes
	SymbolNumber uint8
}

// Container is one REL module: a code image plus its RLD and ESD.
type Container struct {
	Code []byte
	RLD  []RLDEntry
	ESD  []ESDEntry
}

// Encode serializes c per spec.md §6.2. It refuses to emit an
// absolute-flagged RLD record: the format can't distinguish one from
// the RLD terminator, so the spec requires writers never produce one.
func Encode(c Container) ([]byte, error) {
	var buf bytes.Buffer

	if len(c.Code) > 0xFFFF {
		return nil, fmt.Errorf("relfile: code image too large (%d bytes)", len(c.Code))
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(c.Code)))
	buf.Write(lenBuf[:])
	buf.Write(c.Code)

	for _, r := range c.RLD {
		if r.Flags == RLDAbsolute {
			return nil, fmt.Errorf("relfile: refusing to emit an absolute RLD record (indistinguishable from the terminator)")
		}
		buf.WriteByte(uint8(r.Flags))
		buf.WriteByte(uint8(r.Address))
		buf.WriteByte(uint8(r.Address >> 8))
		buf.WriteByte(r.SymbolNumber)
	}
	buf.WriteByte(0x00)

	for _, e := range c.ESD {
		if len(e.Name) > 255 {
			return nil, fmt.Errorf("relfile: ESD name %q exceeds 255 bytes", e.Name)
		}
		buf.WriteByte(uint8(e.Flags))
		buf.WriteByte(uint8(e.Address))
		buf.WriteByte(uint8(e.Address >> 8))
		buf.WriteByte(uint8(len(e.Name)))
		buf.WriteString(e.Name)
	}
	buf.WriteByte(0x00)

	return buf.Bytes(), nil
}

// Decode parses a REL container back out of data.
func Decode(data []byte) (Container, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	var c Container

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Container{}, fmt.Errorf("relfile: reading code length: %w", err)
	}
	codeLen := binary.LittleEndian.Uint16(lenBuf[:])
	c.Code = make([]byte, codeLen)
	if _, err := io.ReadFull(r, c.Code); err != nil {
		return Container{}, fmt.Errorf("relfile: reading code image: %w", err)
	}

	for {
		flags, err := r.ReadByte()
		if err != nil {
			return Container{}, fmt.Errorf("relfile: reading RLD: %w", err)
		}
		if flags == 0x00 {
			break
		}
		var rest [3]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return Container{}, fmt.Errorf("relfile: truncated RLD record: %w", err)
		}
		c.RLD = append(c.RLD, RLDEntry{
			Flags:        RLDFlag(flags),
			Address:      uint16(rest[0]) | uint16(rest[1])<<8,
			SymbolNumber: rest[2],
		})
	}

	for {
		flags, err := r.ReadByte()
		if err != nil {
			return Container{}, fmt.Errorf("relfile: reading ESD: %w", err)
		}
		if flags == 0x00 {
			break
		}
		var rest [3]byte
		if _, err := io.ReadFull(r, rest[:]); err != nil {
			return Container{}, fmt.Errorf("relfile: truncated ESD header: %w", err)
		}
		nameLen := rest[2]
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return Container{}, fmt.Errorf("relfile: truncated ESD name: %w", err)
		}
		c.ESD = append(c.ESD, ESDEntry{
			Flags:        ESDFlag(flags),
			Address:      uint16(rest[0]) | uint16(rest[1])<<8,
			Name:         string(name),
			SymbolNumber: uint8(len(c.ESD)),
		})
	}

	return c, nil
}
