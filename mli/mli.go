// Package mli implements the ProDOS Machine Language Interface shim: a
// descriptor-driven dispatcher that marshals a guest program's JSR
// $BF00 call into a host filesystem operation and marshals the result
// back through the same parameter list. It is installed as a single
// address trap (traps.Manager.InstallAddressHandler(0xBF00, ...)),
// playing the same role for file I/O that hostshims plays for the
// soft-switch I/O space: a descriptor table that knows the shape of
// every supported access, plus a fallback that halts on anything it
// doesn't recognize.
package mli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edasm-host/edasm/bus"
	"github.com/edasm-host/edasm/cpu"
	"github.com/edasm-host/edasm/traps"
)

// ParamType is the closed set of MLI parameter encodings.
type ParamType int

const (
	Byte ParamType = iota
	Word
	ThreeByteType
	PathnamePtr
	BufferPtr
	RefNum
)

// ParamDirection describes which side of the call populates a parameter.
type ParamDirection int

const (
	Input ParamDirection = iota
	Output
	InputOutput
)

// ParamDescriptor documents one parameter of an MLI call, for
// marshalling and for diagnostics.
type ParamDescriptor struct {
	Type      ParamType
	Direction ParamDirection
	Name      string
}

// Value is a marshalled parameter: a small tagged union over the
// value shapes MLI calls pass (byte, word, 24-bit, pathname string;
// buffer pointers travel as their raw Word address).
type Value struct {
	kind ParamType
	n    uint32
	s    string
}

func ByteValue(v uint8) Value       { return Value{kind: Byte, n: uint32(v)} }
func WordValue(v uint16) Value      { return Value{kind: Word, n: uint32(v)} }
func ThreeByteValue(v uint32) Value { return Value{kind: ThreeByteType, n: v & 0xFFFFFF} }
func StringValue(v string) Value    { return Value{kind: PathnamePtr, s: v} }

func (v Value) Byte() uint8       { return uint8(v.n) }
func (v Value) Word() uint16      { return uint16(v.n) }
func (v Value) ThreeByte() uint32 { return v.n }
func (v Value) String() string    { return v.s }

// HandlerFunc implements one MLI call. inputs holds one Value per
// descriptor parameter, positionally: INPUT/INPUT_OUTPUT parameters
// carry their dereferenced value, OUTPUT pointer parameters carry the
// pointer itself, and OUTPUT value parameters carry a zero
// placeholder. outputs holds one Value per non-pointer OUTPUT or
// INPUT_OUTPUT parameter, in descriptor order; pointer-typed outputs
// are written directly through the bus inside the handler and are
// never present in outputs.
type HandlerFunc func(s *Shim, inputs []Value) ([]Value, Error)

// CallDescriptor documents one MLI call number. Handler is nil for
// calls that are recognized but not implemented: they always resolve
// to BadCallNumber without halting the emulator.
type CallDescriptor struct {
	Number  uint8
	Name    string
	Params  []ParamDescriptor
	Handler HandlerFunc
}

// Error is the closed set of ProDOS 8 error codes this shim produces,
// one byte each, matching the real system's values exactly so guest
// code that branches on them behaves identically.
type Error uint8

const (
	NoError            Error = 0x00
	BadCallNumber      Error = 0x01
	BadParamCount      Error = 0x04
	IOError            Error = 0x27
	WriteProtected     Error = 0x2B
	InvalidPathSyntax  Error = 0x40
	FCBFull            Error = 0x42
	InvalidRefNum      Error = 0x43
	PathNotFound       Error = 0x44
	FileNotFound       Error = 0x46
	DuplicateFile      Error = 0x47
	DiskFull           Error = 0x48
	EndOfFile          Error = 0x4C
	PositionOutOfRange Error = 0x4D
	AccessError        Error = 0x4E
	BadBufferAddr      Error = 0x56
)

const maxOpenFiles = 16 // ref_num 1-15; slot 0 unused

type fileEntry struct {
	file     *os.File
	hostPath string
	mark     uint32
	size     uint32
}

// Shim owns the open-file table and the descriptor table, and is the
// trap handler installed at $BF00.
type Shim struct {
	bus   *bus.Bus
	stats *traps.Manager
	out   io.Writer

	descriptors map[uint8]CallDescriptor
	files       [maxOpenFiles]*fileEntry
}

// New constructs a Shim. stats may be nil if call statistics aren't
// wanted.
func New(b *bus.Bus, stats *traps.Manager, w io.Writer) *Shim {
	s := &Shim{bus: b, stats: stats, out: w}
	s.descriptors = s.buildDescriptors()
	return s
}

// TrapHandler is installed at $BF00 via
// traps.Manager.InstallAddressHandler. It decodes the inline
// {call_number, param_list_lo, param_list_hi} triple left on the stack
// by the calling JSR, dispatches to the matching descriptor, and
// resumes execution past the inline arguments.
func (s *Shim) TrapHandler(c *cpu.Cpu, b *bus.Bus, pc uint16) bool {
	const stackPage = 0x0100
	lo := b.Read(stackPage | uint16(c.SP+1))
	hi := b.Read(stackPage | uint16(c.SP+2))
	retAddr := uint16(lo) | uint16(hi)<<8
	c.SP += 2

	callNum := b.Read(retAddr + 1)
	paramListAddr := uint16(b.Read(retAddr+2)) | uint16(b.Read(retAddr+3))<<8
	c.PC = retAddr + 1 + 3

	desc, ok := s.descriptors[callNum]
	if !ok {
		fmt.Fprintf(s.out, "[mli] unknown MLI call number $%02X - halting\n", callNum)
		slog.Default().Error("unhandled MLI call", "call_number", fmt.Sprintf("$%02X", callNum), "pc", fmt.Sprintf("$%04X", pc))
		if s.stats != nil {
			s.stats.RecordMLICall("unknown", fmt.Sprintf("$%02X", callNum), pc)
		}
		return false
	}

	if s.stats != nil {
		s.stats.RecordMLICall(desc.Name, desc.Name, pc)
	}

	if desc.Handler == nil {
		s.setResult(c, BadCallNumber)
		return true
	}

	inputs := s.readParams(paramListAddr, desc)
	outputs, errCode := desc.Handler(s, inputs)
	s.writeParams(paramListAddr, desc, outputs)
	s.setResult(c, errCode)
	return true
}

func (s *Shim) setResult(c *cpu.Cpu, err Error) {
	c.A = uint8(err)
	if err == NoError {
		c.P &^= cpu.FlagC
	} else {
		c.P |= cpu.FlagC
	}
}

func (s *Shim) readParams(paramListAddr uint16, desc CallDescriptor) []Value {
	offset := paramListAddr + 1 // leading byte is the caller's param count
	inputs := make([]Value, len(desc.Params))

	for i, p := range desc.Params {
		switch p.Type {
		case Byte, RefNum:
			var v uint8
			if p.Direction != Output {
				v = s.bus.Read(offset)
			}
			inputs[i] = ByteValue(v)
			offset++
		case Word:
			var v uint16
			if p.Direction != Output {
				v = s.bus.ReadWord(offset)
			}
			inputs[i] = WordValue(v)
			offset += 2
		case ThreeByteType:
			var v uint32
			if p.Direction != Output {
				lo := uint32(s.bus.Read(offset))
				mid := uint32(s.bus.Read(offset + 1))
				hi := uint32(s.bus.Read(offset + 2))
				v = lo | mid<<8 | hi<<16
			}
			inputs[i] = ThreeByteValue(v)
			offset += 3
		case PathnamePtr:
			ptr := s.bus.ReadWord(offset)
			inputs[i] = StringValue(s.readPathname(ptr))
			offset += 2
		case BufferPtr:
			// Buffer pointers never get auto-dereferenced: the
			// handler reads or writes the pointed-to bytes itself,
			// using a separate count parameter to know how many.
			ptr := s.bus.ReadWord(offset)
			inputs[i] = WordValue(ptr)
			offset += 2
		}
	}
	return inputs
}

func (s *Shim) writeParams(paramListAddr uint16, desc CallDescriptor, outputs []Value) {
	offset := paramListAddr + 1
	oi := 0
	for _, p := range desc.Params {
		switch p.Type {
		case Byte, RefNum:
			if p.Direction != Input && oi < len(outputs) {
				s.bus.Write(offset, outputs[oi].Byte())
				oi++
			}
			offset++
		case Word:
			if p.Direction != Input && oi < len(outputs) {
				s.bus.WriteWord(offset, outputs[oi].Word())
				oi++
			}
			offset += 2
		case ThreeByteType:
			if p.Direction != Input && oi < len(outputs) {
				v := outputs[oi].ThreeByte()
				oi++
				s.bus.Write(offset, uint8(v))
				s.bus.Write(offset+1, uint8(v>>8))
				s.bus.Write(offset+2, uint8(v>>16))
			}
			offset += 3
		case PathnamePtr, BufferPtr:
			// Pointer-typed outputs are written through the pointer
			// directly by the handler; nothing to copy back here.
			offset += 2
		}
	}
}

func (s *Shim) readPathname(ptr uint16) string {
	length := s.bus.Read(ptr)
	if length > 64 {
		length = 64
	}
	buf := make([]byte, length)
	for i := 0; i < int(length); i++ {
		buf[i] = s.bus.Read(ptr+1+uint16(i)) & 0x7F
	}
	return string(buf)
}

// prodosPathToHost implements the 1:1 path mapping: an absolute
// ProDOS path maps to the same absolute host path; a relative path
// resolves against the host working directory.
func prodosPathToHost(path string) string {
	clean := strings.TrimLeft(path, "/")
	if strings.HasPrefix(path, "/") {
		return filepath.Join("/", clean)
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}
	return filepath.Join(cwd, clean)
}

func (s *Shim) allocRef() int {
	for i := 1; i < len(s.files); i++ {
		if s.files[i] == nil {
			return i
		}
	}
	return -1
}

func (s *Shim) lookupRef(ref uint8) *fileEntry {
	if ref == 0 || int(ref) >= len(s.files) {
		return nil
	}
	return s.files[ref]
}

var prodosTypeByExtension = map[string]uint8{
	".txt": 0x04,
	".bin": 0x06,
	".rel": 0xFE,
	".sys": 0xFF,
	".asm": 0x04,
}

func prodosTypeFromExtension(ext string) uint8 {
	if t, ok := prodosTypeByExtension[strings.ToLower(ext)]; ok {
		return t
	}
	return 0x00 // TYP_NON
}

func (s *Shim) buildDescriptors() map[uint8]CallDescriptor {
	all := []CallDescriptor{
		{0x40, "ALLOC_INTERRUPT", nil, nil},
		{0x41, "DEALLOC_INTERRUPT", nil, nil},
		{0x65, "QUIT", []ParamDescriptor{
			{Byte, Input, "quit_type"}, {Word, Input, "reserved1"},
			{Byte, Input, "reserved2"}, {Word, Input, "reserved3"},
		}, nil},
		{0x80, "READ_BLOCK", []ParamDescriptor{
			{Byte, Input, "unit_num"}, {BufferPtr, Input, "data_buffer"}, {Word, Input, "block_num"},
		}, nil},
		{0x81, "WRITE_BLOCK", []ParamDescriptor{
			{Byte, Input, "unit_num"}, {BufferPtr, Input, "data_buffer"}, {Word, Input, "block_num"},
		}, nil},
		{0x82, "GET_TIME", nil, handleGetTime},
		{0xC0, "CREATE", []ParamDescriptor{
			{PathnamePtr, Input, "pathname"}, {Byte, Input, "access"}, {Byte, Input, "file_type"},
			{Word, Input, "aux_type"}, {Byte, Input, "storage_type"}, {Word, Input, "create_date"},
			{Word, Input, "create_time"},
		}, nil},
		{0xC1, "DESTROY", []ParamDescriptor{{PathnamePtr, Input, "pathname"}}, nil},
		{0xC2, "RENAME", []ParamDescriptor{
			{PathnamePtr, Input, "pathname"}, {PathnamePtr, Input, "new_pathname"},
		}, nil},
		{0xC3, "SET_FILE_INFO", []ParamDescriptor{
			{PathnamePtr, Input, "pathname"}, {Byte, Input, "access"}, {Byte, Input, "file_type"},
			{Word, Input, "aux_type"}, {Byte, Input, "reserved1"}, {Word, Input, "mod_date"},
			{Word, Input, "mod_time"},
		}, nil},
		{0xC4, "GET_FILE_INFO", []ParamDescriptor{
			{PathnamePtr, Input, "pathname"},
			{Byte, Output, "access"}, {Byte, Output, "file_type"}, {Word, Output, "aux_type"},
			{Byte, Output, "storage_type"}, {Word, Output, "blocks_used"}, {Word, Output, "mod_date"},
			{Word, Output, "mod_time"}, {Word, Output, "create_date"}, {Word, Output, "create_time"},
			{ThreeByteType, Output, "eof"},
		}, handleGetFileInfo},
		{0xC5, "ONLINE", []ParamDescriptor{
			{Byte, Input, "unit_num"}, {BufferPtr, InputOutput, "data_buffer"},
		}, nil},
		{0xC6, "SET_PREFIX", []ParamDescriptor{{PathnamePtr, Input, "pathname"}}, handleSetPrefix},
		{0xC7, "GET_PREFIX", []ParamDescriptor{{BufferPtr, Output, "data_buffer"}}, handleGetPrefix},
		{0xC8, "OPEN", []ParamDescriptor{
			{PathnamePtr, Input, "pathname"}, {BufferPtr, Input, "io_buffer"}, {RefNum, Output, "ref_num"},
		}, handleOpen},
		{0xC9, "NEWLINE", []ParamDescriptor{
			{RefNum, Input, "ref_num"}, {Byte, Input, "enable_mask"}, {Byte, Input, "newline_char"},
		}, nil},
		{0xCA, "READ", []ParamDescriptor{
			{RefNum, Input, "ref_num"}, {BufferPtr, InputOutput, "data_buffer"},
			{Word, Input, "request_count"}, {Word, Output, "transfer_count"},
		}, handleRead},
		{0xCB, "WRITE", []ParamDescriptor{
			{RefNum, Input, "ref_num"}, {BufferPtr, Input, "data_buffer"},
			{Word, Input, "request_count"}, {Word, Output, "transfer_count"},
		}, handleWrite},
		{0xCC, "CLOSE", []ParamDescriptor{{RefNum, Input, "ref_num"}}, handleClose},
		{0xCD, "FLUSH", []ParamDescriptor{{RefNum, Input, "ref_num"}}, handleFlush},
		{0xCE, "SET_MARK", []ParamDescriptor{
			{RefNum, Input, "ref_num"}, {ThreeByteType, Input, "position"},
		}, handleSetMark},
		{0xCF, "GET_MARK", []ParamDescriptor{
			{RefNum, Input, "ref_num"}, {ThreeByteType, Output, "position"},
		}, handleGetMark},
		{0xD0, "SET_EOF", []ParamDescriptor{
			{RefNum, Input, "ref_num"}, {ThreeByteType, Input, "eof"},
		}, nil},
		{0xD1, "GET_EOF", []ParamDescriptor{
			{RefNum, Input, "ref_num"}, {ThreeByteType, Output, "eof"},
		}, handleGetEOF},
		{0xD2, "SET_BUF", []ParamDescriptor{
			{RefNum, Input, "ref_num"}, {Word, Input, "buffer_addr"},
		}, nil},
		{0xD3, "GET_BUF", []ParamDescriptor{
			{RefNum, Input, "ref_num"}, {Word, Output, "buffer_addr"},
		}, nil},
	}

	out := make(map[uint8]CallDescriptor, len(all))
	for _, d := range all {
		out[d.Number] = d
	}
	return out
}

func handleGetTime(s *Shim, inputs []Value) ([]Value, Error) {
	now := time.Now()
	year := uint8(now.Year() - 1900)
	month := uint8(now.Month())
	day := uint8(now.Day())
	hour := uint8(now.Hour())
	minute := uint8(now.Minute())

	bf91 := (year << 1) | ((month >> 3) & 0x01)
	bf90 := ((month & 0x07) << 5) | (day & 0x1F)

	s.bus.Write(0xBF90, bf90)
	s.bus.Write(0xBF91, bf91)
	s.bus.Write(0xBF92, minute)
	s.bus.Write(0xBF93, hour)
	return nil, NoError
}

func handleSetPrefix(s *Shim, inputs []Value) ([]Value, Error) {
	path := inputs[0].String()
	if path == "" {
		path = "/"
	}
	hostPath := prodosPathToHost(path)
	info, err := os.Stat(hostPath)
	if err != nil || !info.IsDir() {
		return nil, PathNotFound
	}
	if err := os.Chdir(hostPath); err != nil {
		return nil, IOError
	}
	return nil, NoError
}

func handleGetPrefix(s *Shim, inputs []Value) ([]Value, Error) {
	bufPtr := inputs[0].Word()
	cwd, err := os.Getwd()
	if err != nil {
		return nil, IOError
	}
	prefix := cwd
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if len(prefix) > 64 {
		return nil, InvalidPathSyntax
	}
	s.bus.Write(bufPtr, uint8(len(prefix)))
	for i := 0; i < len(prefix); i++ {
		s.bus.Write(bufPtr+1+uint16(i), prefix[i]&0x7F)
	}
	return nil, NoError
}

func handleOpen(s *Shim, inputs []Value) ([]Value, Error) {
	hostPath := prodosPathToHost(inputs[0].String())

	ref := s.allocRef()
	if ref < 0 {
		return nil, FCBFull
	}

	f, err := os.OpenFile(hostPath, os.O_RDWR, 0)
	if err != nil {
		f, err = os.OpenFile(hostPath, os.O_RDONLY, 0)
	}
	if err != nil {
		return nil, FileNotFound
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, IOError
	}

	s.files[ref] = &fileEntry{file: f, hostPath: hostPath, size: uint32(info.Size())}
	return []Value{ByteValue(uint8(ref))}, NoError
}

func handleRead(s *Shim, inputs []Value) ([]Value, Error) {
	ref := inputs[0].Byte()
	dataBuffer := inputs[1].Word()
	requestCount := inputs[2].Word()

	entry := s.lookupRef(ref)
	if entry == nil {
		return []Value{WordValue(0)}, InvalidRefNum
	}
	if int(dataBuffer)+int(requestCount) > 0x10000 {
		return []Value{WordValue(0)}, BadBufferAddr
	}
	if _, err := entry.file.Seek(int64(entry.mark), io.SeekStart); err != nil {
		return []Value{WordValue(0)}, IOError
	}

	toRead := requestCount
	available := entry.size - entry.mark
	if uint32(toRead) > available {
		toRead = uint16(available)
	}

	var actual uint16
	if toRead > 0 {
		buf := make([]byte, toRead)
		n, _ := entry.file.Read(buf)
		actual = uint16(n)
		for i := 0; i < int(actual); i++ {
			s.bus.Write(dataBuffer+uint16(i), buf[i])
		}
		entry.mark += uint32(actual)
	}

	if actual == 0 && requestCount > 0 {
		return []Value{WordValue(actual)}, EndOfFile
	}
	return []Value{WordValue(actual)}, NoError
}

func handleWrite(s *Shim, inputs []Value) ([]Value, Error) {
	ref := inputs[0].Byte()
	dataBuffer := inputs[1].Word()
	requestCount := inputs[2].Word()

	entry := s.lookupRef(ref)
	if entry == nil {
		return []Value{WordValue(0)}, InvalidRefNum
	}
	if int(dataBuffer)+int(requestCount) > 0x10000 {
		return []Value{WordValue(0)}, BadBufferAddr
	}
	if _, err := entry.file.Seek(int64(entry.mark), io.SeekStart); err != nil {
		return []Value{WordValue(0)}, IOError
	}

	buf := make([]byte, requestCount)
	for i := range buf {
		buf[i] = s.bus.Read(dataBuffer + uint16(i))
	}
	n, _ := entry.file.Write(buf)
	actual := uint16(n)
	entry.mark += uint32(actual)
	if entry.mark > entry.size {
		entry.size = entry.mark
	}

	if actual < requestCount {
		return []Value{WordValue(actual)}, DiskFull
	}
	return []Value{WordValue(actual)}, NoError
}

func handleClose(s *Shim, inputs []Value) ([]Value, Error) {
	ref := inputs[0].Byte()
	if ref == 0 {
		for i := 1; i < len(s.files); i++ {
			if s.files[i] != nil {
				s.files[i].file.Close()
				s.files[i] = nil
			}
		}
		return nil, NoError
	}
	entry := s.lookupRef(ref)
	if entry == nil {
		return nil, InvalidRefNum
	}
	entry.file.Close()
	s.files[ref] = nil
	return nil, NoError
}

func handleFlush(s *Shim, inputs []Value) ([]Value, Error) {
	ref := inputs[0].Byte()
	if ref == 0 {
		for _, e := range s.files {
			if e != nil {
				e.file.Sync()
			}
		}
		return nil, NoError
	}
	entry := s.lookupRef(ref)
	if entry == nil {
		return nil, InvalidRefNum
	}
	entry.file.Sync()
	return nil, NoError
}

func handleSetMark(s *Shim, inputs []Value) ([]Value, Error) {
	entry := s.lookupRef(inputs[0].Byte())
	if entry == nil {
		return nil, InvalidRefNum
	}
	pos := inputs[1].ThreeByte()
	if pos > entry.size {
		pos = entry.size
	}
	entry.mark = pos
	return nil, NoError
}

func handleGetMark(s *Shim, inputs []Value) ([]Value, Error) {
	entry := s.lookupRef(inputs[0].Byte())
	if entry == nil {
		return []Value{ThreeByteValue(0)}, InvalidRefNum
	}
	return []Value{ThreeByteValue(entry.mark)}, NoError
}

func handleGetEOF(s *Shim, inputs []Value) ([]Value, Error) {
	entry := s.lookupRef(inputs[0].Byte())
	if entry == nil {
		return []Value{ThreeByteValue(0)}, InvalidRefNum
	}
	return []Value{ThreeByteValue(entry.size)}, NoError
}

func handleGetFileInfo(s *Shim, inputs []Value) ([]Value, Error) {
	hostPath := prodosPathToHost(inputs[0].String())
	info, err := os.Stat(hostPath)
	if err != nil {
		return []Value{
			ByteValue(0), ByteValue(0), WordValue(0), ByteValue(0), WordValue(0),
			WordValue(0), WordValue(0), WordValue(0), WordValue(0), ThreeByteValue(0),
		}, FileNotFound
	}

	size := uint32(info.Size())
	blocks := uint16((size + 511) / 512)
	fileType := prodosTypeFromExtension(filepath.Ext(hostPath))

	return []Value{
		ByteValue(0xC3), ByteValue(fileType), WordValue(0), ByteValue(0x01), WordValue(blocks),
		WordValue(0), WordValue(0), WordValue(0), WordValue(0), ThreeByteValue(size),
	}, NoError
}
