package symbols

import (
	"bytes"
	"encoding/binary"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasmonkey/errors"
)

// Format identifies the container format of a native object.
type Format int

const (
	FormatUnknown Format = iota
	FormatELF
	FormatMachO
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "elf"
	case FormatMachO:
		return "mach-o"
	default:
		return "unknown"
	}
}

// ExtractedSymbol is an exported function symbol found in a native object.
type ExtractedSymbol struct {
	Name string
}

// Object is a parsed native object of one of the supported formats.
type Object interface {
	Format() Format
	// FunctionSymbols returns exported function symbols in symbol table
	// order. Names are neither sorted nor de-duplicated.
	FunctionSymbols() ([]ExtractedSymbol, error)
}

const (
	machoMagic32 uint32 = 0xfeedface
	machoMagic64 uint32 = 0xfeedfacf
)

// Open classifies data by its magic number and parses it. Fat (universal)
// Mach-O files, PE images, archives and anything else are unsupported.
func Open(data []byte) (Object, error) {
	switch detect(data) {
	case FormatELF:
		return openELF(data)
	case FormatMachO:
		return openMachO(data)
	}
	return nil, errors.Unsupported(errors.PhaseExtract, "object format is neither ELF nor Mach-O")
}

func detect(data []byte) Format {
	if len(data) < 4 {
		return FormatUnknown
	}
	if bytes.HasPrefix(data, []byte("\x7fELF")) {
		return FormatELF
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		switch order.Uint32(data) {
		case machoMagic32, machoMagic64:
			return FormatMachO
		}
	}
	return FormatUnknown
}

// ExtractFunctionSymbols parses data and returns its exported function symbols.
func ExtractFunctionSymbols(data []byte) ([]ExtractedSymbol, error) {
	obj, err := Open(data)
	if err != nil {
		return nil, err
	}
	syms, err := obj.FunctionSymbols()
	if err != nil {
		return nil, err
	}
	Logger().Debug("extracted function symbols",
		zap.Stringer("format", obj.Format()),
		zap.Int("count", len(syms)))
	return syms, nil
}

// ExtractFile reads the object at path and returns its exported function
// symbols.
func ExtractFile(path string) ([]ExtractedSymbol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseRead, path, err)
	}
	syms, err := ExtractFunctionSymbols(data)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.File == "" {
			e.File = path
		}
		return nil, err
	}
	return syms, nil
}

// Names returns the symbol names in order.
func Names(syms []ExtractedSymbol) []string {
	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = s.Name
	}
	return names
}

// cstring returns the NUL-terminated string starting at off in table.
func cstring(table []byte, off uint64) (string, bool) {
	if off >= uint64(len(table)) {
		return "", false
	}
	end := bytes.IndexByte(table[off:], 0)
	if end < 0 {
		return "", false
	}
	return string(table[off : off+uint64(end)]), true
}
