package symbols

import (
	"bytes"
	"debug/elf"

	"go.uber.org/zap"

	"github.com/wippyai/wasmonkey/errors"
)

// Dynamic symbol info bytes kept by the extractor: STB_GLOBAL and STB_WEAK
// bindings combined with STT_FUNC.
const (
	infoGlobalFunc = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)
	infoWeakFunc   = byte(elf.STB_WEAK)<<4 | byte(elf.STT_FUNC)
)

type elfObject struct {
	f *elf.File
}

func openELF(data []byte) (*elfObject, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.ParseFailed(errors.PhaseExtract, "ELF object", err)
	}
	return &elfObject{f: f}, nil
}

func (o *elfObject) Format() Format { return FormatELF }

// FunctionSymbols walks the SHT_DYNSYM table. Entries are decoded here
// rather than through elf.File.DynamicSymbols so that a name offset that
// does not resolve in the linked string table is reported instead of
// silently producing an empty name.
func (o *elfObject) FunctionSymbols() ([]ExtractedSymbol, error) {
	dynsym := o.f.SectionByType(elf.SHT_DYNSYM)
	if dynsym == nil {
		Logger().Debug("ELF object has no dynamic symbol table")
		return []ExtractedSymbol{}, nil
	}

	symData, err := dynsym.Data()
	if err != nil {
		return nil, errors.ParseFailed(errors.PhaseExtract, "dynamic symbol table", err)
	}
	if int(dynsym.Link) >= len(o.f.Sections) {
		return nil, errors.InvalidData(errors.PhaseExtract, "dynamic symbol table links to a missing string table")
	}
	strtab, err := o.f.Sections[dynsym.Link].Data()
	if err != nil {
		return nil, errors.ParseFailed(errors.PhaseExtract, "dynamic string table", err)
	}

	entSize := elf.Sym64Size
	if o.f.Class == elf.ELFCLASS32 {
		entSize = elf.Sym32Size
	}
	order := o.f.ByteOrder

	syms := []ExtractedSymbol{}
	for off := 0; off+entSize <= len(symData); off += entSize {
		ent := symData[off : off+entSize]

		var info byte
		if o.f.Class == elf.ELFCLASS32 {
			info = ent[12]
		} else {
			info = ent[4]
		}
		if info != infoGlobalFunc && info != infoWeakFunc {
			continue
		}

		nameOff := order.Uint32(ent[0:4])
		name, ok := cstring(strtab, uint64(nameOff))
		if !ok {
			return nil, errors.New(errors.PhaseExtract, errors.KindInvalidData).
				Detail("symbol name offset %d outside dynamic string table", nameOff).
				Value(nameOff).
				Build()
		}
		syms = append(syms, ExtractedSymbol{Name: name})
	}

	Logger().Debug("walked ELF dynamic symbols",
		zap.Int("entries", len(symData)/entSize),
		zap.Int("functions", len(syms)))
	return syms, nil
}
