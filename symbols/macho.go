package symbols

import (
	"bytes"
	"debug/macho"

	"go.uber.org/zap"

	"github.com/wippyai/wasmonkey/errors"
)

// Mach-O nlist filter: N_SECT|N_EXT symbols in the first section.
const (
	nlistTypeExternalSect = 0x0f
	nlistSectText         = 1
)

type machoObject struct {
	f    *macho.File
	data []byte
}

func openMachO(data []byte) (*machoObject, error) {
	f, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.ParseFailed(errors.PhaseExtract, "Mach-O object", err)
	}
	return &machoObject{f: f, data: data}, nil
}

func (o *machoObject) Format() Format { return FormatMachO }

// FunctionSymbols returns the external symbols defined in __TEXT,__text.
// The nlist table is read raw: debug/macho rewrites some names, and the
// extractor needs the leading underscore to decide what to keep.
func (o *machoObject) FunctionSymbols() ([]ExtractedSymbol, error) {
	var (
		textOffset, textSize uint64
		found                bool
	)
	for _, s := range o.f.Sections {
		if s.Seg == "__TEXT" && s.Name == "__text" {
			textOffset, textSize = uint64(s.Offset), s.Size
			found = true
		}
	}
	if !found {
		return nil, errors.InvalidData(errors.PhaseExtract, "Mach-O object has no __TEXT,__text section")
	}

	var symtab *macho.Symtab
	for _, l := range o.f.Loads {
		if st, ok := l.(*macho.Symtab); ok {
			symtab = st
		}
	}
	if symtab == nil {
		return nil, errors.InvalidData(errors.PhaseExtract, "Mach-O object has no LC_SYMTAB")
	}

	entSize := uint64(12)
	if o.f.Magic == macho.Magic64 {
		entSize = 16
	}
	symStart := uint64(symtab.Symoff)
	symEnd := symStart + uint64(symtab.Nsyms)*entSize
	strStart := uint64(symtab.Stroff)
	strEnd := strStart + uint64(symtab.Strsize)
	if symEnd > uint64(len(o.data)) || strEnd > uint64(len(o.data)) {
		return nil, errors.InvalidData(errors.PhaseExtract, "Mach-O symbol table exceeds file size")
	}
	strtab := o.data[strStart:strEnd]
	order := o.f.ByteOrder

	syms := []ExtractedSymbol{}
	for off := symStart; off < symEnd; off += entSize {
		ent := o.data[off : off+entSize]
		nType, nSect := ent[4], ent[5]
		if nType != nlistTypeExternalSect || nSect != nlistSectText {
			continue
		}

		var value uint64
		if entSize == 16 {
			value = order.Uint64(ent[8:16])
		} else {
			value = uint64(order.Uint32(ent[8:12]))
		}

		strx := order.Uint32(ent[0:4])
		name, ok := cstring(strtab, uint64(strx))
		if !ok {
			return nil, errors.New(errors.PhaseExtract, errors.KindInvalidData).
				Detail("symbol name offset %d outside string table", strx).
				Value(strx).
				Build()
		}
		if len(name) <= 1 || name[0] != '_' {
			continue
		}
		if value < textOffset || value >= textOffset+textSize {
			Logger().Debug("skipping symbol outside __text",
				zap.String("symbol", name),
				zap.Uint64("value", value))
			continue
		}
		syms = append(syms, ExtractedSymbol{Name: name[1:]})
	}

	Logger().Debug("walked Mach-O symbols",
		zap.Uint32("entries", symtab.Nsyms),
		zap.Int("functions", len(syms)))
	return syms, nil
}
