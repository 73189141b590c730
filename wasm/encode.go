package wasm

import (
	"github.com/wippyai/wasmonkey/wasm/internal/binary"
)

// canonicalOrder lists the decoded sections in the order they are emitted
// for modules that carry no recorded layout.
var canonicalOrder = []byte{
	SectionType, SectionImport, SectionFunction, SectionGlobal,
	SectionExport, SectionStart, SectionElement, SectionCode,
}

// Encode serializes the module to WebAssembly binary format.
//
// Parsed modules keep their section layout: opaque sections are written
// back unchanged and decoded sections are re-encoded from the typed fields.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if m.Sections == nil {
		for _, id := range canonicalOrder {
			if m.HasSection(id) {
				w.WriteSection(id, m.encodeSection(id))
			}
		}
		if m.Names != nil {
			w.WriteSection(SectionCustom, encodeCustom(NameSectionName, m.Names.Encode()))
		}
		return w.Bytes()
	}

	for _, s := range m.Sections {
		switch {
		case !s.Decoded:
			w.WriteSection(s.ID, s.Payload)
		case s.ID == SectionCustom:
			// The only decoded custom section is "name".
			if m.Names != nil {
				w.WriteSection(SectionCustom, encodeCustom(s.Name, m.Names.Encode()))
			}
		default:
			w.WriteSection(s.ID, m.encodeSection(s.ID))
		}
	}
	return w.Bytes()
}

func encodeCustom(name string, data []byte) []byte {
	w := binary.NewWriter()
	w.WriteName(name)
	w.WriteBytes(data)
	return w.Bytes()
}

func (m *Module) encodeSection(id byte) []byte {
	sec := binary.NewWriter()

	switch id {
	case SectionType:
		if m.rawTypes != nil {
			return m.rawTypes
		}
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}

	case SectionImport:
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Kind)
			if imp.Kind == KindFunc {
				sec.WriteU32(imp.TypeIdx)
			} else {
				sec.WriteBytes(imp.Desc)
			}
		}

	case SectionFunction:
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}

	case SectionGlobal:
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec.WriteBytes(g.Type)
			sec.WriteBytes(g.Init)
		}

	case SectionExport:
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Index)
		}

	case SectionStart:
		if m.Start != nil {
			sec.WriteU32(*m.Start)
		}

	case SectionElement:
		sec.WriteU32(uint32(len(m.Elements)))
		for _, elem := range m.Elements {
			writeElement(sec, elem)
		}

	case SectionCode:
		sec.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			b := binary.NewWriter()
			if body.Locals == nil {
				b.Byte(0)
			} else {
				b.WriteBytes(body.Locals)
			}
			b.WriteBytes(body.Code)
			sec.WriteU32(uint32(b.Len()))
			sec.WriteBytes(b.Bytes())
		}
	}

	return sec.Bytes()
}

func writeElement(w *binary.Writer, elem Element) {
	w.WriteU32(elem.Flags)

	if elem.Flags&0x02 != 0 && elem.Flags&0x01 == 0 {
		w.WriteU32(elem.TableIdx)
	}
	if elem.Flags&0x01 == 0 {
		w.WriteBytes(elem.Offset)
	}
	if elem.Flags&0x03 != 0 {
		if elem.Flags&0x04 != 0 {
			if elem.RefType != nil {
				w.WriteBytes(elem.RefType)
			} else {
				w.Byte(byte(ValFuncRef))
			}
		} else {
			w.Byte(elem.ElemKind)
		}
	}

	if elem.Flags&0x04 != 0 {
		w.WriteU32(uint32(len(elem.Exprs)))
		for _, expr := range elem.Exprs {
			w.WriteBytes(expr)
		}
		return
	}
	w.WriteU32(uint32(len(elem.FuncIndices)))
	for _, idx := range elem.FuncIndices {
		w.WriteU32(idx)
	}
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}
