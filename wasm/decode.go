package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasmonkey/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrNoTypeSection  = errors.New("module has no type section")
	ErrCountTooLarge  = binary.ErrCountTooLarge
)

// ParseModule parses a WebAssembly binary module.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{Sections: []Section{}}

	// Section order is checked against the canonical order, not section IDs.
	var lastSectionOrder int

	for r.Len() > 0 {
		sectionID, _ := r.ReadByte()

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
			}
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		payload, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sec, err := m.parseSection(sectionID, payload)
		if err != nil {
			return nil, err
		}
		m.Sections = append(m.Sections, sec)
	}

	return m, nil
}

func (m *Module) parseSection(id byte, payload []byte) (Section, error) {
	sr := binary.NewReader(payload)
	var parse func(*binary.Reader, *Module) error

	switch id {
	case SectionCustom:
		name, err := sr.ReadName()
		if err != nil {
			return Section{}, sr.WrapError("custom section", err)
		}
		if name != NameSectionName || m.Names != nil {
			return Section{ID: id, Name: name, Payload: payload}, nil
		}
		names, err := parseNameSection(sr.ReadRemaining())
		if err != nil {
			return Section{}, fmt.Errorf("name section: %w", err)
		}
		m.Names = names
		return Section{ID: id, Name: name, Decoded: true}, nil
	case SectionType:
		plain, err := parseTypeSection(sr, m)
		if err != nil {
			return Section{}, fmt.Errorf("type section: %w", err)
		}
		if !plain {
			m.rawTypes = payload
		}
		return Section{ID: id, Decoded: true}, nil
	case SectionImport:
		parse = parseImportSection
	case SectionFunction:
		parse = parseFunctionSection
	case SectionGlobal:
		parse = parseGlobalSection
	case SectionExport:
		parse = parseExportSection
	case SectionStart:
		parse = parseStartSection
	case SectionElement:
		parse = parseElementSection
	case SectionCode:
		parse = parseCodeSection
	default:
		// Table, memory, tag, data and data count sections carry no
		// function indices.
		return Section{ID: id, Payload: payload}, nil
	}

	if err := parse(sr, m); err != nil {
		return Section{}, fmt.Errorf("%s section: %w", SectionName(id), err)
	}
	if sr.Len() != 0 {
		return Section{}, fmt.Errorf("%s section: %d trailing bytes", SectionName(id), sr.Len())
	}
	return Section{ID: id, Decoded: true}, nil
}

// sectionOrder returns the canonical ordering for a section ID, or 0 for
// unknown IDs. Tag comes after memory and data count before code.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}

// SectionName returns a human-readable name for a section ID.
func SectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	case SectionTag:
		return "tag"
	default:
		return fmt.Sprintf("section(%d)", id)
	}
}

// parseTypeSection decodes plain function types. It reports false when the
// section holds other type forms (GC rec/sub/struct/array or typed
// references), in which case only the entry count is kept.
func parseTypeSection(r *binary.Reader, m *Module) (bool, error) {
	count, err := r.ReadCount()
	if err != nil {
		return false, err
	}
	types := make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return false, err
		}
		if form != FuncTypeByte {
			m.numTypes = count
			return false, nil
		}
		params, ok, err := readPlainValTypes(r)
		if err != nil {
			return false, err
		}
		if !ok {
			m.numTypes = count
			return false, nil
		}
		results, ok, err := readPlainValTypes(r)
		if err != nil {
			return false, err
		}
		if !ok {
			m.numTypes = count
			return false, nil
		}
		types = append(types, FuncType{Params: params, Results: results})
	}
	if r.Len() != 0 {
		return false, fmt.Errorf("%d trailing bytes", r.Len())
	}
	m.Types = types
	return true, nil
}

func readPlainValTypes(r *binary.Reader) ([]ValType, bool, error) {
	count, err := r.ReadCount()
	if err != nil {
		return nil, false, err
	}
	types := make([]ValType, count)
	for i := uint32(0); i < count; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, false, err
		}
		if b == byte(ValRefNull) || b == byte(ValRef) {
			return nil, false, nil
		}
		types[i] = ValType(b)
	}
	return types, true, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Kind: kind}
		start := r.Position()

		switch kind {
		case KindFunc:
			imp.TypeIdx, err = r.ReadU32()
		case KindTable:
			if err = skipValType(r); err == nil {
				err = skipLimits(r)
			}
		case KindMemory:
			err = skipLimits(r)
		case KindGlobal:
			err = skipGlobalType(r)
		case KindTag:
			if err = r.Skip(1); err == nil {
				_, err = r.ReadU32()
			}
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}
		if err != nil {
			return err
		}
		if kind != KindFunc {
			imp.Desc = r.Since(start)
		}

		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		m.Funcs[i], err = r.ReadU32()
		if err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := uint32(0); i < count; i++ {
		start := r.Position()
		if err := skipGlobalType(r); err != nil {
			return err
		}
		globalType := r.Since(start)
		init, err := readConstExpr(r)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		m.Globals[i] = Global{Type: globalType, Init: init}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindTag {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Index: idx}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount()
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}

		elem := Element{Flags: flags}

		// Bit 0: passive/declarative, bit 1: explicit table index (active)
		// or declarative (passive), bit 2: expressions instead of indices.
		hasTableIdx := flags&0x02 != 0 && flags&0x01 == 0
		hasOffset := flags&0x01 == 0
		usesExprs := flags&0x04 != 0

		if hasTableIdx {
			elem.TableIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}
		if hasOffset {
			elem.Offset, err = readConstExpr(r)
			if err != nil {
				return err
			}
		}

		if flags&0x03 != 0 {
			if usesExprs {
				start := r.Position()
				if err := skipValType(r); err != nil {
					return err
				}
				elem.RefType = r.Since(start)
			} else {
				elem.ElemKind, err = r.ReadByte()
				if err != nil {
					return err
				}
			}
		}

		vecCount, err := r.ReadCount()
		if err != nil {
			return err
		}
		if usesExprs {
			elem.Exprs = make([][]byte, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				elem.Exprs[j], err = readConstExpr(r)
				if err != nil {
					return err
				}
			}
		} else {
			elem.FuncIndices = make([]uint32, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				elem.FuncIndices[j], err = r.ReadU32()
				if err != nil {
					return err
				}
			}
		}

		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return err
		}

		br := binary.NewReader(bodyData)
		localCount, err := br.ReadCount()
		if err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}
		for j := uint32(0); j < localCount; j++ {
			if _, err := br.ReadU32(); err != nil {
				return fmt.Errorf("body %d: %w", i, err)
			}
			if err := skipValType(br); err != nil {
				return fmt.Errorf("body %d: %w", i, err)
			}
		}
		locals := br.Since(0)
		m.Code[i] = FuncBody{Locals: locals, Code: br.ReadRemaining()}
	}
	return nil
}

// skipLimits reads limits flags followed by min, optional max and, for
// custom page sizes, the page size exponent.
func skipLimits(r *binary.Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	n := 1
	if flags&LimitsHasMax != 0 {
		n++
	}
	for i := 0; i < n; i++ {
		if flags&LimitsMemory64 != 0 {
			_, err = r.ReadU64()
		} else {
			_, err = r.ReadU32()
		}
		if err != nil {
			return err
		}
	}
	if flags&0x08 != 0 {
		_, err = r.ReadU32()
	}
	return err
}

func skipGlobalType(r *binary.Reader) error {
	if err := skipValType(r); err != nil {
		return err
	}
	return r.Skip(1)
}
