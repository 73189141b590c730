package wasm

// Module is a WebAssembly module decoded far enough to renumber functions.
//
// Sections that hold function indices, or that the patcher edits, are decoded
// into the typed fields. Every other section is kept as an opaque payload in
// Sections so that Encode reproduces it byte-for-byte in its original
// position.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Names    *NameSection

	// Sections records the section layout of a parsed module. A nil layout
	// (a module built in code) is encoded in canonical order.
	Sections []Section

	// rawTypes is set when the type section holds entries beyond plain
	// function types; Types is then empty and the payload is kept verbatim.
	rawTypes []byte
	numTypes uint32
}

// Section is one slot of the module's section layout.
type Section struct {
	Name    string // Custom section name, empty for known sections
	Payload []byte // Raw payload (custom sections include their name); nil when decoded
	ID      byte
	Decoded bool
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// Import represents an imported function, table, memory, global, or tag.
// Function imports carry TypeIdx; every other kind keeps its descriptor in
// Desc as raw bytes.
type Import struct {
	Module  string
	Name    string
	Desc    []byte
	TypeIdx uint32
	Kind    byte
}

// Global is a global definition. Type is the raw global type, Init the raw
// constant expression including its terminating end opcode.
type Global struct {
	Type []byte
	Init []byte
}

// Export represents an exported definition.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Element represents an element segment.
//
// Flags selects the encoding (0-7). Offset is the raw active offset
// expression. ElemKind is the raw element kind byte (flags 1-3) and RefType
// the raw reference type (flags 5-7). Segments using function indices fill
// FuncIndices; segments using expressions fill Exprs.
type Element struct {
	Offset      []byte
	RefType     []byte
	FuncIndices []uint32
	Exprs       [][]byte
	TableIdx    uint32
	Flags       uint32
	ElemKind    byte
}

// FuncBody is a function body. Locals holds the raw local declarations
// including their count prefix (nil means no locals); Code holds the
// instruction sequence including the final end opcode.
type FuncBody struct {
	Locals []byte
	Code   []byte
}

// NumImportedFuncs returns the number of imported functions.
func (m *Module) NumImportedFuncs() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			count++
		}
	}
	return count
}

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// NumTypes returns the number of entries in the type section. For opaque
// type sections a rec group counts as one entry.
func (m *Module) NumTypes() int {
	if m.rawTypes != nil {
		return int(m.numTypes)
	}
	return len(m.Types)
}

// HasSection reports whether the module carries a section with the given ID.
// For modules built in code it reports whether the corresponding field is set.
func (m *Module) HasSection(id byte) bool {
	if m.Sections != nil {
		for _, s := range m.Sections {
			if s.ID == id && id != SectionCustom {
				return true
			}
		}
		return false
	}
	switch id {
	case SectionType:
		return m.NumTypes() > 0
	case SectionImport:
		return m.Imports != nil
	case SectionFunction:
		return len(m.Funcs) > 0
	case SectionGlobal:
		return len(m.Globals) > 0
	case SectionExport:
		return len(m.Exports) > 0
	case SectionStart:
		return m.Start != nil
	case SectionElement:
		return len(m.Elements) > 0
	case SectionCode:
		return len(m.Code) > 0
	}
	return false
}

// EnsureImportSection makes sure the module has an import section. A new,
// empty one is placed directly after the type section; custom sections that
// used to follow the type section now follow the import section.
func (m *Module) EnsureImportSection() error {
	if m.HasSection(SectionImport) {
		return nil
	}
	if !m.HasSection(SectionType) {
		return ErrNoTypeSection
	}
	if m.Sections == nil {
		// Canonical encoding always emits the import section once it exists.
		m.Imports = []Import{}
		return nil
	}
	for i, s := range m.Sections {
		if s.ID != SectionType {
			continue
		}
		layout := make([]Section, 0, len(m.Sections)+1)
		layout = append(layout, m.Sections[:i+1]...)
		layout = append(layout, Section{ID: SectionImport, Decoded: true})
		layout = append(layout, m.Sections[i+1:]...)
		m.Sections = layout
		if m.Imports == nil {
			m.Imports = []Import{}
		}
		return nil
	}
	return ErrNoTypeSection
}
