package wasm

import "fmt"

// Validate checks that type and function indices are in range and that the
// function and code sections agree. It does not type-check bodies.
func (m *Module) Validate() error {
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if len(m.Funcs) != len(m.Code) {
		return fmt.Errorf("function count %d does not match code count %d", len(m.Funcs), len(m.Code))
	}
	return m.ValidateFunctionIndices()
}

func (m *Module) validateTypeIndices() error {
	if m.rawTypes != nil {
		// Rec groups make entry counts unreliable as type index bounds.
		return nil
	}
	numTypes := uint32(m.NumTypes())
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d (have %d types)", i, typeIdx, numTypes)
		}
	}
	for i, imp := range m.Imports {
		if imp.Kind == KindFunc && imp.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.TypeIdx)
		}
	}
	return nil
}

// ValidateFunctionIndices checks that every function-index reference in the
// module addresses a slot of the function index space: call, return_call and
// ref.func immediates in bodies, global initializers and element
// expressions, function exports, element members and the start function.
// Name section entries are debug data and are not checked.
func (m *Module) ValidateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())

	check := func(where string, idx uint32) error {
		if idx >= numFuncs {
			return fmt.Errorf("%s references function %d (have %d functions)", where, idx, numFuncs)
		}
		return nil
	}
	checkCode := func(where string, code []byte) error {
		refs, err := FuncRefs(code)
		if err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		for _, ref := range refs {
			if err := check(where, ref.Index); err != nil {
				return err
			}
		}
		return nil
	}

	for _, exp := range m.Exports {
		if exp.Kind != KindFunc {
			continue
		}
		if err := check(fmt.Sprintf("export %q", exp.Name), exp.Index); err != nil {
			return err
		}
	}
	if m.Start != nil {
		if err := check("start section", *m.Start); err != nil {
			return err
		}
	}
	for i, g := range m.Globals {
		if err := checkCode(fmt.Sprintf("global %d", i), g.Init); err != nil {
			return err
		}
	}
	for i, elem := range m.Elements {
		where := fmt.Sprintf("element segment %d", i)
		for _, idx := range elem.FuncIndices {
			if err := check(where, idx); err != nil {
				return err
			}
		}
		for _, expr := range elem.Exprs {
			if err := checkCode(where, expr); err != nil {
				return err
			}
		}
	}
	for i, body := range m.Code {
		if err := checkCode(fmt.Sprintf("function body %d", i), body.Code); err != nil {
			return err
		}
	}
	return nil
}
