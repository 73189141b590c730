package patcher

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasmonkey/errors"
	"github.com/wippyai/wasmonkey/wasm"
)

// BuiltinPrefix is prepended to a builtin's name to form its import name.
const BuiltinPrefix = "builtin_"

// BuiltinModule is the import module that receives every substituted builtin.
const BuiltinModule = "env"

// Builtin is an exported function selected for substitution by an import.
type Builtin struct {
	OriginalFunctionID *uint32 // Function index of the export, before patching
	FunctionTypeID     *uint32 // Type index of the function
	Name               string
}

// NewBuiltin returns an unresolved builtin.
func NewBuiltin(name string) Builtin {
	return Builtin{Name: name}
}

// ImportName returns the field name of the import that replaces b.
func (b Builtin) ImportName() string {
	return BuiltinPrefix + b.Name
}

// Resolved reports whether both indices have been filled in.
func (b Builtin) Resolved() bool {
	return b.OriginalFunctionID != nil && b.FunctionTypeID != nil
}

// ResolveBuiltins matches names against the module's function exports and
// returns one resolved Builtin per matched name, in the order of names.
// Names that are not exported are dropped.
func ResolveBuiltins(m *wasm.Module, names []string) ([]Builtin, error) {
	if !m.HasSection(wasm.SectionExport) {
		return nil, errors.MissingSection(errors.PhaseResolve, "export")
	}

	pos := make(map[string]int, len(names))
	for i, name := range names {
		if _, ok := pos[name]; !ok {
			pos[name] = i
		}
	}

	found := make([]*uint32, len(names))
	for _, exp := range m.Exports {
		if exp.Kind != wasm.KindFunc {
			continue
		}
		i, ok := pos[exp.Name]
		if !ok {
			continue
		}
		if found[i] != nil {
			return nil, errors.New(errors.PhaseResolve, errors.KindInternal).
				Detail("builtin %q matches more than one function export", exp.Name).
				Value(exp.Name).
				Build()
		}
		idx := exp.Index
		found[i] = &idx
	}

	imported := uint32(m.NumImportedFuncs())
	builtins := make([]Builtin, 0, len(names))
	for i, name := range names {
		// Repeated names only match at their first occurrence.
		if found[i] == nil {
			continue
		}
		idx := *found[i]
		if idx < imported {
			return nil, errors.New(errors.PhaseResolve, errors.KindOutOfBounds).
				Detail("builtin %q is exported from imported function %d", name, idx).
				Value(idx).
				Build()
		}
		if !m.HasSection(wasm.SectionFunction) {
			return nil, errors.MissingSection(errors.PhaseResolve, "function")
		}
		local := idx - imported
		if int(local) >= len(m.Funcs) {
			return nil, errors.OutOfBounds(errors.PhaseResolve, "function", int(local), len(m.Funcs))
		}
		typeIdx := m.Funcs[local]
		builtins = append(builtins, Builtin{
			Name:               name,
			OriginalFunctionID: &idx,
			FunctionTypeID:     &typeIdx,
		})
		Logger().Debug("resolved builtin",
			zap.String("builtin", name),
			zap.Uint32("function", idx),
			zap.Uint32("type", typeIdx))
	}
	return builtins, nil
}
