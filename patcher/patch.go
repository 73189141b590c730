package patcher

import (
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/wasmonkey/errors"
	"github.com/wippyai/wasmonkey/wasm"
)

// PatchModule resolves names against m's exports and substitutes every
// match with an import. See PatchBuiltins.
func PatchModule(m *wasm.Module, names []string) (*BuiltinsMap, error) {
	builtins, err := ResolveBuiltins(m, names)
	if err != nil {
		return nil, err
	}
	return PatchBuiltins(m, builtins)
}

// PatchBuiltins substitutes each builtin with an "env" import, in order.
//
// For builtin i the import is prepended to the import section, taking
// function index 0, and every existing function reference moves up by one.
// Calls to the builtin's original body, now at index original+i+1, are then
// retargeted to the import. Exports and table entries keep pointing at the
// original body. After processing [b0 ... bk] the imports at function
// indices 0..k belong to bk ... b0.
func PatchBuiltins(m *wasm.Module, builtins []Builtin) (*BuiltinsMap, error) {
	bm := NewBuiltinsMap()
	if len(builtins) == 0 {
		return bm, nil
	}
	if err := checkPatchable(m); err != nil {
		return nil, err
	}

	for i, b := range builtins {
		if !b.Resolved() {
			return nil, errors.New(errors.PhasePatch, errors.KindInternal).
				Detail("builtin %q has not been resolved", b.Name).
				Value(b.Name).
				Build()
		}
		if err := m.EnsureImportSection(); err != nil {
			if stderrors.Is(err, wasm.ErrNoTypeSection) {
				return nil, errors.MissingSection(errors.PhasePatch, "type")
			}
			return nil, errors.Wrap(errors.PhasePatch, errors.KindInternal, err, "create import section")
		}

		imports := make([]wasm.Import, 0, len(m.Imports)+1)
		imports = append(imports, wasm.Import{
			Module:  BuiltinModule,
			Name:    b.ImportName(),
			Kind:    wasm.KindFunc,
			TypeIdx: *b.FunctionTypeID,
		})
		m.Imports = append(imports, m.Imports...)
		m.Names.PrependFunctionName(b.ImportName())

		if err := ShiftFunctionIDs(m, 1); err != nil {
			return nil, err
		}
		current := *b.OriginalFunctionID + uint32(i) + 1
		if err := ReplaceFunctionID(m, current, 0); err != nil {
			return nil, err
		}

		bm.Insert(b.Name, b.ImportName())
		Logger().Info("substituted builtin",
			zap.String("builtin", b.Name),
			zap.String("import", BuiltinModule+"."+b.ImportName()),
			zap.Uint32("original", *b.OriginalFunctionID),
			zap.Uint32("body", current))
	}
	return bm, nil
}

// checkPatchable verifies the sections every patch step relies on, so that
// a module missing one is rejected before it is modified.
func checkPatchable(m *wasm.Module) error {
	if !m.HasSection(wasm.SectionType) {
		return errors.MissingSection(errors.PhasePatch, "type")
	}
	if !m.HasSection(wasm.SectionCode) {
		return errors.MissingSection(errors.PhasePatch, "code")
	}
	if m.Names == nil {
		return errors.MissingSection(errors.PhasePatch, "name")
	}
	return nil
}
