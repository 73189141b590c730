package patcher

import (
	"fmt"

	"github.com/wippyai/wasmonkey/errors"
	"github.com/wippyai/wasmonkey/wasm"
)

// disabledBody traps on entry.
var disabledBody = []byte{wasm.OpUnreachable, wasm.OpEnd}

// ShiftFunctionIDs adds shift to every function-index reference in m: call,
// return_call and ref.func immediates in function bodies, function exports,
// element segment members, the start function and ref.func in global
// initializers. The rewrite is computed for the whole module before any of
// it is applied, so an error leaves m untouched.
func ShiftFunctionIDs(m *wasm.Module, shift uint32) error {
	if !m.HasSection(wasm.SectionCode) {
		return errors.MissingSection(errors.PhasePatch, "code")
	}
	add := func(_ byte, idx uint32) uint32 { return idx + shift }

	code := make([][]byte, len(m.Code))
	for i, body := range m.Code {
		c, err := wasm.RewriteFuncRefs(body.Code, add)
		if err != nil {
			return errors.ParseFailed(errors.PhasePatch, fmt.Sprintf("function body %d", i), err)
		}
		code[i] = c
	}

	inits := make([][]byte, len(m.Globals))
	for i, g := range m.Globals {
		c, err := wasm.RewriteFuncRefs(g.Init, add)
		if err != nil {
			return errors.ParseFailed(errors.PhasePatch, fmt.Sprintf("global %d initializer", i), err)
		}
		inits[i] = c
	}

	exprs := make([][][]byte, len(m.Elements))
	for i, elem := range m.Elements {
		if len(elem.Exprs) == 0 {
			continue
		}
		exprs[i] = make([][]byte, len(elem.Exprs))
		for j, expr := range elem.Exprs {
			c, err := wasm.RewriteFuncRefs(expr, add)
			if err != nil {
				return errors.ParseFailed(errors.PhasePatch, fmt.Sprintf("element segment %d expression %d", i, j), err)
			}
			exprs[i][j] = c
		}
	}

	for i := range m.Code {
		m.Code[i].Code = code[i]
	}
	for i := range m.Globals {
		m.Globals[i].Init = inits[i]
	}
	for i := range m.Elements {
		elem := &m.Elements[i]
		for j := range elem.FuncIndices {
			elem.FuncIndices[j] += shift
		}
		if exprs[i] != nil {
			elem.Exprs = exprs[i]
		}
	}
	for i := range m.Exports {
		if m.Exports[i].Kind == wasm.KindFunc {
			m.Exports[i].Index += shift
		}
	}
	if m.Start != nil {
		start := *m.Start + shift
		m.Start = &start
	}
	return nil
}

// ReplaceFunctionID retargets every call and return_call whose target is
// before to after. Exports, element segments and ref.func are left alone.
func ReplaceFunctionID(m *wasm.Module, before, after uint32) error {
	if !m.HasSection(wasm.SectionCode) {
		return errors.MissingSection(errors.PhasePatch, "code")
	}
	remap := func(op byte, idx uint32) uint32 {
		if idx == before && (op == wasm.OpCall || op == wasm.OpReturnCall) {
			return after
		}
		return idx
	}

	code := make([][]byte, len(m.Code))
	for i, body := range m.Code {
		c, err := wasm.RewriteFuncRefs(body.Code, remap)
		if err != nil {
			return errors.ParseFailed(errors.PhasePatch, fmt.Sprintf("function body %d", i), err)
		}
		code[i] = c
	}
	for i := range m.Code {
		m.Code[i].Code = code[i]
	}
	return nil
}

// DisableFunctionID replaces the body of local function localIdx with a
// trap and drops its locals. The index counts local functions only; the
// function keeps its slot, type and exports.
func DisableFunctionID(m *wasm.Module, localIdx uint32) error {
	if !m.HasSection(wasm.SectionCode) {
		return errors.MissingSection(errors.PhasePatch, "code")
	}
	if int(localIdx) >= len(m.Code) {
		return errors.OutOfBounds(errors.PhasePatch, "function body", int(localIdx), len(m.Code))
	}
	m.Code[localIdx] = wasm.FuncBody{Code: append([]byte(nil), disabledBody...)}
	return nil
}
