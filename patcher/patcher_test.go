package patcher_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasmonkey/errors"
	"github.com/wippyai/wasmonkey/patcher"
	"github.com/wippyai/wasmonkey/wasm"
)

var (
	typeVoid    = wasm.FuncType{}
	typeI32     = wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}
	typeI32I32  = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	incrementFn = []byte{wasm.OpLocalGet, 0x00, wasm.OpI32Const, 0x01, wasm.OpI32Add, wasm.OpEnd}
)

func call(idx uint32) []byte {
	return wasm.AppendLEB128u([]byte{wasm.OpCall}, idx)
}

func body(parts ...[]byte) []byte {
	var code []byte
	for _, p := range parts {
		code = append(code, p...)
	}
	return append(code, wasm.OpEnd)
}

// fooModule defines foo(x) = x+1 at index 0 and main() = foo(41) at index 1.
func fooModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{typeI32, typeI32I32},
		Funcs: []uint32{1, 0},
		Exports: []wasm.Export{
			{Name: "foo", Kind: wasm.KindFunc, Index: 0},
			{Name: "main", Kind: wasm.KindFunc, Index: 1},
		},
		Code: []wasm.FuncBody{
			{Code: incrementFn},
			{Code: body([]byte{wasm.OpI32Const, 41}, call(0))},
		},
		Names: &wasm.NameSection{
			FunctionNames: wasm.NameMap{{Index: 0, Name: "foo"}, {Index: 1, Name: "main"}},
			LocalNames:    wasm.IndirectNameMap{{Index: 0, Names: wasm.NameMap{{Index: 0, Name: "x"}}}},
		},
	}
}

// pairModule defines a (0), b (1) and main (2) calling both.
func pairModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{typeVoid},
		Funcs: []uint32{0, 0, 0},
		Exports: []wasm.Export{
			{Name: "a", Kind: wasm.KindFunc, Index: 0},
			{Name: "b", Kind: wasm.KindFunc, Index: 1},
			{Name: "main", Kind: wasm.KindFunc, Index: 2},
		},
		Code: []wasm.FuncBody{
			{Code: body()},
			{Code: body()},
			{Code: body(call(0), call(1))},
		},
		Names: &wasm.NameSection{
			FunctionNames: wasm.NameMap{{Index: 0, Name: "a"}, {Index: 1, Name: "b"}, {Index: 2, Name: "main"}},
		},
	}
}

func callTargets(t *testing.T, code []byte) []uint32 {
	t.Helper()
	refs, err := wasm.FuncRefs(code)
	if err != nil {
		t.Fatalf("FuncRefs: %v", err)
	}
	var out []uint32
	for _, r := range refs {
		out = append(out, r.Index)
	}
	return out
}

func TestImportName(t *testing.T) {
	if got := patcher.NewBuiltin("foo").ImportName(); got != "builtin_foo" {
		t.Errorf("ImportName = %q, want builtin_foo", got)
	}
}

func TestResolveBuiltins(t *testing.T) {
	m := pairModule()
	m.Imports = []wasm.Import{{Module: "env", Name: "log", Kind: wasm.KindFunc, TypeIdx: 0}}
	for i := range m.Exports {
		m.Exports[i].Index++
	}

	builtins, err := patcher.ResolveBuiltins(m, []string{"missing", "b", "a", "b"})
	if err != nil {
		t.Fatalf("ResolveBuiltins: %v", err)
	}
	if len(builtins) != 2 {
		t.Fatalf("got %d builtins, want 2", len(builtins))
	}
	if builtins[0].Name != "b" || *builtins[0].OriginalFunctionID != 2 || *builtins[0].FunctionTypeID != 0 {
		t.Errorf("builtins[0] = %+v", builtins[0])
	}
	if builtins[1].Name != "a" || *builtins[1].OriginalFunctionID != 1 {
		t.Errorf("builtins[1] = %+v", builtins[1])
	}
}

func TestResolveBuiltinsErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *wasm.Module)
		want   error
	}{
		{
			name:   "no export section",
			mutate: func(m *wasm.Module) { m.Exports = nil },
			want:   errors.ErrInternal,
		},
		{
			name: "duplicate export",
			mutate: func(m *wasm.Module) {
				m.Exports = append(m.Exports, wasm.Export{Name: "a", Kind: wasm.KindFunc, Index: 2})
			},
			want: errors.ErrInternal,
		},
		{
			name: "imported function",
			mutate: func(m *wasm.Module) {
				m.Imports = []wasm.Import{{Module: "env", Name: "a", Kind: wasm.KindFunc}}
				m.Exports = []wasm.Export{{Name: "a", Kind: wasm.KindFunc, Index: 0}}
			},
			want: errors.ErrOutOfBounds,
		},
		{
			name: "past function section",
			mutate: func(m *wasm.Module) {
				m.Exports = []wasm.Export{{Name: "a", Kind: wasm.KindFunc, Index: 7}}
			},
			want: errors.ErrOutOfBounds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := pairModule()
			tt.mutate(m)
			_, err := patcher.ResolveBuiltins(m, []string{"a"})
			if !stderrors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveBuiltinsIgnoresOtherKinds(t *testing.T) {
	m := pairModule()
	m.Exports = append(m.Exports, wasm.Export{Name: "a", Kind: wasm.KindMemory, Index: 0})
	builtins, err := patcher.ResolveBuiltins(m, []string{"a"})
	if err != nil {
		t.Fatalf("ResolveBuiltins: %v", err)
	}
	if len(builtins) != 1 {
		t.Fatalf("got %d builtins, want 1", len(builtins))
	}
}

func TestPatchModuleSingle(t *testing.T) {
	m := fooModule()
	bm, err := patcher.PatchModule(m, []string{"foo", "absent"})
	if err != nil {
		t.Fatalf("PatchModule: %v", err)
	}

	want := []wasm.Import{{Module: "env", Name: "builtin_foo", Kind: wasm.KindFunc, TypeIdx: 1}}
	if !reflect.DeepEqual(m.Imports, want) {
		t.Errorf("imports = %+v, want %+v", m.Imports, want)
	}
	if got := bm.Mapping(true); !reflect.DeepEqual(got, map[string]string{"foo": "builtin_foo"}) {
		t.Errorf("map = %v", got)
	}
	if got := callTargets(t, m.Code[1].Code); !reflect.DeepEqual(got, []uint32{0}) {
		t.Errorf("main calls %v, want [0]", got)
	}
	if m.Exports[0].Index != 1 || m.Exports[1].Index != 2 {
		t.Errorf("exports = %+v, want foo=1 main=2", m.Exports)
	}
	if name, _ := m.Names.FunctionName(0); name != "builtin_foo" {
		t.Errorf("function 0 name = %q", name)
	}
	if name, _ := m.Names.FunctionName(1); name != "foo" {
		t.Errorf("function 1 name = %q", name)
	}
	if m.Names.LocalNames[0].Index != 1 {
		t.Errorf("local names moved to %d, want 1", m.Names.LocalNames[0].Index)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestPatchModuleOrderInversion(t *testing.T) {
	m := pairModule()
	bm, err := patcher.PatchModule(m, []string{"a", "b"})
	if err != nil {
		t.Fatalf("PatchModule: %v", err)
	}

	if m.Imports[0].Name != "builtin_b" || m.Imports[1].Name != "builtin_a" {
		t.Errorf("imports = %s, %s; want builtin_b, builtin_a", m.Imports[0].Name, m.Imports[1].Name)
	}
	// main called a then b; a is now import 1 and b import 0.
	if got := callTargets(t, m.Code[2].Code); !reflect.DeepEqual(got, []uint32{1, 0}) {
		t.Errorf("main calls %v, want [1 0]", got)
	}
	if m.Exports[0].Index != 2 || m.Exports[1].Index != 3 || m.Exports[2].Index != 4 {
		t.Errorf("exports = %+v", m.Exports)
	}
	entries := bm.Entries()
	if len(entries) != 2 || entries[0].Original != "a" || entries[1].Original != "b" {
		t.Errorf("entries = %+v", entries)
	}
	if err := m.ValidateFunctionIndices(); err != nil {
		t.Errorf("ValidateFunctionIndices: %v", err)
	}
}

func TestPatchModuleKeepsExportAndTableReferences(t *testing.T) {
	m := pairModule()
	m.Elements = []wasm.Element{{
		Flags:       0,
		Offset:      []byte{wasm.OpI32Const, 0x00, wasm.OpEnd},
		FuncIndices: []uint32{0, 1},
	}}
	m.Code[2].Code = body(call(0), []byte{wasm.OpRefFunc, 0x00, wasm.OpDrop})

	if _, err := patcher.PatchModule(m, []string{"a"}); err != nil {
		t.Fatalf("PatchModule: %v", err)
	}
	if got := m.Elements[0].FuncIndices; !reflect.DeepEqual(got, []uint32{1, 2}) {
		t.Errorf("element members = %v, want [1 2]", got)
	}
	// The call moves to the import; ref.func keeps the original body.
	if got := callTargets(t, m.Code[2].Code); !reflect.DeepEqual(got, []uint32{0, 1}) {
		t.Errorf("main refs = %v, want [0 1]", got)
	}
	if m.Exports[0].Index != 1 {
		t.Errorf("export a = %d, want 1", m.Exports[0].Index)
	}
}

// importingModule imports a memory and log (function 0) ahead of a (1),
// b (2) and main (3), which calls a, log and b.
func importingModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FuncType{typeVoid},
		Imports: []wasm.Import{
			{Module: "env", Name: "memory", Kind: wasm.KindMemory, Desc: []byte{0x00, 0x01}},
			{Module: "env", Name: "log", Kind: wasm.KindFunc, TypeIdx: 0},
		},
		Funcs: []uint32{0, 0, 0},
		Exports: []wasm.Export{
			{Name: "a", Kind: wasm.KindFunc, Index: 1},
			{Name: "b", Kind: wasm.KindFunc, Index: 2},
			{Name: "main", Kind: wasm.KindFunc, Index: 3},
			{Name: "memory", Kind: wasm.KindMemory, Index: 0},
		},
		Code: []wasm.FuncBody{
			{Code: body()},
			{Code: body()},
			{Code: body(call(1), call(0), call(2))},
		},
		Names: &wasm.NameSection{
			FunctionNames: wasm.NameMap{{Index: 0, Name: "log"}, {Index: 1, Name: "a"}, {Index: 2, Name: "b"}, {Index: 3, Name: "main"}},
		},
	}
}

func TestPatchModuleWithExistingImports(t *testing.T) {
	m := importingModule()
	if _, err := patcher.PatchModule(m, []string{"b"}); err != nil {
		t.Fatalf("PatchModule: %v", err)
	}

	want := []wasm.Import{
		{Module: "env", Name: "builtin_b", Kind: wasm.KindFunc, TypeIdx: 0},
		{Module: "env", Name: "memory", Kind: wasm.KindMemory, Desc: []byte{0x00, 0x01}},
		{Module: "env", Name: "log", Kind: wasm.KindFunc, TypeIdx: 0},
	}
	if !reflect.DeepEqual(m.Imports, want) {
		t.Errorf("imports = %+v, want %+v", m.Imports, want)
	}
	// log moves to 1, a to 2, and b's callers go to the import at 0.
	if got := callTargets(t, m.Code[2].Code); !reflect.DeepEqual(got, []uint32{2, 1, 0}) {
		t.Errorf("main calls %v, want [2 1 0]", got)
	}
	var got []uint32
	for _, exp := range m.Exports {
		got = append(got, exp.Index)
	}
	if !reflect.DeepEqual(got, []uint32{2, 3, 4, 0}) {
		t.Errorf("export indices = %v, want [2 3 4 0]", got)
	}
	for idx, want := range []string{"builtin_b", "log", "a", "b", "main"} {
		if name, _ := m.Names.FunctionName(uint32(idx)); name != want {
			t.Errorf("function %d name = %q, want %q", idx, name, want)
		}
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	parsed, err := wasm.ParseModule(m.Encode())
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(parsed.Imports) != 3 || parsed.Imports[1].Kind != wasm.KindMemory {
		t.Errorf("reparsed imports = %+v", parsed.Imports)
	}
	if got := callTargets(t, parsed.Code[2].Code); !reflect.DeepEqual(got, []uint32{2, 1, 0}) {
		t.Errorf("reparsed main calls %v, want [2 1 0]", got)
	}
}

func TestPatchModuleStaleFunctionName(t *testing.T) {
	m := fooModule()
	m.Names.FunctionNames = append(m.Names.FunctionNames, wasm.NameAssoc{Index: 7, Name: "gone"})

	p, err := patcher.New(patcher.Config{BuiltinsAdditional: []string{"foo"}}, m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if name, _ := p.Module().Names.FunctionName(8); name != "gone" {
		t.Errorf("stale name moved to %q, want it kept at 8", name)
	}
}

func TestPatchModuleNoMatches(t *testing.T) {
	m := fooModule()
	before := m.Encode()
	bm, err := patcher.PatchModule(m, []string{"bar"})
	if err != nil {
		t.Fatalf("PatchModule: %v", err)
	}
	if bm.Len() != 0 {
		t.Errorf("map has %d entries, want 0", bm.Len())
	}
	if !bytes.Equal(m.Encode(), before) {
		t.Error("module changed without matches")
	}
}

func TestPatchModuleMissingSections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *wasm.Module)
	}{
		{"name", func(m *wasm.Module) { m.Names = nil }},
		{"type", func(m *wasm.Module) { m.Types = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := fooModule()
			tt.mutate(m)
			_, err := patcher.PatchModule(m, []string{"foo"})
			if !stderrors.Is(err, errors.ErrInternal) {
				t.Fatalf("error = %v, want internal", err)
			}
			if len(m.Imports) != 0 {
				t.Error("module was modified")
			}
		})
	}
}

func TestPatchBuiltinsUnresolved(t *testing.T) {
	_, err := patcher.PatchBuiltins(fooModule(), []patcher.Builtin{patcher.NewBuiltin("foo")})
	if !stderrors.Is(err, errors.ErrInternal) {
		t.Fatalf("error = %v, want internal", err)
	}
}

func TestPatchedModuleRuns(t *testing.T) {
	p, err := patcher.FromBytes(patcher.Config{BuiltinsAdditional: []string{"foo"}}, fooModule().Encode())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	_, err = rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, x uint32) uint32 { return x * 2 }).
		Export("builtin_foo").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("host module: %v", err)
	}

	mod, err := rt.Instantiate(ctx, p.Bytes())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	res, err := mod.ExportedFunction("main").Call(ctx)
	if err != nil {
		t.Fatalf("call main: %v", err)
	}
	if res[0] != 82 {
		t.Errorf("main() = %d, want 82 from the host builtin", res[0])
	}

	// The original body stays exported.
	res, err = mod.ExportedFunction("foo").Call(ctx, 5)
	if err != nil {
		t.Fatalf("call foo: %v", err)
	}
	if res[0] != 6 {
		t.Errorf("foo(5) = %d, want 6", res[0])
	}
}

func TestPatcherReport(t *testing.T) {
	p, err := patcher.New(patcher.Config{BuiltinsAdditional: []string{"a", "b", "a", "nope"}}, pairModule())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := p.Report()
	if r.Candidates != 3 {
		t.Errorf("Candidates = %d, want 3", r.Candidates)
	}
	want := []patcher.Substitution{
		{Name: "a", Import: "builtin_a", OriginalIndex: 0, ImportIndex: 1, BodyIndex: 2},
		{Name: "b", Import: "builtin_b", OriginalIndex: 1, ImportIndex: 0, BodyIndex: 3},
	}
	if !reflect.DeepEqual(r.Substitutions, want) {
		t.Errorf("Substitutions = %+v, want %+v", r.Substitutions, want)
	}
	for _, s := range r.Substitutions {
		if got := p.Module().Imports[s.ImportIndex].Name; got != s.Import {
			t.Errorf("import %d = %q, want %q", s.ImportIndex, got, s.Import)
		}
	}
}

func TestStoreToFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.wasm")
	out := filepath.Join(dir, "out.wasm")
	mapPath := filepath.Join(dir, "builtins.json")
	if err := os.WriteFile(in, fooModule().Encode(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := patcher.FromFile(patcher.Config{
		BuiltinsAdditional:       []string{"foo"},
		BuiltinsMapPath:          mapPath,
		BuiltinsMapOriginalNames: true,
	}, in)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if err := p.StoreToFile(out); err != nil {
		t.Fatalf("StoreToFile: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	m, err := wasm.ParseModule(data)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(m.Imports) != 1 || m.Imports[0].Name != "builtin_foo" {
		t.Errorf("imports = %+v", m.Imports)
	}

	mapData, err := os.ReadFile(mapPath)
	if err != nil {
		t.Fatalf("ReadFile map: %v", err)
	}
	if want := "{\n    \"env\": {\n        \"foo\": \"builtin_foo\"\n    }\n}\n"; string(mapData) != want {
		t.Errorf("map = %q, want %q", mapData, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("directory holds %d entries, want 3 (temp files left behind?)", len(entries))
	}
}

func TestStoreToFileMapFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.wasm")

	p, err := patcher.New(patcher.Config{
		BuiltinsAdditional: []string{"foo"},
		BuiltinsMapPath:    filepath.Join(dir, "no", "such", "builtins.json"),
	}, fooModule())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.StoreToFile(out); !stderrors.Is(err, errors.ErrIO) {
		t.Fatalf("StoreToFile: error = %v, want io", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		t.Errorf("%s left behind after a failed store", e.Name())
	}
}

func TestFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := patcher.FromFile(patcher.Config{}, filepath.Join(dir, "missing.wasm"))
	if !stderrors.Is(err, errors.ErrIO) {
		t.Errorf("missing input: error = %v, want io", err)
	}

	bad := filepath.Join(dir, "bad.wasm")
	if err := os.WriteFile(bad, []byte("not wasm"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err = patcher.FromFile(patcher.Config{}, bad)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidData || e.File != bad {
		t.Errorf("bad input: error = %v, want invalid data for %s", err, bad)
	}

	good := filepath.Join(dir, "good.wasm")
	if err := os.WriteFile(good, fooModule().Encode(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err = patcher.FromFile(patcher.Config{BuiltinsPath: filepath.Join(dir, "missing.so")}, good)
	if !stderrors.Is(err, errors.ErrIO) {
		t.Errorf("missing builtins: error = %v, want io", err)
	}
}
