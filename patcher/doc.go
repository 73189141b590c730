// Package patcher turns exported functions of a WebAssembly module into
// imports.
//
// A builtin is a function the module both defines and exports, and that a
// host wants to provide instead. For each builtin the patcher prepends an
// import "env"."builtin_<name>" with the function's type, renumbers every
// function reference in the module and points the module's calls to the
// original body at the new import. The original body and its export remain
// in place.
//
//	p, err := patcher.FromFile(patcher.Config{
//	    BuiltinsPath:    "libbuiltins.so",
//	    BuiltinsMapPath: "builtins.json",
//	}, "input.wasm")
//	if err != nil {
//	    return err
//	}
//	err = p.StoreToFile("output.wasm")
//
// The lower level steps are exported as well: ResolveBuiltins,
// PatchBuiltins, ShiftFunctionIDs, ReplaceFunctionID and DisableFunctionID.
package patcher
