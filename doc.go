// Package wasmonkey turns functions exported by a WebAssembly module into
// imports, so that a host can provide its own implementation of them.
//
// Given a module and a set of candidate names, every exported function whose
// name is a candidate gets an import "env"."builtin_<name>" with the same
// type. All function references in the module are renumbered and calls to
// the original body are redirected to the import. A map from original names
// to import names is produced alongside the module.
//
// Candidate names usually come from a native library: the exported function
// symbols of an ELF shared object or a Mach-O image.
//
// # Architecture Overview
//
//	wasmonkey/
//	├── patcher/         Builtin resolution, import injection, renumbering, builtins map
//	├── symbols/         Exported function symbols from ELF and Mach-O objects
//	├── wasm/            Layout-preserving module parsing and encoding
//	├── errors/          Structured error types with phases and kinds
//	└── cmd/wasmonkey/   Command line tool
//
// # Quick Start
//
//	p, err := patcher.FromFile(patcher.Config{
//	    BuiltinsPath:    "libbuiltins.so",
//	    BuiltinsMapPath: "builtins.json",
//	}, "app.wasm")
//	if err != nil {
//	    return err
//	}
//	if err := p.StoreToFile("app.patched.wasm"); err != nil {
//	    return err
//	}
//
// # Index Renumbering
//
// Builtins are processed one at a time, in order. Each one prepends an
// import, which takes function index 0 and moves every other function up by
// one. After processing [b0 ... bk] the imports at indices 0..k belong to
// bk ... b0. Exports and table entries keep pointing at the original bodies,
// which stay in the module.
//
// # Error Handling
//
// Errors are *errors.Error values carrying the phase and kind of failure:
//
//	if errors.Is(err, wmerrors.ErrUnsupported) {
//	    // object file is neither ELF nor Mach-O
//	}
package wasmonkey
