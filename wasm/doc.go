// Package wasm reads and writes WebAssembly binary modules for function
// renumbering.
//
// The model decodes only what is needed to move functions around the
// function index space: the type, import, function, global, export, start,
// element and code sections, plus the "name" custom section. Everything else
// (tables, memories, tags, data, other custom sections) is carried as opaque
// payload and written back byte-for-byte in its original position.
//
// # Parsing and encoding
//
//	m, err := wasm.ParseModule(data)
//	if err != nil {
//	    return err
//	}
//	out := m.Encode()
//
// A parsed module remembers its section layout. A Module built in code has
// no layout and is encoded in canonical section order.
//
// # Function references
//
// Function bodies and constant expressions stay raw. FuncRefs walks an
// instruction sequence and reports the immediates of call, return_call and
// ref.func; RewriteFuncRefs replaces those immediates and copies every other
// byte unchanged:
//
//	code, err := wasm.RewriteFuncRefs(body.Code, func(op byte, idx uint32) uint32 {
//	    return idx + 1
//	})
//
// The walker understands the immediates of the core instruction set and of
// the GC, exception handling, tail call, SIMD, threads, bulk memory,
// reference types and multi-memory proposals.
//
// # Validation
//
// ValidateFunctionIndices checks that every function reference addresses a
// slot of the function index space. Validate adds type index and
// function/code count checks. Neither type-checks bodies.
package wasm
