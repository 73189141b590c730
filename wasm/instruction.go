package wasm

import (
	"fmt"

	"github.com/wippyai/wasmonkey/wasm/internal/binary"
)

// FuncRef locates a function-index immediate inside an instruction sequence.
type FuncRef struct {
	Offset int // Offset of the LEB128 immediate within the sequence
	Len    int // Encoded length of the immediate
	Index  uint32
	Opcode byte // OpCall, OpReturnCall or OpRefFunc
}

// FuncRefs lists the function-index immediates of call, return_call and
// ref.func instructions in code, in order of appearance.
func FuncRefs(code []byte) ([]FuncRef, error) {
	r := binary.NewReader(code)
	var refs []FuncRef
	for r.Len() > 0 {
		op, _ := r.ReadByte()
		switch op {
		case OpCall, OpReturnCall, OpRefFunc:
			start := r.Position()
			idx, err := r.ReadU32()
			if err != nil {
				return nil, r.WrapError("instruction", err)
			}
			refs = append(refs, FuncRef{Opcode: op, Offset: start, Len: r.Position() - start, Index: idx})
		default:
			if err := skipImmediates(r, op); err != nil {
				return nil, r.WrapError(fmt.Sprintf("opcode 0x%02x", op), err)
			}
		}
	}
	return refs, nil
}

// RewriteFuncRefs returns a copy of code in which each function-index
// immediate is replaced by fn(opcode, index). Every other byte, including
// immediates that fn leaves unchanged, is copied verbatim.
func RewriteFuncRefs(code []byte, fn func(op byte, idx uint32) uint32) ([]byte, error) {
	refs, err := FuncRefs(code)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return code, nil
	}

	out := make([]byte, 0, len(code)+len(refs))
	last := 0
	for _, ref := range refs {
		out = append(out, code[last:ref.Offset]...)
		end := ref.Offset + ref.Len
		if idx := fn(ref.Opcode, ref.Index); idx != ref.Index {
			out = binary.AppendU32(out, idx)
		} else {
			out = append(out, code[ref.Offset:end]...)
		}
		last = end
	}
	return append(out, code[last:]...), nil
}

// readConstExpr consumes a constant expression up to and including its
// end opcode and returns its raw bytes.
func readConstExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if op == OpEnd {
			return r.Since(start), nil
		}
		if err := skipImmediates(r, op); err != nil {
			return nil, err
		}
	}
}

// skipImmediates reads past the immediates of op, which has already been
// consumed.
func skipImmediates(r *binary.Reader, op byte) error {
	switch {
	case op >= OpI32Load && op <= OpI64Store32:
		return skipMemArg(r)
	case op >= OpI32Eqz && op <= OpI64Extend32S:
		return nil
	}

	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpThrowRef, OpCatchAll,
		OpDrop, OpSelect, OpRefIsNull, OpRefAsNonNull, OpRefEq:
		return nil

	case OpBlock, OpLoop, OpIf, OpTry:
		return skipBlockType(r)

	case OpTryTable:
		if err := skipBlockType(r); err != nil {
			return err
		}
		return skipCatches(r)

	case OpBr, OpBrIf, OpCatch, OpThrow, OpRethrow, OpDelegate,
		OpCallRef, OpReturnCallRef, OpBrOnNull, OpBrOnNonNull,
		OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet,
		OpTableGet, OpTableSet, OpMemorySize, OpMemoryGrow,
		OpCall, OpReturnCall, OpRefFunc:
		return skipU32s(r, 1)

	case OpBrTable:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		return skipU32s(r, int(n)+1)

	case OpCallIndirect, OpReturnCallIndirect:
		return skipU32s(r, 2)

	case OpSelectType:
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if err := skipValType(r); err != nil {
				return err
			}
		}
		return nil

	case OpI32Const:
		return r.SkipLEB(5)
	case OpI64Const:
		return r.SkipLEB(10)
	case OpF32Const:
		return r.Skip(4)
	case OpF64Const:
		return r.Skip(8)

	case OpRefNull:
		return r.SkipLEB(5)

	case OpPrefixMisc:
		return skipMiscImmediates(r)
	case OpPrefixSIMD:
		return skipSIMDImmediates(r)
	case OpPrefixAtomic:
		return skipAtomicImmediates(r)
	case OpPrefixGC:
		return skipGCImmediates(r)
	}

	return fmt.Errorf("unknown opcode 0x%02x", op)
}

func skipU32s(r *binary.Reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

// skipBlockType reads a block type: an s33 that is either negative (the
// empty type 0x40 or a value type, where 0x63 and 0x64 carry a heap type) or
// a non-negative type index.
func skipBlockType(r *binary.Reader) error {
	bt, err := r.ReadS33()
	if err != nil {
		return err
	}
	if bt == refTypeS33(ValRefNull) || bt == refTypeS33(ValRef) {
		_, err = r.ReadS33()
		return err
	}
	return nil
}

// refTypeS33 is the value a single-byte type code takes when read as s33.
func refTypeS33(t ValType) int64 {
	return int64(t) - 0x80
}

func skipValType(r *binary.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b == byte(ValRefNull) || b == byte(ValRef) {
		return r.SkipLEB(5)
	}
	return nil
}

// skipCatches reads the catch clauses of try_table. Kinds 0 and 1 carry a
// tag index and a label, kinds 2 and 3 only a label.
func skipCatches(r *binary.Reader) error {
	n, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch kind {
		case 0x00, 0x01:
			err = skipU32s(r, 2)
		case 0x02, 0x03:
			err = skipU32s(r, 1)
		default:
			err = fmt.Errorf("invalid catch kind 0x%02x", kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// skipMemArg reads alignment, an optional memory index (multi-memory sets
// bit 6 of the alignment) and the offset.
func skipMemArg(r *binary.Reader) error {
	align, err := r.ReadU32()
	if err != nil {
		return err
	}
	if align&0x40 != 0 {
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	}
	_, err = r.ReadU64()
	return err
}

func skipMiscImmediates(r *binary.Reader) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	switch {
	case sub <= MiscI64TruncSatF64U:
		return nil
	case sub == MiscMemoryInit, sub == MiscMemoryCopy, sub == MiscTableInit, sub == MiscTableCopy:
		return skipU32s(r, 2)
	case sub == MiscDataDrop, sub == MiscMemoryFill, sub == MiscElemDrop,
		sub == MiscTableGrow, sub == MiscTableSize, sub == MiscTableFill, sub == MiscMemoryDiscard:
		return skipU32s(r, 1)
	}
	return fmt.Errorf("unknown 0xfc sub-opcode %d", sub)
}

func skipSIMDImmediates(r *binary.Reader) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	switch {
	case sub <= SimdV128Load64Splat || sub == SimdV128Store:
		return skipMemArg(r)
	case sub == SimdV128Const, sub == SimdI8x16Shuffle:
		return r.Skip(16)
	case sub >= SimdI8x16ExtractLaneS && sub <= SimdF64x2ReplaceLane:
		return r.Skip(1)
	case sub >= SimdV128Load8Lane && sub <= SimdV128Store64Lane:
		if err := skipMemArg(r); err != nil {
			return err
		}
		return r.Skip(1)
	case sub == SimdV128Load32Zero || sub == SimdV128Load64Zero:
		return skipMemArg(r)
	}
	return nil
}

func skipAtomicImmediates(r *binary.Reader) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	if sub == AtomicFence {
		return r.Skip(1)
	}
	return skipMemArg(r)
}

func skipGCImmediates(r *binary.Reader) error {
	sub, err := r.ReadU32()
	if err != nil {
		return err
	}
	switch sub {
	case GCStructNew, GCStructNewDefault, GCArrayNew, GCArrayNewDefault,
		GCArrayGet, GCArrayGetS, GCArrayGetU, GCArraySet, GCArrayFill:
		return skipU32s(r, 1)
	case GCStructGet, GCStructGetS, GCStructGetU, GCStructSet,
		GCArrayNewFixed, GCArrayNewData, GCArrayInitData,
		GCArrayNewElem, GCArrayInitElem, GCArrayCopy:
		return skipU32s(r, 2)
	case GCRefTest, GCRefTestNull, GCRefCast, GCRefCastNull:
		return r.SkipLEB(5)
	case GCBrOnCast, GCBrOnCastFail:
		// castflags, label, two heap types
		if err := r.Skip(1); err != nil {
			return err
		}
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		if err := r.SkipLEB(5); err != nil {
			return err
		}
		return r.SkipLEB(5)
	case GCArrayLen, GCAnyConvertExtern, GCExternConvertAny, GCRefI31, GCI31GetS, GCI31GetU:
		return nil
	}
	return fmt.Errorf("unknown 0xfb sub-opcode %d", sub)
}
