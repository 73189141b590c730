package wasm

import (
	"fmt"

	"github.com/wippyai/wasmonkey/wasm/internal/binary"
)

// NameSection is the decoded "name" custom section.
//
// The module (0), function (1), local (2) and label (3) subsections are
// decoded. Any other subsection is kept raw in Other. Subsections are
// re-encoded in the order they were read.
type NameSection struct {
	ModuleName    string
	FunctionNames NameMap
	LocalNames    IndirectNameMap
	LabelNames    IndirectNameMap
	Other         []NameSubsection

	// order holds subsection IDs as read; nil for sections built in code.
	order []byte
}

// NameAssoc associates an index with a name.
type NameAssoc struct {
	Name  string
	Index uint32
}

// NameMap is a list of names in ascending index order.
type NameMap []NameAssoc

// IndirectNameAssoc associates a function index with a map of names.
type IndirectNameAssoc struct {
	Names NameMap
	Index uint32
}

// IndirectNameMap is a list of per-function name maps in ascending function
// index order.
type IndirectNameMap []IndirectNameAssoc

// NameSubsection is a subsection kept verbatim.
type NameSubsection struct {
	Data []byte
	ID   byte
}

// Lookup returns the name recorded for idx.
func (nm NameMap) Lookup(idx uint32) (string, bool) {
	for _, a := range nm {
		if a.Index == idx {
			return a.Name, true
		}
	}
	return "", false
}

// FunctionName returns the debug name of function idx.
func (n *NameSection) FunctionName(idx uint32) (string, bool) {
	return n.FunctionNames.Lookup(idx)
}

// PrependFunctionName assigns name to function index 0 and moves every
// existing function, local and label name entry up by one function index.
// A function-name subsection is created if the section lacks one.
func (n *NameSection) PrependFunctionName(name string) {
	fns := make(NameMap, 0, len(n.FunctionNames)+1)
	fns = append(fns, NameAssoc{Index: 0, Name: name})
	for _, a := range n.FunctionNames {
		fns = append(fns, NameAssoc{Index: a.Index + 1, Name: a.Name})
	}
	n.FunctionNames = fns

	for i := range n.LocalNames {
		n.LocalNames[i].Index++
	}
	for i := range n.LabelNames {
		n.LabelNames[i].Index++
	}

	if n.order != nil && !n.hasSubsection(NameSubsectionFunction) {
		n.insertSubsection(NameSubsectionFunction)
	}
}

func (n *NameSection) hasSubsection(id byte) bool {
	for _, o := range n.order {
		if o == id {
			return true
		}
	}
	return false
}

// insertSubsection places id before the first recorded subsection with a
// larger ID.
func (n *NameSection) insertSubsection(id byte) {
	pos := len(n.order)
	for i, o := range n.order {
		if o > id {
			pos = i
			break
		}
	}
	order := make([]byte, 0, len(n.order)+1)
	order = append(order, n.order[:pos]...)
	order = append(order, id)
	n.order = append(order, n.order[pos:]...)
}

func parseNameSection(data []byte) (*NameSection, error) {
	r := binary.NewReader(data)
	n := &NameSection{order: []byte{}}

	for r.Len() > 0 {
		id, _ := r.ReadByte()
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("name subsection size", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError(fmt.Sprintf("name subsection %d", id), err)
		}
		if id <= NameSubsectionLabel && n.hasSubsection(id) {
			return nil, fmt.Errorf("duplicate name subsection %d", id)
		}

		sr := binary.NewReader(payload)
		switch id {
		case NameSubsectionModule:
			n.ModuleName, err = sr.ReadName()
		case NameSubsectionFunction:
			n.FunctionNames, err = readNameMap(sr)
		case NameSubsectionLocal:
			n.LocalNames, err = readIndirectNameMap(sr)
		case NameSubsectionLabel:
			n.LabelNames, err = readIndirectNameMap(sr)
		default:
			n.Other = append(n.Other, NameSubsection{ID: id, Data: payload})
		}
		if err != nil {
			return nil, fmt.Errorf("name subsection %d: %w", id, err)
		}
		if id <= NameSubsectionLabel && sr.Len() != 0 {
			return nil, fmt.Errorf("name subsection %d: %d trailing bytes", id, sr.Len())
		}
		n.order = append(n.order, id)
	}
	return n, nil
}

func readNameMap(r *binary.Reader) (NameMap, error) {
	count, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	nm := make(NameMap, 0, count)
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		nm = append(nm, NameAssoc{Index: idx, Name: name})
	}
	return nm, nil
}

func readIndirectNameMap(r *binary.Reader) (IndirectNameMap, error) {
	count, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	im := make(IndirectNameMap, 0, count)
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		names, err := readNameMap(r)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", idx, err)
		}
		im = append(im, IndirectNameAssoc{Index: idx, Names: names})
	}
	return im, nil
}

// Encode serializes the name section payload, without the section name.
func (n *NameSection) Encode() []byte {
	w := binary.NewWriter()

	order := n.order
	if order == nil {
		if n.ModuleName != "" {
			order = append(order, NameSubsectionModule)
		}
		if n.FunctionNames != nil {
			order = append(order, NameSubsectionFunction)
		}
		if n.LocalNames != nil {
			order = append(order, NameSubsectionLocal)
		}
		if n.LabelNames != nil {
			order = append(order, NameSubsectionLabel)
		}
		for range n.Other {
			order = append(order, 0xFF)
		}
	}

	other := 0
	for _, id := range order {
		sub := binary.NewWriter()
		switch id {
		case NameSubsectionModule:
			sub.WriteName(n.ModuleName)
		case NameSubsectionFunction:
			writeNameMap(sub, n.FunctionNames)
		case NameSubsectionLocal:
			writeIndirectNameMap(sub, n.LocalNames)
		case NameSubsectionLabel:
			writeIndirectNameMap(sub, n.LabelNames)
		default:
			raw := n.Other[other]
			other++
			w.WriteSection(raw.ID, raw.Data)
			continue
		}
		w.WriteSection(id, sub.Bytes())
	}
	return w.Bytes()
}

func writeNameMap(w *binary.Writer, nm NameMap) {
	w.WriteU32(uint32(len(nm)))
	for _, a := range nm {
		w.WriteU32(a.Index)
		w.WriteName(a.Name)
	}
}

func writeIndirectNameMap(w *binary.Writer, im IndirectNameMap) {
	w.WriteU32(uint32(len(im)))
	for _, a := range im {
		w.WriteU32(a.Index)
		writeNameMap(w, a.Names)
	}
}
