package patcher

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wippyai/wasmonkey/errors"
)

// BuiltinsMapEntry pairs a substituted function's name with its import name.
type BuiltinsMapEntry struct {
	Original string
	Import   string
}

// BuiltinsMap records the substituted builtins in the order they were
// patched. Original names are unique.
type BuiltinsMap struct {
	index   map[string]int
	entries []BuiltinsMapEntry
}

// NewBuiltinsMap returns an empty map.
func NewBuiltinsMap() *BuiltinsMap {
	return &BuiltinsMap{index: make(map[string]int)}
}

// Insert adds original → importName. It reports false and keeps the
// existing entry when original is already present.
func (bm *BuiltinsMap) Insert(original, importName string) bool {
	if _, ok := bm.index[original]; ok {
		return false
	}
	bm.index[original] = len(bm.entries)
	bm.entries = append(bm.entries, BuiltinsMapEntry{Original: original, Import: importName})
	return true
}

// Lookup returns the import name recorded for original.
func (bm *BuiltinsMap) Lookup(original string) (string, bool) {
	i, ok := bm.index[original]
	if !ok {
		return "", false
	}
	return bm.entries[i].Import, true
}

// Len returns the number of entries.
func (bm *BuiltinsMap) Len() int { return len(bm.entries) }

// Entries returns the entries in insertion order.
func (bm *BuiltinsMap) Entries() []BuiltinsMapEntry {
	return append([]BuiltinsMapEntry(nil), bm.entries...)
}

// Mapping returns the map keyed by original names when originalNames is
// set, and keyed by import names otherwise.
func (bm *BuiltinsMap) Mapping(originalNames bool) map[string]string {
	out := make(map[string]string, len(bm.entries))
	for _, e := range bm.entries {
		if originalNames {
			out[e.Original] = e.Import
		} else {
			out[e.Import] = e.Original
		}
	}
	return out
}

// Encode renders the map as {"env": {key: value}} with sorted keys.
func (bm *BuiltinsMap) Encode(originalNames bool) ([]byte, error) {
	doc := map[string]map[string]string{BuiltinModule: bm.Mapping(originalNames)}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseWrite, errors.KindInternal, err, "encode builtins map")
	}
	return append(data, '\n'), nil
}

// WriteFile stores the encoded map at path, replacing it atomically.
func (bm *BuiltinsMap) WriteFile(path string, originalNames bool) error {
	data, err := bm.Encode(originalNames)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	Logger().Debug("wrote builtins map",
		zap.String("path", path),
		zap.Int("entries", bm.Len()),
		zap.Bool("original_names", originalNames))
	return nil
}
