package patcher

import (
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/wasmonkey/errors"
	"github.com/wippyai/wasmonkey/symbols"
	"github.com/wippyai/wasmonkey/wasm"
)

// Patcher holds a module that has been patched according to a Config.
type Patcher struct {
	module      *wasm.Module
	builtinsMap *BuiltinsMap
	builtins    []Builtin
	candidates  []string
	config      Config
}

// New patches m in place. Candidate names are the exported function
// symbols of config.BuiltinsPath followed by config.BuiltinsAdditional,
// with repeats removed.
func New(config Config, m *wasm.Module) (*Patcher, error) {
	names, err := candidateNames(config)
	if err != nil {
		return nil, err
	}

	builtins, err := ResolveBuiltins(m, names)
	if err != nil {
		return nil, err
	}
	Logger().Debug("resolved builtins",
		zap.Int("candidates", len(names)),
		zap.Int("matched", len(builtins)))

	bm, err := PatchBuiltins(m, builtins)
	if err != nil {
		return nil, err
	}
	if err := m.ValidateFunctionIndices(); err != nil {
		return nil, errors.Wrap(errors.PhasePatch, errors.KindInternal, err, "patched module has inconsistent function indices")
	}

	return &Patcher{
		module:      m,
		builtinsMap: bm,
		builtins:    builtins,
		candidates:  names,
		config:      config,
	}, nil
}

// FromBytes parses a binary module and patches it.
func FromBytes(config Config, data []byte) (*Patcher, error) {
	m, err := wasm.ParseModule(data)
	if err != nil {
		return nil, errors.ParseFailed(errors.PhaseParse, "module", err)
	}
	return New(config, m)
}

// FromFile reads, parses and patches the module at path.
func FromFile(config Config, path string) (*Patcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseRead, path, err)
	}
	p, err := FromBytes(config, data)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.File == "" && e.Phase == errors.PhaseParse {
			e.File = path
		}
		return nil, err
	}
	return p, nil
}

// Module returns the patched module.
func (p *Patcher) Module() *wasm.Module { return p.module }

// BuiltinsMap returns the map of substituted builtins.
func (p *Patcher) BuiltinsMap() *BuiltinsMap { return p.builtinsMap }

// Bytes encodes the patched module.
func (p *Patcher) Bytes() []byte {
	return p.module.Encode()
}

// StoreToFile writes the patched module to path and, when the config names
// one, the builtins map. Both outputs are encoded and staged next to their
// destinations before either is replaced, so a failure while encoding or
// writing leaves no output behind.
func (p *Patcher) StoreToFile(path string) error {
	data := p.Bytes()
	var mapData []byte
	if p.config.BuiltinsMapPath != "" {
		var err error
		if mapData, err = p.builtinsMap.Encode(p.config.BuiltinsMapOriginalNames); err != nil {
			return err
		}
	}

	module, err := stageFile(path, data)
	if err != nil {
		return err
	}
	defer module.discard()

	var bmFile *stagedFile
	if mapData != nil {
		if bmFile, err = stageFile(p.config.BuiltinsMapPath, mapData); err != nil {
			return err
		}
		defer bmFile.discard()
	}

	if err := module.commit(); err != nil {
		return err
	}
	Logger().Debug("wrote patched module",
		zap.String("path", path),
		zap.Int("bytes", len(data)))

	if bmFile == nil {
		return nil
	}
	if err := bmFile.commit(); err != nil {
		return err
	}
	Logger().Debug("wrote builtins map",
		zap.String("path", p.config.BuiltinsMapPath),
		zap.Int("entries", p.builtinsMap.Len()),
		zap.Bool("original_names", p.config.BuiltinsMapOriginalNames))
	return nil
}

// Substitution describes where one builtin ended up.
type Substitution struct {
	Name          string
	Import        string
	OriginalIndex uint32 // Function index before patching
	ImportIndex   uint32 // Function index of the new import
	BodyIndex     uint32 // Function index of the original body after patching
}

// Report summarizes a patch run.
type Report struct {
	Substitutions []Substitution
	Candidates    int
}

// Report describes the substitutions made by the patcher.
func (p *Patcher) Report() Report {
	n := uint32(len(p.builtins))
	r := Report{
		Candidates:    len(p.candidates),
		Substitutions: make([]Substitution, len(p.builtins)),
	}
	for i, b := range p.builtins {
		r.Substitutions[i] = Substitution{
			Name:          b.Name,
			Import:        b.ImportName(),
			OriginalIndex: *b.OriginalFunctionID,
			ImportIndex:   n - 1 - uint32(i),
			BodyIndex:     *b.OriginalFunctionID + n,
		}
	}
	return r
}

func candidateNames(config Config) ([]string, error) {
	var names []string
	if config.BuiltinsPath != "" {
		syms, err := symbols.ExtractFile(config.BuiltinsPath)
		if err != nil {
			return nil, err
		}
		names = symbols.Names(syms)
		Logger().Debug("extracted builtin candidates",
			zap.String("path", config.BuiltinsPath),
			zap.Int("symbols", len(names)))
	}
	names = append(names, config.BuiltinsAdditional...)
	return dedup(names), nil
}

// dedup removes repeated names, keeping the first occurrence.
func dedup(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
