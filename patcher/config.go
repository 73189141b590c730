package patcher

import (
	"bytes"
	stderrors "errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasmonkey/errors"
)

// Config selects the builtins to substitute and where the map goes.
type Config struct {
	// BuiltinsPath is an ELF or Mach-O object whose exported function
	// symbols are substitution candidates. Optional.
	BuiltinsPath string `yaml:"builtins_path"`

	// BuiltinsMapPath receives the builtins map when set.
	BuiltinsMapPath string `yaml:"builtins_map_path"`

	// BuiltinsAdditional lists candidate names on top of the object's
	// symbols.
	BuiltinsAdditional []string `yaml:"builtins_additional"`

	// BuiltinsMapOriginalNames keys the map by original function names
	// instead of import names.
	BuiltinsMapOriginalNames bool `yaml:"builtins_map_original_names"`
}

// LoadConfig reads a YAML config file. Unknown keys are rejected and an
// empty file yields the zero Config.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.IO(errors.PhaseConfig, path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			File(path).
			Cause(err).
			Detail("invalid config file").
			Build()
	}
	return cfg, nil
}

// Merge returns c with the non-zero fields of override applied. Additional
// builtin names are concatenated, c's first.
func (c Config) Merge(override Config) Config {
	out := c
	if override.BuiltinsPath != "" {
		out.BuiltinsPath = override.BuiltinsPath
	}
	if override.BuiltinsMapPath != "" {
		out.BuiltinsMapPath = override.BuiltinsMapPath
	}
	if override.BuiltinsMapOriginalNames {
		out.BuiltinsMapOriginalNames = true
	}
	out.BuiltinsAdditional = append(append([]string(nil), c.BuiltinsAdditional...), override.BuiltinsAdditional...)
	return out
}
