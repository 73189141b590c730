// Package main provides the wasmonkey command.
//
// wasmonkey turns functions that a WebAssembly module exports into imports
// named "env"."builtin_<name>", so a host can supply them:
//
//	wasmonkey -i app.wasm -o app.patched.wasm -b libbuiltins.so -m builtins.json
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasmonkey/errors"
	"github.com/wippyai/wasmonkey/patcher"
	"github.com/wippyai/wasmonkey/symbols"
)

type options struct {
	input         string
	output        string
	builtins      string
	additional    []string
	builtinsMap   string
	configPath    string
	originalNames bool
	verbose       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "wasmonkey",
		Short: "Transforms WebAssembly exports to imports",
		Long: `wasmonkey replaces functions that a WebAssembly module exports with
imports from the "env" module, named "builtin_<name>".

Candidate names come from the exported function symbols of a native
library (ELF or Mach-O) and from --builtins-additional. Candidates the
module does not export are ignored.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, cmd.ErrOrStderr())
		},
	}

	addFlags(cmd.Flags(), &opts)
	return cmd
}

func addFlags(f *pflag.FlagSet, opts *options) {
	f.StringVarP(&opts.input, "input", "i", "", "Path to the input file")
	f.StringVarP(&opts.output, "output", "o", "", "Path to the output file")
	f.StringVarP(&opts.builtins, "builtins", "b", "", "Path to the builtins library")
	f.StringArrayVarP(&opts.additional, "builtins-additional", "B", nil, "Additional builtins function names to replace")
	f.StringVarP(&opts.builtinsMap, "builtins-map", "m", "", "Path to the builtins map file")
	f.BoolVarP(&opts.originalNames, "original-names", "n", false, "Use the original name as a key in the builtins map")
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log every step")
}

func run(opts options, stderr io.Writer) error {
	if opts.input == "" {
		return errors.Usage("input file required (--input)")
	}
	if opts.output == "" {
		return errors.Usage("output file required (--output)")
	}

	log, err := newLogger(opts.verbose)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInternal, err, "create logger")
	}
	defer func() { _ = log.Sync() }()
	patcher.SetLogger(log.Named("patcher"))
	symbols.SetLogger(log.Named("symbols"))

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log.Debug("patch configuration",
		zap.String("input", opts.input),
		zap.String("output", opts.output),
		zap.String("builtins", cfg.BuiltinsPath),
		zap.Strings("additional", cfg.BuiltinsAdditional),
		zap.String("map", cfg.BuiltinsMapPath),
		zap.Bool("original_names", cfg.BuiltinsMapOriginalNames))

	p, err := patcher.FromFile(cfg, opts.input)
	if err != nil {
		return err
	}
	if err := p.StoreToFile(opts.output); err != nil {
		return err
	}

	if opts.verbose || isTerminal(stderr) {
		_, _ = fmt.Fprint(stderr, renderSummary(opts.output, p.Report()))
	}
	return nil
}

// loadConfig reads the config file, if any, and applies flag values over it.
func loadConfig(opts options) (patcher.Config, error) {
	var cfg patcher.Config
	if opts.configPath != "" {
		var err error
		if cfg, err = patcher.LoadConfig(opts.configPath); err != nil {
			return patcher.Config{}, err
		}
	}
	return cfg.Merge(patcher.Config{
		BuiltinsPath:             opts.builtins,
		BuiltinsMapPath:          opts.builtinsMap,
		BuiltinsMapOriginalNames: opts.originalNames,
		BuiltinsAdditional:       opts.additional,
	}), nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
