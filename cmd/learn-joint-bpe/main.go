// Command learn-joint-bpe learns one BPE codebook over several corpora and
// writes a re-segmented vocabulary for each of them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/cognicore/subword/pkg/subword/config"
	"github.com/cognicore/subword/pkg/subword/metrics"
	"github.com/cognicore/subword/pkg/subword/pipeline"
	"github.com/cognicore/subword/pkg/subword/store/sqlite"
)

// stringList collects the values of a repeated flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type options struct {
	configPath string
	rf         config.RunFile
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("learn-joint-bpe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	klog.InitFlags(fs)

	opts := &options{rf: config.DefaultRunFile()}
	rf := &opts.rf
	inputs := (*stringList)(&rf.Inputs)
	vocabs := (*stringList)(&rf.Vocabularies)

	fs.Var(inputs, "input", "Input corpus; repeat once per language (required)")
	fs.Var(inputs, "i", "Shorthand for --input")
	fs.Var(vocabs, "write-vocabulary", "Vocabulary output; repeat once per input, in input order (required)")
	fs.StringVar(&rf.Output, "output", rf.Output, "Output file for the BPE codes (required)")
	fs.StringVar(&rf.Output, "o", rf.Output, "Shorthand for --output")
	fs.IntVar(&rf.Symbols, "symbols", rf.Symbols, "Create this many new symbols (each representing a character n-gram)")
	fs.IntVar(&rf.Symbols, "s", rf.Symbols, "Shorthand for --symbols")
	fs.IntVar(&rf.MinFrequency, "min-frequency", rf.MinFrequency, "Stop if no symbol pair has frequency >= this")
	fs.StringVar(&rf.SpecialVocab, "special-vocab", rf.SpecialVocab, "File of words, one per line, that should stay unsegmented")
	fs.StringVar(&rf.Separator, "separator", rf.Separator, "Separator between non-final subword units")
	fs.BoolVar(&rf.Postpend, "postpend", rf.Postpend, "Mark word starts instead of word ends")
	fs.BoolVar(&rf.TotalSymbols, "total-symbols", rf.TotalSymbols, "Subtract the number of characters from --symbols")
	fs.BoolVar(&rf.TotalSymbols, "t", rf.TotalSymbols, "Shorthand for --total-symbols")
	fs.BoolVar(&rf.CharacterVocab, "character-vocab", rf.CharacterVocab, "Add every character to each vocabulary")
	fs.BoolVar(&rf.CharacterVocab, "c", rf.CharacterVocab, "Shorthand for --character-vocab")
	fs.BoolVar(&rf.DictInput, "dict-input", rf.DictInput, "Inputs are 'word count' dictionaries instead of text")
	fs.BoolVar(&rf.Verbose, "verbose", rf.Verbose, "Log every merge")
	fs.IntVar(&rf.Workers, "workers", rf.Workers, "Number of corpora re-segmented concurrently")
	fs.StringVar(&rf.ScratchDir, "scratch-dir", rf.ScratchDir, "Directory for temporary segmented text")
	fs.StringVar(&rf.DB, "db", rf.DB, "Optional sqlite ledger recording every run")
	fs.StringVar(&opts.configPath, "config", "", "YAML run file; flags given explicitly override its values")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if opts.configPath != "" {
		loaded, err := config.LoadRunFile(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("load run file: %w", err)
		}
		opts.rf = overrideRunFile(*loaded, opts.rf, fs)
	}
	return opts, nil
}

// overrideRunFile copies every explicitly set flag from flags onto base.
func overrideRunFile(base, flags config.RunFile, fs *flag.FlagSet) config.RunFile {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input", "i":
			base.Inputs = flags.Inputs
		case "write-vocabulary":
			base.Vocabularies = flags.Vocabularies
		case "output", "o":
			base.Output = flags.Output
		case "symbols", "s":
			base.Symbols = flags.Symbols
		case "min-frequency":
			base.MinFrequency = flags.MinFrequency
		case "special-vocab":
			base.SpecialVocab = flags.SpecialVocab
		case "separator":
			base.Separator = flags.Separator
		case "postpend":
			base.Postpend = flags.Postpend
		case "total-symbols", "t":
			base.TotalSymbols = flags.TotalSymbols
		case "character-vocab", "c":
			base.CharacterVocab = flags.CharacterVocab
		case "dict-input":
			base.DictInput = flags.DictInput
		case "verbose":
			base.Verbose = flags.Verbose
		case "workers":
			base.Workers = flags.Workers
		case "scratch-dir":
			base.ScratchDir = flags.ScratchDir
		case "db":
			base.DB = flags.DB
		}
	})
	return base
}

func run(ctx context.Context, opts *options) error {
	cfg := opts.rf.PipelineConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if opts.rf.DB != "" {
		st, err := sqlite.OpenSQLite(ctx, opts.rf.DB)
		if err != nil {
			return fmt.Errorf("open run ledger: %w", err)
		}
		defer st.Close()
		cfg.Store = st
	}

	metrics.Register(prometheus.DefaultRegisterer)
	defer metrics.LogSummary(ctx)

	res, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}
	klog.FromContext(ctx).Info("wrote codes and vocabularies",
		"run", res.RunID, "codes", cfg.CodesPath, "merges", len(res.Codebook), "vocabularies", len(res.Vocabularies))
	return nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = klog.NewContext(ctx, klog.Background().WithName("learn-joint-bpe"))

	if err := run(ctx, opts); err != nil {
		klog.ErrorS(err, "learn-joint-bpe failed")
		klog.Flush()
		stop()
		os.Exit(1)
	}
}
