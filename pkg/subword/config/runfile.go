package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/subword/pkg/subword/ingest"
	"github.com/cognicore/subword/pkg/subword/internalerr"
	"github.com/cognicore/subword/pkg/subword/pipeline"
)

// RunFile is the YAML description of a joint learning run. Keys missing from
// the file keep their default values.
type RunFile struct {
	Inputs         []string `yaml:"inputs"`
	Vocabularies   []string `yaml:"vocabularies"`
	Output         string   `yaml:"output"`
	Symbols        int      `yaml:"symbols"`
	MinFrequency   int      `yaml:"min_frequency"`
	SpecialVocab   string   `yaml:"special_vocab"`
	Separator      string   `yaml:"separator"`
	Postpend       bool     `yaml:"postpend"`
	TotalSymbols   bool     `yaml:"total_symbols"`
	CharacterVocab bool     `yaml:"character_vocab"`
	DictInput      bool     `yaml:"dict_input"`
	Verbose        bool     `yaml:"verbose"`
	Workers        int      `yaml:"workers"`
	ScratchDir     string   `yaml:"scratch_dir"`
	// DB is the path of the sqlite run ledger; empty disables recording.
	DB string `yaml:"db"`
}

// DefaultRunFile mirrors pipeline.DefaultConfig.
func DefaultRunFile() RunFile {
	d := pipeline.DefaultConfig()
	return RunFile{
		Symbols:      d.Symbols,
		MinFrequency: d.MinFrequency,
		Separator:    d.Separator,
		Workers:      d.Workers,
	}
}

// LoadRunFile reads a run file. Relative paths inside it are resolved
// against the directory holding the file.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rf := DefaultRunFile()
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse run file %s: %v: %w", path, err, internalerr.ErrInvalidConfig)
	}

	base := filepath.Dir(path)
	for i := range rf.Inputs {
		rf.Inputs[i] = resolve(base, rf.Inputs[i])
	}
	for i := range rf.Vocabularies {
		rf.Vocabularies[i] = resolve(base, rf.Vocabularies[i])
	}
	rf.Output = resolve(base, rf.Output)
	rf.SpecialVocab = resolve(base, rf.SpecialVocab)
	rf.ScratchDir = resolve(base, rf.ScratchDir)
	rf.DB = resolve(base, rf.DB)
	return &rf, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// PipelineConfig converts the run file into pipeline settings. Inputs are
// read from disk.
func (rf *RunFile) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	for _, in := range rf.Inputs {
		cfg.Inputs = append(cfg.Inputs, ingest.FileCorpus(in))
	}
	cfg.VocabPaths = append([]string(nil), rf.Vocabularies...)
	cfg.CodesPath = rf.Output
	cfg.Symbols = rf.Symbols
	cfg.MinFrequency = rf.MinFrequency
	cfg.SpecialVocabPath = rf.SpecialVocab
	cfg.Separator = rf.Separator
	cfg.Postpend = rf.Postpend
	cfg.TotalSymbols = rf.TotalSymbols
	cfg.CharacterVocab = rf.CharacterVocab
	cfg.DictInput = rf.DictInput
	cfg.Verbose = rf.Verbose
	cfg.Workers = rf.Workers
	cfg.ScratchDir = rf.ScratchDir
	return cfg
}
