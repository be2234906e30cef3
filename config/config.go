// Package config holds the run options, their TOML file form and the fatal
// pre-run validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"snapmatch/placer"
)

// Options is everything one run needs. The CLI fills it from flags, with an
// optional TOML file supplying defaults for the tuning knobs.
type Options struct {
	RawDir    string `toml:"raw"`
	EditedDir string `toml:"edited"`
	OutDir    string `toml:"out"`

	// MaxDistance is the largest Hamming distance still accepted as a match.
	MaxDistance int `toml:"max_distance"`

	// Workers is the fingerprinting fan-out; 0 means pick automatically.
	Workers int `toml:"workers"`

	Mode               string `toml:"mode"`
	CachePath          string `toml:"cache"`
	NoCache            bool   `toml:"no_cache"`
	ReportXLSX         bool   `toml:"report_xlsx"`
	PreserveRawSubdirs bool   `toml:"preserve_raw_subdirs"`
	DryRun             bool   `toml:"dry_run"`
	LogFile            string `toml:"log_file"`
	Verbose            bool   `toml:"verbose"`
}

// Default returns the options the CLI starts from.
func Default() Options {
	return Options{
		MaxDistance: 3,
		Mode:        string(placer.ModeCopy),
	}
}

// LoadFile layers a TOML file over opts. Unknown keys are rejected so typos
// do not silently fall back to defaults.
func LoadFile(path string, opts *Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Normalize resolves paths and fills derived defaults. Call after flags and
// file are merged, before Validate.
func (o *Options) Normalize() error {
	for _, p := range []*string{&o.RawDir, &o.EditedDir, &o.OutDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}
	if o.CachePath == "" && o.OutDir != "" {
		o.CachePath = filepath.Join(o.OutDir, "snapmatch_cache.db")
	}
	return nil
}

// Validate rejects unusable configurations. These are the only errors fatal
// to a run, and they fire before any fingerprinting starts.
func (o *Options) Validate() error {
	if err := mustBeDir("--raw", o.RawDir); err != nil {
		return err
	}
	if err := mustBeDir("--edited", o.EditedDir); err != nil {
		return err
	}
	if o.OutDir == "" {
		return errors.New("--out is required")
	}
	if o.MaxDistance < 0 || o.MaxDistance > 64 {
		return fmt.Errorf("--max-distance must be between 0 and 64, got %d", o.MaxDistance)
	}
	if o.Workers < 0 {
		return fmt.Errorf("--workers must not be negative, got %d", o.Workers)
	}
	if _, err := placer.ParseMode(o.Mode); err != nil {
		return err
	}
	return nil
}

func mustBeDir(flag, path string) error {
	if path == "" {
		return fmt.Errorf("%s is required", flag)
	}
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", flag, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%s: %s is not a directory", flag, path)
	}
	return nil
}
