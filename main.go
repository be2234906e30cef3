// Command snapmatch matches edited images to their closest raw originals
// by perceptual difference hash and places the matched originals into an
// output folder alongside an auditable mapping report.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"snapmatch/cache"
	"snapmatch/config"
	"snapmatch/hashing"
	"snapmatch/imageprocessor"
	"snapmatch/logging"
	"snapmatch/matcher"
	"snapmatch/placer"
	"snapmatch/report"
	"snapmatch/runenv"
	"snapmatch/scanner"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "snapmatch:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.Default()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "snapmatch",
		Short:         "Match edited images to their closest raw originals",
		Long:          "snapmatch fingerprints every image with a 64-bit difference hash,\nfinds the nearest raw original for each edited image and copies or\nlinks the originals into an output folder with a mapping report.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				if err := mergeConfigFile(cmd, &opts, cfgFile); err != nil {
					return err
				}
			}
			if err := opts.Normalize(); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.RawDir, "raw", opts.RawDir, "folder with raw/original images (scanned recursively)")
	f.StringVar(&opts.EditedDir, "edited", opts.EditedDir, "folder with edited images (scanned recursively)")
	f.StringVar(&opts.OutDir, "out", opts.OutDir, "output folder for matched originals and reports")
	f.IntVar(&opts.MaxDistance, "max-distance", opts.MaxDistance, "maximum Hamming distance accepted as a match")
	f.IntVar(&opts.Workers, "workers", opts.Workers, "fingerprinting workers (0 = auto, 1 = sequential)")
	f.StringVar(&opts.Mode, "mode", opts.Mode, "how to place matched files: copy, hardlink or symlink")
	f.StringVar(&opts.CachePath, "cache", opts.CachePath, "fingerprint cache database (default <out>/snapmatch_cache.db)")
	f.BoolVar(&opts.NoCache, "no-cache", opts.NoCache, "disable the fingerprint cache")
	f.BoolVar(&opts.ReportXLSX, "report-xlsx", opts.ReportXLSX, "also write mapping.xlsx")
	f.BoolVar(&opts.PreserveRawSubdirs, "preserve-raw-subdirs", opts.PreserveRawSubdirs, "mirror the raw folder's subdirectories in the output")
	f.BoolVar(&opts.DryRun, "dry-run", opts.DryRun, "only generate reports, do not place files")
	f.StringVar(&opts.LogFile, "log-file", opts.LogFile, "append a JSON log to this file")
	f.BoolVar(&opts.Verbose, "verbose", opts.Verbose, "debug logging")
	f.StringVar(&cfgFile, "config", "", "TOML file with option defaults")

	return cmd
}

// mergeConfigFile layers file values under explicitly set flags: defaults <
// config file < flags.
func mergeConfigFile(cmd *cobra.Command, opts *config.Options, path string) error {
	fileOpts := *opts
	if err := config.LoadFile(path, &fileOpts); err != nil {
		return err
	}
	f := cmd.Flags()
	if !f.Changed("raw") {
		opts.RawDir = fileOpts.RawDir
	}
	if !f.Changed("edited") {
		opts.EditedDir = fileOpts.EditedDir
	}
	if !f.Changed("out") {
		opts.OutDir = fileOpts.OutDir
	}
	if !f.Changed("max-distance") {
		opts.MaxDistance = fileOpts.MaxDistance
	}
	if !f.Changed("workers") {
		opts.Workers = fileOpts.Workers
	}
	if !f.Changed("mode") {
		opts.Mode = fileOpts.Mode
	}
	if !f.Changed("cache") {
		opts.CachePath = fileOpts.CachePath
	}
	if !f.Changed("no-cache") {
		opts.NoCache = fileOpts.NoCache
	}
	if !f.Changed("report-xlsx") {
		opts.ReportXLSX = fileOpts.ReportXLSX
	}
	if !f.Changed("preserve-raw-subdirs") {
		opts.PreserveRawSubdirs = fileOpts.PreserveRawSubdirs
	}
	if !f.Changed("dry-run") {
		opts.DryRun = fileOpts.DryRun
	}
	if !f.Changed("log-file") {
		opts.LogFile = fileOpts.LogFile
	}
	if !f.Changed("verbose") {
		opts.Verbose = fileOpts.Verbose
	}
	return nil
}

func run(parent context.Context, opts config.Options) error {
	start := time.Now()

	logger, closeLog, err := logging.Setup(opts.Verbose, opts.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output folder: %w", err)
	}

	ctx, stop := runenv.WithSignalContext(parent)
	defer stop()

	mode, _ := placer.ParseMode(opts.Mode) // validated already

	registry := imageprocessor.NewRegistry(logger)
	defer registry.Close()

	rawPaths, err := scanner.ScanImages(opts.RawDir, logger)
	if err != nil {
		return err
	}
	editedPaths, err := scanner.ScanImages(opts.EditedDir, logger)
	if err != nil {
		return err
	}
	if len(rawPaths) == 0 {
		return errors.New("no images found in the raw folder")
	}
	if len(editedPaths) == 0 {
		return errors.New("no images found in the edited folder")
	}
	logger.Info().
		Int("raw", len(rawPaths)).
		Int("edited", len(editedPaths)).
		Msg("scanned input folders")

	var c *cache.Cache
	if !opts.NoCache {
		c = cache.Open(opts.CachePath, hashing.Version, logger)
		defer c.Close()
	}

	// Only raw fingerprints are cached: the raw collection is the large,
	// stable side, while edited exports change between runs anyway.
	rawResults := hashing.HashAll(ctx, rawPaths, hashing.Pool{
		Workers: opts.Workers,
		Cache:   c,
		Loader:  registry,
		Label:   "hashing raw",
	})
	catalog, cacheHits := buildCatalog(rawResults, logger)
	if len(catalog) == 0 {
		return errors.New("no readable images in the raw folder")
	}

	editedResults := hashing.HashAll(ctx, editedPaths, hashing.Pool{
		Workers: opts.Workers,
		Loader:  registry,
		Label:   "hashing edited",
	})

	matchWorkers := opts.Workers
	if matchWorkers == 0 {
		matchWorkers = runenv.WorkerCount()
	}
	decisions := matcher.MatchAll(ctx, editedResults, catalog, opts.MaxDistance, matchWorkers)

	rows := placeMatches(decisions, opts, mode, logger)

	csvPath := filepath.Join(opts.OutDir, "mapping.csv")
	if err := report.WriteCSV(csvPath, rows); err != nil {
		return err
	}
	if opts.ReportXLSX {
		if err := report.WriteXLSX(filepath.Join(opts.OutDir, "mapping.xlsx"), rows); err != nil {
			return err
		}
	}

	summary := report.Summarize(decisions)
	summary.RawImages = len(catalog)
	summary.CacheHits = cacheHits
	summary.Elapsed = time.Since(start)
	report.RenderSummary(os.Stdout, summary)
	fmt.Println("report:", csvPath)

	logger.Info().
		Int("matched", summary.Matched).
		Int("no_match", summary.NoMatch).
		Int("errors", summary.Errors).
		Dur("elapsed", summary.Elapsed).
		Msg("run complete")
	return ctx.Err()
}

// buildCatalog turns raw fingerprint results into the ordered match catalog,
// dropping (and logging) files that could not be fingerprinted.
func buildCatalog(results []hashing.Result, logger zerolog.Logger) (catalog []hashing.ImageHash, cacheHits int) {
	catalog = make([]hashing.ImageHash, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			logger.Warn().Str("path", r.Path).Err(r.Err).Msg("excluding unreadable raw image")
			continue
		}
		if r.CacheHit {
			cacheHits++
		}
		catalog = append(catalog, hashing.ImageHash{Path: r.Path, Hash: r.Hash})
	}
	return catalog, cacheHits
}

// placeMatches copies/links every matched original into the output tree and
// builds the report rows, one per edited image, in decision order.
func placeMatches(decisions []matcher.Decision, opts config.Options, mode placer.Mode, logger zerolog.Logger) []report.Row {
	rows := make([]report.Row, 0, len(decisions))
	for _, d := range decisions {
		copiedTo := ""
		switch d.Status {
		case matcher.StatusError:
			logger.Warn().Str("path", d.EditedPath).Err(d.Err).Msg("edited image could not be fingerprinted")
		case matcher.StatusMatched:
			if opts.DryRun {
				break
			}
			dir, name := opts.OutDir, filepath.Base(d.RawPath)
			if opts.PreserveRawSubdirs {
				rel := placer.RelativeUnder(opts.RawDir, d.RawPath)
				dir = filepath.Join(opts.OutDir, filepath.Dir(rel))
				name = filepath.Base(rel)
			}
			dst, err := placer.UniqueDest(dir, name)
			if err == nil {
				err = placer.Place(d.RawPath, dst, mode)
			}
			if err != nil {
				logger.Warn().Str("raw", d.RawPath).Err(err).Msg("could not place matched original")
			} else {
				copiedTo = dst
			}
		}
		rows = append(rows, report.NewRow(d, copiedTo))
	}
	return rows
}
