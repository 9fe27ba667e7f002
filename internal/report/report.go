// Package report is the command-line driver: it opens the image, runs the
// extraction pipeline, and renders a human-readable report.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"esmdig/analyze"
	"esmdig/carve"
	"esmdig/common"
	"esmdig/coverage"
	"esmdig/esm"
	"esmdig/strpool"
)

// Config mirrors the command line arguments of the esmdig binary.
type Config struct {
	ImagePath    string
	RegistryPath string   // optional YAML signature file merged over the builtins
	Types        []string // carve class names; empty means all
	StringsOnly  bool
	MinStringLen int
	Verbose      bool
	NoTimePrint  bool
	OutputWriter io.Writer
}

// Run executes one extraction over cfg.ImagePath and writes the report.
func Run(ctx context.Context, cfg Config) error {
	w := cfg.OutputWriter
	if w == nil {
		w = os.Stdout
	}

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}

	src, err := common.OpenFileSource(cfg.ImagePath)
	if err != nil {
		return err
	}
	defer src.Close()

	fmt.Fprintf(w, "esmdig : reading image %s (%d bytes)\n", cfg.ImagePath, src.Size())

	start := time.Now()
	var res *analyze.Result
	if cfg.StringsOnly {
		res, err = analyze.ExtractStringPoolOnly(ctx, src, opts)
	} else {
		res, err = analyze.Analyze(ctx, src, opts)
	}
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	if res.Diagnostics.Cancelled {
		fmt.Fprintln(w, "esmdig : run cancelled, reporting partial results")
	}

	if cfg.StringsOnly {
		printStrings(w, res.Strings)
	} else {
		printCarved(w, res.Carved)
		printRecords(w, analyze.Reconstruct(res, opts.Logger))
		printStrings(w, res.Strings)
		printCoverage(w, res)
	}
	printDiagnostics(w, &res.Diagnostics, cfg.Verbose)

	if !cfg.NoTimePrint {
		fmt.Fprintf(w, "elapsed: %v\n", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func buildOptions(cfg Config) (analyze.Options, error) {
	var opts analyze.Options

	if len(cfg.Types) > 0 {
		opts.TypeFilter = make(map[carve.Class]bool)
		for _, name := range cfg.Types {
			class, err := carve.ParseClass(strings.TrimSpace(name))
			if err != nil {
				return opts, err
			}
			opts.TypeFilter[class] = true
		}
	}

	if cfg.RegistryPath != "" {
		doc, err := os.ReadFile(cfg.RegistryPath)
		if err != nil {
			return opts, fmt.Errorf("read registry: %w", err)
		}
		reg := carve.NewRegistry()
		if err := reg.MergeYAML(doc); err != nil {
			return opts, err
		}
		opts.Registry = reg
	}

	if cfg.MinStringLen > 0 {
		opts.Strings.MinLength = cfg.MinStringLen
	}
	if cfg.Verbose {
		opts.Verbose = true
		opts.Logger = common.NewStdLogger(common.SeverityDebug)
		opts.Progress = func(ev common.ProgressEvent) {
			if ev.Terminal {
				return
			}
			fmt.Fprintf(os.Stderr, "%s: 0x%X / 0x%X\n",
				ev.CurrentItem, ev.ItemsProcessed, ev.TotalItems)
		}
	}
	return opts, nil
}

func printCarved(w io.Writer, entries []carve.Entry) {
	fmt.Fprintf(w, "\ncarved assets: %d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  0x%08X  %-10s %-16s %8d bytes  conf=%.2f  blake3=%x\n",
			e.Offset, e.Class, e.Signature, e.Length, e.Confidence, e.Digest[:8])
	}
}

func printRecords(w io.Writer, sem *esm.SemanticResult) {
	fmt.Fprintf(w, "\ndatabase records: %d recovered, %d distinct\n",
		sem.TotalRecords, len(sem.Semantic))
	for _, rec := range sem.Semantic {
		fmt.Fprintf(w, "  %s %s  %q\n", rec.Type, rec.FormID, rec.DisplayLabel())
		for ref := range sem.Resolver.Refs(rec.FormID) {
			fmt.Fprintf(w, "    %s -> %s\n", ref.Field, sem.Resolver.Label(ref.Target))
		}
	}
}

func printStrings(w io.Writer, entries []strpool.Entry) {
	fmt.Fprintf(w, "\nstring pool: %d entries\n", len(entries))
	for _, s := range entries {
		if s.Provenance != "" {
			fmt.Fprintf(w, "  0x%08X  %-40q near %s\n", s.Offset, s.Text, s.Provenance)
		} else {
			fmt.Fprintf(w, "  0x%08X  %q\n", s.Offset, s.Text)
		}
	}
}

func printCoverage(w io.Writer, res *analyze.Result) {
	var claimed int64
	byKind := map[coverage.Kind]int64{}
	for _, c := range res.Coverage {
		claimed += c.Range.Len()
		byKind[c.Kind] += c.Range.Len()
	}
	fmt.Fprintf(w, "\ncoverage: %d bytes claimed (records %d, carved %d, strings %d)\n",
		claimed, byKind[coverage.KindRecord], byKind[coverage.KindCarvedFile],
		byKind[coverage.KindStringPool])

	var gaps int
	var gapBytes int64
	for g := range res.Gaps() {
		gaps++
		gapBytes += g.Len()
	}
	fmt.Fprintf(w, "unclaimed: %d bytes across %d gaps\n", gapBytes, gaps)
}

func printDiagnostics(w io.Writer, d *common.Diagnostics, verbose bool) {
	fmt.Fprintf(w, "\ndiagnostics: %d carve candidates (%d accepted, %d rejected, %d collided), "+
		"%d record headers (%d parsed, %d rejected, %d duplicate ids), %d strings\n",
		d.CandidatesSeen, d.Accepted, d.RejectedCarve, d.Collided,
		d.HeadersSeen, d.RecordsParsed, d.RecordsRejected, d.DuplicateFormIDs,
		d.StringsFound)
	if verbose {
		for _, e := range d.Entries {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}
