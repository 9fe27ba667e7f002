// Package analyze drives a full extraction run over one memory image: the
// asset carver and the database record scanner in parallel, then the
// string pool extractor over whatever they left unclaimed, then a single
// coverage reconciliation. The phases are ordered so the outcome depends
// only on the image bytes, never on goroutine scheduling.
package analyze

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"esmdig/carve"
	"esmdig/common"
	"esmdig/coverage"
	"esmdig/esm"
	"esmdig/strpool"
)

// DefaultMaxImageSize bounds the images the engine will open. Console
// memory dumps top out well under this; anything larger is a mistaken
// input, not a dump.
const DefaultMaxImageSize = 4 << 30

// DefaultProximity is the carved-entry distance within which an extracted
// string is attributed to that entry.
const DefaultProximity = 64

// Options configures a run. The zero value is usable: builtin signatures,
// all classes, default string thresholds.
type Options struct {
	// Registry supplies the carving signatures. Nil means the builtin set.
	Registry *carve.Registry

	// TypeFilter restricts carving to the given classes. Nil carves all.
	TypeFilter map[carve.Class]bool

	// Strings tunes the string pool extractor. Zero value means defaults.
	Strings strpool.Config

	// Proximity is the string-to-asset attribution distance in bytes.
	// Zero means DefaultProximity.
	Proximity int64

	// MaxImageSize rejects oversized inputs. Zero means the default.
	MaxImageSize int64

	// Progress receives throttled scan progress. May be nil. Callbacks
	// can arrive from concurrent scan phases; Analyze serializes them.
	Progress common.ProgressFunc

	// Logger receives diagnostics as they happen. Nil means silent.
	Logger common.Logger

	// Verbose additionally logs every diagnostic entry (rejections,
	// collisions, duplicates) through Logger at the end of the run.
	Verbose bool
}

// Result is one completed (possibly cancelled-partial) extraction run.
type Result struct {
	// Carved holds the recovered asset entries in offset order.
	Carved []carve.Entry

	// Records is the forensic record scan output.
	Records *esm.ScanResult

	// Strings holds the extracted string pool, cross-referenced against
	// Carved.
	Strings []strpool.Entry

	// Coverage is the reconciled, non-overlapping claim map.
	Coverage []coverage.Claim

	// Diagnostics aggregates all phases in fixed order: carver, records,
	// strings.
	Diagnostics common.Diagnostics

	tracker *coverage.Tracker
}

// Gaps iterates the unclaimed ranges of the image in offset order.
func (r *Result) Gaps() iter.Seq[coverage.Range] {
	return r.tracker.Gaps()
}

// Analyze runs the full pipeline over src. Cancellation yields a valid
// partial Result with Diagnostics.Cancelled set and a nil error; only
// accessor failures and oversized inputs are errors.
func Analyze(ctx context.Context, src common.ByteSource, opts Options) (*Result, error) {
	size := src.Size()
	maxSize := opts.MaxImageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}
	if size > maxSize {
		return nil, common.NewError(common.SeverityError, common.ErrImageTooLarge,
			"analyze", fmt.Sprintf("image is %d bytes, limit %d", size, maxSize))
	}

	registry := opts.Registry
	if registry == nil {
		registry = carve.NewRegistry()
	}
	proximity := opts.Proximity
	if proximity <= 0 {
		proximity = DefaultProximity
	}
	progress := serializeProgress(opts.Progress)

	arena := common.NewArena(src)
	tracker := coverage.NewTracker(size)
	res := &Result{tracker: tracker}

	// Phase one: carver and record scanner in parallel. They claim
	// different coverage kinds, so neither can perturb the other's
	// acceptance decisions and each output is deterministic on its own.
	var (
		wg                 sync.WaitGroup
		carveDiag, recDiag common.Diagnostics
		carveErr, recErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		carver := carve.NewScanner(registry, tracker, opts.Logger)
		res.Carved, carveErr = carver.Scan(ctx, arena, opts.TypeFilter, progress, &carveDiag)
	}()
	go func() {
		defer wg.Done()
		records := esm.NewScanner(tracker, opts.Logger)
		res.Records, recErr = records.Scan(ctx, arena, progress, &recDiag)
	}()
	wg.Wait()

	res.Diagnostics.Merge(&carveDiag)
	res.Diagnostics.Merge(&recDiag)
	if carveErr != nil {
		return res, carveErr
	}
	if recErr != nil {
		return res, recErr
	}

	// Phase two: strings, after all hard claims exist.
	var strDiag common.Diagnostics
	extractor := strpool.NewExtractor(opts.Strings, tracker, opts.Logger)
	strings, strErr := extractor.Extract(ctx, arena, progress, &strDiag)
	res.Strings = strings
	res.Diagnostics.Merge(&strDiag)
	if strErr != nil {
		return res, strErr
	}
	strpool.CrossReference(res.Strings, res.Carved, proximity)

	res.Coverage = tracker.Reconcile()

	if opts.Verbose && opts.Logger != nil {
		for _, e := range res.Diagnostics.Entries {
			opts.Logger.Debug(e.String())
		}
	}
	return res, nil
}

// Reconstruct lifts a run's raw records into the semantic layer.
func Reconstruct(res *Result, log common.Logger) *esm.SemanticResult {
	return esm.Reconstruct(res.Records, log)
}

// ExtractStringPoolOnly runs just the string pool extractor: no carving,
// no record scan, so every printable run in the image is a candidate.
func ExtractStringPoolOnly(ctx context.Context, src common.ByteSource, opts Options) (*Result, error) {
	size := src.Size()
	maxSize := opts.MaxImageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}
	if size > maxSize {
		return nil, common.NewError(common.SeverityError, common.ErrImageTooLarge,
			"analyze", fmt.Sprintf("image is %d bytes, limit %d", size, maxSize))
	}

	tracker := coverage.NewTracker(size)
	res := &Result{tracker: tracker, Records: &esm.ScanResult{}}

	extractor := strpool.NewExtractor(opts.Strings, tracker, opts.Logger)
	strings, err := extractor.Extract(ctx, common.NewArena(src),
		serializeProgress(opts.Progress), &res.Diagnostics)
	res.Strings = strings
	if err != nil {
		return res, err
	}
	res.Coverage = tracker.Reconcile()
	return res, nil
}

// serializeProgress makes a progress callback safe to share between the
// parallel scan phases.
func serializeProgress(fn common.ProgressFunc) common.ProgressFunc {
	if fn == nil {
		return nil
	}
	var mu sync.Mutex
	return func(ev common.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		fn(ev)
	}
}
