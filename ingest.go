package geolocate

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// Budget bounds a bulk ingestion run. Zero fields are unlimited.
type Budget struct {
	MaxDocuments int           // stop after this many documents were added
	MaxDuration  time.Duration // stop once this much time has passed
}

// Reasons reported in IngestResult.Stopped.
const (
	StoppedMaxDocuments = "max_documents"
	StoppedMaxDuration  = "max_duration"
	StoppedContext      = "context"
)

// IngestResult summarizes an ingestion run.
type IngestResult struct {
	Added   int
	Skipped int
	// Stopped names the limit that interrupted the run, or "" when every
	// document was consumed.
	Stopped string
}

// Ingest feeds docs to g until they run out or the budget is exhausted.
// Skipped documents are counted, not fatal. Whatever the outcome, g is left
// open and can be closed.
func Ingest(ctx context.Context, g Grid, docs iter.Seq[*Document], budget Budget) (IngestResult, error) {
	var res IngestResult
	var deadline time.Time
	if budget.MaxDuration > 0 {
		deadline = time.Now().Add(budget.MaxDuration)
	}
	var err error
	for doc := range docs {
		if err = ctx.Err(); err != nil {
			res.Stopped = StoppedContext
			break
		}
		if budget.MaxDocuments > 0 && res.Added >= budget.MaxDocuments {
			res.Stopped = StoppedMaxDocuments
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			res.Stopped = StoppedMaxDuration
			break
		}
		if addErr := g.AddDocument(doc); addErr != nil {
			if !IsSkip(addErr) {
				return res, fmt.Errorf("ingest: %w", addErr)
			}
			res.Skipped++
			continue
		}
		res.Added++
	}
	g.Config().Logger.WithGrid(g.Kind()).LogIngest(ctx, res.Added, res.Skipped, res.Stopped)
	return res, err
}

// IngestSharded builds partial grids over contiguous chunks of docs in
// parallel and merges them into g, in chunk order, before returning. The
// merge happens before any smoothing, so closing g afterwards sees the
// fully merged corpus.
func IngestSharded(ctx context.Context, g Grid, docs []*Document, shards int) (IngestResult, error) {
	if shards <= 1 || len(docs) < 2 {
		return Ingest(ctx, g, slices.Values(docs), Budget{})
	}
	shards = min(shards, len(docs))
	parts := make([]Grid, shards)
	results := make([]IngestResult, shards)
	size := (len(docs) + shards - 1) / shards

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(shards)
	for i := range shards {
		lo := min(i*size, len(docs))
		hi := min(lo+size, len(docs))
		parts[i] = g.shard()
		eg.Go(func() error {
			res, err := Ingest(ctx, parts[i], slices.Values(docs[lo:hi]), Budget{})
			results[i] = res
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return IngestResult{}, err
	}

	var total IngestResult
	for i, p := range parts {
		if err := g.Merge(p); err != nil {
			return total, fmt.Errorf("merging shard %d: %w", i, err)
		}
		total.Added += results[i].Added
		total.Skipped += results[i].Skipped
	}
	return total, nil
}
