package geolocate

import (
	"context"
	"fmt"
)

// HierarchicalRanker ranks a document coarse to fine: the coarse strategy
// ranks the cells of a coarse grid, then the TopN best coarse cells are
// expanded into the fine cells whose centres they contain and the fine
// strategy ranks those.
//
// The result lists fine cells grouped by coarse cell, best coarse cell
// first; within a group fine cells are in fine-score order. A fine cell
// reachable from several coarse cells appears once, under the best of them.
type HierarchicalRanker struct {
	Coarse Strategy
	Fine   Strategy
	TopN   int

	log *Logger
}

// NewHierarchicalRanker combines two strategies over closed grids covering
// the same corpus.
func NewHierarchicalRanker(coarse, fine Strategy, topN int) (*HierarchicalRanker, error) {
	if topN < 1 {
		return nil, &ConfigError{Field: "TopN", Value: topN}
	}
	if coarse.Grid() == fine.Grid() {
		return nil, fmt.Errorf("hierarchical ranking needs two distinct grids")
	}
	return &HierarchicalRanker{
		Coarse: coarse,
		Fine:   fine,
		TopN:   topN,
		log:    fine.Grid().Config().Logger.WithStrategy("hierarchical"),
	}, nil
}

// Name returns a label naming both strategies.
func (h *HierarchicalRanker) Name() string {
	return h.Coarse.Name() + ">" + h.Fine.Name()
}

// Rank builds the document's model against each grid and ranks it.
func (h *HierarchicalRanker) Rank(ctx context.Context, doc *Document) ([]RankedCell, error) {
	coarse, err := h.Coarse.Rank(ctx, h.Coarse.Grid().DocumentModel(doc))
	if err != nil {
		return nil, fmt.Errorf("coarse ranking: %w", err)
	}
	fineGrid := h.Fine.Grid()
	fineModel := fineGrid.DocumentModel(doc)

	var out []RankedCell
	seen := make(map[int]bool)
	for _, rc := range coarse[:min(h.TopN, len(coarse))] {
		var subcells []*Cell
		for _, c := range fineGrid.CellsWithin(rc.Cell.Bounds()) {
			if !seen[c.ordinal] && !c.model.Empty() {
				subcells = append(subcells, c)
			}
		}
		if len(subcells) == 0 {
			h.log.LogSkip(ctx, SkipZeroSubcells, rc.Cell.String())
			fineGrid.Skips().Add(SkipZeroSubcells)
			continue
		}
		ranked, err := h.Fine.RankCells(ctx, fineModel, subcells)
		if err != nil {
			return nil, fmt.Errorf("fine ranking under %s: %w", rc.Cell, err)
		}
		for _, r := range ranked {
			seen[r.Cell.ordinal] = true
		}
		out = append(out, ranked...)
	}
	return out, nil
}
