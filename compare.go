// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"math"

	"github.com/arvados/countdiff/deseq"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// comparison is the outcome of one pairwise group contrast.
type comparison struct {
	Name    string
	Samples []int // columns of the count matrix, numerator group first
	Results []deseq.Result
}

// significance counts genes passing a threshold, split by direction.
type significance struct {
	N, Up, Down int
}

func countSignificant(results []deseq.Result, fdr, minLog2FC float64) (all, fc significance) {
	for _, r := range results {
		if !(r.PAdj < fdr) {
			continue
		}
		all.N++
		if r.Log2FoldChange > 0 {
			all.Up++
		} else if r.Log2FoldChange < 0 {
			all.Down++
		}
		if math.Abs(r.Log2FoldChange) >= minLog2FC {
			fc.N++
			if r.Log2FoldChange > 0 {
				fc.Up++
			} else {
				fc.Down++
			}
		}
	}
	return
}

// compareAll runs every pairwise comparison and writes the combined
// results table.
func (opts *runOptions) compareAll(cm *countMatrix, model *deseq.Model, groups []string) error {
	slog, err := openSessionLog(opts.Names.Log())
	if err != nil {
		return err
	}
	defer slog.Close()
	norm := model.NormalizedCountsMatrix()
	vst := model.VSTMatrix()
	var comparisons []*comparison
	for _, pair := range pairs(groups) {
		cmp, err := opts.compare(cm, model, norm, vst, pair[0], pair[1], slog)
		if err != nil {
			return err
		}
		comparisons = append(comparisons, cmp)
	}
	err = writeCombinedResults(opts.Names.Results(), cm, norm, comparisons)
	if err != nil {
		return err
	}
	return slog.Close()
}

// compare contrasts group a against group b (log2 fold change is
// log2(a/b)) and writes the per-comparison outputs.
func (opts *runOptions) compare(cm *countMatrix, model *deseq.Model, norm, vst *mat.Dense, a, b string, slog *sessionLog) (*comparison, error) {
	on := opts.Names
	name := comparisonName(a, b)
	results, err := model.Results(a, b, deseq.ResultsOptions{
		IndependentFiltering: opts.IndependentFiltering,
		Alpha:                opts.Alpha,
	})
	if err != nil {
		return nil, err
	}
	cmp := &comparison{
		Name:    name,
		Samples: append(cm.SamplesIn(a), cm.SamplesIn(b)...),
		Results: results,
	}
	log.WithFields(log.Fields{
		"comparison": name,
		"samples":    len(cmp.Samples),
	}).Info("comparing groups")

	err = writeComparisonTable(on.ComparisonResults(name), cm, norm, cmp, func(int) bool { return true })
	if err != nil {
		return nil, err
	}

	pages := newPDFPages()
	baseMean, lfc, pvalue, padj := resultColumns(results)
	if len(cmp.Samples) > 2 {
		for _, fdr := range opts.FDR {
			fdr := fdr
			pass := func(i int) bool { return results[i].PAdj < fdr }
			err = writeComparisonTable(on.FDRResults(name, fdr), cm, norm, cmp, pass)
			if err != nil {
				return nil, err
			}
			err = writeComparisonBed(on.FDRBed(name, fdr), cm, cmp, pass)
			if err != nil {
				return nil, err
			}
			all, fc := countSignificant(results, fdr, opts.MinLog2FC)
			err = slog.Printf("%s genes with FDR <= %s: %d (up=%d, down=%d)", name, formatFDR(fdr), all.N, all.Up, all.Down)
			if err != nil {
				return nil, err
			}
			err = slog.Printf("%s genes with FDR <= %s & FC > %s: %d (up=%d, down=%d)", name, formatFDR(fdr), formatValue(math.Pow(2, opts.MinLog2FC)), fc.N, fc.Up, fc.Down)
			if err != nil {
				return nil, err
			}

			p, err := maPlot(name+" MA plot (FDR "+formatFDR(fdr)+")", baseMean, lfc, padj, fdr)
			if err != nil {
				return nil, err
			}
			pages.Add(p)
			p, err = volcanoPlot(name+" volcano plot (FDR "+formatFDR(fdr)+")", lfc, pvalue, padj, fdr)
			if err != nil {
				return nil, err
			}
			pages.Add(p)
		}
	}

	subvst := columns(vst, cmp.Samples)
	names := make([]string, len(cmp.Samples))
	for k, j := range cmp.Samples {
		names[k] = cm.Samples[j]
	}
	p, err := distanceHeatmap(name+" sample distances", sampleDistances(subvst), names)
	if err != nil {
		return nil, err
	}
	pages.Add(p)
	for x := 0; x < len(names); x++ {
		for y := x + 1; y < len(names); y++ {
			p, err := vstScatter(subvst, x, y, names)
			if err != nil {
				return nil, err
			}
			pages.Add(p)
		}
	}
	err = pages.Save(on.ComparisonPlots(name))
	if err != nil {
		return nil, err
	}
	return cmp, nil
}

func resultColumns(results []deseq.Result) (baseMean, lfc, pvalue, padj []float64) {
	n := len(results)
	baseMean, lfc, pvalue, padj = make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, r := range results {
		baseMean[i], lfc[i], pvalue[i], padj[i] = r.BaseMean, r.Log2FoldChange, r.PValue, r.PAdj
	}
	return
}

// columns returns a copy of the given columns of m.
func columns(m mat.Matrix, cols []int) *mat.Dense {
	rows, _ := m.Dims()
	out := mat.NewDense(rows, len(cols), nil)
	col := make([]float64, rows)
	for k, j := range cols {
		mat.Col(col, j, m)
		out.SetCol(k, col)
	}
	return out
}

// writeComparisonTable writes interval columns, result columns, and
// raw then normalized counts of the comparison samples, for genes
// where include(i) is true.
func writeComparisonTable(fnm string, cm *countMatrix, norm *mat.Dense, cmp *comparison, include func(int) bool) error {
	tw, err := createTable(fnm)
	if err != nil {
		return err
	}
	defer tw.Close()
	header := append([]string(nil), cm.IntervalHeader...)
	header = append(header, deseq.ResultColumns...)
	for _, j := range cmp.Samples {
		header = append(header, cm.Samples[j]+".raw")
	}
	for _, j := range cmp.Samples {
		header = append(header, cm.Samples[j]+".pseudo")
	}
	err = tw.Row(header...)
	if err != nil {
		return err
	}
	fields := make([]string, 0, len(header))
	for i, r := range cmp.Results {
		if !include(i) {
			continue
		}
		fields = append(fields[:0], cm.Intervals[i]...)
		fields = appendValues(fields, r.Values()...)
		for _, j := range cmp.Samples {
			fields = appendValues(fields, cm.Counts.At(i, j))
		}
		for _, j := range cmp.Samples {
			fields = appendValues(fields, norm.At(i, j))
		}
		err = tw.Row(fields...)
		if err != nil {
			return err
		}
	}
	return tw.Close()
}

// writeComparisonBed writes Chr, Start, End, Geneid, log2FoldChange
// and Strand for genes where include(i) is true, with no header.
func writeComparisonBed(fnm string, cm *countMatrix, cmp *comparison, include func(int) bool) error {
	tw, err := createTable(fnm)
	if err != nil {
		return err
	}
	defer tw.Close()
	for i, r := range cmp.Results {
		if !include(i) {
			continue
		}
		iv := cm.Intervals[i]
		err = tw.Row(iv[colChr], iv[colStart], iv[colEnd], iv[colGeneid], formatValue(r.Log2FoldChange), iv[colStrand])
		if err != nil {
			return err
		}
	}
	return tw.Close()
}

// writeCombinedResults writes interval columns, every comparison's
// result columns prefixed with the comparison name, and raw then
// normalized counts of all samples.
func writeCombinedResults(fnm string, cm *countMatrix, norm *mat.Dense, comparisons []*comparison) error {
	tw, err := createTable(fnm)
	if err != nil {
		return err
	}
	defer tw.Close()
	header := append([]string(nil), cm.IntervalHeader...)
	for _, cmp := range comparisons {
		for _, col := range deseq.ResultColumns {
			header = append(header, cmp.Name+"."+col)
		}
	}
	for _, s := range cm.Samples {
		header = append(header, s+".raw")
	}
	for _, s := range cm.Samples {
		header = append(header, s+".pseudo")
	}
	err = tw.Row(header...)
	if err != nil {
		return err
	}
	fields := make([]string, 0, len(header))
	for i, iv := range cm.Intervals {
		fields = append(fields[:0], iv...)
		for _, cmp := range comparisons {
			fields = appendValues(fields, cmp.Results[i].Values()...)
		}
		fields = appendValues(fields, cm.Counts.RawRowView(i)...)
		fields = appendValues(fields, norm.RawRowView(i)...)
		err = tw.Row(fields...)
		if err != nil {
			return err
		}
	}
	err = tw.Close()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": fnm, "comparisons": len(comparisons)}).Info("wrote combined results")
	return nil
}
