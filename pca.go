// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"fmt"
	"sort"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Number of most variable genes used for the QC PCA.
const pcaTopGenes = 500

// pcaResult holds per-sample principal component scores and the
// percentage of variance each component explains.
type pcaResult struct {
	Scores     *mat.Dense // samples x components
	PercentVar []float64
}

// samplePCA runs PCA on the ntop rows of data (genes x samples) with
// the highest variance. Each selected gene is centered across samples
// before fitting.
func samplePCA(data mat.Matrix, ntop, components int) (*pcaResult, error) {
	genes, samples := data.Dims()
	if samples < 2 {
		return nil, fmt.Errorf("cannot do PCA on %d sample(s)", samples)
	}
	variances := make([]float64, genes)
	row := make([]float64, samples)
	for i := range variances {
		mat.Row(row, i, data)
		variances[i] = stat.Variance(row, nil)
	}
	order := make([]int, genes)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return variances[order[a]] > variances[order[b]] })
	if ntop > genes {
		ntop = genes
	}
	if components > ntop {
		components = ntop
	}
	if components > samples {
		components = samples
	}

	log.Printf("creating centered matrix for PCA: %d genes, %d samples", ntop, samples)
	mtx := mat.NewDense(ntop, samples, nil)
	totalVar := 0.0
	for k, i := range order[:ntop] {
		mat.Row(row, i, data)
		mean := stat.Mean(row, nil)
		for j, v := range row {
			mtx.Set(k, j, v-mean)
		}
		totalVar += variances[i]
	}

	transformer := nlp.NewPCA(components)
	transformer.Fit(mtx)
	projected, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	res := &pcaResult{
		Scores:     mat.DenseCopyOf(projected.T()),
		PercentVar: make([]float64, components),
	}
	col := make([]float64, samples)
	for c := 0; c < components; c++ {
		mat.Col(col, c, res.Scores)
		if totalVar > 0 {
			res.PercentVar[c] = stat.Variance(col, nil) / totalVar
		}
	}
	return res, nil
}

// sampleDistances returns the Euclidean distances between columns of
// data (genes x samples).
func sampleDistances(data mat.Matrix) *mat.Dense {
	genes, samples := data.Dims()
	cols := make([][]float64, samples)
	for j := range cols {
		cols[j] = make([]float64, genes)
		mat.Col(cols[j], j, data)
	}
	dist := mat.NewDense(samples, samples, nil)
	for a := 0; a < samples; a++ {
		for b := a + 1; b < samples; b++ {
			d := floats.Distance(cols[a], cols[b], 2)
			dist.Set(a, b, d)
			dist.Set(b, a, d)
		}
	}
	return dist
}
