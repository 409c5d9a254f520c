// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package deseq

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
)

// EstimateSizeFactors returns one normalization factor per column of
// counts (genes x samples), using the median ratio of each sample's
// counts to the per-gene geometric mean. Only genes with a positive
// count in every sample contribute.
func EstimateSizeFactors(counts mat.Matrix) ([]float64, error) {
	genes, samples := counts.Dims()
	if genes == 0 || samples == 0 {
		return nil, errors.New("cannot estimate size factors: empty count matrix")
	}
	logGeoMean := make([]float64, 0, genes)
	usable := make([]int, 0, genes)
GENE:
	for i := 0; i < genes; i++ {
		sum := 0.0
		for j := 0; j < samples; j++ {
			k := counts.At(i, j)
			if k <= 0 {
				continue GENE
			}
			sum += math.Log(k)
		}
		usable = append(usable, i)
		logGeoMean = append(logGeoMean, sum/float64(samples))
	}
	if len(usable) == 0 {
		return nil, errors.New("cannot estimate size factors: every gene contains at least one zero")
	}
	sf := make([]float64, samples)
	ratios := make([]float64, len(usable))
	for j := range sf {
		for u, i := range usable {
			ratios[u] = math.Log(counts.At(i, j)) - logGeoMean[u]
		}
		med, err := stats.Median(ratios)
		if err != nil {
			return nil, fmt.Errorf("size factor for sample %d: %w", j, err)
		}
		sf[j] = math.Exp(med)
	}
	return sf, nil
}

// NormalizedCounts divides each column of counts by the corresponding
// size factor.
func NormalizedCounts(counts mat.Matrix, sizeFactors []float64) *mat.Dense {
	genes, samples := counts.Dims()
	norm := mat.NewDense(genes, samples, nil)
	norm.Apply(func(i, j int, v float64) float64 {
		return v / sizeFactors[j]
	}, counts)
	return norm
}

// rowMeans returns the mean of each row of m.
func rowMeans(m mat.Matrix) []float64 {
	rows, cols := m.Dims()
	means := make([]float64, rows)
	for i := range means {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += m.At(i, j)
		}
		means[i] = sum / float64(cols)
	}
	return means
}
