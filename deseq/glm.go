// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package deseq

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/mat"
)

var glmLog = log.New(io.Discard, "", 0)

// design holds the per-sample model matrix shared by all genes:
// an intercept (reference level) plus one indicator per remaining
// level, and the log size factor offsets.
type design struct {
	names  []string
	cols   [][]statmodel.Dtype
	offset []statmodel.Dtype

	// level[j] is the index of sample j's level
	level       []int
	sizeFactors []float64
}

// minStartMean is the floor applied to a level's mean normalized
// count when computing starting values.
const minStartMean = 0.1

// scoreTolerance bounds |score| relative to 1 + Fisher information
// for a fit to count as converged.
const scoreTolerance = 1e-4

func newDesign(groups, levels []string, sizeFactors []float64) *design {
	d := &design{
		names:       []string{"icept"},
		offset:      make([]statmodel.Dtype, len(groups)),
		level:       make([]int, len(groups)),
		sizeFactors: sizeFactors,
	}
	icept := make([]statmodel.Dtype, len(groups))
	for j := range icept {
		icept[j] = 1
		d.offset[j] = math.Log(sizeFactors[j])
	}
	d.cols = append(d.cols, icept)
	for k, level := range levels[1:] {
		col := make([]statmodel.Dtype, len(groups))
		for j, g := range groups {
			if g == level {
				col[j] = 1
				d.level[j] = k + 1
			}
		}
		d.cols = append(d.cols, col)
		d.names = append(d.names, "level:"+level)
	}
	return d
}

// fit fits a negative binomial GLM with log link and the given
// dispersion to one gene's counts. It returns the coefficients and
// their row-major covariance matrix, the inverse Fisher information
// at the fitted means.
func (d *design) fit(counts []float64, alpha float64) (coef, vcov []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			coef, vcov, err = nil, nil, fmt.Errorf("glm: %v", r)
		}
	}()
	data := make([][]statmodel.Dtype, 0, len(d.cols)+2)
	data = append(data, counts)
	data = append(data, d.cols...)
	data = append(data, d.offset)
	names := append(append([]string{"counts"}, d.names...), "offset")
	dataset := statmodel.NewDataset(data, names)

	model, err := glm.NewGLM(dataset, "counts", d.names, &glm.Config{
		Family:         glm.NewNegBinomFamily(alpha, glm.NewLink(glm.LogLink)),
		Link:           glm.NewLink(glm.LogLink),
		OffsetVar:      "offset",
		FitMethod:      "IRLS",
		Start:          d.start(counts),
		ConcurrentIRLS: 1000,
		Log:            glmLog,
	})
	if err != nil {
		return nil, nil, err
	}
	result := model.Fit()
	coef = append([]float64(nil), result.Params()...)
	if len(coef) != len(d.names) {
		return nil, nil, fmt.Errorf("glm: unexpected result dimension %d", len(coef))
	}
	for _, v := range coef {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, fmt.Errorf("glm: non-finite coefficient")
		}
	}
	score, info := d.scoreInfo(counts, coef, alpha)
	p := len(coef)
	for k, u := range score {
		if math.Abs(u) > scoreTolerance*(1+info[k*p+k]) {
			return nil, nil, fmt.Errorf("glm: did not converge (score %g for %s)", u, d.names[k])
		}
	}
	var inv mat.Dense
	err = inv.Inverse(mat.NewDense(p, p, info))
	if err != nil {
		return nil, nil, fmt.Errorf("glm: %w", err)
	}
	return coef, inv.RawMatrix().Data, nil
}

// start returns IRLS starting values: the log mean normalized count
// of the reference level, and each other level's log ratio to it.
func (d *design) start(counts []float64) []float64 {
	p := len(d.cols)
	sum := make([]float64, p)
	n := make([]float64, p)
	for j, y := range counts {
		sum[d.level[j]] += y / d.sizeFactors[j]
		n[d.level[j]]++
	}
	start := make([]float64, p)
	for k := range start {
		mean := minStartMean
		if n[k] > 0 && sum[k]/n[k] > mean {
			mean = sum[k] / n[k]
		}
		start[k] = math.Log(mean)
	}
	for k := 1; k < p; k++ {
		start[k] -= start[0]
	}
	return start
}

// scoreInfo returns the score vector and the row-major expected
// Fisher information of the negative binomial log-link model at coef.
func (d *design) scoreInfo(counts, coef []float64, alpha float64) (score, info []float64) {
	p := len(coef)
	score = make([]float64, p)
	info = make([]float64, p*p)
	x := make([]float64, p)
	for j, y := range counts {
		eta := float64(d.offset[j])
		for k := range x {
			x[k] = float64(d.cols[k][j])
			eta += x[k] * coef[k]
		}
		mu := math.Exp(eta)
		w := mu / (1 + alpha*mu)
		r := (y - mu) / (1 + alpha*mu)
		for a := range x {
			if x[a] == 0 {
				continue
			}
			score[a] += x[a] * r
			for b := range x {
				info[a*p+b] += x[a] * x[b] * w
			}
		}
	}
	return score, info
}

// nanSlice returns a slice of n NaNs.
func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
