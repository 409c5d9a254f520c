// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package deseq

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// VST returns the variance-stabilized value of normalized count q,
// using the closed form that corresponds to the parametric
// dispersion trend.
func (t DispersionTrend) VST(q float64) float64 {
	a0, a1 := t.AsymptDisp, t.ExtraPois
	return math.Log2((1 + a1 + 2*a0*q + 2*math.Sqrt(a0*q*(1+a1+a0*q))) / (4 * a0))
}

// TransformMatrix applies VST to every element of a matrix of
// normalized counts.
func (t DispersionTrend) TransformMatrix(norm mat.Matrix) *mat.Dense {
	r, c := norm.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, q float64) float64 { return t.VST(q) }, norm)
	return out
}
