// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package deseq

import (
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultMinDispersion is the floor applied to gene-wise dispersion
// estimates.
const DefaultMinDispersion = 1e-8

// DispersionTrend is the parametric mean-dispersion relationship
// alpha(mu) = AsymptDisp + ExtraPois/mu.
type DispersionTrend struct {
	AsymptDisp float64
	ExtraPois  float64
	// Parametric is false if the gamma fit failed and the trend is
	// a constant (mean gene-wise dispersion).
	Parametric bool
}

// At returns the fitted dispersion for a gene with the given mean
// normalized count.
func (t DispersionTrend) At(mean float64) float64 {
	if mean <= 0 {
		return t.AsymptDisp
	}
	return t.AsymptDisp + t.ExtraPois/mean
}

// momentDispersions estimates a dispersion for each gene from the
// pooled within-group variance of its normalized counts. Genes with
// zero mean get NaN. If no group has replicates, all samples are
// treated as a single group.
func momentDispersions(norm *mat.Dense, baseMean, sizeFactors []float64, groups []string, minDisp float64) []float64 {
	genes, samples := norm.Dims()
	members := map[string][]int{}
	for j, g := range groups {
		members[g] = append(members[g], j)
	}
	replicated := false
	for _, idx := range members {
		if len(idx) > 1 {
			replicated = true
			break
		}
	}
	if !replicated {
		log.Warn("no group has replicates; estimating dispersion across all samples as one group")
		all := make([]int, samples)
		for j := range all {
			all[j] = j
		}
		members = map[string][]int{"": all}
	}

	xim := 0.0
	for _, s := range sizeFactors {
		xim += 1 / s
	}
	xim /= float64(len(sizeFactors))

	disp := make([]float64, genes)
	for i := range disp {
		mu := baseMean[i]
		if mu <= 0 {
			disp[i] = math.NaN()
			continue
		}
		var ss float64
		var df int
		for _, idx := range members {
			if len(idx) < 2 {
				continue
			}
			gmean := 0.0
			for _, j := range idx {
				gmean += norm.At(i, j)
			}
			gmean /= float64(len(idx))
			for _, j := range idx {
				d := norm.At(i, j) - gmean
				ss += d * d
			}
			df += len(idx) - 1
		}
		d := (ss/float64(df) - xim*mu) / (mu * mu)
		disp[i] = math.Max(d, minDisp)
	}
	return disp
}

// fitDispersionTrend fits alpha = a0 + a1/mu to the gene-wise
// estimates with a gamma-family, identity-link GLM (IRLS with weights
// 1/fitted²), iteratively dropping genes whose estimate is far from
// the fitted curve.
func fitDispersionTrend(means, disps []float64, minDisp float64) (DispersionTrend, error) {
	var x, y []float64
	for i, d := range disps {
		if math.IsNaN(d) || d < 100*minDisp || means[i] <= 0 {
			continue
		}
		x = append(x, 1/means[i])
		y = append(y, d)
	}
	if len(y) < 3 {
		return DispersionTrend{}, fmt.Errorf("too few genes (%d) with usable dispersion estimates", len(y))
	}

	a0, a1 := 0.1, 1.0
	for iter := 0; iter < 10; iter++ {
		var ux, uy []float64
		for i := range y {
			ratio := y[i] / (a0 + a1*x[i])
			if ratio > 1e-4 && ratio < 15 {
				ux = append(ux, x[i])
				uy = append(uy, y[i])
			}
		}
		if len(uy) < 3 {
			return DispersionTrend{}, errors.New("too few genes near the dispersion trend")
		}
		n0, n1, err := gammaIdentityIRLS(ux, uy, a0, a1)
		if err != nil {
			return DispersionTrend{}, err
		}
		if err := checkTrendCoefficients(n0, n1); err != nil {
			return DispersionTrend{}, err
		}
		change := math.Pow(math.Log(n0/a0), 2)
		if a1 > 0 && n1 > 0 {
			change += math.Pow(math.Log(n1/a1), 2)
		}
		a0, a1 = n0, n1
		if change < 1e-6 {
			break
		}
	}
	return DispersionTrend{AsymptDisp: a0, ExtraPois: a1, Parametric: true}, nil
}

// checkTrendCoefficients returns an error unless both coefficients of
// the parametric trend are positive.
func checkTrendCoefficients(a0, a1 float64) error {
	if a0 > 0 && a1 > 0 {
		return nil
	}
	return fmt.Errorf("dispersion trend coefficients are not all positive (%g, %g)", a0, a1)
}

func gammaIdentityIRLS(x, y []float64, a0, a1 float64) (float64, float64, error) {
	w := make([]float64, len(y))
	for iter := 0; iter < 50; iter++ {
		for i := range y {
			mu := a0 + a1*x[i]
			if mu <= 0 {
				return 0, 0, errors.New("dispersion trend fit left the positive domain")
			}
			w[i] = 1 / (mu * mu)
		}
		n0, n1 := stat.LinearRegression(x, y, w, false)
		if math.IsNaN(n0) || math.IsNaN(n1) {
			return 0, 0, errors.New("dispersion trend fit diverged")
		}
		done := math.Abs(n0-a0) <= 1e-10*math.Abs(a0) && math.Abs(n1-a1) <= 1e-10*(math.Abs(a1)+1e-10)
		a0, a1 = n0, n1
		if done {
			break
		}
	}
	return a0, a1, nil
}

// meanDispersionTrend is the fallback used when the parametric fit
// fails: a constant equal to the mean usable gene-wise estimate.
func meanDispersionTrend(disps []float64, minDisp float64) DispersionTrend {
	var use []float64
	for _, d := range disps {
		if !math.IsNaN(d) && d >= 100*minDisp {
			use = append(use, d)
		}
	}
	a0 := minDisp
	if len(use) > 0 {
		a0 = math.Max(stat.Mean(use, nil), minDisp)
	}
	return DispersionTrend{AsymptDisp: a0}
}
