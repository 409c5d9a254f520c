// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package deseq

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ResultColumns are the names of the values returned by
// Result.Values, in order.
var ResultColumns = []string{"baseMean", "log2FoldChange", "lfcSE", "stat", "pvalue", "padj"}

// Result is the outcome of a two-group contrast for one gene. NaN
// means "not available".
type Result struct {
	BaseMean       float64
	Log2FoldChange float64
	LfcSE          float64
	Stat           float64
	PValue         float64
	PAdj           float64
}

// Values returns the fields of r in ResultColumns order.
func (r Result) Values() []float64 {
	return []float64{r.BaseMean, r.Log2FoldChange, r.LfcSE, r.Stat, r.PValue, r.PAdj}
}

// ResultsOptions controls multiple-testing adjustment.
type ResultsOptions struct {
	// If true, choose a mean-count threshold that maximizes the
	// number of genes with PAdj < Alpha, and leave PAdj NaN for
	// genes below it.
	IndependentFiltering bool
	Alpha                float64
}

// Results returns a Wald test of log2(numerator/denominator) for
// every gene.
func (m *Model) Results(numerator, denominator string, opts ResultsOptions) ([]Result, error) {
	num, den := m.levelIndex(numerator), m.levelIndex(denominator)
	if num < 0 {
		return nil, fmt.Errorf("unknown group %q", numerator)
	}
	if den < 0 {
		return nil, fmt.Errorf("unknown group %q", denominator)
	}
	if num == den {
		return nil, fmt.Errorf("cannot contrast group %q with itself", numerator)
	}
	p := len(m.Levels)
	contrast := make([]float64, p)
	if num > 0 {
		contrast[num]++
	}
	if den > 0 {
		contrast[den]--
	}

	var involved []int
	for j, g := range m.Groups {
		if g == numerator || g == denominator {
			involved = append(involved, j)
		}
	}

	samples := len(m.Samples)
	results := make([]Result, len(m.Genes))
	pvalues := make([]float64, len(m.Genes))
	for i := range results {
		r := Result{
			BaseMean:       m.BaseMean[i],
			Log2FoldChange: math.NaN(),
			LfcSE:          math.NaN(),
			Stat:           math.NaN(),
			PValue:         math.NaN(),
		}
		allZero := true
		for _, j := range involved {
			if m.Counts[i*samples+j] != 0 {
				allZero = false
				break
			}
		}
		coef := m.Coef[i*p : (i+1)*p]
		vcov := m.VCov[i*p*p : (i+1)*p*p]
		switch {
		case m.BaseMean[i] == 0:
		case allZero:
			r.Log2FoldChange, r.Stat, r.PValue = 0, 0, 1
			r.LfcSE = math.Sqrt(quadForm(contrast, vcov)) / math.Ln2
		case !math.IsNaN(coef[0]):
			est := 0.0
			for k, c := range contrast {
				est += c * coef[k]
			}
			se := math.Sqrt(quadForm(contrast, vcov))
			r.Log2FoldChange = est / math.Ln2
			r.LfcSE = se / math.Ln2
			if se > 0 {
				r.Stat = est / se
				r.PValue = 2 * distuv.UnitNormal.Survival(math.Abs(r.Stat))
			}
		}
		results[i] = r
		pvalues[i] = r.PValue
	}

	var padj []float64
	if opts.IndependentFiltering {
		padj = independentFilter(m.BaseMean, pvalues, opts.Alpha)
	} else {
		padj = AdjustBH(pvalues)
	}
	for i := range results {
		results[i].PAdj = padj[i]
	}
	return results, nil
}

func (m *Model) levelIndex(group string) int {
	for k, l := range m.Levels {
		if l == group {
			return k
		}
	}
	return -1
}

// quadForm returns c' V c for row-major square V.
func quadForm(c, v []float64) float64 {
	p := len(c)
	sum := 0.0
	for a := 0; a < p; a++ {
		if c[a] == 0 {
			continue
		}
		for b := 0; b < p; b++ {
			sum += c[a] * v[a*p+b] * c[b]
		}
	}
	return sum
}

// AdjustBH returns Benjamini-Hochberg adjusted p-values. NaN inputs
// are ignored and yield NaN.
func AdjustBH(pvalues []float64) []float64 {
	adj := make([]float64, len(pvalues))
	idx := make([]int, 0, len(pvalues))
	for i, p := range pvalues {
		if math.IsNaN(p) {
			adj[i] = math.NaN()
		} else {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return pvalues[idx[a]] > pvalues[idx[b]] })
	n := float64(len(idx))
	cummin := 1.0
	for rank, i := range idx {
		v := pvalues[i] * n / (n - float64(rank))
		if v < cummin {
			cummin = v
		}
		adj[i] = cummin
	}
	return adj
}

// filterThetas are the quantiles of the mean count tried as
// independent filtering thresholds.
var filterThetas = func() []float64 {
	const n = 50
	t := make([]float64, n)
	for i := range t {
		t[i] = 0.95 * float64(i) / (n - 1)
	}
	return t
}()

func independentFilter(baseMean, pvalues []float64, alpha float64) []float64 {
	sorted := append([]float64(nil), baseMean...)
	sort.Float64s(sorted)
	var best []float64
	bestRejections := -1
	masked := make([]float64, len(pvalues))
	for _, theta := range filterThetas {
		cutoff := stat.Quantile(theta, stat.LinInterp, sorted, nil)
		for i, p := range pvalues {
			if baseMean[i] >= cutoff {
				masked[i] = p
			} else {
				masked[i] = math.NaN()
			}
		}
		adj := AdjustBH(masked)
		rejections := 0
		for _, p := range adj {
			if p < alpha {
				rejections++
			}
		}
		if rejections > bestRejections {
			best, bestRejections = adj, rejections
		}
	}
	return best
}
