// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgpdf"
)

var (
	pageWidth  = 7 * vg.Inch
	pageHeight = 7 * vg.Inch

	significantColor = color.RGBA{R: 220, G: 20, B: 60, A: 255}
	backgroundColor  = color.RGBA{R: 128, G: 128, B: 128, A: 160}
)

// pdfPages accumulates plots, one per page, into a PDF document.
type pdfPages struct {
	canvas *vgpdf.Canvas
	pages  int
}

func newPDFPages() *pdfPages {
	return &pdfPages{canvas: vgpdf.New(pageWidth, pageHeight)}
}

func (pp *pdfPages) Add(p *plot.Plot) {
	if pp.pages > 0 {
		pp.canvas.NextPage()
	}
	p.Draw(draw.New(pp.canvas))
	pp.pages++
}

// Save writes the document to fnm.
func (pp *pdfPages) Save(fnm string) error {
	out, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = pp.canvas.WriteTo(out)
	if err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	return out.Close()
}

func newPlot(title, xlabel, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	return p
}

// addScatter adds a scatter series to p, with a legend entry if name
// is not empty.
func addScatter(p *plot.Plot, name string, xys plotter.XYs, c color.Color, radius vg.Length) error {
	if len(xys) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return err
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = radius
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(s)
	if name != "" {
		p.Legend.Add(name, s)
	}
	return nil
}

// pcaPlot draws PC1 vs PC2 coloured by group, with sample labels.
func pcaPlot(pca *pcaResult, samples, groups []string) (*plot.Plot, error) {
	_, ncomp := pca.Scores.Dims()
	if ncomp < 2 {
		return nil, fmt.Errorf("PCA produced %d component(s), need 2", ncomp)
	}
	p := newPlot("PCA",
		fmt.Sprintf("PC1: %s%% variance", formatPercent(pca.PercentVar[0])),
		fmt.Sprintf("PC2: %s%% variance", formatPercent(pca.PercentVar[1])))
	all := plotter.XYs{}
	for i, g := range distinctGroups(groups) {
		var xys plotter.XYs
		for j := range samples {
			if groups[j] == g {
				xys = append(xys, plotter.XY{X: pca.Scores.At(j, 0), Y: pca.Scores.At(j, 1)})
			}
		}
		err := addScatter(p, g, xys, plotutil.Color(i), vg.Points(4))
		if err != nil {
			return nil, err
		}
	}
	for j := range samples {
		all = append(all, plotter.XY{X: pca.Scores.At(j, 0), Y: pca.Scores.At(j, 1)})
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: all, Labels: samples})
	if err != nil {
		return nil, err
	}
	p.Add(labels)
	p.Legend.Top = true
	return p, nil
}

// distanceGrid presents a square distance matrix, with rows and
// columns permuted by order, as a plotter.GridXYZ.
type distanceGrid struct {
	dist  mat.Matrix
	order []int
}

func (g distanceGrid) Dims() (c, r int)   { return len(g.order), len(g.order) }
func (g distanceGrid) Z(c, r int) float64 { return g.dist.At(g.order[r], g.order[c]) }
func (g distanceGrid) X(c int) float64    { return float64(c) }
func (g distanceGrid) Y(r int) float64    { return float64(r) }

// reversedPalette lists another palette's colors in reverse order.
type reversedPalette []color.Color

func (p reversedPalette) Colors() []color.Color { return p }

func reversePalette(p palette.Palette) palette.Palette {
	colors := p.Colors()
	rev := make(reversedPalette, len(colors))
	for i, c := range colors {
		rev[len(colors)-1-i] = c
	}
	return rev
}

// distanceHeatmap draws a sample distance matrix, ordered by
// complete-linkage clustering, dark for similar samples.
func distanceHeatmap(title string, dist mat.Matrix, samples []string) (*plot.Plot, error) {
	blues, err := brewer.GetPalette(brewer.TypeSequential, "Blues", 9)
	if err != nil {
		return nil, err
	}
	order := completeLinkageOrder(dist)
	p := newPlot(title, "", "")
	hm := plotter.NewHeatMap(distanceGrid{dist: dist, order: order}, reversePalette(blues))
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)
	names := make([]string, len(order))
	for i, j := range order {
		names[i] = samples[j]
	}
	p.NominalX(names...)
	p.NominalY(names...)
	return p, nil
}

// vstScatter draws sample b's VST values against sample a's.
func vstScatter(vst mat.Matrix, a, b int, samples []string) (*plot.Plot, error) {
	genes, _ := vst.Dims()
	xys := make(plotter.XYs, genes)
	for i := range xys {
		xys[i] = plotter.XY{X: vst.At(i, a), Y: vst.At(i, b)}
	}
	p := newPlot(samples[a]+" vs "+samples[b], samples[a]+" (VST)", samples[b]+" (VST)")
	err := addScatter(p, "", xys, backgroundColor, vg.Points(1))
	if err != nil {
		return nil, err
	}
	diag := plotter.NewFunction(func(x float64) float64 { return x })
	diag.Color = significantColor
	p.Add(diag)
	return p, nil
}

// maPlot draws log2 fold change against log10 mean normalized count,
// highlighting genes with padj < fdr.
func maPlot(title string, baseMean, lfc, padj []float64, fdr float64) (*plot.Plot, error) {
	var sig, other plotter.XYs
	for i := range baseMean {
		if !(baseMean[i] > 0) || math.IsNaN(lfc[i]) {
			continue
		}
		xy := plotter.XY{X: math.Log10(baseMean[i]), Y: lfc[i]}
		if padj[i] < fdr {
			sig = append(sig, xy)
		} else {
			other = append(other, xy)
		}
	}
	p := newPlot(title, "log10(mean of normalized counts)", "log2 fold change")
	err := addScatter(p, "", other, backgroundColor, vg.Points(1))
	if err != nil {
		return nil, err
	}
	err = addScatter(p, fmt.Sprintf("padj < %s", formatFDR(fdr)), sig, significantColor, vg.Points(1.5))
	if err != nil {
		return nil, err
	}
	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	zero.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(zero)
	return p, nil
}

// volcanoPlot draws -log10(pvalue) against log2 fold change,
// highlighting genes with padj < fdr.
func volcanoPlot(title string, lfc, pvalue, padj []float64, fdr float64) (*plot.Plot, error) {
	var sig, other plotter.XYs
	for i := range lfc {
		if math.IsNaN(lfc[i]) || math.IsNaN(pvalue[i]) {
			continue
		}
		y := -math.Log10(pvalue[i])
		if math.IsInf(y, 0) {
			y = -math.Log10(math.SmallestNonzeroFloat64)
		}
		xy := plotter.XY{X: lfc[i], Y: y}
		if padj[i] < fdr {
			sig = append(sig, xy)
		} else {
			other = append(other, xy)
		}
	}
	p := newPlot(title, "log2 fold change", "-log10(pvalue)")
	err := addScatter(p, "", other, backgroundColor, vg.Points(1))
	if err != nil {
		return nil, err
	}
	err = addScatter(p, fmt.Sprintf("padj < %s", formatFDR(fdr)), sig, significantColor, vg.Points(1.5))
	if err != nil {
		return nil, err
	}
	return p, nil
}
