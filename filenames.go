// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"path/filepath"
	"strconv"
)

// outputNames builds output file paths from -outdir, -outprefix and
// -outsuffix.
type outputNames struct {
	dir    string
	prefix string
	suffix string
}

func (on outputNames) global(ext string) string {
	return filepath.Join(on.dir, on.prefix+ext)
}

func (on outputNames) Model() string       { return on.global(".dds.gob.gz") }
func (on outputNames) Plots() string       { return on.global(".plots.pdf") }
func (on outputNames) PCAVals() string     { return on.global(".pca.vals.txt") }
func (on outputNames) SampleDists() string { return on.global(".sample.dists.txt") }
func (on outputNames) Log() string         { return on.global(".log") }
func (on outputNames) Results() string     { return on.global(".results.txt") }
func (on outputNames) VSTNumpy() string    { return on.global(".vst.npy") }
func (on outputNames) VSTSamples() string  { return on.global(".vst.samples.txt") }

func (on outputNames) SessionInfo() string {
	return filepath.Join(on.dir, "sessionInfo.log")
}

func (on outputNames) SizeFactorsDir() string {
	return filepath.Join(on.dir, "sizeFactors")
}

func (on outputNames) SizeFactorsTable() string {
	return filepath.Join(on.SizeFactorsDir(), on.prefix+".sizeFactors.txt")
}

func (on outputNames) SampleSizeFactor(sample string) string {
	return filepath.Join(on.SizeFactorsDir(), sample+on.suffix+".sizeFactor.txt")
}

// comparisonName returns the name used for the a-vs-b comparison's
// directory, file prefix and combined-table column prefix.
func comparisonName(a, b string) string {
	return a + "vs" + b
}

func (on outputNames) comparison(name, ext string) string {
	return filepath.Join(on.dir, name, name+on.suffix+ext)
}

func (on outputNames) ComparisonResults(name string) string {
	return on.comparison(name, ".deseq2.results.txt")
}

func (on outputNames) ComparisonPlots(name string) string {
	return on.comparison(name, ".deseq2.plots.pdf")
}

func (on outputNames) FDRResults(name string, fdr float64) string {
	return on.comparison(name, ".deseq2.FDR"+formatFDR(fdr)+".results.txt")
}

func (on outputNames) FDRBed(name string, fdr float64) string {
	return on.comparison(name, ".deseq2.FDR"+formatFDR(fdr)+".results.bed")
}

// formatFDR formats a threshold the shortest way that round-trips,
// e.g. 0.05 -> "0.05".
func formatFDR(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
