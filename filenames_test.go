// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"math"

	"gopkg.in/check.v1"
)

type filenamesSuite struct{}

var _ = check.Suite(&filenamesSuite{})

func (s *filenamesSuite) TestOutputNames(c *check.C) {
	on := outputNames{dir: "out", prefix: "differential", suffix: ".mLb"}
	c.Check(on.Model(), check.Equals, "out/differential.dds.gob.gz")
	c.Check(on.Plots(), check.Equals, "out/differential.plots.pdf")
	c.Check(on.PCAVals(), check.Equals, "out/differential.pca.vals.txt")
	c.Check(on.SampleDists(), check.Equals, "out/differential.sample.dists.txt")
	c.Check(on.Log(), check.Equals, "out/differential.log")
	c.Check(on.Results(), check.Equals, "out/differential.results.txt")
	c.Check(on.SessionInfo(), check.Equals, "out/sessionInfo.log")
	c.Check(on.SizeFactorsTable(), check.Equals, "out/sizeFactors/differential.sizeFactors.txt")
	c.Check(on.SampleSizeFactor("WT_R1"), check.Equals, "out/sizeFactors/WT_R1.mLb.sizeFactor.txt")

	name := comparisonName("KO", "WT")
	c.Check(name, check.Equals, "KOvsWT")
	c.Check(on.ComparisonResults(name), check.Equals, "out/KOvsWT/KOvsWT.mLb.deseq2.results.txt")
	c.Check(on.ComparisonPlots(name), check.Equals, "out/KOvsWT/KOvsWT.mLb.deseq2.plots.pdf")
	c.Check(on.FDRResults(name, 0.01), check.Equals, "out/KOvsWT/KOvsWT.mLb.deseq2.FDR0.01.results.txt")
	c.Check(on.FDRBed(name, 0.05), check.Equals, "out/KOvsWT/KOvsWT.mLb.deseq2.FDR0.05.results.bed")
}

func (s *filenamesSuite) TestFormat(c *check.C) {
	c.Check(formatFDR(0.1), check.Equals, "0.1")
	c.Check(formatValue(math.NaN()), check.Equals, "NA")
	c.Check(formatValue(math.Inf(-1)), check.Equals, "-Inf")
	c.Check(formatValue(12), check.Equals, "12")
	c.Check(formatValue(0.25), check.Equals, "0.25")
	c.Check(formatValue(1e-30), check.Equals, "1e-30")
	c.Check(formatPercent(0.455), check.Equals, "46")
	c.Check(formatPercent(0.125), check.Equals, "12")
}
