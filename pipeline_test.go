// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/arvados/countdiff/deseq"
	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

// writeTestCounts writes a featureCounts table with replicates[i]
// replicates of groups[i]. gene0 is ten-fold higher in the first three
// samples; gene1 has no reads; the rest are flat with mild
// deterministic noise.
func writeTestCounts(c *check.C, fnm string, groups []string, replicates []int, genes int) {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, `# Program:featureCounts v2.0.1; Command:"featureCounts" "-a" "consensus.saf"`)
	fmt.Fprint(&buf, "Geneid\tChr\tStart\tEnd\tStrand\tLength")
	var samples []string
	for i, g := range groups {
		for r := 1; r <= replicates[i]; r++ {
			samples = append(samples, fmt.Sprintf("%s_R%d", g, r))
		}
	}
	for _, s := range samples {
		fmt.Fprintf(&buf, "\t./bam/%s.mLb.clN.bam", s)
	}
	fmt.Fprintln(&buf)
	for i := 0; i < genes; i++ {
		start := 1000 * (i + 1)
		fmt.Fprintf(&buf, "gene%d\tchr1\t%d\t%d\t+\t500", i, start, start+499)
		mean := 20 + float64(i%37)*15
		if i == 0 {
			mean = 300
		}
		for j := range samples {
			mu := mean * (1 + 0.1*float64(j%4))
			if i == 0 && j < 3 {
				mu *= 10
			}
			if i == 1 {
				mu = 0
			}
			fmt.Fprintf(&buf, "\t%d", int(math.Round(mu*(1+0.15*math.Sin(float64(i*7+j*13))))))
		}
		fmt.Fprintln(&buf)
	}
	err := os.WriteFile(fnm, buf.Bytes(), 0666)
	c.Assert(err, check.IsNil)
}

func runCountdiff(args ...string) int {
	return (&runner{}).RunCommand("countdiff run", args, bytes.NewReader(nil), os.Stderr, os.Stderr)
}

func runCountdiffStderr(args ...string) (int, string) {
	var stderr bytes.Buffer
	code := (&runner{}).RunCommand("countdiff run", args, bytes.NewReader(nil), os.Stderr, &stderr)
	return code, stderr.String()
}

func (s *pipelineSuite) TestRun(c *check.C) {
	tmpdir := c.MkDir()
	infile := filepath.Join(tmpdir, "counts.txt")
	writeTestCounts(c, infile, []string{"ctl", "trt", "ko"}, []int{3, 3, 3}, 150)
	outdir := filepath.Join(tmpdir, "out")
	args := []string{"-i", infile, "-sample-suffix", ".mLb.clN.bam", "-outdir", outdir, "-threads", "2", "-vst-numpy"}
	c.Assert(runCountdiff(args...), check.Equals, 0)

	on := outputNames{dir: outdir, prefix: "differential"}
	for _, fnm := range []string{
		on.Model(),
		on.Plots(),
		on.PCAVals(),
		on.SampleDists(),
		on.SizeFactorsTable(),
		on.SampleSizeFactor("ctl_R1"),
		on.SampleSizeFactor("trt_R3"),
		on.Log(),
		on.SessionInfo(),
		on.Results(),
		on.VSTNumpy(),
		on.VSTSamples(),
		on.ComparisonResults("ctlvsko"),
		on.ComparisonResults("ctlvstrt"),
		on.ComparisonResults("kovstrt"),
		on.ComparisonPlots("ctlvstrt"),
		on.FDRResults("ctlvstrt", 0.01),
		on.FDRResults("ctlvstrt", 0.05),
		on.FDRBed("ctlvstrt", 0.05),
	} {
		_, err := os.Stat(fnm)
		c.Check(err, check.IsNil, check.Commentf("%s", fnm))
	}

	buf, err := os.ReadFile(on.PCAVals())
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	c.Check(lines, check.HasLen, 10)
	c.Check(lines[0], check.Matches, `"sample"\t"PC1: \d+% variance"\t"PC2: \d+% variance"`)
	c.Check(lines[1], check.Matches, `"ctl_R1"\t.*`)

	buf, err = os.ReadFile(on.Log())
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Matches, `(?s)Samples = ctl_R1 ctl_R2 ctl_R3 ko_R1 .*\nGroups = ctl ctl ctl ko ko ko trt trt trt\nDimensions of count matrix = 150 9\n.*`)
	c.Check(string(buf), check.Matches, `(?s).*ctlvstrt genes with FDR <= 0\.01: \d+ \(up=\d+, down=\d+\)\n.*`)
	c.Check(string(buf), check.Matches, `(?s).*ctlvstrt genes with FDR <= 0\.05 & FC > 2: \d+ \(up=\d+, down=\d+\)\n.*`)

	buf, err = os.ReadFile(on.Results())
	c.Assert(err, check.IsNil)
	lines = strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	c.Check(lines, check.HasLen, 151)
	header := strings.Split(lines[0], "\t")
	c.Check(header[:7], check.DeepEquals, []string{"Geneid", "Chr", "Start", "End", "Strand", "Length", "ctlvsko.baseMean"})
	c.Check(header, check.HasLen, 6+3*6+9+9)
	c.Check(header[len(header)-1], check.Equals, "trt_R3.pseudo")
	gene1 := strings.Split(lines[2], "\t")
	c.Check(gene1[0], check.Equals, "gene1")
	c.Check(gene1[6], check.Equals, "0")
	c.Check(gene1[7], check.Equals, "NA")

	buf, err = os.ReadFile(on.ComparisonResults("ctlvstrt"))
	c.Assert(err, check.IsNil)
	lines = strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	header = strings.Split(lines[0], "\t")
	c.Check(header[6:12], check.DeepEquals, deseq.ResultColumns)
	c.Check(header[12:], check.DeepEquals, []string{
		"ctl_R1.raw", "ctl_R2.raw", "ctl_R3.raw", "trt_R1.raw", "trt_R2.raw", "trt_R3.raw",
		"ctl_R1.pseudo", "ctl_R2.pseudo", "ctl_R3.pseudo", "trt_R1.pseudo", "trt_R2.pseudo", "trt_R3.pseudo",
	})
	gene0 := strings.Split(lines[1], "\t")
	c.Check(gene0[0], check.Equals, "gene0")
	c.Check(strings.HasPrefix(gene0[7], "3."), check.Equals, true, check.Commentf("log2FoldChange %s", gene0[7]))

	buf, err = os.ReadFile(on.FDRBed("ctlvstrt", 0.01))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Matches, `(?s)chr1\t1000\t1499\tgene0\t3\.[0-9]+\t\+\n.*`)

	// Outputs that already exist are not regenerated.
	err = os.WriteFile(on.Plots(), []byte("placeholder"), 0666)
	c.Assert(err, check.IsNil)
	err = os.Remove(on.Results())
	c.Assert(err, check.IsNil)
	c.Assert(runCountdiff(args...), check.Equals, 0)
	buf, err = os.ReadFile(on.Plots())
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "placeholder")
	_, err = os.Stat(on.Results())
	c.Check(err, check.IsNil)

	// dump-model reads the cached model.
	var dump bytes.Buffer
	code := (&dumpModel{}).RunCommand("countdiff dump-model", []string{"-i", on.Model(), "-genes", "2"}, bytes.NewReader(nil), &dump, os.Stderr)
	c.Check(code, check.Equals, 0)
	c.Check(dump.String(), check.Matches, `(?s)source: .*counts.txt\n.*sample ctl_R1: group ctl, size factor .*gene gene1: baseMean 0, .*`)
}

func (s *pipelineSuite) TestOneGroup(c *check.C) {
	tmpdir := c.MkDir()
	infile := filepath.Join(tmpdir, "counts.txt")
	writeTestCounts(c, infile, []string{"ctl"}, []int{3}, 20)
	outdir := filepath.Join(tmpdir, "out")
	c.Check(runCountdiff("-i", infile, "-sample-suffix", ".mLb.clN.bam", "-outdir", outdir), check.Equals, 0)
	_, err := os.Stat(filepath.Join(outdir, "differential.dds.gob.gz"))
	c.Check(os.IsNotExist(err), check.Equals, true)
}

func (s *pipelineSuite) TestCachedModelMismatch(c *check.C) {
	tmpdir := c.MkDir()
	infile := filepath.Join(tmpdir, "counts.txt")
	writeTestCounts(c, infile, []string{"ctl", "trt"}, []int{3, 3}, 60)
	outdir := filepath.Join(tmpdir, "out")
	args := []string{"-i", infile, "-sample-suffix", ".mLb.clN.bam", "-outdir", outdir, "-threads", "2"}
	c.Assert(runCountdiff(args...), check.Equals, 0)
	on := outputNames{dir: outdir, prefix: "differential"}
	model, err := os.ReadFile(on.Model())
	c.Assert(err, check.IsNil)

	// Different input file content, same samples and intervals:
	// the cached model is reused.
	writeTestCounts(c, infile, []string{"ctl", "trt"}, []int{3, 3}, 60)
	f, err := os.OpenFile(infile, os.O_APPEND|os.O_WRONLY, 0)
	c.Assert(err, check.IsNil)
	_, err = f.WriteString("\n")
	c.Assert(err, check.IsNil)
	c.Assert(f.Close(), check.IsNil)
	c.Check(runCountdiff(args...), check.Equals, 0)
	reused, err := os.ReadFile(on.Model())
	c.Assert(err, check.IsNil)
	c.Check(bytes.Equal(reused, model), check.Equals, true)

	// Different intervals.
	writeTestCounts(c, infile, []string{"ctl", "trt"}, []int{3, 3}, 50)
	code, stderr := runCountdiffStderr(args...)
	c.Check(code, check.Equals, 1)
	c.Check(stderr, check.Matches, `(?s).*differential\.dds\.gob\.gz: cached model has 60 intervals, input has 50.*remove it to refit.*`)

	// Different samples.
	writeTestCounts(c, infile, []string{"ctl", "trt"}, []int{3, 2}, 60)
	code, stderr = runCountdiffStderr(args...)
	c.Check(code, check.Equals, 1)
	c.Check(stderr, check.Matches, `(?s).*cached model samples .* do not match input samples .*remove it to refit.*`)
}

func (s *pipelineSuite) TestTwoSampleComparison(c *check.C) {
	tmpdir := c.MkDir()
	infile := filepath.Join(tmpdir, "counts.txt")
	writeTestCounts(c, infile, []string{"ctl", "ko", "trt"}, []int{1, 3, 1}, 80)
	outdir := filepath.Join(tmpdir, "out")
	c.Assert(runCountdiff("-i", infile, "-sample-suffix", ".mLb.clN.bam", "-outdir", outdir, "-threads", "2"), check.Equals, 0)

	on := outputNames{dir: outdir, prefix: "differential"}
	for _, fnm := range []string{
		on.ComparisonResults("ctlvstrt"),
		on.ComparisonPlots("ctlvstrt"),
		on.FDRResults("ctlvsko", 0.05),
		on.FDRBed("ctlvsko", 0.05),
		on.Results(),
	} {
		_, err := os.Stat(fnm)
		c.Check(err, check.IsNil, check.Commentf("%s", fnm))
	}
	for _, fdr := range []float64{0.01, 0.05} {
		for _, fnm := range []string{on.FDRResults("ctlvstrt", fdr), on.FDRBed("ctlvstrt", fdr)} {
			_, err := os.Stat(fnm)
			c.Check(os.IsNotExist(err), check.Equals, true, check.Commentf("%s", fnm))
		}
	}
	buf, err := os.ReadFile(on.Log())
	c.Assert(err, check.IsNil)
	c.Check(strings.Contains(string(buf), "ctlvstrt genes with FDR"), check.Equals, false)
	c.Check(strings.Contains(string(buf), "ctlvsko genes with FDR <= 0.05"), check.Equals, true)

	buf, err = os.ReadFile(on.ComparisonResults("ctlvstrt"))
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	c.Check(lines, check.HasLen, 81)
	c.Check(strings.Split(lines[0], "\t")[12:], check.DeepEquals, []string{"ctl_R1.raw", "trt_R1.raw", "ctl_R1.pseudo", "trt_R1.pseudo"})
}

func (s *pipelineSuite) TestUsage(c *check.C) {
	c.Check(runCountdiff("-help"), check.Equals, 0)
	c.Check(runCountdiff("-sample-suffix", ".bam"), check.Equals, 2)
	c.Check(runCountdiff("-i", "counts.txt"), check.Equals, 2)
	c.Check(runCountdiff("-i", "counts.txt", "-sample-suffix", ".bam", "extra"), check.Equals, 2)
	c.Check(runCountdiff("-i", "counts.txt", "-sample-suffix", ".bam", "-fdr", "0.01,x"), check.Equals, 2)
	c.Check(runCountdiff("-i", "counts.txt", "-sample-suffix", ".bam", "-fdr", "1.5"), check.Equals, 2)
	c.Check(runCountdiff("-i", filepath.Join(c.MkDir(), "nonexistent.txt"), "-sample-suffix", ".bam", "-outdir", c.MkDir()), check.Equals, 1)
}
