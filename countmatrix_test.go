// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"gopkg.in/check.v1"
)

type countMatrixSuite struct{}

var _ = check.Suite(&countMatrixSuite{})

const testCounts = `# Program:featureCounts v2.0.1; Command:"featureCounts" "-F" "SAF"
Geneid	Chr	Start	End	Strand	Length	/data/trt_R2.mLb.clN.bam	/data/ctl_R1.mLb.clN.bam	/data/trt_R1.mLb.clN.bam	/data/ctl_R2.mLb.clN.bam
g1	chr1	100	200	+	101	5	10	6.4	12
g2	chr1	1000	1100	-	101	0	0	0	0
g3	chr2;chr2	10;500	20;600	+;+	112	7	3	8	4
`

func (s *countMatrixSuite) TestRead(c *check.C) {
	cm, err := readCountMatrix(strings.NewReader(testCounts), "test.txt", ".mLb.clN.bam", 3)
	c.Assert(err, check.IsNil)
	c.Check(cm.IntervalHeader, check.DeepEquals, []string{"Geneid", "Chr", "Start", "End", "Strand", "Length"})
	c.Check(cm.Samples, check.DeepEquals, []string{"ctl_R1", "ctl_R2", "trt_R1", "trt_R2"})
	c.Check(cm.Groups, check.DeepEquals, []string{"ctl", "ctl", "trt", "trt"})
	c.Check(cm.Genes(), check.DeepEquals, []string{"g1", "g2", "g3"})
	c.Check(cm.DistinctGroups(), check.DeepEquals, []string{"ctl", "trt"})
	c.Check(cm.SamplesIn("trt"), check.DeepEquals, []int{2, 3})
	genes, samples := cm.Counts.Dims()
	c.Check(genes, check.Equals, 3)
	c.Check(samples, check.Equals, 4)
	// columns reordered by sample name, 6.4 rounded
	c.Check(cm.Counts.RawRowView(0), check.DeepEquals, []float64{10, 12, 6, 5})
	c.Check(cm.Counts.RawRowView(2), check.DeepEquals, []float64{3, 4, 8, 7})
	c.Check(cm.Intervals[2][colChr], check.Equals, "chr2;chr2")

	ds := cm.Dataset()
	c.Check(ds.Genes, check.DeepEquals, cm.Genes())
	c.Check(ds.Groups, check.DeepEquals, cm.Groups)
}

func (s *countMatrixSuite) TestLoadGzip(c *check.C) {
	fnm := filepath.Join(c.MkDir(), "counts.txt.gz")
	f, err := os.Create(fnm)
	c.Assert(err, check.IsNil)
	zw := pgzip.NewWriter(f)
	_, err = zw.Write([]byte(testCounts))
	c.Assert(err, check.IsNil)
	c.Assert(zw.Close(), check.IsNil)
	c.Assert(f.Close(), check.IsNil)

	cm, err := loadCountMatrix(fnm, ".mLb.clN.bam", 3)
	c.Assert(err, check.IsNil)
	c.Check(cm.Samples, check.DeepEquals, []string{"ctl_R1", "ctl_R2", "trt_R1", "trt_R2"})
	c.Check(cm.Counts.RawRowView(2), check.DeepEquals, []float64{3, 4, 8, 7})

	// same content, not compressed, under a .gz name
	err = os.WriteFile(fnm, []byte(testCounts), 0666)
	c.Assert(err, check.IsNil)
	_, err = loadCountMatrix(fnm, ".mLb.clN.bam", 3)
	c.Check(err, check.NotNil)
}

func (s *countMatrixSuite) TestReadErrors(c *check.C) {
	header := "# comment\nGeneid\tChr\tStart\tEnd\tStrand\tLength\ta_R1.bam\tb_R1.bam\n"
	for _, trial := range []struct {
		input string
		err   string
	}{
		{"", `test.txt: empty input`},
		{"# comment\n", `test.txt: missing header line`},
		{"# comment\nGeneid\tChr\tStart\tEnd\tStrand\tLength\n", `test.txt line 2: header has 6 columns.*`},
		{"# comment\nGeneid\tChr\tStart\tEnd\tStrand\tLength\ta_R1.bam\ta_R1.bam\n", `test.txt line 2: duplicate sample name "a_R1"`},
		{header, `test.txt: no intervals`},
		{header + "g1\tchr1\t1\t2\t+\t2\t3\n", `test.txt line 3: 7 fields, header has 8`},
		{header + "g1\tchr1\t1\t2\t+\t2\t3\tx\n", `test.txt line 3: sample b_R1: non-numeric count "x"`},
		{header + "g1\tchr1\t1\t2\t+\t2\t3\t4\ng2\tchr1\t1\t2\t+\t2\t-3\t4\n", `test.txt line 4: sample a_R1: negative count "-3"`},
	} {
		c.Logf("trial %q", trial.input)
		_, err := readCountMatrix(strings.NewReader(trial.input), "test.txt", ".bam", 3)
		c.Check(err, check.ErrorMatches, trial.err)
	}

	_, err := readCountMatrix(strings.NewReader(header+"g1\tchr1\t1\t2\t+\t2\t3\t4\n"), "test.txt", ".bam", 4)
	c.Check(err, check.ErrorMatches, `test.txt: sample name "a_R1" is too short .*`)
}

func (s *countMatrixSuite) TestSampleName(c *check.C) {
	c.Check(sampleName("/mnt/data/WT_R1.mLb.clN.bam", ".mLb.clN.bam"), check.Equals, "WT_R1")
	c.Check(sampleName("WT_R1.mLb.clN.bam", ".mLb.clN.bam"), check.Equals, "WT_R1")
	c.Check(sampleName("results/WT_R1", ".bam"), check.Equals, "WT_R1")
}

func (s *countMatrixSuite) TestGroupOf(c *check.C) {
	g, err := groupOf("WT_R1", 3)
	c.Check(err, check.IsNil)
	c.Check(g, check.Equals, "WT")
	g, err = groupOf("KO_REP12", 6)
	c.Check(err, check.IsNil)
	c.Check(g, check.Equals, "KO")
	_, err = groupOf("R1", 3)
	c.Check(err, check.NotNil)
	_, err = groupOf("WT_R1", -1)
	c.Check(err, check.NotNil)
}

func (s *countMatrixSuite) TestPairs(c *check.C) {
	c.Check(pairs([]string{"a"}), check.HasLen, 0)
	c.Check(pairs([]string{"a", "b", "c"}), check.DeepEquals, [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}})
	c.Check(distinctGroups([]string{"b", "b", "a", "b", "c"}), check.DeepEquals, []string{"b", "a", "c"})
}

func (s *countMatrixSuite) TestRestrict(c *check.C) {
	cm, err := readCountMatrix(strings.NewReader(testCounts), "test.txt", ".mLb.clN.bam", 3)
	c.Assert(err, check.IsNil)
	m := &mask{}
	m.Add("chr1", 150, 160)
	m.Add("chr2", 550, 551)
	m.Freeze()
	dropped, err := cm.Restrict(m)
	c.Assert(err, check.IsNil)
	c.Check(dropped, check.Equals, 1)
	c.Check(cm.Genes(), check.DeepEquals, []string{"g1", "g3"})
	c.Check(cm.Counts.RawRowView(1), check.DeepEquals, []float64{3, 4, 8, 7})

	m = &mask{}
	m.Add("chr9", 1, 1000)
	m.Freeze()
	_, err = cm.Restrict(m)
	c.Check(err, check.ErrorMatches, `no intervals overlap.*`)
}
