// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"os"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/palette/brewer"
	"gopkg.in/check.v1"
)

type plotSuite struct{}

var _ = check.Suite(&plotSuite{})

func (s *plotSuite) TestReversePalette(c *check.C) {
	blues, err := brewer.GetPalette(brewer.TypeSequential, "Blues", 9)
	c.Assert(err, check.IsNil)
	rev := reversePalette(blues).Colors()
	c.Assert(rev, check.HasLen, 9)
	c.Check(rev[0], check.DeepEquals, blues.Colors()[8])
	c.Check(rev[8], check.DeepEquals, blues.Colors()[0])
}

func (s *plotSuite) TestDistanceHeatmap(c *check.C) {
	dist := mat.NewDense(3, 3, []float64{
		0, 4, 1,
		4, 0, 3,
		1, 3, 0,
	})
	p, err := distanceHeatmap("distances", dist, []string{"a_R1", "b_R1", "a_R2"})
	c.Assert(err, check.IsNil)

	// identical samples: all distances zero
	same, err := distanceHeatmap("same", mat.NewDense(2, 2, nil), []string{"a_R1", "a_R2"})
	c.Assert(err, check.IsNil)

	pages := newPDFPages()
	pages.Add(p)
	pages.Add(same)
	fnm := c.MkDir() + "/heatmap.pdf"
	c.Assert(pages.Save(fnm), check.IsNil)
	fi, err := os.Stat(fnm)
	c.Assert(err, check.IsNil)
	c.Check(fi.Size() > 0, check.Equals, true)
}
