// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// completeLinkageOrder clusters the items of a symmetric distance
// matrix by agglomerative complete-linkage clustering and returns the
// leaf order of the resulting tree. At each step the two closest
// clusters are merged (ties go to the lowest indices), with the
// cluster containing the lower-numbered item placed first.
func completeLinkageOrder(dist mat.Matrix) []int {
	n, _ := dist.Dims()
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}
	// linkage[a][b] is the complete-linkage distance between
	// clusters a and b, maintained with the Lance-Williams update.
	linkage := make([][]float64, n)
	for a := range linkage {
		linkage[a] = make([]float64, n)
		for b := range linkage[a] {
			linkage[a][b] = dist.At(a, b)
		}
	}
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}
	for remaining := n; remaining > 1; remaining-- {
		besta, bestb, best := -1, -1, math.Inf(1)
		for a := 0; a < n; a++ {
			if !alive[a] {
				continue
			}
			for b := a + 1; b < n; b++ {
				if alive[b] && linkage[a][b] < best {
					besta, bestb, best = a, b, linkage[a][b]
				}
			}
		}
		if besta < 0 {
			// only NaN distances remain
			for a := 0; a < n && besta < 0; a++ {
				for b := a + 1; b < n; b++ {
					if alive[a] && alive[b] {
						besta, bestb = a, b
						break
					}
				}
			}
		}
		// besta < bestb, and each cluster is stored at the index
		// of its lowest-numbered item, so besta's items go first.
		clusters[besta] = append(clusters[besta], clusters[bestb]...)
		clusters[bestb] = nil
		alive[bestb] = false
		for c := 0; c < n; c++ {
			if alive[c] && c != besta {
				d := math.Max(linkage[besta][c], linkage[bestb][c])
				linkage[besta][c], linkage[c][besta] = d, d
			}
		}
	}
	for i, c := range clusters {
		if alive[i] {
			return c
		}
	}
	return nil
}
