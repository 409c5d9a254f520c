// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package deseq fits per-gene negative binomial GLMs to RNA-seq read
// counts and tests pairwise group contrasts.
//
// Size factors use the median-of-ratios method. Gene-wise dispersions
// are moment estimates; a parametric trend alpha = a0 + a1/mean is
// fitted to them and each gene uses the larger of its own estimate and
// the trend. GLM fitting is delegated to
// github.com/kshedden/statmodel/glm.
package deseq
