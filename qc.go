// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"strconv"

	"github.com/arvados/countdiff/deseq"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// writeQC writes the PCA coordinates, the sample distance matrix, and
// the global QC plots. The plots file is written last.
func writeQC(on outputNames, model *deseq.Model) error {
	vst := model.VSTMatrix()
	log.Print("computing PCA")
	pca, err := samplePCA(vst, pcaTopGenes, 2)
	if err != nil {
		return err
	}
	err = writePCAVals(on.PCAVals(), pca, model.Samples)
	if err != nil {
		return err
	}
	dist := sampleDistances(vst)
	err = writeDistances(on.SampleDists(), dist, model.Samples)
	if err != nil {
		return err
	}

	pages := newPDFPages()
	p, err := pcaPlot(pca, model.Samples, model.Groups)
	if err != nil {
		return err
	}
	pages.Add(p)
	p, err = distanceHeatmap("Sample distances", dist, model.Samples)
	if err != nil {
		return err
	}
	pages.Add(p)
	err = pages.Save(on.Plots())
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": on.Plots()}).Info("wrote QC plots")
	return nil
}

// writePCAVals writes one row per sample with its PC coordinates.
// Header and sample names are double-quoted.
func writePCAVals(fnm string, pca *pcaResult, samples []string) error {
	tw, err := createTable(fnm)
	if err != nil {
		return err
	}
	defer tw.Close()
	_, ncomp := pca.Scores.Dims()
	header := []string{strconv.Quote("sample")}
	for c := 0; c < ncomp; c++ {
		header = append(header, strconv.Quote("PC"+strconv.Itoa(c+1)+": "+formatPercent(pca.PercentVar[c])+"% variance"))
	}
	err = tw.Row(header...)
	if err != nil {
		return err
	}
	for j, s := range samples {
		err = tw.Row(appendValues([]string{strconv.Quote(s)}, mat.Row(nil, j, pca.Scores)...)...)
		if err != nil {
			return err
		}
	}
	return tw.Close()
}

// writeDistances writes a square distance matrix with a "sample"
// header column.
func writeDistances(fnm string, dist mat.Matrix, samples []string) error {
	tw, err := createTable(fnm)
	if err != nil {
		return err
	}
	defer tw.Close()
	err = tw.Row(append([]string{"sample"}, samples...)...)
	if err != nil {
		return err
	}
	for j, s := range samples {
		err = tw.Row(appendValues([]string{s}, mat.Row(nil, j, dist)...)...)
		if err != nil {
			return err
		}
	}
	return tw.Close()
}
