// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"fmt"
	"strings"

	"github.com/arvados/countdiff/deseq"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// writeVSTNumpy writes the variance-stabilized matrix (genes x
// samples, float64) as a .npy file, and its column labels to a
// separate text file, one sample per line.
func writeVSTNumpy(on outputNames, model *deseq.Model) error {
	err := writeNumpyFloat64(on.VSTNumpy(), model.VST, len(model.Genes), len(model.Samples))
	if err != nil {
		return err
	}
	out, err := createOutput(on.VSTSamples())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = fmt.Fprintln(out, strings.Join(model.Samples, "\n"))
	if err != nil {
		return err
	}
	return out.Close()
}

func writeNumpyFloat64(fnm string, out []float64, rows, cols int) error {
	output, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	npw, err := gonpy.NewWriter(nopCloser{output})
	if err != nil {
		return err
	}
	npw.Shape = []int{rows, cols}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
	}).Infof("writing numpy")
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	return output.Close()
}
