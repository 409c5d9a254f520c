// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"fmt"
	"os"

	"github.com/arvados/countdiff/deseq"
	log "github.com/sirupsen/logrus"
)

// writeSizeFactors writes the size factor table and one file per
// sample. Existing files are left alone.
func writeSizeFactors(on outputNames, model *deseq.Model) error {
	err := os.MkdirAll(on.SizeFactorsDir(), 0777)
	if err != nil {
		return err
	}
	if fnm := on.SizeFactorsTable(); exists(fnm) {
		skipping("size factor table", fnm)
	} else {
		tw, err := createTable(fnm)
		if err != nil {
			return err
		}
		defer tw.Close()
		err = tw.Row("sample", "group", "sizeFactor")
		if err != nil {
			return err
		}
		for j, s := range model.Samples {
			err = tw.Row(s, model.Groups[j], formatValue(model.SizeFactors[j]))
			if err != nil {
				return err
			}
		}
		err = tw.Close()
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"file": fnm}).Info("wrote size factors")
	}
	for j, s := range model.Samples {
		fnm := on.SampleSizeFactor(s)
		if exists(fnm) {
			continue
		}
		out, err := createOutput(fnm)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, formatValue(model.SizeFactors[j]))
		err = out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
