// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/arvados/countdiff/deseq"
)

type dumpModel struct{}

func (cmd *dumpModel) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "input `file` (cached model, e.g. differential.dds.gob.gz)")
	outputFilename := flags.String("o", "-", "output `file`")
	maxGenes := flags.Int("genes", -1, "maximum number of genes to list (-1 for all)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	} else if *inputFilename == "" {
		err = errors.New("missing required flag -i")
		return 2
	}

	model, err := deseq.Load(*inputFilename)
	if err != nil {
		return 1
	}
	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriterSize(output, 1<<20)
	dumpModelText(bufw, model, *maxGenes)
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func dumpModelText(w io.Writer, model *deseq.Model, maxGenes int) {
	fmt.Fprintf(w, "source: %s\n", model.Source)
	fmt.Fprintf(w, "source digest: %x\n", model.SourceDigest)
	fmt.Fprintf(w, "genes: %d, samples: %d, levels: %v\n", len(model.Genes), len(model.Samples), model.Levels)
	for j, s := range model.Samples {
		fmt.Fprintf(w, "sample %s: group %s, size factor %s\n", s, model.Groups[j], formatValue(model.SizeFactors[j]))
	}
	fmt.Fprintf(w, "dispersion trend: asymptDisp %s, extraPois %s, parametric %v\n", formatValue(model.Trend.AsymptDisp), formatValue(model.Trend.ExtraPois), model.Trend.Parametric)
	fmt.Fprintf(w, "GLM fit errors: %d\n", model.FitErrors)
	for i, g := range model.Genes {
		if maxGenes >= 0 && i >= maxGenes {
			break
		}
		fmt.Fprintf(w, "gene %s: baseMean %s, dispersion %s (genewise %s, fitted %s), coef %v\n",
			g,
			formatValue(model.BaseMean[i]),
			formatValue(model.Dispersion[i]),
			formatValue(model.GenewiseDispersion[i]),
			formatValue(model.FittedDispersion[i]),
			appendValues(nil, model.Coefficients(i)...))
	}
}
