// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"fmt"
	"math"
	"strconv"

	"github.com/grailbio/base/tsv"
)

// tableWriter writes tab-separated rows to a new file.
type tableWriter struct {
	fnm string
	out *outputFile
	tsv *tsv.Writer
}

func createTable(fnm string) (*tableWriter, error) {
	out, err := createOutput(fnm)
	if err != nil {
		return nil, err
	}
	return &tableWriter{fnm: fnm, out: out, tsv: tsv.NewWriter(out)}, nil
}

func (tw *tableWriter) Row(fields ...string) error {
	for _, f := range fields {
		tw.tsv.WriteString(f)
	}
	err := tw.tsv.EndLine()
	if err != nil {
		return fmt.Errorf("%s: %w", tw.fnm, err)
	}
	return nil
}

func (tw *tableWriter) Close() error {
	err := tw.tsv.Flush()
	if err != nil {
		tw.out.Close()
		return fmt.Errorf("%s: %w", tw.fnm, err)
	}
	return tw.out.Close()
}

// formatValue formats v with up to 15 significant digits, and NaN as
// "NA".
func formatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NA"
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	default:
		return strconv.FormatFloat(v, 'g', 15, 64)
	}
}

func appendValues(fields []string, values ...float64) []string {
	for _, v := range values {
		fields = append(fields, formatValue(v))
	}
	return fields
}

// formatPercent formats a fraction as a whole-number percentage,
// rounding half to even.
func formatPercent(frac float64) string {
	return strconv.Itoa(int(math.RoundToEven(100 * frac)))
}
