// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/arvados/countdiff/deseq"
	log "github.com/sirupsen/logrus"
)

// errTooFewGroups is returned by (*runOptions)run when there is
// nothing to compare. It is not a failure.
var errTooFewGroups = errors.New("fewer than 2 groups")

type runOptions struct {
	Input                string
	SampleSuffix         string
	Names                outputNames
	ReplicateSuffixLen   int
	FDR                  []float64
	MinLog2FC            float64
	Alpha                float64
	IndependentFiltering bool
	Regions              string
	VSTNumpy             bool
	Threads              int
	WriteProfiles        bool
}

// floatList is a flag.Value holding comma-separated numbers.
type floatList []float64

func (fl *floatList) String() string {
	var s []string
	for _, f := range *fl {
		s = append(s, strconv.FormatFloat(f, 'g', -1, 64))
	}
	return strings.Join(s, ",")
}

func (fl *floatList) Set(s string) error {
	var out floatList
	for _, part := range strings.Split(s, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return err
		}
		out = append(out, f)
	}
	*fl = out
	return nil
}

type runner struct{}

func (cmd *runner) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var opts runOptions
	fdr := floatList{0.01, 0.05}
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	flags.StringVar(&opts.Input, "i", "", "input count `file` (featureCounts table, optionally gzipped)")
	flags.StringVar(&opts.SampleSuffix, "sample-suffix", "", "`suffix` to remove from count column headers to get sample names, e.g. .mLb.clN.bam")
	flags.StringVar(&opts.Names.dir, "outdir", "./", "output `directory`")
	flags.StringVar(&opts.Names.prefix, "outprefix", "differential", "output file `prefix`")
	flags.StringVar(&opts.Names.suffix, "outsuffix", "", "`suffix` to add to per-sample and per-comparison output files")
	flags.IntVar(&opts.ReplicateSuffixLen, "replicate-suffix-length", 3, "number of trailing characters of a sample name that identify the replicate")
	flags.Var(&fdr, "fdr", "comma-separated FDR `thresholds`")
	flags.Float64Var(&opts.MinLog2FC, "min-log2fc", 1, "absolute log2 fold change threshold for FC counts")
	flags.Float64Var(&opts.Alpha, "alpha", 0.1, "target FDR for independent filtering")
	flags.BoolVar(&opts.IndependentFiltering, "independent-filtering", true, "filter low mean count genes before multiple testing adjustment")
	flags.StringVar(&opts.Regions, "regions", "", "only analyze intervals that overlap regions in bed `file`")
	flags.BoolVar(&opts.VSTNumpy, "vst-numpy", false, "also write variance-stabilized data as a numpy array")
	flags.IntVar(&opts.Threads, "threads", runtime.NumCPU(), "maximum concurrent GLM fits")
	flags.BoolVar(&opts.WriteProfiles, "write-profiles", false, "write cpu.prof and mem.prof to output directory every minute")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	}
	opts.FDR = fdr
	err = opts.validate()
	if err != nil {
		flags.Usage()
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}
	if opts.WriteProfiles {
		go writeProfilesPeriodically(opts.Names.dir)
	}

	err = opts.run(context.Background())
	if err == errTooFewGroups {
		err = nil
		return 0
	} else if err != nil {
		return 1
	}
	return 0
}

func (opts *runOptions) validate() error {
	switch {
	case opts.Input == "":
		return errors.New("missing required flag -i")
	case opts.SampleSuffix == "":
		return errors.New("missing required flag -sample-suffix")
	case opts.Names.prefix == "":
		return errors.New("-outprefix must not be empty")
	case opts.ReplicateSuffixLen < 0:
		return fmt.Errorf("invalid -replicate-suffix-length %d", opts.ReplicateSuffixLen)
	case len(opts.FDR) == 0:
		return errors.New("-fdr must list at least one threshold")
	case opts.Alpha <= 0 || opts.Alpha >= 1:
		return fmt.Errorf("invalid -alpha %v: must be between 0 and 1", opts.Alpha)
	case opts.MinLog2FC < 0:
		return fmt.Errorf("invalid -min-log2fc %v: must not be negative", opts.MinLog2FC)
	}
	for _, f := range opts.FDR {
		if f <= 0 || f >= 1 {
			return fmt.Errorf("invalid -fdr threshold %v: must be between 0 and 1", f)
		}
	}
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	return nil
}

func (opts *runOptions) run(ctx context.Context) error {
	on := opts.Names
	err := os.MkdirAll(on.dir, 0777)
	if err != nil {
		return err
	}

	cm, err := loadCountMatrix(opts.Input, opts.SampleSuffix, opts.ReplicateSuffixLen)
	if err != nil {
		return err
	}
	if opts.Regions != "" {
		log.Printf("loading regions from %s", opts.Regions)
		regions, err := loadRegions(opts.Regions)
		if err != nil {
			return err
		}
		dropped, err := cm.Restrict(regions)
		if err != nil {
			return fmt.Errorf("%s: %w", opts.Regions, err)
		}
		log.WithFields(log.Fields{
			"regions": regions.Len(),
			"dropped": dropped,
			"kept":    len(cm.Intervals),
		}).Info("applied regions filter")
	}

	groups := cm.DistinctGroups()
	if len(groups) < 2 {
		log.Warnf("only %d group(s) found (%s): nothing to compare", len(groups), strings.Join(groups, ", "))
		return errTooFewGroups
	}

	if !exists(on.Log()) {
		err = writeSessionLog(on.Log(), cm)
		if err != nil {
			return err
		}
	}

	model, err := opts.loadOrFitModel(ctx, cm)
	if err != nil {
		return err
	}

	if exists(on.Plots()) {
		skipping("QC plots", on.Plots())
	} else {
		err = writeQC(on, model)
		if err != nil {
			return err
		}
	}

	err = writeSizeFactors(on, model)
	if err != nil {
		return err
	}

	if opts.VSTNumpy {
		if exists(on.VSTNumpy()) {
			skipping("VST numpy export", on.VSTNumpy())
		} else {
			err = writeVSTNumpy(on, model)
			if err != nil {
				return err
			}
		}
	}

	if exists(on.Results()) {
		skipping("comparisons", on.Results())
	} else {
		err = opts.compareAll(cm, model, groups)
		if err != nil {
			return err
		}
	}

	if !exists(on.SessionInfo()) {
		err = writeSessionInfo(on.SessionInfo())
		if err != nil {
			return err
		}
	}
	log.Info("done")
	return nil
}

func skipping(stage, fnm string) {
	log.WithFields(log.Fields{"stage": stage, "file": fnm}).Info("output exists, skipping")
}

// loadOrFitModel returns the cached model if there is one, otherwise
// fits a new one and saves it.
func (opts *runOptions) loadOrFitModel(ctx context.Context, cm *countMatrix) (*deseq.Model, error) {
	fnm := opts.Names.Model()
	digest, err := digestFile(opts.Input)
	if err != nil {
		return nil, err
	}
	if exists(fnm) {
		log.Printf("loading cached model from %s", fnm)
		model, err := deseq.Load(fnm)
		if err != nil {
			return nil, err
		}
		err = checkCachedModel(model, cm, digest)
		if err != nil {
			return nil, fmt.Errorf("%s: %w (remove it to refit)", fnm, err)
		}
		return model, nil
	}
	model, err := deseq.Fit(ctx, cm.Dataset(), deseq.Config{Threads: opts.Threads})
	if err != nil {
		return nil, err
	}
	model.Source = opts.Input
	model.SourceDigest = digest
	err = model.Save(fnm)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"file": fnm}).Info("saved model")
	return model, nil
}

// checkCachedModel returns an error if the cached model was fitted to
// different samples or intervals than cm. A different input digest
// with matching samples and intervals is only a warning.
func checkCachedModel(model *deseq.Model, cm *countMatrix, digest []byte) error {
	if !stringsEqual(model.Samples, cm.Samples) {
		return fmt.Errorf("cached model samples %v do not match input samples %v", model.Samples, cm.Samples)
	}
	if !stringsEqual(model.Groups, cm.Groups) {
		return errors.New("cached model groups do not match input groups")
	}
	if !stringsEqual(model.Genes, cm.Genes()) {
		return fmt.Errorf("cached model has %d intervals, input has %d (or IDs differ)", len(model.Genes), len(cm.Intervals))
	}
	if !bytes.Equal(model.SourceDigest, digest) {
		log.Warnf("cached model was fitted to %s with a different digest; using it anyway", model.Source)
	}
	return nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
