// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package deseq

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Dataset is the input to Fit: a gene x sample count matrix and the
// group label of each sample.
type Dataset struct {
	Genes   []string
	Samples []string
	Groups  []string
	Counts  *mat.Dense
}

// Config controls Fit.
type Config struct {
	// Maximum number of concurrent per-gene GLM fits.
	Threads int
	// Floor for gene-wise dispersion estimates. Zero means
	// DefaultMinDispersion.
	MinDispersion float64
}

// Model is a fitted negative binomial GLM for every gene. Matrices
// are stored row-major (one row per gene) so the model can be
// gob-encoded as-is.
type Model struct {
	Genes   []string
	Samples []string
	Groups  []string
	// Sorted distinct groups. Levels[0] is the reference level;
	// coefficient k (k>0) is the offset of Levels[k] from it.
	Levels []string

	// Source and SourceDigest identify the input the model was
	// fitted to. They are set by the caller, not by Fit.
	Source       string
	SourceDigest []byte

	Counts      []float64
	SizeFactors []float64
	BaseMean    []float64

	GenewiseDispersion []float64
	FittedDispersion   []float64
	Dispersion         []float64
	Trend              DispersionTrend

	Coef []float64
	VCov []float64
	// FitErrors is the number of genes whose GLM fit failed.
	FitErrors int

	VST []float64
}

// Fit estimates size factors and dispersions, fits one GLM per gene,
// and computes the variance-stabilized data.
func Fit(ctx context.Context, ds Dataset, cfg Config) (*Model, error) {
	genes, samples := ds.Counts.Dims()
	if genes != len(ds.Genes) || samples != len(ds.Samples) || samples != len(ds.Groups) {
		return nil, fmt.Errorf("dataset dimensions do not match: counts %dx%d, %d genes, %d samples, %d groups", genes, samples, len(ds.Genes), len(ds.Samples), len(ds.Groups))
	}
	minDisp := cfg.MinDispersion
	if minDisp <= 0 {
		minDisp = DefaultMinDispersion
	}
	m := &Model{
		Genes:   append([]string(nil), ds.Genes...),
		Samples: append([]string(nil), ds.Samples...),
		Groups:  append([]string(nil), ds.Groups...),
		Counts:  mat.DenseCopyOf(ds.Counts).RawMatrix().Data,
	}
	seen := map[string]bool{}
	for _, g := range ds.Groups {
		if !seen[g] {
			seen[g] = true
			m.Levels = append(m.Levels, g)
		}
	}
	sort.Strings(m.Levels)

	log.Infof("estimating size factors (%d genes, %d samples)", genes, samples)
	var err error
	m.SizeFactors, err = EstimateSizeFactors(ds.Counts)
	if err != nil {
		return nil, err
	}
	norm := NormalizedCounts(ds.Counts, m.SizeFactors)
	m.BaseMean = rowMeans(norm)

	log.Info("estimating dispersions")
	m.GenewiseDispersion = momentDispersions(norm, m.BaseMean, m.SizeFactors, m.Groups, minDisp)
	m.Trend, err = fitDispersionTrend(m.BaseMean, m.GenewiseDispersion, minDisp)
	if err != nil {
		log.Warnf("parametric dispersion trend fit failed (%s); using mean dispersion", err)
		m.Trend = meanDispersionTrend(m.GenewiseDispersion, minDisp)
	}
	log.WithFields(log.Fields{
		"asymptDisp": m.Trend.AsymptDisp,
		"extraPois":  m.Trend.ExtraPois,
		"parametric": m.Trend.Parametric,
	}).Info("dispersion trend")
	m.FittedDispersion = make([]float64, genes)
	m.Dispersion = make([]float64, genes)
	for i, mu := range m.BaseMean {
		m.FittedDispersion[i] = m.Trend.At(mu)
		m.Dispersion[i] = m.FittedDispersion[i]
		if gw := m.GenewiseDispersion[i]; gw > m.Dispersion[i] {
			m.Dispersion[i] = gw
		}
	}

	err = m.fitGLMs(ctx, cfg.Threads)
	if err != nil {
		return nil, err
	}
	m.VST = m.Trend.TransformMatrix(norm).RawMatrix().Data
	return m, nil
}

func (m *Model) fitGLMs(ctx context.Context, threads int) error {
	genes, samples, p := len(m.Genes), len(m.Samples), len(m.Levels)
	d := newDesign(m.Groups, m.Levels, m.SizeFactors)
	m.Coef = make([]float64, genes*p)
	m.VCov = make([]float64, genes*p*p)
	log.Infof("fitting %d genes (%d coefficients, %d threads)", genes, p, threads)
	var failed, done int64
	thr := throttle{Max: threads}
	for i := 0; i < genes; i++ {
		if err := ctx.Err(); err != nil {
			thr.Report(err)
			break
		}
		i := i
		thr.Go(func() error {
			coef, vcov := nanSlice(p), nanSlice(p*p)
			if m.BaseMean[i] > 0 {
				c, v, err := d.fit(m.Counts[i*samples:(i+1)*samples], m.Dispersion[i])
				if err != nil {
					if atomic.AddInt64(&failed, 1) <= 10 {
						log.Debugf("gene %s: %s", m.Genes[i], err)
					}
				} else {
					coef, vcov = c, v
				}
			}
			copy(m.Coef[i*p:], coef)
			copy(m.VCov[i*p*p:], vcov)
			if n := atomic.AddInt64(&done, 1); n%10000 == 0 {
				log.Infof("fitted %d/%d genes", n, genes)
			}
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return err
	}
	m.FitErrors = int(failed)
	if failed > 0 {
		log.Warnf("GLM fit failed for %d/%d genes; their results are NA", failed, genes)
	}
	return nil
}

// CountsMatrix returns the raw counts as a genes x samples matrix
// backed by m.Counts.
func (m *Model) CountsMatrix() *mat.Dense {
	return mat.NewDense(len(m.Genes), len(m.Samples), m.Counts)
}

// NormalizedCountsMatrix returns counts divided by size factors.
func (m *Model) NormalizedCountsMatrix() *mat.Dense {
	return NormalizedCounts(m.CountsMatrix(), m.SizeFactors)
}

// VSTMatrix returns the variance-stabilized data as a genes x samples
// matrix backed by m.VST.
func (m *Model) VSTMatrix() *mat.Dense {
	return mat.NewDense(len(m.Genes), len(m.Samples), m.VST)
}

// Coefficients returns the fitted coefficients for gene i.
func (m *Model) Coefficients(i int) []float64 {
	p := len(m.Levels)
	return m.Coef[i*p : (i+1)*p]
}

// Save writes the model to fnm as gzip-compressed gob. The file is
// written under a temporary name and renamed into place.
func (m *Model) Save(fnm string) error {
	tmp, err := os.CreateTemp(filepath.Dir(fnm), filepath.Base(fnm)+".tmp-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	bufw := bufio.NewWriterSize(tmp, 1<<20)
	zw := pgzip.NewWriter(bufw)
	err = gob.NewEncoder(zw).Encode(m)
	if err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	err = zw.Close()
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fnm)
}

// Load reads a model written by Save.
func Load(fnm string) (*Model, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := pgzip.NewReader(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	defer zr.Close()
	var m Model
	err = gob.NewDecoder(zr).Decode(&m)
	if err != nil {
		return nil, fmt.Errorf("%s: gob decode: %w", fnm, err)
	}
	if err = m.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return &m, nil
}

func (m *Model) check() error {
	genes, samples, p := len(m.Genes), len(m.Samples), len(m.Levels)
	switch {
	case p == 0:
		return errors.New("model has no group levels")
	case len(m.Groups) != samples, len(m.SizeFactors) != samples:
		return errors.New("model sample metadata is inconsistent")
	case len(m.Counts) != genes*samples, len(m.VST) != genes*samples:
		return errors.New("model matrices are inconsistent with gene/sample counts")
	case len(m.BaseMean) != genes, len(m.Dispersion) != genes, len(m.GenewiseDispersion) != genes, len(m.FittedDispersion) != genes:
		return errors.New("model per-gene estimates are inconsistent")
	case len(m.Coef) != genes*p, len(m.VCov) != genes*p*p:
		return errors.New("model coefficients are inconsistent")
	}
	return nil
}
