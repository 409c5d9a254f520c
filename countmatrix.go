// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/arvados/countdiff/deseq"
	"github.com/grailbio/base/tsv"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Number of leading interval-annotation columns in a featureCounts
// table (Geneid Chr Start End Strand Length).
const intervalColumns = 6

// Positions of the interval fields used for BED output and region
// filtering.
const (
	colGeneid = 0
	colChr    = 1
	colStart  = 2
	colEnd    = 3
	colStrand = 4
)

// countMatrix is a featureCounts-style table: interval annotations
// plus a genes x samples count matrix. Samples are sorted by name.
type countMatrix struct {
	Source         string
	IntervalHeader []string
	Intervals      [][]string
	Samples        []string
	Groups         []string
	Counts         *mat.Dense
}

// loadCountMatrix reads a count table from fnm. sampleSuffix is
// removed from each count column header, and the remaining basename
// is the sample name. The group of each sample is its name minus the
// last replicateSuffixLen characters.
func loadCountMatrix(fnm, sampleSuffix string, replicateSuffixLen int) (*countMatrix, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cm, err := readCountMatrix(f, fnm, sampleSuffix, replicateSuffixLen)
	if err != nil {
		return nil, err
	}
	return cm, f.Close()
}

func readCountMatrix(r io.Reader, fnm, sampleSuffix string, replicateSuffixLen int) (*countMatrix, error) {
	bufr := bufio.NewReaderSize(r, 1<<20)
	// first line is the featureCounts command line
	first, err := bufr.ReadString('\n')
	if err == io.EOF && first == "" {
		return nil, fmt.Errorf("%s: empty input", fnm)
	} else if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	rdr := tsv.NewReader(bufr)
	rdr.LazyQuotes = true
	rdr.FieldsPerRecord = -1
	header, err := rdr.Reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: missing header line", fnm)
	} else if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(header) <= intervalColumns {
		return nil, fmt.Errorf("%s line 2: header has %d columns, need at least %d (%d interval columns + samples)", fnm, len(header), intervalColumns+1, intervalColumns)
	}
	header = append([]string(nil), header...)
	nsamples := len(header) - intervalColumns
	samples := make([]string, nsamples)
	seen := map[string]bool{}
	for j, h := range header[intervalColumns:] {
		name := sampleName(h, sampleSuffix)
		if name == "" || name == "." || name == "/" {
			return nil, fmt.Errorf("%s line 2: column %d header %q yields empty sample name", fnm, intervalColumns+j+1, h)
		}
		if seen[name] {
			return nil, fmt.Errorf("%s line 2: duplicate sample name %q", fnm, name)
		}
		seen[name] = true
		samples[j] = name
	}

	var intervals [][]string
	var data []float64
	for line := 3; ; line++ {
		rec, err := rdr.Reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", fnm, err)
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%s line %d: %d fields, header has %d", fnm, line, len(rec), len(header))
		}
		intervals = append(intervals, append([]string(nil), rec[:intervalColumns]...))
		for j, s := range rec[intervalColumns:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%s line %d: sample %s: non-numeric count %q", fnm, line, samples[j], s)
			}
			if v < 0 {
				return nil, fmt.Errorf("%s line %d: sample %s: negative count %q", fnm, line, samples[j], s)
			}
			data = append(data, math.Round(v))
		}
	}
	if len(intervals) == 0 {
		return nil, fmt.Errorf("%s: no intervals", fnm)
	}

	// Sort sample columns by name.
	order := make([]int, nsamples)
	for j := range order {
		order[j] = j
	}
	sort.Slice(order, func(a, b int) bool { return samples[order[a]] < samples[order[b]] })
	cm := &countMatrix{
		Source:         fnm,
		IntervalHeader: header[:intervalColumns],
		Intervals:      intervals,
		Samples:        make([]string, nsamples),
		Groups:         make([]string, nsamples),
		Counts:         mat.NewDense(len(intervals), nsamples, nil),
	}
	for jnew, jold := range order {
		cm.Samples[jnew] = samples[jold]
		for i := range intervals {
			cm.Counts.Set(i, jnew, data[i*nsamples+jold])
		}
	}
	for j, s := range cm.Samples {
		cm.Groups[j], err = groupOf(s, replicateSuffixLen)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fnm, err)
		}
	}
	log.WithFields(log.Fields{
		"file":      fnm,
		"intervals": len(intervals),
		"samples":   nsamples,
	}).Info("loaded count matrix")
	return cm, nil
}

// sampleName removes every occurrence of suffix from a count column
// header and returns the basename of the result.
func sampleName(header, suffix string) string {
	if suffix != "" {
		header = strings.ReplaceAll(header, suffix, "")
	}
	return path.Base(header)
}

// groupOf returns sample minus its last n characters.
func groupOf(sample string, n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("invalid replicate suffix length %d", n)
	}
	r := []rune(sample)
	if len(r) <= n {
		return "", fmt.Errorf("sample name %q is too short to strip a %d-character replicate suffix", sample, n)
	}
	return string(r[:len(r)-n]), nil
}

// distinctGroups returns the distinct values of groups in order of
// first appearance.
func distinctGroups(groups []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, g := range groups {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

// pairs returns every unordered pair {groups[i], groups[j]} with
// i < j, ordered by i then j.
func pairs(groups []string) [][2]string {
	var out [][2]string
	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			out = append(out, [2]string{groups[i], groups[j]})
		}
	}
	return out
}

// Genes returns the interval IDs (first column).
func (cm *countMatrix) Genes() []string {
	genes := make([]string, len(cm.Intervals))
	for i, iv := range cm.Intervals {
		genes[i] = iv[colGeneid]
	}
	return genes
}

// DistinctGroups returns the distinct groups in sample order.
func (cm *countMatrix) DistinctGroups() []string {
	return distinctGroups(cm.Groups)
}

// SamplesIn returns the indices of samples that belong to group.
func (cm *countMatrix) SamplesIn(group string) []int {
	var idx []int
	for j, g := range cm.Groups {
		if g == group {
			idx = append(idx, j)
		}
	}
	return idx
}

func (cm *countMatrix) Dataset() deseq.Dataset {
	return deseq.Dataset{
		Genes:   cm.Genes(),
		Samples: cm.Samples,
		Groups:  cm.Groups,
		Counts:  cm.Counts,
	}
}

// Restrict drops intervals that do not overlap any region in m, and
// returns the number of intervals dropped. Chr/Start/End fields of
// featureCounts meta-features may be semicolon-separated lists; an
// interval is kept if any of its parts overlaps.
func (cm *countMatrix) Restrict(m *mask) (int, error) {
	var keep []int
	for i, iv := range cm.Intervals {
		ok, err := overlapsMask(m, iv)
		if err != nil {
			return 0, fmt.Errorf("%s: interval %s: %w", cm.Source, iv[colGeneid], err)
		}
		if ok {
			keep = append(keep, i)
		}
	}
	dropped := len(cm.Intervals) - len(keep)
	if len(keep) == 0 {
		return dropped, errors.New("no intervals overlap the given regions")
	}
	_, nsamples := cm.Counts.Dims()
	counts := mat.NewDense(len(keep), nsamples, nil)
	intervals := make([][]string, len(keep))
	for inew, iold := range keep {
		intervals[inew] = cm.Intervals[iold]
		counts.SetRow(inew, cm.Counts.RawRowView(iold))
	}
	cm.Intervals, cm.Counts = intervals, counts
	return dropped, nil
}

func overlapsMask(m *mask, iv []string) (bool, error) {
	chrs := strings.Split(iv[colChr], ";")
	starts := strings.Split(iv[colStart], ";")
	ends := strings.Split(iv[colEnd], ";")
	if len(starts) != len(chrs) || len(ends) != len(chrs) {
		return false, fmt.Errorf("mismatched Chr/Start/End lists %q %q %q", iv[colChr], iv[colStart], iv[colEnd])
	}
	for k, chr := range chrs {
		start, err := strconv.Atoi(starts[k])
		if err != nil {
			return false, err
		}
		end, err := strconv.Atoi(ends[k])
		if err != nil {
			return false, err
		}
		if m.Check(chr, start, end) {
			return true, nil
		}
	}
	return false, nil
}
