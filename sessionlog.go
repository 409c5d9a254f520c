// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// writeSessionLog writes the run summary header: samples, groups and
// count matrix dimensions.
func writeSessionLog(fnm string, cm *countMatrix) error {
	out, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer out.Close()
	genes, samples := cm.Counts.Dims()
	fmt.Fprintf(out, "Samples = %s\n", strings.Join(cm.Samples, " "))
	fmt.Fprintf(out, "Groups = %s\n", strings.Join(cm.Groups, " "))
	fmt.Fprintf(out, "Dimensions of count matrix = %d %d\n", genes, samples)
	fmt.Fprintln(out)
	err = out.Close()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": fnm}).Info("wrote session log")
	return nil
}

// sessionLog appends lines to the session log and mirrors them to
// the process log.
type sessionLog struct {
	f *os.File
}

func openSessionLog(fnm string) (*sessionLog, error) {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	return &sessionLog{f: f}, nil
}

func (sl *sessionLog) Printf(format string, args ...interface{}) error {
	line := fmt.Sprintf(format, args...)
	log.Print(line)
	_, err := fmt.Fprintln(sl.f, line)
	if err != nil {
		return fmt.Errorf("%s: %w", sl.f.Name(), err)
	}
	return nil
}

func (sl *sessionLog) Close() error {
	return sl.f.Close()
}

// writeSessionInfo records the Go runtime, platform and module
// versions this binary was built with.
func writeSessionInfo(fnm string) error {
	out, err := createOutput(fnm)
	if err != nil {
		return err
	}
	defer out.Close()
	fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(out, "Platform: %s/%s (%d CPUs)\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(out, "Main module: %s %s\n", bi.Main.Path, bi.Main.Version)
		fmt.Fprintln(out, "\nModules:")
		for _, dep := range bi.Deps {
			if dep.Replace != nil {
				fmt.Fprintf(out, "  %s %s => %s %s\n", dep.Path, dep.Version, dep.Replace.Path, dep.Replace.Version)
			} else {
				fmt.Fprintf(out, "  %s %s\n", dep.Path, dep.Version)
			}
		}
	} else {
		fmt.Fprintln(out, "Build info: unavailable")
	}
	err = out.Close()
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": fnm}).Info("wrote session info")
	return nil
}
