// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	log "github.com/sirupsen/logrus"
)

func writeProfilesPeriodically(outdir string) {
	for range time.NewTicker(time.Minute).C {
		writeMemProfile(outdir)
		writeCPUProfile(outdir)
	}
}

// writeProfile writes a profile to outdir/name~ using fn, then
// renames it to outdir/name.
func writeProfile(outdir, name string, fn func(io.Writer) error) {
	tmp := filepath.Join(outdir, name+"~")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		log.Print(err)
		return
	}
	defer f.Close()
	runtime.GC()
	if err := fn(f); err != nil {
		log.Print(err)
		return
	}
	err = f.Close()
	if err != nil {
		log.Print(err)
		return
	}
	err = os.Rename(tmp, filepath.Join(outdir, name))
	if err != nil {
		log.Print(err)
	}
}

func writeCPUProfile(outdir string) {
	writeProfile(outdir, "cpu.prof", func(f io.Writer) error {
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		time.Sleep(time.Second)
		pprof.StopCPUProfile()
		return nil
	})
}

func writeMemProfile(outdir string) {
	writeProfile(outdir, "mem.prof", pprof.WriteHeapProfile)
}
