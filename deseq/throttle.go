// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package deseq

import (
	"sync"
)

// throttle runs at most Max funcs at a time and remembers the first
// error any of them returned.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan struct{}
	setupOnce sync.Once
	errMtx    sync.Mutex
	err       error
}

// Go waits for a free slot, then calls f in a new goroutine.
func (t *throttle) Go(f func() error) {
	t.setupOnce.Do(func() {
		if t.Max < 1 {
			t.Max = 1
		}
		t.ch = make(chan struct{}, t.Max)
	})
	t.wg.Add(1)
	t.ch <- struct{}{}
	go func() {
		defer func() {
			<-t.ch
			t.wg.Done()
		}()
		t.Report(f())
	}()
}

func (t *throttle) Report(err error) {
	if err == nil {
		return
	}
	t.errMtx.Lock()
	defer t.errMtx.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *throttle) Err() error {
	t.errMtx.Lock()
	defer t.errMtx.Unlock()
	return t.err
}

func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}
