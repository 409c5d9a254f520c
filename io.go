// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package countdiff

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"git.arvados.org/arvados.git/sdk/go/arvadosclient"
	"git.arvados.org/arvados.git/sdk/go/keepclient"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

var collectionInPathRe = regexp.MustCompile(`^(.*/)?([0-9a-f]{32}\+[0-9]+|[0-9a-z]{5}-[0-9a-z]{5}-[0-9a-z]{15})(/.*)?$`)

// zopen returns a reader for the given file, using the arvados API
// instead of arv-mount/fuse where applicable, and transparently
// decompressing the input if fnm ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

var (
	arvadosClientFromEnv = arvados.NewClientFromEnv()
	keepClient           *keepclient.KeepClient
	siteFS               arvados.CustomFileSystem
	siteFSMtx            sync.Mutex
)

type file interface {
	io.ReadCloser
	io.Seeker
}

// open opens a local file, or a file in an Arvados collection if
// ARVADOS_API_HOST is set and fnm looks like a collection path
// (".../{uuid or pdh}/path/in/collection").
func open(fnm string) (file, error) {
	if os.Getenv("ARVADOS_API_HOST") == "" {
		return os.Open(fnm)
	}
	m := collectionInPathRe.FindStringSubmatch(fnm)
	if m == nil {
		return os.Open(fnm)
	}
	collectionUUID := m[2]
	collectionPath := m[3]

	siteFSMtx.Lock()
	defer siteFSMtx.Unlock()
	if siteFS == nil {
		log.Info("setting up Arvados client")
		ac, err := arvadosclient.New(arvadosClientFromEnv)
		if err != nil {
			return nil, err
		}
		ac.Client = arvados.DefaultSecureClient
		keepClient = keepclient.New(ac)
		// Don't use keepclient's default short timeouts.
		keepClient.HTTPClient = arvados.DefaultSecureClient
		keepClient.BlockCache = &keepclient.BlockCache{MaxBlocks: 4}
		siteFS = arvadosClientFromEnv.SiteFileSystem(keepClient)
	}

	log.Infof("reading %q from %s using Arvados client", collectionPath, collectionUUID)
	return siteFS.Open("by_id/" + collectionUUID + collectionPath)
}

// digestFile returns the blake2b-256 digest of the (possibly
// compressed) bytes of fnm.
func digestFile(fnm string) ([]byte, error) {
	f, err := open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	_, err = io.Copy(h, bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return h.Sum(nil), nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// outputFile is a buffered file writer. Close flushes the buffer and
// closes the file, returning the first error encountered.
type outputFile struct {
	*bufio.Writer
	f *os.File
}

func createOutput(fnm string) (*outputFile, error) {
	err := os.MkdirAll(filepath.Dir(fnm), 0777)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}
	return &outputFile{Writer: bufio.NewWriterSize(f, 1<<20), f: f}, nil
}

func (of *outputFile) Close() error {
	err := of.Flush()
	if err != nil {
		of.f.Close()
		return fmt.Errorf("%s: %w", of.f.Name(), err)
	}
	return of.f.Close()
}

// exists reports whether fnm exists. Stat errors other than "not
// exist" count as existing.
func exists(fnm string) bool {
	_, err := os.Stat(fnm)
	return !os.IsNotExist(err)
}
