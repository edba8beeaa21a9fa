/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package layeringest implements Layer Ingestion (C4): streaming
// content-addressed layer uploads into the Runtime Capability's content
// store, deduplicated by digest.
package layeringest

import (
	"context"
	"io"
	"sync"

	digest "github.com/opencontainers/go-digest"

	"github.com/wendylabsinc/wendy-agent/internal/agenterrors"
	"github.com/wendylabsinc/wendy-agent/internal/runtimecap"
)

// ChunkSource is a pull-based view over the client's WriteLayer stream: it
// yields the raw bytes of one frame at a time, and reports whether the
// frame that produced them was the commit marker. writeLayer never
// buffers an entire layer, so the caller (C7) drives this one frame at a
// time rather than handing over a single io.Reader.
type ChunkSource interface {
	// Next returns the next frame's bytes and whether it is the commit
	// marker. Returns io.EOF if the stream ended without a commit.
	Next() (data []byte, commit bool, err error)
}

// Ingester streams layers into a Capability, deduplicating concurrent
// writers of the same digest.
type Ingester struct {
	cap runtimecap.Capability

	mu       sync.Mutex
	inFlight map[digest.Digest]*sync.Mutex
}

func New(cap runtimecap.Capability) *Ingester {
	return &Ingester{cap: cap, inFlight: make(map[digest.Digest]*sync.Mutex)}
}

// WriteLayer streams chunks from src into the content store under ref =
// dgst, rejecting empty chunks and any byte after the commit marker, and
// tolerating alreadyExists as success (§4.4). Concurrent writers for the
// same digest are serialized here so only one stream reaches the
// Capability; a runtime content store would deduplicate their commits
// regardless, but serializing avoids two in-flight writers racing bytes
// into the same ref.
func (ig *Ingester) WriteLayer(ctx context.Context, dgst digest.Digest, src ChunkSource) (alreadyExisted bool, err error) {
	lock := ig.lockFor(dgst)
	lock.Lock()
	defer lock.Unlock()

	existing, err := ig.has(ctx, dgst)
	if err != nil {
		return false, err
	}
	if existing {
		if err := drain(src); err != nil {
			return false, err
		}
		return true, nil
	}

	pr, pw := io.Pipe()
	writeErrCh := make(chan error, 1)
	go func() {
		writeErrCh <- ig.cap.WriteContent(ctx, dgst, pr, -1)
	}()

	var total int64
	for {
		data, commit, rerr := src.Next()
		if len(data) > 0 {
			if _, werr := pw.Write(data); werr != nil {
				pw.CloseWithError(werr)
				<-writeErrCh
				return false, agenterrors.Internal(werr)
			}
			total += int64(len(data))
		} else if !commit {
			pw.CloseWithError(agenterrors.ErrInvalidArgument)
			<-writeErrCh
			return false, agenterrors.InvalidArgument("empty layer chunk for %s", dgst)
		}

		if rerr == io.EOF || commit {
			pw.Close()
			break
		}
		if rerr != nil {
			pw.CloseWithError(rerr)
			<-writeErrCh
			return false, agenterrors.Internal(rerr)
		}
	}

	if err := <-writeErrCh; err != nil {
		if agenterrors.IsAlreadyExists(err) {
			return true, nil
		}
		return false, agenterrors.Internal(err)
	}
	return false, nil
}

// ListLayerHeaders reports the digest-only view derived from the content
// store, per §4.4.
func (ig *Ingester) ListLayerHeaders(ctx context.Context) ([]runtimecap.LayerDescriptor, error) {
	return ig.cap.ListContent(ctx)
}

func (ig *Ingester) has(ctx context.Context, dgst digest.Digest) (bool, error) {
	layers, err := ig.cap.ListContent(ctx)
	if err != nil {
		return false, err
	}
	for _, l := range layers {
		if l.Digest == dgst {
			return true, nil
		}
	}
	return false, nil
}

func (ig *Ingester) lockFor(dgst digest.Digest) *sync.Mutex {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	l, ok := ig.inFlight[dgst]
	if !ok {
		l = &sync.Mutex{}
		ig.inFlight[dgst] = l
	}
	return l
}

func drain(src ChunkSource) error {
	for {
		_, commit, err := src.Next()
		if commit || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
