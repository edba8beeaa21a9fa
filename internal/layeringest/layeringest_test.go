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

package layeringest

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"gotest.tools/v3/assert"

	"github.com/wendylabsinc/wendy-agent/internal/agenterrors"
	"github.com/wendylabsinc/wendy-agent/internal/runtimecap"
)

// fakeCapability is an in-memory Capability backing only the content
// operations layeringest exercises.
type fakeCapability struct {
	mu      sync.Mutex
	content map[digest.Digest][]byte
}

func newFakeCapability() *fakeCapability {
	return &fakeCapability{content: make(map[digest.Digest][]byte)}
}

func (f *fakeCapability) WriteContent(ctx context.Context, dgst digest.Digest, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.content[dgst]; ok {
		return agenterrors.ErrAlreadyExists
	}
	f.content[dgst] = data
	return nil
}

func (f *fakeCapability) ListContent(ctx context.Context) ([]runtimecap.LayerDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtimecap.LayerDescriptor, 0, len(f.content))
	for d, b := range f.content {
		out = append(out, runtimecap.LayerDescriptor{Digest: d, Size: int64(len(b))})
	}
	return out, nil
}

func (f *fakeCapability) UploadJSON(ctx context.Context, v any) (digest.Digest, int64, error) {
	panic("unused")
}
func (f *fakeCapability) PrepareSnapshot(ctx context.Context, key, parent string) ([]specs.Mount, error) {
	panic("unused")
}
func (f *fakeCapability) ApplyDiff(ctx context.Context, key string, dgst digest.Digest, size int64, mediaType string, mounts []specs.Mount) error {
	panic("unused")
}
func (f *fakeCapability) CommitSnapshot(ctx context.Context, tmpKey, name string) error {
	panic("unused")
}
func (f *fakeCapability) CreateImage(ctx context.Context, name string, manifestDigest digest.Digest, manifestSize int64) error {
	panic("unused")
}
func (f *fakeCapability) UpdateImage(ctx context.Context, name string, manifestDigest digest.Digest, manifestSize int64) error {
	panic("unused")
}
func (f *fakeCapability) DeleteImage(ctx context.Context, name string) error { panic("unused") }
func (f *fakeCapability) CreateContainer(ctx context.Context, rec runtimecap.ContainerRecord) error {
	panic("unused")
}
func (f *fakeCapability) UpdateContainer(ctx context.Context, rec runtimecap.ContainerRecord) error {
	panic("unused")
}
func (f *fakeCapability) DeleteContainer(ctx context.Context, appName string) error {
	panic("unused")
}
func (f *fakeCapability) CreateTask(ctx context.Context, appName string, mounts []specs.Mount, stdoutPath, stderrPath string) error {
	panic("unused")
}
func (f *fakeCapability) StartTask(ctx context.Context, appName string) error { panic("unused") }
func (f *fakeCapability) KillTask(ctx context.Context, appName string, signal uint32) error {
	panic("unused")
}
func (f *fakeCapability) DeleteTask(ctx context.Context, appName string) error { panic("unused") }
func (f *fakeCapability) ListContainers(ctx context.Context) ([]runtimecap.ContainerRecord, error) {
	panic("unused")
}
func (f *fakeCapability) ListTasks(ctx context.Context) ([]runtimecap.TaskInfo, error) {
	panic("unused")
}

// sliceChunkSource replays a fixed sequence of frames.
type sliceChunkSource struct {
	frames [][]byte
	commit int // index of the commit frame, or -1
	i      int
}

func (s *sliceChunkSource) Next() ([]byte, bool, error) {
	if s.i >= len(s.frames) {
		return nil, false, io.EOF
	}
	data := s.frames[s.i]
	isCommit := s.i == s.commit
	s.i++
	return data, isCommit, nil
}

func TestWriteLayerHappyPath(t *testing.T) {
	cap := newFakeCapability()
	ig := New(cap)

	payload := []byte("layer bytes")
	dgst := digest.FromBytes(payload)
	src := &sliceChunkSource{frames: [][]byte{payload, nil}, commit: 1}

	existed, err := ig.WriteLayer(context.Background(), dgst, src)
	assert.NilError(t, err)
	assert.Assert(t, !existed)
	assert.DeepEqual(t, cap.content[dgst], payload)
}

func TestWriteLayerAlreadyExists(t *testing.T) {
	cap := newFakeCapability()
	payload := []byte("layer bytes")
	dgst := digest.FromBytes(payload)
	cap.content[dgst] = payload

	ig := New(cap)
	src := &sliceChunkSource{frames: [][]byte{payload, nil}, commit: 1}

	existed, err := ig.WriteLayer(context.Background(), dgst, src)
	assert.NilError(t, err)
	assert.Assert(t, existed)
}

func TestWriteLayerRejectsEmptyChunk(t *testing.T) {
	cap := newFakeCapability()
	ig := New(cap)

	dgst := digest.FromBytes([]byte("x"))
	src := &sliceChunkSource{frames: [][]byte{nil}, commit: -1}

	_, err := ig.WriteLayer(context.Background(), dgst, src)
	assert.Assert(t, err != nil)
}

func TestWriteLayerNeverBuffersWholeLayer(t *testing.T) {
	cap := newFakeCapability()
	ig := New(cap)

	var buf bytes.Buffer
	frames := make([][]byte, 0, 5)
	for i := 0; i < 4; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 16)
		frames = append(frames, chunk)
		buf.Write(chunk)
	}
	frames = append(frames, nil)
	dgst := digest.FromBytes(buf.Bytes())

	src := &sliceChunkSource{frames: frames, commit: len(frames) - 1}
	existed, err := ig.WriteLayer(context.Background(), dgst, src)
	assert.NilError(t, err)
	assert.Assert(t, !existed)
	assert.DeepEqual(t, cap.content[dgst], buf.Bytes())
}
