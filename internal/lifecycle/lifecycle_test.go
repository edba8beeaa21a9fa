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

package lifecycle

import (
	"context"
	"io"
	"sync"
	"testing"

	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"gotest.tools/v3/assert"

	"github.com/containerd/errdefs"

	"github.com/wendylabsinc/wendy-agent/internal/appmodel"
	"github.com/wendylabsinc/wendy-agent/internal/runtimecap"
)

// fakeCapability is an in-memory stand-in for the Runtime Capability,
// enough to exercise the lifecycle manager's orchestration logic.
type fakeCapability struct {
	mu sync.Mutex

	committedSnapshots map[string]bool
	images             map[string]digest.Digest
	containers         map[string]runtimecap.ContainerRecord
	tasks              map[string]*runtimecap.TaskInfo
}

func newFakeCapability() *fakeCapability {
	return &fakeCapability{
		committedSnapshots: map[string]bool{},
		images:             map[string]digest.Digest{},
		containers:         map[string]runtimecap.ContainerRecord{},
		tasks:              map[string]*runtimecap.TaskInfo{},
	}
}

func (f *fakeCapability) WriteContent(ctx context.Context, dgst digest.Digest, r io.Reader, size int64) error {
	return nil
}
func (f *fakeCapability) ListContent(ctx context.Context) ([]runtimecap.LayerDescriptor, error) {
	return nil, nil
}
func (f *fakeCapability) UploadJSON(ctx context.Context, v any) (digest.Digest, int64, error) {
	return digest.FromString("manifest"), 128, nil
}
func (f *fakeCapability) PrepareSnapshot(ctx context.Context, key, parent string) ([]specs.Mount, error) {
	return []specs.Mount{{Destination: "/", Source: key, Type: "bind"}}, nil
}
func (f *fakeCapability) ApplyDiff(ctx context.Context, key string, dgst digest.Digest, size int64, mediaType string, mounts []specs.Mount) error {
	return nil
}
func (f *fakeCapability) CommitSnapshot(ctx context.Context, tmpKey, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.committedSnapshots[name] {
		return errdefs.ErrAlreadyExists
	}
	f.committedSnapshots[name] = true
	return nil
}
func (f *fakeCapability) CreateImage(ctx context.Context, name string, manifestDigest digest.Digest, manifestSize int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[name] = manifestDigest
	return nil
}
func (f *fakeCapability) UpdateImage(ctx context.Context, name string, manifestDigest digest.Digest, manifestSize int64) error {
	return f.CreateImage(ctx, name, manifestDigest, manifestSize)
}
func (f *fakeCapability) DeleteImage(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, name)
	return nil
}
func (f *fakeCapability) CreateContainer(ctx context.Context, rec runtimecap.ContainerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[rec.AppName] = rec
	return nil
}
func (f *fakeCapability) UpdateContainer(ctx context.Context, rec runtimecap.ContainerRecord) error {
	return f.CreateContainer(ctx, rec)
}
func (f *fakeCapability) DeleteContainer(ctx context.Context, appName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, appName)
	return nil
}
func (f *fakeCapability) CreateTask(ctx context.Context, appName string, mounts []specs.Mount, stdoutPath, stderrPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[appName] = &runtimecap.TaskInfo{AppName: appName, Running: false}
	return nil
}
func (f *fakeCapability) StartTask(ctx context.Context, appName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[appName]
	if !ok {
		return errdefs.ErrNotFound
	}
	t.Running = true
	return nil
}
func (f *fakeCapability) KillTask(ctx context.Context, appName string, signal uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[appName]
	if !ok {
		return nil
	}
	t.Running = false
	return nil
}
func (f *fakeCapability) DeleteTask(ctx context.Context, appName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, appName)
	return nil
}
func (f *fakeCapability) ListContainers(ctx context.Context) ([]runtimecap.ContainerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtimecap.ContainerRecord, 0, len(f.containers))
	for _, rec := range f.containers {
		out = append(out, rec)
	}
	return out, nil
}
func (f *fakeCapability) ListTasks(ctx context.Context) ([]runtimecap.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtimecap.TaskInfo, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, *t)
	}
	return out, nil
}

func testLayers() []appmodel.LayerDescriptor {
	return []appmodel.LayerDescriptor{
		{Digest: digest.FromString("layer1"), DiffID: digest.FromString("diff1"), Size: 100},
		{Digest: digest.FromString("layer2"), DiffID: digest.FromString("diff2"), Size: 200},
	}
}

func TestRunHappyPath(t *testing.T) {
	cap := newFakeCapability()
	m := New(cap)

	started, err := m.Run(context.Background(), RunRequest{
		ImageName:     "myimage",
		AppName:       "myapp",
		Layers:        testLayers(),
		Config:        appmodel.AppConfig{AppID: "myapp", Version: "1.0.0"},
		RestartPolicy: appmodel.RestartPolicy{Kind: appmodel.RestartOnFailure, MaxRetries: 3},
		Debug:         true,
	})
	assert.NilError(t, err)
	assert.Equal(t, started.DebugPort, int32(DebugPort))

	assert.Assert(t, cap.committedSnapshots["myapp-"+digest.FromString("diff1").String()])
	assert.Assert(t, cap.committedSnapshots["myapp-"+digest.FromString("diff2").String()])
	assert.Assert(t, cap.tasks["myapp"].Running)
	assert.Equal(t, cap.containers["myapp"].Labels["sh.wendy/app-id"], "myapp")
	assert.Equal(t, cap.containers["myapp"].Labels["sh.wendy/restart-policy"], `{"kind":"onFailure","maxRetries":3}`)
}

func TestRunAbortsWhenTaskAlreadyRunning(t *testing.T) {
	cap := newFakeCapability()
	m := New(cap)

	_, err := m.Run(context.Background(), RunRequest{
		ImageName: "myimage",
		AppName:   "myapp",
		Layers:    testLayers(),
		Config:    appmodel.AppConfig{AppID: "myapp"},
	})
	assert.NilError(t, err)

	_, err = m.Run(context.Background(), RunRequest{
		ImageName: "myimage",
		AppName:   "myapp",
		Layers:    testLayers(),
		Config:    appmodel.AppConfig{AppID: "myapp"},
	})
	assert.Assert(t, errdefs.IsFailedPrecondition(err))
}

func TestStopLeavesContainerIntact(t *testing.T) {
	cap := newFakeCapability()
	m := New(cap)

	_, err := m.Run(context.Background(), RunRequest{
		ImageName: "myimage",
		AppName:   "myapp",
		Layers:    testLayers(),
		Config:    appmodel.AppConfig{AppID: "myapp"},
	})
	assert.NilError(t, err)

	assert.NilError(t, m.Stop(context.Background(), "myapp", 0))
	assert.Assert(t, !cap.tasks["myapp"].Running)
	assert.Assert(t, cap.containers["myapp"].AppName == "myapp")
}

func TestDeleteRemovesEverything(t *testing.T) {
	cap := newFakeCapability()
	m := New(cap)

	_, err := m.Run(context.Background(), RunRequest{
		ImageName: "myimage",
		AppName:   "myapp",
		Layers:    testLayers(),
		Config:    appmodel.AppConfig{AppID: "myapp"},
	})
	assert.NilError(t, err)

	assert.NilError(t, m.Delete(context.Background(), "myapp"))
	_, stillThere := cap.containers["myapp"]
	assert.Assert(t, !stillThere)
	_, taskStillThere := cap.tasks["myapp"]
	assert.Assert(t, !taskStillThere)
}

func TestListReportsRunningState(t *testing.T) {
	cap := newFakeCapability()
	m := New(cap)

	_, err := m.Run(context.Background(), RunRequest{
		ImageName: "myimage",
		AppName:   "myapp",
		Layers:    testLayers(),
		Config:    appmodel.AppConfig{AppID: "myapp", Version: "2.3.1"},
	})
	assert.NilError(t, err)

	list, err := m.List(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(list), 1)
	assert.Equal(t, list[0].RunningState, "running")
	assert.Equal(t, list[0].AppVersion, "2.3.1")
}
