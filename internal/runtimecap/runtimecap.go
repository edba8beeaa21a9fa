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

// Package runtimecap declares the Runtime Capability (C3): the narrow
// surface the rest of the core needs from an OCI runtime, and binds it to
// a real containerd daemon over its client API. Keeping the interface
// narrow means only this one file needs to track containerd's actual
// client/content/snapshots/images/containers/cio package shapes; every
// other component in the core depends only on this interface.
package runtimecap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/content"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/images"
	"github.com/containerd/containerd/mount"
	"github.com/containerd/containerd/namespaces"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	agenterrors "github.com/wendylabsinc/wendy-agent/internal/agenterrors"
)

// LayerDescriptor is the digest-only content view §4.3 requires.
type LayerDescriptor struct {
	Digest digest.Digest
	Size   int64
}

// ContainerRecord is the persisted shape createContainer/updateContainer
// operate on; C6 owns its field semantics, this package only stores it as
// containerd container labels plus the OCI runtime spec.
type ContainerRecord struct {
	AppName string
	Image   string
	Spec    *specs.Spec
	Labels  map[string]string
	// SnapshotKey is the committed or ephemeral snapshot mounted as rootfs.
	SnapshotKey string
}

// TaskInfo reports a task's run state plus exit metadata once it has
// exited, for listTasks().
type TaskInfo struct {
	AppName    string
	Running    bool
	ExitStatus uint32
	ExitedAt   time.Time
}

// Capability is the Runtime Capability interface of §4.3. All operations
// are safe to call concurrently for distinct keys/digests/names; a
// result satisfying errdefs.IsAlreadyExists is the benign "someone else
// already committed this" outcome, not a failure.
type Capability interface {
	WriteContent(ctx context.Context, dgst digest.Digest, r io.Reader, size int64) error
	ListContent(ctx context.Context) ([]LayerDescriptor, error)
	UploadJSON(ctx context.Context, v any) (digest.Digest, int64, error)

	PrepareSnapshot(ctx context.Context, key, parent string) ([]specs.Mount, error)
	ApplyDiff(ctx context.Context, key string, dgst digest.Digest, size int64, mediaType string, mounts []specs.Mount) error
	CommitSnapshot(ctx context.Context, tmpKey, name string) error

	CreateImage(ctx context.Context, name string, manifestDigest digest.Digest, manifestSize int64) error
	UpdateImage(ctx context.Context, name string, manifestDigest digest.Digest, manifestSize int64) error
	DeleteImage(ctx context.Context, name string) error

	CreateContainer(ctx context.Context, rec ContainerRecord) error
	UpdateContainer(ctx context.Context, rec ContainerRecord) error
	DeleteContainer(ctx context.Context, appName string) error

	CreateTask(ctx context.Context, appName string, mounts []specs.Mount, stdoutPath, stderrPath string) error
	StartTask(ctx context.Context, appName string) error
	KillTask(ctx context.Context, appName string, signal uint32) error
	DeleteTask(ctx context.Context, appName string) error

	ListContainers(ctx context.Context) ([]ContainerRecord, error)
	ListTasks(ctx context.Context) ([]TaskInfo, error)
}

const runtimeName = "io.containerd.runc.v2"

// Containerd adapts a *containerd.Client (a single namespace, a single
// snapshotter) to Capability.
type Containerd struct {
	Client      *containerd.Client
	Namespace   string
	Snapshotter string
}

func New(client *containerd.Client, namespace, snapshotter string) *Containerd {
	return &Containerd{Client: client, Namespace: namespace, Snapshotter: snapshotter}
}

func (c *Containerd) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.Namespace)
}

func (c *Containerd) WriteContent(ctx context.Context, dgst digest.Digest, r io.Reader, size int64) error {
	ctx = c.ctx(ctx)
	cs := c.Client.ContentStore()

	// A negative size skips the length check: layers arrive as a stream of
	// RPC chunks whose total length is only known once the stream ends, so
	// layer writers pass -1 and the byte count from io.Copy is committed.
	// A non-negative size must equal that count.
	ref := "writeLayer-" + dgst.String()
	w, err := cs.Writer(ctx, content.WithRef(ref))
	if err != nil {
		if errdefs.IsAlreadyExists(err) {
			return nil
		}
		return agenterrors.Internal(fmt.Errorf("opening content writer: %w", err))
	}
	defer w.Close()

	n, err := io.Copy(w, r)
	if err != nil {
		return agenterrors.Internal(fmt.Errorf("streaming content: %w", err))
	}
	if size >= 0 && n != size {
		return agenterrors.InvalidArgument("layer %s: wrote %d bytes, expected %d", dgst, n, size)
	}

	if err := w.Commit(ctx, n, dgst); err != nil {
		if errdefs.IsAlreadyExists(err) {
			return nil
		}
		return agenterrors.Internal(fmt.Errorf("committing content: %w", err))
	}
	return nil
}

func (c *Containerd) ListContent(ctx context.Context) ([]LayerDescriptor, error) {
	ctx = c.ctx(ctx)
	var out []LayerDescriptor
	err := c.Client.ContentStore().Walk(ctx, func(info content.Info) error {
		out = append(out, LayerDescriptor{Digest: info.Digest, Size: info.Size})
		return nil
	})
	if err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("listing content: %w", err))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Digest < out[j].Digest })
	return out, nil
}

// UploadJSON marshals v with encoding/json and writes it as content,
// returning its digest and size. No further canonicalization is done:
// encoding/json sorts map keys, so map[string]any input yields stable
// bytes, while struct fields keep their declaration order.
func (c *Containerd) UploadJSON(ctx context.Context, v any) (digest.Digest, int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", 0, agenterrors.Internal(fmt.Errorf("marshalling json payload: %w", err))
	}
	dgst := digest.FromBytes(data)
	if err := c.WriteContent(ctx, dgst, bytesReader(data), int64(len(data))); err != nil {
		return "", 0, err
	}
	return dgst, int64(len(data)), nil
}

func (c *Containerd) PrepareSnapshot(ctx context.Context, key, parent string) ([]specs.Mount, error) {
	ctx = c.ctx(ctx)
	sn := c.Client.SnapshotService(c.Snapshotter)
	mounts, err := sn.Prepare(ctx, key, parent)
	if err != nil {
		if errdefs.IsAlreadyExists(err) {
			mounts, err = sn.Mounts(ctx, key)
			if err != nil {
				return nil, agenterrors.Internal(fmt.Errorf("resolving existing snapshot mounts: %w", err))
			}
			return toSpecMounts(mounts), nil
		}
		return nil, agenterrors.Internal(fmt.Errorf("preparing snapshot %q: %w", key, err))
	}
	return toSpecMounts(mounts), nil
}

// ApplyDiff unpacks the layer blob dgst, already in the content store via
// WriteContent, onto the prepared snapshot mounts through containerd's
// diff service (diff.Applier).
func (c *Containerd) ApplyDiff(ctx context.Context, key string, dgst digest.Digest, size int64, mediaType string, mounts []specs.Mount) error {
	ctx = c.ctx(ctx)
	desc := ocispec.Descriptor{MediaType: mediaType, Digest: dgst, Size: size}
	if _, err := c.Client.DiffService().Apply(ctx, desc, fromSpecMounts(mounts)); err != nil {
		return agenterrors.Internal(fmt.Errorf("applying layer %s onto %q: %w", dgst, key, err))
	}
	return nil
}

func (c *Containerd) CommitSnapshot(ctx context.Context, tmpKey, name string) error {
	ctx = c.ctx(ctx)
	sn := c.Client.SnapshotService(c.Snapshotter)
	if err := sn.Commit(ctx, name, tmpKey); err != nil {
		if errdefs.IsAlreadyExists(err) {
			return nil
		}
		return agenterrors.Internal(fmt.Errorf("committing snapshot %q as %q: %w", tmpKey, name, err))
	}
	return nil
}

func (c *Containerd) CreateImage(ctx context.Context, name string, manifestDigest digest.Digest, manifestSize int64) error {
	ctx = c.ctx(ctx)
	img := images.Image{
		Name:   name,
		Target: ociDescriptor(manifestDigest, manifestSize),
	}
	_, err := c.Client.ImageService().Create(ctx, img)
	if err != nil {
		if errdefs.IsAlreadyExists(err) {
			return c.UpdateImage(ctx, name, manifestDigest, manifestSize)
		}
		return agenterrors.Internal(fmt.Errorf("creating image %q: %w", name, err))
	}
	return nil
}

func (c *Containerd) UpdateImage(ctx context.Context, name string, manifestDigest digest.Digest, manifestSize int64) error {
	ctx = c.ctx(ctx)
	img := images.Image{
		Name:   name,
		Target: ociDescriptor(manifestDigest, manifestSize),
	}
	_, err := c.Client.ImageService().Update(ctx, img)
	if err != nil {
		return agenterrors.Internal(fmt.Errorf("updating image %q: %w", name, err))
	}
	return nil
}

func (c *Containerd) DeleteImage(ctx context.Context, name string) error {
	ctx = c.ctx(ctx)
	if err := c.Client.ImageService().Delete(ctx, name); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return agenterrors.Internal(fmt.Errorf("deleting image %q: %w", name, err))
	}
	return nil
}

func (c *Containerd) CreateContainer(ctx context.Context, rec ContainerRecord) error {
	ctx = c.ctx(ctx)
	specOpt := containerd.WithSpec(rec.Spec)
	_, err := c.Client.NewContainer(ctx, rec.AppName,
		containerd.WithSnapshot(rec.SnapshotKey),
		containerd.WithContainerLabels(rec.Labels),
		specOpt,
		containerd.WithRuntime(runtimeName, nil),
	)
	if err != nil {
		if errdefs.IsAlreadyExists(err) {
			return c.UpdateContainer(ctx, rec)
		}
		return agenterrors.Internal(fmt.Errorf("creating container %q: %w", rec.AppName, err))
	}
	return nil
}

func (c *Containerd) UpdateContainer(ctx context.Context, rec ContainerRecord) error {
	ctx = c.ctx(ctx)
	container, err := c.Client.LoadContainer(ctx, rec.AppName)
	if err != nil {
		return agenterrors.NotFound("container %q: %v", rec.AppName, err)
	}
	specData, err := json.Marshal(rec.Spec)
	if err != nil {
		return agenterrors.Internal(fmt.Errorf("marshalling updated spec: %w", err))
	}
	err = container.Update(ctx, func(ctx context.Context, _ *containerd.Client, c *containers.Container) error {
		c.Labels = rec.Labels
		if c.Spec != nil {
			c.Spec.Value = specData
		}
		c.SnapshotKey = rec.SnapshotKey
		return nil
	})
	if err != nil {
		return agenterrors.Internal(fmt.Errorf("updating container %q: %w", rec.AppName, err))
	}
	return nil
}

func (c *Containerd) DeleteContainer(ctx context.Context, appName string) error {
	ctx = c.ctx(ctx)
	container, err := c.Client.LoadContainer(ctx, appName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return agenterrors.Internal(fmt.Errorf("loading container %q: %w", appName, err))
	}
	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return agenterrors.Internal(fmt.Errorf("deleting container %q: %w", appName, err))
	}
	return nil
}

func (c *Containerd) CreateTask(ctx context.Context, appName string, mounts []specs.Mount, stdoutPath, stderrPath string) error {
	ctx = c.ctx(ctx)
	container, err := c.Client.LoadContainer(ctx, appName)
	if err != nil {
		return agenterrors.NotFound("container %q: %v", appName, err)
	}

	creator := taskIOCreator(stdoutPath, stderrPath)
	task, err := container.NewTask(ctx, creator, containerd.WithRootFS(fromSpecMounts(mounts)))
	if err != nil {
		return agenterrors.Internal(fmt.Errorf("creating task for %q: %w", appName, err))
	}
	_ = task
	return nil
}

func (c *Containerd) StartTask(ctx context.Context, appName string) error {
	ctx = c.ctx(ctx)
	task, err := c.loadTask(ctx, appName)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		return agenterrors.Internal(fmt.Errorf("starting task for %q: %w", appName, err))
	}
	return nil
}

func (c *Containerd) KillTask(ctx context.Context, appName string, signal uint32) error {
	ctx = c.ctx(ctx)
	task, err := c.loadTask(ctx, appName)
	if err != nil {
		return err
	}
	if err := task.Kill(ctx, signal); err != nil {
		return agenterrors.Internal(fmt.Errorf("signalling task for %q: %w", appName, err))
	}
	return nil
}

func (c *Containerd) DeleteTask(ctx context.Context, appName string) error {
	ctx = c.ctx(ctx)
	task, err := c.loadTask(ctx, appName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return err
	}
	if _, err := task.Delete(ctx); err != nil {
		return agenterrors.Internal(fmt.Errorf("deleting task for %q: %w", appName, err))
	}
	return nil
}

// ListContainers returns every container's id plus the labels it was
// created or last updated with, so callers (list(), rehydrate) can
// recover persisted metadata like restart policy and app version
// without a separate store.
func (c *Containerd) ListContainers(ctx context.Context) ([]ContainerRecord, error) {
	ctx = c.ctx(ctx)
	list, err := c.Client.Containers(ctx)
	if err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("listing containers: %w", err))
	}
	out := make([]ContainerRecord, 0, len(list))
	for _, cont := range list {
		lbls, err := cont.Labels(ctx)
		if err != nil {
			lbls = nil
		}
		out = append(out, ContainerRecord{AppName: cont.ID(), Labels: lbls})
	}
	return out, nil
}

func (c *Containerd) ListTasks(ctx context.Context) ([]TaskInfo, error) {
	ctx = c.ctx(ctx)
	list, err := c.Client.Containers(ctx)
	if err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("listing containers: %w", err))
	}
	out := make([]TaskInfo, 0, len(list))
	for _, cont := range list {
		task, err := cont.Task(ctx, nil)
		if err != nil {
			continue
		}
		status, err := task.Status(ctx)
		if err != nil {
			continue
		}
		out = append(out, TaskInfo{
			AppName:    cont.ID(),
			Running:    status.Status == containerd.Running,
			ExitStatus: status.ExitStatus,
			ExitedAt:   status.ExitTime,
		})
	}
	return out, nil
}

func (c *Containerd) loadTask(ctx context.Context, appName string) (containerd.Task, error) {
	container, err := c.Client.LoadContainer(ctx, appName)
	if err != nil {
		return nil, agenterrors.NotFound("container %q: %v", appName, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, agenterrors.NotFound("task for %q: %v", appName, err)
	}
	return task, nil
}

func taskIOCreator(stdoutPath, stderrPath string) cio.Creator {
	if stdoutPath == "" && stderrPath == "" {
		return cio.NullIO
	}
	return func(id string) (cio.IO, error) {
		fifos := &cio.FIFOSet{
			Config: cio.Config{
				Stdin:    "",
				Stdout:   stdoutPath,
				Stderr:   stderrPath,
				Terminal: false,
			},
		}
		return cio.NewDirectIO(context.Background(), fifos)
	}
}

func ociDescriptor(dgst digest.Digest, size int64) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageLayer,
		Digest:    dgst,
		Size:      size,
	}
}

func toSpecMounts(mounts []mount.Mount) []specs.Mount {
	out := make([]specs.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, specs.Mount{
			Source:  m.Source,
			Type:    m.Type,
			Options: m.Options,
		})
	}
	return out
}

func fromSpecMounts(mounts []specs.Mount) []mount.Mount {
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mount.Mount{Source: m.Source, Type: m.Type, Options: m.Options, Target: m.Destination})
	}
	return out
}

type byteReader struct {
	data []byte
	pos  int
}

func bytesReader(b []byte) io.Reader { return &byteReader{data: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
