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

// Package lifecycle implements the Container Lifecycle Manager (C6): it
// turns committed layers and an AppConfig into a running, supervised
// task, and owns stop/delete for a given appName. Every operation on a
// given appName is serialized by a lock keyed on that name (§5); there is
// no global container-manager lock.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/containerd/log"
	connnat "github.com/docker/go-connections/nat"
	"github.com/hashicorp/go-multierror"
	digest "github.com/opencontainers/go-digest"

	"github.com/wendylabsinc/wendy-agent/internal/agentconfig"
	"github.com/wendylabsinc/wendy-agent/internal/agenterrors"
	"github.com/wendylabsinc/wendy-agent/internal/appmodel"
	"github.com/wendylabsinc/wendy-agent/internal/entitlement"
	"github.com/wendylabsinc/wendy-agent/internal/runtimecap"
	"github.com/wendylabsinc/wendy-agent/pkg/labels"
)

// DebugPort is returned to the caller when a run is started with debug
// enabled (§4.6 step 9). debugPort renders it in "port/proto" form so
// logs and client-facing messages read the same way as any other
// published container port.
const DebugPort = 4242

var debugPort = connnat.Port(fmt.Sprintf("%d/tcp", DebugPort))

// RunRequest is the input to Manager.Run, covering §4.6's parameters.
type RunRequest struct {
	ImageName     string
	AppName       string
	Layers        []appmodel.LayerDescriptor
	Config        appmodel.AppConfig
	Cmd           []string
	Env           []string
	WorkingDir    string
	RestartPolicy appmodel.RestartPolicy
	Debug         bool
	StdoutPath    string
	StderrPath    string

	// CgroupPathTemplate overrides how the container's cgroup path is
	// derived from its app name (text/template over {{.AppName}}); empty
	// falls back to the compiler's own default.
	CgroupPathTemplate string
}

// Started is the result of a successful Run.
type Started struct {
	DebugPort int32
}

// ContainerState is the list()-friendly summary of §4.6.
type ContainerState struct {
	AppName      string
	AppVersion   string
	RunningState string // "running" | "stopped"
	FailureCount int
}

// Manager implements run/stop/delete/list against a Capability.
type Manager struct {
	cap runtimecap.Capability

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cap runtimecap.Capability) *Manager {
	return &Manager{cap: cap, locks: make(map[string]*sync.Mutex)}
}

func (m *Manager) lockFor(appName string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[appName]
	if !ok {
		l = &sync.Mutex{}
		m.locks[appName] = l
	}
	return l
}

// Run implements §4.6's run operation end to end.
func (m *Manager) Run(ctx context.Context, req RunRequest) (*Started, error) {
	lock := m.lockFor(req.AppName)
	lock.Lock()
	defer lock.Unlock()

	committedKey, err := m.commitLayerChain(ctx, req.AppName, req.Layers)
	if err != nil {
		return nil, err
	}

	ephemeralKey := req.AppName + "-rw"
	ephemeralMounts, err := m.cap.PrepareSnapshot(ctx, ephemeralKey, committedKey)
	if err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("preparing ephemeral snapshot: %w", err))
	}

	manifest := buildManifest(req.ImageName, req.Layers)
	manifestDigest, manifestSize, err := m.cap.UploadJSON(ctx, manifest)
	if err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("uploading manifest: %w", err))
	}

	if err := m.cap.CreateImage(ctx, req.ImageName, manifestDigest, manifestSize); err != nil && !agenterrors.IsAlreadyExists(err) {
		return nil, err
	}

	args := req.Cmd
	if len(args) == 0 {
		args = []string{"/bin/" + req.ImageName}
	}
	cgroupPath := ""
	if req.CgroupPathTemplate != "" {
		cgroupPath, err = agentconfig.RenderCgroupPath(req.CgroupPathTemplate, req.AppName)
		if err != nil {
			return nil, agenterrors.InvalidArgument("rendering cgroup path: %v", err)
		}
	}
	spec, err := entitlement.Compile(entitlement.Request{
		AppName:    req.AppName,
		Args:       args,
		Env:        req.Env,
		WorkingDir: req.WorkingDir,
		Config:     req.Config,
		CgroupPath: cgroupPath,
	})
	if err != nil {
		return nil, err
	}

	restartPolicyLabel, err := json.Marshal(req.RestartPolicy)
	if err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("marshalling restart policy: %w", err))
	}

	rec := runtimecap.ContainerRecord{
		AppName: req.AppName,
		Image:   req.ImageName,
		Spec:    spec,
		Labels: map[string]string{
			labels.AppID:         req.Config.AppID,
			labels.Version:       req.Config.Version,
			labels.RestartPolicy: string(restartPolicyLabel),
		},
		SnapshotKey: ephemeralKey,
	}
	if err := m.cap.CreateContainer(ctx, rec); err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("creating container %q: %w", req.AppName, err))
	}

	if err := m.reapExitedTask(ctx, req.AppName); err != nil {
		return nil, err
	}

	if err := m.cap.CreateTask(ctx, req.AppName, ephemeralMounts, req.StdoutPath, req.StderrPath); err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("creating task for %q: %w", req.AppName, err))
	}
	if err := m.cap.StartTask(ctx, req.AppName); err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("starting task for %q: %w", req.AppName, err))
	}

	var port int32
	logEntry := log.L.WithField("appName", req.AppName)
	if req.Debug {
		port = DebugPort
		logEntry = logEntry.WithField("debugPort", string(debugPort))
	}
	logEntry.Info("container started")
	return &Started{DebugPort: port}, nil
}

// commitLayerChain implements §4.6 step 1: prepare/applyDiff/commit each
// layer in order, parented by the previous committed key.
func (m *Manager) commitLayerChain(ctx context.Context, appName string, layers []appmodel.LayerDescriptor) (string, error) {
	parent := ""
	for _, l := range layers {
		tmpKey := fmt.Sprintf("%s-%s-tmp", appName, l.DiffID)
		mounts, err := m.cap.PrepareSnapshot(ctx, tmpKey, parent)
		if err != nil {
			return "", agenterrors.Internal(fmt.Errorf("preparing snapshot for layer %s: %w", l.Digest, err))
		}
		if err := m.cap.ApplyDiff(ctx, tmpKey, l.Digest, l.Size, l.MediaType(), mounts); err != nil {
			return "", agenterrors.Internal(fmt.Errorf("applying diff for layer %s: %w", l.Digest, err))
		}

		committed := appName + "-" + l.DiffID.String()
		if err := m.cap.CommitSnapshot(ctx, tmpKey, committed); err != nil && !agenterrors.IsAlreadyExists(err) {
			return "", agenterrors.Internal(fmt.Errorf("committing snapshot for layer %s: %w", l.Digest, err))
		}
		parent = committed
	}
	return parent, nil
}

// reapExitedTask deletes a previously exited task for appName, aborting
// with failedPrecondition if the existing task is still running (§4.6
// step 7).
func (m *Manager) reapExitedTask(ctx context.Context, appName string) error {
	tasks, err := m.cap.ListTasks(ctx)
	if err != nil {
		return agenterrors.Internal(fmt.Errorf("listing tasks: %w", err))
	}
	for _, t := range tasks {
		if t.AppName != appName {
			continue
		}
		if t.Running {
			return agenterrors.FailedPrecondition("task for %q is already running", appName)
		}
		return m.cap.DeleteTask(ctx, appName)
	}
	return nil
}

// Stop implements §4.6's stop operation: kill the task, leave the
// container and snapshot intact.
func (m *Manager) Stop(ctx context.Context, appName string, signal uint32) error {
	if signal == 0 {
		signal = 9
	}
	lock := m.lockFor(appName)
	lock.Lock()
	defer lock.Unlock()

	if err := m.cap.KillTask(ctx, appName, signal); err != nil {
		return agenterrors.Internal(fmt.Errorf("stopping %q: %w", appName, err))
	}
	return nil
}

// Delete implements §4.6's delete operation: stop if running, then
// delete task, container, and image record. Snapshots rooted at
// appName-* are not removed.
func (m *Manager) Delete(ctx context.Context, appName string) error {
	lock := m.lockFor(appName)
	lock.Lock()
	defer lock.Unlock()

	_ = m.cap.KillTask(ctx, appName, 9)

	var result *multierror.Error
	if err := m.cap.DeleteTask(ctx, appName); err != nil && !agenterrors.IsAlreadyExists(err) {
		result = multierror.Append(result, fmt.Errorf("deleting task for %q: %w", appName, err))
	}
	if err := m.cap.DeleteContainer(ctx, appName); err != nil {
		result = multierror.Append(result, fmt.Errorf("deleting container %q: %w", appName, err))
	}
	if err := m.cap.DeleteImage(ctx, appName); err != nil && !agenterrors.IsAlreadyExists(err) {
		result = multierror.Append(result, fmt.Errorf("deleting image %q: %w", appName, err))
	}
	if result.ErrorOrNil() == nil {
		return nil
	}
	return agenterrors.Internal(result)
}

// List implements §4.6's list operation.
func (m *Manager) List(ctx context.Context) ([]ContainerState, error) {
	containers, err := m.cap.ListContainers(ctx)
	if err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("listing containers: %w", err))
	}
	tasks, err := m.cap.ListTasks(ctx)
	if err != nil {
		return nil, agenterrors.Internal(fmt.Errorf("listing tasks: %w", err))
	}
	running := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		running[t.AppName] = t.Running
	}

	out := make([]ContainerState, 0, len(containers))
	for _, rec := range containers {
		state := "stopped"
		if running[rec.AppName] {
			state = "running"
		}
		out = append(out, ContainerState{
			AppName:      rec.AppName,
			AppVersion:   rec.Labels[labels.Version],
			RunningState: state,
		})
	}
	return out, nil
}

func buildManifest(imageName string, layers []appmodel.LayerDescriptor) map[string]any {
	layerDescs := make([]map[string]any, 0, len(layers))
	for _, l := range layers {
		layerDescs = append(layerDescs, map[string]any{
			"mediaType": l.MediaType(),
			"digest":    l.Digest.String(),
			"size":      l.Size,
		})
	}
	return map[string]any{
		"schemaVersion": 2,
		"mediaType":     "application/vnd.oci.image.manifest.v1+json",
		"config": map[string]any{
			"mediaType": "application/vnd.oci.image.config.v1+json",
			"digest":    digest.FromString(imageName).String(),
			"size":      0,
		},
		"layers": layerDescs,
	}
}
