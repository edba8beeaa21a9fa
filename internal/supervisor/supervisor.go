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

// Package supervisor implements the Supervisor Loop (C8): a single
// long-running reconciler that restarts exited tasks per their restart
// policy, and exposes a read-only snapshot of its per-appName table for
// ContainerService.listContainers. The table is refreshed from task
// queries on each poll; listContainers takes running state from a live
// task query and only the failure counters from this snapshot.
package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/containerd/log"
	"golang.org/x/sync/errgroup"

	"github.com/wendylabsinc/wendy-agent/internal/appmodel"
	"github.com/wendylabsinc/wendy-agent/internal/lifecycle"
	"github.com/wendylabsinc/wendy-agent/internal/runtimecap"
	"github.com/wendylabsinc/wendy-agent/pkg/labels"
)

// PollInterval is how often the loop re-derives task state from the
// Runtime Capability. The loop does not subscribe to task-exit events.
const PollInterval = 2 * time.Second

// entry is the per-appName bookkeeping of §4.8 step 2.
type entry struct {
	restartPolicy appmodel.RestartPolicy
	failureCount  int
	lastExitAt    time.Time
	suppressed    bool // true after a manual stop, cleared by the next run
	running       bool

	runArgs RunArgs
}

// RunArgs is the subset of lifecycle.RunRequest the supervisor needs to
// re-create a task on restart; Manager.Run needs the rest of the
// original request (layers, config) which the caller supplies once at
// Track time and which does not change across restarts.
type RunArgs = lifecycle.RunRequest

// Loop is the single per-process supervisor.
type Loop struct {
	manager *lifecycle.Manager
	cap     runtimecap.Capability

	mu      sync.Mutex
	table   map[string]*entry
	stopped map[string]bool
}

func New(manager *lifecycle.Manager, cap runtimecap.Capability) *Loop {
	return &Loop{
		manager: manager,
		cap:     cap,
		table:   make(map[string]*entry),
		stopped: make(map[string]bool),
	}
}

// Track registers (or re-registers, clearing suppression and resetting
// failureCount) the restart policy and run arguments for appName, called
// by C7 whenever a run() succeeds (§4.8 step 3: "reset on successful
// run").
func (l *Loop) Track(appName string, policy appmodel.RestartPolicy, args RunArgs) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table[appName] = &entry{restartPolicy: policy, running: true, runArgs: args}
}

// MarkStopped records a manual stop: it clears the restart counter and
// suppresses further restarts until the next Track (§4.6).
func (l *Loop) MarkStopped(appName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.table[appName]
	if !ok {
		return
	}
	e.suppressed = true
	e.running = false
	e.failureCount = 0
}

// Snapshot is the read-only copy of the appName → state table.
type Snapshot struct {
	AppName      string
	FailureCount int
	Running      bool
}

// Snapshot returns a read-only copy of the current table, consumed by
// ContainerService.listContainers.
func (l *Loop) Snapshot() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Snapshot, 0, len(l.table))
	for name, e := range l.table {
		out = append(out, Snapshot{AppName: name, FailureCount: e.failureCount, Running: e.running})
	}
	return out
}

// Rehydrate implements §4.8 steps 1-2 at startup: it enumerates existing
// containers and tasks via the Capability and seeds the table for every
// task whose appName it doesn't already know about (a container with no
// task is not seeded), recovering each one's restart
// policy from the sh.wendy/restart-policy label it was created with
// (falling back to the "default" policy if the label is missing or
// malformed).
func (l *Loop) Rehydrate(ctx context.Context) error {
	tasks, err := l.cap.ListTasks(ctx)
	if err != nil {
		return err
	}
	containers, err := l.cap.ListContainers(ctx)
	if err != nil {
		return err
	}
	policies := make(map[string]appmodel.RestartPolicy, len(containers))
	for _, c := range containers {
		policies[c.AppName] = decodeRestartPolicyLabel(c.Labels[labels.RestartPolicy])
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range tasks {
		if _, ok := l.table[t.AppName]; ok {
			continue
		}
		l.table[t.AppName] = &entry{
			restartPolicy: policies[t.AppName],
			running:       t.Running,
		}
	}
	return nil
}

// decodeRestartPolicyLabel recovers a RestartPolicy from its JSON label
// value, falling back to RestartDefault when the label is absent,
// malformed, or names a kind the agent no longer recognizes.
func decodeRestartPolicyLabel(value string) appmodel.RestartPolicy {
	fallback := appmodel.RestartPolicy{Kind: appmodel.RestartDefault}
	if value == "" {
		return fallback
	}
	var policy appmodel.RestartPolicy
	if err := json.Unmarshal([]byte(value), &policy); err != nil {
		return fallback
	}
	switch policy.Kind {
	case appmodel.RestartNo, appmodel.RestartUnlessStopped, appmodel.RestartOnFailure, appmodel.RestartDefault:
		return policy
	default:
		return fallback
	}
}

// Run polls task state until ctx is cancelled, restarting exited tasks
// per policy (§4.8 step 3) under a per-appName lock obtained implicitly
// through lifecycle.Manager.Run/Stop, which already serialize on appName.
// On graceful shutdown (ctx cancellation) it returns without killing any
// running task; they outlive the process (§4.8 step 4).
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.reconcileOnce(ctx)
		}
	}
}

func (l *Loop) reconcileOnce(ctx context.Context) {
	tasks, err := l.cap.ListTasks(ctx)
	if err != nil {
		log.L.WithError(err).Warn("supervisor: listing tasks failed")
		return
	}
	running := make(map[string]runtimecap.TaskInfo, len(tasks))
	for _, t := range tasks {
		running[t.AppName] = t
	}

	l.mu.Lock()
	candidates := make([]string, 0, len(l.table))
	for name := range l.table {
		candidates = append(candidates, name)
	}
	l.mu.Unlock()

	// Each appName is serialized by lifecycle.Manager's own per-appName
	// lock, so distinct apps can reconcile (and restart) concurrently
	// without contending on one another.
	var g errgroup.Group
	for _, appName := range candidates {
		appName := appName
		g.Go(func() error {
			l.reconcileApp(ctx, appName, running)
			return nil
		})
	}
	_ = g.Wait()
}

func (l *Loop) reconcileApp(ctx context.Context, appName string, running map[string]runtimecap.TaskInfo) {
	l.mu.Lock()
	e, ok := l.table[appName]
	if !ok {
		l.mu.Unlock()
		return
	}
	t, stillRunning := running[appName]
	if stillRunning && t.Running {
		e.running = true
		l.mu.Unlock()
		return
	}
	if !e.running {
		// already reconciled as exited; nothing new happened
		l.mu.Unlock()
		return
	}

	e.running = false
	e.lastExitAt = time.Now()
	exitCode := int(t.ExitStatus)
	if exitCode != 0 {
		e.failureCount++
	}
	suppressed := e.suppressed
	policy := e.restartPolicy
	priorFailures := e.failureCount
	args := e.runArgs
	l.mu.Unlock()

	if suppressed {
		return
	}
	if !policy.ShouldRestart(exitCode, priorFailures-boolToInt(exitCode != 0)) {
		log.L.WithField("appName", appName).Info("supervisor: not restarting, policy exhausted")
		return
	}

	log.L.WithField("appName", appName).Info("supervisor: restarting task")
	if _, err := l.manager.Run(ctx, args); err != nil {
		log.L.WithError(err).WithField("appName", appName).Warn("supervisor: restart failed")
		return
	}

	l.mu.Lock()
	if e2, ok := l.table[appName]; ok {
		e2.running = true
	}
	l.mu.Unlock()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
