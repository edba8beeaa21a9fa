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

// Package attach manages the FIFO pair a task's stdout/stderr are bound
// to (§5: "Shared resources"). rpcserver's runAndTrack creates one for
// both the unary RunContainer path and the tar compatibility shim, so it
// is its own scope rather than inline goroutines in either caller.
package attach

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Dir is the directory host FIFOs are created under.
const Dir = "/run/wendy-agent"

// Scope owns one stdout/stderr FIFO pair for the lifetime of a single
// attach: created 0644 before task create, unlinked when Close runs.
// WaitOpen waits for the runtime to open both ends, signaled through
// internal readiness channels, before returning.
type Scope struct {
	StdoutPath string
	StderrPath string

	once    sync.Once
	readyCh chan struct{}
}

// New creates the FIFO pair for a fresh attach scope. id is typically the
// appName; the paths embed a uuid so concurrent attaches to the same app
// (e.g. overlapping run/stop races) never collide.
func New(id string) (*Scope, error) {
	if err := os.MkdirAll(Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating attach directory: %w", err)
	}

	suffix := uuid.NewString()
	s := &Scope{
		StdoutPath: filepath.Join(Dir, fmt.Sprintf("attach-%s-stdout.sock", suffix)),
		StderrPath: filepath.Join(Dir, fmt.Sprintf("attach-%s-stderr.sock", suffix)),
		readyCh:    make(chan struct{}),
	}

	if err := mkfifo(s.StdoutPath); err != nil {
		return nil, err
	}
	if err := mkfifo(s.StderrPath); err != nil {
		os.Remove(s.StdoutPath)
		return nil, err
	}
	return s, nil
}

func mkfifo(path string) error {
	if err := unix.Mkfifo(path, 0o644); err != nil {
		return fmt.Errorf("creating fifo %q: %w", path, err)
	}
	return nil
}

// WaitOpen blocks until both FIFOs have been opened by the runtime (or
// ctx is cancelled), opening each end itself in a background goroutine —
// opening a FIFO for read/write blocks until the peer end is opened, so
// this is the readiness signal §5 describes.
func (s *Scope) WaitOpen(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)

	open := func(path string) {
		defer wg.Done()
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			errs <- fmt.Errorf("opening %q: %w", path, err)
			return
		}
		f.Close()
		errs <- nil
	}
	go open(s.StdoutPath)
	go open(s.StderrPath)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		close(errs)
		for err := range errs {
			if err != nil {
				return err
			}
		}
		s.once.Do(func() { close(s.readyCh) })
		return nil
	}
}

// Ready returns a channel closed once WaitOpen has observed both ends
// open, so callers can select on it alongside other readiness signals.
func (s *Scope) Ready() <-chan struct{} {
	return s.readyCh
}

// Close unlinks both FIFOs. Safe to call more than once.
func (s *Scope) Close() error {
	err1 := os.Remove(s.StdoutPath)
	err2 := os.Remove(s.StderrPath)
	if err1 != nil && !os.IsNotExist(err1) {
		return err1
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return err2
	}
	return nil
}
