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

// Package entitlement implements the Entitlement Compiler (C5): it turns
// an AppConfig into a complete OCI runtime specification. The compiler is
// built the way nerdctl composes a container's spec — a base spec plus an
// ordered list of SpecOpts, each one a narrow mutation — except the list
// of opts here is driven entirely by the declared entitlement set rather
// than CLI flags.
package entitlement

import (
	"fmt"
	"os"
	"strings"

	cgroupsv3 "github.com/containerd/cgroups/v3"
	units "github.com/docker/go-units"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/wendylabsinc/wendy-agent/internal/agenterrors"
	"github.com/wendylabsinc/wendy-agent/internal/appmodel"
	"github.com/wendylabsinc/wendy-agent/pkg/strutil"
)

// defaultShmSize is the /dev/shm tmpfs size applied when Request doesn't
// override it, parsed through go-units the way nerdctl parses --shm-size.
const defaultShmSize = "64m"

// SpecOpt mutates a runtime spec in place, mirroring containerd/oci.SpecOpts
// without that package's client/container plumbing, which this compiler
// never needs: every mutation here is a pure function of the AppConfig.
type SpecOpt func(*specs.Spec) error

// Request is the input to Compile.
type Request struct {
	AppName    string
	Args       []string
	Env        []string
	WorkingDir string
	Config     appmodel.AppConfig
	// ShmSize overrides the /dev/shm tmpfs size (go-units syntax, e.g.
	// "128m"). Empty uses defaultShmSize.
	ShmSize string
	// CgroupPath is the rendered cgroup path for this appName, produced by
	// agentconfig.Config.CgroupPath. Empty falls back to the compiler's own
	// default naming.
	CgroupPath string
}

// Compile builds the OCI runtime spec for a container per §4.5: a base
// spec, then one SpecOpt per declared entitlement in order, then (at most
// once) the shared device-capability bundle some entitlements trigger.
func Compile(req Request) (*specs.Spec, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, agenterrors.InvalidArgument("invalid app config: %v", err)
	}

	spec := baseSpec(req)
	state := &compileState{}

	for _, e := range req.Config.Entitlements {
		opt, err := specOptFor(e, req.AppName, req.CgroupPath, state)
		if err != nil {
			return nil, err
		}
		if opt == nil {
			continue
		}
		if err := opt(spec); err != nil {
			return nil, agenterrors.Internal(fmt.Errorf("applying entitlement %q: %w", e.Kind, err))
		}
	}

	return spec, nil
}

// compileState tracks cross-entitlement bookkeeping: the device capability
// bundle of §4.5 applies at most once even though both video and audio can
// trigger it.
type compileState struct {
	deviceCapabilityApplied bool
}

func specOptFor(e appmodel.Entitlement, appName, cgroupPath string, state *compileState) (SpecOpt, error) {
	switch e.Kind {
	case appmodel.EntitlementNetwork:
		switch e.Network {
		case appmodel.NetworkHost, "":
			return withNetworkHost, nil
		case appmodel.NetworkNone:
			return withNetworkNone, nil
		}
		return nil, agenterrors.InvalidArgument("unknown network mode %q", e.Network)

	case appmodel.EntitlementBluetooth:
		switch e.Bluetooth {
		case appmodel.BluetoothBluez:
			return nil, nil // reserved, no-op
		case appmodel.BluetoothKernel:
			return withBluetoothKernel, nil
		}
		return nil, agenterrors.InvalidArgument("unknown bluetooth mode %q", e.Bluetooth)

	case appmodel.EntitlementVideo:
		return composeOpts(withVideoDevice, deviceCapabilityOnce(appName, cgroupPath, state)), nil

	case appmodel.EntitlementAudio:
		return composeOpts(withAudioDevice, deviceCapabilityOnce(appName, cgroupPath, state)), nil

	case appmodel.EntitlementGPU:
		return nil, nil // reserved, no-op

	default:
		return nil, agenterrors.InvalidArgument("unknown entitlement %q", e.Kind)
	}
}

func composeOpts(opts ...SpecOpt) SpecOpt {
	return func(s *specs.Spec) error {
		for _, o := range opts {
			if o == nil {
				continue
			}
			if err := o(s); err != nil {
				return err
			}
		}
		return nil
	}
}

func deviceCapabilityOnce(appName, cgroupPath string, state *compileState) SpecOpt {
	return func(s *specs.Spec) error {
		if state.deviceCapabilityApplied {
			return nil
		}
		state.deviceCapabilityApplied = true
		return withDeviceCapabilityBundle(appName, cgroupPath)(s)
	}
}

// baseSpec builds §4.5's base spec: ociVersion, root, process, default
// mounts, namespaces, capabilities, and seccomp. Network mode is host by
// default: no network namespace is added and no network-mode annotation
// is set until a network entitlement is applied.
func baseSpec(req Request) *specs.Spec {
	args := req.Args
	if len(args) == 0 {
		args = []string{"/bin/" + req.Config.AppID}
	}

	env := strutil.DedupeEnvByKey(req.Env)
	if !hasPathEnv(env) {
		env = append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}

	cwd := req.WorkingDir
	if cwd == "" {
		cwd = "/"
	}

	caps := []string{"CAP_SYS_PTRACE"}

	return &specs.Spec{
		Version: "1.0.3",
		Root:    &specs.Root{Path: "rootfs"},
		Process: &specs.Process{
			User: specs.User{UID: 0, GID: 0},
			Args: args,
			Env:  env,
			Cwd:  cwd,
			Capabilities: &specs.LinuxCapabilities{
				Bounding:    caps,
				Effective:   caps,
				Inheritable: caps,
				Permitted:   caps,
			},
		},
		Mounts: defaultMounts(req.ShmSize),
		Linux: &specs.Linux{
			Namespaces: []specs.LinuxNamespace{
				{Type: specs.PIDNamespace},
				{Type: specs.IPCNamespace},
				{Type: specs.UTSNamespace},
				{Type: specs.MountNamespace},
			},
			Seccomp: &specs.LinuxSeccomp{
				DefaultAction: specs.ActAllow,
				Architectures: []specs.Arch{specs.ArchAARCH64},
			},
		},
	}
}

func hasPathEnv(env []string) bool {
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			return true
		}
	}
	return false
}

func defaultMounts(shmSize string) []specs.Mount {
	return []specs.Mount{
		{Destination: "/proc", Type: "proc", Source: "proc"},
		{
			Destination: "/dev/pts",
			Type:        "devpts",
			Source:      "devpts",
			Options:     []string{"nosuid", "noexec", "newinstance", "ptmxmode=0666", "mode=0620"},
		},
		{
			Destination: "/dev/shm",
			Type:        "tmpfs",
			Source:      "shm",
			Options:     []string{"nosuid", "noexec", "nodev", "mode=1777", shmSizeOption(shmSize)},
		},
		{
			Destination: "/dev/mqueue",
			Type:        "mqueue",
			Source:      "mqueue",
			Options:     []string{"nosuid", "noexec", "nodev"},
		},
	}
}

// shmSizeOption renders size into a tmpfs mount option, the way nerdctl's
// run_linux.go turns --shm-size into a mount option via units.RAMInBytes.
// An unparseable override falls back to defaultShmSize rather than
// rejecting the whole compile, since shm sizing is not itself declared as
// an entitlement the caller can have gotten wrong.
func shmSizeOption(size string) string {
	if size == "" {
		size = defaultShmSize
	}
	bytes, err := units.RAMInBytes(size)
	if err != nil {
		bytes, _ = units.RAMInBytes(defaultShmSize)
	}
	return fmt.Sprintf("size=%d", bytes)
}

func withNetworkHost(s *specs.Spec) error {
	setAnnotation(s, "sh.wendy/network-mode", "host")
	return nil
}

func withNetworkNone(s *specs.Spec) error {
	setAnnotation(s, "sh.wendy/network-mode", "none")
	s.Linux.Namespaces = append(s.Linux.Namespaces, specs.LinuxNamespace{Type: specs.NetworkNamespace})
	return nil
}

func setAnnotation(s *specs.Spec, key, value string) {
	if s.Annotations == nil {
		s.Annotations = map[string]string{}
	}
	s.Annotations[key] = value
}

var bluetoothAllowedSyscalls = []struct {
	names []string
	args  []specs.LinuxSeccompArg
}{
	{names: []string{"socket"}, args: []specs.LinuxSeccompArg{
		{Index: 0, Value: 31, Op: specs.OpEqualTo},
	}},
	{names: []string{"socket"}, args: []specs.LinuxSeccompArg{
		{Index: 0, Value: 16, Op: specs.OpEqualTo},
	}},
	{names: []string{"bind", "connect", "getsockopt", "setsockopt", "ioctl", "sendmsg", "recvmsg", "sendto", "recvfrom"}},
	{names: []string{"poll", "ppoll", "epoll_create1", "epoll_ctl", "epoll_wait"}},
	{names: []string{"read", "write", "close", "futex", "nanosleep", "clock_gettime", "getrandom", "eventfd2", "timerfd_create", "timerfd_settime", "signalfd4", "mmap", "mprotect", "munmap"}},
}

func withBluetoothKernel(s *specs.Spec) error {
	addCaps(s, "CAP_NET_ADMIN", "CAP_NET_RAW")

	rules := make([]specs.LinuxSyscall, 0, len(bluetoothAllowedSyscalls))
	for _, group := range bluetoothAllowedSyscalls {
		rules = append(rules, specs.LinuxSyscall{
			Names:  group.names,
			Action: specs.ActAllow,
			Args:   group.args,
		})
	}

	s.Linux.Seccomp = &specs.LinuxSeccomp{
		DefaultAction: specs.ActErrno,
		Architectures: []specs.Arch{specs.ArchX86_64, specs.ArchAARCH64, specs.ArchX86, specs.ArchARM},
		Syscalls:      rules,
	}
	return nil
}

func withVideoDevice(s *specs.Spec) error {
	addDeviceNode(s, "/dev/video0", "c", 81, 17, 0o666)
	addBindMount(s, "/dev/video0")
	addCgroupDeviceAllow(s, "c", 81, 17, "rw")
	return nil
}

func withAudioDevice(s *specs.Spec) error {
	addBindMount(s, "/dev/snd")
	addCgroupDeviceAllow(s, "c", 116, -1, "rw")
	return nil
}

func addDeviceNode(s *specs.Spec, path, deviceType string, major, minor int64, fileMode os.FileMode) {
	uid, gid := uint32(0), uint32(0)
	mode := fileMode
	s.Linux.Devices = append(s.Linux.Devices, specs.LinuxDevice{
		Path:     path,
		Type:     deviceType,
		Major:    major,
		Minor:    minor,
		FileMode: &mode,
		UID:      &uid,
		GID:      &gid,
	})
}

func addBindMount(s *specs.Spec, path string) {
	s.Mounts = append(s.Mounts, specs.Mount{
		Destination: path,
		Type:        "bind",
		Source:      path,
		Options:     []string{"rbind", "nosuid", "noexec"},
	})
}

func addCgroupDeviceAllow(s *specs.Spec, deviceType string, major, minor int64, access string) {
	ensureCgroupResources(s)
	majorPtr, minorPtr := &major, &[]int64{minor}[0]
	if minor < 0 {
		minorPtr = nil
	}
	s.Linux.Resources.Devices = append(s.Linux.Resources.Devices, specs.LinuxDeviceCgroup{
		Allow:  true,
		Type:   deviceType,
		Major:  majorPtr,
		Minor:  minorPtr,
		Access: access,
	})
}

func ensureCgroupResources(s *specs.Spec) {
	if s.Linux.Resources == nil {
		s.Linux.Resources = &specs.LinuxResources{}
	}
}

// withDeviceCapabilityBundle applies the shared capability/mount/namespace
// bundle of §4.5, triggered at most once by video or audio entitlements.
// cgroupPath is the path already rendered by agentconfig.Config.CgroupPath;
// an empty value falls back to the compiler's own default naming.
func withDeviceCapabilityBundle(appName, cgroupPath string) SpecOpt {
	return func(s *specs.Spec) error {
		addCaps(s,
			"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_FSETID", "CAP_FOWNER", "CAP_MKNOD",
			"CAP_NET_RAW", "CAP_SETGID", "CAP_SETUID", "CAP_SETFCAP", "CAP_SETPCAP",
			"CAP_NET_BIND_SERVICE", "CAP_SYS_CHROOT", "CAP_KILL", "CAP_AUDIT_WRITE", "CAP_SYS_PTRACE",
		)

		s.Mounts = append(s.Mounts, specs.Mount{
			Destination: "/sys/fs/cgroup",
			Type:        "cgroup",
			Source:      "cgroup",
			Options:     []string{"ro", "nosuid", "noexec", "nodev"},
		})
		s.Linux.Namespaces = append(s.Linux.Namespaces, specs.LinuxNamespace{Type: specs.CgroupNamespace})

		ensureCgroupResources(s)
		if cgroupPath == "" {
			cgroupPath = fmt.Sprintf("system.slice:edge-agent:%s", strings.ReplaceAll(appName, "-", "_"))
		}
		s.Linux.CgroupsPath = cgroupDriverPath(cgroupPath)

		allowAll := true
		s.Linux.Resources.Devices = append([]specs.LinuxDeviceCgroup{{Allow: allowAll, Access: "rwm"}}, s.Linux.Resources.Devices...)
		return nil
	}
}

// cgroupDriverPath adapts a systemd-driver "slice:prefix:name" triplet to a
// plain cgroupfs path on cgroup v1 hosts, the way nerdctl's
// pkg/defaults.CgroupManager picks a driver based on cgroups.Mode().
// Systemd-managed cgroups (the triplet form) require the unified (v2)
// hierarchy; runc rejects the triplet form under a v1 cgroupfs driver.
func cgroupDriverPath(path string) string {
	if cgroupsv3.Mode() == cgroupsv3.Unified {
		return path
	}
	return "/edge-agent/" + strings.ReplaceAll(path, ":", "-")
}

func addCaps(s *specs.Spec, caps ...string) {
	c := s.Process.Capabilities
	c.Bounding = appendUnique(c.Bounding, caps...)
	c.Effective = appendUnique(c.Effective, caps...)
	c.Inheritable = appendUnique(c.Inheritable, caps...)
	c.Permitted = appendUnique(c.Permitted, caps...)
}

func appendUnique(list []string, add ...string) []string {
	existing := make(map[string]struct{}, len(list))
	for _, c := range list {
		existing[c] = struct{}{}
	}
	for _, c := range add {
		if _, ok := existing[c]; !ok {
			list = append(list, c)
			existing[c] = struct{}{}
		}
	}
	return list
}
