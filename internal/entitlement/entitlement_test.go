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

package entitlement

import (
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"gotest.tools/v3/assert"

	"github.com/wendylabsinc/wendy-agent/internal/appmodel"
)

func TestCompileBaseSpec(t *testing.T) {
	spec, err := Compile(Request{
		AppName: "myapp",
		Config:  appmodel.AppConfig{AppID: "myapp"},
	})
	assert.NilError(t, err)
	assert.Equal(t, spec.Version, "1.0.3")
	assert.Equal(t, spec.Root.Path, "rootfs")
	assert.DeepEqual(t, spec.Process.Args, []string{"/bin/myapp"})
	assert.Equal(t, len(spec.Mounts), 4)
	assert.DeepEqual(t, spec.Process.Capabilities.Bounding, []string{"CAP_SYS_PTRACE"})
	assert.Equal(t, spec.Linux.Seccomp.DefaultAction, specs.ActAllow)
}

func TestCompileNetworkNoneAddsNamespace(t *testing.T) {
	spec, err := Compile(Request{
		AppName: "myapp",
		Config: appmodel.AppConfig{
			AppID:        "myapp",
			Entitlements: []appmodel.Entitlement{{Kind: appmodel.EntitlementNetwork, Network: appmodel.NetworkNone}},
		},
	})
	assert.NilError(t, err)
	assert.Assert(t, hasNamespace(spec, specs.NetworkNamespace))
}

func TestCompileBluetoothKernelAndNetworkNoneRejected(t *testing.T) {
	_, err := Compile(Request{
		AppName: "myapp",
		Config: appmodel.AppConfig{
			AppID: "myapp",
			Entitlements: []appmodel.Entitlement{
				{Kind: appmodel.EntitlementNetwork, Network: appmodel.NetworkNone},
				{Kind: appmodel.EntitlementBluetooth, Bluetooth: appmodel.BluetoothKernel},
			},
		},
	})
	assert.ErrorContains(t, err, "cannot be combined")
}

func TestCompileBluetoothKernelSeccompAndCaps(t *testing.T) {
	spec, err := Compile(Request{
		AppName: "myapp",
		Config: appmodel.AppConfig{
			AppID:        "myapp",
			Entitlements: []appmodel.Entitlement{{Kind: appmodel.EntitlementBluetooth, Bluetooth: appmodel.BluetoothKernel}},
		},
	})
	assert.NilError(t, err)
	assert.Equal(t, spec.Linux.Seccomp.DefaultAction, specs.ActErrno)
	assert.Assert(t, hasCap(spec.Process.Capabilities.Bounding, "CAP_NET_ADMIN"))
	assert.Assert(t, hasCap(spec.Process.Capabilities.Bounding, "CAP_NET_RAW"))
}

func TestCompileVideoAndAudioShareDeviceCapabilityBundleOnce(t *testing.T) {
	spec, err := Compile(Request{
		AppName: "my-app",
		Config: appmodel.AppConfig{
			AppID: "my-app",
			Entitlements: []appmodel.Entitlement{
				{Kind: appmodel.EntitlementVideo},
				{Kind: appmodel.EntitlementAudio},
			},
		},
	})
	assert.NilError(t, err)

	count := 0
	for _, r := range spec.Linux.Resources.Devices {
		if r.Access == "rwm" {
			count++
		}
	}
	assert.Equal(t, count, 1)
	assert.Equal(t, spec.Linux.CgroupsPath, cgroupDriverPath("system.slice:edge-agent:my_app"))
	assert.Assert(t, hasCap(spec.Process.Capabilities.Bounding, "CAP_CHOWN"))
}

func TestCompileHonorsConfiguredCgroupPath(t *testing.T) {
	spec, err := Compile(Request{
		AppName:    "my-app",
		CgroupPath: "edge.slice:wendy:my-app",
		Config: appmodel.AppConfig{
			AppID:        "my-app",
			Entitlements: []appmodel.Entitlement{{Kind: appmodel.EntitlementVideo}},
		},
	})
	assert.NilError(t, err)
	assert.Equal(t, spec.Linux.CgroupsPath, cgroupDriverPath("edge.slice:wendy:my-app"))
}

func TestCompileShmSizeOverride(t *testing.T) {
	spec, err := Compile(Request{
		AppName: "myapp",
		ShmSize: "128m",
		Config:  appmodel.AppConfig{AppID: "myapp"},
	})
	assert.NilError(t, err)
	for _, m := range spec.Mounts {
		if m.Destination != "/dev/shm" {
			continue
		}
		assert.Assert(t, hasOption(m.Options, "size=134217728"))
		return
	}
	t.Fatal("no /dev/shm mount found")
}

func hasOption(options []string, want string) bool {
	for _, o := range options {
		if o == want {
			return true
		}
	}
	return false
}

func hasNamespace(spec *specs.Spec, t specs.LinuxNamespaceType) bool {
	for _, ns := range spec.Linux.Namespaces {
		if ns.Type == t {
			return true
		}
	}
	return false
}

func hasCap(caps []string, name string) bool {
	for _, c := range caps {
		if c == name {
			return true
		}
	}
	return false
}
