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

package agentconfig

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, cfg.Namespace, "wendy-agent")
	assert.Equal(t, cfg.CgroupPathTemplate, "system.slice:edge-agent:{{.AppName}}")
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.NilError(t, err)
	assert.Equal(t, cfg.DataRoot, "/var/lib/wendy-agent")
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wendy-agent.toml")
	assert.NilError(t, os.WriteFile(path, []byte(`
namespace = "custom-ns"
data_root = "/opt/wendy-agent"
`), 0o644))

	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Namespace, "custom-ns")
	assert.Equal(t, cfg.DataRoot, "/opt/wendy-agent")
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("WENDY_NETWORK_MANAGER", "networkd")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	assert.NilError(t, err)
	assert.Equal(t, cfg.NetworkManager, "networkd")
	assert.Equal(t, cfg.LogLevel, "debug")
}

func TestCgroupPathRendersAppName(t *testing.T) {
	cfg := New()
	path, err := cfg.CgroupPath("myapp")
	assert.NilError(t, err)
	assert.Equal(t, path, "system.slice:edge-agent:myapp")
}

func TestCgroupPathCustomTemplate(t *testing.T) {
	cfg := New()
	cfg.CgroupPathTemplate = "user.slice:{{.AppName}}"
	path, err := cfg.CgroupPath("myapp")
	assert.NilError(t, err)
	assert.Equal(t, path, "user.slice:myapp")
}
