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

// Package agentconfig loads the agent's own TOML configuration, the way
// nerdctl's pkg/config loads nerdctl.toml: a Config struct with static
// defaults, overridden by a file, overridden in turn by a small set of
// environment variables.
package agentconfig

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/pelletier/go-toml"
)

// Config is the agent's own nerdctl.toml analogue.
type Config struct {
	Address            string `toml:"address"`
	Namespace          string `toml:"namespace"`
	Snapshotter        string `toml:"snapshotter"`
	GRPCAddress        string `toml:"grpc_address"`
	DataRoot           string `toml:"data_root"`
	AttachDir          string `toml:"attach_dir"`
	CgroupPathTemplate string `toml:"cgroup_path_template"`
	NetworkManager     string `toml:"network_manager"`
	LogLevel           string `toml:"log_level"`
}

// New returns the static defaults, unmodified by file or environment.
func New() *Config {
	return &Config{
		Address:            "/run/containerd/containerd.sock",
		Namespace:          "wendy-agent",
		Snapshotter:        "overlayfs",
		GRPCAddress:        "0.0.0.0:8585",
		DataRoot:           "/var/lib/wendy-agent",
		AttachDir:          "/run/wendy-agent",
		CgroupPathTemplate: "system.slice:edge-agent:{{.AppName}}",
		NetworkManager:     "",
		LogLevel:           "info",
	}
}

// Load reads path (if it exists) over the defaults, then applies the
// WENDY_NETWORK_MANAGER / LOG_LEVEL environment overrides, matching
// nerdctl's env-overrides-file precedence.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnv(cfg), nil
			}
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	return applyEnv(cfg), nil
}

func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("WENDY_NETWORK_MANAGER"); v != "" {
		cfg.NetworkManager = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// cgroupPathData is the template input for CgroupPathTemplate.
type cgroupPathData struct {
	AppName string
}

// CgroupPath renders CgroupPathTemplate for appName, defaulting to
// "system.slice:edge-agent:<appName>" when the template is empty.
func (c *Config) CgroupPath(appName string) (string, error) {
	return RenderCgroupPath(c.CgroupPathTemplate, appName)
}

// RenderCgroupPath executes tmpl (a text/template pattern over
// cgroupPathData) for appName, defaulting to
// "system.slice:edge-agent:<appName>" when tmpl is empty. Callers that
// only hold a template string (e.g. a request field threaded down from
// Config.CgroupPathTemplate) use this directly instead of needing a
// *Config.
func RenderCgroupPath(tmpl, appName string) (string, error) {
	pattern := tmpl
	if pattern == "" {
		pattern = "system.slice:edge-agent:{{.AppName}}"
	}
	t, err := template.New("cgroupPath").Parse(pattern)
	if err != nil {
		return "", fmt.Errorf("parsing cgroup path template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, cgroupPathData{AppName: appName}); err != nil {
		return "", fmt.Errorf("rendering cgroup path template: %w", err)
	}
	return buf.String(), nil
}
