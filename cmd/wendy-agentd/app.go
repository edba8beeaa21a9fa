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

// Package main is the wendy-agentd process entry point: a single cobra
// root command in the shape of nerdctl's cmd/nerdctl, with "serve" and
// "version" subcommands in place of nerdctl's container/image verbs.
package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wendylabsinc/wendy-agent/pkg/version"
)

func newApp() *cobra.Command {
	var debug bool

	app := &cobra.Command{
		Use:           "wendy-agentd",
		Short:         "On-device edge agent that runs OCI containers on behalf of the wendy cloud",
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
	}
	app.PersistentFlags().BoolVar(&debug, "debug", false, "debug mode")
	app.PersistentFlags().String("config", "/etc/wendy-agent/wendy-agent.toml", "path to the agent's own TOML configuration")

	app.AddCommand(newServeCommand())
	app.AddCommand(newVersionCommand())
	return app
}
