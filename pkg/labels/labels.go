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

// Package labels defines the labels the agent attaches to containerd
// containers. They are set on the container record only, not copied into
// the OCI spec's annotations.
package labels

const (
	// Prefix is the common prefix of edge-agent labels.
	Prefix = "sh.wendy/"

	// AppID is the reverse-DNS application identifier from AppConfig.appId.
	AppID = Prefix + "app-id"

	// Version is the AppConfig.version string.
	Version = Prefix + "version"

	// ImageName is the image name the container was created from.
	ImageName = Prefix + "image-name"

	// RestartPolicy is the JSON-marshalled RestartPolicy attached at create
	// time, recovered by the supervisor loop on restart without needing a
	// sidecar record.
	RestartPolicy = Prefix + "restart-policy"

	// Debug marks a container created with debug=true. lifecycle.Manager.Run
	// does not set it, and no ds2 layer is injected for debug runs.
	Debug = Prefix + "debug"
)
