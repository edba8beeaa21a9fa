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

// Package agentpb is the wire contract of the agent's RPC surface (§6):
// AgentService, ProvisioningService, and ContainerService. Messages are
// plain Go structs serialized by internal/rpcserver/jsoncodec rather than
// protoc-generated types (see that package's doc comment for why); the
// field names and shapes mirror what a agent.proto for this service would
// declare message-for-message.
package agentpb

// --- AgentService -----------------------------------------------------

type GetAgentVersionRequest struct{}

type GetAgentVersionResponse struct {
	Version               string   `json:"version"`
	GoVersion             string   `json:"goVersion"`
	SupportedEntitlements []string `json:"supportedEntitlements"`
}

// --- ProvisioningService ------------------------------------------------

type IsProvisionedRequest struct{}

type IsProvisionedResponse struct {
	Provisioned    bool   `json:"provisioned"`
	CloudHost      string `json:"cloudHost,omitempty"`
	OrganizationID int64  `json:"organizationId,omitempty"`
	AssetID        int64  `json:"assetId,omitempty"`
}

type StartProvisioningRequest struct {
	CloudHost       string `json:"cloudHost"`
	OrganizationID  int64  `json:"organizationId"`
	AssetID         int64  `json:"assetId"`
	EnrollmentToken string `json:"enrollmentToken"`
}

type StartProvisioningResponse struct{}

// IssueCertificateRequest/Response is the cloud-side contract consumed by
// C2 (§6 "Cloud RPC surface consumed"), not served by the agent.
type IssueCertificateRequest struct {
	EnrollmentToken string `json:"enrollmentToken"`
	PemCSR          string `json:"pemCsr"`
}

type IssueCertificateResponse struct {
	PemCertificate      string `json:"pemCertificate,omitempty"`
	PemCertificateChain string `json:"pemCertificateChain,omitempty"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
}

// --- ContainerService: layer ingestion (C4) -----------------------------

// WriteLayerChunk is one frame of the client-streaming WriteLayer call.
// The first frame of a given digest's stream carries Digest; every frame
// (including the first) carries Data, except the final frame which is
// empty and carries Commit=true.
type WriteLayerChunk struct {
	Digest string `json:"digest,omitempty"`
	Data   []byte `json:"data,omitempty"`
	Commit bool   `json:"commit,omitempty"`
}

type WriteLayerResponse struct {
	Digest        string `json:"digest"`
	AlreadyExists bool   `json:"alreadyExists"`
}

type LayerHeader struct {
	Digest string `json:"digest"`
	DiffID string `json:"diffId"`
	Size   int64  `json:"size"`
	Gzip   bool   `json:"gzip"`
}

// --- ContainerService: container lifecycle (C6) -------------------------

type ContainerInfo struct {
	AppName      string `json:"appName"`
	AppVersion   string `json:"appVersion"`
	RunningState string `json:"runningState"` // "running" | "stopped"
	FailureCount int    `json:"failureCount"`
}

type StopContainerRequest struct {
	AppName string `json:"appName"`
	Signal  int32  `json:"signal,omitempty"`
}

type StopContainerResponse struct{}

// RunSpec is the unary, content-addressed "runContainer" request of §4.7's
// preferred path: the CLI has already called WriteLayer for every layer on
// separate streams, then submits this to run §4.6 directly.
type RunSpec struct {
	ImageName     string            `json:"imageName"`
	AppName       string            `json:"appName"`
	Cmd           []string          `json:"cmd,omitempty"`
	Env           []string          `json:"env,omitempty"`
	WorkingDir    string            `json:"workingDir,omitempty"`
	Layers        []LayerHeader     `json:"layers"`
	AppConfig     []byte            `json:"appConfig"`
	Debug         bool              `json:"debug,omitempty"`
	RestartPolicy RestartPolicyWire `json:"restartPolicy"`
}

// RestartPolicyWire is the tagged-variant encoding of RestartPolicy (§3)
// used on the wire: Kind selects the variant, MaxRetries is only
// meaningful for Kind=="onFailure".
type RestartPolicyWire struct {
	Kind       string `json:"kind"` // "default" | "no" | "unlessStopped" | "onFailure"
	MaxRetries int    `json:"maxRetries,omitempty"`
}

type StartedEvent struct {
	DebugPort int32 `json:"debugPort"`
}

type StoppedEvent struct {
	AppName  string `json:"appName"`
	ExitCode int32  `json:"exitCode"`
}

// --- ContainerService: tar compatibility shim (§9 OQ1, SPEC_FULL §1) ----

// RunContainerFrame is the tagged client frame of the docker-save tar
// path. Exactly one of Header, Chunk, Control is set per frame.
type RunContainerFrame struct {
	Header  *Header  `json:"header,omitempty"`
	Chunk   *Chunk   `json:"chunk,omitempty"`
	Control *Control `json:"control,omitempty"`
}

type Header struct {
	ImageName string `json:"imageName"`
	AppConfig []byte `json:"appConfig"`
}

type Chunk struct {
	Data []byte `json:"data"`
}

type Control struct {
	Run  *RunCommand  `json:"run,omitempty"`
	Stop *StopCommand `json:"stop,omitempty"`
}

type RunCommand struct {
	Debug         bool              `json:"debug,omitempty"`
	RestartPolicy RestartPolicyWire `json:"restartPolicy"`
}

type StopCommand struct{}

// RunContainerEvent is the tagged server event of the docker-save tar
// path and of the attach-after-run flow on the unary path.
type RunContainerEvent struct {
	Started *StartedEvent `json:"started,omitempty"`
	Stopped *StoppedEvent `json:"stopped,omitempty"`
}
