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

package rpcserver

import (
	"context"
	"encoding/json"
	"io"

	digest "github.com/opencontainers/go-digest"

	"github.com/wendylabsinc/wendy-agent/api/agentpb"
	"github.com/wendylabsinc/wendy-agent/internal/agenterrors"
	"github.com/wendylabsinc/wendy-agent/internal/appmodel"
	"github.com/wendylabsinc/wendy-agent/internal/lifecycle"
)

// ListLayers streams the digest-only content view (§4.4).
func (s *Server) ListLayers(req *agentpb.IsProvisionedRequest, stream agentpb.ContainerService_ListLayersServer) error {
	headers, err := s.Ingester.ListLayerHeaders(stream.Context())
	if err != nil {
		return agenterrors.ToGRPCStatus(err)
	}
	for _, h := range headers {
		if err := stream.Send(&agentpb.LayerHeader{Digest: h.Digest.String(), Size: h.Size}); err != nil {
			return err
		}
	}
	return nil
}

// streamChunkSource adapts the wire WriteLayer stream (each frame carries
// Data, the final frame is empty with Commit=true) to layeringest.ChunkSource.
type streamChunkSource struct {
	stream agentpb.ContainerService_WriteLayerServer
}

func (c *streamChunkSource) Next() ([]byte, bool, error) {
	frame, err := c.stream.Recv()
	if err == io.EOF {
		return nil, false, io.EOF
	}
	if err != nil {
		return nil, false, err
	}
	return frame.Data, frame.Commit, nil
}

// WriteLayer implements the client-streaming upload of §4.4.
func (s *Server) WriteLayer(stream agentpb.ContainerService_WriteLayerServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Digest == "" {
		return agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("first WriteLayer frame must carry a digest"))
	}
	dgst, err := digest.Parse(first.Digest)
	if err != nil {
		return agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("invalid layer digest %q: %v", first.Digest, err))
	}

	src := &firstFrameChunkSource{first: first, rest: &streamChunkSource{stream: stream}}
	alreadyExisted, err := s.Ingester.WriteLayer(stream.Context(), dgst, src)
	if err != nil {
		return agenterrors.ToGRPCStatus(err)
	}
	return stream.SendAndClose(&agentpb.WriteLayerResponse{Digest: dgst.String(), AlreadyExists: alreadyExisted})
}

// firstFrameChunkSource replays the already-consumed first frame's Data
// before delegating to the rest of the stream, since the digest had to be
// read out of that same frame before the Ingester could be invoked.
type firstFrameChunkSource struct {
	first    *agentpb.WriteLayerChunk
	rest     *streamChunkSource
	replayed bool
}

func (c *firstFrameChunkSource) Next() ([]byte, bool, error) {
	if !c.replayed {
		c.replayed = true
		return c.first.Data, c.first.Commit, nil
	}
	return c.rest.Next()
}

// ListContainers streams §4.6's list operation, overlaying the
// supervisor's restart-failure counters onto the lifecycle manager's
// live running-state view.
func (s *Server) ListContainers(req *agentpb.IsProvisionedRequest, stream agentpb.ContainerService_ListContainersServer) error {
	states, err := s.Lifecycle.List(stream.Context())
	if err != nil {
		return agenterrors.ToGRPCStatus(err)
	}
	failures := make(map[string]int)
	if s.Supervisor != nil {
		for _, snap := range s.Supervisor.Snapshot() {
			failures[snap.AppName] = snap.FailureCount
		}
	}
	for _, st := range states {
		if err := stream.Send(&agentpb.ContainerInfo{
			AppName:      st.AppName,
			AppVersion:   st.AppVersion,
			RunningState: st.RunningState,
			FailureCount: failures[st.AppName],
		}); err != nil {
			return err
		}
	}
	return nil
}

// StopContainer implements §4.6's stop operation and suppresses further
// supervisor restarts for the app until its next successful run.
func (s *Server) StopContainer(ctx context.Context, req *agentpb.StopContainerRequest) (*agentpb.StopContainerResponse, error) {
	if err := s.Lifecycle.Stop(ctx, req.AppName, uint32(req.Signal)); err != nil {
		return nil, agenterrors.ToGRPCStatus(err)
	}
	if s.Supervisor != nil {
		s.Supervisor.MarkStopped(req.AppName)
	}
	s.closeAttach(req.AppName)
	return &agentpb.StopContainerResponse{}, nil
}

// RunContainer is the canonical, content-addressed unary path of §4.7:
// layers were already committed via WriteLayer.
func (s *Server) RunContainer(ctx context.Context, in *agentpb.RunSpec) (*agentpb.StartedEvent, error) {
	layers, err := decodeLayerHeaders(in.Layers)
	if err != nil {
		return nil, agenterrors.ToGRPCStatus(err)
	}
	var cfg appmodel.AppConfig
	if err := json.Unmarshal(in.AppConfig, &cfg); err != nil {
		return nil, agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("decoding app config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, agenterrors.ToGRPCStatus(agenterrors.InvalidArgument("%v", err))
	}
	policy := decodeRestartPolicy(in.RestartPolicy)

	req := lifecycle.RunRequest{
		ImageName:     in.ImageName,
		AppName:       in.AppName,
		Layers:        layers,
		Config:        cfg,
		Cmd:           in.Cmd,
		Env:           in.Env,
		WorkingDir:    in.WorkingDir,
		RestartPolicy: policy,
		Debug:         in.Debug,
	}
	return s.runAndTrack(ctx, req, policy)
}

// runAndTrack wires an attach scope, runs req through the lifecycle
// manager, and registers the result with the supervisor loop so it gets
// restarted per policy — the single entry point both RunContainer and the
// tar compatibility shim's Control.run use, per §4.6.
func (s *Server) runAndTrack(ctx context.Context, req lifecycle.RunRequest, policy appmodel.RestartPolicy) (*agentpb.StartedEvent, error) {
	if req.CgroupPathTemplate == "" {
		req.CgroupPathTemplate = s.CgroupPathTemplate
	}
	if scope := s.attachFor(req.AppName); scope != nil {
		req.StdoutPath = scope.StdoutPath
		req.StderrPath = scope.StderrPath
	}

	started, err := s.Lifecycle.Run(ctx, req)
	if err != nil {
		s.closeAttach(req.AppName)
		return nil, agenterrors.ToGRPCStatus(err)
	}
	if s.Supervisor != nil {
		s.Supervisor.Track(req.AppName, policy, req)
	}
	return &agentpb.StartedEvent{DebugPort: started.DebugPort}, nil
}

func decodeLayerHeaders(headers []agentpb.LayerHeader) ([]appmodel.LayerDescriptor, error) {
	out := make([]appmodel.LayerDescriptor, 0, len(headers))
	for _, h := range headers {
		dgst, err := digest.Parse(h.Digest)
		if err != nil {
			return nil, agenterrors.InvalidArgument("invalid layer digest %q: %v", h.Digest, err)
		}
		diffID, err := digest.Parse(h.DiffID)
		if err != nil {
			return nil, agenterrors.InvalidArgument("invalid layer diffId %q: %v", h.DiffID, err)
		}
		out = append(out, appmodel.LayerDescriptor{Digest: dgst, DiffID: diffID, Size: h.Size, Gzip: h.Gzip})
	}
	return out, nil
}

func decodeRestartPolicy(w agentpb.RestartPolicyWire) appmodel.RestartPolicy {
	kind := appmodel.RestartPolicyKind(w.Kind)
	switch kind {
	case appmodel.RestartNo, appmodel.RestartUnlessStopped, appmodel.RestartOnFailure:
	default:
		kind = appmodel.RestartDefault
	}
	return appmodel.RestartPolicy{Kind: kind, MaxRetries: w.MaxRetries}
}
