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

// Package rpcserver wires C4 (layer ingestion), C5 (entitlement compiler,
// invoked indirectly through C6), C6 (lifecycle manager), and C8
// (supervisor loop) behind the three gRPC services of §6:
// AgentService, ProvisioningService, ContainerService.
package rpcserver

import (
	"context"
	"runtime"
	"sync"

	"github.com/containerd/log"

	"github.com/wendylabsinc/wendy-agent/api/agentpb"
	"github.com/wendylabsinc/wendy-agent/internal/agenterrors"
	"github.com/wendylabsinc/wendy-agent/internal/attach"
	"github.com/wendylabsinc/wendy-agent/internal/identity"
	"github.com/wendylabsinc/wendy-agent/internal/layeringest"
	"github.com/wendylabsinc/wendy-agent/internal/lifecycle"
	"github.com/wendylabsinc/wendy-agent/internal/provisioning"
	"github.com/wendylabsinc/wendy-agent/internal/supervisor"
	"github.com/wendylabsinc/wendy-agent/pkg/version"
)

// SupportedEntitlements is the fixed tag list the entitlement compiler
// recognizes (§3), reported by getAgentVersion for CLI feature-detection.
var SupportedEntitlements = []string{"network", "bluetooth", "video", "audio", "gpu"}

// Server implements AgentServiceServer, ProvisioningServiceServer, and
// ContainerServiceServer against the core components.
type Server struct {
	Identity    *identity.AgentIdentity
	Provisioner *provisioning.Provisioner
	Ingester    *layeringest.Ingester
	Lifecycle   *lifecycle.Manager
	Supervisor  *supervisor.Loop

	// CgroupPathTemplate is forwarded onto every RunRequest this server
	// builds, so RunContainer and the tar-shim's runFromTar both honor
	// the operator's configured cgroup path without each reaching into
	// agentconfig directly.
	CgroupPathTemplate string

	mu           sync.Mutex
	attachScopes map[string]*attach.Scope
}

func New(id *identity.AgentIdentity, prov *provisioning.Provisioner, ing *layeringest.Ingester, lc *lifecycle.Manager, sup *supervisor.Loop, cgroupPathTemplate string) *Server {
	return &Server{
		Identity:           id,
		Provisioner:        prov,
		Ingester:           ing,
		Lifecycle:          lc,
		Supervisor:         sup,
		CgroupPathTemplate: cgroupPathTemplate,
		attachScopes:       make(map[string]*attach.Scope),
	}
}

// --- AgentService --------------------------------------------------------

func (s *Server) GetAgentVersion(ctx context.Context, req *agentpb.GetAgentVersionRequest) (*agentpb.GetAgentVersionResponse, error) {
	return &agentpb.GetAgentVersionResponse{
		Version:               version.GetVersion(),
		GoVersion:             runtime.Version(),
		SupportedEntitlements: SupportedEntitlements,
	}, nil
}

// --- ProvisioningService ---------------------------------------------------

func (s *Server) IsProvisioned(ctx context.Context, req *agentpb.IsProvisionedRequest) (*agentpb.IsProvisionedResponse, error) {
	enrolled := s.Identity.IsProvisioned()
	if enrolled == nil {
		return &agentpb.IsProvisionedResponse{Provisioned: false}, nil
	}
	return &agentpb.IsProvisionedResponse{
		Provisioned:    true,
		CloudHost:      enrolled.CloudHost,
		OrganizationID: enrolled.OrganizationID,
		AssetID:        enrolled.AssetID,
	}, nil
}

func (s *Server) StartProvisioning(ctx context.Context, req *agentpb.StartProvisioningRequest) (*agentpb.StartProvisioningResponse, error) {
	err := s.Provisioner.StartProvisioning(ctx, req.CloudHost, req.OrganizationID, req.AssetID, req.EnrollmentToken)
	if err != nil {
		return nil, agenterrors.ToGRPCStatus(err)
	}
	return &agentpb.StartProvisioningResponse{}, nil
}

// attachFor creates a fresh FIFO attach scope for appName, replacing and
// closing any prior one, and starts waiting for the runtime to open both
// ends in the background so the RPC handler never blocks on it.
func (s *Server) attachFor(appName string) *attach.Scope {
	scope, err := attach.New(appName)
	if err != nil {
		log.L.WithError(err).WithField("appName", appName).Warn("rpcserver: could not create attach scope, falling back to null IO")
		return nil
	}

	s.mu.Lock()
	if prior, ok := s.attachScopes[appName]; ok {
		prior.Close()
	}
	s.attachScopes[appName] = scope
	s.mu.Unlock()

	go func() {
		if err := scope.WaitOpen(context.Background()); err != nil {
			log.L.WithError(err).WithField("appName", appName).Debug("rpcserver: attach scope never opened")
		}
	}()

	return scope
}

func (s *Server) closeAttach(appName string) {
	s.mu.Lock()
	scope, ok := s.attachScopes[appName]
	delete(s.attachScopes, appName)
	s.mu.Unlock()
	if ok {
		scope.Close()
	}
}
