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

package agentpb

import (
	"context"

	"google.golang.org/grpc"
)

// AgentServiceServer answers version/capability queries independent of
// provisioning state (§6).
type AgentServiceServer interface {
	GetAgentVersion(context.Context, *GetAgentVersionRequest) (*GetAgentVersionResponse, error)
}

func _AgentService_GetAgentVersion_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAgentVersionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).GetAgentVersion(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sh.wendy.agent.v1.AgentService/GetAgentVersion"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).GetAgentVersion(ctx, req.(*GetAgentVersionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var AgentService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "sh.wendy.agent.v1.AgentService",
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAgentVersion", Handler: _AgentService_GetAgentVersion_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agent.proto",
}

func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&AgentService_ServiceDesc, srv)
}

type AgentServiceClient interface {
	GetAgentVersion(ctx context.Context, in *GetAgentVersionRequest, opts ...grpc.CallOption) (*GetAgentVersionResponse, error)
}

type agentServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAgentServiceClient(cc grpc.ClientConnInterface) AgentServiceClient {
	return &agentServiceClient{cc}
}

func (c *agentServiceClient) GetAgentVersion(ctx context.Context, in *GetAgentVersionRequest, opts ...grpc.CallOption) (*GetAgentVersionResponse, error) {
	out := new(GetAgentVersionResponse)
	if err := c.cc.Invoke(ctx, "/sh.wendy.agent.v1.AgentService/GetAgentVersion", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
