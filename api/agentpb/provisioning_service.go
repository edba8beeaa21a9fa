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

// ProvisioningServiceServer is C2's unary RPC surface: the CLI asks
// whether the agent is enrolled, then kicks off enrollment.
type ProvisioningServiceServer interface {
	IsProvisioned(context.Context, *IsProvisionedRequest) (*IsProvisionedResponse, error)
	StartProvisioning(context.Context, *StartProvisioningRequest) (*StartProvisioningResponse, error)
}

func _ProvisioningService_IsProvisioned_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(IsProvisionedRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProvisioningServiceServer).IsProvisioned(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sh.wendy.agent.v1.ProvisioningService/IsProvisioned"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProvisioningServiceServer).IsProvisioned(ctx, req.(*IsProvisionedRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ProvisioningService_StartProvisioning_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StartProvisioningRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProvisioningServiceServer).StartProvisioning(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sh.wendy.agent.v1.ProvisioningService/StartProvisioning"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProvisioningServiceServer).StartProvisioning(ctx, req.(*StartProvisioningRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var ProvisioningService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "sh.wendy.agent.v1.ProvisioningService",
	HandlerType: (*ProvisioningServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IsProvisioned", Handler: _ProvisioningService_IsProvisioned_Handler},
		{MethodName: "StartProvisioning", Handler: _ProvisioningService_StartProvisioning_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agent.proto",
}

func RegisterProvisioningServiceServer(s grpc.ServiceRegistrar, srv ProvisioningServiceServer) {
	s.RegisterService(&ProvisioningService_ServiceDesc, srv)
}

type ProvisioningServiceClient interface {
	IsProvisioned(ctx context.Context, in *IsProvisionedRequest, opts ...grpc.CallOption) (*IsProvisionedResponse, error)
	StartProvisioning(ctx context.Context, in *StartProvisioningRequest, opts ...grpc.CallOption) (*StartProvisioningResponse, error)
}

type provisioningServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewProvisioningServiceClient(cc grpc.ClientConnInterface) ProvisioningServiceClient {
	return &provisioningServiceClient{cc}
}

func (c *provisioningServiceClient) IsProvisioned(ctx context.Context, in *IsProvisionedRequest, opts ...grpc.CallOption) (*IsProvisionedResponse, error) {
	out := new(IsProvisionedResponse)
	if err := c.cc.Invoke(ctx, "/sh.wendy.agent.v1.ProvisioningService/IsProvisioned", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *provisioningServiceClient) StartProvisioning(ctx context.Context, in *StartProvisioningRequest, opts ...grpc.CallOption) (*StartProvisioningResponse, error) {
	out := new(StartProvisioningResponse)
	if err := c.cc.Invoke(ctx, "/sh.wendy.agent.v1.ProvisioningService/StartProvisioning", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// IssueCertificateClient is the cloud-facing contract C2 dials out on
// (§6 "Cloud RPC surface consumed"). The agent implements this client,
// never the server.
type IssueCertificateClient interface {
	IssueCertificate(ctx context.Context, in *IssueCertificateRequest, opts ...grpc.CallOption) (*IssueCertificateResponse, error)
}

type issueCertificateClient struct {
	cc grpc.ClientConnInterface
}

func NewIssueCertificateClient(cc grpc.ClientConnInterface) IssueCertificateClient {
	return &issueCertificateClient{cc}
}

func (c *issueCertificateClient) IssueCertificate(ctx context.Context, in *IssueCertificateRequest, opts ...grpc.CallOption) (*IssueCertificateResponse, error) {
	out := new(IssueCertificateResponse)
	if err := c.cc.Invoke(ctx, "/sh.wendy.cloud.v1.EnrollmentService/IssueCertificate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
