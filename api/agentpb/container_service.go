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

// ContainerServiceServer is the interface C7 (the Run-Container Protocol)
// implements. It is hand-declared in the shape protoc-gen-go-grpc would
// produce from a container_service.proto describing §6's ContainerService.
type ContainerServiceServer interface {
	ListLayers(*IsProvisionedRequest, ContainerService_ListLayersServer) error
	WriteLayer(ContainerService_WriteLayerServer) error
	ListContainers(*IsProvisionedRequest, ContainerService_ListContainersServer) error
	StopContainer(context.Context, *StopContainerRequest) (*StopContainerResponse, error)
	// RunContainer is the preferred, content-addressed unary path: layers
	// were already committed via WriteLayer.
	RunContainer(context.Context, *RunSpec) (*StartedEvent, error)
	// RunContainerStream is the docker-save tar compatibility path
	// (Header/Chunk/Control.run), implemented as a shim over RunContainer.
	RunContainerStream(ContainerService_RunContainerStreamServer) error
}

type ContainerService_ListLayersServer interface {
	Send(*LayerHeader) error
	grpc.ServerStream
}

type containerServiceListLayersServer struct{ grpc.ServerStream }

func (s *containerServiceListLayersServer) Send(m *LayerHeader) error {
	return s.ServerStream.SendMsg(m)
}

type ContainerService_WriteLayerServer interface {
	Recv() (*WriteLayerChunk, error)
	SendAndClose(*WriteLayerResponse) error
	grpc.ServerStream
}

type containerServiceWriteLayerServer struct{ grpc.ServerStream }

func (s *containerServiceWriteLayerServer) Recv() (*WriteLayerChunk, error) {
	m := new(WriteLayerChunk)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *containerServiceWriteLayerServer) SendAndClose(m *WriteLayerResponse) error {
	return s.ServerStream.SendMsg(m)
}

type ContainerService_ListContainersServer interface {
	Send(*ContainerInfo) error
	grpc.ServerStream
}

type containerServiceListContainersServer struct{ grpc.ServerStream }

func (s *containerServiceListContainersServer) Send(m *ContainerInfo) error {
	return s.ServerStream.SendMsg(m)
}

type ContainerService_RunContainerStreamServer interface {
	Send(*RunContainerEvent) error
	Recv() (*RunContainerFrame, error)
	grpc.ServerStream
}

type containerServiceRunContainerStreamServer struct{ grpc.ServerStream }

func (s *containerServiceRunContainerStreamServer) Send(m *RunContainerEvent) error {
	return s.ServerStream.SendMsg(m)
}

func (s *containerServiceRunContainerStreamServer) Recv() (*RunContainerFrame, error) {
	m := new(RunContainerFrame)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _ContainerService_ListLayers_Handler(srv any, stream grpc.ServerStream) error {
	req := new(IsProvisionedRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ContainerServiceServer).ListLayers(req, &containerServiceListLayersServer{stream})
}

func _ContainerService_WriteLayer_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(ContainerServiceServer).WriteLayer(&containerServiceWriteLayerServer{stream})
}

func _ContainerService_ListContainers_Handler(srv any, stream grpc.ServerStream) error {
	req := new(IsProvisionedRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ContainerServiceServer).ListContainers(req, &containerServiceListContainersServer{stream})
}

func _ContainerService_RunContainerStream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(ContainerServiceServer).RunContainerStream(&containerServiceRunContainerStreamServer{stream})
}

func _ContainerService_StopContainer_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StopContainerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ContainerServiceServer).StopContainer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sh.wendy.agent.v1.ContainerService/StopContainer"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ContainerServiceServer).StopContainer(ctx, req.(*StopContainerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ContainerService_RunContainer_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunSpec)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ContainerServiceServer).RunContainer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sh.wendy.agent.v1.ContainerService/RunContainer"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ContainerServiceServer).RunContainer(ctx, req.(*RunSpec))
	}
	return interceptor(ctx, in, info, handler)
}

// ContainerService_ServiceDesc is the grpc.ServiceDesc registered against
// the server, in the same shape protoc-gen-go-grpc emits.
var ContainerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "sh.wendy.agent.v1.ContainerService",
	HandlerType: (*ContainerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StopContainer", Handler: _ContainerService_StopContainer_Handler},
		{MethodName: "RunContainer", Handler: _ContainerService_RunContainer_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ListLayers", Handler: _ContainerService_ListLayers_Handler, ServerStreams: true},
		{StreamName: "WriteLayer", Handler: _ContainerService_WriteLayer_Handler, ClientStreams: true},
		{StreamName: "ListContainers", Handler: _ContainerService_ListContainers_Handler, ServerStreams: true},
		{StreamName: "RunContainerStream", Handler: _ContainerService_RunContainerStream_Handler, ClientStreams: true, ServerStreams: true},
	},
	Metadata: "agent.proto",
}

func RegisterContainerServiceServer(s grpc.ServiceRegistrar, srv ContainerServiceServer) {
	s.RegisterService(&ContainerService_ServiceDesc, srv)
}

// ContainerServiceClient is the CLI-side contract; the agent only serves
// it, but the type is kept here alongside the server so both sides of the
// wire are defined from the same message set.
type ContainerServiceClient interface {
	ListLayers(ctx context.Context, in *IsProvisionedRequest, opts ...grpc.CallOption) (ContainerService_ListLayersClient, error)
	WriteLayer(ctx context.Context, opts ...grpc.CallOption) (ContainerService_WriteLayerClient, error)
	ListContainers(ctx context.Context, in *IsProvisionedRequest, opts ...grpc.CallOption) (ContainerService_ListContainersClient, error)
	StopContainer(ctx context.Context, in *StopContainerRequest, opts ...grpc.CallOption) (*StopContainerResponse, error)
	RunContainer(ctx context.Context, in *RunSpec, opts ...grpc.CallOption) (*StartedEvent, error)
	RunContainerStream(ctx context.Context, opts ...grpc.CallOption) (ContainerService_RunContainerStreamClient, error)
}

type ContainerService_ListLayersClient interface {
	Recv() (*LayerHeader, error)
	grpc.ClientStream
}

type ContainerService_WriteLayerClient interface {
	Send(*WriteLayerChunk) error
	CloseAndRecv() (*WriteLayerResponse, error)
	grpc.ClientStream
}

type ContainerService_ListContainersClient interface {
	Recv() (*ContainerInfo, error)
	grpc.ClientStream
}

type ContainerService_RunContainerStreamClient interface {
	Send(*RunContainerFrame) error
	Recv() (*RunContainerEvent, error)
	grpc.ClientStream
}

type containerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewContainerServiceClient(cc grpc.ClientConnInterface) ContainerServiceClient {
	return &containerServiceClient{cc}
}

func (c *containerServiceClient) StopContainer(ctx context.Context, in *StopContainerRequest, opts ...grpc.CallOption) (*StopContainerResponse, error) {
	out := new(StopContainerResponse)
	err := c.cc.Invoke(ctx, "/sh.wendy.agent.v1.ContainerService/StopContainer", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *containerServiceClient) RunContainer(ctx context.Context, in *RunSpec, opts ...grpc.CallOption) (*StartedEvent, error) {
	out := new(StartedEvent)
	err := c.cc.Invoke(ctx, "/sh.wendy.agent.v1.ContainerService/RunContainer", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *containerServiceClient) ListLayers(ctx context.Context, in *IsProvisionedRequest, opts ...grpc.CallOption) (ContainerService_ListLayersClient, error) {
	stream, err := c.cc.NewStream(ctx, &ContainerService_ServiceDesc.Streams[0], "/sh.wendy.agent.v1.ContainerService/ListLayers", opts...)
	if err != nil {
		return nil, err
	}
	x := &containerServiceListLayersClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type containerServiceListLayersClient struct{ grpc.ClientStream }

func (c *containerServiceListLayersClient) Recv() (*LayerHeader, error) {
	m := new(LayerHeader)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *containerServiceClient) WriteLayer(ctx context.Context, opts ...grpc.CallOption) (ContainerService_WriteLayerClient, error) {
	stream, err := c.cc.NewStream(ctx, &ContainerService_ServiceDesc.Streams[1], "/sh.wendy.agent.v1.ContainerService/WriteLayer", opts...)
	if err != nil {
		return nil, err
	}
	return &containerServiceWriteLayerClient{stream}, nil
}

type containerServiceWriteLayerClient struct{ grpc.ClientStream }

func (c *containerServiceWriteLayerClient) Send(m *WriteLayerChunk) error {
	return c.ClientStream.SendMsg(m)
}

func (c *containerServiceWriteLayerClient) CloseAndRecv() (*WriteLayerResponse, error) {
	if err := c.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(WriteLayerResponse)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *containerServiceClient) ListContainers(ctx context.Context, in *IsProvisionedRequest, opts ...grpc.CallOption) (ContainerService_ListContainersClient, error) {
	stream, err := c.cc.NewStream(ctx, &ContainerService_ServiceDesc.Streams[2], "/sh.wendy.agent.v1.ContainerService/ListContainers", opts...)
	if err != nil {
		return nil, err
	}
	x := &containerServiceListContainersClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type containerServiceListContainersClient struct{ grpc.ClientStream }

func (c *containerServiceListContainersClient) Recv() (*ContainerInfo, error) {
	m := new(ContainerInfo)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *containerServiceClient) RunContainerStream(ctx context.Context, opts ...grpc.CallOption) (ContainerService_RunContainerStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ContainerService_ServiceDesc.Streams[3], "/sh.wendy.agent.v1.ContainerService/RunContainerStream", opts...)
	if err != nil {
		return nil, err
	}
	return &containerServiceRunContainerStreamClient{stream}, nil
}

type containerServiceRunContainerStreamClient struct{ grpc.ClientStream }

func (c *containerServiceRunContainerStreamClient) Send(m *RunContainerFrame) error {
	return c.ClientStream.SendMsg(m)
}

func (c *containerServiceRunContainerStreamClient) Recv() (*RunContainerEvent, error) {
	m := new(RunContainerEvent)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
