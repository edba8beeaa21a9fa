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

// Package jsoncodec registers a grpc-go Codec that marshals the agent's
// wire messages (api/agentpb) as JSON instead of protobuf.
//
// The agent's RPC surface is deliberately "gRPC-style" (streaming,
// deadlines, cancellation, and the standard status-code vocabulary in
// google.golang.org/grpc/codes), but the wire messages are plain Go
// structs rather than protoc-generated types. grpc-go's codec is a
// documented extension point (encoding.RegisterCodec) for exactly this
// case, so transport, flow control, and status-code propagation are the
// real google.golang.org/grpc implementation end to end; only message
// serialization is swapped out.
package jsoncodec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype registered with grpc-go and advertised on
// the wire via the "grpc+json" content-type.
const Name = "json"

func init() {
	encoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Name() string { return Name }

func (codec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsoncodec: marshal %T: %w", v, err)
	}
	return b, nil
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("jsoncodec: unmarshal into %T: %w", v, err)
	}
	return nil
}
