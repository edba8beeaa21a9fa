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

package provisioning

import (
	"context"
	"testing"

	"github.com/containerd/errdefs"
	"google.golang.org/grpc"
	"gotest.tools/v3/assert"

	"github.com/wendylabsinc/wendy-agent/api/agentpb"
	"github.com/wendylabsinc/wendy-agent/internal/identity"
)

const fakeChainPEM = `-----BEGIN CERTIFICATE-----
aW50ZXJtZWRpYXRl
-----END CERTIFICATE-----
-----BEGIN CERTIFICATE-----
cm9vdA==
-----END CERTIFICATE-----
`

const fakeLeafPEM = `-----BEGIN CERTIFICATE-----
bGVhZg==
-----END CERTIFICATE-----
`

type fakeCloud struct {
	response *agentpb.IssueCertificateResponse
	err      error
	calls    int
}

func dialerFor(f *fakeCloud) Dialer {
	return func(ctx context.Context, cloudHost string) (agentpb.IssueCertificateClient, func() error, error) {
		return &fakeIssueCertificateClient{fakeCloud: f}, func() error { return nil }, nil
	}
}

type fakeIssueCertificateClient struct {
	fakeCloud *fakeCloud
}

func (c *fakeIssueCertificateClient) IssueCertificate(ctx context.Context, in *agentpb.IssueCertificateRequest, opts ...grpc.CallOption) (*agentpb.IssueCertificateResponse, error) {
	c.fakeCloud.calls++
	if c.fakeCloud.err != nil {
		return nil, c.fakeCloud.err
	}
	return c.fakeCloud.response, nil
}

func TestStartProvisioningHappyPath(t *testing.T) {
	dir := t.TempDir()
	id, err := identity.Load(dir)
	assert.NilError(t, err)

	cloud := &fakeCloud{response: &agentpb.IssueCertificateResponse{
		PemCertificate:      fakeLeafPEM,
		PemCertificateChain: fakeChainPEM,
	}}
	p := &Provisioner{Identity: id, Dial: dialerFor(cloud)}

	err = p.StartProvisioning(context.Background(), "cloud.example", 1, 2, "tok")
	assert.NilError(t, err)
	assert.Equal(t, cloud.calls, 1)

	enrolled := id.IsProvisioned()
	assert.Assert(t, enrolled != nil)
	assert.Equal(t, enrolled.CloudHost, "cloud.example")
	assert.Equal(t, len(enrolled.CertificateChainPEM), 3)
}

func TestStartProvisioningRejectsWhenAlreadyEnrolled(t *testing.T) {
	dir := t.TempDir()
	id, err := identity.Load(dir)
	assert.NilError(t, err)
	assert.NilError(t, id.SaveEnrolled(identity.Enrolled{CloudHost: "cloud.example"}))

	cloud := &fakeCloud{}
	p := &Provisioner{Identity: id, Dial: dialerFor(cloud)}

	err = p.StartProvisioning(context.Background(), "cloud.example", 1, 2, "tok")
	assert.Assert(t, errdefs.IsPermissionDenied(err))
	assert.Equal(t, cloud.calls, 0)
}
