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

// Package provisioning implements the Provisioning State Machine (C2):
// one-shot enrollment with the cloud. It issues a CSR signed by the
// agent's own key, exchanges it for a certificate chain over a plaintext
// gRPC call to the cloud host, and commits the result to the Config
// Store under the enrollment lock.
package provisioning

import (
	"context"
	"encoding/pem"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudflare/cfssl/csr"
	"github.com/containerd/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wendylabsinc/wendy-agent/api/agentpb"
	"github.com/wendylabsinc/wendy-agent/internal/agenterrors"
	"github.com/wendylabsinc/wendy-agent/internal/identity"
	"github.com/wendylabsinc/wendy-agent/internal/rpcserver/jsoncodec"
	"github.com/wendylabsinc/wendy-agent/pkg/errutil"
)

// DialTimeout bounds the plaintext call to cloudHost:50051 (SPEC_FULL
// supplement "Provisioning retry/backoff"). StartProvisioning is safely
// retriable, so callers are expected to retry rather than wait longer.
const DialTimeout = 60 * time.Second

// CloudPort is the fixed port the cloud's enrollment service listens on.
const CloudPort = "50051"

// Dialer opens the plaintext connection used to reach the cloud's
// IssueCertificate RPC. Production code uses DialInsecure; tests supply a
// fake that talks to an in-process server.
type Dialer func(ctx context.Context, cloudHost string) (agentpb.IssueCertificateClient, func() error, error)

// DialInsecure dials cloudHost:50051 in plaintext using the agent's JSON
// content-subtype, matching how the rest of the RPC surface is coded.
func DialInsecure(ctx context.Context, cloudHost string) (agentpb.IssueCertificateClient, func() error, error) {
	conn, err := grpc.NewClient(
		cloudHost+":"+CloudPort,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsoncodec.Name)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing cloud host %q: %w", cloudHost, err)
	}
	return agentpb.NewIssueCertificateClient(conn), conn.Close, nil
}

// Provisioner runs startProvisioning against a given identity.
type Provisioner struct {
	Identity *identity.AgentIdentity
	Dial     Dialer
}

// New builds a Provisioner that dials the cloud for real.
func New(id *identity.AgentIdentity) *Provisioner {
	return &Provisioner{Identity: id, Dial: DialInsecure}
}

// StartProvisioning implements §4.2. It fails with ErrPermissionDenied
// without contacting the cloud if the agent is already enrolled, builds
// and signs a CSR, exchanges it for a certificate chain, and commits the
// result under the identity's enrollment lock.
func (p *Provisioner) StartProvisioning(ctx context.Context, cloudHost string, organizationID, assetID int64, enrollmentToken string) error {
	if p.Identity.IsProvisioned() != nil {
		return agenterrors.PermissionDenied("agent is already provisioned")
	}

	dn := distinguishedName(organizationID, assetID)
	pemCSR, err := csr.Generate(p.Identity.Signer(), &csr.CertificateRequest{
		CN:         dn,
		KeyRequest: nil,
	})
	if err != nil {
		return agenterrors.Internal(fmt.Errorf("generating certificate signing request: %w", err))
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DialTimeout)
		defer cancel()
	}

	client, closeConn, err := p.Dial(ctx, cloudHost)
	if err != nil {
		if errutil.IsErrConnectionRefused(err) {
			return agenterrors.Aborted(fmt.Errorf("cloud host %q refused connection: %w", cloudHost, err))
		}
		return agenterrors.Aborted(err)
	}
	defer closeConn()

	resp, err := client.IssueCertificate(ctx, &agentpb.IssueCertificateRequest{
		EnrollmentToken: enrollmentToken,
		PemCSR:          string(pemCSR),
	})
	if err != nil {
		return agenterrors.Aborted(fmt.Errorf("issuing certificate: %w", err))
	}
	if resp.ErrorMessage != "" {
		return agenterrors.Aborted(fmt.Errorf("cloud refused enrollment: %s", resp.ErrorMessage))
	}

	chain, err := parseChain(resp.PemCertificate, resp.PemCertificateChain)
	if err != nil {
		return agenterrors.InvalidArgument("parsing issued certificate chain: %v", err)
	}

	enrolled := identity.Enrolled{
		CloudHost:           cloudHost,
		OrganizationID:      organizationID,
		AssetID:             assetID,
		CertificateChainPEM: chain,
	}

	err = p.Identity.WithEnrollmentLock(func(current *identity.Enrolled) (*identity.Enrolled, error) {
		if current != nil {
			return nil, agenterrors.PermissionDenied("agent is already provisioned")
		}
		return &enrolled, nil
	})
	if err != nil {
		return err
	}

	log.L.WithField("cloudHost", cloudHost).Info("agent enrolled")
	return nil
}

// distinguishedName builds the CSR subject common name from the
// organization and asset identifiers, dot-joined in the agent's own
// "sh.wendy" label namespace convention.
func distinguishedName(organizationID, assetID int64) string {
	return fmt.Sprintf("sh.wendy.%s.%s", strconv.FormatInt(organizationID, 10), strconv.FormatInt(assetID, 10))
}

// parseChain splits a leaf certificate plus an optional chain into the
// ordered list of PEM blocks persisted on Enrolled.CertificateChainPEM,
// rejecting malformed PEM per §4.2.
func parseChain(leafPEM, chainPEM string) ([]string, error) {
	var out []string

	rest := []byte(leafPEM)
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		out = append(out, string(pem.EncodeToMemory(block)))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no PEM certificate blocks in leaf")
	}

	rest = []byte(chainPEM)
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		out = append(out, string(pem.EncodeToMemory(block)))
	}

	return out, nil
}
