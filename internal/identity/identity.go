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

// Package identity implements the Config Store (C1): the agent's
// process-wide, durable identity. It is the only process-wide mutable
// state in the core; everything else is scoped to an appName or an RPC.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"sync"

	"github.com/containerd/log"

	"github.com/wendylabsinc/wendy-agent/pkg/store"
)

const configKey = "config.json"

// Enrolled is the cloud association recorded by a successful provisioning
// run (§4.2). It is nil until StartProvisioning succeeds.
type Enrolled struct {
	CloudHost           string   `json:"cloudHost"`
	OrganizationID      int64    `json:"organizationId"`
	AssetID             int64    `json:"assetId"`
	CertificateChainPEM []string `json:"certificateChainPem"`
}

// record is the on-disk JSON shape described in §6 (mode 0600).
type record struct {
	PrivateKeyPEM string    `json:"privateKeyPEM"`
	Enrolled      *Enrolled `json:"enrolled,omitempty"`
}

// AgentIdentity is the process-wide singleton described in §3. Only
// SaveEnrolled and WithEnrollmentLock mutate it. Signer needs no lock
// because the private key never changes after the first Load;
// IsProvisioned reads the enrollment record under mu.
type AgentIdentity struct {
	mu    sync.Mutex // write-once mutex around the enrollment transition (§5)
	store store.Store

	privateKey *ecdsa.PrivateKey
	enrolled   *Enrolled
}

// Load reads the identity file from directory, generating and persisting a
// fresh key pair if the file is absent or unreadable. It fails fatally
// (§6 exit codes) only if directory cannot be created.
func Load(directory string) (*AgentIdentity, error) {
	st, err := store.New(directory, 0, 0o600)
	if err != nil {
		return nil, fmt.Errorf("config directory %q is not usable: %w", directory, err)
	}

	exists, err := st.Exists(configKey)
	if err != nil {
		return nil, fmt.Errorf("checking for existing identity: %w", err)
	}

	if !exists {
		log.L.Info("no agent identity found, generating a new key pair")
		return generateAndSave(st)
	}

	raw, err := st.Get(configKey)
	if err != nil {
		log.L.WithError(err).Warn("agent identity file unreadable, regenerating")
		return generateAndSave(st)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.L.WithError(err).Warn("agent identity file corrupt, regenerating")
		return generateAndSave(st)
	}

	key, err := parsePrivateKeyPEM(rec.PrivateKeyPEM)
	if err != nil {
		log.L.WithError(err).Warn("agent identity key unparsable, regenerating")
		return generateAndSave(st)
	}

	return &AgentIdentity{store: st, privateKey: key, enrolled: rec.Enrolled}, nil
}

func generateAndSave(st store.Store) (*AgentIdentity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating agent signing key: %w", err)
	}

	id := &AgentIdentity{store: st, privateKey: key}
	if err := id.persist(); err != nil {
		return nil, err
	}
	return id, nil
}

// Signer returns the agent's private key, used to sign the CSR in §4.2.
func (id *AgentIdentity) Signer() *ecdsa.PrivateKey {
	return id.privateKey
}

// IsProvisioned reports the current enrollment record, or nil if
// unprovisioned.
func (id *AgentIdentity) IsProvisioned() *Enrolled {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.enrolled
}

// SaveEnrolled persists e and flips the identity to enrolled without
// checking the current state. C2 does not call it; it uses
// WithEnrollmentLock, which checks and persists under one hold of mu.
func (id *AgentIdentity) SaveEnrolled(e Enrolled) error {
	id.mu.Lock()
	defer id.mu.Unlock()

	id.enrolled = &e
	return id.persist()
}

// WithEnrollmentLock runs fn while holding the write-once enrollment
// mutex, passing the enrollment record observed under the lock. This lets
// C2 re-check "state == unprovisioned" and persist atomically, closing the
// race between two concurrent StartProvisioning calls.
func (id *AgentIdentity) WithEnrollmentLock(fn func(current *Enrolled) (*Enrolled, error)) error {
	id.mu.Lock()
	defer id.mu.Unlock()

	next, err := fn(id.enrolled)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	id.enrolled = next
	return id.persist()
}

func (id *AgentIdentity) persist() error {
	keyBytes, err := x509.MarshalECPrivateKey(id.privateKey)
	if err != nil {
		return fmt.Errorf("marshalling agent signing key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	rec := record{PrivateKeyPEM: string(keyPEM), Enrolled: id.enrolled}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling agent identity: %w", err)
	}

	if err := id.store.Set(data, configKey); err != nil {
		return fmt.Errorf("persisting agent identity: %w", err)
	}
	return nil
}

func parsePrivateKeyPEM(s string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in agent identity key")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}
