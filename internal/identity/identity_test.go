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

package identity

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

var errAlreadyProvisioned = errors.New("already provisioned")

func TestLoadGeneratesKeyOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	id, err := Load(dir)
	assert.NilError(t, err)
	assert.Assert(t, id.Signer() != nil)
	assert.Assert(t, id.IsProvisioned() == nil)
}

func TestLoadIsStableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	first, err := Load(dir)
	assert.NilError(t, err)
	firstKey := first.Signer()

	second, err := Load(dir)
	assert.NilError(t, err)

	assert.Assert(t, firstKey.Equal(second.Signer()))
}

func TestSaveEnrolledPersistsAcrossLoad(t *testing.T) {
	dir := t.TempDir()

	id, err := Load(dir)
	assert.NilError(t, err)

	enrolled := Enrolled{
		CloudHost:           "cloud.example",
		OrganizationID:      1,
		AssetID:             2,
		CertificateChainPEM: []string{"leaf", "intermediate", "root"},
	}
	assert.NilError(t, id.SaveEnrolled(enrolled))

	reloaded, err := Load(dir)
	assert.NilError(t, err)
	got := reloaded.IsProvisioned()
	assert.Assert(t, got != nil)
	assert.Equal(t, got.CloudHost, "cloud.example")
	assert.Equal(t, len(got.CertificateChainPEM), 3)
}

func TestWithEnrollmentLockRejectsWhenAlreadyEnrolled(t *testing.T) {
	dir := t.TempDir()
	id, err := Load(dir)
	assert.NilError(t, err)

	assert.NilError(t, id.SaveEnrolled(Enrolled{CloudHost: "cloud.example"}))

	called := false
	err = id.WithEnrollmentLock(func(current *Enrolled) (*Enrolled, error) {
		called = true
		assert.Assert(t, current != nil)
		return nil, errAlreadyProvisioned
	})
	assert.Assert(t, called)
	assert.ErrorIs(t, err, errAlreadyProvisioned)
}
