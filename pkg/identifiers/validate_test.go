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

package identifiers

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/containerd/errdefs"
)

func TestValidateAcceptsOrdinaryIdentifier(t *testing.T) {
	assert.NilError(t, Validate("my-app.v2"))
}

func TestValidateRejectsEmpty(t *testing.T) {
	assert.Assert(t, errdefs.IsInvalidArgument(Validate("")))
}

func TestValidateRejectsDisallowedChars(t *testing.T) {
	assert.Assert(t, errdefs.IsInvalidArgument(Validate("my app")))
}

func TestValidateRejectsReservedIdentifiers(t *testing.T) {
	for _, s := range []string{"all", "ALL", "none", "default"} {
		assert.Assert(t, errdefs.IsInvalidArgument(Validate(s)), s)
	}
}
