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

package attach

import (
	"os"
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewCreatesFIFOPair(t *testing.T) {
	s, err := New("myapp")
	assert.NilError(t, err)
	defer s.Close()

	stdoutInfo, err := os.Stat(s.StdoutPath)
	assert.NilError(t, err)
	assert.Assert(t, stdoutInfo.Mode()&os.ModeNamedPipe != 0)

	stderrInfo, err := os.Stat(s.StderrPath)
	assert.NilError(t, err)
	assert.Assert(t, stderrInfo.Mode()&os.ModeNamedPipe != 0)
}

func TestCloseUnlinksFIFOs(t *testing.T) {
	s, err := New("myapp")
	assert.NilError(t, err)

	assert.NilError(t, s.Close())
	_, err = os.Stat(s.StdoutPath)
	assert.Assert(t, os.IsNotExist(err))
}
