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

// Package identifiers validates the appName and imageName identifiers that
// key ContainerRecord, SnapshotChain, and the per-appName supervision lock.
package identifiers

import (
	"fmt"
	"regexp"

	"github.com/containerd/errdefs"

	"github.com/wendylabsinc/wendy-agent/pkg/strutil"
)

const AllowedIdentifierChars = `[a-zA-Z0-9][a-zA-Z0-9_.-]`

var AllowedIdentifierPattern = regexp.MustCompile(`^` + AllowedIdentifierChars + `+$`)

// reservedIdentifiers can't be used as an appName: each collides with a
// well-known sentinel value elsewhere in the wire protocol or CLI ("all"
// apps, "none" network mode, the "default" restart policy).
var reservedIdentifiers = []string{"all", "none", "default"}

// Validate rejects the empty string, anything containing characters that
// would be unsafe in a snapshot key ("appName-<diffID>"), a cgroup path
// component, or a FIFO file name, and any reserved identifier.
func Validate(s string) error {
	if len(s) == 0 {
		return fmt.Errorf("identifier must not be empty: %w", errdefs.ErrInvalidArgument)
	}

	if !AllowedIdentifierPattern.MatchString(s) {
		return fmt.Errorf("identifier %q must match pattern %q: %w", s, AllowedIdentifierChars, errdefs.ErrInvalidArgument)
	}

	if strutil.InStringSlice(reservedIdentifiers, s) {
		return fmt.Errorf("identifier %q is reserved: %w", s, errdefs.ErrInvalidArgument)
	}
	return nil
}
