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

// Package agenterrors defines the error kinds the agent's RPC surface can
// return to a client (see "Error Handling Design" in the container
// lifecycle core spec). Each kind wraps a containerd/errdefs sentinel so
// the same value both satisfies errors.Is() checks internally and maps to
// a gRPC status code at the RPC boundary via errdefs.ToGRPC.
package agenterrors

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrInvalidArgument: malformed frame, empty digest/chunk, bad app config.
	ErrInvalidArgument = errdefs.ErrInvalidArgument
	// ErrFailedPrecondition: control before header, run while task running,
	// provisioning when already enrolled.
	ErrFailedPrecondition = errdefs.ErrFailedPrecondition
	// ErrPermissionDenied: re-provisioning attempt.
	ErrPermissionDenied = errdefs.ErrPermissionDenied
	// ErrNotFound: unknown appName for stop/delete.
	ErrNotFound = errdefs.ErrNotFound
	// ErrAborted: cloud-side certificate issuance failure.
	ErrAborted = errdefs.ErrAborted
	// ErrInternal: runtime RPC failure.
	ErrInternal = errdefs.ErrUnknown
	// ErrAlreadyExists is not a client-visible failure: it is the success
	// signal that content or a snapshot was already committed by a
	// previous or concurrent caller (§7 propagation policy).
	ErrAlreadyExists = errdefs.ErrAlreadyExists
)

// InvalidArgument builds an error from msg and args, wrapping ErrInvalidArgument.
func InvalidArgument(msg string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(msg, args...), ErrInvalidArgument)
}

// FailedPrecondition builds an error from msg and args, wrapping ErrFailedPrecondition.
func FailedPrecondition(msg string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(msg, args...), ErrFailedPrecondition)
}

// PermissionDenied wraps msg as ErrPermissionDenied.
func PermissionDenied(msg string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(msg, args...), ErrPermissionDenied)
}

// NotFound wraps msg as ErrNotFound.
func NotFound(msg string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(msg, args...), ErrNotFound)
}

// Aborted wraps err as ErrAborted.
func Aborted(err error) error {
	return fmt.Errorf("%w: %w", ErrAborted, err)
}

// Internal wraps err as ErrInternal.
func Internal(err error) error {
	return fmt.Errorf("%w: %w", ErrInternal, err)
}

// IsAlreadyExists reports whether err signals the benign "already committed
// by someone else" outcome that §7 says callers must treat as success.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) || errdefs.IsAlreadyExists(err)
}

// ToGRPCStatus converts one of the sentinel-wrapped errors above into the
// equivalent gRPC status error, the same way containerd's own daemon API
// turns internal errdefs errors into wire-level statuses.
func ToGRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	return errdefs.ToGRPC(err)
}
