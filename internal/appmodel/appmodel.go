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

// Package appmodel holds the data model types shared across the core:
// AppConfig (the application-supplied manifest), its entitlement set, and
// RestartPolicy. C5 and C6 both operate on these; neither owns them.
package appmodel

import (
	"fmt"

	digest "github.com/opencontainers/go-digest"

	"github.com/wendylabsinc/wendy-agent/pkg/identifiers"
)

// LayerDescriptor is the immutable tuple of §3: a content digest, the
// digest of its uncompressed form, its size, and whether it is gzipped.
// Two descriptors with equal Digest denote byte-identical content.
type LayerDescriptor struct {
	Digest digest.Digest `json:"digest"`
	DiffID digest.Digest `json:"diffId"`
	Size   int64         `json:"size"`
	Gzip   bool          `json:"gzip"`
}

// MediaType returns the OCI layer media type matching Gzip.
func (l LayerDescriptor) MediaType() string {
	if l.Gzip {
		return "application/vnd.oci.image.layer.v1.tar+gzip"
	}
	return "application/vnd.oci.image.layer.v1.tar"
}

// EntitlementKind names the tagged entitlement variants an AppConfig may
// declare, at most once each.
type EntitlementKind string

const (
	EntitlementNetwork   EntitlementKind = "network"
	EntitlementBluetooth EntitlementKind = "bluetooth"
	EntitlementVideo     EntitlementKind = "video"
	EntitlementAudio     EntitlementKind = "audio"
	EntitlementGPU       EntitlementKind = "gpu"
)

// NetworkMode is the mode argument of a network{} entitlement.
type NetworkMode string

const (
	NetworkHost NetworkMode = "host"
	NetworkNone NetworkMode = "none"
)

// BluetoothMode is the mode argument of a bluetooth{} entitlement.
type BluetoothMode string

const (
	BluetoothKernel BluetoothMode = "kernel"
	BluetoothBluez  BluetoothMode = "bluez"
)

// Entitlement is one declared tagged variant. Only the field matching
// Kind is meaningful.
type Entitlement struct {
	Kind      EntitlementKind `json:"kind"`
	Network   NetworkMode     `json:"network,omitempty"`
	Bluetooth BluetoothMode   `json:"bluetooth,omitempty"`
}

// AppConfig is the application-supplied manifest of §3.
type AppConfig struct {
	AppID        string        `json:"appId"`
	Version      string        `json:"version"`
	Entitlements []Entitlement `json:"entitlements"`
}

// Validate enforces the at-most-one-per-tag and bluetooth/network
// mutual-exclusion invariants of §3/§4.5.
func (c AppConfig) Validate() error {
	if err := identifiers.Validate(c.AppID); err != nil {
		return fmt.Errorf("appId: %w", err)
	}

	seen := make(map[EntitlementKind]struct{}, len(c.Entitlements))
	var hasKernelBluetooth, hasNoNetwork bool

	for _, e := range c.Entitlements {
		if _, dup := seen[e.Kind]; dup {
			return fmt.Errorf("entitlement %q declared more than once", e.Kind)
		}
		seen[e.Kind] = struct{}{}

		switch e.Kind {
		case EntitlementBluetooth:
			if e.Bluetooth == BluetoothKernel {
				hasKernelBluetooth = true
			}
		case EntitlementNetwork:
			if e.Network == NetworkNone {
				hasNoNetwork = true
			}
		}
	}

	if hasKernelBluetooth && hasNoNetwork {
		return fmt.Errorf("bluetooth{kernel} cannot be combined with network{none}")
	}
	return nil
}

// RestartPolicyKind is the tag of the RestartPolicy variant.
type RestartPolicyKind string

const (
	RestartDefault       RestartPolicyKind = "default"
	RestartNo            RestartPolicyKind = "no"
	RestartUnlessStopped RestartPolicyKind = "unlessStopped"
	RestartOnFailure     RestartPolicyKind = "onFailure"
)

// RestartPolicy is the tagged variant of §3. MaxRetries is only
// meaningful when Kind == RestartOnFailure.
type RestartPolicy struct {
	Kind       RestartPolicyKind `json:"kind"`
	MaxRetries int               `json:"maxRetries,omitempty"`
}

// ShouldRestart reports whether the supervisor should re-create a task
// that has just exited with exitCode, having already accumulated
// priorFailures non-zero exits under this policy (§4.6's restart table).
// A manual stop suppresses restarts independently of this result; the
// supervisor tracks that suppression itself, not as part of the policy.
func (p RestartPolicy) ShouldRestart(exitCode int, priorFailures int) bool {
	switch p.Kind {
	case RestartNo:
		return false
	case RestartOnFailure:
		if exitCode == 0 {
			return false
		}
		return priorFailures < p.MaxRetries
	case RestartDefault, RestartUnlessStopped, "":
		return true
	default:
		return false
	}
}
