// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netlink

import (
	"fmt"

	agenterrors "github.com/antimetal/netagent/pkg/errors"
)

// HeaderError reports a header that could not be decoded: too few bytes, or
// a length field inconsistent with the buffer.
type HeaderError struct {
	Len     int
	Wanted  int
	Context string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("netlink: header error (%s): have %d bytes, need %d", e.Context, e.Len, e.Wanted)
}

// AttributeError reports a malformed attribute TLV.
type AttributeError struct {
	Offset int
	Reason string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("netlink: attribute error at offset %d: %s", e.Offset, e.Reason)
}

// UnknownFlagsError is returned when a decoded message header carries flag
// bits the transport does not recognise (spec: "the transport rejects any
// flag bit it does not recognise").
type UnknownFlagsError struct {
	Bits uint16
}

func (e *UnknownFlagsError) Error() string {
	return fmt.Sprintf("netlink: unknown message flag bits: 0x%04x", e.Bits)
}

// KernelError wraps the signed 32-bit error code the kernel reports in an
// NLMSG_ERROR message.
type KernelError struct {
	Code int32
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("netlink: kernel error code %d", e.Code)
}

// retryable marks transient socket-level faults (e.g. a recv timeout) as
// eligible for the caller's backoff policy.
type retryable struct{ error }

func (retryable) Retryable() {}

var _ agenterrors.RetryableError = retryable{}

func newRetryable(err error) error {
	return retryable{err}
}
