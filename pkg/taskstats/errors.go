// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package taskstats

import (
	"fmt"

	"github.com/antimetal/netagent/pkg/common"
)

// UnsupportedVersionError is returned when the kernel reports a taskstats
// wire version this client does not know how to decode.
type UnsupportedVersionError struct {
	Version uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("taskstats: unsupported wire version %d", e.Version)
}

// TruncatedStructError is returned when a taskstats payload is shorter than
// the fixed-size struct its version tag promises.
type TruncatedStructError struct {
	Version uint16
	Have    int
	Want    int
}

func (e *TruncatedStructError) Error() string {
	return fmt.Sprintf("taskstats: truncated v%d struct: have %d bytes, want %d", e.Version, e.Have, e.Want)
}

// NoAggregateAttributeError is returned when a GET response lacks the
// requested result attribute: AGGR_PID for a thread query, AGGR_TGID for a
// process query.
type NoAggregateAttributeError struct {
	Want string // "AGGR_PID" or "AGGR_TGID"
}

func (e *NoAggregateAttributeError) Error() string {
	return fmt.Sprintf("taskstats: response missing %s attribute", e.Want)
}

// WrongTidError is returned when the kernel's AGGR_PID response names a
// different thread than the one requested.
type WrongTidError struct {
	Got, Want common.Tid
}

func (e *WrongTidError) Error() string {
	return fmt.Sprintf("taskstats: response tid %d does not match requested tid %d", e.Got, e.Want)
}

// WrongPidError is returned when the kernel's AGGR_TGID response names a
// different process than the one requested.
type WrongPidError struct {
	Got, Want common.Pid
}

func (e *WrongPidError) Error() string {
	return fmt.Sprintf("taskstats: response pid %d does not match requested pid %d", e.Got, e.Want)
}
