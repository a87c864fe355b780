// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procwalk

import "fmt"

// IdMapError reports a malformed or self-contradictory uid_map/gid_map.
type IdMapError struct {
	Kind   string // "uid" or "gid"
	Reason string
}

func (e *IdMapError) Error() string {
	return fmt.Sprintf("procwalk: invalid %s_map: %s", e.Kind, e.Reason)
}

// StatusFieldMissingError reports that a required /proc/<pid>/status field
// was absent from the file read. GetRealProc returns it when NStgid is
// missing; the other status fields it reads are left zero when absent.
type StatusFieldMissingError struct {
	Field string
	Path  string
}

func (e *StatusFieldMissingError) Error() string {
	return fmt.Sprintf("procwalk: field %q missing from %s", e.Field, e.Path)
}
