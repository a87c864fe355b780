// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procwalk

import (
	"strconv"
	"strings"

	"github.com/antimetal/netagent/pkg/common"
)

// uidMapEntry is one line of /proc/<pid>/uid_map: length consecutive ids
// starting at realUidStart (outside the namespace) map onto ids starting at
// uidStart (inside it).
type uidMapEntry struct {
	uidStart, uidEnd         common.Uid
	realUidStart, realUidEnd common.Uid
}

func parseUidMapEntry(line string) (uidMapEntry, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return uidMapEntry{}, &IdMapError{Kind: "uid", Reason: "expected 3 fields"}
	}

	start, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return uidMapEntry{}, &IdMapError{Kind: "uid", Reason: err.Error()}
	}
	realStart, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return uidMapEntry{}, &IdMapError{Kind: "uid", Reason: err.Error()}
	}
	length, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil || length == 0 {
		return uidMapEntry{}, &IdMapError{Kind: "uid", Reason: "invalid length"}
	}

	return uidMapEntry{
		uidStart:     common.Uid(start),
		uidEnd:       common.Uid(start + length - 1),
		realUidStart: common.Uid(realStart),
		realUidEnd:   common.Uid(realStart + length - 1),
	}, nil
}

func (e uidMapEntry) mapToUid(realUid common.Uid) (common.Uid, bool) {
	if realUid >= e.realUidStart && realUid <= e.realUidEnd {
		return common.Uid(uint32(e.uidStart) + uint32(realUid) - uint32(e.realUidStart)), true
	}
	return 0, false
}

// uidMap is the full contents of /proc/<pid>/uid_map.
type uidMap struct {
	entries []uidMapEntry
}

// parseUidMap parses every line of content, rejecting overlapping ranges
// (the kernel never produces them, but a corrupt read should fail loudly
// rather than silently pick the first match), matching UidMap::try_from.
func parseUidMap(content string) (*uidMap, error) {
	m := &uidMap{}
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := parseUidMapEntry(line)
		if err != nil {
			return nil, err
		}
		for _, existing := range m.entries {
			if rangesOverlap(entry.uidStart, entry.uidEnd, existing.uidStart, existing.uidEnd) ||
				rangesOverlap(entry.realUidStart, entry.realUidEnd, existing.realUidStart, existing.realUidEnd) {
				return nil, &IdMapError{Kind: "uid", Reason: "overlapping ranges"}
			}
		}
		m.entries = append(m.entries, entry)
	}
	return m, nil
}

func (m *uidMap) mapToUid(realUid common.Uid) (common.Uid, bool) {
	for _, e := range m.entries {
		if uid, ok := e.mapToUid(realUid); ok {
			return uid, true
		}
	}
	return 0, false
}

// gidMapEntry mirrors uidMapEntry for /proc/<pid>/gid_map.
type gidMapEntry struct {
	gidStart, gidEnd         common.Gid
	realGidStart, realGidEnd common.Gid
}

func parseGidMapEntry(line string) (gidMapEntry, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return gidMapEntry{}, &IdMapError{Kind: "gid", Reason: "expected 3 fields"}
	}

	start, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return gidMapEntry{}, &IdMapError{Kind: "gid", Reason: err.Error()}
	}
	realStart, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return gidMapEntry{}, &IdMapError{Kind: "gid", Reason: err.Error()}
	}
	length, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil || length == 0 {
		return gidMapEntry{}, &IdMapError{Kind: "gid", Reason: "invalid length"}
	}

	return gidMapEntry{
		gidStart:     common.Gid(start),
		gidEnd:       common.Gid(start + length - 1),
		realGidStart: common.Gid(realStart),
		realGidEnd:   common.Gid(realStart + length - 1),
	}, nil
}

func (e gidMapEntry) mapToGid(realGid common.Gid) (common.Gid, bool) {
	if realGid >= e.realGidStart && realGid <= e.realGidEnd {
		return common.Gid(uint32(e.gidStart) + uint32(realGid) - uint32(e.realGidStart)), true
	}
	return 0, false
}

type gidMap struct {
	entries []gidMapEntry
}

func parseGidMap(content string) (*gidMap, error) {
	m := &gidMap{}
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := parseGidMapEntry(line)
		if err != nil {
			return nil, err
		}
		for _, existing := range m.entries {
			if rangesOverlap(entry.gidStart, entry.gidEnd, existing.gidStart, existing.gidEnd) ||
				rangesOverlap(entry.realGidStart, entry.realGidEnd, existing.realGidStart, existing.realGidEnd) {
				return nil, &IdMapError{Kind: "gid", Reason: "overlapping ranges"}
			}
		}
		m.entries = append(m.entries, entry)
	}
	return m, nil
}

func (m *gidMap) mapToGid(realGid common.Gid) (common.Gid, bool) {
	for _, e := range m.entries {
		if gid, ok := e.mapToGid(realGid); ok {
			return gid, true
		}
	}
	return 0, false
}

// rangesOverlap reports whether [aStart,aEnd] and [bStart,bEnd] share any
// value, matching the reference client's inclusive-bound overlap check.
func rangesOverlap[T ~uint32](aStart, aEnd, bStart, bEnd T) bool {
	return aStart <= bEnd && bStart <= aEnd
}
