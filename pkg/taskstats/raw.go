// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package taskstats

import "encoding/binary"

// commandLength is the fixed size of the kernel's comm field within the
// taskstats struct.
const commandLength = 32

// cursor reads fixed-width fields out of a byte slice in the kernel's
// host-byte-order packed struct layout, failing closed on truncation instead
// of the unsafe struct-cast the reference client uses.
type cursor struct {
	buf []byte
	pos int
	err error
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if c.pos+n > len(c.buf) {
		c.err = &TruncatedStructError{Have: len(c.buf), Want: c.pos + n}
		return false
	}
	return true
}

func (c *cursor) skip(n int) {
	if !c.need(n) {
		return
	}
	c.pos += n
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.buf[c.pos]
	c.pos++
	return v
}

func (c *cursor) i8() int8 {
	return int8(c.u8())
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.NativeEndian.Uint16(c.buf[c.pos : c.pos+2])
	c.pos += 2
	return v
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.NativeEndian.Uint32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return v
}

func (c *cursor) u64() uint64 {
	if !c.need(8) {
		return 0
	}
	v := binary.NativeEndian.Uint64(c.buf[c.pos : c.pos+8])
	c.pos += 8
	return v
}

func (c *cursor) commandStr() string {
	if !c.need(commandLength) {
		return ""
	}
	raw := c.buf[c.pos : c.pos+commandLength]
	c.pos += commandLength
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

// RawV8 is the taskstats wire struct as of kernel ABI version 8.
type RawV8 struct {
	ExitCode                       uint32
	Flags                          uint8
	Nice                           int8
	CPUDelayCount, CPUDelayTotal   uint64
	BlockIODelayCount              uint64
	BlockIODelayTotal              uint64
	SwapinDelayCount               uint64
	SwapinDelayTotal               uint64
	CPURuntimeRealTotal            uint64
	CPURuntimeVirtualTotal         uint64
	CommandStr                     string
	SchedulingDiscipline           uint8
	Uid, Gid                       uint32
	Pid, ParentPid                 uint32
	BeginTime                      uint32
	ElapsedTime                    uint64
	UserCPUTime, SystemCPUTime     uint64
	MinorFaultCount, MajorFaultCount uint64
	AccumulatedRSS, AccumulatedVSS uint64
	HighWaterRSS, HighWaterVSS     uint64
	IOReadBytes, IOWriteBytes      uint64
	ReadSyscallCount, WriteSyscallCount uint64
	BlockIOReadBytes, BlockIOWriteBytes uint64
	CancelledBlockIOWriteBytes     uint64
	VoluntaryContextSwitches       uint64
	NonvoluntaryContextSwitches    uint64
	UserTimeScaled, SystemTimeScaled uint64
	RunRealTotalScaled             uint64
	FreePagesDelayCount            uint64
	FreePagesDelayTotal            uint64
}

// RawV9 adds thrashing-delay accounting over V8.
type RawV9 struct {
	RawV8
	ThrashingDelayCount uint64
	ThrashingDelayTotal uint64
}

// RawV10 adds a 64-bit begin-time field over V9 (fixing the Y2038 overflow of
// the 32-bit BeginTime).
type RawV10 struct {
	RawV9
	BeginTime64 uint64
}

// RawV11 adds memory-compaction delay accounting over V10.
type RawV11 struct {
	RawV10
	MemoryCompactDelayCount uint64
	MemoryCompactDelayTotal uint64
}

// decodeV8Body reads every field shared by all known versions, starting
// right after the leading version+padding u32 the caller has already
// consumed.
func decodeV8Body(c *cursor) RawV8 {
	var r RawV8
	r.ExitCode = c.u32()
	r.Flags = c.u8()
	r.Nice = c.i8()
	c.skip(6) // padding2
	r.CPUDelayCount = c.u64()
	r.CPUDelayTotal = c.u64()
	r.BlockIODelayCount = c.u64()
	r.BlockIODelayTotal = c.u64()
	r.SwapinDelayCount = c.u64()
	r.SwapinDelayTotal = c.u64()
	r.CPURuntimeRealTotal = c.u64()
	r.CPURuntimeVirtualTotal = c.u64()
	r.CommandStr = c.commandStr()
	r.SchedulingDiscipline = c.u8()
	c.skip(3) // padding3
	c.skip(4) // padding4
	r.Uid = c.u32()
	r.Gid = c.u32()
	r.Pid = c.u32()
	r.ParentPid = c.u32()
	r.BeginTime = c.u32()
	c.skip(4) // padding5
	r.ElapsedTime = c.u64()
	r.UserCPUTime = c.u64()
	r.SystemCPUTime = c.u64()
	r.MinorFaultCount = c.u64()
	r.MajorFaultCount = c.u64()
	r.AccumulatedRSS = c.u64()
	r.AccumulatedVSS = c.u64()
	r.HighWaterRSS = c.u64()
	r.HighWaterVSS = c.u64()
	r.IOReadBytes = c.u64()
	r.IOWriteBytes = c.u64()
	r.ReadSyscallCount = c.u64()
	r.WriteSyscallCount = c.u64()
	r.BlockIOReadBytes = c.u64()
	r.BlockIOWriteBytes = c.u64()
	r.CancelledBlockIOWriteBytes = c.u64()
	r.VoluntaryContextSwitches = c.u64()
	r.NonvoluntaryContextSwitches = c.u64()
	r.UserTimeScaled = c.u64()
	r.SystemTimeScaled = c.u64()
	r.RunRealTotalScaled = c.u64()
	r.FreePagesDelayCount = c.u64()
	r.FreePagesDelayTotal = c.u64()
	return r
}

// Raw is a tagged union over the version-specific wire structs: callers
// switch on Version to know which field set is populated, matching the
// reference client's TaskStatsRaw enum.
type Raw struct {
	Version uint16
	V8      *RawV8
	V9      *RawV9
	V10     *RawV10
	V11     *RawV11
}

// DecodeRaw reads the leading u16 version tag and dispatches to the
// matching fixed-layout decoder. buf must start at the taskstats payload
// (i.e. right after any AGGR_PID/AGGR_TGID nested-id prefix has been
// stripped by the caller).
func DecodeRaw(buf []byte) (Raw, error) {
	if len(buf) < 4 {
		return Raw{}, &TruncatedStructError{Have: len(buf), Want: 4}
	}
	version := binary.NativeEndian.Uint16(buf[0:2])

	c := &cursor{buf: buf, pos: 4} // version(2) + padding1(2)

	switch version {
	case 8:
		v8 := decodeV8Body(c)
		if c.err != nil {
			return Raw{}, c.err
		}
		return Raw{Version: 8, V8: &v8}, nil
	case 9:
		v8 := decodeV8Body(c)
		v9 := RawV9{RawV8: v8, ThrashingDelayCount: c.u64(), ThrashingDelayTotal: c.u64()}
		if c.err != nil {
			return Raw{}, c.err
		}
		return Raw{Version: 9, V9: &v9}, nil
	case 10:
		v8 := decodeV8Body(c)
		v9 := RawV9{RawV8: v8, ThrashingDelayCount: c.u64(), ThrashingDelayTotal: c.u64()}
		v10 := RawV10{RawV9: v9, BeginTime64: c.u64()}
		if c.err != nil {
			return Raw{}, c.err
		}
		return Raw{Version: 10, V10: &v10}, nil
	case 11:
		v8 := decodeV8Body(c)
		v9 := RawV9{RawV8: v8, ThrashingDelayCount: c.u64(), ThrashingDelayTotal: c.u64()}
		v10 := RawV10{RawV9: v9, BeginTime64: c.u64()}
		v11 := RawV11{RawV10: v10, MemoryCompactDelayCount: c.u64(), MemoryCompactDelayTotal: c.u64()}
		if c.err != nil {
			return Raw{}, c.err
		}
		return Raw{Version: 11, V11: &v11}, nil
	default:
		return Raw{}, &UnsupportedVersionError{Version: version}
	}
}
