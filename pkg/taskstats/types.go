// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package taskstats implements a client for the kernel's TASKSTATS
// generic-netlink family: per-thread and per-process delay, CPU, memory and
// I/O accounting. Wire layouts are grounded on the reference
// implementation's taskstat.rs.
package taskstats

import (
	"time"

	"github.com/antimetal/netagent/pkg/common"
)

// Stats is the normalized, version-independent view of a taskstats result.
// Fields absent from older wire versions are zero-valued, matching the
// reference client's to_taskstats conversion.
type Stats struct {
	CommandStr string
	Pid        common.Pid
	Uid        common.Uid
	Gid        common.Gid
	ParentPid  common.Pid
	Nice       int8
	Flags      uint8
	ExitCode   uint32
	Timestamp  common.Timestamp

	BeginTime            time.Time
	ElapsedTime          common.TimeCount
	SchedulingDiscipline uint8

	UserCPUTime   common.TimeCount
	SystemCPUTime common.TimeCount

	AccumulatedRSS common.DataCount
	AccumulatedVSS common.DataCount

	HighWaterRSS common.DataCount
	HighWaterVSS common.DataCount

	IORead  common.DataCount
	IOWrite common.DataCount

	ReadSyscallCount  common.Count
	WriteSyscallCount common.Count

	BlockIORead           common.DataCount
	BlockIOWrite          common.DataCount
	CancelledBlockIOWrite common.DataCount

	CPUDelayCount common.Count
	CPUDelayTotal common.TimeCount

	MinorFaultCount common.Count
	MajorFaultCount common.Count

	FreePagesDelayCount common.Count
	FreePagesDelayTotal common.TimeCount

	ThrashingDelayCount common.Count
	ThrashingDelayTotal common.TimeCount

	BlockIODelayCount common.Count
	BlockIODelayTotal common.TimeCount

	SwapinDelayCount common.Count
	SwapinDelayTotal common.TimeCount

	MemoryCompactDelayCount common.Count
	MemoryCompactDelayTotal common.TimeCount

	VoluntaryContextSwitches    common.Count
	NonvoluntaryContextSwitches common.Count

	CPURuntimeRealTotal    common.TimeCount
	CPURuntimeVirtualTotal common.TimeCount

	UserTimeScaled      common.TimeCount
	SystemTimeScaled    common.TimeCount
	RunRealTotalScaled  common.TimeCount
}

// ToStats normalizes a decoded Raw into the version-independent Stats view.
func (r Raw) ToStats() Stats {
	switch r.Version {
	case 8:
		return v8ToStats(*r.V8)
	case 9:
		return v9ToStats(*r.V9)
	case 10:
		return v10ToStats(*r.V10)
	case 11:
		return v11ToStats(*r.V11)
	default:
		return Stats{}
	}
}

func v8ToStats(v RawV8) Stats {
	return Stats{
		CommandStr:           v.CommandStr,
		Pid:                  common.Pid(v.Pid),
		Uid:                  common.Uid(v.Uid),
		Gid:                  common.Gid(v.Gid),
		ParentPid:            common.Pid(v.ParentPid),
		Nice:                 v.Nice,
		Flags:                v.Flags,
		ExitCode:             v.ExitCode,
		Timestamp:            common.Now(),
		BeginTime:            time.Unix(int64(v.BeginTime), 0),
		ElapsedTime:          common.TimeCountFromMicros(v.ElapsedTime),
		SchedulingDiscipline: v.SchedulingDiscipline,

		UserCPUTime:   common.TimeCountFromMicros(v.UserCPUTime),
		SystemCPUTime: common.TimeCountFromMicros(v.SystemCPUTime),

		AccumulatedRSS: common.DataCountFromMB(v.AccumulatedRSS),
		AccumulatedVSS: common.DataCountFromMB(v.AccumulatedVSS),
		HighWaterRSS:   common.DataCountFromKB(v.HighWaterRSS),
		HighWaterVSS:   common.DataCountFromKB(v.HighWaterVSS),

		IORead:  common.DataCountFromBytes(v.IOReadBytes),
		IOWrite: common.DataCountFromBytes(v.IOWriteBytes),

		ReadSyscallCount:  common.Count(v.ReadSyscallCount),
		WriteSyscallCount: common.Count(v.WriteSyscallCount),

		BlockIORead:           common.DataCountFromBytes(v.BlockIOReadBytes),
		BlockIOWrite:          common.DataCountFromBytes(v.BlockIOWriteBytes),
		CancelledBlockIOWrite: common.DataCountFromBytes(v.CancelledBlockIOWriteBytes),

		CPUDelayCount: common.Count(v.CPUDelayCount),
		CPUDelayTotal: common.TimeCountFromNanos(v.CPUDelayTotal),

		MinorFaultCount: common.Count(v.MinorFaultCount),
		MajorFaultCount: common.Count(v.MajorFaultCount),

		FreePagesDelayCount: common.Count(v.FreePagesDelayCount),
		FreePagesDelayTotal: common.TimeCountFromNanos(v.FreePagesDelayTotal),

		BlockIODelayCount: common.Count(v.BlockIODelayCount),
		BlockIODelayTotal: common.TimeCountFromNanos(v.BlockIODelayTotal),

		SwapinDelayCount: common.Count(v.SwapinDelayCount),
		SwapinDelayTotal: common.TimeCountFromNanos(v.SwapinDelayTotal),

		VoluntaryContextSwitches:    common.Count(v.VoluntaryContextSwitches),
		NonvoluntaryContextSwitches: common.Count(v.NonvoluntaryContextSwitches),

		CPURuntimeRealTotal:    common.TimeCountFromNanos(v.CPURuntimeRealTotal),
		CPURuntimeVirtualTotal: common.TimeCountFromNanos(v.CPURuntimeVirtualTotal),

		UserTimeScaled:     common.TimeCountFromNanos(v.UserTimeScaled),
		SystemTimeScaled:   common.TimeCountFromNanos(v.SystemTimeScaled),
		RunRealTotalScaled: common.TimeCountFromNanos(v.RunRealTotalScaled),
	}
}

func v9ToStats(v RawV9) Stats {
	s := v8ToStats(v.RawV8)
	s.ThrashingDelayCount = common.Count(v.ThrashingDelayCount)
	s.ThrashingDelayTotal = common.TimeCountFromNanos(v.ThrashingDelayTotal)
	return s
}

func v10ToStats(v RawV10) Stats {
	s := v9ToStats(v.RawV9)
	if v.BeginTime64 != 0 {
		s.BeginTime = time.Unix(int64(v.BeginTime64), 0)
	}
	return s
}

func v11ToStats(v RawV11) Stats {
	s := v10ToStats(v.RawV10)
	s.MemoryCompactDelayCount = common.Count(v.MemoryCompactDelayCount)
	s.MemoryCompactDelayTotal = common.TimeCountFromNanos(v.MemoryCompactDelayTotal)
	return s
}
