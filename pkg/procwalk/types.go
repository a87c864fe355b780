// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package procwalk builds the host's process tree from /proc, joining each
// process against its TASKSTATS accounting (pkg/taskstats) and its captured
// network flows (pkg/netcapture). Grounded on the reference implementation's
// process.rs.
package procwalk

import (
	"fmt"

	"github.com/antimetal/netagent/pkg/common"
	"github.com/antimetal/netagent/pkg/netcapture"
)

// ConnectionStat accumulates send/receive counters for one socket
// connection, joining a UniConnectionStat and its directional reverse.
type ConnectionStat struct {
	Connection netcapture.Connection

	PacketSent common.Count
	PacketRecv common.Count

	TotalDataSent common.DataCount
	TotalDataRecv common.DataCount

	RealDataSent common.DataCount
	RealDataRecv common.DataCount
}

// Add returns the sum of two stats for the same connection. Panics on a
// connection-key mismatch, matching the reference client's assertion: two
// ConnectionStats are only ever combined when both were built from the same
// Connection key, so a mismatch indicates a caller bug rather than data to
// reconcile.
func (s ConnectionStat) Add(other ConnectionStat) ConnectionStat {
	if s.Connection != other.Connection {
		panic(fmt.Sprintf("procwalk: cannot add stats for different connections: %+v != %+v", s.Connection, other.Connection))
	}
	return ConnectionStat{
		Connection:    s.Connection,
		PacketSent:    s.PacketSent.Add(other.PacketSent),
		PacketRecv:    s.PacketRecv.Add(other.PacketRecv),
		TotalDataSent: s.TotalDataSent.Add(other.TotalDataSent),
		TotalDataRecv: s.TotalDataRecv.Add(other.TotalDataRecv),
		RealDataSent:  s.RealDataSent.Add(other.RealDataSent),
		RealDataRecv:  s.RealDataRecv.Add(other.RealDataRecv),
	}
}

// InterfaceStat aggregates every connection's stats observed on one network
// interface.
type InterfaceStat struct {
	Name string

	PacketSent common.Count
	PacketRecv common.Count

	TotalDataSent common.DataCount
	TotalDataRecv common.DataCount

	RealDataSent common.DataCount
	RealDataRecv common.DataCount

	ConnectionStats map[netcapture.Connection]ConnectionStat
}

// NewInterfaceStat returns an empty aggregate for the named interface.
func NewInterfaceStat(name string) *InterfaceStat {
	return &InterfaceStat{Name: name, ConnectionStats: make(map[netcapture.Connection]ConnectionStat)}
}

// AddConnectionStat folds a connection's stat into this interface's totals.
func (i *InterfaceStat) AddConnectionStat(cs ConnectionStat) {
	i.PacketSent = i.PacketSent.Add(cs.PacketSent)
	i.PacketRecv = i.PacketRecv.Add(cs.PacketRecv)
	i.TotalDataSent = i.TotalDataSent.Add(cs.TotalDataSent)
	i.TotalDataRecv = i.TotalDataRecv.Add(cs.TotalDataRecv)
	i.RealDataSent = i.RealDataSent.Add(cs.RealDataSent)
	i.RealDataRecv = i.RealDataRecv.Add(cs.RealDataRecv)

	if existing, ok := i.ConnectionStats[cs.Connection]; ok {
		i.ConnectionStats[cs.Connection] = existing.Add(cs)
	} else {
		i.ConnectionStats[cs.Connection] = cs
	}
}

// NetworkStat aggregates every interface's stats into a process-wide total.
type NetworkStat struct {
	PacketSent common.Count
	PacketRecv common.Count

	TotalDataSent common.DataCount
	TotalDataRecv common.DataCount

	RealDataSent common.DataCount
	RealDataRecv common.DataCount

	InterfaceStats map[string]*InterfaceStat
}

// NewNetworkStat returns an empty process-wide network aggregate.
func NewNetworkStat() *NetworkStat {
	return &NetworkStat{InterfaceStats: make(map[string]*InterfaceStat)}
}

// AddConnectionStat folds a connection's stat into the named interface's
// aggregate (creating it on first use) and into the process-wide total.
func (n *NetworkStat) AddConnectionStat(iname string, cs ConnectionStat) {
	n.PacketSent = n.PacketSent.Add(cs.PacketSent)
	n.PacketRecv = n.PacketRecv.Add(cs.PacketRecv)
	n.TotalDataSent = n.TotalDataSent.Add(cs.TotalDataSent)
	n.TotalDataRecv = n.TotalDataRecv.Add(cs.TotalDataRecv)
	n.RealDataSent = n.RealDataSent.Add(cs.RealDataSent)
	n.RealDataRecv = n.RealDataRecv.Add(cs.RealDataRecv)

	iface, ok := n.InterfaceStats[iname]
	if !ok {
		iface = NewInterfaceStat(iname)
		n.InterfaceStats[iname] = iface
	}
	iface.AddConnectionStat(cs)
}

// ThreadStat is one thread's accounting, pulled directly from a single
// taskstats.Stats read.
type ThreadStat struct {
	Timestamp common.Timestamp

	TotalSystemCPUTime common.TimeCount
	TotalUserCPUTime   common.TimeCount
	TotalCPUTime       common.TimeCount

	TotalIORead  common.DataCount
	TotalIOWrite common.DataCount

	TotalBlockIORead  common.DataCount
	TotalBlockIOWrite common.DataCount
}

// ProcessStat accumulates ThreadStat across every thread of a process, plus
// process-wide memory figures and the joined NetworkStat.
type ProcessStat struct {
	Timestamp common.Timestamp

	TotalSystemCPUTime common.TimeCount
	TotalUserCPUTime   common.TimeCount
	TotalCPUTime       common.TimeCount

	TotalRSS  common.DataCount
	TotalVSS  common.DataCount
	TotalSwap common.DataCount

	TotalIORead  common.DataCount
	TotalIOWrite common.DataCount

	TotalBlockIORead  common.DataCount
	TotalBlockIOWrite common.DataCount

	NetStat NetworkStat
}

// NewProcessStat returns a zero-valued stat stamped with the current time.
func NewProcessStat() ProcessStat {
	return ProcessStat{Timestamp: common.Now(), NetStat: *NewNetworkStat()}
}

// AddThreadStat folds one thread's accounting into the process total. CPU
// and I/O figures accumulate across threads; RSS/VSS/swap and the network
// stat are process-wide, not per-thread, and are left untouched.
func (p *ProcessStat) AddThreadStat(t ThreadStat) {
	p.TotalSystemCPUTime = p.TotalSystemCPUTime.Add(t.TotalSystemCPUTime)
	p.TotalUserCPUTime = p.TotalUserCPUTime.Add(t.TotalUserCPUTime)
	p.TotalCPUTime = p.TotalCPUTime.Add(t.TotalCPUTime)
	p.TotalIORead = p.TotalIORead.Add(t.TotalIORead)
	p.TotalIOWrite = p.TotalIOWrite.Add(t.TotalIOWrite)
	p.TotalBlockIORead = p.TotalBlockIORead.Add(t.TotalBlockIORead)
	p.TotalBlockIOWrite = p.TotalBlockIOWrite.Add(t.TotalBlockIOWrite)
}

// Thread identifies one thread both inside and outside its PID namespace.
type Thread struct {
	Tid common.Tid
	Pid common.Pid

	RealTid common.Tid
	RealPid common.Pid

	Stat ThreadStat
}

// Process is one process's full identity, credentials, memory/CPU/network
// accounting, thread list and child-process references, as built by
// GetRealProc.
type Process struct {
	Pid       common.Pid
	ParentPid common.Pid

	Uid           common.Uid
	EffectiveUid  common.Uid
	SavedUid      common.Uid
	FsUid         common.Uid
	Gid           common.Gid
	EffectiveGid  common.Gid
	SavedGid      common.Gid
	FsGid         common.Gid

	RealPid       common.Pid
	RealParentPid common.Pid

	RealUid          common.Uid
	RealEffectiveUid common.Uid
	RealSavedUid     common.Uid
	RealFsUid        common.Uid
	RealGid          common.Gid
	RealEffectiveGid common.Gid
	RealSavedGid     common.Gid
	RealFsGid        common.Gid

	ExecPath string
	Command  string

	Stat    ProcessStat
	Threads []Thread

	ChildRealPids []common.Pid
}
