// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package netcapture parses captured packets into per-flow counters and
// joins them against /proc/net's socket inode table. Grounded on the
// reference implementation's network_stat.rs.
package netcapture

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/antimetal/netagent/pkg/common"
)

// ConnType distinguishes the two L4 protocols this capture pipeline tracks.
type ConnType uint8

const (
	ConnTCP ConnType = iota
	ConnUDP
)

func (t ConnType) String() string {
	if t == ConnUDP {
		return "udp"
	}
	return "tcp"
}

// UniConnection is a directional flow key: one endpoint is "src", the other
// "dest", with no notion of which side is local. Capture observes both
// directions of a conversation as distinct UniConnections.
type UniConnection struct {
	SrcAddr  netip.Addr
	SrcPort  uint16
	DestAddr netip.Addr
	DestPort uint16
	Type     ConnType
}

// Reverse swaps src/dest, turning an outbound observation into the key for
// its inbound counterpart (and vice versa).
func (u UniConnection) Reverse() UniConnection {
	return UniConnection{SrcAddr: u.DestAddr, SrcPort: u.DestPort, DestAddr: u.SrcAddr, DestPort: u.SrcPort, Type: u.Type}
}

// Connection is a socket-oriented flow key: local/remote rather than
// src/dest, matching how /proc/net/{tcp,udp}* reports a socket's own view of
// a connection.
type Connection struct {
	LocalAddr  netip.Addr
	LocalPort  uint16
	RemoteAddr netip.Addr
	RemotePort uint16
	Type       ConnType
}

// ForwardKey is the UniConnection observed from local to remote.
func (c Connection) ForwardKey() UniConnection {
	return UniConnection{SrcAddr: c.LocalAddr, SrcPort: c.LocalPort, DestAddr: c.RemoteAddr, DestPort: c.RemotePort, Type: c.Type}
}

// ReverseKey is the UniConnection observed from remote to local.
func (c Connection) ReverseKey() UniConnection {
	return c.ForwardKey().Reverse()
}

// UniConnectionStat accumulates packet and byte counters for one directional
// flow. TotalDataCount is the on-wire frame length (including headers);
// RealDataCount is the L4 payload length alone.
type UniConnectionStat struct {
	UniConn        UniConnection
	PacketCount    common.Count
	TotalDataCount common.DataCount
	RealDataCount  common.DataCount
	used           bool
}

// NewUniConnectionStat returns a zero-valued stat for uc, used as the
// fallback when a process correlates against a flow capture never observed.
func NewUniConnectionStat(uc UniConnection) UniConnectionStat {
	return UniConnectionStat{UniConn: uc}
}

// Add returns the element-wise sum of two stats for the same flow. It
// panics if the flow keys differ, matching the reference client's assertion
// (merging counters across different flows would silently corrupt data).
func (s UniConnectionStat) Add(other UniConnectionStat) UniConnectionStat {
	if s.UniConn != other.UniConn {
		panic(fmt.Sprintf("netcapture: cannot add stats for different flows: %+v != %+v", s.UniConn, other.UniConn))
	}
	return UniConnectionStat{
		UniConn:        s.UniConn,
		PacketCount:    s.PacketCount.Add(other.PacketCount),
		TotalDataCount: s.TotalDataCount.Add(other.TotalDataCount),
		RealDataCount:  s.RealDataCount.Add(other.RealDataCount),
	}
}

// AddAssign accumulates other into s in place.
func (s *UniConnectionStat) AddAssign(other UniConnectionStat) {
	*s = s.Add(other)
}

// InterfaceRawStat is one network interface's in-flight flow table.
type InterfaceRawStat struct {
	Name          string
	Description   string
	UniConnStats  map[UniConnection]UniConnectionStat
}

// NewInterfaceRawStat returns an empty per-interface flow table.
func NewInterfaceRawStat(name, description string) *InterfaceRawStat {
	return &InterfaceRawStat{Name: name, Description: description, UniConnStats: make(map[UniConnection]UniConnectionStat)}
}

// GetUniConnStat returns the stat for uc, marking it used (so a later
// RemoveUsedUniConnStats call can evict it once every consumer has read it).
func (r *InterfaceRawStat) GetUniConnStat(uc UniConnection) (UniConnectionStat, bool) {
	s, ok := r.UniConnStats[uc]
	if !ok {
		return UniConnectionStat{}, false
	}
	s.used = true
	r.UniConnStats[uc] = s
	return s, true
}

// RemoveUsedUniConnStats drops every flow entry a correlation pass has
// already consumed, bounding memory growth for long-lived flows.
func (r *InterfaceRawStat) RemoveUsedUniConnStats() {
	for k, v := range r.UniConnStats {
		if v.used {
			delete(r.UniConnStats, k)
		}
	}
}

// NetworkRawStat is the full snapshot handed from the capture engine to the
// process correlator: a socket-inode lookup table plus every interface's
// flow counters.
type NetworkRawStat struct {
	mu          sync.Mutex
	connLookup  map[common.Inode]Connection
	inameLookup map[Connection]string
	ifaces      map[string]*InterfaceRawStat
}

// NewNetworkRawStat returns an empty snapshot.
func NewNetworkRawStat() *NetworkRawStat {
	return &NetworkRawStat{
		connLookup:  make(map[common.Inode]Connection),
		inameLookup: make(map[Connection]string),
		ifaces:      make(map[string]*InterfaceRawStat),
	}
}

// AddConnLookup registers the socket inode → Connection mapping discovered
// while scanning /proc/net. Safe to call concurrently: the four
// /proc/net/{tcp,tcp6,udp,udp6} scans run as parallel goroutines.
func (n *NetworkRawStat) AddConnLookup(inode common.Inode, c Connection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connLookup[inode] = c
}

// AddInameLookup records which interface's subnet a connection's local
// address falls within.
func (n *NetworkRawStat) AddInameLookup(c Connection, iname string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inameLookup[c] = iname
}

// LookupConnection resolves a socket inode to its Connection, if any socket
// in /proc/net carried that inode.
func (n *NetworkRawStat) LookupConnection(inode common.Inode) (Connection, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.connLookup[inode]
	return c, ok
}

// LookupInterfaceName resolves which interface a Connection's local address
// belongs to.
func (n *NetworkRawStat) LookupInterfaceName(c Connection) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	name, ok := n.inameLookup[c]
	return name, ok
}

// Interface returns the named interface's flow table, if the capture engine
// has one.
func (n *NetworkRawStat) Interface(iname string) (*InterfaceRawStat, bool) {
	i, ok := n.ifaces[iname]
	return i, ok
}

// SetInterface installs (or replaces) an interface's flow table in the
// snapshot.
func (n *NetworkRawStat) SetInterface(iname string, stat *InterfaceRawStat) {
	n.ifaces[iname] = stat
}

// RemoveUnusedUniConnectionStats evicts every consumed flow entry across all
// interfaces, matching the reference client's periodic maintenance pass.
func (n *NetworkRawStat) RemoveUnusedUniConnectionStats() {
	for _, iface := range n.ifaces {
		iface.RemoveUsedUniConnStats()
	}
}

// FlowCount returns the total number of per-interface flow entries
// currently held across the snapshot, used by the scheduler to report its
// flows-per-snapshot metric.
func (n *NetworkRawStat) FlowCount() int {
	count := 0
	for _, iface := range n.ifaces {
		count += len(iface.UniConnStats)
	}
	return count
}
