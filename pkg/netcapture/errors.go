// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netcapture

import "fmt"

// UnknownVLANTagError reports an EtherType that looked like a VLAN tag
// position but isn't one this parser understands.
type UnknownVLANTagError struct{ Tag uint16 }

func (e *UnknownVLANTagError) Error() string {
	return fmt.Sprintf("netcapture: unknown vlan tag: 0x%04x", e.Tag)
}

// UnknownProtocolError reports an EtherType this parser doesn't dispatch on.
type UnknownProtocolError struct{ Protocol uint16 }

func (e *UnknownProtocolError) Error() string {
	return fmt.Sprintf("netcapture: unknown ethertype: 0x%04x", e.Protocol)
}

// UnsupportedProtocolError reports an L4 protocol number other than TCP/UDP.
type UnsupportedProtocolError struct{ Protocol uint8 }

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("netcapture: unsupported L4 protocol: %d", e.Protocol)
}

// Ipv4PacketLenError reports a frame too short to hold a fixed IPv4 header.
type Ipv4PacketLenError struct{ Len int }

func (e *Ipv4PacketLenError) Error() string {
	return fmt.Sprintf("netcapture: ipv4 packet too short: %d bytes", e.Len)
}

// Ipv4PacketVersionError reports a version nibble other than 4 in an IPv4 header.
type Ipv4PacketVersionError struct{ Version uint8 }

func (e *Ipv4PacketVersionError) Error() string {
	return fmt.Sprintf("netcapture: ipv4 version mismatch: 0x%x", e.Version)
}

// Ipv6PacketLenError reports a frame too short to hold a fixed IPv6 header.
type Ipv6PacketLenError struct{ Len int }

func (e *Ipv6PacketLenError) Error() string {
	return fmt.Sprintf("netcapture: ipv6 packet too short: %d bytes", e.Len)
}

// Ipv6PacketVersionError reports a version nibble other than 6 in an IPv6 header.
type Ipv6PacketVersionError struct{ Version uint8 }

func (e *Ipv6PacketVersionError) Error() string {
	return fmt.Sprintf("netcapture: ipv6 version mismatch: 0x%x", e.Version)
}

// Ipv6UnknownExtensionHeaderError reports a next-header value that is
// neither a known extension header nor TCP/UDP.
type Ipv6UnknownExtensionHeaderError struct{ HeaderType uint8 }

func (e *Ipv6UnknownExtensionHeaderError) Error() string {
	return fmt.Sprintf("netcapture: unknown ipv6 extension header type: %d", e.HeaderType)
}

// TruncatedPacketError reports a frame that ran out of bytes mid-parse.
type TruncatedPacketError struct{}

func (e *TruncatedPacketError) Error() string { return "netcapture: truncated packet" }

// ConvertError mirrors the reference client's generic conversion failure for
// malformed /proc/net fields (odd-length hex strings, non-numeric inodes).
type ConvertError struct{ Reason string }

func (e *ConvertError) Error() string { return "netcapture: convert error: " + e.Reason }

// PoisonedLock is the Go analogue of the reference client's poisoned-mutex
// fault: a capture or control goroutine panicked while holding ic.mu, so the
// interface's pending flow table is in an unverifiable state. A Go mutex
// cannot itself be poisoned, but the underlying data race it was protecting
// against is exactly as real, so this is treated as fatal the same way.
type PoisonedLock struct {
	Interface string
	Panic     any
}

func (e *PoisonedLock) Error() string {
	return fmt.Sprintf("netcapture: capture goroutine for %s panicked while holding its lock: %v", e.Interface, e.Panic)
}
