// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package netlink implements the generic-netlink wire transport: message
// headers, nested TLV attributes, and the socket that moves them to and
// from the kernel. Wire layouts are grounded on the reference
// implementation's netlink.rs and netlink/generic.rs.
package netlink

import (
	"encoding/binary"
)

// Standard netlink message types (linux/netlink.h).
const (
	TypeNoop    uint16 = 1
	TypeError   uint16 = 2
	TypeDone    uint16 = 3
	TypeOverrun uint16 = 4
)

// Flag is the raw message-flags bitmask. The bit positions are shared
// between "request" modifiers (root/match/atomic/dump) and "new object"
// modifiers (replace/excl/create/append); which meaning applies depends on
// the message type, exactly as in the kernel headers.
type Flag uint16

const (
	FlagRequest         Flag = 0x01
	FlagMultipart       Flag = 0x02
	FlagAck             Flag = 0x04
	FlagEcho            Flag = 0x08
	FlagDumpInconsistent Flag = 0x10
	FlagDumpFiltered    Flag = 0x20

	// Request modifiers (GET).
	FlagRoot   Flag = 0x100
	FlagMatch  Flag = 0x200
	FlagAtomic Flag = 0x400
	FlagDump   Flag = FlagRoot | FlagMatch

	// New-request modifiers (NEW).
	FlagReplace Flag = 0x100
	FlagExcl    Flag = 0x200
	FlagCreate  Flag = 0x400
	FlagAppend  Flag = 0x800
)

// knownFlagBits is the union of every bit this transport recognises. A
// decoded header whose flags contain any bit outside this mask is rejected
// with UnknownFlagsError, per spec §4.A.
const knownFlagBits = uint16(FlagRequest | FlagMultipart | FlagAck | FlagEcho |
	FlagDumpInconsistent | FlagDumpFiltered |
	FlagRoot | FlagMatch | FlagAtomic | FlagAppend)

// Header is the fixed 16-byte netlink message header, host byte order.
type Header struct {
	Len   uint32 // total length including header
	Type  uint16
	Flags uint16
	Seq   uint32
	Pid   uint32
}

const HeaderLen = 16

// Message is a decoded (or to-be-encoded) generic netlink message: header
// plus opaque payload bytes (the generic-netlink family header + attributes,
// decoded separately by the caller).
type Message struct {
	Header  Header
	Payload []byte
}

// Encode serializes the header and payload, 4-byte aligning the total
// length as required by the wire format.
func (m *Message) Encode() []byte {
	total := HeaderLen + len(m.Payload)
	aligned := alignUp(total, 4)
	buf := make([]byte, aligned)

	binary.NativeEndian.PutUint32(buf[0:4], uint32(aligned))
	binary.NativeEndian.PutUint16(buf[4:6], m.Header.Type)
	binary.NativeEndian.PutUint16(buf[6:8], m.Header.Flags)
	binary.NativeEndian.PutUint32(buf[8:12], m.Header.Seq)
	binary.NativeEndian.PutUint32(buf[12:16], m.Header.Pid)
	copy(buf[HeaderLen:], m.Payload)

	return buf
}

// Decode parses a single netlink message out of buf. If the message type is
// the standard error type, the leading signed 32-bit payload integer is
// returned as a *KernelError instead of a parsed Message.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < HeaderLen {
		return nil, &HeaderError{Len: len(buf), Wanted: HeaderLen, Context: "message header"}
	}

	h := Header{
		Len:   binary.NativeEndian.Uint32(buf[0:4]),
		Type:  binary.NativeEndian.Uint16(buf[4:6]),
		Flags: binary.NativeEndian.Uint16(buf[6:8]),
		Seq:   binary.NativeEndian.Uint32(buf[8:12]),
		Pid:   binary.NativeEndian.Uint32(buf[12:16]),
	}

	if int(h.Len) > len(buf) {
		return nil, &HeaderError{Len: len(buf), Wanted: int(h.Len), Context: "message length field exceeds buffer"}
	}

	if h.Flags&^knownFlagBits != 0 {
		return nil, &UnknownFlagsError{Bits: h.Flags &^ knownFlagBits}
	}

	payload := buf[HeaderLen:h.Len]

	if h.Type == TypeError {
		if len(payload) < 4 {
			return nil, &HeaderError{Len: len(payload), Wanted: 4, Context: "error payload"}
		}
		code := int32(binary.NativeEndian.Uint32(payload[0:4]))
		return nil, &KernelError{Code: code}
	}

	return &Message{Header: h, Payload: payload}, nil
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n, align int) int {
	return ((n + align - 1) / align) * align
}
