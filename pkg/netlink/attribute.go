// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netlink

import (
	"encoding/binary"
)

// GenericHeader is the compact family header that precedes the attribute
// list in a generic-netlink message payload.
type GenericHeader struct {
	Command  uint8
	Version  uint8
	Reserved uint16
}

const GenericHeaderLen = 4

// Attribute is a single decoded TLV: {u16 length, u16 type, payload},
// 4-byte aligned. Length includes the 4-byte attribute header.
type Attribute struct {
	Type    uint16
	Payload []byte
}

// EncodeGenericMessage builds a full generic-netlink payload: the compact
// family header followed by the encoded, 4-byte-aligned attribute list.
func EncodeGenericMessage(gh GenericHeader, attrs []Attribute) []byte {
	buf := make([]byte, GenericHeaderLen)
	buf[0] = gh.Command
	buf[1] = gh.Version
	binary.NativeEndian.PutUint16(buf[2:4], gh.Reserved)

	for _, a := range attrs {
		buf = appendAttribute(buf, a)
	}
	return buf
}

// appendAttribute appends one TLV-encoded, 4-byte-padded attribute to buf.
func appendAttribute(buf []byte, a Attribute) []byte {
	alLen := 4 + len(a.Payload)
	hdr := make([]byte, 4)
	binary.NativeEndian.PutUint16(hdr[0:2], uint16(alLen))
	binary.NativeEndian.PutUint16(hdr[2:4], a.Type)

	buf = append(buf, hdr...)
	buf = append(buf, a.Payload...)

	if pad := alignUp(len(buf), 4) - len(buf); pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	return buf
}

// DecodeGenericMessage splits a generic-netlink payload into its family
// header and top-level attribute list.
func DecodeGenericMessage(payload []byte) (GenericHeader, []Attribute, error) {
	if len(payload) < GenericHeaderLen {
		return GenericHeader{}, nil, &HeaderError{Len: len(payload), Wanted: GenericHeaderLen, Context: "generic header"}
	}

	gh := GenericHeader{
		Command:  payload[0],
		Version:  payload[1],
		Reserved: binary.NativeEndian.Uint16(payload[2:4]),
	}

	attrs, err := DecodeAttributes(payload[GenericHeaderLen:])
	if err != nil {
		return GenericHeader{}, nil, err
	}
	return gh, attrs, nil
}

// DecodeAttributes walks a TLV attribute list (top-level or nested),
// starting at offset 0 relative to buf, 4-byte-aligning between entries.
func DecodeAttributes(buf []byte) ([]Attribute, error) {
	var attrs []Attribute

	idx := 0
	for idx < len(buf) {
		// A trailing pad shorter than one header is not an attribute.
		if len(buf)-idx < 4 {
			break
		}

		alLen := int(binary.NativeEndian.Uint16(buf[idx : idx+2]))
		atType := binary.NativeEndian.Uint16(buf[idx+2 : idx+4])

		if alLen < 4 {
			return nil, &AttributeError{Offset: idx, Reason: "attribute length field shorter than header"}
		}
		if idx+alLen > len(buf) {
			return nil, &AttributeError{Offset: idx, Reason: "attribute length field exceeds buffer"}
		}

		payload := buf[idx+4 : idx+alLen]
		attrs = append(attrs, Attribute{Type: atType, Payload: payload})

		idx = alignUp(idx+alLen, 4)
	}

	return attrs, nil
}

// Find returns the first attribute of the given type, or false.
func Find(attrs []Attribute, attrType uint16) (Attribute, bool) {
	for _, a := range attrs {
		if a.Type == attrType {
			return a, true
		}
	}
	return Attribute{}, false
}

// EncodeString encodes a null-terminated string attribute payload, matching
// the kernel's CTRL_ATTR_FAMILY_NAME convention.
func EncodeString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// DecodeString decodes a null-terminated string attribute payload, stripping
// the trailing NUL byte.
func DecodeString(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	if payload[len(payload)-1] == 0 {
		return string(payload[:len(payload)-1])
	}
	return string(payload)
}
