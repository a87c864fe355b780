// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netcapture

import (
	"encoding/binary"
	"net/netip"

	"github.com/antimetal/netagent/pkg/common"
)

const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8

	protoTCP = 0x06
	protoUDP = 0x11

	ipv4FixedHeaderSize = 20
	ipv6FixedHeaderSize = 40
)

// ipv6ExtensionHeaderTypes are next-header values that introduce another
// extension header rather than the L4 payload.
var ipv6ExtensionHeaderTypes = map[uint8]bool{
	0: true, 43: true, 44: true, 51: true, 50: true,
	60: true, 135: true, 139: true, 140: true, 253: true, 254: true,
}

var ipv6NormalPayloadTypes = map[uint8]bool{protoTCP: true, protoUDP: true}

func connTypeFromProtocol(proto uint8) (ConnType, error) {
	switch proto {
	case protoTCP:
		return ConnTCP, nil
	case protoUDP:
		return ConnUDP, nil
	default:
		return 0, &UnsupportedProtocolError{Protocol: proto}
	}
}

// ParseIPv4Packet parses an IPv4 datagram (the slice starting at the IP
// header, i.e. right after the Ethernet/VLAN + EtherType bytes) into a
// single-packet flow observation, matching parse_ipv4_packet.
func ParseIPv4Packet(data []byte) (UniConnectionStat, error) {
	if len(data) < ipv4FixedHeaderSize {
		return UniConnectionStat{}, &Ipv4PacketLenError{Len: len(data)}
	}
	if data[0]&0xf0 != 0x40 {
		return UniConnectionStat{}, &Ipv4PacketVersionError{Version: data[0] & 0xf0}
	}

	headerLen := int(data[0]&0x0f) * 4
	payloadLength := int(binary.BigEndian.Uint16(data[2:4])) - headerLen

	connType, err := connTypeFromProtocol(data[9])
	if err != nil {
		return UniConnectionStat{}, err
	}

	srcAddr := netip.AddrFrom4([4]byte{data[12], data[13], data[14], data[15]})
	destAddr := netip.AddrFrom4([4]byte{data[16], data[17], data[18], data[19]})

	if headerLen+4 > len(data) {
		return UniConnectionStat{}, &TruncatedPacketError{}
	}
	srcPort := binary.BigEndian.Uint16(data[headerLen : headerLen+2])
	destPort := binary.BigEndian.Uint16(data[headerLen+2 : headerLen+4])

	return UniConnectionStat{
		UniConn:        UniConnection{SrcAddr: srcAddr, SrcPort: srcPort, DestAddr: destAddr, DestPort: destPort, Type: connType},
		PacketCount:    common.NewCount(1),
		RealDataCount:  common.DataCountFromBytes(uint64(payloadLength)),
	}, nil
}

// ParseIPv6Packet parses an IPv6 datagram, walking the extension-header
// chain to find the true L4 protocol and port offset, matching
// parse_ipv6_packet.
func ParseIPv6Packet(data []byte) (UniConnectionStat, error) {
	if len(data) < ipv6FixedHeaderSize {
		return UniConnectionStat{}, &Ipv6PacketLenError{Len: len(data)}
	}
	if data[0]&0xf0 != 0x60 {
		return UniConnectionStat{}, &Ipv6PacketVersionError{Version: data[0] & 0xf0}
	}

	payloadLength := int(binary.BigEndian.Uint16(data[4:6]))

	var src, dest [16]byte
	copy(src[:], data[8:24])
	copy(dest[:], data[24:40])
	srcAddr := netip.AddrFrom16(src)
	destAddr := netip.AddrFrom16(dest)

	nextHeaderType := data[6]
	currIdx := ipv6FixedHeaderSize
	for {
		if ipv6NormalPayloadTypes[nextHeaderType] {
			break
		}
		if !ipv6ExtensionHeaderTypes[nextHeaderType] {
			return UniConnectionStat{}, &Ipv6UnknownExtensionHeaderError{HeaderType: nextHeaderType}
		}
		if currIdx+2 > len(data) {
			return UniConnectionStat{}, &TruncatedPacketError{}
		}
		nextHeaderType = data[currIdx]
		currIdx += int(data[currIdx+1])
	}

	connType, err := connTypeFromProtocol(nextHeaderType)
	if err != nil {
		return UniConnectionStat{}, err
	}

	if currIdx+4 > len(data) {
		return UniConnectionStat{}, &TruncatedPacketError{}
	}
	srcPort := binary.BigEndian.Uint16(data[currIdx : currIdx+2])
	destPort := binary.BigEndian.Uint16(data[currIdx+2 : currIdx+4])

	realDataCount := payloadLength - (currIdx - ipv6FixedHeaderSize)

	return UniConnectionStat{
		UniConn:       UniConnection{SrcAddr: srcAddr, SrcPort: srcPort, DestAddr: destAddr, DestPort: destPort, Type: connType},
		PacketCount:   common.NewCount(1),
		RealDataCount: common.DataCountFromBytes(uint64(realDataCount)),
	}, nil
}

// ParseFrame parses a captured Ethernet frame (stripping any 802.1Q/QinQ
// VLAN tags) into a single-packet flow observation. captureLen is the
// on-wire frame length reported by the capture backend, used for
// TotalDataCount independently of the parsed L3/L4 payload length, matching
// get_uni_conn_stat.
func ParseFrame(frame []byte, captureLen int) (UniConnectionStat, error) {
	currIdx := 12
	for {
		if currIdx+2 > len(frame) {
			return UniConnectionStat{}, &TruncatedPacketError{}
		}
		tag := binary.BigEndian.Uint16(frame[currIdx : currIdx+2])
		switch tag {
		case etherTypeIPv4, etherTypeIPv6:
			goto dispatch
		case etherTypeVLAN, etherTypeQinQ:
			currIdx += 4
		default:
			return UniConnectionStat{}, &UnknownVLANTagError{Tag: tag}
		}
	}

dispatch:
	data := frame[currIdx:]
	if len(data) < 2 {
		return UniConnectionStat{}, &TruncatedPacketError{}
	}

	var stat UniConnectionStat
	var err error
	switch binary.BigEndian.Uint16(data[0:2]) {
	case etherTypeIPv4:
		stat, err = ParseIPv4Packet(data[2:])
	case etherTypeIPv6:
		stat, err = ParseIPv6Packet(data[2:])
	default:
		return UniConnectionStat{}, &UnknownProtocolError{Protocol: binary.BigEndian.Uint16(data[0:2])}
	}
	if err != nil {
		return UniConnectionStat{}, err
	}

	stat.TotalDataCount = common.DataCountFromBytes(uint64(captureLen))
	return stat, nil
}
