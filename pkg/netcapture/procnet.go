// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netcapture

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/antimetal/netagent/pkg/common"
	"golang.org/x/sync/errgroup"
)

// Interface describes one local network interface's identity and bound
// addresses, as discovered by the capture engine via pcap device
// enumeration.
type Interface struct {
	Name        string
	Description string
	Addresses   []InterfaceAddress
}

// InterfaceAddress is one address/netmask pair bound to an interface.
type InterfaceAddress struct {
	Addr    netip.Addr
	Netmask netip.Addr
}

// procNetPaths are overridable for testing and for the HOST_PROC
// conventions the rest of this module follows.
var procNetPaths = struct {
	TCP, TCP6, UDP, UDP6 string
}{
	TCP:  "/proc/net/tcp",
	TCP6: "/proc/net/tcp6",
	UDP:  "/proc/net/udp",
	UDP6: "/proc/net/udp6",
}

// BuildSocketTable scans /proc/net/{tcp,tcp6,udp,udp6} and populates raw's
// inode lookup and interface-attribution tables, matching control_thread's
// per-tick inode-table build. The four files are independent, so they are
// scanned concurrently; NetworkRawStat's lookup tables are mutex-guarded to
// make this safe.
func BuildSocketTable(raw *NetworkRawStat, ifaces []Interface) error {
	specs := []struct {
		path     string
		connType ConnType
		v6       bool
	}{
		{procNetPaths.TCP, ConnTCP, false},
		{procNetPaths.TCP6, ConnTCP, true},
		{procNetPaths.UDP, ConnUDP, false},
		{procNetPaths.UDP6, ConnUDP, true},
	}

	var g errgroup.Group
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			return scanProcNetFile(spec.path, spec.connType, spec.v6, raw, ifaces)
		})
	}
	return g.Wait()
}

func scanProcNetFile(path string, connType ConnType, v6 bool, raw *NetworkRawStat, ifaces []Interface) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("netcapture: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line
			continue
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := parseProcNetLine(line, connType, v6, raw, ifaces); err != nil {
			continue
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("netcapture: scan %s: %w", path, err)
	}
	return nil
}

func parseProcNetLine(line string, connType ConnType, v6 bool, raw *NetworkRawStat, ifaces []Interface) error {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return &ConvertError{Reason: "too few fields in /proc/net line"}
	}

	local := strings.Split(fields[1], ":")
	remote := strings.Split(fields[2], ":")
	if len(local) != 2 || len(remote) != 2 {
		return &ConvertError{Reason: "malformed address:port field"}
	}

	localAddr, err := parseHexAddr(local[0], v6)
	if err != nil {
		return err
	}
	localPort, err := parseHexPort(local[1])
	if err != nil {
		return err
	}
	remoteAddr, err := parseHexAddr(remote[0], v6)
	if err != nil {
		return err
	}
	remotePort, err := parseHexPort(remote[1])
	if err != nil {
		return err
	}

	if localAddr.IsUnspecified() || remoteAddr.IsUnspecified() {
		return nil
	}

	inode, err := common.ParseInode(fields[9])
	if err != nil {
		return &ConvertError{Reason: err.Error()}
	}

	conn := Connection{LocalAddr: localAddr, LocalPort: localPort, RemoteAddr: remoteAddr, RemotePort: remotePort, Type: connType}
	raw.AddConnLookup(inode, conn)

	for _, iface := range ifaces {
		for _, addr := range iface.Addresses {
			if addrInNetwork(localAddr, addr.Addr, addr.Netmask) {
				raw.AddInameLookup(conn, iface.Name)
				goto matched
			}
		}
	}
matched:
	return nil
}

// parseHexAddr decodes a /proc/net address field. IPv4 addresses are a
// single 4-byte word rendered in host byte order, so the whole field is
// reversed to recover network order. IPv6 addresses are four 32-bit words
// rendered the same way, but the words themselves stay in their original
// order on disk — only the bytes within each word are reversed. Reversing
// the full 16-byte span as one block (as a naive port of
// parse_hex_str(..., Little) would) also swaps the four words with each
// other, corrupting the address.
func parseHexAddr(hexStr string, v6 bool) (netip.Addr, error) {
	if v6 {
		b, err := parseHexWordsLE(hexStr)
		if err != nil {
			return netip.Addr{}, err
		}
		if len(b) != 16 {
			return netip.Addr{}, &ConvertError{Reason: "expected 16-byte ipv6 address"}
		}
		var a [16]byte
		copy(a[:], b)
		return netip.AddrFrom16(a), nil
	}

	b, err := parseHexBytes(hexStr, true)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(b) != 4 {
		return netip.Addr{}, &ConvertError{Reason: "expected 4-byte ipv4 address"}
	}
	var a [4]byte
	copy(a[:], b)
	return netip.AddrFrom4(a), nil
}

// parseHexWordsLE decodes an IPv6 /proc/net address field as a sequence of
// independent 4-byte words, each little-endian relative to its on-disk byte
// order, per spec.md's "little-endian per 32-bit word" rule. Word order is
// preserved; only the bytes inside each word are reversed.
func parseHexWordsLE(s string) ([]byte, error) {
	if len(s)%8 != 0 {
		return nil, &ConvertError{Reason: "ipv6 hex string not a multiple of 4-byte words: " + s}
	}
	out := make([]byte, 0, len(s)/2)
	for w := 0; w < len(s); w += 8 {
		word, err := parseHexBytes(s[w:w+8], true)
		if err != nil {
			return nil, err
		}
		out = append(out, word...)
	}
	return out, nil
}

// parseHexPort decodes a /proc/net port field, which is big-endian (unlike
// the address field), matching parse_hex_str(..., Big).
func parseHexPort(hexStr string) (uint16, error) {
	b, err := parseHexBytes(hexStr, false)
	if err != nil {
		return 0, err
	}
	if len(b) != 2 {
		return 0, &ConvertError{Reason: "expected 2-byte port"}
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// parseHexBytes decodes a hex string into bytes, reversing byte order when
// little is true. Matches common::parse_hex_str.
func parseHexBytes(s string, little bool) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, &ConvertError{Reason: "odd-length hex string: " + s}
	}
	n := len(s) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, &ConvertError{Reason: err.Error()}
		}
		if little {
			out[n-1-i] = byte(v)
		} else {
			out[i] = byte(v)
		}
	}
	return out, nil
}

// addrInNetwork reports whether addr falls within the subnet described by
// netAddr/netmask, matching common::addr_in_network. Mismatched address
// families are never in-network.
func addrInNetwork(addr, netAddr, netmask netip.Addr) bool {
	if addr.Is4() != netAddr.Is4() || addr.Is4() != netmask.Is4() {
		return false
	}
	a := addr.AsSlice()
	n := netAddr.AsSlice()
	m := netmask.AsSlice()
	for i := range a {
		if a[i]&m[i] != n[i]&m[i] {
			return false
		}
	}
	return true
}
