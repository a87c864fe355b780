// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netlink

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Conn is a generic-netlink (NETLINK_GENERIC) datagram socket bound to a
// kernel-assigned address. One Conn must be owned by a single goroutine at a
// time (spec §5: "a second concurrent reader on the same socket is
// forbidden").
type Conn struct {
	fd      int
	seq     uint32
	timeout time.Duration
}

// Dial opens a NETLINK_GENERIC socket and binds it to an auto-assigned
// address, as original_source's NetlinkConnection::new does via
// Socket::new(protocols::NETLINK_GENERIC) + bind_auto().
func Dial(recvTimeout time.Duration) (*Conn, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_GENERIC)
	if err != nil {
		return nil, fmt.Errorf("netlink: socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink: bind: %w", err)
	}

	if recvTimeout > 0 {
		tv := unix.NsecToTimeval(recvTimeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("netlink: set recv timeout: %w", err)
		}
	}

	return &Conn{fd: fd, timeout: recvTimeout}, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// NextSeq returns the next request sequence number for this connection. A
// Conn is single-owner (see the Conn doc comment), so a plain counter is
// sufficient; no atomics are needed.
func (c *Conn) NextSeq() uint32 {
	c.seq++
	return c.seq
}

// Send writes an already-encoded message to the kernel.
func (c *Conn) Send(m *Message) error {
	dest := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	return unix.Sendto(c.fd, m.Encode(), 0, dest)
}

// Recv reads and decodes the next message. A recv timeout surfaces as a
// retryable error, matching the control task's bounded-timeout receive
// pattern described in spec §5.
func (c *Conn) Recv() (*Message, error) {
	buf := make([]byte, 1<<16)
	n, _, err := unix.Recvfrom(c.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, newRetryable(fmt.Errorf("netlink: recv timeout: %w", err))
		}
		return nil, fmt.Errorf("netlink: recvfrom: %w", err)
	}
	return Decode(buf[:n])
}
