// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package taskstats

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/antimetal/netagent/pkg/common"
	"github.com/antimetal/netagent/pkg/netlink"
)

const familyName = "TASKSTATS"

// Taskstats command-family commands.
const (
	cmdGet uint8 = 1
)

// Taskstats command attribute types (request side).
const (
	attrCmdPid  uint16 = 1 // thread id
	attrCmdTgid uint16 = 2 // process id
)

// Taskstats result attribute types (response side).
const (
	attrResultPid     uint16 = 1
	attrResultTgid    uint16 = 2
	attrResultStats   uint16 = 3
	attrResultAggrPid uint16 = 4
	attrResultAggrTgid uint16 = 5
)

// Client is a bound generic-netlink connection to the kernel's TASKSTATS
// family, grounded on the reference client's TaskStatsConnection.
type Client struct {
	conn     *netlink.Conn
	familyID uint16
}

// NewClient dials a generic-netlink socket and resolves the TASKSTATS
// family's numeric message type.
func NewClient(recvTimeout time.Duration) (*Client, error) {
	conn, err := netlink.Dial(recvTimeout)
	if err != nil {
		return nil, fmt.Errorf("taskstats: dial: %w", err)
	}

	familyID, err := netlink.ResolveFamily(conn, familyName)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("taskstats: resolve family: %w", err)
	}

	return &Client{conn: conn, familyID: familyID}, nil
}

// Close releases the underlying netlink socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetThreadStats fetches per-thread accounting for realTid, the thread id
// as seen by the kernel (i.e. in the init PID namespace), matching
// get_thread_taskstats.
func (c *Client) GetThreadStats(realTid common.Tid) (Stats, error) {
	payload := EncodeGenericMessage(c.familyID, cmdGet, attrCmdPid, uint32(realTid))

	resp, err := c.request(payload)
	if err != nil {
		return Stats{}, err
	}

	tid, stats, found, err := decodeAggregate(resp, attrResultAggrPid)
	if err != nil {
		return Stats{}, err
	}
	if !found {
		return Stats{}, &NoAggregateAttributeError{Want: "AGGR_PID"}
	}
	if common.Tid(tid) != realTid {
		return Stats{}, &WrongTidError{Got: common.Tid(tid), Want: realTid}
	}

	return stats.ToStats(), nil
}

// GetProcessStats fetches per-process (thread-group-aggregated) accounting
// for realPid, matching GetProcessTaskStats.
func (c *Client) GetProcessStats(realPid common.Pid) (Stats, error) {
	payload := EncodeGenericMessage(c.familyID, cmdGet, attrCmdTgid, uint32(realPid))

	resp, err := c.request(payload)
	if err != nil {
		return Stats{}, err
	}

	pid, stats, found, err := decodeAggregate(resp, attrResultAggrTgid)
	if err != nil {
		return Stats{}, err
	}
	if !found {
		return Stats{}, &NoAggregateAttributeError{Want: "AGGR_TGID"}
	}
	if common.Pid(pid) != realPid {
		return Stats{}, &WrongPidError{Got: common.Pid(pid), Want: realPid}
	}

	return stats.ToStats(), nil
}

func (c *Client) request(payload []byte) (*netlink.Message, error) {
	req := &netlink.Message{
		Header: netlink.Header{
			Type:  c.familyID,
			Flags: uint16(netlink.FlagRequest),
			Seq:   c.conn.NextSeq(),
		},
		Payload: payload,
	}

	if err := c.conn.Send(req); err != nil {
		return nil, fmt.Errorf("taskstats: send: %w", err)
	}

	resp, err := c.conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("taskstats: recv: %w", err)
	}
	return resp, nil
}

// EncodeGenericMessage builds a taskstats GET request payload: the generic
// header plus a single command attribute carrying the target tid/pid.
func EncodeGenericMessage(familyID uint16, command uint8, attrType uint16, id uint32) []byte {
	idPayload := make([]byte, 4)
	binary.NativeEndian.PutUint32(idPayload, id)

	return netlink.EncodeGenericMessage(
		netlink.GenericHeader{Command: command},
		[]netlink.Attribute{{Type: attrType, Payload: idPayload}},
	)
}

// decodeAggregate extracts the AGGR_PID/AGGR_TGID attribute payload and
// decodes its nested tid/pid value and trailing Raw taskstats struct.
//
// Wire layout of the nested payload: the kernel wraps the u32 id in its own
// 4-byte-header nested attribute (so the value itself starts at offset 4
// within the outer payload), followed immediately — still 4-byte aligned —
// by a nested STATS attribute whose own payload (the Raw struct) starts at
// offset 12, matching TaskStatsResultAttribute::try_from's payload[4..8] /
// payload[12..] slicing.
func decodeAggregate(resp *netlink.Message, wantAttrType uint16) (id uint32, stats Raw, found bool, err error) {
	_, attrs, err := netlink.DecodeGenericMessage(resp.Payload)
	if err != nil {
		return 0, Raw{}, false, fmt.Errorf("taskstats: decode response: %w", err)
	}

	attr, ok := netlink.Find(attrs, wantAttrType)
	if !ok {
		return 0, Raw{}, false, nil
	}

	if len(attr.Payload) < 12 {
		return 0, Raw{}, false, &TruncatedStructError{Have: len(attr.Payload), Want: 12}
	}

	idValue := binary.NativeEndian.Uint32(attr.Payload[4:8])
	raw, err := DecodeRaw(attr.Payload[12:])
	if err != nil {
		return 0, Raw{}, false, err
	}

	return idValue, raw, true, nil
}
