// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netlink

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// The generic-netlink controller is always registered at this fixed message
// type (GENL_ID_CTRL in linux/genetlink.h).
const ctrlMessageType uint16 = 0x10

// Control-family commands (genl ctrl).
const (
	cmdGetFamilyID uint8 = 3
)

// Control-family attribute types (genl ctrl).
const (
	attrFamilyID   uint16 = 1
	attrFamilyName uint16 = 2
)

// FamilyNotFoundError is returned when the kernel has no generic-netlink
// family registered under the requested name (e.g. the TASKSTATS module is
// not loaded).
type FamilyNotFoundError struct {
	Name string
}

func (e *FamilyNotFoundError) Error() string {
	return fmt.Sprintf("netlink: family %q not found", e.Name)
}

// ResolveFamily asks the generic-netlink controller (GENL_ID_CTRL) for the
// numeric message type registered under familyName, mirroring the reference
// client's GenericNetlinkControlMessage{GET_FAMILY_ID} request/response
// exchange.
func ResolveFamily(c *Conn, familyName string) (uint16, error) {
	payload := EncodeGenericMessage(
		GenericHeader{Command: cmdGetFamilyID},
		[]Attribute{{Type: attrFamilyName, Payload: EncodeString(familyName)}},
	)

	req := &Message{
		Header: Header{
			Type:  ctrlMessageType,
			Flags: uint16(FlagRequest),
			Seq:   c.NextSeq(),
			Pid:   0,
		},
		Payload: payload,
	}

	if err := c.Send(req); err != nil {
		return 0, fmt.Errorf("netlink: send GET_FAMILY_ID for %q: %w", familyName, err)
	}

	resp, err := c.Recv()
	if err != nil {
		var kerr *KernelError
		if errors.As(err, &kerr) {
			return 0, &FamilyNotFoundError{Name: familyName}
		}
		return 0, fmt.Errorf("netlink: recv GET_FAMILY_ID response for %q: %w", familyName, err)
	}

	_, attrs, err := DecodeGenericMessage(resp.Payload)
	if err != nil {
		return 0, fmt.Errorf("netlink: decode GET_FAMILY_ID response for %q: %w", familyName, err)
	}

	idAttr, ok := Find(attrs, attrFamilyID)
	if !ok {
		return 0, &FamilyNotFoundError{Name: familyName}
	}
	if len(idAttr.Payload) < 2 {
		return 0, &AttributeError{Offset: 0, Reason: "FAMILY_ID attribute payload too short"}
	}

	return binary.NativeEndian.Uint16(idAttr.Payload[0:2]), nil
}
