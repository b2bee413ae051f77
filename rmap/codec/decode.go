package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/15201047795/outpost-core/rmap/common"
)

// Decode parses a frame that starts with a logical address (any path bytes
// already stripped) into pkt. Commands and replies are both accepted; the
// caller inspects pkt.IsReply(). pkt.Data aliases frame.
//
// For commands with a valid header but a broken data field the header fields
// are filled in and the error wraps ErrDataField together with ErrDataCRC,
// ErrTruncated or ErrTooMuchData so that a target can answer with the
// matching status.
func Decode(frame []byte, pkt *common.Packet) error {
	pkt.Reset()

	if len(frame) < 3 || frame[1] != common.ProtocolID {
		return fmt.Errorf("%w: len=%d", ErrNotRmap, len(frame))
	}
	instruction := frame[2]
	if instruction&common.InstrReserved != 0 {
		return fmt.Errorf("%w: reserved instruction bit set (0x%02X)", ErrNotRmap, instruction)
	}

	if instruction&common.InstrCommand != 0 {
		return decodeCommand(frame, instruction, pkt)
	}
	return decodeReply(frame, instruction, pkt)
}

// DecodeReply parses a reply addressed to initiatorLA. Commands are rejected
// with ErrNotReply.
func DecodeReply(frame []byte, pkt *common.Packet, initiatorLA byte) error {
	if err := Decode(frame, pkt); err != nil {
		return err
	}
	if !pkt.IsReply() {
		return ErrNotReply
	}
	if pkt.InitiatorLogicalAddress != initiatorLA {
		return fmt.Errorf("%w: got 0x%02X want 0x%02X", ErrWrongInitiator, pkt.InitiatorLogicalAddress, initiatorLA)
	}
	return nil
}

func decodeReply(frame []byte, instruction byte, pkt *common.Packet) error {
	pkt.Instruction = instruction

	headerLen := common.WriteReplyHeaderLength
	if instruction&common.InstrWrite == 0 {
		headerLen = common.ReadReplyHeaderLength
	}
	if len(frame) < headerLen+1 {
		return fmt.Errorf("%w: reply header needs %d bytes, got %d", ErrTruncated, headerLen+1, len(frame))
	}
	if CRC8(frame[:headerLen]) != frame[headerLen] {
		return ErrHeaderCRC
	}

	pkt.InitiatorLogicalAddress = frame[0]
	pkt.Status = common.Status(frame[3])
	pkt.TargetLogicalAddress = frame[4]
	pkt.TransactionID = binary.BigEndian.Uint16(frame[5:7])

	if pkt.IsWrite() {
		if len(frame) != headerLen+1 {
			return fmt.Errorf("%w: write reply with %d trailing bytes", ErrTooMuchData, len(frame)-headerLen-1)
		}
		return nil
	}

	pkt.DataLength = uint24(frame[8:11])
	data, err := dataField(frame, headerLen+1, pkt.DataLength)
	if err != nil {
		return err
	}
	pkt.Data = data
	return nil
}

func decodeCommand(frame []byte, instruction byte, pkt *common.Packet) error {
	pkt.Instruction = instruction

	replyLen := pkt.ReplyAddressLength()
	headerLen := common.CommandHeaderFixedLength + replyLen
	if len(frame) < headerLen+1 {
		return fmt.Errorf("%w: command header needs %d bytes, got %d", ErrTruncated, headerLen+1, len(frame))
	}
	if CRC8(frame[:headerLen]) != frame[headerLen] {
		return ErrHeaderCRC
	}

	pkt.TargetLogicalAddress = frame[0]
	pkt.Key = frame[3]
	pos := 4

	// strip the leading zero padding of the reply address
	reply := frame[pos : pos+replyLen]
	for len(reply) > 0 && reply[0] == 0 {
		reply = reply[1:]
	}
	pkt.ReplyPath = append(pkt.ReplyPath, reply...)
	pos += replyLen

	pkt.InitiatorLogicalAddress = frame[pos]
	pkt.TransactionID = binary.BigEndian.Uint16(frame[pos+1 : pos+3])
	pkt.ExtendedAddress = frame[pos+3]
	pkt.Address = binary.BigEndian.Uint32(frame[pos+4 : pos+8])
	pkt.DataLength = uint24(frame[pos+8 : pos+11])

	if !pkt.IsWrite() {
		if len(frame) != headerLen+1 {
			return fmt.Errorf("%w: %w: read command with %d trailing bytes", ErrDataField, ErrTooMuchData, len(frame)-headerLen-1)
		}
		return nil
	}

	data, err := dataField(frame, headerLen+1, pkt.DataLength)
	pkt.Data = data
	return err
}

// dataField extracts and checks the data field that starts at offset
func dataField(frame []byte, offset int, length uint32) ([]byte, error) {
	end := offset + int(length)
	if len(frame) < end+1 {
		if len(frame) > offset {
			return frame[offset:], fmt.Errorf("%w: %w: data field needs %d bytes, got %d", ErrDataField, ErrTruncated, int(length)+1, len(frame)-offset)
		}
		return nil, fmt.Errorf("%w: %w: data field needs %d bytes, got %d", ErrDataField, ErrTruncated, int(length)+1, len(frame)-offset)
	}
	data := frame[offset:end]
	if len(frame) > end+1 {
		return data, fmt.Errorf("%w: %w: %d extra bytes", ErrDataField, ErrTooMuchData, len(frame)-end-1)
	}
	if CRC8(data) != frame[end] {
		return data, fmt.Errorf("%w: %w", ErrDataField, ErrDataCRC)
	}
	return data, nil
}
