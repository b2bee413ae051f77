package codec

import (
	"encoding/binary"

	"github.com/15201047795/outpost-core/rmap/common"
)

// EncodeCommand serializes a command into buf and returns the number of bytes
// written. The payload of write commands is taken from data; data is ignored
// for reads. buf must hold at least pkt.FrameLength() bytes.
func EncodeCommand(pkt *common.Packet, data []byte, buf []byte) (int, error) {
	if !pkt.IsCommand() {
		return 0, ErrNotCommand
	}
	if pkt.DataLength > common.MaxDataLength {
		return 0, ErrDataTooLarge
	}
	if pkt.IsWrite() && int(pkt.DataLength) != len(data) {
		return 0, ErrDataMismatch
	}
	if len(buf) < pkt.FrameLength() {
		return 0, ErrBufferTooSmall
	}

	pos := copy(buf, pkt.TargetPath)
	headerStart := pos

	buf[pos] = pkt.TargetLogicalAddress
	buf[pos+1] = common.ProtocolID
	buf[pos+2] = pkt.Instruction
	buf[pos+3] = pkt.Key
	pos += 4

	// reply address is right aligned and padded with leading zeros
	replyLen := pkt.ReplyAddressLength()
	padding := replyLen - len(pkt.ReplyPath)
	for i := 0; i < padding; i++ {
		buf[pos+i] = 0
	}
	copy(buf[pos+padding:pos+replyLen], pkt.ReplyPath)
	pos += replyLen

	buf[pos] = pkt.InitiatorLogicalAddress
	binary.BigEndian.PutUint16(buf[pos+1:pos+3], pkt.TransactionID)
	buf[pos+3] = pkt.ExtendedAddress
	binary.BigEndian.PutUint32(buf[pos+4:pos+8], pkt.Address)
	putUint24(buf[pos+8:pos+11], pkt.DataLength)
	pos += 11

	buf[pos] = CRC8(buf[headerStart:pos])
	pos++

	if pkt.IsWrite() {
		pos += copy(buf[pos:], data)
		buf[pos] = CRC8(data)
		pos++
	}
	return pos, nil
}

// EncodeReply serializes a reply into a freshly allocated slice. The reply
// path of the originating command is prepended so that routers can deliver
// the reply.
func EncodeReply(pkt *common.Packet) ([]byte, error) {
	if pkt.IsCommand() {
		return nil, ErrNotReply
	}
	if pkt.DataLength > common.MaxDataLength {
		return nil, ErrDataTooLarge
	}

	buf := make([]byte, len(pkt.ReplyPath)+pkt.FrameLength())
	pos := copy(buf, pkt.ReplyPath)
	headerStart := pos

	buf[pos] = pkt.InitiatorLogicalAddress
	buf[pos+1] = common.ProtocolID
	buf[pos+2] = pkt.Instruction
	buf[pos+3] = byte(pkt.Status)
	buf[pos+4] = pkt.TargetLogicalAddress
	binary.BigEndian.PutUint16(buf[pos+5:pos+7], pkt.TransactionID)
	pos += 7

	if pkt.IsRead() {
		buf[pos] = 0
		putUint24(buf[pos+1:pos+4], pkt.DataLength)
		pos += 4
	}

	buf[pos] = CRC8(buf[headerStart:pos])
	pos++

	if pkt.IsRead() {
		// the declared length may differ from the payload on purpose (fault injection)
		data := make([]byte, pkt.DataLength)
		copy(data, pkt.Data)
		pos += copy(buf[pos:], data)
		buf[pos] = CRC8(data)
		pos++
	}
	return buf[:pos], nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
