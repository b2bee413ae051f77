package common

import (
	"fmt"
	"strings"
)

// ProtocolID is the SpaceWire protocol identifier assigned to RMAP.
const ProtocolID byte = 0x01

// Bits of the instruction byte
const (
	InstrReserved      byte = 0x80
	InstrCommand       byte = 0x40 // command (1) or reply (0)
	InstrWrite         byte = 0x20 // write (1) or read (0)
	InstrVerify        byte = 0x10 // verify data before write
	InstrReply         byte = 0x08 // reply requested
	InstrIncrement     byte = 0x04 // increment address
	InstrReplyAddrMask byte = 0x03 // reply address length in units of 4 bytes
)

// Fixed header sizes (without the header CRC byte)
const (
	// CommandHeaderFixedLength counts the command header bytes from the
	// target logical address up to and including the data length field,
	// excluding the reply address.
	CommandHeaderFixedLength = 15
	// WriteReplyHeaderLength counts the write reply bytes before the CRC.
	WriteReplyHeaderLength = 7
	// ReadReplyHeaderLength counts the read reply bytes before the CRC.
	ReadReplyHeaderLength = 11
	// MaxReplyAddressLength is the largest reply address the instruction can describe.
	MaxReplyAddressLength = 12
	// MaxDataLength is the largest value of the 24 bit data length field.
	MaxDataLength = 1<<24 - 1
)

// Packet is one RMAP command or reply.
// Which fields are used depends on the instruction byte.
type Packet struct {
	// Routing
	TargetPath []byte // SpaceWire path bytes prepended to a command (stripped by routers)
	ReplyPath  []byte // reply address (unpadded); only meaningful for commands

	// Addressing
	InitiatorLogicalAddress byte
	TargetLogicalAddress    byte
	Key                     byte // command only
	ExtendedAddress         byte // command only
	Address                 uint32

	// Control
	Instruction   byte
	TransactionID uint16
	DataLength    uint32
	Status        Status // reply only

	// Payload: outgoing write data for commands, returned read data for replies
	Data []byte
}

// --------------------------------------------------------------------------
// Instruction helpers
// --------------------------------------------------------------------------

func (p *Packet) setBit(bit byte, on bool) {
	if on {
		p.Instruction |= bit
	} else {
		p.Instruction &^= bit
	}
}

func (p *Packet) SetCommand() { p.setBit(InstrCommand, true) }
func (p *Packet) SetReplyPacket() { p.setBit(InstrCommand, false) }
func (p *Packet) SetWrite() { p.setBit(InstrWrite, true) }
func (p *Packet) SetRead() { p.setBit(InstrWrite, false) }
func (p *Packet) SetVerify(on bool) { p.setBit(InstrVerify, on) }
func (p *Packet) SetReplyRequested(on bool) { p.setBit(InstrReply, on) }
func (p *Packet) SetIncrement(on bool) { p.setBit(InstrIncrement, on) }

func (p *Packet) IsCommand() bool { return p.Instruction&InstrCommand != 0 }
func (p *Packet) IsReply() bool { return p.Instruction&InstrCommand == 0 }
func (p *Packet) IsWrite() bool { return p.Instruction&InstrWrite != 0 }
func (p *Packet) IsRead() bool { return p.Instruction&InstrWrite == 0 }
func (p *Packet) IsVerify() bool { return p.Instruction&InstrVerify != 0 }
func (p *Packet) IsReplyRequested() bool { return p.Instruction&InstrReply != 0 }
func (p *Packet) IsIncrement() bool { return p.Instruction&InstrIncrement != 0 }

// ReplyAddressLength returns the padded reply address length in bytes as
// encoded in the instruction byte.
func (p *Packet) ReplyAddressLength() int {
	return int(p.Instruction&InstrReplyAddrMask) * 4
}

// SetReplyPath stores the reply address and updates the reply address length
// bits of the instruction. Paths longer than 12 bytes are rejected.
func (p *Packet) SetReplyPath(path []byte) error {
	if len(path) > MaxReplyAddressLength {
		return fmt.Errorf("reply path too long: %d bytes (max %d)", len(path), MaxReplyAddressLength)
	}
	p.ReplyPath = append(p.ReplyPath[:0], path...)
	p.Instruction = (p.Instruction &^ InstrReplyAddrMask) | byte((len(path)+3)/4)
	return nil
}

// HeaderLength returns the encoded header length without the header CRC.
// For commands this includes the target path.
func (p *Packet) HeaderLength() int {
	if p.IsCommand() {
		return len(p.TargetPath) + CommandHeaderFixedLength + p.ReplyAddressLength()
	}
	if p.IsWrite() {
		return WriteReplyHeaderLength
	}
	return ReadReplyHeaderLength
}

// FrameLength returns the total number of bytes the packet occupies on the wire.
func (p *Packet) FrameLength() int {
	n := p.HeaderLength() + 1
	if p.carriesData() {
		n += int(p.DataLength) + 1
	}
	return n
}

// carriesData reports whether a data field and data CRC follow the header
func (p *Packet) carriesData() bool {
	if p.IsCommand() {
		return p.IsWrite()
	}
	return p.IsRead()
}

// Reset clears the packet while keeping the allocated slices
func (p *Packet) Reset() {
	*p = Packet{
		TargetPath: p.TargetPath[:0],
		ReplyPath:  p.ReplyPath[:0],
		Data:       p.Data[:0],
	}
}

// CopyFrom makes p a deep copy of src, reusing p's slices where possible
func (p *Packet) CopyFrom(src *Packet) {
	targetPath, replyPath, data := p.TargetPath, p.ReplyPath, p.Data
	*p = *src
	p.TargetPath = append(targetPath[:0], src.TargetPath...)
	p.ReplyPath = append(replyPath[:0], src.ReplyPath...)
	p.Data = append(data[:0], src.Data...)
}

// CopyHeaderFrom copies all scalar fields of src. Paths and payload are left
// untouched.
func (p *Packet) CopyHeaderFrom(src *Packet) {
	p.InitiatorLogicalAddress = src.InitiatorLogicalAddress
	p.TargetLogicalAddress = src.TargetLogicalAddress
	p.Key = src.Key
	p.ExtendedAddress = src.ExtendedAddress
	p.Address = src.Address
	p.Instruction = src.Instruction
	p.TransactionID = src.TransactionID
	p.DataLength = src.DataLength
	p.Status = src.Status
}

// String returns a short human-readable description
func (p *Packet) String() string {
	var sb strings.Builder
	if p.IsCommand() {
		sb.WriteString("command ")
	} else {
		sb.WriteString("reply ")
	}
	if p.IsWrite() {
		sb.WriteString("write")
	} else {
		sb.WriteString("read")
	}
	sb.WriteString(fmt.Sprintf(" tid=%d ini=0x%02X tgt=0x%02X", p.TransactionID, p.InitiatorLogicalAddress, p.TargetLogicalAddress))
	if p.IsCommand() {
		sb.WriteString(fmt.Sprintf(" addr=0x%02X:%08X key=0x%02X", p.ExtendedAddress, p.Address, p.Key))
	} else {
		sb.WriteString(fmt.Sprintf(" status=%s", p.Status))
	}
	sb.WriteString(fmt.Sprintf(" len=%d", p.DataLength))
	return sb.String()
}
