// Package codec implements the bit-exact RMAP wire format.
//
// The initiator side encodes commands (EncodeCommand) and decodes replies
// (DecodeReply). The target side, used by the simulated target node, decodes
// commands (DecodeCommand) and encodes replies (EncodeReply).
//
// Command layout (after the target path bytes):
//
//	target LA | protocol id | instruction | key | reply address (0/4/8/12) |
//	initiator LA | tid (2) | ext. address | address (4) | data length (3) |
//	header CRC | data ... | data CRC (writes only)
//
// Reply layout:
//
//	initiator LA | protocol id | instruction | status | target LA | tid (2) |
//	[reserved | data length (3)] | header CRC | [data ... | data CRC]
//
// The bracketed fields are only present in read replies.
//
// Any decode failure is reported as an error wrapping ErrNotRmap when the
// frame does not look like RMAP at all, or one of the CRC / length errors
// otherwise. The receiver treats both as foreign traffic.
package codec
