package common

import "fmt"

// --------------------------------------------------------------------------
// Reply Status
// --------------------------------------------------------------------------

// Status is the status byte carried by every RMAP reply.
type Status uint8

// Status codes as defined by the RMAP standard
const (
	StatusSuccess               Status = 0  // Command executed successfully
	StatusGeneralError          Status = 1  // General error code
	StatusUnusedPacketType      Status = 2  // Unused RMAP packet type or command code
	StatusInvalidKey            Status = 3  // Invalid key
	StatusInvalidDataCRC        Status = 4  // Invalid data CRC
	StatusEarlyEOP              Status = 5  // Early EOP
	StatusTooMuchData           Status = 6  // Too much data
	StatusEEP                   Status = 7  // EEP
	StatusReserved              Status = 8  // Reserved
	StatusVerifyBufferOverrun   Status = 9  // Verify buffer overrun
	StatusNotImplemented        Status = 10 // RMAP command not implemented or not authorised
	StatusRMWDataLengthError    Status = 11 // RMW data length error
	StatusInvalidLogicalAddress Status = 12 // Invalid target logical address
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusGeneralError:
		return "general error"
	case StatusUnusedPacketType:
		return "unused packet type"
	case StatusInvalidKey:
		return "invalid key"
	case StatusInvalidDataCRC:
		return "invalid data crc"
	case StatusEarlyEOP:
		return "early eop"
	case StatusTooMuchData:
		return "too much data"
	case StatusEEP:
		return "eep"
	case StatusReserved:
		return "reserved"
	case StatusVerifyBufferOverrun:
		return "verify buffer overrun"
	case StatusNotImplemented:
		return "not implemented"
	case StatusRMWDataLengthError:
		return "rmw data length error"
	case StatusInvalidLogicalAddress:
		return "invalid logical address"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}
