package codec

import "errors"

var (
	ErrNotRmap        = errors.New("codec: not an rmap packet")
	ErrTruncated      = errors.New("codec: truncated packet")
	ErrTooMuchData    = errors.New("codec: more data than declared")
	ErrHeaderCRC      = errors.New("codec: header crc mismatch")
	ErrDataCRC        = errors.New("codec: data crc mismatch")
	ErrWrongInitiator = errors.New("codec: reply for another initiator")
	ErrBufferTooSmall = errors.New("codec: buffer too small")
	ErrDataTooLarge   = errors.New("codec: data length exceeds 24 bits")
	ErrDataMismatch   = errors.New("codec: data length does not match payload")
	ErrNotCommand     = errors.New("codec: packet is not a command")
	ErrNotReply       = errors.New("codec: packet is not a reply")

	// ErrDataField is wrapped together with ErrTruncated, ErrTooMuchData or
	// ErrDataCRC when the header is valid but the data field is not
	ErrDataField = errors.New("codec: invalid data field")
)
