package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/15201047795/outpost-core/rmap/transport"
)

const frameHeaderSize = 5

// writeFrame writes a frame to the connection with the format:
// - 4 bytes: payload length (uint32, big endian)
// - 1 byte: end marker
// - N bytes: payload
func writeFrame(conn net.Conn, end transport.EndMarker, data []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[:4], uint32(len(data)))
	header[4] = byte(end)

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads the next frame from the connection into buf.
// Frames that do not fit are consumed and reported with ErrFrameTooLarge so
// that the stream stays in sync.
func readFrame(conn io.Reader, header []byte, buf *transport.Buffer) error {
	if _, err := io.ReadFull(conn, header[:frameHeaderSize]); err != nil {
		return err
	}

	length := binary.BigEndian.Uint32(header[:4])
	end := transport.EndMarker(header[4])
	if end != transport.EOP && end != transport.EEP {
		return fmt.Errorf("invalid end marker %d", header[4])
	}

	if buf.Resize(int(length)) != nil {
		if _, err := io.CopyN(io.Discard, conn, int64(length)); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d bytes", transport.ErrFrameTooLarge, length)
	}

	if _, err := io.ReadFull(conn, buf.Data); err != nil {
		return err
	}
	buf.End = end
	return nil
}
