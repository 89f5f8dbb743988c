package graphite

import "encoding/binary"

// HeaderSize is the length of the big-endian uint32 length prefix.
const HeaderSize = 4

// Frame prefixes payload with its length as a big-endian uint32.
func Frame(payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame
}
