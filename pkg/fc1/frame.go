// Package fc1 emulates the YASNAC FC1 floppy disk controller: a
// length-prefixed framed protocol at 4800 baud over which the robot
// lists, reads and writes job files.
package fc1

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	frameStart byte = 0x02
	// A frame payload is a three letter verb plus at most 255 data bytes
	MaxPayload  = 258
	headerSize  = 3 // start byte + 16 bit length
	trailerSize = 2 // 16 bit checksum
)

var (
	// ErrInvalidHeader covers both a missing start byte and a checksum
	// mismatch; the caller's policy is to slide off one byte and retry.
	ErrInvalidHeader   = errors.New("fc1: invalid frame header")
	ErrNeedMore        = errors.New("fc1: incomplete frame")
	ErrPayloadTooLarge = errors.New("fc1: payload too large")
)

// checksum is the two's complement of the sum over the length bytes
// and the payload, i.e. (65536 - sum) mod 65536.
func checksum(lengthAndPayload []byte) uint16 {
	var sum uint16
	for _, b := range lengthAndPayload {
		sum += uint16(b)
	}
	return -sum
}

// Encode produces a single frame:
// 0x02 | LEN_LO LEN_HI | PAYLOAD | CHK_LO CHK_HI
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %v bytes", ErrPayloadTooLarge, len(payload))
	}
	frame := make([]byte, headerSize+len(payload)+trailerSize)
	frame[0] = frameStart
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[3:], payload)
	binary.LittleEndian.PutUint16(frame[3+len(payload):], checksum(frame[1:3+len(payload)]))
	return frame, nil
}

// Decode parses one frame from the front of buffer, returning the
// payload and the number of bytes consumed. ErrNeedMore means the
// buffer holds a frame prefix; ErrInvalidHeader means the front of the
// buffer is not a frame (or is corrupt) and one byte should be dropped
// to resynchronise.
func Decode(buffer []byte) ([]byte, int, error) {
	if len(buffer) == 0 {
		return nil, 0, ErrNeedMore
	}
	if buffer[0] != frameStart {
		return nil, 0, ErrInvalidHeader
	}
	if len(buffer) < headerSize+trailerSize {
		return nil, 0, ErrNeedMore
	}
	length := int(binary.LittleEndian.Uint16(buffer[1:3]))
	if length > MaxPayload {
		return nil, 0, ErrInvalidHeader
	}
	total := headerSize + length + trailerSize
	if len(buffer) < total {
		return nil, 0, ErrNeedMore
	}
	stated := binary.LittleEndian.Uint16(buffer[headerSize+length:])
	if stated != checksum(buffer[1:headerSize+length]) {
		return nil, 0, ErrInvalidHeader
	}
	return buffer[headerSize : headerSize+length], total, nil
}
