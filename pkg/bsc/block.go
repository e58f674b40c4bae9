package bsc

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/treeherder/yasnac/internal/chunk"
)

// A block body carries at most 256 bytes; longer messages continue in
// ETB terminated blocks.
const MaxBlockBody = 256

// Transaction codes are six ASCII bytes of the form NN,NNN
const HeaderLen = 6

var (
	ErrInvalidStart    = errors.New("bsc: block starts with neither SOH nor STX")
	ErrNeedMore        = errors.New("bsc: incomplete block")
	ErrInvalidBody     = errors.New("bsc: no terminator within maximum block length")
	ErrInvalidChecksum = errors.New("bsc: checksum mismatch")
)

// Encoding selects how a message body maps onto blocks
type Encoding int

const (
	// Plain chunks the body into 256 byte blocks
	Plain Encoding = iota
	// NamePrefixed puts everything up to and including the first \r
	// (the name block of a file transaction) alone into block 0
	NamePrefixed
)

// A Block is one decoded unit from the wire: either a framed block or
// a bare control sequence.
type Block struct {
	Header     string // transaction code, empty on continuation blocks
	Control    string // control sequence name, empty on framed blocks
	Body       []byte
	Terminator byte // ETX or ETB
}

// checksum is the plain unsigned sum of data, mod 65536
func checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// EncodeMessage produces the wire blocks for one message. Exactly the
// last block carries ETX, all earlier ones ETB.
func EncodeMessage(header string, body []byte, enc Encoding) [][]byte {
	var pieces [][]byte
	if enc == NamePrefixed {
		if idx := bytes.IndexByte(body, '\r'); idx >= 0 {
			pieces = append(pieces, body[:idx+1])
			if rest := body[idx+1:]; len(rest) > 0 {
				pieces = append(pieces, chunk.Split(rest, MaxBlockBody)...)
			}
		} else {
			pieces = append(pieces, body)
		}
	} else {
		pieces = chunk.Split(body, MaxBlockBody)
	}

	blocks := make([][]byte, 0, len(pieces))
	for index, piece := range pieces {
		terminator := byte(ETB)
		if index == len(pieces)-1 {
			terminator = ETX
		}
		var block []byte
		if index == 0 {
			block = append(block, SOH)
			block = append(block, header...)
			block = append(block, STX)
		} else {
			block = append(block, STX)
		}
		block = append(block, piece...)
		block = append(block, terminator)
		// the sum skips the SOH but covers a leading STX
		sumFrom := 0
		if block[0] == SOH {
			sumFrom = 1
		}
		block = binary.LittleEndian.AppendUint16(block, checksum(block[sumFrom:]))
		blocks = append(blocks, block)
	}
	return blocks
}

// DecodeBlock parses one block from the front of raw and returns it
// together with the number of bytes consumed. Raw bytes that are
// exactly a control sequence are returned as such.
func DecodeBlock(raw []byte) (Block, int, error) {
	if len(raw) == 0 {
		return Block{}, 0, ErrNeedMore
	}

	var headerBytes int
	switch raw[0] {
	case SOH:
		headerBytes = 1 + HeaderLen + 1
		if len(raw) < headerBytes {
			return Block{}, 0, ErrNeedMore
		}
	case STX:
		headerBytes = 1
	default:
		if name, ok := ControlName(raw); ok {
			return Block{Control: name}, len(raw), nil
		}
		return Block{}, 0, ErrInvalidStart
	}

	limit := MaxBlockBody + headerBytes + 1
	end := -1
	for i := headerBytes; i < len(raw) && i < limit; i++ {
		if raw[i] == ETX || raw[i] == ETB {
			end = i
			break
		}
	}
	if end < 0 {
		if len(raw) < limit {
			return Block{}, 0, ErrNeedMore
		}
		return Block{}, 0, ErrInvalidBody
	}
	consumed := end + 3
	if len(raw) < consumed {
		return Block{}, 0, ErrNeedMore
	}

	sumFrom := 0
	if raw[0] == SOH {
		sumFrom = 1
	}
	stated := binary.LittleEndian.Uint16(raw[end+1 : end+3])
	if stated != checksum(raw[sumFrom:end+1]) {
		return Block{}, 0, ErrInvalidChecksum
	}

	block := Block{
		Body:       raw[headerBytes:end],
		Terminator: raw[end],
	}
	if raw[0] == SOH {
		block.Header = string(raw[1 : 1+HeaderLen])
	}
	return block, consumed, nil
}
