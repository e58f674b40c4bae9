package bsc

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/treeherder/yasnac/pkg/link"
)

const defaultRetryLimit = 10

var (
	// ErrInvalidTransaction means expected IO did not happen: a wrong
	// acknowledgement, a missing EOT, or an exhausted confirmed write.
	ErrInvalidTransaction = errors.New("bsc: invalid transaction")
	// ErrUnexpectedControl means a control sequence arrived in the
	// middle of a multi-block message.
	ErrUnexpectedControl = errors.New("bsc: unexpected control sequence")
)

// A Message is the reassembled body of one or more blocks
type Message struct {
	Header     string
	Control    string // set when a bare control sequence was read instead
	Body       []byte
	Terminator byte
}

// Engine drives the link layer of the ERC protocol: the alternating
// acknowledgement discipline, handshakes, confirmed writes and
// multi-block message assembly. One engine exclusively owns its link
// and its ack bit.
type Engine struct {
	logger     *slog.Logger
	link       link.Link
	ackBit     bool
	pending    []byte
	retryLimit int
}

func NewEngine(l link.Link, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, link: l, retryLimit: defaultRetryLimit}
}

// CurrentAck returns the acknowledgement to use next; it alternates
// between ACK0 and ACK1, starting with ACK0 on a fresh session.
func (e *Engine) CurrentAck() []byte {
	result := Ack0
	if e.ackBit {
		result = Ack1
	}
	e.ackBit = !e.ackBit
	return result
}

func (e *Engine) SendAck() error {
	return e.link.Write(e.CurrentAck())
}

// SendEOT ends the transaction and resets the ack bit
func (e *Engine) SendEOT() error {
	e.ackBit = false
	return e.link.Write([]byte{EOT})
}

// ReceiveEOT resets the ack bit; with fromWire it first drains the EOT
// the peer owes us.
func (e *Engine) ReceiveEOT(fromWire bool) error {
	if fromWire {
		raw, err := e.ReadRaw()
		if err != nil {
			return err
		}
		if !bytes.Equal(raw, []byte{EOT}) {
			return fmt.Errorf("%w: expected EOT, got %q", ErrInvalidTransaction, raw)
		}
	}
	e.ackBit = false
	return nil
}

// SendHandshake pings the peer: ENQ out, the expected acknowledgement
// back.
func (e *Engine) SendHandshake() error {
	if err := e.link.Write([]byte{ENQ}); err != nil {
		return err
	}
	expected := e.CurrentAck()
	raw, err := e.ReadRaw()
	if err != nil {
		return err
	}
	if !bytes.Equal(raw, expected) {
		return fmt.Errorf("%w: expected %q, got %q", ErrInvalidTransaction, expected, raw)
	}
	return nil
}

// ReceiveHandshake answers the peer's ENQ with the current
// acknowledgement.
func (e *Engine) ReceiveHandshake() error {
	raw, err := e.ReadRaw()
	if err != nil {
		return err
	}
	if !bytes.Equal(raw, []byte{ENQ}) {
		return fmt.Errorf("%w: expected ENQ, got %q", ErrInvalidTransaction, raw)
	}
	return e.SendAck()
}

// ConfirmedWrite sends a raw block and repeats it until the peer
// answers with the expected acknowledgement, up to the retry limit;
// exhaustion fails with ErrInvalidTransaction.
func (e *Engine) ConfirmedWrite(block []byte) error {
	for attempt := 0; attempt < e.retryLimit; attempt++ {
		if err := e.link.Write(block); err != nil {
			return err
		}
		expected := e.CurrentAck()
		raw, err := e.ReadRaw()
		if err != nil {
			return err
		}
		if bytes.Equal(raw, expected) {
			return nil
		}
		e.logger.Warn("wrong ack", "got", fmt.Sprintf("%q", raw),
			"expected", fmt.Sprintf("%q", expected))
	}
	return fmt.Errorf("%w: could not confirm write", ErrInvalidTransaction)
}

// ReadRaw returns buffered bytes if any, otherwise whatever arrives
// next on the link.
func (e *Engine) ReadRaw() ([]byte, error) {
	if len(e.pending) > 0 {
		result := e.pending
		e.pending = nil
		return result, nil
	}
	return e.link.ReadAvailable()
}

// Unread pushes raw bytes back so the next read sees them first
func (e *Engine) Unread(data []byte) {
	e.pending = append(append([]byte{}, data...), e.pending...)
}

// readBlock assembles one block from the wire, pulling more bytes as
// needed. Framing failures discard the buffer so the link can
// resynchronise on the next block.
func (e *Engine) readBlock() (Block, error) {
	for {
		block, consumed, err := DecodeBlock(e.pending)
		switch {
		case err == nil:
			e.pending = e.pending[consumed:]
			return block, nil
		case errors.Is(err, ErrNeedMore):
			data, err := e.link.ReadAvailable()
			if err != nil {
				return Block{}, err
			}
			e.pending = append(e.pending, data...)
		default:
			e.logger.Warn("dropping unparseable block",
				"len", len(e.pending), "cause", err)
			e.pending = nil
			return Block{}, err
		}
	}
}

// ReadMessage reads one whole message: the first block, any ETB
// continuations, and the closing EOT, acknowledging every block. A
// bare control sequence is returned as such, unacknowledged.
func (e *Engine) ReadMessage() (*Message, error) {
	block, err := e.readBlock()
	if err != nil {
		return nil, err
	}
	if block.Control != "" {
		return &Message{Control: block.Control}, nil
	}
	msg := &Message{
		Header:     block.Header,
		Body:       append([]byte{}, block.Body...),
		Terminator: block.Terminator,
	}
	if err := e.SendAck(); err != nil {
		return nil, err
	}
	for msg.Terminator == ETB {
		block, err := e.readBlock()
		if err != nil {
			return nil, err
		}
		if block.Control != "" {
			return nil, fmt.Errorf("%w: %v during message", ErrUnexpectedControl, block.Control)
		}
		e.logger.Debug("draining continuation block", "len", len(block.Body))
		msg.Body = append(msg.Body, block.Body...)
		msg.Terminator = block.Terminator
		if err := e.SendAck(); err != nil {
			return nil, err
		}
	}
	if err := e.ReceiveEOT(true); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendMessage transmits a whole message: handshake, every block
// confirmed, then EOT.
func (e *Engine) SendMessage(header string, body []byte, enc Encoding) error {
	if err := e.SendHandshake(); err != nil {
		return err
	}
	for _, block := range EncodeMessage(header, body, enc) {
		if err := e.ConfirmedWrite(block); err != nil {
			return err
		}
	}
	return e.SendEOT()
}

// SendShort transmits a single-block message, padding the body with a
// trailing \r if missing.
func (e *Engine) SendShort(header, body string) error {
	if !strings.HasSuffix(body, "\r") {
		body += "\r"
	}
	return e.SendMessage(header, []byte(body), Plain)
}
