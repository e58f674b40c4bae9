package link

import (
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

// The ERC talks 8 data bits, even parity, 1 stop bit on both of its
// ports. Incoming bursts are coalesced with a short settle delay so a
// single read returns whole frames whenever the wire allows it.
const DefaultSettleDelay = 10 * time.Millisecond

// SerialLink is a Link backed by a real serial port
type SerialLink struct {
	logger  *slog.Logger
	port    serial.Port
	pending []byte
	settle  time.Duration
	scratch []byte
}

// OpenSerial opens the given device in the mode both engines require
// (8E1) at the given baud rate. FC1 runs at 4800 baud, the ERC host
// link at 9600.
func OpenSerial(device string, baud int, logger *slog.Logger) (*SerialLink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", device, err)
	}
	l := &SerialLink{
		logger:  logger.With("device", device),
		port:    port,
		settle:  DefaultSettleDelay,
		scratch: make([]byte, 512),
	}
	l.logger.Info("opened serial port", "baud", baud)
	return l, nil
}

func (l *SerialLink) ReadAvailable() ([]byte, error) {
	result := l.pending
	l.pending = nil
	if len(result) == 0 {
		if err := l.port.SetReadTimeout(serial.NoTimeout); err != nil {
			return nil, err
		}
		n, err := l.port.Read(l.scratch)
		if err != nil {
			return nil, err
		}
		result = append(result, l.scratch[:n]...)
	}
	// drain the rest of the burst
	if err := l.port.SetReadTimeout(l.settle); err != nil {
		return nil, err
	}
	for {
		n, err := l.port.Read(l.scratch)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		result = append(result, l.scratch[:n]...)
	}
	l.logger.Debug("raw read", "len", len(result), "data", fmt.Sprintf("%q", result))
	return result, nil
}

func (l *SerialLink) Write(data []byte) error {
	written := 0
	for written < len(data) {
		n, err := l.port.Write(data[written:])
		if err != nil {
			return err
		}
		written += n
	}
	l.logger.Debug("raw write", "len", len(data), "data", fmt.Sprintf("%q", data))
	return nil
}

func (l *SerialLink) BytesWaiting() int {
	if err := l.port.SetReadTimeout(time.Millisecond); err != nil {
		return len(l.pending)
	}
	for {
		n, err := l.port.Read(l.scratch)
		if err != nil || n == 0 {
			break
		}
		l.pending = append(l.pending, l.scratch[:n]...)
	}
	return len(l.pending)
}

func (l *SerialLink) Close() error {
	return l.port.Close()
}
