package fc1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/treeherder/yasnac/pkg/link"
	"github.com/treeherder/yasnac/pkg/storage"
)

// Control and command verbs carried as frame payloads
const (
	verbENQ = "ENQ"
	verbACK = "ACK"
	verbCAN = "CAN"
	verbEOF = "EOF"
	verbEOT = "EOT"
	verbLST = "LST"
	verbDSZ = "DSZ"
	verbFRD = "FRD"
	verbFWT = "FWT"
	verbFSZ = "FSZ"
)

// The FC1 always reports a 728 KB disk
const diskSizeReply = "DSZ00729088"

// File data travels in chunks of at most 255 bytes after the verb
const readChunkSize = 255

const defaultRetryLimit = 10

var (
	// errSession marks a recoverable session failure: the emulator
	// sends ACK and returns to its idle state.
	errSession = errors.New("fc1: session cancelled")
	// ErrConfirmFailed means the peer never acknowledged a confirmed
	// write within the retry limit. Fatal to the session.
	ErrConfirmFailed = errors.New("fc1: could not confirm write")
)

// An Emulator serves a robot that initiates all transactions, backed
// by a Store instead of a floppy. One emulator exclusively owns its
// link.
type Emulator struct {
	logger     *slog.Logger
	link       link.Link
	reader     *Reader
	store      *storage.Store
	retryLimit int
}

func NewEmulator(l link.Link, store *storage.Store, logger *slog.Logger) *Emulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emulator{
		logger:     logger,
		link:       l,
		reader:     NewReader(l, logger),
		store:      store,
		retryLimit: defaultRetryLimit,
	}
}

// Run responds to requests until the context is cancelled or the link
// fails. Recoverable session errors (a CANcel from the robot, a file
// that cannot be read) reset the session; anything else is fatal.
func (e *Emulator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		payload, err := e.reader.Next()
		if err != nil {
			return err
		}
		if err := e.dispatch(string(payload)); err != nil {
			if !errors.Is(err, errSession) {
				return err
			}
			e.logger.Info("resetting session", "cause", err)
			if err := e.write(verbACK); err != nil {
				return err
			}
		}
	}
}

func (e *Emulator) dispatch(payload string) error {
	switch {
	case payload == verbENQ:
		e.logger.Debug("responding to enquiry")
		return e.write(verbACK)
	case payload == verbEOT:
		e.logger.Debug("received end of transmission")
		return nil
	case payload == verbCAN:
		return fmt.Errorf("%w: robot sent cancel", errSession)
	case payload == verbACK:
		e.logger.Warn("unexpected acknowledge outside transaction")
		return nil
	case payload == verbLST:
		return e.handleList()
	case payload == verbDSZ:
		return e.handleDiskSize()
	case strings.HasPrefix(payload, verbFRD):
		return e.handleFileRead(trimName(payload[3:]))
	case strings.HasPrefix(payload, verbFWT):
		return e.handleFileWrite(trimName(payload[3:]))
	default:
		e.logger.Warn("unhandled packet", "payload", payload)
		return nil
	}
}

// write encodes and sends a single frame
func (e *Emulator) write(payload string) error {
	frame, err := Encode([]byte(payload))
	if err != nil {
		return err
	}
	return e.link.Write(frame)
}

// confirmedWrite sends a frame and repeats it until the robot
// acknowledges, up to the retry limit
func (e *Emulator) confirmedWrite(payload string) error {
	for attempt := 0; attempt < e.retryLimit; attempt++ {
		if err := e.write(payload); err != nil {
			return err
		}
		reply, err := e.reader.Next()
		if err != nil {
			return err
		}
		switch string(reply) {
		case verbACK:
			return nil
		case verbCAN:
			return fmt.Errorf("%w: cancel during confirmed write", errSession)
		default:
			e.logger.Warn("expected acknowledge", "got", string(reply))
		}
	}
	return fmt.Errorf("%w: %q", ErrConfirmFailed, payload)
}

func (e *Emulator) handleList() error {
	e.logger.Debug("responding to list request")
	files, err := e.store.ListJobFiles()
	if err != nil {
		return fmt.Errorf("%w: %v", errSession, err)
	}
	var items strings.Builder
	for _, name := range files {
		fmt.Fprintf(&items, "%-12s", name)
	}
	reply := fmt.Sprintf("LST%04d%s", len(files), items.String())
	if err := e.confirmedWrite(reply); err != nil {
		return err
	}
	return e.write(verbEOF)
}

func (e *Emulator) handleDiskSize() error {
	e.logger.Debug("responding to disk size request")
	if err := e.confirmedWrite(diskSizeReply); err != nil {
		return err
	}
	return e.write(verbEOF)
}

func (e *Emulator) handleFileRead(filename string) error {
	e.logger.Debug("responding to file read", "file", filename)
	if !e.store.Whitelisted(filename) {
		return fmt.Errorf("%w: %v", storage.ErrNotInWhitelist, filename)
	}
	data, err := e.store.ReadJob(filename)
	if err != nil {
		return fmt.Errorf("%w: %v", errSession, err)
	}
	if err := e.confirmedWrite(fmt.Sprintf("FSZ%08d", len(data))); err != nil {
		return err
	}
	for start := 0; start < len(data); start += readChunkSize {
		end := start + readChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := e.confirmedWrite(verbFRD + data[start:end]); err != nil {
			return err
		}
	}
	return e.write(verbEOF)
}

func (e *Emulator) handleFileWrite(filename string) error {
	e.logger.Debug("responding to file write", "file", filename)
	out, actual, err := e.store.Create(filename)
	if err != nil {
		return fmt.Errorf("%w: %v", errSession, err)
	}
	defer out.Close()
	if actual != filename {
		e.logger.Info("writing incoming file", "requested", filename, "as", actual)
	}
	if err := e.write(verbACK); err != nil {
		return err
	}
	for {
		payload, err := e.reader.Next()
		if err != nil {
			return err
		}
		packet := string(payload)
		switch {
		case strings.HasPrefix(packet, verbFWT):
			if _, err := out.WriteString(packet[3:]); err != nil {
				return fmt.Errorf("%w: %v", errSession, err)
			}
			if err := e.write(verbACK); err != nil {
				return err
			}
		case packet == verbEOF:
			return e.write(verbACK)
		default:
			e.logger.Warn("unexpected packet during write", "payload", packet)
		}
	}
}

func trimName(name string) string {
	return strings.TrimRightFunc(name, unicode.IsSpace)
}
