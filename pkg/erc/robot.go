package erc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/treeherder/yasnac/pkg/bsc"
	"github.com/treeherder/yasnac/pkg/link"
	"github.com/treeherder/yasnac/pkg/storage"
)

const (
	executionResponse = "90,000"
	dataResponse      = "90,001"
	commandCode       = "01,000"
	successBody       = "0000"
	noSuchJobBody     = "4040"
)

// A Robot talks to a YASNAC ERC series controller. It serves incoming
// transactions through Loop and exposes the client operations the host
// may initiate: file transfer, variable requests and system control
// commands.
type Robot struct {
	*bsc.Engine
	logger *slog.Logger
	store  *storage.Store

	// OnVariable receives variable data transmissions (03,0xx) read by
	// the server loop. Unset transmissions are only logged.
	OnVariable func(code Code, values []string)
}

func NewRobot(l link.Link, store *storage.Store, logger *slog.Logger) *Robot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Robot{
		Engine: bsc.NewEngine(l, logger),
		logger: logger,
		store:  store,
	}
}

// Loop serves incoming transactions until the context is cancelled or
// the link fails. Transaction and framing failures are logged and the
// loop resynchronises; link failures are fatal.
func (r *Robot) Loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		raw, err := r.ReadRaw()
		if err != nil {
			return err
		}
		if name, ok := bsc.ControlName(raw); ok {
			switch name {
			case "ENQ":
				if err := r.SendAck(); err != nil {
					return err
				}
			case "EOT":
				r.logger.Warn("out of sequence EOT")
				r.ReceiveEOT(false)
			default:
				r.logger.Warn("ignoring control sequence", "control", name)
			}
			continue
		}
		if raw[0] != bsc.SOH {
			r.logger.Warn("no handler for packet", "data", fmt.Sprintf("%q", raw))
			continue
		}
		r.Unread(raw)
		msg, err := r.ReadMessage()
		if err != nil {
			if recoverable(err) {
				r.logger.Warn("dropping message", "cause", err)
				continue
			}
			return err
		}
		if err := r.dispatch(msg); err != nil {
			if recoverable(err) {
				r.logger.Warn("transaction failed", "header", msg.Header, "cause", err)
				continue
			}
			return err
		}
	}
}

// recoverable reports failures the server loop absorbs: bad framing,
// unexpected controls, acknowledgement trouble and remote error codes.
func recoverable(err error) bool {
	for _, kind := range []error{
		bsc.ErrInvalidStart, bsc.ErrInvalidBody, bsc.ErrInvalidChecksum,
		bsc.ErrInvalidTransaction, bsc.ErrUnexpectedControl,
		ErrUnhandledHeader, storage.ErrNoSuchFile,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	var remote *RemoteError
	return errors.As(err, &remote)
}

func (r *Robot) dispatch(msg *bsc.Message) error {
	code, err := ParseCode(msg.Header)
	if err != nil {
		r.logger.Warn("unparseable header", "header", msg.Header)
		return nil
	}
	r.logger.Debug("received message", "header", msg.Header,
		"meaning", Describe(msg.Header), "len", len(msg.Body))
	switch {
	case code.IsFile():
		filename, err := r.handleIncomingFile(msg.Header, msg.Body, true)
		if err != nil {
			return err
		}
		r.logger.Info("stored incoming file", "file", filename)
		return nil
	case code.IsFileRequest():
		return r.handleFileRequest(code, msg.Body)
	case code.IsVariable():
		values := parseCSV(msg.Body)
		if r.OnVariable != nil {
			r.OnVariable(code, values)
			return nil
		}
		r.logger.Info("unclaimed variable data", "header", msg.Header, "values", values)
		return nil
	default:
		return fmt.Errorf("%w: %v (%v)", ErrUnhandledHeader, msg.Header, Describe(msg.Header))
	}
}

// handleIncomingFile stores the file carried by a 02,0xx transmission:
// the body up to the first \r names the job, the rest is content, the
// extension is implied by the transaction code. With reply set the
// robot is sent the 90,000 execution confirmation it expects.
func (r *Robot) handleIncomingFile(header string, body []byte, reply bool) (string, error) {
	name := body
	var content []byte
	if idx := bytes.IndexByte(body, '\r'); idx >= 0 {
		name = body[:idx]
		content = body[idx+1:]
	}
	filename := fmt.Sprintf("%s.%s", strings.TrimSpace(string(name)),
		storage.ExtensionForCode(header))
	stored, err := r.store.WriteFile(filename, content)
	if err != nil {
		return "", err
	}
	if reply {
		if err := r.SendShort(executionResponse, successBody); err != nil {
			return "", err
		}
	}
	return stored, nil
}

// handleFileRequest answers a 02,0yy request by transmitting the file
// under the matching 02,0xx code, or 90,000/4040 when there is no such
// file.
func (r *Robot) handleFileRequest(code Code, body []byte) error {
	header := code.String()
	filename, fixed := storage.FixedNameForCode(header)
	if !fixed {
		base := strings.TrimSpace(string(body))
		filename = fmt.Sprintf("%s.%s", base, storage.ExtensionForCode(header))
	}
	if !r.store.Exists(filename) {
		r.logger.Warn("requested file does not exist", "file", filename)
		return r.SendShort(executionResponse, noSuchJobBody)
	}
	return r.putFile(filename, code.Response().String(), false)
}

// PutFile transmits a local file to the robot and waits for its
// execution confirmation.
func (r *Robot) PutFile(filename string) error {
	code, err := storage.CodeFor("put", filename)
	if err != nil {
		return err
	}
	return r.putFile(filename, code, true)
}

func (r *Robot) putFile(filename, code string, confirm bool) error {
	data, err := r.store.ReadJob(filename)
	if err != nil {
		return err
	}
	body := baseName(filename) + "\r" + data
	r.logger.Info("sending file", "file", filename, "code", code, "len", len(body))
	if err := r.SendMessage(code, []byte(body), bsc.NamePrefixed); err != nil {
		return err
	}
	if !confirm {
		return nil
	}
	return r.receiveConfirmation()
}

// receiveConfirmation reads the 90,000 reply that closes a confirmed
// transfer or command.
func (r *Robot) receiveConfirmation() error {
	if err := r.ReceiveHandshake(); err != nil {
		return err
	}
	msg, err := r.ReadMessage()
	if err != nil {
		return err
	}
	if msg.Header != executionResponse {
		return fmt.Errorf("%w: expected %v, got %v", bsc.ErrInvalidTransaction,
			executionResponse, msg.Header)
	}
	if result := strings.TrimRight(string(msg.Body), "\r"); result != successBody {
		return &RemoteError{Code: result}
	}
	return nil
}

// GetFile requests a file from the robot and stores it locally,
// returning the name it was written under.
func (r *Robot) GetFile(filename string) (string, error) {
	code, err := storage.CodeFor("get", filename)
	if err != nil {
		return "", err
	}
	if err := r.SendShort(code, baseName(filename)); err != nil {
		return "", err
	}
	if err := r.ReceiveHandshake(); err != nil {
		return "", err
	}
	msg, err := r.ReadMessage()
	if err != nil {
		return "", err
	}
	if msg.Header == executionResponse {
		return "", &RemoteError{Code: strings.TrimRight(string(msg.Body), "\r")}
	}
	return r.handleIncomingFile(msg.Header, msg.Body, false)
}

// ExecuteCommand issues a system control command. The reply is either
// CSV data (returned), an execution confirmation (nil result) or a
// robot error.
func (r *Robot) ExecuteCommand(command string) ([]string, error) {
	if err := r.SendShort(commandCode, command); err != nil {
		return nil, err
	}
	if err := r.ReceiveHandshake(); err != nil {
		return nil, err
	}
	msg, err := r.ReadMessage()
	if err != nil {
		return nil, err
	}
	switch msg.Header {
	case dataResponse:
		return parseCSV(msg.Body), nil
	case executionResponse:
		if result := strings.TrimRight(string(msg.Body), "\r"); result != successBody {
			return nil, &RemoteError{Code: result}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnhandledHeader, msg.Header)
	}
}

// GetVariable requests variable data of the given kind (VarByte,
// VarInteger, ...) and returns the CSV values of the 90,001 reply.
func (r *Robot) GetVariable(kind int, index string) ([]string, error) {
	if err := r.SendShort(fmt.Sprintf("03,%03d", kind+50), index); err != nil {
		return nil, err
	}
	if err := r.ReceiveHandshake(); err != nil {
		return nil, err
	}
	msg, err := r.ReadMessage()
	if err != nil {
		return nil, err
	}
	switch msg.Header {
	case dataResponse:
		return parseCSV(msg.Body), nil
	case executionResponse:
		return nil, &RemoteError{Code: strings.TrimRight(string(msg.Body), "\r")}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnhandledHeader, msg.Header)
	}
}

// ServoPower tells the ERC to turn the servos on or off
func (r *Robot) ServoPower(on bool) error {
	_, err := r.ExecuteCommand(fmt.Sprintf("SVON %s", onOff(on)))
	return err
}

func (r *Robot) ServosOn() error  { return r.ServoPower(true) }
func (r *Robot) ServosOff() error { return r.ServoPower(false) }

// Start tells the ERC to run a job; with an empty name the current job
// is resumed.
func (r *Robot) Start(job string) error {
	_, err := r.ExecuteCommand(strings.TrimRight(fmt.Sprintf("START %s", job), " "))
	return err
}

// Hold tells the ERC to stop, or clears the stop flag
func (r *Robot) Hold(hold bool) error {
	_, err := r.ExecuteCommand(fmt.Sprintf("HOLD %s", onOff(hold)))
	return err
}

func onOff(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// parseCSV splits a 90,001 data response into its values: commas
// within lines, lines terminated by \r.
func parseCSV(body []byte) []string {
	var values []string
	for _, line := range strings.Split(string(body), "\r") {
		if line == "" {
			continue
		}
		values = append(values, strings.Split(line, ",")...)
	}
	return values
}

// baseName strips the extension: TEST.JBI names the job TEST
func baseName(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
