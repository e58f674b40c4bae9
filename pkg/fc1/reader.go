package fc1

import (
	"errors"
	"log/slog"

	"github.com/treeherder/yasnac/pkg/link"
)

// A Reader turns the noisy byte stream of a link into a sequence of
// frame payloads. It keeps a rolling buffer: a decode attempt either
// yields a frame, resynchronises by dropping one byte, or pulls more
// bytes from the link.
type Reader struct {
	logger *slog.Logger
	link   link.Link
	buf    []byte
}

func NewReader(l link.Link, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger, link: l}
}

// Next blocks until a complete frame has been received and returns its
// payload.
func (r *Reader) Next() ([]byte, error) {
	for {
		payload, consumed, err := Decode(r.buf)
		switch {
		case err == nil:
			r.buf = r.buf[consumed:]
			return payload, nil
		case errors.Is(err, ErrNeedMore):
			data, err := r.link.ReadAvailable()
			if err != nil {
				return nil, err
			}
			r.buf = append(r.buf, data...)
		case errors.Is(err, ErrInvalidHeader):
			r.logger.Debug("resynchronising", "dropped", r.buf[0])
			r.buf = r.buf[1:]
		default:
			return nil, err
		}
	}
}
