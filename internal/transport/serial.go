package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/gatemesh/pathsync/internal/schedule"
)

const maxFrameBytes = 64 << 10

// Serial speaks newline-delimited JSON frames over a serial line to a
// coordinator radio. The request frame is written as one line and the next
// line carrying the same id is the reply. One request is in flight at a
// time.
//
// A context that ends while waiting for the reply closes the port so the
// pending read returns; the port is reopened on the next Send.
type Serial struct {
	open   func() (io.ReadWriteCloser, error)
	logger *slog.Logger

	mu     sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader

	newID func() string
}

// NewSerial creates a serial transport for a tty device path. The device is
// expected to be configured (baud rate, raw mode) by the system.
func NewSerial(device string, logger *slog.Logger) *Serial {
	return NewSerialPort(func() (io.ReadWriteCloser, error) {
		return os.OpenFile(device, os.O_RDWR, 0)
	}, logger)
}

// NewSerialPort creates a serial transport over ports produced by open.
func NewSerialPort(open func() (io.ReadWriteCloser, error), logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}

	return &Serial{open: open, logger: logger, newID: uuid.NewString}
}

// Send implements Transport.
func (s *Serial) Send(ctx context.Context, targetID string, msg *schedule.SyncMessage) (*Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		port, err := s.open()
		if err != nil {
			return nil, &NodeError{Target: targetID, Msg: "open serial port: " + err.Error(), Err: ErrUnreachable}
		}

		s.port = port
		s.reader = bufio.NewReaderSize(port, maxFrameBytes)
	}

	req := newRequest(s.newID(), targetID, msg)

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: encoding frame for %q: %w", targetID, err)
	}

	type result struct {
		ack *Ack
		err error
	}

	done := make(chan result, 1)
	port, rd := s.port, s.reader

	go func() {
		ack, err := s.exchange(port, rd, targetID, req.ID, append(line, '\n'))
		done <- result{ack, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && !isNodeVerdict(r.err) {
			s.reset()
		}

		return r.ack, r.err
	case <-ctx.Done():
		// Closing the port unblocks the exchange, which then exits on its own.
		s.reset()

		return nil, ctxErr(targetID, ctx.Err())
	}
}

// exchange writes one frame and reads lines until the matching reply.
func (s *Serial) exchange(w io.Writer, rd *bufio.Reader, targetID, id string, frame []byte) (*Ack, error) {
	if _, err := w.Write(frame); err != nil {
		return nil, &NodeError{Target: targetID, Msg: "write: " + err.Error(), Err: ErrUnreachable}
	}

	for {
		line, err := rd.ReadBytes('\n')
		if err != nil {
			return nil, &NodeError{Target: targetID, Msg: "read: " + err.Error(), Err: ErrProtocol}
		}

		var r reply
		if err := json.Unmarshal(line, &r); err != nil {
			s.logger.Debug("skipping unparsable serial line",
				slog.String("node", targetID),
				slog.Int("bytes", len(line)),
			)

			continue
		}

		if r.ID != id {
			continue
		}

		return r.ack(targetID)
	}
}

// isNodeVerdict reports whether err came from a well-formed reply, in which
// case the link is healthy and stays open.
func isNodeVerdict(err error) bool {
	return errors.Is(err, ErrNack)
}

func (s *Serial) reset() {
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
		s.reader = nil
	}
}

// Close closes the serial port, if open.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	s.port = nil
	s.reader = nil

	return err
}
