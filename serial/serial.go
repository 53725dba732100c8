// Package serial runs the service console on the USB CDC port.
package serial

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/protocol"
)

// Port is the byte stream the console talks over. machine.Serialer
// satisfies it.
type Port interface {
	io.Writer
	ReadByte() (byte, error)
	Buffered() int
}

// idle is how long the loop sleeps when no input is buffered.
const idle = time.Millisecond

type Serial struct {
	port    Port
	handler *protocol.Handler
	logger  *slog.Logger
}

func NewSerial(port Port, handler *protocol.Handler, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serial{
		port:    port,
		handler: handler,
		logger:  logger,
	}
}

// Run reads frames and writes responses until ctx is done.
func (s *Serial) Run(ctx context.Context) error {
	r := &portReader{ctx: ctx, port: s.port}
	for {
		if err := s.handleOne(r); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("console read failed", slog.Any("err", err))
		}
	}
}

func (s *Serial) handleOne(r io.Reader) error {
	frame, err := protocol.ReadFrame(r)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrInvalidFrame):
			// Not at a frame start; keep scanning for the sync byte.
			return nil
		case errors.Is(err, protocol.ErrCRCMismatch):
			s.logger.Warn("console frame crc mismatch")
			return s.write(&protocol.Response{Status: protocol.StatusCRCError})
		}
		return err
	}

	resp := s.handler.Handle(frame)
	s.logger.Debug("console",
		slog.String("cmd", protocol.CommandName(frame.Cmd)),
		slog.Int("len", len(frame.Payload)),
		slog.String("status", protocol.StatusName(resp.Status)),
	)
	return s.write(resp)
}

func (s *Serial) write(resp *protocol.Response) error {
	return protocol.WriteResponse(s.port, resp)
}

// portReader turns the polling Port into a blocking io.Reader.
type portReader struct {
	ctx  context.Context
	port Port
}

func (r *portReader) Read(p []byte) (int, error) {
	for i := range p {
		b, err := r.next()
		if err != nil {
			return i, err
		}
		p[i] = b
	}
	return len(p), nil
}

func (r *portReader) next() (byte, error) {
	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		if r.port.Buffered() > 0 {
			if b, err := r.port.ReadByte(); err == nil {
				return b, nil
			}
		}
		time.Sleep(idle)
	}
}
