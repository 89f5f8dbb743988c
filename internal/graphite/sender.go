package graphite

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"wgmetrics/internal/metrics"
)

// SendError reports a failed delivery. The batch it carried is gone.
type SendError struct {
	Op   string // "encode", "dial" or "write"
	Addr string
	Err  error
}

func (e *SendError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("graphite %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("graphite %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a network timeout.
func (e *SendError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Options configures a Sender.
type Options struct {
	Host         string
	Port         int
	Encoder      Encoder
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Sender delivers batches to a carbon receiver, one TCP connection per
// non-empty flush.
type Sender struct {
	addr         string
	enc          Encoder
	writeTimeout time.Duration
	log          *zap.Logger

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewSender(opts Options) *Sender {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	enc := opts.Encoder
	if enc == nil {
		enc = PickleEncoder{}
	}
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	return &Sender{
		addr:         net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		enc:          enc,
		writeTimeout: opts.WriteTimeout,
		log:          log.Named("graphite"),
		dial:         dialer.DialContext,
	}
}

// Addr returns the collector address.
func (s *Sender) Addr() string { return s.addr }

// Flush encodes and sends the pending batch. It returns the number of
// points taken from the batch; zero means there was nothing to send and no
// connection was attempted. The batch is emptied right after encoding, so
// on error those points are lost and never retransmitted.
func (s *Sender) Flush(ctx context.Context, batch *metrics.Batch) (int, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	points := batch.Points()
	payload, err := s.enc.Encode(points)
	batch.Reset()
	if err != nil {
		return len(points), &SendError{Op: "encode", Err: err}
	}

	if err := s.send(ctx, Frame(payload)); err != nil {
		return len(points), err
	}
	s.log.Debug("batch sent",
		zap.String("addr", s.addr),
		zap.Int("points", len(points)),
		zap.Int("bytes", len(payload)+HeaderSize),
	)
	return len(points), nil
}

func (s *Sender) send(ctx context.Context, frame []byte) error {
	conn, err := s.dial(ctx, "tcp", s.addr)
	if err != nil {
		return &SendError{Op: "dial", Addr: s.addr, Err: err}
	}

	var writeErr error
	if s.writeTimeout > 0 {
		writeErr = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if writeErr == nil {
		_, writeErr = conn.Write(frame)
	}
	if err := multierr.Combine(writeErr, conn.Close()); err != nil {
		return &SendError{Op: "write", Addr: s.addr, Err: err}
	}
	return nil
}
