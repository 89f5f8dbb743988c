package graphite

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"wgmetrics/internal/metrics"
	"wgmetrics/internal/model"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

type failingEncoder struct{}

func (failingEncoder) Encode([]model.Point) ([]byte, error) { return nil, errors.New("boom") }

func fillBatch(b *metrics.Batch) {
	for _, p := range samplePoints {
		b.Add(p.Path, p.Timestamp, p.Value)
	}
}

// collector accepts connections on loopback and hands back whatever each
// connection wrote.
func collector(t *testing.T) (net.Listener, <-chan []byte) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	received := make(chan []byte, 4)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			data, _ := io.ReadAll(conn)
			_ = conn.Close()
			received <- data
		}
	}()
	return l, received
}

func TestSenderFlush_WritesFramedPayload(t *testing.T) {
	t.Parallel()

	l, received := collector(t)
	s := NewSender(Options{
		Host:         "127.0.0.1",
		Port:         l.Addr().(*net.TCPAddr).Port,
		DialTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		Logger:       zaptest.NewLogger(t),
	})

	var b metrics.Batch
	fillBatch(&b)
	n, err := s.Flush(context.Background(), &b)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 2 || b.Len() != 0 {
		t.Fatalf("n=%d pending=%d", n, b.Len())
	}

	var data []byte
	select {
	case data = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("collector received nothing")
	}
	want, _ := PickleEncoder{}.Encode(samplePoints)
	if len(data) < HeaderSize || int(binary.BigEndian.Uint32(data)) != len(data)-HeaderSize {
		t.Fatalf("bad frame header: %x", data[:HeaderSize])
	}
	if !bytes.Equal(data[HeaderSize:], want) {
		t.Fatalf("payload mismatch")
	}
}

func TestSenderFlush_SecondFlushIsNoop(t *testing.T) {
	t.Parallel()

	l, _ := collector(t)
	s := NewSender(Options{Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port, DialTimeout: time.Second})
	dials := 0
	dial := s.dial
	s.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials++
		return dial(ctx, network, addr)
	}

	var b metrics.Batch
	fillBatch(&b)
	if _, err := s.Flush(context.Background(), &b); err != nil {
		t.Fatalf("Flush #1: %v", err)
	}
	n, err := s.Flush(context.Background(), &b)
	if err != nil || n != 0 {
		t.Fatalf("Flush #2 n=%d err=%v", n, err)
	}
	if dials != 1 {
		t.Fatalf("dials=%d", dials)
	}
}

func TestSenderFlush_DialTimeoutDropsBatch(t *testing.T) {
	t.Parallel()

	s := NewSender(Options{Host: "192.0.2.1", Port: 2004})
	s.dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: timeoutErr{}}
	}

	var b metrics.Batch
	fillBatch(&b)
	n, err := s.Flush(context.Background(), &b)
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Op != "dial" {
		t.Fatalf("err=%v", err)
	}
	if !sendErr.Timeout() {
		t.Fatalf("expected timeout: %v", err)
	}
	if n != 2 || b.Len() != 0 {
		t.Fatalf("n=%d pending=%d", n, b.Len())
	}
	if s.Addr() != "192.0.2.1:2004" {
		t.Fatalf("addr=%s", s.Addr())
	}
}

func TestSenderFlush_EncodeFailureDropsBatch(t *testing.T) {
	t.Parallel()

	s := NewSender(Options{Host: "127.0.0.1", Port: 1, Encoder: failingEncoder{}})
	s.dial = func(context.Context, string, string) (net.Conn, error) {
		t.Fatal("dial must not happen after encode failure")
		return nil, nil
	}

	var b metrics.Batch
	fillBatch(&b)
	_, err := s.Flush(context.Background(), &b)
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Op != "encode" {
		t.Fatalf("err=%v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("pending=%d", b.Len())
	}
}
