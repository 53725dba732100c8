package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/message"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/protocol"
)

type fakePort struct {
	mu  sync.Mutex
	in  bytes.Buffer
	out bytes.Buffer
}

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	p.in.Write(b)
	p.mu.Unlock()
}

func (p *fakePort) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.ReadByte()
}

func (p *fakePort) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.Len()
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) output() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func frameBytes(t *testing.T, f *protocol.Frame) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := protocol.WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	return buf.Bytes()
}

func startConsole(t *testing.T, cell *message.Cell) (*fakePort, func()) {
	t.Helper()
	port := &fakePort{}
	h := protocol.NewHandler(protocol.Deps{Cell: cell})
	s := NewSerial(port, h, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	return port, func() {
		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(time.Second):
			t.Error("Run did not stop")
		}
	}
}

// waitResponses blocks until n response frames have been written.
func waitResponses(t *testing.T, port *fakePort, n int) []*protocol.Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r := bytes.NewReader(port.output())
		var resps []*protocol.Response
		for {
			resp, err := protocol.ReadResponse(r)
			if err != nil {
				break
			}
			resps = append(resps, resp)
		}
		if len(resps) >= n {
			return resps
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d responses", n)
	return nil
}

func TestPingRoundTrip(t *testing.T) {
	port, stop := startConsole(t, nil)
	defer stop()

	port.feed(frameBytes(t, &protocol.Frame{Cmd: protocol.CmdPing, Payload: []byte{1, 2}}))

	resps := waitResponses(t, port, 1)
	if resps[0].Status != protocol.StatusOK || !bytes.Equal(resps[0].Payload, []byte{1, 2}) {
		t.Errorf("got %+v", resps[0])
	}
}

func TestResyncAfterGarbage(t *testing.T) {
	cell := &message.Cell{}
	port, stop := startConsole(t, cell)
	defer stop()

	port.feed([]byte{0x00, 0x13, 0x37})
	port.feed(frameBytes(t, &protocol.Frame{Cmd: protocol.CmdSetMessage, Payload: []byte("usb")}))

	resps := waitResponses(t, port, 1)
	if resps[0].Status != protocol.StatusOK {
		t.Fatalf("status = %s", protocol.StatusName(resps[0].Status))
	}
	if text, ok := cell.ReadAndClear(); !ok || text != "usb" {
		t.Errorf("cell = %q, %v", text, ok)
	}
}

func TestCRCErrorAnswered(t *testing.T) {
	port, stop := startConsole(t, nil)
	defer stop()

	bad := frameBytes(t, &protocol.Frame{Cmd: protocol.CmdPing})
	bad[len(bad)-1] ^= 0xFF
	port.feed(bad)
	port.feed(frameBytes(t, &protocol.Frame{Cmd: protocol.CmdPing}))

	resps := waitResponses(t, port, 2)
	if resps[0].Status != protocol.StatusCRCError {
		t.Errorf("first status = %s", protocol.StatusName(resps[0].Status))
	}
	if resps[1].Status != protocol.StatusOK {
		t.Errorf("second status = %s", protocol.StatusName(resps[1].Status))
	}
}
