package udp

import (
	"errors"
	"net"
	"testing"
	"time"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	writeHits int
	deadlines int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error {
	c.deadlines++
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestNewBroadcaster_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	b, err := newBroadcaster("127.0.0.1:4000", net.ResolveUDPAddr, dial)
	if err != nil {
		t.Fatalf("newBroadcaster() error: %v", err)
	}
	defer b.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 4000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4000", gotRaddr)
	}
	if b.Dest() != "127.0.0.1:4000" {
		t.Fatalf("dest=%q", b.Dest())
	}
}

func TestNewBroadcaster_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}

	_, err := newBroadcaster("bad:addr", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestBroadcaster_Send(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	if err := b.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes for empty payload, got %d", fc.writeHits)
	}

	if err := b.Send([]byte("duty=42.5")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(fc.writes) != 1 || string(fc.writes[0]) != "duty=42.5" {
		t.Fatalf("writes=%q", fc.writes)
	}
	if fc.deadlines != 1 {
		t.Fatalf("deadlines=%d want 1", fc.deadlines)
	}
}

func TestBroadcaster_Send_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	b := &Broadcaster{dest: "x", conn: &fakeConn{writeErr: wantErr}}

	if err := b.Send([]byte{0x01}); !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestBroadcaster_CloseThenSend(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !fc.closed {
		t.Fatalf("conn not closed")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if err := b.Send([]byte("x")); err == nil {
		t.Fatalf("expected error after Close")
	}
}

func TestBroadcaster_RealLoopback(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer pc.Close()

	b, err := NewBroadcaster(pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewBroadcaster: %v", err)
	}
	defer b.Close()

	if err := b.Send([]byte("duty=10")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = pc.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if string(buf[:n]) != "duty=10" {
		t.Fatalf("got %q want duty=10", buf[:n])
	}
}
