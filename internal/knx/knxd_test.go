package knx

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockKNXD speaks the server side of GROUPCON on a loopback listener.
type mockKNXD struct {
	ln       net.Listener
	accepted chan net.Conn
	frames   chan []byte
	closes   chan struct{}

	mu    sync.Mutex
	conns []net.Conn
}

func newMockKNXD(t *testing.T) *mockKNXD {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := &mockKNXD{
		ln:       ln,
		accepted: make(chan net.Conn, 8),
		frames:   make(chan []byte, 32),
		closes:   make(chan struct{}, 8),
	}
	go m.acceptLoop()
	t.Cleanup(m.close)
	return m
}

func (m *mockKNXD) url() string {
	return "tcp://" + m.ln.Addr().String()
}

func (m *mockKNXD) acceptLoop() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns = append(m.conns, conn)
		m.mu.Unlock()
		go m.serve(conn)
	}
}

func (m *mockKNXD) serve(conn net.Conn) {
	for {
		msgType, payload, err := readTestFrame(conn)
		if err != nil {
			return
		}
		switch msgType {
		case EIBOpenGroupCon:
			if _, err := conn.Write(EncodeKNXDMessage(EIBOpenGroupCon, nil)); err != nil {
				return
			}
			m.accepted <- conn
		case EIBGroupPacket:
			m.frames <- append([]byte(nil), payload...)
		case EIBClose:
			m.closes <- struct{}{}
			return
		}
	}
}

func (m *mockKNXD) close() {
	m.ln.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		c.Close()
	}
}

func readTestFrame(r io.Reader) (uint16, []byte, error) {
	head := make([]byte, 2)
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, nil, err
	}
	body := make([]byte, binary.BigEndian.Uint16(head))
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return ParseKNXDMessage(append(head, body...))
}

func waitConn(t *testing.T, ch <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for GROUPCON handshake")
		return nil
	}
}

func waitFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for group packet")
		return nil
	}
}

func connectTestClient(t *testing.T, m *mockKNXD) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Connect(ctx, ClientConfig{
		Connection:        m.url(),
		ReconnectInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientSend(t *testing.T) {
	m := newMockKNXD(t)
	c := connectTestClient(t, m)
	waitConn(t, m.accepted)

	ctx := context.Background()
	ga := MustParseGroupAddress("1/2/3")

	if err := c.Send(ctx, ga, EncodeDPT1(true)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := waitFrame(t, m.frames); !bytes.Equal(got, []byte{0x0A, 0x03, 0x00, 0x81}) {
		t.Errorf("write frame = %X", got)
	}

	if err := c.SendResponse(ctx, ga, EncodeDPT5(128)); err != nil {
		t.Fatalf("SendResponse() error = %v", err)
	}
	if got := waitFrame(t, m.frames); !bytes.Equal(got, []byte{0x0A, 0x03, 0x00, 0x40, 0x80}) {
		t.Errorf("response frame = %X", got)
	}

	if err := c.SendRead(ctx, ga); err != nil {
		t.Fatalf("SendRead() error = %v", err)
	}
	if got := waitFrame(t, m.frames); !bytes.Equal(got, []byte{0x0A, 0x03, 0x00, 0x00}) {
		t.Errorf("read frame = %X", got)
	}

	if stats := c.Stats(); stats.TelegramsTx != 3 || !stats.Connected {
		t.Errorf("Stats() = %+v, want 3 sent and connected", stats)
	}
}

func TestClientSendCancelledContext(t *testing.T) {
	m := newMockKNXD(t)
	c := connectTestClient(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Send(ctx, MustParseGroupAddress("1/2/3"), EncodeDPT1(true))
	if !errors.Is(err, ErrTelegramFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want ErrTelegramFailed wrapping context.Canceled", err)
	}
}

func TestClientReceive(t *testing.T) {
	m := newMockKNXD(t)
	c := connectTestClient(t, m)

	received := make(chan Telegram, 1)
	c.SetOnTelegram(func(tg Telegram) { received <- tg })

	server := waitConn(t, m.accepted)
	in := NewWriteTelegram(MustParseGroupAddress("2/1/7"), EncodeDPT5(42))
	if _, err := server.Write(EncodeKNXDMessage(EIBGroupPacket, in.EncodeReceived(0x1105))); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case got := <-received:
		if got.Source != "1.1.5" || got.Destination.String() != "2/1/7" || !got.IsWrite() {
			t.Errorf("received %v from %q", got, got.Source)
		}
		if !got.Payload.Equal(BytesPayload(42)) {
			t.Errorf("Payload = %v, want 2A", got.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("telegram not delivered")
	}

	if rx := c.Stats().TelegramsRx; rx != 1 {
		t.Errorf("TelegramsRx = %d, want 1", rx)
	}
}

func TestClientReceiveKeepsBusOrder(t *testing.T) {
	m := newMockKNXD(t)
	c := connectTestClient(t, m)

	const n = 60
	received := make(chan int32, n)
	var calls, overlaps atomic.Int32
	c.SetOnTelegram(func(tg Telegram) {
		if calls.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer calls.Add(-1)
		// Uneven callback latency lets a second worker overtake.
		time.Sleep(time.Duration(len(received)%5) * 100 * time.Microsecond)
		v, err := DecodeDPT13(tg.Payload.Data)
		if err != nil {
			t.Errorf("DecodeDPT13() error = %v", err)
		}
		received <- v
	})

	server := waitConn(t, m.accepted)
	ga := MustParseGroupAddress("1/0/1")
	var burst []byte
	for i := range n {
		tg := NewWriteTelegram(ga, EncodeDPT13(int32(i)))
		burst = append(burst, EncodeKNXDMessage(EIBGroupPacket, tg.EncodeReceived(0x1101))...)
	}
	if _, err := server.Write(burst); err != nil {
		t.Fatalf("server write: %v", err)
	}

	for want := range int32(n) {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("telegram %d delivered as value %d, want bus order", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d telegrams delivered", want, n)
		}
	}
	if overlaps.Load() != 0 {
		t.Errorf("callback ran concurrently %d times", overlaps.Load())
	}
}

func TestClientCallbackPanicRecovered(t *testing.T) {
	m := newMockKNXD(t)
	c := connectTestClient(t, m)

	calls := make(chan struct{}, 2)
	c.SetOnTelegram(func(Telegram) {
		calls <- struct{}{}
		panic("boom")
	})

	server := waitConn(t, m.accepted)
	frame := EncodeKNXDMessage(EIBGroupPacket, NewWriteTelegram(MustParseGroupAddress("1/1/1"), EncodeDPT1(true)).EncodeReceived(0x1101))
	for range 2 {
		if _, err := server.Write(frame); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}

	for i := range 2 {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("callback %d not invoked after earlier panic", i+1)
		}
	}
}

func TestClientClose(t *testing.T) {
	m := newMockKNXD(t)
	c := connectTestClient(t, m)
	waitConn(t, m.accepted)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case <-m.closes:
	case <-time.After(2 * time.Second):
		t.Error("EIB_CLOSE not sent")
	}

	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := c.Send(context.Background(), MustParseGroupAddress("1/2/3"), EncodeDPT1(true)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after Close error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v", err)
	}

	// Second close is a no-op.
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClientReconnectsAfterDesync(t *testing.T) {
	m := newMockKNXD(t)
	c := connectTestClient(t, m)
	first := waitConn(t, m.accepted)

	// Declares a 1024-byte frame, larger than any group packet.
	if _, err := first.Write([]byte{0x04, 0x00, 0x00, 0x27}); err != nil {
		t.Fatalf("server write: %v", err)
	}

	waitConn(t, m.accepted)

	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().ReconnectsTotal == 0 || !c.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatalf("client did not reconnect: %+v", c.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.Send(context.Background(), MustParseGroupAddress("1/2/3"), EncodeDPT1(false)); err != nil {
		t.Fatalf("Send() after reconnect error = %v", err)
	}
	if got := waitFrame(t, m.frames); !bytes.Equal(got, []byte{0x0A, 0x03, 0x00, 0x80}) {
		t.Errorf("frame after reconnect = %X", got)
	}
}

func TestConnectFailures(t *testing.T) {
	// A listener that is closed again leaves a port nobody answers on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := ln.Addr().String()
	ln.Close()

	// Accepts and hangs up without answering the handshake.
	rude, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer rude.Close()
	go func() {
		for {
			conn, err := rude.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	tests := []struct {
		name       string
		connection string
	}{
		{"unsupported scheme", "udp://localhost:6720"},
		{"nobody listening", "tcp://" + deadAddr},
		{"handshake rejected", "tcp://" + rude.Addr().String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			c, err := Connect(ctx, ClientConfig{Connection: tt.connection})
			if err == nil {
				c.Close()
				t.Fatal("Connect() expected error")
			}
			if !errors.Is(err, ErrConnectionFailed) {
				t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
			}
		})
	}
}

func TestParseConnectionURL(t *testing.T) {
	tests := []struct {
		input       string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{"unix:///run/knxd", "unix", "/run/knxd", false},
		{"tcp://192.168.1.10:6720", "tcp", "192.168.1.10:6720", false},
		{"tcp://", "tcp", "localhost:6720", false},
		{"http://knxd", "", "", true},
		{"://bad", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			network, address, err := parseConnectionURL(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseConnectionURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if network != tt.wantNetwork || address != tt.wantAddress {
				t.Errorf("parseConnectionURL(%q) = %q, %q", tt.input, network, address)
			}
		})
	}
}
