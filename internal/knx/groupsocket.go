package knx

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"
)

// frameBufferSize bounds a single knxd frame. Group packets are far smaller,
// so a larger size header means the stream is out of step.
const frameBufferSize = 256

// groupSocket is one knxd connection in GROUPCON mode. Reads are confined
// to the receive goroutine; writes are serialised by the Client.
type groupSocket struct {
	conn        net.Conn
	readTimeout time.Duration
	buf         [frameBufferSize]byte
}

// parseConnectionURL maps unix:///path and tcp://host:port to dial
// arguments. tcp:// without a host means localhost:6720.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "tcp", "localhost:6720", nil
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// dialGroupSocket connects and performs the EIB_OPEN_GROUPCON handshake.
// ctx bounds both.
func dialGroupSocket(ctx context.Context, network, address string, readTimeout time.Duration) (*groupSocket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	s := &groupSocket{conn: conn, readTimeout: readTimeout}

	// Three zero bytes: no filtering, read/write group socket.
	if err := s.write(deadlineFor(ctx, writeTimeout), EIBOpenGroupCon, []byte{0, 0, 0}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	msgType, _, err := s.readFrame(deadlineFor(ctx, readTimeout))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if msgType != EIBOpenGroupCon {
		conn.Close()
		return nil, fmt.Errorf("handshake: knxd answered 0x%04X", msgType)
	}
	return s, nil
}

// deadlineFor returns now+d, or the context deadline when that is sooner.
func deadlineFor(ctx context.Context, d time.Duration) time.Time {
	deadline := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}

func (s *groupSocket) write(deadline time.Time, msgType uint16, payload []byte) error {
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := s.conn.Write(EncodeKNXDMessage(msgType, payload))
	return err
}

// next reads one frame with the idle read timeout. The payload aliases the
// socket buffer and is only valid until the next read.
func (s *groupSocket) next() (uint16, []byte, error) {
	return s.readFrame(time.Now().Add(s.readTimeout))
}

// readFrame reads one size-prefixed frame. An impossible size returns
// ErrProtocolDesync.
func (s *groupSocket) readFrame(deadline time.Time) (uint16, []byte, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}
	if _, err := io.ReadFull(s.conn, s.buf[:2]); err != nil {
		return 0, nil, err
	}
	n := 2 + int(binary.BigEndian.Uint16(s.buf[:2]))
	if n < 4 || n > len(s.buf) {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes", ErrProtocolDesync, n)
	}
	if _, err := io.ReadFull(s.conn, s.buf[2:n]); err != nil {
		return 0, nil, err
	}
	return ParseKNXDMessage(s.buf[:n])
}

// close sends EIB_CLOSE when polite is set, then drops the socket.
func (s *groupSocket) close(polite bool) {
	if polite {
		_ = s.write(time.Now().Add(writeTimeout), EIBClose, nil) //nolint:errcheck // knxd copes with a dropped socket
	}
	s.conn.Close()
}
