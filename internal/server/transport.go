package server

import (
	"bytes"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftmoor/gameserver/internal/protocol"
)

// frameTransport abstracts frame-oriented transport so the same connection
// logic serves raw TCP sockets and WebSocket clients.
type frameTransport interface {
	// ReadFrame returns the next complete frame. It blocks until a frame
	// is available, the peer disconnects, or the transport is closed.
	ReadFrame() ([]byte, error)
	// WriteFrame writes one encoded frame. Not safe for concurrent use;
	// the caller serializes writes.
	WriteFrame(frame []byte) error
	// RemoteAddr is the peer address, for logging.
	RemoteAddr() string
	// Close terminates the transport. Safe to call more than once; it
	// unblocks a pending ReadFrame.
	Close() error
}

// tcpTransport frames the byte stream of a TCP socket on newline boundaries.
// Bytes accumulate in buf across reads until a full frame is present, so a
// frame split over several segments is reassembled and several frames in one
// segment are dispatched one at a time.
type tcpTransport struct {
	conn net.Conn
	buf  []byte

	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newTCPTransport(conn net.Conn, readTimeout, writeTimeout time.Duration) *tcpTransport {
	return &tcpTransport{
		conn:         conn,
		buf:          make([]byte, 0, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (t *tcpTransport) ReadFrame() ([]byte, error) {
	chunk := make([]byte, 4096)
	for {
		if i := bytes.IndexByte(t.buf, protocol.Delimiter); i >= 0 {
			frame := make([]byte, i+1)
			copy(frame, t.buf[:i+1])
			t.buf = t.buf[:copy(t.buf, t.buf[i+1:])]
			return frame, nil
		}

		if t.readTimeout > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		}
		n, err := t.conn.Read(chunk)
		if n > 0 {
			t.buf = append(t.buf, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, io.EOF
		}
	}
}

func (t *tcpTransport) WriteFrame(frame []byte) error {
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	_, err := t.conn.Write(frame)
	return err
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// wsTransport carries one envelope per WebSocket message. The WebSocket
// layer already provides message boundaries, so no newline scanning is
// needed on the read side.
type wsTransport struct {
	conn *websocket.Conn

	writeTimeout time.Duration
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteFrame(frame []byte) error {
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
