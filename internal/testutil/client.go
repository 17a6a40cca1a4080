package testutil

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/driftmoor/gameserver/internal/protocol"
)

// Client is a test client speaking the newline-delimited envelope protocol
// over TCP.
type Client struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects a test client to addr, failing the test on error. The
// connection is closed on test cleanup.
func Dial(t *testing.T, addr string) *Client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("dialing %s: %v", addr, err)
	}

	c := &Client{t: t, conn: conn, reader: bufio.NewReader(conn)}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// Send writes one request envelope in the nested {"action","data"} shape.
func (c *Client) Send(action string, data map[string]any) {
	c.t.Helper()
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(map[string]any{"action": action, "data": data})
	if err != nil {
		c.t.Fatalf("marshalling request: %v", err)
	}
	c.SendRaw(append(raw, protocol.Delimiter))
}

// SendRaw writes raw bytes to the connection, for malformed-input tests.
func (c *Client) SendRaw(frame []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(frame); err != nil {
		c.t.Fatalf("writing frame: %v", err)
	}
}

// Recv reads and decodes one response envelope, failing the test on timeout
// or malformed data.
func (c *Client) Recv() protocol.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.reader.ReadBytes(protocol.Delimiter)
	if err != nil {
		c.t.Fatalf("reading response: %v", err)
	}
	env, err := protocol.Decode(line)
	if err != nil {
		c.t.Fatalf("decoding response %q: %v", line, err)
	}
	return env
}

// Close terminates the connection early.
func (c *Client) Close() {
	_ = c.conn.Close()
}
