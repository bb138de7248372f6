// SPDX-License-Identifier: MIT

// Package broadcast implements the UDP datagram broadcaster: small
// notification packets in the default mode, or a chunked framing of the
// full spill buffer in "shm" mode. A thin client over a raw socket with
// explicit framing and no third-party codec, since the wire format here
// is fixed, not negotiable.
package broadcast

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// DefaultAddr is the fixed local broadcast endpoint.
const DefaultAddr = "127.0.0.1:5555"

// ChunkWords is the maximum payload words per datagram in chunked mode.
const ChunkWords = 4050

// ChunkPacingDelay is the pause between successive chunk datagrams.
const ChunkPacingDelay = 1 * time.Microsecond

// Control message payloads. $OPEN_FILE is nominally a 12-byte message
// but only 10 characters are actually sent; this implementation
// reproduces that exactly rather than "fixing" it, since downstream
// consumers may depend on the wire layout as-is.
const (
	MsgOpenFile   = "$OPEN_FILE"
	MsgCloseFile  = "$CLOSE_FILE"
	MsgKillSocket = "$KILL_SOCKET"
)

// Client sends notification and data datagrams to a fixed local endpoint.
type Client struct {
	addr string
	conn *net.UDPConn
	shm  bool
}

// NewClient resolves addr (DefaultAddr if empty) and dials a UDP socket.
func NewClient(addr string) (*Client, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("broadcast: resolve %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("broadcast: dial %q: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn}, nil
}

// SetShmMode toggles chunked-broadcast mode (operator `shm` command).
func (c *Client) SetShmMode(on bool) { c.shm = on }

// ShmMode reports whether chunked mode is active.
func (c *Client) ShmMode() bool { return c.shm }

// SendControl sends one of the $OPEN_FILE/$CLOSE_FILE/$KILL_SOCKET control
// messages verbatim.
func (c *Client) SendControl(msg string) error {
	_, err := c.conn.Write([]byte(msg))
	if err != nil {
		return fmt.Errorf("broadcast: send control %q: %w", msg, err)
	}
	return nil
}

// SendNotification sends a small notification datagram carrying filename,
// size, and run metadata (notification mode, the default).
func (c *Client) SendNotification(filename string, size int64, runNum int) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, int32(runNum)); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, size); err != nil {
		return err
	}
	buf.WriteString(filename)
	_, err := c.conn.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("broadcast: send notification: %w", err)
	}
	return nil
}

// SendSpill broadcasts a drained spill. In notification mode it is a no-op
// beyond what OutputFile.SendPacket already did; in shm mode it chunks the
// full buffer.
func (c *Client) SendSpill(words []uint32) error {
	if !c.shm {
		return nil
	}
	return c.sendChunked(words)
}

// sendChunked splits words into <=ChunkWords datagrams framed as
// [chunkIndex(1-based,4B), totalChunks(4B), payloadWords(4B each)],
// pacing ChunkPacingDelay between sends.
func (c *Client) sendChunked(words []uint32) error {
	n := len(words)
	if n == 0 {
		return nil
	}
	total := (n + ChunkWords - 1) / ChunkWords

	for i := 0; i < total; i++ {
		start := i * ChunkWords
		end := start + ChunkWords
		if end > n {
			end = n
		}
		payload := words[start:end]

		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.BigEndian, uint32(i+1)); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.BigEndian, uint32(total)); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.BigEndian, payload); err != nil {
			return err
		}

		if _, err := c.conn.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("broadcast: send chunk %d/%d: %w", i+1, total, err)
		}

		if i+1 < total {
			time.Sleep(ChunkPacingDelay)
		}
	}
	return nil
}

// NumChunks returns how many datagrams sendChunked would emit for n words,
// exposed for tests and status reporting.
func NumChunks(n int) int {
	if n == 0 {
		return 0
	}
	return (n + ChunkWords - 1) / ChunkWords
}

// Close closes the underlying UDP socket, sending $KILL_SOCKET first.
func (c *Client) Close() error {
	_ = c.SendControl(MsgKillSocket)
	return c.conn.Close()
}
