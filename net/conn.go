package net

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxFrameSize bounds a single length-prefixed frame on the wire.
const maxFrameSize = 1<<16 - 1

// Conn is a wrapper around the native golang connection that frames payloads
// with a length prefix. Writes are serialized, reads are expected from a
// single reader goroutine.
type Conn struct {
	net.Conn
	writeMut sync.Mutex
}

// Send writes the given payload as one frame on the underlying connection.
func (c *Conn) Send(buff []byte) error {
	if len(buff) > maxFrameSize {
		return fmt.Errorf("conn: payload of %d bytes exceeds frame size", len(buff))
	}
	c.writeMut.Lock()
	defer c.writeMut.Unlock()
	if err := binary.Write(c.Conn, binary.LittleEndian, uint16(len(buff))); err != nil {
		return err
	}
	_, err := c.Conn.Write(buff)
	return err
}

// Receive reads the next frame from the underlying connection. It blocks
// until a full frame arrived or the connection broke.
func (c *Conn) Receive() ([]byte, error) {
	var size uint16
	if err := binary.Read(c.Conn, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	buff := make([]byte, size)
	if _, err := io.ReadFull(c.Conn, buff); err != nil {
		return nil, err
	}
	return buff, nil
}
