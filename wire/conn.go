package wire

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Conn is one end of a Wayland connection. ReadMessage must only be
// called from one goroutine; Queue and Flush may be called from another.
type Conn struct {
	c *net.UnixConn

	in      []byte
	readBuf []byte
	oobBuf  []byte

	fdMu sync.Mutex
	fds  []int

	outMu  sync.Mutex
	out    []byte
	outFDs []int

	// WriteTimeout bounds every Flush. Zero disables the deadline.
	WriteTimeout time.Duration
}

func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		c:       c,
		readBuf: make([]byte, MaxMessageSize),
		oobBuf:  make([]byte, unix.CmsgSpace(maxFDsPerMessage*4)),
	}
}

// Pair returns two connected Conns backed by a unix socketpair.
func Pair() (*Conn, *Conn, error) {
	a, b, err := SocketPair()
	if err != nil {
		return nil, nil, err
	}
	return NewConn(a), NewConn(b), nil
}

func (c *Conn) Unix() *net.UnixConn {
	return c.c
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.c.SetReadDeadline(t)
}

func (c *Conn) popFD() (int, bool) {
	c.fdMu.Lock()
	defer c.fdMu.Unlock()
	if len(c.fds) == 0 {
		return -1, false
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

func (c *Conn) pushFDs(oob []byte) error {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("parsing control message: %w", err)
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		c.fdMu.Lock()
		c.fds = append(c.fds, fds...)
		c.fdMu.Unlock()
	}
	return nil
}

// ReadMessage blocks until one complete message is available. Partial
// data survives read errors such as deadline expiry.
func (c *Conn) ReadMessage() (*Message, error) {
	for {
		if len(c.in) >= HeaderSize {
			word := byteOrder.Uint32(c.in[4:])
			size := int(word >> 16)
			if size < HeaderSize || size%4 != 0 {
				return nil, fmt.Errorf("message size %d: %w", size, ErrMalformed)
			}
			if size > MaxMessageSize {
				return nil, fmt.Errorf("message size %d: %w", size, ErrMessageTooLong)
			}
			if len(c.in) >= size {
				msg := &Message{
					Sender:  byteOrder.Uint32(c.in),
					Opcode:  uint16(word & 0xffff),
					Payload: append([]byte(nil), c.in[HeaderSize:size]...),
					fds:     c,
				}
				c.in = c.in[size:]
				return msg, nil
			}
		}

		n, oobn, _, _, err := c.c.ReadMsgUnix(c.readBuf, c.oobBuf)
		if oobn > 0 {
			if perr := c.pushFDs(c.oobBuf[:oobn]); perr != nil {
				return nil, perr
			}
		}
		// n is negative when the read failed outright
		if n > 0 {
			c.in = append(c.in, c.readBuf[:n]...)
		}
		if err != nil {
			return nil, err
		}
		if n == 0 && oobn == 0 {
			return nil, io.EOF
		}
	}
}

// Queue appends an encoded message to the output buffer.
func (c *Conn) Queue(b *Builder) {
	c.outMu.Lock()
	c.out = append(c.out, b.Bytes()...)
	c.outFDs = append(c.outFDs, b.FDs()...)
	c.outMu.Unlock()
}

// Flush writes everything queued. Descriptors ride along with the first
// chunk and are closed afterwards.
func (c *Conn) Flush() error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if len(c.out) == 0 {
		return nil
	}
	if c.WriteTimeout > 0 {
		_ = c.c.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}

	var oob []byte
	if len(c.outFDs) > 0 {
		oob = unix.UnixRights(c.outFDs...)
	}
	n, _, err := c.c.WriteMsgUnix(c.out, oob, nil)
	for _, fd := range c.outFDs {
		unix.Close(fd)
	}
	c.outFDs = c.outFDs[:0]
	if err != nil {
		c.out = c.out[:0]
		return fmt.Errorf("writing message: %w", err)
	}
	if n < len(c.out) {
		if _, err = c.c.Write(c.out[n:]); err != nil {
			c.out = c.out[:0]
			return fmt.Errorf("writing message remainder: %w", err)
		}
	}
	c.out = c.out[:0]
	return nil
}

// WriteMessage queues and flushes a single message.
func (c *Conn) WriteMessage(b *Builder) error {
	c.Queue(b)
	return c.Flush()
}

// Close closes the socket and any received descriptors nobody claimed.
func (c *Conn) Close() error {
	c.fdMu.Lock()
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	c.fdMu.Unlock()

	c.outMu.Lock()
	for _, fd := range c.outFDs {
		unix.Close(fd)
	}
	c.outFDs = nil
	c.outMu.Unlock()

	return c.c.Close()
}
