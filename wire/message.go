package wire

import (
	"bytes"
	"fmt"
)

// fdSource hands out file descriptors received out-of-band, in order.
type fdSource interface {
	popFD() (int, bool)
}

// Message is a decoded request or event. Arguments are read in
// declaration order through the cursor methods; the first failure
// sticks and is reported by Err.
type Message struct {
	Sender  uint32
	Opcode  uint16
	Payload []byte

	fds fdSource
	off int
	err error
}

// NewMessage wraps a payload that did not come from a Conn. Reading an
// fd argument from it fails.
func NewMessage(sender uint32, opcode uint16, payload []byte) *Message {
	return &Message{Sender: sender, Opcode: opcode, Payload: payload}
}

func (m *Message) Err() error {
	return m.err
}

func (m *Message) fail(err error) {
	if m.err == nil {
		m.err = err
	}
}

func (m *Message) Uint() uint32 {
	if m.err != nil {
		return 0
	}
	if m.off+4 > len(m.Payload) {
		m.fail(fmt.Errorf("reading argument at offset %d: %w", m.off, ErrShortMessage))
		return 0
	}
	v := byteOrder.Uint32(m.Payload[m.off:])
	m.off += 4
	return v
}

func (m *Message) Int() int32 {
	return int32(m.Uint())
}

func (m *Message) Fixed() Fixed {
	return Fixed(m.Int())
}

// Object reads an object reference, 0 stands for null.
func (m *Message) Object() uint32 {
	return m.Uint()
}

func (m *Message) NewID() uint32 {
	return m.Uint()
}

// String reads a string argument. The null string is returned as "".
func (m *Message) String() string {
	n := int(m.Uint())
	if m.err != nil || n == 0 {
		return ""
	}
	if m.off+pad4(n) > len(m.Payload) {
		m.fail(fmt.Errorf("reading string of length %d: %w", n, ErrShortMessage))
		return ""
	}
	raw := m.Payload[m.off : m.off+n]
	m.off += pad4(n)
	if raw[n-1] != 0 || bytes.IndexByte(raw[:n-1], 0) >= 0 {
		m.fail(ErrInvalidString)
		return ""
	}
	return string(raw[:n-1])
}

func (m *Message) Array() []byte {
	n := int(m.Uint())
	if m.err != nil {
		return nil
	}
	if m.off+pad4(n) > len(m.Payload) {
		m.fail(fmt.Errorf("reading array of length %d: %w", n, ErrShortMessage))
		return nil
	}
	out := make([]byte, n)
	copy(out, m.Payload[m.off:m.off+n])
	m.off += pad4(n)
	return out
}

// FD takes the next received file descriptor. The caller owns it.
func (m *Message) FD() int {
	if m.err != nil {
		return -1
	}
	if m.fds == nil {
		m.fail(ErrMissingFD)
		return -1
	}
	fd, ok := m.fds.popFD()
	if !ok {
		m.fail(ErrMissingFD)
		return -1
	}
	return fd
}

// Builder encodes one message. Descriptors added with PutFD are owned
// by the builder and closed by the Conn once sent.
type Builder struct {
	buf []byte
	fds []int
}

func NewBuilder(sender uint32, opcode uint16) *Builder {
	b := &Builder{buf: make([]byte, HeaderSize, 32)}
	byteOrder.PutUint32(b.buf[0:], sender)
	byteOrder.PutUint32(b.buf[4:], uint32(opcode))
	return b
}

func (b *Builder) PutUint(v uint32) *Builder {
	b.buf = byteOrder.AppendUint32(b.buf, v)
	return b
}

func (b *Builder) PutInt(v int32) *Builder {
	return b.PutUint(uint32(v))
}

func (b *Builder) PutFixed(v Fixed) *Builder {
	return b.PutUint(uint32(v))
}

func (b *Builder) PutObject(id uint32) *Builder {
	return b.PutUint(id)
}

func (b *Builder) PutNewID(id uint32) *Builder {
	return b.PutUint(id)
}

func (b *Builder) PutString(s string) *Builder {
	n := len(s) + 1
	b.PutUint(uint32(n))
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, make([]byte, pad4(n)-len(s))...)
	return b
}

func (b *Builder) PutArray(a []byte) *Builder {
	b.PutUint(uint32(len(a)))
	b.buf = append(b.buf, a...)
	b.buf = append(b.buf, make([]byte, pad4(len(a))-len(a))...)
	return b
}

func (b *Builder) PutFD(fd int) *Builder {
	b.fds = append(b.fds, fd)
	return b
}

// Bytes finalises the size field and returns the encoded message.
func (b *Builder) Bytes() []byte {
	word := byteOrder.Uint32(b.buf[4:])
	byteOrder.PutUint32(b.buf[4:], uint32(len(b.buf))<<16|word&0xffff)
	return b.buf
}

func (b *Builder) FDs() []int {
	return b.fds
}
