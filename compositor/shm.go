package compositor

import (
	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// shmPool is a client memory region mapped read-only. Buffers keep it
// mapped after the pool object itself is destroyed.
type shmPool struct {
	client *Client
	fd     int
	data   []byte
	refs   int
}

func (p *shmPool) unref() {
	p.refs--
	if p.refs > 0 {
		return
	}
	if err := unix.Munmap(p.data); err != nil {
		logrus.WithError(err).WithField("client", p.client.ID).Warnln("Unmapping shm pool failed")
	}
	p.data = nil
	closeFD(p.fd)
	p.fd = -1
	delete(p.client.State().pools, p)
}

// Buffer is a rectangle of pixels inside a pool.
type Buffer struct {
	resource *Resource
	pool     *shmPool

	offset, width, height, stride int32
	format                        uint32
	destroyed                     bool
}

// release tells the client the server is done reading the buffer.
func (b *Buffer) release() {
	if b.destroyed {
		return
	}
	b.resource.Send(b.resource.event(opBufferRelease))
}

// pixels returns the mapped bytes of the buffer, or nil if the pool
// shrank below them.
func (b *Buffer) pixels() []byte {
	end := int64(b.offset) + int64(b.stride)*int64(b.height)
	if b.pool.data == nil || end > int64(len(b.pool.data)) {
		return nil
	}
	return b.pool.data[b.offset:end]
}

func (s *Server) bindShm(c *Client, id, version uint32) error {
	r, err := c.newResource(id, shmInterface, version, []requestHandler{s.shmCreatePool}, nil)
	if err != nil {
		return err
	}
	r.Send(r.event(opShmFormat).PutUint(shmFormatARGB8888))
	r.Send(r.event(opShmFormat).PutUint(shmFormatXRGB8888))
	return nil
}

func (s *Server) shmCreatePool(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	fd := m.FD()
	size := m.Int()
	if err := m.Err(); err != nil {
		closeFD(fd)
		return err
	}
	if size <= 0 {
		closeFD(fd)
		return r.postError(errShmInvalidStride, "invalid pool size %d", size)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		closeFD(fd)
		return r.postError(errShmInvalidFD, "failed mapping fd %d: %s", fd, err)
	}

	pool := &shmPool{client: c, fd: fd, data: data, refs: 1}
	res, err := c.newResource(id, shmPoolInterface, 1, []requestHandler{
		s.shmPoolCreateBuffer,
		destroyHandler,
		s.shmPoolResize,
	}, pool)
	if err != nil {
		pool.unref()
		return err
	}
	res.onDestroy = pool.unref
	c.State().pools[pool] = struct{}{}
	return nil
}

func (s *Server) shmPoolCreateBuffer(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	offset, width, height, stride := m.Int(), m.Int(), m.Int(), m.Int()
	format := m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	pool := r.Data.(*shmPool)
	if format != shmFormatARGB8888 && format != shmFormatXRGB8888 {
		return r.postError(errShmInvalidFormat, "unsupported format 0x%x", format)
	}
	if offset < 0 || width <= 0 || height <= 0 || int64(stride) < int64(width)*4 ||
		int64(offset)+int64(stride)*int64(height) > int64(len(pool.data)) {
		return r.postError(errShmInvalidStride, "invalid buffer %dx%d stride %d at offset %d in pool of %d bytes",
			width, height, stride, offset, len(pool.data))
	}

	buf := &Buffer{pool: pool, offset: offset, width: width, height: height, stride: stride, format: format}
	res, err := c.newResource(id, bufferInterface, 1, []requestHandler{destroyHandler}, buf)
	if err != nil {
		return err
	}
	buf.resource = res
	pool.refs++
	res.onDestroy = func() {
		buf.destroyed = true
		pool.unref()
	}
	return nil
}

// shmPoolResize remaps the pool. Pools may only grow.
func (s *Server) shmPoolResize(_ *Client, r *Resource, m *wire.Message) error {
	size := m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	pool := r.Data.(*shmPool)
	if int(size) < len(pool.data) {
		return r.postError(errShmInvalidStride, "shrinking pool from %d to %d bytes", len(pool.data), size)
	}
	if int(size) == len(pool.data) {
		return nil
	}
	data, err := unix.Mmap(pool.fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return r.postError(errShmInvalidFD, "failed remapping pool: %s", err)
	}
	if err = unix.Munmap(pool.data); err != nil {
		logrus.WithError(err).Warnln("Unmapping resized shm pool failed")
	}
	pool.data = data
	return nil
}
