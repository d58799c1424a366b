package compositor

import (
	"fmt"
	"image"

	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	seatName = "seat0"

	repeatRate  = 25
	repeatDelay = 600
)

// MouseIndex names a pointer button of the external input source.
type MouseIndex int

const (
	MouseLeft MouseIndex = iota
	MouseCenter
	MouseRight
)

// Linux input event codes
var mouseButtons = map[MouseIndex]uint32{
	MouseLeft:   0x110,
	MouseRight:  0x111,
	MouseCenter: 0x112,
}

func ParseMouseIndex(name string) (MouseIndex, error) {
	switch name {
	case "left":
		return MouseLeft, nil
	case "middle", "center":
		return MouseCenter, nil
	case "right":
		return MouseRight, nil
	}
	return 0, fmt.Errorf("unknown mouse button %q", name)
}

type seatState struct {
	pointers  map[*Client][]*Resource
	keyboards map[*Client][]*Resource
	// Surface the pointer entered last
	pointerFocus *Surface
}

func (st *seatState) init() {
	st.pointers = make(map[*Client][]*Resource)
	st.keyboards = make(map[*Client][]*Resource)
}

func (s *Server) bindSeat(c *Client, id, version uint32) error {
	r, err := c.newResource(id, seatInterface, version, []requestHandler{
		s.seatGetPointer,
		s.seatGetKeyboard,
		s.seatGetTouch,
		destroyHandler,
	}, nil)
	if err != nil {
		return err
	}
	r.Send(r.event(opSeatCapabilities).PutUint(seatCapabilityPointer | seatCapabilityKeyboard))
	if version >= 2 {
		r.Send(r.event(opSeatName).PutString(seatName))
	}
	return nil
}

// track adds r to the per-client list and removes it again on destroy.
func track(list map[*Client][]*Resource, c *Client, r *Resource) {
	list[c] = append(list[c], r)
	r.onDestroy = func() {
		rest := list[c][:0]
		for _, o := range list[c] {
			if o != r {
				rest = append(rest, o)
			}
		}
		if len(rest) == 0 {
			delete(list, c)
			return
		}
		list[c] = rest
	}
}

func (s *Server) seatGetPointer(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	p, err := c.newResource(id, pointerInterface, r.Version, []requestHandler{
		s.pointerSetCursor,
		destroyHandler,
	}, nil)
	if err != nil {
		return err
	}
	track(s.seat.pointers, c, p)
	return nil
}

func (s *Server) seatGetKeyboard(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	k, err := c.newResource(id, keyboardInterface, r.Version, []requestHandler{destroyHandler}, nil)
	if err != nil {
		return err
	}
	track(s.seat.keyboards, c, k)

	fd, err := emptyKeymap()
	if err != nil {
		return fmt.Errorf("creating keymap: %w", err)
	}
	k.Send(k.event(opKeyboardKeymap).
		PutUint(keymapFormatNoKeymap).
		PutFD(fd).
		PutUint(0))
	if k.Version >= 4 {
		k.Send(k.event(opKeyboardRepeatInfo).PutInt(repeatRate).PutInt(repeatDelay))
	}
	return nil
}

// emptyKeymap is the fd sent along a no_keymap keymap event.
func emptyKeymap() (int, error) {
	fd, err := unix.MemfdCreate("wayvr-keymap", unix.MFD_CLOEXEC)
	if err == nil {
		return fd, nil
	}
	return unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
}

func (s *Server) seatGetTouch(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	_, err := c.newResource(id, touchInterface, r.Version, []requestHandler{destroyHandler}, nil)
	return err
}

func (s *Server) pointerSetCursor(c *Client, r *Resource, m *wire.Message) error {
	serial := m.Uint()
	surfaceID := m.Object()
	hx, hy := m.Int(), m.Int()
	if err := m.Err(); err != nil {
		return err
	}
	res, err := c.lookup(surfaceID, surfaceInterface, true)
	if err != nil {
		return err
	}
	var surf *Surface
	if res != nil {
		surf = res.Data.(*Surface)
		if surf.role != roleNone && surf.role != roleCursor {
			return r.postError(0, "wl_surface@%d already has the %s role", surfaceID, surf.role)
		}
		surf.role = roleCursor
	}
	s.cursorImage(c, serial, surf, image.Pt(int(hx), int(hy)))
	return nil
}

// cursorImage is where a renderer would pick up the cursor surface.
func (s *Server) cursorImage(c *Client, serial uint32, surf *Surface, hotspot image.Point) {
	entry := c.log().WithFields(logrus.Fields{
		"serial":  serial,
		"hotspot": hotspot,
	})
	if surf == nil {
		entry.Debugln("Cursor hidden")
		return
	}
	entry.WithField("surface", surf.ID).Debugln("Cursor image changed")
}

// focusChanged is where a renderer would restack or highlight windows.
func (s *Server) focusChanged(prev, next *Toplevel) {
	fields := logrus.Fields{}
	if prev != nil {
		fields["from"] = prev.ID
	}
	if next != nil {
		fields["to"] = next.ID
	}
	logrus.WithFields(fields).Debugln("Keyboard focus changed")
}

func (s *Server) focusedSurface() *Surface {
	if tl := s.shell.focused; tl != nil && tl.xdg.surface.resource != nil && !tl.xdg.surface.resource.destroyed {
		return tl.xdg.surface
	}
	return nil
}

// sendPointer emits one event to every pointer the surface's client holds,
// each followed by a frame where the version has it.
func (s *Server) sendPointer(surf *Surface, build func(p *Resource) *wire.Builder) {
	for _, p := range s.seat.pointers[surf.client] {
		p.Send(build(p))
		if p.Version >= 5 {
			p.Send(p.event(opPointerFrame))
		}
	}
}

// updatePointerFocus moves the pointer to target, emitting leave and
// enter as needed. It reports whether target has the pointer now.
func (s *Server) updatePointerFocus(target *Surface, x, y wire.Fixed) bool {
	prev := s.seat.pointerFocus
	if prev == target {
		return target != nil
	}
	if prev != nil {
		serial := s.nextSerial()
		s.sendPointer(prev, func(p *Resource) *wire.Builder {
			return p.event(opPointerLeave).PutUint(serial).PutObject(prev.resource.ID)
		})
	}
	s.seat.pointerFocus = target
	if target == nil {
		return false
	}
	serial := s.nextSerial()
	s.sendPointer(target, func(p *Resource) *wire.Builder {
		return p.event(opPointerEnter).
			PutUint(serial).
			PutObject(target.resource.ID).
			PutFixed(x).
			PutFixed(y)
	})
	return true
}

// PointerMotion moves the pointer to surface-local coordinates of the
// focused window. Hit testing happens outside the compositor.
func (s *Server) PointerMotion(x, y float64) {
	fx, fy := wire.FixedFromFloat(x), wire.FixedFromFloat(y)
	target := s.focusedSurface()
	if !s.updatePointerFocus(target, fx, fy) {
		return
	}
	now := s.now()
	s.sendPointer(target, func(p *Resource) *wire.Builder {
		return p.event(opPointerMotion).PutUint(now).PutFixed(fx).PutFixed(fy)
	})
}

func (s *Server) PointerButton(button MouseIndex, pressed bool) {
	target := s.seat.pointerFocus
	code, ok := mouseButtons[button]
	if target == nil || !ok {
		return
	}
	state := uint32(pointerButtonReleased)
	if pressed {
		state = pointerButtonPressed
	}
	serial, now := s.nextSerial(), s.now()
	s.sendPointer(target, func(p *Resource) *wire.Builder {
		return p.event(opPointerButton).PutUint(serial).PutUint(now).PutUint(code).PutUint(state)
	})
}

// PointerScroll scrolls vertically by delta surface units.
func (s *Server) PointerScroll(delta float64) {
	target := s.seat.pointerFocus
	if target == nil {
		return
	}
	now := s.now()
	s.sendPointer(target, func(p *Resource) *wire.Builder {
		return p.event(opPointerAxis).PutUint(now).PutUint(pointerAxisVertical).PutFixed(wire.FixedFromFloat(delta))
	})
}
