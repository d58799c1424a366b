package compositor

import (
	"github.com/mstarongithub/wayvr/wire"
	"github.com/sirupsen/logrus"
)

// Clipboard and drag and drop are accepted so toolkits start up, but no
// data is ever transferred.
type dataDeviceState struct {
	selection *dataSource
}

func (st *dataDeviceState) init() {}

type dataSource struct {
	mimeTypes []string
	actions   uint32
}

func (s *Server) bindDataDeviceManager(c *Client, id, version uint32) error {
	_, err := c.newResource(id, dataDeviceManagerInterface, version, []requestHandler{
		s.dataDeviceManagerCreateSource,
		s.dataDeviceManagerGetDevice,
	}, nil)
	return err
}

func (s *Server) dataDeviceManagerCreateSource(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	if err := m.Err(); err != nil {
		return err
	}
	src := &dataSource{}
	res, err := c.newResource(id, dataSourceInterface, r.Version, []requestHandler{
		dataSourceOffer,
		destroyHandler,
		dataSourceSetActions,
	}, src)
	if err != nil {
		return err
	}
	res.onDestroy = func() {
		if s.dataDevice.selection == src {
			s.dataDevice.selection = nil
		}
	}
	return nil
}

func dataSourceOffer(_ *Client, r *Resource, m *wire.Message) error {
	mime := m.String()
	if err := m.Err(); err != nil {
		return err
	}
	src := r.Data.(*dataSource)
	src.mimeTypes = append(src.mimeTypes, mime)
	return nil
}

func dataSourceSetActions(_ *Client, r *Resource, m *wire.Message) error {
	actions := m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	r.Data.(*dataSource).actions = actions
	return nil
}

func (s *Server) dataDeviceManagerGetDevice(c *Client, r *Resource, m *wire.Message) error {
	id := m.NewID()
	seatID := m.Object()
	if err := m.Err(); err != nil {
		return err
	}
	if _, err := c.lookup(seatID, seatInterface, false); err != nil {
		return err
	}
	_, err := c.newResource(id, dataDeviceInterface, r.Version, []requestHandler{
		s.dataDeviceStartDrag,
		s.dataDeviceSetSelection,
		destroyHandler,
	}, nil)
	return err
}

func (s *Server) dataDeviceStartDrag(c *Client, _ *Resource, m *wire.Message) error {
	sourceID := m.Object()
	originID := m.Object()
	iconID := m.Object()
	serial := m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	c.log().WithFields(logrus.Fields{
		"source": sourceID,
		"origin": originID,
		"icon":   iconID,
		"serial": serial,
	}).Debugln("Drag ignored")
	return nil
}

func (s *Server) dataDeviceSetSelection(c *Client, _ *Resource, m *wire.Message) error {
	sourceID := m.Object()
	serial := m.Uint()
	if err := m.Err(); err != nil {
		return err
	}
	res, err := c.lookup(sourceID, dataSourceInterface, true)
	if err != nil {
		return err
	}
	s.dataDevice.selection = nil
	if res != nil {
		s.dataDevice.selection = res.Data.(*dataSource)
	}
	entry := c.log().WithField("serial", serial)
	if s.dataDevice.selection != nil {
		entry = entry.WithField("mime_types", s.dataDevice.selection.mimeTypes)
	}
	entry.Debugln("Selection set")
	return nil
}
