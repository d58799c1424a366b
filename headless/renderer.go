// Package headless is a software stand-in for a real renderer. It drives
// the compositor, tiles the announced windows onto an in-memory canvas
// and can dump that canvas as png.
package headless

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mstarongithub/wayvr/compositor"
	"github.com/mstarongithub/wayvr/tiler"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

type Renderer struct {
	server *compositor.Server
	tree   *tiler.Tree
	// Tree keys to root surfaces
	windows map[string]compositor.SurfaceID

	mu     sync.Mutex
	canvas *image.RGBA

	relayout bool
	start    time.Time
}

func New(server *compositor.Server, width, height int) *Renderer {
	return &Renderer{
		server:  server,
		tree:    tiler.NewTree(),
		windows: make(map[string]compositor.SurfaceID),
		canvas:  image.NewRGBA(image.Rect(0, 0, width, height)),
		start:   time.Now(),
	}
}

// Run renders frameRate frames per second until ctx ends, the server is
// stopped or a frame fails.
func (r *Renderer) Run(ctx context.Context, frameRate int) error {
	ticker := time.NewTicker(time.Second / time.Duration(frameRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.server.Stopped():
			return nil
		case <-ticker.C:
			if err := r.Frame(); err != nil {
				return err
			}
		}
	}
}

// Frame runs one compositor tick and repaints what changed.
func (r *Renderer) Frame() error {
	if err := r.server.Tick(); err != nil {
		return err
	}
	for _, task := range r.server.Tasks().Drain() {
		r.apply(task)
	}

	dirty := r.relayout
	for _, id := range r.windows {
		// Consume every mark, even after the first hit
		if r.consumeDirty(id) {
			dirty = true
		}
	}
	if dirty {
		r.repaint()
		r.relayout = false
	}

	now := uint32(time.Since(r.start).Milliseconds())
	for _, id := range r.windows {
		r.server.DeliverFrameCallbacks(id, now)
	}
	for _, id := range r.server.FrameRoots() {
		r.server.DeliverFrameCallbacks(id, now)
	}
	return nil
}

func (r *Renderer) apply(task compositor.Task) {
	switch t := task.(type) {
	case compositor.NewToplevelTask:
		r.add(fmt.Sprintf("toplevel-%d", t.Toplevel), t.Surface)
	case compositor.ToplevelDestroyedTask:
		r.remove(fmt.Sprintf("toplevel-%d", t.Toplevel))
	case compositor.BridgedWindowMappedTask:
		r.add(fmt.Sprintf("x11-%d", t.Window), t.Surface)
	case compositor.BridgedWindowUnmappedTask:
		r.remove(fmt.Sprintf("x11-%d", t.Window))
	default:
		logrus.WithField("task", fmt.Sprintf("%T", task)).Warnln("Unknown task")
	}
}

func (r *Renderer) add(key string, surface compositor.SurfaceID) {
	if !r.tree.AddApp(key) {
		return
	}
	r.windows[key] = surface
	r.relayout = true
	logrus.WithFields(logrus.Fields{
		"window":  key,
		"surface": surface,
	}).Debugln("Window placed")
}

func (r *Renderer) remove(key string) {
	if _, ok := r.windows[key]; !ok {
		return
	}
	r.tree.RemoveApp(key, true)
	delete(r.windows, key)
	r.relayout = true
	logrus.WithField("window", key).Debugln("Window removed")
}

func (r *Renderer) consumeDirty(id compositor.SurfaceID) bool {
	dirty := r.server.CheckRedraw(id)
	info, ok := r.server.Surface(id)
	if !ok {
		return dirty
	}
	for _, child := range info.Children {
		if r.consumeDirty(child) {
			dirty = true
		}
	}
	return dirty
}

func (r *Renderer) repaint() {
	r.mu.Lock()
	defer r.mu.Unlock()
	draw.Draw(r.canvas, r.canvas.Bounds(), image.Black, image.Point{}, draw.Src)
	for key, rect := range r.tree.Layout(r.canvas.Bounds()) {
		id, ok := r.windows[key]
		if !ok {
			continue
		}
		r.drawTree(id, rect, rect.Min)
	}
}

// drawTree paints a surface and its subsurfaces clipped to the window
// rectangle. Only root surfaces bigger than the tile get scaled down.
func (r *Renderer) drawTree(id compositor.SurfaceID, tile image.Rectangle, origin image.Point) {
	info, ok := r.server.Surface(id)
	if !ok {
		return
	}
	if view, ok := r.server.SurfaceBuffer(id); ok {
		src := toRGBA(view)
		dst := src.Bounds().Add(origin)
		if info.Parent == 0 && !dst.In(tile) {
			draw.ApproxBiLinear.Scale(r.canvas, tile, src, src.Bounds(), draw.Over, nil)
		} else {
			draw.Draw(r.canvas, dst.Intersect(tile), src, src.Bounds().Min.Add(dst.Intersect(tile).Min.Sub(dst.Min)), draw.Over)
		}
	}
	for _, child := range info.Children {
		if ci, ok := r.server.Surface(child); ok {
			r.drawTree(child, tile, origin.Add(ci.Offset))
		}
	}
}

// toRGBA converts little endian ARGB8888/XRGB8888 to RGBA. Both are
// premultiplied, as is image.RGBA.
func toRGBA(v compositor.BufferView) *image.RGBA {
	w, h, stride := int(v.Width), int(v.Height), int(v.Stride)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	opaque := v.Opaque()
	for y := 0; y < h; y++ {
		src := v.Pixels[y*stride : y*stride+w*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			dst[x], dst[x+1], dst[x+2], dst[x+3] = src[x+2], src[x+1], src[x], src[x+3]
			if opaque {
				dst[x+3] = 0xff
			}
		}
	}
	return img
}

// Snapshot encodes the current canvas as png.
func (r *Renderer) Snapshot(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return png.Encode(w, r.canvas)
}

func (r *Renderer) WritePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	if err = r.Snapshot(f); err != nil {
		f.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return f.Close()
}
