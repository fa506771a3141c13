// Package overlay draws the most recent detection for the active camera onto
// a canvas sized to the playback surface.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/halocam/livedemo/internal/detect"
)

var boxColor = color.RGBA{R: 0x2E, G: 0xCC, B: 0x71, A: 0xFF}

// Sized exposes the current rendered dimensions of a playback surface. The
// surface can resize independently of the stream, so scale factors are
// recomputed on every render call.
type Sized interface {
	RenderedSize() (w, h int)
}

// Renderer paints bounding boxes over the video surface. Its only persistent
// state is the last event rendered; rendering the same event twice yields the
// same canvas.
type Renderer struct {
	surface Sized

	mu   sync.Mutex
	last *detect.Event
}

func NewRenderer(surface Sized) *Renderer {
	return &Renderer{surface: surface}
}

// Render draws ev scaled to the surface's current rendered size and remembers
// it as the last event.
func (r *Renderer) Render(ev detect.Event) *image.RGBA {
	r.mu.Lock()
	r.last = &ev
	r.mu.Unlock()
	return r.draw(ev)
}

// Redraw repaints the last rendered event, e.g. after a surface resize.
// Returns nil when nothing has been rendered yet.
func (r *Renderer) Redraw() *image.RGBA {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last == nil {
		return nil
	}
	return r.draw(*last)
}

// Last returns the most recently rendered event, or nil.
func (r *Renderer) Last() *detect.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	ev := *r.last
	return &ev
}

func (r *Renderer) draw(ev detect.Event) *image.RGBA {
	w, h := r.surface.RenderedSize()
	if w <= 0 || h <= 0 {
		return nil
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	rect := scaleBBox(ev.BBox, w, h)
	drawBox(canvas, rect, boxColor, 2)

	label := ev.Label
	if ev.Confidence > 0 {
		label = fmt.Sprintf("%s %.0f%%", label, ev.Confidence*100)
	}
	drawLabel(canvas, rect.Min.X, rect.Min.Y-5, label, boxColor)
	return canvas
}

// scaleBBox maps a normalized bbox onto rendered pixel coordinates.
func scaleBBox(b detect.BBox, w, h int) image.Rectangle {
	x0 := int(b.X * float64(w))
	y0 := int(b.Y * float64(h))
	x1 := int((b.X + b.W) * float64(w))
	y1 := int((b.Y + b.H) * float64(h))
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, w, h))
}

// drawBox draws a rectangle outline on the image.
func drawBox(img *image.RGBA, rect image.Rectangle, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		for i := rect.Min.X; i < rect.Max.X && i < bounds.Max.X; i++ {
			if rect.Min.Y+t >= 0 && rect.Min.Y+t < bounds.Max.Y && i >= 0 {
				img.Set(i, rect.Min.Y+t, c)
			}
			if rect.Max.Y-1-t >= 0 && rect.Max.Y-1-t < bounds.Max.Y && i >= 0 {
				img.Set(i, rect.Max.Y-1-t, c)
			}
		}
		for j := rect.Min.Y; j < rect.Max.Y && j < bounds.Max.Y; j++ {
			if rect.Min.X+t >= 0 && rect.Min.X+t < bounds.Max.X && j >= 0 {
				img.Set(rect.Min.X+t, j, c)
			}
			if rect.Max.X-1-t >= 0 && rect.Max.X-1-t < bounds.Max.X && j >= 0 {
				img.Set(rect.Max.X-1-t, j, c)
			}
		}
	}
}

// drawLabel draws text with a dark background strip.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{A: 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
