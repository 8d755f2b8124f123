package viz

import (
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/nbodysim/internal/camera"
	"github.com/san-kum/nbodysim/internal/dynamo"
)

// PointRenderer rasterises body positions onto a braille canvas through a
// camera. DrawPoints may be called from the device executor while the UI
// reads Frame, so all state is guarded by mu.
type PointRenderer struct {
	mu      sync.Mutex
	canvas  *Canvas
	cam     *camera.Camera
	axes    bool
	drawn   int
	visible int
}

func NewPointRenderer(w, h int) *PointRenderer {
	return &PointRenderer{canvas: NewCanvas(w, h)}
}

// SetCamera stores a copy of c for subsequent draws.
func (r *PointRenderer) SetCamera(c *camera.Camera) {
	cp := c.Clone()
	r.mu.Lock()
	r.cam = cp
	r.mu.Unlock()
}

// Resize replaces the canvas with a w×h cell one.
func (r *PointRenderer) Resize(w, h int) {
	r.mu.Lock()
	r.canvas = NewCanvas(w, h)
	r.mu.Unlock()
}

// Aspect is the dot aspect ratio of the canvas.
func (r *PointRenderer) Aspect() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, h := r.canvas.Dots()
	return float64(w) / float64(h)
}

func (r *PointRenderer) ToggleAxes() {
	r.mu.Lock()
	r.axes = !r.axes
	r.mu.Unlock()
}

// DrawPoints redraws the canvas from points. The slice is not retained.
func (r *PointRenderer) DrawPoints(points []dynamo.Vec4) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.canvas.Clear()
	r.drawn = len(points)
	r.visible = 0
	if r.cam == nil {
		return
	}

	w, h := r.canvas.Dots()
	for _, p := range points {
		x, y, _, ok := r.cam.Project(r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}, w, h)
		if !ok {
			continue
		}
		r.canvas.Set(int(x), int(y))
		r.visible++
	}
	if r.axes {
		r.drawAxes(w, h)
	}
}

func (r *PointRenderer) drawAxes(w, h int) {
	ox, oy, _, ok := r.cam.Project(r3.Vec{}, w, h)
	if !ok {
		return
	}
	for _, axis := range []r3.Vec{{X: 0.5}, {Y: 0.5}, {Z: 0.5}} {
		x, y, _, ok := r.cam.Project(axis, w, h)
		if !ok {
			continue
		}
		r.canvas.DrawLine(int(ox), int(oy), int(x), int(y))
	}
}

// Frame returns the last drawn canvas.
func (r *PointRenderer) Frame() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canvas.String()
}

// Stats reports how many points the last draw received and how many landed
// on the canvas.
func (r *PointRenderer) Stats() (drawn, visible int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drawn, r.visible
}
