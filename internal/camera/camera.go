// Package camera implements the viewer camera with an orbiting and a
// free-look mode.
package camera

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Mode is the camera's view behaviour. The set is closed: Orbit or FreeLook.
type Mode interface {
	Name() string
	orientation(eye r3.Vec) r3.Vec
	rotate(rot r3.Rotation, eye *r3.Vec)
	zoom(f float64, eye *r3.Vec, fov *float64)
}

// Orbit looks at Focus. Rotating swings the eye around the focus and zooming
// scales the eye's distance from it.
type Orbit struct {
	Focus r3.Vec
}

func (*Orbit) Name() string { return "orbit" }

func (o *Orbit) orientation(eye r3.Vec) r3.Vec { return r3.Sub(o.Focus, eye) }

func (o *Orbit) rotate(rot r3.Rotation, eye *r3.Vec) {
	*eye = r3.Add(o.Focus, rot.Rotate(r3.Sub(*eye, o.Focus)))
}

func (o *Orbit) zoom(f float64, eye *r3.Vec, _ *float64) {
	*eye = r3.Add(o.Focus, r3.Scale(f, r3.Sub(*eye, o.Focus)))
}

// FreeLook looks along Direction from a fixed eye. Rotating turns the
// direction and zooming narrows the field of view.
type FreeLook struct {
	Direction r3.Vec
}

func (*FreeLook) Name() string { return "free-look" }

func (l *FreeLook) orientation(r3.Vec) r3.Vec { return l.Direction }

func (l *FreeLook) rotate(rot r3.Rotation, _ *r3.Vec) {
	l.Direction = rot.Rotate(l.Direction)
}

func (l *FreeLook) zoom(f float64, _ *r3.Vec, fov *float64) {
	*fov /= f
}

type Camera struct {
	Eye    r3.Vec
	Up     r3.Vec
	FOV    float64 // horizontal, radians
	Aspect float64 // width / height
	Near   float64
	Mode   Mode
}

// NewOrbit places the eye at focus - orientation looking at focus.
func NewOrbit(focus, orientation, up r3.Vec, fov, aspect, near float64) *Camera {
	return &Camera{
		Eye:    r3.Sub(focus, orientation),
		Up:     up,
		FOV:    fov,
		Aspect: aspect,
		Near:   near,
		Mode:   &Orbit{Focus: focus},
	}
}

func NewFreeLook(eye, direction, up r3.Vec, fov, aspect, near float64) *Camera {
	return &Camera{
		Eye:    eye,
		Up:     up,
		FOV:    fov,
		Aspect: aspect,
		Near:   near,
		Mode:   &FreeLook{Direction: direction},
	}
}

// Default is the viewer's startup camera: orbiting the origin from
// (-2.5, -2.5, -2.5) with y up.
func Default(aspect float64) *Camera {
	return NewOrbit(r3.Vec{}, r3.Vec{X: 2.5, Y: 2.5, Z: 2.5}, r3.Vec{Y: 1}, 2, aspect, 0.05)
}

// Clone returns a copy that shares no state with c.
func (c *Camera) Clone() *Camera {
	cp := *c
	switch m := c.Mode.(type) {
	case *Orbit:
		o := *m
		cp.Mode = &o
	case *FreeLook:
		l := *m
		cp.Mode = &l
	}
	return &cp
}

// Orientation is the view direction. In orbit mode its length is the
// distance to the focus.
func (c *Camera) Orientation() r3.Vec {
	return c.Mode.orientation(c.Eye)
}

// Rotate applies a rotation of |v| radians about v to the up vector and the
// view. A zero v is ignored.
func (c *Camera) Rotate(v r3.Vec) {
	angle := r3.Norm(v)
	if angle == 0 || math.IsNaN(angle) {
		return
	}
	rot := r3.NewRotation(angle, r3.Unit(v))
	c.Up = rot.Rotate(c.Up)
	c.Mode.rotate(rot, &c.Eye)
}

func (c *Camera) Zoom(f float64) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return
	}
	c.Mode.zoom(f, &c.Eye, &c.FOV)
}

// Toggle switches between orbit and free-look keeping eye and orientation.
func (c *Camera) Toggle() {
	o := c.Orientation()
	switch m := c.Mode.(type) {
	case *Orbit:
		c.Mode = &FreeLook{Direction: o}
	case *FreeLook:
		c.Mode = &Orbit{Focus: r3.Add(c.Eye, m.Direction)}
	}
}

// Project maps p to pixel coordinates on a w×h surface. depth is the
// distance along the view direction; ok is false for points behind the near
// plane or outside the view.
func (c *Camera) Project(p r3.Vec, w, h int) (x, y, depth float64, ok bool) {
	forward := c.Orientation()
	if r3.Norm(forward) == 0 {
		return 0, 0, 0, false
	}
	forward = r3.Unit(forward)
	right := r3.Cross(forward, c.Up)
	if r3.Norm(right) == 0 {
		return 0, 0, 0, false
	}
	right = r3.Unit(right)
	up := r3.Cross(right, forward)

	rel := r3.Sub(p, c.Eye)
	depth = r3.Dot(rel, forward)
	if depth < c.Near {
		return 0, 0, depth, false
	}

	// FOV is horizontal; the vertical field is FOV/Aspect.
	f := 1 / math.Tan(c.FOV/c.Aspect/2)
	nx := r3.Dot(rel, right) * f / c.Aspect / depth
	ny := r3.Dot(rel, up) * f / depth
	if nx < -1 || nx > 1 || ny < -1 || ny > 1 {
		return 0, 0, depth, false
	}
	x = (nx + 1) / 2 * float64(w)
	y = (1 - ny) / 2 * float64(h)
	return x, y, depth, true
}
