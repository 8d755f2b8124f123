package camera

import "gonum.org/v1/gonum/spatial/r3"

// Controls maps pointer input to camera motion.
type Controls struct {
	MouseSensitivity  float64 `yaml:"mouse_sensitivity"`
	ScrollSensitivity float64 `yaml:"scroll_sensitivity"`
	LineSize          float64 `yaml:"line_size"`
}

func DefaultControls() Controls {
	return Controls{
		MouseSensitivity:  0.7,
		ScrollSensitivity: 7,
		LineSize:          0.5,
	}
}

// Lines converts a wheel movement in lines to a scroll delta.
func (ctl Controls) Lines(x, y float64) [2]float64 {
	return [2]float64{x * ctl.LineSize, -y * ctl.LineSize}
}

// Apply advances cam by one frame of input. A drag yaws about the camera's
// up vector and pitches about up × orientation; a vertical scroll zooms by
// scroll·dt·sensitivity + 1.
func (ctl Controls) Apply(cam *Camera, drag [2]float64, dragging bool, scroll [2]float64, dt float64) {
	if dragging && (drag[0] != 0 || drag[1] != 0) {
		up := cam.Up
		if n := r3.Norm(up); n != 0 && n != 1 {
			up = r3.Unit(up)
			cam.Up = up
		}
		pitch := r3.Cross(up, cam.Orientation())
		if r3.Norm(pitch) != 0 {
			pitch = r3.Unit(pitch)
		}
		k := ctl.MouseSensitivity * 0.01
		v := r3.Add(r3.Scale(-drag[0]*k, up), r3.Scale(drag[1]*k, pitch))
		cam.Rotate(v)
	}

	if scroll[1] != 0 && ctl.ScrollSensitivity != 0 {
		cam.Zoom(scroll[1]*dt*ctl.ScrollSensitivity + 1)
	}
}
