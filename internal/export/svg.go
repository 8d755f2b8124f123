// Package export renders body snapshots and viewer frames as SVG.
package export

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/nbodysim/internal/camera"
	"github.com/san-kum/nbodysim/internal/dynamo"
	"github.com/san-kum/nbodysim/internal/viz"
)

const (
	background = "#0a0a0a"
	starColor  = "#e0e8ff"
)

func header(sb *strings.Builder, width, height float64) {
	fmt.Fprintf(sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">
<rect width="100%%" height="100%%" fill="%s"/>
`, width, height, width, height, background)
}

// CanvasToSVG converts a braille canvas to SVG, one circle per lit dot.
func CanvasToSVG(canvas *viz.Canvas, scale float64) string {
	if canvas == nil {
		return ""
	}

	dotsW, dotsH := canvas.Dots()
	var sb strings.Builder
	header(&sb, float64(dotsW)*scale, float64(dotsH)*scale)
	fmt.Fprintf(&sb, "<g fill=\"%s\">\n", starColor)

	r := scale * 0.4
	for y := 0; y < dotsH; y++ {
		for x := 0; x < dotsW; x++ {
			if !canvas.IsSet(x, y) {
				continue
			}
			cx := float64(x)*scale + scale/2
			cy := float64(y)*scale + scale/2
			fmt.Fprintf(&sb, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.1f\"/>\n", cx, cy, r)
		}
	}

	sb.WriteString("</g>\n</svg>")
	return sb.String()
}

type projected struct {
	x, y, depth, radius float64
}

// SnapshotSVG draws bodies as seen from cam on a width×height image. Far
// bodies are drawn first; the radius grows with the cube root of the mass.
func SnapshotSVG(w io.Writer, b *dynamo.Bodies, cam *camera.Camera, width, height int) error {
	if err := b.Validate(); err != nil {
		return err
	}

	points := make([]projected, 0, b.Len())
	for i, p := range b.Positions {
		x, y, depth, ok := cam.Project(r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}, width, height)
		if !ok {
			continue
		}
		m := math.Max(float64(b.Masses[i]), 0)
		points = append(points, projected{x, y, depth, 0.8 * math.Cbrt(m+1)})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].depth > points[j].depth })

	var sb strings.Builder
	header(&sb, float64(width), float64(height))
	fmt.Fprintf(&sb, "<g fill=\"%s\">\n", starColor)
	for _, p := range points {
		fmt.Fprintf(&sb, "<circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.2f\"/>\n", p.x, p.y, p.radius)
	}
	sb.WriteString("</g>\n</svg>\n")

	_, err := io.WriteString(w, sb.String())
	return err
}
