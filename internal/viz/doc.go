// Package viz is the terminal viewer for a running simulation.
//
// Bodies are drawn as braille dots by a [PointRenderer], which implements
// the render target of the compute device and projects every point through
// the simulation camera. [Model] is the Bubble Tea program that turns tick
// messages into frames and mouse input into camera motion.
//
// # Key Bindings
//
//	Space - Pause/Resume simulation
//	O     - Toggle orbit / free-look camera
//	R     - Reseed the bodies
//	A     - Toggle axes
//	T     - Cycle color themes
//	?     - Show help
//	Q     - Quit
//
// Dragging with the left button rotates the camera; the wheel zooms.
package viz
