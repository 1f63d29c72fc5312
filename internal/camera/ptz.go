package camera

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPTZUnavailable is returned by the stub PTZController. No ONVIF client
// library is available in this module's dependency stack, so ptz_move
// commands against a PTZ-enabled camera fail explicitly rather than
// silently no-op, matching spec §9's fallback for an unavailable vendor.
var ErrPTZUnavailable = errors.New("camera: ptz control unavailable (no onvif client wired)")

// Direction is one of the six named PTZ directions of spec §4.4.6.
type Direction string

const (
	DirectionUp       Direction = "up"
	DirectionDown     Direction = "down"
	DirectionLeft     Direction = "left"
	DirectionRight    Direction = "right"
	DirectionZoomIn   Direction = "zoomin"
	DirectionZoomOut  Direction = "zoomout"
)

// directionVelocity is the (pan, tilt, zoom) multiplier for a direction, before
// scaling by the configured step (spec §4.4.6).
var directionVelocity = map[Direction][3]float64{
	DirectionUp:      {0, 1, 0},
	DirectionDown:    {0, -1, 0},
	DirectionLeft:    {-1, 0, 0},
	DirectionRight:   {1, 0, 0},
	DirectionZoomIn:  {0, 0, 1},
	DirectionZoomOut: {0, 0, -1},
}

// Velocity scales a direction's unit vector by the camera's configured
// pan/tilt and zoom steps.
func Velocity(dir Direction, panTiltStep, zoomStep float64) (pan, tilt, zoom float64, ok bool) {
	v, known := directionVelocity[dir]
	if !known {
		return 0, 0, 0, false
	}
	return v[0] * panTiltStep, v[1] * panTiltStep, v[2] * zoomStep, true
}

// PTZController drives a camera's pan-tilt-zoom service. Move is serialised
// by the implementation's own mutex, per spec §5 ("PTZ control session:
// serialised by a mutex so concurrent move requests apply in order").
type PTZController interface {
	Initialize(ctx context.Context, host string, port int, username, password, wsdlDir string) error
	Move(ctx context.Context, pan, tilt, zoom float64) error
}

// stubPTZController satisfies PTZController but always fails, so a
// PTZ-enabled camera config degrades to an explicit error response rather
// than a silent no-op move (spec §9 decision).
type stubPTZController struct {
	mu sync.Mutex
}

// NewPTZController returns the only PTZController implementation this
// module ships. A real deployment would swap in an ONVIF-backed
// implementation; see DESIGN.md for why none is wired here.
func NewPTZController() PTZController {
	return &stubPTZController{}
}

func (s *stubPTZController) Initialize(context.Context, string, int, string, string, string) error {
	return ErrPTZUnavailable
}

func (s *stubPTZController) Move(ctx context.Context, _, _, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// No move is performed and no delay is added: the lock is taken, a
	// canceled ctx is reported, and otherwise ErrPTZUnavailable is returned.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(0):
	}
	return ErrPTZUnavailable
}
