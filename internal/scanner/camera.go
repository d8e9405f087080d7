package scanner

import (
	"context"
	"errors"
	"image"
)

// Constraints are the capture hints passed to a camera.
type Constraints struct {
	FacingMode  string `json:"facing_mode"`
	IdealWidth  int    `json:"ideal_width"`
	IdealHeight int    `json:"ideal_height"`
}

// Camera hands out live frame streams.
type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open capture. The session owns it until every track is stopped.
type Stream interface {
	Tracks() []Track
	// Frame returns the current complete frame, or false when none is ready.
	Frame() (image.Image, bool)
}

type Track interface {
	ID() string
	Stop()
}

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrNoCamera         = errors.New("no camera available")
	ErrUnsupported      = errors.New("camera not supported")
	ErrOpenTimeout      = errors.New("camera did not start in time")
)

// CameraErrorMessage turns an Open failure into the text shown to the operator.
func CameraErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera access was denied. Allow camera access or enter the code manually."
	case errors.Is(err, ErrNoCamera):
		return "No camera was found on this device."
	case errors.Is(err, ErrUnsupported):
		return "Camera is not supported here. Enter the code manually."
	case errors.Is(err, ErrOpenTimeout):
		return "The camera did not start in time."
	default:
		return "Could not start the camera: " + err.Error()
	}
}

func stopTracks(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
