package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoStream      = errors.New("no open stream")
	ErrOpenInProcess = errors.New("camera open already in progress")
)

// PushCamera is a camera whose frames arrive from a remote client (the
// browser scanner page). Open asks the client to start capturing and waits
// for Ready or Fail; frames are then fed with PushFrame.
type PushCamera struct {
	request func(Constraints) error
	release func()
	timeout time.Duration

	mu      sync.Mutex
	pending chan error
	stream  *pushStream
}

// NewPushCamera wires a camera to a client. request asks the client to start
// capturing; release tells it to stop. timeout <= 0 waits for ctx only.
func NewPushCamera(request func(Constraints) error, release func(), timeout time.Duration) *PushCamera {
	return &PushCamera{request: request, release: release, timeout: timeout}
}

func (c *PushCamera) Open(ctx context.Context, cons Constraints) (Stream, error) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, ErrOpenInProcess
	}
	ch := make(chan error, 1)
	c.pending = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending == ch {
			c.pending = nil
		}
		c.mu.Unlock()
	}()

	if err := c.request(cons); err != nil {
		return nil, fmt.Errorf("request camera: %w", err)
	}

	var expired <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case err := <-ch:
		if err != nil {
			return nil, err
		}
	case <-expired:
		c.releaseClient()
		return nil, ErrOpenTimeout
	case <-ctx.Done():
		c.releaseClient()
		return nil, ctx.Err()
	}

	s := &pushStream{}
	s.track = &pushTrack{id: uuid.NewString(), cam: c, stream: s}
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
	return s, nil
}

// Ready reports that the client started capturing.
func (c *PushCamera) Ready() { c.resolve(nil) }

// Fail reports the client's capture error by its DOM exception name.
func (c *PushCamera) Fail(name, message string) {
	c.resolve(ClientCameraError(name, message))
}

func (c *PushCamera) resolve(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return
	}
	select {
	case c.pending <- err:
	default:
	}
}

// PushFrame decodes an encoded image (JPEG, PNG or GIF) and makes it the
// current frame of the open stream.
func (c *PushCamera) PushFrame(data []byte) error {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return ErrNoStream
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	s.set(img)
	return nil
}

func (c *PushCamera) releaseClient() {
	if c.release != nil {
		c.release()
	}
}

// ClientCameraError maps a browser getUserMedia failure to a camera error.
func ClientCameraError(name, message string) error {
	var base error
	switch name {
	case "NotAllowedError", "SecurityError", "PermissionDeniedError":
		base = ErrPermissionDenied
	case "NotFoundError", "OverconstrainedError", "NotReadableError", "DevicesNotFoundError":
		base = ErrNoCamera
	case "NotSupportedError", "TypeError":
		base = ErrUnsupported
	default:
		if message == "" {
			message = name
		}
		return fmt.Errorf("camera error: %s", message)
	}
	if strings.TrimSpace(message) == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, message)
}

type pushStream struct {
	track *pushTrack

	mu    sync.Mutex
	frame image.Image
}

func (s *pushStream) Tracks() []Track { return []Track{s.track} }

// Frame returns the latest pushed frame; it stays current until replaced.
func (s *pushStream) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.frame != nil
}

func (s *pushStream) set(img image.Image) {
	s.mu.Lock()
	s.frame = img
	s.mu.Unlock()
}

type pushTrack struct {
	id     string
	cam    *PushCamera
	stream *pushStream
	once   sync.Once
}

func (t *pushTrack) ID() string { return t.id }

func (t *pushTrack) Stop() {
	t.once.Do(func() {
		t.cam.mu.Lock()
		if t.cam.stream == t.stream {
			t.cam.stream = nil
		}
		t.cam.mu.Unlock()
		t.cam.releaseClient()
	})
}
