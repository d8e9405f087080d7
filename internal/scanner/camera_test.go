package scanner

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// ===== PushCamera =====

func TestPushCameraReady(t *testing.T) {
	var requested atomic.Int32
	var released atomic.Int32
	var cam *PushCamera
	cam = NewPushCamera(func(c Constraints) error {
		requested.Add(1)
		assert.Equal(t, "environment", c.FacingMode)
		go cam.Ready()
		return nil
	}, func() { released.Add(1) }, time.Second)

	stream, err := cam.Open(context.Background(), Constraints{FacingMode: "environment"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, requested.Load())

	_, ok := stream.Frame()
	assert.False(t, ok, "no frame before the first push")

	require.NoError(t, cam.PushFrame(encodePNG(t, 8, 6)))
	frame, ok := stream.Frame()
	require.True(t, ok)
	assert.Equal(t, 8, frame.Bounds().Dx())
	_, ok = stream.Frame()
	assert.True(t, ok, "pushed frame stays current")

	assert.Error(t, cam.PushFrame([]byte("not an image")))

	tracks := stream.Tracks()
	require.Len(t, tracks, 1)
	tracks[0].Stop()
	tracks[0].Stop()
	assert.EqualValues(t, 1, released.Load())
	assert.ErrorIs(t, cam.PushFrame(encodePNG(t, 2, 2)), ErrNoStream)
}

func TestPushCameraFail(t *testing.T) {
	var cam *PushCamera
	cam = NewPushCamera(func(Constraints) error {
		go cam.Fail("NotAllowedError", "Permission denied")
		return nil
	}, nil, time.Second)

	_, err := cam.Open(context.Background(), Constraints{})
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Contains(t, err.Error(), "Permission denied")
}

func TestPushCameraTimeout(t *testing.T) {
	var released atomic.Int32
	cam := NewPushCamera(func(Constraints) error { return nil }, func() { released.Add(1) }, 20*time.Millisecond)

	_, err := cam.Open(context.Background(), Constraints{})
	assert.ErrorIs(t, err, ErrOpenTimeout)
	assert.EqualValues(t, 1, released.Load())
}

func TestPushCameraRequestError(t *testing.T) {
	cam := NewPushCamera(func(Constraints) error { return errors.New("socket closed") }, nil, time.Second)
	_, err := cam.Open(context.Background(), Constraints{})
	assert.Error(t, err)
}

func TestClientCameraError(t *testing.T) {
	assert.ErrorIs(t, ClientCameraError("NotFoundError", ""), ErrNoCamera)
	assert.ErrorIs(t, ClientCameraError("NotSupportedError", "insecure context"), ErrUnsupported)
	err := ClientCameraError("AbortError", "")
	assert.EqualError(t, err, "camera error: AbortError")
}

func TestCameraErrorMessage(t *testing.T) {
	assert.Contains(t, CameraErrorMessage(ErrPermissionDenied), "denied")
	assert.Contains(t, CameraErrorMessage(errors.New("boom")), "boom")
}

// ===== DirCamera =====

func TestDirCameraMissingDir(t *testing.T) {
	cam := NewDirCamera(filepath.Join(t.TempDir(), "missing"), nil)
	_, err := cam.Open(context.Background(), Constraints{})
	assert.ErrorIs(t, err, ErrNoCamera)
}

func TestDirCameraDeliversEachFileOnce(t *testing.T) {
	dir := t.TempDir()
	cam := NewDirCamera(dir, nil)
	cam.Debounce = 10 * time.Millisecond

	stream, err := cam.Open(context.Background(), Constraints{})
	require.NoError(t, err)
	defer stopTracks(stream)

	_, ok := stream.Frame()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame.png"), encodePNG(t, 5, 5), 0o644))

	var frame image.Image
	require.Eventually(t, func() bool {
		frame, ok = stream.Frame()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5, frame.Bounds().Dx())

	_, ok = stream.Frame()
	assert.False(t, ok, "a frame is handed out once")
}
