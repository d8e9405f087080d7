package scanner

import (
	"image"
	"image/draw"

	"github.com/benbjohnson/clock"
)

func (s *Session) loop(gen uint64, ticker *clock.Ticker, stop <-chan struct{}) {
	var buf *image.RGBA
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			buf = s.tick(gen, buf)
		}
	}
}

// tick samples one frame. It returns the frame buffer for reuse.
func (s *Session) tick(gen uint64, buf *image.RGBA) *image.RGBA {
	s.mu.Lock()
	if gen != s.gen || !s.state.Active || s.state.Scanning || s.stream == nil {
		s.mu.Unlock()
		return buf
	}
	stream := s.stream
	s.mu.Unlock()

	if !s.decoder.Available() {
		return buf
	}
	frame, ok := stream.Frame()
	if !ok {
		return buf
	}
	buf = capture(buf, frame)

	code, found, err := s.decoder.Decode(buf)
	if err != nil {
		s.metrics.DecodeError()
		s.logger.Debug("Frame decode failed", "error", err)
		return buf
	}
	if !found {
		return buf
	}
	s.accept(gen, code.Text, sourceCamera)
	return buf
}

// capture copies frame into an RGBA buffer of the frame's native size,
// reallocating only when the size changes.
func capture(buf *image.RGBA, frame image.Image) *image.RGBA {
	b := frame.Bounds()
	if buf == nil || buf.Rect.Dx() != b.Dx() || buf.Rect.Dy() != b.Dy() {
		buf = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	}
	draw.Draw(buf, buf.Rect, frame, b.Min, draw.Src)
	return buf
}
