package scanner

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/harrylevesque/equipscan/internal/utils"
)

var frameExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// DirCamera turns a directory into a camera: every image file written to it
// becomes one frame. Used by headless kiosks fed by an external capture tool.
type DirCamera struct {
	Dir string
	// Debounce waits for writers to finish before a file is read.
	Debounce time.Duration
	Logger   *slog.Logger
}

func NewDirCamera(dir string, logger *slog.Logger) *DirCamera {
	return &DirCamera{Dir: dir, Debounce: 100 * time.Millisecond, Logger: utils.OrDefault(logger)}
}

func (c *DirCamera) Open(ctx context.Context, _ Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(c.Dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("frame dir %s: %w", c.Dir, ErrNoCamera)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if err := fsw.Add(c.Dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", c.Dir, err)
	}
	debounce := c.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	s := &dirStream{
		watcher:  fsw,
		logger:   utils.OrDefault(c.Logger),
		pending:  make(map[string]time.Time),
		debounce: debounce,
		done:     make(chan struct{}),
	}
	s.track = &dirTrack{id: "dir:" + c.Dir, stream: s}
	go s.watch()
	s.logger.Info("Frame directory opened", "dir", c.Dir)
	return s, nil
}

type dirStream struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	track    *dirTrack
	done     chan struct{}

	pending map[string]time.Time // path -> last write

	mu    sync.Mutex
	frame image.Image
}

func (s *dirStream) Tracks() []Track { return []Track{s.track} }

// Frame hands out each dropped image once.
func (s *dirStream) Frame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, false
	}
	img := s.frame
	s.frame = nil
	return img, true
}

func (s *dirStream) watch() {
	ticker := time.NewTicker(s.debounce)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !frameExtensions[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			s.pending[ev.Name] = time.Now()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Frame watcher error", "error", err)
		case now := <-ticker.C:
			for path, at := range s.pending {
				if now.Sub(at) < s.debounce {
					continue
				}
				delete(s.pending, path)
				s.load(path)
			}
		}
	}
}

func (s *dirStream) load(path string) {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Debug("Frame vanished before read", "path", path, "error", err)
		return
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		s.logger.Debug("Skipping unreadable frame", "path", path, "error", err)
		return
	}
	s.mu.Lock()
	s.frame = img
	s.mu.Unlock()
}

type dirTrack struct {
	id     string
	stream *dirStream
	once   sync.Once
}

func (t *dirTrack) ID() string { return t.id }

func (t *dirTrack) Stop() {
	t.once.Do(func() {
		close(t.stream.done)
		if err := t.stream.watcher.Close(); err != nil {
			t.stream.logger.Warn("Failed to close frame watcher", "error", err)
		}
	})
}
