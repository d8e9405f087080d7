package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/harrylevesque/equipscan/internal/config"
	"github.com/harrylevesque/equipscan/internal/models"
	"github.com/harrylevesque/equipscan/internal/scanner"
)

// terminal is the kiosk's notifier, navigator and cue player.
type terminal struct {
	mu     sync.Mutex
	out    io.Writer
	sounds config.SoundConfig
	quit   func()
}

func newTerminal(out io.Writer, sounds config.SoundConfig, quit func()) *terminal {
	return &terminal{out: out, sounds: sounds, quit: quit}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) Notify(sev scanner.Severity, message string) {
	t.printf("[%s] %s\n", sev, message)
}

func (t *terminal) OpenRecord(id string) {
	t.printf("-> equipment %s\n", id)
}

func (t *terminal) Follow(a *models.Action) {
	t.printf("-> %s %s\n", a.Model, a.ID)
}

func (t *terminal) CloseScanner() {
	t.printf("-> scanner closed\n")
	if t.quit != nil {
		t.quit()
	}
}

// Play rings the terminal bell: once for success, twice for an error.
// Configured sound URLs cannot be played here and are only named.
func (t *terminal) Play(cue scanner.Cue) error {
	bell, url := "\a", t.sounds.Success
	if cue == scanner.CueError {
		bell, url = "\a\a", t.sounds.Error
	}
	if url != "" {
		t.printf("%s(%s)\n", bell, url)
		return nil
	}
	t.printf("%s", bell)
	return nil
}

// watch prints camera errors and found records as the session reports them.
func (t *terminal) watch(ctx context.Context, states <-chan scanner.Snapshot) {
	var lastErr, lastRecord string
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-states:
			if st.Error != lastErr {
				lastErr = st.Error
				if st.Error != "" {
					t.printf("[camera] %s\n", st.Error)
				}
			}
			id := ""
			if st.Result != nil && st.Result.Record != nil {
				id = st.Result.Record.ID
			}
			if id != lastRecord {
				lastRecord = id
				if id != "" {
					r := st.Result.Record
					t.printf("  %s  %s  [%s]  %s\n", r.Code, r.Name, r.Status, r.Location)
				}
			}
		}
	}
}

// ===== Commands =====

func readCommands(ctx context.Context, in io.Reader, sess *scanner.Session, t *terminal, quit func()) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if !handleLine(ctx, sess, t, sc.Text()) {
			break
		}
	}
	quit()
}

// handleLine runs one input line; it returns false on :quit.
func handleLine(ctx context.Context, sess *scanner.Session, t *terminal, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return true
	case ":quit", ":q":
		return false
	case ":open":
		if err := sess.Open(ctx); err != nil {
			t.printf("[camera] %v\n", err)
		}
	case ":borrow":
		if err := sess.Borrow(ctx); err != nil {
			t.printf("borrow: %v\n", err)
		}
	case ":return":
		if err := sess.Return(ctx); err != nil {
			t.printf("return: %v\n", err)
		}
	default:
		if !sess.SubmitManual(line) {
			t.printf("busy, try again shortly\n")
		}
	}
	return true
}
