package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/equipscan/internal/config"
	"github.com/harrylevesque/equipscan/internal/models"
	"github.com/harrylevesque/equipscan/internal/scanner"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type stubInventory struct{}

func (stubInventory) Lookup(_ context.Context, q models.LookupQuery) (*models.LookupResult, error) {
	if q.Code != "EQ-1004" {
		return &models.LookupResult{}, nil
	}
	return &models.LookupResult{Found: true, Record: &models.RecordSummary{ID: "e4", Name: "Bosch Drill", Status: "available", Code: "EQ-1004"}}, nil
}

func (stubInventory) Borrow(context.Context, string) (*models.Action, error) {
	return &models.Action{Type: models.ActionOpenRecord, Model: "loan", ID: "l1"}, nil
}

func (stubInventory) Return(context.Context, string) (*models.Action, error) {
	return &models.Action{Type: models.ActionClose}, nil
}

func newKiosk(t *testing.T) (*scanner.Session, *terminal, *syncBuffer, *bool) {
	t.Helper()
	out := &syncBuffer{}
	quitCalled := false
	term := newTerminal(out, config.SoundConfig{}, func() { quitCalled = true })
	sess := scanner.NewSession(scanner.Options{
		Inventory:     stubInventory{},
		DecoderName:   config.DecoderNone,
		Notifier:      term,
		Navigator:     term,
		Cues:          term,
		NavigateDelay: time.Hour,
		Cooldown:      time.Hour,
	})
	t.Cleanup(sess.Close)
	return sess, term, out, &quitCalled
}

func TestHandleLineManualAndBorrow(t *testing.T) {
	sess, term, out, _ := newKiosk(t)
	ctx := context.Background()

	assert.True(t, handleLine(ctx, sess, term, "  EQ-1004 "))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[success] Found: Bosch Drill\n\a")
	}, time.Second, 5*time.Millisecond)

	assert.True(t, handleLine(ctx, sess, term, ":borrow"))
	assert.Contains(t, out.String(), "-> loan l1")
}

func TestHandleLineReturnClosesScanner(t *testing.T) {
	sess, term, out, quit := newKiosk(t)
	ctx := context.Background()

	handleLine(ctx, sess, term, "EQ-1004")
	require.Eventually(t, func() bool { return sess.Snapshot().CanAct() }, time.Second, 5*time.Millisecond)
	handleLine(ctx, sess, term, ":return")
	assert.Contains(t, out.String(), "-> scanner closed")
	assert.True(t, *quit)
}

func TestHandleLineMisc(t *testing.T) {
	sess, term, out, _ := newKiosk(t)
	ctx := context.Background()

	assert.False(t, handleLine(ctx, sess, term, ":quit"))
	assert.True(t, handleLine(ctx, sess, term, "   "))

	assert.True(t, handleLine(ctx, sess, term, ":borrow"))
	assert.Contains(t, out.String(), "borrow: no record selected")

	assert.True(t, handleLine(ctx, sess, term, ":open"))
	assert.Contains(t, out.String(), "[camera]")
}

func TestTerminalPlayNamesConfiguredSound(t *testing.T) {
	out := &syncBuffer{}
	term := newTerminal(out, config.SoundConfig{Error: "/static/err.mp3"}, nil)
	require.NoError(t, term.Play(scanner.CueError))
	assert.Equal(t, "\a\a(/static/err.mp3)\n", out.String())
}
