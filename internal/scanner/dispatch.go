package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrylevesque/equipscan/internal/events"
	"github.com/harrylevesque/equipscan/internal/models"
)

var (
	// ErrNoRecord is returned by Borrow/Return when no record is currently found.
	ErrNoRecord = errors.New("no record selected")
	// ErrActionInFlight is returned while a previous borrow/return is running.
	ErrActionInFlight = errors.New("action already in progress")
)

const (
	sourceCamera = "camera"
	sourceManual = "manual"
)

// ScanEvent is published for every lookup outcome.
type ScanEvent struct {
	Code     string  `json:"code"`
	Source   string  `json:"source"`
	Outcome  Outcome `json:"outcome"`
	RecordID string  `json:"record_id,omitempty"`
	Station  string  `json:"station,omitempty"`
}

// ===== Acceptance =====

// Submit offers a decoded code. It reports whether the code was accepted.
func (s *Session) Submit(code string) bool {
	return s.accept(s.currentGen(), code, sourceCamera)
}

// SubmitManual offers typed text. Surrounding whitespace is trimmed; empty
// text is ignored. Works whether or not the camera is open.
func (s *Session) SubmitManual(text string) bool {
	return s.accept(s.currentGen(), text, sourceManual)
}

func (s *Session) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// accept starts a lookup cycle unless one is running or code repeats the
// code of the running cycle. Scanning and LastCode are set before the
// lookup goroutine starts.
func (s *Session) accept(gen uint64, code, source string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	s.mu.Lock()
	if gen != s.gen || s.state.Scanning || code == s.state.LastCode {
		s.mu.Unlock()
		return false
	}
	s.state.Scanning = true
	s.state.LastCode = code
	s.state.Phase = PhaseLookingUp
	s.state.CooldownUntil = time.Time{}
	ctx := s.cycleCtxLocked()
	s.emitLocked()
	s.mu.Unlock()

	s.logger.Debug("Code accepted", "code", code, "source", source)
	go s.lookup(ctx, gen, code, source)
	return true
}

// ===== Lookup =====

func (s *Session) lookup(ctx context.Context, gen uint64, code, source string) {
	if s.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = s.clock.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
	}

	start := s.clock.Now()
	res, err := s.inventory.Lookup(ctx, models.LookupQuery{Code: code, Fields: s.fields, Limit: 1})
	s.metrics.ObserveLookup(s.clock.Since(start).Seconds())

	outcome := OutcomeNotFound
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)):
		outcome = OutcomeTimedOut
		s.logger.Warn("Lookup timed out", "code", code, "timeout", s.lookupTimeout)
	case err != nil:
		s.logger.Error("Lookup failed", "code", code, "error", err)
	case res != nil && res.Found && res.Record != nil:
		outcome = OutcomeFound
	}
	s.finish(gen, code, source, outcome, res)
}

// finish records the outcome, schedules navigation for a found record and
// the cooldown that re-arms acceptance.
func (s *Session) finish(gen uint64, code, source string, outcome Outcome, res *models.LookupResult) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("Dropping lookup result of closed session", "code", code)
		return
	}
	if s.navTimer != nil {
		s.navTimer.Stop()
		s.navTimer = nil
	}
	s.state.Outcome = outcome
	s.state.Phase = PhaseCooldown
	s.state.CooldownUntil = s.clock.Now().Add(s.cooldown)

	s.cycle++
	cycle := s.cycle
	if s.coolTime != nil {
		s.coolTime.Stop()
	}
	s.coolTime = s.clock.AfterFunc(s.cooldown, func() { s.rearm(cycle) })

	var record *models.RecordSummary
	if outcome == OutcomeFound {
		record = res.Record
		s.state.Result = res
		id := record.ID
		s.navTimer = s.clock.AfterFunc(s.navigateDelay, func() { s.navigate(cycle, id) })
	} else {
		s.state.Result = nil
	}
	s.emitLocked()
	s.mu.Unlock()

	s.metrics.ObserveScan(string(outcome), source)
	ev := ScanEvent{Code: code, Source: source, Outcome: outcome, Station: s.station}
	switch outcome {
	case OutcomeFound:
		ev.RecordID = record.ID
		s.notifier.Notify(SeveritySuccess, "Found: "+foundLabel(record, code))
		s.play(CueSuccess)
		s.publish(events.TopicScanFound, ev)
	case OutcomeTimedOut:
		s.notifier.Notify(SeverityWarning, "Lookup timed out for barcode: "+code)
		s.play(CueError)
		s.publish(events.TopicScanTimedOut, ev)
	default:
		s.notifier.Notify(SeverityDanger, "No equipment found with barcode: "+code)
		s.play(CueError)
		s.publish(events.TopicScanNotFound, ev)
	}
}

// foundLabel names a found record even when the projection left out its name.
func foundLabel(r *models.RecordSummary, code string) string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Code != "":
		return r.Code
	}
	return code
}

// navigate and rearm are timer callbacks; they do nothing once Close or a
// newer outcome has superseded their cycle.
func (s *Session) navigate(cycle uint64, id string) {
	s.mu.Lock()
	if s.cycle != cycle || s.navTimer == nil {
		s.mu.Unlock()
		return
	}
	s.navTimer = nil
	s.mu.Unlock()
	s.navigator.OpenRecord(id)
}

func (s *Session) rearm(cycle uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle != cycle || s.coolTime == nil {
		return
	}
	s.coolTime = nil
	s.state.Scanning = false
	s.state.LastCode = ""
	s.state.CooldownUntil = time.Time{}
	s.state.Phase = PhaseIdle
	s.emitLocked()
}

// ===== Actions =====

// Borrow borrows the currently found record.
func (s *Session) Borrow(ctx context.Context) error {
	return s.act(ctx, "borrow", s.inventory.Borrow)
}

// Return returns the currently found record.
func (s *Session) Return(ctx context.Context) error {
	return s.act(ctx, "return", s.inventory.Return)
}

func (s *Session) act(ctx context.Context, name string, call func(context.Context, string) (*models.Action, error)) error {
	s.mu.Lock()
	if !s.state.CanAct() {
		pending := s.acting
		s.mu.Unlock()
		if pending {
			return ErrActionInFlight
		}
		return ErrNoRecord
	}
	s.acting = true
	s.state.ActionPending = true
	id := s.state.Result.Record.ID
	gen := s.gen
	sessionCtx := s.cycleCtxLocked()
	s.emitLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.acting = false
		if gen == s.gen {
			s.state.ActionPending = false
			s.emitLocked()
		}
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessionCtx, cancel)
	defer stop()
	if s.lookupTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = s.clock.WithTimeout(ctx, s.lookupTimeout)
		defer cancelTimeout()
	}

	action, err := call(ctx, id)
	closed := s.currentGen() != gen
	if err != nil {
		s.metrics.ObserveAction(name, "error")
		if closed {
			s.logger.Debug("Action ended after session close", "action", name, "record", id, "error", err)
			return fmt.Errorf("%s %s: %w", name, id, err)
		}
		s.logger.Error("Action failed", "action", name, "record", id, "error", err)
		s.notifier.Notify(SeverityDanger, "Operation failed")
		s.play(CueError)
		return fmt.Errorf("%s %s: %w", name, id, err)
	}
	s.metrics.ObserveAction(name, "ok")
	s.logger.Info("Action completed", "action", name, "record", id)
	if closed {
		return nil
	}
	if action != nil {
		if action.Type == models.ActionClose {
			s.navigator.CloseScanner()
		} else {
			s.navigator.Follow(action)
		}
	}
	return nil
}

// ===== Side effects =====

func (s *Session) play(c Cue) {
	if err := s.cues.Play(c); err != nil {
		s.logger.Debug("Cue playback failed", "cue", c, "error", err)
	}
}

func (s *Session) publish(topic string, ev ScanEvent) {
	if err := s.publisher.Publish(s.base, topic, ev); err != nil {
		s.logger.Warn("Failed to publish scan event", "topic", topic, "error", err)
	}
}
